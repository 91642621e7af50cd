/*
Copyright 2025 The Kubernetes Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package controller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testclock "k8s.io/utils/clock/testing"

	"github.com/kf2-go/kf2/pkg/render/lock"
	"github.com/kf2-go/kf2/pkg/render/types"
	"github.com/kf2-go/kf2/pkg/render/types/mocks"
	"github.com/kf2-go/kf2/pkg/render/workitem"
)

const testTimeout = 5 * time.Second

// testHarness holds a running controller and its mock engine.
type testHarness struct {
	t      *testing.T
	ctx    context.Context
	cancel context.CancelFunc
	rc     *RenderController
	engine *mocks.MockEngine
}

func newTestHarness(t *testing.T, engine types.Engine, mock *mocks.MockEngine, opts ...renderControllerOption) *testHarness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	cfg, err := NewConfig(WithDefaultBatchDelay(5 * time.Millisecond))
	require.NoError(t, err)
	rc, err := NewRenderController(ctx, *cfg, engine, logr.Discard(), opts...)
	require.NoError(t, err)
	h := &testHarness{t: t, ctx: ctx, cancel: cancel, rc: rc, engine: mock}
	t.Cleanup(h.shutdown)
	return h
}

func newMockHarness(t *testing.T, opts ...renderControllerOption) *testHarness {
	t.Helper()
	engine := mocks.NewMockEngine(64, 48)
	return newTestHarness(t, engine, engine, opts...)
}

func (h *testHarness) shutdown() {
	h.cancel()
	select {
	case <-h.rc.Done():
	case <-time.After(testTimeout):
		h.t.Error("render controller did not shut down")
	}
}

// doneResult is what a `Done` callback received.
type doneResult struct {
	outcome types.Outcome
	err     error
}

// doneRecorder collects `Done` results and counts calls.
type doneRecorder struct {
	ch    chan doneResult
	calls atomic.Int32
}

func newDoneRecorder() *doneRecorder {
	return &doneRecorder{ch: make(chan doneResult, 8)}
}

func (r *doneRecorder) done(outcome types.Outcome, err error) {
	r.calls.Add(1)
	r.ch <- doneResult{outcome: outcome, err: err}
}

func (r *doneRecorder) wait(t *testing.T) doneResult {
	t.Helper()
	select {
	case res := <-r.ch:
		return res
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for Done")
		return doneResult{}
	}
}

func TestNewRenderController_Validation(t *testing.T) {
	t.Parallel()

	_, err := NewRenderController(context.Background(), Config{}, nil, logr.Discard())
	assert.Error(t, err, "a nil engine must be rejected")

	_, err = NewRenderController(context.Background(), Config{DefaultBatchDelay: -1}, mocks.NewMockEngine(1, 1),
		logr.Discard())
	assert.Error(t, err, "an invalid config must be rejected")
}

func TestRenderController_MutualExclusion(t *testing.T) {
	t.Parallel()
	h := newMockHarness(t)
	h.engine.StartRenderFunc = func(bool) error {
		time.Sleep(time.Millisecond)
		return nil
	}

	const submitters = 8
	const perSubmitter = 10
	recorders := make([]*doneRecorder, 0, submitters*perSubmitter)
	var mu sync.Mutex
	var wg sync.WaitGroup
	for range submitters {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perSubmitter {
				rec := newDoneRecorder()
				mu.Lock()
				recorders = append(recorders, rec)
				mu.Unlock()
				opts := types.ItemOptions{Interrupts: true, Immediate: true}
				assert.NoError(t, h.rc.Submit(workitem.NewZoomRequest(1, 1, 1.5, true, opts, rec.done)))
				time.Sleep(100 * time.Microsecond)
			}
		}()
	}
	wg.Wait()

	for _, rec := range recorders {
		assert.Equal(t, types.OutcomeCompleted, rec.wait(t).outcome,
			"every zoom eventually lands in a completed render, even if its own render was interrupted")
	}
	assert.Equal(t, 1, h.engine.MaxConcurrentRenders(), "at most one render may run at any instant")
}

func TestRenderController_InterruptStopsPriorRender(t *testing.T) {
	t.Parallel()
	h := newMockHarness(t)
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	h.engine.StartRenderFunc = h.engine.BlockUntil(started, release)

	var firstNotified []types.Outcome
	var notifyMu sync.Mutex
	first := newDoneRecorder()
	require.NoError(t, h.rc.Submit(workitem.NewCallback(workitem.CallbackSpec{
		Render:  true,
		Options: types.ItemOptions{Immediate: true},
		Notify: func(o types.Outcome) {
			notifyMu.Lock()
			defer notifyMu.Unlock()
			firstNotified = append(firstNotified, o)
		},
		Done: first.done,
	})))
	<-started
	assert.True(t, h.rc.IsRendering())

	second := newDoneRecorder()
	require.NoError(t, h.rc.Submit(workitem.NewZoomRequest(5, 5, 2, false,
		types.ItemOptions{Interrupts: true, Immediate: true}, second.done)))
	<-started
	close(release)

	assert.Equal(t, types.OutcomeCompleted, second.wait(t).outcome)
	assert.Equal(t, types.OutcomeCompleted, first.wait(t).outcome)
	notifyMu.Lock()
	defer notifyMu.Unlock()
	assert.Equal(t, []types.Outcome{types.OutcomeStopped, types.OutcomeCompleted}, firstNotified,
		"the interrupted render must report Stopped before the item completes with the next render")
	assert.Equal(t, 1, h.engine.StopRequests())
}

func TestRenderController_DebounceCoalescesInOrder(t *testing.T) {
	t.Parallel()
	clk := testclock.NewFakeClock(time.Now())
	h := newMockHarness(t, withClock(clk))

	recs := []*doneRecorder{newDoneRecorder(), newDoneRecorder(), newDoneRecorder()}
	require.NoError(t, h.rc.Submit(workitem.NewZoomRequest(0, 0, 2, false, types.ItemOptions{}, recs[0].done)))
	require.NoError(t, h.rc.Submit(workitem.NewResizeRequest(100, 50, 1, types.ItemOptions{}, recs[1].done)))
	require.NoError(t, h.rc.Submit(workitem.NewZoomRequest(0, 0, 3, false, types.ItemOptions{}, recs[2].done)))

	require.Eventually(t, func() bool {
		if h.rc.Stats().PendingItems == 0 && clk.HasWaiters() {
			clk.Step(time.Second)
		}
		return h.engine.Renders() == 1
	}, testTimeout, time.Millisecond)

	for _, rec := range recs {
		assert.Equal(t, types.OutcomeCompleted, rec.wait(t).outcome)
	}
	assert.Equal(t, []string{"zoom 0,0 x2", "resize 100x50", "zoom 0,0 x3", "render:start reset=true", "render:end"},
		h.engine.Events())
}

func TestRenderController_ResizeIdempotence(t *testing.T) {
	t.Parallel()
	h := newMockHarness(t)

	same := newDoneRecorder()
	require.NoError(t, h.rc.Submit(workitem.NewResizeRequest(32, 24, 2, types.ItemOptions{Immediate: true}, same.done)))
	assert.Equal(t, doneResult{outcome: types.OutcomeNoRender}, same.wait(t))
	assert.Zero(t, h.engine.Renders(), "resizing to the current size must not render")

	bigger := newDoneRecorder()
	require.NoError(t, h.rc.Submit(workitem.NewResizeRequest(640, 480, 1, types.ItemOptions{Immediate: true},
		bigger.done)))
	assert.Equal(t, doneResult{outcome: types.OutcomeCompleted}, bigger.wait(t))
	assert.Equal(t, 1, h.engine.Renders())
	w, ht := h.engine.ImageSize()
	assert.Equal(t, []int{640, 480}, []int{w, ht})
}

func TestRenderController_ZoomPairRendersOnceAtNetPosition(t *testing.T) {
	t.Parallel()
	h := newMockHarness(t)

	first, second := newDoneRecorder(), newDoneRecorder()
	require.NoError(t, h.rc.WithLock(context.Background(), func(types.Engine) error {
		// Both items queue up behind the lock and are collected into a single batch.
		require.NoError(t, h.rc.Submit(workitem.NewZoomRequest(32, 24, 2, true, types.ItemOptions{}, first.done)))
		require.NoError(t, h.rc.Submit(workitem.NewZoomRequest(32, 24, 4, true,
			types.ItemOptions{Immediate: true}, second.done)))
		require.Eventually(t, func() bool { return h.rc.Stats().PendingItems == 0 }, testTimeout, time.Millisecond)
		return nil
	}))

	assert.Equal(t, types.OutcomeCompleted, first.wait(t).outcome)
	assert.Equal(t, types.OutcomeCompleted, second.wait(t).outcome)
	assert.Equal(t, 1, h.engine.Renders(), "two zooms in one batch must produce a single render")

	radius, _ := h.engine.Position().Radius.Float64()
	assert.InDelta(t, 0.25, radius, 1e-12, "the net zoom is 2x4 from radius 2")
	re, _ := h.engine.Position().Re.Float64()
	assert.InDelta(t, 0, re, 1e-12, "zooming at the centre pixel must keep the centre")
}

func TestRenderController_AwaitNextRender(t *testing.T) {
	t.Parallel()
	h := newMockHarness(t)

	type awaitResult struct {
		outcome types.Outcome
		err     error
	}
	resCh := make(chan awaitResult, 1)
	go func() {
		outcome, err := h.rc.AwaitNextRender(context.Background())
		resCh <- awaitResult{outcome, err}
	}()

	// A batch without a render must not wake the waiter.
	noop := newDoneRecorder()
	require.NoError(t, h.rc.Submit(workitem.NewResizeRequest(64, 48, 1, types.ItemOptions{Immediate: true}, noop.done)))
	assert.Equal(t, types.OutcomeNoRender, noop.wait(t).outcome)
	require.Eventually(t, func() bool { return h.rc.Stats().DeferredItems == 1 }, testTimeout, time.Millisecond)
	select {
	case res := <-resCh:
		t.Fatalf("AwaitNextRender returned early with %v", res.outcome)
	case <-time.After(20 * time.Millisecond):
	}

	outcome, err := h.rc.Render(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeCompleted, outcome)

	select {
	case res := <-resCh:
		assert.Equal(t, types.OutcomeCompleted, res.outcome)
		assert.NoError(t, res.err)
	case <-time.After(testTimeout):
		t.Fatal("AwaitNextRender did not return after a completed render")
	}
}

func TestRenderController_AwaitNextRenderContextCancelled(t *testing.T) {
	t.Parallel()
	h := newMockHarness(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	outcome, err := h.rc.AwaitNextRender(ctx)
	assert.Equal(t, types.OutcomeStopped, outcome)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRenderController_StopRender(t *testing.T) {
	t.Parallel()
	h := newMockHarness(t)
	require.NoError(t, h.rc.StopRender(context.Background()), "stopping an idle controller is a no-op")

	started := make(chan struct{}, 1)
	h.engine.StartRenderFunc = h.engine.BlockUntil(started, make(chan struct{}))

	rec := newDoneRecorder()
	require.NoError(t, h.rc.Submit(workitem.NewCallback(workitem.CallbackSpec{
		Render:  true,
		Options: types.ItemOptions{Immediate: true},
		Done:    rec.done,
	})))
	<-started

	require.NoError(t, h.rc.StopRender(context.Background()))
	assert.False(t, h.rc.IsRendering(), "StopRender must wait for the render to physically finish")
	require.Eventually(t, func() bool { return h.rc.Stats().DeferredItems == 1 }, testTimeout, time.Millisecond,
		"the stopped render's item waits for the next completed render")
}

func TestRenderController_EngineFaultKeepsRunning(t *testing.T) {
	t.Parallel()
	h := newMockHarness(t)
	var calls atomic.Int32
	h.engine.StartRenderFunc = func(bool) error {
		if calls.Add(1) == 1 {
			return errors.New("allocation failed")
		}
		return nil
	}

	outcome, err := h.rc.Render(context.Background(), true)
	assert.Equal(t, types.OutcomeFailed, outcome)
	assert.ErrorIs(t, err, types.ErrEngineFault)

	outcome, err = h.rc.Render(context.Background(), true)
	assert.Equal(t, types.OutcomeCompleted, outcome)
	assert.NoError(t, err)
}

func TestRenderController_WithLock(t *testing.T) {
	t.Parallel()
	h := newMockHarness(t)

	err := h.rc.WithLock(context.Background(), func(engine types.Engine) error {
		assert.True(t, h.rc.IsLocked())
		assert.Equal(t, lock.StateHeld, h.rc.Stats().LockState)
		return engine.SetImageSize(128, 96)
	})
	require.NoError(t, err)
	assert.False(t, h.rc.IsLocked())

	sentinel := errors.New("setup failed")
	assert.ErrorIs(t, h.rc.WithLock(context.Background(), func(types.Engine) error { return sentinel }), sentinel)
}

func TestRenderController_ExactlyOnceDone(t *testing.T) {
	t.Parallel()
	h := newMockHarness(t)
	started := make(chan struct{}, 16)
	h.engine.StartRenderFunc = h.engine.BlockUntil(started, make(chan struct{}))

	var recs []*doneRecorder
	submit := func(item func(done func(types.Outcome, error)) types.WorkItem) {
		rec := newDoneRecorder()
		recs = append(recs, rec)
		require.NoError(t, h.rc.Submit(item(rec.done)))
	}
	submit(func(done func(types.Outcome, error)) types.WorkItem {
		return workitem.NewZoomRequest(0, 0, 2, false, types.ItemOptions{Immediate: true}, done)
	})
	<-started
	submit(func(done func(types.Outcome, error)) types.WorkItem {
		return workitem.NewZoomRequest(0, 0, 2, false, types.ItemOptions{Interrupts: true, Immediate: true}, done)
	})
	<-started
	submit(func(done func(types.Outcome, error)) types.WorkItem {
		return workitem.NewCallback(workitem.CallbackSpec{Done: done, Options: types.ItemOptions{MaxBatchDelay: time.Hour}})
	})

	h.shutdown()
	for _, rec := range recs {
		res := rec.wait(t)
		assert.Equal(t, types.OutcomeStopped, res.outcome)
	}

	late := newDoneRecorder()
	err := h.rc.Submit(workitem.NewCallback(workitem.CallbackSpec{Done: late.done}))
	assert.ErrorIs(t, err, types.ErrControllerNotRunning)
	assert.Equal(t, types.OutcomeStopped, late.wait(t).outcome, "a rejected submission still gets its Done call")

	time.Sleep(20 * time.Millisecond)
	for _, rec := range append(recs, late) {
		assert.Equal(t, int32(1), rec.calls.Load(), "Done must be called exactly once")
	}
}

func TestRenderController_GlitchSolvingEngine(t *testing.T) {
	t.Parallel()
	mock := mocks.NewMockEngine(64, 48)
	engine := &mocks.MockGlitchEngine{MockEngine: mock, Glitches: 3}
	h := newTestHarness(t, engine, mock)

	outcome, err := h.rc.Render(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeCompleted, outcome)
	assert.Equal(t, 3, engine.References())
}

func TestRenderController_PositionRoundTrip(t *testing.T) {
	t.Parallel()
	h := newMockHarness(t)

	pos, err := types.ParsePosition("-0.75", "0.1", "0.001")
	require.NoError(t, err)
	rec := newDoneRecorder()
	require.NoError(t, h.rc.Submit(workitem.NewCallback(workitem.CallbackSpec{
		Render:          true,
		ResetReferences: true,
		Options:         types.ItemOptions{Immediate: true},
		Apply: func(_ context.Context, engine types.Engine) (types.Effect, error) {
			return types.Effect{}, engine.SetPosition(pos)
		},
		Done: rec.done,
	})))
	assert.Equal(t, types.OutcomeCompleted, rec.wait(t).outcome)
	assert.Zero(t, h.engine.Position().Radius.Cmp(pos.Radius))
}

func TestRenderController_HooksMayCallController(t *testing.T) {
	t.Parallel()
	h := newMockHarness(t)

	notified := make(chan Stats, 1)
	follow := newDoneRecorder()
	rec := newDoneRecorder()
	require.NoError(t, h.rc.Submit(workitem.NewCallback(workitem.CallbackSpec{
		Render:  true,
		Options: types.ItemOptions{Immediate: true},
		Notify: func(types.Outcome) {
			_ = h.rc.IsLocked()
			notified <- h.rc.Stats()
		},
		Done: func(outcome types.Outcome, err error) {
			_ = h.rc.Stats()
			// Work submitted from a Done callback is processed like any other.
			assert.NoError(t, h.rc.Submit(workitem.NewCallback(workitem.CallbackSpec{
				Options: types.ItemOptions{Immediate: true},
				Done:    follow.done,
			})))
			rec.done(outcome, err)
		},
	})))

	select {
	case stats := <-notified:
		assert.Equal(t, lock.StateHeld, stats.LockState, "Notify runs while the render lock is still held")
	case <-time.After(testTimeout):
		t.Fatalf("Notify hook calling Stats did not return; locked=%t", h.rc.IsLocked())
	}
	assert.Equal(t, types.OutcomeCompleted, rec.wait(t).outcome)
	assert.Equal(t, types.OutcomeNoRender, follow.wait(t).outcome)
}

func TestRenderController_AwaitCountsInFlightRender(t *testing.T) {
	t.Parallel()
	h := newMockHarness(t)
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	h.engine.StartRenderFunc = h.engine.BlockUntil(started, release)

	inFlight := newDoneRecorder()
	require.NoError(t, h.rc.Submit(workitem.NewCallback(workitem.CallbackSpec{
		Render:  true,
		Options: types.ItemOptions{Immediate: true},
		Done:    inFlight.done,
	})))
	<-started

	// Submitted while the render runs; its own batch can only get the lock after that render is delivered.
	await := workitem.NewAwaitRender()
	require.NoError(t, h.rc.Submit(await))
	close(release)
	assert.Equal(t, types.OutcomeCompleted, inFlight.wait(t).outcome)

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	outcome, err := await.Wait(ctx)
	require.NoError(t, err, "the await must resolve with the in-flight render; renders=%d deferred=%d",
		h.engine.Renders(), h.rc.Stats().DeferredItems)
	assert.Equal(t, types.OutcomeCompleted, outcome)
	assert.Equal(t, 1, h.engine.Renders())
	assert.Zero(t, h.rc.Stats().DeferredItems)
}

func TestRenderController_AwaitNextRenderDuringRender(t *testing.T) {
	t.Parallel()
	clk := testclock.NewFakeClock(time.Now())
	h := newMockHarness(t, withClock(clk))
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	h.engine.StartRenderFunc = h.engine.BlockUntil(started, release)

	inFlight := newDoneRecorder()
	require.NoError(t, h.rc.Submit(workitem.NewCallback(workitem.CallbackSpec{
		Render:  true,
		Options: types.ItemOptions{Immediate: true},
		Done:    inFlight.done,
	})))
	<-started

	type awaitResult struct {
		outcome types.Outcome
		err     error
	}
	resCh := make(chan awaitResult, 1)
	go func() {
		outcome, err := h.rc.AwaitNextRender(context.Background())
		resCh <- awaitResult{outcome, err}
	}()
	// The await item has been collected once its batch window is armed.
	require.Eventually(t, clk.HasWaiters, testTimeout, time.Millisecond)

	close(release)
	assert.Equal(t, types.OutcomeCompleted, inFlight.wait(t).outcome)
	clk.Step(time.Second)

	select {
	case res := <-resCh:
		require.NoError(t, res.err)
		assert.Equal(t, types.OutcomeCompleted, res.outcome)
	case <-time.After(testTimeout):
		t.Fatalf("AwaitNextRender did not return after the in-flight render completed; renders=%d deferred=%d",
			h.engine.Renders(), h.rc.Stats().DeferredItems)
	}
	assert.Equal(t, 1, h.engine.Renders())
}

// embeddedZoom reuses a real variant but claims a kind of its own.
type embeddedZoom struct {
	*workitem.ZoomRequest
}

func (embeddedZoom) Kind() types.Kind { return types.Kind(99) }

// wrappedCallback embeds a variant without changing it.
type wrappedCallback struct {
	*workitem.Callback
}

func TestRenderController_SubmitRejectsUnknownVariants(t *testing.T) {
	t.Parallel()
	h := newMockHarness(t)

	rec := newDoneRecorder()
	testCases := []struct {
		name string
		item types.WorkItem
	}{
		{
			name: "EmbeddedVariantWithForeignKind",
			item: embeddedZoom{workitem.NewZoomRequest(1, 1, 2, false, types.ItemOptions{Immediate: true}, rec.done)},
		},
		{
			name: "WrappedVariant",
			item: wrappedCallback{workitem.NewCallback(workitem.CallbackSpec{Done: rec.done})},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.ErrorIs(t, h.rc.Submit(tc.item), types.ErrUnknownWorkItem)
		})
	}
	assert.ErrorContains(t, h.rc.Submit(nil), "nil")

	select {
	case res := <-rec.ch:
		t.Fatalf("a refused item must not be finalized, got Done(%s, %v)", res.outcome, res.err)
	case <-time.After(20 * time.Millisecond):
	}
	assert.Zero(t, h.engine.Renders())
}

func TestRenderController_TryWithLock(t *testing.T) {
	t.Parallel()
	h := newMockHarness(t)

	var width int
	require.NoError(t, h.rc.TryWithLock(func(engine types.Engine) error {
		width, _ = engine.ImageSize()
		return nil
	}))
	assert.Equal(t, 64, width)

	started := make(chan struct{}, 1)
	release := make(chan struct{})
	h.engine.StartRenderFunc = h.engine.BlockUntil(started, release)
	rec := newDoneRecorder()
	require.NoError(t, h.rc.Submit(workitem.NewCallback(workitem.CallbackSpec{
		Render:  true,
		Options: types.ItemOptions{Immediate: true},
		Done:    rec.done,
	})))
	<-started

	called := false
	err := h.rc.TryWithLock(func(types.Engine) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, types.ErrLockBusy)
	assert.False(t, called, "fn must not run while a render holds the lock")

	close(release)
	assert.Equal(t, types.OutcomeCompleted, rec.wait(t).outcome)
}
