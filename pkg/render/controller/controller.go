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
	"fmt"
	"sync"

	"github.com/go-logr/logr"
	"k8s.io/utils/clock"

	logutil "github.com/kf2-go/kf2/pkg/common/observability/logging"
	"github.com/kf2-go/kf2/pkg/render/controller/internal"
	"github.com/kf2-go/kf2/pkg/render/lock"
	"github.com/kf2-go/kf2/pkg/render/metrics"
	"github.com/kf2-go/kf2/pkg/render/types"
	"github.com/kf2-go/kf2/pkg/render/workitem"
)

// Stats is a point-in-time snapshot of the controller's state.
type Stats struct {
	// LockState is the state of the render lock.
	LockState lock.State
	// PendingItems is the number of submitted items not yet collected into a batch.
	PendingItems int
	// DeferredItems is the number of items waiting for a render to complete.
	DeferredItems int
}

// RenderController coordinates all access to a `types.Engine`.
//
// It runs two long-lived goroutines for its lifetime: the batch loop, which applies submitted work items under the
// render lock and starts renders, and the notifier loop, which dispatches `Done` callbacks. Both stop when the context
// passed to `NewRenderController` is cancelled.
type RenderController struct {
	// --- Immutable dependencies (set at construction) ---

	config Config
	engine types.Engine
	clock  clock.Clock
	logger logr.Logger

	// --- Internal components ---

	lock     *lock.RenderLock
	notifier *internal.Notifier
	batcher  *internal.Batcher

	// --- Lifecycle state ---

	wg   sync.WaitGroup
	done chan struct{}
}

// renderControllerOption is a function that applies a configuration change to a `RenderController`.
// test-only
type renderControllerOption func(*RenderController)

// withClock overrides the clock used for debouncing and timing.
// test-only
func withClock(c clock.Clock) renderControllerOption {
	return func(rc *RenderController) {
		rc.clock = c
	}
}

// NewRenderController creates a controller for engine and starts its loops. The controller runs until ctx is
// cancelled; `Done` reports when it has fully stopped.
func NewRenderController(
	ctx context.Context,
	config Config,
	engine types.Engine,
	logger logr.Logger,
	opts ...renderControllerOption,
) (*RenderController, error) {
	if engine == nil {
		return nil, errors.New("engine cannot be nil")
	}
	cfg := config.deepCopy()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid render controller config: %w", err)
	}

	rc := &RenderController{
		config: *cfg,
		engine: engine,
		clock:  clock.RealClock{},
		logger: logger.WithName("render-controller"),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(rc)
	}

	rc.lock = lock.New(rc.logger, lock.WithClock(rc.clock))
	rc.notifier = internal.NewNotifier(rc.logger)
	runner := internal.NewRunner(engine, rc.notifier, rc.clock, rc.config.MaxReferences, rc.logger)
	rc.batcher = internal.NewBatcher(engine, rc.lock, runner, rc.notifier, rc.clock, rc.config.DefaultBatchDelay,
		rc.logger)

	rc.logger.Info("Starting render controller", "defaultBatchDelay", rc.config.DefaultBatchDelay,
		"maxReferences", rc.config.MaxReferences)
	rc.wg.Add(2)
	go func() {
		defer rc.wg.Done()
		rc.batcher.Run(ctx)
	}()
	go func() {
		defer rc.wg.Done()
		rc.notifier.Run(ctx)
	}()
	go func() {
		rc.wg.Wait()
		rc.logger.Info("Render controller stopped")
		close(rc.done)
	}()
	return rc, nil
}

// Done returns a channel that is closed once the controller has shut down and every render it started has finished.
func (rc *RenderController) Done() <-chan struct{} {
	return rc.done
}

// Submit hands a work item to the controller without blocking.
//
// If the controller is no longer running, Submit returns `types.ErrControllerNotRunning` and the item is finalized
// with `types.OutcomeStopped`, so its `Done` callback still runs exactly once. Values that are not one of the
// `workitem` variants are refused with `types.ErrUnknownWorkItem` and never finalized.
func (rc *RenderController) Submit(item types.WorkItem) error {
	if item == nil {
		return errors.New("work item cannot be nil")
	}
	if err := validateVariant(item); err != nil {
		return err
	}
	metrics.RecordWorkItemSubmitted(item.Kind().String())

	it := internal.NewItem(item, rc.clock.Now())
	if err := rc.batcher.Submit(it); err != nil {
		rc.notifier.Reject([]*internal.Item{it}, types.OutcomeStopped, err)
		return err
	}
	rc.logger.V(logutil.TRACE).Info("Work item submitted", "itemID", item.ID(), "kind", item.Kind(),
		"options", item.Options())
	return nil
}

// validateVariant accepts exactly the variants constructed by package `workitem`, with their own kinds. Types that
// embed a variant are refused.
func validateVariant(item types.WorkItem) error {
	var want types.Kind
	switch item.(type) {
	case *workitem.ImmediateNoop:
		want = types.KindImmediateNoop
	case *workitem.Callback:
		want = types.KindCallback
	case *workitem.AwaitRender:
		want = types.KindAwaitRender
	case *workitem.ResizeRequest:
		want = types.KindResize
	case *workitem.ZoomRequest:
		want = types.KindZoom
	default:
		return fmt.Errorf("%w: %T", types.ErrUnknownWorkItem, item)
	}
	if item.Kind() != want {
		return fmt.Errorf("%w: %T reports kind %s", types.ErrUnknownWorkItem, item, item.Kind())
	}
	return nil
}

// AwaitNextRender blocks until a render completes (or fails) after this call, or ctx ends. A render already in flight
// counts if it completes after the call. Renders that are stopped do not count.
func (rc *RenderController) AwaitNextRender(ctx context.Context) (types.Outcome, error) {
	await := workitem.NewAwaitRender()
	if err := rc.Submit(await); err != nil {
		return types.OutcomeStopped, err
	}
	return await.Wait(ctx)
}

// Render requests a render pass right away and waits for it. The request does not interrupt a render already in
// flight. If a later interrupting batch stops the pass, Render keeps waiting for the render that supersedes it.
func (rc *RenderController) Render(ctx context.Context, resetReferences bool) (types.Outcome, error) {
	type result struct {
		outcome types.Outcome
		err     error
	}
	resCh := make(chan result, 1)
	item := workitem.NewCallback(workitem.CallbackSpec{
		Render:          true,
		ResetReferences: resetReferences,
		Options:         types.ItemOptions{Immediate: true},
		Done: func(outcome types.Outcome, err error) {
			resCh <- result{outcome: outcome, err: err}
		},
	})
	if err := rc.Submit(item); err != nil {
		return types.OutcomeStopped, err
	}
	select {
	case res := <-resCh:
		return res.outcome, res.err
	case <-ctx.Done():
		return types.OutcomeStopped, ctx.Err()
	}
}

// StopRender asks the running render, if any, to stop and waits until it has physically finished. It does not take
// the render lock, and it does not prevent later batches from starting new renders.
func (rc *RenderController) StopRender(ctx context.Context) error {
	if !rc.lock.IsRendering() {
		return nil
	}
	rc.logger.V(logutil.VERBOSE).Info("Stopping render on request")
	rc.lock.RequestStop()
	return rc.lock.WaitRenderFinished(ctx)
}

// WithLock runs fn with exclusive access to the engine, waiting behind any batch or render that holds the lock.
// fn must not submit work and wait for it, since that work cannot run until fn returns.
func (rc *RenderController) WithLock(ctx context.Context, fn func(engine types.Engine) error) error {
	select {
	case <-rc.done:
		return types.ErrControllerNotRunning
	default:
	}
	guard, err := rc.lock.Acquire(ctx, false)
	if err != nil {
		return fmt.Errorf("failed to acquire render lock: %w", err)
	}
	defer guard.Release()
	return fn(rc.engine)
}

// TryWithLock runs fn with exclusive access to the engine if the render lock is free, and fails with
// `types.ErrLockBusy` otherwise. It never waits behind a batch or a render.
func (rc *RenderController) TryWithLock(fn func(engine types.Engine) error) error {
	select {
	case <-rc.done:
		return types.ErrControllerNotRunning
	default:
	}
	guard, err := rc.lock.TryAcquire()
	if err != nil {
		return err
	}
	defer guard.Release()
	return fn(rc.engine)
}

// IsRendering reports whether a render pass is running.
func (rc *RenderController) IsRendering() bool {
	return rc.lock.IsRendering()
}

// IsLocked reports whether the render lock is held or awaited.
func (rc *RenderController) IsLocked() bool {
	return rc.lock.IsLocked()
}

// Stats returns a snapshot of the controller's state.
func (rc *RenderController) Stats() Stats {
	return Stats{
		LockState:     rc.lock.State(),
		PendingItems:  rc.batcher.Pending(),
		DeferredItems: rc.notifier.Deferred(),
	}
}
