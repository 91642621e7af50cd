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

package runner

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kf2-go/kf2/pkg/render/controller"
	"github.com/kf2-go/kf2/pkg/render/lock"
	"github.com/kf2-go/kf2/pkg/render/types"
	"github.com/kf2-go/kf2/pkg/render/types/mocks"
)

// fakeController applies every submitted item synchronously and completes it right away.
type fakeController struct {
	engine *mocks.MockEngine

	mu        sync.Mutex
	submitted []types.WorkItem
	stops     int
	submitErr error
	busy      bool
}

func newFakeController() *fakeController {
	return &fakeController{engine: mocks.NewMockEngine(64, 48)}
}

func (f *fakeController) Submit(item types.WorkItem) error {
	f.mu.Lock()
	f.submitted = append(f.submitted, item)
	err := f.submitErr
	f.mu.Unlock()
	if err != nil {
		return err
	}

	effect, err := item.Apply(context.Background(), f.engine)
	if err != nil {
		item.Done(types.OutcomeFailed, err)
		return nil
	}
	outcome := types.OutcomeNoRender
	if effect.Render {
		outcome = types.OutcomeCompleted
	}
	item.Notify(outcome)
	item.Done(outcome, nil)
	return nil
}

func (f *fakeController) AwaitNextRender(context.Context) (types.Outcome, error) {
	return types.OutcomeCompleted, nil
}

func (f *fakeController) StopRender(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return nil
}

func (f *fakeController) TryWithLock(fn func(types.Engine) error) error {
	if f.busy {
		return types.ErrLockBusy
	}
	return fn(f.engine)
}

func (f *fakeController) Stats() controller.Stats {
	return controller.Stats{LockState: lock.StateIdle, PendingItems: 2, DeferredItems: 1}
}

func (f *fakeController) items() []types.WorkItem {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.WorkItem(nil), f.submitted...)
}

// syncBuffer lets tests read console output while late `Done` callbacks may still write to it.
type syncBuffer struct {
	mu  sync.Mutex
	buf strings.Builder
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func runConsole(t *testing.T, rc renderController, input string) string {
	t.Helper()
	out := &syncBuffer{}
	c := NewConsole(rc, strings.NewReader(input), out, logr.Discard())
	require.NoError(t, c.Run(context.Background()))
	return out.String()
}

func TestConsole_Commands(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name           string
		input          string
		expectedOutput []string
		expectedEvents []string
	}{
		{
			name:           "ZoomRecenters",
			input:          "zoom 10 20 4\n",
			expectedOutput: []string{"zoom: Completed"},
			expectedEvents: []string{"zoom 10,20 x4"},
		},
		{
			name:           "ZoomKeep",
			input:          "zoom 1.5 2.5 2 keep\n",
			expectedOutput: []string{"zoom: Completed"},
			expectedEvents: []string{"zoom 1.5,2.5 x2"},
		},
		{
			name:           "ResizeWithScale",
			input:          "resize 32 24 3\n",
			expectedOutput: []string{"resize: Completed"},
			expectedEvents: []string{"resize 96x72"},
		},
		{
			name:           "ResizeToCurrentSizeDoesNotRender",
			input:          "resize 64 48\n",
			expectedOutput: []string{"resize: NoRender"},
		},
		{
			name:           "Recolor",
			input:          "recolor\n",
			expectedOutput: []string{"recolor: NoRender"},
			expectedEvents: []string{"recolor"},
		},
		{
			name:           "Render",
			input:          "render reset\n",
			expectedOutput: []string{"render: Completed"},
		},
		{
			name:           "SaveJPGAlias",
			input:          "save jpg out.jpg 80\n",
			expectedOutput: []string{"save out.jpg: NoRender"},
			expectedEvents: []string{"save jpeg out.jpg"},
		},
		{
			name:           "Status",
			input:          "status\n",
			expectedOutput: []string{"lock=Idle pending=2 deferred=1"},
		},
		{
			name:           "Where",
			input:          "where\n",
			expectedOutput: []string{"re=0 im=0 zoom=1 size=64x48"},
		},
		{
			name:           "Wait",
			input:          "wait\n",
			expectedOutput: []string{"render Completed"},
		},
		{
			name:           "Stop",
			input:          "stop\n",
			expectedOutput: []string{"stopped"},
		},
		{
			name:           "Help",
			input:          "help\n",
			expectedOutput: []string{"Commands:", "zoom X Y FACTOR [keep]"},
		},
		{
			name:  "BadInput",
			input: "zoom 1 2\nzoom a b c\nresize 1 x\nsave png\nsave png out.png high\nfrobnicate\n",
			expectedOutput: []string{
				"error: usage: zoom X Y FACTOR [keep]",
				`error: invalid number "a"`,
				`error: invalid integer "x"`,
				"error: usage: save png|jpeg|tiff|kfr PATH [QUALITY]",
				`error: invalid quality "high"`,
				`error: unknown command "frobnicate"`,
			},
		},
		{
			name:           "BlankLinesAreIgnored",
			input:          "\n   \nstatus\n",
			expectedOutput: []string{"lock=Idle"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			fc := newFakeController()
			out := runConsole(t, fc, tc.input)
			for _, want := range tc.expectedOutput {
				assert.Contains(t, out, want)
			}
			events := fc.engine.Events()
			for _, want := range tc.expectedEvents {
				assert.Contains(t, events, want)
			}
		})
	}
}

func TestConsole_ItemOptions(t *testing.T) {
	t.Parallel()
	fc := newFakeController()
	runConsole(t, fc, "zoom 1 1 2\nresize 10 10\nrecolor\nrender\n")

	items := fc.items()
	require.Len(t, items, 4)
	assert.Equal(t, types.KindZoom, items[0].Kind())
	assert.True(t, items[0].Options().Interrupts, "zooms interrupt stale renders")
	assert.False(t, items[0].Options().Immediate, "zooms are debounced")
	assert.Equal(t, types.KindResize, items[1].Kind())
	assert.True(t, items[1].Options().Interrupts)
	assert.True(t, items[2].Options().Immediate)
	assert.False(t, items[2].Options().Interrupts, "recoloring does not stop the render")
	assert.True(t, items[3].Options().Immediate)
	assert.True(t, items[3].Options().Interrupts)
}

func TestConsole_QuitStopsReading(t *testing.T) {
	t.Parallel()
	fc := newFakeController()
	out := runConsole(t, fc, "quit\nzoom 1 1 2\n")
	assert.Empty(t, fc.items(), "commands after quit must not run")
	assert.NotContains(t, out, "zoom:")

	fc = newFakeController()
	runConsole(t, fc, "exit\nzoom 1 1 2\n")
	assert.Empty(t, fc.items())
}

func TestConsole_SubmitError(t *testing.T) {
	t.Parallel()
	fc := newFakeController()
	fc.submitErr = types.ErrControllerNotRunning
	out := runConsole(t, fc, "zoom 1 1 2\n")
	assert.Contains(t, out, "error: failed to submit zoom: "+types.ErrControllerNotRunning.Error())
}

func TestConsole_ApplyErrorIsReported(t *testing.T) {
	t.Parallel()
	fc := newFakeController()
	fc.engine.SaveAsFunc = func(types.ImageFormat, string, int) error { return errors.New("disk full") }
	out := runConsole(t, fc, "save png out.png\n")
	assert.Contains(t, out, "save out.png: Failed: disk full")
}

func TestConsole_WhereDoesNotWaitForLock(t *testing.T) {
	t.Parallel()
	fc := newFakeController()
	fc.busy = true
	out := runConsole(t, fc, "where\n")
	assert.Contains(t, out, "busy")
	assert.NotContains(t, out, "error:")
}

func TestConsole_ContextCancelled(t *testing.T) {
	t.Parallel()
	pr, pw := io.Pipe()
	t.Cleanup(func() { _ = pw.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	c := NewConsole(newFakeController(), pr, io.Discard, logr.Discard())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("console did not return after the context was cancelled")
	}
}

func TestConsole_WithRenderController(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	engine := mocks.NewMockEngine(64, 48)
	cfg, err := controller.NewConfig(controller.WithDefaultBatchDelay(5 * time.Millisecond))
	require.NoError(t, err)
	rc, err := controller.NewRenderController(ctx, *cfg, engine, logr.Discard())
	require.NoError(t, err)
	t.Cleanup(func() {
		cancel()
		<-rc.Done()
	})

	out := runConsole(t, rc, "zoom 32 24 2\nwait\n")
	assert.Contains(t, out, "render Completed")
	assert.Contains(t, engine.Events(), "zoom 32,24 x2")
	assert.GreaterOrEqual(t, engine.Renders(), 1)
}
