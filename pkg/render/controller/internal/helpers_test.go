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

package internal

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kf2-go/kf2/pkg/render/types"
	"github.com/kf2-go/kf2/pkg/render/workitem"
)

const testTimeout = 2 * time.Second

// result is a single `Done` invocation.
type result struct {
	outcome types.Outcome
	err     error
}

// recorder captures `Notify` and `Done` calls of one work item.
type recorder struct {
	mu       sync.Mutex
	notifies []types.Outcome
	dones    []result
	doneCh   chan result
}

func newRecorder() *recorder {
	return &recorder{doneCh: make(chan result, 4)}
}

func (r *recorder) notify(o types.Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifies = append(r.notifies, o)
}

func (r *recorder) done(o types.Outcome, err error) {
	r.mu.Lock()
	r.dones = append(r.dones, result{outcome: o, err: err})
	r.mu.Unlock()
	r.doneCh <- result{outcome: o, err: err}
}

func (r *recorder) notified() []types.Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]types.Outcome(nil), r.notifies...)
}

func (r *recorder) doneCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.dones)
}

// wait blocks for the next `Done` call.
func (r *recorder) wait(t *testing.T) result {
	t.Helper()
	select {
	case res := <-r.doneCh:
		return res
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for Done")
		return result{}
	}
}

// assertPending checks that `Done` has not been called yet.
func (r *recorder) assertPending(t *testing.T) {
	t.Helper()
	select {
	case res := <-r.doneCh:
		t.Fatalf("unexpected Done(%s, %v)", res.outcome, res.err)
	case <-time.After(20 * time.Millisecond):
	}
}

// newCallbackItem creates a recorded callback work item wrapped for the batcher.
func newCallbackItem(spec workitem.CallbackSpec) (*Item, *recorder) {
	rec := newRecorder()
	spec.Notify = rec.notify
	spec.Done = rec.done
	return NewItem(workitem.NewCallback(spec), time.Now()), rec
}

// appliedItem creates an item as if the batcher had already applied it with the given result.
func appliedItem(spec workitem.CallbackSpec, effect types.Effect, applyErr error) (*Item, *recorder) {
	it, rec := newCallbackItem(spec)
	it.effect = effect
	it.applyErr = applyErr
	return it, rec
}

// startNotifier runs a notifier until the test ends.
func startNotifier(t *testing.T, n *Notifier) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		n.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(testTimeout):
			t.Error("notifier did not stop")
		}
	})
	return cancel
}

func requireEventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, testTimeout, time.Millisecond, msg)
}
