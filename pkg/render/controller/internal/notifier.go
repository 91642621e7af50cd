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
	"fmt"
	"sync"

	"github.com/go-logr/logr"

	logutil "github.com/kf2-go/kf2/pkg/common/observability/logging"
	"github.com/kf2-go/kf2/pkg/render/metrics"
	"github.com/kf2-go/kf2/pkg/render/types"
)

// delivery is a group of finalized items whose `Done` callbacks run together, in order, on one goroutine.
type delivery struct {
	items []*Item
}

// Notifier maps batch outcomes onto per-item results.
//
// `Deliver` is called while the render lock is held, so deliveries arrive in batch order. For each delivery it calls
// the synchronous `Notify` hook of every affected item before returning. `Done` callbacks are queued and dispatched by
// the `Run` loop, one goroutine per delivery, so that slow callbacks never hold up the render path.
//
// Items that still need a completed render are kept in a deferred set when their batch is stopped or does not render.
// They are finalized by the next batch whose render completes or fails, or with `types.OutcomeStopped` on shutdown.
type Notifier struct {
	logger   logr.Logger
	outbound *unboundedQueue[delivery]

	mu       sync.Mutex
	deferred []*Item
	closed   bool
	// generation counts terminal render deliveries; last is the most recent one.
	generation uint64
	last       struct {
		outcome types.Outcome
		err     error
	}
}

// NewNotifier creates a notifier. `Run` must be started for `Done` callbacks to be dispatched.
func NewNotifier(logger logr.Logger) *Notifier {
	return &Notifier{
		logger:   logger.WithName("notifier"),
		outbound: newUnboundedQueue[delivery](),
	}
}

// Run dispatches queued `Done` callbacks until ctx ends, then finalizes every deferred item.
func (n *Notifier) Run(ctx context.Context) {
	n.logger.V(logutil.DEFAULT).Info("Notifier loop started.")
	defer n.logger.V(logutil.DEFAULT).Info("Notifier loop stopped.")

	for {
		select {
		case <-ctx.Done():
			n.shutdown()
			return
		case <-n.outbound.signal():
			for _, d := range n.outbound.drain() {
				go n.dispatch(d)
			}
		}
	}
}

// Deliver reports the outcome of a batch.
//
//   - `Completed` and `Failed` finalize every deferred item and every item of the batch with that outcome.
//   - `Stopped` and `NoRender` defer the items that still need a completed render and finalize the rest with the
//     batch outcome.
//
// Items whose own apply failed are always finalized as `Failed` with their apply error. Items that only await a render
// are finalized with the latest completed or failed render if one was delivered after they were submitted.
//
// `Notify` hooks run after n.mu is released, so they may call back into the controller.
func (n *Notifier) Deliver(outcome types.Outcome, err error, batch []*Item) {
	n.mu.Lock()
	var r resolution
	terminal := outcome.IsTerminalRender()
	if terminal {
		for _, it := range n.deferred {
			r.finalize(it, outcome, err)
		}
		n.deferred = nil
		n.generation++
		n.last.outcome, n.last.err = outcome, err
	}

	for _, it := range batch {
		switch {
		case it.applyErr != nil:
			r.finalize(it, types.OutcomeFailed, it.applyErr)
		case !terminal && it.awaitsOnly() && it.renderGen < n.generation:
			// A render finished after the item was submitted, while its batch was still waiting for the lock.
			r.finalize(it, n.last.outcome, n.last.err)
		case !terminal && !n.closed && it.needsCompletedRender():
			r.notes = append(r.notes, note{item: it, outcome: outcome})
			n.deferred = append(n.deferred, it)
		default:
			r.finalize(it, outcome, err)
		}
	}
	deferred := len(n.deferred)
	n.mu.Unlock()

	metrics.SetDeferredWorkItems(deferred)
	n.logger.V(logutil.DEBUG).Info("Batch outcome delivered",
		"outcome", outcome, "batchSize", len(batch), "finalized", len(r.finished), "deferred", deferred)
	n.resolve(r)
}

// Reject finalizes items that never reached a render, e.g. because the controller is shutting down.
func (n *Notifier) Reject(items []*Item, outcome types.Outcome, err error) {
	if len(items) == 0 {
		return
	}
	var r resolution
	for _, it := range items {
		r.finalize(it, outcome, err)
	}
	n.resolve(r)
}

// Generation returns the number of renders that have completed or failed so far.
func (n *Notifier) Generation() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.generation
}

// Deferred returns the number of items waiting for a completed render.
func (n *Notifier) Deferred() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.deferred)
}

// shutdown finalizes deferred items and hands all remaining deliveries to their own goroutines. Deliveries that arrive
// afterwards, from renders that were still running, are dispatched directly.
func (n *Notifier) shutdown() {
	n.mu.Lock()
	n.closed = true
	var r resolution
	for _, it := range n.deferred {
		r.finalize(it, types.OutcomeStopped, types.ErrControllerNotRunning)
	}
	n.deferred = nil
	n.mu.Unlock()
	metrics.SetDeferredWorkItems(0)

	for _, d := range n.outbound.close() {
		go n.dispatch(d)
	}
	n.resolve(r)
}

// note is a pending call of an item's `Notify` hook.
type note struct {
	item    *Item
	outcome types.Outcome
}

// resolution collects what a delivery decided while n.mu was held: the hooks to call and the items to complete.
type resolution struct {
	notes    []note
	finished []*Item
}

func (r *resolution) finalize(it *Item, outcome types.Outcome, err error) {
	if !it.finalize(outcome, err) {
		return
	}
	r.notes = append(r.notes, note{item: it, outcome: outcome})
	r.finished = append(r.finished, it)
	metrics.RecordWorkItemCompleted(it.WorkItem.Kind().String(), outcome.String())
}

// resolve runs the `Notify` hooks in order and then queues the `Done` callbacks. It must be called without n.mu held.
func (n *Notifier) resolve(r resolution) {
	for _, nt := range r.notes {
		n.notify(nt.item, nt.outcome)
	}
	if len(r.finished) == 0 {
		return
	}
	d := delivery{items: r.finished}
	if !n.outbound.push(d) {
		go n.dispatch(d)
	}
}

func (n *Notifier) notify(it *Item, outcome types.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.Error(fmt.Errorf("panic: %v", r), "Work item Notify hook panicked",
				"itemID", it.WorkItem.ID(), "kind", it.WorkItem.Kind())
		}
	}()
	it.WorkItem.Notify(outcome)
}

func (n *Notifier) dispatch(d delivery) {
	for _, it := range d.items {
		n.done(it)
	}
}

func (n *Notifier) done(it *Item) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.Error(fmt.Errorf("panic: %v", r), "Work item Done callback panicked",
				"itemID", it.WorkItem.ID(), "kind", it.WorkItem.Kind())
		}
	}()
	outcome, err := it.FinalState()
	n.logger.V(logutil.TRACE).Info("Work item finalized", "itemID", it.WorkItem.ID(), "kind", it.WorkItem.Kind(),
		"outcome", outcome, "error", err)
	it.WorkItem.Done(outcome, err)
}
