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
	"time"

	"github.com/go-logr/logr"
	"k8s.io/utils/clock"

	logutil "github.com/kf2-go/kf2/pkg/common/observability/logging"
	"github.com/kf2-go/kf2/pkg/render/lock"
	"github.com/kf2-go/kf2/pkg/render/metrics"
	"github.com/kf2-go/kf2/pkg/render/types"
)

// Batcher is the cooperative scheduler of the render pipeline. It is the only component that applies work items to
// the engine.
//
// # Debouncing
//
// The batcher waits for a first item and then keeps collecting. The collection window is the smallest
// `MaxBatchDelay` among the items collected so far (the default delay stands in for items that do not set one), and it
// restarts whenever another item arrives. The batch is flushed when the window elapses quietly or as soon as an
// `Immediate` item arrives.
//
// # Flushing
//
// A flush acquires the render lock, preempting any running render if one of the items asks to interrupt. Items are
// applied in submission order; a failing item is marked failed and does not stop the rest of the batch. If any item
// needs a render, the held lock is handed to a `Runner` on a new goroutine; otherwise the batch is delivered as
// `NoRender` and the lock is released.
type Batcher struct {
	engine       types.Engine
	lock         *lock.RenderLock
	runner       *Runner
	notifier     *Notifier
	clock        clock.Clock
	defaultDelay time.Duration
	logger       logr.Logger

	inbound *unboundedQueue[*Item]
	renders sync.WaitGroup

	// onArm, if set, observes every (re)armed collection window.
	// test-only
	onArm func(window time.Duration)
}

// NewBatcher creates a batcher. `Run` must be started before items are processed.
func NewBatcher(
	engine types.Engine,
	renderLock *lock.RenderLock,
	runner *Runner,
	notifier *Notifier,
	clock clock.Clock,
	defaultDelay time.Duration,
	logger logr.Logger,
) *Batcher {
	return &Batcher{
		engine:       engine,
		lock:         renderLock,
		runner:       runner,
		notifier:     notifier,
		clock:        clock,
		defaultDelay: defaultDelay,
		logger:       logger.WithName("batcher"),
		inbound:      newUnboundedQueue[*Item](),
	}
}

// Submit enqueues an item without blocking. It fails with `types.ErrControllerNotRunning` once the batch loop has shut
// down; the caller still owns the item in that case.
func (b *Batcher) Submit(it *Item) error {
	it.renderGen = b.notifier.Generation()
	if !b.inbound.push(it) {
		return types.ErrControllerNotRunning
	}
	return nil
}

// Pending returns the number of submitted items not yet collected into a batch.
func (b *Batcher) Pending() int {
	return b.inbound.size()
}

// Run is the batch loop. It blocks until ctx ends and every render it started has finished.
func (b *Batcher) Run(ctx context.Context) {
	b.logger.V(logutil.DEFAULT).Info("Batch loop started.")
	defer b.logger.V(logutil.DEFAULT).Info("Batch loop stopped.")

	for {
		batch, ok := b.collect(ctx)
		if !ok {
			b.shutdown(batch)
			return
		}
		b.flush(ctx, batch)
	}
}

// collect blocks until a batch is ready. It returns false if ctx ended first, along with whatever was collected.
func (b *Batcher) collect(ctx context.Context) ([]*Item, bool) {
	var batch []*Item
	for len(batch) == 0 {
		select {
		case <-ctx.Done():
			return nil, false
		case <-b.inbound.signal():
			batch = b.inbound.drain()
		}
	}
	if hasImmediate(batch) {
		return batch, true
	}

	window := b.window(batch, 0)
	timer := b.clock.NewTimer(window)
	defer timer.Stop()
	b.armed(window)

	for {
		select {
		case <-ctx.Done():
			return batch, false
		case <-timer.C():
			return batch, true
		case <-b.inbound.signal():
			arrived := b.inbound.drain()
			if len(arrived) == 0 {
				continue
			}
			batch = append(batch, arrived...)
			if hasImmediate(arrived) {
				return batch, true
			}
			window = b.window(arrived, window)
			if !timer.Stop() {
				select {
				case <-timer.C():
				default:
				}
			}
			timer.Reset(window)
			b.armed(window)
		}
	}
}

// window returns the smallest batch delay among items and current. A zero current means no window yet.
func (b *Batcher) window(items []*Item, current time.Duration) time.Duration {
	for _, it := range items {
		d := it.WorkItem.Options().MaxBatchDelay
		if d <= 0 {
			d = b.defaultDelay
		}
		if current == 0 || d < current {
			current = d
		}
	}
	return current
}

func (b *Batcher) armed(window time.Duration) {
	if b.onArm != nil {
		b.onArm(window)
	}
}

func hasImmediate(items []*Item) bool {
	for _, it := range items {
		if it.WorkItem.Options().Immediate {
			return true
		}
	}
	return false
}

func wantsInterrupt(items []*Item) bool {
	for _, it := range items {
		if it.WorkItem.Options().Interrupts {
			return true
		}
	}
	return false
}

// flush applies one batch under the render lock and hands it to the runner if a render is needed.
func (b *Batcher) flush(ctx context.Context, batch []*Item) {
	logger := b.logger.WithValues("batchSize", len(batch))
	preempt := wantsInterrupt(batch)

	guard, err := b.lock.Acquire(ctx, preempt)
	if err != nil {
		logger.V(logutil.DEBUG).Info("Could not acquire render lock for batch", "error", err)
		b.notifier.Reject(batch, types.OutcomeStopped, fmt.Errorf("%w: %w", types.ErrControllerNotRunning, err))
		return
	}

	var effect types.Effect
	for _, it := range batch {
		eff, err := b.apply(ctx, it)
		if err != nil {
			logger.Error(err, "Work item failed to apply", "itemID", it.WorkItem.ID(), "kind", it.WorkItem.Kind())
			it.applyErr = err
			continue
		}
		it.effect = eff
		effect = effect.Merge(eff)
	}
	metrics.RecordBatchSize(len(batch))

	if !effect.Render {
		logger.V(logutil.DEBUG).Info("Batch applied without render")
		b.notifier.Deliver(types.OutcomeNoRender, nil, batch)
		guard.Release()
		return
	}

	logger.V(logutil.DEBUG).Info("Batch applied, starting render", "preempt", preempt,
		"resetReferences", effect.ResetReferences)
	b.renders.Add(1)
	go func() {
		defer b.renders.Done()
		b.runner.Run(guard, effect.ResetReferences, batch)
	}()
}

// apply runs one item's apply phase, converting a panic into an error.
func (b *Batcher) apply(ctx context.Context, it *Item) (eff types.Effect, err error) {
	defer func() {
		if r := recover(); r != nil {
			eff, err = types.Effect{}, fmt.Errorf("work item %s panicked during apply: %v", it.WorkItem.ID(), r)
		}
	}()
	return it.WorkItem.Apply(ctx, b.engine)
}

// shutdown rejects everything that never made it into a render, stops the running render and waits for it.
func (b *Batcher) shutdown(collected []*Item) {
	remaining := append(collected, b.inbound.close()...)
	if len(remaining) > 0 {
		b.logger.V(logutil.DEFAULT).Info("Rejecting unprocessed work items on shutdown", "count", len(remaining))
	}
	b.notifier.Reject(remaining, types.OutcomeStopped, types.ErrControllerNotRunning)

	b.lock.RequestStop()
	b.renders.Wait()
}
