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
	"sync"
	"time"

	"github.com/kf2-go/kf2/pkg/render/types"
)

// Item is the internal representation of a submitted `types.WorkItem`. It records what happened when the item was
// applied and guarantees that the item is finalized exactly once.
//
// # Concurrency
//
// `effect` and `applyErr` are written by the batch loop before the item is handed to the runner or the notifier, and
// are read-only afterwards. `finalize` may race between a delivery and shutdown; `sync.Once` makes it idempotent.
type Item struct {
	// WorkItem is the caller's item.
	WorkItem types.WorkItem
	// SubmitTime is when the controller accepted the item.
	SubmitTime time.Time

	effect    types.Effect
	applyErr  error
	// renderGen is the notifier generation observed when the item was submitted.
	renderGen uint64

	onceFinalize sync.Once
	done         chan struct{}
	outcome      types.Outcome
	err          error
}

// NewItem wraps a work item for the batcher.
func NewItem(item types.WorkItem, submitTime time.Time) *Item {
	return &Item{
		WorkItem:   item,
		SubmitTime: submitTime,
		done:       make(chan struct{}),
	}
}

// Effect returns the effect recorded when the item was applied.
func (it *Item) Effect() types.Effect { return it.effect }

// ApplyErr returns the error recorded when the item was applied, if any.
func (it *Item) ApplyErr() error { return it.applyErr }

// Done returns a channel that is closed once the item has been finalized.
func (it *Item) Done() <-chan struct{} { return it.done }

// FinalState returns the outcome and error the item was finalized with.
// It must only be called after the channel returned by `Done()` has been closed.
func (it *Item) FinalState() (types.Outcome, error) {
	return it.outcome, it.err
}

// finalize records the terminal state and reports whether this call was the one that did so.
func (it *Item) finalize(outcome types.Outcome, err error) bool {
	first := false
	it.onceFinalize.Do(func() {
		it.outcome, it.err = outcome, err
		close(it.done)
		first = true
	})
	return first
}

func (it *Item) isFinalized() bool {
	select {
	case <-it.done:
		return true
	default:
		return false
	}
}

// needsCompletedRender reports whether the item is only satisfied by a render that actually completes.
func (it *Item) needsCompletedRender() bool {
	return it.applyErr == nil && (it.effect.Render || it.WorkItem.AwaitsRender())
}

// awaitsOnly reports whether the item waits for a render without requiring one itself.
func (it *Item) awaitsOnly() bool {
	return it.applyErr == nil && !it.effect.Render && it.WorkItem.AwaitsRender()
}
