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

package types

import (
	"context"
	"strconv"
	"time"

	"github.com/kf2-go/kf2/pkg/render/internal/sealed"
)

// Kind enumerates the closed set of work item variants.
type Kind int

const (
	KindImmediateNoop Kind = iota
	KindCallback
	KindAwaitRender
	KindResize
	KindZoom
)

// String returns a human-readable name for the kind, suitable as a metric label.
func (k Kind) String() string {
	switch k {
	case KindImmediateNoop:
		return "ImmediateNoop"
	case KindCallback:
		return "Callback"
	case KindAwaitRender:
		return "AwaitRender"
	case KindResize:
		return "Resize"
	case KindZoom:
		return "Zoom"
	default:
		return "UnknownKind(" + strconv.Itoa(int(k)) + ")"
	}
}

// ItemOptions controls how the batcher treats an item.
type ItemOptions struct {
	// Interrupts requests that an in-flight render be stopped before this item's batch is applied.
	Interrupts bool
	// Immediate forces the current batch to flush as soon as this item arrives.
	Immediate bool
	// MaxBatchDelay is how long the batcher may keep waiting for more items once this one has arrived.
	// Optional: if zero, the controller's default batch delay applies.
	MaxBatchDelay time.Duration
}

// Effect is the result of applying an item to the engine.
type Effect struct {
	// Render is set when the engine must be re-rendered for the item's change to become visible.
	Render bool
	// ResetReferences asks the next render pass to discard existing reference points. It implies Render.
	ResetReferences bool
}

// Merge returns the union of two effects.
func (e Effect) Merge(o Effect) Effect {
	return Effect{
		Render:          e.Render || o.Render || e.ResetReferences || o.ResetReferences,
		ResetReferences: e.ResetReferences || o.ResetReferences,
	}
}

// WorkItem is one pending mutation request.
//
// The variant set is closed. `Sealed` takes a type from an internal package, so only the render packages can declare
// it, and only package `workitem` does. Values that merely embed a variant are rejected by the controller on submit.
//
// # Lifecycle
//
// An item is consumed by exactly one batch. `Apply` runs at most once, under the render lock. `Notify` may run several
// times: once for the batch that contained the item and once more if the item was deferred and is later finalized.
// `Done` runs exactly once, on a goroutine that is not part of the render path.
type WorkItem interface {
	// ID returns a unique identifier used for log correlation.
	ID() string
	Kind() Kind
	Options() ItemOptions
	// AwaitsRender reports whether the item waits for the next completed render even though it has no effect of its own.
	// Such items, like items whose applied effect required a render, are deferred rather than reported as stopped or not
	// rendered until a later batch completes a render.
	AwaitsRender() bool
	// Apply mutates the engine for this item. It is only called while the render lock is held.
	Apply(ctx context.Context, engine Engine) (Effect, error)
	// Notify is the synchronous pre-completion hook. It must be fast and must not block.
	Notify(outcome Outcome)
	// Done delivers the item's final outcome.
	Done(outcome Outcome, err error)

	// Sealed marks the implementation as one of the known variants.
	Sealed(sealed.Token)
}
