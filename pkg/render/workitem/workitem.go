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

// Package workitem implements the closed set of `types.WorkItem` variants accepted by the render controller.
//
// Every variant is constructed through its `New...` function, which assigns a unique ID. Items must not be reused:
// each one is consumed by exactly one batch.
package workitem

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/google/uuid"

	"github.com/kf2-go/kf2/pkg/render/internal/sealed"
	"github.com/kf2-go/kf2/pkg/render/types"
)

// base carries the state common to all variants and seals the `types.WorkItem` interface.
type base struct {
	id   string
	opts types.ItemOptions
}

func newBase(opts types.ItemOptions) base {
	return base{id: uuid.NewString(), opts: opts}
}

func (b *base) ID() string                 { return b.id }
func (b *base) Options() types.ItemOptions { return b.opts }
func (b *base) Sealed(sealed.Token)        {}

// --- ImmediateNoop ---

// ImmediateNoop carries no payload. Submitting it flushes the pending batch right away.
type ImmediateNoop struct {
	base
}

var _ types.WorkItem = &ImmediateNoop{}

// NewImmediateNoop creates a flush marker.
func NewImmediateNoop() *ImmediateNoop {
	return &ImmediateNoop{base: newBase(types.ItemOptions{Immediate: true})}
}

func (i *ImmediateNoop) Kind() types.Kind   { return types.KindImmediateNoop }
func (i *ImmediateNoop) AwaitsRender() bool { return false }

func (i *ImmediateNoop) Apply(context.Context, types.Engine) (types.Effect, error) {
	return types.Effect{}, nil
}

func (i *ImmediateNoop) Notify(types.Outcome)      {}
func (i *ImmediateNoop) Done(types.Outcome, error) {}

// --- Callback ---

// CallbackSpec describes a `Callback` item. All functions are optional.
type CallbackSpec struct {
	// Apply runs under the render lock. Its returned effect is merged with the declared Render/ResetReferences.
	Apply func(ctx context.Context, engine types.Engine) (types.Effect, error)
	// Notify is the synchronous pre-completion hook.
	Notify func(outcome types.Outcome)
	// Done receives the final outcome.
	Done func(outcome types.Outcome, err error)

	Render          bool
	ResetReferences bool
	Options         types.ItemOptions
}

// Callback wraps arbitrary caller-provided work.
type Callback struct {
	base
	spec CallbackSpec
}

var _ types.WorkItem = &Callback{}

// NewCallback creates a callback item from spec.
func NewCallback(spec CallbackSpec) *Callback {
	return &Callback{base: newBase(spec.Options), spec: spec}
}

func (c *Callback) Kind() types.Kind { return types.KindCallback }

func (c *Callback) AwaitsRender() bool { return false }

func (c *Callback) Apply(ctx context.Context, engine types.Engine) (types.Effect, error) {
	eff := types.Effect{Render: c.spec.Render, ResetReferences: c.spec.ResetReferences}
	if c.spec.Apply == nil {
		return eff, nil
	}
	got, err := c.spec.Apply(ctx, engine)
	if err != nil {
		return types.Effect{}, err
	}
	return eff.Merge(got), nil
}

func (c *Callback) Notify(outcome types.Outcome) {
	if c.spec.Notify != nil {
		c.spec.Notify(outcome)
	}
}

func (c *Callback) Done(outcome types.Outcome, err error) {
	if c.spec.Done != nil {
		c.spec.Done(outcome, err)
	}
}

// --- AwaitRender ---

// AwaitRender has no effect on the engine. It lets a caller block until the next render that actually completes.
type AwaitRender struct {
	base

	once    sync.Once
	done    chan struct{}
	mu      sync.Mutex
	outcome types.Outcome
	err     error
}

var _ types.WorkItem = &AwaitRender{}

// NewAwaitRender creates a synchronization item.
func NewAwaitRender() *AwaitRender {
	return &AwaitRender{base: newBase(types.ItemOptions{}), done: make(chan struct{})}
}

func (a *AwaitRender) Kind() types.Kind   { return types.KindAwaitRender }
func (a *AwaitRender) AwaitsRender() bool { return true }

func (a *AwaitRender) Apply(context.Context, types.Engine) (types.Effect, error) {
	return types.Effect{}, nil
}

// Notify wakes the waiter once a render has completed or failed. Intermediate outcomes are ignored; the item stays
// deferred until then.
func (a *AwaitRender) Notify(outcome types.Outcome) {
	if outcome.IsTerminalRender() {
		a.resolve(outcome, nil)
	}
}

// Done wakes the waiter if `Notify` did not, e.g. on shutdown.
func (a *AwaitRender) Done(outcome types.Outcome, err error) {
	a.resolve(outcome, err)
}

func (a *AwaitRender) resolve(outcome types.Outcome, err error) {
	a.once.Do(func() {
		a.mu.Lock()
		a.outcome, a.err = outcome, err
		a.mu.Unlock()
		close(a.done)
	})
}

// Wait blocks until the item is resolved or ctx ends.
func (a *AwaitRender) Wait(ctx context.Context) (types.Outcome, error) {
	select {
	case <-a.done:
		a.mu.Lock()
		defer a.mu.Unlock()
		return a.outcome, a.err
	case <-ctx.Done():
		return types.OutcomeStopped, ctx.Err()
	}
}

// --- ResizeRequest ---

// ResizeRequest asks for the engine image to be Width*Scale by Height*Scale pixels.
type ResizeRequest struct {
	base
	Width, Height, Scale int
	done                 func(types.Outcome, error)
}

var _ types.WorkItem = &ResizeRequest{}

// NewResizeRequest creates a resize item. A scale below 1 is treated as 1. done may be nil.
func NewResizeRequest(width, height, scale int, opts types.ItemOptions, done func(types.Outcome, error)) *ResizeRequest {
	if scale < 1 {
		scale = 1
	}
	return &ResizeRequest{base: newBase(opts), Width: width, Height: height, Scale: scale, done: done}
}

func (r *ResizeRequest) Kind() types.Kind   { return types.KindResize }
func (r *ResizeRequest) AwaitsRender() bool { return false }

// Apply resizes the engine. Resizing to the current size is a no-op and does not require a render.
func (r *ResizeRequest) Apply(_ context.Context, engine types.Engine) (types.Effect, error) {
	if r.Width <= 0 || r.Height <= 0 {
		return types.Effect{}, fmt.Errorf("invalid image size %dx%d", r.Width, r.Height)
	}
	w, h := r.Width*r.Scale, r.Height*r.Scale
	if cw, ch := engine.ImageSize(); cw == w && ch == h {
		return types.Effect{}, nil
	}
	if err := engine.SetImageSize(w, h); err != nil {
		return types.Effect{}, fmt.Errorf("failed to resize engine to %dx%d: %w", w, h, err)
	}
	return types.Effect{Render: true, ResetReferences: true}, nil
}

func (r *ResizeRequest) Notify(types.Outcome) {}

func (r *ResizeRequest) Done(outcome types.Outcome, err error) {
	if r.done != nil {
		r.done(outcome, err)
	}
}

// --- ZoomRequest ---

// ZoomRequest zooms by Factor around pixel (X, Y). Factors above 1 zoom in.
type ZoomRequest struct {
	base
	X, Y     float64
	Factor   float64
	Recenter bool
	done     func(types.Outcome, error)
}

var _ types.WorkItem = &ZoomRequest{}

// NewZoomRequest creates a zoom item. done may be nil.
func NewZoomRequest(x, y, factor float64, recenter bool, opts types.ItemOptions,
	done func(types.Outcome, error)) *ZoomRequest {
	return &ZoomRequest{base: newBase(opts), X: x, Y: y, Factor: factor, Recenter: recenter, done: done}
}

func (z *ZoomRequest) Kind() types.Kind   { return types.KindZoom }
func (z *ZoomRequest) AwaitsRender() bool { return false }

func (z *ZoomRequest) Apply(_ context.Context, engine types.Engine) (types.Effect, error) {
	if z.Factor <= 0 || math.IsNaN(z.Factor) || math.IsInf(z.Factor, 0) {
		return types.Effect{}, fmt.Errorf("zoom factor must be positive and finite, got %v", z.Factor)
	}
	if err := engine.ZoomAt(z.X, z.Y, z.Factor, z.Recenter); err != nil {
		return types.Effect{}, fmt.Errorf("failed to zoom at (%v, %v): %w", z.X, z.Y, err)
	}
	return types.Effect{Render: true, ResetReferences: true}, nil
}

func (z *ZoomRequest) Notify(types.Outcome) {}

func (z *ZoomRequest) Done(outcome types.Outcome, err error) {
	if z.done != nil {
		z.done(outcome, err)
	}
}
