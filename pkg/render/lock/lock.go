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

// Package lock implements the `RenderLock`, the mutual exclusion primitive that guards all engine state.
//
// The lock hands ownership from one acquirer to the next through a chain of tickets. Each acquirer creates a ticket (a
// release channel), swaps itself in as the tail of the chain, and waits for the previous ticket to be closed. Releasing
// closes the holder's ticket, which wakes exactly one successor. Acquirers are therefore served in strict FIFO order.
//
// On top of plain exclusion, the lock tracks whether the holder is currently rendering and carries the cooperative stop
// protocol: an acquirer may preempt the holder, which forwards a stop request to the engine as soon as (or if) the
// holder is rendering.
package lock

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/go-logr/logr"
	"k8s.io/utils/clock"

	logutil "github.com/kf2-go/kf2/pkg/common/observability/logging"
	"github.com/kf2-go/kf2/pkg/render/metrics"
	"github.com/kf2-go/kf2/pkg/render/types"
)

// State is the observable state of the `RenderLock`.
type State int

const (
	// StateIdle means nobody holds the lock.
	StateIdle State = iota
	// StateHeld means the lock is held but no render is running.
	StateHeld
	// StateRendering means the holder is running a render pass.
	StateRendering
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateHeld:
		return "Held"
	case StateRendering:
		return "Rendering"
	default:
		return "UnknownState(" + strconv.Itoa(int(s)) + ")"
	}
}

// RenderLock serializes access to the engine. The zero value is not usable; use `New`.
type RenderLock struct {
	clock  clock.PassiveClock
	logger logr.Logger

	// mu protects the chain pointers below. It is never held while waiting on a ticket.
	mu sync.Mutex
	// head is the guard that currently owns the lock (or is about to be woken to own it).
	head *Guard
	// tail is the most recent acquirer. New acquirers wait on its ticket.
	tail *Guard
}

// Option configures a `RenderLock`.
type Option func(*RenderLock)

// WithClock sets the clock used to measure lock wait times.
func WithClock(c clock.PassiveClock) Option {
	return func(l *RenderLock) {
		l.clock = c
	}
}

// New creates an idle `RenderLock`.
func New(logger logr.Logger, opts ...Option) *RenderLock {
	l := &RenderLock{
		clock:  clock.RealClock{},
		logger: logger.WithName("render-lock"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Acquire blocks until the caller owns the lock or ctx ends.
//
// If preempt is set, a cooperative stop is raised on the current holder. The request takes effect immediately if the
// holder is rendering, and is latched otherwise so that it fires as soon as the holder begins a render.
//
// If ctx ends while waiting, the caller's place in the chain is handed on to its successor in the background and
// `ctx.Err()` is returned.
func (l *RenderLock) Acquire(ctx context.Context, preempt bool) (*Guard, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := l.clock.Now()
	g := newGuard(l)

	l.mu.Lock()
	prev := l.tail
	l.tail = g
	if prev == nil {
		l.head = g
	} else {
		prev.next = g
	}
	holder := l.head
	l.mu.Unlock()

	if preempt && holder != g {
		l.logger.V(logutil.DEBUG).Info("Preempting render lock holder", "holderState", holder.state())
		metrics.RecordPreemption()
		holder.RequestStop()
	}

	if prev != nil {
		select {
		case <-prev.ticket:
		case <-ctx.Done():
			// The chain must never break: once our predecessor is done, pass ownership straight on.
			go func() {
				<-prev.ticket
				g.Release()
			}()
			return nil, ctx.Err()
		}
	}

	metrics.RecordLockWait(l.clock.Since(start))
	l.logger.V(logutil.TRACE).Info("Render lock acquired", "waited", l.clock.Since(start))
	return g, nil
}

// TryAcquire takes the lock only if it is idle. Otherwise it returns `types.ErrLockBusy`.
func (l *RenderLock) TryAcquire() (*Guard, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.tail != nil {
		return nil, types.ErrLockBusy
	}
	g := newGuard(l)
	l.head, l.tail = g, g
	return g, nil
}

// RequestStop raises the cooperative stop on the current holder without acquiring the lock. It is a no-op when idle.
func (l *RenderLock) RequestStop() {
	l.mu.Lock()
	holder := l.head
	l.mu.Unlock()
	if holder != nil {
		holder.RequestStop()
	}
}

// WaitRenderFinished blocks until the render currently running (if any) has physically finished. It does not take the
// lock and returns immediately if no render is running.
func (l *RenderLock) WaitRenderFinished(ctx context.Context) error {
	l.mu.Lock()
	holder := l.head
	l.mu.Unlock()
	if holder == nil || !holder.IsRendering() {
		return nil
	}
	select {
	case <-holder.finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State reports the current state of the lock.
func (l *RenderLock) State() State {
	l.mu.Lock()
	holder := l.head
	l.mu.Unlock()
	if holder == nil {
		return StateIdle
	}
	return holder.state()
}

// IsLocked reports whether anybody holds or waits for the lock.
func (l *RenderLock) IsLocked() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tail != nil
}

// IsRendering reports whether the holder is running a render pass.
func (l *RenderLock) IsRendering() bool {
	return l.State() == StateRendering
}

// release advances the chain past g. Called exactly once per guard.
func (l *RenderLock) release(g *Guard) {
	l.mu.Lock()
	if l.head == g {
		l.head = g.next
	}
	if l.tail == g {
		l.tail = nil
		l.head = nil
	}
	l.mu.Unlock()
	close(g.ticket)
}

// Guard is proof of ownership of the `RenderLock`. It must be released exactly once.
type Guard struct {
	lock *RenderLock
	// ticket is closed on release and wakes the successor.
	ticket chan struct{}
	// finished is closed when the guard's render has physically finished, or on release.
	finished chan struct{}
	// next is the successor in the chain. Protected by lock.mu.
	next *Guard

	mu            sync.Mutex
	released      bool
	rendering     bool
	rendered      bool
	stopRequested bool
	stopFn        func()
}

func newGuard(l *RenderLock) *Guard {
	return &Guard{
		lock:     l,
		ticket:   make(chan struct{}),
		finished: make(chan struct{}),
	}
}

// BeginRender marks the start of a render pass. stop is invoked if a stop is requested while rendering; if a stop was
// already latched, stop is invoked before BeginRender returns.
//
// A guard supports a single render pass. Beginning a second one, or beginning one on a released guard, panics.
func (g *Guard) BeginRender(stop func()) {
	g.mu.Lock()
	if g.released {
		g.mu.Unlock()
		panic("invariant violation: BeginRender called on a released render lock guard")
	}
	if g.rendering || g.rendered {
		g.mu.Unlock()
		panic("invariant violation: BeginRender called while a previous render on the same guard is outstanding")
	}
	g.rendering = true
	g.stopFn = stop
	latched := g.stopRequested
	g.mu.Unlock()

	if latched && stop != nil {
		stop()
	}
}

// EndRender signals that the render pass has physically finished.
func (g *Guard) EndRender() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.rendering {
		panic("invariant violation: EndRender called without a matching BeginRender")
	}
	g.endRenderLocked()
}

func (g *Guard) endRenderLocked() {
	g.rendering = false
	g.rendered = true
	g.stopFn = nil
	close(g.finished)
}

// RequestStop raises the cooperative stop on this guard's render. Repeated requests are ignored.
func (g *Guard) RequestStop() {
	g.mu.Lock()
	if g.stopRequested || g.released {
		g.mu.Unlock()
		return
	}
	g.stopRequested = true
	var stop func()
	if g.rendering {
		stop = g.stopFn
	}
	g.mu.Unlock()

	if stop != nil {
		stop()
	}
}

// StopRequested reports whether a stop has been requested for this guard.
func (g *Guard) StopRequested() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stopRequested
}

// IsRendering reports whether the guard is between `BeginRender` and `EndRender`.
func (g *Guard) IsRendering() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rendering
}

// Release gives up the lock. If a render is still marked as running, it is ended first. Releasing twice panics.
func (g *Guard) Release() {
	g.mu.Lock()
	if g.released {
		g.mu.Unlock()
		panic(fmt.Sprintf("invariant violation: render lock guard %p released twice", g))
	}
	if g.rendering {
		g.endRenderLocked()
	} else if !g.rendered {
		close(g.finished)
	}
	g.released = true
	g.mu.Unlock()

	g.lock.release(g)
}

func (g *Guard) state() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.rendering {
		return StateRendering
	}
	return StateHeld
}
