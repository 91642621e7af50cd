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

// Package mocks provides simple, configurable mock implementations of the render contracts, intended for use in unit
// and integration tests.
package mocks

import (
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"

	"github.com/kf2-go/kf2/pkg/render/types"
)

// MockEngine provides a mock implementation of the `types.Engine` interface.
//
// It keeps just enough state (image size and position) for callers to observe the effect of applied work items, and
// it instruments render passes so tests can assert mutual exclusion and ordering. Behavior can be overridden through
// the `...Func` fields; they must be set before the engine is shared with a controller.
type MockEngine struct {
	StartRenderFunc   func(resetReferences bool) error
	SetImageSizeFunc  func(width, height int) error
	ApplyColorMapFunc func() error
	SaveAsFunc        func(format types.ImageFormat, path string, quality int) error

	mu      sync.Mutex
	width   int
	height  int
	pos     types.Position
	events  []string
	stopCh  chan struct{}
	stopped bool

	renders       atomic.Int32
	activeRenders atomic.Int32
	maxActive     atomic.Int32
	stopRequests  atomic.Int32
}

var _ types.Engine = &MockEngine{}

// NewMockEngine creates a mock engine with the given image size, centred on the origin with radius 2.
func NewMockEngine(width, height int) *MockEngine {
	return &MockEngine{
		width:  width,
		height: height,
		pos: types.Position{
			Re:     big.NewFloat(0),
			Im:     big.NewFloat(0),
			Radius: big.NewFloat(2),
		},
		stopCh: make(chan struct{}),
	}
}

// StartRender runs `StartRenderFunc` (or returns immediately) while tracking render concurrency.
func (m *MockEngine) StartRender(resetReferences bool) error {
	active := m.activeRenders.Add(1)
	defer m.activeRenders.Add(-1)
	for {
		prev := m.maxActive.Load()
		if active <= prev || m.maxActive.CompareAndSwap(prev, active) {
			break
		}
	}
	m.renders.Add(1)
	m.Record(fmt.Sprintf("render:start reset=%t", resetReferences))
	defer m.Record("render:end")
	if m.StartRenderFunc != nil {
		return m.StartRenderFunc(resetReferences)
	}
	return nil
}

// RequestStop raises the stop flag and unblocks `StopRequested`.
func (m *MockEngine) RequestStop() {
	m.stopRequests.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.stopped {
		m.stopped = true
		close(m.stopCh)
	}
}

// ClearStop lowers the stop flag.
func (m *MockEngine) ClearStop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		m.stopped = false
		m.stopCh = make(chan struct{})
	}
}

// StopRequested returns a channel that is closed once `RequestStop` has been called for the current pass.
func (m *MockEngine) StopRequested() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopCh
}

func (m *MockEngine) ImageSize() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.width, m.height
}

func (m *MockEngine) SetImageSize(width, height int) error {
	if m.SetImageSizeFunc != nil {
		if err := m.SetImageSizeFunc(width, height); err != nil {
			return err
		}
	}
	m.mu.Lock()
	m.width, m.height = width, height
	m.mu.Unlock()
	m.Record(fmt.Sprintf("resize %dx%d", width, height))
	return nil
}

func (m *MockEngine) Position() types.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pos.Clone()
}

func (m *MockEngine) SetPosition(pos types.Position) error {
	m.mu.Lock()
	m.pos = pos.Clone()
	m.mu.Unlock()
	m.Record("position")
	return nil
}

// ZoomAt divides the radius by factor and, when recentering, moves the centre to the pixel under (x, y).
func (m *MockEngine) ZoomAt(x, y, factor float64, recenter bool) error {
	if factor <= 0 {
		return fmt.Errorf("zoom factor must be positive, got %v", factor)
	}
	m.mu.Lock()
	if recenter && m.width > 0 && m.height > 0 {
		scale := new(big.Float).Quo(new(big.Float).Mul(m.pos.Radius, big.NewFloat(2)), big.NewFloat(float64(m.height)))
		dx := new(big.Float).Mul(scale, big.NewFloat(x-float64(m.width)/2))
		dy := new(big.Float).Mul(scale, big.NewFloat(y-float64(m.height)/2))
		m.pos.Re = new(big.Float).Add(m.pos.Re, dx)
		m.pos.Im = new(big.Float).Sub(m.pos.Im, dy)
	}
	m.pos.Radius = new(big.Float).Quo(m.pos.Radius, big.NewFloat(factor))
	m.mu.Unlock()
	m.Record(fmt.Sprintf("zoom %g,%g x%g", x, y, factor))
	return nil
}

func (m *MockEngine) ApplyColorMapping() error {
	m.Record("recolor")
	if m.ApplyColorMapFunc != nil {
		return m.ApplyColorMapFunc()
	}
	return nil
}

func (m *MockEngine) SaveAs(format types.ImageFormat, path string, quality int) error {
	m.Record(fmt.Sprintf("save %s %s", format, path))
	if m.SaveAsFunc != nil {
		return m.SaveAsFunc(format, path, quality)
	}
	return nil
}

// Record appends an event to the engine's ordered event log.
func (m *MockEngine) Record(event string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
}

// Events returns a snapshot of the event log.
func (m *MockEngine) Events() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.events...)
}

// Renders returns the number of render passes started so far.
func (m *MockEngine) Renders() int { return int(m.renders.Load()) }

// MaxConcurrentRenders returns the highest number of simultaneously running render passes observed.
func (m *MockEngine) MaxConcurrentRenders() int { return int(m.maxActive.Load()) }

// StopRequests returns how many times `RequestStop` was called.
func (m *MockEngine) StopRequests() int { return int(m.stopRequests.Load()) }

// BlockUntil returns a `StartRenderFunc` that signals started, then blocks until release is closed or a stop is
// requested. A stopped pass returns `types.ErrRenderInterrupted`.
func (m *MockEngine) BlockUntil(started chan<- struct{}, release <-chan struct{}) func(bool) error {
	return func(bool) error {
		stop := m.StopRequested()
		if started != nil {
			started <- struct{}{}
		}
		select {
		case <-release:
			return nil
		case <-stop:
			return types.ErrRenderInterrupted
		}
	}
}

// MockGlitchEngine is a `MockEngine` that also implements `types.GlitchSolver`.
type MockGlitchEngine struct {
	*MockEngine
	// Glitches is the number of glitches `FindGlitchCenter` reports before returning ok=false.
	Glitches         int
	AddReferenceFunc func(x, y int) error

	references atomic.Int32
}

var _ types.GlitchSolver = &MockGlitchEngine{}

func (m *MockGlitchEngine) FindGlitchCenter() (int, int, bool) {
	if int(m.references.Load()) >= m.Glitches {
		return 0, 0, false
	}
	return 1, 1, true
}

func (m *MockGlitchEngine) AddReference(x, y int) error {
	m.references.Add(1)
	m.Record(fmt.Sprintf("reference %d,%d", x, y))
	if m.AddReferenceFunc != nil {
		return m.AddReferenceFunc(x, y)
	}
	return nil
}

// References returns how many reference points were added.
func (m *MockGlitchEngine) References() int { return int(m.references.Load()) }
