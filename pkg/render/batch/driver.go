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

package batch

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/go-logr/logr"
	"go.uber.org/multierr"

	logutil "github.com/kf2-go/kf2/pkg/common/observability/logging"
	"github.com/kf2-go/kf2/pkg/render/metrics"
	"github.com/kf2-go/kf2/pkg/render/types"
)

const (
	// defaultZoomSize is the factor the radius grows by between two frames of a sequence.
	defaultZoomSize = 2.0
	// minSequenceZoom ends a zoom-out sequence once the view is this far out.
	minSequenceZoom = 0.001
)

// Controller is the subset of `controller.RenderController` the driver needs.
type Controller interface {
	// Render requests a render pass and waits for its outcome.
	Render(ctx context.Context, resetReferences bool) (types.Outcome, error)
	// WithLock runs fn with exclusive access to the engine.
	WithLock(ctx context.Context, fn func(engine types.Engine) error) error
}

// IterationFixer is implemented by engines that can raise their iteration limit to suit the current view.
type IterationFixer interface {
	FixIterationLimit() error
}

// IterationLimiter is implemented by engines with a configurable iteration limit.
type IterationLimiter interface {
	SetIterationLimit(n int) error
}

// Jitterer is implemented by engines that jitter sample positions from a seed. A zero seed disables jitter.
type Jitterer interface {
	JitterSeed() int64
	SetJitterSeed(seed int64)
}

// ColoringInhibitor is implemented by engines that can skip coloring while rendering, leaving it to an explicit
// `ApplyColorMapping`.
type ColoringInhibitor interface {
	SetInhibitColoring(inhibit bool)
}

// Driver renders and saves frames through a `Controller`.
type Driver struct {
	controller Controller
	zoomSize   float64
	logger     logr.Logger
}

// Option configures a `Driver`.
type Option func(*Driver)

// WithZoomSize sets the factor the radius is multiplied by between frames. Values above 1 zoom out.
func WithZoomSize(zoomSize float64) Option {
	return func(d *Driver) {
		d.zoomSize = zoomSize
	}
}

// NewDriver creates a batch driver.
func NewDriver(controller Controller, logger logr.Logger, opts ...Option) (*Driver, error) {
	if controller == nil {
		return nil, errors.New("controller cannot be nil")
	}
	d := &Driver{
		controller: controller,
		zoomSize:   defaultZoomSize,
		logger:     logger.WithName("batch-driver"),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.zoomSize <= 0 {
		return nil, fmt.Errorf("zoom size must be positive, but got %v", d.zoomSize)
	}
	return d, nil
}

// RenderFrame renders frame and saves it as opts requests.
//
// Frame 0 is rendered at the engine's current position. Every later frame first advances the jitter seed, fixes the
// iteration limit, and multiplies the radius by the zoom size. When only a location file is requested, nothing is
// rendered.
func (d *Driver) RenderFrame(ctx context.Context, frame int, opts SaveOptions) error {
	onlyKFR := opts.OnlyKFR()
	logger := d.logger.WithValues("frame", frame)

	err := d.controller.WithLock(ctx, func(engine types.Engine) error {
		if ci, ok := engine.(ColoringInhibitor); ok {
			ci.SetInhibitColoring(true)
		}
		if frame == 0 {
			return nil
		}
		if j, ok := engine.(Jitterer); ok {
			if seed := j.JitterSeed(); seed != 0 {
				j.SetJitterSeed(seed + 1)
			}
		}
		if f, ok := engine.(IterationFixer); ok && !onlyKFR {
			if err := f.FixIterationLimit(); err != nil {
				return fmt.Errorf("failed to fix iteration limit: %w", err)
			}
		}
		pos := engine.Position()
		pos.Radius.Mul(pos.Radius, big.NewFloat(d.zoomSize))
		return engine.SetPosition(pos)
	})
	if err != nil {
		metrics.RecordFrame(metrics.FrameResultFailed)
		return fmt.Errorf("failed to prepare frame %d: %w", frame, err)
	}

	if !onlyKFR {
		logger.V(logutil.VERBOSE).Info("Rendering frame")
		outcome, err := d.controller.Render(ctx, frame > 0)
		if outcome != types.OutcomeCompleted {
			if err == nil {
				err = fmt.Errorf("render ended with outcome %s", outcome)
			}
			metrics.RecordFrame(metrics.FrameResultFailed)
			return fmt.Errorf("failed to render frame %d: %w", frame, err)
		}
	}

	if err := d.SaveFrame(ctx, frame, opts); err != nil {
		metrics.RecordFrame(metrics.FrameResultFailed)
		return err
	}
	metrics.RecordFrame(metrics.FrameResultSaved)
	logger.V(logutil.DEFAULT).Info("Frame done")
	return nil
}

// SaveFrame colors the image (unless only a location file is requested) and writes every requested output. A failed
// output does not prevent the others from being written; all failures are returned together.
func (d *Driver) SaveFrame(ctx context.Context, frame int, opts SaveOptions) error {
	onlyKFR := opts.OnlyKFR()
	logger := d.logger.WithValues("frame", frame)

	return d.controller.WithLock(ctx, func(engine types.Engine) error {
		if !onlyKFR {
			if ci, ok := engine.(ColoringInhibitor); ok {
				ci.SetInhibitColoring(false)
			}
			if err := engine.ApplyColorMapping(); err != nil {
				return fmt.Errorf("failed to apply color mapping to frame %d: %w", frame, err)
			}
		}

		var errs error
		for _, t := range opts.targets() {
			path, err := expandName(t.path, frame)
			if err != nil {
				errs = multierr.Append(errs, err)
				continue
			}
			if err := engine.SaveAs(t.format, path, opts.quality()); err != nil {
				errs = multierr.Append(errs, fmt.Errorf("failed to save frame %d as %s to %q: %w", frame, t.format,
					path, err))
				continue
			}
			logger.V(logutil.VERBOSE).Info("Saved frame", "format", t.format, "path", path)
		}
		return errs
	})
}

// RenderSequence renders up to frames frames, zooming out between them, and stops early once the zoom drops below
// 0.001. A non-positive frames renders frame 0 only. It returns the number of frames written.
func (d *Driver) RenderSequence(ctx context.Context, frames int, opts SaveOptions) (int, error) {
	if frames <= 0 {
		if err := d.RenderFrame(ctx, 0, opts); err != nil {
			return 0, err
		}
		return 1, nil
	}

	for frame := range frames {
		if err := d.RenderFrame(ctx, frame, opts); err != nil {
			return frame, err
		}
		var zoom float64
		if err := d.controller.WithLock(ctx, func(engine types.Engine) error {
			zoom = engine.Position().Zoom()
			return nil
		}); err != nil {
			return frame + 1, err
		}
		if zoom < minSequenceZoom {
			d.logger.Info("Sequence reached minimum zoom", "frames", frame+1, "zoom", zoom)
			return frame + 1, nil
		}
	}
	return frames, nil
}
