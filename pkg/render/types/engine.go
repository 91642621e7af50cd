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
	"fmt"
	"math/big"
	"strings"
)

// ImageFormat identifies an export format understood by `Engine.SaveAs`.
type ImageFormat string

const (
	FormatEXR  ImageFormat = "exr"
	FormatTIFF ImageFormat = "tiff"
	FormatPNG  ImageFormat = "png"
	FormatJPEG ImageFormat = "jpeg"
	// FormatKFR is the plain-text location/parameter format.
	FormatKFR ImageFormat = "kfr"
	// FormatMap is the raw iteration-count map.
	FormatMap ImageFormat = "kfb"
)

// Position is a point in the complex plane together with the view radius around it. All three components are kept at
// arbitrary precision; deep zooms routinely exceed the range of float64.
type Position struct {
	Re     *big.Float
	Im     *big.Float
	Radius *big.Float
}

// ParsePosition parses decimal strings into a `Position`. Precision is derived from the longest input, with a floor of
// 64 bits.
func ParsePosition(re, im, radius string) (Position, error) {
	prec := uint(64)
	if n := uint(max(len(re), len(im), len(radius)) * 4); n > prec {
		prec = n
	}
	parse := func(name, s string) (*big.Float, error) {
		f, _, err := big.ParseFloat(strings.TrimSpace(s), 10, prec, big.ToNearestEven)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", name, s, err)
		}
		return f, nil
	}
	var (
		p   Position
		err error
	)
	if p.Re, err = parse("real part", re); err != nil {
		return Position{}, err
	}
	if p.Im, err = parse("imaginary part", im); err != nil {
		return Position{}, err
	}
	if p.Radius, err = parse("radius", radius); err != nil {
		return Position{}, err
	}
	if p.Radius.Sign() <= 0 {
		return Position{}, fmt.Errorf("radius must be positive, got %s", radius)
	}
	return p, nil
}

// Clone returns a deep copy of the position.
func (p Position) Clone() Position {
	cp := func(f *big.Float) *big.Float {
		if f == nil {
			return nil
		}
		return new(big.Float).Copy(f)
	}
	return Position{Re: cp(p.Re), Im: cp(p.Im), Radius: cp(p.Radius)}
}

// Zoom returns the magnification factor of the position, defined as 2/radius.
func (p Position) Zoom() float64 {
	if p.Radius == nil || p.Radius.Sign() <= 0 {
		return 0
	}
	z, _ := new(big.Float).Quo(big.NewFloat(2), p.Radius).Float64()
	return z
}

// Engine is the contract consumed from the external, stateful fractal engine.
//
// Apart from `RequestStop`, which may be called from any goroutine, every method reads or mutates engine state and must
// only be invoked by the current holder of the render lock.
type Engine interface {
	// StartRender performs one synchronous, blocking render pass. It polls the engine's stop flag and returns early, in
	// an internally consistent state, once `RequestStop` has been called. An early return may be reported either as nil
	// or as an error wrapping `ErrRenderInterrupted`.
	StartRender(resetReferences bool) error
	// RequestStop asynchronously asks the in-flight render pass to end early.
	RequestStop()
	// ClearStop lowers the stop flag before a new pass begins.
	ClearStop()

	ImageSize() (width, height int)
	SetImageSize(width, height int) error

	Position() Position
	SetPosition(pos Position) error
	// ZoomAt zooms by factor around pixel (x, y). When recenter is true the pixel becomes the new centre of the view.
	ZoomAt(x, y, factor float64, recenter bool) error

	// ApplyColorMapping recolors the last computed buffer without recomputing it.
	ApplyColorMapping() error
	// SaveAs exports the current state. Quality is only meaningful for lossy formats.
	SaveAs(format ImageFormat, path string, quality int) error
}

// GlitchSolver is implemented by engines that can detect glitched regions after a pass and repair them by inserting
// additional reference points.
type GlitchSolver interface {
	// FindGlitchCenter returns the pixel at the centre of the largest remaining glitch, if any.
	FindGlitchCenter() (x, y int, ok bool)
	// AddReference inserts a reference point at the given pixel and re-renders the affected pixels. Like
	// `Engine.StartRender`, it honors the stop flag.
	AddReference(x, y int) error
}
