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
	"fmt"
	"os"

	"sigs.k8s.io/yaml"

	"github.com/kf2-go/kf2/pkg/render/types"
)

const (
	defaultLocationWidth  = 640
	defaultLocationHeight = 360
)

// Location describes a view of the fractal and the image to render it into.
//
// Coordinates are decimal strings so deep zooms keep their full precision. Either `Radius` or `Zoom` may be given;
// `Radius` wins when both are set.
//
// Example:
//
//	re: "-0.743643887037151"
//	im: "0.131825904205330"
//	radius: "1e-10"
//	width: 1920
//	height: 1080
//	iterations: 20000
type Location struct {
	Re     string  `json:"re"`
	Im     string  `json:"im"`
	Radius string  `json:"radius,omitempty"`
	Zoom   float64 `json:"zoom,omitempty"`

	Width  int `json:"width,omitempty"`
	Height int `json:"height,omitempty"`
	// Scale supersamples the image; the engine renders Width*Scale by Height*Scale pixels.
	Scale int `json:"scale,omitempty"`

	Iterations int     `json:"iterations,omitempty"`
	JitterSeed int64   `json:"jitterSeed,omitempty"`
	ZoomSize   float64 `json:"zoomSize,omitempty"`
}

// LoadLocation reads a location file.
func LoadLocation(path string) (*Location, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read location file: %w", err)
	}
	loc, err := ParseLocation(data)
	if err != nil {
		return nil, fmt.Errorf("invalid location file %q: %w", path, err)
	}
	return loc, nil
}

// ParseLocation decodes a YAML (or JSON) location, rejecting unknown fields, and applies defaults.
func ParseLocation(data []byte) (*Location, error) {
	loc := &Location{}
	if err := yaml.UnmarshalStrict(data, loc); err != nil {
		return nil, err
	}
	loc.applyDefaults()
	if err := loc.validate(); err != nil {
		return nil, err
	}
	return loc, nil
}

func (l *Location) applyDefaults() {
	if l.Re == "" {
		l.Re = "0"
	}
	if l.Im == "" {
		l.Im = "0"
	}
	if l.Radius == "" && l.Zoom == 0 {
		l.Radius = "2"
	}
	if l.Width == 0 {
		l.Width = defaultLocationWidth
	}
	if l.Height == 0 {
		l.Height = defaultLocationHeight
	}
	if l.Scale == 0 {
		l.Scale = 1
	}
}

func (l *Location) validate() error {
	if l.Width < 0 || l.Height < 0 || l.Scale < 0 {
		return fmt.Errorf("image size must be positive, but got %dx%d scale %d", l.Width, l.Height, l.Scale)
	}
	if l.Iterations < 0 {
		return fmt.Errorf("iterations cannot be negative, but got %d", l.Iterations)
	}
	if l.ZoomSize < 0 {
		return fmt.Errorf("zoomSize cannot be negative, but got %v", l.ZoomSize)
	}
	_, err := l.Position()
	return err
}

// Position returns the view centre and radius.
func (l *Location) Position() (types.Position, error) {
	radius := l.Radius
	if radius == "" {
		radius = fmt.Sprintf("%g", 2/l.Zoom)
	}
	return types.ParsePosition(l.Re, l.Im, radius)
}

// Apply configures engine for this location. It must run under the render lock.
func (l *Location) Apply(engine types.Engine) error {
	pos, err := l.Position()
	if err != nil {
		return err
	}
	if err := engine.SetImageSize(l.Width*l.Scale, l.Height*l.Scale); err != nil {
		return fmt.Errorf("failed to set image size: %w", err)
	}
	if err := engine.SetPosition(pos); err != nil {
		return fmt.Errorf("failed to set position: %w", err)
	}
	if l.Iterations > 0 {
		if il, ok := engine.(IterationLimiter); ok {
			if err := il.SetIterationLimit(l.Iterations); err != nil {
				return fmt.Errorf("failed to set iteration limit: %w", err)
			}
		}
	}
	if j, ok := engine.(Jitterer); ok {
		j.SetJitterSeed(l.JitterSeed)
	}
	return nil
}

// DriverOptions returns the driver options this location implies.
func (l *Location) DriverOptions() []Option {
	if l.ZoomSize > 0 {
		return []Option{WithZoomSize(l.ZoomSize)}
	}
	return nil
}
