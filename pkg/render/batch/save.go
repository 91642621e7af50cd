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
	"strings"

	"github.com/kf2-go/kf2/pkg/render/types"
)

// defaultJPEGQuality is used when `SaveOptions.JPEGQuality` is unset.
const defaultJPEGQuality = 100

// SaveOptions names the files a frame is written to. Empty paths are skipped. A path containing `%` is a format
// template expanded with the frame number, e.g. `frame-%05d.png`.
type SaveOptions struct {
	EXR  string
	TIFF string
	PNG  string
	JPEG string
	KFR  string
	Map  string

	// JPEGQuality is the JPEG quality in [1, 100].
	// Optional: Defaults to 100.
	JPEGQuality int
}

// Any reports whether at least one output file is requested.
func (o SaveOptions) Any() bool {
	return len(o.targets()) > 0
}

// OnlyKFR reports whether the only requested output is a location file. In that case no image has to be computed.
func (o SaveOptions) OnlyKFR() bool {
	return o.KFR != "" && o.EXR == "" && o.TIFF == "" && o.PNG == "" && o.JPEG == "" && o.Map == ""
}

// Validate checks the options for consistency.
func (o SaveOptions) Validate() error {
	if o.JPEGQuality < 0 || o.JPEGQuality > 100 {
		return fmt.Errorf("JPEG quality must be within [1, 100], but got %d", o.JPEGQuality)
	}
	for _, t := range o.targets() {
		if _, err := expandName(t.path, 0); err != nil {
			return err
		}
	}
	return nil
}

func (o SaveOptions) quality() int {
	if o.JPEGQuality == 0 {
		return defaultJPEGQuality
	}
	return o.JPEGQuality
}

type saveTarget struct {
	format types.ImageFormat
	path   string
}

// targets lists the requested outputs in the order they are written.
func (o SaveOptions) targets() []saveTarget {
	all := []saveTarget{
		{types.FormatEXR, o.EXR},
		{types.FormatTIFF, o.TIFF},
		{types.FormatPNG, o.PNG},
		{types.FormatJPEG, o.JPEG},
		{types.FormatKFR, o.KFR},
		{types.FormatMap, o.Map},
	}
	targets := all[:0]
	for _, t := range all {
		if t.path != "" {
			targets = append(targets, t)
		}
	}
	return targets
}

// expandName substitutes the frame number into a templated file name.
func expandName(name string, frame int) (string, error) {
	if !strings.Contains(name, "%") {
		return name, nil
	}
	expanded := fmt.Sprintf(name, frame)
	if strings.Contains(expanded, "%!") {
		return "", fmt.Errorf("invalid file name template %q: it must take exactly one integer verb", name)
	}
	return expanded, nil
}
