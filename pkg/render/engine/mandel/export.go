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

package mandel

import (
	"bufio"
	"fmt"
	"image/jpeg"
	"image/png"
	"io"
	"math/big"
	"os"

	"go.uber.org/multierr"
	"golang.org/x/image/tiff"

	"github.com/kf2-go/kf2/pkg/render/types"
)

// SaveAs writes the current image (or, for KFR, the current location) to path.
func (e *Engine) SaveAs(format types.ImageFormat, path string, quality int) (err error) {
	var encode func(w io.Writer) error
	switch format {
	case types.FormatPNG:
		img := e.Image()
		encode = func(w io.Writer) error { return png.Encode(w, img) }
	case types.FormatJPEG:
		img := e.Image()
		encode = func(w io.Writer) error { return jpeg.Encode(w, img, &jpeg.Options{Quality: quality}) }
	case types.FormatTIFF:
		img := e.Image()
		encode = func(w io.Writer) error {
			return tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate, Predictor: true})
		}
	case types.FormatKFR:
		loc := e.location()
		encode = loc.write
	default:
		return fmt.Errorf("%w: %s", types.ErrUnsupportedFormat, format)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s file: %w", format, err)
	}
	defer multierr.AppendInvoke(&err, multierr.Close(f))

	w := bufio.NewWriter(f)
	if err := encode(w); err != nil {
		return fmt.Errorf("failed to encode %s: %w", format, err)
	}
	return w.Flush()
}

// kfrLocation is the content of a KFR location file.
type kfrLocation struct {
	re, im, zoom string
	iterations   int
	width        int
	height       int
}

func (e *Engine) location() kfrLocation {
	e.mu.Lock()
	defer e.mu.Unlock()
	zoom := new(big.Float).Quo(big.NewFloat(2), e.pos.Radius)
	return kfrLocation{
		re:         e.pos.Re.Text('g', -1),
		im:         e.pos.Im.Text('g', -1),
		zoom:       zoom.Text('g', 10),
		iterations: e.iterationLimit,
		width:      e.width,
		height:     e.height,
	}
}

func (l kfrLocation) write(w io.Writer) error {
	_, err := fmt.Fprintf(w, "Re: %s\r\nIm: %s\r\nZoom: %s\r\nIterations: %d\r\nImageWidth: %d\r\nImageHeight: %d\r\n",
		l.re, l.im, l.zoom, l.iterations, l.width, l.height)
	return err
}
