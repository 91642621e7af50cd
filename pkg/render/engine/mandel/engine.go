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
	"fmt"
	"image"
	"image/color"
	"math/big"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/go-logr/logr"

	logutil "github.com/kf2-go/kf2/pkg/common/observability/logging"
	"github.com/kf2-go/kf2/pkg/render/types"
)

const (
	defaultIterationLimit = 1024
	// maxIterationLimit caps `FixIterationLimit`.
	maxIterationLimit = 1 << 24
)

// Engine renders the Mandelbrot set into an RGBA image.
//
// Engine methods are not meant to be called concurrently with each other, except `RequestStop` which may be called at
// any time. Callers serialize access through the render lock.
type Engine struct {
	workers int
	logger  logr.Logger

	mu              sync.Mutex
	width, height   int
	pos             types.Position
	iterationLimit  int
	jitterSeed      int64
	inhibitColoring bool
	palette         []color.RGBA
	counts          []int32
	img             *image.RGBA

	stop atomic.Bool
}

var _ types.Engine = &Engine{}

// Option configures an `Engine`.
type Option func(*Engine)

// WithWorkers sets the number of row workers. Defaults to GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		e.workers = n
	}
}

// WithIterationLimit sets the initial iteration limit.
func WithIterationLimit(n int) Option {
	return func(e *Engine) {
		e.iterationLimit = n
	}
}

// New creates an engine showing the whole set in a width by height image.
func New(width, height int, logger logr.Logger, opts ...Option) (*Engine, error) {
	e := &Engine{
		workers:        runtime.GOMAXPROCS(0),
		logger:         logger.WithName("mandel-engine"),
		iterationLimit: defaultIterationLimit,
		palette:        colorWheel(),
		pos: types.Position{
			Re:     big.NewFloat(-0.5),
			Im:     big.NewFloat(0),
			Radius: big.NewFloat(2),
		},
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.workers < 1 {
		return nil, fmt.Errorf("workers must be positive, but got %d", e.workers)
	}
	if err := validateIterationLimit(e.iterationLimit); err != nil {
		return nil, err
	}
	if err := e.SetImageSize(width, height); err != nil {
		return nil, err
	}
	return e, nil
}

// view is a consistent snapshot of the parameters a render pass reads.
type view struct {
	width, height int
	re, im        float64
	scale         float64
	limit         int
	seed          int64
}

func (e *Engine) snapshot() view {
	e.mu.Lock()
	defer e.mu.Unlock()
	re, _ := e.pos.Re.Float64()
	im, _ := e.pos.Im.Float64()
	radius, _ := e.pos.Radius.Float64()
	return view{
		width:  e.width,
		height: e.height,
		re:     re,
		im:     im,
		scale:  2 * radius / float64(e.height),
		limit:  e.iterationLimit,
		seed:   e.jitterSeed,
	}
}

// StartRender computes escape counts for every pixel. It returns `types.ErrRenderInterrupted` if a stop was requested
// before all rows were done; the image then holds a partial render. The float64 engine has no reference orbits, so
// resetReferences has no effect.
func (e *Engine) StartRender(resetReferences bool) error {
	v := e.snapshot()
	e.logger.V(logutil.DEBUG).Info("Render started", "width", v.width, "height", v.height, "limit", v.limit,
		"resetReferences", resetReferences)

	counts := make([]int32, v.width*v.height)
	rows := make(chan int, v.height)
	for y := range v.height {
		rows <- y
	}
	close(rows)

	var wg sync.WaitGroup
	for range min(e.workers, v.height) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for y := range rows {
				if e.stop.Load() {
					return
				}
				v.renderRow(y, counts[y*v.width:(y+1)*v.width])
			}
		}()
	}
	wg.Wait()

	e.mu.Lock()
	defer e.mu.Unlock()
	if len(counts) == len(e.counts) {
		e.counts = counts
	}
	if e.stop.Load() {
		return types.ErrRenderInterrupted
	}
	if !e.inhibitColoring {
		e.colorize()
	}
	return nil
}

func (v view) renderRow(y int, out []int32) {
	for x := range out {
		dx, dy := 0.5, 0.5
		if v.seed != 0 {
			dx, dy = jitter(v.seed, x, y)
		}
		cre := v.re + (float64(x)+dx-float64(v.width)/2)*v.scale
		cim := v.im - (float64(y)+dy-float64(v.height)/2)*v.scale
		out[x] = escapeCount(cre, cim, v.limit)
	}
}

// escapeCount returns the iteration at which the orbit of c escapes, or 0 if it does not escape within limit.
func escapeCount(cre, cim float64, limit int) int32 {
	var zr, zi float64
	for n := 1; n <= limit; n++ {
		zr, zi = zr*zr-zi*zi+cre, 2*zr*zi+cim
		if zr*zr+zi*zi > 4 {
			return int32(n)
		}
	}
	return 0
}

// jitter returns a deterministic sub-pixel offset in [0, 1) for the pixel.
func jitter(seed int64, x, y int) (float64, float64) {
	h := splitmix(uint64(seed) ^ uint64(x)<<32 ^ uint64(y))
	return float64(h>>40) / (1 << 24), float64(h&(1<<24-1)) / (1 << 24)
}

func splitmix(x uint64) uint64 {
	x += 0x9e3779b97f4a7c15
	x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
	x = (x ^ (x >> 27)) * 0x94d049bb133111eb
	return x ^ (x >> 31)
}

// RequestStop asks the running render to stop. It is safe to call from any goroutine.
func (e *Engine) RequestStop() {
	e.stop.Store(true)
}

// ClearStop lowers the stop flag before a new render.
func (e *Engine) ClearStop() {
	e.stop.Store(false)
}

func (e *Engine) ImageSize() (int, int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.width, e.height
}

// SetImageSize resizes the image. The previous render is discarded.
func (e *Engine) SetImageSize(width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("image size must be positive, but got %dx%d", width, height)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.width, e.height = width, height
	e.counts = make([]int32, width*height)
	e.img = image.NewRGBA(image.Rect(0, 0, width, height))
	return nil
}

func (e *Engine) Position() types.Position {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pos.Clone()
}

func (e *Engine) SetPosition(pos types.Position) error {
	if pos.Re == nil || pos.Im == nil || pos.Radius == nil || pos.Radius.Sign() <= 0 {
		return fmt.Errorf("invalid position %+v", pos)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pos = pos.Clone()
	return nil
}

// ZoomAt divides the radius by factor. With recenter, the point under pixel (x, y) becomes the new centre; otherwise
// the point under (x, y) stays fixed on screen.
func (e *Engine) ZoomAt(x, y, factor float64, recenter bool) error {
	if factor <= 0 {
		return fmt.Errorf("zoom factor must be positive, but got %v", factor)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	// Offset of (x, y) from the centre, in the current fractal units.
	scale := new(big.Float).Quo(new(big.Float).Mul(e.pos.Radius, big.NewFloat(2)), big.NewFloat(float64(e.height)))
	dx := new(big.Float).Mul(scale, big.NewFloat(x-float64(e.width)/2))
	dy := new(big.Float).Mul(scale, big.NewFloat(y-float64(e.height)/2))
	if !recenter {
		keep := big.NewFloat(1 / factor)
		dx.Sub(dx, new(big.Float).Mul(dx, keep))
		dy.Sub(dy, new(big.Float).Mul(dy, keep))
	}
	e.pos.Re = new(big.Float).Add(e.pos.Re, dx)
	e.pos.Im = new(big.Float).Sub(e.pos.Im, dy)
	e.pos.Radius = new(big.Float).Quo(e.pos.Radius, big.NewFloat(factor))
	return nil
}

// IterationLimit returns the current iteration limit.
func (e *Engine) IterationLimit() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.iterationLimit
}

func (e *Engine) SetIterationLimit(n int) error {
	if err := validateIterationLimit(n); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.iterationLimit = n
	return nil
}

// FixIterationLimit doubles the iteration limit when the last render had escaping pixels in the top half of the
// range, since those suggest that more detail lies just beyond the limit.
func (e *Engine) FixIterationLimit() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var highest int32
	for _, c := range e.counts {
		highest = max(highest, c)
	}
	if int(highest)*2 > e.iterationLimit && e.iterationLimit < maxIterationLimit {
		e.iterationLimit = min(e.iterationLimit*2, maxIterationLimit)
		e.logger.V(logutil.VERBOSE).Info("Raised iteration limit", "limit", e.iterationLimit, "highest", highest)
	}
	return nil
}

func (e *Engine) JitterSeed() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.jitterSeed
}

func (e *Engine) SetJitterSeed(seed int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.jitterSeed = seed
}

// SetInhibitColoring controls whether `StartRender` colors the image itself.
func (e *Engine) SetInhibitColoring(inhibit bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.inhibitColoring = inhibit
}

// ApplyColorMapping colors the image from the last computed escape counts.
func (e *Engine) ApplyColorMapping() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.colorize()
	return nil
}

// Image returns a copy of the current image.
func (e *Engine) Image() *image.RGBA {
	e.mu.Lock()
	defer e.mu.Unlock()
	img := image.NewRGBA(e.img.Rect)
	copy(img.Pix, e.img.Pix)
	return img
}

// EscapeCount returns the escape count of the pixel at (x, y) from the last render; 0 means the point did not escape.
func (e *Engine) EscapeCount(x, y int) int32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.counts[y*e.width+x]
}

func validateIterationLimit(n int) error {
	if n < 1 || n > maxIterationLimit {
		return fmt.Errorf("iteration limit must be within [1, %d], but got %d", maxIterationLimit, n)
	}
	return nil
}
