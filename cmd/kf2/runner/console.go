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

package runner

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/go-logr/logr"

	logutil "github.com/kf2-go/kf2/pkg/common/observability/logging"
	"github.com/kf2-go/kf2/pkg/render/controller"
	"github.com/kf2-go/kf2/pkg/render/types"
	"github.com/kf2-go/kf2/pkg/render/workitem"
)

// renderController is the part of `controller.RenderController` the console drives.
type renderController interface {
	Submit(item types.WorkItem) error
	AwaitNextRender(ctx context.Context) (types.Outcome, error)
	StopRender(ctx context.Context) error
	TryWithLock(fn func(engine types.Engine) error) error
	Stats() controller.Stats
}

// Console is a line-oriented interactive front end. Every command that changes the view is submitted as a work item,
// so typing faster than the engine renders coalesces input and interrupts stale renders.
type Console struct {
	controller renderController
	in         io.Reader
	logger     logr.Logger

	outMu sync.Mutex
	out   io.Writer
}

// NewConsole creates a console reading commands from in and writing responses to out.
func NewConsole(rc renderController, in io.Reader, out io.Writer, logger logr.Logger) *Console {
	return &Console{
		controller: rc,
		in:         in,
		out:        out,
		logger:     logger.WithName("console"),
	}
}

// errQuit ends the command loop.
var errQuit = errors.New("quit")

// Run reads commands until the input ends, `quit` is entered, or ctx is cancelled.
func (c *Console) Run(ctx context.Context) error {
	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	c.printf("kf2 interactive mode. Type help for commands.\n")
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-readErr:
					return err
				default:
					return nil
				}
			}
			if err := c.handleCommand(ctx, line); err != nil {
				if errors.Is(err, errQuit) {
					return nil
				}
				c.printf("error: %v\n", err)
			}
		}
	}
}

func (c *Console) handleCommand(ctx context.Context, line string) error {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return nil
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]
	c.logger.V(logutil.DEBUG).Info("Console command", "command", cmd, "args", args)

	switch cmd {
	case "help":
		c.printHelp()
	case "zoom":
		return c.handleZoom(args)
	case "resize":
		return c.handleResize(args)
	case "recolor":
		return c.submit("recolor", workitem.NewCallback(workitem.CallbackSpec{
			Options: types.ItemOptions{Immediate: true},
			Apply: func(_ context.Context, engine types.Engine) (types.Effect, error) {
				return types.Effect{}, engine.ApplyColorMapping()
			},
			Done: c.reporter("recolor"),
		}))
	case "render":
		return c.submit("render", workitem.NewCallback(workitem.CallbackSpec{
			Render:          true,
			ResetReferences: len(args) > 0 && args[0] == "reset",
			Options:         types.ItemOptions{Immediate: true, Interrupts: true},
			Done:            c.reporter("render"),
		}))
	case "save":
		return c.handleSave(args)
	case "stop":
		if err := c.controller.StopRender(ctx); err != nil {
			return err
		}
		c.printf("stopped\n")
	case "wait":
		outcome, err := c.controller.AwaitNextRender(ctx)
		if err != nil {
			return err
		}
		c.printf("render %s\n", outcome)
	case "where":
		return c.handleWhere()
	case "status":
		stats := c.controller.Stats()
		c.printf("lock=%s pending=%d deferred=%d\n", stats.LockState, stats.PendingItems, stats.DeferredItems)
	case "quit", "exit":
		return errQuit
	default:
		return fmt.Errorf("unknown command %q, type help for commands", cmd)
	}
	return nil
}

// handleZoom parses `zoom X Y FACTOR [keep]`. The view recenters on (X, Y) unless `keep` is given.
func (c *Console) handleZoom(args []string) error {
	if len(args) < 3 || len(args) > 4 {
		return errors.New("usage: zoom X Y FACTOR [keep]")
	}
	vals, err := parseFloats(args[:3])
	if err != nil {
		return err
	}
	recenter := len(args) == 3 || args[3] != "keep"
	return c.submit("zoom", workitem.NewZoomRequest(vals[0], vals[1], vals[2], recenter,
		types.ItemOptions{Interrupts: true}, c.reporter("zoom")))
}

// handleResize parses `resize WIDTH HEIGHT [SCALE]`.
func (c *Console) handleResize(args []string) error {
	if len(args) < 2 || len(args) > 3 {
		return errors.New("usage: resize WIDTH HEIGHT [SCALE]")
	}
	vals, err := parseInts(args)
	if err != nil {
		return err
	}
	scale := 1
	if len(vals) == 3 {
		scale = vals[2]
	}
	return c.submit("resize", workitem.NewResizeRequest(vals[0], vals[1], scale,
		types.ItemOptions{Interrupts: true}, c.reporter("resize")))
}

// handleSave parses `save FORMAT PATH [QUALITY]`. The image is written once the lock is free, without waiting for
// a render.
func (c *Console) handleSave(args []string) error {
	if len(args) < 2 || len(args) > 3 {
		return errors.New("usage: save png|jpeg|tiff|kfr PATH [QUALITY]")
	}
	format := types.ImageFormat(strings.ToLower(args[0]))
	if format == "jpg" {
		format = types.FormatJPEG
	}
	path := args[1]
	quality := 100
	if len(args) == 3 {
		q, err := strconv.Atoi(args[2])
		if err != nil {
			return fmt.Errorf("invalid quality %q: %w", args[2], err)
		}
		quality = q
	}
	return c.submit("save", workitem.NewCallback(workitem.CallbackSpec{
		Options: types.ItemOptions{Immediate: true},
		Apply: func(_ context.Context, engine types.Engine) (types.Effect, error) {
			return types.Effect{}, engine.SaveAs(format, path, quality)
		},
		Done: c.reporter("save " + path),
	}))
}

// handleWhere prints the current view. It does not wait for the engine: while a batch or render holds the lock it
// reports that the engine is busy.
func (c *Console) handleWhere() error {
	var (
		pos  types.Position
		w, h int
	)
	err := c.controller.TryWithLock(func(engine types.Engine) error {
		pos = engine.Position()
		w, h = engine.ImageSize()
		return nil
	})
	if errors.Is(err, types.ErrLockBusy) {
		c.printf("busy\n")
		return nil
	}
	if err != nil {
		return err
	}
	c.printf("re=%s im=%s zoom=%g size=%dx%d\n", pos.Re.Text('g', 17), pos.Im.Text('g', 17), pos.Zoom(), w, h)
	return nil
}

func (c *Console) submit(what string, item types.WorkItem) error {
	if err := c.controller.Submit(item); err != nil {
		return fmt.Errorf("failed to submit %s: %w", what, err)
	}
	return nil
}

// reporter returns a `Done` callback that prints the outcome of a command.
func (c *Console) reporter(what string) func(types.Outcome, error) {
	return func(outcome types.Outcome, err error) {
		if err != nil {
			c.printf("%s: %s: %v\n", what, outcome, err)
			return
		}
		c.printf("%s: %s\n", what, outcome)
	}
}

func (c *Console) printHelp() {
	c.printf("Commands:\n" +
		"  zoom X Y FACTOR [keep]   zoom by FACTOR at pixel (X, Y)\n" +
		"  resize W H [SCALE]       change the image size\n" +
		"  render [reset]           render the current view\n" +
		"  recolor                  reapply the color mapping\n" +
		"  save FORMAT PATH [Q]     save png, jpeg, tiff or kfr\n" +
		"  stop                     stop the running render\n" +
		"  wait                     wait for the next completed render\n" +
		"  where                    show the current view\n" +
		"  status                   show the controller state\n" +
		"  quit                     leave\n")
}

func (c *Console) printf(format string, args ...any) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

func parseFloats(args []string) ([]float64, error) {
	vals := make([]float64, len(args))
	for i, a := range args {
		v, err := strconv.ParseFloat(a, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", a)
		}
		vals[i] = v
	}
	return vals, nil
}

func parseInts(args []string) ([]int, error) {
	vals := make([]int, len(args))
	for i, a := range args {
		v, err := strconv.Atoi(a)
		if err != nil {
			return nil, fmt.Errorf("invalid integer %q", a)
		}
		vals[i] = v
	}
	return vals, nil
}
