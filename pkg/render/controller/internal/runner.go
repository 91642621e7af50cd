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

package internal

import (
	"errors"
	"fmt"

	"github.com/go-logr/logr"
	"k8s.io/utils/clock"

	logutil "github.com/kf2-go/kf2/pkg/common/observability/logging"
	"github.com/kf2-go/kf2/pkg/render/lock"
	"github.com/kf2-go/kf2/pkg/render/metrics"
	"github.com/kf2-go/kf2/pkg/render/types"
)

// errRenderNotStarted is reported if the engine panics before a render pass could begin.
var errRenderNotStarted = errors.New("render pass did not start")

// Runner executes render passes. Each call to `Run` owns the lock guard it is given and releases it when done.
type Runner struct {
	engine        types.Engine
	notifier      *Notifier
	clock         clock.PassiveClock
	maxReferences int
	logger        logr.Logger
}

// NewRunner creates a runner. maxReferences bounds glitch solving; values below 2 disable it.
func NewRunner(
	engine types.Engine,
	notifier *Notifier,
	clock clock.PassiveClock,
	maxReferences int,
	logger logr.Logger,
) *Runner {
	return &Runner{
		engine:        engine,
		notifier:      notifier,
		clock:         clock,
		maxReferences: maxReferences,
		logger:        logger.WithName("runner"),
	}
}

// Run performs one render pass for batch while holding guard.
//
// Cleanup is ordered: the physical-finish event fires first, then the outcome is delivered (still under the lock, so
// deliveries stay in batch order), and only then is the lock released.
func (r *Runner) Run(guard *lock.Guard, resetReferences bool, batch []*Item) {
	outcome, err := types.OutcomeFailed, fmt.Errorf("%w: %w", types.ErrEngineFault, errRenderNotStarted)
	defer guard.Release()
	defer func() { r.notifier.Deliver(outcome, err, batch) }()

	r.engine.ClearStop()
	// A stop latched on the guard before this point is forwarded to the engine right here.
	guard.BeginRender(r.engine.RequestStop)
	metrics.IncActiveRenders()
	start := r.clock.Now()
	defer func() {
		guard.EndRender()
		metrics.DecActiveRenders()
		metrics.RecordRender(outcome.String(), r.clock.Since(start))
	}()

	r.logger.V(logutil.DEBUG).Info("Render started", "resetReferences", resetReferences, "batchSize", len(batch))
	outcome, err = r.render(guard, resetReferences)
	if outcome == types.OutcomeFailed {
		r.logger.Error(err, "Render failed", "duration", r.clock.Since(start))
		return
	}
	r.logger.V(logutil.DEBUG).Info("Render finished", "outcome", outcome, "duration", r.clock.Since(start))
}

// render runs the initial pass and, if the engine supports it, the glitch solving passes.
func (r *Runner) render(guard *lock.Guard, resetReferences bool) (types.Outcome, error) {
	err := r.pass(func() error { return r.engine.StartRender(resetReferences) })
	if err != nil || guard.StopRequested() {
		return classify(guard, err)
	}

	solver, ok := r.engine.(types.GlitchSolver)
	if !ok || r.maxReferences < 2 {
		return types.OutcomeCompleted, nil
	}
	for ref := 2; ref < r.maxReferences; ref++ {
		// References inserted so far are kept; only the remaining retries are abandoned.
		if guard.StopRequested() {
			return classify(guard, nil)
		}

		var (
			x, y  int
			found bool
		)
		if err := r.pass(func() error {
			x, y, found = solver.FindGlitchCenter()
			return nil
		}); err != nil {
			return classify(guard, err)
		}
		if !found {
			break
		}

		r.logger.V(logutil.VERBOSE).Info("Solving glitch", "reference", ref, "x", x, "y", y)
		if err := r.pass(func() error { return solver.AddReference(x, y) }); err != nil {
			return classify(guard, err)
		}
		metrics.RecordReferenceAdded()
	}
	if guard.StopRequested() {
		return classify(guard, nil)
	}
	return types.OutcomeCompleted, nil
}

// pass runs one engine call, converting a panic into an error.
func (r *Runner) pass(fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("engine panicked: %v", p)
		}
	}()
	return fn()
}

// classify maps the result of an engine call onto a batch outcome.
func classify(guard *lock.Guard, err error) (types.Outcome, error) {
	switch {
	case errors.Is(err, types.ErrRenderInterrupted):
		return types.OutcomeStopped, err
	case err != nil:
		return types.OutcomeFailed, fmt.Errorf("%w: %w", types.ErrEngineFault, err)
	case guard.StopRequested():
		return types.OutcomeStopped, types.ErrRenderInterrupted
	default:
		return types.OutcomeCompleted, nil
	}
}
