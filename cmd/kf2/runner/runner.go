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
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"go.uber.org/multierr"
	ctrl "sigs.k8s.io/controller-runtime"
	ctrlmetrics "sigs.k8s.io/controller-runtime/pkg/metrics"

	"github.com/kf2-go/kf2/internal/runnable"
	kf2tls "github.com/kf2-go/kf2/internal/tls"
	logutil "github.com/kf2-go/kf2/pkg/common/observability/logging"
	"github.com/kf2-go/kf2/pkg/common/observability/profiling"
	"github.com/kf2-go/kf2/pkg/render/batch"
	"github.com/kf2-go/kf2/pkg/render/controller"
	"github.com/kf2-go/kf2/pkg/render/engine/mandel"
	"github.com/kf2-go/kf2/pkg/render/metrics"
	"github.com/kf2-go/kf2/pkg/render/types"
	"github.com/kf2-go/kf2/version"
)

var setupLog = ctrl.Log.WithName("setup")

func NewRunner() *Runner {
	return &Runner{
		executableName: "kf2",
		stdin:          os.Stdin,
		stdout:         os.Stdout,
	}
}

// Runner is used to run kf2 in batch or interactive mode.
type Runner struct {
	executableName string
	stdin          io.Reader
	stdout         io.Writer
}

// WithExecutableName sets the name of the executable containing the runner.
// The name is used in the version log upon startup and is otherwise opaque.
func (r *Runner) WithExecutableName(exeName string) *Runner {
	r.executableName = exeName
	return r
}

// WithIO replaces the console input and output.
func (r *Runner) WithIO(in io.Reader, out io.Writer) *Runner {
	r.stdin = in
	r.stdout = out
	return r
}

// Run parses the command line and runs until the work is done or ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	opts := NewOptions()
	opts.AddFlags(pflag.CommandLine)
	pflag.Parse()
	if err := opts.Complete(); err != nil {
		return err
	}
	if err := opts.Validate(); err != nil {
		setupLog.Error(err, "Failed to validate flags")
		return err
	}
	if opts.Version {
		fmt.Fprintln(r.stdout, r.executableName, version.String())
		return nil
	}
	logutil.InitLogging(&opts.ZapOptions)

	// Print all flag values
	flags := make(map[string]any)
	pflag.VisitAll(func(f *pflag.Flag) {
		flags[f.Name] = f.Value
	})
	setupLog.Info("Flags processed", "flags", flags)

	return r.run(ctx, opts)
}

func (r *Runner) run(ctx context.Context, opts *Options) (err error) {
	setupLog.Info(r.executableName+" build", "commit-sha", version.CommitSHA, "build-ref", version.BuildRef)

	cfg, err := controller.LoadConfigFromEnv(setupLog)
	if err != nil {
		setupLog.Error(err, "Failed to load render controller config")
		return err
	}

	var loc *batch.Location
	if opts.LoadLocation != "" {
		if loc, err = batch.LoadLocation(opts.LoadLocation); err != nil {
			setupLog.Error(err, "Failed to load location", "path", opts.LoadLocation)
			return err
		}
	}

	engine, err := newEngine(opts)
	if err != nil {
		setupLog.Error(err, "Failed to create engine")
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	metrics.Register()
	if opts.MetricsPort > 0 {
		var serverDone <-chan error
		serverDone, err = startMetricsServer(ctx, opts)
		if err != nil {
			setupLog.Error(err, "Failed to start metrics server")
			return err
		}
		defer func() {
			cancel()
			multierr.AppendInto(&err, <-serverDone)
		}()
	}

	rc, err := controller.NewRenderController(ctx, *cfg, engine, ctrl.Log.WithName("render"))
	if err != nil {
		setupLog.Error(err, "Failed to create render controller")
		return err
	}
	defer func() {
		cancel()
		<-rc.Done()
		setupLog.Info("Render controller terminated")
	}()

	if err := rc.WithLock(ctx, func(e types.Engine) error {
		if loc != nil {
			return loc.Apply(e)
		}
		return e.SetImageSize(opts.Width*opts.Scale, opts.Height*opts.Scale)
	}); err != nil {
		setupLog.Error(err, "Failed to set up engine")
		return err
	}

	if !opts.BatchMode() {
		setupLog.Info("Starting interactive console")
		return NewConsole(rc, r.stdin, r.stdout, ctrl.Log).Run(ctx)
	}

	var driverOpts []batch.Option
	if loc != nil {
		driverOpts = loc.DriverOptions()
	}
	driver, err := batch.NewDriver(rc, ctrl.Log, driverOpts...)
	if err != nil {
		return err
	}
	start := time.Now()
	frames, err := driver.RenderSequence(ctx, opts.ZoomOut, opts.SaveOptions())
	if err != nil {
		setupLog.Error(err, "Batch render failed", "framesDone", frames)
		return err
	}
	setupLog.Info("Batch render done", "frames", frames, "elapsed", time.Since(start))
	return nil
}

func newEngine(opts *Options) (*mandel.Engine, error) {
	var engineOpts []mandel.Option
	if opts.Workers > 0 {
		engineOpts = append(engineOpts, mandel.WithWorkers(opts.Workers))
	}
	if opts.Iterations > 0 {
		engineOpts = append(engineOpts, mandel.WithIterationLimit(opts.Iterations))
	}
	return mandel.New(opts.Width*opts.Scale, opts.Height*opts.Scale, ctrl.Log.WithName("engine"), engineOpts...)
}

// startMetricsServer serves the controller-runtime registry (and pprof) until ctx ends. The returned channel yields
// the server's exit error.
func startMetricsServer(ctx context.Context, opts *Options) (<-chan error, error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(ctrlmetrics.Registry, promhttp.HandlerOpts{}))
	if opts.EnablePprof {
		setupLog.Info("Setting pprof handlers")
		profiling.SetupPprofHandlers(mux)
	}

	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	if opts.SecureServing {
		cert, err := kf2tls.CreateSelfSignedTLSCertificate(setupLog, "localhost", "127.0.0.1")
		if err != nil {
			return nil, fmt.Errorf("failed to create self signed certificate - %w", err)
		}
		srv.TLSConfig = &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}
	}

	lis, err := runnable.Listen(opts.MetricsPort)
	if err != nil {
		return nil, err
	}
	done := make(chan error, 1)
	go func() {
		done <- runnable.HTTPServer("metrics", srv, lis).Start(ctx)
	}()
	return done, nil
}
