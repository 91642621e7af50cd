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
	"errors"
	"flag"
	"fmt"

	"github.com/spf13/pflag"
	uberzap "go.uber.org/zap"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	"github.com/kf2-go/kf2/pkg/common/observability/logging"
	"github.com/kf2-go/kf2/pkg/render/batch"
)

const (
	DefaultWidth        = 640
	DefaultHeight       = 360
	DefaultMetricsPort  = 9090
	ZapLogLevelFlagName = "zap-log-level"
)

// Options contains the command-line configuration for kf2.
type Options struct {
	//
	// Input.
	//
	LoadLocation string // Location file (YAML) to start from.
	Width        int    // Image width in pixels, before scaling.
	Height       int    // Image height in pixels, before scaling.
	Scale        int    // Supersampling factor.
	Iterations   int    // Initial iteration limit; 0 keeps the engine default.
	Workers      int    // Render worker goroutines; 0 uses GOMAXPROCS.
	//
	// Batch output. Any of these switches kf2 to batch mode.
	//
	SaveEXR     string // EXR output file.
	SaveTIFF    string // TIFF output file.
	SavePNG     string // PNG output file.
	SaveJPEG    string // JPEG output file.
	JPEGQuality int    // JPEG quality.
	SaveMap     string // Iteration map output file.
	SaveKFR     string // KFR location output file.
	ZoomOut     int    // Number of frames of a zoom-out sequence; 0 renders a single frame.
	//
	// Diagnostics.
	//
	LogVerbosity  int         // Number for the log level verbosity.
	ZapOptions    zap.Options // Zap logging options.
	MetricsPort   int         // The metrics port; 0 disables the metrics server.
	EnablePprof   bool        // Enables pprof handlers on the metrics server.
	SecureServing bool        // Serve metrics over TLS with a self-signed certificate.
	Version       bool        // Print the version and exit.

	// internal
	fs *pflag.FlagSet // FlagSet used in AddFlags() and consulted in Complete()
}

// NewOptions returns a new Options struct initialized with default values.
func NewOptions() *Options {
	return &Options{
		Width:        DefaultWidth,
		Height:       DefaultHeight,
		Scale:        1,
		JPEGQuality:  100,
		LogVerbosity: logging.DEFAULT,
		ZapOptions:   zap.Options{Development: true},
		MetricsPort:  DefaultMetricsPort,
		EnablePprof:  true,
	}
}

// AddFlags binds the Options fields to command-line flags on the given FlagSet.
func (opts *Options) AddFlags(fs *pflag.FlagSet) {
	if fs == nil {
		fs = pflag.CommandLine
	}
	opts.fs = fs

	fs.StringVarP(&opts.LoadLocation, "load-location", "l", opts.LoadLocation,
		"Load a location file (YAML).")
	fs.IntVar(&opts.Width, "width", opts.Width, "Image width in pixels.")
	fs.IntVar(&opts.Height, "height", opts.Height, "Image height in pixels.")
	fs.IntVar(&opts.Scale, "scale", opts.Scale, "Supersampling factor applied to width and height.")
	fs.IntVar(&opts.Iterations, "iterations", opts.Iterations, "Initial iteration limit. 0 keeps the default.")
	fs.IntVar(&opts.Workers, "workers", opts.Workers, "Render worker goroutines. 0 uses GOMAXPROCS.")

	fs.StringVarP(&opts.SaveEXR, "save-exr", "x", opts.SaveEXR, "Save EXR.")
	fs.StringVarP(&opts.SaveTIFF, "save-tif", "t", opts.SaveTIFF, "Save TIFF.")
	fs.StringVarP(&opts.SavePNG, "save-png", "p", opts.SavePNG, "Save PNG.")
	fs.StringVarP(&opts.SaveJPEG, "save-jpg", "j", opts.SaveJPEG, "Save JPEG.")
	fs.IntVarP(&opts.JPEGQuality, "jpg-quality", "J", opts.JPEGQuality, "JPEG quality.")
	fs.StringVarP(&opts.SaveMap, "save-map", "m", opts.SaveMap, "Save the iteration map (KFB).")
	fs.StringVar(&opts.SaveKFR, "save-kfr", opts.SaveKFR, "Save the location (KFR).")
	fs.IntVarP(&opts.ZoomOut, "zoom-out", "z", opts.ZoomOut,
		"Render a zoom-out sequence of this many frames. File names may contain a printf verb for the frame number.")

	fs.IntVarP(&opts.LogVerbosity, "v", "v", opts.LogVerbosity,
		"Number for the log level verbosity.")
	fs.IntVar(&opts.MetricsPort, "metrics-port", opts.MetricsPort,
		"The metrics port. 0 disables the metrics server.")
	fs.BoolVar(&opts.EnablePprof, "enable-pprof", opts.EnablePprof,
		"Enables pprof handlers. Defaults to true. Set to false to disable pprof handlers.")
	fs.BoolVar(&opts.SecureServing, "secure-serving", opts.SecureServing,
		"Serve metrics over TLS using a self-signed certificate.")
	fs.BoolVarP(&opts.Version, "version", "V", opts.Version, "Show the version and exit.")

	// Bind zap flags (zap expects a standard Go FlagSet; pflag.FlagSet is not compatible).
	gofs := flag.NewFlagSet("zap", flag.ExitOnError)
	opts.ZapOptions.BindFlags(gofs)
	fs.AddGoFlagSet(gofs)
}

// Complete performs post-processing of parsed command-line arguments.
func (opts *Options) Complete() error {
	// Derive the zap log level from the -v flag when --zap-log-level is not set explicitly.
	zapLogLevelFlag := opts.fs.Lookup(ZapLogLevelFlagName)
	if zapLogLevelFlag != nil && !zapLogLevelFlag.Changed {
		opts.ZapOptions.Level = uberzap.NewAtomicLevelAt(logging.LevelFromVerbosity(opts.LogVerbosity))
		zapLogLevelFlag.Changed = true
	}
	return nil
}

// Validate checks the Options for invalid or conflicting values.
func (opts *Options) Validate() error {
	for _, dc := range []struct {
		name  string
		value int
	}{
		{"width", opts.Width},
		{"height", opts.Height},
		{"scale", opts.Scale},
	} {
		if dc.value < 1 {
			return fmt.Errorf("invalid value %d for flag %q: must be positive", dc.value, dc.name)
		}
	}
	if opts.Iterations < 0 {
		return fmt.Errorf("invalid value %d for flag %q: must be >= 0", opts.Iterations, "iterations")
	}
	if opts.Workers < 0 {
		return fmt.Errorf("invalid value %d for flag %q: must be >= 0", opts.Workers, "workers")
	}
	if opts.ZoomOut < 0 {
		return fmt.Errorf("invalid value %d for flag %q: must be >= 0", opts.ZoomOut, "zoom-out")
	}
	if opts.ZoomOut > 0 && !opts.BatchMode() {
		return errors.New("flag \"zoom-out\" requires at least one --save-* flag")
	}
	if opts.MetricsPort < 0 || opts.MetricsPort > 65535 {
		return fmt.Errorf("invalid value %d for flag %q: must be between 0 and 65535", opts.MetricsPort, "metrics-port")
	}
	if opts.LogVerbosity < 0 {
		return fmt.Errorf("invalid value %d for flag %q: must be >= 0", opts.LogVerbosity, "v")
	}
	if err := opts.SaveOptions().Validate(); err != nil {
		return fmt.Errorf("invalid output flags: %w", err)
	}
	return nil
}

// SaveOptions returns the batch outputs requested on the command line.
func (opts *Options) SaveOptions() batch.SaveOptions {
	return batch.SaveOptions{
		EXR:         opts.SaveEXR,
		TIFF:        opts.SaveTIFF,
		PNG:         opts.SavePNG,
		JPEG:        opts.SaveJPEG,
		KFR:         opts.SaveKFR,
		Map:         opts.SaveMap,
		JPEGQuality: opts.JPEGQuality,
	}
}

// BatchMode reports whether any output file was requested.
func (opts *Options) BatchMode() bool {
	return opts.SaveOptions().Any()
}
