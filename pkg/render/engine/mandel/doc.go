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

// Package mandel is a reference `types.Engine`: a float64 escape-time Mandelbrot renderer.
//
// Rows are split across a pool of worker goroutines, and every worker checks the stop flag before each row, so
// `RequestStop` takes effect within one row's worth of work. Precision is limited to float64, which is enough for
// zooms down to a radius of about 1e-13; deeper positions are accepted but render as blocks.
package mandel
