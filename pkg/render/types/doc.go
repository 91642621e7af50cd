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

// Package types defines the core data structures and service contracts for the render coordination system.
//
// It establishes the vocabulary shared by the render lock, the batching pipeline and its callers: the `Engine`
// contract consumed from the external fractal engine, the closed set of `WorkItem` variants, the `Outcome` reported to
// every submitted item, and the sentinel errors that classify failures.
package types
