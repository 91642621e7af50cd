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

// Package batch drives non-interactive renders: a single frame, or a zoom-out sequence of frames, each saved in one or
// more image formats.
//
// The driver never touches the engine outside the render lock. Engine setup between frames runs through
// `Controller.WithLock`, and renders are requested through `Controller.Render`, so a batch run can share the controller
// with an interactive console.
package batch
