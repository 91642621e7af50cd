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

// Package controller contains the `RenderController`, the coordinator that lets interactive input and long-running
// renders share one fractal engine.
//
// # Overview
//
// Callers never touch the engine directly. They submit work items (zoom, resize, callbacks, waits) through
// `RenderController.Submit`, which never blocks. The controller debounces bursts of items into batches, applies each
// batch to the engine under the render lock, and starts a render pass whenever a batch changed something visible. A new
// batch whose items ask to interrupt stops the render in flight, so the engine always works on the most recent state.
//
// # Outcomes
//
// Every submitted item receives exactly one `Done` call:
//
//   - `OutcomeCompleted` once a render that includes the item's change has run to completion.
//   - `OutcomeNoRender` if the item's batch did not need a render.
//   - `OutcomeStopped` if the controller shut down first.
//   - `OutcomeFailed` if the item could not be applied or the engine faulted.
//
// Items that need a completed render are not failed when their render is interrupted; they are carried over and
// finalized by the next render that completes.
package controller
