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

// Package internal provides the worker implementation behind `controller.RenderController`.
//
// Three cooperating components live here:
//
//   - The `Batcher` owns the inbound queue. It debounces submitted items into batches, takes the render lock for each
//     batch, applies the items to the engine in submission order and decides whether the batch needs a render.
//   - The `Runner` executes one render pass on its own goroutine while holding the lock that the batcher handed to it.
//   - The `Notifier` maps each batch outcome onto per-item results. It defers items that still need a completed render
//     and dispatches `Done` callbacks off the render path.
//
// # Concurrency
//
// The batch loop is the only goroutine that applies items, and it does so only while holding the render lock. A
// render runs on a separate goroutine, so the batch loop can already collect and debounce the next batch while a
// render is in flight; it blocks only when it needs the lock for that next batch. Deliveries to the notifier happen
// under the lock, which serializes them in batch order.
package internal
