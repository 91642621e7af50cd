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

package types

import (
	"errors"
)

// --- Recoverable Conditions ---
// These are expected in normal operation and are surfaced as values, never as panics.

var (
	// ErrLockBusy indicates a caller asked for exclusive access without waiting while another holder was active.
	ErrLockBusy = errors.New("render lock is busy")

	// ErrRenderInterrupted indicates a render was preempted before it completed. Items see it together with
	// `OutcomeStopped`; the caller may resubmit.
	ErrRenderInterrupted = errors.New("render interrupted")

	// ErrUnknownWorkItem indicates a submitted value is not one of the variants constructed by package `workitem`.
	ErrUnknownWorkItem = errors.New("unknown work item variant")
)

// --- Failures ---

var (
	// ErrEngineFault indicates the engine itself failed mid-render. The engine's state afterwards is undefined, but the
	// controller keeps running.
	//
	// Callers should use `errors.Is(err, ErrEngineFault)` to check for this class of failure.
	ErrEngineFault = errors.New("engine fault")

	// ErrControllerNotRunning indicates an operation could not complete because the `controller.RenderController` is
	// not running or is shutting down.
	ErrControllerNotRunning = errors.New("render controller is not running")

	// ErrUnsupportedFormat is returned by engines that cannot export the requested format.
	ErrUnsupportedFormat = errors.New("unsupported image format")
)
