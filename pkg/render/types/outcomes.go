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

import "strconv"

// Outcome represents the final state of a work item, or of the batch that carried it.
//
// It is delivered to `WorkItem.Done` along with an error that carries details for the non-successful outcomes. This
// enum is designed to be a low-cardinality label ideal for metrics.
type Outcome int

const (
	// OutcomeCompleted indicates a render pass ran to completion after the item was applied.
	// The associated error will be nil.
	OutcomeCompleted Outcome = iota

	// OutcomeNoRender indicates the item was applied but its batch did not require a render.
	// The associated error will be nil.
	OutcomeNoRender

	// OutcomeStopped indicates the render carrying the item was preempted, or the controller shut down before the item
	// could complete. The associated error wraps `ErrRenderInterrupted` or `ErrControllerNotRunning`.
	OutcomeStopped

	// OutcomeFailed indicates the item could not be applied or the engine faulted mid-render.
	// For engine failures the associated error wraps `ErrEngineFault`.
	OutcomeFailed
)

// String returns a human-readable string representation of the Outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "Completed"
	case OutcomeNoRender:
		return "NoRender"
	case OutcomeStopped:
		return "Stopped"
	case OutcomeFailed:
		return "Failed"
	default:
		// Return the integer value for unknown outcomes to aid in debugging.
		return "UnknownOutcome(" + strconv.Itoa(int(o)) + ")"
	}
}

// IsTerminalRender reports whether the outcome ends the wait of items that need a real render, i.e. whether no later
// batch can still satisfy them.
func (o Outcome) IsTerminalRender() bool {
	return o == OutcomeCompleted || o == OutcomeFailed
}
