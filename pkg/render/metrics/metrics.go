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

package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
)

const (
	// --- Namespace & Subsystems ---
	Namespace          = "kf2"
	RenderSubsystem    = "render"
	BatchSubsystem     = "batch"
	LockSubsystem      = "render_lock"
	WorkItemsSubsystem = "work_items"

	// --- Frame results ---
	FrameResultSaved  = "saved"
	FrameResultFailed = "failed"
)

var (
	// RenderDurationBuckets spans interactive previews (tens of milliseconds) up to hour-long deep zoom renders.
	RenderDurationBuckets = []float64{
		0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600, 1800, 3600,
	}

	// LockWaitBuckets covers the time an acquirer waits for the previous holder to vacate.
	LockWaitBuckets = []float64{
		0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
	}
)

// --- Render Metrics ---
var (
	renderTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: RenderSubsystem,
			Name:      "total",
			Help:      "Counter of render passes broken out by outcome.",
		},
		[]string{"outcome"},
	)

	renderDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: RenderSubsystem,
			Name:      "duration_seconds",
			Help:      "Distribution of render pass wall time broken out by outcome.",
			Buckets:   RenderDurationBuckets,
		},
		[]string{"outcome"},
	)

	renderActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: RenderSubsystem,
			Name:      "active",
			Help:      "Number of render passes currently running. Never exceeds one.",
		},
	)

	referencesAdded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: RenderSubsystem,
			Name:      "references_added_total",
			Help:      "Counter of reference points inserted while solving glitches.",
		},
	)
)

// --- Batch & Lock Metrics ---
var (
	batchSize = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: BatchSubsystem,
			Name:      "size",
			Help:      "Distribution of the number of work items applied per batch.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		},
	)

	lockWait = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: LockSubsystem,
			Name:      "wait_seconds",
			Help:      "Distribution of the time spent waiting to acquire the render lock.",
			Buckets:   LockWaitBuckets,
		},
	)

	preemptions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: LockSubsystem,
			Name:      "preemptions_total",
			Help:      "Counter of stop requests raised against a running render.",
		},
	)

	batchFrames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: BatchSubsystem,
			Name:      "frames_total",
			Help:      "Counter of batch mode frames broken out by result.",
		},
		[]string{"result"},
	)
)

// --- Work Item Metrics ---
var (
	workItemsSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: WorkItemsSubsystem,
			Name:      "submitted_total",
			Help:      "Counter of submitted work items broken out by kind.",
		},
		[]string{"kind"},
	)

	workItemsCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: WorkItemsSubsystem,
			Name:      "completed_total",
			Help:      "Counter of finalized work items broken out by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	workItemsDeferred = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: WorkItemsSubsystem,
			Name:      "deferred",
			Help:      "Number of work items waiting for a later render to complete.",
		},
	)
)

var registerMetrics sync.Once

// Register all metrics.
func Register(customCollectors ...prometheus.Collector) {
	registerMetrics.Do(func() {
		metrics.Registry.MustRegister(renderTotal)
		metrics.Registry.MustRegister(renderDuration)
		metrics.Registry.MustRegister(renderActive)
		metrics.Registry.MustRegister(referencesAdded)
		metrics.Registry.MustRegister(batchSize)
		metrics.Registry.MustRegister(lockWait)
		metrics.Registry.MustRegister(preemptions)
		metrics.Registry.MustRegister(batchFrames)
		metrics.Registry.MustRegister(workItemsSubmitted)
		metrics.Registry.MustRegister(workItemsCompleted)
		metrics.Registry.MustRegister(workItemsDeferred)
		for _, collector := range customCollectors {
			metrics.Registry.MustRegister(collector)
		}
	})
}

// Reset clears all metric values. Just for tests.
func Reset() {
	renderTotal.Reset()
	renderDuration.Reset()
	renderActive.Set(0)
	workItemsSubmitted.Reset()
	workItemsCompleted.Reset()
	workItemsDeferred.Set(0)
	batchFrames.Reset()
}

// RecordRender records a finished render pass.
func RecordRender(outcome string, duration time.Duration) {
	renderTotal.WithLabelValues(outcome).Inc()
	renderDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// IncActiveRenders marks a render pass as started.
func IncActiveRenders() {
	renderActive.Inc()
}

// DecActiveRenders marks a render pass as finished.
func DecActiveRenders() {
	renderActive.Dec()
}

// RecordReferenceAdded records one reference point inserted by glitch solving.
func RecordReferenceAdded() {
	referencesAdded.Inc()
}

// RecordBatchSize records the number of items applied in one batch.
func RecordBatchSize(size int) {
	batchSize.Observe(float64(size))
}

// RecordLockWait records how long an acquirer waited for the render lock.
func RecordLockWait(d time.Duration) {
	lockWait.Observe(d.Seconds())
}

// RecordPreemption records a stop request raised against a running render.
func RecordPreemption() {
	preemptions.Inc()
}

// RecordWorkItemSubmitted records a submitted work item.
func RecordWorkItemSubmitted(kind string) {
	workItemsSubmitted.WithLabelValues(kind).Inc()
}

// RecordWorkItemCompleted records a work item's final outcome.
func RecordWorkItemCompleted(kind, outcome string) {
	workItemsCompleted.WithLabelValues(kind, outcome).Inc()
}

// SetDeferredWorkItems records the number of deferred work items.
func SetDeferredWorkItems(n int) {
	workItemsDeferred.Set(float64(n))
}

// RecordFrame records a batch mode frame that was saved or failed.
func RecordFrame(result string) {
	batchFrames.WithLabelValues(result).Inc()
}
