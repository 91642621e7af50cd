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

package internal

import "sync"

// unboundedQueue is a multi-producer, single-consumer FIFO that never blocks producers.
//
// The consumer waits on `signal()`, which carries at most one pending wake-up, and then drains everything with
// `drain()`. A wake-up may therefore cover several pushes, and a drain may find the queue empty.
type unboundedQueue[T any] struct {
	mu     sync.Mutex
	items  []T
	closed bool
	wake   chan struct{}
}

func newUnboundedQueue[T any]() *unboundedQueue[T] {
	return &unboundedQueue[T]{wake: make(chan struct{}, 1)}
}

// push appends v. It returns false, without enqueuing, once the queue has been closed.
func (q *unboundedQueue[T]) push(v T) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, v)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default: // A wake-up is already pending.
	}
	return true
}

// drain removes and returns everything queued, in push order.
func (q *unboundedQueue[T]) drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}

// signal returns the channel the consumer waits on.
func (q *unboundedQueue[T]) signal() <-chan struct{} {
	return q.wake
}

// close rejects further pushes and returns whatever was still queued.
func (q *unboundedQueue[T]) close() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	items := q.items
	q.items = nil
	return items
}

func (q *unboundedQueue[T]) size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
