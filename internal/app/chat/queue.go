/*
Package chat contains the core of the relay server: the user registry, the bounded task queue,
the worker pool, the per-connection session state machine and the feature handlers.

This file defines the TaskQueue, the bounded hand-off between the acceptor and the workers.
It is the admission-control boundary of the server.
*/
package chat

import (
	"errors"
	"net"
	"sync"
	"time"

	"relaychat/internal/configs"
)

var (
	// ErrQueueFull is returned by Enqueue under the reject policy when no slot is free.
	ErrQueueFull = errors.New("task queue full")

	// ErrQueueClosed is returned by Enqueue after Close.
	ErrQueueClosed = errors.New("task queue closed")
)

// Task is an accepted, transport-ready connection waiting for a worker.
type Task struct {
	Conn       net.Conn
	SessionID  string
	AcceptedAt time.Time
}

// TaskQueue is a FIFO of pending connections with a fixed capacity.
type TaskQueue struct {
	tasks  chan Task
	policy configs.QueuePolicy

	// done is closed by Close; blocked producers and consumers observe it.
	done      chan struct{}
	closeOnce sync.Once
}

// NewTaskQueue creates a queue holding at most size tasks.
func NewTaskQueue(size int, policy configs.QueuePolicy) *TaskQueue {
	return &TaskQueue{
		tasks:  make(chan Task, size),
		policy: policy,
		done:   make(chan struct{}),
	}
}

// Enqueue adds t to the queue. Under QueuePolicyReject it returns ErrQueueFull immediately
// when the queue is at capacity; under QueuePolicyBlock it waits for a free slot.
func (q *TaskQueue) Enqueue(t Task) error {
	select {
	case <-q.done:
		return ErrQueueClosed
	default:
	}

	if q.policy == configs.QueuePolicyBlock {
		select {
		case q.tasks <- t:
			return nil
		case <-q.done:
			return ErrQueueClosed
		}
	}

	select {
	case q.tasks <- t:
		return nil
	default:
		return ErrQueueFull
	}
}

// Dequeue blocks until a task is available or the queue is closed. The boolean is false
// once the queue is closed; remaining tasks are left for Drain.
func (q *TaskQueue) Dequeue() (Task, bool) {
	select {
	case <-q.done:
		return Task{}, false
	default:
	}

	select {
	case t := <-q.tasks:
		return t, true
	case <-q.done:
		return Task{}, false
	}
}

// Close wakes every blocked producer and consumer. It is safe to call more than once.
func (q *TaskQueue) Close() {
	q.closeOnce.Do(func() { close(q.done) })
}

// Drain removes and returns every task still queued.
func (q *TaskQueue) Drain() []Task {
	var left []Task
	for {
		select {
		case t := <-q.tasks:
			left = append(left, t)
		default:
			return left
		}
	}
}

// Len returns the number of queued tasks.
func (q *TaskQueue) Len() int {
	return len(q.tasks)
}

// Cap returns the queue capacity.
func (q *TaskQueue) Cap() int {
	return cap(q.tasks)
}
