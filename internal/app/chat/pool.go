/*
Package chat contains the core of the relay server: the user registry, the bounded task queue,
the worker pool, the per-connection session state machine and the feature handlers.

This file defines the WorkerPool, a fixed set of goroutines that each serve one connection's
whole session before taking the next task from the queue.
*/
package chat

import (
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"relaychat/internal/pkg/logx"
)

// TaskHandler serves one dequeued task to completion.
type TaskHandler func(Task)

// WorkerPool runs a fixed number of workers over a TaskQueue.
type WorkerPool struct {
	size    int
	queue   *TaskQueue
	handler TaskHandler

	// busy counts workers currently serving a session.
	busy atomic.Int64

	wg     sync.WaitGroup
	logger zerolog.Logger
}

// NewWorkerPool creates a pool of size workers consuming queue.
func NewWorkerPool(size int, queue *TaskQueue, handler TaskHandler) *WorkerPool {
	return &WorkerPool{
		size:    size,
		queue:   queue,
		handler: handler,
		logger:  logx.Component("Worker"),
	}
}

// Start launches the workers.
func (p *WorkerPool) Start() {
	p.wg.Add(p.size)
	for i := range p.size {
		go p.work(i)
	}
	p.logger.Info().Int("workers", p.size).Msg("Worker pool started.")
}

// work is one worker's loop. It exits once the queue is closed.
func (p *WorkerPool) work(n int) {
	defer p.wg.Done()

	logger := p.logger.With().Int("worker", n).Logger()

	for {
		task, ok := p.queue.Dequeue()
		if !ok {
			logger.Debug().Msg("Queue closed. Worker exiting.")
			return
		}

		p.serve(logger, task)
	}
}

// serve runs the handler and keeps the worker alive if it panics.
func (p *WorkerPool) serve(logger zerolog.Logger, task Task) {
	p.busy.Add(1)
	defer p.busy.Add(-1)

	defer func() {
		if rec := recover(); rec != nil {
			logger.Error().
				Err(fmt.Errorf("panic: %v", rec)).
				Str("session_id", task.SessionID).
				Bytes("stack", debug.Stack()).
				Msg("Recovered from panic while serving session.")
			task.Conn.Close()
		}
	}()

	p.handler(task)
}

// Busy returns the number of workers currently serving a session.
func (p *WorkerPool) Busy() int {
	return int(p.busy.Load())
}

// Size returns the number of workers.
func (p *WorkerPool) Size() int {
	return p.size
}

// Wait blocks until every worker has exited.
func (p *WorkerPool) Wait() {
	p.wg.Wait()
}
