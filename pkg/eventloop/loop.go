// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package eventloop provides the execution context on which the server
// delivers listen and close results.
//
// A Loop runs submitted tasks one at a time, in submission order, on a single
// goroutine. Code running on the loop may touch state owned by other loop
// tasks without further synchronization.
package eventloop

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrClosed is returned by Run after the loop was closed.
var ErrClosed = errors.New("event loop closed")

// Loop is a serial task executor.
type Loop struct {
	mu     sync.Mutex
	queue  []func()
	closed bool
	wake   chan struct{}
	done   chan struct{}
	logger *slog.Logger
}

// New creates a loop and starts its goroutine.
func New(logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}

	l := &Loop{
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		logger: logger,
	}
	go l.run()

	return l
}

// Run submits a task. It never blocks, even when called from a task.
func (l *Loop) Run(task func()) error {
	if task == nil {
		return nil
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		l.logger.Warn("dropping task submitted to closed event loop")
		return ErrClosed
	}
	l.queue = append(l.queue, task)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return nil
}

// Close stops accepting tasks, runs the ones already queued and waits for the
// loop goroutine to exit. It must not be called from a task.
func (l *Loop) Close() {
	l.mu.Lock()
	if !l.closed {
		l.closed = true
		select {
		case l.wake <- struct{}{}:
		default:
		}
	}
	l.mu.Unlock()

	<-l.done
}

// Done is closed once the loop goroutine has exited.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

func (l *Loop) run() {
	defer close(l.done)

	for {
		l.mu.Lock()
		tasks := l.queue
		l.queue = nil
		closed := l.closed
		l.mu.Unlock()

		for _, task := range tasks {
			l.exec(task)
		}

		if len(tasks) > 0 {
			continue
		}
		if closed {
			return
		}
		<-l.wake
	}
}

func (l *Loop) exec(task func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("event loop task panicked", slog.String("panic", fmt.Sprint(r)))
		}
	}()
	task()
}
