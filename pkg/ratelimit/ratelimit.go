// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package ratelimit limits how fast a single client may open connections.
package ratelimit

import (
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultMaxClients is the default number of tracked client hosts.
	DefaultMaxClients = 10000

	// DefaultIdleTTL is how long an unused client bucket is kept.
	DefaultIdleTTL = 5 * time.Minute
)

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter manages per-client token buckets keyed by remote host.
type Limiter struct {
	mu         sync.Mutex
	buckets    map[string]*bucket
	limit      rate.Limit
	burst      int
	maxClients int
	idleTTL    time.Duration
	stop       chan struct{}
	stopOnce   sync.Once
}

// NewLimiter creates a limiter allowing perSecond connections per host with
// bursts of up to burst connections.
func NewLimiter(perSecond float64, burst, maxClients int) *Limiter {
	if maxClients <= 0 {
		maxClients = DefaultMaxClients
	}
	if burst <= 0 {
		burst = 1
	}

	l := &Limiter{
		buckets:    make(map[string]*bucket),
		limit:      rate.Limit(perSecond),
		burst:      burst,
		maxClients: maxClients,
		idleTTL:    DefaultIdleTTL,
		stop:       make(chan struct{}),
	}

	go l.cleanupLoop()

	return l
}

// Allow reports whether a new connection from addr may proceed.
// addr may be a host or a host:port pair; the port is ignored.
func (l *Limiter) Allow(addr string) bool {
	host := hostOf(addr)

	l.mu.Lock()
	b, ok := l.buckets[host]
	if !ok {
		if len(l.buckets) >= l.maxClients {
			l.mu.Unlock()
			return false
		}
		b = &bucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[host] = b
	}
	b.lastSeen = time.Now()
	l.mu.Unlock()

	return b.limiter.Allow()
}

// Stats returns the number of tracked clients.
func (l *Limiter) Stats() (clients int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// Close stops the cleanup goroutine.
func (l *Limiter) Close() {
	l.stopOnce.Do(func() {
		close(l.stop)
	})
}

func (l *Limiter) cleanupLoop() {
	ticker := time.NewTicker(l.idleTTL)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.cleanup(time.Now())
		}
	}
}

// cleanup removes buckets idle for longer than idleTTL.
func (l *Limiter) cleanup(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for host, b := range l.buckets {
		if now.Sub(b.lastSeen) > l.idleTTL {
			delete(l.buckets, host)
		}
	}
}

func hostOf(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
