// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

type fakeServer struct {
	listening atomic.Bool
}

func (f *fakeServer) IsListening() bool { return f.listening.Load() }

func TestChecker_Status(t *testing.T) {
	fail := errors.New("down")

	tests := []struct {
		name     string
		critical error
		optional error
		want     Status
	}{
		{"all healthy", nil, nil, StatusHealthy},
		{"optional failing", nil, fail, StatusDegraded},
		{"critical failing", fail, nil, StatusUnhealthy},
		{"both failing", fail, fail, StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewChecker(time.Minute)
			c.RegisterCritical("critical", func(context.Context) error { return tt.critical })
			c.Register("optional", func(context.Context) error { return tt.optional })

			status, checks := c.Health(context.Background())
			if status != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, status)
			}
			if len(checks) != 2 || checks[0].Name != "critical" || checks[1].Name != "optional" {
				t.Errorf("Expected checks sorted by name, got %+v", checks)
			}
		})
	}
}

func TestChecker_Cache(t *testing.T) {
	c := NewChecker(time.Minute)
	now := time.Now()
	c.now = func() time.Time { return now }

	var calls atomic.Int32
	c.Register("counted", func(context.Context) error {
		calls.Add(1)
		return nil
	})

	c.Health(context.Background())
	c.Health(context.Background())
	if got := calls.Load(); got != 1 {
		t.Errorf("Expected cached result, got %d calls", got)
	}

	now = now.Add(2 * time.Minute)
	c.Health(context.Background())
	if got := calls.Load(); got != 2 {
		t.Errorf("Expected check to rerun after the TTL, got %d calls", got)
	}
}

func TestListeningCheck(t *testing.T) {
	s := &fakeServer{}
	check := ListeningCheck(s)

	if err := check(context.Background()); !errors.Is(err, ErrNotListening) {
		t.Errorf("Expected ErrNotListening, got %v", err)
	}
	s.listening.Store(true)
	if err := check(context.Background()); err != nil {
		t.Errorf("Expected nil, got %v", err)
	}
}

func TestConnectionsCheck(t *testing.T) {
	n := 5
	count := func() int { return n }

	if err := ConnectionsCheck(count, 0)(context.Background()); err != nil {
		t.Errorf("Expected disabled check to pass, got %v", err)
	}
	if err := ConnectionsCheck(count, 10)(context.Background()); err != nil {
		t.Errorf("Expected nil under the limit, got %v", err)
	}
	if err := ConnectionsCheck(count, 4)(context.Background()); !errors.Is(err, ErrTooManyConnections) {
		t.Errorf("Expected ErrTooManyConnections, got %v", err)
	}
}

func TestReadinessHandler(t *testing.T) {
	s := &fakeServer{}
	c := NewChecker(time.Nanosecond)
	c.RegisterCritical("stomp", ListeningCheck(s))
	mux := c.Mux()

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 while not listening, got %d", rec.Code)
	}

	s.listening.Store(true)
	time.Sleep(time.Millisecond)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200 while listening, got %d", rec.Code)
	}

	var body struct {
		Status Status  `json:"status"`
		Checks []Check `json:"checks"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode body: %v", err)
	}
	if body.Status != StatusHealthy || len(body.Checks) != 1 {
		t.Errorf("Unexpected body %+v", body)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/live", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("Expected liveness 200, got %d", rec.Code)
	}
}
