// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package mstomp

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/absmach/mstomp/pkg/server"
	"github.com/caarlos0/env/v11"
)

func TestNewConfig_Defaults(t *testing.T) {
	cfg, err := NewConfig(env.Options{Environment: map[string]string{}})
	if err != nil {
		t.Fatalf("NewConfig failed: %v", err)
	}

	if cfg.Server.Port != server.DefaultPort {
		t.Errorf("Expected port %d, got %d", server.DefaultPort, cfg.Server.Port)
	}
	if cfg.Server.Host != server.DefaultHost {
		t.Errorf("Expected host %s, got %s", server.DefaultHost, cfg.Server.Host)
	}
	if cfg.Server.WebsocketBridge {
		t.Error("Expected the WebSocket bridge to be disabled by default")
	}
	if cfg.Server.WebsocketPath != server.DefaultWebsocketPath {
		t.Errorf("Expected path %s, got %s", server.DefaultWebsocketPath, cfg.Server.WebsocketPath)
	}
	if cfg.ShutdownTimeout != 30*time.Second {
		t.Errorf("Expected 30s shutdown timeout, got %v", cfg.ShutdownTimeout)
	}
	def := server.DefaultOptions()
	if cfg.Server.MaxHeaderLength != def.MaxHeaderLength ||
		cfg.Server.MaxHeaders != def.MaxHeaders ||
		cfg.Server.MaxBodyLength != def.MaxBodyLength {
		t.Errorf("Expected default parser limits, got %+v", cfg.Server.ParserOptions())
	}
}

func TestNewConfig_Prefix(t *testing.T) {
	cfg, err := NewConfig(env.Options{
		Prefix: "MSTOMP_",
		Environment: map[string]string{
			"MSTOMP_STOMP_PORT":                      "-1",
			"MSTOMP_STOMP_WEBSOCKET_BRIDGE":          "true",
			"MSTOMP_STOMP_WEBSOCKET_PATH":            "/ws",
			"MSTOMP_STOMP_WEBSOCKET_ALLOWED_ORIGINS": "http://a.example,http://b.example",
			"MSTOMP_STOMP_MAX_BODY_LENGTH":           "1024",
			"MSTOMP_LOG_LEVEL":                       "debug",
			"MSTOMP_RATE_LIMIT_PER_SECOND":           "2.5",
		},
	})
	if err != nil {
		t.Fatalf("NewConfig failed: %v", err)
	}

	if cfg.Server.Port != server.DisabledPort {
		t.Errorf("Expected disabled port, got %d", cfg.Server.Port)
	}
	if !cfg.Server.WebsocketBridge || cfg.Server.WebsocketPath != "/ws" {
		t.Errorf("Unexpected bridge settings %+v", cfg.Server)
	}
	if got := cfg.Server.WebsocketAllowedOrigins; len(got) != 2 || got[1] != "http://b.example" {
		t.Errorf("Unexpected origins %v", got)
	}
	if cfg.Server.MaxBodyLength != 1024 {
		t.Errorf("Expected max body 1024, got %d", cfg.Server.MaxBodyLength)
	}
	if cfg.RateLimitPerSecond != 2.5 {
		t.Errorf("Expected rate 2.5, got %v", cfg.RateLimitPerSecond)
	}
	if !cfg.Logger().Enabled(context.Background(), slog.LevelDebug) {
		t.Error("Expected a debug logger")
	}
}

func TestNewConfig_Invalid(t *testing.T) {
	_, err := NewConfig(env.Options{Environment: map[string]string{"STOMP_PORT": "not-a-number"}})
	if err == nil {
		t.Error("Expected a parse error")
	}
}

func TestTLSConfig(t *testing.T) {
	cfg := Config{}
	tlsCfg, err := cfg.TLSConfig()
	if err != nil || tlsCfg != nil {
		t.Errorf("Expected no TLS without certificates, got %v, %v", tlsCfg, err)
	}

	cfg.CertFile = "server.crt"
	if _, err := cfg.TLSConfig(); !errors.Is(err, errPartialTLS) {
		t.Errorf("Expected errPartialTLS, got %v", err)
	}

	cfg.KeyFile = "missing.key"
	if _, err := cfg.TLSConfig(); err == nil {
		t.Error("Expected an error for missing files")
	}
}
