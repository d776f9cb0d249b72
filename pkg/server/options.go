// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package server

import "github.com/absmach/mstomp/pkg/stompframe"

const (
	// DefaultPort is the IANA port for STOMP.
	DefaultPort = 61613

	// DefaultHost binds every interface.
	DefaultHost = "0.0.0.0"

	// DefaultWebsocketPath is the path accepted for WebSocket upgrades.
	DefaultWebsocketPath = "/stomp"

	// DisabledPort disables the TCP transport. Listening on it fails without binding.
	DisabledPort = -1
)

// Subprotocols are the STOMP WebSocket sub-protocols negotiated on upgrade.
var Subprotocols = []string{"v10.stomp", "v11.stomp", "v12.stomp"}

// Options holds the immutable configuration of a Server.
type Options struct {
	Host                    string   `env:"HOST"                      envDefault:"0.0.0.0"`
	Port                    int      `env:"PORT"                      envDefault:"61613"`
	WebsocketBridge         bool     `env:"WEBSOCKET_BRIDGE"          envDefault:"false"`
	WebsocketPath           string   `env:"WEBSOCKET_PATH"            envDefault:"/stomp"`
	WebsocketAllowedOrigins []string `env:"WEBSOCKET_ALLOWED_ORIGINS" envSeparator:","`
	MaxHeaderLength         int      `env:"MAX_HEADER_LENGTH"         envDefault:"10240"`
	MaxHeaders              int      `env:"MAX_HEADERS"               envDefault:"1000"`
	MaxBodyLength           int      `env:"MAX_BODY_LENGTH"           envDefault:"10485760"`
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		Host:            DefaultHost,
		Port:            DefaultPort,
		WebsocketPath:   DefaultWebsocketPath,
		MaxHeaderLength: stompframe.DefaultMaxHeaderLength,
		MaxHeaders:      stompframe.DefaultMaxHeaders,
		MaxBodyLength:   stompframe.DefaultMaxBodyLength,
	}
}

// ParserOptions returns the limits applied to every connection's parser.
func (o Options) ParserOptions() stompframe.Options {
	return stompframe.Options{
		MaxHeaderLength: o.MaxHeaderLength,
		MaxHeaders:      o.MaxHeaders,
		MaxBodyLength:   o.MaxBodyLength,
	}
}
