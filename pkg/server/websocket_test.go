// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/absmach/mstomp/pkg/handler"
	"github.com/absmach/mstomp/pkg/stompframe"
	"github.com/go-stomp/stomp/v3/frame"
	"github.com/gorilla/websocket"
)

func newWSTestServer(t *testing.T, opts Options, h handler.Handler) *httptest.Server {
	t.Helper()

	opts.WebsocketBridge = true
	s := newTestServer(opts, &fakeListener{})
	s.SetHandler(h)

	ts := httptest.NewServer(s.WebSocketHandler())
	t.Cleanup(ts.Close)
	return ts
}

func wsURL(ts *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + path
}

func dialWS(t *testing.T, url string) *websocket.Conn {
	t.Helper()

	dialer := websocket.Dialer{
		Subprotocols:     []string{"v12.stomp"},
		HandshakeTimeout: waitTimeout,
	}
	ws, _, err := dialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to dial %s: %v", url, err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func TestWebSocket_DeliversFrames(t *testing.T) {
	h := newRecordingHandler()
	ts := newWSTestServer(t, DefaultOptions(), h)

	ws := dialWS(t, wsURL(ts, DefaultWebsocketPath))
	if ws.Subprotocol() != "v12.stomp" {
		t.Errorf("Expected v12.stomp, got %q", ws.Subprotocol())
	}

	// One frame split over two messages and two frames in one message.
	msgs := []string{
		"CONNECT\naccept-version:1.2\n",
		"host:localhost\n\n\x00",
		"SEND\ndestination:/a\n\none\x00SEND\ndestination:/a\n\ntwo\x00",
	}
	for _, m := range msgs {
		if err := ws.WriteMessage(websocket.TextMessage, []byte(m)); err != nil {
			t.Fatalf("WriteMessage failed: %v", err)
		}
	}

	connect := h.nextFrame(t)
	if connect.Frame.Command != frame.CONNECT {
		t.Errorf("Expected CONNECT, got %s", connect.Frame.Command)
	}
	if got := connect.Frame.Header.Get("host"); got != "localhost" {
		t.Errorf("Expected host header, got %q", got)
	}
	if connect.Conn.Transport() != handler.TransportWebSocket {
		t.Errorf("Expected websocket transport, got %s", connect.Conn.Transport())
	}
	for _, want := range []string{"one", "two"} {
		if sf := h.nextFrame(t); string(sf.Frame.Body) != want {
			t.Errorf("Expected body %q, got %q", want, sf.Frame.Body)
		}
	}

	if err := connect.Conn.WriteFrame(frame.New(frame.CONNECTED, frame.Version, "1.2")); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}
	ws.SetReadDeadline(time.Now().Add(waitTimeout))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage failed: %v", err)
	}
	f, err := frame.NewReader(bytes.NewReader(data)).Read()
	if err != nil {
		t.Fatalf("Failed to decode reply: %v", err)
	}
	if f.Command != frame.CONNECTED {
		t.Errorf("Expected CONNECTED, got %s", f.Command)
	}

	ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	select {
	case <-h.closed:
	case <-time.After(waitTimeout):
		t.Fatal("Expected OnClose after the client closed")
	}
}

func TestWebSocket_InvalidPath(t *testing.T) {
	h := newRecordingHandler()
	ts := newWSTestServer(t, DefaultOptions(), h)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(ts, "/other"), nil)
	if err == nil {
		t.Fatal("Expected the upgrade to be rejected")
	}
	if !errors.Is(err, websocket.ErrBadHandshake) {
		t.Errorf("Expected a bad handshake, got %v", err)
	}
	if resp == nil || resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 Bad Request, got %v", resp)
	}

	select {
	case <-h.closed:
		t.Error("Expected no connection to be created")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestWebSocket_CustomPath(t *testing.T) {
	opts := DefaultOptions()
	opts.WebsocketPath = "/ws"
	h := newRecordingHandler()
	ts := newWSTestServer(t, opts, h)

	if _, resp, err := websocket.DefaultDialer.Dial(wsURL(ts, DefaultWebsocketPath), nil); err == nil {
		t.Error("Expected the default path to be rejected")
	} else if resp == nil || resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 Bad Request, got %v", resp)
	}

	ws := dialWS(t, wsURL(ts, "/ws"))
	if err := ws.WriteMessage(websocket.BinaryMessage, []byte("STOMP\naccept-version:1.2\n\n\x00")); err != nil {
		t.Fatalf("WriteMessage failed: %v", err)
	}
	if sf := h.nextFrame(t); sf.Frame.Command != frame.STOMP {
		t.Errorf("Expected STOMP, got %s", sf.Frame.Command)
	}
}

func TestWebSocket_InvalidFrame(t *testing.T) {
	h := newRecordingHandler()
	ts := newWSTestServer(t, DefaultOptions(), h)

	ws := dialWS(t, wsURL(ts, DefaultWebsocketPath))
	if err := ws.WriteMessage(websocket.TextMessage, []byte("FOO\n\n\x00")); err != nil {
		t.Fatalf("WriteMessage failed: %v", err)
	}

	ws.SetReadDeadline(time.Now().Add(waitTimeout))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("Expected an error frame, got %v", err)
	}
	f, err := frame.NewReader(bytes.NewReader(data)).Read()
	if err != nil {
		t.Fatalf("Failed to decode error frame: %v", err)
	}
	if f.Command != frame.ERROR {
		t.Errorf("Expected ERROR, got %s", f.Command)
	}
	if msg := f.Header.Get(frame.Message); msg != stompframe.InvalidFrameMessage {
		t.Errorf("Expected message %q, got %q", stompframe.InvalidFrameMessage, msg)
	}

	if _, _, err := ws.ReadMessage(); err == nil {
		t.Error("Expected the connection to be closed after the error frame")
	}
	select {
	case <-h.closed:
	case <-time.After(waitTimeout):
		t.Fatal("Expected OnClose after the invalid frame")
	}
}

func TestWebSocket_NoHandler(t *testing.T) {
	opts := DefaultOptions()
	opts.WebsocketBridge = true
	s := newTestServer(opts, &fakeListener{})

	ts := httptest.NewServer(s.WebSocketHandler())
	defer ts.Close()

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(ts, DefaultWebsocketPath), nil)
	if err == nil {
		t.Fatal("Expected the upgrade to be refused")
	}
	if resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("Expected 503, got %v", resp)
	}
}

func TestWebSocket_BridgeDisabled(t *testing.T) {
	s := newTestServer(DefaultOptions(), &fakeListener{})
	if s.WebSocketHandler() != nil {
		t.Error("Expected nil handler with the bridge disabled")
	}
}

func TestCheckOrigin(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    bool
	}{
		{"no restriction", nil, "http://evil.example", true},
		{"no origin header", []string{"http://app.example"}, "", true},
		{"listed", []string{"http://app.example"}, "http://app.example", true},
		{"wildcard", []string{"*"}, "http://any.example", true},
		{"not listed", []string{"http://app.example"}, "http://evil.example", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := DefaultOptions()
			opts.WebsocketAllowedOrigins = tt.allowed
			s := newTestServer(opts, &fakeListener{})

			r := httptest.NewRequest(http.MethodGet, DefaultWebsocketPath, nil)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			if got := s.checkOrigin(r); got != tt.want {
				t.Errorf("checkOrigin() = %v, want %v", got, tt.want)
			}
		})
	}
}
