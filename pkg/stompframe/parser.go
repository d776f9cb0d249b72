// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package stompframe

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	serrors "github.com/absmach/mstomp/pkg/errors"
	"github.com/go-stomp/stomp/v3/frame"
)

const (
	// DefaultMaxHeaderLength is the default maximum length of a header key or value.
	DefaultMaxHeaderLength = 10240

	// DefaultMaxHeaders is the default maximum number of headers in a frame.
	DefaultMaxHeaders = 1000

	// DefaultMaxBodyLength is the default maximum body length in bytes.
	DefaultMaxBodyLength = 10 * 1024 * 1024
)

// clientCommands lists the commands a server accepts from a client.
var clientCommands = map[string]struct{}{
	frame.CONNECT:     {},
	frame.STOMP:       {},
	frame.SEND:        {},
	frame.SUBSCRIBE:   {},
	frame.UNSUBSCRIBE: {},
	frame.ACK:         {},
	frame.NACK:        {},
	frame.BEGIN:       {},
	frame.COMMIT:      {},
	frame.ABORT:       {},
	frame.DISCONNECT:  {},
}

// Options holds the decoding limits of a Parser.
type Options struct {
	// MaxHeaderLength is the maximum length of a header key or value.
	MaxHeaderLength int

	// MaxHeaders is the maximum number of headers in one frame.
	MaxHeaders int

	// MaxBodyLength is the maximum body length in bytes.
	MaxBodyLength int
}

// Parser decodes the inbound bytes of a single connection.
type Parser struct {
	opts       Options
	onFrame    func(*frame.Frame)
	onError    func(error)
	onActivity func()
}

// NewParser creates a parser. Zero limits are replaced by their defaults.
func NewParser(opts Options) *Parser {
	if opts.MaxHeaderLength <= 0 {
		opts.MaxHeaderLength = DefaultMaxHeaderLength
	}
	if opts.MaxHeaders <= 0 {
		opts.MaxHeaders = DefaultMaxHeaders
	}
	if opts.MaxBodyLength <= 0 {
		opts.MaxBodyLength = DefaultMaxBodyLength
	}
	return &Parser{opts: opts}
}

// Handler sets the callback receiving decoded frames.
func (p *Parser) Handler(fn func(*frame.Frame)) *Parser {
	p.onFrame = fn
	return p
}

// ErrorHandler sets the callback receiving decode errors.
func (p *Parser) ErrorHandler(fn func(error)) *Parser {
	p.onError = fn
	return p
}

// ActivityHandler sets the callback invoked for every frame and heart-beat read.
func (p *Parser) ActivityHandler(fn func()) *Parser {
	p.onActivity = fn
	return p
}

// Parse feeds bytes from r into the decoder until the stream ends, the
// transport fails or a frame is rejected.
//
// Transport conditions are returned as reported by r, so a clean end of
// stream yields io.EOF. A rejected frame is passed to the ErrorHandler and
// returned wrapped in errors.ErrInvalidFrame. Size limits are applied while
// reading, before a frame is buffered.
func (p *Parser) Parse(r io.Reader) error {
	src := &sourceReader{r: r}
	sp := newSplitter(src, p.opts)

	for {
		raw, err := sp.next()
		if err != nil {
			var fe frameError
			if errors.As(err, &fe) {
				return p.fail(fe.err)
			}
			if src.err != nil {
				return src.err
			}
			return p.fail(err)
		}

		if p.onActivity != nil {
			p.onActivity()
		}

		// Heart-beat
		if raw == nil {
			continue
		}

		f, err := frame.NewReader(bytes.NewReader(raw)).Read()
		if err != nil {
			return p.fail(err)
		}
		if f == nil {
			continue
		}

		if err := p.validate(f); err != nil {
			return p.fail(err)
		}

		if p.onFrame != nil {
			p.onFrame(f)
		}
	}
}

func (p *Parser) fail(cause error) error {
	err := fmt.Errorf("%w: %w", serrors.ErrInvalidFrame, cause)
	if p.onError != nil {
		p.onError(err)
	}
	return err
}

// validate enforces command and size limits on a decoded frame.
func (p *Parser) validate(f *frame.Frame) error {
	if _, ok := clientCommands[f.Command]; !ok {
		return fmt.Errorf("unknown command %q", f.Command)
	}

	if f.Header != nil {
		if f.Header.Len() > p.opts.MaxHeaders {
			return fmt.Errorf("too many headers: %d > %d", f.Header.Len(), p.opts.MaxHeaders)
		}
		for i := 0; i < f.Header.Len(); i++ {
			key, value := f.Header.GetAt(i)
			if len(key) > p.opts.MaxHeaderLength || len(value) > p.opts.MaxHeaderLength {
				return fmt.Errorf("header %q exceeds %d bytes", truncate(key, 32), p.opts.MaxHeaderLength)
			}
		}
	}

	if len(f.Body) > p.opts.MaxBodyLength {
		return fmt.Errorf("body too long: %d > %d", len(f.Body), p.opts.MaxBodyLength)
	}

	return nil
}

// sourceReader remembers the first error reported by the transport so that
// transport failures can be told apart from decode failures.
type sourceReader struct {
	r   io.Reader
	err error
}

func (s *sourceReader) Read(b []byte) (int, error) {
	n, err := s.r.Read(b)
	if err != nil && s.err == nil {
		s.err = err
	}
	return n, err
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
