// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package stompframe

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"

	"github.com/go-stomp/stomp/v3/frame"
)

const readBufferSize = 4096

// frameError marks a rejection of the inbound bytes, as opposed to an error
// reported by the underlying reader.
type frameError struct {
	err error
}

func (e frameError) Error() string { return e.err.Error() }
func (e frameError) Unwrap() error { return e.err }

func invalid(format string, args ...any) error {
	return frameError{err: fmt.Errorf(format, args...)}
}

// splitter cuts the inbound stream into raw frames. Limits are enforced while
// reading, so no frame is buffered beyond them.
type splitter struct {
	r    *bufio.Reader
	opts Options
	buf  bytes.Buffer
}

func newSplitter(r io.Reader, opts Options) *splitter {
	return &splitter{
		r:    bufio.NewReaderSize(r, readBufferSize),
		opts: opts,
	}
}

// next returns the next raw frame including its NUL terminator, or nil for
// a heart-beat. The returned slice is valid until the following call.
func (s *splitter) next() ([]byte, error) {
	s.buf.Reset()

	cmd, err := s.readLine(s.opts.MaxHeaderLength+2, "command")
	if err != nil {
		return nil, err
	}
	if len(trimEOL(cmd)) == 0 {
		return nil, nil
	}
	s.buf.Write(cmd)

	contentLength, hasLength := 0, false
	for headers := 0; ; headers++ {
		// key:value, each bounded by MaxHeaderLength, plus CRLF
		line, err := s.readLine(2*s.opts.MaxHeaderLength+3, "header")
		if err != nil {
			return nil, err
		}
		s.buf.Write(line)

		hdr := trimEOL(line)
		if len(hdr) == 0 {
			break
		}
		if headers >= s.opts.MaxHeaders {
			return nil, invalid("too many headers: more than %d", s.opts.MaxHeaders)
		}
		// The first content-length wins, as for every repeated header.
		if !hasLength {
			if contentLength, hasLength, err = parseContentLength(hdr); err != nil {
				return nil, err
			}
		}
	}

	if hasLength {
		if contentLength > s.opts.MaxBodyLength {
			return nil, invalid("body too long: %d > %d", contentLength, s.opts.MaxBodyLength)
		}
		s.buf.Grow(contentLength + 1)
		if _, err := io.CopyN(&s.buf, s.r, int64(contentLength)); err != nil {
			return nil, err
		}
		b, err := s.r.ReadByte()
		if err != nil {
			return nil, err
		}
		if b != 0 {
			return nil, invalid("frame not terminated after %d body bytes", contentLength)
		}
		s.buf.WriteByte(0)
		return s.buf.Bytes(), nil
	}

	headerLen := s.buf.Len()
	for {
		chunk, err := s.r.ReadSlice(0)
		s.buf.Write(chunk)
		// The body excludes the NUL terminator.
		if s.buf.Len()-headerLen > s.opts.MaxBodyLength+1 {
			return nil, invalid("body too long: more than %d bytes", s.opts.MaxBodyLength)
		}
		if err == nil {
			return s.buf.Bytes(), nil
		}
		if err != bufio.ErrBufferFull {
			return nil, err
		}
	}
}

// readLine reads up to and including '\n', failing once the line exceeds max bytes.
func (s *splitter) readLine(max int, what string) ([]byte, error) {
	var line []byte
	for {
		chunk, err := s.r.ReadSlice('\n')
		if len(line)+len(chunk) > max {
			return nil, invalid("%s line exceeds %d bytes", what, max)
		}
		line = append(line, chunk...)
		if err == nil {
			return line, nil
		}
		if err != bufio.ErrBufferFull {
			return nil, err
		}
	}
}

func parseContentLength(hdr []byte) (int, bool, error) {
	key, value, ok := bytes.Cut(hdr, []byte(":"))
	if !ok || string(key) != frame.ContentLength {
		return 0, false, nil
	}
	n, err := strconv.Atoi(string(value))
	if err != nil || n < 0 {
		return 0, false, invalid("invalid content-length %q", truncate(string(value), 32))
	}
	return n, true, nil
}

func trimEOL(line []byte) []byte {
	line = bytes.TrimSuffix(line, []byte("\n"))
	return bytes.TrimSuffix(line, []byte("\r"))
}
