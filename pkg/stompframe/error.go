// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package stompframe

import (
	"bytes"
	"strconv"

	"github.com/go-stomp/stomp/v3/frame"
)

// InvalidFrameMessage is the message header of the ERROR frame sent on decode failures.
const InvalidFrameMessage = "Invalid frame received"

// InvalidFrameError builds the ERROR frame reporting a decode failure.
func InvalidFrameError(err error) *frame.Frame {
	f := frame.New(frame.ERROR,
		frame.Message, InvalidFrameMessage,
		frame.ContentType, "text/plain")
	if err != nil {
		f.Body = []byte(err.Error())
	}
	f.Header.Set(frame.ContentLength, strconv.Itoa(len(f.Body)))
	return f
}

// Encode serializes a frame to its wire representation.
func Encode(f *frame.Frame) ([]byte, error) {
	var buf bytes.Buffer
	if err := frame.NewWriter(&buf).Write(f); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
