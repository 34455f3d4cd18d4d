// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"bytes"
	"errors"
	"iter"
	"strings"
)

// MaxLineSize is the largest partial line the decoder will buffer while
// waiting for a newline (64KB).
const MaxLineSize = 64 * 1024

// ErrLineTooLong is returned by FrameDecoder.Write when a single line grows
// past MaxLineSize without a terminator.
var ErrLineTooLong = errors.New("sse line exceeds maximum size")

// FrameDecoder splits a byte stream into complete lines across arbitrary
// chunk boundaries.
//
// Bytes are appended with Write; complete lines are handed out by Next or
// Lines in arrival order. A trailing fragment without a newline stays
// buffered until a later Write completes it. Since splitting only happens
// at '\n', a multi-byte rune split across two chunks is reassembled intact.
//
// The decoder never interprets line content. It is not safe for concurrent
// use; one decoder belongs to one stream.
type FrameDecoder struct {
	buf []byte
}

// Write appends a chunk. It always consumes all of p unless the pending
// partial line would exceed MaxLineSize.
func (d *FrameDecoder) Write(p []byte) (int, error) {
	d.buf = append(d.buf, p...)

	last := bytes.LastIndexByte(d.buf, '\n')
	if len(d.buf)-(last+1) > MaxLineSize {
		return len(p), ErrLineTooLong
	}
	return len(p), nil
}

// Next pops the next complete line, trimmed of surrounding whitespace
// (including the '\r' of CRLF framing). ok is false when no complete line
// is buffered.
func (d *FrameDecoder) Next() (line string, ok bool) {
	i := bytes.IndexByte(d.buf, '\n')
	if i < 0 {
		return "", false
	}
	line = strings.TrimSpace(string(d.buf[:i]))
	d.buf = d.buf[i+1:]
	if len(d.buf) == 0 {
		d.buf = d.buf[:0:0]
	}
	return line, true
}

// Lines yields buffered complete lines lazily. Stopping early leaves the
// remaining lines buffered for a later call.
func (d *FrameDecoder) Lines() iter.Seq[string] {
	return func(yield func(string) bool) {
		for {
			line, ok := d.Next()
			if !ok || !yield(line) {
				return
			}
		}
	}
}

// Buffered returns the number of bytes held, complete lines included.
func (d *FrameDecoder) Buffered() int {
	return len(d.buf)
}

// Reset discards everything buffered, including an unterminated partial
// line. Called when a stream ends.
func (d *FrameDecoder) Reset() {
	d.buf = nil
}
