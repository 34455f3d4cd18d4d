// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"
)

// STREAMING: Pull-based SSE consumption with partial-content preservation

// readChunkSize is the size of each body read; network chunks are usually smaller.
const readChunkSize = 4096

// StreamError is a transport failure in the middle of a stream. Partial
// holds the reply text received before the failure.
type StreamError struct {
	Partial string
	Err     error
}

// Error implements the error interface.
func (e *StreamError) Error() string {
	if e.Partial != "" {
		return fmt.Sprintf("stream error (partial content received: %d chars): %v", len(e.Partial), e.Err)
	}
	return fmt.Sprintf("stream error: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *StreamError) Unwrap() error {
	return e.Err
}

// Stream is a live completion response. It owns the partial-line buffer,
// the accumulated text, the captured generation id and the terminal flag
// of one request; nothing survives into the next request.
//
// Call Next until it returns io.EOF (normal end: terminator or end of
// body) or another error (transport failure, as *StreamError). Close must
// always be called and is idempotent.
type Stream struct {
	body    io.ReadCloser
	decoder FrameDecoder
	acc     DeltaAccumulator
	chunk   []byte
	logger  *zap.Logger

	eof       bool
	finished  bool
	closeOnce sync.Once
	closeErr  error
}

// NewStream wraps an SSE response body.
func NewStream(body io.ReadCloser, logger *zap.Logger) *Stream {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Stream{
		body:   body,
		chunk:  make([]byte, readChunkSize),
		logger: logger,
	}
}

// Next returns the next update that has an effect. Comment lines, keep-alives
// and malformed events are consumed silently (malformed ones are logged).
func (s *Stream) Next() (Update, error) {
	for {
		if s.finished {
			return Update{}, io.EOF
		}

		if line, ok := s.decoder.Next(); ok {
			upd, err := s.acc.Apply(line)
			if err != nil {
				if errors.Is(err, ErrMalformedEvent) {
					s.logger.Warn("skipping malformed stream event", zap.Error(err))
					continue
				}
				s.finish()
				return Update{}, &StreamError{Partial: s.acc.Text(), Err: err}
			}
			if upd.Done {
				s.finish()
				return Update{}, io.EOF
			}
			if upd.IsZero() {
				continue
			}
			return upd, nil
		}

		if s.eof {
			// Body ended without the terminator; an unterminated trailing
			// fragment is discarded.
			s.finish()
			return Update{}, io.EOF
		}

		n, err := s.body.Read(s.chunk)
		if n > 0 {
			if _, werr := s.decoder.Write(s.chunk[:n]); werr != nil {
				s.finish()
				return Update{}, &StreamError{Partial: s.acc.Text(), Err: werr}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.eof = true
				continue
			}
			s.finish()
			return Update{}, &StreamError{Partial: s.acc.Text(), Err: err}
		}
	}
}

// Text returns the reply accumulated so far.
func (s *Stream) Text() string {
	return s.acc.Text()
}

// CorrelationID returns the captured generation id, or "".
func (s *Stream) CorrelationID() string {
	return s.acc.ID()
}

// Close releases the response body.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.body.Close()
	})
	return s.closeErr
}

func (s *Stream) finish() {
	s.finished = true
	s.decoder.Reset()
}
