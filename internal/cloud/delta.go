// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// doneSentinel is the payload that terminates an SSE completion stream.
const doneSentinel = "[DONE]"

// ErrMalformedEvent marks a data line whose payload is not valid JSON.
// It is recoverable: the line is skipped and the stream continues.
var ErrMalformedEvent = errors.New("malformed stream event")

// StreamEventError is an error object delivered inside the stream, e.g.
// when the upstream provider aborts mid-generation.
type StreamEventError struct {
	Code    string
	Message string
}

// Error implements the error interface.
func (e *StreamEventError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("provider error [%s]: %s", e.Code, e.Message)
	}
	return "provider error: " + e.Message
}

// Update is the effect of one decoded line on the accumulated reply.
type Update struct {
	// CorrelationID is the generation id; set together with IDCaptured the
	// first time an id appears and never again.
	CorrelationID string
	IDCaptured    bool

	// Text is the full accumulated reply (never a bare delta) and is only
	// meaningful when TextChanged is set.
	Text        string
	TextChanged bool

	// Done reports the terminator sentinel.
	Done bool
}

// IsZero reports an update with no effect (comments, keep-alives, empty deltas).
func (u Update) IsZero() bool {
	return !u.IDCaptured && !u.TextChanged && !u.Done
}

// chunkPayload is the subset of a completion chunk the accumulator reads.
type chunkPayload struct {
	ID      string `json:"id"`
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Error *apiErrorBody `json:"error"`
}

// DeltaAccumulator folds decoded lines into the reply text and captures the
// generation id. Text only ever grows; the id is first-seen-wins.
type DeltaAccumulator struct {
	text strings.Builder
	id   string
	done bool
}

// Apply classifies one line and folds it in.
//
// Lines that are not data lines (blank keep-alives, ":" comments, "event:"
// fields) yield a zero Update. Invalid JSON yields ErrMalformedEvent and an
// error object in the payload yields *StreamEventError; in both cases the
// accumulated state is unchanged. After the terminator every line is ignored.
func (a *DeltaAccumulator) Apply(line string) (Update, error) {
	if a.done {
		return Update{}, nil
	}

	data, ok := cutDataField(line)
	if !ok {
		return Update{}, nil
	}
	if data == doneSentinel {
		a.done = true
		return Update{Done: true, CorrelationID: a.id, Text: a.text.String()}, nil
	}
	if data == "" {
		return Update{}, nil
	}

	var chunk chunkPayload
	if err := json.Unmarshal([]byte(data), &chunk); err != nil {
		return Update{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if chunk.Error != nil {
		return Update{}, &StreamEventError{Code: chunk.Error.code(), Message: chunk.Error.Message}
	}

	var upd Update
	if a.id == "" && chunk.ID != "" {
		a.id = chunk.ID
		upd.IDCaptured = true
	}
	upd.CorrelationID = a.id

	if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
		a.text.WriteString(chunk.Choices[0].Delta.Content)
		upd.TextChanged = true
	}
	upd.Text = a.text.String()
	return upd, nil
}

// Text returns the accumulated reply.
func (a *DeltaAccumulator) Text() string {
	return a.text.String()
}

// ID returns the captured generation id, or "" if none was seen.
func (a *DeltaAccumulator) ID() string {
	return a.id
}

// Done reports whether the terminator has been seen.
func (a *DeltaAccumulator) Done() bool {
	return a.done
}

// cutDataField returns the value of an SSE "data:" field. One optional
// space after the colon is part of the marker.
func cutDataField(line string) (string, bool) {
	rest, ok := strings.CutPrefix(line, "data:")
	if !ok {
		return "", false
	}
	return strings.TrimSpace(strings.TrimPrefix(rest, " ")), true
}
