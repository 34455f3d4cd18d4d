// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeltaAccumulator_IgnoresNonDataLines(t *testing.T) {
	tests := []string{
		"",
		": OPENROUTER PROCESSING",
		"event: message",
		"id: 7",
		"retry: 1000",
		"data:",
	}

	for _, line := range tests {
		var a DeltaAccumulator
		upd, err := a.Apply(line)
		require.NoError(t, err, line)
		assert.True(t, upd.IsZero(), line)
		assert.Empty(t, a.Text())
	}
}

func TestDeltaAccumulator_AccumulatesFullText(t *testing.T) {
	var a DeltaAccumulator

	upd, err := a.Apply(`data: {"id":"gen-1","choices":[{"delta":{"content":"Hel"}}]}`)
	require.NoError(t, err)
	assert.True(t, upd.IDCaptured)
	assert.Equal(t, "gen-1", upd.CorrelationID)
	assert.True(t, upd.TextChanged)
	assert.Equal(t, "Hel", upd.Text)

	upd, err = a.Apply(`data: {"id":"gen-1","choices":[{"delta":{"content":"lo"}}]}`)
	require.NoError(t, err)
	assert.False(t, upd.IDCaptured)
	assert.Equal(t, "Hello", upd.Text, "updates carry the whole reply, not the delta")
}

func TestDeltaAccumulator_DataWithoutSpace(t *testing.T) {
	var a DeltaAccumulator
	upd, err := a.Apply(`data:{"choices":[{"delta":{"content":"x"}}]}`)
	require.NoError(t, err)
	assert.Equal(t, "x", upd.Text)
}

func TestDeltaAccumulator_FirstIDWins(t *testing.T) {
	var a DeltaAccumulator

	_, _ = a.Apply(`data: {"choices":[{"delta":{"content":"a"}}]}`)
	assert.Empty(t, a.ID())

	upd, _ := a.Apply(`data: {"id":"gen-first","choices":[]}`)
	assert.True(t, upd.IDCaptured)

	upd, _ = a.Apply(`data: {"id":"gen-second","choices":[{"delta":{"content":"b"}}]}`)
	assert.False(t, upd.IDCaptured)
	assert.Equal(t, "gen-first", upd.CorrelationID)
	assert.Equal(t, "gen-first", a.ID())
}

func TestDeltaAccumulator_EmptyDeltaIsNoop(t *testing.T) {
	var a DeltaAccumulator
	_, _ = a.Apply(`data: {"id":"g","choices":[{"delta":{"content":"x"}}]}`)

	upd, err := a.Apply(`data: {"id":"g","choices":[{"delta":{"role":"assistant"}}]}`)
	require.NoError(t, err)
	assert.True(t, upd.IsZero())

	upd, err = a.Apply(`data: {"id":"g","choices":[{"delta":{"content":null}}]}`)
	require.NoError(t, err)
	assert.True(t, upd.IsZero())
	assert.Equal(t, "x", a.Text())
}

func TestDeltaAccumulator_MalformedIsRecoverable(t *testing.T) {
	var a DeltaAccumulator
	_, _ = a.Apply(`data: {"choices":[{"delta":{"content":"ok"}}]}`)

	_, err := a.Apply(`data: {"choices":[{"delta":`)
	assert.ErrorIs(t, err, ErrMalformedEvent)

	upd, err := a.Apply(`data: {"choices":[{"delta":{"content":"!"}}]}`)
	require.NoError(t, err)
	assert.Equal(t, "ok!", upd.Text)
}

func TestDeltaAccumulator_ErrorEvent(t *testing.T) {
	var a DeltaAccumulator
	_, err := a.Apply(`data: {"error":{"code":502,"message":"upstream went away"}}`)

	var evErr *StreamEventError
	require.ErrorAs(t, err, &evErr)
	assert.Equal(t, "502", evErr.Code)
	assert.Equal(t, "upstream went away", evErr.Message)
}

func TestDeltaAccumulator_DoneIsTerminal(t *testing.T) {
	var a DeltaAccumulator
	_, _ = a.Apply(`data: {"id":"g","choices":[{"delta":{"content":"fin"}}]}`)

	upd, err := a.Apply("data: [DONE]")
	require.NoError(t, err)
	assert.True(t, upd.Done)
	assert.True(t, a.Done())

	upd, err = a.Apply(`data: {"choices":[{"delta":{"content":"late"}}]}`)
	require.NoError(t, err)
	assert.True(t, upd.IsZero())
	assert.Equal(t, "fin", a.Text())
}

// Text reported across a session never shrinks and each value extends the last.
func TestDeltaAccumulator_MonotonicGrowth(t *testing.T) {
	lines := []string{
		`data: {"id":"g","choices":[{"delta":{"content":"The"}}]}`,
		": keep-alive",
		`data: {"choices":[{"delta":{"content":" quick"}}]}`,
		`data: not json`,
		`data: {"choices":[{"delta":{"content":""}}]}`,
		`data: {"choices":[{"delta":{"content":" fox"}}]}`,
	}

	var a DeltaAccumulator
	prev := ""
	for _, line := range lines {
		upd, err := a.Apply(line)
		if err != nil {
			continue
		}
		if upd.TextChanged {
			assert.Greater(t, len(upd.Text), len(prev))
			assert.Equal(t, prev, upd.Text[:len(prev)])
			prev = upd.Text
		}
	}
	assert.Equal(t, "The quick fox", prev)
}
