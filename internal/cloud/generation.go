// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrMissingData means the generation endpoint answered 2xx without a
// usable data object. Stats are not ready yet.
var ErrMissingData = errors.New("generation stats missing data")

// GenerationStats is the authoritative accounting for one generation.
type GenerationStats struct {
	ID               string
	Model            string
	TotalCost        float64
	PromptTokens     int
	CompletionTokens int
}

// generationEnvelope mirrors GET /generation. Numeric fields go through
// flexNumber since providers have been seen sending numbers, numeric
// strings and nulls for the same field.
type generationEnvelope struct {
	Data *struct {
		ID               string     `json:"id"`
		Model            string     `json:"model"`
		TotalCost        flexNumber `json:"total_cost"`
		TokensPrompt     flexNumber `json:"tokens_prompt"`
		TokensCompletion flexNumber `json:"tokens_completion"`
	} `json:"data"`
}

// ParseGenerationStats decodes a generation response body. It is the only
// place usage numbers are coerced: missing, null, non-numeric or negative
// values become zero. A body without a data object (or that is not JSON at
// all) yields ErrMissingData.
func ParseGenerationStats(body []byte) (GenerationStats, error) {
	var env generationEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return GenerationStats{}, fmt.Errorf("%w: %v", ErrMissingData, err)
	}
	if env.Data == nil {
		return GenerationStats{}, ErrMissingData
	}

	d := env.Data
	return GenerationStats{
		ID:               d.ID,
		Model:            d.Model,
		TotalCost:        d.TotalCost.Float(),
		PromptTokens:     d.TokensPrompt.Int(),
		CompletionTokens: d.TokensCompletion.Int(),
	}, nil
}

// flexNumber accepts a JSON number or a numeric string. Anything else
// decodes to zero without failing the surrounding document.
type flexNumber float64

// UnmarshalJSON implements json.Unmarshaler.
func (n *flexNumber) UnmarshalJSON(b []byte) error {
	*n = 0
	s := strings.TrimSpace(string(b))
	if unquoted, err := strconv.Unquote(s); err == nil {
		s = strings.TrimSpace(unquoted)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return nil
	}
	*n = flexNumber(v)
	return nil
}

// Float returns the value as a float64.
func (n flexNumber) Float() float64 {
	return float64(n)
}

// Int returns the value rounded to the nearest integer.
func (n flexNumber) Int() int {
	return int(math.Round(float64(n)))
}
