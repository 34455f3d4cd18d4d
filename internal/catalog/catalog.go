// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package catalog

import (
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/jeranaias/routerchat/internal/cloud"
	"github.com/jeranaias/routerchat/internal/model"
)

// =============================================================================
// MODEL
// =============================================================================

// Model is one catalog entry. Prices are USD per token.
type Model struct {
	ID              string
	Name            string
	Description     string
	ContextLength   int
	PromptPrice     float64
	CompletionPrice float64
}

// Provider returns the provider prefix of the model id.
func (m Model) Provider() string {
	return model.ProviderOf(m.ID)
}

// DisplayName returns the model's name, or the last segment of its id.
func (m Model) DisplayName() string {
	if m.Name != "" {
		return m.Name
	}
	return lastSegment(m.ID)
}

// Ref returns the transcript-facing reference for the model.
func (m Model) Ref() model.ModelRef {
	return model.NewModelRef(m.ID, m.DisplayName())
}

// IsFree reports whether both prompt and completion are free.
func (m Model) IsFree() bool {
	return m.PromptPrice == 0 && m.CompletionPrice == 0
}

// FromInfo converts the API shape, parsing the decimal-string prices.
// Missing or malformed prices count as zero.
func FromInfo(info cloud.ModelInfo) Model {
	return Model{
		ID:              info.ID,
		Name:            info.Name,
		Description:     info.Description,
		ContextLength:   info.ContextLength,
		PromptPrice:     parsePrice(info.Pricing.Prompt),
		CompletionPrice: parsePrice(info.Pricing.Completion),
	}
}

func parsePrice(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}

func lastSegment(id string) string {
	if i := strings.LastIndex(id, "/"); i >= 0 {
		return id[i+1:]
	}
	return id
}

// =============================================================================
// CATALOG
// =============================================================================

// Catalog is a read-only set of models sorted by display name.
type Catalog struct {
	models []Model
	byID   map[string]int
}

// New builds a catalog. Entries without an id are dropped and duplicate
// ids keep the first occurrence.
func New(models []Model) *Catalog {
	c := &Catalog{byID: make(map[string]int, len(models))}
	for _, m := range models {
		if m.ID == "" {
			continue
		}
		if _, dup := c.byID[m.ID]; dup {
			continue
		}
		c.byID[m.ID] = 0
		c.models = append(c.models, m)
	}
	sortByName(c.models)
	for i, m := range c.models {
		c.byID[m.ID] = i
	}
	return c
}

// FromInfos builds a catalog from an API listing.
func FromInfos(infos []cloud.ModelInfo) *Catalog {
	models := make([]Model, 0, len(infos))
	for _, info := range infos {
		models = append(models, FromInfo(info))
	}
	return New(models)
}

func sortByName(models []Model) {
	slices.SortStableFunc(models, func(a, b Model) int {
		if c := strings.Compare(strings.ToLower(a.DisplayName()), strings.ToLower(b.DisplayName())); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}

// Len returns the number of models.
func (c *Catalog) Len() int {
	return len(c.models)
}

// Models returns all models sorted by display name.
func (c *Catalog) Models() []Model {
	return slices.Clone(c.models)
}

// Lookup finds a model by exact id.
func (c *Catalog) Lookup(id string) (Model, bool) {
	i, ok := c.byID[id]
	if !ok {
		return Model{}, false
	}
	return c.models[i], true
}

// DisplayName returns the name of a model id, falling back to the last
// segment of the id for unknown models.
func (c *Catalog) DisplayName(id string) string {
	if m, ok := c.Lookup(id); ok {
		return m.DisplayName()
	}
	return lastSegment(id)
}

// Providers returns the distinct providers, sorted.
func (c *Catalog) Providers() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, m := range c.models {
		p := m.Provider()
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}

// ModelsForProvider returns the provider's models sorted by display name.
func (c *Catalog) ModelsForProvider(provider string) []Model {
	var out []Model
	for _, m := range c.models {
		if m.Provider() == provider {
			out = append(out, m)
		}
	}
	return out
}

// FilterModels returns models whose id or name contains term,
// case-insensitively. An empty term matches everything.
func (c *Catalog) FilterModels(term string) []Model {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return c.Models()
	}
	var out []Model
	for _, m := range c.models {
		if strings.Contains(strings.ToLower(m.ID), term) ||
			strings.Contains(strings.ToLower(m.DisplayName()), term) {
			out = append(out, m)
		}
	}
	return out
}

// FilterProviders returns providers containing term, case-insensitively.
func (c *Catalog) FilterProviders(term string) []string {
	term = strings.ToLower(strings.TrimSpace(term))
	providers := c.Providers()
	if term == "" {
		return providers
	}
	var out []string
	for _, p := range providers {
		if strings.Contains(strings.ToLower(p), term) {
			out = append(out, p)
		}
	}
	return out
}

// DefaultModel picks the first model whose id contains one of the
// preferred substrings, trying them in order, else the first model.
// Reports false on an empty catalog.
func (c *Catalog) DefaultModel(preferred []string) (Model, bool) {
	if len(c.models) == 0 {
		return Model{}, false
	}
	for _, want := range preferred {
		want = strings.ToLower(strings.TrimSpace(want))
		if want == "" {
			continue
		}
		if m, ok := c.Lookup(want); ok {
			return m, true
		}
		for _, m := range c.models {
			if strings.Contains(strings.ToLower(m.ID), want) {
				return m, true
			}
		}
	}
	return c.models[0], true
}

// EstimateCost prices a token count with the catalog's per-token rates.
// It is a preview only; the reconciled cost is authoritative. Reports
// false for unknown models.
func (c *Catalog) EstimateCost(modelID string, promptTokens, completionTokens int) (float64, bool) {
	m, ok := c.Lookup(modelID)
	if !ok {
		return 0, false
	}
	return float64(promptTokens)*m.PromptPrice + float64(completionTokens)*m.CompletionPrice, true
}
