// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package catalog

import "github.com/jeranaias/routerchat/internal/model"

// Order says which half of the selection drives the other.
type Order int

const (
	// ModelFirst derives the provider from the chosen model.
	ModelFirst Order = iota
	// ProviderFirst picks a model within the chosen provider.
	ProviderFirst
)

// ParseOrder maps the config value ("model" or "provider") to an Order.
// Anything else is ModelFirst.
func ParseOrder(s string) Order {
	if s == "provider" {
		return ProviderFirst
	}
	return ModelFirst
}

// Selector is the current model and provider choice.
type Selector struct {
	Order    Order
	ModelID  string
	Provider string
}

// SelectModel chooses a model and makes it drive the selection.
func (s *Selector) SelectModel(c *Catalog, id string) {
	s.Order = ModelFirst
	s.ModelID = id
	s.Sync(c)
}

// SelectProvider chooses a provider and makes it drive the selection.
func (s *Selector) SelectProvider(c *Catalog, provider string) {
	s.Order = ProviderFirst
	s.Provider = provider
	s.Sync(c)
}

// Sync restores consistency after either half changed.
//
// ModelFirst: the provider becomes the model's provider.
// ProviderFirst: if the current model is not from the provider, the
// provider's first model (by display name) is selected; a provider with no
// models clears the model.
func (s *Selector) Sync(c *Catalog) {
	switch s.Order {
	case ProviderFirst:
		if s.ModelID != "" {
			if m, ok := c.Lookup(s.ModelID); ok && m.Provider() == s.Provider {
				return
			}
		}
		s.ModelID = ""
		if models := c.ModelsForProvider(s.Provider); len(models) > 0 {
			s.ModelID = models[0].ID
		}
	default:
		if s.ModelID == "" {
			return
		}
		if m, ok := c.Lookup(s.ModelID); ok {
			s.Provider = m.Provider()
			return
		}
		if p := model.ProviderOf(s.ModelID); p != "" {
			s.Provider = p
		}
	}
}

// Ref returns the selected model as a transcript reference.
func (s *Selector) Ref(c *Catalog) model.ModelRef {
	if m, ok := c.Lookup(s.ModelID); ok {
		return m.Ref()
	}
	return model.NewModelRef(s.ModelID, lastSegment(s.ModelID))
}
