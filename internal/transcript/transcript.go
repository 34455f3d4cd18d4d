// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package transcript

import (
	"sync"

	"github.com/jeranaias/routerchat/internal/model"
)

// Transcript is the ordered message log of one conversation.
//
// All mutation goes through Apply (or the Append/UpdateWhere primitives it
// is built on), serialized by a mutex, so a reply can stream in while the
// previous reply's usage is still being reconciled. The running cost is
// recomputed after every change.
type Transcript struct {
	mu       sync.RWMutex
	messages []model.ChatMessage
	total    float64

	// changes has capacity 1; signals coalesce while nobody is reading.
	changes chan struct{}
}

// New creates an empty transcript.
func New() *Transcript {
	return &Transcript{changes: make(chan struct{}, 1)}
}

// Apply performs one event and returns the number of entries it touched.
func (t *Transcript) Apply(ev Event) int {
	t.mu.Lock()
	n := ev.apply(t)
	if n > 0 {
		t.total = model.TotalCost(t.messages)
	}
	t.mu.Unlock()

	if n > 0 {
		t.notify()
	}
	return n
}

// Append adds an entry at the end of the log.
func (t *Transcript) Append(m model.ChatMessage) {
	t.Apply(Appended{Message: m})
}

// UpdateWhere patches every entry matching pred and returns the count.
func (t *Transcript) UpdateWhere(pred Predicate, patch func(*model.ChatMessage)) int {
	return t.Apply(patchEvent{pred: pred, patch: patch})
}

// patchEvent adapts a raw predicate/patch pair to an Event.
type patchEvent struct {
	pred  Predicate
	patch func(*model.ChatMessage)
}

func (e patchEvent) apply(t *Transcript) int {
	return t.updateWhere(e.pred, e.patch)
}

// updateWhere must be called with mu held.
func (t *Transcript) updateWhere(pred Predicate, patch func(*model.ChatMessage)) int {
	n := 0
	for i := range t.messages {
		if pred(t.messages[i]) {
			patch(&t.messages[i])
			n++
		}
	}
	return n
}

// Replace swaps the whole log, e.g. when a saved chat is loaded.
func (t *Transcript) Replace(messages []model.ChatMessage) {
	t.mu.Lock()
	t.messages = model.CloneMessages(messages)
	t.total = model.TotalCost(t.messages)
	t.mu.Unlock()
	t.notify()
}

// Clear empties the log.
func (t *Transcript) Clear() {
	t.Replace(nil)
}

// Messages returns a deep copy of the log.
func (t *Transcript) Messages() []model.ChatMessage {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return model.CloneMessages(t.messages)
}

// Find returns a copy of the entry with the given id.
func (t *Transcript) Find(id string) (model.ChatMessage, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, m := range t.messages {
		if m.ID == id {
			return model.CloneMessages([]model.ChatMessage{m})[0], true
		}
	}
	return model.ChatMessage{}, false
}

// Len returns the number of entries.
func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.messages)
}

// TotalCost returns the sum of finalized assistant costs.
func (t *Transcript) TotalCost() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.total
}

// TotalTokens returns the summed token usage of finalized replies.
func (t *Transcript) TotalTokens() model.TokenUsage {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return model.TotalTokens(t.messages)
}

// PendingCount returns the number of replies still awaiting reconciliation.
func (t *Transcript) PendingCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, m := range t.messages {
		if m.Pending {
			n++
		}
	}
	return n
}

// Changes signals after every mutation. Signals are coalesced, so a
// reader should re-snapshot rather than count.
func (t *Transcript) Changes() <-chan struct{} {
	return t.changes
}

func (t *Transcript) notify() {
	select {
	case t.changes <- struct{}{}:
	default:
	}
}
