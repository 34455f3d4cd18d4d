// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package commands

import (
	"sort"
	"strings"
	"unicode"
)

// =============================================================================
// COMPLETION
// =============================================================================

// Completion is one candidate. Value is the whole input line with the
// candidate applied.
type Completion struct {
	Value       string
	Display     string
	Description string
	Score       int
}

// ChatInfo identifies a saved chat for completion.
type ChatInfo struct {
	ID   string
	Name string
}

// =============================================================================
// COMPLETER
// =============================================================================

// Completer handles tab completion for commands and arguments.
type Completer struct {
	registry *Registry

	// Set by the screen; nil means no candidates of that kind.
	ModelsFn    func() []string
	ProvidersFn func() []string
	ChatsFn     func() []ChatInfo
}

// NewCompleter creates a new completer with the given registry.
func NewCompleter(registry *Registry) *Completer {
	return &Completer{registry: registry}
}

// Complete returns candidates for the input line, best first.
func (c *Completer) Complete(input string) []Completion {
	input = strings.TrimLeftFunc(input, unicode.IsSpace)
	if !strings.HasPrefix(input, "/") || c.registry == nil {
		return nil
	}

	end := strings.IndexFunc(input, unicode.IsSpace)
	if end == -1 {
		return c.completeCommands(input)
	}

	cmd := c.registry.Get(input[:end])
	if cmd == nil || len(cmd.Args) == 0 {
		return nil
	}
	partial := strings.TrimLeftFunc(input[end:], unicode.IsSpace)
	if !cmd.Rest && strings.IndexFunc(partial, unicode.IsSpace) >= 0 {
		// only the first argument completes
		return nil
	}

	var completions []Completion
	switch arg := cmd.Args[0]; arg.Type {
	case ArgTypeModel:
		completions = c.completeModels(partial)
	case ArgTypeProvider:
		completions = c.completeFromList(call(c.ProvidersFn), partial)
	case ArgTypeChat:
		completions = c.completeChats(partial)
	case ArgTypeEnum:
		completions = c.completeFromList(arg.Values, partial)
	}

	prefix := input[:end] + " "
	for i := range completions {
		completions[i].Value = prefix + completions[i].Value
	}
	return completions
}

func call(fn func() []string) []string {
	if fn == nil {
		return nil
	}
	return fn()
}

// completeCommands matches command names and aliases. A command is listed
// once, under the canonical name when that matches.
func (c *Completer) completeCommands(partial string) []Completion {
	partial = strings.ToLower(partial)

	var completions []Completion
	for _, cmd := range c.registry.All() {
		name := ""
		for _, candidate := range append([]string{cmd.Name}, cmd.Aliases...) {
			if strings.HasPrefix(strings.ToLower(candidate), partial) {
				name = candidate
				break
			}
		}
		if name == "" {
			continue
		}

		value := name
		if len(cmd.Args) > 0 {
			value += " "
		}
		completions = append(completions, Completion{
			Value:       value,
			Display:     cmd.usage(),
			Description: cmd.Description,
			Score:       calculateScore(name, partial),
		})
	}

	sortCompletions(completions)
	return completions
}

// completeModels matches the full id or the part after the provider, so
// "gpt" finds "openai/gpt-4o".
func (c *Completer) completeModels(partial string) []Completion {
	partial = strings.ToLower(partial)

	var completions []Completion
	for _, id := range call(c.ModelsFn) {
		lower := strings.ToLower(id)
		_, tail, _ := strings.Cut(lower, "/")

		var score int
		switch {
		case strings.HasPrefix(lower, partial):
			score = calculateScore(lower, partial)
		case tail != "" && strings.HasPrefix(tail, partial):
			score = calculateScore(tail, partial) - 5
		default:
			continue
		}
		completions = append(completions, Completion{Value: id, Display: id, Score: score})
	}

	sortCompletions(completions)
	return completions
}

// completeChats matches an id prefix or a name substring.
func (c *Completer) completeChats(partial string) []Completion {
	if c.ChatsFn == nil {
		return nil
	}
	partial = strings.ToLower(partial)

	var completions []Completion
	for _, chat := range c.ChatsFn() {
		idMatch := strings.HasPrefix(chat.ID, partial)
		nameMatch := strings.Contains(strings.ToLower(chat.Name), partial)
		if !idMatch && !nameMatch {
			continue
		}

		score := calculateScore(chat.ID, partial)
		if nameMatch && !idMatch {
			score -= 5
		}
		display := chat.ID
		if chat.Name != "" {
			display = chat.ID + " - " + truncate(chat.Name, 30)
		}
		completions = append(completions, Completion{
			Value:   chat.ID,
			Display: display,
			Score:   score,
		})
	}

	sortCompletions(completions)
	return completions
}

// completeFromList returns prefix matches from a list of strings.
func (c *Completer) completeFromList(values []string, partial string) []Completion {
	partial = strings.ToLower(partial)

	var completions []Completion
	for _, value := range values {
		if strings.HasPrefix(strings.ToLower(value), partial) {
			completions = append(completions, Completion{
				Value:   value,
				Display: value,
				Score:   calculateScore(value, partial),
			})
		}
	}

	sortCompletions(completions)
	return completions
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// calculateScore ranks a prefix match. Higher is better; shorter values
// win ties.
func calculateScore(value, partial string) int {
	value = strings.ToLower(value)
	partial = strings.ToLower(partial)

	score := 100
	if value == partial {
		return score + 100
	}
	if strings.HasPrefix(value, partial) {
		score += 50
		score += 20 - len(value)
	}
	score -= len(value) / 2
	return score
}

// sortCompletions sorts completions by score (descending), then alphabetically.
func sortCompletions(completions []Completion) {
	sort.SliceStable(completions, func(i, j int) bool {
		if completions[i].Score != completions[j].Score {
			return completions[i].Score > completions[j].Score
		}
		return completions[i].Value < completions[j].Value
	})
}

// truncate shortens s to maxLen runes.
func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen-3]) + "..."
}

// =============================================================================
// COMPLETION NAVIGATION
// =============================================================================

// CompletionState remembers the candidates offered by the last Tab so
// the next Tab can cycle through them.
type CompletionState struct {
	OriginalInput string
	Completions   []Completion
	Selected      int
	Visible       bool
}

// Update replaces the candidates and selects the first one.
func (cs *CompletionState) Update(input string, completions []Completion) {
	cs.OriginalInput = input
	cs.Completions = completions
	cs.Selected = 0
	cs.Visible = len(completions) > 0
}

// Next moves to the next completion.
func (cs *CompletionState) Next() {
	if len(cs.Completions) == 0 {
		return
	}
	cs.Selected = (cs.Selected + 1) % len(cs.Completions)
}

// Prev moves to the previous completion.
func (cs *CompletionState) Prev() {
	if len(cs.Completions) == 0 {
		return
	}
	cs.Selected--
	if cs.Selected < 0 {
		cs.Selected = len(cs.Completions) - 1
	}
}

// Accept returns the selected completion value, or "" if there is none.
func (cs *CompletionState) Accept() string {
	if sel := cs.GetSelected(); sel != nil {
		return sel.Value
	}
	return ""
}

// Showing reports whether input is the candidate currently applied, i.e.
// the user has not typed since the last Tab.
func (cs *CompletionState) Showing(input string) bool {
	return cs.Visible && input == cs.Accept()
}

// Clear clears the completion state.
func (cs *CompletionState) Clear() {
	*cs = CompletionState{}
}

// GetSelected returns the currently selected completion, or nil.
func (cs *CompletionState) GetSelected() *Completion {
	if cs.Selected < 0 || cs.Selected >= len(cs.Completions) {
		return nil
	}
	return &cs.Completions[cs.Selected]
}
