// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package commands

import (
	"fmt"
	"sort"
	"strings"
)

// =============================================================================
// COMMAND DEFINITION
// =============================================================================

// ArgType tells the completer where candidates come from.
type ArgType int

const (
	ArgTypeString   ArgType = iota // free text, no completion
	ArgTypeModel                   // model id from the catalog
	ArgTypeProvider                // provider name from the catalog
	ArgTypeChat                    // saved chat id
	ArgTypeEnum                    // one of ArgDef.Values
)

// ArgDef describes one command argument.
type ArgDef struct {
	Name        string
	Required    bool
	Type        ArgType
	Description string
	Values      []string // for ArgTypeEnum
}

// Command is a slash command.
type Command struct {
	Name        string   // canonical name including the slash, e.g. "/model"
	Aliases     []string // alternative names, e.g. "/q"
	Description string
	Usage       string // shown in help; defaults to Name
	Args        []ArgDef
	Category    string

	// Rest means the text after the name is one argument, spaces and all.
	Rest bool
}

// usage returns the usage line for help output.
func (c *Command) usage() string {
	if c.Usage != "" {
		return c.Usage
	}
	return c.Name
}

// =============================================================================
// REGISTRY
// =============================================================================

// Registry holds commands keyed by lowercase name and alias.
type Registry struct {
	commands map[string]*Command
	order    []*Command
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{commands: make(map[string]*Command)}
}

// Register adds a command. A later command with the same name or alias
// replaces the earlier mapping.
func (r *Registry) Register(cmd *Command) {
	r.commands[strings.ToLower(cmd.Name)] = cmd
	for _, alias := range cmd.Aliases {
		r.commands[strings.ToLower(alias)] = cmd
	}
	r.order = append(r.order, cmd)
}

// Get returns the command for a name or alias, or nil.
func (r *Registry) Get(name string) *Command {
	if !strings.HasPrefix(name, "/") {
		name = "/" + name
	}
	return r.commands[strings.ToLower(name)]
}

// All returns the commands in registration order.
func (r *Registry) All() []*Command {
	out := make([]*Command, len(r.order))
	copy(out, r.order)
	return out
}

// Names returns every name and alias, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.commands))
	for name := range r.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ByCategory groups the commands by category.
func (r *Registry) ByCategory() map[string][]*Command {
	result := make(map[string][]*Command)
	for _, cmd := range r.order {
		category := cmd.Category
		if category == "" {
			category = "General"
		}
		result[category] = append(result[category], cmd)
	}
	return result
}

// Only returns a registry holding the named commands, in the order given.
// Unknown names are skipped.
func (r *Registry) Only(names ...string) *Registry {
	out := NewRegistry()
	for _, name := range names {
		if cmd := r.Get(name); cmd != nil {
			out.Register(cmd)
		}
	}
	return out
}

// Help renders the command list, one command per line.
func (r *Registry) Help() string {
	width := 0
	for _, cmd := range r.order {
		width = max(width, len(cmd.usage()))
	}

	var b strings.Builder
	b.WriteString("Commands:")
	for _, cmd := range r.order {
		fmt.Fprintf(&b, "\n  %-*s  %s", width, cmd.usage(), cmd.Description)
	}
	b.WriteString("\nPress Tab to complete a command or its argument.")
	return b.String()
}

// =============================================================================
// BUILT-IN COMMANDS
// =============================================================================

// Builtins returns a registry with the chat screen's commands.
func Builtins() *Registry {
	r := NewRegistry()

	r.Register(&Command{
		Name:        "/help",
		Aliases:     []string{"/?"},
		Description: "list commands",
		Category:    "General",
	})

	// Model selection
	r.Register(&Command{
		Name:        "/model",
		Aliases:     []string{"/m"},
		Description: "show or choose the model",
		Usage:       "/model [id]",
		Args:        []ArgDef{{Name: "id", Type: ArgTypeModel, Description: "model id or search term"}},
		Rest:        true,
		Category:    "Model",
	})
	r.Register(&Command{
		Name:        "/models",
		Description: "list models",
		Usage:       "/models [search]",
		Args:        []ArgDef{{Name: "search", Type: ArgTypeString}},
		Category:    "Model",
		Rest:        true,
	})
	r.Register(&Command{
		Name:        "/provider",
		Aliases:     []string{"/providers"},
		Description: "list providers, or choose one",
		Usage:       "/provider [name]",
		Args:        []ArgDef{{Name: "name", Type: ArgTypeProvider}},
		Rest:        true,
		Category:    "Model",
	})
	r.Register(&Command{
		Name:        "/system",
		Description: "show, set or clear (-) the system prompt",
		Usage:       "/system [prompt|-]",
		Args:        []ArgDef{{Name: "prompt", Type: ArgTypeString}},
		Category:    "Conversation",
		Rest:        true,
	})

	// Conversation
	r.Register(&Command{
		Name:        "/new",
		Aliases:     []string{"/clear"},
		Description: "start a new chat",
		Category:    "Conversation",
	})
	r.Register(&Command{
		Name:        "/save",
		Description: "save the chat",
		Usage:       "/save [name]",
		Args:        []ArgDef{{Name: "name", Type: ArgTypeString}},
		Category:    "Conversation",
		Rest:        true,
	})
	r.Register(&Command{
		Name:        "/chats",
		Aliases:     []string{"/list"},
		Description: "list saved chats",
		Usage:       "/chats [search]",
		Args:        []ArgDef{{Name: "search", Type: ArgTypeString}},
		Category:    "Conversation",
		Rest:        true,
	})
	r.Register(&Command{
		Name:        "/load",
		Aliases:     []string{"/resume"},
		Description: "open a saved chat",
		Usage:       "/load <id>",
		Args:        []ArgDef{{Name: "id", Required: true, Type: ArgTypeChat, Description: "chat id"}},
		Category:    "Conversation",
	})
	r.Register(&Command{
		Name:        "/delete",
		Description: "delete a saved chat",
		Usage:       "/delete <id>",
		Args:        []ArgDef{{Name: "id", Required: true, Type: ArgTypeChat, Description: "chat id"}},
		Category:    "Conversation",
	})
	r.Register(&Command{
		Name:        "/export",
		Description: "export the chat to the current directory",
		Usage:       "/export [md|json]",
		Args: []ArgDef{{
			Name:   "format",
			Type:   ArgTypeEnum,
			Values: []string{"md", "markdown", "json"},
		}},
		Category: "Conversation",
	})
	r.Register(&Command{
		Name:        "/cost",
		Description: "show the running total",
		Category:    "Conversation",
	})

	r.Register(&Command{
		Name:        "/key",
		Description: "replace the API key and reload the model list",
		Usage:       "/key <sk-or-...>",
		Args:        []ArgDef{{Name: "key", Required: true, Description: "OpenRouter API key"}},
		Category:    "General",
	})
	r.Register(&Command{
		Name:        "/quit",
		Aliases:     []string{"/q", "/exit"},
		Description: "exit",
		Category:    "General",
	})

	return r
}
