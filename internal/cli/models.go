// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/jeranaias/routerchat/internal/catalog"
	"github.com/jeranaias/routerchat/internal/util"
)

// JSONFlag switches list output to JSON.
var JSONFlag = &cli.BoolFlag{
	Name:  "json",
	Usage: "Output in JSON format",
}

// ModelsCommand returns the models command.
func ModelsCommand() *cli.Command {
	return &cli.Command{
		Name:  "models",
		Usage: "List the models available to your key, with prices",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "provider",
				Aliases: []string{"p"},
				Usage:   "Only models from this provider (e.g. openai)",
			},
			&cli.StringFlag{
				Name:  "search",
				Usage: "Case-insensitive filter on id and name",
			},
			&cli.BoolFlag{
				Name:  "free",
				Usage: "Only models with no per-token price",
			},
			JSONFlag,
		},
		Action: withRuntime(modelsAction),
	}
}

// ProvidersCommand returns the providers command.
func ProvidersCommand() *cli.Command {
	return &cli.Command{
		Name:  "providers",
		Usage: "List providers (model id prefixes)",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "search",
				Usage: "Case-insensitive filter",
			},
			JSONFlag,
		},
		Action: withRuntime(providersAction),
	}
}

// modelJSON is the JSON shape of one listed model. Prices are USD per
// million tokens.
type modelJSON struct {
	ID               string  `json:"id"`
	Name             string  `json:"name"`
	Provider         string  `json:"provider"`
	ContextLength    int     `json:"context_length"`
	PromptPerMillion float64 `json:"prompt_per_million"`
	OutputPerMillion float64 `json:"completion_per_million"`
}

func modelsAction(c *cli.Context, rt *Runtime) error {
	cat, err := rt.LoadCatalog(c.Context)
	if err != nil {
		return err
	}

	models := cat.Models()
	if term := c.String("search"); term != "" {
		models = cat.FilterModels(term)
	}
	models = filterModels(models, c.String("provider"), c.Bool("free"))

	w := c.App.Writer
	if c.Bool("json") {
		out := make([]modelJSON, 0, len(models))
		for _, m := range models {
			out = append(out, modelJSON{
				ID:               m.ID,
				Name:             m.DisplayName(),
				Provider:         m.Provider(),
				ContextLength:    m.ContextLength,
				PromptPerMillion: m.PromptPrice * 1e6,
				OutputPerMillion: m.CompletionPrice * 1e6,
			})
		}
		return writeJSON(w, out)
	}

	if len(models) == 0 {
		fmt.Fprintln(w, "No models match.")
		return nil
	}
	writeModelTable(w, models, TerminalWidth())
	return nil
}

func filterModels(models []catalog.Model, provider string, freeOnly bool) []catalog.Model {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" && !freeOnly {
		return models
	}
	out := models[:0:0]
	for _, m := range models {
		if provider != "" && m.Provider() != provider {
			continue
		}
		if freeOnly && !m.IsFree() {
			continue
		}
		out = append(out, m)
	}
	return out
}

// writeModelTable prints id, name, context and per-million prices. The
// id and name columns share whatever width is left.
func writeModelTable(w io.Writer, models []catalog.Model, width int) {
	const (
		ctxCol   = 9
		priceCol = 12
	)
	flexible := width - ctxCol - 2*priceCol - 4
	if flexible < 30 {
		flexible = 30
	}
	idCol := flexible * 3 / 5
	nameCol := flexible - idCol

	header := util.PadRight("ID", idCol) + " " +
		util.PadRight("NAME", nameCol) + " " +
		util.PadRight("CONTEXT", ctxCol) + " " +
		util.PadRight("IN $/1M", priceCol) + " " +
		"OUT $/1M"
	fmt.Fprintln(w, TitleStyle.Render(header))

	for _, m := range models {
		fmt.Fprintln(w,
			util.PadRight(util.Truncate(m.ID, idCol), idCol)+" "+
				util.PadRight(util.Truncate(m.DisplayName(), nameCol), nameCol)+" "+
				util.PadRight(util.FormatTokens(m.ContextLength), ctxCol)+" "+
				util.PadRight(perMillion(m.PromptPrice), priceCol)+" "+
				perMillion(m.CompletionPrice))
	}
	fmt.Fprintln(w, DimStyle.Render(fmt.Sprintf("%d models", len(models))))
}

func perMillion(perToken float64) string {
	if perToken == 0 {
		return "free"
	}
	return util.FormatCost(perToken * 1e6)
}

func providersAction(c *cli.Context, rt *Runtime) error {
	cat, err := rt.LoadCatalog(c.Context)
	if err != nil {
		return err
	}

	providers := cat.Providers()
	if term := c.String("search"); term != "" {
		providers = cat.FilterProviders(term)
	}

	w := c.App.Writer
	if c.Bool("json") {
		return writeJSON(w, providers)
	}
	for _, p := range providers {
		fmt.Fprintf(w, "%s %s\n", util.PadRight(p, 24), DimStyle.Render(fmt.Sprintf("%d models", len(cat.ModelsForProvider(p)))))
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
