// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// config_cmd.go - Configuration inspection and setup.
//
// Command: config
// Short:   Show or initialize the configuration
//
// Examples:
//   routerchat config show               Effective config as TOML
//   routerchat config show --format yaml Effective config as YAML
//   routerchat config init               Write ~/.routerchat/config.toml
//   routerchat config init --yaml        Write config.yaml instead
//   routerchat config path               Print the config directory

package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/jeranaias/routerchat/internal/config"
)

// ConfigCommand returns the config command with subcommands.
func ConfigCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Show or initialize the configuration",
		Subcommands: []*cli.Command{
			{
				Name:  "show",
				Usage: "Print the effective configuration (file, env and flags applied)",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "format",
						Aliases: []string{"f"},
						Usage:   "Output format: toml, yaml",
						Value:   "toml",
					},
				},
				Action: action(configShowAction),
			},
			{
				Name:  "init",
				Usage: "Write a config file with the defaults",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "yaml",
						Usage: "Write config.yaml instead of config.toml",
					},
					&cli.BoolFlag{
						Name:  "force",
						Usage: "Overwrite an existing file",
					},
				},
				Action: action(configInitAction),
			},
			{
				Name:   "path",
				Usage:  "Print the config directory",
				Action: action(configPathAction),
			},
		},
	}
}

func configShowAction(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	if c.IsSet("model") {
		cfg.Chat.DefaultModel = c.String("model")
	}

	w := c.App.Writer
	switch strings.ToLower(c.String("format")) {
	case "toml":
		return toml.NewEncoder(w).Encode(cfg)
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(cfg); err != nil {
			return err
		}
		return enc.Close()
	default:
		return usageErrorf("unknown format %q (use toml or yaml)", c.String("format"))
	}
}

func configInitAction(c *cli.Context) error {
	pathFn := config.PathTOML
	if c.Bool("yaml") {
		pathFn = config.PathYAML
	}
	path, err := pathFn()
	if err != nil {
		return err
	}

	if _, err := os.Stat(path); err == nil && !c.Bool("force") {
		return usageErrorf("%s already exists; pass --force to overwrite", path)
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}

	if err := config.Save(config.Default(), path); err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, SuccessStyle.Render("Wrote "+path))
	return nil
}

func configPathAction(c *cli.Context) error {
	dir, err := config.Dir()
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, dir)
	return nil
}
