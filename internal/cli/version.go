// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"runtime"

	"github.com/urfave/cli/v2"
)

// VersionResponse is the JSON output of the version command.
type VersionResponse struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
	Go        string `json:"go"`
	Platform  string `json:"platform"`
}

// VersionCommand returns the version command. It reads no config and
// makes no requests.
func VersionCommand() *cli.Command {
	return &cli.Command{
		Name:   "version",
		Usage:  "Show version information",
		Flags:  []cli.Flag{JSONFlag},
		Action: action(versionAction),
	}
}

func versionAction(c *cli.Context) error {
	resp := VersionResponse{
		Version:   Version,
		Commit:    GitCommit,
		BuildDate: BuildDate,
		Go:        runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
	if c.Bool("json") {
		return writeJSON(c.App.Writer, resp)
	}
	fmt.Fprintf(c.App.Writer, "routerchat %s (commit %s, built %s, %s %s)\n",
		resp.Version, resp.Commit, resp.BuildDate, resp.Go, resp.Platform)
	return nil
}
