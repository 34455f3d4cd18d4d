// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package util

import (
	"strings"

	"github.com/mattn/go-runewidth"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// UNICODE: widths come from go-runewidth, so CJK and emoji take two
// columns and combining marks none.

// Truncate shortens s to at most width display columns, ending in "..."
// when something was cut. Newlines are flattened to spaces first.
func Truncate(s string, width int) string {
	if width <= 0 {
		return ""
	}
	s = strings.Join(strings.Fields(s), " ")
	if runewidth.StringWidth(s) <= width {
		return s
	}
	if width <= 3 {
		return runewidth.Truncate(s, width, "")
	}
	return runewidth.Truncate(s, width, "...")
}

// PadRight pads s with spaces to width display columns.
func PadRight(s string, width int) string {
	return runewidth.FillRight(s, width)
}

// Width returns the display width of s.
func Width(s string) int {
	return runewidth.StringWidth(s)
}

var printer = message.NewPrinter(language.English)

// FormatCost renders a USD amount. Sub-cent amounts keep six decimals so
// per-reply costs stay readable.
func FormatCost(usd float64) string {
	if usd != 0 && usd < 0.01 && usd > -0.01 {
		return printer.Sprintf("$%.6f", usd)
	}
	return printer.Sprintf("$%.2f", usd)
}

// FormatTokens renders a token count with digit grouping, e.g. "12,345".
func FormatTokens(n int) string {
	return printer.Sprintf("%d", n)
}
