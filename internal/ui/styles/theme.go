// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package styles

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// Supported ui.theme values.
const (
	ThemeAuto  = "auto"
	ThemeDark  = "dark"
	ThemeLight = "light"
)

// Theme holds the styled components of the chat screen.
type Theme struct {
	IsDark bool

	// ==========================================================================
	// HEADER
	// ==========================================================================

	Header      lipgloss.Style
	HeaderTitle lipgloss.Style
	HeaderModel lipgloss.Style

	// ==========================================================================
	// TRANSCRIPT
	// ==========================================================================

	UserLabel      lipgloss.Style
	AssistantLabel lipgloss.Style
	Body           lipgloss.Style
	ErrorBody      lipgloss.Style
	Usage          lipgloss.Style
	Pending        lipgloss.Style
	Notice         lipgloss.Style
	NoticeError    lipgloss.Style

	// ==========================================================================
	// INPUT
	// ==========================================================================

	Input         lipgloss.Style
	InputDisabled lipgloss.Style
	Spinner       lipgloss.Style

	// ==========================================================================
	// STATUS BAR
	// ==========================================================================

	StatusBar   lipgloss.Style
	StatusKey   lipgloss.Style
	StatusValue lipgloss.Style
	StatusCost  lipgloss.Style
	StatusSaved lipgloss.Style
	StatusDirty lipgloss.Style
}

// resolveDark maps a theme name to a background choice. Anything other
// than dark or light asks detect.
func resolveDark(name string, detect func() bool) bool {
	switch name {
	case ThemeDark:
		return true
	case ThemeLight:
		return false
	default:
		return detect()
	}
}

// NewTheme resolves name, makes lipgloss pick the matching side of every
// AdaptiveColor, and builds the styles.
func NewTheme(name string) *Theme {
	dark := resolveDark(name, termenv.HasDarkBackground)
	lipgloss.SetHasDarkBackground(dark)
	return buildTheme(dark)
}

// GlamourStyle names the glamour standard style for this theme.
func (t *Theme) GlamourStyle() string {
	if t.IsDark {
		return ThemeDark
	}
	return ThemeLight
}

func buildTheme(dark bool) *Theme {
	return &Theme{
		IsDark: dark,

		Header: lipgloss.NewStyle().
			Background(SurfaceDim).
			Padding(0, 1),
		HeaderTitle: lipgloss.NewStyle().
			Foreground(Cyan).
			Bold(true),
		HeaderModel: lipgloss.NewStyle().
			Foreground(TextSecondary),

		UserLabel: lipgloss.NewStyle().
			Foreground(Cyan).
			Bold(true),
		AssistantLabel: lipgloss.NewStyle().
			Foreground(Purple).
			Bold(true),
		Body: lipgloss.NewStyle().
			Foreground(TextPrimary).
			PaddingLeft(2),
		ErrorBody: lipgloss.NewStyle().
			Foreground(Rose).
			PaddingLeft(2),
		Usage: lipgloss.NewStyle().
			Foreground(TextMuted).
			Italic(true).
			PaddingLeft(2),
		Pending: lipgloss.NewStyle().
			Foreground(TextMuted).
			PaddingLeft(2),
		Notice: lipgloss.NewStyle().
			Foreground(TextSecondary),
		NoticeError: lipgloss.NewStyle().
			Foreground(Rose),

		Input: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(Cyan),
		InputDisabled: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(Overlay),
		Spinner: lipgloss.NewStyle().
			Foreground(Purple),

		StatusBar: lipgloss.NewStyle().
			Background(SurfaceDim).
			Padding(0, 1),
		StatusKey: lipgloss.NewStyle().
			Foreground(TextMuted),
		StatusValue: lipgloss.NewStyle().
			Foreground(TextPrimary),
		StatusCost: lipgloss.NewStyle().
			Foreground(Amber).
			Bold(true),
		StatusSaved: lipgloss.NewStyle().
			Foreground(Emerald),
		StatusDirty: lipgloss.NewStyle().
			Foreground(Amber),
	}
}
