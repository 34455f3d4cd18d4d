// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Package styles provides the visual styling system for the routerchat TUI.

All colors use Lip Gloss AdaptiveColor, so one palette serves both light and
dark terminals. The ui.theme setting picks the variant:

	auto   ask the terminal (termenv.HasDarkBackground)
	dark   force the dark variant
	light  force the light variant

NewTheme applies the choice globally and returns the styles along with the
matching glamour style name for markdown rendering.
*/
package styles
