// Package tui implements the traviz terminal trace viewer.
//
// It is built with Charmbracelet's BubbleTea, Lipgloss, and Bubbles
// libraries and drives a session.Session: mouse input is translated into
// viewport pointer events, keys into mode and selection changes, and every
// update renders a fresh session frame.
//
// Component architecture:
//
//	model.go     root model, message routing, Init/Update
//	input.go     mouse and keyboard translation
//	keys.go      key bindings and footer help
//	theme.go     centralized color + style definitions
//	header.go    top bar and status line
//	timeline.go  overview strip, time axis and span rows
//	detail.go    selected span metadata and analysis output
//	helpers.go   cell mapping, truncation, etc.
package tui
