// Package ui styles pd's terminal output.
package ui

import "fmt"

// ANSI256 codes.
const (
	colorAccent = 74  // blue
	colorOwn    = 114 // green
	colorWarn   = 173 // orange
	colorCmd    = 250 // light gray
	colorMuted  = 245 // medium gray
)

// kindColors gives every widget kind its own label color so mixed listings
// scan by type.
var kindColors = map[string]int{
	"chats":       110,
	"graphs":      179,
	"maps":        72,
	"texts":       252,
	"images":      176,
	"videos":      167,
	"webpages":    117,
	"datasources": 139,
}

var noColor bool

func paint(code int, s string) string {
	if noColor || s == "" {
		return s
	}
	return fmt.Sprintf("\x1b[38;5;%dm%s\x1b[0m", code, s)
}

// RenderAccent returns s in the accent (blue) color.
func RenderAccent(s string) string { return paint(colorAccent, s) }

// RenderMuted returns s in the muted (gray) color.
func RenderMuted(s string) string { return paint(colorMuted, s) }

// RenderCommand returns s styled as a command name (light gray).
func RenderCommand(s string) string { return paint(colorCmd, s) }

// RenderWarn returns s in the warning (orange) color.
func RenderWarn(s string) string { return paint(colorWarn, s) }

// RenderSender styles a live sender id. Frames this client sent are shown
// in green, everyone else's in the accent color.
func RenderSender(sender string, own bool) string {
	if own {
		return paint(colorOwn, sender)
	}
	return paint(colorAccent, sender)
}

// RenderKind styles a widget kind label. Unknown kinds are left plain.
func RenderKind(kind string) string {
	code, ok := kindColors[kind]
	if !ok {
		return kind
	}
	return paint(code, kind)
}

// ForceNoColor disables color output globally.
func ForceNoColor() {
	noColor = true
}
