package main

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

var colorProfile = termenv.NewOutput(os.Stdout).ColorProfile()

// supportsColor reports whether stdout can render the styles below;
// doctor and status fall back to plain glyphs when it can't.
var supportsColor = colorProfile != termenv.Ascii

var (
	passStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Bold(true)
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("3")).Bold(true)
	failStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	headStyle  = lipgloss.NewStyle().Bold(true).Underline(true)
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

func renderPass(s string) string { return withColor(passStyle, "✓ "+s) }
func renderWarn(s string) string { return withColor(warnStyle, "! "+s) }
func renderFail(s string) string { return withColor(failStyle, "✗ "+s) }
func renderHead(s string) string { return withColor(headStyle, s) }
func renderDim(s string) string  { return withColor(dimStyle, s) }

func withColor(style lipgloss.Style, s string) string {
	if !supportsColor {
		return s
	}
	return style.Render(s)
}
