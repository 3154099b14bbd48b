package ui

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
)

var (
	passStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Bold(true)
	warnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("3")).Bold(true)
	failStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	dimStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// Status is the severity of a printed line.
type Status int

const (
	Pass Status = iota
	Warn
	Fail
)

// icon returns the marker for s. Plain ASCII words are used when icons are off.
func icon(s Status, icons, color bool) string {
	var glyph, word string
	var style lipgloss.Style
	switch s {
	case Pass:
		glyph, word, style = "✓", "ok", passStyle
	case Warn:
		glyph, word, style = "⚠", "warn", warnStyle
	default:
		glyph, word, style = "✗", "fail", failStyle
	}
	mark := word
	if icons {
		mark = glyph
	}
	if color {
		return style.Render(mark)
	}
	return mark
}

// Printer writes status lines, styled according to the terminal.
type Printer struct {
	w     io.Writer
	icons bool
	color bool
}

// NewPrinter returns a Printer for w using the stdout terminal settings.
func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w, icons: ShouldUseIcons(), color: ShouldUseColor()}
}

// Line prints "<icon> <message>".
func (p *Printer) Line(s Status, format string, args ...any) {
	fmt.Fprintf(p.w, "%s %s\n", icon(s, p.icons, p.color), fmt.Sprintf(format, args...))
}

// Detail prints an indented secondary line.
func (p *Printer) Detail(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if p.color {
		msg = dimStyle.Render(msg)
	}
	fmt.Fprintf(p.w, "  %s\n", msg)
}
