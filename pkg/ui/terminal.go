// Package ui renders command output for people: status lines, crawl progress and tables.
// Logs go through pkg/logger; this package only writes what a command reports as its result.
package ui

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

var (
	neonCyan    = lipgloss.Color("#00FFFF")
	neonMagenta = lipgloss.Color("#FF00FF")
	neonGreen   = lipgloss.Color("#39FF14")
	neonYellow  = lipgloss.Color("#FFFF00")
	neonRed     = lipgloss.Color("#FF3131")
	dimWhite    = lipgloss.Color("#B0B0B0")
)

type styles struct {
	err       lipgloss.Style
	success   lipgloss.Style
	label     lipgloss.Style
	value     lipgloss.Style
	warning   lipgloss.Style
	highlight lipgloss.Style
	dim       lipgloss.Style
	header    lipgloss.Style
	cell      lipgloss.Style
	border    lipgloss.Style
}

func newStyles(out io.Writer, noColor bool) styles {
	r := lipgloss.NewRenderer(out)
	base := r.NewStyle()
	if noColor {
		return styles{
			err: base, success: base, label: base, value: base, warning: base,
			highlight: base, dim: base, header: base, cell: base.Padding(0, 1), border: base,
		}
	}
	return styles{
		err:       base.Foreground(neonRed).Bold(true),
		success:   base.Foreground(neonGreen).Bold(true),
		label:     base.Foreground(neonCyan),
		value:     base.Foreground(neonYellow),
		warning:   base.Foreground(neonYellow),
		highlight: base.Foreground(neonMagenta).Bold(true),
		dim:       base.Foreground(dimWhite),
		header:    base.Foreground(neonCyan).Bold(true).Padding(0, 1),
		cell:      base.Padding(0, 1),
		border:    base.Foreground(neonMagenta),
	}
}

// Printer writes styled messages to one output.
type Printer struct {
	out    io.Writer
	quiet  bool
	styles styles
}

// NewPrinter creates a printer. In quiet mode only errors and tables are written.
func NewPrinter(out io.Writer, noColor, quiet bool) *Printer {
	return &Printer{out: out, quiet: quiet, styles: newStyles(out, noColor)}
}

func withDetail(msg string, args []interface{}) string {
	if len(args) > 0 {
		return msg + ": " + fmt.Sprint(args[0])
	}
	return msg
}

// Error prints an error message; it is shown even in quiet mode.
func (p *Printer) Error(msg string, args ...interface{}) {
	fmt.Fprintln(p.out, p.styles.err.Render(withDetail(msg, args)))
}

func (p *Printer) Warning(msg string, args ...interface{}) {
	if p.quiet {
		return
	}
	fmt.Fprintln(p.out, p.styles.warning.Render(withDetail(msg, args)))
}

func (p *Printer) Success(msg string) {
	if p.quiet {
		return
	}
	fmt.Fprintln(p.out, p.styles.success.Render(msg))
}

// Info prints a "label: value" line
func (p *Printer) Info(label, value string) {
	if p.quiet {
		return
	}
	fmt.Fprintf(p.out, "%s: %s\n", p.styles.label.Render(label), p.styles.value.Render(value))
}

func (p *Printer) Highlight(msg string) {
	if p.quiet {
		return
	}
	fmt.Fprintln(p.out, p.styles.highlight.Render(msg))
}

// Line prints an unstyled line
func (p *Printer) Line(msg string) {
	if p.quiet {
		return
	}
	fmt.Fprintln(p.out, msg)
}

// Table prints rows under headers with a rounded border.
func (p *Printer) Table(headers []string, rows [][]string) {
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(p.styles.border).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return p.styles.header
			}
			return p.styles.cell
		})
	fmt.Fprintln(p.out, t.String())
}
