// Package ui renders command output for the terminal.
package ui

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/tracos/syncbridge/internal/bridge"
)

var (
	colorAccent = lipgloss.Color("#5B8DEF")
	colorPass   = lipgloss.Color("#50FA7B")
	colorWarn   = lipgloss.Color("#F1FA8C")
	colorFail   = lipgloss.Color("#FF5555")
	colorMuted  = lipgloss.Color("#6272A4")
)

// Printer writes styled output. Colors are dropped automatically when the
// writer is not a terminal.
type Printer struct {
	w io.Writer

	accent lipgloss.Style
	pass   lipgloss.Style
	warn   lipgloss.Style
	fail   lipgloss.Style
	muted  lipgloss.Style
	label  lipgloss.Style
}

// NewPrinter returns a Printer for w. noColor forces plain output; so does a
// non-empty NO_COLOR environment variable.
func NewPrinter(w io.Writer, noColor bool) *Printer {
	r := lipgloss.NewRenderer(w)
	if noColor || os.Getenv("NO_COLOR") != "" {
		r.SetColorProfile(termenv.Ascii)
	}
	return &Printer{
		w:      w,
		accent: r.NewStyle().Foreground(colorAccent).Bold(true),
		pass:   r.NewStyle().Foreground(colorPass),
		warn:   r.NewStyle().Foreground(colorWarn),
		fail:   r.NewStyle().Foreground(colorFail).Bold(true),
		muted:  r.NewStyle().Foreground(colorMuted),
		label:  r.NewStyle().Width(12),
	}
}

func (p *Printer) RenderAccent(s string) string { return p.accent.Render(s) }
func (p *Printer) RenderPass(s string) string   { return p.pass.Render(s) }
func (p *Printer) RenderWarn(s string) string   { return p.warn.Render(s) }
func (p *Printer) RenderFail(s string) string   { return p.fail.Render(s) }
func (p *Printer) RenderMuted(s string) string  { return p.muted.Render(s) }

// Printf writes a formatted line.
func (p *Printer) Printf(format string, args ...any) {
	fmt.Fprintf(p.w, format, args...)
}

// Report prints the outcome of a single pass.
func (p *Printer) Report(rep bridge.Report, err error) {
	title := "Sync"
	if d := string(rep.Direction); d != "" {
		title = strings.ToUpper(d[:1]) + d[1:]
	}

	switch {
	case err != nil:
		p.Printf("%s %s failed: %v\n", p.RenderFail("✗"), title, err)
		return
	case rep.Failed > 0:
		p.Printf("%s %s finished with %d failed record(s)\n", p.RenderWarn("⚠"), title, rep.Failed)
	case rep.Total == 0:
		p.Printf("%s %s: nothing to do\n", p.RenderPass("✓"), title)
		return
	default:
		p.Printf("%s %s complete in %v\n", p.RenderPass("✓"), title, rep.Duration.Round(time.Millisecond))
	}

	p.row("Total", rep.Total)
	p.row("Translated", rep.Translated)
	if rep.Direction == bridge.Outbound {
		p.row("Written", rep.Written)
		p.row("Marked", rep.Marked)
	} else {
		p.row("Upserted", rep.Written)
	}
	if rep.Failed > 0 {
		p.row("Failed", rep.Failed)
		for _, e := range rep.Errors {
			p.Printf("     %s %s\n", p.RenderFail("-"), e.Error())
		}
	}
}

// RunReport prints both passes of a run.
func (p *Printer) RunReport(rr bridge.RunReport) {
	p.Printf("%s Run %s\n", p.RenderAccent("🔄"), p.RenderMuted(rr.RunID))
	p.Report(rr.Inbound, rr.InboundErr)
	p.Report(rr.Outbound, rr.OutboundErr)
}

// Seed prints the outcome of a seed.
func (p *Printer) Seed(rep bridge.SeedReport) {
	mark := p.RenderPass("✓")
	if rep.Failed > 0 {
		mark = p.RenderWarn("⚠")
	}
	p.Printf("%s Seeded %d of %d document(s) from %d file(s)\n", mark, rep.Upserted, rep.Documents, rep.Files)
	for _, e := range rep.Errors {
		p.Printf("     %s %s\n", p.RenderFail("-"), e.Error())
	}
}

// Status describes the bridge as reported by the status command.
type Status struct {
	Store       string
	Total       int64
	Unsynced    int
	InboundDir  string
	Inbound     int
	Rejected    int
	OutboundDir string
	MarkPolicy  bridge.MarkPolicy
}

// Status prints a status summary.
func (p *Printer) Status(s Status) {
	p.Printf("\n%s Sync Bridge Status\n\n", p.RenderAccent("📊"))
	p.kv("Store", s.Store)
	p.kv("Workorders", fmt.Sprint(s.Total))
	unsynced := fmt.Sprint(s.Unsynced)
	if s.Unsynced > 0 {
		unsynced = p.RenderWarn(unsynced)
	}
	p.kv("Unsynced", unsynced)
	p.kv("Inbound", fmt.Sprintf("%s %s", s.InboundDir, p.RenderMuted(fmt.Sprintf("(%d file(s))", s.Inbound))))
	if s.Rejected > 0 {
		p.kv("Rejected", p.RenderWarn(fmt.Sprintf("%d file(s)", s.Rejected)))
	}
	p.kv("Outbound", s.OutboundDir)
	p.kv("Mark policy", string(s.MarkPolicy))
	p.Printf("\n")
}

func (p *Printer) row(name string, n int) {
	p.Printf("   %s %d\n", p.label.Render(name+":"), n)
}

func (p *Printer) kv(name, value string) {
	p.Printf("   %s %s\n", p.label.Render(name+":"), value)
}
