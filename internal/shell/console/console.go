package console

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/artpar/releasectl/internal/core/rollout"
)

// Console writes styled lines to a terminal, usually stderr. Colors are only
// emitted when the writer is a color-capable terminal.
type Console struct {
	mu       sync.Mutex
	w        io.Writer
	ok       lipgloss.Style
	fail     lipgloss.Style
	warn     lipgloss.Style
	dim      lipgloss.Style
	progress int // width of the line currently being redrawn
}

// New creates a Console writing to w.
func New(w io.Writer) *Console {
	r := lipgloss.NewRenderer(w)
	return &Console{
		w:    w,
		ok:   r.NewStyle().Foreground(lipgloss.Color("#6BCB77")),
		fail: r.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF6B6B")),
		warn: r.NewStyle().Foreground(lipgloss.Color("#FFD93D")),
		dim:  r.NewStyle().Foreground(lipgloss.Color("#888888")),
	}
}

// Lines writes each line, styled by its leading glyph.
func (c *Console) Lines(lines []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.endProgress()
	for _, line := range lines {
		fmt.Fprintln(c.w, c.style(line))
	}
}

// Progress redraws the current progress line.
func (c *Console) Progress(p rollout.Progress) {
	line := ProgressLineFor(p)

	c.mu.Lock()
	defer c.mu.Unlock()
	pad := ""
	if width := lipgloss.Width(line); width < c.progress {
		pad = strings.Repeat(" ", c.progress-width)
	}
	fmt.Fprint(c.w, "\r"+line+pad)
	c.progress = max(c.progress, lipgloss.Width(line))
}

// EndProgress terminates a progress line, if one is showing.
func (c *Console) EndProgress() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.endProgress()
}

// Errorf writes a single error line.
func (c *Console) Errorf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.endProgress()
	fmt.Fprintln(c.w, c.fail.Render("error: "+fmt.Sprintf(format, args...)))
}

func (c *Console) endProgress() {
	if c.progress > 0 {
		fmt.Fprintln(c.w)
		c.progress = 0
	}
}

func (c *Console) style(line string) string {
	trimmed := strings.TrimSpace(line)
	switch {
	case strings.HasPrefix(trimmed, GlyphOK):
		return c.ok.Render(line)
	case strings.HasPrefix(trimmed, GlyphFailed):
		return c.fail.Render(line)
	case strings.HasPrefix(trimmed, GlyphCancelled):
		return c.warn.Render(line)
	case strings.HasPrefix(line, "  "):
		return c.dim.Render(line)
	default:
		return line
	}
}
