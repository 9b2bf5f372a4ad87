package report

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/charmbracelet/lipgloss"
)

const DefaultConsoleInterval = time.Second

var (
	colorLabel = lipgloss.Color("#7aa2f7")
	colorValue = lipgloss.Color("#c0caf5")
	colorDips  = lipgloss.Color("#f7768e")
)

// Console periodically prints the latest voltage and dip count.
type Console struct {
	out      io.Writer
	src      SnapshotSource
	interval time.Duration
	logger   *slog.Logger

	label lipgloss.Style
	value lipgloss.Style
	dips  lipgloss.Style
}

// NewConsole creates a console reporter writing to out. Styling follows the
// color profile of out, so pipes and files get plain text.
func NewConsole(out io.Writer, src SnapshotSource, interval time.Duration, logger *slog.Logger) *Console {
	if interval <= 0 {
		interval = DefaultConsoleInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := lipgloss.NewRenderer(out)
	return &Console{
		out:      out,
		src:      src,
		interval: interval,
		logger:   logger,
		label:    r.NewStyle().Foreground(colorLabel),
		value:    r.NewStyle().Foreground(colorValue).Bold(true),
		dips:     r.NewStyle().Foreground(colorDips).Bold(true),
	}
}

// Line renders one report line. ok is false while the history is empty, in
// which case nothing should be printed.
func (c *Console) Line() (line string, ok bool) {
	snap := c.src.Snapshot()
	if !snap.HasVoltage {
		return "", false
	}
	return fmt.Sprintf("%s %s  %s %s",
		c.label.Render("Voltage:"), c.value.Render(fmt.Sprintf("%.4f", snap.Voltage)),
		c.label.Render("Dips:"), c.dips.Render(fmt.Sprintf("%d", snap.Dips)),
	), true
}

// Run prints a line every interval until ctx is canceled.
func (c *Console) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			line, ok := c.Line()
			if !ok {
				continue
			}
			if _, err := fmt.Fprintln(c.out, line); err != nil {
				c.logger.Warn("console write failed", "error", err)
			}
		}
	}
}
