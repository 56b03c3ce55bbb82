package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/great12/internal/stats"
	"github.com/zulandar/great12/internal/tracker"
	"golang.org/x/term"
)

const (
	defaultBarWidth = 24
	maxBarWidth     = 40
)

func newStatusCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the 12-week overview",
		Long:  "Displays overall progress, the current week and time remaining, and a progress bar per week.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Great12 config file")
	return cmd
}

func runStatus(cmd *cobra.Command, configPath string) error {
	a, err := loadApp(configPath, io.Discard)
	if err != nil {
		return err
	}
	defer a.store.Close()

	if err := a.store.Start(cmd.Context()); err != nil {
		return err
	}
	a.store.Wait()

	out := cmd.OutOrStdout()
	fmt.Fprint(out, formatStatus(a.store.Snapshot(), time.Now(), barWidth(out)))
	return nil
}

// barWidth sizes progress bars to the terminal, or a fixed width when out is
// not a terminal.
func barWidth(out io.Writer) int {
	f, ok := out.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return defaultBarWidth
	}
	cols, _, err := term.GetSize(int(f.Fd()))
	if err != nil {
		return defaultBarWidth
	}
	// "Week 12  " + bar + "  3/4  75% warning"
	w := cols - 30
	if w < 10 {
		w = 10
	}
	return min(w, maxBarWidth)
}

// formatStatus renders the overview for one snapshot.
func formatStatus(snap tracker.Snapshot, now time.Time, width int) string {
	var b strings.Builder
	switch snap.Phase {
	case tracker.PhaseLoggedOut:
		b.WriteString("Not signed in. Run `g12 login`.\n")
		return b.String()
	case tracker.PhaseNeedsOnboarding:
		b.WriteString("No active cycle. Start one from the app with three goals.\n")
		return b.String()
	case tracker.PhaseLoading, tracker.PhaseUninitialized:
		b.WriteString("Still loading; try again.\n")
		return b.String()
	}

	d := stats.Summarize(snap.State, now)
	name := "Your"
	if p := snap.State.Profile; p != nil && p.Nickname != "" {
		name = p.Nickname + "'s"
	}
	fmt.Fprintf(&b, "%s 12 weeks", name)
	if snap.State.StartDate != nil {
		fmt.Fprintf(&b, " (from %s)", snap.State.StartDate.Format("Jan 2, 2006"))
	}
	b.WriteString("\n")
	if snap.Offline {
		b.WriteString("(offline: showing the last saved copy)\n")
	}
	fmt.Fprintf(&b, "Week %d of 12", d.CurrentWeek)
	if d.Remaining != "" {
		fmt.Fprintf(&b, ", %s left", d.Remaining)
	}
	fmt.Fprintf(&b, "\nOverall: %d%% across %d weeks with actions\n\n", d.OverallPercent, d.WeeksWithAction)

	for _, g := range snap.State.Goals {
		fmt.Fprintf(&b, "  * %s\n", g.Title)
	}
	if len(snap.State.Goals) > 0 {
		b.WriteString("\n")
	}

	for _, row := range d.Weeks {
		marker := " "
		if row.Week == d.CurrentWeek {
			marker = ">"
		}
		fmt.Fprintf(&b, "%s Week %-2d  %s", marker, row.Week, bar(row.Progress, width))
		if row.Total == 0 {
			b.WriteString("  -\n")
			continue
		}
		fmt.Fprintf(&b, "  %d/%d  %3.0f%% %s\n", row.Completed, row.Total, row.Progress, row.Status)
	}
	return b.String()
}

func bar(percent float64, width int) string {
	filled := int(percent / 100 * float64(width))
	filled = max(0, min(filled, width))
	return "[" + strings.Repeat("#", filled) + strings.Repeat(".", width-filled) + "]"
}
