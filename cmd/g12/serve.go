package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/great12/internal/api"
	"github.com/zulandar/great12/internal/calendar"
	"github.com/zulandar/great12/internal/tracker"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		port       int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the tracker API server",
		Long:  "Loads the signed-in user's cycle and serves the tracker over HTTP until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, port)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Great12 config file")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (overrides server.port)")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string, port int) error {
	a, err := loadApp(configPath, os.Stderr)
	if err != nil {
		return err
	}
	defer a.store.Close()
	if port <= 0 {
		port = a.cfg.Server.Port
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		fmt.Fprintf(cmd.OutOrStdout(), "\nReceived %s, shutting down...\n", sig)
		cancel()
	}()

	follow := newWeekFollower(time.Now)
	countdown, err := calendar.NewCountdown(calendar.CountdownOpts{
		Schedule: a.cfg.Countdown.Schedule,
		OnTick: func(left time.Duration) {
			log.Printf("g12: %s left this week", left.Truncate(time.Minute))
		},
		Rollover: follow.locate,
	})
	if err != nil {
		return err
	}
	follow.countdown = countdown
	unsubscribe := a.store.Subscribe(follow.observe)
	defer unsubscribe()
	defer countdown.Stop()

	if err := a.store.Start(ctx); err != nil {
		log.Printf("g12: %v", err)
	}

	return api.Start(ctx, api.StartOpts{
		Tracker:        a.store,
		Login:          a.auth,
		Gatherer:       a.registry,
		Port:           port,
		AllowedOrigins: a.cfg.Server.AllowedOrigins,
		Out:            cmd.OutOrStdout(),
	})
}

// weekFollower keeps a countdown pointed at the current week of the active
// cycle, and stops it while no cycle is active. Week rollovers between
// snapshots go through locate.
type weekFollower struct {
	mu        sync.Mutex
	countdown *calendar.Countdown
	now       func() time.Time
	start     atomic.Pointer[time.Time]
}

func newWeekFollower(now func() time.Time) *weekFollower {
	return &weekFollower{now: now}
}

func (f *weekFollower) observe(snap tracker.Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if snap.Phase != tracker.PhaseActive || snap.State.StartDate == nil {
		f.start.Store(nil)
		f.countdown.Stop()
		return
	}
	start := *snap.State.StartDate
	f.start.Store(&start)
	win, _ := f.locate(f.now())
	if win.Start.Equal(f.countdown.Window().Start) && f.countdown.Running() {
		return
	}
	f.countdown.Reset(win)
	f.countdown.Start()
}

// locate returns the current week's window of the followed cycle. Countdown
// ticks call it, so it must not take f.mu.
func (f *weekFollower) locate(now time.Time) (calendar.Window, bool) {
	start := f.start.Load()
	if start == nil {
		return calendar.Window{}, false
	}
	return calendar.WeekWindow(*start, calendar.CurrentWeekIndex(*start, now)), true
}
