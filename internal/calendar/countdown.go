package calendar

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultCountdownSchedule refreshes the remaining-time display once a minute.
const DefaultCountdownSchedule = "@every 1m"

// scheduleParser accepts standard 5-field expressions and @every descriptors.
var scheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Countdown periodically reports the time remaining in a week window. The
// owner starts it when the window is displayed and stops it on teardown;
// after Stop returns no further ticks are delivered.
type Countdown struct {
	mu       sync.Mutex
	schedule cron.Schedule
	window   Window
	now      func() time.Time
	onTick   func(time.Duration)
	rollover func(time.Time) (Window, bool)
	runner   *cron.Cron
	inflight sync.WaitGroup
}

// CountdownOpts holds parameters for NewCountdown.
type CountdownOpts struct {
	Schedule string // cron expression; defaults to DefaultCountdownSchedule
	Window   Window
	OnTick   func(remaining time.Duration)
	Now      func() time.Time // defaults to time.Now

	// Rollover, if set, is asked for the next window when a tick finds now
	// at or past the current window's End. It must not call back into the
	// Countdown.
	Rollover func(now time.Time) (Window, bool)
}

// NewCountdown validates the schedule and returns a stopped Countdown.
func NewCountdown(opts CountdownOpts) (*Countdown, error) {
	if opts.OnTick == nil {
		return nil, fmt.Errorf("calendar: countdown tick handler is required")
	}
	expr := opts.Schedule
	if expr == "" {
		expr = DefaultCountdownSchedule
	}
	sched, err := scheduleParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("calendar: parse countdown schedule %q: %w", expr, err)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Countdown{
		schedule: sched,
		window:   opts.Window,
		now:      now,
		onTick:   opts.OnTick,
		rollover: opts.Rollover,
	}, nil
}

// Start delivers one tick immediately and then one per schedule firing.
// Calling Start on a running Countdown is a no-op.
func (c *Countdown) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.runner != nil {
		return
	}
	c.startLocked()
}

func (c *Countdown) startLocked() {
	c.runner = cron.New(cron.WithParser(scheduleParser))
	c.runner.Schedule(c.schedule, cron.FuncJob(c.Tick))
	c.runner.Start()
	go c.Tick()
}

// Stop cancels the schedule and waits for a tick in progress to finish.
func (c *Countdown) Stop() {
	c.mu.Lock()
	runner := c.runner
	c.runner = nil
	c.mu.Unlock()
	if runner == nil {
		return
	}
	<-runner.Stop().Done()
	c.inflight.Wait()
}

// Reset swaps the window being counted down. A running schedule is torn down
// and replaced so no tick for the old window fires afterwards.
func (c *Countdown) Reset(w Window) {
	c.mu.Lock()
	running := c.runner
	c.runner = nil
	c.window = w
	c.mu.Unlock()

	if running == nil {
		return
	}
	<-running.Stop().Done()
	c.inflight.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.runner == nil {
		c.startLocked()
	}
}

// Running reports whether the schedule is active.
func (c *Countdown) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runner != nil
}

// Tick computes the remaining time once and reports it, moving to the
// Rollover window first when the current one has ended. Ticks that race with
// Stop are dropped.
func (c *Countdown) Tick() {
	c.mu.Lock()
	runner := c.runner
	if runner == nil {
		c.mu.Unlock()
		return
	}
	now := c.now()
	win := c.window
	rollover := c.rollover
	fn := c.onTick
	c.inflight.Add(1)
	c.mu.Unlock()
	defer c.inflight.Done()

	if rollover != nil && !now.Before(win.End) {
		if next, ok := rollover(now); ok {
			c.mu.Lock()
			if c.runner == runner && c.window.Start.Equal(win.Start) {
				c.window = next
			}
			c.mu.Unlock()
			win = next
		}
	}
	fn(TimeRemaining(win, now))
}

// Window returns the window currently counted down.
func (c *Countdown) Window() Window {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.window
}
