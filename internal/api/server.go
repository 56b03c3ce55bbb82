// Package api serves the tracker store over HTTP: JSON routes for every store
// operation, the OAuth redirect flow, a server-sent change feed and the
// prometheus scrape endpoint.
package api

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/zulandar/great12/internal/auth"
	"github.com/zulandar/great12/internal/tracker"
	"github.com/zulandar/great12/internal/view"
)

// Tracker is the store surface driven by the routes. *tracker.Store
// satisfies it.
type Tracker interface {
	Snapshot() tracker.Snapshot
	Subscribe(fn func(tracker.Snapshot)) (unsubscribe func())
	Refresh(ctx context.Context) error
	SignOut(ctx context.Context) error
	StartNewCycle(ctx context.Context, goals []tracker.GoalInput, start time.Time) error
	FinishCurrentCycle() error
	AddAction(week int, goalID, title string) error
	UpdateAction(week int, id, title string) error
	ToggleAction(week int, id string) error
	DeleteAction(week int, id string) error
	UpdateGoal(id, title, description string) error
	DeleteGoal(id string) error
	SaveReview(week int, reviews []string) error
	UpdateProfile(nickname string) error
	RequestFeedback(week int) error
	FetchHistory(ctx context.Context) ([]view.HistoryCycle, error)
}

// Login runs the OAuth authorization-code flow. *auth.Service satisfies it.
type Login interface {
	NewState() (string, error)
	SignInURL(state string) string
	CompleteSignIn(ctx context.Context, code, state string) (*auth.Session, error)
}

var (
	_ Tracker = (*tracker.Store)(nil)
	_ Login   = (*auth.Service)(nil)
)

// StartOpts holds configuration for the API server.
type StartOpts struct {
	Tracker        Tracker
	Login          Login               // optional; /auth/login and /auth/callback are not registered without it
	Gatherer       prometheus.Gatherer // optional; /metrics is not registered without it
	Port           int
	AllowedOrigins []string
	Heartbeat      time.Duration // SSE keepalive interval, default 15s
	Now            func() time.Time
	Out            io.Writer
}

// NewRouter builds the gin engine without starting a listener.
func NewRouter(opts StartOpts) (*gin.Engine, error) {
	if opts.Tracker == nil {
		return nil, fmt.Errorf("api: tracker is required")
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = 15 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	if len(opts.AllowedOrigins) > 0 {
		corsConfig := cors.DefaultConfig()
		corsConfig.AllowOrigins = opts.AllowedOrigins
		corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
		corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
		corsConfig.AllowCredentials = true
		router.Use(cors.New(corsConfig))
	}

	registerRoutes(router, opts)
	if opts.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	}
	return router, nil
}

// Start launches the API server. It blocks until ctx is cancelled, then
// shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	if opts.Port <= 0 {
		opts.Port = 8080
	}
	router, err := NewRouter(opts)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:        fmt.Sprintf(":%d", opts.Port),
		Handler:     router,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "API listening on http://localhost:%d\n", opts.Port)
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api: %w", err)
	}
	return nil
}
