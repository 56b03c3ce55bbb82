package main

import (
	"fmt"
	"io"
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/zulandar/great12/internal/ai"
	"github.com/zulandar/great12/internal/auth"
	"github.com/zulandar/great12/internal/config"
	"github.com/zulandar/great12/internal/db"
	"github.com/zulandar/great12/internal/localstore"
	"github.com/zulandar/great12/internal/metrics"
	"github.com/zulandar/great12/internal/records"
	"github.com/zulandar/great12/internal/tracker"
	"gorm.io/gorm"
)

// app is the wired object graph shared by the commands that need a store.
type app struct {
	cfg      *config.Config
	db       *gorm.DB
	auth     *auth.Service
	store    *tracker.Store
	registry *prometheus.Registry
}

func connectFromConfig(configPath string) (*config.Config, *gorm.DB, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	gormDB, err := db.Open(cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	return cfg, gormDB, nil
}

// loadApp wires config, database, authenticator, generator, fallback and
// metrics into an unstarted store.
func loadApp(configPath string, logOut io.Writer) (*app, error) {
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		return nil, err
	}

	authSvc, err := auth.NewService(auth.ServiceOpts{DB: gormDB, Config: cfg.Auth})
	if err != nil {
		return nil, fmt.Errorf("auth not configured in %s: %w", configPath, err)
	}
	recs, err := records.New(gormDB)
	if err != nil {
		return nil, err
	}
	policy, err := tracker.PolicyFromConfig(cfg.Sync)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	syncMetrics, err := metrics.NewSync(reg)
	if err != nil {
		return nil, err
	}

	opts := tracker.Opts{
		Records: recs,
		Auth:    authSvc,
		Metrics: syncMetrics,
		Logger:  log.New(logOut, "", log.LstdFlags),
		Policy:  policy,
	}
	if cfg.AI.Endpoint != "" {
		gen, err := ai.NewClient(ai.ClientOpts{
			Endpoint:      cfg.AI.Endpoint,
			Token:         cfg.AI.Token,
			Timeout:       time.Duration(cfg.AI.TimeoutSec) * time.Second,
			CacheSize:     cfg.AI.CacheSize,
			RatePerMinute: cfg.AI.RatePerMinute,
		})
		if err != nil {
			return nil, err
		}
		opts.Generator = gen
	}
	if !cfg.Fallback.Disabled {
		fb, err := localstore.New(cfg.Fallback.Dir)
		if err != nil {
			return nil, err
		}
		opts.Fallback = fb
	}

	store, err := tracker.New(opts)
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, db: gormDB, auth: authSvc, store: store, registry: reg}, nil
}
