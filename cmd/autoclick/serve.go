package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Phazzie/autoclick/internal/engine"
	"github.com/Phazzie/autoclick/internal/page"
	"github.com/Phazzie/autoclick/internal/scheduler"
	"github.com/Phazzie/autoclick/internal/streaming"
	"github.com/Phazzie/autoclick/pkg/mcp"
)

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	dbPath := fs.String("db-path", "", "database path (default: ~/.autoclick/autoclick.db)")
	logLevel := fs.String("log-level", "", "log level: debug, info, warn, error")
	noScheduler := fs.Bool("no-scheduler", false, "disable the cron scheduler")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	cfg := loadConfig()
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	logger := newLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg.DBPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	deps, err := buildDeps(page.NewScriptedSession(), nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	hub := streaming.NewMemoryHub()
	eng := engine.New(nil, deps, engine.Config{
		Store:  st,
		Hub:    hub,
		Logger: logger,
	})

	validator, err := newWorkflowValidator()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	var sched *scheduler.Scheduler
	if !*noScheduler {
		sched = scheduler.New(scheduler.Config{
			Store:   st,
			Runner:  eng,
			Hub:     hub,
			Logger:  logger,
			Workers: cfg.PoolSize,
			Tick:    time.Duration(cfg.TickSecs) * time.Second,
		})
		if err := sched.RecoverMissed(ctx); err != nil {
			logger.Warn("missed schedule recovery failed", "error", err)
		}
		if err := sched.Start(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer sched.Stop()
	}

	srv := mcp.NewAutoclickServer(mcp.AutoclickServerDeps{
		Engine:    eng,
		Store:     st,
		Validator: validator,
		Scheduler: sched,
		Hub:       hub,
		Logger:    logger,
	})

	logger.Info("serving MCP over stdio", "db", cfg.DBPath, "version", version)
	if err := srv.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
