// traviz-tui is the interactive trace viewer.
//
// Usage:
//
//	traviz-tui [flags]
//
// Flags:
//
//	--file      Trace file to open on start
//	--config    Path to traviz.yaml (default: ./traviz.yaml or ~/.traviz/traviz.yaml)
//	--db        Path to the catalog database (default: ~/.traviz/catalog.db)
//	--metrics   HTTP address for the status server; empty disables it
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"github.com/Mr-Dark-debug/traviz/internal/catalog"
	"github.com/Mr-Dark-debug/traviz/internal/collector"
	"github.com/Mr-Dark-debug/traviz/internal/config"
	"github.com/Mr-Dark-debug/traviz/internal/database"
	"github.com/Mr-Dark-debug/traviz/internal/logging"
	"github.com/Mr-Dark-debug/traviz/internal/session"
	"github.com/Mr-Dark-debug/traviz/internal/telemetry"
	"github.com/Mr-Dark-debug/traviz/internal/tui"
)

func main() {
	filePath := flag.String("file", "", "Trace file to open on start")
	configPath := flag.String("config", "", "Path to configuration file")
	dbPath := flag.String("db", "", "Path to catalog database (overrides config)")
	metricsAddr := flag.String("metrics", "", "Status server address (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *dbPath != "" {
		cfg.Storage.DBPath = *dbPath
	}
	if *metricsAddr != "" {
		cfg.Metrics.Addr = *metricsAddr
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to initialize logging: %v", err)
	}
	defer logger.Sync()

	// Ensure the database directory exists
	if err := os.MkdirAll(filepath.Dir(cfg.Storage.DBPath), 0o755); err != nil {
		log.Fatalf("Failed to create database directory: %v", err)
	}
	store, err := database.NewDBService(cfg.Storage.DBPath)
	if err != nil {
		log.Fatalf("Failed to open catalog at %s: %v", cfg.Storage.DBPath, err)
	}
	defer store.Close()

	cat, err := catalog.Assemble(cfg, store, logger)
	if err != nil {
		log.Fatalf("Failed to load modes: %v", err)
	}

	var observer session.Observer
	metrics := telemetry.NewMetrics()
	if cfg.Metrics.Addr != "" {
		observer = metrics
	}
	sess, err := session.New(cat.SessionOptions(cfg, logger, observer))
	if err != nil {
		log.Fatalf("Failed to create session: %v", err)
	}
	defer sess.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Metrics.Addr != "" {
		go func() {
			if err := telemetry.Serve(ctx, cfg.Metrics.Addr, telemetry.NewRouter(metrics, sess), logger); err != nil {
				logger.Error("status server stopped", zap.Error(err))
			}
		}()
	}

	model := tui.NewModel(ctx, tui.Options{
		Session:     sess,
		LabelWidth:  cfg.UI.LabelWidth,
		Catalog:     store,
		Collector:   collector.NewClient(cfg.Collector.URL, cfg.Collector.GetTimeoutDuration(), logger),
		InitialFile: *filePath,
		Logger:      logger,
	})
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithMouseAllMotion(), tea.WithContext(ctx))

	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error running TUI: %v\n", err)
		os.Exit(1)
	}
}
