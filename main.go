package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/uivision/button-detect/internal/config"
	"github.com/uivision/button-detect/internal/detect"
	"github.com/uivision/button-detect/internal/logger"
	"github.com/uivision/button-detect/internal/state"
	"github.com/uivision/button-detect/internal/web"
)

var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.StringVar(&configPath, "c", "", "Path to configuration file (short)")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting button detection service",
		"version", version,
		"build_time", buildTime,
		"git_commit", gitCommit,
	)

	store, err := state.NewStore(cfg.Storage.DatabasePath, cfg.Model.ClassNames, log)
	if err != nil {
		log.Error("Failed to open log store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	backend := selectBackend(cfg, log)
	log.Info("Selected inference backend", "backend", backend.Name())

	// A missing weight file or unreachable model server aborts startup.
	if err := backend.Load(); err != nil {
		log.Error("Failed to load model", "backend", backend.Name(), "error", err)
		os.Exit(1)
	}
	if closer, ok := backend.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	triage, err := detect.NewTriage(
		cfg.Triage.Dir,
		cfg.Triage.RequiredClasses,
		cfg.Triage.LowConfidenceThreshold,
		log,
	)
	if err != nil {
		log.Error("Failed to initialize triage store", "error", err)
		os.Exit(1)
	}

	detector := detect.NewDetector(detect.Params{
		Backend:      backend,
		ClassNames:   cfg.Model.ClassNames,
		Caps:         detect.CapPolicy{Caps: cfg.Model.ClassCaps, Default: cfg.Model.DefaultCap},
		Triage:       triage,
		InputSize:    cfg.Model.InputSize,
		IoUThreshold: cfg.Model.IoUThreshold,
		RemapBoxes:   *cfg.Model.RemapBoxes,
		Logger:       log,
	})

	server := web.NewServer(&cfg.Server, detector, store, log)
	server.SetVersion(version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := server.Start(ctx); err != nil {
		log.Error("Failed to start web server", "error", err)
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.Info("Received shutdown signal", "signal", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Stop(shutdownCtx); err != nil {
		log.Error("Error during shutdown", "error", err)
		os.Exit(1)
	}

	log.Info("Shutdown complete")
}

// selectBackend resolves the configured backend, probing for the ONNX
// weight file in auto mode and falling back to the remote model server
// when it is absent.
func selectBackend(cfg *config.Config, log *logger.Logger) detect.Backend {
	mode := cfg.Model.Backend
	if mode == config.BackendAuto {
		if _, err := os.Stat(cfg.Model.ONNXPath); err == nil {
			mode = config.BackendONNX
		} else {
			mode = config.BackendRemote
		}
	}

	switch mode {
	case config.BackendONNX:
		return detect.NewONNXBackend(
			cfg.Model.ONNXPath,
			cfg.Model.InputSize,
			cfg.Model.ConfidenceThreshold,
			len(cfg.Model.ClassNames),
			log,
		)
	default:
		return detect.NewRemoteBackend(cfg.Model.RemoteURL, cfg.Model.RemoteTimeout, log)
	}
}
