// Command scannerd is the dual-dongle SDR scanner and recorder daemon: it
// wires configuration, logging, the scanning core, and the HTTP/websocket
// boundary together, then serves until SIGINT/SIGTERM.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jfhorsma/sdrscand/internal/api"
	"github.com/jfhorsma/sdrscand/internal/audio"
	"github.com/jfhorsma/sdrscand/internal/catalog"
	"github.com/jfhorsma/sdrscand/internal/config"
	"github.com/jfhorsma/sdrscand/internal/detector"
	"github.com/jfhorsma/sdrscand/internal/logger"
	"github.com/jfhorsma/sdrscand/internal/resource"
	"github.com/jfhorsma/sdrscand/internal/scanner"
	"github.com/jfhorsma/sdrscand/internal/status"
	"github.com/jfhorsma/sdrscand/internal/telemetry"
)

// Version is injected at build time.
var Version = "dev"

func main() {
	configPath := flag.String("config", "", "path to configuration file (optional - searches configs/ and the working directory)")
	dataDir := flag.String("data-dir", "", "override storage.base_dir from the config file")
	flag.Parse()

	cfg, err := config.LoadWithFallback(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading configuration: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	if *dataDir != "" {
		cfg.Storage.BaseDir = *dataDir
	}

	log, err := logger.New(logger.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("starting scannerd", logger.String("version", Version), logger.String("config_path", *configPath))

	recordingsDir := cfg.Storage.RecordingsDir
	if recordingsDir == "" {
		recordingsDir = filepath.Join(cfg.Storage.BaseDir, "recordings")
	}
	if err := os.MkdirAll(recordingsDir, 0o755); err != nil {
		log.Error("failed to create recordings directory", logger.Error(err))
		os.Exit(1)
	}

	telemetryPath := cfg.Storage.TelemetryDB
	if telemetryPath == "" {
		telemetryPath = filepath.Join(cfg.Storage.BaseDir, "telemetry.db")
	}
	store, err := telemetry.Open(telemetryPath, log)
	if err != nil {
		log.Error("failed to open telemetry store, continuing without history", logger.Error(err))
		store = nil
	} else {
		defer store.Close()
	}

	thresholdsFn := func() config.ResourceThresholds { return cfg.Thresholds }
	var engine *scanner.Engine
	scannerCfgFn := func() config.ScannerConfig {
		if engine != nil {
			return engine.Config()
		}
		return cfg.Scanner
	}

	monitor := resource.New(log, cfg.Storage.BaseDir, recordingsDir, thresholdsFn, scannerCfgFn)
	if store != nil {
		monitor.SetRecorder(store)
	}

	det := detector.New(log, cfg.Scanner.ScannerDevice, func() int { return scannerCfgFn().DefaultSquelchDB })

	chunkSecondsFn := func() int {
		if snap := monitor.Snapshot(); snap.Active {
			return snap.ChunkDurationSeconds
		}
		return scannerCfgFn().ChunkDurationSeconds
	}

	pipeline := audio.New(log, audio.Config{
		Device:               cfg.Scanner.RTLTCPDevice,
		ChunkDurationSeconds: chunkSecondsFn,
		OpusBitrateKbps:      cfg.Scanner.OpusBitrateKbps,
		OpusSampleRate:       cfg.Scanner.OpusSampleRate,
		NiceLevel:            cfg.Scanner.NiceLevel,
		IoniceClass:          cfg.Scanner.IoniceClass,
		FFmpegThreads:        cfg.Scanner.FFmpegThreads,
		RecordingsDir:        recordingsDir,
		RTLFmPath:            "rtl_fm",
		FFmpegPath:           "ffmpeg",
		NicePath:             "nice",
		IonicePath:           "ionice",
		SoxPath:              "sox",
	})

	resolver := catalog.NewResolver()

	hub := status.NewHub(log)
	hubStop := make(chan struct{})
	go hub.Run(hubStop)

	sink := newFanoutSink(hub, store)

	engine = scanner.NewEngine(log, cfg.Scanner, scanner.Deps{
		Detector:        det,
		Pipeline:        pipeline,
		ResourceMonitor: monitor,
		Resolver:        resolver,
		Sink:            sink,
		RecordingsDir:   recordingsDir,
	})

	handler := api.NewHandler(engine, monitor, resolver, store, log)
	router := api.NewRouter(handler, hub)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSecs) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSecs) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeoutSecs) * time.Second,
	}

	go func() {
		log.Info("http server listening", logger.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server error", logger.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")

	if engine.IsRunning() {
		if err := engine.StopScan(); err != nil {
			log.Error("error stopping scan during shutdown", logger.Error(err))
		}
	}

	close(hubStop)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("http server shutdown error", logger.Error(err))
	}

	log.Info("shutdown complete")
}

// fanoutSink implements scanner.EventSink, pushing live events to the
// status hub while also appending recording lifecycle events to the
// telemetry store. store may be nil.
type fanoutSink struct {
	hub   *status.Hub
	store *telemetry.Store
}

func newFanoutSink(hub *status.Hub, store *telemetry.Store) *fanoutSink {
	return &fanoutSink{hub: hub, store: store}
}

func (s *fanoutSink) DetectionUpdated(d scanner.Detection) {
	s.hub.DetectionUpdated(d)
}

func (s *fanoutSink) RecordingStarted(freqMHz float64, label string) {
	s.hub.RecordingStarted(freqMHz, label)
	s.recordEvent(freqMHz, "started")
}

func (s *fanoutSink) RecordingStopped(freqMHz float64, sessionFile string) {
	s.hub.RecordingStopped(freqMHz, sessionFile)
	s.recordEvent(freqMHz, "stopped")
}

func (s *fanoutSink) recordEvent(freqMHz float64, event string) {
	if s.store == nil {
		return
	}
	_ = s.store.RecordRecordingEvent(telemetry.RecordingEvent{
		Timestamp: time.Now().UTC(),
		FreqMHz:   freqMHz,
		Event:     event,
	})
}
