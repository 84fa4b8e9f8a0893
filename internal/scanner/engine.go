package scanner

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jfhorsma/sdrscand/internal/config"
	"github.com/jfhorsma/sdrscand/internal/logger"
)

// Engine is the single-writer scanner state machine: it owns the frequency
// list, the detection table, and the recording state machine, and drives
// the scan loop.
type Engine struct {
	log      *logger.Logger
	detector Detector
	pipeline Pipeline
	monitor  ResourceMonitor
	resolver GroupResolver
	sink     EventSink
	recDir   string

	mu      sync.Mutex // guards running/cancel/done/list/index — the scan-task lifecycle
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	list    []FrequencyEntry
	index   int

	cfgMu sync.RWMutex
	cfg   config.ScannerConfig

	detMu      sync.RWMutex
	detections map[float64]*Detection
}

// Deps bundles Engine's constructor dependencies.
type Deps struct {
	Detector        Detector
	Pipeline        Pipeline
	ResourceMonitor ResourceMonitor
	Resolver        GroupResolver
	Sink            EventSink
	RecordingsDir   string
}

// NewEngine constructs an idle Engine.
func NewEngine(log *logger.Logger, cfg config.ScannerConfig, d Deps) *Engine {
	sink := d.Sink
	if sink == nil {
		sink = NopEventSink{}
	}
	return &Engine{
		log:        log.Named("scanner"),
		detector:   d.Detector,
		pipeline:   d.Pipeline,
		monitor:    d.ResourceMonitor,
		resolver:   d.Resolver,
		sink:       sink,
		recDir:     d.RecordingsDir,
		cfg:        cfg,
		detections: make(map[float64]*Detection),
	}
}

// StartRequest carries StartScan's parameters.
type StartRequest struct {
	GroupNames        []string
	CustomFrequencies []FrequencyEntry
	DwellOverride     *float64
	SquelchOverride   *int
}

// StartScan composes the scan list, applies config overrides, resets the
// detection table, and starts exactly one scan task.
func (e *Engine) StartScan(req StartRequest) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return ErrAlreadyRunning
	}

	list := make([]FrequencyEntry, 0, len(req.GroupNames)+len(req.CustomFrequencies))
	for _, name := range req.GroupNames {
		entries, ok := e.resolver.Resolve(name)
		if !ok {
			e.log.Warn("unknown frequency group, skipping", logger.String("group", name))
			continue
		}
		list = append(list, entries...)
	}
	list = append(list, req.CustomFrequencies...)

	if len(list) == 0 {
		return ErrNoFrequencies
	}

	e.cfgMu.Lock()
	if req.DwellOverride != nil {
		e.cfg.DefaultDwellSeconds = *req.DwellOverride
	}
	if req.SquelchOverride != nil {
		e.cfg.DefaultSquelchDB = *req.SquelchOverride
	}
	e.cfgMu.Unlock()

	e.list = list
	e.index = 0

	e.detMu.Lock()
	e.detections = make(map[float64]*Detection)
	e.detMu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.done = make(chan struct{})
	e.running = true

	go e.runLoop(ctx, e.done)

	e.log.Info("scan started", logger.Int("frequencies", len(list)))
	return nil
}

// StopScan stops the scan task, assembling whatever recording is in
// progress, and waits for the task to terminate before returning.
func (e *Engine) StopScan() error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return ErrNotRunning
	}
	e.running = false
	cancel := e.cancel
	done := e.done
	e.mu.Unlock()

	if e.pipeline.IsRecording() {
		e.stopAndAssemble(context.Background())
	}

	cancel()
	<-done

	e.log.Info("scan stopped")
	return nil
}

// IsRunning reports whether a scan task is currently live.
func (e *Engine) IsRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// GetDetections returns detections last seen within the past 60 seconds,
// sorted by last_seen descending. Safe to call concurrently with scanning.
func (e *Engine) GetDetections() []Detection {
	e.detMu.RLock()
	defer e.detMu.RUnlock()

	now := time.Now().UTC()
	out := make([]Detection, 0, len(e.detections))
	for _, d := range e.detections {
		if now.Sub(d.LastSeen) <= detectionExpiry {
			out = append(out, *d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastSeen.After(out[j].LastSeen) })
	return out
}

// config returns a coherent snapshot of ScannerConfig.
func (e *Engine) config() config.ScannerConfig {
	e.cfgMu.RLock()
	defer e.cfgMu.RUnlock()
	return e.cfg
}

// Config returns a coherent snapshot of ScannerConfig for the API boundary.
func (e *Engine) Config() config.ScannerConfig {
	return e.config()
}

// UpdateConfig mutates the engine's scanner config; called from the
// boundary after its own validation.
func (e *Engine) UpdateConfig(cfg config.ScannerConfig) {
	e.cfgMu.Lock()
	e.cfg = cfg
	e.cfgMu.Unlock()
}

// runLoop is the scan task. Per spec.md §5, within one iteration: throttle
// sample -> index advance -> probe -> recording transition -> sleep.
func (e *Engine) runLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		if ctx.Err() != nil {
			return
		}

		if err := e.monitor.MonitorAndAdjust(ctx); err != nil {
			e.log.Warn("resource monitor sample failed", logger.Error(err))
		}
		throttle := e.monitor.Snapshot()

		if throttle.Paused {
			if !sleepCtx(ctx, 5*time.Second) {
				return
			}
			continue
		}

		entry, wrapped := e.nextFrequency(throttle.SkipFrequencies)
		if wrapped {
			cfg := e.config()
			if !sleepCtx(ctx, durationFromSeconds(cfg.ScanDelaySeconds)) {
				return
			}
			continue
		}

		present, strength := e.detector.Detect(ctx, entry)

		e.applyTransition(ctx, entry, present, strength, throttle)

		cfg := e.config()
		dwell := durationFromSeconds(cfg.DefaultDwellSeconds * throttle.DwellMultiplier)
		if !sleepCtx(ctx, dwell) {
			return
		}
	}
}

// nextFrequency returns the next frequency to probe. wrapped is true when
// the index had run past the end of the list; in that case the caller
// should sleep the scan-delay and retry rather than probe.
func (e *Engine) nextFrequency(skip int) (entry FrequencyEntry, wrapped bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.index >= len(e.list) {
		e.index = 0
		return FrequencyEntry{}, true
	}

	entry = e.list[e.index]
	e.index += skip + 1
	return entry, false
}

// applyTransition implements the Recording Transition Table of spec.md §4.1.
func (e *Engine) applyTransition(ctx context.Context, f FrequencyEntry, present bool, strength float64, throttle ThrottleSnapshot) {
	session, recording := e.pipeline.CurrentSession()

	switch {
	case !recording && present:
		e.upsertDetection(f, strength)
		if err := e.pipeline.StartRecording(ctx, f); err != nil {
			e.log.Error("recording start failed", logger.Float64("freq_mhz", f.FreqMHz), logger.Error(err))
			return
		}
		e.sink.RecordingStarted(f.FreqMHz, f.Label)

	case !recording && !present:
		// no recording action; no detection entry

	case recording && session.FreqMHz == f.FreqMHz && present:
		e.upsertDetection(f, strength)
		cfg := e.config()
		if time.Since(session.StartTime) >= durationFromSeconds(float64(cfg.MaxSessionDurationSeconds)) {
			e.stopAndAssemble(ctx)
		}

	case recording && session.FreqMHz == f.FreqMHz && !present:
		cfg := e.config()
		if time.Since(session.StartTime) > durationFromSeconds(cfg.SignalTimeoutSeconds) {
			e.stopAndAssemble(ctx)
		}
		// else: continue recording

	case recording && session.FreqMHz != f.FreqMHz && present:
		e.stopAndAssemble(ctx)
		e.upsertDetection(f, strength)
		if err := e.pipeline.StartRecording(ctx, f); err != nil {
			e.log.Error("recording start failed", logger.Float64("freq_mhz", f.FreqMHz), logger.Error(err))
			return
		}
		e.sink.RecordingStarted(f.FreqMHz, f.Label)

	case recording && session.FreqMHz != f.FreqMHz && !present:
		// leave current session running; its own timeout is evaluated when
		// it is next visited
	}
}

// stopAndAssemble stops the active recording and assembles its chunks,
// recording the result on the corresponding Detection.
func (e *Engine) stopAndAssemble(ctx context.Context) {
	session, err := e.pipeline.StopRecording(ctx)
	if err != nil {
		e.log.Error("recording stop failed", logger.Error(err))
		return
	}

	target := sessionTargetPath(e.recDir, session)
	if err := e.pipeline.AssembleSession(ctx, session.ChunkPaths, target); err != nil {
		e.log.Error("session assembly failed", logger.String("freq_mhz", fmt.Sprintf("%.4f", session.FreqMHz)), logger.Error(err))
		e.sink.RecordingStopped(session.FreqMHz, "")
		return
	}

	id := strings.TrimSuffix(filepath.Base(target), filepath.Ext(target))
	ctcssHz, hasCTCSS := e.pipeline.CTCSSFor(session.FreqMHz)

	e.detMu.Lock()
	if d, ok := e.detections[session.FreqMHz]; ok {
		d.RecordingID = id
		if hasCTCSS {
			d.CTCSSHz = ctcssHz
		}
	}
	e.detMu.Unlock()

	e.sink.RecordingStopped(session.FreqMHz, target)
}

func (e *Engine) upsertDetection(f FrequencyEntry, strength float64) {
	now := time.Now().UTC()

	e.detMu.Lock()
	d, ok := e.detections[f.FreqMHz]
	if !ok {
		d = &Detection{
			FreqMHz:   f.FreqMHz,
			Mode:      f.Mode,
			Label:     f.Label,
			FirstSeen: now,
		}
		e.detections[f.FreqMHz] = d
	}
	d.SignalStrengthDB = strength
	d.LastSeen = now
	e.detMu.Unlock()

	e.sink.DetectionUpdated(*d)
}

func sessionTargetPath(recDir string, s RecordingSession) string {
	freqStr := strings.ReplaceAll(fmt.Sprintf("%.4f", s.FreqMHz), ".", "_")
	label := s.Label
	if label == "" {
		label = "unknown"
	}
	label = strings.ReplaceAll(label, " ", "_")
	name := fmt.Sprintf("%s_%s_%s.ogg", s.StartTime.UTC().Format("20060102_150405"), freqStr, label)
	return filepath.Join(recDir, name)
}

func durationFromSeconds(s float64) time.Duration {
	if s <= 0 {
		return 0
	}
	return time.Duration(s * float64(time.Second))
}

// sleepCtx sleeps for d, returning false if ctx is cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
