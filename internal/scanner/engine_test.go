package scanner

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jfhorsma/sdrscand/internal/config"
	"github.com/jfhorsma/sdrscand/internal/logger"
)

// fakeDetector returns a scripted sequence of (present, strength) pairs per
// call, repeating the last entry once exhausted.
type fakeDetector struct {
	mu      sync.Mutex
	script  []detectResult
	calls   int
}

type detectResult struct {
	present  bool
	strength float64
}

func (f *fakeDetector) Detect(ctx context.Context, entry FrequencyEntry) (bool, float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	if i >= len(f.script) {
		i = len(f.script) - 1
	}
	f.calls++
	r := f.script[i]
	return r.present, r.strength
}

// fakePipeline is an in-memory Pipeline stub tracking at most one session.
type fakePipeline struct {
	mu        sync.Mutex
	recording bool
	session   RecordingSession
	assembled []string // target paths that were "assembled"
}

func (p *fakePipeline) StartRecording(ctx context.Context, entry FrequencyEntry) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.recording = true
	p.session = RecordingSession{
		FreqMHz:    entry.FreqMHz,
		Mode:       entry.Mode,
		Label:      entry.Label,
		StartTime:  time.Now().UTC(),
		ChunkPaths: []string{"chunk_part000.ogg"},
	}
	return nil
}

func (p *fakePipeline) StopRecording(ctx context.Context) (RecordingSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.recording = false
	return p.session, nil
}

func (p *fakePipeline) IsRecording() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.recording
}

func (p *fakePipeline) AssembleSession(ctx context.Context, chunkPaths []string, targetPath string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.assembled = append(p.assembled, targetPath)
	return nil
}

func (p *fakePipeline) CurrentSession() (RecordingSession, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.session, p.recording
}

func (p *fakePipeline) CTCSSFor(freqMHz float64) (float64, bool) {
	return 0, false
}

type fakeMonitor struct {
	snap ThrottleSnapshot
}

func (m *fakeMonitor) MonitorAndAdjust(ctx context.Context) error { return nil }
func (m *fakeMonitor) Snapshot() ThrottleSnapshot                 { return m.snap }

type staticResolver map[string][]FrequencyEntry

func (r staticResolver) Resolve(name string) ([]FrequencyEntry, bool) {
	e, ok := r[name]
	return e, ok
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	l, err := logger.New(logger.Config{Level: "error", Format: "console"})
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	return l
}

func baseConfig() config.ScannerConfig {
	return config.ScannerConfig{
		DefaultDwellSeconds:       0.02,
		ScanDelaySeconds:          0.02,
		MaxSessionDurationSeconds: 300,
		SignalTimeoutSeconds:      0.2,
	}
}

// S1 — single-frequency detection: detector always returns present, a
// recording should be started and a detection should remain visible.
func TestScenario_SingleFrequencyDetection(t *testing.T) {
	det := &fakeDetector{script: []detectResult{{true, -35}}}
	pipe := &fakePipeline{}
	eng := NewEngine(testLogger(t), baseConfig(), Deps{
		Detector:        det,
		Pipeline:        pipe,
		ResourceMonitor: &fakeMonitor{},
		Resolver:        staticResolver{},
		RecordingsDir:   "/tmp/recordings",
	})

	if err := eng.StartScan(StartRequest{CustomFrequencies: []FrequencyEntry{{FreqMHz: 162.4, Mode: ModeNFM, Label: "WX1"}}}); err != nil {
		t.Fatalf("StartScan: %v", err)
	}
	time.Sleep(150 * time.Millisecond)

	dets := eng.GetDetections()
	if len(dets) != 1 {
		t.Fatalf("expected 1 detection, got %d", len(dets))
	}
	if dets[0].FreqMHz != 162.4 {
		t.Errorf("expected freq 162.4, got %v", dets[0].FreqMHz)
	}
	if time.Since(dets[0].LastSeen) > 500*time.Millisecond {
		t.Errorf("last_seen too old: %v", dets[0].LastSeen)
	}

	if err := eng.StopScan(); err != nil {
		t.Fatalf("StopScan: %v", err)
	}

	if len(pipe.assembled) == 0 {
		t.Error("expected a session to be assembled on stop")
	}

	dets = eng.GetDetections()
	if len(dets) != 1 || dets[0].RecordingID == "" {
		t.Errorf("expected detection with a recording id after stop, got %+v", dets)
	}
}

// S2 — silence timeout: signal present once then silent; after the signal
// timeout elapses the session should be stopped and assembled.
func TestScenario_SilenceTimeout(t *testing.T) {
	det := &fakeDetector{script: []detectResult{{true, -35}, {false, -50}}}
	pipe := &fakePipeline{}
	cfg := baseConfig()
	cfg.SignalTimeoutSeconds = 0.05
	cfg.DefaultDwellSeconds = 0.02

	eng := NewEngine(testLogger(t), cfg, Deps{
		Detector:        det,
		Pipeline:        pipe,
		ResourceMonitor: &fakeMonitor{},
		Resolver:        staticResolver{},
		RecordingsDir:   "/tmp/recordings",
	})

	if err := eng.StartScan(StartRequest{CustomFrequencies: []FrequencyEntry{{FreqMHz: 162.4, Mode: ModeNFM, Label: "WX1"}}}); err != nil {
		t.Fatalf("StartScan: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(pipe.assembled) > 0 && !pipe.IsRecording() {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	_ = eng.StopScan()

	if len(pipe.assembled) == 0 {
		t.Fatal("expected session to be assembled after silence timeout")
	}
	if pipe.IsRecording() {
		t.Error("expected recording state to be idle after silence timeout")
	}
}

// S3 — frequency switch: two frequencies, switching should produce two
// distinct assembled sessions in start-order.
func TestScenario_FrequencySwitch(t *testing.T) {
	pipe := &fakePipeline{}
	// detect present on every probe; the scan list alternates A and B, so
	// each visit switches the session to the other frequency.
	calls := 0
	det := detectorFunc(func(ctx context.Context, e FrequencyEntry) (bool, float64) {
		calls++
		return true, -35
	})

	cfg := baseConfig()
	eng := NewEngine(testLogger(t), cfg, Deps{
		Detector:        det,
		Pipeline:        pipe,
		ResourceMonitor: &fakeMonitor{},
		Resolver:        staticResolver{},
		RecordingsDir:   "/tmp/recordings",
	})

	err := eng.StartScan(StartRequest{CustomFrequencies: []FrequencyEntry{
		{FreqMHz: 146.52, Mode: ModeNFM, Label: "A"},
		{FreqMHz: 446.0, Mode: ModeNFM, Label: "B"},
	}})
	if err != nil {
		t.Fatalf("StartScan: %v", err)
	}
	time.Sleep(150 * time.Millisecond)
	_ = eng.StopScan()

	if calls == 0 {
		t.Fatal("detector was never invoked")
	}
	if len(pipe.assembled) < 2 {
		t.Fatalf("expected at least two assembled sessions across a frequency switch, got %d", len(pipe.assembled))
	}
	if !strings.Contains(pipe.assembled[0], "146_5200_A") || !strings.Contains(pipe.assembled[1], "446_0000_B") {
		t.Errorf("expected A's session assembled before B's, got %v", pipe.assembled)
	}
}

type detectorFunc func(ctx context.Context, e FrequencyEntry) (bool, float64)

func (f detectorFunc) Detect(ctx context.Context, e FrequencyEntry) (bool, float64) {
	return f(ctx, e)
}

// S5 — paused state: no probes occur while paused.
func TestScenario_Paused(t *testing.T) {
	det := &fakeDetector{script: []detectResult{{false, -50}}}
	pipe := &fakePipeline{}
	mon := &fakeMonitor{snap: ThrottleSnapshot{Paused: true}}

	eng := NewEngine(testLogger(t), baseConfig(), Deps{
		Detector:        det,
		Pipeline:        pipe,
		ResourceMonitor: mon,
		Resolver:        staticResolver{},
		RecordingsDir:   "/tmp/recordings",
	})

	if err := eng.StartScan(StartRequest{CustomFrequencies: []FrequencyEntry{{FreqMHz: 162.4, Mode: ModeNFM}}}); err != nil {
		t.Fatalf("StartScan: %v", err)
	}
	time.Sleep(200 * time.Millisecond)

	det.mu.Lock()
	calls := det.calls
	det.mu.Unlock()
	if calls != 0 {
		t.Errorf("expected no probes while paused, got %d", calls)
	}

	mon.snap.Paused = false
	// the loop is still inside its 5s paused sleep; it probes on the
	// iteration after that sleep ends.
	deadline := time.Now().Add(6 * time.Second)
	for {
		det.mu.Lock()
		calls = det.calls
		det.mu.Unlock()
		if calls > 0 || time.Now().After(deadline) {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	if calls == 0 {
		t.Error("expected probing to resume after unpausing")
	}

	_ = eng.StopScan()
}

// S6 — wrap-around: all negative, every frequency visited at least once.
func TestScenario_WrapAround(t *testing.T) {
	det := &fakeDetector{script: []detectResult{{false, -50}}}
	pipe := &fakePipeline{}
	cfg := baseConfig()
	cfg.ScanDelaySeconds = 0.01

	eng := NewEngine(testLogger(t), cfg, Deps{
		Detector:        det,
		Pipeline:        pipe,
		ResourceMonitor: &fakeMonitor{},
		Resolver:        staticResolver{},
		RecordingsDir:   "/tmp/recordings",
	})

	if err := eng.StartScan(StartRequest{CustomFrequencies: []FrequencyEntry{
		{FreqMHz: 100, Mode: ModeFM}, {FreqMHz: 200, Mode: ModeFM}, {FreqMHz: 300, Mode: ModeFM},
	}}); err != nil {
		t.Fatalf("StartScan: %v", err)
	}
	time.Sleep(200 * time.Millisecond)
	_ = eng.StopScan()

	det.mu.Lock()
	calls := det.calls
	det.mu.Unlock()
	if calls < 3 {
		t.Errorf("expected every frequency to be visited at least once, got %d probes", calls)
	}
}

// Invariant: two StartScans cannot both succeed concurrently.
func TestStartScan_RejectsConcurrentStart(t *testing.T) {
	det := &fakeDetector{script: []detectResult{{false, -50}}}
	pipe := &fakePipeline{}
	eng := NewEngine(testLogger(t), baseConfig(), Deps{
		Detector:        det,
		Pipeline:        pipe,
		ResourceMonitor: &fakeMonitor{},
		Resolver:        staticResolver{},
		RecordingsDir:   "/tmp/recordings",
	})

	if err := eng.StartScan(StartRequest{CustomFrequencies: []FrequencyEntry{{FreqMHz: 100, Mode: ModeFM}}}); err != nil {
		t.Fatalf("first StartScan: %v", err)
	}
	if err := eng.StartScan(StartRequest{CustomFrequencies: []FrequencyEntry{{FreqMHz: 100, Mode: ModeFM}}}); err != ErrAlreadyRunning {
		t.Errorf("expected ErrAlreadyRunning, got %v", err)
	}
	_ = eng.StopScan()
}

// Idempotence: StopScan when not running is a no-op returning ErrNotRunning.
func TestStopScan_NotRunning(t *testing.T) {
	eng := NewEngine(testLogger(t), baseConfig(), Deps{
		Detector:        &fakeDetector{script: []detectResult{{false, -50}}},
		Pipeline:        &fakePipeline{},
		ResourceMonitor: &fakeMonitor{},
		Resolver:        staticResolver{},
		RecordingsDir:   "/tmp/recordings",
	})
	if err := eng.StopScan(); err != ErrNotRunning {
		t.Errorf("expected ErrNotRunning, got %v", err)
	}
}

func TestStartScan_NoFrequencies(t *testing.T) {
	eng := NewEngine(testLogger(t), baseConfig(), Deps{
		Detector:        &fakeDetector{script: []detectResult{{false, -50}}},
		Pipeline:        &fakePipeline{},
		ResourceMonitor: &fakeMonitor{},
		Resolver:        staticResolver{},
		RecordingsDir:   "/tmp/recordings",
	})
	if err := eng.StartScan(StartRequest{GroupNames: []string{"nonexistent"}}); err != ErrNoFrequencies {
		t.Errorf("expected ErrNoFrequencies, got %v", err)
	}
}

func TestGetDetections_ExpiresAfterWindow(t *testing.T) {
	eng := NewEngine(testLogger(t), baseConfig(), Deps{
		Detector:        &fakeDetector{script: []detectResult{{false, -50}}},
		Pipeline:        &fakePipeline{},
		ResourceMonitor: &fakeMonitor{},
		Resolver:        staticResolver{},
		RecordingsDir:   "/tmp/recordings",
	})
	eng.detections[162.4] = &Detection{
		FreqMHz:   162.4,
		FirstSeen: time.Now().UTC().Add(-2 * time.Minute),
		LastSeen:  time.Now().UTC().Add(-90 * time.Second),
	}
	if dets := eng.GetDetections(); len(dets) != 0 {
		t.Errorf("expected expired detection to be hidden, got %+v", dets)
	}
}
