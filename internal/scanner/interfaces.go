package scanner

import "context"

// Detector answers whether a transmission is present on a frequency right
// now. Implementations must never propagate errors; on failure they report
// (false, noiseFloor).
type Detector interface {
	Detect(ctx context.Context, entry FrequencyEntry) (present bool, strengthDBFS float64)
}

// Pipeline owns at most one live recording.
type Pipeline interface {
	StartRecording(ctx context.Context, entry FrequencyEntry) error
	// StopRecording terminates the active subprocesses and returns the
	// session as it stood at the moment of the stop, including the ordered
	// chunk paths on disk. The assembly target path is not part of it; the
	// engine derives that from the session itself.
	StopRecording(ctx context.Context) (RecordingSession, error)
	IsRecording() bool
	// AssembleSession concatenates chunkPaths into targetPath, deleting the
	// chunks (and any manifest) on success. A failure leaves chunks in place.
	AssembleSession(ctx context.Context, chunkPaths []string, targetPath string) error
	CurrentSession() (RecordingSession, bool)
	// CTCSSFor returns and clears the advisory CTCSS tone detected for the
	// most recently assembled session on freqMHz, if any.
	CTCSSFor(freqMHz float64) (hz float64, ok bool)
}

// ThrottleSnapshot is the coherent slice of ThrottleState the engine reads
// between suspension points.
type ThrottleSnapshot struct {
	Active               bool
	Reason               string
	DwellMultiplier      float64
	ChunkDurationSeconds int
	SkipFrequencies      int
	Paused               bool
}

// ResourceMonitor drives ThrottleState and is polled once per scan iteration.
type ResourceMonitor interface {
	MonitorAndAdjust(ctx context.Context) error
	Snapshot() ThrottleSnapshot
}

// GroupResolver resolves named frequency groups into concrete entries.
// Unknown names are reported via the ok return so callers can warn and skip.
type GroupResolver interface {
	Resolve(name string) (entries []FrequencyEntry, ok bool)
}

// EventSink receives scanner lifecycle notifications for status-push
// consumers. All methods must return promptly; implementations fan out
// asynchronously if needed.
type EventSink interface {
	DetectionUpdated(d Detection)
	RecordingStarted(freqMHz float64, label string)
	RecordingStopped(freqMHz float64, sessionFile string)
}

// NopEventSink discards all events.
type NopEventSink struct{}

func (NopEventSink) DetectionUpdated(Detection)                 {}
func (NopEventSink) RecordingStarted(freqMHz float64, label string) {}
func (NopEventSink) RecordingStopped(freqMHz float64, sessionFile string) {}
