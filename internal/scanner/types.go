// Package scanner owns the frequency list, the detection table, the
// recording state machine, and the scanning loop.
package scanner

import (
	"fmt"
	"time"
)

// Modulation selects a demodulator mode and sample rate.
type Modulation string

const (
	ModeNFM Modulation = "nfm"
	ModeFM  Modulation = "fm"
	ModeWFM Modulation = "wfm"
	ModeAM  Modulation = "am"
	ModeUSB Modulation = "usb"
	ModeLSB Modulation = "lsb"
)

func (m Modulation) Valid() bool {
	switch m {
	case ModeNFM, ModeFM, ModeWFM, ModeAM, ModeUSB, ModeLSB:
		return true
	}
	return false
}

// RTLSDRMinFreqMHz and RTLSDRMaxFreqMHz bound a tunable frequency.
const (
	RTLSDRMinFreqMHz = 24.0
	RTLSDRMaxFreqMHz = 1766.0
)

// FrequencyEntry is an immutable scan-list entry.
type FrequencyEntry struct {
	FreqMHz float64
	Mode    Modulation
	Label   string
	CTCSSHz float64 // 0 means unset; valid range 67..254
	DCSCode string
}

// Validate checks the invariants spec.md places on a FrequencyEntry.
func (e FrequencyEntry) Validate() error {
	if e.FreqMHz < RTLSDRMinFreqMHz || e.FreqMHz > RTLSDRMaxFreqMHz {
		return fmt.Errorf("freq_mhz %.4f out of range [%.0f, %.0f]", e.FreqMHz, RTLSDRMinFreqMHz, RTLSDRMaxFreqMHz)
	}
	if !e.Mode.Valid() {
		return fmt.Errorf("invalid modulation %q", e.Mode)
	}
	if e.CTCSSHz != 0 && (e.CTCSSHz < 67 || e.CTCSSHz > 254) {
		return fmt.Errorf("ctcss_hz %.1f out of range [67, 254]", e.CTCSSHz)
	}
	return nil
}

// Detection is a mutable entry in the engine's detection table, keyed by
// FreqMHz. It is created on first signal at a frequency and updated on
// every re-detection.
type Detection struct {
	FreqMHz          float64
	Mode             Modulation
	SignalStrengthDB float64
	Label            string
	FirstSeen        time.Time
	LastSeen         time.Time
	RecordingID      string // empty until a session assembling this frequency completes
	CTCSSHz          float64 // advisory, filled in post-assembly; 0 if undetected
}

// RecordingSession is the engine's at-most-one live recording. SessionFile
// is not filled in by the engine or the pipeline; the assembled file's path
// is reported through EventSink.RecordingStopped instead.
type RecordingSession struct {
	FreqMHz     float64
	Mode        Modulation
	Label       string
	StartTime   time.Time
	ChunkIndex  int
	ChunkPaths  []string
	SessionFile string
	SessionID   string
}

// detectionExpiry is the lazy-expiry window applied by GetDetections.
const detectionExpiry = 60 * time.Second
