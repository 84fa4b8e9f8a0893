package api

import (
	"time"

	"github.com/jfhorsma/sdrscand/internal/catalog"
	"github.com/jfhorsma/sdrscand/internal/scanner"
	"github.com/jfhorsma/sdrscand/internal/telemetry"
)

// frequencyEntryWire is the snake_case wire shape of a scanner.FrequencyEntry,
// used both for start_scan's custom_frequencies input and the
// frequency-groups listing output.
type frequencyEntryWire struct {
	FreqMHz float64 `json:"freq_mhz"`
	Mode    string  `json:"mode"`
	Label   string  `json:"label,omitempty"`
	CTCSSHz float64 `json:"ctcss_hz,omitempty"`
	DCSCode string  `json:"dcs_code,omitempty"`
}

func (w frequencyEntryWire) toDomain() scanner.FrequencyEntry {
	return scanner.FrequencyEntry{
		FreqMHz: w.FreqMHz,
		Mode:    scanner.Modulation(w.Mode),
		Label:   w.Label,
		CTCSSHz: w.CTCSSHz,
		DCSCode: w.DCSCode,
	}
}

func frequencyEntryToWire(e scanner.FrequencyEntry) frequencyEntryWire {
	return frequencyEntryWire{
		FreqMHz: e.FreqMHz,
		Mode:    string(e.Mode),
		Label:   e.Label,
		CTCSSHz: e.CTCSSHz,
		DCSCode: e.DCSCode,
	}
}

// startScanRequest is the POST /api/scanner/start body.
type startScanRequest struct {
	GroupNames        []string             `json:"frequency_groups"`
	CustomFrequencies []frequencyEntryWire `json:"custom_frequencies"`
	DwellSeconds      *float64             `json:"dwell_seconds,omitempty"`
	SquelchDB         *int                 `json:"squelch_db,omitempty"`
}

type statusResponse struct {
	Status string `json:"status"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type detectionWire struct {
	FreqMHz          float64   `json:"freq_mhz"`
	Mode             string    `json:"mode"`
	SignalStrengthDB float64   `json:"signal_strength_db"`
	Label            string    `json:"label"`
	FirstSeen        time.Time `json:"first_seen"`
	LastSeen         time.Time `json:"last_seen"`
	RecordingID      string    `json:"recording_id,omitempty"`
	CTCSSHz          float64   `json:"ctcss_hz,omitempty"`
}

func detectionToWire(d scanner.Detection) detectionWire {
	return detectionWire{
		FreqMHz:          d.FreqMHz,
		Mode:             string(d.Mode),
		SignalStrengthDB: d.SignalStrengthDB,
		Label:            d.Label,
		FirstSeen:        d.FirstSeen,
		LastSeen:         d.LastSeen,
		RecordingID:      d.RecordingID,
		CTCSSHz:          d.CTCSSHz,
	}
}

type detectionsResponse struct {
	Detections []detectionWire `json:"detections"`
}

// scannerConfigWire mirrors config.ScannerConfig for the get/update-config
// routes, which only ever deal in the scanner section. Every field is a
// pointer so update_config can distinguish "omitted" from "zero value" and
// apply a true partial update.
type scannerConfigWire struct {
	DefaultDwellSeconds       *float64 `json:"default_dwell_seconds,omitempty"`
	DefaultSquelchDB          *int     `json:"default_squelch_db,omitempty"`
	ScanDelaySeconds          *float64 `json:"scan_delay_seconds,omitempty"`
	ChunkDurationSeconds      *int     `json:"chunk_duration_seconds,omitempty"`
	MaxSessionDurationSeconds *int     `json:"max_session_duration_seconds,omitempty"`
	MinSignalDurationSeconds  *float64 `json:"min_signal_duration_seconds,omitempty"`
	SignalTimeoutSeconds      *float64 `json:"signal_timeout_seconds,omitempty"`
}

// thresholdsWire mirrors config.ResourceThresholds for the get/update
// routes; every field is a pointer for the same partial-update reason as
// scannerConfigWire.
type thresholdsWire struct {
	CPUPercentMax     *float64 `json:"cpu_percent_max,omitempty"`
	IOWaitPercentMax  *float64 `json:"io_wait_percent_max,omitempty"`
	SwapGrowthMBMax   *float64 `json:"swap_growth_mb_max,omitempty"`
	MemoryPercentMax  *float64 `json:"memory_percent_max,omitempty"`
	USBErrorCountMax  *int     `json:"usb_error_count_max,omitempty"`
	HysteresisSeconds *float64 `json:"hysteresis_seconds,omitempty"`
}

type statusWire struct {
	ScanRunning          bool    `json:"scan_running"`
	DetectionCount       int     `json:"detection_count"`
	CPUPercent           float64 `json:"cpu_percent"`
	IOWaitPercent        float64 `json:"iowait_percent"`
	MemoryPercent        float64 `json:"memory_percent"`
	SwapUsedMB           float64 `json:"swap_used_mb"`
	DiskUsedGB           float64 `json:"disk_used_gb"`
	DiskTotalGB          float64 `json:"disk_total_gb"`
	RecordingsSizeGB     float64 `json:"recordings_size_gb"`
	RecordingsSizeHuman  string  `json:"recordings_size_human"`
	ThrottleActive       bool    `json:"throttle_active"`
	ThrottleReason       string  `json:"throttle_reason,omitempty"`
	DwellMultiplier      float64 `json:"dwell_multiplier"`
	ChunkDurationSeconds int     `json:"chunk_duration_seconds"`
}

func resourceSampleToWire(s telemetry.ResourceSample) map[string]any {
	return map[string]any{
		"timestamp":        s.Timestamp,
		"cpu_percent":      s.CPUPercent,
		"iowait_percent":   s.IOWaitPercent,
		"memory_percent":   s.MemoryPercent,
		"swap_used_mb":     s.SwapUsedMB,
		"throttle_active":  s.ThrottleActive,
		"throttle_reason":  s.ThrottleReason,
		"dwell_multiplier": s.DwellMultiplier,
		"skip_frequencies": s.SkipFrequencies,
	}
}

type historyResponse struct {
	Samples []map[string]any `json:"samples"`
}

type frequencyGroupWire struct {
	Name        string               `json:"name"`
	DisplayName string               `json:"display_name"`
	Description string               `json:"description"`
	Frequencies []frequencyEntryWire `json:"frequencies"`
}

func groupToWire(g catalog.Group) frequencyGroupWire {
	entries := make([]frequencyEntryWire, len(g.Frequencies))
	for i, f := range g.Frequencies {
		entries[i] = frequencyEntryToWire(f)
	}
	return frequencyGroupWire{
		Name:        g.Name,
		DisplayName: g.DisplayName,
		Description: g.Description,
		Frequencies: entries,
	}
}

type frequencyGroupsResponse struct {
	Groups []frequencyGroupWire `json:"groups"`
}
