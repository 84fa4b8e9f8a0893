// Package api exposes the scanner's JSON control surface over chi:
// start/stop scanning, the live detection table, scanner configuration,
// resource/throttle status, and the bounded telemetry history view.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/dustin/go-humanize"

	"github.com/jfhorsma/sdrscand/internal/catalog"
	"github.com/jfhorsma/sdrscand/internal/config"
	"github.com/jfhorsma/sdrscand/internal/logger"
	"github.com/jfhorsma/sdrscand/internal/resource"
	"github.com/jfhorsma/sdrscand/internal/scanner"
	"github.com/jfhorsma/sdrscand/internal/telemetry"
)

// Handler holds the boundary's dependencies. All fields are read-only after
// construction; the engine/monitor/store are each independently safe for
// concurrent use.
type Handler struct {
	engine   *scanner.Engine
	monitor  *resource.Monitor
	resolver *catalog.Resolver
	store    *telemetry.Store // nil disables /api/status/history
	log      *logger.Logger
}

// NewHandler constructs a Handler. store may be nil.
func NewHandler(engine *scanner.Engine, monitor *resource.Monitor, resolver *catalog.Resolver, store *telemetry.Store, log *logger.Logger) *Handler {
	return &Handler{
		engine:   engine,
		monitor:  monitor,
		resolver: resolver,
		store:    store,
		log:      log.Named("api"),
	}
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, errorResponse{Error: msg})
}

// StartScan handles POST /api/scanner/start.
func (h *Handler) StartScan(w http.ResponseWriter, r *http.Request) {
	var req startScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	custom := make([]scanner.FrequencyEntry, len(req.CustomFrequencies))
	for i, wireEntry := range req.CustomFrequencies {
		custom[i] = wireEntry.toDomain()
	}
	for _, f := range custom {
		if err := f.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	startReq := scanner.StartRequest{
		GroupNames:        req.GroupNames,
		CustomFrequencies: custom,
		DwellOverride:     req.DwellSeconds,
		SquelchOverride:   req.SquelchDB,
	}

	if err := h.engine.StartScan(startReq); err != nil {
		h.log.Warn("start_scan rejected", logger.Error(err))
		writeError(w, http.StatusConflict, err.Error())
		return
	}

	h.log.Info("scan started via API", logger.Int("groups", len(req.GroupNames)), logger.Int("custom", len(custom)))
	WriteJSON(w, http.StatusOK, statusResponse{Status: "started"})
}

// StopScan handles POST /api/scanner/stop.
func (h *Handler) StopScan(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.StopScan(); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	h.log.Info("scan stopped via API")
	WriteJSON(w, http.StatusOK, statusResponse{Status: "stopped"})
}

// Detections handles GET /api/scanner/detections.
func (h *Handler) Detections(w http.ResponseWriter, r *http.Request) {
	detections := h.engine.GetDetections()
	wire := make([]detectionWire, len(detections))
	for i, d := range detections {
		wire[i] = detectionToWire(d)
	}
	WriteJSON(w, http.StatusOK, detectionsResponse{Detections: wire})
}

// GetConfig handles GET /api/scanner/config.
func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	cfg := h.engine.Config()
	WriteJSON(w, http.StatusOK, scannerConfigToWire(cfg))
}

// UpdateConfig handles POST /api/scanner/config. The boundary validates
// before mutating; the engine treats whatever it receives as already
// correct.
func (h *Handler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	var wire scannerConfigWire
	if err := json.NewDecoder(r.Body).Decode(&wire); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	cfg := h.engine.Config()
	wire.applyTo(&cfg)

	full := config.Config{Scanner: cfg}
	if err := full.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	cfg = full.Scanner

	h.engine.UpdateConfig(cfg)
	h.log.Info("scanner config updated via API")
	WriteJSON(w, http.StatusOK, scannerConfigToWire(cfg))
}

// GetThresholds handles GET /api/scanner/thresholds.
func (h *Handler) GetThresholds(w http.ResponseWriter, r *http.Request) {
	t := h.monitor.Thresholds()
	WriteJSON(w, http.StatusOK, thresholdsToWire(t))
}

// UpdateThresholds handles POST /api/scanner/thresholds. Same
// validate-then-mutate contract as UpdateConfig.
func (h *Handler) UpdateThresholds(w http.ResponseWriter, r *http.Request) {
	var wire thresholdsWire
	if err := json.NewDecoder(r.Body).Decode(&wire); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	t := h.monitor.Thresholds()
	wire.applyTo(&t)

	full := config.Config{Thresholds: t}
	if err := full.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	t = full.Thresholds

	h.monitor.SetThresholds(t)
	h.log.Info("resource thresholds updated via API")
	WriteJSON(w, http.StatusOK, thresholdsToWire(t))
}

// Status handles GET /api/status.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	usage, err := h.monitor.GetResourceUsage()
	if err != nil {
		h.log.Error("resource usage sample failed", logger.Error(err))
		writeError(w, http.StatusInternalServerError, "resource usage unavailable")
		return
	}
	snap := h.monitor.Snapshot()

	WriteJSON(w, http.StatusOK, statusWire{
		ScanRunning:          h.engine.IsRunning(),
		DetectionCount:       len(h.engine.GetDetections()),
		CPUPercent:           usage.CPUPercent,
		IOWaitPercent:        usage.CPUIOWait,
		MemoryPercent:        usage.MemPercent,
		SwapUsedMB:           usage.SwapUsedMB,
		DiskUsedGB:           usage.DiskUsedGB,
		DiskTotalGB:          usage.DiskTotalGB,
		RecordingsSizeGB:     usage.RecordingsSizeGB,
		RecordingsSizeHuman:  humanize.Bytes(uint64(usage.RecordingsSizeGB * 1024 * 1024 * 1024)),
		ThrottleActive:       snap.Active,
		ThrottleReason:       snap.Reason,
		DwellMultiplier:      snap.DwellMultiplier,
		ChunkDurationSeconds: snap.ChunkDurationSeconds,
	})
}

// StatusHistory handles GET /api/status/history?minutes=N.
func (h *Handler) StatusHistory(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusServiceUnavailable, "telemetry history not enabled")
		return
	}

	minutes := 60
	if v := r.URL.Query().Get("minutes"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "minutes must be a positive integer")
			return
		}
		minutes = parsed
	}

	samples, err := h.store.ResourceHistory(minutes)
	if err != nil {
		h.log.Error("telemetry history query failed", logger.Error(err))
		writeError(w, http.StatusInternalServerError, "history unavailable")
		return
	}

	wire := make([]map[string]any, len(samples))
	for i, s := range samples {
		wire[i] = resourceSampleToWire(s)
	}
	WriteJSON(w, http.StatusOK, historyResponse{Samples: wire})
}

// FrequencyGroups handles GET /api/scanner/frequency-groups.
func (h *Handler) FrequencyGroups(w http.ResponseWriter, r *http.Request) {
	groups := h.resolver.List()
	wire := make([]frequencyGroupWire, len(groups))
	for i, g := range groups {
		wire[i] = groupToWire(g)
	}
	WriteJSON(w, http.StatusOK, frequencyGroupsResponse{Groups: wire})
}

func scannerConfigToWire(cfg config.ScannerConfig) scannerConfigWire {
	return scannerConfigWire{
		DefaultDwellSeconds:       &cfg.DefaultDwellSeconds,
		DefaultSquelchDB:          &cfg.DefaultSquelchDB,
		ScanDelaySeconds:          &cfg.ScanDelaySeconds,
		ChunkDurationSeconds:      &cfg.ChunkDurationSeconds,
		MaxSessionDurationSeconds: &cfg.MaxSessionDurationSeconds,
		MinSignalDurationSeconds:  &cfg.MinSignalDurationSeconds,
		SignalTimeoutSeconds:      &cfg.SignalTimeoutSeconds,
	}
}

// applyTo overlays only the fields the caller set onto an existing
// ScannerConfig; an omitted field (nil pointer) leaves the live value in
// place, per spec's "each optional; partial updates" contract.
func (w scannerConfigWire) applyTo(cfg *config.ScannerConfig) {
	if w.DefaultDwellSeconds != nil {
		cfg.DefaultDwellSeconds = *w.DefaultDwellSeconds
	}
	if w.DefaultSquelchDB != nil {
		cfg.DefaultSquelchDB = *w.DefaultSquelchDB
	}
	if w.ScanDelaySeconds != nil {
		cfg.ScanDelaySeconds = *w.ScanDelaySeconds
	}
	if w.ChunkDurationSeconds != nil {
		cfg.ChunkDurationSeconds = *w.ChunkDurationSeconds
	}
	if w.MaxSessionDurationSeconds != nil {
		cfg.MaxSessionDurationSeconds = *w.MaxSessionDurationSeconds
	}
	if w.MinSignalDurationSeconds != nil {
		cfg.MinSignalDurationSeconds = *w.MinSignalDurationSeconds
	}
	if w.SignalTimeoutSeconds != nil {
		cfg.SignalTimeoutSeconds = *w.SignalTimeoutSeconds
	}
}

func thresholdsToWire(t config.ResourceThresholds) thresholdsWire {
	return thresholdsWire{
		CPUPercentMax:     &t.CPUPercentMax,
		IOWaitPercentMax:  &t.IOWaitPercentMax,
		SwapGrowthMBMax:   &t.SwapGrowthMBMax,
		MemoryPercentMax:  &t.MemoryPercentMax,
		USBErrorCountMax:  &t.USBErrorCountMax,
		HysteresisSeconds: &t.HysteresisSeconds,
	}
}

// applyTo overlays only the fields the caller set onto an existing
// ResourceThresholds, the same partial-update contract as
// scannerConfigWire.applyTo.
func (w thresholdsWire) applyTo(t *config.ResourceThresholds) {
	if w.CPUPercentMax != nil {
		t.CPUPercentMax = *w.CPUPercentMax
	}
	if w.IOWaitPercentMax != nil {
		t.IOWaitPercentMax = *w.IOWaitPercentMax
	}
	if w.SwapGrowthMBMax != nil {
		t.SwapGrowthMBMax = *w.SwapGrowthMBMax
	}
	if w.MemoryPercentMax != nil {
		t.MemoryPercentMax = *w.MemoryPercentMax
	}
	if w.USBErrorCountMax != nil {
		t.USBErrorCountMax = *w.USBErrorCountMax
	}
	if w.HysteresisSeconds != nil {
		t.HysteresisSeconds = *w.HysteresisSeconds
	}
}
