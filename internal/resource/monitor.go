// Package resource samples host telemetry and drives the shared throttle
// state the scanner engine reads between probes.
package resource

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/jfhorsma/sdrscand/internal/config"
	"github.com/jfhorsma/sdrscand/internal/logger"
	"github.com/jfhorsma/sdrscand/internal/scanner"
	"github.com/jfhorsma/sdrscand/internal/telemetry"
)

// Recorder persists one resource/throttle sample per MonitorAndAdjust call.
// Implemented by *telemetry.Store; nil disables persistence.
type Recorder interface {
	RecordResourceSample(telemetry.ResourceSample) error
}

// Usage is an instantaneous system telemetry sample.
type Usage struct {
	CPUPercent       float64
	CPUUser          float64
	CPUSystem        float64
	CPUIOWait        float64
	MemUsedMB        float64
	MemAvailableMB   float64
	MemPercent       float64
	SwapUsedMB       float64
	SwapTotalMB      float64
	SwapPercent      float64
	DiskUsedGB       float64
	DiskTotalGB      float64
	DiskPercent      float64
	RecordingsSizeGB float64
	USBErrorCount    int
}

// cpuSample is one /proc/stat "cpu " line's jiffy counters.
type cpuSample struct {
	user, nice, system, idle, iowait, irq, softirq, steal uint64
}

func (c cpuSample) total() uint64 {
	return c.user + c.nice + c.system + c.idle + c.iowait + c.irq + c.softirq + c.steal
}

// Monitor samples CPU/memory/swap/disk/USB health and owns the throttle
// state transitions described by the Resource Monitor's apply/release
// semantics: escalating one-way activation, hysteresis-gated release.
type Monitor struct {
	log           *logger.Logger
	baseDir       string
	recordingsDir string
	dmesgPath     string

	thresholdsFn func() config.ResourceThresholds
	scannerCfgFn func() config.ScannerConfig
	recorder     Recorder

	thresholdsMu       sync.RWMutex
	thresholdsOverride *config.ResourceThresholds

	baselineSwapMB   float64
	lastCPU          cpuSample
	haveLastCPU      bool
	usbErrorBaseline int
	lastUSBErrors    int

	mu        sync.Mutex
	active    bool
	reason    string
	level     int // 0 = off, 1, 2
	activated time.Time
	throttle  scanner.ThrottleSnapshot
}

// New constructs a Monitor and captures the baseline swap reading.
// cfgFn/scFn let the monitor read the live ResourceThresholds/ScannerConfig
// without taking a dependency on the config boundary's own locking.
func New(log *logger.Logger, baseDir, recordingsDir string, cfgFn func() config.ResourceThresholds, scFn func() config.ScannerConfig) *Monitor {
	m := &Monitor{
		log:           log.Named("resource"),
		baseDir:       baseDir,
		recordingsDir: recordingsDir,
		dmesgPath:     "dmesg",
		thresholdsFn:  cfgFn,
		scannerCfgFn:  scFn,
	}
	if usage, err := m.GetResourceUsage(); err == nil {
		m.baselineSwapMB = usage.SwapUsedMB
	}
	if count, err := m.CheckUSBErrors(); err == nil {
		m.usbErrorBaseline = count
	}
	m.throttle = scanner.ThrottleSnapshot{DwellMultiplier: 1.0}
	return m
}

// Thresholds returns the live ResourceThresholds: the API-set override once
// SetThresholds has been called, otherwise whatever cfgFn returns.
func (m *Monitor) Thresholds() config.ResourceThresholds {
	m.thresholdsMu.RLock()
	defer m.thresholdsMu.RUnlock()
	if m.thresholdsOverride != nil {
		return *m.thresholdsOverride
	}
	return m.thresholdsFn()
}

// SetThresholds installs an override, taking precedence over cfgFn for the
// rest of the process lifetime; called from the boundary after its own
// validation.
func (m *Monitor) SetThresholds(t config.ResourceThresholds) {
	m.thresholdsMu.Lock()
	m.thresholdsOverride = &t
	m.thresholdsMu.Unlock()
}

// SetRecorder wires an optional telemetry sink; MonitorAndAdjust persists a
// sample through it on every call once set.
func (m *Monitor) SetRecorder(r Recorder) {
	m.recorder = r
}

// GetResourceUsage samples CPU%, memory, swap, disk, and recordings size.
// Any sampling failure yields a zeroed struct rather than propagating, per
// the monitor's degrade-to-safe contract.
func (m *Monitor) GetResourceUsage() (Usage, error) {
	var u Usage

	cpuPct, userPct, sysPct, iowaitPct, err := m.sampleCPU()
	if err != nil {
		m.log.Debug("cpu sample failed", logger.Error(err))
	} else {
		u.CPUPercent, u.CPUUser, u.CPUSystem, u.CPUIOWait = cpuPct, userPct, sysPct, iowaitPct
	}

	if err := m.sampleMemory(&u); err != nil {
		m.log.Debug("memory sample failed", logger.Error(err))
	}

	if err := m.sampleDisk(&u); err != nil {
		m.log.Debug("disk sample failed", logger.Error(err))
	}

	if size, err := dirSizeGB(m.recordingsDir); err == nil {
		u.RecordingsSizeGB = size
	}

	u.USBErrorCount = m.lastUSBErrors

	return u, nil
}

// sampleCPU reads /proc/stat's aggregate "cpu " line and compares it against
// the previous sample to produce instantaneous percentages. The first call
// after construction has no baseline and returns zeros.
func (m *Monitor) sampleCPU() (cpuPct, userPct, sysPct, iowaitPct float64, err error) {
	f, err := os.Open("/proc/stat")
	if err != nil {
		return 0, 0, 0, 0, fmt.Errorf("open /proc/stat: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	var sample cpuSample
	found := false
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 8 || fields[0] != "cpu" {
			continue
		}
		vals := make([]uint64, 8)
		for i := 1; i <= 8 && i < len(fields); i++ {
			vals[i-1], _ = strconv.ParseUint(fields[i], 10, 64)
		}
		sample = cpuSample{vals[0], vals[1], vals[2], vals[3], vals[4], vals[5], vals[6], vals[7]}
		found = true
		break
	}
	if !found {
		return 0, 0, 0, 0, fmt.Errorf("no aggregate cpu line in /proc/stat")
	}

	if !m.haveLastCPU {
		m.lastCPU = sample
		m.haveLastCPU = true
		return 0, 0, 0, 0, nil
	}

	prev := m.lastCPU
	m.lastCPU = sample

	totalDelta := float64(sample.total() - prev.total())
	if totalDelta <= 0 {
		return 0, 0, 0, 0, nil
	}

	busy := float64((sample.total() - sample.idle) - (prev.total() - prev.idle))
	cpuPct = 100 * busy / totalDelta
	userPct = 100 * float64(sample.user-prev.user) / totalDelta
	sysPct = 100 * float64(sample.system-prev.system) / totalDelta
	iowaitPct = 100 * float64(sample.iowait-prev.iowait) / totalDelta
	return cpuPct, userPct, sysPct, iowaitPct, nil
}

// sampleMemory reads /proc/meminfo for memory and swap usage.
func (m *Monitor) sampleMemory(u *Usage) error {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return fmt.Errorf("open /proc/meminfo: %w", err)
	}
	defer f.Close()

	kv := make(map[string]float64, 8)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		idx := strings.IndexByte(line, ':')
		if idx < 0 {
			continue
		}
		key := line[:idx]
		rest := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(line[idx+1:]), "kB"))
		val, err := strconv.ParseFloat(strings.TrimSpace(rest), 64)
		if err != nil {
			continue
		}
		kv[key] = val
	}

	totalKB := kv["MemTotal"]
	availKB := kv["MemAvailable"]
	usedKB := totalKB - availKB
	if totalKB > 0 {
		u.MemPercent = 100 * usedKB / totalKB
	}
	u.MemUsedMB = usedKB / 1024
	u.MemAvailableMB = availKB / 1024

	swapTotalKB := kv["SwapTotal"]
	swapFreeKB := kv["SwapFree"]
	swapUsedKB := swapTotalKB - swapFreeKB
	u.SwapTotalMB = swapTotalKB / 1024
	u.SwapUsedMB = swapUsedKB / 1024
	if swapTotalKB > 0 {
		u.SwapPercent = 100 * swapUsedKB / swapTotalKB
	}
	return nil
}

// sampleDisk statfs's the base directory.
func (m *Monitor) sampleDisk(u *Usage) error {
	var st syscall.Statfs_t
	if err := syscall.Statfs(m.baseDir, &st); err != nil {
		return fmt.Errorf("statfs %s: %w", m.baseDir, err)
	}
	blockSize := uint64(st.Bsize)
	totalBytes := st.Blocks * blockSize
	freeBytes := st.Bavail * blockSize
	usedBytes := totalBytes - freeBytes

	const gb = 1024 * 1024 * 1024
	u.DiskTotalGB = float64(totalBytes) / gb
	u.DiskUsedGB = float64(usedBytes) / gb
	if totalBytes > 0 {
		u.DiskPercent = 100 * float64(usedBytes) / float64(totalBytes)
	}
	return nil
}

func dirSizeGB(dir string) (float64, error) {
	var total int64
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // skip unreadable entries rather than failing the whole walk
		}
		if !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return float64(total) / (1024 * 1024 * 1024), nil
}

// CheckUSBErrors scans the kernel ring buffer for lines mentioning "usb" and
// one of "error"/"fail", case-insensitively, and caches the count for the
// next should_throttle comparison.
func (m *Monitor) CheckUSBErrors() (int, error) {
	cmd := exec.Command(m.dmesgPath, "-T")
	out, err := cmd.Output()
	if err != nil {
		return m.lastUSBErrors, fmt.Errorf("dmesg: %w", err)
	}

	count := 0
	for _, line := range strings.Split(string(out), "\n") {
		lower := strings.ToLower(line)
		if !strings.Contains(lower, "usb") {
			continue
		}
		if strings.Contains(lower, "error") || strings.Contains(lower, "fail") {
			count++
		}
	}
	m.lastUSBErrors = count
	return count, nil
}

// ShouldThrottle reports whether any threshold is exceeded, with a
// semicolon-joined explanation of which ones.
func (m *Monitor) ShouldThrottle(u Usage) (bool, string) {
	t := m.Thresholds()
	var reasons []string

	if u.CPUPercent > t.CPUPercentMax {
		reasons = append(reasons, fmt.Sprintf("cpu %.1f%% > %.1f%%", u.CPUPercent, t.CPUPercentMax))
	}
	if u.CPUIOWait > t.IOWaitPercentMax {
		reasons = append(reasons, fmt.Sprintf("iowait %.1f%% > %.1f%%", u.CPUIOWait, t.IOWaitPercentMax))
	}
	if u.MemPercent > t.MemoryPercentMax {
		reasons = append(reasons, fmt.Sprintf("memory %.1f%% > %.1f%%", u.MemPercent, t.MemoryPercentMax))
	}
	if u.SwapUsedMB-m.baselineSwapMB > t.SwapGrowthMBMax {
		reasons = append(reasons, fmt.Sprintf("swap grew %.1fMB > %.1fMB", u.SwapUsedMB-m.baselineSwapMB, t.SwapGrowthMBMax))
	}
	if delta := u.USBErrorCount - m.usbErrorBaseline; delta > t.USBErrorCountMax {
		reasons = append(reasons, fmt.Sprintf("usb errors %d over baseline > %d", delta, t.USBErrorCountMax))
	}

	if len(reasons) == 0 {
		return false, ""
	}
	return true, strings.Join(reasons, "; ")
}

// ShouldReleaseThrottle is true only once active, past the hysteresis
// window, and all three rate metrics have fallen below 90% of threshold.
func (m *Monitor) ShouldReleaseThrottle(u Usage) bool {
	m.mu.Lock()
	active := m.active
	activated := m.activated
	m.mu.Unlock()

	if !active {
		return false
	}

	t := m.Thresholds()
	if time.Since(activated) < durationFromSeconds(t.HysteresisSeconds) {
		return false
	}

	return u.CPUPercent < t.CPUPercentMax*0.9 &&
		u.CPUIOWait < t.IOWaitPercentMax*0.9 &&
		u.MemPercent < t.MemoryPercentMax*0.9
}

// ApplyThrottle activates or escalates the throttle. First activation sets
// level-1 parameters; a subsequent call while already active escalates to
// level 2 and never de-escalates without an intervening ReleaseThrottle.
func (m *Monitor) ApplyThrottle(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.active {
		m.active = true
		m.activated = time.Now()
		m.level = 1
		m.throttle = scanner.ThrottleSnapshot{
			Active:               true,
			Reason:               reason,
			DwellMultiplier:      1.5,
			ChunkDurationSeconds: 45,
			SkipFrequencies:      1,
		}
		m.log.Warn("throttle activated", logger.String("reason", reason))
		return
	}

	if m.level < 2 {
		m.level = 2
		m.throttle.ChunkDurationSeconds = 60
		m.throttle.SkipFrequencies = 2
		m.log.Warn("throttle escalated", logger.String("reason", reason))
	}
	m.throttle.Reason = reason
}

// ReleaseThrottle restores defaults and clears the active/paused state.
func (m *Monitor) ReleaseThrottle() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.active {
		return
	}

	sc := m.scannerCfgFn()
	m.active = false
	m.level = 0
	m.throttle = scanner.ThrottleSnapshot{
		DwellMultiplier:      1.0,
		ChunkDurationSeconds: sc.ChunkDurationSeconds,
		SkipFrequencies:      0,
		Paused:               false,
	}
	m.log.Info("throttle released")
}

// MonitorAndAdjust composes GetResourceUsage, CheckUSBErrors,
// ShouldThrottle/ShouldReleaseThrottle, and Apply/ReleaseThrottle into the
// single call the engine issues once per scan iteration.
func (m *Monitor) MonitorAndAdjust(ctx context.Context) error {
	usage, err := m.GetResourceUsage()
	if err != nil {
		return fmt.Errorf("get resource usage: %w", err)
	}
	if _, err := m.CheckUSBErrors(); err != nil {
		m.log.Debug("usb error scan failed", logger.Error(err))
	}
	usage.USBErrorCount = m.lastUSBErrors

	if m.ShouldReleaseThrottle(usage) {
		m.ReleaseThrottle()
	} else if should, reason := m.ShouldThrottle(usage); should {
		m.ApplyThrottle(reason)
	}

	m.recordSample(usage)
	return nil
}

// recordSample persists the current usage/throttle snapshot if a Recorder
// is wired. Persistence failures are logged, not propagated: telemetry is
// an observability trail, never a gate on the scan loop.
func (m *Monitor) recordSample(usage Usage) {
	if m.recorder == nil {
		return
	}
	snap := m.Snapshot()
	err := m.recorder.RecordResourceSample(telemetry.ResourceSample{
		Timestamp:       time.Now().UTC(),
		CPUPercent:      usage.CPUPercent,
		IOWaitPercent:   usage.CPUIOWait,
		MemoryPercent:   usage.MemPercent,
		SwapUsedMB:      usage.SwapUsedMB,
		ThrottleActive:  snap.Active,
		ThrottleReason:  snap.Reason,
		DwellMultiplier: snap.DwellMultiplier,
		SkipFrequencies: snap.SkipFrequencies,
	})
	if err != nil {
		m.log.Debug("telemetry sample persist failed", logger.Error(err))
	}
}

// Snapshot returns the coherent ThrottleSnapshot the engine reads between
// suspension points.
func (m *Monitor) Snapshot() scanner.ThrottleSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.throttle
}

func durationFromSeconds(s float64) time.Duration {
	if s <= 0 {
		return 0
	}
	return time.Duration(s * float64(time.Second))
}
