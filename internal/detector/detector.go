// Package detector implements the signal-presence probe: spawn a short-lived
// rtl_fm process targeting a frequency, accumulate the bytes it emits during
// a 1s wall-clock window, and infer presence from output volume.
//
// This is the squelch+output-size heuristic; it is the only signal
// detection strategy implemented here.
package detector

import (
	"bytes"
	"context"
	"io"
	"os/exec"
	"strconv"
	"syscall"
	"time"

	"github.com/jfhorsma/sdrscand/internal/logger"
	"github.com/jfhorsma/sdrscand/internal/scanner"
)

const (
	noiseFloorDB   = -50.0
	signalByteMin  = 5000
	probeWindow    = 1 * time.Second
	killGrace      = 1 * time.Second
)

// Detector probes the scanning dongle for an active transmission.
type Detector struct {
	log          *logger.Logger
	device       int
	squelchDB    func() int
	rtlFmPath    string
}

// New builds a Detector. squelchDB is called at probe time so changes to
// ScannerConfig take effect on the next probe.
func New(log *logger.Logger, device int, squelchDB func() int) *Detector {
	return &Detector{
		log:       log.Named("detector"),
		device:    device,
		squelchDB: squelchDB,
		rtlFmPath: "rtl_fm",
	}
}

// Detect answers whether a transmission is present on entry's frequency.
// Errors and timeouts degrade to (false, noiseFloorDB); they never
// propagate, per spec.
func (d *Detector) Detect(ctx context.Context, entry scanner.FrequencyEntry) (bool, float64) {
	mode, rate := demodParams(entry.Mode)
	freqHz := int64(entry.FreqMHz * 1e6)

	args := []string{
		"-d", strconv.Itoa(d.device),
		"-f", strconv.FormatInt(freqHz, 10),
		"-M", mode,
		"-s", rate,
		"-l", strconv.Itoa(d.squelchDB()),
		"-g", "40",
		"-E", "dc",
		"-",
	}

	probeCtx, cancel := context.WithTimeout(ctx, probeWindow+2*killGrace)
	defer cancel()

	cmd := exec.CommandContext(probeCtx, d.rtlFmPath, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		d.log.Debug("detector: stdout pipe failed", logger.Error(err))
		return false, noiseFloorDB
	}

	if err := cmd.Start(); err != nil {
		d.log.Debug("detector: start failed", logger.Error(err))
		return false, noiseFloorDB
	}

	var buf bytes.Buffer
	deadline := time.Now().Add(probeWindow)
	if f, ok := stdout.(interface{ SetReadDeadline(time.Time) error }); ok {
		_ = f.SetReadDeadline(deadline)
	}
	readBuf := make([]byte, 4096)
	for time.Now().Before(deadline) {
		n, rerr := readWithDeadline(stdout, readBuf, deadline)
		if n > 0 {
			buf.Write(readBuf[:n])
		}
		if rerr != nil {
			break
		}
	}

	terminateProcessGroup(cmd, killGrace)

	size := buf.Len()
	if size > signalByteMin {
		strength := -40.0 + float64(size)/10000.0
		return true, strength
	}
	return false, noiseFloorDB
}

// readWithDeadline performs one Read, returning early if deadline has
// already passed. A Read still blocked when the window closes is released
// by the read deadline Detect sets on the stdout pipe.
func readWithDeadline(r io.Reader, buf []byte, deadline time.Time) (int, error) {
	if time.Now().After(deadline) {
		return 0, io.EOF
	}
	return r.Read(buf)
}

// terminateProcessGroup sends SIGTERM to the process group, waits up to
// grace, then SIGKILLs if it hasn't exited.
func terminateProcessGroup(cmd *exec.Cmd, grace time.Duration) {
	if cmd.Process == nil {
		return
	}
	pgid := cmd.Process.Pid

	_ = syscall.Kill(-pgid, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(done)
	}()

	select {
	case <-done:
		return
	case <-time.After(grace):
		_ = syscall.Kill(-pgid, syscall.SIGKILL)
		<-done
	}
}

// demodParams returns the rtl_fm -M and -s flags for a modulation.
func demodParams(m scanner.Modulation) (mode, rate string) {
	switch m {
	case scanner.ModeWFM:
		return "wbfm", "200k"
	case scanner.ModeAM:
		return "am", "24k"
	case scanner.ModeUSB:
		return "usb", "24k"
	case scanner.ModeLSB:
		return "lsb", "24k"
	default: // NFM, FM
		return "fm", "24k"
	}
}

