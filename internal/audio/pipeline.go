// Package audio implements the recording pipeline: a demodulator piped into
// an Opus/Ogg encoder that writes time-segmented chunk files, later
// assembled into one session file via a stream-copy concat.
package audio

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/jfhorsma/sdrscand/internal/logger"
	"github.com/jfhorsma/sdrscand/internal/scanner"
)

const (
	terminateGrace  = 5 * time.Second
	assembleTimeout = 30 * time.Second
)

// Config parameterizes the pipeline's subprocess invocations.
type Config struct {
	Device               int
	ChunkDurationSeconds func() int // read from ThrottleState, falling back to ScannerConfig
	OpusBitrateKbps      int
	OpusSampleRate       int
	NiceLevel            int
	IoniceClass          int
	FFmpegThreads        int
	RecordingsDir        string
	RTLFmPath            string
	FFmpegPath           string
	NicePath             string
	IonicePath           string
	SoxPath              string
}

// Pipeline owns at most one live recording.
type Pipeline struct {
	log *logger.Logger
	cfg Config

	mu        sync.Mutex
	recording bool
	demod     *exec.Cmd
	encoder   *exec.Cmd
	session   scanner.RecordingSession
	chunkBase string

	ctcssMu       sync.Mutex
	lastStopFreq  float64
	ctcssByFreq   map[float64]float64
}

// New builds an idle Pipeline.
func New(log *logger.Logger, cfg Config) *Pipeline {
	if cfg.RTLFmPath == "" {
		cfg.RTLFmPath = "rtl_fm"
	}
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.NicePath == "" {
		cfg.NicePath = "nice"
	}
	if cfg.IonicePath == "" {
		cfg.IonicePath = "ionice"
	}
	if cfg.SoxPath == "" {
		cfg.SoxPath = "sox"
	}
	return &Pipeline{log: log.Named("audio"), cfg: cfg, ctcssByFreq: make(map[float64]float64)}
}

// StartRecording launches a demodulator piped into a segmenting Opus
// encoder. Failures release any partially-created subprocess and return an
// error without leaving the pipeline in the recording state.
func (p *Pipeline) StartRecording(ctx context.Context, entry scanner.FrequencyEntry) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.recording {
		return fmt.Errorf("audio: already recording")
	}

	now := time.Now().UTC()
	freqStr := strings.ReplaceAll(fmt.Sprintf("%.4f", entry.FreqMHz), ".", "_")
	label := entry.Label
	if label == "" {
		label = "unknown"
	}
	label = strings.ReplaceAll(label, " ", "_")
	base := fmt.Sprintf("%s_%s_%s", now.Format("20060102_150405"), freqStr, label)
	chunkPattern := filepath.Join(p.cfg.RecordingsDir, base+"_part%03d.ogg")

	mode, rate := demodParams(entry.Mode)
	demodArgs := append(p.nicePrefix(), p.cfg.RTLFmPath,
		"-d", strconv.Itoa(p.cfg.Device),
		"-f", strconv.FormatInt(int64(entry.FreqMHz*1e6), 10),
		"-M", mode,
		"-s", rate,
		"-r", "48000",
		"-E", "dc",
		"-",
	)
	demod := exec.CommandContext(ctx, demodArgs[0], demodArgs[1:]...)
	demod.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	demodOut, err := demod.StdoutPipe()
	if err != nil {
		return fmt.Errorf("audio: demod stdout pipe: %w", err)
	}

	chunkSeconds := p.cfg.ChunkDurationSeconds()
	encArgs := append(p.ioniceNicePrefix(), p.cfg.FFmpegPath,
		"-f", "s16le", "-ar", "48000", "-ac", "1", "-i", "-",
		"-threads", strconv.Itoa(p.cfg.FFmpegThreads),
		"-c:a", "libopus", "-b:a", fmt.Sprintf("%dk", p.cfg.OpusBitrateKbps),
		"-ar", strconv.Itoa(p.cfg.OpusSampleRate), "-ac", "2",
		"-f", "segment", "-segment_time", strconv.Itoa(chunkSeconds),
		"-segment_format", "ogg", "-reset_timestamps", "1",
		chunkPattern,
	)
	encoder := exec.CommandContext(ctx, encArgs[0], encArgs[1:]...)
	encoder.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	encoder.Stdin = demodOut

	if err := demod.Start(); err != nil {
		return fmt.Errorf("audio: start demod: %w", err)
	}
	if err := encoder.Start(); err != nil {
		_ = demod.Process.Kill()
		_ = demod.Wait()
		return fmt.Errorf("audio: start encoder: %w", err)
	}

	p.demod = demod
	p.encoder = encoder
	p.recording = true
	p.chunkBase = base
	p.session = scanner.RecordingSession{
		FreqMHz:   entry.FreqMHz,
		Mode:      entry.Mode,
		Label:     entry.Label,
		StartTime: now,
		SessionID: uuid.New().String(),
	}

	p.log.Info("recording started", logger.Float64("freq_mhz", entry.FreqMHz), logger.String("base", base))
	return nil
}

// StopRecording terminates both subprocesses (encoder first, then demod;
// graceful then forced) and enumerates the chunk files written so far.
func (p *Pipeline) StopRecording(ctx context.Context) (scanner.RecordingSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.recording {
		return scanner.RecordingSession{}, fmt.Errorf("audio: not recording")
	}

	terminate(p.encoder, terminateGrace)
	terminate(p.demod, terminateGrace)

	chunks, err := p.enumerateChunks(p.chunkBase)
	if err != nil {
		p.log.Error("chunk enumeration failed", logger.Error(err))
	}

	session := p.session
	session.ChunkPaths = chunks
	session.ChunkIndex = len(chunks)

	p.recording = false
	p.demod = nil
	p.encoder = nil

	p.ctcssMu.Lock()
	p.lastStopFreq = session.FreqMHz
	p.ctcssMu.Unlock()

	p.log.Info("recording stopped", logger.Float64("freq_mhz", session.FreqMHz), logger.Int("chunks", len(chunks)))
	return session, nil
}

// CTCSSFor returns and clears the advisory CTCSS tone detected for the most
// recently assembled session on freqMHz, if any.
func (p *Pipeline) CTCSSFor(freqMHz float64) (float64, bool) {
	p.ctcssMu.Lock()
	defer p.ctcssMu.Unlock()
	hz, ok := p.ctcssByFreq[freqMHz]
	if ok {
		delete(p.ctcssByFreq, freqMHz)
	}
	return hz, ok
}

// IsRecording reports whether a recording is active. The demodulator is
// not waited on while recording, so one that exits on its own still counts
// as recording until StopRecording tears the session down.
func (p *Pipeline) IsRecording() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.recording || p.demod == nil {
		return false
	}
	if p.demod.ProcessState != nil {
		// ProcessState is set only once the demodulator has been waited on.
		return false
	}
	return true
}

// CurrentSession returns the live session, if any.
func (p *Pipeline) CurrentSession() (scanner.RecordingSession, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.session, p.recording
}

// AssembleSession concatenates chunkPaths into targetPath. A single chunk
// is renamed directly; multiple chunks are stream-copy concatenated via
// ffmpeg's concat demuxer. On success the chunks (and manifest) are
// deleted; on failure they are left in place and the error is returned.
func (p *Pipeline) AssembleSession(ctx context.Context, chunkPaths []string, targetPath string) error {
	existing := make([]string, 0, len(chunkPaths))
	for _, c := range chunkPaths {
		if _, err := os.Stat(c); err == nil {
			existing = append(existing, c)
		}
	}

	if len(existing) == 0 {
		return fmt.Errorf("audio: no chunk files exist to assemble")
	}

	if len(existing) == 1 {
		if err := os.Rename(existing[0], targetPath); err != nil {
			return fmt.Errorf("audio: rename single chunk: %w", err)
		}
		p.recordCTCSS(ctx, targetPath)
		return nil
	}

	listPath := targetPath + ".concat.txt"
	var sb strings.Builder
	for _, c := range existing {
		abs, err := filepath.Abs(c)
		if err != nil {
			abs = c
		}
		sb.WriteString(fmt.Sprintf("file '%s'\n", abs))
	}
	if err := os.WriteFile(listPath, []byte(sb.String()), 0o644); err != nil {
		return fmt.Errorf("audio: write concat manifest: %w", err)
	}

	assembleCtx, cancel := context.WithTimeout(ctx, assembleTimeout)
	defer cancel()

	cmd := exec.CommandContext(assembleCtx, p.cfg.FFmpegPath,
		"-f", "concat", "-safe", "0", "-i", listPath, "-c", "copy", targetPath)
	if out, err := cmd.CombinedOutput(); err != nil {
		p.log.Error("assembly failed, leaving chunks in place", logger.Error(err), logger.String("ffmpeg_output", string(out)))
		return fmt.Errorf("audio: concat assembly: %w", err)
	}

	for _, c := range existing {
		_ = os.Remove(c)
	}
	_ = os.Remove(listPath)

	p.recordCTCSS(ctx, targetPath)
	return nil
}

// recordCTCSS runs the advisory CTCSS probe against the freshly assembled
// session file and caches the result against the frequency that was just
// stopped, for the engine to pick up via CTCSSFor.
func (p *Pipeline) recordCTCSS(ctx context.Context, targetPath string) {
	hz, ok, err := detectCTCSS(ctx, p.cfg.SoxPath, targetPath)
	if err != nil {
		p.log.Debug("ctcss detection skipped", logger.Error(err))
		return
	}
	if !ok {
		return
	}

	p.ctcssMu.Lock()
	freq := p.lastStopFreq
	p.ctcssByFreq[freq] = hz
	p.ctcssMu.Unlock()
}

// enumerateChunks globs chunk files by stem prefix, sorted by chunk index.
func (p *Pipeline) enumerateChunks(base string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(p.cfg.RecordingsDir, base+"_part*.ogg"))
	if err != nil {
		return nil, fmt.Errorf("glob chunks: %w", err)
	}
	sort.Strings(matches)
	return matches, nil
}

// terminate sends SIGTERM to cmd's process group, waits up to grace, then
// SIGKILLs. A nil or already-exited cmd is a no-op.
func terminate(cmd *exec.Cmd, grace time.Duration) {
	if cmd == nil || cmd.Process == nil {
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
	case <-time.After(grace):
		_ = syscall.Kill(-pgid, syscall.SIGKILL)
		<-done
	}
}

func (p *Pipeline) nicePrefix() []string {
	return []string{p.cfg.NicePath, "-n", strconv.Itoa(p.cfg.NiceLevel)}
}

func (p *Pipeline) ioniceNicePrefix() []string {
	return []string{p.cfg.NicePath, "-n", strconv.Itoa(p.cfg.NiceLevel), p.cfg.IonicePath, "-c", strconv.Itoa(p.cfg.IoniceClass)}
}

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
	default:
		return "fm", "24k"
	}
}
