package audio

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"time"
)

var ctcssFreqPattern = regexp.MustCompile(`Rough frequency:\s+(\d+)`)

// detectCTCSS runs sox's spectral analysis over an assembled session file
// and looks for a dominant frequency in the CTCSS band (67-254 Hz). This is
// a best-effort, advisory signal and must never gate recording behavior.
// Absence of sox or an unparseable frequency is reported as (0, false, err);
// a non-zero sox exit, no match, or a frequency outside the band is
// reported as (0, false, nil).
func detectCTCSS(ctx context.Context, soxPath, path string) (float64, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, soxPath, path, "-n", "stat", "-freq")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if _, ok := err.(*exec.ExitError); !ok {
			return 0, false, fmt.Errorf("run sox: %w", err)
		}
	}

	m := ctcssFreqPattern.FindSubmatch(stderr.Bytes())
	if m == nil {
		return 0, false, nil
	}

	freq, err := strconv.ParseFloat(string(m[1]), 64)
	if err != nil {
		return 0, false, fmt.Errorf("parse ctcss frequency: %w", err)
	}
	if freq < 67 || freq > 254 {
		return 0, false, nil
	}
	return freq, true, nil
}
