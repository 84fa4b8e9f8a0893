// Package catalog resolves named frequency groups (GMRS, MURS, ham bands,
// and similar well-known allocations) into concrete FrequencyEntry lists
// for StartScan's group_names parameter.
package catalog

import (
	"fmt"
	"strings"

	"github.com/jfhorsma/sdrscand/internal/scanner"
)

// Group is one named, described collection of frequencies.
type Group struct {
	Name        string
	DisplayName string
	Description string
	Frequencies []scanner.FrequencyEntry
}

// Resolver looks up built-in frequency groups by name, case-insensitively.
type Resolver struct {
	groups map[string]Group
	order  []string
}

// NewResolver builds the built-in catalog.
func NewResolver() *Resolver {
	r := &Resolver{groups: make(map[string]Group)}
	for _, g := range builtinGroups() {
		r.add(g)
	}
	return r
}

func (r *Resolver) add(g Group) {
	key := strings.ToUpper(g.Name)
	r.groups[key] = g
	r.order = append(r.order, key)
}

// Resolve implements scanner.GroupResolver.
func (r *Resolver) Resolve(name string) ([]scanner.FrequencyEntry, bool) {
	g, ok := r.groups[strings.ToUpper(name)]
	if !ok {
		return nil, false
	}
	out := make([]scanner.FrequencyEntry, len(g.Frequencies))
	copy(out, g.Frequencies)
	return out, true
}

// List returns all groups in definition order, for the
// /api/scanner/frequency-groups boundary route.
func (r *Resolver) List() []Group {
	out := make([]Group, 0, len(r.order))
	for _, key := range r.order {
		out = append(out, r.groups[key])
	}
	return out
}

func entry(freq float64, mode scanner.Modulation, label string) scanner.FrequencyEntry {
	return scanner.FrequencyEntry{FreqMHz: freq, Mode: mode, Label: label}
}

func builtinGroups() []Group {
	return []Group{
		{
			Name:        "GMRS",
			DisplayName: "GMRS (General Mobile Radio Service)",
			Description: "GMRS channels including repeater inputs/outputs (462-467 MHz)",
			Frequencies: gmrsChannels(),
		},
		{
			Name:        "MURS",
			DisplayName: "MURS (Multi-Use Radio Service)",
			Description: "5 MURS channels (151-154 MHz)",
			Frequencies: []scanner.FrequencyEntry{
				entry(151.820, scanner.ModeNFM, "MURS 1"),
				entry(151.880, scanner.ModeNFM, "MURS 2"),
				entry(151.940, scanner.ModeNFM, "MURS 3"),
				entry(154.570, scanner.ModeNFM, "MURS 4"),
				entry(154.600, scanner.ModeNFM, "MURS 5"),
			},
		},
		{
			Name:        "FRS",
			DisplayName: "FRS (Family Radio Service)",
			Description: "14 FRS channels (462-467 MHz, overlaps GMRS)",
			Frequencies: frsChannels(),
		},
		{
			Name:        "WEATHER",
			DisplayName: "NOAA Weather Radio",
			Description: "7 NOAA weather channels (162 MHz)",
			Frequencies: []scanner.FrequencyEntry{
				entry(162.400, scanner.ModeNFM, "WX 1"),
				entry(162.425, scanner.ModeNFM, "WX 2"),
				entry(162.450, scanner.ModeNFM, "WX 3"),
				entry(162.475, scanner.ModeNFM, "WX 4"),
				entry(162.500, scanner.ModeNFM, "WX 5"),
				entry(162.525, scanner.ModeNFM, "WX 6"),
				entry(162.550, scanner.ModeNFM, "WX 7"),
			},
		},
		{
			Name:        "2M_HAM",
			DisplayName: "2M Ham Band (144-148 MHz)",
			Description: "2 meter amateur radio band",
			Frequencies: ham2m(),
		},
		{
			Name:        "70CM_HAM",
			DisplayName: "70cm Ham Band (420-450 MHz)",
			Description: "70 centimeter amateur radio band",
			Frequencies: ham70cm(),
		},
		{
			Name:        "AIRCRAFT",
			DisplayName: "Aircraft Band (118-137 MHz)",
			Description: "Aviation communications (AM)",
			Frequencies: aircraftBand(),
		},
		{
			Name:        "MARINE",
			DisplayName: "Marine VHF (156-163 MHz)",
			Description: "Marine VHF radio channels",
			Frequencies: marineBand(),
		},
	}
}

func gmrsChannels() []scanner.FrequencyEntry {
	freqs := []scanner.FrequencyEntry{
		entry(462.5625, scanner.ModeNFM, "GMRS 1"),
		entry(462.5875, scanner.ModeNFM, "GMRS 2"),
		entry(462.6125, scanner.ModeNFM, "GMRS 3"),
		entry(462.6375, scanner.ModeNFM, "GMRS 4"),
		entry(462.6625, scanner.ModeNFM, "GMRS 5"),
		entry(462.6875, scanner.ModeNFM, "GMRS 6"),
		entry(462.7125, scanner.ModeNFM, "GMRS 7"),
		entry(467.5625, scanner.ModeNFM, "GMRS 8"),
		entry(467.5875, scanner.ModeNFM, "GMRS 9"),
		entry(467.6125, scanner.ModeNFM, "GMRS 10"),
		entry(467.6375, scanner.ModeNFM, "GMRS 11"),
		entry(467.6625, scanner.ModeNFM, "GMRS 12"),
		entry(467.6875, scanner.ModeNFM, "GMRS 13"),
		entry(467.7125, scanner.ModeNFM, "GMRS 14"),
	}
	// Repeater inputs/outputs, channels 15-22.
	inputs := []float64{462.550, 462.575, 462.600, 462.625, 462.650, 462.675, 462.700, 462.725}
	outputs := []float64{467.550, 467.575, 467.600, 467.625, 467.650, 467.675, 467.700, 467.725}
	for i, f := range inputs {
		freqs = append(freqs, entry(f, scanner.ModeNFM, fmt.Sprintf("GMRS %d (RPT)", 15+i)))
	}
	for i, f := range outputs {
		freqs = append(freqs, entry(f, scanner.ModeNFM, fmt.Sprintf("GMRS %d OUT", 15+i)))
	}
	return freqs
}

func frsChannels() []scanner.FrequencyEntry {
	freqs := make([]scanner.FrequencyEntry, 0, 14)
	low := []float64{462.5625, 462.5875, 462.6125, 462.6375, 462.6625, 462.6875, 462.7125}
	high := []float64{467.5625, 467.5875, 467.6125, 467.6375, 467.6625, 467.6875, 467.7125}
	for i, f := range low {
		freqs = append(freqs, entry(f, scanner.ModeNFM, fmt.Sprintf("FRS %d", i+1)))
	}
	for i, f := range high {
		freqs = append(freqs, entry(f, scanner.ModeNFM, fmt.Sprintf("FRS %d", i+8)))
	}
	return freqs
}

func ham2m() []scanner.FrequencyEntry {
	var freqs []scanner.FrequencyEntry
	for _, f := range []float64{146.40, 146.43, 146.46, 146.49, 146.52, 146.55, 146.58} {
		freqs = append(freqs, entry(f, scanner.ModeFM, fmt.Sprintf("2M %.2f MHz", f)))
	}
	for tenths := 1451; tenths <= 1471; tenths += 2 {
		f := float64(tenths) / 10.0
		freqs = append(freqs, entry(f, scanner.ModeFM, fmt.Sprintf("2M RPT %.1f", f)))
	}
	return freqs
}

func ham70cm() []scanner.FrequencyEntry {
	var freqs []scanner.FrequencyEntry
	for _, f := range []float64{446.0, 446.5, 447.0} {
		freqs = append(freqs, entry(f, scanner.ModeNFM, fmt.Sprintf("70cm %.1f MHz", f)))
	}
	for hundredths := 44000; hundredths <= 44500; hundredths += 50 {
		f := float64(hundredths) / 100.0
		freqs = append(freqs, entry(f, scanner.ModeNFM, fmt.Sprintf("70cm RPT %.2f", f)))
	}
	return freqs
}

func aircraftBand() []scanner.FrequencyEntry {
	freqs := make([]scanner.FrequencyEntry, 0, 21)
	for f := 118; f < 137; f++ {
		freqs = append(freqs, entry(float64(f), scanner.ModeAM, fmt.Sprintf("AIR %d MHz", f)))
	}
	return append(freqs, entry(121.5, scanner.ModeAM, "AIR Emergency"))
}

func marineBand() []scanner.FrequencyEntry {
	named := map[float64]string{
		156.800: "Ch 16 (Distress)",
		156.300: "Ch 06 (Safety)",
		156.650: "Ch 13 (Bridge)",
		156.450: "Ch 09 (Calling)",
	}
	freqs := make([]scanner.FrequencyEntry, 0, len(named)+10)
	for f, label := range named {
		freqs = append(freqs, entry(f, scanner.ModeNFM, label))
	}
	for tenths := 1560; tenths <= 1630; tenths += 5 {
		f := float64(tenths) / 10.0
		if _, ok := named[f]; ok {
			continue
		}
		freqs = append(freqs, entry(f, scanner.ModeNFM, fmt.Sprintf("Marine %.1f", f)))
	}
	return freqs
}
