package trisonica

import (
	"path/filepath"
	"sort"
	"strings"

	"go.bug.st/serial/enumerator"
)

// preferredVIDs are the common USB-serial bridge vendors; the Trisonica Mini
// ships with an FTDI chip.
var preferredVIDs = map[string]bool{
	"0403": true, // FTDI
	"10C4": true, // Silicon Labs
	"067B": true, // Prolific
	"1A86": true, // WCH
}

// devPatterns are the Linux device nodes a USB-serial anemometer can land
// on, in preference order.
var devPatterns = []string{
	"/dev/ttyUSB*",
	"/dev/ttyACM*",
	"/dev/ttyAMA*",
	"/dev/serial/by-id/*",
}

// CandidatePorts lists device paths worth probing: enumerated USB bridges
// first (known vendors before the rest), then anything matching the usual
// device-node patterns. Duplicates are dropped, order is preserved.
func CandidatePorts() []string {
	var out []string
	seen := make(map[string]bool)
	add := func(path string) {
		if path != "" && !seen[path] {
			seen[path] = true
			out = append(out, path)
		}
	}

	if ports, err := enumerator.GetDetailedPortsList(); err == nil {
		for _, p := range ports {
			if p.IsUSB && preferredVIDs[strings.ToUpper(p.VID)] {
				add(p.Name)
			}
		}
		for _, p := range ports {
			if p.IsUSB {
				add(p.Name)
			}
		}
	}

	for _, pattern := range devPatterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			continue
		}
		sort.Strings(matches)
		for _, m := range matches {
			add(m)
		}
	}

	return out
}
