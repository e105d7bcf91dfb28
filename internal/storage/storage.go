package storage

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"trisonica-logger/internal/stats"
	"trisonica-logger/internal/trisonica"
)

// timestampLayout names a run's files and stamps its stats rows.
const timestampLayout = "2006-01-02_150405"

// rowTimeLayout is the per-record timestamp column, fixed-width so CSV
// consumers never see variable fractional digits.
const rowTimeLayout = "2006-01-02T15:04:05.000000Z"

// writeProbeName is the throwaway file used to test a directory for write
// access before committing a run to it.
const writeProbeName = "write_test.tmp"

var statsHeader = []string{
	"timestamp", "parameter", "min", "max", "mean", "std_dev",
	"count", "error_count", "error_rate_percent", "total_readings",
}

// Config holds the storage selection inputs.
type Config struct {
	ExternalDir  string // removable mount, preferred when writable
	LocalDir     string // fallback, created if absent
	Override     string // explicit directory, bypasses selection entirely
	StatsEnabled bool
	MinFreeMB    int // log a warning when the target has less than this
}

// Target is a run's output directory with its two open CSV files. It is
// owned by the acquisition loop; nothing else touches the handles.
type Target struct {
	Dir       string
	DataPath  string
	StatsPath string

	log *logrus.Entry

	dataFile  *os.File
	dataCSV   *csv.Writer
	statsFile *os.File
	statsCSV  *csv.Writer

	header    []string // timestamp + codes, frozen once written
	headerSet map[string]bool
	warned    map[string]bool
}

// Select chooses the output directory once at startup and opens the run's
// files. An explicit override wins; otherwise the external mount is used
// when it exists and accepts writes, with the local directory as fallback.
// No usable directory at all refuses the run.
func Select(cfg Config, startedAt time.Time, log *logrus.Entry) (*Target, error) {
	dir, err := pickDir(cfg, log)
	if err != nil {
		return nil, err
	}

	if free, err := freeBytes(dir); err == nil {
		freeMB := free / (1024 * 1024)
		entry := log.WithFields(logrus.Fields{"dir": dir, "free_mb": freeMB})
		if cfg.MinFreeMB > 0 && freeMB < uint64(cfg.MinFreeMB) {
			entry.Warn("storage target is low on space")
		} else {
			entry.Info("storage target selected")
		}
	} else {
		log.WithField("dir", dir).Info("storage target selected")
	}

	stamp := startedAt.UTC().Format(timestampLayout)
	t := &Target{
		Dir:       dir,
		DataPath:  filepath.Join(dir, fmt.Sprintf("TrisonicaData_%s.csv", stamp)),
		log:       log,
		headerSet: make(map[string]bool),
		warned:    make(map[string]bool),
	}

	f, err := os.Create(t.DataPath)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", t.DataPath, err)
	}
	t.dataFile = f
	t.dataCSV = csv.NewWriter(f)
	log.WithField("file", t.DataPath).Info("data log opened")

	if cfg.StatsEnabled {
		t.StatsPath = filepath.Join(dir, fmt.Sprintf("TrisonicaStats_%s.csv", stamp))
		sf, err := os.Create(t.StatsPath)
		if err != nil {
			t.Close()
			return nil, fmt.Errorf("create %s: %w", t.StatsPath, err)
		}
		t.statsFile = sf
		t.statsCSV = csv.NewWriter(sf)
		if err := writeRow(t.statsCSV, statsHeader); err != nil {
			t.Close()
			return nil, fmt.Errorf("write stats header: %w", err)
		}
		log.WithField("file", t.StatsPath).Info("stats log opened")
	}

	return t, nil
}

func pickDir(cfg Config, log *logrus.Entry) (string, error) {
	if cfg.Override != "" {
		if err := ensureWritable(cfg.Override, true); err != nil {
			return "", fmt.Errorf("log directory %s: %w", cfg.Override, err)
		}
		return cfg.Override, nil
	}

	// The external mount must already exist; creating it would silently
	// write to the root filesystem when the card isn't mounted.
	if cfg.ExternalDir != "" {
		err := ensureWritable(cfg.ExternalDir, false)
		if err == nil {
			return cfg.ExternalDir, nil
		}
		log.WithError(err).WithField("dir", cfg.ExternalDir).
			Warn("external storage unavailable, using local fallback")
	}

	if cfg.LocalDir == "" {
		return "", fmt.Errorf("no storage target configured")
	}
	if err := ensureWritable(cfg.LocalDir, true); err != nil {
		return "", fmt.Errorf("fallback directory %s: %w", cfg.LocalDir, err)
	}
	return cfg.LocalDir, nil
}

// ensureWritable verifies dir accepts writes by creating and removing a
// probe file. create additionally makes the directory first.
func ensureWritable(dir string, create bool) error {
	if create {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}
	info, err := os.Stat(dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}

	probe := filepath.Join(dir, writeProbeName)
	f, err := os.Create(probe)
	if err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	f.Close()
	return os.Remove(probe)
}

// Append writes one record as a single CSV row. The header comes from the
// first record's field order and stays frozen for the run; a field that
// first shows up later is dropped with a one-time warning. Any write error
// here ends the run, so none are swallowed.
func (t *Target) Append(rec trisonica.Record) error {
	if t.dataCSV == nil {
		return fmt.Errorf("data log %s is closed", t.DataPath)
	}
	if t.header == nil {
		t.header = append([]string{"timestamp"}, rec.Order...)
		for _, code := range rec.Order {
			t.headerSet[code] = true
		}
		if err := writeRow(t.dataCSV, t.header); err != nil {
			return fmt.Errorf("write data header: %w", err)
		}
	}

	row := make([]string, 0, len(t.header))
	row = append(row, rec.Time.UTC().Format(rowTimeLayout))
	for _, code := range t.header[1:] {
		v, ok := rec.Values[code]
		if ok && rec.Flags[code] == trisonica.FlagOK {
			row = append(row, strconv.FormatFloat(v, 'f', -1, 64))
		} else {
			row = append(row, "")
		}
	}

	for _, code := range rec.Order {
		if !t.headerSet[code] && !t.warned[code] {
			t.warned[code] = true
			t.log.WithField("parameter", code).
				Warn("parameter appeared after the header was frozen, dropping it for this run")
		}
	}

	if err := writeRow(t.dataCSV, row); err != nil {
		return fmt.Errorf("append data row: %w", err)
	}
	return nil
}

// FlushStats appends the snapshot as one row per parameter plus counter
// rows for the run totals. Rows are only ever appended; earlier intervals
// stay untouched.
func (t *Target) FlushStats(snap stats.Snapshot) error {
	if t.statsCSV == nil {
		return nil
	}

	ts := snap.Taken.UTC().Format(timestampLayout)
	for _, f := range snap.Fields {
		row := []string{
			ts,
			f.Code,
			fmt.Sprintf("%.6f", f.Min),
			fmt.Sprintf("%.6f", f.Max),
			fmt.Sprintf("%.6f", f.Mean),
			fmt.Sprintf("%.6f", f.StdDev),
			strconv.FormatInt(f.Count, 10),
			strconv.FormatInt(f.Errors, 10),
			fmt.Sprintf("%.2f", f.ErrorRate()),
			strconv.FormatInt(f.Total(), 10),
		}
		if err := writeRow(t.statsCSV, row); err != nil {
			return fmt.Errorf("append stats row: %w", err)
		}
	}

	counters := []struct {
		name string
		val  int64
	}{
		{"frames_received", snap.Frames},
		{"rows_written", snap.Rows},
		{"error_frames", snap.ErrorFrames},
		{"parse_failures", snap.ParseFailures},
		{"reconnects", snap.Reconnects},
		{"errors_sentinel", snap.Sentinel},
		{"errors_out_of_range", snap.OutOfRange},
		{"errors_absurd", snap.Absurd},
	}
	for _, c := range counters {
		if err := writeRow(t.statsCSV, counterRow(ts, c.name, c.val)); err != nil {
			return fmt.Errorf("append counter row: %w", err)
		}
	}
	return nil
}

func counterRow(ts, name string, v int64) []string {
	n := strconv.FormatInt(v, 10)
	return []string{ts, name, "0.000000", "0.000000", "0.000000", "0.000000", n, "0", "0.00", n}
}

// writeRow writes and flushes one row, surfacing flush errors so a full
// disk is seen on the row that hit it.
func writeRow(w *csv.Writer, row []string) error {
	if err := w.Write(row); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

// FreeMB reports the free space remaining on the target's filesystem.
func (t *Target) FreeMB() (uint64, error) {
	free, err := freeBytes(t.Dir)
	if err != nil {
		return 0, err
	}
	return free / (1024 * 1024), nil
}

// Close flushes and closes both files. The first error is returned so the
// final flush cannot fail silently.
func (t *Target) Close() error {
	var firstErr error

	if t.dataCSV != nil {
		t.dataCSV.Flush()
		if err := t.dataCSV.Error(); err != nil && firstErr == nil {
			firstErr = err
		}
		t.dataCSV = nil
	}
	if t.dataFile != nil {
		if err := t.dataFile.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		t.dataFile = nil
		t.log.WithField("file", t.DataPath).Info("data log saved")
	}

	if t.statsCSV != nil {
		t.statsCSV.Flush()
		if err := t.statsCSV.Error(); err != nil && firstErr == nil {
			firstErr = err
		}
		t.statsCSV = nil
	}
	if t.statsFile != nil {
		if err := t.statsFile.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		t.statsFile = nil
		t.log.WithField("file", t.StatsPath).Info("stats log saved")
	}

	return firstErr
}
