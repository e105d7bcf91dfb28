package stats

import (
	"math"
	"time"

	"trisonica-logger/internal/trisonica"
)

// FieldAggregate accumulates running statistics for one parameter without
// holding history. Welford's recurrence keeps mean and variance exact in
// O(1) space.
type FieldAggregate struct {
	Count  int64
	Errors int64
	Min    float64
	Max    float64
	Last   float64

	mean float64
	m2   float64
}

func (a *FieldAggregate) observe(v float64) {
	a.Count++
	a.Last = v
	if a.Count == 1 {
		a.Min, a.Max = v, v
	} else {
		if v < a.Min {
			a.Min = v
		}
		if v > a.Max {
			a.Max = v
		}
	}
	delta := v - a.mean
	a.mean += delta / float64(a.Count)
	a.m2 += delta * (v - a.mean)
}

func (a *FieldAggregate) Mean() float64 {
	return a.mean
}

func (a *FieldAggregate) StdDev() float64 {
	if a.Count == 0 {
		return 0
	}
	return math.Sqrt(a.m2 / float64(a.Count))
}

// Tracker owns all per-run counters. Not safe for concurrent use; the
// acquisition loop is the only writer.
type Tracker struct {
	started time.Time

	frames        int64
	rows          int64
	errorFrames   int64
	parseFailures int64
	reconnects    int64

	kinds  map[trisonica.ErrorKind]int64
	fields map[string]*FieldAggregate
	order  []string
}

func NewTracker() *Tracker {
	return &Tracker{
		started: time.Now(),
		kinds:   make(map[trisonica.ErrorKind]int64),
		fields:  make(map[string]*FieldAggregate),
	}
}

// Observe folds one validated record into the running statistics. Only OK
// values enter the numeric aggregates; failed fields bump error counters,
// split by kind.
func (t *Tracker) Observe(rec trisonica.Record) {
	t.frames++
	hadError := false
	for _, code := range rec.Order {
		agg := t.field(code)
		if rec.Flags[code] == trisonica.FlagOK {
			agg.observe(rec.Values[code])
		} else {
			hadError = true
			agg.Errors++
			t.kinds[rec.Kinds[code]]++
		}
	}
	if hadError {
		t.errorFrames++
	}
}

func (t *Tracker) RecordRow()          { t.rows++ }
func (t *Tracker) RecordParseFailure() { t.parseFailures++ }
func (t *Tracker) RecordReconnect()    { t.reconnects++ }

func (t *Tracker) field(code string) *FieldAggregate {
	agg, ok := t.fields[code]
	if !ok {
		agg = &FieldAggregate{}
		t.fields[code] = agg
		t.order = append(t.order, code)
	}
	return agg
}

// FieldSnapshot is the frozen view of one parameter's aggregates.
type FieldSnapshot struct {
	Code   string
	Count  int64
	Errors int64
	Min    float64
	Max    float64
	Mean   float64
	StdDev float64
	Last   float64
}

// Total is every observation of the field, good or failed.
func (f FieldSnapshot) Total() int64 {
	return f.Count + f.Errors
}

// ErrorRate is the failed share of this field's observations, in percent.
func (f FieldSnapshot) ErrorRate() float64 {
	total := f.Total()
	if total == 0 {
		return 0
	}
	return float64(f.Errors) / float64(total) * 100
}

// Snapshot is a point-in-time copy of all run statistics, safe to hold
// across later observations.
type Snapshot struct {
	Started time.Time
	Taken   time.Time

	Frames        int64
	Rows          int64
	ErrorFrames   int64
	ParseFailures int64
	Reconnects    int64

	Sentinel   int64
	OutOfRange int64
	Absurd     int64

	Fields []FieldSnapshot // first-observed order
}

func (t *Tracker) Snapshot() Snapshot {
	snap := Snapshot{
		Started:       t.started,
		Taken:         time.Now(),
		Frames:        t.frames,
		Rows:          t.rows,
		ErrorFrames:   t.errorFrames,
		ParseFailures: t.parseFailures,
		Reconnects:    t.reconnects,
		Sentinel:      t.kinds[trisonica.KindSentinel],
		OutOfRange:    t.kinds[trisonica.KindRange],
		Absurd:        t.kinds[trisonica.KindAbsurd],
	}
	for _, code := range t.order {
		agg := t.fields[code]
		snap.Fields = append(snap.Fields, FieldSnapshot{
			Code:   code,
			Count:  agg.Count,
			Errors: agg.Errors,
			Min:    agg.Min,
			Max:    agg.Max,
			Mean:   agg.Mean(),
			StdDev: agg.StdDev(),
			Last:   agg.Last,
		})
	}
	return snap
}

// Field finds a parameter's snapshot by code.
func (s Snapshot) Field(code string) (FieldSnapshot, bool) {
	for _, f := range s.Fields {
		if f.Code == code {
			return f, true
		}
	}
	return FieldSnapshot{}, false
}

// ErrorRate is the share of frames with at least one failed field, in
// percent.
func (s Snapshot) ErrorRate() float64 {
	if s.Frames == 0 {
		return 0
	}
	return float64(s.ErrorFrames) / float64(s.Frames) * 100
}

// Rate is the average frame rate since the run started, in Hz.
func (s Snapshot) Rate() float64 {
	elapsed := s.Taken.Sub(s.Started).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(s.Frames) / elapsed
}

// Runtime is the elapsed run time, truncated to whole seconds for display.
func (s Snapshot) Runtime() time.Duration {
	return s.Taken.Sub(s.Started).Truncate(time.Second)
}
