package stats

import (
	"math"
	"testing"
	"time"

	"trisonica-logger/internal/trisonica"
)

func record(values map[string]float64, flags map[string]trisonica.Flag, kinds map[string]trisonica.ErrorKind) trisonica.Record {
	f := trisonica.Frame{Time: time.Now().UTC(), Values: values}
	for code := range values {
		f.Order = append(f.Order, code)
	}
	if flags == nil {
		flags = make(map[string]trisonica.Flag)
		for code := range values {
			flags[code] = trisonica.FlagOK
		}
	}
	if kinds == nil {
		kinds = make(map[string]trisonica.ErrorKind)
	}
	return trisonica.Record{Frame: f, Flags: flags, Kinds: kinds}
}

func TestAggregateAgainstDirectComputation(t *testing.T) {
	values := []float64{5.2, 6.1, 4.8, 7.3, 5.5, 6.6, 4.9}

	tr := NewTracker()
	for _, v := range values {
		tr.Observe(record(map[string]float64{"S": v}, nil, nil))
	}

	snap := tr.Snapshot()
	f, ok := snap.Field("S")
	if !ok {
		t.Fatal("S missing from snapshot")
	}

	var sum float64
	min, max := values[0], values[0]
	for _, v := range values {
		sum += v
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	mean := sum / float64(len(values))
	var variance float64
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	std := math.Sqrt(variance / float64(len(values)))

	if f.Count != int64(len(values)) {
		t.Errorf("Count = %d, want %d", f.Count, len(values))
	}
	if math.Abs(f.Mean-mean) > 1e-9 {
		t.Errorf("Mean = %v, want %v", f.Mean, mean)
	}
	if math.Abs(f.StdDev-std) > 1e-9 {
		t.Errorf("StdDev = %v, want %v", f.StdDev, std)
	}
	if f.Min != min || f.Max != max {
		t.Errorf("Min/Max = %v/%v, want %v/%v", f.Min, f.Max, min, max)
	}
	if f.Last != values[len(values)-1] {
		t.Errorf("Last = %v, want %v", f.Last, values[len(values)-1])
	}
}

func TestErrorValuesStayOutOfAggregates(t *testing.T) {
	tr := NewTracker()
	tr.Observe(record(map[string]float64{"S": 5.0}, nil, nil))
	tr.Observe(record(
		map[string]float64{"S": -99.5},
		map[string]trisonica.Flag{"S": trisonica.FlagSensorError},
		map[string]trisonica.ErrorKind{"S": trisonica.KindSentinel},
	))
	tr.Observe(record(map[string]float64{"S": 7.0}, nil, nil))

	snap := tr.Snapshot()
	f, _ := snap.Field("S")
	if f.Count != 2 {
		t.Errorf("Count = %d, want 2 (sentinel excluded)", f.Count)
	}
	if f.Min != 5.0 {
		t.Errorf("Min = %v, want 5.0 (sentinel must not drag it down)", f.Min)
	}
	if f.Errors != 1 {
		t.Errorf("Errors = %d, want 1", f.Errors)
	}
	if f.Total() != 3 {
		t.Errorf("Total = %d, want 3", f.Total())
	}
	if math.Abs(f.ErrorRate()-100.0/3) > 1e-9 {
		t.Errorf("ErrorRate = %v, want %v", f.ErrorRate(), 100.0/3)
	}
	if snap.Sentinel != 1 {
		t.Errorf("Sentinel kind count = %d, want 1", snap.Sentinel)
	}
}

func TestErrorFrameCounting(t *testing.T) {
	tr := NewTracker()

	// One frame with two bad fields still counts once.
	tr.Observe(record(
		map[string]float64{"S": -99.0, "D": 9999, "T": 21.0},
		map[string]trisonica.Flag{
			"S": trisonica.FlagSensorError,
			"D": trisonica.FlagOutOfRange,
			"T": trisonica.FlagOK,
		},
		map[string]trisonica.ErrorKind{
			"S": trisonica.KindSentinel,
			"D": trisonica.KindRange,
		},
	))
	tr.Observe(record(map[string]float64{"S": 5.0}, nil, nil))

	snap := tr.Snapshot()
	if snap.Frames != 2 {
		t.Errorf("Frames = %d, want 2", snap.Frames)
	}
	if snap.ErrorFrames != 1 {
		t.Errorf("ErrorFrames = %d, want 1", snap.ErrorFrames)
	}
	if snap.Sentinel != 1 || snap.OutOfRange != 1 {
		t.Errorf("kind counts = %d/%d, want 1/1", snap.Sentinel, snap.OutOfRange)
	}
	if math.Abs(snap.ErrorRate()-50) > 1e-9 {
		t.Errorf("ErrorRate = %v, want 50", snap.ErrorRate())
	}
}

func TestCounters(t *testing.T) {
	tr := NewTracker()
	tr.RecordRow()
	tr.RecordRow()
	tr.RecordParseFailure()
	tr.RecordReconnect()

	snap := tr.Snapshot()
	if snap.Rows != 2 {
		t.Errorf("Rows = %d, want 2", snap.Rows)
	}
	if snap.ParseFailures != 1 {
		t.Errorf("ParseFailures = %d, want 1", snap.ParseFailures)
	}
	if snap.Reconnects != 1 {
		t.Errorf("Reconnects = %d, want 1", snap.Reconnects)
	}
}

func TestSnapshotIsolation(t *testing.T) {
	tr := NewTracker()
	tr.Observe(record(map[string]float64{"S": 5.0}, nil, nil))

	snap := tr.Snapshot()
	tr.Observe(record(map[string]float64{"S": 9.0}, nil, nil))

	f, _ := snap.Field("S")
	if f.Count != 1 || f.Max != 5.0 {
		t.Errorf("snapshot changed after later observations: %+v", f)
	}
}

func TestFieldOrderStable(t *testing.T) {
	tr := NewTracker()
	tr.Observe(record(map[string]float64{"T": 21}, nil, nil))

	// Force deterministic wire order across two frames.
	rec := record(map[string]float64{"S": 5, "D": 180}, nil, nil)
	rec.Order = []string{"S", "D"}
	tr.Observe(rec)

	snap := tr.Snapshot()
	want := []string{"T", "S", "D"}
	if len(snap.Fields) != len(want) {
		t.Fatalf("got %d fields, want %d", len(snap.Fields), len(want))
	}
	for i, code := range want {
		if snap.Fields[i].Code != code {
			t.Errorf("Fields[%d] = %s, want %s", i, snap.Fields[i].Code, code)
		}
	}
}
