package trisonica

import "time"

// Flag classifies the quality of a single decoded field.
type Flag int

const (
	FlagOK Flag = iota
	FlagOutOfRange
	FlagSensorError
)

func (f Flag) String() string {
	switch f {
	case FlagOK:
		return "OK"
	case FlagOutOfRange:
		return "OUT_OF_RANGE"
	case FlagSensorError:
		return "SENSOR_ERROR"
	}
	return "UNKNOWN"
}

// ErrorKind separates the failure modes behind a non-OK flag so dominant
// error types show up in the statistics file: device sentinel values,
// physically impossible readings, and plain range violations.
type ErrorKind int

const (
	KindNone ErrorKind = iota
	KindSentinel
	KindRange
	KindAbsurd
)

func (k ErrorKind) String() string {
	switch k {
	case KindSentinel:
		return "sentinel"
	case KindRange:
		return "out_of_range"
	case KindAbsurd:
		return "absurd"
	}
	return "none"
}

// Param describes one parameter code the anemometer emits, with the
// physical range a sane reading must fall in.
type Param struct {
	Code  string  `yaml:"code"`
	Label string  `yaml:"label"`
	Unit  string  `yaml:"unit"`
	Min   float64 `yaml:"min"`
	Max   float64 `yaml:"max"`
}

// DefaultParams is the Trisonica Mini factory output set. The device can be
// configured to emit any subset; codes not in the table are ignored on the
// wire.
func DefaultParams() []Param {
	return []Param{
		{Code: "S", Label: "wind speed", Unit: "m/s", Min: 0, Max: 50},
		{Code: "S2", Label: "2D wind speed", Unit: "m/s", Min: 0, Max: 50},
		{Code: "D", Label: "wind direction", Unit: "deg", Min: 0, Max: 360},
		{Code: "U", Label: "u vector", Unit: "m/s", Min: -50, Max: 50},
		{Code: "V", Label: "v vector", Unit: "m/s", Min: -50, Max: 50},
		{Code: "W", Label: "w vector", Unit: "m/s", Min: -50, Max: 50},
		{Code: "T", Label: "temperature", Unit: "C", Min: -40, Max: 60},
		{Code: "H", Label: "humidity", Unit: "%", Min: 0, Max: 100},
		{Code: "P", Label: "pressure", Unit: "hPa", Min: 900, Max: 1100},
	}
}

// Frame is one decoded reading: parameter codes mapped to values, plus the
// capture time. Order holds the codes as they first appeared on the wire,
// which later fixes the CSV column order.
type Frame struct {
	Time   time.Time
	Values map[string]float64
	Order  []string
}

// Record is a Frame with a per-field quality verdict. Kinds is only
// populated for fields whose flag is not OK.
type Record struct {
	Frame
	Flags map[string]Flag
	Kinds map[string]ErrorKind
}

// HasError reports whether any field failed validation.
func (r Record) HasError() bool {
	for _, f := range r.Flags {
		if f != FlagOK {
			return true
		}
	}
	return false
}

// ErrorFields returns the codes that failed validation, in wire order.
func (r Record) ErrorFields() []string {
	var out []string
	for _, code := range r.Order {
		if r.Flags[code] != FlagOK {
			out = append(out, code)
		}
	}
	return out
}
