package trisonica

// Sentinel is the device fault marker. Readings at or below this value mean
// the sensor head could not produce a measurement (blocked path, icing, no
// signal) and carry no physical information.
const Sentinel = -99.0

// AbsoluteZeroC bounds temperature from below. A Celsius reading under it is
// corrupt data rather than a fault code, and is tracked separately.
const AbsoluteZeroC = -273.15

// Validator applies the physical range table to decoded frames.
type Validator struct {
	params map[string]Param
}

func NewValidator(params []Param) *Validator {
	m := make(map[string]Param, len(params))
	for _, p := range params {
		m[p.Code] = p
	}
	return &Validator{params: m}
}

// Param looks up the table entry for a code.
func (v *Validator) Param(code string) (Param, bool) {
	p, ok := v.params[code]
	return p, ok
}

// Validate classifies every field of a frame independently; one bad field
// never taints its siblings. Pure function of the frame and the range table.
func (v *Validator) Validate(f Frame) Record {
	rec := Record{
		Frame: f,
		Flags: make(map[string]Flag, len(f.Values)),
		Kinds: make(map[string]ErrorKind),
	}
	for code, val := range f.Values {
		flag, kind := v.classify(code, val)
		rec.Flags[code] = flag
		if kind != KindNone {
			rec.Kinds[code] = kind
		}
	}
	return rec
}

func (v *Validator) classify(code string, val float64) (Flag, ErrorKind) {
	p, known := v.params[code]

	// Below absolute zero is garbage, not a fault code, even though it also
	// matches the sentinel pattern.
	if known && p.Unit == "C" && val < AbsoluteZeroC {
		return FlagSensorError, KindAbsurd
	}
	if val <= Sentinel {
		return FlagSensorError, KindSentinel
	}
	if known && (val < p.Min || val > p.Max) {
		return FlagOutOfRange, KindRange
	}
	return FlagOK, KindNone
}
