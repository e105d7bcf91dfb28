package trisonica

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Separator conventions the device firmware can be configured to emit.
const (
	SepAuto  = "auto"
	SepComma = "comma"
	SepSpace = "space"
)

// ErrNoFields marks a line that produced no recognized fields at all. One
// such line never halts the stream; the caller counts it and moves on.
var ErrNoFields = errors.New("no recognized fields in line")

// Parser decodes raw anemometer lines into Frames. The recognized code set
// and the token separator are fixed at construction, not re-derived per line.
type Parser struct {
	params map[string]Param
	sep    string
}

func NewParser(params []Param, separator string) (*Parser, error) {
	switch separator {
	case SepAuto, SepComma, SepSpace:
	default:
		return nil, fmt.Errorf("unknown separator convention %q", separator)
	}
	m := make(map[string]Param, len(params))
	for _, p := range params {
		m[p.Code] = p
	}
	return &Parser{params: m, sep: separator}, nil
}

// Param looks up the table entry for a code.
func (p *Parser) Param(code string) (Param, bool) {
	pr, ok := p.params[code]
	return pr, ok
}

// Parse decodes one line captured at the given time. The wire format is
// CODE value pairs, either comma-separated ("S 05.2, D 180, T 22.1") or
// plain whitespace pairs ("S 05.2 D 180 T 22.1"). Unrecognized codes and
// tokens that fail numeric parsing are skipped so a partial frame still
// comes through; a line yielding nothing is ErrNoFields.
func (p *Parser) Parse(line string, at time.Time) (Frame, error) {
	frame := Frame{Time: at.UTC(), Values: make(map[string]float64)}

	line = strings.TrimSpace(line)
	if line == "" {
		return frame, ErrNoFields
	}

	useComma := p.sep == SepComma || (p.sep == SepAuto && strings.Contains(line, ","))
	if useComma {
		for _, pair := range strings.Split(line, ",") {
			code, raw, ok := strings.Cut(strings.TrimSpace(pair), " ")
			if !ok {
				continue
			}
			p.take(&frame, code, raw)
		}
	} else {
		tokens := strings.Fields(line)
		for i := 0; i+1 < len(tokens); i += 2 {
			p.take(&frame, tokens[i], tokens[i+1])
		}
	}

	if len(frame.Values) == 0 {
		return frame, ErrNoFields
	}
	return frame, nil
}

func (p *Parser) take(f *Frame, code, raw string) {
	code = strings.TrimSpace(code)
	if _, ok := p.params[code]; !ok {
		return
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return
	}
	if _, seen := f.Values[code]; !seen {
		f.Order = append(f.Order, code)
	}
	f.Values[code] = v
}
