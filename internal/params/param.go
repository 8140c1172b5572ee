package params

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

// Kind tells which field of a Param is meaningful.
type Kind uint8

const (
	KindInt Kind = iota
	KindFloat
	KindRaw
)

func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindRaw:
		return "raw"
	default:
		return "unknown"
	}
}

// Param is one generated parameter value.
type Param struct {
	Kind  Kind
	Int   int64
	Float float64
	Raw   string
}

// Int returns an integer parameter.
func Int(v int64) Param { return Param{Kind: KindInt, Int: v} }

// Float returns a floating-point parameter.
func Float(v float64) Param { return Param{Kind: KindFloat, Float: v} }

// Raw returns a raw byte-string parameter such as "0x1a2b3c4d".
func Raw(s string) Param { return Param{Kind: KindRaw, Raw: s} }

// Non-finite floats travel as these strings because JSON has no literal for them.
const (
	tokenPosInf = "Infinity"
	tokenNegInf = "-Infinity"
	tokenNaN    = "NaN"
)

func (p Param) String() string {
	switch p.Kind {
	case KindFloat:
		return formatFloat(p.Float)
	case KindRaw:
		return strconv.Quote(p.Raw)
	default:
		return strconv.FormatInt(p.Int, 10)
	}
}

// Equal compares two params, treating NaN as equal to NaN.
func (p Param) Equal(o Param) bool {
	if p.Kind != o.Kind {
		return false
	}
	switch p.Kind {
	case KindFloat:
		if math.IsNaN(p.Float) && math.IsNaN(o.Float) {
			return true
		}
		return p.Float == o.Float
	case KindRaw:
		return p.Raw == o.Raw
	default:
		return p.Int == o.Int
	}
}

// MarshalJSON encodes integers as JSON integers, finite floats as JSON
// numbers that always carry a fraction or exponent, non-finite floats as
// strings and raw values as strings.
func (p Param) MarshalJSON() ([]byte, error) {
	switch p.Kind {
	case KindInt:
		return []byte(strconv.FormatInt(p.Int, 10)), nil
	case KindFloat:
		s := formatFloat(p.Float)
		if math.IsInf(p.Float, 0) || math.IsNaN(p.Float) {
			return []byte(strconv.Quote(s)), nil
		}
		return []byte(s), nil
	case KindRaw:
		return json.Marshal(p.Raw)
	default:
		return nil, fmt.Errorf("unknown param kind %d", p.Kind)
	}
}

// UnmarshalJSON accepts numbers and strings. Numbers without a fraction or
// exponent become integers when they fit in int64. The strings "Infinity",
// "-Infinity" and "NaN" become floats; any other string is raw.
func (p *Param) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("empty param")
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("decode param string: %w", err)
		}
		if f, ok := nonFinite(s); ok {
			*p = Float(f)
			return nil
		}
		*p = Raw(s)
		return nil
	}

	text := string(data)
	if f, ok := nonFinite(text); ok {
		*p = Float(f)
		return nil
	}
	if !strings.ContainsAny(text, ".eE") {
		if v, err := strconv.ParseInt(text, 10, 64); err == nil {
			*p = Int(v)
			return nil
		}
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return fmt.Errorf("decode param %q: %w", text, err)
	}
	*p = Float(f)
	return nil
}

func nonFinite(s string) (float64, bool) {
	switch s {
	case tokenPosInf:
		return math.Inf(1), true
	case tokenNegInf:
		return math.Inf(-1), true
	case tokenNaN:
		return math.NaN(), true
	}
	return 0, false
}

func formatFloat(f float64) string {
	switch {
	case math.IsInf(f, 1):
		return tokenPosInf
	case math.IsInf(f, -1):
		return tokenNegInf
	case math.IsNaN(f):
		return tokenNaN
	}
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".e") {
		s += ".0"
	}
	return s
}

// FormatList renders params the way console output shows them: "[1, 2.5, \"0x00\"]".
func FormatList(ps []Param) string {
	parts := make([]string, len(ps))
	for i, p := range ps {
		parts[i] = p.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
