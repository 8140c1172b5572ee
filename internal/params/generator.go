// Package params generates fuzzing values for typed command parameters.
package params

import (
	"fmt"
	"math"
	"strings"

	"github.com/c2afuzz/c2afuzz/internal/cmddb"
)

// Strategy selects how values are drawn.
type Strategy string

const (
	StrategyRandom Strategy = "random"
	StrategyMin    Strategy = "min"
	StrategyMax    Strategy = "max"
	StrategyEdge   Strategy = "edge"
)

// Strategies lists every known strategy.
var Strategies = []Strategy{StrategyRandom, StrategyMin, StrategyMax, StrategyEdge}

// ParseStrategy maps a name to a strategy; unknown names mean random.
func ParseStrategy(s string) Strategy {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case StrategyMin:
		return StrategyMin
	case StrategyMax:
		return StrategyMax
	case StrategyEdge:
		return StrategyEdge
	default:
		return StrategyRandom
	}
}

// Valid reports whether s names a known strategy.
func (s Strategy) Valid() bool {
	for _, known := range Strategies {
		if s == known {
			return true
		}
	}
	return false
}

// Type is the primitive a type tag resolves to.
type Type int

const (
	TypeUnknown Type = iota
	TypeUint8
	TypeInt8
	TypeUint16
	TypeInt16
	TypeUint32
	TypeInt32
	TypeDouble
	TypeFloat
	TypeRaw
)

// DefaultType is used for parameters whose type column is missing entirely.
const DefaultType = "uint32_t"

// Order matters: "uint8" must be tried before "int8", and so on.
var typeMatchers = []struct {
	substr string
	typ    Type
}{
	{"uint8", TypeUint8},
	{"int8", TypeInt8},
	{"uint16", TypeUint16},
	{"int16", TypeInt16},
	{"uint32", TypeUint32},
	{"int32", TypeInt32},
	{"double", TypeDouble},
	{"float", TypeFloat},
	{"raw", TypeRaw},
}

// Classify resolves a free-form type tag such as "uint16_t" by
// case-insensitive substring match; the first match wins.
func Classify(tag string) Type {
	tag = strings.ToLower(strings.TrimSpace(tag))
	for _, m := range typeMatchers {
		if strings.Contains(tag, m.substr) {
			return m.typ
		}
	}
	return TypeUnknown
}

func (t Type) String() string {
	switch t {
	case TypeUint8:
		return "uint8"
	case TypeInt8:
		return "int8"
	case TypeUint16:
		return "uint16"
	case TypeInt16:
		return "int16"
	case TypeUint32:
		return "uint32"
	case TypeInt32:
		return "int32"
	case TypeDouble:
		return "double"
	case TypeFloat:
		return "float"
	case TypeRaw:
		return "raw"
	default:
		return "unknown"
	}
}

type intRange struct{ lo, hi int64 }

// Random-draw ranges. uint32 is capped at 2^31-1 like the ground tools do.
var intRanges = map[Type]intRange{
	TypeUint8:   {0, math.MaxUint8},
	TypeInt8:    {math.MinInt8, math.MaxInt8},
	TypeUint16:  {0, math.MaxUint16},
	TypeInt16:   {math.MinInt16, math.MaxInt16},
	TypeUint32:  {0, math.MaxInt32},
	TypeInt32:   {math.MinInt32, math.MaxInt32},
	TypeRaw:     {0, math.MaxUint8},
	TypeUnknown: {0, math.MaxUint8},
}

const (
	doubleBound      = 1e10
	floatRandomBound = 1e6
	rawBytes         = 4
)

// IntEdgeValues are the boundary integers tried by the edge strategy.
var IntEdgeValues = []int64{0, 1, 255, 256, -128, 127, -1, 65535, 65536, -32768, 32767}

// FloatEdgeValues are the boundary floats tried by the edge strategy.
var FloatEdgeValues = []float64{0, 1, -1, 1e10, -1e10, math.Inf(1), math.Inf(-1)}

// Generator draws parameter values with a fixed default strategy.
type Generator struct {
	strategy Strategy
	rnd      *Rand
}

// NewGenerator returns a generator using rnd; a nil rnd is seeded from the clock.
func NewGenerator(strategy Strategy, rnd *Rand) *Generator {
	if rnd == nil {
		rnd = NewTimeRand()
	}
	if !strategy.Valid() {
		strategy = StrategyRandom
	}
	return &Generator{strategy: strategy, rnd: rnd}
}

// Strategy returns the generator's default strategy.
func (g *Generator) Strategy() Strategy {
	return g.strategy
}

// Generate draws one value for typeTag. The hint is the parameter's
// description; it is accepted for future range extraction and ignored today.
func (g *Generator) Generate(typeTag, hint string) Param {
	return g.GenerateWith(g.strategy, typeTag, hint)
}

// GenerateWith is Generate with a per-call strategy.
func (g *Generator) GenerateWith(strategy Strategy, typeTag, _ string) Param {
	typ := Classify(typeTag)
	switch strategy {
	case StrategyMin:
		return g.min(typ)
	case StrategyMax:
		return g.max(typ)
	case StrategyEdge:
		return g.edge(typ)
	default:
		return g.random(typ)
	}
}

// ForDescriptor draws one value per declared parameter, in wire order.
func (g *Generator) ForDescriptor(d cmddb.Descriptor) []Param {
	out := make([]Param, 0, d.NumParams())
	for i := 0; i < d.NumParams(); i++ {
		typeTag := DefaultType
		if i < len(d.ParamTypes) {
			typeTag = d.ParamTypes[i]
		}
		hint := ""
		if i < len(d.ParamDescriptions) {
			hint = d.ParamDescriptions[i]
		}
		out = append(out, g.Generate(typeTag, hint))
	}
	return out
}

func (g *Generator) random(typ Type) Param {
	switch typ {
	case TypeDouble:
		return Float(g.rnd.Float64Between(-doubleBound, doubleBound))
	case TypeFloat:
		return Float(g.rnd.Float64Between(-floatRandomBound, floatRandomBound))
	case TypeRaw:
		var sb strings.Builder
		sb.WriteString("0x")
		for i := 0; i < rawBytes; i++ {
			fmt.Fprintf(&sb, "%02x", g.rnd.Byte())
		}
		return Raw(sb.String())
	default:
		r := intRanges[typ]
		return Int(g.rnd.Int64Between(r.lo, r.hi))
	}
}

func (g *Generator) min(typ Type) Param {
	if typ == TypeDouble || typ == TypeFloat {
		return Float(-doubleBound)
	}
	return Int(intRanges[typ].lo)
}

func (g *Generator) max(typ Type) Param {
	if typ == TypeDouble || typ == TypeFloat {
		return Float(doubleBound)
	}
	return Int(intRanges[typ].hi)
}

func (g *Generator) edge(typ Type) Param {
	if typ == TypeDouble || typ == TypeFloat {
		return Float(FloatEdgeValues[g.rnd.IntN(len(FloatEdgeValues))])
	}
	return Int(IntEdgeValues[g.rnd.IntN(len(IntEdgeValues))])
}
