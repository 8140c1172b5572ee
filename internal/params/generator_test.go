package params

import (
	"math"
	"regexp"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/c2afuzz/c2afuzz/internal/cmddb"
)

var rawPattern = regexp.MustCompile(`^0x[0-9a-f]{8}$`)

func TestClassify(t *testing.T) {
	tests := []struct {
		tag  string
		want Type
	}{
		{"uint8_t", TypeUint8},
		{"int8_t", TypeInt8},
		{"UINT16_T", TypeUint16},
		{"int16_t", TypeInt16},
		{" uint32_t ", TypeUint32},
		{"int32_t", TypeInt32},
		{"double", TypeDouble},
		{"float", TypeFloat},
		{"RAW", TypeRaw},
		{"", TypeUnknown},
		{"bool", TypeUnknown},
		// first match wins: "uint8" is tried before "int16"
		{"uint8_int16", TypeUint8},
	}
	for _, tc := range tests {
		t.Run(tc.tag, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.tag))
		})
	}
}

func TestParseStrategy(t *testing.T) {
	assert.Equal(t, StrategyMin, ParseStrategy("min"))
	assert.Equal(t, StrategyMax, ParseStrategy(" MAX "))
	assert.Equal(t, StrategyEdge, ParseStrategy("edge"))
	assert.Equal(t, StrategyRandom, ParseStrategy("random"))
	assert.Equal(t, StrategyRandom, ParseStrategy("chaos"))
	assert.False(t, Strategy("chaos").Valid())
}

func TestMinMaxAreDeterministic(t *testing.T) {
	tests := []struct {
		tag      string
		min, max Param
	}{
		{"uint8_t", Int(0), Int(255)},
		{"int8_t", Int(-128), Int(127)},
		{"uint16_t", Int(0), Int(65535)},
		{"int16_t", Int(-32768), Int(32767)},
		{"uint32_t", Int(0), Int(math.MaxInt32)},
		{"int32_t", Int(math.MinInt32), Int(math.MaxInt32)},
		{"double", Float(-1e10), Float(1e10)},
		{"float", Float(-1e10), Float(1e10)},
		{"raw", Int(0), Int(255)},
		{"mystery", Int(0), Int(255)},
	}
	for _, tc := range tests {
		t.Run(tc.tag, func(t *testing.T) {
			for seed := uint64(0); seed < 5; seed++ {
				minGen := NewGenerator(StrategyMin, NewRand(seed))
				maxGen := NewGenerator(StrategyMax, NewRand(seed))
				assert.True(t, tc.min.Equal(minGen.Generate(tc.tag, "")), "min for %s", tc.tag)
				assert.True(t, tc.max.Equal(maxGen.Generate(tc.tag, "")), "max for %s", tc.tag)
			}
		})
	}
}

func TestUnknownStrategyFallsBackToRandom(t *testing.T) {
	g := NewGenerator(Strategy("bogus"), NewRand(1))
	assert.Equal(t, StrategyRandom, g.Strategy())

	p := g.GenerateWith(Strategy("bogus"), "raw", "")
	assert.Equal(t, KindRaw, p.Kind)
	assert.Regexp(t, rawPattern, p.Raw)
}

func TestHintIsIgnored(t *testing.T) {
	a := NewGenerator(StrategyRandom, NewRand(7)).Generate("uint16_t", "0-10")
	b := NewGenerator(StrategyRandom, NewRand(7)).Generate("uint16_t", "")
	assert.True(t, a.Equal(b))
}

func TestSameSeedSameValues(t *testing.T) {
	d := cmddb.Descriptor{
		Name:              "MIX",
		ParamTypes:        []string{"uint8_t", "double", "raw", "int32_t"},
		ParamDescriptions: []string{"", "", "", ""},
	}
	first := NewGenerator(StrategyRandom, NewRand(42)).ForDescriptor(d)
	second := NewGenerator(StrategyRandom, NewRand(42)).ForDescriptor(d)
	require.Len(t, first, 4)
	for i := range first {
		assert.True(t, first[i].Equal(second[i]), "param %d", i)
	}
}

func TestReseedRepeatsDraws(t *testing.T) {
	rnd := NewRand(1)
	g := NewGenerator(StrategyRandom, rnd)

	rnd.Seed(99)
	a := g.Generate("int32_t", "")
	rnd.Seed(99)
	b := g.Generate("int32_t", "")
	assert.True(t, a.Equal(b))
}

func TestForDescriptorZeroParams(t *testing.T) {
	g := NewGenerator(StrategyRandom, NewRand(1))
	out := g.ForDescriptor(cmddb.Synthetic("NOP", 0))
	assert.NotNil(t, out)
	assert.Empty(t, out)
}

func TestForDescriptorKinds(t *testing.T) {
	g := NewGenerator(StrategyRandom, NewRand(3))
	d := cmddb.Descriptor{
		ParamTypes:        []string{"float", "raw", "", "uint16_t"},
		ParamDescriptions: []string{"", "", "", ""},
	}
	out := g.ForDescriptor(d)
	require.Len(t, out, 4)
	assert.Equal(t, KindFloat, out[0].Kind)
	assert.Equal(t, KindRaw, out[1].Kind)
	assert.Equal(t, KindInt, out[2].Kind)
	assert.Equal(t, KindInt, out[3].Kind)
}

func TestRandomRangesProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		seed := rapid.Uint64().Draw(t, "seed")
		tag := rapid.SampledFrom([]string{
			"uint8_t", "int8_t", "uint16_t", "int16_t", "uint32_t", "int32_t",
			"double", "float", "raw", "unknown_t",
		}).Draw(t, "tag")

		p := NewGenerator(StrategyRandom, NewRand(seed)).Generate(tag, "")
		typ := Classify(tag)

		switch typ {
		case TypeDouble:
			if p.Kind != KindFloat || p.Float < -1e10 || p.Float > 1e10 {
				t.Fatalf("double out of range: %v", p)
			}
		case TypeFloat:
			if p.Kind != KindFloat || p.Float < -1e6 || p.Float > 1e6 {
				t.Fatalf("float out of range: %v", p)
			}
		case TypeRaw:
			if p.Kind != KindRaw || !rawPattern.MatchString(p.Raw) {
				t.Fatalf("raw malformed: %v", p)
			}
		default:
			r := intRanges[typ]
			if p.Kind != KindInt || p.Int < r.lo || p.Int > r.hi {
				t.Fatalf("%s out of range [%d,%d]: %v", tag, r.lo, r.hi, p)
			}
		}
	})
}

func TestEdgeValuesProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		seed := rapid.Uint64().Draw(t, "seed")
		tag := rapid.SampledFrom([]string{"uint8_t", "int32_t", "raw", "double", "float", "bool"}).Draw(t, "tag")

		p := NewGenerator(StrategyEdge, NewRand(seed)).Generate(tag, "")
		switch Classify(tag) {
		case TypeDouble, TypeFloat:
			if p.Kind != KindFloat || !slices.Contains(FloatEdgeValues, p.Float) {
				t.Fatalf("float edge value not in set: %v", p)
			}
		default:
			if p.Kind != KindInt || !slices.Contains(IntEdgeValues, p.Int) {
				t.Fatalf("int edge value not in set: %v", p)
			}
		}
	})
}
