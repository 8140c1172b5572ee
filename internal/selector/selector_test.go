package selector

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c2afuzz/c2afuzz/internal/cmddb"
	"github.com/c2afuzz/c2afuzz/internal/enum"
	fuzzerrors "github.com/c2afuzz/c2afuzz/internal/errors"
	"github.com/c2afuzz/c2afuzz/internal/params"
)

func testIndex() *enum.Index {
	return enum.New(map[string]uint32{
		"NOP":             0x0000,
		"TMGR_SET_TIME":   0x0001,
		"MEM_LOAD_X":      0x0002,
		"AM_INITIALIZE":   0x0003,
		"HK_SET_PERIOD":   0x0004,
		"NOT_IN_DB_CMD":   0x0005,
		"TLM_MGR_CLEAR":   0x0006,
		"MEM_DUMP_REGION": 0x0007,
	})
}

func testDB() *cmddb.Database {
	return cmddb.New(
		cmddb.Synthetic("NOP", 0),
		cmddb.Descriptor{
			Name:              "TMGR_SET_TIME",
			Code:              1,
			ParamTypes:        []string{"uint32_t"},
			ParamDescriptions: []string{"ti"},
		},
	)
}

func u64(v uint64) *uint64 { return &v }

func TestSelectOneExplicitNameWithoutExclusions(t *testing.T) {
	s := New(testDB(), testIndex(), nil, params.NewRand(1))

	sel, err := s.SelectOne(Request{Name: "NOP"})
	require.NoError(t, err)
	assert.Equal(t, "NOP", sel.Name)
	assert.Equal(t, uint32(0), sel.Code)
	assert.Empty(t, sel.Descriptor.ParamTypes)
	assert.True(t, sel.InDatabase)
}

func TestSelectOneNeverReturnsExcluded(t *testing.T) {
	s := New(testDB(), testIndex(), DefaultExclusions, params.NewRand(1))

	for seed := uint64(0); seed < 200; seed++ {
		sel, err := s.SelectOne(Request{Seed: u64(seed)})
		require.NoError(t, err)
		assert.NotEqual(t, "MEM_LOAD_X", sel.Name)
		assert.NotEqual(t, "NOP", sel.Name)
	}
}

func TestSelectOneExcludedNameIsNotFound(t *testing.T) {
	s := New(testDB(), testIndex(), DefaultExclusions, params.NewRand(1))

	_, err := s.SelectOne(Request{Name: "NOP"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, fuzzerrors.ErrCommandNotFound))
}

func TestSelectOneUnknownNameIsNotFound(t *testing.T) {
	s := New(testDB(), testIndex(), nil, params.NewRand(1))

	_, err := s.SelectOne(Request{Name: "DOES_NOT_EXIST"})
	assert.ErrorIs(t, err, fuzzerrors.ErrCommandNotFound)
}

func TestSelectOneEverythingExcluded(t *testing.T) {
	s := New(testDB(), testIndex(), []string{"_", "NOP"}, params.NewRand(1))

	_, err := s.SelectOne(Request{})
	assert.ErrorIs(t, err, fuzzerrors.ErrNoCommandsAvailable)
}

func TestSelectOneEmptyEnumeration(t *testing.T) {
	s := New(testDB(), enum.New(nil), nil, nil)

	_, err := s.SelectOne(Request{Name: "NOP"})
	assert.ErrorIs(t, err, fuzzerrors.ErrNoCommandsAvailable)
}

func TestSelectOneSeedIsReproducible(t *testing.T) {
	a := New(testDB(), testIndex(), DefaultExclusions, params.NewRand(1))
	b := New(testDB(), testIndex(), DefaultExclusions, params.NewRand(12345))

	for seed := uint64(0); seed < 50; seed++ {
		first, err := a.SelectOne(Request{Seed: u64(seed)})
		require.NoError(t, err)
		second, err := b.SelectOne(Request{Seed: u64(seed)})
		require.NoError(t, err)
		assert.Equal(t, first.Name, second.Name, "seed %d", seed)
	}
}

func TestSelectOneSeedAppliesToExplicitName(t *testing.T) {
	rndA, rndB := params.NewRand(1), params.NewRand(999)
	a := New(testDB(), testIndex(), nil, rndA)
	b := New(testDB(), testIndex(), nil, rndB)

	selA, err := a.SelectOne(Request{Name: "TMGR_SET_TIME", Seed: u64(7)})
	require.NoError(t, err)
	selB, err := b.SelectOne(Request{Name: "TMGR_SET_TIME", Seed: u64(7)})
	require.NoError(t, err)

	valuesA := params.NewGenerator(params.StrategyRandom, rndA).ForDescriptor(selA.Descriptor)
	valuesB := params.NewGenerator(params.StrategyRandom, rndB).ForDescriptor(selB.Descriptor)
	require.Len(t, valuesA, 1)
	assert.True(t, valuesA[0].Equal(valuesB[0]), "%v != %v", valuesA, valuesB)
}

func TestSelectOneMissingFromDatabaseIsSynthetic(t *testing.T) {
	s := New(testDB(), testIndex(), nil, params.NewRand(1))

	sel, err := s.SelectOne(Request{Name: "NOT_IN_DB_CMD"})
	require.NoError(t, err)
	assert.False(t, sel.InDatabase)
	assert.Equal(t, uint32(5), sel.Code)
	assert.Equal(t, uint32(5), sel.Descriptor.Code)
	assert.Equal(t, 0, sel.Descriptor.NumParams())
}

func TestSelectOneUsesEnumCodeOverDatabase(t *testing.T) {
	db := cmddb.New(cmddb.Synthetic("AM_INITIALIZE", 0x99))
	s := New(db, testIndex(), nil, params.NewRand(1))

	sel, err := s.SelectOne(Request{Name: "AM_INITIALIZE"})
	require.NoError(t, err)
	assert.Equal(t, uint32(3), sel.Code)
	assert.Equal(t, uint32(0x99), sel.Descriptor.Code)
}

func TestEligibleIsSortedAndFiltered(t *testing.T) {
	s := New(testDB(), testIndex(), []string{"MEM_"}, params.NewRand(1))

	var names []string
	for _, e := range s.Eligible() {
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{"AM_INITIALIZE", "HK_SET_PERIOD", "NOP", "NOT_IN_DB_CMD", "TLM_MGR_CLEAR", "TMGR_SET_TIME"}, names)
}

func TestIsExcludedIsCaseSensitive(t *testing.T) {
	assert.True(t, IsExcluded("MEM_LOAD_X", []string{"MEM_LOAD"}))
	assert.False(t, IsExcluded("mem_load_x", []string{"MEM_LOAD"}))
	assert.False(t, IsExcluded("ANYTHING", []string{""}))
}

func TestSetDatabase(t *testing.T) {
	s := New(nil, testIndex(), nil, params.NewRand(1))
	sel, err := s.SelectOne(Request{Name: "TMGR_SET_TIME"})
	require.NoError(t, err)
	assert.False(t, sel.InDatabase)

	s.SetDatabase(testDB())
	sel, err = s.SelectOne(Request{Name: "TMGR_SET_TIME"})
	require.NoError(t, err)
	assert.True(t, sel.InDatabase)
	assert.Equal(t, []string{"uint32_t"}, sel.Descriptor.ParamTypes)
}
