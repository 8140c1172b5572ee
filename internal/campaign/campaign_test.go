package campaign

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/goccy/go-json"
	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/c2afuzz/c2afuzz/internal/backend"
	"github.com/c2afuzz/c2afuzz/internal/cmddb"
	"github.com/c2afuzz/c2afuzz/internal/enum"
	"github.com/c2afuzz/c2afuzz/internal/metrics"
	"github.com/c2afuzz/c2afuzz/internal/params"
)

type mockOperation struct {
	mock.Mock
}

func (m *mockOperation) SendRealtimeCommandAndConfirm(ctx context.Context, code uint32, ps []params.Param, ackTlmID uint32) (backend.Result, error) {
	args := m.Called(ctx, code, ps, ackTlmID)
	return args.Get(0).(backend.Result), args.Error(1)
}

func (m *mockOperation) SendTimelineCommand(ctx context.Context, ti uint64, code uint32, ps []params.Param) error {
	return m.Called(ctx, ti, code, ps).Error(0)
}

func (m *mockOperation) SendBlockCommand(ctx context.Context, ti uint64, code uint32, ps []params.Param) error {
	return m.Called(ctx, ti, code, ps).Error(0)
}

func (m *mockOperation) GenerateAndReceiveTelemetry(ctx context.Context, triggerCode, tlmID uint32) (backend.Telemetry, error) {
	args := m.Called(ctx, triggerCode, tlmID)
	tlm, _ := args.Get(0).(backend.Telemetry)
	return tlm, args.Error(1)
}

func fixtureDB() *cmddb.Database {
	return cmddb.New(
		cmddb.Synthetic("NOP", 0x00),
		cmddb.Descriptor{Name: "AOCS_SET", Code: 0x20, ParamTypes: []string{"uint8_t", "double"}, ParamDescriptions: []string{"", ""}},
		cmddb.Descriptor{Name: "MEM_LOAD", Code: 0x30, ParamTypes: []string{"raw"}, ParamDescriptions: []string{""}},
		cmddb.Descriptor{Name: "OBC_RESET", Code: 0x40, Danger: true, ParamTypes: []string{}, ParamDescriptions: []string{}},
	)
}

func fixtureIndex() *enum.Index {
	return enum.New(map[string]uint32{
		"NOP":       0x00,
		"AOCS_SET":  0x20,
		"MEM_LOAD":  0x30,
		"OBC_RESET": 0x40,
		"GHOST":     0x99,
	})
}

func simRunner(out *bytes.Buffer) *Runner {
	db := fixtureDB()
	d := backend.NewDispatcher(backend.NewSim(db, nil), backend.DispatcherConfig{})
	return NewRunner(db, fixtureIndex(), d, params.NewRand(1), out)
}

func TestRunAllAgainstSim(t *testing.T) {
	var out bytes.Buffer
	report, err := simRunner(&out).RunAll(context.Background(), Options{Strategy: params.StrategyMin})
	require.NoError(t, err)

	assert.Equal(t, 5, report.Tested)
	assert.Equal(t, map[backend.Result]int{
		backend.ResultSuccess:       3,
		backend.ResultContextError:  1,
		backend.ResultRoutingFailed: 1,
	}, report.Tally)

	require.Len(t, report.Failures, 2)
	assert.Equal(t, "GHOST", report.Failures[0].Name)
	assert.Equal(t, backend.ResultRoutingFailed, report.Failures[0].Result)
	assert.Equal(t, "OBC_RESET", report.Failures[1].Name)
	assert.Equal(t, backend.ResultContextError, report.Failures[1].Result)

	_, err = ulid.Parse(report.ID)
	assert.NoError(t, err)
	assert.False(t, report.Finished.Before(report.Started))

	assert.Contains(t, out.String(), "Testing RT: AOCS_SET (0x0020) with params: [0, -1e+10]")
	assert.Contains(t, out.String(), "  Result: SUC")
}

func TestRunAllHonoursExclusionsAndLimit(t *testing.T) {
	var out bytes.Buffer
	report, err := simRunner(&out).RunAll(context.Background(), Options{
		Exclude:     []string{"MEM_LOAD", "NOP"},
		MaxCommands: 2,
	})
	require.NoError(t, err)

	assert.Equal(t, 2, report.Tested)
	assert.NotContains(t, out.String(), "MEM_LOAD")
	assert.NotContains(t, out.String(), "NOP")
	assert.Contains(t, out.String(), "AOCS_SET")
	assert.Contains(t, out.String(), "GHOST")
}

func TestRunAllOnlyPatterns(t *testing.T) {
	var out bytes.Buffer
	report, err := simRunner(&out).RunAll(context.Background(), Options{Only: []string{"AOCS_*", "", "N?P"}})
	require.NoError(t, err)

	assert.Equal(t, 2, report.Tested)
	assert.Equal(t, 2, report.Tally[backend.ResultSuccess])
}

func TestRunAllSkipDanger(t *testing.T) {
	var out bytes.Buffer
	report, err := simRunner(&out).RunAll(context.Background(), Options{SkipDanger: true, Only: []string{"OBC_*"}})
	require.NoError(t, err)

	assert.Equal(t, map[backend.Result]int{backend.ResultSkipped: 1}, report.Tally)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, backend.ResultSkipped, report.Failures[0].Result)
	assert.Contains(t, out.String(), "Skipping RT: OBC_RESET (0x0040) is flagged dangerous")
}

func TestRunAllBackendErrorDoesNotAbort(t *testing.T) {
	before := testutil.ToFloat64(metrics.CampaignResultsTotal.WithLabelValues("ERR"))

	op := new(mockOperation)
	op.On("SendRealtimeCommandAndConfirm", mock.Anything, uint32(0x20), mock.Anything, mock.Anything).
		Return(backend.Result(""), errors.New("link down"))
	op.On("SendRealtimeCommandAndConfirm", mock.Anything, uint32(0x00), mock.Anything, mock.Anything).
		Return(backend.Result("WEIRD"), nil)

	var out bytes.Buffer
	r := NewRunner(fixtureDB(), fixtureIndex(), backend.NewDispatcher(op, backend.DispatcherConfig{}), params.NewRand(1), &out)
	report, err := r.RunAll(context.Background(), Options{Only: []string{"AOCS_SET", "NOP"}})
	require.NoError(t, err)

	assert.Equal(t, 2, report.Tested)
	assert.Equal(t, 1, report.Tally[backend.ResultError])
	assert.Equal(t, 1, report.Tally["WEIRD"])
	assert.Len(t, report.Failures, 2)
	assert.Contains(t, out.String(), "Error sending AOCS_SET:")
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.CampaignResultsTotal.WithLabelValues("ERR")))
	op.AssertExpectations(t)
}

func TestRunAllTimelineMode(t *testing.T) {
	op := new(mockOperation)
	op.On("GenerateAndReceiveTelemetry", mock.Anything, mock.Anything, mock.Anything).
		Return(backend.Telemetry{"HK.SH.TI": uint64(5)}, nil)
	op.On("SendTimelineCommand", mock.Anything, uint64(10005), uint32(0x00), mock.Anything).Return(nil)

	var out bytes.Buffer
	d := backend.NewDispatcher(op, backend.DispatcherConfig{TIOffset: backend.DefaultTIOffset})
	r := NewRunner(fixtureDB(), fixtureIndex(), d, nil, &out)
	report, err := r.RunAll(context.Background(), Options{Mode: backend.ModeTimeline, Only: []string{"NOP"}})
	require.NoError(t, err)

	assert.Equal(t, map[backend.Result]int{backend.ResultSuccess: 1}, report.Tally)
	assert.Contains(t, out.String(), "Testing TL: NOP (0x0000) with params: []")
	op.AssertExpectations(t)
}

func TestRunAllCancelledReturnsPartialReport(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out bytes.Buffer
	report, err := simRunner(&out).RunAll(ctx, Options{})
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, report)
	assert.Zero(t, report.Tested)
}

func TestRunAllNothingEligible(t *testing.T) {
	var out bytes.Buffer
	report, err := simRunner(&out).RunAll(context.Background(), Options{Only: []string{"NOTHING_*"}})
	require.NoError(t, err)
	assert.Zero(t, report.Tested)
	assert.Empty(t, report.Failures)
}

func TestWriteSummary(t *testing.T) {
	report := &Report{
		Tested: 4,
		Tally: map[backend.Result]int{
			backend.ResultSuccess: 2,
			backend.ResultError:   1,
			"ZZZ":                 1,
		},
		Failures: []Failure{
			{Name: "A", Code: 0x1F, Result: backend.ResultError},
			{Name: "B", Code: 0x200, Result: "ZZZ"},
		},
	}

	var out bytes.Buffer
	report.WriteSummary(&out)
	want := "\n=== Fuzzing summary ===\n" +
		"Total commands tested: 4\n" +
		"  SUC: 2\n" +
		"  ERR: 1\n" +
		"  ZZZ: 1\n" +
		"\n=== Failed commands ===\n" +
		"  A (0x001F): ERR\n" +
		"  B (0x0200): ZZZ\n"
	assert.Equal(t, want, out.String())
}

func TestWriteSummaryWithoutFailures(t *testing.T) {
	report := &Report{Tested: 1, Tally: map[backend.Result]int{backend.ResultSuccess: 1}}
	var out bytes.Buffer
	report.WriteSummary(&out)
	assert.NotContains(t, out.String(), "Failed commands")
}

func TestWriteJSON(t *testing.T) {
	var out bytes.Buffer
	report, err := simRunner(&bytes.Buffer{}).RunAll(context.Background(), Options{Only: []string{"GHOST"}})
	require.NoError(t, err)
	require.NoError(t, report.WriteJSON(&out))

	var decoded struct {
		ID       string         `json:"id"`
		Tested   int            `json:"tested"`
		Tally    map[string]int `json:"tally"`
		Failures []struct {
			Name   string `json:"name"`
			Code   uint32 `json:"code"`
			Result string `json:"result"`
		} `json:"failures"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &decoded))
	assert.Equal(t, report.ID, decoded.ID)
	assert.Equal(t, 1, decoded.Tested)
	assert.Equal(t, map[string]int{"ROE": 1}, decoded.Tally)
	require.Len(t, decoded.Failures, 1)
	assert.Equal(t, uint32(0x99), decoded.Failures[0].Code)
}

func TestMatchAny(t *testing.T) {
	assert.True(t, MatchAny("AOCS_SET", []string{"AOCS_*"}))
	assert.True(t, MatchAny("NOP", []string{"x", "N?P"}))
	assert.False(t, MatchAny("NOP", []string{""}))
	assert.False(t, MatchAny("NOP", nil))
}
