package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordDispatchIncrementsLabelledCounter(t *testing.T) {
	before := testutil.ToFloat64(DispatchResultsTotal.WithLabelValues("tl", "SUC"))
	RecordDispatch("tl", "SUC")
	RecordDispatch("tl", "SUC")
	after := testutil.ToFloat64(DispatchResultsTotal.WithLabelValues("tl", "SUC"))
	assert.Equal(t, before+2, after)
}

func TestRecordDatagramByRole(t *testing.T) {
	exec := testutil.ToFloat64(DatagramsReceivedTotal.WithLabelValues("executor"))
	obs := testutil.ToFloat64(DatagramsReceivedTotal.WithLabelValues("observer"))

	RecordDatagram("executor")

	assert.Equal(t, exec+1, testutil.ToFloat64(DatagramsReceivedTotal.WithLabelValues("executor")))
	assert.Equal(t, obs, testutil.ToFloat64(DatagramsReceivedTotal.WithLabelValues("observer")))
}

func TestSimpleCounters(t *testing.T) {
	decode := testutil.ToFloat64(DecodeErrorsTotal)
	sent := testutil.ToFloat64(MessagesSentTotal)
	tee := testutil.ToFloat64(TeeSendFailuresTotal)

	RecordDecodeError()
	RecordMessageSent()
	RecordTeeFailure()

	assert.Equal(t, decode+1, testutil.ToFloat64(DecodeErrorsTotal))
	assert.Equal(t, sent+1, testutil.ToFloat64(MessagesSentTotal))
	assert.Equal(t, tee+1, testutil.ToFloat64(TeeSendFailuresTotal))
}

func TestRecordCampaignResult(t *testing.T) {
	before := testutil.ToFloat64(CampaignResultsTotal.WithLabelValues("ERR"))
	RecordCampaignResult("ERR")
	assert.Equal(t, before+1, testutil.ToFloat64(CampaignResultsTotal.WithLabelValues("ERR")))
}
