package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "c2afuzz"

var (
	// Pipeline traffic
	DatagramsReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "datagrams_received_total",
			Help:      "Total number of UDP datagrams received by role",
		},
		[]string{"role"}, // executor, observer
	)

	DecodeErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_errors_total",
			Help:      "Total number of datagrams dropped because they did not decode",
		},
	)

	MessagesSentTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Total number of fuzz messages sent by the generator",
		},
	)

	TeeSendFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tee_send_failures_total",
			Help:      "Total number of console fragments that could not be mirrored",
		},
	)

	// Dispatch outcomes
	DispatchResultsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_results_total",
			Help:      "Total number of dispatched commands by mode and result tag",
		},
		[]string{"mode", "result"},
	)

	CampaignResultsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "campaign_results_total",
			Help:      "Total number of campaign commands by result tag",
		},
		[]string{"result"},
	)

	StreamSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stream_subscribers",
			Help:      "Number of live console stream subscribers",
		},
	)
)

// RecordDatagram counts one received datagram for role.
func RecordDatagram(role string) {
	DatagramsReceivedTotal.WithLabelValues(role).Inc()
}

// RecordDecodeError counts one dropped datagram.
func RecordDecodeError() {
	DecodeErrorsTotal.Inc()
}

// RecordMessageSent counts one generator send.
func RecordMessageSent() {
	MessagesSentTotal.Inc()
}

// RecordTeeFailure counts one failed mirror send.
func RecordTeeFailure() {
	TeeSendFailuresTotal.Inc()
}

// RecordDispatch counts one dispatch outcome.
func RecordDispatch(mode, result string) {
	DispatchResultsTotal.WithLabelValues(mode, result).Inc()
}

// RecordCampaignResult counts one campaign outcome.
func RecordCampaignResult(result string) {
	CampaignResultsTotal.WithLabelValues(result).Inc()
}
