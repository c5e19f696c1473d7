package stats

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Error kinds used as the "kind" label of meshrelay_decode_errors_total.
const (
	KindCRC      = "crc"
	KindHeader   = "header"
	KindOverflow = "overflow"
	KindLength   = "length"
)

// PromSink mirrors counter updates into a private Prometheus registry.
type PromSink struct {
	registry *prometheus.Registry

	received     prometheus.Counter
	forwarded    prometheus.Counter
	decodeErrors *prometheus.CounterVec
	sendFailures prometheus.Counter
	rssi         prometheus.Gauge
	snr          prometheus.Gauge
}

// NewPromSink creates the collectors and registers them, together with the
// Go runtime collector, on a fresh registry.
func NewPromSink(node string) *PromSink {
	constLabels := prometheus.Labels{"node": node}
	s := &PromSink{
		registry: prometheus.NewRegistry(),
		received: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "meshrelay",
			Name:        "packets_received_total",
			Help:        "Messages delivered to consumers.",
			ConstLabels: constLabels,
		}),
		forwarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "meshrelay",
			Name:        "packets_forwarded_total",
			Help:        "Messages relayed with an incremented hop marker.",
			ConstLabels: constLabels,
		}),
		decodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "meshrelay",
			Name:        "decode_errors_total",
			Help:        "Frames or messages discarded, by kind.",
			ConstLabels: constLabels,
		}, []string{"kind"}),
		sendFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "meshrelay",
			Name:        "send_failures_total",
			Help:        "Radio transmissions that returned an error.",
			ConstLabels: constLabels,
		}),
		rssi: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "meshrelay",
			Name:        "last_rssi_dbm",
			Help:        "Signal strength of the last delivered message.",
			ConstLabels: constLabels,
		}),
		snr: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "meshrelay",
			Name:        "last_snr_db",
			Help:        "Signal-to-noise ratio of the last delivered message.",
			ConstLabels: constLabels,
		}),
	}

	s.registry.MustRegister(
		collectors.NewGoCollector(),
		s.received, s.forwarded, s.decodeErrors, s.sendFailures, s.rssi, s.snr,
	)
	for _, kind := range []string{KindCRC, KindHeader, KindOverflow, KindLength} {
		s.decodeErrors.WithLabelValues(kind)
	}
	return s
}

// Registry exposes the underlying registry, mostly for tests.
func (s *PromSink) Registry() *prometheus.Registry {
	return s.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (s *PromSink) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

func (s *PromSink) RecordReceived(rssi, snr float64) {
	s.received.Inc()
	s.rssi.Set(rssi)
	s.snr.Set(snr)
}

func (s *PromSink) RecordForwarded()   { s.forwarded.Inc() }
func (s *PromSink) RecordCRCError()    { s.decodeErrors.WithLabelValues(KindCRC).Inc() }
func (s *PromSink) RecordHeaderError() { s.decodeErrors.WithLabelValues(KindHeader).Inc() }
func (s *PromSink) RecordOverflow()    { s.decodeErrors.WithLabelValues(KindOverflow).Inc() }
func (s *PromSink) RecordSendFailure() { s.sendFailures.Inc() }

// RecordLengthError counts under both kind="length" and kind="crc", matching
// the CRCErrors field of Snapshot.
func (s *PromSink) RecordLengthError() {
	s.decodeErrors.WithLabelValues(KindLength).Inc()
	s.decodeErrors.WithLabelValues(KindCRC).Inc()
}
