package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tether"

type counterDesc struct {
	desc  *prometheus.Desc
	value func(Snapshot) int64
}

// Exporter is a prometheus.Collector that reads a Collector snapshot at scrape time.
type Exporter struct {
	source   *Collector
	counters []counterDesc
	active   *prometheus.Desc
	byType   *prometheus.Desc
}

// NewExporter creates an exporter over c.
func NewExporter(c *Collector) *Exporter {
	labels := prometheus.Labels{
		"encryption":      c.Snapshot().Encryption,
		"storage_backend": c.Snapshot().StorageBackend,
	}
	counter := func(name, help string, value func(Snapshot) int64) counterDesc {
		return counterDesc{
			desc:  prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, nil, labels),
			value: value,
		}
	}

	return &Exporter{
		source: c,
		counters: []counterDesc{
			counter("connections_accepted_total", "Agent connections accepted", func(s Snapshot) int64 { return s.ConnectionsAccepted }),
			counter("connections_closed_total", "Agent connections closed", func(s Snapshot) int64 { return s.ConnectionsClosed }),
			counter("panics_recovered_total", "Dispatch cycles recovered from a panic", func(s Snapshot) int64 { return s.PanicsRecovered }),
			counter("bytes_received_total", "Bytes read from agents", func(s Snapshot) int64 { return s.BytesReceived }),
			counter("raw_messages_total", "Inputs handled by the raw-text fallback", func(s Snapshot) int64 { return s.RawMessages }),
			counter("unknown_messages_total", "Structured messages with an unrecognized type", func(s Snapshot) int64 { return s.UnknownMessages }),
			counter("decrypt_errors_total", "Units that failed to decrypt", func(s Snapshot) int64 { return s.DecryptErrors }),
			counter("frame_errors_total", "Framing and message shape errors", func(s Snapshot) int64 { return s.FrameErrors }),
			counter("files_saved_total", "Files persisted", func(s Snapshot) int64 { return s.FilesSaved }),
			counter("file_failures_total", "File transfers that produced no output", func(s Snapshot) int64 { return s.FileFailures }),
			counter("missing_chunks_total", "File transfers rejected for a missing chunk", func(s Snapshot) int64 { return s.MissingChunks }),
			counter("recordings_saved_total", "Screen recordings persisted", func(s Snapshot) int64 { return s.RecordingsSaved }),
			counter("recording_failures_total", "Screen recordings that produced no video", func(s Snapshot) int64 { return s.RecordingFailures }),
			counter("limit_rejections_total", "Transfers or recordings rejected by a size ceiling", func(s Snapshot) int64 { return s.LimitRejections }),
			counter("storage_failures_total", "Failed writes to the output directory", func(s Snapshot) int64 { return s.StorageFailures }),
		},
		active: prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "connections_active"),
			"Currently connected agents", nil, labels),
		byType: prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "messages_received_total"),
			"Decoded messages by kind", []string{"kind"}, labels),
	}
}

// Describe implements prometheus.Collector.
func (e *Exporter) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range e.counters {
		ch <- c.desc
	}
	ch <- e.active
	ch <- e.byType
}

// Collect implements prometheus.Collector.
func (e *Exporter) Collect(ch chan<- prometheus.Metric) {
	s := e.source.Snapshot()
	for _, c := range e.counters {
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.CounterValue, float64(c.value(s)))
	}
	ch <- prometheus.MustNewConstMetric(e.active, prometheus.GaugeValue, float64(s.ActiveConnections()))
	for kind, n := range s.MessagesByType {
		ch <- prometheus.MustNewConstMetric(e.byType, prometheus.CounterValue, float64(n), kind)
	}
}

// Handler registers an exporter for c on a fresh registry and returns the
// /metrics handler for it.
func Handler(c *Collector) (http.Handler, error) {
	reg := prometheus.NewRegistry()
	if err := reg.Register(NewExporter(c)); err != nil {
		return nil, err
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), nil
}
