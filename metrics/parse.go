package metrics

import (
	"fmt"
	"io"
	"strings"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// snapshotFields maps exported counter names back to Snapshot fields.
var snapshotFields = map[string]func(*Snapshot) *int64{
	"connections_accepted_total": func(s *Snapshot) *int64 { return &s.ConnectionsAccepted },
	"connections_closed_total":   func(s *Snapshot) *int64 { return &s.ConnectionsClosed },
	"panics_recovered_total":     func(s *Snapshot) *int64 { return &s.PanicsRecovered },
	"bytes_received_total":       func(s *Snapshot) *int64 { return &s.BytesReceived },
	"raw_messages_total":         func(s *Snapshot) *int64 { return &s.RawMessages },
	"unknown_messages_total":     func(s *Snapshot) *int64 { return &s.UnknownMessages },
	"decrypt_errors_total":       func(s *Snapshot) *int64 { return &s.DecryptErrors },
	"frame_errors_total":         func(s *Snapshot) *int64 { return &s.FrameErrors },
	"files_saved_total":          func(s *Snapshot) *int64 { return &s.FilesSaved },
	"file_failures_total":        func(s *Snapshot) *int64 { return &s.FileFailures },
	"missing_chunks_total":       func(s *Snapshot) *int64 { return &s.MissingChunks },
	"recordings_saved_total":     func(s *Snapshot) *int64 { return &s.RecordingsSaved },
	"recording_failures_total":   func(s *Snapshot) *int64 { return &s.RecordingFailures },
	"limit_rejections_total":     func(s *Snapshot) *int64 { return &s.LimitRejections },
	"storage_failures_total":     func(s *Snapshot) *int64 { return &s.StorageFailures },
}

// ParseExposition rebuilds a Snapshot from the text exposition served by
// Handler. Families from other namespaces are ignored.
func ParseExposition(r io.Reader) (Snapshot, error) {
	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(r)
	if err != nil {
		return Snapshot{}, fmt.Errorf("parse metrics: %w", err)
	}

	s := Snapshot{MessagesByType: make(map[string]int64)}
	for name, family := range families {
		short, ok := strings.CutPrefix(name, namespace+"_")
		if !ok {
			continue
		}
		for _, m := range family.GetMetric() {
			readDimensions(&s, m)
			v := int64(metricValue(m))
			switch {
			case short == "messages_received_total":
				kind := labelValue(m, "kind")
				s.MessagesByType[kind] += v
				s.MessagesReceived += v
			case snapshotFields[short] != nil:
				*snapshotFields[short](&s) += v
			}
		}
	}
	return s, nil
}

func metricValue(m *dto.Metric) float64 {
	switch {
	case m.GetCounter() != nil:
		return m.GetCounter().GetValue()
	case m.GetGauge() != nil:
		return m.GetGauge().GetValue()
	case m.GetUntyped() != nil:
		return m.GetUntyped().GetValue()
	}
	return 0
}

func labelValue(m *dto.Metric, name string) string {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}

func readDimensions(s *Snapshot, m *dto.Metric) {
	if v := labelValue(m, "encryption"); v != "" {
		s.Encryption = v
	}
	if v := labelValue(m, "storage_backend"); v != "" {
		s.StorageBackend = v
	}
}
