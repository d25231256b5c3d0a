package report

import (
	"context"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SinkWrites tracks report persistence by sink and result.
	SinkWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "itemsense_report_writes_total",
			Help: "Total number of reports persisted by sink and result",
		},
		[]string{"sink", "result"}, // "redis"/"sqlite", "success"/"error"
	)

	// SinkItems tracks item rows persisted by sink.
	SinkItems = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "itemsense_report_items_written_total",
			Help: "Total number of item rows persisted by sink",
		},
		[]string{"sink"},
	)
)

// ErrReportNotFound indicates no stored report matches the requested key.
var ErrReportNotFound = errors.New("report not found")

// Sink persists finished reports.
type Sink interface {
	Save(ctx context.Context, r *Report) error
	Close() error
	Name() string
}

// MultiSink fans a report out to every sink. All sinks are attempted;
// the first error is returned.
type MultiSink []Sink

// Save implements Sink.
func (m MultiSink) Save(ctx context.Context, r *Report) error {
	var first error
	for _, sink := range m {
		err := sink.Save(ctx, r)
		record(sink.Name(), err, len(r.Items))
		if err != nil && first == nil {
			first = errors.Wrapf(err, "%s save failed", sink.Name())
		}
	}
	return first
}

// Close implements Sink.
func (m MultiSink) Close() error {
	var first error
	for _, sink := range m {
		if err := sink.Close(); err != nil && first == nil {
			first = errors.Wrapf(err, "%s close failed", sink.Name())
		}
	}
	return first
}

// Name implements Sink.
func (m MultiSink) Name() string { return "multi" }

func record(sink string, err error, items int) {
	if err != nil {
		SinkWrites.WithLabelValues(sink, "error").Inc()
		return
	}
	SinkWrites.WithLabelValues(sink, "success").Inc()
	SinkItems.WithLabelValues(sink).Add(float64(items))
}
