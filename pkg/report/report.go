// Package report renders and persists the result of a coordinator run.
package report

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/Sternrassler/itemsense-client/pkg/model"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Format selects the output encoding of Write.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat validates a format name (case-insensitive).
func ParseFormat(name string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(name))); f {
	case FormatCSV, FormatJSON, FormatYAML:
		return f, nil
	case "yml":
		return FormatYAML, nil
	default:
		return "", errors.Errorf("unknown report format %q (want csv, json or yaml)", name)
	}
}

// Report is the outcome of one coordinator run.
type Report struct {
	RunID       string       `json:"runId" yaml:"runId"`
	JobID       string       `json:"jobId" yaml:"jobId"`
	Watermark   time.Time    `json:"watermark" yaml:"watermark"`
	StartedAt   time.Time    `json:"startedAt" yaml:"startedAt"`
	CompletedAt time.Time    `json:"completedAt" yaml:"completedAt"`
	Polls       int          `json:"polls" yaml:"polls"`
	Partial     bool         `json:"partial" yaml:"partial"`
	Items       []model.Item `json:"items" yaml:"items"`
}

// SortItems orders Items by EPC so output is stable across runs.
func (r *Report) SortItems() {
	slices.SortFunc(r.Items, func(a, b model.Item) int {
		return strings.Compare(a.EPC, b.EPC)
	})
}

// Write encodes r to w. CSV carries only the item rows, preceded by the
// header line; JSON and YAML carry the full report.
func Write(w io.Writer, r *Report, format Format) error {
	if r == nil {
		return errors.New("report: nil report")
	}
	switch format {
	case FormatCSV:
		return writeCSV(w, r.Items)
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return errors.Wrap(enc.Encode(r), "report: encode json")
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(r); err != nil {
			return errors.Wrap(err, "report: encode yaml")
		}
		return errors.Wrap(enc.Close(), "report: flush yaml")
	default:
		return errors.Errorf("report: unknown format %q", format)
	}
}

func writeCSV(w io.Writer, items []model.Item) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(model.CSVHeader); err != nil {
		return errors.Wrap(err, "report: write csv header")
	}
	for _, item := range items {
		if err := cw.Write(item.Record()); err != nil {
			return errors.Wrapf(err, "report: write csv row %s", item.EPC)
		}
	}
	cw.Flush()
	return errors.Wrap(cw.Error(), "report: flush csv")
}
