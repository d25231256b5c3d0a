// Package model defines the ItemSense wire types shared by the client,
// pagination, and coordinator packages.
package model

import (
	"encoding/csv"
	"strconv"
	"strings"
)

// Item is a single tracked item as reported by the items endpoint.
// Only EPC and LastModifiedTime drive coordinator logic; the remaining
// fields are passed through to reports untouched.
type Item struct {
	EPC                string  `json:"epc" yaml:"epc"`
	TagID              string  `json:"tagId,omitempty" yaml:"tagId,omitempty"`
	JobID              string  `json:"jobId,omitempty" yaml:"jobId,omitempty"`
	XLocation          float64 `json:"xLocation" yaml:"xLocation"`
	YLocation          float64 `json:"yLocation" yaml:"yLocation"`
	ZLocation          float64 `json:"zLocation" yaml:"zLocation"`
	Zone               string  `json:"zone,omitempty" yaml:"zone,omitempty"`
	Floor              string  `json:"floor,omitempty" yaml:"floor,omitempty"`
	PresenceConfidence string  `json:"presenceConfidence,omitempty" yaml:"presenceConfidence,omitempty"`
	Facility           string  `json:"facility,omitempty" yaml:"facility,omitempty"`
	LastModifiedTime   string  `json:"lastModifiedTime" yaml:"lastModifiedTime"`
}

// CSVHeader is the column order used by Item.CSV.
var CSVHeader = []string{
	"epc", "tagId", "jobId",
	"xLocation", "yLocation", "zLocation",
	"zone", "floor", "presenceConfidence", "facility",
	"lastModifiedTime",
}

// Record returns the item as a CSV record in CSVHeader order.
func (i Item) Record() []string {
	return []string{
		i.EPC,
		i.TagID,
		i.JobID,
		formatFloat(i.XLocation),
		formatFloat(i.YLocation),
		formatFloat(i.ZLocation),
		i.Zone,
		i.Floor,
		i.PresenceConfidence,
		i.Facility,
		i.LastModifiedTime,
	}
}

// CSV renders the item as a single CSV line without a trailing newline.
func (i Item) CSV() string {
	var sb strings.Builder
	w := csv.NewWriter(&sb)
	_ = w.Write(i.Record())
	w.Flush()
	return strings.TrimSuffix(sb.String(), "\n")
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// ItemPage is one page of the items listing.
// A nil NextPageMarker terminates pagination.
type ItemPage struct {
	Items          []Item  `json:"items"`
	NextPageMarker *string `json:"nextPageMarker"`
}

// HasNext reports whether another page should be requested.
// An empty marker is treated like an absent one.
func (p *ItemPage) HasNext() bool {
	return p != nil && p.NextPageMarker != nil && *p.NextPageMarker != ""
}
