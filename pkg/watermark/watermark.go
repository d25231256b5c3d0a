// Package watermark drops item records last modified before a job started.
package watermark

import (
	"fmt"
	"time"

	"github.com/Sternrassler/itemsense-client/pkg/model"
)

// KeepSince returns the items whose LastModifiedTime is at or after
// watermark. The boundary is inclusive: a record stamped exactly at the
// watermark belongs to the job.
//
// Timestamps are normalised with model.ParseTimestamp. A record that cannot
// be parsed fails the whole call with an error wrapping
// model.ErrTimestampParse; it is never silently dropped.
func KeepSince(items []model.Item, watermark time.Time) ([]model.Item, error) {
	kept := make([]model.Item, 0, len(items))
	for _, item := range items {
		modified, err := model.ParseTimestamp(item.LastModifiedTime)
		if err != nil {
			return nil, fmt.Errorf("item %s: %w", item.EPC, err)
		}
		if !modified.Before(watermark) {
			kept = append(kept, item)
		}
	}
	return kept, nil
}
