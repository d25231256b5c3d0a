// Package pagination walks cursor-paginated listing endpoints.
//
// The items endpoint returns an opaque nextPageMarker with each page; the
// marker of page N is required to request page N+1, so pages are fetched
// strictly one after another. A missing marker ends the walk.
//
// Example usage:
//
//	walker := pagination.NewWalker(itemsenseClient, pagination.DefaultConfig())
//	items, err := walker.FetchAll(ctx, filter.New())
//
// The walker:
//   - Clones the base filter, so callers can reuse it across walks
//   - Feeds each page's marker verbatim (escaped) into the next request
//   - Exposes lazy iterators (Pages, Items) and an all-or-nothing FetchAll
//   - Logs per-page progress and exports page/item counters
package pagination
