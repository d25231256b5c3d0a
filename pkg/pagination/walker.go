package pagination

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/Sternrassler/itemsense-client/pkg/filter"
	"github.com/Sternrassler/itemsense-client/pkg/model"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
)

var (
	pagesFetchedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "itemsense_pages_fetched_total",
		Help: "Total listing pages fetched",
	})

	itemsFetchedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "itemsense_items_fetched_total",
		Help: "Total item records received across all pages",
	})

	pageWalksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "itemsense_page_walks_total",
		Help: "Completed page walks by result",
	}, []string{"result"})
)

// ErrTooManyPages is returned when a walk exceeds Config.MaxPages.
var ErrTooManyPages = errors.New("page limit exceeded")

// Config holds walker configuration.
type Config struct {
	// MaxPages stops a walk that keeps returning markers (0 = unlimited).
	MaxPages int
	// Timeout per page fetch (0 = none beyond the caller's context).
	Timeout time.Duration
}

// DefaultConfig returns the default walker configuration.
func DefaultConfig() Config {
	return Config{
		MaxPages: 10000,
		Timeout:  30 * time.Second,
	}
}

// PageFetcher fetches a single page for the given filter.
type PageFetcher interface {
	FetchPage(ctx context.Context, f *filter.Filter) (*model.ItemPage, error)
}

// PageFetcherFunc adapts a function to PageFetcher.
type PageFetcherFunc func(ctx context.Context, f *filter.Filter) (*model.ItemPage, error)

// FetchPage implements PageFetcher.
func (fn PageFetcherFunc) FetchPage(ctx context.Context, f *filter.Filter) (*model.ItemPage, error) {
	return fn(ctx, f)
}

// Walker follows next-page markers until the listing is exhausted.
type Walker struct {
	fetcher PageFetcher
	config  Config
}

// NewWalker creates a walker over fetcher.
func NewWalker(fetcher PageFetcher, config Config) *Walker {
	if config.MaxPages < 0 {
		config.MaxPages = 0
	}
	return &Walker{
		fetcher: fetcher,
		config:  config,
	}
}

// Pages returns a lazy sequence of pages. Each range over the sequence
// performs a fresh walk starting from base; base itself is never modified.
// The sequence stops after the first error, which is yielded with a nil page.
func (w *Walker) Pages(ctx context.Context, base *filter.Filter) iter.Seq2[*model.ItemPage, error] {
	return func(yield func(*model.ItemPage, error) bool) {
		f := base.Clone()
		if err := f.SetPageMarker(nil); err != nil {
			yield(nil, err)
			return
		}

		for pageNum := 1; ; pageNum++ {
			if w.config.MaxPages > 0 && pageNum > w.config.MaxPages {
				yield(nil, fmt.Errorf("%w: more than %d pages", ErrTooManyPages, w.config.MaxPages))
				return
			}
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}

			page, err := w.fetch(ctx, f)
			if err != nil {
				yield(nil, fmt.Errorf("fetch page %d: %w", pageNum, err))
				return
			}

			pagesFetchedTotal.Inc()
			itemsFetchedTotal.Add(float64(len(page.Items)))
			log.Debug().
				Int("page", pageNum).
				Int("items", len(page.Items)).
				Bool("has_next", page.HasNext()).
				Msg("Fetched page")

			if !yield(page, nil) || !page.HasNext() {
				return
			}
			if err := f.SetPageMarker(page.NextPageMarker); err != nil {
				yield(nil, fmt.Errorf("page %d marker: %w", pageNum, err))
				return
			}
		}
	}
}

// Items flattens Pages into a lazy sequence of items in page order.
func (w *Walker) Items(ctx context.Context, base *filter.Filter) iter.Seq2[model.Item, error] {
	return func(yield func(model.Item, error) bool) {
		for page, err := range w.Pages(ctx, base) {
			if err != nil {
				yield(model.Item{}, err)
				return
			}
			for _, item := range page.Items {
				if !yield(item, nil) {
					return
				}
			}
		}
	}
}

// FetchAll walks every page and returns the concatenated items.
// It is all-or-nothing: on any error no items are returned.
func (w *Walker) FetchAll(ctx context.Context, base *filter.Filter) ([]model.Item, error) {
	start := time.Now()
	var items []model.Item
	pages := 0

	for page, err := range w.Pages(ctx, base) {
		if err != nil {
			pageWalksTotal.WithLabelValues("error").Inc()
			log.Warn().
				Err(err).
				Int("pages_fetched", pages).
				Msg("Page walk failed - discarding partial results")
			return nil, err
		}
		pages++
		items = append(items, page.Items...)
	}

	pageWalksTotal.WithLabelValues("success").Inc()
	log.Info().
		Str("filter", base.Render()).
		Int("pages", pages).
		Int("items", len(items)).
		Dur("duration", time.Since(start)).
		Msg("Fetch complete")

	return items, nil
}

func (w *Walker) fetch(ctx context.Context, f *filter.Filter) (*model.ItemPage, error) {
	if w.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.config.Timeout)
		defer cancel()
	}
	page, err := w.fetcher.FetchPage(ctx, f)
	if err != nil {
		return nil, err
	}
	if page == nil {
		return &model.ItemPage{}, nil
	}
	return page, nil
}
