package pagination

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/mit-registry-export/pkg/client"
	"github.com/Sternrassler/mit-registry-export/pkg/registry"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	// ErrCountUnavailable is returned by Count when every attempt failed.
	ErrCountUnavailable = errors.New("registry count unavailable")

	// ErrMalformedListing is returned when a 200 listing response does not
	// have the expected envelope. It is never retried.
	ErrMalformedListing = errors.New("malformed listing response")
)

// Fetcher is implemented by *client.Client.
type Fetcher interface {
	Fetch(ctx context.Context, req client.Request) ([]byte, error)
}

// Config holds driver configuration.
type Config struct {
	// BaseURL is the listing endpoint; detail records live below it.
	BaseURL string

	// PageSize is the rows parameter of page requests.
	PageSize int

	// Sort is the sort parameter of every listing request.
	Sort string

	// CountAttempts bounds the count query.
	CountAttempts int

	// Backoff is waited between failed attempts on top of the throttle.
	Backoff client.BackoffFunc

	// CacheDetails lets detail records be served from the client's cache.
	CacheDetails bool
}

// DefaultConfig returns the registry defaults: 100 rows per page sorted
// by number, 10 count attempts.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:       baseURL,
		PageSize:      100,
		Sort:          "number asc",
		CountAttempts: 10,
	}
}

// Page is one listing page.
type Page struct {
	// Number is 1-based.
	Number int

	// Total is the number of pages in the walk.
	Total int

	// Start is the offset sent with the request.
	Start int

	// Items are the raw summary items in response order.
	Items []json.RawMessage
}

// Driver issues the count, page and detail requests.
type Driver struct {
	fetcher Fetcher
	config  Config
	logger  zerolog.Logger
}

// NewDriver creates a driver. Zero values in config fall back to DefaultConfig.
func NewDriver(fetcher Fetcher, config Config) *Driver {
	defaults := DefaultConfig(config.BaseURL)
	if config.PageSize <= 0 {
		config.PageSize = defaults.PageSize
	}
	if config.Sort == "" {
		config.Sort = defaults.Sort
	}
	if config.CountAttempts <= 0 {
		config.CountAttempts = defaults.CountAttempts
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	return &Driver{
		fetcher: fetcher,
		config:  config,
		logger:  log.With().Str("component", "pagination").Logger(),
	}
}

// PageSize returns the configured rows per page.
func (d *Driver) PageSize() int {
	return d.config.PageSize
}

// Pages returns the number of page requests needed for total items.
func (d *Driver) Pages(total int) int {
	if total <= 0 {
		return 0
	}
	return (total + d.config.PageSize - 1) / d.config.PageSize
}

// Count queries the number of items in the registry.
func (d *Driver) Count(ctx context.Context) (int, error) {
	query := d.listingQuery(0, 0)
	policy := client.Bounded(d.config.CountAttempts, d.config.Backoff)
	policy.OnRetry = d.onRetry(client.KindCount, "")

	var body []byte
	err := client.Retry(ctx, policy, func(ctx context.Context) error {
		var err error
		body, err = d.fetcher.Fetch(ctx, client.Request{URL: d.config.BaseURL, Query: query, Kind: client.KindCount})
		return err
	})
	if err != nil {
		if errors.Is(err, client.ErrRetryExhausted) {
			return 0, fmt.Errorf("%w after %d attempts: %w", ErrCountUnavailable, d.config.CountAttempts, err)
		}
		return 0, err
	}

	listing, err := registry.DecodeListing(body)
	if err != nil {
		return 0, fmt.Errorf("%w: count query: %w", ErrMalformedListing, err)
	}

	d.logger.Info().Int("count", listing.Count).Msg("Registry count received")
	return listing.Count, nil
}

// Walk fetches the pages covering total items in ascending order and
// calls visit for each. An error from visit stops the walk.
func (d *Driver) Walk(ctx context.Context, total int, visit func(Page) error) error {
	pages := d.Pages(total)
	start := time.Now()

	for n := 0; n < pages; n++ {
		offset := n * d.config.PageSize
		items, err := d.page(ctx, offset)
		if err != nil {
			return fmt.Errorf("page %d/%d: %w", n+1, pages, err)
		}

		if err := visit(Page{Number: n + 1, Total: pages, Start: offset, Items: items}); err != nil {
			return err
		}
	}

	d.logger.Info().
		Int("pages", pages).
		Int("total", total).
		Dur("duration", time.Since(start)).
		Msg("Listing walk complete")
	return nil
}

func (d *Driver) page(ctx context.Context, offset int) ([]json.RawMessage, error) {
	query := d.listingQuery(offset, d.config.PageSize)
	policy := client.Unbounded(d.config.Backoff)
	policy.OnRetry = d.onRetry(client.KindPage, strconv.Itoa(offset))

	var body []byte
	err := client.Retry(ctx, policy, func(ctx context.Context) error {
		var err error
		body, err = d.fetcher.Fetch(ctx, client.Request{URL: d.config.BaseURL, Query: query, Kind: client.KindPage})
		return err
	})
	if err != nil {
		return nil, err
	}

	listing, err := registry.DecodeListing(body)
	if err != nil {
		return nil, fmt.Errorf("%w: start=%d: %w", ErrMalformedListing, offset, err)
	}
	if listing.Items == nil {
		return nil, fmt.Errorf("%w: start=%d: missing result.items", ErrMalformedListing, offset)
	}
	return listing.Items, nil
}

// Detail fetches the detail record of one item, retrying until it succeeds.
func (d *Driver) Detail(ctx context.Context, id string) ([]byte, error) {
	req := client.Request{
		URL:   d.DetailURL(id),
		Kind:  client.KindDetail,
		Cache: d.config.CacheDetails,
	}
	policy := client.Unbounded(d.config.Backoff)
	policy.OnRetry = d.onRetry(client.KindDetail, id)

	var body []byte
	err := client.Retry(ctx, policy, func(ctx context.Context) error {
		var err error
		body, err = d.fetcher.Fetch(ctx, req)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("detail %s: %w", id, err)
	}
	return body, nil
}

// DetailURL returns the detail endpoint of id.
func (d *Driver) DetailURL(id string) string {
	return d.config.BaseURL + "/" + url.PathEscape(id)
}

func (d *Driver) listingQuery(start, rows int) url.Values {
	return url.Values{
		"start": {strconv.Itoa(start)},
		"rows":  {strconv.Itoa(rows)},
		"sort":  {d.config.Sort},
	}
}

func (d *Driver) onRetry(kind, target string) func(client.RetryEvent) {
	return func(ev client.RetryEvent) {
		d.logger.Warn().
			Str("kind", kind).
			Str("target", target).
			Int("attempt", ev.Attempt).
			Str("error_class", string(ev.Class)).
			Err(ev.Err).
			Msg("Registry request failed, retrying")
	}
}
