package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/cert-registry-crawler/internal/crawler"
	"github.com/JakeFAU/cert-registry-crawler/internal/parser"
)

// Client fetches registry pages for the configured listings. It applies the
// politeness limiter but never retries; retry policy belongs to callers.
type Client struct {
	fetcher  crawler.Fetcher
	limiter  crawler.Limiter
	clock    crawler.Clock
	logger   *zap.Logger
	listings map[crawler.Variant]Listing
}

// Option customizes a Client.
type Option func(*Client)

// WithLimiter throttles every outbound request.
func WithLimiter(l crawler.Limiter) Option {
	return func(c *Client) { c.limiter = l }
}

// WithClock overrides the clock used to stamp RawPage.FetchedAt.
func WithClock(clk crawler.Clock) Option {
	return func(c *Client) { c.clock = clk }
}

// WithLogger sets the client logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// NewClient validates listings and returns a Client.
func NewClient(fetcher crawler.Fetcher, listings []Listing, opts ...Option) (*Client, error) {
	if fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	c := &Client{
		fetcher:  fetcher,
		logger:   zap.NewNop(),
		listings: make(map[crawler.Variant]Listing, len(listings)),
	}
	for _, l := range listings {
		if err := l.validate(); err != nil {
			return nil, err
		}
		c.listings[l.Variant] = l
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Listing returns the configuration bound to v.
func (c *Client) Listing(v crawler.Variant) (Listing, error) {
	l, ok := c.listings[v]
	if !ok {
		return Listing{}, fmt.Errorf("%w: %q", crawler.ErrUnknownVariant, v)
	}
	return l, nil
}

// FirstPage returns the lowest page index of v.
func (c *Client) FirstPage(v crawler.Variant) (int, error) {
	l, err := c.Listing(v)
	if err != nil {
		return 0, err
	}
	return l.FirstPage, nil
}

// Extract parses a page body with v's header aliases.
func (c *Client) Extract(v crawler.Variant, body []byte) ([]crawler.TableRow, error) {
	l, err := c.Listing(v)
	if err != nil {
		return nil, err
	}
	return l.Extract(body)
}

// FetchPage retrieves one listing page with the variant's default filters.
// Transport failures come back as *crawler.TransportError.
func (c *Client) FetchPage(ctx context.Context, v crawler.Variant, page int) (crawler.RawPage, error) {
	l, err := c.Listing(v)
	if err != nil {
		return crawler.RawPage{}, err
	}
	if page < l.FirstPage {
		return crawler.RawPage{}, fmt.Errorf("page %d is before the first %s page %d", page, v, l.FirstPage)
	}
	target, err := l.PageURL(page)
	if err != nil {
		return crawler.RawPage{}, err
	}
	resp, err := c.get(ctx, target)
	if err != nil {
		return crawler.RawPage{}, err
	}
	return crawler.RawPage{
		Variant:    v,
		Page:       page,
		URL:        target,
		StatusCode: resp.StatusCode,
		Body:       resp.Body,
		FetchedAt:  c.now(),
		Duration:   resp.Duration,
	}, nil
}

// DiscoverLastPage reads the last-page pager link from the variant's landing
// page. A listing without the link yields crawler.ErrPaginationNotFound,
// which callers treat as a single page.
func (c *Client) DiscoverLastPage(ctx context.Context, v crawler.Variant) (int, error) {
	l, err := c.Listing(v)
	if err != nil {
		return 0, err
	}
	resp, err := c.get(ctx, l.BaseURL)
	if err != nil {
		return 0, err
	}
	last, err := parser.LastPageIndex(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("discover %s last page: %w", v, err)
	}
	if last < l.FirstPage {
		return l.FirstPage, nil
	}
	c.logger.Debug("discovered last page",
		zap.String("variant", string(v)),
		zap.Int("last_page", last),
	)
	return last, nil
}

func (c *Client) get(ctx context.Context, target string) (crawler.FetchResponse, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, target); err != nil {
			return crawler.FetchResponse{}, &crawler.TransportError{URL: target, Err: err}
		}
	}
	resp, err := c.fetcher.Fetch(ctx, crawler.FetchRequest{URL: target})
	if err != nil {
		var te *crawler.TransportError
		if errors.As(err, &te) {
			return crawler.FetchResponse{}, err
		}
		return crawler.FetchResponse{}, &crawler.TransportError{URL: target, StatusCode: resp.StatusCode, Err: err}
	}
	if resp.StatusCode >= 300 {
		return crawler.FetchResponse{}, &crawler.TransportError{
			URL:        target,
			StatusCode: resp.StatusCode,
			Err:        errors.New("unexpected status"),
		}
	}
	return resp, nil
}

func (c *Client) now() time.Time {
	if c.clock != nil {
		return c.clock.Now()
	}
	return time.Now().UTC()
}
