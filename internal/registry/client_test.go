package registry

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/cert-registry-crawler/internal/clock/system"
	"github.com/JakeFAU/cert-registry-crawler/internal/crawler"
	collyfetcher "github.com/JakeFAU/cert-registry-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/cert-registry-crawler/internal/registry/registrytest"
)

func newTestClient(t *testing.T, srv *registrytest.Server, opts ...Option) *Client {
	t.Helper()
	fetcher := collyfetcher.New(collyfetcher.Config{UserAgent: "registry-test", Timeout: 2 * time.Second})
	c, err := NewClient(fetcher, Listings(Config{
		RegularURL:     srv.RegularURL(),
		GrandMasterURL: srv.GrandMasterURL(),
	}), opts...)
	require.NoError(t, err)
	return c
}

func TestClientFetchPage(t *testing.T) {
	t.Parallel()

	srv := registrytest.NewServer(t, registrytest.Listing{
		Pages: [][]registrytest.Row{registrytest.Rows("a", 2), registrytest.Rows("b", 3)},
	}, registrytest.Listing{})
	fetchedAt := time.Date(2024, time.June, 5, 0, 0, 0, 0, time.UTC)
	c := newTestClient(t, srv, WithClock(system.NewFixed(fetchedAt)))

	page, err := c.FetchPage(context.Background(), crawler.VariantRegular, 1)
	require.NoError(t, err)
	require.Equal(t, crawler.VariantRegular, page.Variant)
	require.Equal(t, 1, page.Page)
	require.Equal(t, http.StatusOK, page.StatusCode)
	require.Equal(t, fetchedAt, page.FetchedAt)
	require.Contains(t, string(page.Body), "b 02")
	require.Contains(t, page.URL, "exam=All")
	require.Equal(t, 1, srv.Hits(registrytest.RegularPath, "1"))
}

func TestClientFetchPageTransportError(t *testing.T) {
	t.Parallel()

	srv := registrytest.NewServer(t, registrytest.Listing{
		Pages:  [][]registrytest.Row{registrytest.Rows("a", 1)},
		Status: map[int]int{0: http.StatusServiceUnavailable},
	}, registrytest.Listing{})
	c := newTestClient(t, srv)

	_, err := c.FetchPage(context.Background(), crawler.VariantRegular, 0)
	var te *crawler.TransportError
	require.True(t, errors.As(err, &te), "got %v", err)
	require.Equal(t, http.StatusServiceUnavailable, te.StatusCode)
}

func TestClientFetchPageRejectsBadInput(t *testing.T) {
	t.Parallel()

	srv := registrytest.NewServer(t, registrytest.Listing{}, registrytest.Listing{})
	c := newTestClient(t, srv)

	_, err := c.FetchPage(context.Background(), "silver", 0)
	require.ErrorIs(t, err, crawler.ErrUnknownVariant)

	_, err = c.FetchPage(context.Background(), crawler.VariantRegular, -1)
	require.Error(t, err)
}

func TestClientDiscoverLastPage(t *testing.T) {
	t.Parallel()

	pages := make([][]registrytest.Row, 8)
	for i := range pages {
		pages[i] = registrytest.Rows("p", 1)
	}
	srv := registrytest.NewServer(t,
		registrytest.Listing{Pages: pages},
		registrytest.Listing{Pages: pages[:1]},
	)
	c := newTestClient(t, srv)
	ctx := context.Background()

	last, err := c.DiscoverLastPage(ctx, crawler.VariantRegular)
	require.NoError(t, err)
	require.Equal(t, 7, last)
	require.Equal(t, 1, srv.Hits(registrytest.RegularPath, "landing"))
	for _, q := range srv.Queries() {
		require.False(t, strings.Contains(q, "page="), "landing request must not carry page: %q", q)
	}

	_, err = c.DiscoverLastPage(ctx, crawler.VariantGrandMaster)
	require.ErrorIs(t, err, crawler.ErrPaginationNotFound)
}

func TestClientDiscoverLastPageTransportError(t *testing.T) {
	t.Parallel()

	srv := registrytest.NewServer(t, registrytest.Listing{LandingStatus: http.StatusBadGateway}, registrytest.Listing{})
	c := newTestClient(t, srv)

	_, err := c.DiscoverLastPage(context.Background(), crawler.VariantRegular)
	var te *crawler.TransportError
	require.True(t, errors.As(err, &te), "got %v", err)
	require.NotErrorIs(t, err, crawler.ErrPaginationNotFound)
}

type stubFetcher struct {
	resp crawler.FetchResponse
	err  error
	urls []string
}

func (s *stubFetcher) Fetch(_ context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	s.urls = append(s.urls, req.URL)
	return s.resp, s.err
}

type stubLimiter struct {
	calls int
	err   error
}

func (s *stubLimiter) Wait(context.Context, string) error {
	s.calls++
	return s.err
}

func TestClientWrapsPlainErrorsAndStatuses(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fetcher := &stubFetcher{err: errors.New("connection reset")}
	limiter := &stubLimiter{}
	c, err := NewClient(fetcher, Listings(Config{}), WithLimiter(limiter))
	require.NoError(t, err)

	_, err = c.FetchPage(ctx, crawler.VariantGrandMaster, 2)
	var te *crawler.TransportError
	require.True(t, errors.As(err, &te))
	require.Contains(t, te.URL, "credential=All")
	require.Equal(t, 1, limiter.calls)

	fetcher.err = nil
	fetcher.resp = crawler.FetchResponse{StatusCode: http.StatusMovedPermanently}
	_, err = c.FetchPage(ctx, crawler.VariantGrandMaster, 2)
	require.True(t, errors.As(err, &te))
	require.Equal(t, http.StatusMovedPermanently, te.StatusCode)

	limiter.err = context.DeadlineExceeded
	_, err = c.FetchPage(ctx, crawler.VariantRegular, 0)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Len(t, fetcher.urls, 2)
}

func TestClientFirstPageAndExtract(t *testing.T) {
	t.Parallel()

	c, err := NewClient(&stubFetcher{}, Listings(Config{}))
	require.NoError(t, err)

	first, err := c.FirstPage(crawler.VariantGrandMaster)
	require.NoError(t, err)
	require.Zero(t, first)

	_, err = c.FirstPage("silver")
	require.ErrorIs(t, err, crawler.ErrUnknownVariant)

	body := registrytest.Page("Certification", registrytest.Rows("x", 2), -1, "exam")
	rows, err := c.Extract(crawler.VariantRegular, []byte(body))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "x 01", rows[1]["Name"])

	_, err = c.Extract("silver", []byte(body))
	require.ErrorIs(t, err, crawler.ErrUnknownVariant)
}

func TestNewClientValidation(t *testing.T) {
	t.Parallel()

	_, err := NewClient(nil, Listings(Config{}))
	require.Error(t, err)

	_, err = NewClient(&stubFetcher{}, []Listing{Regular("not a url")})
	require.Error(t, err)
}
