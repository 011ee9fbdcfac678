// Package collyfetcher implements scrape.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	neturl "net/url"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/media-scraper/internal/scrape"
)

const (
	defaultTimeout      = 30 * time.Second
	defaultMaxBodyBytes = 10 << 20
	defaultMaxRedirects = 3
	defaultAccept       = "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8"
	defaultAcceptLang   = "en-US,en;q=0.5"
)

// Config controls collector behavior. Values are fixed for the process lifetime.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
	MaxBodyBytes  int
	MaxRedirects  int
	// BlockedDomains lists hosts that are never fetched. Entries of the form
	// "*.example.com" or ".example.com" also block every subdomain.
	BlockedDomains []string
}

// ErrBlockedDomain is wrapped by fetch errors for hosts on the blocklist.
var ErrBlockedDomain = errors.New("domain is blocked")

// Fetcher implements scrape.Fetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
	blocked       *domainBlocklist
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher. Timeout, transport and redirect policy live on the
// collector's shared backend, so they are applied once here rather than per clone.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	if cfg.MaxRedirects <= 0 {
		cfg.MaxRedirects = defaultMaxRedirects
	}

	c := colly.NewCollector(colly.Async(false))
	// Clones share the visited store; retries and resubmissions revisit URLs.
	c.AllowURLRevisit = true
	c.ParseHTTPErrorResponse = true
	c.IgnoreRobotsTxt = !cfg.RespectRobots
	// One extra byte lets Fetch tell a body that fits from one that was cut off.
	c.MaxBodySize = cfg.MaxBodyBytes + 1
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	c.WithTransport(newHTTPTransport())
	c.SetRequestTimeout(cfg.Timeout)
	blocked := newDomainBlocklist(cfg.BlockedDomains)
	c.SetRedirectHandler(redirectPolicy(cfg.MaxRedirects, blocked))

	return &Fetcher{
		cfg:           cfg,
		baseCollector: c,
		blocked:       blocked,
	}
}

// Fetch executes a single HTTP GET using Colly.
func (f *Fetcher) Fetch(ctx context.Context, url string) (scrape.RawPage, error) {
	var (
		result   scrape.RawPage
		fetchErr error
	)
	if u, err := neturl.Parse(url); err == nil && f.blocked.IsBlocked(u.Hostname()) {
		return scrape.RawPage{}, &scrape.FetchError{URL: url, Err: ErrBlockedDomain}
	}
	start := time.Now()
	collector := f.buildCollector(ctx, start, &result, &fetchErr)

	if err := f.runCollector(ctx, collector, url, &fetchErr); err != nil {
		return scrape.RawPage{}, classify(url, err)
	}
	if result.StatusCode < 200 || result.StatusCode > 299 {
		return scrape.RawPage{}, &scrape.FetchError{
			URL: url,
			Err: fmt.Errorf("unexpected status %d %s", result.StatusCode, http.StatusText(result.StatusCode)),
		}
	}
	if len(result.Body) > f.cfg.MaxBodyBytes {
		return scrape.RawPage{}, &scrape.FetchError{
			URL: url,
			Err: fmt.Errorf("response body exceeds %d bytes", f.cfg.MaxBodyBytes),
		}
	}
	result.URL = url
	return result, nil
}

func (f *Fetcher) buildCollector(
	ctx context.Context,
	start time.Time,
	result *scrape.RawPage,
	fetchErr *error,
) *colly.Collector {
	collector := f.baseCollector.Clone()
	collector.Context = ctx
	f.configureCollectorHooks(collector, start, result, fetchErr)
	return collector
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	start time.Time,
	result *scrape.RawPage,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		setDefaultHeaders(r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		*result = scrape.RawPage{
			FinalURL:   r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    r.Headers.Clone(),
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

func setDefaultHeaders(r *colly.Request) {
	if r.Headers == nil {
		return
	}
	// colly fills in "*/*" before request callbacks run.
	r.Headers.Set("Accept", defaultAccept)
	if r.Headers.Get("Accept-Language") == "" {
		r.Headers.Set("Accept-Language", defaultAcceptLang)
	}
}

func redirectPolicy(maxHops int, blocked *domainBlocklist) func(*http.Request, []*http.Request) error {
	return func(req *http.Request, via []*http.Request) error {
		if len(via) > maxHops {
			return fmt.Errorf("stopped after %d redirects", maxHops)
		}
		if blocked.IsBlocked(req.URL.Hostname()) {
			return fmt.Errorf("redirect to %s: %w", req.URL.Hostname(), ErrBlockedDomain)
		}
		return nil
	}
}

func classify(url string, err error) error {
	var netErr net.Error
	timeout := errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout())
	return &scrape.FetchError{URL: url, Timeout: timeout, Err: err}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
	}
}
