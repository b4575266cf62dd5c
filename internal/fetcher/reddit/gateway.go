// Package redditfetcher implements the fetch gateway against reddit's
// public JSON listing endpoints using gocolly.
package redditfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/gocolly/colly/v2/proxy"

	"github.com/redditextract/redditextract/internal/policy/ratelimit"
	"github.com/redditextract/redditextract/internal/scrape"
)

// Config controls collector behavior.
type Config struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
	// Proxies are rotated round-robin across requests when set.
	Proxies []string
	// RequestsPerSecond paces requests per remote host; zero disables
	// pacing.
	RequestsPerSecond float64
	Burst             int
}

// Gateway implements scrape.FetchGateway using the Colly collector.
type Gateway struct {
	cfg           Config
	baseCollector *colly.Collector
	limiter       *ratelimit.Limiter
	usesProxies   bool
}

// New builds a Gateway.
func New(cfg Config) (*Gateway, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://www.reddit.com"
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "RedditExtract/1.0"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}

	// colly v2.1.0's Async option ignores its argument and always enables
	// async mode; synchronous is the default, so pass no option.
	c := colly.NewCollector()
	// Each FetchPage uses a fresh Clone, but colly v2.1.0 clones share the
	// visited-URL store; allow revisits so independent fetches of the same
	// URL are not deduplicated across clones.
	c.AllowURLRevisit = true
	c.UserAgent = cfg.UserAgent
	c.IgnoreRobotsTxt = true
	c.SetRequestTimeout(cfg.Timeout)
	c.WithTransport(newHTTPTransport())

	if len(cfg.Proxies) > 0 {
		switcher, err := proxy.RoundRobinProxySwitcher(cfg.Proxies...)
		if err != nil {
			return nil, fmt.Errorf("configure proxy rotation: %w", err)
		}
		c.SetProxyFunc(switcher)
	}

	return &Gateway{
		cfg:           cfg,
		baseCollector: c,
		limiter: ratelimit.New(ratelimit.Config{
			RequestsPerSecond: cfg.RequestsPerSecond,
			Burst:             cfg.Burst,
		}),
		usesProxies: len(cfg.Proxies) > 0,
	}, nil
}

// FetchPage retrieves one listing page for the target and category.
// Failures are returned as *scrape.FetchError so callers can separate
// fatal conditions from retryable ones.
func (g *Gateway) FetchPage(
	ctx context.Context,
	target scrape.Target,
	category scrape.Category,
	cursor string,
	pageSize int,
) (scrape.Page, error) {
	ep, err := buildEndpoint(g.cfg.BaseURL, target, category, cursor, pageSize)
	if err != nil {
		return scrape.Page{}, scrape.NewFetchError(scrape.ErrCodeNotFound, err.Error(), err)
	}

	if err := g.limiter.Wait(ctx, ep.url); err != nil {
		return scrape.Page{}, scrape.NewFetchError(scrape.ErrCodeNetwork, "fetch canceled while pacing", err)
	}

	body, statusCode, viaProxy, err := g.visit(ctx, ep.url)
	if err != nil {
		return scrape.Page{}, g.classify(statusCode, viaProxy, err)
	}

	page, err := parseListing(body, category, ep.singleShot)
	if err != nil {
		return scrape.Page{}, scrape.NewFetchError(scrape.ErrCodeNetwork, "malformed listing response", err)
	}
	return page, nil
}

// visit runs one GET through a cloned collector, honoring ctx cancellation.
func (g *Gateway) visit(ctx context.Context, url string) (body []byte, statusCode int, viaProxy bool, err error) {
	collector := g.baseCollector.Clone()

	var fetchErr error
	collector.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "application/json")
	})
	collector.OnResponse(func(r *colly.Response) {
		statusCode = r.StatusCode
		body = append([]byte(nil), r.Body...)
	})
	collector.OnError(func(r *colly.Response, e error) {
		if r != nil {
			statusCode = r.StatusCode
			if r.Request != nil && r.Request.ProxyURL != "" {
				viaProxy = true
			}
		}
		fetchErr = e
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return nil, statusCode, viaProxy, fmt.Errorf("fetch canceled: %w", ctx.Err())
	case visitErr := <-done:
		if fetchErr != nil {
			return nil, statusCode, viaProxy, fetchErr
		}
		if visitErr != nil {
			return nil, statusCode, viaProxy, visitErr
		}
		return body, statusCode, viaProxy, nil
	}
}

// classify maps a failed visit onto the fetch error taxonomy. 403 and 404
// are fatal for the job; everything else is retryable.
func (g *Gateway) classify(statusCode int, viaProxy bool, err error) *scrape.FetchError {
	switch statusCode {
	case http.StatusTooManyRequests:
		return scrape.NewFetchError(scrape.ErrCodeRateLimited, "rate limited by remote", err)
	case http.StatusForbidden:
		return scrape.NewFetchError(scrape.ErrCodeBlocked, "access blocked by remote", err)
	case http.StatusNotFound:
		return scrape.NewFetchError(scrape.ErrCodeNotFound, "target does not exist", err)
	}
	if statusCode >= 500 {
		return scrape.NewFetchError(scrape.ErrCodeNetwork,
			fmt.Sprintf("remote returned %d", statusCode), err)
	}
	if statusCode == 0 && viaProxy {
		return scrape.NewFetchError(scrape.ErrCodeProxy, "proxy connection failed", err)
	}
	return scrape.NewFetchError(scrape.ErrCodeNetwork, "request failed", err)
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
		IdleConnTimeout:       90 * time.Second,
	}
}
