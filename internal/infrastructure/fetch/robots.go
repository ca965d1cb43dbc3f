package fetch

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/temoto/robotstxt"
)

type robotsChecker struct {
	client    *http.Client
	userAgent string
	cache     *gocache.Cache
}

func newRobotsChecker(client *http.Client, userAgent string, ttl time.Duration) *robotsChecker {
	return &robotsChecker{
		client:    client,
		userAgent: userAgent,
		cache:     gocache.New(ttl, 2*ttl),
	}
}

// check returns whether the path may be fetched and the host's crawl delay.
// An unreachable robots.txt allows the fetch.
func (r *robotsChecker) check(ctx context.Context, target *url.URL) (bool, time.Duration) {
	data, err := r.load(ctx, target)
	if err != nil {
		return true, 0
	}
	path := target.EscapedPath()
	if path == "" {
		path = "/"
	}
	var crawlDelay time.Duration
	if group := data.FindGroup(r.userAgent); group != nil {
		crawlDelay = group.CrawlDelay
	}
	return data.TestAgent(path, r.userAgent), crawlDelay
}

func (r *robotsChecker) load(ctx context.Context, target *url.URL) (*robotstxt.RobotsData, error) {
	key := target.Scheme + "://" + target.Host
	if cached, ok := r.cache.Get(key); ok {
		return cached.(*robotstxt.RobotsData), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, key+"/robots.txt", nil)
	if err != nil {
		return nil, fmt.Errorf("create robots request: %w", err)
	}
	req.Header.Set("User-Agent", r.userAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch robots.txt: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := robotstxt.FromResponse(resp)
	if err != nil {
		return nil, fmt.Errorf("parse robots.txt: %w", err)
	}
	r.cache.SetDefault(key, data)
	return data, nil
}
