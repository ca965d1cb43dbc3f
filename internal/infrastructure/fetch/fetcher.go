package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/kirillkom/product-truth-audit/internal/core/domain"
	"github.com/kirillkom/product-truth-audit/internal/infrastructure/resilience"
)

const (
	defaultUserAgent    = "product-truth-audit/1.0 (+evidence fetcher)"
	defaultTimeout      = 15 * time.Second
	defaultMaxBytes     = 1 << 20
	defaultMaxRedirects = 3
	defaultCacheTTL     = 30 * time.Minute
)

var markupTypes = map[string]struct{}{
	"text/html":             {},
	"application/xhtml+xml": {},
}

type Options struct {
	UserAgent     string
	Timeout       time.Duration
	MaxBytes      int64
	MaxRedirects  int
	HostRate      float64
	HostBurst     int
	CacheTTL      time.Duration
	RespectRobots bool
	Executor      *resilience.Executor
	Logger        *slog.Logger
}

// Fetcher implements ports.SourceFetcher. Only markup is returned; anything
// the pipeline should not read (robots-disallowed paths, binary content,
// non-http URLs) fails with domain.ErrInvalidInput so stage 2 can mark the
// source as skipped rather than failed.
type Fetcher struct {
	httpClient *http.Client
	userAgent  string
	maxBytes   int64
	pages      *gocache.Cache
	robots     *robotsChecker
	limiter    *hostLimiter
	executor   *resilience.Executor
	logger     *slog.Logger
	now        func() time.Time
}

func New(opts Options) *Fetcher {
	if strings.TrimSpace(opts.UserAgent) == "" {
		opts.UserAgent = defaultUserAgent
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = defaultMaxBytes
	}
	if opts.MaxRedirects <= 0 {
		opts.MaxRedirects = defaultMaxRedirects
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = defaultCacheTTL
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	maxRedirects := opts.MaxRedirects
	client := &http.Client{
		Timeout: opts.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			return nil
		},
	}

	f := &Fetcher{
		httpClient: client,
		userAgent:  opts.UserAgent,
		maxBytes:   opts.MaxBytes,
		pages:      gocache.New(opts.CacheTTL, 2*opts.CacheTTL),
		limiter:    newHostLimiter(opts.HostRate, opts.HostBurst),
		executor:   opts.Executor,
		logger:     opts.Logger,
		now:        time.Now,
	}
	if opts.RespectRobots {
		f.robots = newRobotsChecker(client, opts.UserAgent, opts.CacheTTL)
	}
	return f
}

func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*domain.FetchedPage, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return nil, domain.WrapError(domain.ErrInvalidInput, "fetch source", fmt.Errorf("unsupported url %q", rawURL))
	}
	target := parsed.String()

	if cached, ok := f.pages.Get(target); ok {
		page := *cached.(*domain.FetchedPage)
		return &page, nil
	}

	if f.robots != nil {
		allowed, crawlDelay := f.robots.check(ctx, parsed)
		if !allowed {
			return nil, domain.WrapError(domain.ErrInvalidInput, "fetch source", fmt.Errorf("robots.txt disallows %s", target))
		}
		if crawlDelay > 0 {
			f.limiter.slowDown(parsed.Host, crawlDelay)
		}
	}

	if err := f.limiter.wait(ctx, parsed.Host); err != nil {
		return nil, fmt.Errorf("fetch rate limit: %w", err)
	}

	call := func(callCtx context.Context) (*domain.FetchedPage, error) {
		return f.get(callCtx, target)
	}
	var page *domain.FetchedPage
	if f.executor != nil {
		page, err = resilience.Do(ctx, f.executor, "fetch."+parsed.Host, call, resilience.ClassifyHTTP)
	} else {
		page, err = call(ctx)
	}
	if err != nil {
		return nil, resilience.WrapTemporary("fetch source", err, resilience.ClassifyHTTP)
	}

	f.pages.SetDefault(target, page)
	copied := *page
	return &copied, nil
}

func (f *Fetcher) get(ctx context.Context, target string) (*domain.FetchedPage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "fetch source", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", target, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, resilience.NewHTTPStatusError("fetch", "get", resp)
	}

	contentType := resp.Header.Get("Content-Type")
	if !isMarkup(contentType) {
		return nil, domain.WrapError(domain.ErrInvalidInput, "fetch source", fmt.Errorf("content type %q is not markup", contentType))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	truncated := int64(len(body)) > f.maxBytes
	if truncated {
		body = body[:f.maxBytes]
		f.logger.Debug("fetch_truncated", "url", target, "max_bytes", f.maxBytes)
	}

	return &domain.FetchedPage{
		URL:         target,
		FinalURL:    resp.Request.URL.String(),
		ContentType: contentType,
		Body:        string(body),
		Truncated:   truncated,
		FetchedAt:   f.now().UTC(),
	}, nil
}

func isMarkup(contentType string) bool {
	if strings.TrimSpace(contentType) == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	_, ok := markupTypes[strings.ToLower(mediaType)]
	return ok
}
