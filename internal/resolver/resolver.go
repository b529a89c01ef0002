package resolver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"deepresearch/internal/metrics"
)

type Config struct {
	RatePerSecond float64
	Burst         int
	Timeout       time.Duration
	CacheTTL      time.Duration
}

// HTTPResolver follows grounding redirect links to the page they point at.
// Lookups are rate limited and cached, including misses.
type HTTPResolver struct {
	client  *http.Client
	limiter *rate.Limiter
	cache   *gocache.Cache
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func New(cfg Config, m *metrics.Metrics, logger *zap.Logger) *HTTPResolver {
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 5
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPResolver{
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		cache:   gocache.New(cfg.CacheTTL, 2*cfg.CacheTTL),
		metrics: m,
		logger:  logger.Named("resolver"),
	}
}

// Resolve returns the final URL behind uri, or "" when it cannot be reached.
// Only context errors are returned.
func (r *HTTPResolver) Resolve(ctx context.Context, uri string) (string, error) {
	if cached, ok := r.cache.Get(uri); ok {
		r.metrics.RecordResolve("hit")
		return cached.(string), nil
	}
	if err := r.limiter.Wait(ctx); err != nil {
		return "", err
	}

	final, err := r.follow(ctx, http.MethodHead, uri)
	if err != nil && ctx.Err() == nil {
		// Some hosts reject HEAD.
		final, err = r.follow(ctx, http.MethodGet, uri)
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		r.metrics.RecordResolve("error")
		r.logger.Debug("resolve failed", zap.String("uri", uri), zap.Error(err))
		r.cache.SetDefault(uri, "")
		return "", nil
	}

	r.metrics.RecordResolve("miss")
	r.cache.SetDefault(uri, final)
	return final, nil
}

func (r *HTTPResolver) follow(ctx context.Context, method, uri string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, method, uri, nil)
	if err != nil {
		return "", err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("status %d", resp.StatusCode)
	}
	if resp.Request == nil || resp.Request.URL == nil {
		return "", errors.New("response without request url")
	}
	return canonical(resp.Request.URL), nil
}

func canonical(u *url.URL) string {
	c := *u
	c.Fragment = ""
	return c.String()
}
