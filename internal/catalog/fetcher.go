package catalog

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	defaultFetchTimeout = 5 * time.Second
	defaultMaxResults   = 10
	defaultCacheTTL     = time.Hour
)

var errMissingProvider = errors.New("catalog: provider required")

// FetcherConfig describes the dependencies of a Fetcher.
type FetcherConfig struct {
	Provider   Provider
	Cache      Cache
	CacheTTL   time.Duration
	Timeout    time.Duration
	MaxResults int
	Logger     *zap.Logger
}

// Fetcher resolves a location to candidate venues, memoizing results.
// Provider failures degrade to an empty result and are logged.
type Fetcher struct {
	provider   Provider
	cache      Cache
	cacheTTL   time.Duration
	timeout    time.Duration
	maxResults int
	logger     *zap.Logger
	inflight   singleflight.Group
}

// NewFetcher constructs a Fetcher; without a Cache an in-process memo is used.
func NewFetcher(cfg FetcherConfig) (*Fetcher, error) {
	if cfg.Provider == nil {
		return nil, errMissingProvider
	}
	cache := cfg.Cache
	if cache == nil {
		cache = NewMemoryCache(time.Now)
	}
	cacheTTL := cfg.CacheTTL
	if cacheTTL <= 0 {
		cacheTTL = defaultCacheTTL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	maxResults := cfg.MaxResults
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		provider:   cfg.Provider,
		cache:      cache,
		cacheTTL:   cacheTTL,
		timeout:    timeout,
		maxResults: maxResults,
		logger:     logger,
	}, nil
}

// Fetch returns up to MaxResults venues for location in provider order.
// An empty slice means nothing usable was found, whatever the cause.
func (f *Fetcher) Fetch(ctx context.Context, location string) []Venue {
	cached, hit, err := f.cache.Get(ctx, location)
	if err != nil {
		f.logger.Warn("catalog cache read failed", zap.String("location", location), zap.Error(err))
	} else if hit {
		f.logger.Debug("catalog cache hit", zap.String("location", location))
		return f.limit(cached)
	}

	result, _, _ := f.inflight.Do(location, func() (any, error) {
		return f.fetchFromProvider(context.WithoutCancel(ctx), location), nil
	})
	venues, _ := result.([]Venue)
	return cloneVenues(venues)
}

func (f *Fetcher) fetchFromProvider(ctx context.Context, location string) []Venue {
	searchCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	started := time.Now()
	venues, err := f.provider.Search(searchCtx, location)
	if err != nil {
		f.logger.Warn("catalog provider search failed",
			zap.String("location", location),
			zap.Duration("duration", time.Since(started)),
			zap.Error(err))
		return nil
	}
	venues = f.limit(venues)
	if len(venues) == 0 {
		f.logger.Info("catalog provider returned no venues", zap.String("location", location))
		return nil
	}

	if err := f.cache.Set(ctx, location, venues, f.cacheTTL); err != nil {
		f.logger.Warn("catalog cache write failed", zap.String("location", location), zap.Error(err))
	}
	return venues
}

// Invalidate evicts the memoized result for location.
func (f *Fetcher) Invalidate(ctx context.Context, location string) error {
	return f.cache.Delete(ctx, location)
}

func (f *Fetcher) limit(venues []Venue) []Venue {
	if len(venues) > f.maxResults {
		return venues[:f.maxResults]
	}
	return venues
}
