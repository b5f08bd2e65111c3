package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-results-api/internal/models"
	appErrors "github.com/noah-isme/sma-results-api/pkg/errors"
)

const (
	// resultListPattern matches every cached result listing.
	resultListPattern = "results:list:*"
	// resultVersionKey holds the listing generation; each transition bumps it.
	resultVersionKey = "results:version"
)

// CacheRepository abstracts persistence for cached payloads.
type CacheRepository interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
	Incr(ctx context.Context, key string) (int64, error)
}

// CacheService orchestrates cache operations and related metrics.
type CacheService struct {
	repo       CacheRepository
	metrics    *MetricsService
	defaultTTL time.Duration
	logger     *zap.Logger
	enabled    bool
}

// NewCacheService constructs a cache service.
func NewCacheService(repo CacheRepository, metrics *MetricsService, defaultTTL time.Duration, logger *zap.Logger, enabled bool) *CacheService {
	if defaultTTL <= 0 {
		defaultTTL = 2 * time.Minute
	}
	return &CacheService{repo: repo, metrics: metrics, defaultTTL: defaultTTL, logger: logger, enabled: enabled}
}

// Enabled indicates whether caching is active.
func (s *CacheService) Enabled() bool {
	return s != nil && s.enabled && s.repo != nil
}

// Get attempts to retrieve a cached entry. It returns true when the cache was hit.
func (s *CacheService) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	if !s.Enabled() {
		return false, nil
	}
	start := time.Now()
	err := s.repo.Get(ctx, key, dest)
	duration := time.Since(start)
	if err != nil {
		if errors.Is(err, appErrors.ErrCacheMiss) {
			if s.metrics != nil {
				s.metrics.RecordCacheOperation(false, duration)
			}
			return false, nil
		}
		if s.metrics != nil {
			s.metrics.RecordCacheOperation(false, duration)
		}
		if s.logger != nil {
			s.logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
		}
		return false, err
	}
	if s.metrics != nil {
		s.metrics.RecordCacheOperation(true, duration)
	}
	return true, nil
}

// Set stores the value in cache.
func (s *CacheService) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if !s.Enabled() {
		return nil
	}
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	start := time.Now()
	err := s.repo.Set(ctx, key, value, ttl)
	if s.metrics != nil {
		s.metrics.ObserveCacheWrite(time.Since(start))
	}
	if err != nil && s.logger != nil {
		s.logger.Warn("cache set failed", zap.String("key", key), zap.Error(err))
	}
	return err
}

// Invalidate removes cached values for the provided pattern.
func (s *CacheService) Invalidate(ctx context.Context, pattern string) error {
	if !s.Enabled() {
		return nil
	}
	if err := s.repo.DeleteByPattern(ctx, pattern); err != nil {
		if s.logger != nil {
			s.logger.Warn("cache invalidate failed", zap.String("pattern", pattern), zap.Error(err))
		}
		return err
	}
	return nil
}

// ResultListKey derives the cache key of a result listing filter at the
// given listing generation.
func ResultListKey(version int64, filter models.ResultFilter) string {
	published := "any"
	if filter.Published != nil {
		published = strconv.FormatBool(*filter.Published)
	}
	return fmt.Sprintf("results:list:v%d:status=%s:term=%d:year=%d:subject=%s:student=%s:published=%s",
		version, filter.Status, filter.Term, filter.Year, filter.SubjectID, filter.StudentID, published)
}

// ResultsVersion returns the current listing generation, 0 when unknown.
// A listing read before a transition is stored under the old generation,
// so a late Set can never be served after the transition.
func (s *CacheService) ResultsVersion(ctx context.Context) int64 {
	if !s.Enabled() {
		return 0
	}
	var version int64
	if err := s.repo.Get(ctx, resultVersionKey, &version); err != nil {
		if !errors.Is(err, appErrors.ErrCacheMiss) && s.logger != nil {
			s.logger.Warn("result listing version unavailable", zap.Error(err))
		}
		return 0
	}
	return version
}

// InvalidateResults moves listings to a new generation and drops the cached
// ones. Failures are logged and swallowed; a stale listing expires with its TTL.
func (s *CacheService) InvalidateResults(ctx context.Context) {
	if !s.Enabled() {
		return
	}
	if _, err := s.repo.Incr(ctx, resultVersionKey); err != nil && s.logger != nil {
		s.logger.Warn("result listing version not bumped", zap.Error(err))
	}
	if err := s.Invalidate(ctx, resultListPattern); err != nil && s.logger != nil {
		s.logger.Warn("result listing cache left stale", zap.Error(err))
	}
}
