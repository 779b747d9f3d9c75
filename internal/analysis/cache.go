package analysis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	// FullAnalysisTTL is how long a full analysis result stays valid.
	FullAnalysisTTL = 24 * time.Hour

	// CategoryLookupTTL is the shorter lifetime for derived category
	// suggestions, which are cheap to recompute and context dependent.
	CategoryLookupTTL = time.Hour
)

// ResultCache persists analysis results keyed by image content hash.
// Get returns nil, nil on a miss or an expired entry.
type ResultCache interface {
	GetAnalysis(contentHash string) (*AnalysisResult, error)
	PutAnalysis(contentHash string, result *AnalysisResult, ttl time.Duration) error
}

// CacheObserver is notified of cache hits. Used for metrics.
type CacheObserver interface {
	RecordCacheHit()
}

// ContentHash is the deterministic digest of image bytes used as the cache
// key. Two uploads of the same photo share a hash regardless of filename.
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// CachedProvider wraps a Provider with content-hash keyed caching so
// byte-identical images short-circuit analysis within the TTL window.
type CachedProvider struct {
	inner    Provider
	cache    ResultCache
	observer CacheObserver
}

// NewCachedProvider creates a caching wrapper. observer may be nil.
func NewCachedProvider(inner Provider, cache ResultCache, observer CacheObserver) *CachedProvider {
	return &CachedProvider{inner: inner, cache: cache, observer: observer}
}

// Analyze implements Provider with caching.
func (c *CachedProvider) Analyze(ctx context.Context, image []byte, opts Options) (*AnalysisResult, error) {
	hash := ContentHash(image)

	if c.cache != nil {
		cached, err := c.cache.GetAnalysis(hash)
		if err != nil {
			log.Warn().Err(err).Msg("failed to check analysis cache")
		} else if cached != nil {
			log.Debug().Str("hash", hash[:16]).Msg("analysis cache hit")
			if c.observer != nil {
				c.observer.RecordCacheHit()
			}
			return cached, nil
		}
	}

	result, err := c.inner.Analyze(ctx, image, opts)
	if err != nil {
		return nil, err
	}

	if c.cache != nil {
		if err := c.cache.PutAnalysis(hash, result, FullAnalysisTTL); err != nil {
			log.Warn().Err(err).Msg("failed to cache analysis result")
		} else {
			log.Debug().Str("hash", hash[:16]).Msg("cached analysis result")
		}
	}

	return result, nil
}
