package scan

import (
	"context"
	"errors"
	"os"
	"strings"
	"time"

	"github.com/reillywatson/cipipeline/internal/cache"
)

// CachedScanner skips re-scanning an image reference already scanned by the
// same build within the TTL
type CachedScanner struct {
	scanner *Scanner
	cache   cache.Cache
	kb      *cache.KeyBuilder
	ttl     time.Duration
	build   string
}

// NewCachedScanner wraps scanner with cacheImpl. Results are only shared
// between scans that carry the same build identifier.
func NewCachedScanner(scanner *Scanner, cacheImpl cache.Cache, ttl time.Duration, build string) *CachedScanner {
	return &CachedScanner{
		scanner: scanner,
		cache:   cacheImpl,
		kb:      cache.NewKeyBuilder("trivy"),
		ttl:     ttl,
		build:   build,
	}
}

func (c *CachedScanner) Scan(ctx context.Context, image string) (*Result, error) {
	key := c.kb.ScanKey(c.build, image, c.scanner.Severities, c.scanner.IgnoreUnfixed)

	var cached Result
	if err := c.cache.Get(key, &cached); err == nil {
		// The report file is part of the result; without it the entry is stale
		if _, statErr := os.Stat(cached.ReportPath); statErr == nil {
			c.scanner.Log.WithField("image", image).Info("Using cached scan result")
			return &cached, nil
		}
		c.scanner.Log.WithField("report", cached.ReportPath).Debug("Cached scan report is gone, rescanning")
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		c.scanner.Log.WithError(err).Warn("Cache error for scan result")
	}

	result, err := c.scanner.Scan(ctx, image)
	if err != nil {
		return nil, err
	}

	// Mutable tags like :latest change under us; only cache pinned references
	if isPinned(image) {
		if err := c.cache.Set(key, result, c.ttl); err != nil {
			c.scanner.Log.WithError(err).Warn("Failed to cache scan result")
		}
	}
	return result, nil
}

// Close cleans up the cache
func (c *CachedScanner) Close() error {
	return c.cache.Close()
}

func isPinned(image string) bool {
	if strings.Contains(image, "@") {
		return true
	}
	// The tag separator is the last colon after the last slash; earlier
	// colons belong to a registry port
	name := image[strings.LastIndex(image, "/")+1:]
	i := strings.LastIndex(name, ":")
	if i < 0 {
		return false
	}
	tag := name[i+1:]
	return tag != "" && tag != "latest"
}
