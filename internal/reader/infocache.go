package reader

import (
	"log/slog"

	"github.com/jmylchreest/gopdec/internal/demux"
	"github.com/jmylchreest/gopdec/internal/media"
	"github.com/jmylchreest/gopdec/pkg/lfu"
)

// InfoCache caches probed stream metadata with least-frequently-used
// eviction. Probing touches the whole container, so workloads that scan
// many more files than the reader pool holds go through this cache
// instead of re-probing.
type InfoCache struct {
	cache  *lfu.Cache[string, *media.StreamInfo]
	opener Opener
	logger *slog.Logger
}

// NewInfoCache creates a cache holding metadata for up to capacity
// files. A nil opener probes via the real demuxer.
func NewInfoCache(capacity int, opener Opener, logger *slog.Logger) *InfoCache {
	if opener == nil {
		opener = demux.Open
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &InfoCache{
		cache:  lfu.New[string, *media.StreamInfo](capacity),
		opener: opener,
		logger: logger,
	}
}

// Get returns the stream metadata for path, probing on a miss.
func (c *InfoCache) Get(path string) (*media.StreamInfo, error) {
	if info, ok := c.cache.Get(path); ok {
		return info, nil
	}
	d, err := c.opener(path, c.logger)
	if err != nil {
		return nil, err
	}
	info := d.Info()
	if cerr := d.Close(); cerr != nil {
		return nil, cerr
	}
	c.cache.Put(path, info)
	return info, nil
}

// Len returns the number of cached entries.
func (c *InfoCache) Len() int {
	return c.cache.Len()
}
