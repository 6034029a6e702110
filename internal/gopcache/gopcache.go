// Package gopcache layers a GOP bundle cache over the decode engine:
// a small in-memory tier for hot GOPs, a compressed on-disk store with
// a database manifest, and a cron janitor enforcing retention and
// size limits.
package gopcache

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"gorm.io/gorm"

	"github.com/jmylchreest/gopdec/internal/bundle"
	"github.com/jmylchreest/gopdec/internal/config"
	"github.com/jmylchreest/gopdec/internal/database"
	"github.com/jmylchreest/gopdec/pkg/lfu"
)

// memory tier size in entries; one entry is one GOP's bundle
const memEntries = 64

// Entry is one manifest row: which file span a cached bundle covers
// and where its bytes live on disk.
type Entry struct {
	ID         uint   `gorm:"primaryKey"`
	Path       string `gorm:"uniqueIndex:idx_path_first"`
	FirstFrame int64  `gorm:"uniqueIndex:idx_path_first"`
	GopLen     int64
	FileName   string
	Size       int64
	Hits       int64
	CreatedAt  time.Time
	LastUsedAt time.Time `gorm:"index"`
}

// Stats counts cache traffic since startup.
type Stats struct {
	MemoryHits int64
	StoreHits  int64
	Misses     int64
	Evicted    int64
}

type memGop struct {
	path   string
	first  int64
	gopLen int64
	data   []byte
}

// Cache is the cached GOP layer. Safe for concurrent use.
type Cache struct {
	cfg    config.CacheConfig
	db     *gorm.DB
	logger *slog.Logger
	cron   *cron.Cron

	mu    sync.Mutex
	mem   *lfu.Cache[string, *memGop]
	spans map[string][]int64 // path -> sorted cached GOP starts
	stats Stats
}

// New opens the cache directory, manifest database, and janitor.
func New(cfg config.CacheConfig, dbCfg config.DatabaseConfig, logger *slog.Logger) (*Cache, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache dir: %w", err)
	}
	if dbCfg.Driver == "sqlite" && dbCfg.DSN == "" {
		dbCfg.DSN = filepath.Join(cfg.Dir, "manifest.db")
	}

	db, err := database.New(dbCfg, logger)
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, fmt.Errorf("migrating cache manifest: %w", err)
	}

	c := &Cache{
		cfg:    cfg,
		db:     db,
		logger: logger,
		mem:    lfu.New[string, *memGop](memEntries),
		spans:  make(map[string][]int64),
	}
	c.mem.OnEvict = c.onMemEvict

	if cfg.CleanupSchedule != "" {
		c.cron = cron.New()
		if _, err := c.cron.AddFunc(cfg.CleanupSchedule, func() {
			if cerr := c.Cleanup(time.Now()); cerr != nil {
				logger.Warn("cache cleanup failed", slog.Any("error", cerr))
			}
		}); err != nil {
			return nil, fmt.Errorf("invalid cleanup schedule %q: %w", cfg.CleanupSchedule, err)
		}
		c.cron.Start()
	}
	return c, nil
}

func memKey(path string, first int64) string {
	return fmt.Sprintf("%s:%d", path, first)
}

// onMemEvict runs with c.mu held by the caller of mem.Put.
func (c *Cache) onMemEvict(_ string, g *memGop) {
	firsts := c.spans[g.path]
	i := sort.Search(len(firsts), func(i int) bool { return firsts[i] >= g.first })
	if i < len(firsts) && firsts[i] == g.first {
		c.spans[g.path] = append(firsts[:i], firsts[i+1:]...)
	}
}

func (c *Cache) putMem(path string, first, gopLen int64, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	firsts := c.spans[path]
	i := sort.Search(len(firsts), func(i int) bool { return firsts[i] >= first })
	if i == len(firsts) || firsts[i] != first {
		firsts = append(firsts, 0)
		copy(firsts[i+1:], firsts[i:])
		firsts[i] = first
		c.spans[path] = firsts
	}
	c.mem.Put(memKey(path, first), &memGop{path: path, first: first, gopLen: gopLen, data: data})
}

func (c *Cache) fetchMem(path string, frame int64) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	firsts := c.spans[path]
	i := sort.Search(len(firsts), func(i int) bool { return firsts[i] > frame })
	if i == 0 {
		return nil, false
	}
	first := firsts[i-1]
	g, ok := c.mem.Get(memKey(path, first))
	if !ok || frame >= g.first+g.gopLen {
		return nil, false
	}
	c.stats.MemoryHits++
	return g.data, true
}

// Fetch returns the cached bundle whose frame span contains frame.
// Checks the memory tier first, then the on-disk store.
func (c *Cache) Fetch(path string, frame int64) ([]byte, bool, error) {
	if data, ok := c.fetchMem(path, frame); ok {
		return data, true, nil
	}

	var e Entry
	err := c.db.
		Where("path = ? AND first_frame <= ? AND first_frame + gop_len > ?", path, frame, frame).
		First(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.countMiss()
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("querying cache manifest: %w", err)
	}

	data, err := bundle.ReadFile(filepath.Join(c.cfg.Dir, e.FileName))
	if err != nil {
		// manifest points at a missing or corrupt file; drop the row
		c.logger.Warn("removing stale cache entry",
			slog.String("file", path),
			slog.Int64("first_frame", e.FirstFrame),
			slog.Any("error", err))
		c.db.Delete(&e)
		c.countMiss()
		return nil, false, nil
	}

	c.db.Model(&e).Updates(map[string]interface{}{
		"hits":         gorm.Expr("hits + 1"),
		"last_used_at": time.Now(),
	})

	c.mu.Lock()
	c.stats.StoreHits++
	c.mu.Unlock()
	c.putMem(path, e.FirstFrame, e.GopLen, data)
	return data, true, nil
}

func (c *Cache) countMiss() {
	c.mu.Lock()
	c.stats.Misses++
	c.mu.Unlock()
}

// Store writes a bundle to the cache, replacing any entry already
// covering the same (path, first frame).
func (c *Cache) Store(path string, firstFrame, gopLen int64, data []byte) error {
	fileName := uuid.NewString() + ".gop" + bundle.Ext(c.cfg.Compression)
	fullPath := filepath.Join(c.cfg.Dir, fileName)
	if err := bundle.WriteFile(fullPath, data, c.cfg.Compression); err != nil {
		return fmt.Errorf("writing cache file: %w", err)
	}
	size, err := fileSize(fullPath)
	if err != nil {
		return err
	}

	var stale Entry
	err = c.db.Where("path = ? AND first_frame = ?", path, firstFrame).First(&stale).Error
	if err == nil {
		os.Remove(filepath.Join(c.cfg.Dir, stale.FileName))
		c.db.Delete(&stale)
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("querying cache manifest: %w", err)
	}

	now := time.Now()
	if err := c.db.Create(&Entry{
		Path:       path,
		FirstFrame: firstFrame,
		GopLen:     gopLen,
		FileName:   fileName,
		Size:       size,
		CreatedAt:  now,
		LastUsedAt: now,
	}).Error; err != nil {
		os.Remove(fullPath)
		return fmt.Errorf("recording cache entry: %w", err)
	}

	c.putMem(path, firstFrame, gopLen, data)
	return nil
}

// Cleanup removes entries unused past the retention window, then
// evicts least-recently-used entries until the store fits MaxSize.
func (c *Cache) Cleanup(now time.Time) error {
	if c.cfg.Retention > 0 {
		cutoff := now.Add(-c.cfg.Retention.Duration())
		var expired []Entry
		if err := c.db.Where("last_used_at < ?", cutoff).Find(&expired).Error; err != nil {
			return fmt.Errorf("finding expired entries: %w", err)
		}
		if err := c.removeEntries(expired); err != nil {
			return err
		}
	}

	if c.cfg.MaxSize <= 0 {
		return nil
	}
	var total int64
	if err := c.db.Model(&Entry{}).Select("COALESCE(SUM(size), 0)").Scan(&total).Error; err != nil {
		return fmt.Errorf("summing cache size: %w", err)
	}
	for total > c.cfg.MaxSize.Bytes() {
		var victim Entry
		err := c.db.Order("last_used_at ASC").First(&victim).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			break
		}
		if err != nil {
			return fmt.Errorf("finding eviction victim: %w", err)
		}
		if err := c.removeEntries([]Entry{victim}); err != nil {
			return err
		}
		total -= victim.Size
	}
	return nil
}

func (c *Cache) removeEntries(entries []Entry) error {
	for _, e := range entries {
		if err := os.Remove(filepath.Join(c.cfg.Dir, e.FileName)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing cache file %s: %w", e.FileName, err)
		}
		if err := c.db.Delete(&e).Error; err != nil {
			return fmt.Errorf("removing cache entry: %w", err)
		}

		c.mu.Lock()
		c.mem.Remove(memKey(e.Path, e.FirstFrame))
		c.onMemEvict("", &memGop{path: e.Path, first: e.FirstFrame})
		c.stats.Evicted++
		c.mu.Unlock()

		c.logger.Debug("evicted cache entry",
			slog.String("file", e.Path),
			slog.Int64("first_frame", e.FirstFrame),
			slog.Int64("size", e.Size))
	}
	return nil
}

// Stats returns a snapshot of traffic counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Entries returns the number of manifest rows.
func (c *Cache) Entries() (int64, error) {
	var n int64
	err := c.db.Model(&Entry{}).Count(&n).Error
	return n, err
}

// Close stops the janitor. The database handle is pooled by GORM and
// needs no explicit close.
func (c *Cache) Close() error {
	if c.cron != nil {
		ctx := c.cron.Stop()
		<-ctx.Done()
	}
	return nil
}

func fileSize(path string) (int64, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("statting cache file: %w", err)
	}
	return fi.Size(), nil
}
