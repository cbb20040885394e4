// Package ingest watches the raw-data bucket and feeds newly landed FITS
// frames into the job engine.
package ingest

import (
	"context"
	"os"
	"strings"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/halcyonsky/astropipe-backend/internal/platform/envutil"
	"github.com/halcyonsky/astropipe-backend/internal/platform/logger"
)

// Dedupe remembers which raw keys have already been submitted so repeated
// scans of the same prefix don't enqueue the same frame twice.
type Dedupe interface {
	// FirstSeen marks the key seen and reports whether this call was the
	// first sighting.
	FirstSeen(ctx context.Context, key string) bool
}

// NewDedupe returns a redis-backed dedupe when REDIS_ADDR is set and
// reachable, and an in-memory one otherwise. The in-memory fallback forgets
// on restart; the submit path tolerates the resulting duplicates because
// job rows are keyed by input, not by scan.
func NewDedupe(baseLog *logger.Logger) Dedupe {
	log := baseLog.With("component", "IngestDedupe")
	addr := strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if addr == "" {
		log.Info("REDIS_ADDR unset, using in-memory ingest dedupe")
		return newMemoryDedupe()
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		log.Warn("Redis unreachable, using in-memory ingest dedupe", "error", err)
		return newMemoryDedupe()
	}

	ttl := time.Duration(envutil.Int("INGEST_DEDUPE_TTL_HOURS", 72)) * time.Hour
	return &redisDedupe{
		log: log,
		rdb: rdb,
		ttl: ttl,
	}
}

type redisDedupe struct {
	log *logger.Logger
	rdb *goredis.Client
	ttl time.Duration
}

const dedupeKeyPrefix = "astropipe:ingest:seen:"

func (d *redisDedupe) FirstSeen(ctx context.Context, key string) bool {
	cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	ok, err := d.rdb.SetNX(cctx, dedupeKeyPrefix+key, 1, d.ttl).Result()
	if err != nil {
		// Submitting a possible duplicate beats silently dropping a frame.
		d.log.Warn("Dedupe check failed, treating key as new", "key", key, "error", err)
		return true
	}
	return ok
}

type memoryDedupe struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func newMemoryDedupe() *memoryDedupe {
	return &memoryDedupe{seen: map[string]struct{}{}}
}

func (d *memoryDedupe) FirstSeen(_ context.Context, key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seen[key]; ok {
		return false
	}
	d.seen[key] = struct{}{}
	return true
}
