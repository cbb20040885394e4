package app

import (
	"github.com/halcyonsky/astropipe-backend/internal/platform/envutil"
)

// Config holds the bootstrap-level settings. Component-level tuning
// (worker concurrency, retry backoff, ingest intervals) is read by the
// components themselves from their env keys.
type Config struct {
	HTTPAddr    string
	MetricsAddr string

	BatchWorkers  int
	BatchQueueCap int

	IngestEnabled bool
}

func LoadConfig() Config {
	return Config{
		HTTPAddr:    envutil.Str("HTTP_ADDR", ":8080"),
		MetricsAddr: envutil.Str("METRICS_ADDR", ""),

		BatchWorkers:  envutil.Int("BATCH_WORKERS", 2),
		BatchQueueCap: envutil.Int("BATCH_QUEUE_CAP", 64),

		IngestEnabled: envutil.Bool("INGEST_ENABLED", true),
	}
}
