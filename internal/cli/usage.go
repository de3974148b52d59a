package cli

import (
	"time"

	"github.com/minhvu-dev/subsweep/internal/config"
	log "github.com/minhvu-dev/subsweep/internal/logging"
	"github.com/minhvu-dev/subsweep/internal/usage"
)

// initUsageBackend wires usage persistence when a DSN is configured.
// Failure is logged but never fatal: translation runs fine without
// statistics.
func initUsageBackend(cfg *config.Config) {
	usage.SetStatisticsEnabled(cfg.Usage.DSN != "")
	if cfg.Usage.DSN == "" {
		return
	}

	backendCfg := usage.BackendConfig{
		DSN:           cfg.Usage.DSN,
		BatchSize:     cfg.Usage.BatchSize,
		FlushInterval: 5 * time.Second,
		RetentionDays: cfg.Usage.RetentionDays,
	}
	if err := usage.Initialize(backendCfg); err != nil {
		log.Warnf("Failed to initialize usage backend: %v", err)
	} else {
		log.Infof("Usage backend initialized: %s", cfg.Usage.DSN)
	}
}
