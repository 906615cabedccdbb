package storage

import (
	"fmt"
	"strings"

	"roombot/pkg/logx"
)

const defaultAuditKeep = 1000

// Open initializes the configured store. It returns (nil, nil) when storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.AuditKeep <= 0 {
		cfg.AuditKeep = defaultAuditKeep
	}
	log = log.With(logx.String("comp", "storage"), logx.String("driver", driver))

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "postgres", "postgresql", "pq":
		return openPostgres(cfg, log)
	case "redis":
		return openRedis(cfg, log)
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", driver)
	}
}
