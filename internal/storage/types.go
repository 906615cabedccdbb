package storage

import (
	"context"
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

type Config struct {
	Driver string
	// Path is the file prefix (file) or database file (sqlite).
	Path string
	// DSN is the postgres connection string.
	DSN         string
	BusyTimeout time.Duration // sqlite only
	Redis       RedisConfig
	// AuditKeep bounds the audit entries kept by drivers without native retention.
	AuditKeep int
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// UserRecord is what the bot remembers about one room member.
type UserRecord struct {
	Handle    string    `json:"handle"`
	Username  string    `json:"username"`
	Nickname  string    `json:"nickname"`
	Moderator bool      `json:"moderator"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
	Joins     int       `json:"joins"`
}

// AuditEntry records a moderator action.
type AuditEntry struct {
	At          time.Time `json:"at"`
	ActorHandle string    `json:"actor_handle"`
	ActorName   string    `json:"actor_name,omitempty"`
	Action      string    `json:"action"`
	Detail      string    `json:"detail,omitempty"`
	OK          bool      `json:"ok"`
	Error       string    `json:"error,omitempty"`
}

type Store interface {
	PutUser(ctx context.Context, u UserRecord) error
	LoadUsers(ctx context.Context) ([]UserRecord, error)
	AppendAudit(ctx context.Context, e AuditEntry) error
	RecentAudit(ctx context.Context, limit int) ([]AuditEntry, error)
	Close() error
}
