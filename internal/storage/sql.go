package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"roombot/pkg/logx"
)

//go:embed schema/*.sql
var schemaFS embed.FS

// sqlStore serves both sqlite and postgres. Queries use '?' placeholders and
// are rebound for the driver by sqlx.
type sqlStore struct {
	db   *sqlx.DB
	log  logx.Logger
	keep int
}

type userRow struct {
	Handle    string `db:"handle"`
	Username  string `db:"username"`
	Nickname  string `db:"nickname"`
	Moderator bool   `db:"moderator"`
	FirstSeen int64  `db:"first_seen"`
	LastSeen  int64  `db:"last_seen"`
	Joins     int    `db:"joins"`
}

type auditRow struct {
	At          int64          `db:"at"`
	ActorHandle string         `db:"actor_handle"`
	ActorName   sql.NullString `db:"actor_name"`
	Action      string         `db:"action"`
	Detail      sql.NullString `db:"detail"`
	OK          bool           `db:"ok"`
	Err         sql.NullString `db:"err"`
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	return newSQLStore(db, "schema/sqlite.sql", cfg, log)
}

func openPostgres(cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("storage.dsn is required for postgres driver")
	}
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return newSQLStore(db, "schema/postgres.sql", cfg, log)
}

func newSQLStore(db *sqlx.DB, schema string, cfg Config, log logx.Logger) (*sqlStore, error) {
	b, err := schemaFS.ReadFile(schema)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec(string(b)); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &sqlStore{db: db, log: log, keep: cfg.AuditKeep}, nil
}

func (s *sqlStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqlStore) PutUser(ctx context.Context, u UserRecord) error {
	if strings.TrimSpace(u.Handle) == "" {
		return nil
	}
	q := s.db.Rebind(`INSERT INTO users(handle, username, nickname, moderator, first_seen, last_seen, joins)
		VALUES(?,?,?,?,?,?,?)
		ON CONFLICT(handle) DO UPDATE SET
			username = excluded.username,
			nickname = excluded.nickname,
			moderator = excluded.moderator,
			last_seen = excluded.last_seen,
			joins = excluded.joins`)
	_, err := s.db.ExecContext(ctx, q,
		u.Handle, u.Username, u.Nickname, u.Moderator, millis(u.FirstSeen), millis(u.LastSeen), u.Joins)
	if err != nil {
		return fmt.Errorf("put user: %w", err)
	}
	return nil
}

func (s *sqlStore) LoadUsers(ctx context.Context) ([]UserRecord, error) {
	var rows []userRow
	if err := s.db.SelectContext(ctx, &rows,
		`SELECT handle, username, nickname, moderator, first_seen, last_seen, joins FROM users ORDER BY handle`); err != nil {
		return nil, fmt.Errorf("load users: %w", err)
	}
	out := make([]UserRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, UserRecord{
			Handle:    r.Handle,
			Username:  r.Username,
			Nickname:  r.Nickname,
			Moderator: r.Moderator,
			FirstSeen: fromMillis(r.FirstSeen),
			LastSeen:  fromMillis(r.LastSeen),
			Joins:     r.Joins,
		})
	}
	return out, nil
}

func (s *sqlStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	q := s.db.Rebind(`INSERT INTO audit(at, actor_handle, actor_name, action, detail, ok, err) VALUES(?,?,?,?,?,?,?)`)
	_, err := s.db.ExecContext(ctx, q,
		millis(e.At), e.ActorHandle, nullStr(e.ActorName), e.Action, nullStr(e.Detail), e.OK, nullStr(e.Error))
	if err != nil {
		return fmt.Errorf("append audit: %w", err)
	}
	return nil
}

func (s *sqlStore) RecentAudit(ctx context.Context, limit int) ([]AuditEntry, error) {
	if limit <= 0 || limit > s.keep {
		limit = s.keep
	}
	var rows []auditRow
	q := s.db.Rebind(`SELECT at, actor_handle, actor_name, action, detail, ok, err FROM audit ORDER BY id DESC LIMIT ?`)
	if err := s.db.SelectContext(ctx, &rows, q, limit); err != nil {
		return nil, fmt.Errorf("recent audit: %w", err)
	}
	out := make([]AuditEntry, 0, len(rows))
	for _, r := range rows {
		out = append(out, AuditEntry{
			At:          fromMillis(r.At),
			ActorHandle: r.ActorHandle,
			ActorName:   r.ActorName.String,
			Action:      r.Action,
			Detail:      r.Detail.String,
			OK:          r.OK,
			Error:       r.Err.String,
		})
	}
	return out, nil
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
