package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"roombot/pkg/logx"
)

// redisStore keeps users in one hash (handle -> JSON) and the audit log in a
// capped list, newest first.
type redisStore struct {
	rdb   *redis.Client
	log   logx.Logger
	users string
	audit string
	keep  int
}

func openRedis(cfg Config, log logx.Logger) (Store, error) {
	addr := strings.TrimSpace(cfg.Redis.Addr)
	if addr == "" {
		return nil, errors.New("storage.redis.addr is required for redis driver")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	prefix := strings.TrimSpace(cfg.Redis.Prefix)
	if prefix == "" {
		prefix = "roombot:"
	}
	log.Info("redis connected", logx.String("addr", addr), logx.Int("db", cfg.Redis.DB))
	return &redisStore{rdb: rdb, log: log, users: prefix + "users", audit: prefix + "audit", keep: cfg.AuditKeep}, nil
}

func (s *redisStore) Close() error { return s.rdb.Close() }

func (s *redisStore) PutUser(ctx context.Context, u UserRecord) error {
	if strings.TrimSpace(u.Handle) == "" {
		return nil
	}
	b, err := json.Marshal(u)
	if err != nil {
		return err
	}
	if err := s.rdb.HSet(ctx, s.users, u.Handle, b).Err(); err != nil {
		return fmt.Errorf("put user: %w", err)
	}
	return nil
}

func (s *redisStore) LoadUsers(ctx context.Context) ([]UserRecord, error) {
	m, err := s.rdb.HGetAll(ctx, s.users).Result()
	if err != nil {
		return nil, fmt.Errorf("load users: %w", err)
	}
	out := make([]UserRecord, 0, len(m))
	for handle, raw := range m {
		var u UserRecord
		if err := json.Unmarshal([]byte(raw), &u); err != nil {
			s.log.Warn("skipping corrupt user record", logx.String("handle", handle), logx.Err(err))
			continue
		}
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Handle < out[j].Handle })
	return out, nil
}

func (s *redisStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	pipe := s.rdb.TxPipeline()
	pipe.LPush(ctx, s.audit, b)
	pipe.LTrim(ctx, s.audit, 0, int64(s.keep-1))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append audit: %w", err)
	}
	return nil
}

func (s *redisStore) RecentAudit(ctx context.Context, limit int) ([]AuditEntry, error) {
	if limit <= 0 || limit > s.keep {
		limit = s.keep
	}
	raw, err := s.rdb.LRange(ctx, s.audit, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("recent audit: %w", err)
	}
	out := make([]AuditEntry, 0, len(raw))
	for _, r := range raw {
		var e AuditEntry
		if err := json.Unmarshal([]byte(r), &e); err == nil {
			out = append(out, e)
		}
	}
	return out, nil
}
