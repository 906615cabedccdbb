package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roombot/pkg/logx"
)

func openers(t *testing.T) map[string]func() Config {
	dir := t.TempDir()
	m := map[string]func() Config{
		"file":   func() Config { return Config{Driver: "file", Path: filepath.Join(dir, "file", "roombot.db")} },
		"sqlite": func() Config { return Config{Driver: "sqlite", Path: filepath.Join(dir, "sqlite", "roombot.db")} },
	}
	if dsn := os.Getenv("ROOMBOT_TEST_POSTGRES_DSN"); dsn != "" {
		m["postgres"] = func() Config { return Config{Driver: "postgres", DSN: dsn} }
	}
	if addr := os.Getenv("ROOMBOT_TEST_REDIS_ADDR"); addr != "" {
		prefix := "roombot-test-" + time.Now().Format("150405.000") + ":"
		m["redis"] = func() Config { return Config{Driver: "redis", Redis: RedisConfig{Addr: addr, Prefix: prefix}} }
	}
	return m
}

func TestStoresRoundTripUsersAcrossReopen(t *testing.T) {
	for name, cfgFn := range openers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			seen := time.UnixMilli(time.Now().UnixMilli())

			st, err := Open(cfgFn(), logx.Nop())
			require.NoError(t, err)
			require.NoError(t, st.PutUser(ctx, UserRecord{Handle: "h1", Username: "alice", Nickname: "Al", FirstSeen: seen, LastSeen: seen, Joins: 1}))
			require.NoError(t, st.PutUser(ctx, UserRecord{Handle: "h1", Username: "alice", Nickname: "Ally", Moderator: true, FirstSeen: seen, LastSeen: seen, Joins: 2}))
			require.NoError(t, st.PutUser(ctx, UserRecord{Handle: ""}))
			require.NoError(t, st.Close())

			st, err = Open(cfgFn(), logx.Nop())
			require.NoError(t, err)
			defer st.Close()

			users, err := st.LoadUsers(ctx)
			require.NoError(t, err)
			require.Len(t, users, 1)
			u := users[0]
			assert.Equal(t, "Ally", u.Nickname)
			assert.True(t, u.Moderator)
			assert.Equal(t, 2, u.Joins)
			assert.True(t, seen.Equal(u.LastSeen), "last seen %v != %v", u.LastSeen, seen)
		})
	}
}

func TestStoresAuditNewestFirst(t *testing.T) {
	for name, cfgFn := range openers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			cfg := cfgFn()
			cfg.AuditKeep = 2
			st, err := Open(cfg, logx.Nop())
			require.NoError(t, err)
			defer st.Close()

			entries := []AuditEntry{
				{At: time.Unix(1000, 0), ActorHandle: "mod1", Action: "ratelimit", OK: true},
				{At: time.Unix(1001, 0), ActorHandle: "mod1", Action: "cancel", Error: "nothing running"},
				{At: time.Unix(1002, 0), ActorHandle: "mod1", Action: "clearqueue", OK: true},
			}
			for _, e := range entries {
				require.NoError(t, st.AppendAudit(ctx, e))
			}
			got, err := st.RecentAudit(ctx, 10)
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.Equal(t, "clearqueue", got[0].Action)
			assert.Equal(t, "cancel", got[1].Action)
			assert.False(t, got[1].OK)
			assert.Equal(t, "nothing running", got[1].Error)
		})
	}
}

func TestOpenDisabledAndUnknown(t *testing.T) {
	st, err := Open(Config{Driver: "none"}, logx.Nop())
	assert.NoError(t, err)
	assert.Nil(t, st)

	_, err = Open(Config{Driver: "mongo"}, logx.Nop())
	assert.ErrorContains(t, err, "unknown storage driver")

	_, err = Open(Config{Driver: "file"}, logx.Nop())
	assert.Error(t, err)
}

func TestFileStoreCompaction(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{Driver: "file", Path: filepath.Join(dir, "bot.db"), AuditKeep: 10}
	st, err := Open(cfg, logx.Nop())
	require.NoError(t, err)
	fs := st.(*fileStore)
	fs.compactEvery = 2

	ctx := context.Background()
	for _, h := range []string{"a", "b", "c"} {
		require.NoError(t, st.PutUser(ctx, UserRecord{Handle: h, Username: h}))
	}
	_, err = os.Stat(filepath.Join(dir, "bot.users.snapshot.json"))
	require.NoError(t, err)
	require.NoError(t, st.Close())

	st, err = Open(cfg, logx.Nop())
	require.NoError(t, err)
	defer st.Close()
	users, err := st.LoadUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 3)
}
