// Package users remembers the display name of everyone who joined the room,
// keyed by handle and by username. Lookups are in memory; writes reach the
// store from a background worker so the event loop never waits on disk or network.
package users

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"roombot/internal/storage"
	"roombot/pkg/logx"
)

// DefaultNickname is used for handles the directory has never seen.
const DefaultNickname = "User"

var guestNick = regexp.MustCompile(`(?i)^guest-\d+$`)

type Directory struct {
	store storage.Store
	log   logx.Logger

	mu         sync.RWMutex
	byHandle   map[string]storage.UserRecord
	byUsername map[string]string

	writes  chan storage.UserRecord
	dropped atomic.Uint64
}

func New(store storage.Store, log logx.Logger) *Directory {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Directory{
		store:      store,
		log:        log.With(logx.String("comp", "users")),
		byHandle:   map[string]storage.UserRecord{},
		byUsername: map[string]string{},
		writes:     make(chan storage.UserRecord, 256),
	}
}

// Preload fills the directory from the store.
func (d *Directory) Preload(ctx context.Context) error {
	if d.store == nil {
		return nil
	}
	recs, err := d.store.LoadUsers(ctx)
	if err != nil {
		return err
	}
	d.mu.Lock()
	for _, r := range recs {
		// Moderator status is only trusted from joins seen by this process.
		r.Moderator = false
		d.indexLocked(r)
	}
	d.mu.Unlock()
	d.log.Info("user directory loaded", logx.Int("users", len(recs)))
	return nil
}

func (d *Directory) indexLocked(r storage.UserRecord) {
	d.byHandle[r.Handle] = r
	if r.Username != "" {
		d.byUsername[strings.ToLower(r.Username)] = r.Handle
	}
}

// DisplayName picks the name to greet with: auto-assigned guest nicks fall
// back to the account username.
func DisplayName(nick, username string) string {
	nick = strings.TrimSpace(nick)
	if nick == "" || guestNick.MatchString(nick) {
		if u := strings.TrimSpace(username); u != "" {
			return u
		}
	}
	if nick == "" {
		return DefaultNickname
	}
	return nick
}

// Remember records a join and returns the updated record.
func (d *Directory) Remember(handle, nick, username string, moderator bool, now time.Time) storage.UserRecord {
	d.mu.Lock()
	r, ok := d.byHandle[handle]
	if !ok {
		r = storage.UserRecord{Handle: handle, FirstSeen: now}
	}
	r.Username = username
	r.Nickname = DisplayName(nick, username)
	r.Moderator = moderator
	r.LastSeen = now
	r.Joins++
	d.indexLocked(r)
	d.mu.Unlock()

	d.persist(r)
	return r
}

// Nickname returns the remembered display name for handle.
func (d *Directory) Nickname(handle string) string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if r, ok := d.byHandle[handle]; ok && r.Nickname != "" {
		return r.Nickname
	}
	return DefaultNickname
}

// Lookup finds a user by handle or, failing that, by username.
func (d *Directory) Lookup(key string) (storage.UserRecord, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if r, ok := d.byHandle[key]; ok {
		return r, true
	}
	if h, ok := d.byUsername[strings.ToLower(key)]; ok {
		r, ok := d.byHandle[h]
		return r, ok
	}
	return storage.UserRecord{}, false
}

// IsModerator reports whether handle's most recent join carried the
// moderator flag.
func (d *Directory) IsModerator(handle string) bool {
	if d == nil || handle == "" {
		return false
	}
	r, ok := d.Lookup(handle)
	return ok && r.Handle == handle && r.Moderator
}

func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.byHandle)
}

func (d *Directory) persist(r storage.UserRecord) {
	if d.store == nil {
		return
	}
	select {
	case d.writes <- r:
	default:
		d.dropped.Add(1)
	}
}

// Run writes remembered users to the store until ctx is cancelled, then
// flushes what is still buffered.
func (d *Directory) Run(ctx context.Context) error {
	if d.store == nil {
		<-ctx.Done()
		return nil
	}
	report := time.NewTicker(time.Minute)
	defer report.Stop()
	for {
		select {
		case <-ctx.Done():
			d.flush()
			return nil
		case r := <-d.writes:
			d.write(ctx, r)
		case <-report.C:
			if n := d.dropped.Swap(0); n > 0 {
				d.log.Warn("user writes dropped (buffer full)", logx.Uint64("count", n))
			}
		}
	}
}

func (d *Directory) write(ctx context.Context, r storage.UserRecord) {
	wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := d.store.PutUser(wctx, r); err != nil {
		d.log.Warn("persist user failed", logx.String("handle", r.Handle), logx.Err(err))
	}
}

func (d *Directory) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		select {
		case r := <-d.writes:
			d.write(ctx, r)
		default:
			return
		}
	}
}
