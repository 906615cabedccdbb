package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"roombot/pkg/logx"
)

// fileStore keeps everything in a few files next to each other:
//   - <prefix>.audit.jsonl          (append-only JSON lines)
//   - <prefix>.users.snapshot.json  (compacted user map)
//   - <prefix>.users.journal.jsonl  (append-only user upserts)
//
// The journal is folded into the snapshot every compactEvery writes.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	auditFile *os.File
	audit     []AuditEntry // newest last, at most keep
	keep      int

	snapshotPath string
	journalFile  *os.File
	users        map[string]UserRecord

	writes       int
	compactEvery int
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	auditPath := prefix + ".audit.jsonl"
	snapPath := prefix + ".users.snapshot.json"
	journalPath := prefix + ".users.journal.jsonl"

	audit, err := tailAudit(auditPath, cfg.AuditKeep)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("audit log unreadable, starting fresh tail", logx.Err(err))
	}
	af, err := os.OpenFile(auditPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	users := map[string]UserRecord{}
	if err := loadSnapshot(snapPath, users); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("user snapshot unreadable", logx.Err(err))
	}
	if err := replayJournal(journalPath, users); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("user journal unreadable", logx.Err(err))
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		_ = af.Close()
		return nil, err
	}

	return &fileStore{
		log:          log,
		auditFile:    af,
		audit:        audit,
		keep:         cfg.AuditKeep,
		snapshotPath: snapPath,
		journalFile:  jf,
		users:        users,
		compactEvery: 500,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	if s.journalFile != nil {
		errs = append(errs, s.compactLocked(), s.journalFile.Close())
		s.journalFile = nil
	}
	if s.auditFile != nil {
		errs = append(errs, s.auditFile.Close())
		s.auditFile = nil
	}
	return errors.Join(errs...)
}

func (s *fileStore) PutUser(_ context.Context, u UserRecord) error {
	if strings.TrimSpace(u.Handle) == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return errors.New("user journal closed")
	}
	s.users[u.Handle] = u
	if err := json.NewEncoder(s.journalFile).Encode(u); err != nil {
		return fmt.Errorf("append user journal: %w", err)
	}
	s.writes++
	if s.writes%s.compactEvery == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("user journal compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) LoadUsers(_ context.Context) ([]UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]UserRecord, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Handle < out[j].Handle })
	return out, nil
}

func (s *fileStore) AppendAudit(_ context.Context, e AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return errors.New("audit file closed")
	}
	if err := json.NewEncoder(s.auditFile).Encode(e); err != nil {
		return err
	}
	s.audit = append(s.audit, e)
	if over := len(s.audit) - s.keep; over > 0 {
		s.audit = append([]AuditEntry(nil), s.audit[over:]...)
	}
	return nil
}

func (s *fileStore) RecentAudit(_ context.Context, limit int) ([]AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return newestFirst(s.audit, limit), nil
}

func (s *fileStore) compactLocked() error {
	if s.journalFile == nil {
		return nil
	}
	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(s.users); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	if err := s.journalFile.Truncate(0); err != nil {
		return err
	}
	_, err = s.journalFile.Seek(0, 2)
	return err
}

func loadSnapshot(path string, out map[string]UserRecord) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var m map[string]UserRecord
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return err
	}
	for k, v := range m {
		out[k] = v
	}
	return nil
}

func replayJournal(path string, out map[string]UserRecord) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var u UserRecord
		if err := json.Unmarshal(sc.Bytes(), &u); err != nil || u.Handle == "" {
			continue
		}
		out[u.Handle] = u
	}
	return sc.Err()
}

func tailAudit(path string, keep int) ([]AuditEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var out []AuditEntry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e AuditEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			continue
		}
		out = append(out, e)
		if len(out) > keep {
			out = out[1:]
		}
	}
	return out, sc.Err()
}

// newestFirst returns up to limit entries from an oldest-first slice, newest first.
func newestFirst(in []AuditEntry, limit int) []AuditEntry {
	if limit <= 0 || limit > len(in) {
		limit = len(in)
	}
	out := make([]AuditEntry, 0, limit)
	for i := len(in) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, in[i])
	}
	return out
}
