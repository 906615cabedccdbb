package dispatch

import (
	"context"
	"sync/atomic"
	"time"

	"roombot/internal/storage"
	"roombot/pkg/logx"
)

// Auditor writes moderator actions to the store off the event loop.
type Auditor struct {
	store   storage.Store
	log     logx.Logger
	ch      chan storage.AuditEntry
	dropped atomic.Uint64
}

func NewAuditor(store storage.Store, log logx.Logger) *Auditor {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Auditor{store: store, log: log.With(logx.String("comp", "audit")), ch: make(chan storage.AuditEntry, 64)}
}

func (a *Auditor) Record(e storage.AuditEntry) {
	if a == nil || a.store == nil {
		return
	}
	select {
	case a.ch <- e:
	default:
		a.dropped.Add(1)
	}
}

func (a *Auditor) Run(ctx context.Context) error {
	if a.store == nil {
		<-ctx.Done()
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case e := <-a.ch:
					a.write(context.Background(), e)
				default:
					if n := a.dropped.Load(); n > 0 {
						a.log.Warn("audit entries dropped", logx.Uint64("count", n))
					}
					return nil
				}
			}
		case e := <-a.ch:
			a.write(ctx, e)
		}
	}
}

func (a *Auditor) write(ctx context.Context, e storage.AuditEntry) {
	wctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := a.store.AppendAudit(wctx, e); err != nil {
		a.log.Warn("audit write failed", logx.String("action", e.Action), logx.Err(err))
	}
}
