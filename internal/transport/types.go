// Package transport defines the boundary between the bot core and a chat room:
// inbound events flow up through Adapter.Start, outbound payloads go down
// through Adapter.SendNow. Only the outbox calls SendNow.
package transport

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned by SendNow while no room connection is up.
	ErrNotConnected = errors.New("transport: not connected")
	// ErrStaleTarget is returned when a payload was built for an earlier connection.
	ErrStaleTarget = errors.New("transport: stale target")
)

type EventKind string

const (
	EventJoin EventKind = "join"
	EventText EventKind = "text"
)

// Event is one inbound room event.
type Event struct {
	Kind              EventKind
	SenderHandle      string
	SenderDisplayName string
	Username          string
	Text              string
	IsModerator       bool
}

// Target identifies the room connection a payload is bound to. Generation
// changes on every reconnect.
type Target struct {
	Room       string
	Generation uint64
}

func (t Target) IsZero() bool { return t.Room == "" && t.Generation == 0 }

func (t Target) String() string { return fmt.Sprintf("%s#%d", t.Room, t.Generation) }

// Sender is the single outbound capability. It must not retry.
type Sender interface {
	SendNow(ctx context.Context, to Target, payload []byte) error
}

// TargetSource reports the current connection target, if any.
type TargetSource interface {
	Target() (Target, bool)
}

type Adapter interface {
	Sender
	TargetSource

	Name() string
	Start(ctx context.Context, out chan<- Event) error
	Stop(ctx context.Context) error
}
