// Package stumble connects to a room over a websocket that speaks JSON
// envelopes keyed by "stumble". Each dial gets a new connection generation;
// payloads bound to an older generation are refused.
package stumble

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"roombot/internal/eventbus"
	rtsup "roombot/internal/runtime/supervisor"
	"roombot/internal/transport"
	"roombot/pkg/logx"
)

type Config struct {
	URL     string
	Room    string
	Token   string
	Origin  string
	Headers map[string]string

	// Join sends {"stumble":"join","room":...,"token":...} right after dialing.
	Join bool

	ReadLimit    int64
	PingInterval time.Duration
	ReconnectMin time.Duration
	ReconnectMax time.Duration
}

type Adapter struct {
	cfg Config
	log logx.Logger
	bus eventbus.Bus

	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor

	mu   sync.RWMutex
	conn *websocket.Conn
	gen  uint64

	droppedEvents atomic.Uint64
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) (*Adapter, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("stumble: url is empty")
	}
	if cfg.Room == "" {
		cfg.Room = "room"
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = 1 << 20
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	return &Adapter{cfg: cfg, log: log.With(logx.String("comp", "stumble")), bus: bus}, nil
}

func (a *Adapter) Name() string { return "stumble" }

// Target reports the live connection, if any.
func (a *Adapter) Target() (transport.Target, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.conn == nil {
		return transport.Target{}, false
	}
	return transport.Target{Room: a.cfg.Room, Generation: a.gen}, true
}

// Start dials in the background and keeps reconnecting until Stop.
func (a *Adapter) Start(ctx context.Context, out chan<- transport.Event) error {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	if a.running {
		return nil
	}
	a.running = true
	a.sup = rtsup.New(ctx,
		rtsup.WithLogger(a.log),
		rtsup.WithCancelOnError(false),
	)
	a.sup.GoRestart("stumble.session", func(c context.Context) error {
		return a.session(c, out)
	},
		rtsup.WithRestartBackoff(a.cfg.ReconnectMin, a.cfg.ReconnectMax),
		rtsup.WithStopOnCleanExit(false),
	)
	a.sup.Go0("stumble.drop_report", func(c context.Context) {
		t := time.NewTicker(10 * time.Second)
		defer t.Stop()
		for {
			select {
			case <-c.Done():
				a.reportDrops(out)
				return
			case <-t.C:
				a.reportDrops(out)
			}
		}
	})
	return nil
}

func (a *Adapter) reportDrops(out chan<- transport.Event) {
	if n := a.droppedEvents.Swap(0); n > 0 {
		a.log.Warn("inbound events dropped (channel full)", logx.Uint64("count", n), logx.Int("chan_cap", cap(out)))
	}
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	a.running = false
	a.runMu.Unlock()
	if sup == nil {
		return nil
	}
	if err := sup.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, context.DeadlineExceeded) {
			a.log.Warn("stumble stop timed out", logx.Err(err))
			return nil
		}
		a.log.Debug("stumble stopped with error", logx.Err(err))
	}
	return nil
}

// session runs one connection until it fails or ctx ends.
func (a *Adapter) session(ctx context.Context, out chan<- transport.Event) error {
	hdr := http.Header{}
	for k, v := range a.cfg.Headers {
		hdr.Set(k, v)
	}
	if a.cfg.Origin != "" {
		hdr.Set("Origin", a.cfg.Origin)
	}

	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	conn, _, err := websocket.Dial(dialCtx, a.cfg.URL, &websocket.DialOptions{HTTPHeader: hdr})
	cancel()
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.CloseNow()
	conn.SetReadLimit(a.cfg.ReadLimit)

	if a.cfg.Join {
		join := transport.Envelope{Stumble: transport.KindJoin, Room: a.cfg.Room, Token: a.cfg.Token}
		if err := wsjson.Write(ctx, conn, join); err != nil {
			return fmt.Errorf("join: %w", err)
		}
	}

	gen := a.attach(conn)
	a.log.Info("connected", logx.String("url", a.cfg.URL), logx.Int64("generation", int64(gen)))
	a.bus.Publish(eventbus.Event{Type: eventbus.TransportUp, Time: time.Now(), Data: gen})
	defer func() {
		a.detach(conn)
		a.bus.Publish(eventbus.Event{Type: eventbus.TransportDown, Time: time.Now(), Data: gen})
	}()

	if a.cfg.PingInterval > 0 {
		pingCtx, stopPing := context.WithCancel(ctx)
		defer stopPing()
		go a.keepalive(pingCtx, conn)
	}

	for {
		var raw json.RawMessage
		if err := wsjson.Read(ctx, conn, &raw); err != nil {
			if ctx.Err() != nil {
				conn.Close(websocket.StatusNormalClosure, "shutdown")
				return ctx.Err()
			}
			return fmt.Errorf("read: %w", err)
		}
		env, err := transport.DecodeEnvelope(raw)
		if err != nil {
			a.log.Debug("ignored frame", logx.Err(err))
			continue
		}
		if env.Stumble == transport.KindPing {
			if err := wsjson.Write(ctx, conn, transport.Envelope{Stumble: transport.KindPong}); err != nil {
				return fmt.Errorf("pong: %w", err)
			}
			continue
		}
		ev, ok := env.ToEvent()
		if !ok {
			continue
		}
		select {
		case out <- ev:
		default:
			a.droppedEvents.Add(1)
		}
	}
}

func (a *Adapter) keepalive(ctx context.Context, conn *websocket.Conn) {
	t := time.NewTicker(a.cfg.PingInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			pctx, cancel := context.WithTimeout(ctx, a.cfg.PingInterval)
			err := conn.Ping(pctx)
			cancel()
			if err != nil && ctx.Err() == nil {
				a.log.Warn("ping failed; closing connection", logx.Err(err))
				conn.CloseNow()
				return
			}
		}
	}
}

func (a *Adapter) attach(conn *websocket.Conn) uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.gen++
	a.conn = conn
	return a.gen
}

func (a *Adapter) detach(conn *websocket.Conn) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn == conn {
		a.conn = nil
	}
}

// SendNow writes payload as one text frame. It does not retry.
func (a *Adapter) SendNow(ctx context.Context, to transport.Target, payload []byte) error {
	a.mu.RLock()
	conn, gen := a.conn, a.gen
	a.mu.RUnlock()
	if conn == nil {
		return transport.ErrNotConnected
	}
	if to.Room != a.cfg.Room || to.Generation != gen {
		return fmt.Errorf("%w: %s, live generation %d", transport.ErrStaleTarget, to, gen)
	}
	if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}
