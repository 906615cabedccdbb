// Package debug serves operational endpoints: liveness, JSON snapshots of
// the bot's components and net/http/pprof under a configurable prefix.
package debug

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"sort"
	"strings"
	"sync"
	"time"

	rtsup "roombot/internal/runtime/supervisor"
	"roombot/pkg/logx"
)

const DefaultAddr = "127.0.0.1:6060"

// Config controls the debug server.
//
// Security:
//   - Prefer binding to localhost (default).
//   - If binding to a non-loopback address, set Token or enable AllowInsecure.
type Config struct {
	Addr          string
	PprofPrefix   string
	Token         string
	AllowInsecure bool

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// StatusFunc produces a JSON-serializable snapshot.
type StatusFunc func(ctx context.Context) (any, error)

type Server struct {
	cfg Config
	log logx.Logger

	mu       sync.Mutex
	statuses map[string]StatusFunc
	sup      *rtsup.Supervisor
	addr     string
	ready    chan struct{}
}

func New(cfg Config, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = DefaultAddr
	}
	return &Server{
		cfg:      cfg,
		log:      log.With(logx.String("comp", "debug")),
		statuses: map[string]StatusFunc{},
		ready:    make(chan struct{}),
	}
}

// Handle exposes fn at /debug/<name>. Register before Start.
func (s *Server) Handle(name string, fn StatusFunc) {
	s.mu.Lock()
	s.statuses[strings.Trim(name, "/")] = fn
	s.mu.Unlock()
}

// Addr returns the bound address once the listener is up.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Ready is closed after the first successful listen.
func (s *Server) Ready() <-chan struct{} { return s.ready }

func (s *Server) Start(ctx context.Context) error {
	addr := strings.TrimSpace(s.cfg.Addr)
	// Safety: prevent accidental public exposure without auth.
	if !s.cfg.AllowInsecure && s.cfg.Token == "" && !isLoopbackAddr(addr) {
		return errors.New("debug server refused to start: non-loopback addr requires token or allow_insecure")
	}
	if s.cfg.Token == "" && !isLoopbackAddr(addr) {
		s.log.Warn("debug server running without token on non-loopback addr (insecure)", logx.String("addr", addr))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil {
		return nil
	}
	s.sup = rtsup.New(ctx,
		rtsup.WithLogger(s.log),
		// debug endpoints are optional; never take the bot down.
		rtsup.WithCancelOnError(false),
	)
	s.sup.GoRestart("http.serve", s.serveOnce,
		rtsup.WithPublishFirstError(true),
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
	)
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	sup := s.sup
	s.sup = nil
	s.mu.Unlock()
	if sup == nil {
		return nil
	}
	if err := sup.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	s.log.Info("debug server stopped")
	return nil
}

func (s *Server) serveOnce(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		if ctx.Err() != nil {
			return context.Canceled
		}
		return err
	}
	srv := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}

	s.mu.Lock()
	s.addr = ln.Addr().String()
	select {
	case <-s.ready:
	default:
		close(s.ready)
	}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		cctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = srv.Shutdown(cctx)
		cancel()
	}()

	s.log.Info("debug server started", logx.String("addr", ln.Addr().String()),
		logx.String("pprof", normalizePrefix(s.cfg.PprofPrefix)), logx.Bool("token_set", s.cfg.Token != ""))

	err = srv.Serve(ln)
	if ctx.Err() != nil {
		return context.Canceled
	}
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return errors.New("debug server exited unexpectedly")
	}
	return err
}

// Handler builds the mux. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	wrap := func(h http.HandlerFunc) http.HandlerFunc { return withAuth(s.cfg.Token, h) }

	mux.HandleFunc("/healthz", wrap(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))

	s.mu.Lock()
	names := make([]string, 0, len(s.statuses))
	for name, fn := range s.statuses {
		names = append(names, name)
		mux.HandleFunc("/debug/"+name, wrap(statusHandler(fn)))
	}
	s.mu.Unlock()
	sort.Strings(names)
	mux.HandleFunc("/debug/", wrap(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/debug/" {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"endpoints": names})
	}))

	prefix := normalizePrefix(s.cfg.PprofPrefix)
	base := strings.TrimSuffix(prefix, "/")
	mux.HandleFunc(prefix, wrap(pprofIndexAt(prefix)))
	mux.HandleFunc(base+"/cmdline", wrap(hpprof.Cmdline))
	mux.HandleFunc(base+"/profile", wrap(hpprof.Profile))
	mux.HandleFunc(base+"/symbol", wrap(hpprof.Symbol))
	mux.HandleFunc(base+"/trace", wrap(hpprof.Trace))
	return mux
}

func statusHandler(fn StatusFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		v, err := fn(ctx)
		if err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, v)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

// withAuth accepts "Authorization: Bearer <token>" or ?token=<token>.
func withAuth(token string, h http.HandlerFunc) http.HandlerFunc {
	tok := strings.TrimSpace(token)
	if tok == "" {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		got := r.URL.Query().Get("token")
		if got == "" {
			if ah, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
				got = strings.TrimSpace(ah)
			}
		}
		if got != tok {
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		h(w, r)
	}
}

func normalizePrefix(prefix string) string {
	p := strings.TrimSpace(prefix)
	if p == "" {
		p = "/debug/pprof/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return p
}

// pprof.Index assumes requests are rooted at /debug/pprof/; rewrite the path
// so custom prefixes work.
func pprofIndexAt(prefix string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r2 := r.Clone(r.Context())
		r2.URL.Path = "/debug/pprof/" + strings.TrimPrefix(r.URL.Path, prefix)
		hpprof.Index(w, r2)
	}
}

func isLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil || strings.TrimSpace(h) == "" {
		return false
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
