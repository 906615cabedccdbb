package logx

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Service owns the root logger and its sinks. Apply rebuilds them in place so
// every Logger handed out earlier picks up the new level and outputs.
type Service struct {
	mu     sync.Mutex
	file   *os.File
	alerts alertSink

	root atomic.Pointer[zerolog.Logger]
}

// New builds the service from cfg and returns it with its root Logger.
func New(cfg Config) (*Service, Logger) {
	s := &Service{}
	s.Apply(cfg)
	return s, s.Logger()
}

func (s *Service) Logger() Logger { return Logger{svc: s} }

func (s *Service) current() *zerolog.Logger { return s.root.Load() }

// SetAlertFunc registers the alert receiver. A nil fn disables delivery.
func (s *Service) SetAlertFunc(fn AlertFunc) { s.alerts.setFunc(fn) }

// Apply swaps level and sinks. A log file that cannot be opened is reported
// on stderr and skipped; the remaining sinks still apply.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.alerts.configure(cfg.Alerts)

	var sinks []io.Writer
	if cfg.Console {
		sinks = append(sinks, consoleSink(os.Stdout))
	}

	var file *os.File
	if cfg.File.Enabled {
		path := cfg.filePath()
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "logx: open %s: %v\n", path, err)
		} else {
			file = f
			sinks = append(sinks, zerolog.SyncWriter(f))
		}
	}
	if cfg.Alerts.Enabled {
		sinks = append(sinks, &s.alerts)
	}
	if len(sinks) == 0 {
		sinks = append(sinks, consoleSink(os.Stdout))
	}

	root := newRoot(zerolog.MultiLevelWriter(sinks...), parseLevel(cfg.Level, LevelInfo))
	s.root.Store(&root)

	if s.file != nil {
		_ = s.file.Close()
	}
	s.file = file
}

// Close releases the log file and drops the alert receiver. Loggers keep
// working against the remaining sinks.
func (s *Service) Close() error {
	s.alerts.setFunc(nil)

	s.mu.Lock()
	f := s.file
	s.file = nil
	s.mu.Unlock()

	if f == nil {
		return nil
	}
	return f.Close()
}
