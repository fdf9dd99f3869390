package logx

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	timeFormat      = "2006-01-02T15:04:05.000Z07:00"
	defaultLogFile  = "./importd.log"
	defaultMinLevel = zerolog.WarnLevel
)

// consoleOut receives console output. Stdout stays free for tools that
// wrap the daemon.
var consoleOut io.Writer = os.Stderr

type Config struct {
	Level   string
	Console bool
	File    FileConfig
	Events  EventsConfig
}

type FileConfig struct {
	Enabled bool
	Path    string
}

// EventsConfig controls the record sink handed to a Publisher.
type EventsConfig struct {
	Enabled    bool
	MinLevel   string
	RatePerSec int
}

// Service owns the outputs. Loggers it hands out pick up a new output set
// on the next line after Apply.
type Service struct {
	root atomic.Pointer[zerolog.Logger]

	mu       sync.Mutex
	cfg      Config
	file     *os.File
	publish  Publisher
	limiter  *rate.Limiter
	minLevel zerolog.Level

	droppedEvents atomic.Uint64
}

// New builds the service from cfg and returns it with its root logger.
func New(cfg Config) (*Service, Logger) {
	zerolog.ErrorFieldName = "err"
	zerolog.TimeFieldFormat = timeFormat

	s := &Service{}
	boot := zerolog.New(newConsoleWriter(consoleOut)).Level(parseLevel(cfg.Level, zerolog.InfoLevel)).With().Timestamp().Logger()
	s.root.Store(&boot)
	s.Apply(cfg)
	return s, Logger{svc: s}
}

func (s *Service) current() zerolog.Logger {
	if zl := s.root.Load(); zl != nil {
		return *zl
	}
	return zerolog.Nop()
}

// SetPublisher installs the event sink target. nil stops forwarding and
// leaves the other outputs alone.
func (s *Service) SetPublisher(p Publisher) {
	s.mu.Lock()
	s.publish = p
	s.mu.Unlock()
}

// DroppedEvents counts records the rate limit kept from the publisher.
func (s *Service) DroppedEvents() uint64 { return s.droppedEvents.Load() }

func (s *Service) Close() error {
	s.mu.Lock()
	f := s.file
	s.file = nil
	s.publish = nil
	s.mu.Unlock()

	if f != nil {
		return f.Close()
	}
	return nil
}

// Apply replaces outputs and levels. Safe for concurrent use with logging.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cfg = cfg
	s.minLevel = parseLevel(cfg.Events.MinLevel, defaultMinLevel)
	rps := max(1, cfg.Events.RatePerSec)
	s.limiter = rate.NewLimiter(rate.Limit(rps), rps)

	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}

	var writers []io.Writer
	if cfg.Console {
		writers = append(writers, newConsoleWriter(consoleOut))
	}
	if cfg.File.Enabled {
		path := strings.TrimSpace(cfg.File.Path)
		if path == "" {
			path = defaultLogFile
		}
		if f, err := openLogFile(path); err != nil {
			// The logger being rebuilt cannot report its own failure.
			fmt.Fprintf(os.Stderr, "logx: open log file %q: %v\n", path, err)
		} else {
			s.file = f
			writers = append(writers, zerolog.SyncWriter(f))
		}
	}
	if cfg.Events.Enabled {
		writers = append(writers, &eventWriter{svc: s})
	}
	if len(writers) == 0 {
		writers = append(writers, newConsoleWriter(consoleOut))
	}

	zl := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(parseLevel(cfg.Level, zerolog.InfoLevel)).
		With().Timestamp().Logger()
	s.root.Store(&zl)
}

func newConsoleWriter(w io.Writer) io.Writer {
	return zerolog.ConsoleWriter{
		Out:          w,
		TimeFormat:   timeFormat,
		FormatCaller: func(i any) string { s, _ := i.(string); return s },
	}
}

// openLogFile appends to path, creating its directory.
func openLogFile(path string) (*os.File, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
}

func parseLevel(s string, def zerolog.Level) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return def
	}
}

// ParseLevel reports whether s names a level, for config validation.
func ParseLevel(s string) (Level, bool) {
	lvl := parseLevel(s, zerolog.NoLevel)
	return lvl, lvl != zerolog.NoLevel
}
