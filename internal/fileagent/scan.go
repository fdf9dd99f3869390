package fileagent

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/etecture/generic-import-connector/internal/eventbus"
	logx "github.com/etecture/generic-import-connector/pkg/logx"
)

// Delivery receives one qualifying file. An error is logged and the scan
// moves on to the next file.
type Delivery func(ctx context.Context, f FileMeta) error

type State int32

const (
	Idle State = iota
	Scanning
)

func (s State) String() string {
	if s == Scanning {
		return "scanning"
	}
	return "idle"
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

type ScanConfig struct {
	// Name identifies the scan (and its schedule).
	Name    string
	Path    string
	Pattern string
}

// ScanResult summarizes one scan cycle.
type ScanResult struct {
	Name      string        `json:"name"`
	Path      string        `json:"path"`
	Started   time.Time     `json:"started"`
	Took      time.Duration `json:"took"`
	Listed    int           `json:"listed"`
	Matched   int           `json:"matched"`
	Delivered int           `json:"delivered"`
	Failed    int           `json:"failed"`
	ListError string        `json:"list_error,omitempty"`
	Watermark time.Time     `json:"watermark"`
}

// DirectoryScanWork is one directory's scan, run by the scheduler on every
// fire. Runs of one scan must not overlap; the engine's overlap gate and
// the scheduler's per-item fire ordering take care of that.
type DirectoryScanWork struct {
	cfg     ScanConfig
	lister  Lister
	deliver Delivery
	filter  *AgeWatermarkFilter
	log     logx.Logger
	bus     eventbus.Bus
	now     func() time.Time

	state    atomic.Int32
	released atomic.Bool

	mu   sync.Mutex
	last ScanResult
}

func NewDirectoryScanWork(cfg ScanConfig, lister Lister, deliver Delivery, log logx.Logger, now func() time.Time) (*DirectoryScanWork, error) {
	if strings.TrimSpace(cfg.Name) == "" {
		return nil, errors.New("fileagent: scan name required")
	}
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, fmt.Errorf("fileagent: scan %q: path required", cfg.Name)
	}
	if lister == nil || deliver == nil {
		return nil, fmt.Errorf("fileagent: scan %q: lister and delivery required", cfg.Name)
	}
	if now == nil {
		now = time.Now
	}
	filter, err := NewAgeWatermarkFilter(cfg.Pattern, now)
	if err != nil {
		return nil, err
	}
	return &DirectoryScanWork{
		cfg:     cfg,
		lister:  lister,
		deliver: deliver,
		filter:  filter,
		log:     log.With(logx.String("scan", cfg.Name), logx.String("path", cfg.Path), logx.String("pattern", filter.Pattern())),
		now:     now,
	}, nil
}

// WithBus makes the scan publish scan.completed after every cycle.
func (w *DirectoryScanWork) WithBus(bus eventbus.Bus) *DirectoryScanWork {
	w.bus = bus
	return w
}

func (w *DirectoryScanWork) Name() string { return w.cfg.Name }

func (w *DirectoryScanWork) Config() ScanConfig { return w.cfg }

func (w *DirectoryScanWork) Filter() *AgeWatermarkFilter { return w.filter }

func (w *DirectoryScanWork) State() State { return State(w.state.Load()) }

func (w *DirectoryScanWork) LastScan() ScanResult {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last
}

// Release marks the scan as retired. Later runs do nothing.
func (w *DirectoryScanWork) Release() {
	if w.released.CompareAndSwap(false, true) {
		w.log.Debug("scan released")
	}
}

func (w *DirectoryScanWork) Released() bool { return w.released.Load() }

// Run performs one scan cycle. Listing and delivery failures are logged and
// never returned: the watermark is reset in every case so one bad cycle does
// not block the next.
func (w *DirectoryScanWork) Run(ctx context.Context) error {
	if w.released.Load() {
		return nil
	}
	w.state.Store(int32(Scanning))
	defer w.state.Store(int32(Idle))

	res := ScanResult{Name: w.cfg.Name, Path: w.cfg.Path, Started: w.now()}
	defer func() {
		w.filter.Reset()
		res.Watermark = w.filter.Watermark()
		res.Took = w.now().Sub(res.Started)
		w.finish(res)
	}()

	entries, err := w.lister.ListEntries(ctx, w.cfg.Path)
	if err != nil {
		res.ListError = err.Error()
		if errors.Is(err, fs.ErrNotExist) {
			w.log.Warn("scan directory missing", logx.Err(err))
		} else {
			w.log.Warn("scan directory unreadable", logx.Err(err))
		}
		return nil
	}
	res.Listed = len(entries)

	matched := make([]FileMeta, 0, len(entries))
	for _, e := range entries {
		if w.filter.Accept(e) {
			matched = append(matched, e)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].ModifiedAt.Before(matched[j].ModifiedAt) })
	res.Matched = len(matched)

	for _, f := range matched {
		if err := w.deliver(ctx, f); err != nil {
			res.Failed++
			w.log.Warn("file delivery failed", logx.File(f.Name), logx.Err(err))
			continue
		}
		res.Delivered++
	}
	return nil
}

func (w *DirectoryScanWork) finish(res ScanResult) {
	w.mu.Lock()
	w.last = res
	w.mu.Unlock()

	if res.Matched > 0 || res.ListError != "" {
		w.log.Info("scan completed", logx.Int("matched", res.Matched), logx.Int("delivered", res.Delivered), logx.Int("failed", res.Failed), logx.Duration("took", res.Took))
	} else {
		w.log.Debug("scan completed", logx.Int("listed", res.Listed))
	}
	if w.bus != nil {
		w.bus.Publish(eventbus.Event{Type: eventbus.TopicScanCompleted, Time: res.Started.Add(res.Took), Data: res})
	}
}
