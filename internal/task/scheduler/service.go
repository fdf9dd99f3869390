package scheduler

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/etecture/generic-import-connector/internal/eventbus"
	"github.com/etecture/generic-import-connector/internal/task/engine"
	"github.com/etecture/generic-import-connector/internal/task/schedule"
	logx "github.com/etecture/generic-import-connector/pkg/logx"
)

// item is one scheduled work. mu guards every field below it; ver changes on
// each arm so a callback from a replaced timer recognizes itself as stale.
type item struct {
	work  Work
	rec   Recurrence
	state *engine.RunState

	mu       sync.Mutex
	timer    Timer
	ver      uint64
	canceled bool
	armedAt  time.Time
	next     time.Time
	lastFire time.Time
	fires    uint64
}

type Service struct {
	cfg    Config
	timers Timers
	exec   Executor
	log    logx.Logger
	bus    eventbus.Bus

	mu    sync.Mutex
	items map[string]*item

	enqMu       sync.Mutex
	lastEnqWarn map[string]time.Time
}

// New builds a scheduler on the given timer facility. The facility is checked
// by arming and stopping a timer; failure is ErrTimerUnavailable.
func New(cfg Config, timers Timers, exec Executor, log logx.Logger, bus eventbus.Bus) (*Service, error) {
	if err := checkTimers(timers); err != nil {
		return nil, err
	}
	if exec == nil {
		return nil, errors.New("scheduler: executor required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.PreviewRuns <= 0 {
		cfg.PreviewRuns = 3
	}
	return &Service{
		cfg:         cfg,
		timers:      timers,
		exec:        exec,
		log:         log,
		bus:         bus,
		items:       map[string]*item{},
		lastEnqWarn: map[string]time.Time{},
	}, nil
}

func checkTimers(timers Timers) (err error) {
	if timers == nil {
		return ErrTimerUnavailable
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrTimerUnavailable, r)
		}
	}()
	t := timers.AfterFunc(time.Hour, func() {})
	if t == nil {
		return ErrTimerUnavailable
	}
	t.Stop()
	return nil
}

func (s *Service) Enabled() bool { return s.cfg.Enabled }

// ScheduleExpression schedules w at every instant matched by expr.
func (s *Service) ScheduleExpression(w Work, expr *schedule.Expression) error {
	return s.ScheduleWork(w, ExpressionRecurrence{Expr: expr})
}

// SchedulePeriodic schedules w after delay and then every period.
func (s *Service) SchedulePeriodic(w Work, delay, period time.Duration) error {
	return s.ScheduleWork(w, Periodic{Delay: delay, Period: period})
}

// ScheduleWork registers w and arms its first fire. A work already scheduled
// under the same name is canceled first; it is released only when it is a
// different value than w.
func (s *Service) ScheduleWork(w Work, rec Recurrence) error {
	if !s.cfg.Enabled {
		return ErrDisabled
	}
	if w == nil || strings.TrimSpace(w.Name()) == "" {
		return ErrInvalidWork
	}
	if err := validate(rec); err != nil {
		return err
	}
	name := w.Name()

	it := &item{work: w, rec: rec, state: &engine.RunState{}}
	it.mu.Lock()
	defer it.mu.Unlock()

	s.mu.Lock()
	prev := s.items[name]
	s.items[name] = it
	s.mu.Unlock()

	if prev != nil {
		s.cancelItem(prev, prev.work != w)
	}
	s.armLocked(it, true)
	return nil
}

// armLocked arms the item's next fire. Call with it.mu held.
func (s *Service) armLocked(it *item, first bool) {
	if it.canceled {
		return
	}
	now := s.timers.Now()
	it.ver++
	ver := it.ver
	fire := func() { s.fire(it, ver) }

	switch r := it.rec.(type) {
	case ExpressionRecurrence:
		d := r.Expr.Delay(now)
		it.next = now.Add(d)
		it.timer = s.timers.AfterFunc(d, fire)
	case Periodic:
		delay := r.Delay
		if first && delay == 0 && s.cfg.StartupSpread {
			delay = startupSpread(r.Period, it.work.Name())
		}
		it.next = now.Add(delay)
		it.timer = s.timers.Every(delay, r.Period, fire)
	}
	it.armedAt = now

	s.log.Debug("schedule armed", logx.String("schedule", it.work.Name()), logx.String("recurrence", it.rec.String()), logx.Time("next", it.next))
	s.publish(eventbus.TopicScheduleArmed, ScheduleEvent{Name: it.work.Name(), Recurrence: it.rec.String(), At: now, Next: it.next, Fires: it.fires})
}

// fire submits the work and, for expression items, re-arms from the current
// time. The canceled flag is re-checked after submission so a Cancel racing
// with this fire can never be undone by the re-arm.
func (s *Service) fire(it *item, ver uint64) {
	it.mu.Lock()
	if it.canceled || it.ver != ver {
		it.mu.Unlock()
		return
	}
	now := s.timers.Now()
	it.fires++
	it.lastFire = now
	fires := it.fires
	_, periodic := it.rec.(Periodic)
	it.mu.Unlock()

	name := it.work.Name()
	s.publish(eventbus.TopicScheduleFired, ScheduleEvent{Name: name, Recurrence: it.rec.String(), At: now, Fires: fires})

	err := s.exec.Enqueue(engine.Task{
		Name:  name,
		Run:   it.work.Run,
		State: it.state,
		Opt:   engine.TaskOptions{Overlap: engine.OverlapSkipIfRunning},
	})
	s.reportEnqueueError(name, err)

	it.mu.Lock()
	defer it.mu.Unlock()
	if it.canceled || it.ver != ver {
		return
	}
	if periodic {
		it.next = s.timers.Now().Add(it.rec.(Periodic).Period)
		return
	}
	s.armLocked(it, false)
}

// Cancel stops and releases the item scheduled for w. It reports whether
// such an item existed; unknown work is a no-op.
func (s *Service) Cancel(w Work) bool {
	if w == nil {
		return false
	}
	s.mu.Lock()
	it := s.items[w.Name()]
	if it != nil {
		delete(s.items, w.Name())
	}
	s.mu.Unlock()

	if it == nil {
		return false
	}
	s.cancelItem(it, true)
	return true
}

// CancelAll cancels and releases every item.
func (s *Service) CancelAll() {
	s.mu.Lock()
	items := make([]*item, 0, len(s.items))
	for _, it := range s.items {
		items = append(items, it)
	}
	s.items = map[string]*item{}
	s.mu.Unlock()

	for _, it := range items {
		s.cancelItem(it, true)
	}
	if len(items) > 0 {
		s.log.Info("all schedules canceled", logx.Int("count", len(items)))
	}
}

func (s *Service) cancelItem(it *item, release bool) {
	it.mu.Lock()
	if it.canceled {
		it.mu.Unlock()
		return
	}
	it.canceled = true
	if it.timer != nil {
		it.timer.Stop()
		it.timer = nil
	}
	fires := it.fires
	it.mu.Unlock()

	if release {
		it.work.Release()
	}
	name := it.work.Name()
	s.log.Debug("schedule canceled", logx.String("schedule", name), logx.Uint64("fires", fires))
	s.publish(eventbus.TopicScheduleCanceled, ScheduleEvent{Name: name, Recurrence: it.rec.String(), At: s.timers.Now(), Fires: fires})
}

func (s *Service) publish(topic string, ev ScheduleEvent) {
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: topic, Time: ev.At, Data: ev})
	}
}
