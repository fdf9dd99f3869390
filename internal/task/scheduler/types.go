package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/etecture/generic-import-connector/internal/task/engine"
	"github.com/etecture/generic-import-connector/internal/task/schedule"
)

var (
	ErrTimerUnavailable = errors.New("scheduler: timer facility unavailable")
	ErrDisabled         = errors.New("scheduler disabled")
	ErrInvalidWork      = errors.New("scheduler: work must have a name")
)

// Config controls the scheduler (trigger) service.
type Config struct {
	Enabled bool

	// StartupSpread adds a first delay derived from the work name, bounded
	// by the period and 30s, to periodic items registered without an
	// explicit delay so many connectors do not all scan at once after start.
	StartupSpread bool

	// PreviewRuns is the number of upcoming fire times listed per item in
	// Snapshot. 0 means 3.
	PreviewRuns int
}

// Work is a unit the scheduler triggers. Name identifies the work: scheduling
// a second work under an existing name replaces the first one.
type Work interface {
	Name() string
	Run(ctx context.Context) error
	// Release frees resources once the work is canceled for good.
	Release()
}

// Recurrence selects how an item is re-armed. It is either Periodic or
// ExpressionRecurrence.
type Recurrence interface {
	fmt.Stringer
	isRecurrence()
}

// minPeriod is the cron runner's resolution.
const minPeriod = time.Second

// Periodic fires first after Delay, then every Period.
type Periodic struct {
	Delay  time.Duration
	Period time.Duration
}

func (Periodic) isRecurrence() {}

func (p Periodic) String() string {
	if p.Delay > 0 {
		return fmt.Sprintf("every %s after %s", p.Period, p.Delay)
	}
	return fmt.Sprintf("every %s", p.Period)
}

// ExpressionRecurrence fires at every instant matched by Expr.
type ExpressionRecurrence struct {
	Expr *schedule.Expression
}

func (ExpressionRecurrence) isRecurrence() {}

func (e ExpressionRecurrence) String() string {
	if e.Expr == nil {
		return "<nil expression>"
	}
	return e.Expr.Definition()
}

func validate(rec Recurrence) error {
	switch r := rec.(type) {
	case Periodic:
		if r.Period < minPeriod {
			return fmt.Errorf("scheduler: period must be >= %s, got %s", minPeriod, r.Period)
		}
		if r.Delay < 0 {
			return fmt.Errorf("scheduler: delay must be >= 0, got %s", r.Delay)
		}
	case ExpressionRecurrence:
		if r.Expr == nil {
			return errors.New("scheduler: expression required")
		}
	case nil:
		return errors.New("scheduler: recurrence required")
	default:
		return fmt.Errorf("scheduler: unsupported recurrence %T", rec)
	}
	return nil
}

// Timers is the timer facility. Stopping a Timer prevents future callbacks
// but does not wait for one already running.
type Timers interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
	Every(delay, period time.Duration, f func()) Timer
}

type Timer interface {
	Stop() bool
}

// Executor accepts fired work. The task engine implements it.
type Executor interface {
	Enqueue(t engine.Task) error
}

// ScheduleEvent is published on the bus for schedule.* topics.
type ScheduleEvent struct {
	Name       string    `json:"name"`
	Recurrence string    `json:"recurrence"`
	At         time.Time `json:"at"`
	Next       time.Time `json:"next,omitempty"`
	Fires      uint64    `json:"fires"`
	Error      string    `json:"error,omitempty"`
}

type ItemInfo struct {
	Name       string
	Recurrence string
	ArmedAt    time.Time
	Next       time.Time
	LastFire   time.Time
	Fires      uint64
	Upcoming   []time.Time
}

type Snapshot struct {
	Enabled bool
	Items   []ItemInfo
}
