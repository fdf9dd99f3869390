package scheduler

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	logx "github.com/etecture/generic-import-connector/pkg/logx"
	"github.com/robfig/cron/v3"
)

// SystemTimers is the wall-clock timer facility. One-shots use time.AfterFunc;
// periodic timers are entries of a cron runner started on first use.
type SystemTimers struct {
	log logx.Logger

	mu sync.Mutex
	c  *cron.Cron
}

func NewSystemTimers(log logx.Logger) *SystemTimers {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &SystemTimers{log: log}
}

func (t *SystemTimers) Now() time.Time { return time.Now() }

func (t *SystemTimers) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Every calls f after delay and then every period, rounded to whole seconds
// by the cron runner. A fire that comes while f is still running is skipped,
// so calls for one timer never overlap.
func (t *SystemTimers) Every(delay, period time.Duration, f func()) Timer {
	c := t.runner()
	sched := &startupSpreadSchedule{base: cron.Every(period), first: t.Now().Add(delay)}
	id := c.Schedule(sched, cron.FuncJob(f))
	return &cronTimer{c: c, id: id}
}

// Stop halts the cron runner and waits for running callbacks. A later Every
// starts a new runner.
func (t *SystemTimers) Stop() {
	t.mu.Lock()
	c := t.c
	t.c = nil
	t.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}

func (t *SystemTimers) runner() *cron.Cron {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.c == nil {
		cl := cronLogger{log: t.log}
		t.c = cron.New(cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))
		t.c.Start()
	}
	return t.c
}

type cronTimer struct {
	c       *cron.Cron
	id      cron.EntryID
	stopped atomic.Bool
}

func (t *cronTimer) Stop() bool {
	if !t.stopped.CompareAndSwap(false, true) {
		return false
	}
	t.c.Remove(t.id)
	return true
}

// cronLogger routes the runner's own messages into logx.
type cronLogger struct {
	log logx.Logger
}

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
