package scheduler

import (
	"sort"
	"time"

	"github.com/robfig/cron/v3"
)

var (
	_ cron.Schedule = ExpressionRecurrence{}
	_ cron.Schedule = Periodic{}
)

// Next makes an expression recurrence a cron.Schedule.
func (e ExpressionRecurrence) Next(t time.Time) time.Time { return e.Expr.Next(t) }

// Next makes a periodic recurrence a cron.Schedule. Like cron.Every it
// rounds the period to whole seconds.
func (p Periodic) Next(t time.Time) time.Time { return cron.Every(p.Period).Next(t) }

// Snapshot lists every item with its upcoming fire times.
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	items := make([]*item, 0, len(s.items))
	for _, it := range s.items {
		items = append(items, it)
	}
	s.mu.Unlock()

	out := Snapshot{Enabled: s.cfg.Enabled, Items: make([]ItemInfo, 0, len(items))}
	for _, it := range items {
		it.mu.Lock()
		info := ItemInfo{
			Name:       it.work.Name(),
			Recurrence: it.rec.String(),
			ArmedAt:    it.armedAt,
			Next:       it.next,
			LastFire:   it.lastFire,
			Fires:      it.fires,
		}
		it.mu.Unlock()
		if sched, ok := it.rec.(cron.Schedule); ok {
			info.Upcoming = preview(sched, info.Next, s.cfg.PreviewRuns)
		}
		out.Items = append(out.Items, info)
	}
	sort.Slice(out.Items, func(i, j int) bool { return out.Items[i].Name < out.Items[j].Name })
	return out
}

// preview lists n fire times starting with next.
func preview(sched cron.Schedule, next time.Time, n int) []time.Time {
	if next.IsZero() || n <= 0 {
		return nil
	}
	out := make([]time.Time, 0, n)
	out = append(out, next)
	t := next
	for len(out) < n {
		t = sched.Next(t)
		if t.IsZero() {
			break
		}
		out = append(out, t)
	}
	return out
}
