package scheduler

import (
	"hash/fnv"
	"time"

	"github.com/robfig/cron/v3"
)

const maxStartupSpread = 30 * time.Second

// startupSpreadSchedule wraps a base schedule and overrides the first run time.
// After the first run, it delegates to the base schedule. The runner may ask
// for the first time only once it has already passed, so the override is
// handed out exactly once.
type startupSpreadSchedule struct {
	base  cron.Schedule
	first time.Time
	used  bool
}

func (s *startupSpreadSchedule) Next(t time.Time) time.Time {
	if !s.used && !s.first.IsZero() {
		s.used = true
		return s.first
	}
	if t.Before(s.first) {
		return s.first
	}
	return s.base.Next(t)
}

// startupSpread returns a stable first delay for name in
// [0, min(period, 30s)). The same name always gets the same offset.
func startupSpread(period time.Duration, name string) time.Duration {
	spreadMax := min(period, maxStartupSpread)
	if spreadMax <= 0 {
		return 0
	}
	return time.Duration(fnv64a(name) % uint64(spreadMax))
}

func fnv64a(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}
