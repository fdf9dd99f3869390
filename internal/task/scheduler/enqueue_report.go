package scheduler

import (
	"errors"
	"time"

	"github.com/etecture/generic-import-connector/internal/task/engine"
	logx "github.com/etecture/generic-import-connector/pkg/logx"
)

const enqueueWarnThrottle = 5 * time.Second

// reportEnqueueError logs a failed submission. Recurrence continues either
// way; bursts are throttled per item.
func (s *Service) reportEnqueueError(name string, err error) {
	if err == nil {
		return
	}
	// A previous scan still running is normal for slow directories.
	if errors.Is(err, engine.ErrOverlapSkip) {
		s.log.Debug("schedule fire skipped", logx.String("schedule", name), logx.Err(err))
		return
	}

	now := time.Now()
	s.enqMu.Lock()
	last := s.lastEnqWarn[name]
	if !last.IsZero() && now.Sub(last) < enqueueWarnThrottle {
		s.enqMu.Unlock()
		return
	}
	s.lastEnqWarn[name] = now
	s.enqMu.Unlock()

	s.log.Warn("schedule failed to submit work", logx.String("schedule", name), logx.Err(err))
}
