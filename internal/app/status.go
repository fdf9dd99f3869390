package app

import (
	"context"
	"time"

	"github.com/etecture/generic-import-connector/internal/connector"
	"github.com/etecture/generic-import-connector/internal/eventbus"
	"github.com/etecture/generic-import-connector/internal/observability/diag"
	"github.com/etecture/generic-import-connector/internal/runtime/supervisor"
	"github.com/etecture/generic-import-connector/internal/storage"
	"github.com/etecture/generic-import-connector/internal/task/engine"
	"github.com/etecture/generic-import-connector/internal/task/scheduler"
)

// Status is the runtime snapshot served on /status.
type Status struct {
	At         time.Time           `json:"at"`
	Imports    []connector.Status  `json:"imports"`
	Scheduler  scheduler.Snapshot  `json:"scheduler"`
	Engine     engine.Snapshot     `json:"engine"`
	Supervisor supervisor.Snapshot `json:"supervisor"`
	Storage    bool                `json:"storage"`
	// EventsDropped counts bus deliveries lost to slow subscribers.
	EventsDropped uint64 `json:"events_dropped"`
	// LogRecordsDropped counts log records the event sink rate limit refused.
	LogRecordsDropped uint64 `json:"log_records_dropped"`
}

func (a *App) Status() Status {
	st := Status{
		At:        time.Now(),
		Imports:   a.conn.Statuses(),
		Scheduler: a.sched.Snapshot(),
		Engine:    a.engine.Snapshot(),
		Storage:   a.store != nil,
	}
	if a.logs != nil {
		st.LogRecordsDropped = a.logs.DroppedEvents()
	}
	if a.sup != nil {
		st.Supervisor = a.sup.Snapshot()
	}
	if d, ok := a.bus.(eventbus.Dropper); ok {
		st.EventsDropped = d.Dropped()
	}
	return st
}

func (a *App) diagSources() diag.Sources {
	src := diag.Sources{Status: func() any { return a.Status() }}
	if a.store != nil {
		src.Imports = func(ctx context.Context, endpoint string, limit int) (any, error) {
			recs, err := a.store.RecentImports(ctx, endpoint, limit)
			if recs == nil {
				recs = []storage.ImportRecord{}
			}
			return recs, err
		}
	}
	return src
}
