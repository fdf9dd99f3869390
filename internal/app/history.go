package app

import (
	"context"
	"encoding/json"
	"time"

	"github.com/etecture/generic-import-connector/internal/eventbus"
	"github.com/etecture/generic-import-connector/internal/importer"
	"github.com/etecture/generic-import-connector/internal/storage"
	logx "github.com/etecture/generic-import-connector/pkg/logx"
)

const historyWriteTimeout = 2 * time.Second

// historyRecorder persists finished imports and notable events. It runs
// until its subscription is closed so imports finishing during shutdown are
// still written.
type historyRecorder struct {
	store storage.Store
	log   logx.Logger
	done  chan struct{}
	unsub func()
}

func startHistoryRecorder(bus eventbus.Bus, store storage.Store, log logx.Logger) *historyRecorder {
	events, unsub := bus.Subscribe(512, "import.", eventbus.TopicLogRecord)
	h := &historyRecorder{store: store, log: log, done: make(chan struct{}), unsub: unsub}
	go h.loop(events)
	return h
}

func (h *historyRecorder) loop(events <-chan eventbus.Event) {
	defer close(h.done)
	for e := range events {
		if err := h.record(e); err != nil {
			// Not logged at warn: that would feed log.record back into us.
			h.log.Debug("history write failed", logx.String("type", e.Type), logx.Err(err))
		}
	}
}

// Close stops the subscription, writes what is buffered and waits for the
// loop, or for ctx.
func (h *historyRecorder) Close(ctx context.Context) error {
	h.unsub()
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *historyRecorder) record(e eventbus.Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), historyWriteTimeout)
	defer cancel()

	switch d := e.Data.(type) {
	case importer.ImportEvent:
		switch e.Type {
		case eventbus.TopicImportFinished:
			r := storage.ImportRecord{
				At:        e.Time,
				Endpoint:  d.Endpoint,
				ImportID:  d.ID,
				File:      d.Path,
				MimeType:  d.MimeType,
				Processor: d.Processor,
				Progress:  d.Progress,
				Warnings:  d.Warnings,
				Errors:    d.Errors,
				Status:    d.Status,
				TookMS:    d.TookMS,
			}
			if d.Errors > 0 {
				r.Error = d.Message
			}
			return h.store.AppendImport(ctx, r)
		case eventbus.TopicImportError:
			return h.store.AppendEvent(ctx, storage.EventRecord{
				At:       e.Time,
				Type:     e.Type,
				Level:    "error",
				Endpoint: d.Endpoint,
				Message:  d.Message,
				MetaJSON: metaJSON(map[string]any{"import_id": d.ID, "file": d.Path}),
			})
		}
	case importer.UnhandledEvent:
		return h.store.AppendEvent(ctx, storage.EventRecord{
			At:       e.Time,
			Type:     e.Type,
			Level:    "warn",
			Endpoint: d.Endpoint,
			Message:  "no processor for " + d.MimeType,
			MetaJSON: metaJSON(map[string]any{"file": d.Path}),
		})
	case logx.Record:
		return h.store.AppendEvent(ctx, storage.EventRecord{
			At:       d.Time,
			Type:     e.Type,
			Level:    d.Level,
			Endpoint: d.Endpoint,
			Message:  d.Message,
			MetaJSON: metaJSON(d.Fields),
		})
	}
	return nil
}

func metaJSON(m map[string]any) string {
	if len(m) == 0 {
		return ""
	}
	b, err := json.Marshal(m)
	if err != nil {
		return ""
	}
	return string(b)
}
