package logx

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	maxMessageLen = 3500
	maxValueLen   = 600
	maxStackLen   = 900
)

// Record is one decoded log line handed to the Publisher. Endpoint is lifted
// out of Fields when the line carried one.
type Record struct {
	Time     time.Time      `json:"time"`
	Level    string         `json:"level"`
	Message  string         `json:"message"`
	Endpoint string         `json:"endpoint,omitempty"`
	Fields   map[string]any `json:"fields,omitempty"`
}

// Publisher receives records from the event sink. It must not block and
// must not log through the same Service.
type Publisher func(Record)

// eventWriter is the zerolog output that feeds the Publisher.
type eventWriter struct{ svc *Service }

func (w *eventWriter) Write(p []byte) (int, error) {
	return w.WriteLevel(zerolog.InfoLevel, p)
}

func (w *eventWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	s := w.svc
	s.mu.Lock()
	pub, lim, minLevel := s.publish, s.limiter, s.minLevel
	s.mu.Unlock()

	if pub == nil || lim == nil || level < minLevel {
		return len(p), nil
	}
	if !lim.Allow() {
		s.droppedEvents.Add(1)
		return len(p), nil
	}
	if rec, ok := decodeRecord(p); ok {
		if rec.Level == "" {
			rec.Level = level.String()
		}
		pub(rec)
	}
	return len(p), nil
}

// decodeRecord turns a zerolog JSON line into a Record. Long strings are
// cut so subscribers never hold whole stacks.
func decodeRecord(p []byte) (Record, bool) {
	line := bytes.TrimSpace(p)
	if len(line) == 0 {
		return Record{}, false
	}
	rec := Record{Time: time.Now()}

	var m map[string]any
	if err := json.Unmarshal(line, &m); err != nil {
		rec.Message = truncate(string(line), maxMessageLen)
		return rec, true
	}

	for k, v := range m {
		str, isStr := v.(string)
		switch k {
		case zerolog.LevelFieldName:
			rec.Level = str
		case zerolog.MessageFieldName, "msg":
			if rec.Message == "" {
				rec.Message = truncate(str, maxMessageLen)
			}
		case zerolog.TimestampFieldName:
			if t, err := time.Parse(timeFormat, str); err == nil {
				rec.Time = t
			}
		default:
			if k == KeyEndpoint && isStr {
				rec.Endpoint = str
				continue
			}
			if rec.Fields == nil {
				rec.Fields = make(map[string]any, len(m))
			}
			if isStr {
				limit := maxValueLen
				if k == "stack" {
					limit = maxStackLen
				}
				v = truncate(str, limit)
			}
			rec.Fields[k] = v
		}
	}
	return rec, true
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	if n < 10 {
		return s[:n]
	}
	return strings.TrimRight(s[:n-3], " ") + "..."
}
