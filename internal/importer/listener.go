package importer

import (
	"fmt"
	"sync"
	"time"

	"github.com/etecture/generic-import-connector/internal/eventbus"
	"github.com/etecture/generic-import-connector/internal/fileagent"
)

// StatusListener observes imports. OnError reports whether the processor
// should go on with the rest of the file.
type StatusListener interface {
	OnStart(importID string)
	OnProgress(importID string, payload any)
	OnWarning(importID, msg string, args ...any)
	OnError(importID, msg string, args ...any) bool
	OnFinished(importID string)
}

// ImportInfo describes an import before it starts.
type ImportInfo struct {
	ID          string
	Endpoint    string
	File        fileagent.FileMeta
	MimeType    string
	Processor   string
	StopOnError bool
	Started     time.Time
}

// Tracker is implemented by listeners that want the import's context
// before OnStart.
type Tracker interface {
	Track(info ImportInfo)
}

// Import statuses reported on import.finished.
const (
	StatusOK       = "ok"
	StatusWarnings = "warnings"
	StatusFailed   = "failed"
	StatusAborted  = "aborted"
)

// ImportEvent is the payload of every import.* topic.
type ImportEvent struct {
	ID        string    `json:"id"`
	Endpoint  string    `json:"endpoint"`
	File      string    `json:"file"`
	Path      string    `json:"path"`
	MimeType  string    `json:"mime_type"`
	Processor string    `json:"processor,omitempty"`
	Started   time.Time `json:"started"`
	Progress  int       `json:"progress"`
	Warnings  int       `json:"warnings"`
	Errors    int       `json:"errors"`
	Message   string    `json:"message,omitempty"`
	Status    string    `json:"status,omitempty"`
	TookMS    int64     `json:"took_ms,omitempty"`
}

func formatMessage(msg string, args []any) string {
	if len(args) == 0 {
		return msg
	}
	return fmt.Sprintf(msg, args...)
}

// BusListener counts what processors report and publishes import.* events.
// Progress is published every ProgressEvery records to keep the bus quiet.
type BusListener struct {
	bus           eventbus.Bus
	now           func() time.Time
	ProgressEvery int

	mu      sync.Mutex
	imports map[string]*tracked
}

type tracked struct {
	info     ImportInfo
	progress int
	warnings int
	errors   int
	aborted  bool
	lastErr  string
}

func NewBusListener(bus eventbus.Bus, now func() time.Time) *BusListener {
	if now == nil {
		now = time.Now
	}
	return &BusListener{bus: bus, now: now, ProgressEvery: 100, imports: map[string]*tracked{}}
}

func (l *BusListener) Track(info ImportInfo) {
	if info.Started.IsZero() {
		info.Started = l.now()
	}
	l.mu.Lock()
	l.imports[info.ID] = &tracked{info: info}
	l.mu.Unlock()
}

// Active returns the number of imports started and not yet finished.
func (l *BusListener) Active() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.imports)
}

func (l *BusListener) OnStart(id string) {
	l.publish(eventbus.TopicImportStarted, l.event(id, ""))
}

func (l *BusListener) OnProgress(id string, _ any) {
	l.mu.Lock()
	t := l.get(id)
	t.progress++
	emit := l.ProgressEvery > 0 && t.progress%l.ProgressEvery == 0
	ev := t.event("")
	l.mu.Unlock()
	if emit {
		l.publish(eventbus.TopicImportProgress, ev)
	}
}

func (l *BusListener) OnWarning(id, msg string, args ...any) {
	text := formatMessage(msg, args)
	l.mu.Lock()
	t := l.get(id)
	t.warnings++
	ev := t.event(text)
	l.mu.Unlock()
	l.publish(eventbus.TopicImportWarning, ev)
}

func (l *BusListener) OnError(id, msg string, args ...any) bool {
	text := formatMessage(msg, args)
	l.mu.Lock()
	t := l.get(id)
	t.errors++
	t.lastErr = text
	if t.info.StopOnError {
		t.aborted = true
	}
	goOn := !t.aborted
	ev := t.event(text)
	l.mu.Unlock()
	l.publish(eventbus.TopicImportError, ev)
	return goOn
}

func (l *BusListener) OnFinished(id string) {
	l.mu.Lock()
	t := l.get(id)
	delete(l.imports, id)
	ev := t.event(t.lastErr)
	l.mu.Unlock()

	switch {
	case t.aborted:
		ev.Status = StatusAborted
	case t.errors > 0:
		ev.Status = StatusFailed
	case t.warnings > 0:
		ev.Status = StatusWarnings
	default:
		ev.Status = StatusOK
	}
	if !t.info.Started.IsZero() {
		ev.TookMS = l.now().Sub(t.info.Started).Milliseconds()
	}
	l.publish(eventbus.TopicImportFinished, ev)
}

// get returns the tracker for id, creating an anonymous one for imports
// nobody announced. Callers hold l.mu.
func (l *BusListener) get(id string) *tracked {
	t := l.imports[id]
	if t == nil {
		t = &tracked{info: ImportInfo{ID: id, Started: l.now()}}
		l.imports[id] = t
	}
	return t
}

func (l *BusListener) event(id, msg string) ImportEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.get(id).event(msg)
}

func (t *tracked) event(msg string) ImportEvent {
	return ImportEvent{
		ID:        t.info.ID,
		Endpoint:  t.info.Endpoint,
		File:      t.info.File.Name,
		Path:      t.info.File.Path,
		MimeType:  t.info.MimeType,
		Processor: t.info.Processor,
		Started:   t.info.Started,
		Progress:  t.progress,
		Warnings:  t.warnings,
		Errors:    t.errors,
		Message:   msg,
	}
}

func (l *BusListener) publish(topic string, ev ImportEvent) {
	if l.bus == nil {
		return
	}
	l.bus.Publish(eventbus.Event{Type: topic, Time: l.now(), Data: ev})
}

// MultiListener fans every call out in order. OnError continues only when
// every listener agrees.
type MultiListener []StatusListener

func (m MultiListener) Track(info ImportInfo) {
	for _, l := range m {
		if t, ok := l.(Tracker); ok {
			t.Track(info)
		}
	}
}

func (m MultiListener) OnStart(id string) {
	for _, l := range m {
		l.OnStart(id)
	}
}

func (m MultiListener) OnProgress(id string, payload any) {
	for _, l := range m {
		l.OnProgress(id, payload)
	}
}

func (m MultiListener) OnWarning(id, msg string, args ...any) {
	for _, l := range m {
		l.OnWarning(id, msg, args...)
	}
}

func (m MultiListener) OnError(id, msg string, args ...any) bool {
	goOn := true
	for _, l := range m {
		if !l.OnError(id, msg, args...) {
			goOn = false
		}
	}
	return goOn
}

func (m MultiListener) OnFinished(id string) {
	for _, l := range m {
		l.OnFinished(id)
	}
}
