package connector

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/etecture/generic-import-connector/internal/eventbus"
	"github.com/etecture/generic-import-connector/internal/fileagent"
	"github.com/etecture/generic-import-connector/internal/importer"
	"github.com/etecture/generic-import-connector/internal/task/scheduler"
	logx "github.com/etecture/generic-import-connector/pkg/logx"
)

// Scheduler is the part of *scheduler.Service the connector drives.
type Scheduler interface {
	ScheduleWork(w scheduler.Work, rec scheduler.Recurrence) error
	Cancel(w scheduler.Work) bool
}

// DedupStore remembers delivered files; storage.Store satisfies it.
type DedupStore interface {
	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (until time.Time, ok bool, err error)
}

// Event is published on connector.activated and connector.deactivated.
type Event struct {
	Name       string `json:"name"`
	Path       string `json:"path"`
	Pattern    string `json:"pattern"`
	Recurrence string `json:"recurrence"`
	MimeType   string `json:"mime_type,omitempty"`
}

// Status is a snapshot of one active endpoint.
type Status struct {
	Spec       Spec
	Recurrence string
	State      fileagent.State
	LastScan   fileagent.ScanResult
}

type Options struct {
	Scheduler  Scheduler
	Dispatcher *importer.Dispatcher
	Lister     fileagent.Lister
	// Dedup is optional; specs with a DedupWindow need it.
	Dedup DedupStore
	Log   logx.Logger
	Bus   eventbus.Bus
	Now   func() time.Time
}

type Connector struct {
	sched  Scheduler
	disp   *importer.Dispatcher
	lister fileagent.Lister
	dedup  DedupStore
	log    logx.Logger
	bus    eventbus.Bus
	now    func() time.Time

	mu      sync.Mutex
	stopped bool
	active  map[string]*endpoint
}

type endpoint struct {
	spec Spec
	rec  scheduler.Recurrence
	work *fileagent.DirectoryScanWork
}

func New(opts Options) (*Connector, error) {
	if opts.Scheduler == nil || opts.Dispatcher == nil || opts.Lister == nil {
		return nil, errors.New("connector: scheduler, dispatcher and lister are required")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Connector{
		sched:  opts.Scheduler,
		disp:   opts.Dispatcher,
		lister: opts.Lister,
		dedup:  opts.Dedup,
		log:    opts.Log,
		bus:    opts.Bus,
		now:    opts.Now,
		active: map[string]*endpoint{},
	}, nil
}

// Activate starts scanning for spec. An endpoint already active under the
// same name is replaced.
func (c *Connector) Activate(spec Spec) error {
	return c.activate(spec, time.Time{})
}

// activate starts scanning for spec. A non-zero since skips files modified
// at or before it, as a previous scan of the same files would.
func (c *Connector) activate(spec Spec, since time.Time) error {
	if err := spec.validate(); err != nil {
		return err
	}
	rec, err := scheduler.ParseRecurrence(spec.Schedule, spec.StartDelay)
	if err != nil {
		return fmt.Errorf("connector %s: %w", spec.Name, err)
	}
	if spec.DedupWindow > 0 && c.dedup == nil {
		return fmt.Errorf("%w: %s: dedup_window needs storage", ErrInvalidSpec, spec.Name)
	}

	log := c.log.With(logx.Endpoint(spec.Name))
	ep := importer.Endpoint{
		Name:        spec.Name,
		MimeType:    spec.MimeType,
		StopOnError: spec.StopOnError,
		Timeout:     spec.Timeout,
	}
	if spec.DedupWindow > 0 {
		ep.Imported = c.markImported(spec.DedupWindow, log)
	}
	deliver := c.disp.DeliveryFor(ep)
	if spec.DedupWindow > 0 {
		deliver = c.withDedup(deliver, log)
	}

	work, err := fileagent.NewDirectoryScanWork(
		fileagent.ScanConfig{Name: scanName(spec.Name), Path: spec.Path, Pattern: spec.Pattern},
		c.lister, deliver, log, c.now,
	)
	if err != nil {
		return fmt.Errorf("connector %s: %w", spec.Name, err)
	}
	work.WithBus(c.bus)
	if !since.IsZero() {
		work.Filter().Restore(since)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return ErrStopped
	}
	if err := c.sched.ScheduleWork(work, rec); err != nil {
		return fmt.Errorf("connector %s: schedule: %w", spec.Name, err)
	}
	_, replaced := c.active[spec.Name]
	c.active[spec.Name] = &endpoint{spec: spec, rec: rec, work: work}

	log.Info("connector activated", logx.String("path", spec.Path), logx.String("recurrence", rec.String()), logx.Bool("replaced", replaced))
	c.publish(eventbus.TopicConnectorActivated, spec, rec)
	return nil
}

// Deactivate stops scanning for name and reports whether it was active.
func (c *Connector) Deactivate(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deactivateLocked(name)
}

func (c *Connector) deactivateLocked(name string) bool {
	ep, ok := c.active[name]
	if !ok {
		return false
	}
	delete(c.active, name)
	c.sched.Cancel(ep.work)
	c.log.Info("connector deactivated", logx.Endpoint(name))
	c.publish(eventbus.TopicConnectorDeactivated, ep.spec, ep.rec)
	return true
}

// Reconcile makes the enabled specs the active set. Unchanged endpoints keep
// their scan state; changed ones are re-activated, keeping the watermark when
// they still scan the same files on the same schedule. Errors of single
// specs are joined and do not stop the others.
func (c *Connector) Reconcile(specs []Spec) error {
	want := make(map[string]Spec, len(specs))
	var errs []error
	for _, s := range specs {
		if !s.Enabled {
			continue
		}
		if _, dup := want[s.Name]; dup {
			errs = append(errs, fmt.Errorf("%w: duplicate name %q", ErrInvalidSpec, s.Name))
			continue
		}
		want[s.Name] = s
	}

	c.mu.Lock()
	var drop []string
	for name := range c.active {
		if _, ok := want[name]; !ok {
			drop = append(drop, name)
		}
	}
	sort.Strings(drop)
	for _, name := range drop {
		c.deactivateLocked(name)
	}
	var todo []Spec
	since := map[string]time.Time{}
	for name, s := range want {
		ep, ok := c.active[name]
		if ok && ep.spec == s {
			continue
		}
		if ok && ep.spec.Equal(s) {
			since[name] = ep.work.Filter().Watermark()
		}
		todo = append(todo, s)
	}
	c.mu.Unlock()

	sort.Slice(todo, func(i, j int) bool { return todo[i].Name < todo[j].Name })
	for _, s := range todo {
		if err := c.activate(s, since[s.Name]); err != nil {
			c.log.Warn("connector activation failed", logx.Endpoint(s.Name), logx.Err(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Stop deactivates every endpoint and refuses further activations.
func (c *Connector) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
	names := make([]string, 0, len(c.active))
	for name := range c.active {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		c.deactivateLocked(name)
	}
}

// Statuses lists the active endpoints by name.
func (c *Connector) Statuses() []Status {
	c.mu.Lock()
	out := make([]Status, 0, len(c.active))
	for _, ep := range c.active {
		out = append(out, Status{Spec: ep.spec, Recurrence: ep.rec.String(), State: ep.work.State(), LastScan: ep.work.LastScan()})
	}
	c.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Spec.Name < out[j].Spec.Name })
	return out
}

func dedupKey(f fileagent.FileMeta) string {
	return f.Path + "|" + strconv.FormatInt(f.ModifiedAt.UnixMilli(), 10)
}

// withDedup skips files imported within their window. Lookup failures are
// logged and never block a delivery.
func (c *Connector) withDedup(next fileagent.Delivery, log logx.Logger) fileagent.Delivery {
	return func(ctx context.Context, f fileagent.FileMeta) error {
		until, ok, err := c.dedup.GetDedup(ctx, dedupKey(f))
		switch {
		case err != nil:
			log.Warn("dedup lookup failed", logx.File(f.Path), logx.Err(err))
		case ok && until.After(c.now()):
			log.Debug("file already imported, skipped", logx.File(f.Path), logx.Time("until", until))
			return nil
		}
		return next(ctx, f)
	}
}

// markImported records a file once its import succeeded, so a file whose
// import was dropped or failed is offered again after a restart.
func (c *Connector) markImported(window time.Duration, log logx.Logger) func(context.Context, fileagent.FileMeta) {
	return func(ctx context.Context, f fileagent.FileMeta) {
		if err := c.dedup.PutDedup(ctx, dedupKey(f), c.now().Add(window)); err != nil {
			log.Warn("dedup update failed", logx.File(f.Path), logx.Err(err))
		}
	}
}

func (c *Connector) publish(topic string, spec Spec, rec scheduler.Recurrence) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(eventbus.Event{Type: topic, Time: c.now(), Data: Event{
		Name:       spec.Name,
		Path:       spec.Path,
		Pattern:    spec.Pattern,
		Recurrence: rec.String(),
		MimeType:   spec.MimeType,
	}})
}
