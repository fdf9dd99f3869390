package importer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"syscall"
	"time"

	"github.com/etecture/generic-import-connector/internal/eventbus"
	"github.com/etecture/generic-import-connector/internal/fileagent"
	"github.com/etecture/generic-import-connector/internal/task/engine"
	logx "github.com/etecture/generic-import-connector/pkg/logx"
	"github.com/google/uuid"
	"github.com/spf13/afero"
)

// Endpoint is the import side of a connector.
type Endpoint struct {
	Name string
	// MimeType overrides detection from the file extension.
	MimeType    string
	StopOnError bool
	// Timeout bounds one import; 0 uses the engine default.
	Timeout time.Duration
	// Imported, when set, runs after a file was processed without error.
	Imported func(ctx context.Context, f fileagent.FileMeta)
}

// Executor runs import tasks; *engine.Service satisfies it.
type Executor interface {
	Submit(ctx context.Context, t engine.Task) error
}

// UnhandledEvent is published on import.unhandled.
type UnhandledEvent struct {
	Endpoint string `json:"endpoint"`
	File     string `json:"file"`
	Path     string `json:"path"`
	MimeType string `json:"mime_type"`
}

const defaultSubmitTimeout = 5 * time.Second

// busyRetryAfter is the pause before reopening a file another process holds.
const busyRetryAfter = 2 * time.Second

type Dispatcher struct {
	fs       afero.Fs
	reg      *Registry
	exec     Executor
	listener StatusListener
	boundary Boundary
	log      logx.Logger
	bus      eventbus.Bus
	newID    func() string

	submitTimeout time.Duration
}

type Option func(*Dispatcher)

func WithLogger(log logx.Logger) Option { return func(d *Dispatcher) { d.log = log } }

func WithBus(bus eventbus.Bus) Option { return func(d *Dispatcher) { d.bus = bus } }

func WithListener(l StatusListener) Option { return func(d *Dispatcher) { d.listener = l } }

func WithBoundary(b Boundary) Option { return func(d *Dispatcher) { d.boundary = b } }

func WithIDGenerator(fn func() string) Option { return func(d *Dispatcher) { d.newID = fn } }

// WithSubmitTimeout bounds how long a delivery waits for queue space.
func WithSubmitTimeout(d time.Duration) Option {
	return func(x *Dispatcher) { x.submitTimeout = d }
}

// NewDispatcher reads files through fsys. Imports are reported on the bus
// when one is given, next to any listener.
func NewDispatcher(fsys afero.Fs, reg *Registry, exec Executor, opts ...Option) (*Dispatcher, error) {
	if fsys == nil {
		return nil, errors.New("importer: filesystem required")
	}
	if reg == nil {
		return nil, errors.New("importer: registry required")
	}
	if exec == nil {
		return nil, errors.New("importer: executor required")
	}
	d := &Dispatcher{
		fs:            fsys,
		reg:           reg,
		exec:          exec,
		boundary:      NopBoundary{},
		newID:         uuid.NewString,
		submitTimeout: defaultSubmitTimeout,
	}
	for _, o := range opts {
		if o != nil {
			o(d)
		}
	}
	switch {
	case d.listener == nil:
		d.listener = NewBusListener(d.bus, nil)
	case d.bus != nil:
		d.listener = MultiListener{d.listener, NewBusListener(d.bus, nil)}
	}
	return d, nil
}

// DeliveryFor adapts the dispatcher to a directory scan.
func (d *Dispatcher) DeliveryFor(ep Endpoint) fileagent.Delivery {
	return func(ctx context.Context, f fileagent.FileMeta) error {
		return d.Deliver(ctx, ep, f)
	}
}

// Deliver queues the import of one file. It waits at most the submit
// timeout for queue space.
func (d *Dispatcher) Deliver(ctx context.Context, ep Endpoint, f fileagent.FileMeta) error {
	if strings.TrimSpace(ep.Name) == "" {
		return errors.New("importer: endpoint name required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if d.submitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.submitTimeout)
		defer cancel()
	}
	err := d.exec.Submit(ctx, engine.Task{
		Name:    "import:" + ep.Name,
		Timeout: ep.Timeout,
		Opt:     engine.TaskOptions{Overlap: engine.OverlapAllow},
		Run: func(ctx context.Context) error {
			return d.Import(ctx, ep, f)
		},
	})
	if err != nil {
		return fmt.Errorf("queue import of %s: %w", f.Path, err)
	}
	return nil
}

// Import runs one import synchronously. Failures after the listener was
// told are not retried since a retry would repeat the reported records.
func (d *Dispatcher) Import(ctx context.Context, ep Endpoint, f fileagent.FileMeta) error {
	mimeType := MediaType(ep.MimeType)
	if mimeType == "" {
		mimeType = DetectMimeType(f.Name)
	}
	log := d.log.With(logx.Endpoint(ep.Name), logx.File(f.Name), logx.String("mime", mimeType))

	proc, ok := d.reg.Lookup(mimeType)
	if !ok {
		log.Warn("no processor registered for file")
		d.publish(eventbus.TopicImportUnhandled, UnhandledEvent{Endpoint: ep.Name, File: f.Name, Path: f.Path, MimeType: mimeType})
		return nil
	}

	file, err := d.fs.Open(f.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			log.Warn("file vanished before import", logx.Err(err))
			return engine.NoRetry(err)
		}
		if isBusy(err) {
			log.Debug("file busy, retrying later", logx.Err(err))
			return engine.RetryAfter(fmt.Errorf("open %s: %w", f.Path, err), busyRetryAfter)
		}
		return fmt.Errorf("open %s: %w", f.Path, err)
	}
	defer func() { _ = file.Close() }()

	id := d.newID()
	if t, ok := d.listener.(Tracker); ok {
		t.Track(ImportInfo{ID: id, Endpoint: ep.Name, File: f, MimeType: mimeType, Processor: proc.Name(), StopOnError: ep.StopOnError})
	}
	l := withBoundary(ctx, d.listener, d.boundary, log)

	log.Debug("import started", logx.String("import", id), logx.String("processor", proc.Name()))
	l.OnStart(id)
	err = proc.ProcessFile(ctx, id, mimeType, f, file, l)
	if err != nil && !errors.Is(err, ErrAborted) {
		l.OnError(id, "processor %s failed: %v", proc.Name(), err)
	}
	l.OnFinished(id)

	switch {
	case err == nil:
		log.Debug("import finished", logx.String("import", id))
		if ep.Imported != nil {
			ep.Imported(ctx, f)
		}
		return nil
	case errors.Is(err, ErrAborted):
		log.Warn("import aborted", logx.String("import", id))
		return nil
	default:
		return engine.NoRetry(fmt.Errorf("import %s: %w", f.Name, err))
	}
}

// isBusy reports a file locked by a writer that is still at work.
func isBusy(err error) bool {
	return errors.Is(err, syscall.EBUSY) || errors.Is(err, syscall.EAGAIN)
}

func (d *Dispatcher) publish(topic string, data any) {
	if d.bus != nil {
		d.bus.Publish(eventbus.Event{Type: topic, Time: time.Now(), Data: data})
	}
}
