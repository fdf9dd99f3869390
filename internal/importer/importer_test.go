package importer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/etecture/generic-import-connector/internal/eventbus"
	"github.com/etecture/generic-import-connector/internal/fileagent"
	"github.com/etecture/generic-import-connector/internal/task/engine"
	"github.com/spf13/afero"
)

type call struct {
	method  string
	id      string
	payload any
	msg     string
}

type recListener struct {
	mu    sync.Mutex
	calls []call
	goOn  bool
}

func newRecListener() *recListener { return &recListener{goOn: true} }

func (r *recListener) add(c call) {
	r.mu.Lock()
	r.calls = append(r.calls, c)
	r.mu.Unlock()
}

func (r *recListener) OnStart(id string) { r.add(call{method: MethodOnStart, id: id}) }
func (r *recListener) OnProgress(id string, p any) {
	r.add(call{method: MethodOnProgress, id: id, payload: p})
}
func (r *recListener) OnWarning(id, msg string, args ...any) {
	r.add(call{method: MethodOnWarning, id: id, msg: fmt.Sprintf(msg, args...)})
}
func (r *recListener) OnError(id, msg string, args ...any) bool {
	r.add(call{method: MethodOnError, id: id, msg: fmt.Sprintf(msg, args...)})
	return r.goOn
}
func (r *recListener) OnFinished(id string) { r.add(call{method: MethodOnFinished, id: id}) }

func (r *recListener) methods() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.calls))
	for _, c := range r.calls {
		out = append(out, c.method)
	}
	return out
}

func (r *recListener) of(method string) []call {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []call
	for _, c := range r.calls {
		if c.method == method {
			out = append(out, c)
		}
	}
	return out
}

// inlineExec runs submitted tasks immediately.
type inlineExec struct {
	mu    sync.Mutex
	tasks []engine.Task
	errs  []error
	fail  error
}

func (e *inlineExec) Submit(ctx context.Context, t engine.Task) error {
	if e.fail != nil {
		return e.fail
	}
	err := t.Run(ctx)
	e.mu.Lock()
	e.tasks = append(e.tasks, t)
	e.errs = append(e.errs, err)
	e.mu.Unlock()
	return nil
}

func writeFile(t *testing.T, fsys afero.Fs, path, content string) fileagent.FileMeta {
	t.Helper()
	if err := afero.WriteFile(fsys, path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	name := path[strings.LastIndex(path, "/")+1:]
	return fileagent.FileMeta{Name: name, Path: path, ModifiedAt: time.Unix(100, 0), Size: int64(len(content))}
}

func newTestDispatcher(t *testing.T, fsys afero.Fs, exec Executor, opts ...Option) *Dispatcher {
	t.Helper()
	seq := 0
	opts = append([]Option{WithIDGenerator(func() string { seq++; return fmt.Sprintf("imp-%d", seq) })}, opts...)
	d, err := NewDispatcher(fsys, DefaultRegistry(), exec, opts...)
	if err != nil {
		t.Fatalf("NewDispatcher: %v", err)
	}
	return d
}

func TestDeliverRunsCSVImport(t *testing.T) {
	t.Parallel()
	fsys := afero.NewMemMapFs()
	f := writeFile(t, fsys, "/in/orders.csv", "id,qty\n1,4\n2,5\n")
	l := newRecListener()
	exec := &inlineExec{}
	d := newTestDispatcher(t, fsys, exec, WithListener(l))

	if err := d.DeliveryFor(Endpoint{Name: "orders"})(context.Background(), f); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if len(exec.tasks) != 1 || exec.tasks[0].Name != "import:orders" {
		t.Fatalf("tasks = %+v, want one import:orders", exec.tasks)
	}
	if exec.errs[0] != nil {
		t.Fatalf("task error = %v", exec.errs[0])
	}
	want := []string{MethodOnStart, MethodOnProgress, MethodOnProgress, MethodOnFinished}
	if got := l.methods(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("calls = %v, want %v", got, want)
	}
	rec := l.of(MethodOnProgress)[1].payload.(Record)
	if rec.Line != 3 || rec.Fields["id"] != "2" || rec.Fields["qty"] != "5" {
		t.Fatalf("second record = %+v", rec)
	}
	if id := l.of(MethodOnStart)[0].id; id != "imp-1" {
		t.Fatalf("import id = %q, want imp-1", id)
	}
}

func TestEndpointMimeTypeOverridesExtension(t *testing.T) {
	t.Parallel()
	fsys := afero.NewMemMapFs()
	f := writeFile(t, fsys, "/in/data.dat", "a\n\nb\n")
	l := newRecListener()
	d := newTestDispatcher(t, fsys, &inlineExec{}, WithListener(l))

	if err := d.Import(context.Background(), Endpoint{Name: "x", MimeType: "text/plain; charset=utf-8"}, f); err != nil {
		t.Fatalf("Import: %v", err)
	}
	got := l.of(MethodOnProgress)
	if len(got) != 2 {
		t.Fatalf("progress = %d, want 2", len(got))
	}
	if ln := got[1].payload.(Line); ln.Number != 3 || ln.Text != "b" {
		t.Fatalf("second line = %+v, want {3 b}", ln)
	}
}

func TestUnhandledMimeTypePublishes(t *testing.T) {
	t.Parallel()
	fsys := afero.NewMemMapFs()
	f := writeFile(t, fsys, "/in/blob.bin", "xx")
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(4)
	defer unsub()
	l := newRecListener()
	d := newTestDispatcher(t, fsys, &inlineExec{}, WithListener(l), WithBus(bus))

	if err := d.Import(context.Background(), Endpoint{Name: "x"}, f); err != nil {
		t.Fatalf("Import: %v", err)
	}
	if n := len(l.methods()); n != 0 {
		t.Fatalf("listener calls = %d, want 0", n)
	}
	select {
	case ev := <-ch:
		if ev.Type != eventbus.TopicImportUnhandled {
			t.Fatalf("event = %s, want %s", ev.Type, eventbus.TopicImportUnhandled)
		}
		if u := ev.Data.(UnhandledEvent); u.MimeType != octetStream {
			t.Fatalf("mime = %q, want %q", u.MimeType, octetStream)
		}
	default:
		t.Fatal("no import.unhandled event")
	}
}

func TestVanishedFileIsNotRetried(t *testing.T) {
	t.Parallel()
	d := newTestDispatcher(t, afero.NewMemMapFs(), &inlineExec{})
	err := d.Import(context.Background(), Endpoint{Name: "x"}, fileagent.FileMeta{Name: "gone.csv", Path: "/in/gone.csv"})
	if err == nil || !engine.IsNoRetry(err) {
		t.Fatalf("Import = %v, want no-retry error", err)
	}
}

// busyFs fails every open as a file still held by its writer.
type busyFs struct{ afero.Fs }

func (busyFs) Open(name string) (afero.File, error) {
	return nil, &fs.PathError{Op: "open", Path: name, Err: syscall.EBUSY}
}

func TestBusyFileRetriesWithHint(t *testing.T) {
	t.Parallel()
	d := newTestDispatcher(t, busyFs{afero.NewMemMapFs()}, &inlineExec{})
	err := d.Import(context.Background(), Endpoint{Name: "x"}, fileagent.FileMeta{Name: "a.csv", Path: "/in/a.csv"})
	if err == nil || engine.IsNoRetry(err) {
		t.Fatalf("Import = %v, want a retryable error", err)
	}
	var ra engine.RetryAfterError
	if !errors.As(err, &ra) || ra.RetryAfter() != busyRetryAfter {
		t.Fatalf("Import = %v, want retry hint %v", err, busyRetryAfter)
	}
	if !errors.Is(err, syscall.EBUSY) {
		t.Fatalf("Import = %v, want EBUSY in the chain", err)
	}
}

func TestProcessorFailureReportedOnce(t *testing.T) {
	t.Parallel()
	fsys := afero.NewMemMapFs()
	f := writeFile(t, fsys, "/in/bad.yaml", "a: 1\n---\nb: [1, 2\n")
	l := newRecListener()
	d := newTestDispatcher(t, fsys, &inlineExec{}, WithListener(l))

	err := d.Import(context.Background(), Endpoint{Name: "x"}, f)
	if !engine.IsNoRetry(err) {
		t.Fatalf("Import = %v, want no-retry error", err)
	}
	if n := len(l.of(MethodOnError)); n != 1 {
		t.Fatalf("OnError calls = %d, want 1", n)
	}
	if n := len(l.of(MethodOnProgress)); n != 1 {
		t.Fatalf("OnProgress calls = %d, want 1", n)
	}
	m := l.methods()
	if m[len(m)-1] != MethodOnFinished {
		t.Fatalf("last call = %s, want OnFinished", m[len(m)-1])
	}
}

func TestImportedHookRunsOnlyOnSuccess(t *testing.T) {
	t.Parallel()
	fsys := afero.NewMemMapFs()
	good := writeFile(t, fsys, "/in/ok.csv", "id\n1\n")
	bad := writeFile(t, fsys, "/in/bad.yaml", "b: [1, 2\n")
	stopped := writeFile(t, fsys, "/in/stop.csv", "id,qty\n1\n")

	var imported []string
	ep := Endpoint{Name: "x", Imported: func(_ context.Context, f fileagent.FileMeta) {
		imported = append(imported, f.Path)
	}}
	stopper := newRecListener()
	stopper.goOn = false
	tests := []struct {
		name string
		f    fileagent.FileMeta
		l    *recListener
		want int
	}{
		{name: "processed", f: good, l: newRecListener(), want: 1},
		{name: "processor failed", f: bad, l: newRecListener(), want: 1},
		{name: "aborted by listener", f: stopped, l: stopper, want: 1},
	}
	for _, tt := range tests {
		d := newTestDispatcher(t, fsys, &inlineExec{}, WithListener(tt.l))
		_ = d.Import(context.Background(), ep, tt.f)
		if len(imported) != tt.want {
			t.Fatalf("%s: imported = %v, want %d entries", tt.name, imported, tt.want)
		}
	}
	if imported[0] != good.Path {
		t.Fatalf("imported = %v, want %s", imported, good.Path)
	}
}

func TestListenerAndBusBothReport(t *testing.T) {
	t.Parallel()
	fsys := afero.NewMemMapFs()
	f := writeFile(t, fsys, "/in/a.csv", "id\n1\n")
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(16)
	defer unsub()
	l := newRecListener()
	d := newTestDispatcher(t, fsys, &inlineExec{}, WithListener(l), WithBus(bus))

	if err := d.Import(context.Background(), Endpoint{Name: "x"}, f); err != nil {
		t.Fatalf("Import: %v", err)
	}
	if n := len(l.of(MethodOnFinished)); n != 1 {
		t.Fatalf("listener OnFinished = %d, want 1", n)
	}
	var finished bool
	for len(ch) > 0 {
		if ev := <-ch; ev.Type == eventbus.TopicImportFinished {
			finished = true
		}
	}
	if !finished {
		t.Fatal("no import.finished on the bus")
	}
}

func TestListenerStopsCSVImport(t *testing.T) {
	t.Parallel()
	fsys := afero.NewMemMapFs()
	f := writeFile(t, fsys, "/in/a.csv", "id,qty\n1\n2,3\n")
	l := newRecListener()
	l.goOn = false
	d := newTestDispatcher(t, fsys, &inlineExec{}, WithListener(l))

	if err := d.Import(context.Background(), Endpoint{Name: "x"}, f); err != nil {
		t.Fatalf("Import = %v, want nil for an aborted import", err)
	}
	if n := len(l.of(MethodOnProgress)); n != 0 {
		t.Fatalf("progress = %d, want 0 after abort", n)
	}
	if n := len(l.of(MethodOnError)); n != 1 {
		t.Fatalf("OnError calls = %d, want 1", n)
	}
}

func TestDeliverSubmitError(t *testing.T) {
	t.Parallel()
	d := newTestDispatcher(t, afero.NewMemMapFs(), &inlineExec{fail: engine.ErrQueueFull})
	err := d.Deliver(context.Background(), Endpoint{Name: "x"}, fileagent.FileMeta{Name: "a", Path: "/a"})
	if !errors.Is(err, engine.ErrQueueFull) {
		t.Fatalf("Deliver = %v, want ErrQueueFull", err)
	}
	if err := d.Deliver(context.Background(), Endpoint{}, fileagent.FileMeta{}); err == nil {
		t.Fatal("Deliver without endpoint name = nil, want error")
	}
}

type recBoundary struct {
	mu     sync.Mutex
	log    []string
	failOn string
}

func (b *recBoundary) Begin(_ context.Context, method string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.log = append(b.log, "begin:"+method)
	if method == b.failOn {
		return errors.New("no transaction")
	}
	return nil
}

func (b *recBoundary) End(_ context.Context, method string, err error) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	tag := "end:" + method
	if err != nil {
		tag += "!"
	}
	b.log = append(b.log, tag)
	return nil
}

func TestBoundaryWrapsEveryNotification(t *testing.T) {
	t.Parallel()
	fsys := afero.NewMemMapFs()
	f := writeFile(t, fsys, "/in/a.txt", "one\n")
	l := newRecListener()
	b := &recBoundary{failOn: MethodOnStart}
	d := newTestDispatcher(t, fsys, &inlineExec{}, WithListener(l), WithBoundary(b))

	if err := d.Import(context.Background(), Endpoint{Name: "x"}, f); err != nil {
		t.Fatalf("Import: %v", err)
	}
	want := "begin:OnStart,end:OnStart!,begin:OnProgress,end:OnProgress,begin:OnFinished,end:OnFinished"
	if got := strings.Join(b.log, ","); got != want {
		t.Fatalf("boundary = %s, want %s", got, want)
	}
	// OnStart was skipped because Begin failed.
	if got := strings.Join(l.methods(), ","); got != "OnProgress,OnFinished" {
		t.Fatalf("listener calls = %s", got)
	}
}

func TestNewDispatcherValidates(t *testing.T) {
	t.Parallel()
	if _, err := NewDispatcher(nil, NewRegistry(), &inlineExec{}); err == nil {
		t.Fatal("nil fs accepted")
	}
	if _, err := NewDispatcher(afero.NewMemMapFs(), nil, &inlineExec{}); err == nil {
		t.Fatal("nil registry accepted")
	}
	if _, err := NewDispatcher(afero.NewMemMapFs(), NewRegistry(), nil); err == nil {
		t.Fatal("nil executor accepted")
	}
}
