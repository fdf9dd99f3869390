package fileagent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/spf13/afero"

	logx "github.com/etecture/generic-import-connector/pkg/logx"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func writeFile(t *testing.T, fs afero.Fs, path string, mtime time.Time) {
	t.Helper()
	if err := afero.WriteFile(fs, path, []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile(%s): %v", path, err)
	}
	if err := fs.Chtimes(path, mtime, mtime); err != nil {
		t.Fatalf("Chtimes(%s): %v", path, err)
	}
}

type recorder struct {
	names []string
	fail  map[string]bool
}

func (r *recorder) deliver(ctx context.Context, f FileMeta) error {
	r.names = append(r.names, f.Name)
	if r.fail[f.Name] {
		return errors.New("processor exploded")
	}
	return nil
}

func newScan(t *testing.T, fs afero.Fs, pattern string, r *recorder, now func() time.Time) *DirectoryScanWork {
	t.Helper()
	w, err := NewDirectoryScanWork(ScanConfig{Name: "inbox", Path: "/in", Pattern: pattern}, FSLister{Fs: fs}, r.deliver, logx.Nop(), now)
	if err != nil {
		t.Fatalf("NewDirectoryScanWork error: %v", err)
	}
	return w
}

func TestScanDeliversOldestFirst(t *testing.T) {
	t.Parallel()
	fs := afero.NewMemMapFs()
	_ = fs.MkdirAll("/in/sub", 0o755)
	writeFile(t, fs, "/in/a.csv", t0.Add(3*time.Minute))
	writeFile(t, fs, "/in/b.csv", t0.Add(1*time.Minute))
	writeFile(t, fs, "/in/c.csv", t0.Add(2*time.Minute))
	writeFile(t, fs, "/in/d.csv", t0.Add(1*time.Minute)) // ties with b; listing order wins
	writeFile(t, fs, "/in/notes.txt", t0)

	r := &recorder{}
	w := newScan(t, fs, `.*\.csv`, r, func() time.Time { return t0.Add(time.Hour) })
	if err := w.Run(context.Background()); err != nil {
		t.Fatalf("Run error: %v", err)
	}

	want := []string{"b.csv", "d.csv", "c.csv", "a.csv"}
	if len(r.names) != len(want) {
		t.Fatalf("delivered %v, want %v", r.names, want)
	}
	for i := range want {
		if r.names[i] != want[i] {
			t.Fatalf("delivered %v, want %v", r.names, want)
		}
	}
	res := w.LastScan()
	if res.Listed != 5 || res.Matched != 4 || res.Delivered != 4 {
		t.Fatalf("LastScan = %+v, want listed 5 matched 4 delivered 4", res)
	}
	if w.State() != Idle {
		t.Fatalf("State = %v, want idle", w.State())
	}
}

func TestScanSecondCycleSkipsSeenFiles(t *testing.T) {
	t.Parallel()
	fs := afero.NewMemMapFs()
	_ = fs.MkdirAll("/in", 0o755)
	writeFile(t, fs, "/in/old.csv", t0)

	clock := t0.Add(time.Minute)
	r := &recorder{}
	w := newScan(t, fs, "", r, func() time.Time { return clock })
	_ = w.Run(context.Background())

	clock = clock.Add(time.Minute)
	writeFile(t, fs, "/in/new.csv", clock.Add(-time.Second))
	_ = w.Run(context.Background())

	if len(r.names) != 2 || r.names[0] != "old.csv" || r.names[1] != "new.csv" {
		t.Fatalf("delivered %v, want [old.csv new.csv]", r.names)
	}
}

func TestScanMissingDirectoryIsEmptyCycle(t *testing.T) {
	t.Parallel()
	r := &recorder{}
	w := newScan(t, afero.NewMemMapFs(), "", r, func() time.Time { return t0 })
	if err := w.Run(context.Background()); err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if len(r.names) != 0 {
		t.Fatalf("delivered %v, want nothing", r.names)
	}
	res := w.LastScan()
	if res.ListError == "" {
		t.Fatal("LastScan.ListError empty, want listing error")
	}
	if !w.Filter().Watermark().Equal(t0) {
		t.Fatalf("watermark = %s, want reset to %s", w.Filter().Watermark(), t0)
	}
}

func TestScanContinuesAfterDeliveryError(t *testing.T) {
	t.Parallel()
	fs := afero.NewMemMapFs()
	_ = fs.MkdirAll("/in", 0o755)
	writeFile(t, fs, "/in/1.csv", t0)
	writeFile(t, fs, "/in/2.csv", t0.Add(time.Second))
	writeFile(t, fs, "/in/3.csv", t0.Add(2*time.Second))

	r := &recorder{fail: map[string]bool{"2.csv": true}}
	w := newScan(t, fs, "", r, func() time.Time { return t0.Add(time.Hour) })
	if err := w.Run(context.Background()); err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if len(r.names) != 3 {
		t.Fatalf("delivered %v, want all three attempted", r.names)
	}
	if res := w.LastScan(); res.Delivered != 2 || res.Failed != 1 {
		t.Fatalf("LastScan = %+v, want delivered 2 failed 1", res)
	}
}

func TestScanEmptyDirectoryDeliversNothing(t *testing.T) {
	t.Parallel()
	fs := afero.NewMemMapFs()
	_ = fs.MkdirAll("/in", 0o755)
	r := &recorder{}
	w := newScan(t, fs, "", r, nil)
	if err := w.Run(context.Background()); err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if len(r.names) != 0 {
		t.Fatalf("delivered %v, want nothing", r.names)
	}
}

func TestReleasedScanDoesNothing(t *testing.T) {
	t.Parallel()
	fs := afero.NewMemMapFs()
	_ = fs.MkdirAll("/in", 0o755)
	writeFile(t, fs, "/in/a.csv", t0)
	r := &recorder{}
	w := newScan(t, fs, "", r, nil)
	w.Release()
	w.Release()
	_ = w.Run(context.Background())
	if len(r.names) != 0 || !w.Released() {
		t.Fatalf("released scan delivered %v", r.names)
	}
}

func TestNewDirectoryScanWorkValidates(t *testing.T) {
	t.Parallel()
	deliver := func(ctx context.Context, f FileMeta) error { return nil }
	lister := FSLister{Fs: afero.NewMemMapFs()}
	tests := []struct {
		name string
		cfg  ScanConfig
	}{
		{name: "no name", cfg: ScanConfig{Path: "/in"}},
		{name: "no path", cfg: ScanConfig{Name: "x"}},
		{name: "bad pattern", cfg: ScanConfig{Name: "x", Path: "/in", Pattern: "(["}},
	}
	for _, tt := range tests {
		if _, err := NewDirectoryScanWork(tt.cfg, lister, deliver, logx.Nop(), nil); err == nil {
			t.Fatalf("%s: want error", tt.name)
		}
	}
}

// slowLister runs during after the listing was taken, as if the listing
// call itself took that long.
type slowLister struct {
	Lister
	during func()
}

func (l *slowLister) ListEntries(ctx context.Context, dir string) ([]FileMeta, error) {
	entries, err := l.Lister.ListEntries(ctx, dir)
	if l.during != nil {
		l.during()
		l.during = nil
	}
	return entries, err
}

func TestScanWatermarkIsCycleEnd(t *testing.T) {
	t.Parallel()
	fs := afero.NewMemMapFs()
	_ = fs.MkdirAll("/in", 0o755)
	clock := t0
	r := &recorder{}
	l := &slowLister{Lister: FSLister{Fs: fs}}
	// A file written while the listing ran, stamped before the cycle ended.
	l.during = func() {
		writeFile(t, fs, "/in/late.csv", t0.Add(30*time.Second))
		clock = t0.Add(time.Minute)
	}
	w, err := NewDirectoryScanWork(ScanConfig{Name: "inbox", Path: "/in"}, l, r.deliver, logx.Nop(), func() time.Time { return clock })
	if err != nil {
		t.Fatalf("NewDirectoryScanWork error: %v", err)
	}
	_ = w.Run(context.Background())
	res := w.LastScan()
	if !res.Started.Equal(t0) || !res.Watermark.Equal(t0.Add(time.Minute)) {
		t.Fatalf("LastScan started %s watermark %s, want %s and %s", res.Started, res.Watermark, t0, t0.Add(time.Minute))
	}

	writeFile(t, fs, "/in/after.csv", t0.Add(time.Minute+time.Millisecond))
	_ = w.Run(context.Background())
	if len(r.names) != 1 || r.names[0] != "after.csv" {
		t.Fatalf("delivered %v, want [after.csv]; late.csv falls behind the watermark", r.names)
	}
}
