package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/etecture/generic-import-connector/internal/importer"
	"github.com/etecture/generic-import-connector/internal/storage"
	"github.com/spf13/afero"
)

func writeAppConfig(t *testing.T, dir, body string) string {
	t.Helper()
	p := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestNewAppRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeAppConfig(t, dir, `
scheduler:
  enabled: true
imports:
  - name: orders
    path: /in
    schedule: every:1m
    dedup_window: 1h
`)
	_, err := NewApp(path)
	if err == nil || !strings.Contains(err.Error(), "requires storage") {
		t.Fatalf("NewApp() error = %v, want dedup/storage rejection", err)
	}
}

func TestAppImportsFilesEndToEnd(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	fs := afero.NewMemMapFs()
	if err := afero.WriteFile(fs, "/in/orders/a.csv", []byte("id,name\n1,a\n2,b\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := afero.WriteFile(fs, "/in/orders/skip.tmp", []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	path := writeAppConfig(t, dir, `
logging:
  level: warn
scheduler:
  enabled: true
storage:
  driver: file
  path: `+filepath.Join(dir, "history")+`
imports:
  - name: orders
    path: /in/orders
    pattern: '.*\.csv'
    schedule: every:1s
`)

	a, err := NewAppWithOptions(path, Options{Fs: fs})
	if err != nil {
		t.Fatalf("NewAppWithOptions() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	var recs []storage.ImportRecord
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		recs, err = a.Store().RecentImports(context.Background(), "orders", 10)
		if err != nil {
			t.Fatalf("RecentImports() error = %v", err)
		}
		if len(recs) > 0 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if len(recs) == 0 {
		t.Fatalf("no import recorded")
	}
	r := recs[0]
	if r.File != "/in/orders/a.csv" || r.Status != importer.StatusOK || r.Progress != 2 || r.Processor != "csv" {
		t.Fatalf("import record = %+v", r)
	}

	// The watermark moved past a.csv, so later scans must not import it again.
	time.Sleep(2200 * time.Millisecond)
	recs, _ = a.Store().RecentImports(context.Background(), "orders", 10)
	if len(recs) != 1 {
		t.Fatalf("imports = %d after repeated scans, want 1", len(recs))
	}

	if st := a.Connector().Statuses(); len(st) != 1 || st[0].Spec.Name != "orders" {
		t.Fatalf("Statuses() = %+v", st)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	if err := a.Stop(stopCtx, StopAppStop); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	select {
	case <-a.Done():
	default:
		t.Fatalf("Done() not closed after Stop")
	}
	if err := a.Stop(stopCtx, StopAppStop); err != nil {
		t.Fatalf("second Stop() error = %v", err)
	}
}

func TestStatusSnapshot(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeAppConfig(t, dir, `
scheduler:
  enabled: true
imports:
  - name: notes
    path: /in/notes
    schedule: "@hourly"
  - name: off
    path: /in/off
    schedule: "@hourly"
    enabled: false
`)
	a, err := NewAppWithOptions(path, Options{Fs: afero.NewMemMapFs()})
	if err != nil {
		t.Fatalf("NewAppWithOptions() error = %v", err)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Stop(ctx, StopAppStop)
	}()

	st := a.Status()
	if len(st.Imports) != 1 || st.Imports[0].Spec.Name != "notes" {
		t.Fatalf("Status().Imports = %+v, want only notes", st.Imports)
	}
	if len(st.Scheduler.Items) != 1 || st.Scheduler.Items[0].Name != "scan:notes" {
		t.Fatalf("Status().Scheduler = %+v", st.Scheduler)
	}
	if st.Storage {
		t.Fatalf("Status().Storage = true without storage config")
	}
	if src := a.diagSources(); src.Imports != nil {
		t.Fatalf("imports source set without storage")
	}
}
