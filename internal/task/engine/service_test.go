package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/etecture/generic-import-connector/internal/eventbus"
	logx "github.com/etecture/generic-import-connector/pkg/logx"
)

func startEngine(t *testing.T, cfg Config) *Service {
	t.Helper()
	cfg.Enabled = true
	s := New(cfg, logx.Nop(), eventbus.New())
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func lastHistory(s *Service) (HistoryItem, bool) {
	h := s.Snapshot().History
	if len(h) == 0 {
		return HistoryItem{}, false
	}
	return h[len(h)-1], true
}

func TestEngineRetriesUntilSuccess(t *testing.T) {
	t.Parallel()
	s := startEngine(t, Config{Workers: 1})
	var calls atomic.Int32
	err := s.Enqueue(Task{
		Name: "flaky",
		Opt:  TaskOptions{RetryMax: 3, RetryBase: time.Millisecond, RetryMaxDelay: 2 * time.Millisecond},
		Run: func(ctx context.Context) error {
			if calls.Add(1) < 3 {
				return errors.New("transient")
			}
			return nil
		},
	})
	if err != nil {
		t.Fatalf("Enqueue error: %v", err)
	}
	waitFor(t, "history", func() bool { _, ok := lastHistory(s); return ok })
	item, _ := lastHistory(s)
	if item.Error != "" || item.Attempts != 3 {
		t.Fatalf("history = %+v, want success after 3 attempts", item)
	}
}

func TestEngineNoRetryStopsImmediately(t *testing.T) {
	t.Parallel()
	s := startEngine(t, Config{Workers: 1})
	var calls atomic.Int32
	_ = s.Enqueue(Task{
		Name: "broken",
		Opt:  TaskOptions{RetryMax: 5, RetryBase: time.Millisecond},
		Run: func(ctx context.Context) error {
			calls.Add(1)
			return NoRetry(errors.New("bad file"))
		},
	})
	waitFor(t, "history", func() bool { _, ok := lastHistory(s); return ok })
	item, _ := lastHistory(s)
	if calls.Load() != 1 || item.Error != "bad file" {
		t.Fatalf("calls = %d history = %+v, want 1 call with error %q", calls.Load(), item, "bad file")
	}
}

func TestEngineRecoversPanics(t *testing.T) {
	t.Parallel()
	s := startEngine(t, Config{Workers: 1, RetryMax: -1})
	_ = s.Enqueue(Task{Name: "boom", Run: func(ctx context.Context) error { panic("kaboom") }})
	waitFor(t, "history", func() bool { _, ok := lastHistory(s); return ok })
	item, _ := lastHistory(s)
	if item.Error != "panic: kaboom" {
		t.Fatalf("error = %q, want %q", item.Error, "panic: kaboom")
	}

	// The worker survives and keeps draining the queue.
	done := make(chan struct{})
	_ = s.Enqueue(Task{Name: "after", Run: func(ctx context.Context) error { close(done); return nil }})
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not run the next task")
	}
}

func TestEngineSkipsOverlap(t *testing.T) {
	t.Parallel()
	s := startEngine(t, Config{Workers: 2})
	release := make(chan struct{})
	started := make(chan struct{})
	task := Task{Name: "scan:inbox", Opt: TaskOptions{Overlap: OverlapSkipIfRunning}, Run: func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	}}
	if err := s.Enqueue(task); err != nil {
		t.Fatalf("first Enqueue error: %v", err)
	}
	<-started
	if err := s.Enqueue(task); !errors.Is(err, ErrOverlapSkip) {
		t.Fatalf("second Enqueue = %v, want ErrOverlapSkip", err)
	}
	close(release)
	waitFor(t, "overlap gate release", func() bool { return !s.stateFor("", "scan:inbox").Busy() })
}

func TestEngineQueueFull(t *testing.T) {
	t.Parallel()
	s := startEngine(t, Config{Workers: 1, QueueSize: 1})
	release := make(chan struct{})
	defer close(release)
	started := make(chan struct{})
	block := func(ctx context.Context) error { <-release; return nil }

	_ = s.Enqueue(Task{Name: "a", Run: func(ctx context.Context) error { close(started); <-release; return nil }})
	<-started
	if err := s.Enqueue(Task{Name: "b", Run: block}); err != nil {
		t.Fatalf("Enqueue b error: %v", err)
	}
	if err := s.Enqueue(Task{Name: "c", Run: block}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("Enqueue c = %v, want ErrQueueFull", err)
	}
	if got := s.Snapshot().DroppedQueueFull; got != 1 {
		t.Fatalf("DroppedQueueFull = %d, want 1", got)
	}
	if s.stateFor("", "c").Busy() {
		t.Fatal("dropped task kept its overlap gate")
	}
}

func TestEngineRejectsWhenNotRunning(t *testing.T) {
	t.Parallel()
	noop := func(ctx context.Context) error { return nil }

	disabled := New(Config{}, logx.Nop(), nil)
	if err := disabled.Enqueue(Task{Name: "x", Run: noop}); !errors.Is(err, ErrDisabled) {
		t.Fatalf("disabled Enqueue = %v, want ErrDisabled", err)
	}

	idle := New(Config{Enabled: true}, logx.Nop(), nil)
	if err := idle.Enqueue(Task{Name: "x", Run: noop}); !errors.Is(err, ErrStopped) {
		t.Fatalf("idle Enqueue = %v, want ErrStopped", err)
	}
	if err := idle.Enqueue(Task{Name: " ", Run: noop}); !errors.Is(err, ErrInvalidTask) {
		t.Fatalf("blank name Enqueue = %v, want ErrInvalidTask", err)
	}
	if err := idle.Enqueue(Task{Name: "x"}); !errors.Is(err, ErrInvalidTask) {
		t.Fatalf("nil Run Enqueue = %v, want ErrInvalidTask", err)
	}
}

func TestEngineStopDrainsQueuedGates(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, Workers: 1, QueueSize: 4}, logx.Nop(), nil)
	s.Start(context.Background())
	release := make(chan struct{})
	started := make(chan struct{})
	_ = s.Enqueue(Task{Name: "busy", Run: func(ctx context.Context) error {
		close(started)
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	}})
	<-started
	if err := s.Enqueue(Task{Name: "waiting", Opt: TaskOptions{Overlap: OverlapSkipIfRunning}, Run: func(ctx context.Context) error { return nil }}); err != nil {
		t.Fatalf("Enqueue waiting error: %v", err)
	}
	if !s.stateFor("", "waiting").Busy() {
		t.Fatal("queued task does not hold its overlap gate")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(ctx)
	close(release)

	if s.stateFor("", "waiting").Busy() {
		t.Fatal("queued task still holds its overlap gate after Stop")
	}
	if err := s.Enqueue(Task{Name: "late", Run: func(ctx context.Context) error { return nil }}); !errors.Is(err, ErrStopped) {
		t.Fatalf("Enqueue after Stop = %v, want ErrStopped", err)
	}
}

func TestEngineCountsPerTaskName(t *testing.T) {
	t.Parallel()
	s := startEngine(t, Config{Workers: 1})
	done := make(chan struct{}, 3)
	ok := func(ctx context.Context) error { done <- struct{}{}; return nil }
	bad := func(ctx context.Context) error { done <- struct{}{}; return NoRetry(errors.New("malformed")) }

	for _, task := range []Task{{Name: "import:orders", Run: ok}, {Name: "import:orders", Run: bad}, {Name: "scan:orders", Run: ok}} {
		if err := s.Enqueue(task); err != nil {
			t.Fatalf("Enqueue %s error: %v", task.Name, err)
		}
	}
	for i := 0; i < 3; i++ {
		<-done
	}
	waitFor(t, "stats", func() bool {
		var runs uint64
		for _, st := range s.Snapshot().Tasks {
			runs += st.Runs
		}
		return runs == 3
	})

	tasks := s.Snapshot().Tasks
	if len(tasks) != 2 || tasks[0].Name != "import:orders" || tasks[1].Name != "scan:orders" {
		t.Fatalf("Tasks = %+v", tasks)
	}
	if tasks[0].Runs != 2 || tasks[0].Failures != 1 || tasks[0].LastError != "malformed" {
		t.Fatalf("import:orders stats = %+v", tasks[0])
	}
	if tasks[1].Failures != 0 || tasks[1].LastError != "" {
		t.Fatalf("scan:orders stats = %+v", tasks[1])
	}
}

func TestBackoffDelayHonorsHintAndCap(t *testing.T) {
	t.Parallel()
	opt := TaskOptions{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second}
	if got := backoffDelay(opt, 3, nil); got != 400*time.Millisecond {
		t.Fatalf("backoffDelay(3) = %v, want 400ms", got)
	}
	if got := backoffDelay(opt, 10, nil); got != time.Second {
		t.Fatalf("backoffDelay(10) = %v, want 1s", got)
	}
	hint := RetryAfter(errors.New("busy"), 5*time.Second)
	if got := backoffDelayWithHint(opt, 1, hint, nil); got != time.Second {
		t.Fatalf("backoffDelayWithHint = %v, want capped 1s", got)
	}
	if !IsNoRetry(NoRetry(errors.New("x"))) || IsNoRetry(errors.New("x")) {
		t.Fatal("IsNoRetry misclassified")
	}
}
