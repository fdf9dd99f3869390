package diag

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	logx "github.com/etecture/generic-import-connector/pkg/logx"
)

type importsCall struct {
	endpoint string
	limit    int
}

func newTestService(cfg Config, calls *[]importsCall) *Service {
	return New(cfg, Sources{
		Status: func() any { return map[string]int{"imports": 2} },
		Imports: func(_ context.Context, endpoint string, limit int) (any, error) {
			*calls = append(*calls, importsCall{endpoint, limit})
			if endpoint == "broken" {
				return nil, errors.New("store closed")
			}
			return []string{"a.csv"}, nil
		},
	}, logx.Nop())
}

func get(t *testing.T, h http.Handler, target string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestStatusAndImports(t *testing.T) {
	t.Parallel()

	var calls []importsCall
	h := newTestService(Config{}, &calls).Handler()

	rec := get(t, h, "/healthz", nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("/healthz = %d %q", rec.Code, rec.Body.String())
	}

	rec = get(t, h, "/status", nil)
	var status map[string]int
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil || status["imports"] != 2 {
		t.Fatalf("/status = %q (%v)", rec.Body.String(), err)
	}

	rec = get(t, h, "/imports?endpoint=orders&limit=5", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "a.csv") {
		t.Fatalf("/imports = %d %q", rec.Code, rec.Body.String())
	}
	get(t, h, "/imports", nil)
	if len(calls) != 2 || calls[0] != (importsCall{"orders", 5}) || calls[1] != (importsCall{"", 50}) {
		t.Fatalf("imports calls = %+v", calls)
	}

	if rec := get(t, h, "/imports?limit=0", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("/imports?limit=0 = %d, want 400", rec.Code)
	}
	if rec := get(t, h, "/imports?endpoint=broken", nil); rec.Code != http.StatusInternalServerError {
		t.Fatalf("/imports broken = %d, want 500", rec.Code)
	}
	if rec := get(t, h, "/debug/pprof/", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("pprof without Pprof = %d, want 404", rec.Code)
	}
}

func TestMissingSourcesAnswer404(t *testing.T) {
	t.Parallel()

	h := New(Config{}, Sources{}, logx.Logger{}).Handler()
	for _, p := range []string{"/status", "/imports"} {
		if rec := get(t, h, p, nil); rec.Code != http.StatusNotFound {
			t.Fatalf("%s = %d, want 404", p, rec.Code)
		}
	}
}

func TestTokenAuth(t *testing.T) {
	t.Parallel()

	var calls []importsCall
	h := newTestService(Config{Token: "s3cret", Pprof: true}, &calls).Handler()

	tests := []struct {
		name   string
		target string
		header map[string]string
		want   int
	}{
		{"healthz is open", "/healthz", nil, http.StatusOK},
		{"missing token", "/status", nil, http.StatusUnauthorized},
		{"wrong token", "/status?token=nope", nil, http.StatusUnauthorized},
		{"query token", "/status?token=s3cret", nil, http.StatusOK},
		{"bearer token", "/status", map[string]string{"Authorization": "Bearer s3cret"}, http.StatusOK},
		{"pprof guarded", "/debug/pprof/", nil, http.StatusUnauthorized},
		{"pprof index", "/debug/pprof/?token=s3cret", nil, http.StatusOK},
	}
	for _, tc := range tests {
		if rec := get(t, h, tc.target, tc.header); rec.Code != tc.want {
			t.Fatalf("%s: code = %d, want %d", tc.name, rec.Code, tc.want)
		}
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()

	tests := []struct {
		addr string
		want bool
	}{
		{"127.0.0.1:6061", true},
		{"localhost:6061", true},
		{"[::1]:6061", true},
		{":6061", false},
		{"0.0.0.0:6061", false},
		{"10.0.0.1:6061", false},
		{"nonsense", false},
	}
	for _, tc := range tests {
		if got := isLoopbackAddr(tc.addr); got != tc.want {
			t.Fatalf("isLoopbackAddr(%q) = %v, want %v", tc.addr, got, tc.want)
		}
	}
}

func TestStartServesAndStops(t *testing.T) {
	t.Parallel()

	var calls []importsCall
	s := newTestService(Config{Enabled: true, Addr: "127.0.0.1:0"}, &calls)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	var addr string
	deadline := time.Now().Add(3 * time.Second)
	for addr == "" && time.Now().Before(deadline) {
		addr = s.Addr()
		time.Sleep(10 * time.Millisecond)
	}
	if addr == "" {
		t.Fatalf("server never bound")
	}
	resp, err := http.Get("http://" + addr + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /healthz = %d", resp.StatusCode)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer stopCancel()
	s.Reconfigure(stopCtx, Config{Enabled: false})
	if s.Addr() != "" || s.Enabled() {
		t.Fatalf("server still bound at %q after disable", s.Addr())
	}
}
