package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"wol-go-home/internal/configstore"
	"wol-go-home/internal/hostdir"
	"wol-go-home/internal/metrics"
	"wol-go-home/internal/notify"
	"wol-go-home/internal/pinning"
	"wol-go-home/internal/runner"
	"wol-go-home/internal/wake"
)

type stubRunner struct {
	mu    sync.Mutex
	calls [][]string
	err   error
}

func (r *stubRunner) Run(_ context.Context, path string, args []string) (runner.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, append([]string{path}, args...))
	if r.err != nil {
		return runner.Result{Stderr: "ioctl failed", ExitCode: 1}, r.err
	}
	return runner.Result{Stdout: "Sendto worked"}, nil
}

type stubHints map[string]hostdir.Hint

func (h stubHints) HostHints(context.Context) (map[string]hostdir.Hint, error) { return h, nil }

type testEnv struct {
	srv     *Server
	backend *configstore.BoltBackend
	run     *stubRunner
	bus     *notify.Bus
}

func setupTestServer(t *testing.T, apiKey string, opts ...ServerOption) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	backend, err := configstore.NewBoltBackend(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { backend.Close() })
	open := func() configstore.Client { return configstore.NewSession(backend, nil) }

	if err := backend.PutCommitted(hostdir.LeaseConfig, []configstore.Section{
		{ID: "l1", Type: hostdir.LeaseSectionType, Options: map[string][]string{
			"name": {"nas"}, "ip": {"10.0.0.2"}, "mac": {"aa:bb:cc:00:00:02"},
		}},
	}); err != nil {
		t.Fatal(err)
	}

	bus := notify.NewBus(logger)
	loader := hostdir.NewLoader(open, stubHints{
		"AA:BB:CC:00:00:01": {Name: "desktop", IPv4: []string{"10.0.0.10"}},
	}, logger)

	run := &stubRunner{}
	avail := wake.Availability{Etherwake: true, EtherwakePath: wake.EtherwakePath, WolPath: wake.WolPath}
	disp := wake.NewDispatcher(avail, wake.Config{Interface: "br-lan"}, run, bus, logger)

	wf := pinning.NewWorkflow(open, loader, bus, logger, pinning.WithOptions(pinning.Options{
		SettleDelay:    time.Millisecond,
		PollGrace:      time.Millisecond,
		PollInterval:   time.Millisecond,
		DeferredReload: time.Millisecond,
	}))

	if apiKey != "" {
		opts = append(opts, WithAPIKey(apiKey))
	}
	srv, err := NewServer(Services{
		Directory: loader,
		Wake:      disp,
		Pins:      wf,
		Store:     open,
		Events:    bus,
	}, logger, opts...)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { srv.Stop() })

	return &testEnv{srv: srv, backend: backend, run: run, bus: bus}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
	}
	w := httptest.NewRecorder()
	e.srv.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return v
}

func TestAPIListHosts(t *testing.T) {
	env := setupTestServer(t, "")

	w := env.do(t, "GET", "/api/hosts", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	dir := decode[hostdir.Directory](t, w)
	if len(dir.Static) != 1 || dir.Static[0].MAC != "AA:BB:CC:00:00:02" {
		t.Errorf("static = %+v", dir.Static)
	}
	if len(dir.Discovered) != 1 || dir.Discovered[0].Name != "desktop" {
		t.Errorf("discovered = %+v", dir.Discovered)
	}
}

func TestAPIWakeHost(t *testing.T) {
	env := setupTestServer(t, "")

	for _, path := range []string{"/api/hosts/aa:bb:cc:00:00:01/wake", "/api/hosts/aabbcc000001/wake"} {
		w := env.do(t, "POST", path, "")
		if w.Code != http.StatusOK {
			t.Fatalf("%s: status = %d, body = %s", path, w.Code, w.Body.String())
		}
		out := decode[wake.Outcome](t, w)
		if !out.Sent || out.Name != "desktop" {
			t.Errorf("%s: outcome = %+v", path, out)
		}
	}

	want := []string{wake.EtherwakePath, "-D", "-i", "br-lan", "AA:BB:CC:00:00:01"}
	if got := env.run.calls[0]; strings.Join(got, " ") != strings.Join(want, " ") {
		t.Errorf("argv = %v, want %v", got, want)
	}
}

func TestAPIWakeFormErrors(t *testing.T) {
	env := setupTestServer(t, "")

	tests := []struct {
		name string
		body string
		want int
	}{
		{"no target", `{}`, http.StatusBadRequest},
		{"invalid mac", `{"mac":"not-a-mac"}`, http.StatusBadRequest},
		{"bad interface", `{"mac":"AA:BB:CC:00:00:01","interface":"eth0; reboot"}`, http.StatusBadRequest},
		{"unknown executable", `{"mac":"AA:BB:CC:00:00:01","executable":"/bin/sh"}`, http.StatusBadRequest},
		{"backend missing", `{"mac":"AA:BB:CC:00:00:01","executable":"wol"}`, http.StatusBadGateway},
		{"bad json", `{`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, "POST", "/api/wake", tt.body)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d, body = %s", w.Code, tt.want, w.Body.String())
			}
		})
	}
	if len(env.run.calls) != 0 {
		t.Errorf("runner called %d times, want 0", len(env.run.calls))
	}
}

func TestAPIWakeExecutionFailure(t *testing.T) {
	env := setupTestServer(t, "")
	env.run.err = errors.New("exit status 1")

	w := env.do(t, "POST", "/api/wake", `{"mac":"aa-bb-cc-00-00-09","broadcast":true}`)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadGateway)
	}
	body := decode[map[string]json.RawMessage](t, w)
	if _, ok := body["detail"]; !ok {
		t.Errorf("missing detail in %v", body)
	}
}

func TestAPIPinLifecycle(t *testing.T) {
	env := setupTestServer(t, "")

	w := env.do(t, "POST", "/api/pins", `{"name":"desktop","mac":"aa:bb:cc:00:00:01"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("pin: status = %d, body = %s", w.Code, w.Body.String())
	}
	res := decode[pinning.Result](t, w)
	if res.Outcome != pinning.OutcomeDone || res.Directory == nil || len(res.Directory.Pinned) != 1 {
		t.Fatalf("pin result = %+v", res)
	}

	if w := env.do(t, "POST", "/api/pins", `{"name":"again","mac":"AA:BB:CC:00:00:01"}`); w.Code != http.StatusConflict {
		t.Errorf("duplicate pin: status = %d, want %d", w.Code, http.StatusConflict)
	}

	if w := env.do(t, "DELETE", "/api/pins/aabbcc000001", ""); w.Code != http.StatusOK {
		t.Errorf("unpin: status = %d, body = %s", w.Code, w.Body.String())
	}
	if w := env.do(t, "DELETE", "/api/pins/aabbcc000001", ""); w.Code != http.StatusNotFound {
		t.Errorf("second unpin: status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestAPIReplacePinsValidation(t *testing.T) {
	env := setupTestServer(t, "")

	w := env.do(t, "PUT", "/api/pins", `{"rows":[{"name":"a","mac":"AA:BB:CC:00:00:01"},{"mac":"zz"}]}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	var body struct {
		Error string              `json:"error"`
		Rows  []pinning.RowError `json:"rows"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if len(body.Rows) != 2 || body.Rows[0].Line != 2 {
		t.Errorf("rows = %+v, want two errors on row 2", body.Rows)
	}

	staged, err := env.backend.Staged()
	if err != nil {
		t.Fatal(err)
	}
	if len(staged) != 0 {
		t.Errorf("store touched: %v", staged)
	}
}

func TestAPIStagedLeaseBlocksPinning(t *testing.T) {
	env := setupTestServer(t, "")

	w := env.do(t, "POST", "/api/leases", `{"name":"tv","ip":"10.0.0.7","macs":["aa:bb:cc:00:00:07"]}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("lease: status = %d, body = %s", w.Code, w.Body.String())
	}

	changes := decode[map[string][]configstore.Change](t, env.do(t, "GET", "/api/changes", ""))
	if len(changes[hostdir.LeaseConfig]) == 0 {
		t.Fatalf("changes = %v, want staged dhcp edits", changes)
	}

	w = env.do(t, "POST", "/api/pins", `{"name":"tv","mac":"aa:bb:cc:00:00:07"}`)
	if w.Code != http.StatusConflict {
		t.Fatalf("pin with foreign changes: status = %d, want %d", w.Code, http.StatusConflict)
	}

	if w := env.do(t, "DELETE", "/api/changes/dhcp", ""); w.Code != http.StatusOK {
		t.Fatalf("revert: status = %d", w.Code)
	}
	if w := env.do(t, "POST", "/api/pins", `{"name":"tv","mac":"aa:bb:cc:00:00:07"}`); w.Code != http.StatusOK {
		t.Errorf("pin after revert: status = %d, body = %s", w.Code, w.Body.String())
	}
}

func TestAPIAddLeaseValidation(t *testing.T) {
	env := setupTestServer(t, "")

	tests := []struct {
		name string
		body string
	}{
		{"no name", `{"ip":"10.0.0.7","macs":["aa:bb:cc:00:00:07"]}`},
		{"bad ip", `{"name":"tv","ip":"10.0.0","macs":["aa:bb:cc:00:00:07"]}`},
		{"no macs", `{"name":"tv","ip":"10.0.0.7"}`},
		{"bad mac", `{"name":"tv","ip":"10.0.0.7","macs":["aa:bb"]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := env.do(t, "POST", "/api/leases", tt.body); w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
			}
		})
	}
}

func TestAPIApplyChanges(t *testing.T) {
	env := setupTestServer(t, "")
	env.do(t, "POST", "/api/leases", `{"name":"tv","ip":"10.0.0.7","macs":["aa:bb:cc:00:00:07"]}`)

	if w := env.do(t, "POST", "/api/changes/apply", ""); w.Code != http.StatusAccepted {
		t.Fatalf("apply: status = %d", w.Code)
	}
	dir := decode[hostdir.Directory](t, env.do(t, "GET", "/api/hosts", ""))
	if _, ok := dir.Lookup("AA:BB:CC:00:00:07"); !ok {
		t.Error("applied lease missing from directory")
	}
}

func TestAPIBackends(t *testing.T) {
	env := setupTestServer(t, "")

	w := env.do(t, "GET", "/api/backends", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body struct {
		Availability wake.Availability `json:"availability"`
		Selected     wake.Backend      `json:"selected"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if !body.Availability.Etherwake || body.Selected.Kind != wake.KindEtherwake {
		t.Errorf("backends = %+v", body)
	}
}

func TestIndexPage(t *testing.T) {
	env := setupTestServer(t, "", WithVersion("1.2.3"))

	w := env.do(t, "GET", "/", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	for _, want := range []string{"desktop", "nas", "AA:BB:CC:00:00:02", "1.2.3"} {
		if !strings.Contains(w.Body.String(), want) {
			t.Errorf("page missing %q", want)
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := setupTestServer(t, "", WithMetrics(metrics.NewRegistry()))

	env.do(t, "GET", "/api/hosts", "")
	w := env.do(t, "GET", "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `route="GET /api/hosts"`) {
		t.Errorf("request metric missing:\n%s", w.Body.String())
	}
}

func TestAuthMiddleware(t *testing.T) {
	env := setupTestServer(t, "secret-key")

	tests := []struct {
		name string
		key  string
		want int
	}{
		{"correct", "secret-key", http.StatusOK},
		{"missing", "", http.StatusUnauthorized},
		{"wrong", "wrong-key", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/hosts", nil)
			if tt.key != "" {
				req.Header.Set("X-API-Key", tt.key)
			}
			w := httptest.NewRecorder()
			env.srv.ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}

	// Pages stay reachable without the header.
	if w := env.do(t, "GET", "/", ""); w.Code != http.StatusOK {
		t.Errorf("index: status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestCORSOrigins(t *testing.T) {
	env := setupTestServer(t, "", WithAllowedOrigins([]string{"http://router.lan"}))

	req := httptest.NewRequest("OPTIONS", "/api/pins", nil)
	req.Header.Set("Origin", "http://router.lan")
	w := httptest.NewRecorder()
	env.srv.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Errorf("preflight: status = %d, want %d", w.Code, http.StatusNoContent)
	}

	req = httptest.NewRequest("POST", "/api/wake", bytes.NewBufferString(`{"mac":"AA:BB:CC:00:00:01"}`))
	req.Header.Set("Origin", "http://evil.example")
	w = httptest.NewRecorder()
	env.srv.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Errorf("foreign origin: status = %d, want %d", w.Code, http.StatusForbidden)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{hostdir.ErrInvalidAddress, http.StatusBadRequest},
		{wake.ErrNoTargetSpecified, http.StatusBadRequest},
		{&pinning.ValidationError{}, http.StatusBadRequest},
		{pinning.ErrForeignChangesPending, http.StatusConflict},
		{pinning.ErrAlreadyPinned, http.StatusConflict},
		{pinning.ErrNotPinned, http.StatusNotFound},
		{pinning.ErrPersistFailed, http.StatusBadGateway},
		{wake.ErrExecutionFailed, http.StatusBadGateway},
		{pinning.ErrNotConverged, http.StatusBadGateway},
		{errors.New("other"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
