package client

import (
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestFetchModulesDecodesTargets(t *testing.T) {
	requireLocalListener(t)
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/modules" {
			t.Errorf("expected path /api/modules, got %s", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `[{"path":"/etc/app/limits.yaml","listeners":1,"targets":[{"module":"limits","exports":{"max":5}}]}]`)
	}))
	t.Cleanup(server.Close)

	modules, err := FetchModules(server.Client(), server.URL+"/", "token")
	if err != nil {
		t.Fatalf("fetch modules: %v", err)
	}
	if gotAuth != "Bearer token" {
		t.Fatalf("expected auth header, got %q", gotAuth)
	}
	if len(modules) != 1 || modules[0].Listeners != 1 || len(modules[0].Targets) != 1 {
		t.Fatalf("unexpected modules: %+v", modules)
	}
	if modules[0].Targets[0].Exports["max"] != float64(5) {
		t.Fatalf("unexpected exports: %+v", modules[0].Targets[0].Exports)
	}
}

func TestReloadSendsModule(t *testing.T) {
	requireLocalListener(t)
	var gotModule, gotMethod string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotModule = r.URL.Query().Get("module")
		_, _ = io.WriteString(w, `{"status":"reloaded"}`)
	}))
	t.Cleanup(server.Close)

	if err := Reload(server.Client(), server.URL, "", "config/limits"); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if gotMethod != http.MethodPost || gotModule != "config/limits" {
		t.Fatalf("unexpected request %s module=%q", gotMethod, gotModule)
	}
}

func TestReloadHTTPError(t *testing.T) {
	requireLocalListener(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":"module not found"}`)
	}))
	t.Cleanup(server.Close)

	err := Reload(server.Client(), server.URL, "", "missing")
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected HTTPError, got %v", err)
	}
	if httpErr.StatusCode != http.StatusNotFound || httpErr.Message != "module not found" {
		t.Fatalf("unexpected error: %+v", httpErr)
	}
}

func TestRequestsRequireBaseURL(t *testing.T) {
	if _, err := FetchModules(nil, "", ""); err == nil {
		t.Fatalf("expected base URL error")
	}
	if err := Reload(nil, "http://localhost", "", " "); err == nil {
		t.Fatalf("expected module error")
	}
}

func requireLocalListener(t *testing.T) {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skip("local listener unavailable for httptest")
	}
	_ = listener.Close()
}
