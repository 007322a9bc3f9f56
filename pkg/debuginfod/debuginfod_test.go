package debuginfod

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestGetDebuginfoFetchesAndCaches(t *testing.T) {
	const buildID = "abcd1234"
	const content = "fake debug info bytes"
	var requests int

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if r.URL.Path != "/buildid/"+buildID+"/debuginfo" {
			t.Errorf("unexpected request path %q", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte(content))
	}))
	defer srv.Close()

	dir := t.TempDir()
	c := &Client{Servers: []string{srv.URL}, HTTP: srv.Client(), CacheDir: dir}

	path, err := c.GetDebuginfo(context.Background(), buildID)
	if err != nil {
		t.Fatalf("GetDebuginfo: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading fetched file: %v", err)
	}
	if string(data) != content {
		t.Errorf("fetched content = %q, want %q", data, content)
	}
	if requests != 1 {
		t.Fatalf("server saw %d requests, want 1", requests)
	}

	// A second fetch must be served from the cache, not another request.
	if _, err := c.GetDebuginfo(context.Background(), buildID); err != nil {
		t.Fatalf("GetDebuginfo (cached): %v", err)
	}
	if requests != 1 {
		t.Errorf("server saw %d requests after a cache hit, want still 1", requests)
	}
}

func TestGetSourceUsesSourceArtifactPath(t *testing.T) {
	const buildID = "deadbeef"
	const sourcePath = "/usr/src/foo.c"

	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte("int main(){}"))
	}))
	defer srv.Close()

	c := &Client{Servers: []string{srv.URL}, HTTP: srv.Client(), CacheDir: t.TempDir()}
	if _, err := c.GetSource(context.Background(), buildID, sourcePath); err != nil {
		t.Fatalf("GetSource: %v", err)
	}
	want := "/buildid/" + buildID + "/source" + sourcePath
	if gotPath != want {
		t.Errorf("request path = %q, want %q", gotPath, want)
	}
}

func TestFetchFallsThroughServersOnError(t *testing.T) {
	const buildID = "cafef00d"

	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer bad.Close()
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer good.Close()

	c := &Client{Servers: []string{bad.URL, good.URL}, HTTP: good.Client(), CacheDir: t.TempDir()}
	path, err := c.GetDebuginfo(context.Background(), buildID)
	if err != nil {
		t.Fatalf("GetDebuginfo: %v", err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "ok" {
		t.Errorf("content = %q, want %q (expected fallback to second server)", data, "ok")
	}
}

func TestGetDebuginfoNoServersConfigured(t *testing.T) {
	c := &Client{CacheDir: t.TempDir()}
	if _, err := c.GetDebuginfo(context.Background(), "whatever"); err == nil {
		t.Error("expected an error with no servers configured, got nil")
	}
}

func TestCachePathLayout(t *testing.T) {
	const buildID = "1234"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("x"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	c := &Client{Servers: []string{srv.URL}, HTTP: srv.Client(), CacheDir: dir}
	path, err := c.GetDebuginfo(context.Background(), buildID)
	if err != nil {
		t.Fatalf("GetDebuginfo: %v", err)
	}
	want := filepath.Join(dir, buildID, "debuginfo")
	if path != want {
		t.Errorf("cache path = %q, want %q", path, want)
	}
}
