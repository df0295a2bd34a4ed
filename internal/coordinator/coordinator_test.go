package coordinator

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/capgo/electron-updater-go/internal/bundleregistry"
	"github.com/capgo/electron-updater-go/internal/config"
	"github.com/capgo/electron-updater-go/internal/store"
)

type fakeHost struct {
	mu     sync.Mutex
	loaded []string
}

func (h *fakeHost) Reload(path string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.loaded = append(h.loaded, path)
}

func (h *fakeHost) last() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.loaded) == 0 {
		return ""
	}
	return h.loaded[len(h.loaded)-1]
}

func newTestCoordinator(t *testing.T, updateURL string) (*Coordinator, *fakeHost, *bundleregistry.Registry) {
	t.Helper()
	userData := t.TempDir()
	builtinPath := filepath.Join(t.TempDir(), "builtin", "index.html")
	if err := os.MkdirAll(filepath.Dir(builtinPath), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(builtinPath, []byte("<html></html>"), 0o644); err != nil {
		t.Fatal(err)
	}
	st := store.Open(filepath.Join(userData, "electron-updater-storage.json"))
	reg := bundleregistry.New(st, userData, builtinPath, true, true, false)

	cfg := &config.Config{
		UpdateURL:        updateURL,
		ResponseTimeout:  5 * time.Second,
		AppReadyTimeout:  200 * time.Millisecond,
		PeriodCheckDelay: 20 * time.Minute,
		AutoUpdate:       true,
		DirectUpdate:     config.DirectUpdateFalse,
	}
	host := &fakeHost{}
	return New(cfg, st, reg, host), host, reg
}

func buildZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range files {
		f, err := w.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		f.Write([]byte(content))
	}
	w.Close()
	return buf.Bytes()
}

func TestCheckForUpdates_noNewVersion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"error": "no_new_version_available"})
	}))
	defer srv.Close()

	c, _, _ := newTestCoordinator(t, srv.URL)
	var events []string
	c.OnEvent(func(event string, data map[string]any) { events = append(events, event) })

	if err := c.CheckForUpdates(t.Context()); err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0] != EventNoNeedUpdate {
		t.Fatalf("events = %v", events)
	}
}

func TestCheckForUpdates_breakingStopsBeforeDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"version": "2.0.0", "breaking": true})
	}))
	defer srv.Close()

	c, _, reg := newTestCoordinator(t, srv.URL)
	var events []string
	c.OnEvent(func(event string, data map[string]any) { events = append(events, event) })

	if err := c.CheckForUpdates(t.Context()); err != nil {
		t.Fatal(err)
	}
	want := map[string]bool{EventUpdateAvailable: true, EventBreakingAvailable: true, EventMajorAvailable: true}
	if len(events) != 3 {
		t.Fatalf("events = %v", events)
	}
	for _, e := range events {
		if !want[e] {
			t.Errorf("unexpected event %s", e)
		}
	}
	if reg.Current().ID != "builtin" {
		t.Error("expected no bundle installed for a breaking update")
	}
}

func TestCheckForUpdates_downloadsAndStagesNext(t *testing.T) {
	zipBytes := buildZip(t, map[string]string{"index.html": "<html>v2</html>"})
	var zipURL string

	mux := http.NewServeMux()
	mux.HandleFunc("/update", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"version": "2.0.0", "url": zipURL})
	})
	mux.HandleFunc("/bundle.zip", func(w http.ResponseWriter, r *http.Request) {
		w.Write(zipBytes)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	zipURL = srv.URL + "/bundle.zip"

	c, host, reg := newTestCoordinator(t, srv.URL+"/update")
	var events []string
	c.OnEvent(func(event string, data map[string]any) { events = append(events, event) })

	if err := c.CheckForUpdates(t.Context()); err != nil {
		t.Fatal(err)
	}

	nb, ok := reg.GetNextBundle()
	if !ok || nb.Version != "2.0.0" {
		t.Fatalf("expected a staged next bundle, got %+v, %v", nb, ok)
	}
	if host.last() != "" {
		t.Error("expected no reload until the staged update is applied")
	}

	found := false
	for _, e := range events {
		if e == EventDownloadComplete {
			found = true
		}
	}
	if !found {
		t.Errorf("expected downloadComplete event, got %v", events)
	}
}

func TestCheckForUpdates_checksumMismatchEmitsDownloadFailed(t *testing.T) {
	zipBytes := buildZip(t, map[string]string{"index.html": "<html>v2</html>"})
	var zipURL string

	mux := http.NewServeMux()
	mux.HandleFunc("/update", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"version": "2.0.0", "url": zipURL, "checksum": "deadbeef"})
	})
	mux.HandleFunc("/bundle.zip", func(w http.ResponseWriter, r *http.Request) {
		w.Write(zipBytes)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	zipURL = srv.URL + "/bundle.zip"

	c, host, reg := newTestCoordinator(t, srv.URL+"/update")
	var events []string
	c.OnEvent(func(event string, data map[string]any) { events = append(events, event) })

	if err := c.CheckForUpdates(t.Context()); err == nil {
		t.Fatal("expected checksum mismatch to surface an error")
	}

	found := false
	for _, e := range events {
		if e == EventDownloadFailed {
			found = true
		}
	}
	if !found {
		t.Errorf("expected downloadFailed event, got %v", events)
	}
	if reg.Current().ID != "builtin" {
		t.Error("expected currentBundleId unchanged on checksum mismatch")
	}
	if host.last() != "" {
		t.Error("expected no reload on checksum mismatch")
	}
}

func TestNotifyAppReady_cancelsWatchdog(t *testing.T) {
	c, host, _ := newTestCoordinator(t, "")
	c.armWatchdog()

	if err := c.NotifyAppReady(t.Context()); err != nil {
		t.Fatal(err)
	}
	time.Sleep(300 * time.Millisecond)
	if host.last() != "" {
		t.Error("expected watchdog rollback reload not to fire after NotifyAppReady")
	}
}

func TestWatchdog_rollsBackOnTimeout(t *testing.T) {
	c, host, reg := newTestCoordinator(t, "")
	zipBytes := buildZip(t, map[string]string{"index.html": "<html>v2</html>"})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.Write(zipBytes) }))
	defer srv.Close()

	bundle, err := c.dl.DownloadBundle(t.Context(), srv.URL, "2.0.0", "", "", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := reg.Set(bundle.ID); err != nil {
		t.Fatal(err)
	}

	c.armWatchdog()
	time.Sleep(400 * time.Millisecond)

	if reg.Current().ID != "builtin" {
		t.Fatalf("current = %s, want rollback to builtin", reg.Current().ID)
	}
	if host.last() == "" {
		t.Error("expected host reload after watchdog rollback")
	}
}
