package statsclient

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/capgo/electron-updater-go/internal/config"
	"github.com/capgo/electron-updater-go/internal/store"
)

func TestSend_postsExpectedFields(t *testing.T) {
	var mu sync.Mutex
	var received map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		json.NewDecoder(r.Body).Decode(&received)
	}))
	defer srv.Close()

	st := store.Open(filepath.Join(t.TempDir(), "electron-updater-storage.json"))
	cfg := &config.Config{StatsURL: srv.URL, ResponseTimeout: 5 * time.Second, AppID: "com.example.app"}
	c := New(cfg, st)

	c.Send(t.Context(), DownloadComplete, "1.2.0", "1.1.0", "bundle-1", "")

	mu.Lock()
	defer mu.Unlock()
	if received["action"] != string(DownloadComplete) {
		t.Errorf("action = %v", received["action"])
	}
	if received["version_name"] != "1.2.0" || received["old_version_name"] != "1.1.0" {
		t.Errorf("unexpected version fields: %v", received)
	}
	if received["bundle_id"] != "bundle-1" {
		t.Errorf("bundle_id = %v", received["bundle_id"])
	}
	if received["platform"] != "android" {
		t.Errorf("platform = %v, want android", received["platform"])
	}
}

func TestSend_noopWhenStatsURLEmpty(t *testing.T) {
	st := store.Open(filepath.Join(t.TempDir(), "electron-updater-storage.json"))
	cfg := &config.Config{}
	c := New(cfg, st)
	c.Send(t.Context(), DownloadFail, "1.0.0", "", "", "boom") // must not panic or block
}

func TestSend_swallowsTransportFailure(t *testing.T) {
	st := store.Open(filepath.Join(t.TempDir(), "electron-updater-storage.json"))
	cfg := &config.Config{StatsURL: "http://127.0.0.1:1", ResponseTimeout: 200 * time.Millisecond}
	c := New(cfg, st)
	c.Send(t.Context(), SetFail, "1.0.0", "", "", "unreachable") // must not panic
}
