// Package statsclient implements component G: fire-and-forget telemetry
// POSTs to the stats endpoint. Failures are swallowed by design — telemetry
// never affects the update path.
package statsclient

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"net/http"

	"github.com/capgo/electron-updater-go/internal/config"
	"github.com/capgo/electron-updater-go/internal/httpclient"
	"github.com/capgo/electron-updater-go/internal/safeurl"
	"github.com/capgo/electron-updater-go/internal/store"
	"github.com/capgo/electron-updater-go/internal/updateinfo"
)

// Action enumerates the recognized stats actions (spec §4.G).
type Action string

const (
	DownloadComplete Action = "download_complete"
	DownloadFail     Action = "download_fail"
	Set              Action = "set"
	SetFail          Action = "set_fail"
)

// Client posts telemetry events to cfg.StatsURL.
type Client struct {
	cfg    *config.Config
	st     *store.Store
	client *http.Client
}

// New constructs a Client. Client methods are no-ops when cfg.StatsURL is empty.
func New(cfg *config.Config, st *store.Store) *Client {
	return &Client{cfg: cfg, st: st, client: httpclient.Default(cfg.ResponseTimeout)}
}

// Send posts {...info, action, version_name, old_version_name, bundle_id?, message?}
// and swallows any failure.
func (c *Client) Send(ctx context.Context, action Action, versionName, oldVersionName, bundleID, message string) {
	if c.cfg.StatsURL == "" {
		return
	}
	if !safeurl.IsHTTPOrHTTPS(c.cfg.StatsURL) {
		log.Printf("statsclient: invalid stats URL, dropping %s event", action)
		return
	}

	payload, err := updateinfo.Build(c.cfg, c.st)
	if err != nil {
		log.Printf("statsclient: build info payload: %v", err)
		return
	}
	base, err := json.Marshal(payload)
	if err != nil {
		log.Printf("statsclient: marshal info payload: %v", err)
		return
	}
	var body map[string]any
	if err := json.Unmarshal(base, &body); err != nil {
		log.Printf("statsclient: unmarshal info payload: %v", err)
		return
	}
	body["action"] = action
	body["version_name"] = versionName
	if oldVersionName != "" {
		body["old_version_name"] = oldVersionName
	}
	if bundleID != "" {
		body["bundle_id"] = bundleID
	}
	if message != "" {
		body["message"] = message
	}

	data, err := json.Marshal(body)
	if err != nil {
		log.Printf("statsclient: marshal event: %v", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.StatsURL, bytes.NewReader(data))
	if err != nil {
		log.Printf("statsclient: build request: %v", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", httpclient.UserAgent(c.cfg.PluginVersion, c.cfg.AppID, c.cfg.VersionOS))

	resp, err := c.client.Do(req)
	if err != nil {
		log.Printf("statsclient: %s event failed: %v", action, err)
		return
	}
	defer resp.Body.Close()
}
