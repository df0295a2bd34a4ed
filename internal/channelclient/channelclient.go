// Package channelclient implements component F: setting, unsetting,
// reading, and listing update channels against the remote channel
// endpoint, with local-cache fallback when the endpoint is unreachable.
package channelclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/capgo/electron-updater-go/internal/config"
	"github.com/capgo/electron-updater-go/internal/httpclient"
	"github.com/capgo/electron-updater-go/internal/safeurl"
	"github.com/capgo/electron-updater-go/internal/store"
	"github.com/capgo/electron-updater-go/internal/updateinfo"
)

// SetResult is the normalized record returned by SetChannel/UnsetChannel.
type SetResult struct {
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
	Channel string `json:"channel,omitempty"`
}

// GetResult is the normalized record returned by GetChannel.
type GetResult struct {
	Channel  string `json:"channel"`
	AllowSet bool   `json:"allowSet"`
	Status   string `json:"status"`
}

// Channel describes one entry of ListChannels' response.
type Channel struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Public       bool   `json:"public"`
	AllowSelfSet bool   `json:"allow_self_set"`
}

var okStatuses = map[string]bool{"ok": true, "success": true}

// Client talks to the remote channel endpoint (spec §4.F).
type Client struct {
	cfg    *config.Config
	st     *store.Store
	client *http.Client
}

// New constructs a Client against cfg.ChannelURL.
func New(cfg *config.Config, st *store.Store) *Client {
	return &Client{cfg: cfg, st: st, client: httpclient.Default(cfg.ResponseTimeout)}
}

// SetChannel POSTs {action:"set", channel, ...info}. Local state is
// mutated only when the server reports an ok/success status.
func (c *Client) SetChannel(ctx context.Context, channel string, triggerAutoUpdate bool) (SetResult, error) {
	if c.cfg.ChannelURL == "" {
		return SetResult{}, fmt.Errorf("channelclient: no channel URL configured")
	}
	body := map[string]any{"action": "set", "channel": channel, "triggerAutoUpdate": triggerAutoUpdate}
	var result SetResult
	if err := c.postInfo(ctx, body, &result); err != nil {
		return SetResult{}, err
	}
	if okStatuses[result.Status] {
		if err := c.st.SetChannel(channel); err != nil {
			return result, err
		}
	}
	return result, nil
}

// UnsetChannel POSTs {action:"unset", ...info}, ignores any server error,
// and always clears the local channel.
func (c *Client) UnsetChannel(ctx context.Context, triggerAutoUpdate bool) SetResult {
	result := SetResult{}
	if c.cfg.ChannelURL != "" {
		body := map[string]any{"action": "unset", "triggerAutoUpdate": triggerAutoUpdate}
		_ = c.postInfo(ctx, body, &result)
	}
	_ = c.st.SetChannel("")
	return result
}

// GetChannel issues a GET with query-encoded info; on any transport
// failure it falls back to the locally cached channel.
func (c *Client) GetChannel(ctx context.Context) GetResult {
	fallback := GetResult{Channel: c.localChannelOrDefault(), AllowSet: true, Status: "ok"}
	if c.cfg.ChannelURL == "" {
		return fallback
	}
	payload, err := updateinfo.Build(c.cfg, c.st)
	if err != nil {
		return fallback
	}
	url := c.cfg.ChannelURL + "?" + payload.QueryValues().Encode()
	if !safeurl.IsHTTPOrHTTPS(url) {
		return fallback
	}

	var result GetResult
	if err := c.getJSON(ctx, url, &result); err != nil {
		return fallback
	}
	return result
}

// ListChannels issues a GET with action=list; on failure returns an empty list.
func (c *Client) ListChannels(ctx context.Context) []Channel {
	if c.cfg.ChannelURL == "" {
		return nil
	}
	payload, err := updateinfo.Build(c.cfg, c.st)
	if err != nil {
		return nil
	}
	values := payload.QueryValues()
	values.Set("action", "list")
	url := c.cfg.ChannelURL + "?" + values.Encode()
	if !safeurl.IsHTTPOrHTTPS(url) {
		return nil
	}

	var result struct {
		Channels []Channel `json:"channels"`
	}
	if err := c.getJSON(ctx, url, &result); err != nil {
		return nil
	}
	return result.Channels
}

func (c *Client) localChannelOrDefault() string {
	if local := c.st.GetChannel(); local != "" {
		return local
	}
	return c.cfg.DefaultChannel
}

func (c *Client) postInfo(ctx context.Context, extra map[string]any, out any) error {
	if !safeurl.IsHTTPOrHTTPS(c.cfg.ChannelURL) {
		return fmt.Errorf("channelclient: invalid channel URL")
	}
	payload, err := updateinfo.Build(c.cfg, c.st)
	if err != nil {
		return err
	}
	body, err := mergeJSON(payload, extra)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.ChannelURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", httpclient.UserAgent(c.cfg.PluginVersion, c.cfg.AppID, c.cfg.VersionOS))

	resp, err := httpclient.DoWithRetry(ctx, c.client, req, httpclient.UpdateServiceRetryPolicy)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", httpclient.UserAgent(c.cfg.PluginVersion, c.cfg.AppID, c.cfg.VersionOS))

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("channelclient: GET %s: HTTP %d", url, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

// mergeJSON flattens payload's fields with extra on top, matching the
// "...info" spread shown throughout spec §4.F/§6.
func mergeJSON(payload updateinfo.Payload, extra map[string]any) ([]byte, error) {
	base, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	var merged map[string]any
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for k, v := range extra {
		merged[k] = v
	}
	return json.Marshal(merged)
}
