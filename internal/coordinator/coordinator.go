// Package coordinator implements component H: the top-level orchestrator
// that wires Crypto, Downloader, BundleRegistry, DelayController,
// ChannelClient, and StatsClient together, drives the periodic
// check-for-updates cycle, and runs the app-ready watchdog.
package coordinator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/capgo/electron-updater-go/internal/bundleregistry"
	"github.com/capgo/electron-updater-go/internal/channelclient"
	"github.com/capgo/electron-updater-go/internal/config"
	"github.com/capgo/electron-updater-go/internal/delay"
	"github.com/capgo/electron-updater-go/internal/downloader"
	"github.com/capgo/electron-updater-go/internal/health"
	"github.com/capgo/electron-updater-go/internal/httpclient"
	"github.com/capgo/electron-updater-go/internal/metrics"
	"github.com/capgo/electron-updater-go/internal/safeurl"
	"github.com/capgo/electron-updater-go/internal/statsclient"
	"github.com/capgo/electron-updater-go/internal/store"
	"github.com/capgo/electron-updater-go/internal/updateinfo"
)

// Event names emitted via Coordinator.OnEvent (spec §4.H).
const (
	EventNoNeedUpdate      = "noNeedUpdate"
	EventUpdateAvailable   = "updateAvailable"
	EventBreakingAvailable = "breakingAvailable"
	EventMajorAvailable    = "majorAvailable"
	EventDownload          = "download"
	EventDownloadComplete  = "downloadComplete"
	EventDownloadFailed    = "downloadFailed"
	EventUpdateFailed      = "updateFailed"
	EventAppReady          = "appReady"
	EventAppReloaded       = "appReloaded"
)

// Host is the set of callbacks the integrating application supplies so the
// Coordinator can drive navigation without depending on any GUI toolkit.
type Host interface {
	// Reload instructs the host to load the bundle at path.
	Reload(path string)
}

// checkResponse is the update endpoint's response shape (spec §6).
type checkResponse struct {
	Version    string                     `json:"version"`
	URL        string                     `json:"url"`
	Checksum   string                     `json:"checksum"`
	SessionKey string                     `json:"sessionKey"`
	Manifest   []downloader.ManifestEntry `json:"manifest"`
	Breaking   bool                       `json:"breaking"`
	Error      string                     `json:"error"`
}

// Coordinator is the update engine's top-level entry point.
type Coordinator struct {
	cfg  *config.Config
	st   *store.Store
	reg  *bundleregistry.Registry
	dl   *downloader.Downloader
	dc   *delay.Controller
	ch   *channelclient.Client
	stat *statsclient.Client
	host Host

	httpClient *http.Client

	mu          sync.Mutex
	listeners   []func(event string, data map[string]any)
	periodic    *time.Timer
	watchdog    *time.Timer
	initialized bool
}

// New wires every component in the order spec §4.H mandates: Crypto is
// implicit (bundlecrypto is stateless, called directly by Downloader).
func New(cfg *config.Config, st *store.Store, reg *bundleregistry.Registry, host Host) *Coordinator {
	return &Coordinator{
		cfg:        cfg,
		st:         st,
		reg:        reg,
		dl:         downloader.New(st, reg, cfg.ResponseTimeout),
		dc:         delay.New(st, cfg.VersionBuild),
		ch:         channelclient.New(cfg, st),
		stat:       statsclient.New(cfg, st),
		host:       host,
		httpClient: httpclient.Default(cfg.ResponseTimeout),
	}
}

// OnEvent registers a listener invoked for every emitted event.
func (c *Coordinator) OnEvent(fn func(event string, data map[string]any)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

func (c *Coordinator) emit(event string, data map[string]any) {
	c.mu.Lock()
	listeners := append([]func(string, map[string]any){}, c.listeners...)
	c.mu.Unlock()
	for _, fn := range listeners {
		fn(event, data)
	}
}

// Initialize performs the single-shot, idempotent startup sequence of spec §4.H.
func (c *Coordinator) Initialize(ctx context.Context) error {
	c.mu.Lock()
	if c.initialized {
		c.mu.Unlock()
		return nil
	}
	c.initialized = true
	c.mu.Unlock()

	if c.cfg.PersistModifyUrl {
		c.overlayPersistedURLs()
	}

	if err := c.dc.OnAppStart(); err != nil {
		log.Printf("coordinator: OnAppStart: %v", err)
	}

	if orphanDirs, orphanRecords := c.reg.Reconcile(); len(orphanDirs) > 0 || len(orphanRecords) > 0 {
		log.Printf("coordinator: reconcile found %d orphan dirs, %d orphan records", len(orphanDirs), len(orphanRecords))
	}

	applied, err := c.reg.ApplyPendingUpdate()
	if err != nil {
		log.Printf("coordinator: initial ApplyPendingUpdate: %v", err)
	} else if applied {
		c.Reload()
	}

	if c.cfg.SchedulingEnabled() {
		c.schedulePeriodicCheck(ctx)
	}
	return nil
}

func (c *Coordinator) overlayPersistedURLs() {
	if url := c.st.GetUpdateURL(); url != "" {
		c.cfg.UpdateURL = url
	}
	if url := c.st.GetChannelURL(); url != "" {
		c.cfg.ChannelURL = url
	}
	if url := c.st.GetStatsURL(); url != "" {
		c.cfg.StatsURL = url
	}
	if c.cfg.AllowModifyAppId {
		if id := c.st.GetAppID(); id != "" {
			c.cfg.AppID = id
		}
	}
}

func (c *Coordinator) schedulePeriodicCheck(ctx context.Context) {
	c.mu.Lock()
	if c.periodic != nil {
		c.periodic.Stop()
	}
	c.periodic = time.AfterFunc(c.cfg.PeriodCheckDelay, func() {
		if err := c.CheckForUpdates(ctx); err != nil {
			log.Printf("coordinator: periodic check: %v", err)
		}
		c.schedulePeriodicCheck(ctx)
	})
	c.mu.Unlock()
}

// Shutdown cancels outstanding timers (spec §4.H step 7).
func (c *Coordinator) Shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.periodic != nil {
		c.periodic.Stop()
	}
	if c.watchdog != nil {
		c.watchdog.Stop()
	}
}

// OnBackground wires the host-window blur hook: record the window as
// backgrounded for the delay gate and attempt to apply any staged update.
func (c *Coordinator) OnBackground(ctx context.Context) {
	if err := c.dc.OnBackground(); err != nil {
		log.Printf("coordinator: OnBackground: %v", err)
		return
	}
	c.attemptGatedApply(ctx)
}

// OnForeground wires the host-window focus hook.
func (c *Coordinator) OnForeground() {
	if err := c.dc.OnForeground(); err != nil {
		log.Printf("coordinator: OnForeground: %v", err)
	}
}

func (c *Coordinator) attemptGatedApply(ctx context.Context) {
	if !c.dc.AreConditionsSatisfied() {
		return
	}
	applied, err := c.reg.ApplyPendingUpdate()
	if err != nil {
		log.Printf("coordinator: gated apply: %v", err)
		return
	}
	if applied {
		c.Reload()
	}
}

// CheckForUpdates implements spec §4.H's checkForUpdates.
func (c *Coordinator) CheckForUpdates(ctx context.Context) error {
	if c.cfg.UpdateURL == "" {
		return fmt.Errorf("coordinator: no update URL configured")
	}
	if !safeurl.IsHTTPOrHTTPS(c.cfg.UpdateURL) {
		return fmt.Errorf("coordinator: invalid update URL")
	}
	if err := health.CheckEndpoint(ctx, c.cfg.UpdateURL); err != nil {
		metrics.ChecksTotal.WithLabelValues("unreachable").Inc()
		return fmt.Errorf("coordinator: update endpoint unreachable: %w", err)
	}

	payload, err := updateinfo.Build(c.cfg, c.st)
	if err != nil {
		metrics.ChecksTotal.WithLabelValues("error").Inc()
		return err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		metrics.ChecksTotal.WithLabelValues("error").Inc()
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.UpdateURL, bytes.NewReader(body))
	if err != nil {
		metrics.ChecksTotal.WithLabelValues("error").Inc()
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", httpclient.UserAgent(c.cfg.PluginVersion, c.cfg.AppID, c.cfg.VersionOS))

	resp, err := httpclient.DoWithRetry(ctx, c.httpClient, req, httpclient.UpdateServiceRetryPolicy)
	if err != nil {
		metrics.ChecksTotal.WithLabelValues("error").Inc()
		return err
	}
	defer resp.Body.Close()

	var result checkResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		metrics.ChecksTotal.WithLabelValues("error").Inc()
		return err
	}

	if result.Error == "no_new_version_available" {
		metrics.ChecksTotal.WithLabelValues("no_new_version").Inc()
		c.emit(EventNoNeedUpdate, nil)
		return nil
	}

	metrics.ChecksTotal.WithLabelValues("update_available").Inc()
	c.emit(EventUpdateAvailable, map[string]any{"version": result.Version})

	if result.Breaking {
		c.emit(EventBreakingAvailable, map[string]any{"version": result.Version})
		c.emit(EventMajorAvailable, map[string]any{"version": result.Version})
		return nil
	}

	return c.downloadAndStage(ctx, result)
}

func (c *Coordinator) downloadAndStage(ctx context.Context, result checkResponse) error {
	start := time.Now()
	onProgress := func(percent int) {
		c.emit(EventDownload, map[string]any{"version": result.Version, "percent": percent})
	}
	bundle, err := c.dl.DownloadBundle(ctx, result.URL, result.Version, result.Checksum, result.SessionKey, result.Manifest, onProgress)
	metrics.DownloadDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.DownloadsTotal.WithLabelValues("error").Inc()
		c.emit(EventDownloadFailed, map[string]any{"version": result.Version, "error": err.Error()})
		c.stat.Send(ctx, statsclient.DownloadFail, result.Version, c.cfg.VersionName, "", err.Error())
		return err
	}
	metrics.DownloadsTotal.WithLabelValues("success").Inc()
	c.emit(EventDownloadComplete, map[string]any{"version": bundle.Version, "bundleId": bundle.ID})
	c.stat.Send(ctx, statsclient.DownloadComplete, result.Version, c.cfg.VersionName, bundle.ID, "")

	direct := c.cfg.NormalizedDirectUpdate()
	if direct == config.DirectUpdateAlways {
		if err := c.reg.Set(bundle.ID); err != nil {
			return err
		}
		c.Reload()
		return nil
	}
	return c.reg.Next(bundle.ID)
}

// Reload implements spec §4.H's reload(): points the host at the current
// bundle and arms the app-ready watchdog.
func (c *Coordinator) Reload() {
	path := c.reg.GetCurrentBundlePath()
	if c.host != nil {
		c.host.Reload(path)
	}
	c.emit(EventAppReloaded, map[string]any{"path": path})
	c.armWatchdog()
}

func (c *Coordinator) armWatchdog() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.watchdog != nil {
		c.watchdog.Stop()
	}
	c.watchdog = time.AfterFunc(c.cfg.AppReadyTimeout, c.onWatchdogExpired)
}

func (c *Coordinator) onWatchdogExpired() {
	metrics.AppReadyWatchdogTimeouts.Inc()
	metrics.RollbacksTotal.Inc()
	ctx := context.Background()
	if err := c.reg.Rollback(); err != nil {
		log.Printf("coordinator: watchdog rollback: %v", err)
	}
	c.stat.Send(ctx, statsclient.SetFail, c.cfg.VersionName, "", "", "app-ready watchdog expired")
	c.emit(EventUpdateFailed, map[string]any{"reason": "app-ready watchdog expired"})

	path := c.reg.GetCurrentBundlePath()
	if c.host != nil {
		c.host.Reload(path)
	}
}

// NotifyAppReady implements spec §4.H's notifyAppReady().
func (c *Coordinator) NotifyAppReady(ctx context.Context) error {
	c.mu.Lock()
	if c.watchdog != nil {
		c.watchdog.Stop()
		c.watchdog = nil
	}
	c.mu.Unlock()

	if err := c.reg.MarkBundleSuccessful(); err != nil {
		return err
	}
	c.emit(EventAppReady, nil)
	c.stat.Send(ctx, statsclient.Set, c.cfg.VersionName, "", c.reg.Current().ID, "")
	return nil
}
