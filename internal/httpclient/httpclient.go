package httpclient

import (
	"fmt"
	"log"
	"net/http"
	"time"

	"golang.org/x/net/http2"
)

// Default returns an HTTP client with a hard response timeout so that a dead
// update/channel/stats endpoint never hangs the coordinator's main loop.
// Each call builds its own transport, which negotiates HTTP/2 when the
// remote supports it.
func Default(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	transport := &http.Transport{
		ResponseHeaderTimeout: timeout,
		ExpectContinueTimeout: 5 * time.Second,
		IdleConnTimeout:       30 * time.Second,
	}
	if err := http2.ConfigureTransport(transport); err != nil {
		log.Printf("httpclient: http2 not configured: %v", err)
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}

// UserAgent builds the header value sent on every update/channel/stats
// request, so a proxy or server-side log can distinguish this updater from
// a browser client hitting the same endpoint.
func UserAgent(pluginVersion, appID, versionOS string) string {
	if appID == "" {
		appID = "missing-app-id"
	}
	return fmt.Sprintf("CapacitorUpdater/%s (%s) electron/%s", pluginVersion, appID, versionOS)
}

// ForDownload returns a client tuned for large-body bundle/manifest transfers:
// no overall timeout (zips can be large) but a ResponseHeaderTimeout so a
// silent upstream is still detected quickly.
func ForDownload(responseHeaderTimeout time.Duration) *http.Client {
	if responseHeaderTimeout <= 0 {
		responseHeaderTimeout = 20 * time.Second
	}
	transport := &http.Transport{
		ResponseHeaderTimeout: responseHeaderTimeout,
		ExpectContinueTimeout: 5 * time.Second,
		IdleConnTimeout:       90 * time.Second,
	}
	if err := http2.ConfigureTransport(transport); err != nil {
		log.Printf("httpclient: http2 not configured: %v", err)
	}
	return &http.Client{
		Transport: transport,
	}
}
