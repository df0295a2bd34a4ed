// Package health provides a lightweight reachability check, used by the
// coordinator on the update URL before every update check so that a down
// endpoint fails the check before the update request is built and sent.
package health

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// CheckEndpoint fetches url with GET and returns nil if it answers 2xx.
func CheckEndpoint(ctx context.Context, url string) error {
	if url == "" {
		return fmt.Errorf("no URL configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	client := &http.Client{Timeout: 15 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("unreachable: %w", err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("returned HTTP %d", resp.StatusCode)
	}
	return nil
}
