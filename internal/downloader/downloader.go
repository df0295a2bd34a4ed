// Package downloader implements component C: HTTP fetch of a bundle zip,
// checksum verification, optional session-key decryption, zip-slip-safe
// extraction, and a manifest-driven delta pass with cache reuse.
package downloader

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/time/rate"

	"github.com/capgo/electron-updater-go/internal/bundlecrypto"
	"github.com/capgo/electron-updater-go/internal/bundleregistry"
	"github.com/capgo/electron-updater-go/internal/httpclient"
	"github.com/capgo/electron-updater-go/internal/safeurl"
	"github.com/capgo/electron-updater-go/internal/store"
)

// ManifestEntry is one per-file delta update entry (spec §4.C, GLOSSARY "Manifest update").
type ManifestEntry struct {
	FileName    string `json:"file_name"`
	DownloadURL string `json:"download_url"`
	FileHash    string `json:"file_hash,omitempty"`
}

// ProgressFunc receives a percent complete in [0, 100]. May be called many
// times; implementations should be cheap and non-blocking.
type ProgressFunc func(percent int)

// Downloader drives the download/verify/extract/delta pipeline.
type Downloader struct {
	st              *store.Store
	reg             *bundleregistry.Registry
	client          *http.Client
	manifestLimiter *rate.Limiter
	responseTimeout time.Duration
}

// New constructs a Downloader. responseTimeout governs both the zip fetch
// and every manifest-entry fetch (spec §6 responseTimeout).
func New(st *store.Store, reg *bundleregistry.Registry, responseTimeout time.Duration) *Downloader {
	if responseTimeout <= 0 {
		responseTimeout = 20 * time.Second
	}
	return &Downloader{
		st:              st,
		reg:             reg,
		client:          httpclient.ForDownload(responseTimeout),
		manifestLimiter: rate.NewLimiter(rate.Limit(8), 8), // paces manifest fetches, complements GlobalHostSem
		responseTimeout: responseTimeout,
	}
}

// DownloadBundle implements spec §4.C's full algorithm and returns the
// resulting bundle on success. On any failure the bundle directory and
// store record are removed before the error is returned.
func (d *Downloader) DownloadBundle(ctx context.Context, url, version, checksum, sessionKeyB64 string, manifest []ManifestEntry, progress ProgressFunc) (bundleregistry.Bundle, error) {
	if !safeurl.IsHTTPOrHTTPS(url) {
		return bundleregistry.Bundle{}, fmt.Errorf("downloader: invalid URL scheme: %s", url)
	}

	id := bundlecrypto.GenerateBundleID()
	bundleDir := d.reg.BundleDir(id)
	wwwDir := d.reg.WWWDir(id)
	zipPath := filepath.Join(bundleDir, "bundle.zip")

	if err := os.MkdirAll(bundleDir, 0o755); err != nil {
		return bundleregistry.Bundle{}, err
	}
	if err := d.st.Set(id, store.BundleInfo{Version: version, Status: store.StatusDownloading}); err != nil {
		d.cleanup(id, bundleDir)
		return bundleregistry.Bundle{}, err
	}

	finalChecksum, err := d.run(ctx, id, bundleDir, wwwDir, zipPath, url, checksum, sessionKeyB64, manifest, progress)
	if err != nil {
		d.cleanup(id, bundleDir)
		return bundleregistry.Bundle{}, err
	}

	info := store.BundleInfo{
		Version:    version,
		Downloaded: time.Now().UTC(),
		Checksum:   finalChecksum,
		Status:     store.StatusSuccess,
	}
	if err := d.st.Set(id, info); err != nil {
		d.cleanup(id, bundleDir)
		return bundleregistry.Bundle{}, err
	}
	log.Printf("downloader: bundle %s (version %s) ready, checksum=%s", id, version, finalChecksum)
	return bundleregistry.Bundle{ID: id, Version: version, Downloaded: info.Downloaded, Checksum: finalChecksum, Status: store.StatusSuccess}, nil
}

func (d *Downloader) run(ctx context.Context, id, bundleDir, wwwDir, zipPath, url, checksum, sessionKeyB64 string, manifest []ManifestEntry, progress ProgressFunc) (string, error) {
	if err := d.fetchToFile(ctx, url, zipPath, progress); err != nil {
		return "", err
	}

	sessionKey, _ := base64.StdEncoding.DecodeString(strings.TrimSpace(sessionKeyB64))

	expected := ""
	if checksum != "" {
		if len(sessionKey) > 0 {
			if plain, ok := bundlecrypto.DecryptChecksum(checksum, sessionKey); ok {
				expected = plain
			} else {
				expected = checksum
			}
		} else {
			expected = checksum
		}
	}

	var finalChecksum string
	if expected != "" {
		ok, err := bundlecrypto.VerifyFile(zipPath, expected)
		if err != nil {
			return "", err
		}
		if !ok {
			got, _ := bundlecrypto.HashFile(zipPath)
			return "", ErrChecksumFailed{Want: expected, Got: got}
		}
		finalChecksum = expected
	} else {
		digest, err := bundlecrypto.HashFile(zipPath)
		if err != nil {
			return "", err
		}
		finalChecksum = digest
	}

	if len(sessionKey) > 0 {
		if err := bundlecrypto.DecryptFile(zipPath, sessionKey); err != nil {
			return "", ErrDecryptionFailed{Cause: err}
		}
	}

	if err := extractZip(zipPath, wwwDir, progress); err != nil {
		return "", err
	}
	if err := os.Remove(zipPath); err != nil && !os.IsNotExist(err) {
		log.Printf("downloader: remove zip for %s: %v", id, err)
	}

	if len(manifest) > 0 {
		if err := d.applyManifest(ctx, wwwDir, manifest, progress); err != nil {
			return "", err
		}
	}

	if _, err := os.Stat(filepath.Join(wwwDir, "index.html")); err != nil {
		return "", fmt.Errorf("downloader: extracted bundle missing www/index.html: %w", err)
	}

	return finalChecksum, nil
}

// fetchToFile downloads url to destPath, following redirects (bounded by
// the client's default CheckRedirect, capped at 10 hops) with the
// configured response timeout as a hard deadline.
func (d *Downloader) fetchToFile(ctx context.Context, url, destPath string, progress ProgressFunc) error {
	ctx, cancel := context.WithTimeout(ctx, d.responseTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("downloader: fetch %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("downloader: fetch %s: HTTP %d", url, resp.StatusCode)
	}

	f, err := os.Create(destPath)
	if err != nil {
		return err
	}
	defer f.Close()

	counter := &progressCounter{total: resp.ContentLength, report: progress}
	if _, err := io.Copy(f, io.TeeReader(resp.Body, counter)); err != nil {
		return fmt.Errorf("downloader: write %s: %w", destPath, err)
	}
	log.Printf("downloader: fetched %s (%s)", url, humanize.Bytes(uint64(counter.written)))
	return nil
}

// applyManifest performs the per-file delta pass of spec §4.C: cache hits
// against existing, hash-matching files are skipped; everything else is
// fetched, Brotli-decompressed if applicable, written atomically, and
// verified against file_hash when supplied.
func (d *Downloader) applyManifest(ctx context.Context, wwwDir string, manifest []ManifestEntry, progress ProgressFunc) error {
	total := len(manifest)
	for i, entry := range manifest {
		target, err := safeJoin(wwwDir, entry.FileName)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}

		if cacheHit(target, entry.FileHash) {
			reportProgress(progress, i+1, total)
			continue
		}

		if err := d.manifestLimiter.Wait(ctx); err != nil {
			return err
		}
		if err := d.fetchManifestEntry(ctx, entry, target); err != nil {
			return err
		}
		reportProgress(progress, i+1, total)
	}
	return nil
}

func cacheHit(target, wantHash string) bool {
	fi, err := os.Stat(target)
	if err != nil || fi.IsDir() {
		return false
	}
	if wantHash == "" {
		return true
	}
	ok, err := bundlecrypto.VerifyFile(target, wantHash)
	return err == nil && ok
}

func (d *Downloader) fetchManifestEntry(ctx context.Context, entry ManifestEntry, target string) error {
	if !safeurl.IsHTTPOrHTTPS(entry.DownloadURL) {
		return fmt.Errorf("downloader: invalid manifest entry URL: %s", entry.DownloadURL)
	}
	ctx, cancel := context.WithTimeout(ctx, d.responseTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, entry.DownloadURL, nil)
	if err != nil {
		return err
	}
	resp, err := httpclient.DoWithRetry(ctx, d.client, req, httpclient.DefaultRetryPolicy)
	if err != nil {
		return fmt.Errorf("downloader: manifest fetch %s: %w", entry.FileName, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("downloader: manifest read %s: %w", entry.FileName, err)
	}
	data = bundlecrypto.TryDecompressBrotli(data)

	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return err
	}

	if entry.FileHash != "" {
		ok, err := bundlecrypto.VerifyFile(target, entry.FileHash)
		if err != nil {
			return err
		}
		if !ok {
			got, _ := bundlecrypto.HashFile(target)
			os.Remove(target)
			return ErrHashFailed{File: entry.FileName, Want: entry.FileHash, Got: got}
		}
	}
	return nil
}

func (d *Downloader) cleanup(id, bundleDir string) {
	if err := os.RemoveAll(bundleDir); err != nil {
		log.Printf("downloader: cleanup: remove %s: %v", bundleDir, err)
	}
	if err := d.st.Delete(id); err != nil {
		log.Printf("downloader: cleanup: delete record %s: %v", id, err)
	}
}

// progressCounter reports cumulative percent as bytes stream through Write.
type progressCounter struct {
	total   int64
	written int64
	report  ProgressFunc
}

func (c *progressCounter) Write(p []byte) (int, error) {
	c.written += int64(len(p))
	if c.report != nil && c.total > 0 {
		c.report(int(c.written * 100 / c.total))
	}
	return len(p), nil
}
