// Package store implements component A: a process-wide persistent
// key-value store backed by a single JSON file, following the same
// temp-file-then-rename atomic write strategy as this codebase's other
// persisted documents.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is a bundle's lifecycle state (spec §3).
type Status string

const (
	StatusDownloading Status = "downloading"
	StatusPending     Status = "pending"
	StatusError       Status = "error"
	StatusSuccess     Status = "success"
	StatusDeleted     Status = "deleted"
)

// BundleInfo is the persisted record for one bundle (spec §3).
type BundleInfo struct {
	ID         string    `json:"id"`
	Version    string    `json:"version"`
	Downloaded time.Time `json:"downloaded"`
	Checksum   string    `json:"checksum"`
	Status     Status    `json:"status"`
}

// pointers holds the three optional bundle-id pointers (spec §3).
type pointers struct {
	CurrentBundleID  string `json:"currentBundleId,omitempty"`
	NextBundleID     string `json:"nextBundleId,omitempty"`
	FallbackBundleID string `json:"fallbackBundleId,omitempty"`
}

// device holds device identity and channel selection (spec §3).
type device struct {
	DeviceID               string `json:"deviceId,omitempty"`
	CustomID               string `json:"customId,omitempty"`
	Channel                string `json:"channel,omitempty"`
	FirstRunSincePromotion bool   `json:"firstRunSincePromotion,omitempty"`
}

// mutableURLs holds the URLs/appId the host may override at runtime,
// persisted only when the caller asks (config.PersistModifyUrl), never
// unconditionally by Store itself.
type mutableURLs struct {
	UpdateURL  string `json:"updateUrl,omitempty"`
	ChannelURL string `json:"channelUrl,omitempty"`
	StatsURL   string `json:"statsUrl,omitempty"`
	AppID      string `json:"appId,omitempty"`
}

// delayState persists the DelayController's armed conditions (spec §4.E).
type delayState struct {
	Raw json.RawMessage `json:"raw,omitempty"`
}

// document is the on-disk shape of electron-updater-storage.json.
type document struct {
	Bundles  map[string]BundleInfo `json:"bundles"`
	Pointers pointers              `json:"pointers"`
	Device   device                `json:"device"`
	URLs     mutableURLs           `json:"urls"`
	Delay    delayState            `json:"delay"`
}

// Store is the process-wide persisted key-value store. All mutation methods
// save to disk before returning, so the Store is atomic with respect to
// process crashes between calls (spec §5).
type Store struct {
	mu   sync.Mutex
	path string
	doc  document
}

// Open loads path into memory, creating an empty in-memory store (fresh
// install semantics) if the file is absent or unreadable, per spec §4.A.
func Open(path string) *Store {
	s := &Store{
		path: path,
		doc: document{
			Bundles: make(map[string]BundleInfo),
		},
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return s
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return s
	}
	if doc.Bundles == nil {
		doc.Bundles = make(map[string]BundleInfo)
	}
	s.doc = doc
	return s
}

// save performs the atomic temp-file-then-rename write.
func (s *Store) save() error {
	data, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("store: marshal: %w", err)
	}
	dir := filepath.Dir(filepath.Clean(s.path))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("store: mkdir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".electron-updater-storage-*.json.tmp")
	if err != nil {
		return fmt.Errorf("store: create temp: %w", err)
	}
	tmpName := tmp.Name()
	_, writeErr := tmp.Write(data)
	closeErr := tmp.Close()
	if writeErr != nil || closeErr != nil {
		os.Remove(tmpName)
		if writeErr != nil {
			return fmt.Errorf("store: write: %w", writeErr)
		}
		return fmt.Errorf("store: close: %w", closeErr)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("store: chmod: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("store: rename: %w", err)
	}
	return nil
}

// Save flushes the current in-memory state to disk. Every mutation method
// already saves before returning; Save rewrites the same state on demand.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save()
}

// --- bundle registry -------------------------------------------------------

// Get returns the bundle record for id, or (zero, false) if unknown.
func (s *Store) Get(id string) (BundleInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.doc.Bundles[id]
	return b, ok
}

// Set upserts a bundle record and persists immediately.
func (s *Store) Set(id string, info BundleInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	info.ID = id
	s.doc.Bundles[id] = info
	return s.save()
}

// Delete removes a bundle record and persists immediately. It is a no-op if
// id is unknown.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.doc.Bundles[id]; !ok {
		return nil
	}
	delete(s.doc.Bundles, id)
	return s.save()
}

// List returns every known bundle record (including "builtin" if a caller
// ever stored one, which BundleRegistry never does).
func (s *Store) List() []BundleInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]BundleInfo, 0, len(s.doc.Bundles))
	for _, b := range s.doc.Bundles {
		out = append(out, b)
	}
	return out
}

// --- pointers ---------------------------------------------------------------

func (s *Store) GetCurrentBundleID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Pointers.CurrentBundleID
}

func (s *Store) SetCurrentBundleID(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Pointers.CurrentBundleID = id
	return s.save()
}

func (s *Store) GetNextBundleID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Pointers.NextBundleID
}

func (s *Store) SetNextBundleID(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Pointers.NextBundleID = id
	return s.save()
}

func (s *Store) GetFallbackBundleID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Pointers.FallbackBundleID
}

func (s *Store) SetFallbackBundleID(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Pointers.FallbackBundleID = id
	return s.save()
}

// --- identity / channel -------------------------------------------------

// GetDeviceID lazily generates and persists a device id on first read.
func (s *Store) GetDeviceID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.doc.Device.DeviceID != "" {
		return s.doc.Device.DeviceID, nil
	}
	s.doc.Device.DeviceID = uuid.New().String()
	if err := s.save(); err != nil {
		return "", err
	}
	return s.doc.Device.DeviceID, nil
}

func (s *Store) GetCustomID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Device.CustomID
}

func (s *Store) SetCustomID(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Device.CustomID = id
	return s.save()
}

func (s *Store) GetChannel() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Device.Channel
}

func (s *Store) SetChannel(channel string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Device.Channel = channel
	return s.save()
}

// GetFirstRunSincePromotion reports whether the current bundle has not yet
// completed its first notifyAppReady since being promoted (spec §9,
// directUpdate "atInstall"/"onLaunch" open question).
func (s *Store) GetFirstRunSincePromotion() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Device.FirstRunSincePromotion
}

func (s *Store) SetFirstRunSincePromotion(v bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Device.FirstRunSincePromotion = v
	return s.save()
}

// --- mutable URLs / appId ----------------------------------------------

func (s *Store) GetUpdateURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.URLs.UpdateURL
}

func (s *Store) SetUpdateURL(url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.URLs.UpdateURL = url
	return s.save()
}

func (s *Store) GetChannelURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.URLs.ChannelURL
}

func (s *Store) SetChannelURL(url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.URLs.ChannelURL = url
	return s.save()
}

func (s *Store) GetStatsURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.URLs.StatsURL
}

func (s *Store) SetStatsURL(url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.URLs.StatsURL = url
	return s.save()
}

func (s *Store) GetAppID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.URLs.AppID
}

func (s *Store) SetAppID(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.URLs.AppID = id
	return s.save()
}

// --- delay controller state ----------------------------------------------

// GetDelayState returns the raw JSON blob last saved by SetDelayState, or
// nil if none was ever saved.
func (s *Store) GetDelayState() json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Delay.Raw
}

func (s *Store) SetDelayState(raw json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Delay.Raw = raw
	return s.save()
}
