// Package bundleregistry implements component D: the bundle lifecycle
// state machine, selection of current/next/fallback bundles, pruning, and
// path resolution, all backed by internal/store.
package bundleregistry

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/capgo/electron-updater-go/internal/bundlecrypto"
	"github.com/capgo/electron-updater-go/internal/store"
)

// BundlesDirName is the directory under the user data root holding extracted bundles.
const BundlesDirName = "capgo-bundles"

// Bundle is the public view of a bundle record, identity plus status.
type Bundle struct {
	ID         string
	Version    string
	Downloaded time.Time
	Checksum   string
	Status     store.Status
}

// ErrNotAllowed is returned when configuration forbids the requested mutation.
type ErrNotAllowed struct{ Op string }

func (e ErrNotAllowed) Error() string { return "bundleregistry: not allowed: " + e.Op }

// ErrNotFound is returned when a bundle id is unknown to the registry.
type ErrNotFound struct{ ID string }

func (e ErrNotFound) Error() string { return "bundleregistry: not found: " + e.ID }

// ErrPrecondition is returned when an operation's required bundle state isn't met.
type ErrPrecondition struct {
	Op, ID string
	Want   store.Status
}

func (e ErrPrecondition) Error() string {
	return fmt.Sprintf("bundleregistry: %s: %s is not %s", e.Op, e.ID, e.Want)
}

// Registry is the bundle lifecycle engine (spec §4.D).
type Registry struct {
	st                     *store.Store
	bundlesRoot            string // <userData>/capgo-bundles
	builtinPath            string // external path to the builtin www/index.html
	autoDeleteFailed       bool
	autoDeletePrevious     bool
	allowManualBundleError bool
}

// New constructs a Registry rooted at userDataDir/capgo-bundles.
func New(st *store.Store, userDataDir, builtinPath string, autoDeleteFailed, autoDeletePrevious, allowManualBundleError bool) *Registry {
	return &Registry{
		st:                     st,
		bundlesRoot:            filepath.Join(userDataDir, BundlesDirName),
		builtinPath:            builtinPath,
		autoDeleteFailed:       autoDeleteFailed,
		autoDeletePrevious:     autoDeletePrevious,
		allowManualBundleError: allowManualBundleError,
	}
}

// BundlesRoot returns the directory holding every extracted bundle.
func (r *Registry) BundlesRoot() string { return r.bundlesRoot }

// BundleDir returns <root>/<id>.
func (r *Registry) BundleDir(id string) string { return filepath.Join(r.bundlesRoot, id) }

// WWWDir returns <root>/<id>/www.
func (r *Registry) WWWDir(id string) string { return filepath.Join(r.BundleDir(id), "www") }

func toBundle(info store.BundleInfo) Bundle {
	return Bundle{
		ID:         info.ID,
		Version:    info.Version,
		Downloaded: info.Downloaded,
		Checksum:   info.Checksum,
		Status:     info.Status,
	}
}

// builtinBundle is the synthetic descriptor for the reserved "builtin" id (spec §3 invariant 1).
func builtinBundle() Bundle {
	return Bundle{ID: bundlecrypto.BuiltinBundleID, Version: "builtin", Status: store.StatusSuccess}
}

// Current returns the bundle referenced by currentBundleId, or the builtin
// descriptor if unset or unknown (spec §4.D).
func (r *Registry) Current() Bundle {
	id := r.st.GetCurrentBundleID()
	if id == "" || id == bundlecrypto.BuiltinBundleID {
		return builtinBundle()
	}
	info, ok := r.st.Get(id)
	if !ok {
		return builtinBundle()
	}
	return toBundle(info)
}

// List returns every known bundle. Unless excludeBuiltin is true, the
// synthetic builtin descriptor is included first (the builtin never
// actually lives in the store).
func (r *Registry) List(excludeBuiltin bool) []Bundle {
	infos := r.st.List()
	out := make([]Bundle, 0, len(infos)+1)
	if !excludeBuiltin {
		out = append(out, builtinBundle())
	}
	for _, info := range infos {
		if info.ID == bundlecrypto.BuiltinBundleID {
			continue
		}
		out = append(out, toBundle(info))
	}
	return out
}

// GetNextBundle returns the bundle staged via Next, or (zero, false).
func (r *Registry) GetNextBundle() (Bundle, bool) {
	id := r.st.GetNextBundleID()
	if id == "" {
		return Bundle{}, false
	}
	info, ok := r.st.Get(id)
	if !ok {
		return Bundle{}, false
	}
	return toBundle(info), true
}

// Next stages id as the pending update. id must currently be success.
func (r *Registry) Next(id string) error {
	info, ok := r.st.Get(id)
	if !ok {
		return ErrNotFound{ID: id}
	}
	if info.Status != store.StatusSuccess {
		return ErrPrecondition{Op: "next", ID: id, Want: store.StatusSuccess}
	}
	info.Status = store.StatusPending
	if err := r.st.Set(id, info); err != nil {
		return err
	}
	return r.st.SetNextBundleID(id)
}

// Set promotes id to current immediately, demoting the previous current to
// fallback. id must currently be success or pending (staged via Next).
func (r *Registry) Set(id string) error {
	if id == bundlecrypto.BuiltinBundleID {
		return r.Reset(true)
	}
	info, ok := r.st.Get(id)
	if !ok {
		return ErrNotFound{ID: id}
	}
	if info.Status != store.StatusSuccess && info.Status != store.StatusPending {
		return ErrPrecondition{Op: "set", ID: id, Want: store.StatusSuccess}
	}

	prevCurrent := r.st.GetCurrentBundleID()

	info.Status = store.StatusSuccess
	if err := r.st.Set(id, info); err != nil {
		return err
	}
	if prevCurrent != "" && prevCurrent != id && prevCurrent != bundlecrypto.BuiltinBundleID {
		if err := r.st.SetFallbackBundleID(prevCurrent); err != nil {
			return err
		}
	}
	if err := r.st.SetCurrentBundleID(id); err != nil {
		return err
	}
	return r.st.SetFirstRunSincePromotion(true)
}

// ApplyPendingUpdate promotes nextBundleId to current and clears it. It
// returns applied=false (no error) when there is nothing staged; the gate
// itself is the DelayController's responsibility, checked by the caller
// before ApplyPendingUpdate is invoked.
func (r *Registry) ApplyPendingUpdate() (applied bool, err error) {
	next := r.st.GetNextBundleID()
	if next == "" {
		return false, nil
	}
	if err := r.Set(next); err != nil {
		return false, err
	}
	if err := r.st.SetNextBundleID(""); err != nil {
		return false, err
	}
	return true, nil
}

// MarkBundleSuccessful is called on app-ready: if autoDeletePrevious is
// configured, the demoted fallback bundle's files and record are pruned.
func (r *Registry) MarkBundleSuccessful() error {
	if err := r.st.SetFirstRunSincePromotion(false); err != nil {
		return err
	}
	if !r.autoDeletePrevious {
		return nil
	}
	fallback := r.st.GetFallbackBundleID()
	if fallback == "" {
		return nil
	}
	if err := r.purge(fallback); err != nil {
		return err
	}
	return r.st.SetFallbackBundleID("")
}

// Rollback marks the current bundle error, removes its files, and restores
// the fallback (or builtin) as current (spec §4.D, testable property "Safe rollback").
func (r *Registry) Rollback() error {
	current := r.st.GetCurrentBundleID()
	if current != "" && current != bundlecrypto.BuiltinBundleID {
		if info, ok := r.st.Get(current); ok {
			info.Status = store.StatusError
			if err := r.st.Set(current, info); err != nil {
				return err
			}
		}
		if err := removeBundleFiles(r.BundleDir(current)); err != nil {
			log.Printf("bundleregistry: rollback: remove files for %s: %v", current, err)
		}
		if r.autoDeleteFailed {
			if err := r.st.Delete(current); err != nil {
				return err
			}
		}
	}

	fallback := r.st.GetFallbackBundleID()
	newCurrent := bundlecrypto.BuiltinBundleID
	if fallback != "" {
		newCurrent = fallback
	}
	if err := r.st.SetCurrentBundleID(newCurrent); err != nil {
		return err
	}
	return r.st.SetFallbackBundleID("")
}

// DeleteBundle removes id's files and record. id must not be current, next,
// or the builtin.
func (r *Registry) DeleteBundle(id string) error {
	if id == bundlecrypto.BuiltinBundleID {
		return ErrNotAllowed{Op: "delete builtin"}
	}
	if id == r.st.GetCurrentBundleID() {
		return ErrNotAllowed{Op: "delete current bundle"}
	}
	if id == r.st.GetNextBundleID() {
		return ErrNotAllowed{Op: "delete next bundle"}
	}
	if _, ok := r.st.Get(id); !ok {
		return ErrNotFound{ID: id}
	}
	return r.purge(id)
}

// SetBundleError marks id as error. When autoDeleteFailed is configured its
// files and record are removed immediately; otherwise the record stays with
// status error. Only permitted when allowManualBundleError is configured.
func (r *Registry) SetBundleError(id string) error {
	if !r.allowManualBundleError {
		return ErrNotAllowed{Op: "setBundleError"}
	}
	info, ok := r.st.Get(id)
	if !ok {
		return ErrNotFound{ID: id}
	}
	info.Status = store.StatusError
	if err := r.st.Set(id, info); err != nil {
		return err
	}
	if r.autoDeleteFailed {
		return r.purge(id)
	}
	return nil
}

// Reset clears nextBundleId and points current at the builtin (toBuiltin)
// or at the most recently recorded success bundle.
func (r *Registry) Reset(toBuiltin bool) error {
	if err := r.st.SetNextBundleID(""); err != nil {
		return err
	}
	if toBuiltin {
		return r.st.SetCurrentBundleID(bundlecrypto.BuiltinBundleID)
	}
	var latest store.BundleInfo
	found := false
	for _, info := range r.st.List() {
		if info.Status != store.StatusSuccess {
			continue
		}
		if !found || info.Downloaded.After(latest.Downloaded) {
			latest = info
			found = true
		}
	}
	if !found {
		return r.st.SetCurrentBundleID(bundlecrypto.BuiltinBundleID)
	}
	return r.st.SetCurrentBundleID(latest.ID)
}

// GetCurrentBundlePath returns the filesystem path reload() should load.
func (r *Registry) GetCurrentBundlePath() string {
	current := r.Current()
	if current.ID == bundlecrypto.BuiltinBundleID {
		return r.builtinPath
	}
	return filepath.Join(r.WWWDir(current.ID), "index.html")
}

// Reconcile scans the bundles root and logs (without deleting) any
// directory with no matching store record, and any store record whose
// directory is missing — the "No orphans" testable property made
// inspectable, per SPEC_FULL.md.
func (r *Registry) Reconcile() (orphanDirs, orphanRecords []string) {
	entries, err := os.ReadDir(r.bundlesRoot)
	if err != nil {
		return nil, nil
	}
	known := make(map[string]bool)
	for _, info := range r.st.List() {
		known[info.ID] = true
	}
	seen := make(map[string]bool)
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		seen[e.Name()] = true
		if !known[e.Name()] {
			orphanDirs = append(orphanDirs, e.Name())
			log.Printf("bundleregistry: orphan directory with no store record: %s", e.Name())
		}
	}
	for id := range known {
		if !seen[id] {
			orphanRecords = append(orphanRecords, id)
			log.Printf("bundleregistry: store record with no directory: %s", id)
		}
	}
	return orphanDirs, orphanRecords
}

func (r *Registry) purge(id string) error {
	if err := removeBundleFiles(r.BundleDir(id)); err != nil {
		log.Printf("bundleregistry: purge: remove files for %s: %v", id, err)
	}
	return r.st.Delete(id)
}

func removeBundleFiles(dir string) error {
	if dir == "" || dir == "/" {
		return fmt.Errorf("refusing to remove suspicious path %q", dir)
	}
	return os.RemoveAll(dir)
}
