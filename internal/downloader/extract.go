package downloader

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// safeJoin resolves name against extractDir and rejects any entry that
// would escape it, per spec §4.C's zip-slip policy: absolute paths and any
// ".." path segment are rejected outright; the resolved path must equal
// extractDir or begin with extractDir+separator.
func safeJoin(extractDir, name string) (string, error) {
	cleaned := filepath.Clean(name)
	if filepath.IsAbs(name) || filepath.IsAbs(cleaned) {
		return "", ErrZipSlip{Entry: name}
	}
	for _, seg := range strings.Split(filepath.ToSlash(cleaned), "/") {
		if seg == ".." {
			return "", ErrZipSlip{Entry: name}
		}
	}
	target := filepath.Join(extractDir, cleaned)
	if target != extractDir && !strings.HasPrefix(target, extractDir+string(os.PathSeparator)) {
		return "", ErrZipSlip{Entry: name}
	}
	return target, nil
}

// extractZip extracts zipPath into extractDir, enforcing safeJoin on every
// entry before any bytes are written, and reporting percent progress by
// entry count.
func extractZip(zipPath, extractDir string, progress func(percent int)) error {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return err
	}
	defer r.Close()

	if err := os.MkdirAll(extractDir, 0o755); err != nil {
		return err
	}

	total := len(r.File)
	for i, f := range r.File {
		target, err := safeJoin(extractDir, f.Name)
		if err != nil {
			return err
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			reportProgress(progress, i+1, total)
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		if err := extractOneFile(f, target); err != nil {
			return err
		}
		reportProgress(progress, i+1, total)
	}
	return nil
}

func extractOneFile(f *zip.File, target string) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, f.Mode().Perm()|0o600)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, rc); err != nil {
		return err
	}
	return nil
}

func reportProgress(progress func(percent int), done, total int) {
	if progress == nil || total == 0 {
		return
	}
	progress((done * 100) / total)
}
