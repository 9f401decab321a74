// Package storage keeps uploaded audio artifacts on local disk,
// partitioned into YYYY-MM-DD directories so the retention sweeper can
// drop whole days at a time.
package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/cogniscribe/api/internal/apperr"
)

// ArtifactStore persists uploaded files and deletes them once expired.
type ArtifactStore interface {
	Save(filename string, body io.Reader) (*SavedArtifact, error)
	Remove(path string) error
	SweepOlderThan(cutoff time.Time) (int, error)
}

// SavedArtifact describes a stored upload. The fingerprint is the
// SHA-256 of the file bytes, computed in the same pass as the write.
type SavedArtifact struct {
	Path        string
	Filename    string
	SizeBytes   int64
	Fingerprint string
}

// LocalStore implements ArtifactStore on the local filesystem.
type LocalStore struct {
	dir      string
	maxBytes int64
}

// NewLocalStore creates a store rooted at dir with a per-file size cap.
func NewLocalStore(dir string, maxFileSizeMB int) *LocalStore {
	return &LocalStore{
		dir:      dir,
		maxBytes: int64(maxFileSizeMB) * 1024 * 1024,
	}
}

// Save streams body to disk under today's date directory, enforcing the
// size cap and hashing the content as it is written.
func (s *LocalStore) Save(filename string, body io.Reader) (*SavedArtifact, error) {
	dateDir := filepath.Join(s.dir, time.Now().UTC().Format("2006-01-02"))
	if err := os.MkdirAll(dateDir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}

	path := filepath.Join(dateDir, fmt.Sprintf("%s_%s", uuid.New().String(), filename))
	out, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create artifact file: %w", err)
	}
	defer out.Close()

	hasher := sha256.New()
	written, err := io.Copy(io.MultiWriter(out, hasher), io.LimitReader(body, s.maxBytes+1))
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("write artifact: %w", err)
	}
	if written > s.maxBytes {
		os.Remove(path)
		return nil, apperr.NewValidation("file",
			fmt.Sprintf("file exceeds maximum size of %dMB", s.maxBytes/(1024*1024)))
	}

	return &SavedArtifact{
		Path:        path,
		Filename:    filename,
		SizeBytes:   written,
		Fingerprint: hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// Remove deletes a single stored artifact. Missing files are not errors.
func (s *LocalStore) Remove(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove artifact: %w", err)
	}
	return nil
}

// SweepOlderThan removes whole date directories older than the cutoff
// and returns how many were deleted. Directories whose names do not
// parse as dates are skipped.
func (s *LocalStore) SweepOlderThan(cutoff time.Time) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read storage dir: %w", err)
	}

	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dirDate, err := time.Parse("2006-01-02", entry.Name())
		if err != nil {
			continue
		}
		if dirDate.Before(cutoff) {
			if err := os.RemoveAll(filepath.Join(s.dir, entry.Name())); err != nil {
				return removed, fmt.Errorf("remove artifact dir %s: %w", entry.Name(), err)
			}
			removed++
		}
	}
	return removed, nil
}
