package filestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// layoutKey builds the content-addressed relative path for a hash and
// extension: base_dir/{hash[0:3]}/{hash[3:6]}/{hash[6:]}.{ext}. Same hash
// always yields the same path, so re-uploading identical content finds the
// existing blob (Put keeps it and discards the new copy) rather than
// duplicating.
func layoutKey(hash, ext string) string {
	if len(hash) < 6 {
		// Degenerate input (e.g. empty file hash collisions in tests); fall
		// back to a flat layout rather than panicking on a slice bound.
		return hash + ext
	}
	return filepath.Join(hash[0:3], hash[3:6], hash[6:]+ext)
}

// LocalStore stores files on the local filesystem under baseDir, one
// subtree per workspace.
type LocalStore struct {
	baseDir string
	baseURL string
}

// NewLocalStore creates a Store rooted at baseDir. Public URLs are built by
// joining baseURL with the workspace-scoped storage key.
func NewLocalStore(baseDir, baseURL string) *LocalStore {
	return &LocalStore{baseDir: baseDir, baseURL: strings.TrimRight(baseURL, "/")}
}

func (s *LocalStore) workspacePath(workspaceID int64, rel string) string {
	return filepath.Join(s.baseDir, strconv.FormatInt(workspaceID, 10), rel)
}

// Put hashes r while streaming it to a temporary file, then moves it into
// its content-addressed final location. If a blob with the same hash
// already exists, the temporary file is discarded and the existing blob is
// reused (dedup).
func (s *LocalStore) Put(_ context.Context, workspaceID int64, filename string, r io.Reader) (File, error) {
	workspaceDir := filepath.Join(s.baseDir, strconv.FormatInt(workspaceID, 10))
	if err := os.MkdirAll(workspaceDir, 0o755); err != nil {
		return File{}, fmt.Errorf("create workspace storage dir: %w", err)
	}

	tmp, err := os.CreateTemp(workspaceDir, "upload-*.tmp")
	if err != nil {
		return File{}, fmt.Errorf("create temp upload file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	hasher := sha256.New()
	size, err := io.Copy(tmp, io.TeeReader(r, hasher))
	if err != nil {
		_ = tmp.Close()
		return File{}, fmt.Errorf("write upload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return File{}, fmt.Errorf("close upload: %w", err)
	}

	file := File{
		Hash: hex.EncodeToString(hasher.Sum(nil)),
		Ext:  filepath.Ext(filename),
		Size: size,
	}

	finalPath := s.workspacePath(workspaceID, file.Key())
	if _, err := os.Stat(finalPath); err == nil {
		return file, nil // dedup: identical content already stored
	}

	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		return File{}, fmt.Errorf("create storage directory: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return File{}, fmt.Errorf("finalize upload: %w", err)
	}
	return file, nil
}

// Get opens the blob for reading.
func (s *LocalStore) Get(_ context.Context, workspaceID int64, file File) (io.ReadCloser, error) {
	f, err := os.Open(s.workspacePath(workspaceID, file.Key()))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("open blob: %w", err)
	}
	return f, nil
}

// Delete removes the blob. Missing blobs are not an error.
func (s *LocalStore) Delete(_ context.Context, workspaceID int64, file File) error {
	if err := os.Remove(s.workspacePath(workspaceID, file.Key())); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete blob: %w", err)
	}
	return nil
}

// URL returns the public URL for a blob.
func (s *LocalStore) URL(workspaceID int64, file File) string {
	return fmt.Sprintf("%s/files/%d/%s", s.baseURL, workspaceID, file.Key())
}

// PutAt writes r to an explicit relative key, overwriting any existing blob
// there.
func (s *LocalStore) PutAt(_ context.Context, workspaceID int64, relKey string, r io.Reader) error {
	finalPath := s.workspacePath(workspaceID, relKey)
	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		return fmt.Errorf("create storage directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(finalPath), "put-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return fmt.Errorf("finalize blob: %w", err)
	}
	return nil
}

// GetAt opens the blob at an explicit relative key.
func (s *LocalStore) GetAt(_ context.Context, workspaceID int64, relKey string) (io.ReadCloser, error) {
	f, err := os.Open(s.workspacePath(workspaceID, relKey))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("open blob: %w", err)
	}
	return f, nil
}
