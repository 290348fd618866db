// Package filestore implements content-addressed storage for workspace file
// uploads: the storage key is derived from the file's sha256 hash, so
// identical content uploaded twice within a workspace is stored once.
package filestore

import (
	"context"
	"errors"
	"io"
	"strings"
)

// ErrNotFound is returned when a file does not exist at the requested key.
var ErrNotFound = errors.New("filestore: file not found")

// File describes a stored blob.
type File struct {
	Hash string // lowercase hex sha256 of the content
	Ext  string // file extension including the leading dot, e.g. ".png"
	Size int64
}

// Key returns the file's content-addressed storage key, independent of
// workspace, in the "hash[0..3]/hash[3..6]/hash[6..].ext" layout.
func (f File) Key() string {
	return layoutKey(f.Hash, f.Ext)
}

// Store abstracts content-addressed blob storage so callers can swap the
// local-disk implementation for a remote one without changing business
// logic.
type Store interface {
	// Put streams r to storage under workspaceID, computing its hash as it
	// writes. Uploading the same bytes twice for the same workspace is a
	// no-op on the second call: the existing blob is reused.
	Put(ctx context.Context, workspaceID int64, filename string, r io.Reader) (File, error)

	// Get opens the blob identified by file for reading. Returns
	// ErrNotFound if it does not exist.
	Get(ctx context.Context, workspaceID int64, file File) (io.ReadCloser, error)

	// Delete removes the blob. Missing blobs are not treated as an error.
	Delete(ctx context.Context, workspaceID int64, file File) error

	// URL returns a public-facing URL for the blob.
	URL(workspaceID int64, file File) string

	// PutAt writes r to an explicit relative key rather than a
	// content-addressed one, for derived artifacts (thumbnails) keyed off
	// their source file instead of their own hash.
	PutAt(ctx context.Context, workspaceID int64, relKey string, r io.Reader) error

	// GetAt opens the blob at an explicit relative key written by PutAt.
	// Returns ErrNotFound if it does not exist.
	GetAt(ctx context.Context, workspaceID int64, relKey string) (io.ReadCloser, error)
}

// imageExts are the extensions ThumbnailWorker knows how to decode.
var imageExts = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true,
}

// ShouldThumbnail reports whether a file extension is a decodable image
// format worth generating a thumbnail for.
func ShouldThumbnail(ext string) bool {
	return imageExts[strings.ToLower(ext)]
}

// ThumbnailKey derives a file's thumbnail storage key by suffixing its
// content-addressed key, so the thumbnail lives alongside the original
// without its own content address.
func ThumbnailKey(f File) string {
	return strings.TrimSuffix(f.Key(), f.Ext) + "-thumb.jpg"
}
