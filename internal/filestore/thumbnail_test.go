package filestore

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"io"
	"testing"

	"github.com/rs/zerolog"
)

func TestShouldThumbnail(t *testing.T) {
	t.Parallel()

	cases := map[string]bool{
		".png": true, ".PNG": true, ".jpg": true, ".jpeg": true, ".gif": true,
		".txt": false, ".pdf": false, "": false,
	}
	for ext, want := range cases {
		if got := ShouldThumbnail(ext); got != want {
			t.Errorf("ShouldThumbnail(%q) = %v, want %v", ext, got, want)
		}
	}
}

func TestThumbnailKey(t *testing.T) {
	t.Parallel()

	f := File{Hash: strOf64('e'), Ext: ".png"}
	want := f.Key()[:len(f.Key())-len(".png")] + "-thumb.jpg"
	if got := ThumbnailKey(f); got != want {
		t.Errorf("ThumbnailKey() = %q, want %q", got, want)
	}
}

func TestLocalStorePutAtAndGetAt(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewLocalStore(t.TempDir(), "http://localhost:8080")

	content := []byte("derived artifact")
	if err := store.PutAt(ctx, 3, "some/nested-thumb.jpg", bytes.NewReader(content)); err != nil {
		t.Fatalf("PutAt() error: %v", err)
	}

	rc, err := store.GetAt(ctx, 3, "some/nested-thumb.jpg")
	if err != nil {
		t.Fatalf("GetAt() error: %v", err)
	}
	defer rc.Close()

	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll() error: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Errorf("GetAt() content = %q, want %q", got, content)
	}
}

func TestThumbnailWorkerGenerateThumbnail(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewLocalStore(t.TempDir(), "http://localhost:8080")

	img := image.NewRGBA(image.Rect(0, 0, 800, 600))
	for y := 0; y < 600; y++ {
		for x := 0; x < 800; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode source png: %v", err)
	}

	file, err := store.Put(ctx, 9, "photo.png", bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("Put() error: %v", err)
	}

	worker := NewThumbnailWorker(nil, store, zerolog.Nop())
	job := ThumbnailJob{WorkspaceID: 9, Hash: file.Hash, Ext: file.Ext}
	if err := worker.generateThumbnail(ctx, job); err != nil {
		t.Fatalf("generateThumbnail() error: %v", err)
	}

	rc, err := store.GetAt(ctx, 9, ThumbnailKey(file))
	if err != nil {
		t.Fatalf("GetAt(thumbnail) error: %v", err)
	}
	defer rc.Close()

	thumb, _, err := image.Decode(rc)
	if err != nil {
		t.Fatalf("decode thumbnail: %v", err)
	}
	bounds := thumb.Bounds()
	if bounds.Dx() != thumbnailWidth {
		t.Errorf("thumbnail width = %d, want %d", bounds.Dx(), thumbnailWidth)
	}
	wantHeight := 600 * thumbnailWidth / 800
	if bounds.Dy() != wantHeight {
		t.Errorf("thumbnail height = %d, want %d", bounds.Dy(), wantHeight)
	}
}

func TestThumbnailWorkerGenerateThumbnailMissingOriginal(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewLocalStore(t.TempDir(), "http://localhost:8080")

	worker := NewThumbnailWorker(nil, store, zerolog.Nop())
	job := ThumbnailJob{WorkspaceID: 1, Hash: strOf64('f'), Ext: ".png"}
	if err := worker.generateThumbnail(ctx, job); err == nil {
		t.Fatal("generateThumbnail() error = nil, want error for missing original")
	}
}
