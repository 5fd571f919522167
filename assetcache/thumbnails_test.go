package assetcache

import (
	"context"
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func writeMapFile(t *testing.T, path string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(`{"width":1,"height":1}`), 0o644); err != nil {
		t.Fatal(err)
	}
}

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func TestThumbnailDiskCache(t *testing.T) {
	dir := t.TempDir()
	mapPath := filepath.Join(dir, "house.map.json")
	writeMapFile(t, mapPath)
	old := time.Now().Add(-time.Hour)
	if err := os.Chtimes(mapPath, old, old); err != nil {
		t.Fatal(err)
	}

	var renders atomic.Int32
	render := func(ctx context.Context, path string) (image.Image, error) {
		renders.Add(1)
		return solid(200, 100, color.RGBA{R: 200, A: 255}), nil
	}

	thumbs, err := NewThumbnails(render, ThumbnailOptions{Width: 50})
	if err != nil {
		t.Fatal(err)
	}
	img, err := thumbs.Get(context.Background(), mapPath)
	if err != nil {
		t.Fatal(err)
	}
	if b := img.Bounds(); b.Dx() != 50 || b.Dy() != 25 {
		t.Fatalf("thumbnail bounds %v", b)
	}
	if _, err := os.Stat(ThumbnailPath(mapPath)); err != nil {
		t.Fatalf("thumbnail not written: %v", err)
	}
	thumbs.Close()

	// a fresh instance has an empty memory cache and must use the disk copy
	again, err := NewThumbnails(render, ThumbnailOptions{Width: 50})
	if err != nil {
		t.Fatal(err)
	}
	defer again.Close()
	if _, err := again.Get(context.Background(), mapPath); err != nil {
		t.Fatal(err)
	}
	if n := renders.Load(); n != 1 {
		t.Fatalf("rendered %d times, want 1", n)
	}

	// touching the map invalidates the disk copy
	future := time.Now().Add(time.Hour)
	if err := os.Chtimes(mapPath, future, future); err != nil {
		t.Fatal(err)
	}
	again.Forget(mapPath)
	if _, err := again.Get(context.Background(), mapPath); err != nil {
		t.Fatal(err)
	}
	if n := renders.Load(); n != 2 {
		t.Fatalf("rendered %d times after map change, want 2", n)
	}
}

func TestThumbnailRenderError(t *testing.T) {
	boom := errors.New("no tiles")
	thumbs, err := NewThumbnails(func(context.Context, string) (image.Image, error) {
		return nil, boom
	}, ThumbnailOptions{})
	if err != nil {
		t.Fatal(err)
	}
	defer thumbs.Close()
	path := filepath.Join(t.TempDir(), "x.map.json")
	if _, err := thumbs.Get(context.Background(), path); !errors.Is(err, boom) {
		t.Fatalf("expected render error, got %v", err)
	}
	if _, err := os.Stat(ThumbnailPath(path)); !os.IsNotExist(err) {
		t.Fatal("failed render left a thumbnail behind")
	}
}

func TestGenerateRendersEveryPath(t *testing.T) {
	dir := t.TempDir()
	var paths []string
	for _, name := range []string{"a.map.json", "b.map.json", "c.map.json"} {
		p := filepath.Join(dir, name)
		writeMapFile(t, p)
		paths = append(paths, p)
	}
	var renders atomic.Int32
	thumbs, err := NewThumbnails(func(context.Context, string) (image.Image, error) {
		renders.Add(1)
		return solid(8, 8, color.RGBA{B: 255, A: 255}), nil
	}, ThumbnailOptions{Workers: 2})
	if err != nil {
		t.Fatal(err)
	}
	defer thumbs.Close()
	if err := thumbs.Generate(context.Background(), paths); err != nil {
		t.Fatal(err)
	}
	if renders.Load() != 3 {
		t.Fatalf("rendered %d", renders.Load())
	}
	for _, p := range paths {
		if _, err := os.Stat(ThumbnailPath(p)); err != nil {
			t.Fatalf("missing thumbnail for %s", p)
		}
	}
}

func TestScaleKeepsSmallImages(t *testing.T) {
	img := solid(10, 10, color.RGBA{A: 255})
	if Scale(img, 512) != image.Image(img) {
		t.Fatal("small image should be returned as is")
	}
	scaled := Scale(solid(1024, 256, color.RGBA{G: 255, A: 255}), 512)
	if b := scaled.Bounds(); b.Dx() != 512 || b.Dy() != 128 {
		t.Fatalf("scaled bounds %v", b)
	}
	if _, g, _, _ := scaled.At(100, 60).RGBA(); g == 0 {
		t.Fatal("scaled image lost its colour")
	}
}

func TestThumbnailMemoryHitFollowsMapChanges(t *testing.T) {
	mapPath := filepath.Join(t.TempDir(), "barn.map.json")
	writeMapFile(t, mapPath)
	old := time.Now().Add(-time.Hour)
	if err := os.Chtimes(mapPath, old, old); err != nil {
		t.Fatal(err)
	}

	var renders atomic.Int32
	thumbs, err := NewThumbnails(func(context.Context, string) (image.Image, error) {
		renders.Add(1)
		return solid(8, 8, color.RGBA{G: 255, A: 255}), nil
	}, ThumbnailOptions{})
	if err != nil {
		t.Fatal(err)
	}
	defer thumbs.Close()

	for i := 0; i < 2; i++ {
		if _, err := thumbs.Get(context.Background(), mapPath); err != nil {
			t.Fatal(err)
		}
	}
	if n := renders.Load(); n != 1 {
		t.Fatalf("rendered %d times for an unchanged map, want 1", n)
	}

	future := time.Now().Add(time.Hour)
	if err := os.Chtimes(mapPath, future, future); err != nil {
		t.Fatal(err)
	}
	if _, err := thumbs.Get(context.Background(), mapPath); err != nil {
		t.Fatal(err)
	}
	if n := renders.Load(); n != 2 {
		t.Fatalf("rendered %d times after the map changed, want 2", n)
	}
}
