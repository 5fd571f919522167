package assetcache

import (
	"bufio"
	"context"
	"fmt"
	"image"
	"image/png"
	"io"
	"os"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"go.uber.org/zap"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/sync/errgroup"

	"github.com/milk9111/worlded/fsutil"
)

// DefaultThumbnailWidth is the preview width in pixels.
const DefaultThumbnailWidth = 512

// RenderFunc composites the map at path into a full size image.
type RenderFunc func(ctx context.Context, path string) (image.Image, error)

type ThumbnailOptions struct {
	Width   int
	Workers int
	Logger  *zap.Logger
}

// Thumbnails serves preview images from memory, then from the on-disk
// cache beside each map, and renders them when both miss.
type Thumbnails struct {
	render  RenderFunc
	width   int
	workers int
	log     *zap.Logger
	mem     *ristretto.Cache[string, thumbEntry]
}

// thumbEntry is a preview with the map modification time it was made
// from. A zero time means the map had no file.
type thumbEntry struct {
	img     image.Image
	modTime time.Time
}

func mapModTime(canon string) time.Time {
	fi, err := os.Stat(canon)
	if err != nil {
		return time.Time{}
	}
	return fi.ModTime()
}

func NewThumbnails(render RenderFunc, opts ThumbnailOptions) (*Thumbnails, error) {
	if opts.Width <= 0 {
		opts.Width = DefaultThumbnailWidth
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	mem, err := ristretto.NewCache(&ristretto.Config[string, thumbEntry]{
		NumCounters: 10000,
		MaxCost:     256 * 1024 * 1024,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("assetcache: thumbnail cache: %w", err)
	}
	return &Thumbnails{
		render:  render,
		width:   opts.Width,
		workers: opts.Workers,
		log:     opts.Logger,
		mem:     mem,
	}, nil
}

// ThumbnailPath is the disk cache file for a map.
func ThumbnailPath(mapPath string) string {
	return mapPath + ".thumb.png"
}

// Get returns the preview for the map at path. A preview made before the
// map file last changed is made again.
func (t *Thumbnails) Get(ctx context.Context, path string) (image.Image, error) {
	canon, err := Canonical(path, "")
	if err != nil {
		return nil, err
	}
	modTime := mapModTime(canon)
	if e, ok := t.mem.Get(canon); ok && e.modTime.Equal(modTime) {
		return e.img, nil
	}
	if img, ok := t.readDisk(canon); ok {
		t.remember(canon, img, modTime)
		return img, nil
	}

	full, err := t.render(ctx, canon)
	if err != nil {
		return nil, fmt.Errorf("assetcache: render thumbnail %s: %w", canon, err)
	}
	img := Scale(full, t.width)
	if err := fsutil.SaveFile(ThumbnailPath(canon), func(w io.Writer) error {
		return png.Encode(w, img)
	}); err != nil {
		// the preview is still usable without its disk copy
		t.log.Warn("thumbnail not persisted", zap.String("path", canon), zap.Error(err))
	}
	t.remember(canon, img, modTime)
	return img, nil
}

func (t *Thumbnails) remember(canon string, img image.Image, modTime time.Time) {
	b := img.Bounds()
	cost := int64(b.Dx()*b.Dy()*4) + 1
	t.mem.Set(canon, thumbEntry{img: img, modTime: modTime}, cost)
	t.mem.Wait()
}

// readDisk returns the cached preview unless the map changed after it was
// written.
func (t *Thumbnails) readDisk(canon string) (image.Image, bool) {
	src, err := os.Stat(canon)
	if err != nil {
		return nil, false
	}
	thumbPath := ThumbnailPath(canon)
	thumb, err := os.Stat(thumbPath)
	if err != nil || src.ModTime().After(thumb.ModTime()) {
		return nil, false
	}
	f, err := os.Open(thumbPath)
	if err != nil {
		return nil, false
	}
	defer f.Close()
	img, err := png.Decode(bufio.NewReader(f))
	if err != nil {
		t.log.Warn("discarding unreadable thumbnail", zap.String("path", thumbPath), zap.Error(err))
		return nil, false
	}
	return img, true
}

// Forget drops the in-memory preview of a map so the next Get revalidates
// the disk copy.
func (t *Thumbnails) Forget(path string) {
	canon, err := Canonical(path, "")
	if err != nil {
		return
	}
	t.mem.Del(canon)
}

// Generate fills the thumbnail cache for every path. It stops at the first
// failure.
func (t *Thumbnails) Generate(ctx context.Context, paths []string) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(t.workers)
	for _, p := range paths {
		g.Go(func() error {
			_, err := t.Get(ctx, p)
			return err
		})
	}
	return g.Wait()
}

func (t *Thumbnails) Close() {
	t.mem.Close()
}

// Scale resizes img to width pixels keeping its aspect ratio. Images that
// are already narrow enough are returned unchanged.
func Scale(img image.Image, width int) image.Image {
	b := img.Bounds()
	if b.Dx() <= width || b.Dx() == 0 {
		return img
	}
	height := b.Dy() * width / b.Dx()
	if height < 1 {
		height = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), img, b, xdraw.Over, nil)
	return dst
}
