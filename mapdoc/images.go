package mapdoc

import (
	"bufio"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

// ImageLoader returns decoded pixels for an image path.
type ImageLoader interface {
	LoadImage(path string) (image.Image, error)
}

// FileImageLoader decodes images from disk. When a path does not exist it
// retries the base name under each fallback directory.
type FileImageLoader struct {
	Fallbacks []string
}

func (l FileImageLoader) LoadImage(path string) (image.Image, error) {
	img, err := decodeFile(path)
	if err == nil || !os.IsNotExist(err) {
		return img, err
	}
	for _, dir := range l.Fallbacks {
		alt := filepath.Join(dir, filepath.Base(path))
		if img, aerr := decodeFile(alt); aerr == nil {
			return img, nil
		}
	}
	return nil, err
}

func decodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("mapdoc: decode image %s: %w", path, err)
	}
	return img, nil
}

// TilesetImage is the loaded pixel source of one tileset image. A failed
// load keeps Err and a nil Image; tiles from it are skipped when drawing.
type TilesetImage struct {
	Source string
	Image  image.Image
	Err    error
	// ChangeCount advances every time the image is reloaded.
	ChangeCount int
}

// ImageStore shares tileset images between every document that uses them.
// Images are read-only once loaded.
type ImageStore struct {
	loader ImageLoader
	log    *zap.Logger

	mu     sync.Mutex
	images map[string]*TilesetImage
}

func NewImageStore(loader ImageLoader, log *zap.Logger) *ImageStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &ImageStore{loader: loader, log: log, images: map[string]*TilesetImage{}}
}

// Prepare loads the images of every tileset in m that is not loaded yet.
func (s *ImageStore) Prepare(m *Map) {
	for _, ts := range m.Tilesets {
		s.Get(ts)
	}
}

// Get returns the image for ts, loading it on first use.
func (s *ImageStore) Get(ts *Tileset) *TilesetImage {
	if ts == nil {
		return nil
	}
	key := ts.Source
	if key == "" {
		key = ts.Image
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if ti, ok := s.images[key]; ok {
		return ti
	}
	ti := &TilesetImage{Source: key}
	s.load(ti)
	s.images[key] = ti
	return ti
}

func (s *ImageStore) load(ti *TilesetImage) {
	if ti.Source == "" {
		ti.Image, ti.Err = nil, fmt.Errorf("%w: tileset has no image", ErrMissingTileset)
	} else {
		ti.Image, ti.Err = s.loader.LoadImage(ti.Source)
	}
	ti.ChangeCount++
	if ti.Err != nil {
		s.log.Warn("tileset image failed to load", zap.String("path", ti.Source), zap.Error(ti.Err))
	}
}

// Reload re-reads a tileset image after it changed on disk. It reports
// whether the path was known.
func (s *ImageStore) Reload(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	ti, ok := s.images[path]
	if !ok {
		return false
	}
	s.load(ti)
	return true
}

// Tile returns the sub image for the local tile index of ts, or nil when
// the tileset image is unavailable or the index is outside it.
func (s *ImageStore) Tile(ts *Tileset, index int) image.Image {
	ti := s.Get(ts)
	if ti == nil || ti.Image == nil {
		return nil
	}
	r, ok := TileRect(ts, ti.Image.Bounds(), index)
	if !ok {
		return nil
	}
	if si, ok := ti.Image.(interface {
		SubImage(image.Rectangle) image.Image
	}); ok {
		return si.SubImage(r)
	}
	return nil
}

// TileRect locates tile index inside a tileset image with the given bounds.
func TileRect(ts *Tileset, bounds image.Rectangle, index int) (image.Rectangle, bool) {
	if ts.TileW <= 0 || ts.TileH <= 0 || index < 0 {
		return image.Rectangle{}, false
	}
	cols := ts.Columns
	if cols <= 0 {
		cols = bounds.Dx() / ts.TileW
	}
	if cols <= 0 {
		return image.Rectangle{}, false
	}
	x := bounds.Min.X + (index%cols)*ts.TileW
	y := bounds.Min.Y + (index/cols)*ts.TileH
	r := image.Rect(x, y, x+ts.TileW, y+ts.TileH)
	if !r.In(bounds) {
		return image.Rectangle{}, false
	}
	return r, true
}
