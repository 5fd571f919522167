package render

import (
	"image"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/milk9111/worlded/mapdoc"
)

// TextureHandle is an uploaded tileset image. *ebiten.Image satisfies it.
type TextureHandle interface {
	Bounds() image.Rectangle
}

// Uploader turns decoded pixels into a texture.
type Uploader interface {
	Upload(img image.Image) TextureHandle
}

// EbitenUploader uploads through ebiten. It must be used after the game
// loop has started.
type EbitenUploader struct{}

func (EbitenUploader) Upload(img image.Image) TextureHandle {
	return ebiten.NewImageFromImage(img)
}

// ImageSource hands out shared tileset images. *mapdoc.ImageStore
// satisfies it.
type ImageSource interface {
	Get(ts *mapdoc.Tileset) *mapdoc.TilesetImage
}

// Texture is the uploaded image of one tileset.
type Texture struct {
	Image   TextureHandle
	Columns int
	TileW   int
	TileH   int
	// ChangeCount is the tileset image change count at upload time.
	ChangeCount int
}

// Atlas resolves tileset textures once per rendering context.
type Atlas struct {
	src      ImageSource
	up       Uploader
	textures map[string]*Texture
	uploads  int
}

func NewAtlas(src ImageSource, up Uploader) *Atlas {
	return &Atlas{src: src, up: up, textures: map[string]*Texture{}}
}

// Texture returns the texture for ts, uploading it when the tileset image
// changed since the last upload. It returns nil for tilesets whose image
// failed to load.
func (a *Atlas) Texture(ts *mapdoc.Tileset) *Texture {
	if ts == nil {
		return nil
	}
	ti := a.src.Get(ts)
	if ti == nil || ti.Image == nil {
		delete(a.textures, ts.Name)
		return nil
	}
	t, ok := a.textures[ts.Name]
	if ok && t.ChangeCount == ti.ChangeCount {
		return t
	}
	t = &Texture{
		Image:       a.up.Upload(ti.Image),
		Columns:     ts.Columns,
		TileW:       ts.TileW,
		TileH:       ts.TileH,
		ChangeCount: ti.ChangeCount,
	}
	a.textures[ts.Name] = t
	a.uploads++
	return t
}

// ImageChangeCount returns the change count of the tileset image whether
// or not it loaded.
func (a *Atlas) ImageChangeCount(ts *mapdoc.Tileset) int {
	ti := a.src.Get(ts)
	if ti == nil {
		return 0
	}
	return ti.ChangeCount
}

// Uploads counts texture uploads since the atlas was created.
func (a *Atlas) Uploads() int {
	return a.uploads
}

// TileRect locates a tile inside the uploaded texture.
func (t *Texture) TileRect(ts *mapdoc.Tileset, index int) (image.Rectangle, bool) {
	return mapdoc.TileRect(ts, t.Image.Bounds(), index)
}
