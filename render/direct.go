package render

import (
	"image"
	"image/color"
	"image/draw"

	"github.com/milk9111/worlded/composite"
	"github.com/milk9111/worlded/mapdoc"
	"golang.org/x/image/colornames"
)

// DefaultMissing marks tiles whose image could not be resolved when a
// caller asks for them to be shown.
var DefaultMissing color.Color = colornames.Magenta

// TileImages resolves the pixels of one tile. A nil result means the tile
// is not drawable. *mapdoc.ImageStore satisfies it.
type TileImages interface {
	Tile(ts *mapdoc.Tileset, index int) image.Image
}

type DirectOptions struct {
	// Offset is added to every projected tile position.
	Offset image.Point
	// Missing fills the footprint of undrawable tiles. Nil skips them.
	Missing color.Color
}

// DrawDirect paints every visible layer of comp into dst, levels ascending
// and layers in composite order.
func DrawDirect(dst draw.Image, comp *composite.Composite, proj Projection, tiles TileImages, opts DirectOptions) {
	for _, lv := range comp.Levels() {
		g := comp.LayerGroupForLevel(lv)
		if g == nil || !g.Visible() {
			continue
		}
		for _, ref := range g.VisibleLayers() {
			drawLayer(dst, ref, lv, g.Opacity(), proj, tiles, opts)
		}
	}
}

func drawLayer(dst draw.Image, ref composite.LayerRef, level int, groupOpacity float64, proj Projection, tiles TileImages, opts DirectOptions) {
	alpha := ref.Layer.Opacity * groupOpacity
	if alpha <= 0 {
		return
	}
	var mask image.Image
	if alpha < 1 {
		mask = image.NewUniform(color.Alpha{A: uint8(alpha * 255)})
	}
	th := proj.TileSize().Y
	w, h := ref.Doc.Width, ref.Doc.Height
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			gid := ref.Layer.At(x, y, w)
			if gid == 0 {
				continue
			}
			pos := image.Pt(x, y).Add(ref.Origin)
			p := proj.TileToPixel(pos.X, pos.Y, level).Add(opts.Offset)
			ts, idx, err := ref.Doc.ResolveGID(gid)
			var img image.Image
			if err == nil && ts != nil {
				img = tiles.Tile(ts, idx)
			}
			if img == nil {
				if opts.Missing != nil {
					r := image.Rectangle{Min: p, Max: p.Add(proj.TileSize())}
					draw.Draw(dst, r, image.NewUniform(opts.Missing), image.Point{}, draw.Over)
				}
				continue
			}
			b := img.Bounds()
			// tall tiles are anchored to the bottom of the footprint
			r := image.Rect(p.X, p.Y+th-b.Dy(), p.X+b.Dx(), p.Y+th)
			if mask == nil {
				draw.Draw(dst, r, img, b.Min, draw.Over)
			} else {
				draw.DrawMask(dst, r, img, b.Min, mask, image.Point{}, draw.Over)
			}
		}
	}
}

// CanvasBounds is the pixel rectangle RenderImage allocates for comp.
func CanvasBounds(comp *composite.Composite, proj Projection) image.Rectangle {
	th := proj.TileSize().Y
	extra := 0
	for _, n := range comp.Nodes() {
		if n.Doc == nil {
			continue
		}
		for _, ts := range n.Doc.Tilesets {
			extra = max(extra, ts.TileH-th)
		}
	}
	return PixelBounds(proj, comp.BoundingRect(), comp.MaxLevel(), extra)
}

// RenderImage draws comp onto a new canvas sized to its pixel bounds.
func RenderImage(comp *composite.Composite, proj Projection, tiles TileImages) *image.RGBA {
	b := CanvasBounds(comp, proj)
	if b.Empty() {
		return image.NewRGBA(image.Rect(0, 0, 1, 1))
	}
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	DrawDirect(dst, comp, proj, tiles, DirectOptions{Offset: b.Min.Mul(-1)})
	return dst
}
