// Package render draws composite layer groups, either directly into an
// image or through retained per-region triangle batches.
package render

import (
	"image"
	"math"

	"github.com/milk9111/worlded/mapdoc"
)

// LevelShift is how many tiles each level moves up and left in the level
// isometric projection.
const LevelShift = 3

// Projection maps tile coordinates to pixels.
type Projection interface {
	// TileToPixel returns the top-left pixel of the tile footprint.
	TileToPixel(x, y, level int) image.Point
	// PixelToTile is the inverse of TileToPixel for the footprint origin.
	PixelToTile(px, py float64, level int) (float64, float64)
	TileSize() image.Point
}

// NewProjection returns the projection for an orientation. Unknown
// orientations fall back to orthogonal.
func NewProjection(o mapdoc.Orientation, tileW, tileH int) Projection {
	if tileW <= 0 {
		tileW = 64
	}
	if tileH <= 0 {
		tileH = 32
	}
	base := grid{tw: tileW, th: tileH}
	switch o {
	case mapdoc.Isometric:
		return isometric{base}
	case mapdoc.LevelIsometric:
		return levelIsometric{isometric{base}}
	case mapdoc.Staggered:
		return staggered{base}
	default:
		return orthogonal{base}
	}
}

type grid struct {
	tw, th int
}

func (g grid) TileSize() image.Point {
	return image.Pt(g.tw, g.th)
}

type orthogonal struct{ grid }

func (o orthogonal) TileToPixel(x, y, _ int) image.Point {
	return image.Pt(x*o.tw, y*o.th)
}

func (o orthogonal) PixelToTile(px, py float64, _ int) (float64, float64) {
	return px / float64(o.tw), py / float64(o.th)
}

type isometric struct{ grid }

func (i isometric) TileToPixel(x, y, _ int) image.Point {
	return image.Pt((x-y)*i.tw/2, (x+y)*i.th/2)
}

func (i isometric) PixelToTile(px, py float64, _ int) (float64, float64) {
	hw, hh := float64(i.tw)/2, float64(i.th)/2
	a := px / hw
	b := py / hh
	return (a + b) / 2, (b - a) / 2
}

type levelIsometric struct{ isometric }

func (l levelIsometric) TileToPixel(x, y, level int) image.Point {
	s := level * LevelShift
	return l.isometric.TileToPixel(x-s, y-s, 0)
}

func (l levelIsometric) PixelToTile(px, py float64, level int) (float64, float64) {
	tx, ty := l.isometric.PixelToTile(px, py, 0)
	s := float64(level * LevelShift)
	return tx + s, ty + s
}

// staggered shifts odd rows right by half a tile.
type staggered struct{ grid }

func (s staggered) TileToPixel(x, y, _ int) image.Point {
	px := x * s.tw
	if y&1 == 1 {
		px += s.tw / 2
	}
	return image.Pt(px, y*s.th/2)
}

func (s staggered) PixelToTile(px, py float64, _ int) (float64, float64) {
	ty := math.Floor(py / (float64(s.th) / 2))
	if int(ty)&1 == 1 {
		px -= float64(s.tw) / 2
	}
	return px / float64(s.tw), ty
}

// PixelBounds returns the pixel area covered by the tiles in r across
// levels 0 through maxLevel. extraTop leaves room for tile images taller
// than the grid.
func PixelBounds(p Projection, r image.Rectangle, maxLevel, extraTop int) image.Rectangle {
	if r.Empty() {
		return image.Rectangle{}
	}
	if maxLevel < 0 {
		maxLevel = 0
	}
	ts := p.TileSize()
	var out image.Rectangle
	corners := []image.Point{
		r.Min,
		{r.Max.X - 1, r.Min.Y},
		{r.Min.X, r.Max.Y - 1},
		{r.Max.X - 1, r.Max.Y - 1},
	}
	for _, lv := range []int{0, maxLevel} {
		for _, c := range corners {
			px := p.TileToPixel(c.X, c.Y, lv)
			out = out.Union(image.Rectangle{Min: px, Max: px.Add(ts)})
		}
	}
	out.Min.Y -= extraTop
	return out
}

// ExposedTiles converts a pixel rectangle into the tile rectangle that can
// contribute pixels to it on level.
func ExposedTiles(p Projection, pixels image.Rectangle, level int) image.Rectangle {
	if pixels.Empty() {
		return image.Rectangle{}
	}
	ts := p.TileSize()
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, c := range []image.Point{
		pixels.Min,
		{pixels.Max.X, pixels.Min.Y},
		{pixels.Min.X, pixels.Max.Y},
		pixels.Max,
	} {
		tx, ty := p.PixelToTile(float64(c.X), float64(c.Y), level)
		minX, maxX = math.Min(minX, tx), math.Max(maxX, tx)
		minY, maxY = math.Min(minY, ty), math.Max(maxY, ty)
	}
	// one tile of slack on every side for footprints and tall images
	return image.Rect(
		int(math.Floor(minX))-1, int(math.Floor(minY))-1,
		int(math.Ceil(maxX))+2, int(math.Ceil(maxY))+2+4*ts.Y/max(ts.X, 1),
	)
}
