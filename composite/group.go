package composite

import (
	"image"

	"github.com/milk9111/worlded/mapdoc"
)

// changeLogSize bounds how many dirty rectangles a group remembers. A
// consumer that fell further behind treats everything as changed.
const changeLogSize = 64

// LayerRef is one tile layer contributing to a level, placed at Origin
// in composite tile coordinates.
type LayerRef struct {
	Node   NodeID
	Doc    *mapdoc.Map
	Layer  *mapdoc.Layer
	Origin image.Point
	// Hidden is the composite level visibility override for the layer name.
	Hidden bool
}

// Renders reports whether tiles of the layer are iterated.
func (r LayerRef) Renders() bool {
	return !r.Hidden && r.Layer.Renders()
}

// Bounds is the layer footprint in composite tile coordinates.
func (r LayerRef) Bounds() image.Rectangle {
	return image.Rect(0, 0, r.Doc.Width, r.Doc.Height).Add(r.Origin)
}

// TileRef is one drawable tile at a position, as returned back to front.
type TileRef struct {
	Tileset *mapdoc.Tileset
	Index   int
	GID     int
	Node    NodeID
	Layer   string
	Opacity float64
}

type change struct {
	count int
	rect  image.Rectangle
	all   bool
}

// LayerGroup aggregates every tile layer at one level across the composite.
// Its change count advances on every structural change to the level.
type LayerGroup struct {
	level   int
	layers  []LayerRef
	visible bool
	opacity float64

	changeCount int
	log         []change
}

func newLayerGroup(level int) *LayerGroup {
	return &LayerGroup{level: level, visible: true, opacity: 1}
}

func (g *LayerGroup) Level() int {
	return g.level
}

// Layers returns every layer of the level, hidden ones included.
func (g *LayerGroup) Layers() []LayerRef {
	return g.layers
}

// VisibleLayers returns the layers that are drawn, in order.
func (g *LayerGroup) VisibleLayers() []LayerRef {
	if !g.visible {
		return nil
	}
	out := make([]LayerRef, 0, len(g.layers))
	for _, l := range g.layers {
		if l.Renders() {
			out = append(out, l)
		}
	}
	return out
}

func (g *LayerGroup) Visible() bool {
	return g.visible
}

func (g *LayerGroup) Opacity() float64 {
	return g.opacity
}

func (g *LayerGroup) ChangeCount() int {
	return g.changeCount
}

// Bounds is the union of every layer footprint.
func (g *LayerGroup) Bounds() image.Rectangle {
	var r image.Rectangle
	for _, l := range g.layers {
		r = r.Union(l.Bounds())
	}
	return r
}

// ChangedSince reports whether any change after count touched rect.
func (g *LayerGroup) ChangedSince(count int, rect image.Rectangle) bool {
	if count >= g.changeCount {
		return false
	}
	if len(g.log) == 0 || g.log[0].count > count+1 {
		return true
	}
	for _, c := range g.log {
		if c.count <= count {
			continue
		}
		if c.all || c.rect.Overlaps(rect) {
			return true
		}
	}
	return false
}

func (g *LayerGroup) bump(rect image.Rectangle, all bool) {
	g.changeCount++
	g.log = append(g.log, change{count: g.changeCount, rect: rect, all: all})
	if len(g.log) > changeLogSize {
		g.log = append(g.log[:0], g.log[len(g.log)-changeLogSize:]...)
	}
}

// CellsAt returns the tiles stacked at pos, back to front. Tiles whose gid
// resolves to no tileset are skipped.
func (g *LayerGroup) CellsAt(pos image.Point) []TileRef {
	if g == nil || !g.visible {
		return nil
	}
	var out []TileRef
	for _, l := range g.layers {
		if !l.Renders() {
			continue
		}
		local := pos.Sub(l.Origin)
		if local.X < 0 || local.Y < 0 || local.X >= l.Doc.Width || local.Y >= l.Doc.Height {
			continue
		}
		gid := l.Layer.At(local.X, local.Y, l.Doc.Width)
		if gid == 0 {
			continue
		}
		ts, idx, err := l.Doc.ResolveGID(gid)
		if err != nil {
			continue
		}
		out = append(out, TileRef{
			Tileset: ts,
			Index:   idx,
			GID:     gid,
			Node:    l.Node,
			Layer:   l.Layer.Name,
			Opacity: l.Layer.Opacity,
		})
	}
	return out
}
