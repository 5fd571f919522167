package render

import (
	"image"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/milk9111/worlded/composite"
)

// Renderer keeps one VBOTiles per composite level.
type Renderer struct {
	proj   Projection
	atlas  *Atlas
	area   image.Rectangle
	offset image.Point
	levels map[int]*VBOTiles
	order  []int
}

// NewRenderer renders the tiles of area, usually one cell.
func NewRenderer(proj Projection, atlas *Atlas, area image.Rectangle) *Renderer {
	return &Renderer{proj: proj, atlas: atlas, area: area, levels: map[int]*VBOTiles{}}
}

func (r *Renderer) Atlas() *Atlas {
	return r.atlas
}

// SetOffset moves the whole drawing by off pixels.
func (r *Renderer) SetOffset(off image.Point) {
	r.offset = off
	for _, v := range r.levels {
		v.SetOffset(off)
	}
}

// Level returns the retained tiles of level, nil before the first Update
// that saw it.
func (r *Renderer) Level(level int) *VBOTiles {
	return r.levels[level]
}

// Update refreshes every level against the pixels in view, given in
// drawing coordinates.
func (r *Renderer) Update(comp *composite.Composite, view image.Rectangle) {
	r.order = comp.Levels()
	for _, lv := range r.order {
		v, ok := r.levels[lv]
		if !ok {
			v = NewVBOTiles(r.proj, r.area)
			v.SetOffset(r.offset)
			r.levels[lv] = v
		}
		exposed := ExposedTiles(r.proj, view.Sub(r.offset), lv)
		v.Update(comp.LayerGroupForLevel(lv), exposed, r.atlas)
	}
}

// Draw paints the levels seen by the last Update, ascending.
func (r *Renderer) Draw(target TriangleDrawer) {
	for _, lv := range r.order {
		r.levels[lv].Draw(target, r.atlas, &ebiten.DrawTrianglesOptions{})
	}
}
