package render

import (
	"image"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/milk9111/worlded/common"
	"github.com/milk9111/worlded/composite"
	"github.com/milk9111/worlded/mapdoc"
)

const (
	// RegionTiles is the side of one retained region in tiles.
	RegionTiles = 30
	// MaxQuadsPerBatch keeps batch indices inside uint16.
	MaxQuadsPerBatch = 16383
)

// TriangleDrawer receives one draw call per batch.
type TriangleDrawer interface {
	DrawTriangles(vertices []ebiten.Vertex, indices []uint16, tex TextureHandle, opts *ebiten.DrawTrianglesOptions)
}

// EbitenTarget draws batches onto an ebiten image.
type EbitenTarget struct {
	Dst *ebiten.Image
}

func (t EbitenTarget) DrawTriangles(vertices []ebiten.Vertex, indices []uint16, tex TextureHandle, opts *ebiten.DrawTrianglesOptions) {
	img, ok := tex.(*ebiten.Image)
	if !ok || t.Dst == nil {
		return
	}
	t.Dst.DrawTriangles(vertices, indices, img, opts)
}

// Batch is a run of consecutive quads of one region that sample the same
// tileset. Batches are drawn in order, so a tileset appears again after
// a layer from another tileset.
type Batch struct {
	Tileset  *mapdoc.Tileset
	Vertices []ebiten.Vertex
	Indices  []uint16
	// texCount is the texture change count the UVs were computed against.
	texCount int
}

func (b *Batch) Quads() int {
	return len(b.Vertices) / 4
}

// skippedTileset is a tileset without a texture when its region was built.
type skippedTileset struct {
	ts    *mapdoc.Tileset
	count int
}

type region struct {
	rect    image.Rectangle
	built   bool
	count   int
	opacity float64
	batches []*Batch
	skipped []skippedTileset
}

func (r *region) skip(ts *mapdoc.Tileset, atlas *Atlas) {
	for _, s := range r.skipped {
		if s.ts.Name == ts.Name {
			return
		}
	}
	r.skipped = append(r.skipped, skippedTileset{ts: ts, count: atlas.ImageChangeCount(ts)})
}

// Stats reports the work done by the most recent Update.
type Stats struct {
	Rebuilt     []int
	Revalidated int
	Skipped     int
	Batches     int
	Quads       int
}

// VBOTiles retains triangle batches for one level of a composite, split
// into square regions that are rebuilt independently.
type VBOTiles struct {
	proj    Projection
	area    image.Rectangle
	offset  image.Point
	regions []region
	group   *composite.LayerGroup
	exposed image.Rectangle
	stats   Stats
}

// NewVBOTiles covers area, in tiles, with regions of RegionTiles. An
// empty area covers one cell.
func NewVBOTiles(proj Projection, area image.Rectangle) *VBOTiles {
	if area.Empty() {
		area = common.CellRect()
	}
	v := &VBOTiles{proj: proj, area: area}
	for y := area.Min.Y; y < area.Max.Y; y += RegionTiles {
		for x := area.Min.X; x < area.Max.X; x += RegionTiles {
			r := image.Rect(x, y, x+RegionTiles, y+RegionTiles).Intersect(area)
			v.regions = append(v.regions, region{rect: r})
		}
	}
	return v
}

// SetOffset moves every vertex by off pixels. Built regions are rebuilt.
func (v *VBOTiles) SetOffset(off image.Point) {
	if off == v.offset {
		return
	}
	v.offset = off
	for i := range v.regions {
		v.regions[i].built = false
	}
}

func (v *VBOTiles) Regions() int {
	return len(v.regions)
}

// RegionRect returns the tile rectangle of region i.
func (v *VBOTiles) RegionRect(i int) image.Rectangle {
	return v.regions[i].rect
}

// RegionBatches returns the current batches of region i.
func (v *VBOTiles) RegionBatches(i int) []*Batch {
	return v.regions[i].batches
}

func (v *VBOTiles) Stats() Stats {
	return v.stats
}

// Update rebuilds the regions intersecting exposed whose contents changed
// since they were built. Regions outside exposed are left alone.
func (v *VBOTiles) Update(group *composite.LayerGroup, exposed image.Rectangle, atlas *Atlas) {
	v.stats = Stats{}
	v.exposed = exposed
	if group != v.group {
		v.group = group
		for i := range v.regions {
			v.regions[i].built = false
		}
	}
	for i := range v.regions {
		r := &v.regions[i]
		if !r.rect.Overlaps(exposed) {
			v.stats.Skipped++
			continue
		}
		if group == nil {
			r.batches, r.built = nil, false
			continue
		}
		if r.built && !v.stale(r, group, atlas) {
			if r.count != group.ChangeCount() {
				r.count = group.ChangeCount()
				v.stats.Revalidated++
			}
		} else {
			v.build(r, group, atlas)
			v.stats.Rebuilt = append(v.stats.Rebuilt, i)
		}
		v.stats.Batches += len(r.batches)
		for _, b := range r.batches {
			v.stats.Quads += b.Quads()
		}
	}
}

func (v *VBOTiles) stale(r *region, group *composite.LayerGroup, atlas *Atlas) bool {
	if r.opacity != group.Opacity() {
		return true
	}
	if group.ChangedSince(r.count, r.rect) {
		return true
	}
	for _, b := range r.batches {
		t := atlas.Texture(b.Tileset)
		if t == nil || t.ChangeCount != b.texCount {
			return true
		}
	}
	for _, s := range r.skipped {
		if atlas.ImageChangeCount(s.ts) != s.count {
			return true
		}
	}
	return false
}

// build gathers the region layer by layer, the same order DrawDirect
// paints in.
func (v *VBOTiles) build(r *region, group *composite.LayerGroup, atlas *Atlas) {
	r.batches = r.batches[:0]
	r.skipped = r.skipped[:0]
	r.count = group.ChangeCount()
	r.opacity = group.Opacity()
	r.built = true

	var last *Batch
	th := v.proj.TileSize().Y
	level := group.Level()
	for _, ref := range group.VisibleLayers() {
		area := ref.Bounds().Intersect(r.rect)
		if area.Empty() {
			continue
		}
		alpha := float32(ref.Layer.Opacity * group.Opacity())
		for y := area.Min.Y; y < area.Max.Y; y++ {
			for x := area.Min.X; x < area.Max.X; x++ {
				local := image.Pt(x, y).Sub(ref.Origin)
				gid := ref.Layer.At(local.X, local.Y, ref.Doc.Width)
				if gid == 0 {
					continue
				}
				ts, idx, err := ref.Doc.ResolveGID(gid)
				if err != nil || ts == nil {
					continue
				}
				tex := atlas.Texture(ts)
				if tex == nil {
					r.skip(ts, atlas)
					continue
				}
				src, ok := tex.TileRect(ts, idx)
				if !ok {
					continue
				}
				if last == nil || last.Tileset.Name != ts.Name || last.Quads() >= MaxQuadsPerBatch {
					last = &Batch{Tileset: ts, texCount: tex.ChangeCount}
					r.batches = append(r.batches, last)
				}
				p := v.proj.TileToPixel(x, y, level).Add(v.offset)
				dst := image.Rect(p.X, p.Y+th-src.Dy(), p.X+src.Dx(), p.Y+th)
				last.appendQuad(dst, src, alpha)
			}
		}
	}
}

// appendQuad adds a textured quad with premultiplied alpha.
func (b *Batch) appendQuad(dst, src image.Rectangle, alpha float32) {
	base := uint16(len(b.Vertices))
	x0, y0 := float32(dst.Min.X), float32(dst.Min.Y)
	x1, y1 := float32(dst.Max.X), float32(dst.Max.Y)
	u0, v0 := float32(src.Min.X), float32(src.Min.Y)
	u1, v1 := float32(src.Max.X), float32(src.Max.Y)
	b.Vertices = append(b.Vertices,
		ebiten.Vertex{DstX: x0, DstY: y0, SrcX: u0, SrcY: v0, ColorR: alpha, ColorG: alpha, ColorB: alpha, ColorA: alpha},
		ebiten.Vertex{DstX: x1, DstY: y0, SrcX: u1, SrcY: v0, ColorR: alpha, ColorG: alpha, ColorB: alpha, ColorA: alpha},
		ebiten.Vertex{DstX: x0, DstY: y1, SrcX: u0, SrcY: v1, ColorR: alpha, ColorG: alpha, ColorB: alpha, ColorA: alpha},
		ebiten.Vertex{DstX: x1, DstY: y1, SrcX: u1, SrcY: v1, ColorR: alpha, ColorG: alpha, ColorB: alpha, ColorA: alpha},
	)
	b.Indices = append(b.Indices, base, base+1, base+2, base+1, base+3, base+2)
}

// Draw issues one draw call per batch of the regions exposed at the last
// Update.
func (v *VBOTiles) Draw(target TriangleDrawer, atlas *Atlas, opts *ebiten.DrawTrianglesOptions) {
	if v.group == nil || !v.group.Visible() {
		return
	}
	for i := range v.regions {
		r := &v.regions[i]
		if !r.built || !r.rect.Overlaps(v.exposed) {
			continue
		}
		for _, b := range r.batches {
			tex := atlas.Texture(b.Tileset)
			if tex == nil || len(b.Indices) == 0 {
				continue
			}
			target.DrawTriangles(b.Vertices, b.Indices, tex.Image, opts)
		}
	}
}
