// Package world is the editable world document: a fixed grid of cells,
// each with an optional root map, lots, objects and in-game-map features,
// plus the taxonomies and settings shared by the whole world.
//
// Every mutation goes through a Command so it can be undone and so the
// resulting Change is reported to the composite and renderer.
package world

import (
	"errors"
	"fmt"
	"image"

	"github.com/milk9111/worlded/common"
	"github.com/milk9111/worlded/igm"
)

var (
	ErrCellOutOfBounds = errors.New("world: cell out of bounds")
	ErrBadIndex        = errors.New("world: index out of range")
	ErrDuplicateName   = errors.New("world: name already in use")
	ErrEmptyName       = errors.New("world: name is empty")
)

// Property is a named value override on a cell or object.
type Property struct {
	Name  string `json:"name" yaml:"name"`
	Value string `json:"value" yaml:"value"`
}

// PropertyDef declares a property and its default value.
type PropertyDef struct {
	Name        string `json:"name" yaml:"name"`
	Default     string `json:"default,omitempty" yaml:"default,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// PropertyTemplate is a reusable set of properties. Templates may include
// other templates by name.
type PropertyTemplate struct {
	Name        string     `json:"name" yaml:"name"`
	Description string     `json:"description,omitempty" yaml:"description,omitempty"`
	Properties  []Property `json:"properties,omitempty" yaml:"properties,omitempty"`
	Templates   []string   `json:"templates,omitempty" yaml:"templates,omitempty"`
}

// ObjectType classifies cell objects. The type at index 0 is the null
// type and has an empty name.
type ObjectType struct {
	Name string `json:"name" yaml:"name"`
}

// ObjectGroup groups cell objects for display. The group at index 0 is the
// null group and has an empty name.
type ObjectGroup struct {
	Name        string `json:"name" yaml:"name"`
	Color       string `json:"color,omitempty" yaml:"color,omitempty"`
	DefaultType string `json:"default_type,omitempty" yaml:"default_type,omitempty"`
}

// Lot places a map document inside a cell.
type Lot struct {
	Path  string `json:"path"`
	X     int    `json:"x"`
	Y     int    `json:"y"`
	Level int    `json:"level"`
	// Width and Height cache the size of the referenced map, zero until it
	// has been loaded once.
	Width  int `json:"width,omitempty"`
	Height int `json:"height,omitempty"`
}

// Bounds is the lot footprint in cell tiles. A lot whose size is not known
// yet covers the whole cell.
func (l *Lot) Bounds() image.Rectangle {
	if l.Width <= 0 || l.Height <= 0 {
		return common.CellRect()
	}
	return image.Rect(l.X, l.Y, l.X+l.Width, l.Y+l.Height)
}

func (l *Lot) clone() *Lot {
	c := *l
	return &c
}

// Shape is the geometry kind of a cell object.
type Shape string

const (
	ShapeRect     Shape = "rect"
	ShapePoint    Shape = "point"
	ShapePolyline Shape = "polyline"
	ShapePolygon  Shape = "polygon"
)

// CellObject is a marker placed in a cell. Type and Group name entries of
// the world taxonomies, empty meaning the null entry.
type CellObject struct {
	Name       string      `json:"name"`
	Type       string      `json:"type,omitempty"`
	Group      string      `json:"group,omitempty"`
	Level      int         `json:"level"`
	X          float64     `json:"x"`
	Y          float64     `json:"y"`
	Width      float64     `json:"width"`
	Height     float64     `json:"height"`
	Shape      Shape       `json:"shape,omitempty"`
	Points     []igm.Point `json:"points,omitempty"`
	Visible    bool        `json:"visible"`
	Properties []Property  `json:"properties,omitempty"`
	Templates  []string    `json:"templates,omitempty"`
}

// Bounds is the object footprint in cell tiles, rounded outward.
func (o *CellObject) Bounds() image.Rectangle {
	x0, y0 := o.X, o.Y
	x1, y1 := o.X+o.Width, o.Y+o.Height
	for _, p := range o.Points {
		x0, y0 = min(x0, o.X+p.X), min(y0, o.Y+p.Y)
		x1, y1 = max(x1, o.X+p.X), max(y1, o.Y+p.Y)
	}
	return common.RectFromPoints(x0, y0, x1, y1).Bounds()
}

func (o *CellObject) clone() *CellObject {
	c := *o
	c.Points = append([]igm.Point(nil), o.Points...)
	c.Properties = append([]Property(nil), o.Properties...)
	c.Templates = append([]string(nil), o.Templates...)
	return &c
}

// Cell is one square of the world grid. Its position never changes.
type Cell struct {
	x, y int

	MapPath    string
	Lots       []*Lot
	Objects    []*CellObject
	Features   igm.FeatureList
	Properties []Property
	Templates  []string
}

func newCell(x, y int) *Cell {
	return &Cell{x: x, y: y}
}

func (c *Cell) X() int {
	return c.x
}

func (c *Cell) Y() int {
	return c.y
}

func (c *Cell) Pos() image.Point {
	return image.Pt(c.x, c.y)
}

// IsEmpty reports whether the cell holds nothing worth saving.
func (c *Cell) IsEmpty() bool {
	return c.MapPath == "" && len(c.Lots) == 0 && len(c.Objects) == 0 &&
		len(c.Features) == 0 && len(c.Properties) == 0 && len(c.Templates) == 0
}

// clone deep copies the contents of the cell.
func (c *Cell) clone() *Cell {
	out := &Cell{
		x:          c.x,
		y:          c.y,
		MapPath:    c.MapPath,
		Features:   c.Features.Clone(),
		Properties: append([]Property(nil), c.Properties...),
		Templates:  append([]string(nil), c.Templates...),
	}
	for _, l := range c.Lots {
		out.Lots = append(out.Lots, l.clone())
	}
	for _, o := range c.Objects {
		out.Objects = append(out.Objects, o.clone())
	}
	return out
}

// restore overwrites the contents of c with those of from, keeping the
// position of c.
func (c *Cell) restore(from *Cell) {
	x, y := c.x, c.y
	*c = *from.clone()
	c.x, c.y = x, y
}

// Road is a straight road between two world tile positions.
type Road struct {
	ID        int         `json:"id"`
	Start     image.Point `json:"start"`
	End       image.Point `json:"end"`
	Width     int         `json:"width"`
	TileName  string      `json:"tile_name,omitempty"`
	LineStyle string      `json:"line_style,omitempty"`
}

// BMPOverlay draws a world-sized bitmap over the grid. Pos is in cells.
type BMPOverlay struct {
	Path    string      `json:"path"`
	Pos     image.Point `json:"pos"`
	Visible bool        `json:"visible"`
}

type LotSettings struct {
	ExportDir   string      `json:"export_dir,omitempty"`
	WorldOrigin image.Point `json:"world_origin"`
	TilesetsTxt string      `json:"tilesets_txt,omitempty"`
}

type BMPToMapSettings struct {
	ExportDir         string `json:"export_dir,omitempty"`
	RulesFile         string `json:"rules_file,omitempty"`
	BlendsFile        string `json:"blends_file,omitempty"`
	MapBase           string `json:"map_base,omitempty"`
	AssignMapsToWorld bool   `json:"assign_maps_to_world"`
}

type MapToBMPSettings struct {
	ExportDir string `json:"export_dir,omitempty"`
	LotsOnly  bool   `json:"lots_only"`
	Use256    bool   `json:"use_256"`
}

// Settings are the named settings blocks of a world.
type Settings struct {
	Lots     LotSettings      `json:"lots"`
	BMPToMap BMPToMapSettings `json:"bmp_to_map"`
	MapToBMP MapToBMPSettings `json:"map_to_bmp"`
}

// World is the whole document. It is owned by one goroutine.
type World struct {
	width, height int
	cells         []*Cell

	// IGMOrigin is added to cell indices when features are written, in
	// cells.
	IGMOrigin image.Point

	propertyDefs []*PropertyDef
	templates    []*PropertyTemplate
	objectTypes  []*ObjectType
	objectGroups []*ObjectGroup
	roads        []*Road
	overlays     []*BMPOverlay
	settings     Settings
	nextRoadID   int

	// Path is the file the world was loaded from or last saved to.
	Path string

	changes changeQueue
}

// New returns an empty world of w by h cells.
func New(w, h int) *World {
	world := &World{
		objectTypes:  []*ObjectType{{}},
		objectGroups: []*ObjectGroup{{}},
		nextRoadID:   1,
	}
	world.width, world.height = max(w, 0), max(h, 0)
	world.cells = makeCells(world.width, world.height, nil, 0, 0)
	return world
}

// makeCells builds a row-major grid, reusing cells of old (sized ow by oh)
// that fall inside it.
func makeCells(w, h int, old []*Cell, ow, oh int) []*Cell {
	cells := make([]*Cell, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if x < ow && y < oh {
				cells[y*w+x] = old[y*ow+x]
				continue
			}
			cells[y*w+x] = newCell(x, y)
		}
	}
	return cells
}

func (w *World) Width() int {
	return w.width
}

func (w *World) Height() int {
	return w.height
}

func (w *World) Contains(x, y int) bool {
	return x >= 0 && y >= 0 && x < w.width && y < w.height
}

// Cell returns the cell at (x, y) or nil outside the world.
func (w *World) Cell(x, y int) *Cell {
	if !w.Contains(x, y) {
		return nil
	}
	return w.cells[y*w.width+x]
}

func (w *World) cellAt(p image.Point) (*Cell, error) {
	c := w.Cell(p.X, p.Y)
	if c == nil {
		return nil, fmt.Errorf("%w: (%d, %d) in %dx%d", ErrCellOutOfBounds, p.X, p.Y, w.width, w.height)
	}
	return c, nil
}

// Cells returns every cell in row-major order.
func (w *World) Cells() []*Cell {
	return w.cells
}

func (w *World) PropertyDefs() []*PropertyDef {
	return w.propertyDefs
}

func (w *World) Templates() []*PropertyTemplate {
	return w.templates
}

// ObjectTypes returns every type, the null type first.
func (w *World) ObjectTypes() []*ObjectType {
	return w.objectTypes
}

// ObjectGroups returns every group, the null group first.
func (w *World) ObjectGroups() []*ObjectGroup {
	return w.objectGroups
}

func (w *World) Roads() []*Road {
	return w.roads
}

func (w *World) BMPOverlays() []*BMPOverlay {
	return w.overlays
}

func (w *World) Settings() Settings {
	return w.settings
}

func (w *World) ObjectType(name string) *ObjectType {
	for _, t := range w.objectTypes {
		if t.Name == name {
			return t
		}
	}
	return nil
}

func (w *World) ObjectGroup(name string) *ObjectGroup {
	for _, g := range w.objectGroups {
		if g.Name == name {
			return g
		}
	}
	return nil
}

func (w *World) PropertyDef(name string) *PropertyDef {
	for _, d := range w.propertyDefs {
		if d.Name == name {
			return d
		}
	}
	return nil
}

func (w *World) Template(name string) *PropertyTemplate {
	for _, t := range w.templates {
		if t.Name == name {
			return t
		}
	}
	return nil
}

// ensureNulls puts exactly one null type and one null group at index 0.
func (w *World) ensureNulls() {
	types := []*ObjectType{{}}
	for _, t := range w.objectTypes {
		if t != nil && t.Name != "" {
			types = append(types, t)
		}
	}
	w.objectTypes = types
	groups := []*ObjectGroup{{}}
	for _, g := range w.objectGroups {
		if g != nil && g.Name != "" {
			groups = append(groups, g)
		}
	}
	w.objectGroups = groups
}
