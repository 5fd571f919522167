package world

import (
	"image"

	"github.com/milk9111/worlded/common"
)

// ChangeKind says what part of the world a Change touched.
type ChangeKind int

const (
	CellMapChanged ChangeKind = iota
	LotsChanged
	ObjectsChanged
	FeaturesChanged
	CellPropertiesChanged
	CellCleared
	WorldResized
	SettingsChanged
	RoadsChanged
	OverlaysChanged
	TaxonomyChanged
)

var changeKindNames = [...]string{
	CellMapChanged:        "cell_map",
	LotsChanged:           "lots",
	ObjectsChanged:        "objects",
	FeaturesChanged:       "features",
	CellPropertiesChanged: "cell_properties",
	CellCleared:           "cell_cleared",
	WorldResized:          "world_resized",
	SettingsChanged:       "settings",
	RoadsChanged:          "roads",
	OverlaysChanged:       "overlays",
	TaxonomyChanged:       "taxonomy",
}

func (k ChangeKind) String() string {
	if k < 0 || int(k) >= len(changeKindNames) {
		return "unknown"
	}
	return changeKindNames[k]
}

// Change reports one applied mutation. Cell and Region are meaningful for
// cell scoped kinds; Region is in cell tiles. All is set when every cell
// must be treated as changed.
type Change struct {
	Kind   ChangeKind
	Cell   image.Point
	Level  int
	Region image.Rectangle
	All    bool
}

// changeQueue is a FIFO drained by the owner of the world.
type changeQueue struct {
	items []Change
}

func (q *changeQueue) push(c Change) {
	q.items = append(q.items, c)
}

func (q *changeQueue) drain() []Change {
	if len(q.items) == 0 {
		return nil
	}
	out := q.items
	q.items = nil
	return out
}

// DrainChanges returns every change since the last call, oldest first.
func (w *World) DrainChanges() []Change {
	return w.changes.drain()
}

// PendingChanges reports how many changes wait to be drained.
func (w *World) PendingChanges() int {
	return len(w.changes.items)
}

func (w *World) emitCell(kind ChangeKind, cell image.Point, level int, region image.Rectangle) {
	w.changes.push(Change{Kind: kind, Cell: cell, Level: level, Region: region})
}

func (w *World) emitWholeCell(kind ChangeKind, cell image.Point) {
	w.emitCell(kind, cell, 0, common.CellRect())
}

func (w *World) emitGlobal(kind ChangeKind, all bool) {
	w.changes.push(Change{Kind: kind, All: all})
}
