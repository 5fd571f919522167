package world

import (
	"errors"
	"fmt"
	"image"
	"slices"

	"github.com/milk9111/worlded/common"
	"github.com/milk9111/worlded/igm"
)

// AllLevels is the Change level used when every level of a cell is
// affected.
const AllLevels = -1

var ErrUnknownName = errors.New("world: no taxonomy entry with that name")

// Command is one reversible mutation. Do validates before touching the
// world, so a failed Do leaves it unchanged. Undo is only called after a
// successful Do.
type Command interface {
	Name() string
	Do(w *World) error
	Undo(w *World)
}

// insertAt places v at i, or appends when i is negative.
func insertAt[T any](s []T, i int, v T) ([]T, int, error) {
	if i < 0 {
		return append(s, v), len(s), nil
	}
	if i > len(s) {
		return s, 0, fmt.Errorf("%w: insert at %d of %d", ErrBadIndex, i, len(s))
	}
	return slices.Insert(s, i, v), i, nil
}

func removeAt[T any](s []T, i int) ([]T, T, error) {
	var zero T
	if i < 0 || i >= len(s) {
		return s, zero, fmt.Errorf("%w: remove %d of %d", ErrBadIndex, i, len(s))
	}
	v := s[i]
	return slices.Delete(s, i, i+1), v, nil
}

func at[T any](s []T, i int) (T, error) {
	var zero T
	if i < 0 || i >= len(s) {
		return zero, fmt.Errorf("%w: %d of %d", ErrBadIndex, i, len(s))
	}
	return s[i], nil
}

type SetCellMap struct {
	Cell image.Point
	Path string
	old  string
}

func (c *SetCellMap) Name() string { return "set cell map" }

func (c *SetCellMap) Do(w *World) error {
	cell, err := w.cellAt(c.Cell)
	if err != nil {
		return err
	}
	c.old, cell.MapPath = cell.MapPath, c.Path
	w.emitCell(CellMapChanged, c.Cell, AllLevels, common.CellRect())
	return nil
}

func (c *SetCellMap) Undo(w *World) {
	w.Cell(c.Cell.X, c.Cell.Y).MapPath = c.old
	w.emitCell(CellMapChanged, c.Cell, AllLevels, common.CellRect())
}

// AddLot inserts Lot at Index, or appends it when Index is negative.
type AddLot struct {
	Cell  image.Point
	Lot   *Lot
	Index int
	at    int
}

func (c *AddLot) Name() string { return "add lot" }

func (c *AddLot) Do(w *World) error {
	cell, err := w.cellAt(c.Cell)
	if err != nil {
		return err
	}
	lots, i, err := insertAt(cell.Lots, c.Index, c.Lot)
	if err != nil {
		return err
	}
	cell.Lots, c.at = lots, i
	w.emitCell(LotsChanged, c.Cell, c.Lot.Level, c.Lot.Bounds())
	return nil
}

func (c *AddLot) Undo(w *World) {
	cell := w.Cell(c.Cell.X, c.Cell.Y)
	cell.Lots, _, _ = removeAt(cell.Lots, c.at)
	w.emitCell(LotsChanged, c.Cell, c.Lot.Level, c.Lot.Bounds())
}

type RemoveLot struct {
	Cell  image.Point
	Index int
	lot   *Lot
}

func (c *RemoveLot) Name() string { return "remove lot" }

func (c *RemoveLot) Do(w *World) error {
	cell, err := w.cellAt(c.Cell)
	if err != nil {
		return err
	}
	lots, lot, err := removeAt(cell.Lots, c.Index)
	if err != nil {
		return err
	}
	cell.Lots, c.lot = lots, lot
	w.emitCell(LotsChanged, c.Cell, lot.Level, lot.Bounds())
	return nil
}

func (c *RemoveLot) Undo(w *World) {
	cell := w.Cell(c.Cell.X, c.Cell.Y)
	cell.Lots, _, _ = insertAt(cell.Lots, c.Index, c.lot)
	w.emitCell(LotsChanged, c.Cell, c.lot.Level, c.lot.Bounds())
}

// MoveLot places a lot at a new tile position and level inside its cell.
type MoveLot struct {
	Cell  image.Point
	Index int
	To    image.Point
	Level int

	from      image.Point
	fromLevel int
}

func (c *MoveLot) Name() string { return "move lot" }

func (c *MoveLot) Do(w *World) error {
	cell, err := w.cellAt(c.Cell)
	if err != nil {
		return err
	}
	lot, err := at(cell.Lots, c.Index)
	if err != nil {
		return err
	}
	c.from, c.fromLevel = image.Pt(lot.X, lot.Y), lot.Level
	c.move(w, lot, c.To, c.Level)
	return nil
}

func (c *MoveLot) Undo(w *World) {
	lot := w.Cell(c.Cell.X, c.Cell.Y).Lots[c.Index]
	c.move(w, lot, c.from, c.fromLevel)
}

func (c *MoveLot) move(w *World, lot *Lot, to image.Point, level int) {
	w.emitCell(LotsChanged, c.Cell, lot.Level, lot.Bounds())
	lot.X, lot.Y, lot.Level = to.X, to.Y, level
	w.emitCell(LotsChanged, c.Cell, lot.Level, lot.Bounds())
}

type AddObject struct {
	Cell   image.Point
	Object *CellObject
	Index  int
	at     int
}

func (c *AddObject) Name() string { return "add object" }

func (c *AddObject) Do(w *World) error {
	cell, err := w.cellAt(c.Cell)
	if err != nil {
		return err
	}
	if w.ObjectType(c.Object.Type) == nil {
		return fmt.Errorf("%w: object type %q", ErrUnknownName, c.Object.Type)
	}
	if w.ObjectGroup(c.Object.Group) == nil {
		return fmt.Errorf("%w: object group %q", ErrUnknownName, c.Object.Group)
	}
	objs, i, err := insertAt(cell.Objects, c.Index, c.Object)
	if err != nil {
		return err
	}
	cell.Objects, c.at = objs, i
	w.emitCell(ObjectsChanged, c.Cell, c.Object.Level, c.Object.Bounds())
	return nil
}

func (c *AddObject) Undo(w *World) {
	cell := w.Cell(c.Cell.X, c.Cell.Y)
	cell.Objects, _, _ = removeAt(cell.Objects, c.at)
	w.emitCell(ObjectsChanged, c.Cell, c.Object.Level, c.Object.Bounds())
}

type RemoveObject struct {
	Cell  image.Point
	Index int
	obj   *CellObject
}

func (c *RemoveObject) Name() string { return "remove object" }

func (c *RemoveObject) Do(w *World) error {
	cell, err := w.cellAt(c.Cell)
	if err != nil {
		return err
	}
	objs, obj, err := removeAt(cell.Objects, c.Index)
	if err != nil {
		return err
	}
	cell.Objects, c.obj = objs, obj
	w.emitCell(ObjectsChanged, c.Cell, obj.Level, obj.Bounds())
	return nil
}

func (c *RemoveObject) Undo(w *World) {
	cell := w.Cell(c.Cell.X, c.Cell.Y)
	cell.Objects, _, _ = insertAt(cell.Objects, c.Index, c.obj)
	w.emitCell(ObjectsChanged, c.Cell, c.obj.Level, c.obj.Bounds())
}

type MoveObject struct {
	Cell  image.Point
	Index int
	X, Y  float64
	Level int

	fromX, fromY float64
	fromLevel    int
}

func (c *MoveObject) Name() string { return "move object" }

func (c *MoveObject) Do(w *World) error {
	cell, err := w.cellAt(c.Cell)
	if err != nil {
		return err
	}
	obj, err := at(cell.Objects, c.Index)
	if err != nil {
		return err
	}
	c.fromX, c.fromY, c.fromLevel = obj.X, obj.Y, obj.Level
	c.move(w, obj, c.X, c.Y, c.Level)
	return nil
}

func (c *MoveObject) Undo(w *World) {
	obj := w.Cell(c.Cell.X, c.Cell.Y).Objects[c.Index]
	c.move(w, obj, c.fromX, c.fromY, c.fromLevel)
}

func (c *MoveObject) move(w *World, obj *CellObject, x, y float64, level int) {
	w.emitCell(ObjectsChanged, c.Cell, obj.Level, obj.Bounds())
	obj.X, obj.Y, obj.Level = x, y, level
	w.emitCell(ObjectsChanged, c.Cell, obj.Level, obj.Bounds())
}

// SetObjectProps replaces the property overrides and template list of an
// object.
type SetObjectProps struct {
	Cell       image.Point
	Index      int
	Properties []Property
	Templates  []string

	oldProps     []Property
	oldTemplates []string
}

func (c *SetObjectProps) Name() string { return "set object properties" }

func (c *SetObjectProps) Do(w *World) error {
	cell, err := w.cellAt(c.Cell)
	if err != nil {
		return err
	}
	obj, err := at(cell.Objects, c.Index)
	if err != nil {
		return err
	}
	c.oldProps, c.oldTemplates = obj.Properties, obj.Templates
	obj.Properties = slices.Clone(c.Properties)
	obj.Templates = slices.Clone(c.Templates)
	w.emitCell(ObjectsChanged, c.Cell, obj.Level, obj.Bounds())
	return nil
}

func (c *SetObjectProps) Undo(w *World) {
	obj := w.Cell(c.Cell.X, c.Cell.Y).Objects[c.Index]
	obj.Properties, obj.Templates = c.oldProps, c.oldTemplates
	w.emitCell(ObjectsChanged, c.Cell, obj.Level, obj.Bounds())
}

// SetCellProperties replaces the property overrides and template list of
// a cell.
type SetCellProperties struct {
	Cell       image.Point
	Properties []Property
	Templates  []string

	oldProps     []Property
	oldTemplates []string
}

func (c *SetCellProperties) Name() string { return "set cell properties" }

func (c *SetCellProperties) Do(w *World) error {
	cell, err := w.cellAt(c.Cell)
	if err != nil {
		return err
	}
	c.oldProps, c.oldTemplates = cell.Properties, cell.Templates
	cell.Properties = slices.Clone(c.Properties)
	cell.Templates = slices.Clone(c.Templates)
	w.emitWholeCell(CellPropertiesChanged, c.Cell)
	return nil
}

func (c *SetCellProperties) Undo(w *World) {
	cell := w.Cell(c.Cell.X, c.Cell.Y)
	cell.Properties, cell.Templates = c.oldProps, c.oldTemplates
	w.emitWholeCell(CellPropertiesChanged, c.Cell)
}

// featureRegion is the tile area covered by a feature, or the whole cell
// for a feature without points.
func featureRegion(f *igm.Feature) image.Rectangle {
	bb, ok := f.Geometry.Bounds()
	if !ok {
		return common.CellRect()
	}
	return common.RectFromPoints(bb.L, bb.B, bb.R, bb.T).Tiles()
}

type AddFeature struct {
	Cell    image.Point
	Feature *igm.Feature
	Index   int
	at      int
}

func (c *AddFeature) Name() string { return "add feature" }

func (c *AddFeature) Do(w *World) error {
	cell, err := w.cellAt(c.Cell)
	if err != nil {
		return err
	}
	fl, i, err := insertAt(cell.Features, c.Index, c.Feature)
	if err != nil {
		return err
	}
	cell.Features, c.at = fl, i
	w.emitCell(FeaturesChanged, c.Cell, 0, featureRegion(c.Feature))
	return nil
}

func (c *AddFeature) Undo(w *World) {
	cell := w.Cell(c.Cell.X, c.Cell.Y)
	cell.Features, _, _ = removeAt(cell.Features, c.at)
	w.emitCell(FeaturesChanged, c.Cell, 0, featureRegion(c.Feature))
}

type RemoveFeature struct {
	Cell    image.Point
	Index   int
	feature *igm.Feature
}

func (c *RemoveFeature) Name() string { return "remove feature" }

func (c *RemoveFeature) Do(w *World) error {
	cell, err := w.cellAt(c.Cell)
	if err != nil {
		return err
	}
	fl, f, err := removeAt(cell.Features, c.Index)
	if err != nil {
		return err
	}
	cell.Features, c.feature = fl, f
	w.emitCell(FeaturesChanged, c.Cell, 0, featureRegion(f))
	return nil
}

func (c *RemoveFeature) Undo(w *World) {
	cell := w.Cell(c.Cell.X, c.Cell.Y)
	cell.Features, _, _ = insertAt(cell.Features, c.Index, c.feature)
	w.emitCell(FeaturesChanged, c.Cell, 0, featureRegion(c.feature))
}

type SetFeatureGeometry struct {
	Cell     image.Point
	Index    int
	Geometry igm.Geometry
	old      igm.Geometry
}

func (c *SetFeatureGeometry) Name() string { return "set feature geometry" }

func (c *SetFeatureGeometry) Do(w *World) error {
	cell, err := w.cellAt(c.Cell)
	if err != nil {
		return err
	}
	f, err := at(cell.Features, c.Index)
	if err != nil {
		return err
	}
	c.old = f.Geometry
	c.set(w, f, c.Geometry.Clone())
	return nil
}

func (c *SetFeatureGeometry) Undo(w *World) {
	f := w.Cell(c.Cell.X, c.Cell.Y).Features[c.Index]
	c.set(w, f, c.old)
}

func (c *SetFeatureGeometry) set(w *World, f *igm.Feature, g igm.Geometry) {
	before := featureRegion(f)
	f.Geometry = g
	w.emitCell(FeaturesChanged, c.Cell, 0, before.Union(featureRegion(f)))
}

type SetFeatureProperties struct {
	Cell       image.Point
	Index      int
	Properties []igm.Property
	old        []igm.Property
}

func (c *SetFeatureProperties) Name() string { return "set feature properties" }

func (c *SetFeatureProperties) Do(w *World) error {
	cell, err := w.cellAt(c.Cell)
	if err != nil {
		return err
	}
	f, err := at(cell.Features, c.Index)
	if err != nil {
		return err
	}
	c.old, f.Properties = f.Properties, slices.Clone(c.Properties)
	w.emitCell(FeaturesChanged, c.Cell, 0, featureRegion(f))
	return nil
}

func (c *SetFeatureProperties) Undo(w *World) {
	f := w.Cell(c.Cell.X, c.Cell.Y).Features[c.Index]
	f.Properties = c.old
	w.emitCell(FeaturesChanged, c.Cell, 0, featureRegion(f))
}

// ClearCell resets a cell to the state of a new one.
type ClearCell struct {
	Cell image.Point
	old  *Cell
}

func (c *ClearCell) Name() string { return "clear cell" }

func (c *ClearCell) Do(w *World) error {
	cell, err := w.cellAt(c.Cell)
	if err != nil {
		return err
	}
	c.old = cell.clone()
	cell.restore(newCell(cell.x, cell.y))
	w.emitCell(CellCleared, c.Cell, AllLevels, common.CellRect())
	return nil
}

func (c *ClearCell) Undo(w *World) {
	w.Cell(c.Cell.X, c.Cell.Y).restore(c.old)
	w.emitCell(CellCleared, c.Cell, AllLevels, common.CellRect())
}

// ResizeWorld changes the grid size. Cells inside both sizes are kept,
// cells outside the new size are dropped with everything they hold.
type ResizeWorld struct {
	Width, Height int

	old        []*Cell
	oldW, oldH int
}

func (c *ResizeWorld) Name() string { return "resize world" }

func (c *ResizeWorld) Do(w *World) error {
	if c.Width < 0 || c.Height < 0 {
		return fmt.Errorf("world: resize to %dx%d: negative size", c.Width, c.Height)
	}
	c.old, c.oldW, c.oldH = w.cells, w.width, w.height
	w.Resize(c.Width, c.Height)
	return nil
}

func (c *ResizeWorld) Undo(w *World) {
	w.cells, w.width, w.height = c.old, c.oldW, c.oldH
	w.emitGlobal(WorldResized, true)
}

// Resize rebuilds the grid at w by h cells and reports a change of every
// cell. Prefer ResizeWorld when the resize must be undoable.
func (w *World) Resize(width, height int) {
	width, height = max(width, 0), max(height, 0)
	w.cells = makeCells(width, height, w.cells, w.width, w.height)
	w.width, w.height = width, height
	w.emitGlobal(WorldResized, true)
}

type SetSettings struct {
	Settings Settings
	old      Settings
}

func (c *SetSettings) Name() string { return "change settings" }

func (c *SetSettings) Do(w *World) error {
	c.old, w.settings = w.settings, c.Settings
	w.emitGlobal(SettingsChanged, false)
	return nil
}

func (c *SetSettings) Undo(w *World) {
	w.settings = c.old
	w.emitGlobal(SettingsChanged, false)
}

// AddRoad appends a road. A zero ID is replaced by the next free one.
type AddRoad struct {
	Road     *Road
	Index    int
	at       int
	assigned bool
	prevNext int
}

func (c *AddRoad) Name() string { return "add road" }

func (c *AddRoad) Do(w *World) error {
	roads, i, err := insertAt(w.roads, c.Index, c.Road)
	if err != nil {
		return err
	}
	c.prevNext = w.nextRoadID
	if c.Road.ID == 0 {
		c.Road.ID = w.nextRoadID
		c.assigned = true
	}
	w.nextRoadID = max(w.nextRoadID, c.Road.ID+1)
	w.roads, c.at = roads, i
	w.emitGlobal(RoadsChanged, false)
	return nil
}

func (c *AddRoad) Undo(w *World) {
	w.roads, _, _ = removeAt(w.roads, c.at)
	if c.assigned {
		c.Road.ID = 0
		c.assigned = false
	}
	w.nextRoadID = c.prevNext
	w.emitGlobal(RoadsChanged, false)
}

type RemoveRoad struct {
	Index int
	road  *Road
}

func (c *RemoveRoad) Name() string { return "remove road" }

func (c *RemoveRoad) Do(w *World) error {
	roads, r, err := removeAt(w.roads, c.Index)
	if err != nil {
		return err
	}
	w.roads, c.road = roads, r
	w.emitGlobal(RoadsChanged, false)
	return nil
}

func (c *RemoveRoad) Undo(w *World) {
	w.roads, _, _ = insertAt(w.roads, c.Index, c.road)
	w.emitGlobal(RoadsChanged, false)
}

type AddBMPOverlay struct {
	Overlay *BMPOverlay
	Index   int
	at      int
}

func (c *AddBMPOverlay) Name() string { return "add bmp overlay" }

func (c *AddBMPOverlay) Do(w *World) error {
	ov, i, err := insertAt(w.overlays, c.Index, c.Overlay)
	if err != nil {
		return err
	}
	w.overlays, c.at = ov, i
	w.emitGlobal(OverlaysChanged, false)
	return nil
}

func (c *AddBMPOverlay) Undo(w *World) {
	w.overlays, _, _ = removeAt(w.overlays, c.at)
	w.emitGlobal(OverlaysChanged, false)
}

type RemoveBMPOverlay struct {
	Index   int
	overlay *BMPOverlay
}

func (c *RemoveBMPOverlay) Name() string { return "remove bmp overlay" }

func (c *RemoveBMPOverlay) Do(w *World) error {
	ov, o, err := removeAt(w.overlays, c.Index)
	if err != nil {
		return err
	}
	w.overlays, c.overlay = ov, o
	w.emitGlobal(OverlaysChanged, false)
	return nil
}

func (c *RemoveBMPOverlay) Undo(w *World) {
	w.overlays, _, _ = insertAt(w.overlays, c.Index, c.overlay)
	w.emitGlobal(OverlaysChanged, false)
}

func checkNewName(name string, taken bool) error {
	if name == "" {
		return ErrEmptyName
	}
	if taken {
		return fmt.Errorf("%w: %q", ErrDuplicateName, name)
	}
	return nil
}

type AddObjectType struct {
	Type *ObjectType
}

func (c *AddObjectType) Name() string { return "add object type" }

func (c *AddObjectType) Do(w *World) error {
	if err := checkNewName(c.Type.Name, w.ObjectType(c.Type.Name) != nil); err != nil {
		return err
	}
	w.objectTypes = append(w.objectTypes, c.Type)
	w.emitGlobal(TaxonomyChanged, false)
	return nil
}

func (c *AddObjectType) Undo(w *World) {
	w.objectTypes = slices.DeleteFunc(w.objectTypes, func(t *ObjectType) bool { return t == c.Type })
	w.emitGlobal(TaxonomyChanged, false)
}

type AddObjectGroup struct {
	Group *ObjectGroup
}

func (c *AddObjectGroup) Name() string { return "add object group" }

func (c *AddObjectGroup) Do(w *World) error {
	if err := checkNewName(c.Group.Name, w.ObjectGroup(c.Group.Name) != nil); err != nil {
		return err
	}
	if w.ObjectType(c.Group.DefaultType) == nil {
		return fmt.Errorf("%w: default type %q", ErrUnknownName, c.Group.DefaultType)
	}
	w.objectGroups = append(w.objectGroups, c.Group)
	w.emitGlobal(TaxonomyChanged, false)
	return nil
}

func (c *AddObjectGroup) Undo(w *World) {
	w.objectGroups = slices.DeleteFunc(w.objectGroups, func(g *ObjectGroup) bool { return g == c.Group })
	w.emitGlobal(TaxonomyChanged, false)
}

type AddPropertyDef struct {
	Def *PropertyDef
}

func (c *AddPropertyDef) Name() string { return "add property definition" }

func (c *AddPropertyDef) Do(w *World) error {
	if err := checkNewName(c.Def.Name, w.PropertyDef(c.Def.Name) != nil); err != nil {
		return err
	}
	w.propertyDefs = append(w.propertyDefs, c.Def)
	w.emitGlobal(TaxonomyChanged, false)
	return nil
}

func (c *AddPropertyDef) Undo(w *World) {
	w.propertyDefs = slices.DeleteFunc(w.propertyDefs, func(d *PropertyDef) bool { return d == c.Def })
	w.emitGlobal(TaxonomyChanged, false)
}

type AddTemplate struct {
	Template *PropertyTemplate
}

func (c *AddTemplate) Name() string { return "add template" }

func (c *AddTemplate) Do(w *World) error {
	if err := checkNewName(c.Template.Name, w.Template(c.Template.Name) != nil); err != nil {
		return err
	}
	w.templates = append(w.templates, c.Template)
	w.emitGlobal(TaxonomyChanged, false)
	return nil
}

func (c *AddTemplate) Undo(w *World) {
	w.templates = slices.DeleteFunc(w.templates, func(t *PropertyTemplate) bool { return t == c.Template })
	w.emitGlobal(TaxonomyChanged, false)
}

// Batch applies several commands as one undo step. If one fails the
// commands already applied are undone.
type Batch struct {
	Label    string
	Commands []Command
}

func (c *Batch) Name() string { return c.Label }

func (c *Batch) Do(w *World) error {
	for i, cmd := range c.Commands {
		if err := cmd.Do(w); err != nil {
			for j := i - 1; j >= 0; j-- {
				c.Commands[j].Undo(w)
			}
			return fmt.Errorf("world: %s: %s: %w", c.Label, cmd.Name(), err)
		}
	}
	return nil
}

func (c *Batch) Undo(w *World) {
	for i := len(c.Commands) - 1; i >= 0; i-- {
		c.Commands[i].Undo(w)
	}
}
