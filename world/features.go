package world

import (
	"cmp"
	"fmt"
	"image"
	"io"
	"os"
	"slices"

	"github.com/milk9111/worlded/common"
	"github.com/milk9111/worlded/igm"
)

// Size, Origin, CellFeatures and SetCellFeatures let the igm readers and
// writers work on the world directly. SetCellFeatures bypasses the undo
// history; editors import through ReadFeaturesXML instead.

func (w *World) Size() (int, int) {
	return w.width, w.height
}

func (w *World) Origin() (int, int) {
	return w.IGMOrigin.X, w.IGMOrigin.Y
}

func (w *World) CellFeatures(x, y int) igm.FeatureList {
	c := w.Cell(x, y)
	if c == nil {
		return nil
	}
	return c.Features
}

func (w *World) SetCellFeatures(x, y int, features igm.FeatureList) {
	if c := w.Cell(x, y); c != nil {
		c.Features = features
		w.emitWholeCell(FeaturesChanged, c.Pos())
	}
}

// featureStage collects decoded features without touching the world.
type featureStage struct {
	w, h   int
	ox, oy int
	cells  map[image.Point]igm.FeatureList
}

func (s *featureStage) Size() (int, int)   { return s.w, s.h }
func (s *featureStage) Origin() (int, int) { return s.ox, s.oy }

func (s *featureStage) SetCellFeatures(x, y int, features igm.FeatureList) {
	s.cells[image.Pt(x, y)] = features
}

// ReadFeaturesXML decodes an in-game-map XML document against the world's
// size and origin and returns the command that applies it. The world is
// not modified; a malformed document yields an error and no command.
func (w *World) ReadFeaturesXML(r io.Reader) (*ReplaceFeatures, error) {
	stage := &featureStage{w: w.width, h: w.height, ox: w.IGMOrigin.X, oy: w.IGMOrigin.Y, cells: map[image.Point]igm.FeatureList{}}
	if err := igm.ReadXML(r, stage); err != nil {
		return nil, err
	}
	return &ReplaceFeatures{Cells: stage.cells}, nil
}

// ImportFeaturesXMLFile reads path and applies it through the stack.
func (s *UndoStack) ImportFeaturesXMLFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("world: import features %s: %w", path, err)
	}
	defer f.Close()
	cmd, err := s.w.ReadFeaturesXML(f)
	if err != nil {
		return fmt.Errorf("world: import features %s: %w", path, err)
	}
	return s.Push(cmd)
}

// ReplaceFeatures swaps the feature lists of the named cells.
type ReplaceFeatures struct {
	Cells map[image.Point]igm.FeatureList
	old   map[image.Point]igm.FeatureList
}

func (c *ReplaceFeatures) Name() string { return "import features" }

func (c *ReplaceFeatures) points() []image.Point {
	pts := make([]image.Point, 0, len(c.Cells))
	for p := range c.Cells {
		pts = append(pts, p)
	}
	slices.SortFunc(pts, func(a, b image.Point) int {
		return cmp.Or(cmp.Compare(a.Y, b.Y), cmp.Compare(a.X, b.X))
	})
	return pts
}

func (c *ReplaceFeatures) Do(w *World) error {
	pts := c.points()
	for _, p := range pts {
		if _, err := w.cellAt(p); err != nil {
			return err
		}
	}
	c.old = map[image.Point]igm.FeatureList{}
	for _, p := range pts {
		cell := w.Cell(p.X, p.Y)
		c.old[p] = cell.Features
		cell.Features = c.Cells[p]
		w.emitWholeCell(FeaturesChanged, p)
	}
	return nil
}

func (c *ReplaceFeatures) Undo(w *World) {
	for _, p := range c.points() {
		w.Cell(p.X, p.Y).Features = c.old[p]
		w.emitWholeCell(FeaturesChanged, p)
	}
}

// ExportFeatures writes the world's features to path, as XML when binary
// is false. use256 reprojects binary output onto the 256 tile grid.
func (w *World) ExportFeatures(path string, binary, use256 bool) error {
	if !binary {
		return igm.ExportXMLFile(path, w)
	}
	return igm.ExportBinaryFile(path, w, use256)
}

// FeaturesAt returns the features of cell whose bounds contain the cell
// tile position, topmost first.
func (w *World) FeaturesAt(cell image.Point, x, y float64) []*igm.Feature {
	c := w.Cell(cell.X, cell.Y)
	if c == nil || !image.Pt(common.FloorToInt(x), common.FloorToInt(y)).In(common.CellRect()) {
		return nil
	}
	return c.Features.At(x, y)
}
