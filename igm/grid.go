package igm

// Source exposes per-cell features to the writers.
type Source interface {
	// Size is the grid size in cells.
	Size() (width, height int)
	// Origin is the offset, in cells, added to a cell index to get the
	// coordinate written to disk.
	Origin() (x, y int)
	CellFeatures(x, y int) FeatureList
}

// Target receives features decoded by the readers. x and y are grid
// indices already translated by the origin.
type Target interface {
	Size() (width, height int)
	Origin() (x, y int)
	SetCellFeatures(x, y int, features FeatureList)
}

// Grid is a standalone row-major feature grid. It implements Source and
// Target and is the result type of Reproject and ReadBinary.
type Grid struct {
	Width, Height    int
	OriginX, OriginY int
	Cells            []FeatureList
}

func NewGrid(width, height int) *Grid {
	if width < 0 {
		width = 0
	}
	if height < 0 {
		height = 0
	}
	return &Grid{Width: width, Height: height, Cells: make([]FeatureList, width*height)}
}

func (g *Grid) Size() (int, int) {
	return g.Width, g.Height
}

func (g *Grid) Origin() (int, int) {
	return g.OriginX, g.OriginY
}

func (g *Grid) Contains(x, y int) bool {
	return x >= 0 && y >= 0 && x < g.Width && y < g.Height
}

func (g *Grid) CellFeatures(x, y int) FeatureList {
	if !g.Contains(x, y) {
		return nil
	}
	return g.Cells[y*g.Width+x]
}

func (g *Grid) SetCellFeatures(x, y int, features FeatureList) {
	if !g.Contains(x, y) {
		return
	}
	g.Cells[y*g.Width+x] = features
}

// Append adds a feature to a cell.
func (g *Grid) Append(x, y int, f *Feature) {
	if !g.Contains(x, y) {
		return
	}
	idx := y*g.Width + x
	g.Cells[idx] = append(g.Cells[idx], f)
}

// FeatureCount totals the features in every cell.
func (g *Grid) FeatureCount() int {
	n := 0
	for _, l := range g.Cells {
		n += len(l)
	}
	return n
}

// CopyFrom captures every cell of src into a new grid.
func CopyFrom(src Source) *Grid {
	w, h := src.Size()
	g := NewGrid(w, h)
	g.OriginX, g.OriginY = src.Origin()
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			g.Cells[y*w+x] = src.CellFeatures(x, y).Clone()
		}
	}
	return g
}
