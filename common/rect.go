package common

import "image"

// Rect is a floating point rectangle in tile units.
type Rect struct {
	X, Y          float64
	Width, Height float64
}

// RectFromPoints spans the two corners in either order.
func RectFromPoints(x0, y0, x1, y1 float64) Rect {
	return Rect{X: min(x0, x1), Y: min(y0, y1), Width: max(x0, x1) - min(x0, x1), Height: max(y0, y1) - min(y0, y1)}
}

// Bounds returns the smallest integer rectangle containing r. A rectangle
// without area still covers the tile it sits in.
func (r Rect) Bounds() image.Rectangle {
	b := image.Rect(
		FloorToInt(r.X), FloorToInt(r.Y),
		CeilToInt(r.X+r.Width), CeilToInt(r.Y+r.Height),
	)
	if b.Dx() == 0 {
		b.Max.X++
	}
	if b.Dy() == 0 {
		b.Max.Y++
	}
	return b
}

// Tiles returns every tile holding a point of r, edges included.
func (r Rect) Tiles() image.Rectangle {
	return image.Rect(
		FloorToInt(r.X), FloorToInt(r.Y),
		FloorToInt(r.X+r.Width)+1, FloorToInt(r.Y+r.Height)+1,
	)
}

// CellRect returns the tile footprint of a single cell.
func CellRect() image.Rectangle {
	return image.Rect(0, 0, CellSize, CellSize)
}
