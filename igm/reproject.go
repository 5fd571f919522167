package igm

import (
	"math"

	"github.com/milk9111/worlded/common"
)

// Reproject re-tiles src from oldCellSize to newCellSize tiles per cell.
// Every feature is copied into each destination cell its bounding box
// overlaps, with coordinates rebased to that cell, so a feature spanning a
// cell boundary appears more than once in the result.
func Reproject(src Source, oldCellSize, newCellSize int) *Grid {
	width, height := src.Size()
	ox, oy := src.Origin()
	oldSize := float64(oldCellSize)
	newSize := float64(newCellSize)

	scale := oldSize / newSize
	minCX := common.FloorToInt(float64(ox) * scale)
	minCY := common.FloorToInt(float64(oy) * scale)
	maxCX := common.CeilToInt(float64(ox+width) * scale)
	maxCY := common.CeilToInt(float64(oy+height) * scale)

	out := NewGrid(maxCX-minCX, maxCY-minCY)
	out.OriginX, out.OriginY = minCX, minCY

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			baseX := float64(ox+x) * oldSize
			baseY := float64(oy+y) * oldSize
			for _, f := range src.CellFeatures(x, y) {
				abs := f.Clone()
				abs.Geometry.Translate(baseX, baseY)
				bb, ok := abs.Geometry.Bounds()
				if !ok {
					continue
				}
				x0, x1 := coveredCells(bb.L, bb.R, newSize)
				y0, y1 := coveredCells(bb.B, bb.T, newSize)
				for cy := y0; cy <= y1; cy++ {
					for cx := x0; cx <= x1; cx++ {
						gx, gy := cx-minCX, cy-minCY
						if !out.Contains(gx, gy) {
							continue
						}
						dup := abs.Clone()
						dup.Geometry.Translate(-float64(cx)*newSize, -float64(cy)*newSize)
						out.Append(gx, gy, dup)
					}
				}
			}
		}
	}
	return out
}

// coveredCells returns the inclusive range of cells of the given size that
// the interval [lo, hi] overlaps. An interval ending exactly on a cell edge
// does not reach into the next cell.
func coveredCells(lo, hi, size float64) (int, int) {
	first := int(math.Floor(lo / size))
	last := int(math.Ceil(hi/size)) - 1
	if last < first {
		last = first
	}
	return first, last
}
