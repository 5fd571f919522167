package common

import "math"

const (
	// CellSize is the native width and height of a world cell in tiles.
	CellSize = 300
	// CellSize256 is the alternate grid used by the compact in-game-map export.
	CellSize256 = 256
)

// FloorToInt and CeilToInt convert grid extents computed in float space.
func FloorToInt(v float64) int {
	return int(math.Floor(v))
}

func CeilToInt(v float64) int {
	return int(math.Ceil(v))
}
