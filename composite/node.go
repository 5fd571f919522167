package composite

import (
	"image"

	"github.com/milk9111/worlded/assetcache"
	"github.com/milk9111/worlded/mapdoc"
)

// NodeID indexes the composite arena. The root is always RootID.
type NodeID int

const (
	RootID NodeID = 0
	NoNode NodeID = -1
)

// Node is one map placed in the composite.
type Node struct {
	ID       NodeID
	Parent   NodeID
	Children []NodeID

	Path   string
	Handle *assetcache.Handle
	Doc    *mapdoc.Map
	State  assetcache.State
	Err    error

	// Origin and Level are relative to the parent.
	Origin image.Point
	Level  int

	absOrigin image.Point
	absLevel  int
	depth     int

	// OutOfBounds marks a lot that reaches outside the cell footprint.
	OutOfBounds bool
}

// AbsOrigin is the node origin in composite tile coordinates.
func (n *Node) AbsOrigin() image.Point {
	return n.absOrigin
}

// AbsLevel is the node level including every ancestor offset.
func (n *Node) AbsLevel() int {
	return n.absLevel
}

func (n *Node) Depth() int {
	return n.depth
}

// Size is the document size in tiles, zero until loaded.
func (n *Node) Size() (int, int) {
	if n.Doc == nil {
		return 0, 0
	}
	return n.Doc.Width, n.Doc.Height
}

// Bounds is the node footprint in composite tile coordinates.
func (n *Node) Bounds() image.Rectangle {
	w, h := n.Size()
	return image.Rect(0, 0, w, h).Add(n.absOrigin)
}

// levels returns the absolute levels the node's own layers occupy.
func (n *Node) levels() []int {
	if n.Doc == nil {
		return nil
	}
	seen := map[int]bool{}
	var out []int
	for _, l := range n.Doc.Layers {
		lv := n.absLevel + l.Level()
		if !seen[lv] {
			seen[lv] = true
			out = append(out, lv)
		}
	}
	return out
}
