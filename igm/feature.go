// Package igm reads and writes in-game-map features: per-cell geometry and
// property records exported for the game's map view. Two encodings exist,
// a readable XML form and a compact little-endian binary form.
package igm

import (
	"github.com/jakecoffman/cp"
)

// Point is a coordinate in cell-local tile units.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Geometry is a type tag ("point", "polygon", "linestring", ...) and one or
// more coordinate rings.
type Geometry struct {
	Type  string    `json:"type"`
	Rings [][]Point `json:"rings"`
}

type Property struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type Feature struct {
	Geometry   Geometry   `json:"geometry"`
	Properties []Property `json:"properties,omitempty"`
}

// FeatureList is the ordered feature collection owned by one cell.
type FeatureList []*Feature

// Clone returns a deep copy.
func (f *Feature) Clone() *Feature {
	if f == nil {
		return nil
	}
	out := &Feature{Geometry: f.Geometry.Clone()}
	if f.Properties != nil {
		out.Properties = append([]Property(nil), f.Properties...)
	}
	return out
}

func (g Geometry) Clone() Geometry {
	out := Geometry{Type: g.Type}
	if g.Rings != nil {
		out.Rings = make([][]Point, len(g.Rings))
		for i, ring := range g.Rings {
			out.Rings[i] = append([]Point(nil), ring...)
		}
	}
	return out
}

// Translate shifts every point by (dx, dy).
func (g *Geometry) Translate(dx, dy float64) {
	for _, ring := range g.Rings {
		for i := range ring {
			ring[i].X += dx
			ring[i].Y += dy
		}
	}
}

// PointCount is the number of coordinates across all rings.
func (g Geometry) PointCount() int {
	n := 0
	for _, ring := range g.Rings {
		n += len(ring)
	}
	return n
}

// Bounds returns the axis aligned box around every point. ok is false when
// the geometry has no points.
func (g Geometry) Bounds() (bb cp.BB, ok bool) {
	for _, ring := range g.Rings {
		for _, p := range ring {
			v := cp.Vector{X: p.X, Y: p.Y}
			if !ok {
				bb = cp.BB{L: v.X, B: v.Y, R: v.X, T: v.Y}
				ok = true
				continue
			}
			bb = bb.Expand(v)
		}
	}
	return bb, ok
}

// Property returns the value for key.
func (f *Feature) Property(key string) (string, bool) {
	for _, p := range f.Properties {
		if p.Key == key {
			return p.Value, true
		}
	}
	return "", false
}

// SetProperty replaces the first property named key or appends one.
func (f *Feature) SetProperty(key, value string) {
	for i := range f.Properties {
		if f.Properties[i].Key == key {
			f.Properties[i].Value = value
			return
		}
	}
	f.Properties = append(f.Properties, Property{Key: key, Value: value})
}

// Clone deep copies every feature.
func (l FeatureList) Clone() FeatureList {
	if l == nil {
		return nil
	}
	out := make(FeatureList, len(l))
	for i, f := range l {
		out[i] = f.Clone()
	}
	return out
}

// At returns the features whose bounds contain (x, y), last added first.
func (l FeatureList) At(x, y float64) []*Feature {
	var out []*Feature
	v := cp.Vector{X: x, Y: y}
	for i := len(l) - 1; i >= 0; i-- {
		bb, ok := l[i].Geometry.Bounds()
		if ok && bb.ContainsVect(v) {
			out = append(out, l[i])
		}
	}
	return out
}
