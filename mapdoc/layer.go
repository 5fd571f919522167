package mapdoc

import (
	"encoding/json"
	"strconv"
	"strings"
)

// NoRenderMarker hides a layer from drawing when it appears in its name.
const NoRenderMarker = "NoRender"

// Layer is a tile layer. Tiles holds row-major global tile ids, 0 is empty.
type Layer struct {
	Name    string  `json:"name"`
	Visible bool    `json:"visible"`
	Opacity float64 `json:"opacity"`
	Tiles   []int   `json:"tiles"`
}

func NewLayer(name string, width, height int) *Layer {
	if width < 0 || height < 0 {
		width, height = 0, 0
	}
	return &Layer{Name: name, Visible: true, Opacity: 1, Tiles: make([]int, width*height)}
}

// UnmarshalJSON defaults visible and opacity for layers saved without them.
func (l *Layer) UnmarshalJSON(b []byte) error {
	type plain Layer
	p := plain{Visible: true, Opacity: 1}
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*l = Layer(p)
	return nil
}

// ParseLayerName splits "<level>_<name>". Names without a numeric prefix
// are on level 0.
func ParseLayerName(name string) (level int, base string) {
	prefix, rest, ok := strings.Cut(name, "_")
	if !ok || prefix == "" {
		return 0, name
	}
	n, err := strconv.Atoi(prefix)
	if err != nil || n < 0 {
		return 0, name
	}
	return n, rest
}

func (l *Layer) Level() int {
	lv, _ := ParseLayerName(l.Name)
	return lv
}

// BaseName is the layer name without its level prefix.
func (l *Layer) BaseName() string {
	_, base := ParseLayerName(l.Name)
	return base
}

// Renders reports whether the layer is drawn at all.
func (l *Layer) Renders() bool {
	return l.Visible && !strings.Contains(l.Name, NoRenderMarker)
}

// At returns the gid at (x, y) of a layer that is width tiles wide.
func (l *Layer) At(x, y, width int) int {
	if x < 0 || y < 0 || x >= width {
		return 0
	}
	i := y*width + x
	if i >= len(l.Tiles) {
		return 0
	}
	return l.Tiles[i]
}

func (l *Layer) Set(x, y, width, gid int) {
	if x < 0 || y < 0 || x >= width {
		return
	}
	i := y*width + x
	if i >= len(l.Tiles) {
		return
	}
	l.Tiles[i] = gid
}
