// Package mapdoc holds the tile map document model and its JSON form.
package mapdoc

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/milk9111/worlded/fsutil"
)

var (
	ErrMissingTileset = errors.New("mapdoc: tile references no tileset")
	ErrBadLayerSize   = errors.New("mapdoc: layer size does not match map")
)

// Orientation names the projection a map is authored in.
type Orientation string

const (
	Orthogonal     Orientation = "orthogonal"
	Isometric      Orientation = "isometric"
	Staggered      Orientation = "staggered"
	LevelIsometric Orientation = "levelisometric"
)

type Tileset struct {
	Name     string `json:"name"`
	Image    string `json:"image"`
	TileW    int    `json:"tile_w"`
	TileH    int    `json:"tile_h"`
	Columns  int    `json:"columns"`
	FirstGID int    `json:"first_gid"`
	Count    int    `json:"count"`

	// Source is Image resolved against the document directory.
	Source string `json:"-"`
}

// Contains reports whether gid belongs to the tileset.
func (ts *Tileset) Contains(gid int) bool {
	return gid >= ts.FirstGID && (ts.Count <= 0 || gid < ts.FirstGID+ts.Count)
}

// Lot places another map document inside this one.
type Lot struct {
	Path  string `json:"path"`
	X     int    `json:"x"`
	Y     int    `json:"y"`
	Level int    `json:"level"`
}

type Map struct {
	Width       int         `json:"width"`
	Height      int         `json:"height"`
	TileW       int         `json:"tile_w"`
	TileH       int         `json:"tile_h"`
	Orientation Orientation `json:"orientation"`
	Tilesets    []*Tileset  `json:"tilesets"`
	Layers      []*Layer    `json:"layers"`
	Lots        []Lot       `json:"lots,omitempty"`

	// Path is the canonical file the document was read from.
	Path string `json:"-"`
}

// New returns an empty map with a single ground layer.
func New(width, height int) *Map {
	m := &Map{
		Width:       width,
		Height:      height,
		TileW:       64,
		TileH:       32,
		Orientation: LevelIsometric,
	}
	m.Layers = []*Layer{NewLayer("0_Floor", width, height)}
	return m
}

// ResolveGID maps a global tile id onto its tileset and the local index
// within it.
func (m *Map) ResolveGID(gid int) (*Tileset, int, error) {
	if gid <= 0 {
		return nil, 0, nil
	}
	var best *Tileset
	for _, ts := range m.Tilesets {
		if ts.Contains(gid) && (best == nil || ts.FirstGID > best.FirstGID) {
			best = ts
		}
	}
	if best == nil {
		return nil, 0, fmt.Errorf("%w: gid %d", ErrMissingTileset, gid)
	}
	return best, gid - best.FirstGID, nil
}

// Tileset returns the tileset named name.
func (m *Map) Tileset(name string) *Tileset {
	for _, ts := range m.Tilesets {
		if ts.Name == name {
			return ts
		}
	}
	return nil
}

// LevelCount returns the highest layer level plus one.
func (m *Map) LevelCount() int {
	n := 0
	for _, l := range m.Layers {
		if lv := l.Level(); lv+1 > n {
			n = lv + 1
		}
	}
	return n
}

// Validate checks layer sizes and that every tile resolves to a tileset.
func (m *Map) Validate() error {
	if m.Width < 0 || m.Height < 0 {
		return fmt.Errorf("mapdoc: bad size %dx%d", m.Width, m.Height)
	}
	for _, l := range m.Layers {
		if len(l.Tiles) != m.Width*m.Height {
			return fmt.Errorf("%w: layer %q has %d tiles, want %d", ErrBadLayerSize, l.Name, len(l.Tiles), m.Width*m.Height)
		}
		for _, gid := range l.Tiles {
			if _, _, err := m.ResolveGID(gid); err != nil {
				return fmt.Errorf("mapdoc: layer %q: %w", l.Name, err)
			}
		}
	}
	return nil
}

// Decode reads a JSON map document. A document without layers gets an
// empty ground layer.
func Decode(r io.Reader) (*Map, error) {
	var m Map
	if err := json.NewDecoder(r).Decode(&m); err != nil {
		return nil, fmt.Errorf("mapdoc: decode: %w", err)
	}
	if len(m.Layers) == 0 {
		m.Layers = []*Layer{NewLayer("0_Floor", m.Width, m.Height)}
	}
	for i, l := range m.Layers {
		if l == nil {
			m.Layers[i] = NewLayer(fmt.Sprintf("Layer%d", i), m.Width, m.Height)
		}
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Encode writes m as indented JSON.
func Encode(w io.Writer, m *Map) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(m); err != nil {
		return fmt.Errorf("mapdoc: encode: %w", err)
	}
	return nil
}

// Load reads path and resolves tileset image paths against its directory.
func Load(path string) (*Map, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("mapdoc: load %s: %w", path, err)
	}
	f, err := os.Open(abs)
	if err != nil {
		return nil, fmt.Errorf("mapdoc: load %s: %w", path, err)
	}
	defer f.Close()

	m, err := Decode(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("mapdoc: load %s: %w", path, err)
	}
	m.Path = abs
	m.ResolveSources(filepath.Dir(abs))
	return m, nil
}

// ResolveSources fills Tileset.Source for every tileset.
func (m *Map) ResolveSources(dir string) {
	for _, ts := range m.Tilesets {
		if ts.Image == "" {
			ts.Source = ""
			continue
		}
		if filepath.IsAbs(ts.Image) {
			ts.Source = filepath.Clean(ts.Image)
		} else {
			ts.Source = filepath.Join(dir, filepath.FromSlash(ts.Image))
		}
	}
}

// Save writes m to path through the backup protocol.
func Save(path string, m *Map) error {
	return fsutil.SaveFile(path, func(w io.Writer) error {
		return Encode(w, m)
	})
}
