package world

import (
	"bufio"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/milk9111/worlded/fsutil"
	"github.com/milk9111/worlded/igm"
)

// FormatVersion is written into every saved world.
const FormatVersion = 1

type cellDoc struct {
	X          int             `json:"x"`
	Y          int             `json:"y"`
	Map        string          `json:"map,omitempty"`
	Lots       []*Lot          `json:"lots,omitempty"`
	Objects    []*CellObject   `json:"objects,omitempty"`
	Features   igm.FeatureList `json:"features,omitempty"`
	Properties []Property      `json:"properties,omitempty"`
	Templates  []string        `json:"templates,omitempty"`
}

type worldDoc struct {
	Version      int                 `json:"version"`
	Width        int                 `json:"width"`
	Height       int                 `json:"height"`
	IGMOrigin    image.Point         `json:"igm_origin"`
	PropertyDefs []*PropertyDef      `json:"property_defs,omitempty"`
	Templates    []*PropertyTemplate `json:"templates,omitempty"`
	ObjectTypes  []*ObjectType       `json:"object_types,omitempty"`
	ObjectGroups []*ObjectGroup      `json:"object_groups,omitempty"`
	Roads        []*Road             `json:"roads,omitempty"`
	BMPOverlays  []*BMPOverlay       `json:"bmp_overlays,omitempty"`
	Settings     Settings            `json:"settings"`
	Cells        []cellDoc           `json:"cells"`
}

// Encode writes the world as JSON. Empty cells are omitted; null taxonomy
// entries are implied.
func Encode(out io.Writer, w *World) error {
	doc := worldDoc{
		Version:      FormatVersion,
		Width:        w.width,
		Height:       w.height,
		IGMOrigin:    w.IGMOrigin,
		PropertyDefs: w.propertyDefs,
		Templates:    w.templates,
		ObjectTypes:  w.objectTypes[1:],
		ObjectGroups: w.objectGroups[1:],
		Roads:        w.roads,
		BMPOverlays:  w.overlays,
		Settings:     w.settings,
		Cells:        []cellDoc{},
	}
	for _, c := range w.cells {
		if c.IsEmpty() {
			continue
		}
		doc.Cells = append(doc.Cells, cellDoc{
			X: c.x, Y: c.y,
			Map:        c.MapPath,
			Lots:       c.Lots,
			Objects:    c.Objects,
			Features:   c.Features,
			Properties: c.Properties,
			Templates:  c.Templates,
		})
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(&doc)
}

// Decode reads a world written by Encode. Objects naming a type or group
// the world does not define fall back to the null entry.
func Decode(r io.Reader) (*World, error) {
	var doc worldDoc
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("world: decode: %w", err)
	}
	if doc.Version > FormatVersion {
		return nil, fmt.Errorf("world: decode: unsupported version %d", doc.Version)
	}
	if doc.Width < 0 || doc.Height < 0 {
		return nil, fmt.Errorf("world: decode: bad size %dx%d", doc.Width, doc.Height)
	}
	w := New(doc.Width, doc.Height)
	w.IGMOrigin = doc.IGMOrigin
	w.propertyDefs = doc.PropertyDefs
	w.templates = doc.Templates
	w.objectTypes = append(w.objectTypes, doc.ObjectTypes...)
	w.objectGroups = append(w.objectGroups, doc.ObjectGroups...)
	w.ensureNulls()
	w.roads = doc.Roads
	w.overlays = doc.BMPOverlays
	w.settings = doc.Settings
	for _, r := range w.roads {
		w.nextRoadID = max(w.nextRoadID, r.ID+1)
	}
	for _, cd := range doc.Cells {
		c := w.Cell(cd.X, cd.Y)
		if c == nil {
			return nil, fmt.Errorf("world: decode: %w: (%d, %d) in %dx%d", ErrCellOutOfBounds, cd.X, cd.Y, doc.Width, doc.Height)
		}
		c.MapPath = cd.Map
		c.Lots = cd.Lots
		c.Objects = cd.Objects
		c.Features = cd.Features
		c.Properties = cd.Properties
		c.Templates = cd.Templates
		for _, o := range c.Objects {
			if w.ObjectType(o.Type) == nil {
				o.Type = ""
			}
			if w.ObjectGroup(o.Group) == nil {
				o.Group = ""
			}
		}
	}
	return w, nil
}

// Load reads a world file. Relative map paths stay relative to it.
func Load(path string) (*World, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("world: open %s: %w", path, err)
	}
	defer f.Close()
	w, err := Decode(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("world: load %s: %w", path, err)
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	w.Path = path
	return w, nil
}

// Save writes the world to path with the temp file and backup protocol
// and remembers path.
func (w *World) Save(path string) error {
	err := fsutil.SaveFile(path, func(out io.Writer) error {
		return Encode(out, w)
	})
	if err != nil {
		return err
	}
	w.Path = path
	return nil
}

// Taxonomy is the shareable part of a world: property definitions,
// templates and the object type and group lists.
type Taxonomy struct {
	PropertyDefs []*PropertyDef      `yaml:"property_defs"`
	Templates    []*PropertyTemplate `yaml:"templates"`
	ObjectTypes  []string            `yaml:"object_types"`
	ObjectGroups []*ObjectGroup      `yaml:"object_groups"`
}

// LoadTaxonomy reads a YAML taxonomy file.
func LoadTaxonomy(path string) (*Taxonomy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("world: load %s: %w", path, err)
	}
	var t Taxonomy
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("world: unmarshal %s: %w", path, err)
	}
	return &t, nil
}

// Taxonomy captures the world's taxonomies, null entries excluded.
func (w *World) Taxonomy() *Taxonomy {
	t := &Taxonomy{
		PropertyDefs: w.propertyDefs,
		Templates:    w.templates,
		ObjectGroups: w.objectGroups[1:],
	}
	for _, ot := range w.objectTypes[1:] {
		t.ObjectTypes = append(t.ObjectTypes, ot.Name)
	}
	return t
}

// ExportTaxonomy writes the world's taxonomies to a YAML file.
func (w *World) ExportTaxonomy(path string) error {
	t := w.Taxonomy()
	return fsutil.SaveFile(path, func(out io.Writer) error {
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(t); err != nil {
			return err
		}
		return enc.Close()
	})
}

// ImportTaxonomy returns one undoable command adding every entry of t the
// world does not have yet. Types come before groups so groups can name
// them as default type.
func (w *World) ImportTaxonomy(t *Taxonomy) *Batch {
	b := &Batch{Label: "import taxonomy"}
	seen := map[string]bool{}
	fresh := func(kind, name string, exists bool) bool {
		key := kind + "\x00" + name
		if name == "" || exists || seen[key] {
			return false
		}
		seen[key] = true
		return true
	}
	for _, d := range t.PropertyDefs {
		if fresh("def", d.Name, w.PropertyDef(d.Name) != nil) {
			b.Commands = append(b.Commands, &AddPropertyDef{Def: d})
		}
	}
	for _, tp := range t.Templates {
		if fresh("template", tp.Name, w.Template(tp.Name) != nil) {
			b.Commands = append(b.Commands, &AddTemplate{Template: tp})
		}
	}
	for _, name := range t.ObjectTypes {
		if fresh("type", name, w.ObjectType(name) != nil) {
			b.Commands = append(b.Commands, &AddObjectType{Type: &ObjectType{Name: name}})
		}
	}
	for _, g := range t.ObjectGroups {
		if fresh("group", g.Name, w.ObjectGroup(g.Name) != nil) {
			b.Commands = append(b.Commands, &AddObjectGroup{Group: g})
		}
	}
	return b
}

// RefreshLotSizes stores the size of every lot whose map size is known.
// size reports the width and height of a lot map path. Sizes are a cache,
// not part of the undo history; a change is emitted for each updated lot.
func (w *World) RefreshLotSizes(size func(path string) (int, int, bool)) int {
	n := 0
	for _, c := range w.cells {
		for _, l := range c.Lots {
			lw, lh, ok := size(l.Path)
			if !ok || (lw == l.Width && lh == l.Height) {
				continue
			}
			l.Width, l.Height = lw, lh
			w.emitCell(LotsChanged, c.Pos(), l.Level, l.Bounds())
			n++
		}
	}
	return n
}
