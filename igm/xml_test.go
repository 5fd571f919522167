package igm

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func square(x, y, size float64) []Point {
	return []Point{{x, y}, {x + size, y}, {x + size, y + size}, {x, y + size}}
}

func forest(x, y float64) *Feature {
	return &Feature{
		Geometry:   Geometry{Type: "polygon", Rings: [][]Point{square(x, y, 1)}},
		Properties: []Property{{Key: "natural", Value: "forest"}},
	}
}

func assertSameFeatures(t *testing.T, want, got FeatureList) {
	t.Helper()
	if len(want) != len(got) {
		t.Fatalf("feature count: want %d, got %d", len(want), len(got))
	}
	for i := range want {
		w, g := want[i], got[i]
		if w.Geometry.Type != g.Geometry.Type {
			t.Fatalf("feature %d type: want %q, got %q", i, w.Geometry.Type, g.Geometry.Type)
		}
		if len(w.Geometry.Rings) != len(g.Geometry.Rings) {
			t.Fatalf("feature %d ring count: want %d, got %d", i, len(w.Geometry.Rings), len(g.Geometry.Rings))
		}
		for r := range w.Geometry.Rings {
			if len(w.Geometry.Rings[r]) != len(g.Geometry.Rings[r]) {
				t.Fatalf("feature %d ring %d point count differs", i, r)
			}
			for p := range w.Geometry.Rings[r] {
				if w.Geometry.Rings[r][p] != g.Geometry.Rings[r][p] {
					t.Fatalf("feature %d ring %d point %d: want %v, got %v", i, r, p, w.Geometry.Rings[r][p], g.Geometry.Rings[r][p])
				}
			}
		}
		if len(w.Properties) != len(g.Properties) {
			t.Fatalf("feature %d property count differs", i)
		}
		for p := range w.Properties {
			if w.Properties[p] != g.Properties[p] {
				t.Fatalf("feature %d property %d: want %v, got %v", i, p, w.Properties[p], g.Properties[p])
			}
		}
	}
}

func TestXMLRoundTrip(t *testing.T) {
	cases := []struct {
		name   string
		origin [2]int
	}{
		{"no_origin", [2]int{0, 0}},
		{"with_origin", [2]int{20, 14}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			src := NewGrid(3, 2)
			src.OriginX, src.OriginY = c.origin[0], c.origin[1]
			src.Append(0, 0, forest(1, 1))
			src.Append(2, 1, &Feature{
				Geometry: Geometry{Type: "linestring", Rings: [][]Point{{{0.25, 10.5}, {299.75, 3.125}}}},
				Properties: []Property{
					{Key: "highway", Value: "primary"},
					{Key: "name", Value: "Main & <Second>"},
				},
			})
			src.Append(2, 1, &Feature{
				Geometry: Geometry{Type: "polygon", Rings: [][]Point{square(5, 5, 10), square(7, 7, 2)}},
			})

			var buf bytes.Buffer
			if err := WriteXML(&buf, src); err != nil {
				t.Fatalf("write: %v", err)
			}

			dst := NewGrid(3, 2)
			dst.OriginX, dst.OriginY = c.origin[0], c.origin[1]
			if err := ReadXML(&buf, dst); err != nil {
				t.Fatalf("read: %v", err)
			}
			for y := 0; y < 2; y++ {
				for x := 0; x < 3; x++ {
					assertSameFeatures(t, src.CellFeatures(x, y), dst.CellFeatures(x, y))
				}
			}
		})
	}
}

func TestWriteXMLOmitsEmptyCellsAndAddsOrigin(t *testing.T) {
	src := NewGrid(4, 4)
	src.OriginX, src.OriginY = 10, 20
	src.Append(1, 2, forest(0, 0))

	var buf bytes.Buffer
	if err := WriteXML(&buf, src); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if n := strings.Count(out, "<cell "); n != 1 {
		t.Fatalf("expected one cell element, got %d:\n%s", n, out)
	}
	if !strings.Contains(out, `<cell x="11" y="22">`) {
		t.Fatalf("cell coordinates should include origin:\n%s", out)
	}
	if !strings.Contains(out, `<world version="1.0">`) {
		t.Fatalf("missing world version:\n%s", out)
	}
}

func TestReadXMLErrors(t *testing.T) {
	cases := []struct {
		name     string
		doc      string
		wantErr  error
		wantText string
	}{
		{
			name:    "not_world",
			doc:     `<map><cell x="0" y="0"/></map>`,
			wantErr: ErrNotWorld,
		},
		{
			name:    "empty",
			doc:     ``,
			wantErr: ErrNotWorld,
		},
		{
			name:     "cell_out_of_bounds",
			doc:      "<world>\n<cell x=\"5\" y=\"0\"><feature/></cell></world>",
			wantErr:  ErrCellOutOfBounds,
			wantText: "cell 5,0",
		},
		{
			name:     "negative_after_origin",
			doc:      `<world><cell x="-1" y="0"/></world>`,
			wantErr:  ErrCellOutOfBounds,
			wantText: "cell -1,0",
		},
		{
			name:     "malformed",
			doc:      "<world>\n<cell x=\"0\" y=\"0\">\n<feature>\n</cell></world>",
			wantText: "line 4",
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			dst := NewGrid(2, 2)
			dst.Append(0, 0, forest(0, 0))
			err := ReadXML(strings.NewReader(c.doc), dst)
			if err == nil {
				t.Fatalf("expected error")
			}
			var fe *FormatError
			if !errors.As(err, &fe) {
				t.Fatalf("expected FormatError, got %T %v", err, err)
			}
			if c.wantErr != nil && !errors.Is(err, c.wantErr) {
				t.Fatalf("expected %v, got %v", c.wantErr, err)
			}
			if c.wantText != "" && !strings.Contains(err.Error(), c.wantText) {
				t.Fatalf("expected %q in %q", c.wantText, err.Error())
			}
			if got := dst.CellFeatures(0, 0); len(got) != 1 {
				t.Fatalf("target mutated by failed read: %d features", len(got))
			}
		})
	}
}

func TestReadXMLOutOfBoundsDoesNotApplyEarlierCells(t *testing.T) {
	doc := `<world>
 <cell x="1" y="1"><feature><geometry type="point"><coordinates><point x="1" y="2"/></coordinates></geometry></feature></cell>
 <cell x="9" y="9"/>
</world>`
	dst := NewGrid(2, 2)
	if err := ReadXML(strings.NewReader(doc), dst); !errors.Is(err, ErrCellOutOfBounds) {
		t.Fatalf("expected bounds error, got %v", err)
	}
	if dst.FeatureCount() != 0 {
		t.Fatalf("expected no features applied, got %d", dst.FeatureCount())
	}
}

func TestReadXMLSkipsUnknownElements(t *testing.T) {
	doc := `<?xml version="1.0"?>
<world version="1.0">
 <metadata><author>someone</author></metadata>
 <cell x="1" y="0">
  <note>ignored</note>
  <feature>
   <style color="red"/>
   <geometry type="point"><coordinates><point x="3.5" y="4.25"/></coordinates></geometry>
   <properties><property name="place" value="town"/></properties>
  </feature>
 </cell>
</world>`
	dst := NewGrid(2, 1)
	if err := ReadXML(strings.NewReader(doc), dst); err != nil {
		t.Fatalf("read: %v", err)
	}
	got := dst.CellFeatures(1, 0)
	if len(got) != 1 {
		t.Fatalf("expected 1 feature, got %d", len(got))
	}
	if p := got[0].Geometry.Rings[0][0]; p.X != 3.5 || p.Y != 4.25 {
		t.Fatalf("unexpected point %v", p)
	}
	if v, ok := got[0].Property("place"); !ok || v != "town" {
		t.Fatalf("unexpected property %q %v", v, ok)
	}
}
