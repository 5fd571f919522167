package igm

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/milk9111/worlded/fsutil"
)

const xmlVersion = "1.0"

type xmlWorld struct {
	XMLName xml.Name  `xml:"world"`
	Version string    `xml:"version,attr"`
	Cells   []xmlCell `xml:"cell"`
}

type xmlCell struct {
	X        int          `xml:"x,attr"`
	Y        int          `xml:"y,attr"`
	Features []xmlFeature `xml:"feature"`
}

type xmlFeature struct {
	Geometry   xmlGeometry   `xml:"geometry"`
	Properties xmlProperties `xml:"properties"`
}

type xmlGeometry struct {
	Type        string           `xml:"type,attr"`
	Coordinates []xmlCoordinates `xml:"coordinates"`
}

type xmlCoordinates struct {
	Points []xmlPoint `xml:"point"`
}

type xmlPoint struct {
	X float64 `xml:"x,attr"`
	Y float64 `xml:"y,attr"`
}

type xmlProperties struct {
	Items []xmlProperty `xml:"property"`
}

type xmlProperty struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

// ReadXML parses a <world> document into dst. Cell coordinates in the file
// are world coordinates; the target origin is subtracted before lookup.
// Cells named in the document have their feature lists replaced. Nothing is
// applied to dst unless the whole document parses.
func ReadXML(r io.Reader, dst Target) error {
	width, height := dst.Size()
	ox, oy := dst.Origin()

	type staged struct {
		x, y     int
		features FeatureList
	}
	var cells []*staged
	index := map[[2]int]*staged{}

	dec := xml.NewDecoder(r)
	sawRoot := false
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return positioned(dec, err)
		}
		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		if !sawRoot {
			if se.Name.Local != "world" {
				return positioned(dec, fmt.Errorf("%w (found <%s>)", ErrNotWorld, se.Name.Local))
			}
			sawRoot = true
			continue
		}
		if se.Name.Local != "cell" {
			if err := dec.Skip(); err != nil {
				return positioned(dec, err)
			}
			continue
		}

		line, col := dec.InputPos()
		var c xmlCell
		if err := dec.DecodeElement(&c, &se); err != nil {
			return positioned(dec, err)
		}
		x, y := c.X-ox, c.Y-oy
		if x < 0 || y < 0 || x >= width || y >= height {
			return &FormatError{
				Line:   line,
				Column: col,
				Err:    fmt.Errorf("%w: cell %d,%d (grid %d,%d) not in %dx%d", ErrCellOutOfBounds, c.X, c.Y, x, y, width, height),
			}
		}

		s, ok := index[[2]int{x, y}]
		if !ok {
			s = &staged{x: x, y: y}
			index[[2]int{x, y}] = s
			cells = append(cells, s)
		}
		for _, xf := range c.Features {
			s.features = append(s.features, xf.toFeature())
		}
	}
	if !sawRoot {
		return &FormatError{Err: ErrNotWorld}
	}

	for _, s := range cells {
		dst.SetCellFeatures(s.x, s.y, s.features)
	}
	return nil
}

func positioned(dec *xml.Decoder, err error) error {
	var fe *FormatError
	if errors.As(err, &fe) {
		return err
	}
	line, col := dec.InputPos()
	return &FormatError{Line: line, Column: col, Err: err}
}

func (xf xmlFeature) toFeature() *Feature {
	f := &Feature{Geometry: Geometry{Type: xf.Geometry.Type}}
	for _, coords := range xf.Geometry.Coordinates {
		ring := make([]Point, 0, len(coords.Points))
		for _, p := range coords.Points {
			ring = append(ring, Point{X: p.X, Y: p.Y})
		}
		f.Geometry.Rings = append(f.Geometry.Rings, ring)
	}
	for _, p := range xf.Properties.Items {
		f.Properties = append(f.Properties, Property{Key: p.Name, Value: p.Value})
	}
	return f
}

func fromFeature(f *Feature) xmlFeature {
	xf := xmlFeature{Geometry: xmlGeometry{Type: f.Geometry.Type}}
	for _, ring := range f.Geometry.Rings {
		coords := xmlCoordinates{Points: make([]xmlPoint, 0, len(ring))}
		for _, p := range ring {
			coords.Points = append(coords.Points, xmlPoint{X: p.X, Y: p.Y})
		}
		xf.Geometry.Coordinates = append(xf.Geometry.Coordinates, coords)
	}
	for _, p := range f.Properties {
		xf.Properties.Items = append(xf.Properties.Items, xmlProperty{Name: p.Key, Value: p.Value})
	}
	return xf
}

// WriteXML writes every cell that has features. Cells without features are
// left out of the document.
func WriteXML(w io.Writer, src Source) error {
	width, height := src.Size()
	ox, oy := src.Origin()

	doc := xmlWorld{Version: xmlVersion}
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			features := src.CellFeatures(x, y)
			if len(features) == 0 {
				continue
			}
			cell := xmlCell{X: x + ox, Y: y + oy}
			for _, f := range features {
				cell.Features = append(cell.Features, fromFeature(f))
			}
			doc.Cells = append(doc.Cells, cell)
		}
	}

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", " ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("igm: encode xml: %w", err)
	}
	if err := enc.Flush(); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\n")
	return err
}

// ReadXMLFile opens path and reads it into dst.
func ReadXMLFile(path string, dst Target) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("igm: open %s: %w", path, err)
	}
	defer f.Close()
	if err := ReadXML(f, dst); err != nil {
		return fmt.Errorf("igm: read %s: %w", path, err)
	}
	return nil
}

// ExportXMLFile writes src to path with the temp file and backup protocol.
func ExportXMLFile(path string, src Source) error {
	return fsutil.SaveFile(path, func(w io.Writer) error {
		return WriteXML(w, src)
	})
}
