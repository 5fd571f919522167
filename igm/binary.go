package igm

import (
	"fmt"
	"io"
	"math"
	"os"
	"unicode/utf8"

	"github.com/milk9111/worlded/common"
	"github.com/milk9111/worlded/fsutil"
)

const (
	binaryMagic = "IGMB"
	// BinaryVersion is written by WriteBinary. Version 1 files have no
	// cell size field and always use the native cell size.
	BinaryVersion = 2

	emptyCellSentinel = -1
)

type stringTable struct {
	index map[string]int
	list  []string
}

func newStringTable() *stringTable {
	return &stringTable{index: map[string]int{}}
}

func (t *stringTable) add(s string) {
	if _, ok := t.index[s]; ok {
		return
	}
	t.index[s] = len(t.list)
	t.list = append(t.list, s)
}

func (t *stringTable) lookup(s string) uint16 {
	return uint16(t.index[s])
}

// WriteBinary writes src in the compact binary form. When use256 is set the
// features are first reprojected from the native 300 tile grid onto a 256
// tile grid. Cells with features must lie at x >= 0 once the origin is
// applied, since a negative x collides with the empty cell marker.
func WriteBinary(w io.Writer, src Source, use256 bool) error {
	cellSize := common.CellSize
	if use256 {
		src = Reproject(src, common.CellSize, common.CellSize256)
		cellSize = common.CellSize256
	}

	width, height := src.Size()
	ox, oy := src.Origin()

	strs := newStringTable()
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			features := src.CellFeatures(x, y)
			if len(features) > 0 && x+ox < 0 {
				return fmt.Errorf("%w: cell %d,%d", ErrNegativeCell, x+ox, y+oy)
			}
			for _, f := range features {
				if err := checkFeature(f); err != nil {
					return fmt.Errorf("igm: cell %d,%d: %w", x+ox, y+oy, err)
				}
				strs.add(f.Geometry.Type)
				for _, p := range f.Properties {
					strs.add(p.Key)
					strs.add(p.Value)
				}
			}
		}
	}
	if len(strs.list) > math.MaxUint16+1 {
		return fmt.Errorf("%w: %d strings", ErrTooLarge, len(strs.list))
	}

	bw := newBinWriter(w)
	bw.write([]byte(binaryMagic))
	bw.int32(BinaryVersion)
	bw.int32(int32(cellSize))
	bw.int32(int32(width))
	bw.int32(int32(height))

	bw.int32(int32(len(strs.list)))
	for _, s := range strs.list {
		bw.uint16(uint16(len(s)))
		bw.write([]byte(s))
	}

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			features := src.CellFeatures(x, y)
			if len(features) == 0 {
				bw.int32(emptyCellSentinel)
				continue
			}
			bw.int32(int32(x + ox))
			bw.int32(int32(y + oy))
			bw.int32(int32(len(features)))
			for _, f := range features {
				bw.uint16(strs.lookup(f.Geometry.Type))
				bw.uint8(uint8(len(f.Geometry.Rings)))
				for _, ring := range f.Geometry.Rings {
					bw.uint16(uint16(len(ring)))
					for _, p := range ring {
						bw.int16(truncate16(p.X))
						bw.int16(truncate16(p.Y))
					}
				}
				bw.uint8(uint8(len(f.Properties)))
				for _, p := range f.Properties {
					bw.uint16(strs.lookup(p.Key))
					bw.uint16(strs.lookup(p.Value))
				}
			}
		}
	}
	if err := bw.flush(); err != nil {
		return fmt.Errorf("igm: write binary: %w", err)
	}
	return nil
}

// truncate16 drops the fractional part toward zero. Callers validate the
// range with checkFeature first.
func truncate16(v float64) int16 {
	return int16(math.Trunc(v))
}

func checkFeature(f *Feature) error {
	if len(f.Geometry.Rings) > math.MaxUint8 {
		return fmt.Errorf("%w: %d rings", ErrTooLarge, len(f.Geometry.Rings))
	}
	if len(f.Properties) > math.MaxUint8 {
		return fmt.Errorf("%w: %d properties", ErrTooLarge, len(f.Properties))
	}
	if err := checkString(f.Geometry.Type); err != nil {
		return err
	}
	for _, ring := range f.Geometry.Rings {
		if len(ring) > math.MaxUint16 {
			return fmt.Errorf("%w: %d points in ring", ErrTooLarge, len(ring))
		}
		for _, p := range ring {
			tx, ty := math.Trunc(p.X), math.Trunc(p.Y)
			if tx < math.MinInt16 || tx > math.MaxInt16 || ty < math.MinInt16 || ty > math.MaxInt16 || math.IsNaN(p.X) || math.IsNaN(p.Y) {
				return fmt.Errorf("%w: point %g,%g", ErrTooLarge, p.X, p.Y)
			}
		}
	}
	for _, p := range f.Properties {
		if err := checkString(p.Key); err != nil {
			return err
		}
		if err := checkString(p.Value); err != nil {
			return err
		}
	}
	return nil
}

func checkString(s string) error {
	if len(s) > math.MaxUint16 {
		return fmt.Errorf("%w: string of %d bytes", ErrTooLarge, len(s))
	}
	if !utf8.ValidString(s) {
		return fmt.Errorf("igm: string %q is not valid UTF-8", s)
	}
	return nil
}

// BinaryCell is one non-empty cell record of a binary file.
type BinaryCell struct {
	// Index is the row-major position of the record in the file.
	Index    int
	X, Y     int
	Features FeatureList
}

// BinaryWorld is the decoded content of a binary file.
type BinaryWorld struct {
	Version  int
	CellSize int
	Width    int
	Height   int
	Strings  []string
	Cells    []BinaryCell
}

// Grid places the decoded records into a grid. The origin is taken from the
// first record.
func (bwld *BinaryWorld) Grid() *Grid {
	g := NewGrid(bwld.Width, bwld.Height)
	if len(bwld.Cells) > 0 && bwld.Width > 0 {
		c := bwld.Cells[0]
		g.OriginX = c.X - c.Index%bwld.Width
		g.OriginY = c.Y - c.Index/bwld.Width
	}
	for _, c := range bwld.Cells {
		g.Cells[c.Index] = c.Features
	}
	return g
}

// ReadBinary decodes a binary feature file.
func ReadBinary(r io.Reader) (*BinaryWorld, error) {
	br := newBinReader(r)
	fail := func(err error) (*BinaryWorld, error) {
		return nil, &FormatError{Offset: br.off, Err: err}
	}

	magic := br.bytes(len(binaryMagic))
	if br.err != nil {
		return fail(br.err)
	}
	if string(magic) != binaryMagic {
		return fail(ErrBadMagic)
	}

	out := &BinaryWorld{Version: int(br.int32()), CellSize: common.CellSize}
	switch out.Version {
	case 1:
	case 2:
		out.CellSize = int(br.int32())
	default:
		if br.err != nil {
			return fail(br.err)
		}
		return fail(fmt.Errorf("%w %d", ErrUnsupportedVersion, out.Version))
	}
	out.Width = int(br.int32())
	out.Height = int(br.int32())
	if br.err != nil {
		return fail(br.err)
	}
	if out.Width < 0 || out.Height < 0 || out.CellSize <= 0 {
		return fail(fmt.Errorf("igm: bad header %dx%d cell size %d", out.Width, out.Height, out.CellSize))
	}

	count := int(br.int32())
	if br.err != nil {
		return fail(br.err)
	}
	if count < 0 || count > math.MaxUint16+1 {
		return fail(fmt.Errorf("igm: bad string count %d", count))
	}
	out.Strings = make([]string, 0, count)
	for i := 0; i < count; i++ {
		n := int(br.uint16())
		s := br.bytes(n)
		if br.err != nil {
			return fail(br.err)
		}
		out.Strings = append(out.Strings, string(s))
	}

	str := func(idx uint16) (string, error) {
		if int(idx) >= len(out.Strings) {
			return "", fmt.Errorf("igm: string index %d out of range (%d strings)", idx, len(out.Strings))
		}
		return out.Strings[idx], nil
	}

	for i := 0; i < out.Width*out.Height; i++ {
		x := br.int32()
		if br.err != nil {
			return fail(br.err)
		}
		if x == emptyCellSentinel {
			continue
		}
		cell := BinaryCell{Index: i, X: int(x), Y: int(br.int32())}
		nf := int(br.int32())
		if br.err != nil {
			return fail(br.err)
		}
		if nf < 0 {
			return fail(fmt.Errorf("igm: bad feature count %d", nf))
		}
		for j := 0; j < nf; j++ {
			f := &Feature{}
			typ, err := str(br.uint16())
			if br.err != nil {
				return fail(br.err)
			}
			if err != nil {
				return fail(err)
			}
			f.Geometry.Type = typ
			rings := int(br.uint8())
			for k := 0; k < rings; k++ {
				np := int(br.uint16())
				ring := make([]Point, 0, np)
				for p := 0; p < np; p++ {
					px := br.int16()
					py := br.int16()
					ring = append(ring, Point{X: float64(px), Y: float64(py)})
				}
				f.Geometry.Rings = append(f.Geometry.Rings, ring)
			}
			props := int(br.uint8())
			for k := 0; k < props; k++ {
				key, kerr := str(br.uint16())
				value, verr := str(br.uint16())
				if br.err != nil {
					return fail(br.err)
				}
				if kerr != nil {
					return fail(kerr)
				}
				if verr != nil {
					return fail(verr)
				}
				f.Properties = append(f.Properties, Property{Key: key, Value: value})
			}
			if br.err != nil {
				return fail(br.err)
			}
			cell.Features = append(cell.Features, f)
		}
		out.Cells = append(out.Cells, cell)
	}
	return out, nil
}

// ReadBinaryFile opens and decodes path.
func ReadBinaryFile(path string) (*BinaryWorld, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("igm: open %s: %w", path, err)
	}
	defer f.Close()
	bwld, err := ReadBinary(f)
	if err != nil {
		return nil, fmt.Errorf("igm: read %s: %w", path, err)
	}
	return bwld, nil
}

// ExportBinaryFile writes src to path with the temp file and backup protocol.
func ExportBinaryFile(path string, src Source, use256 bool) error {
	return fsutil.SaveFile(path, func(w io.Writer) error {
		return WriteBinary(w, src, use256)
	})
}
