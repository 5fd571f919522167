package igm

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"testing"
)

type rawReader struct {
	t *testing.T
	r *bytes.Reader
}

func (rr rawReader) i32() int32 {
	rr.t.Helper()
	var v int32
	if err := binary.Read(rr.r, binary.LittleEndian, &v); err != nil {
		rr.t.Fatalf("read int32: %v", err)
	}
	return v
}

func (rr rawReader) u16() uint16 {
	rr.t.Helper()
	var v uint16
	if err := binary.Read(rr.r, binary.LittleEndian, &v); err != nil {
		rr.t.Fatalf("read uint16: %v", err)
	}
	return v
}

func (rr rawReader) i16() int16 {
	return int16(rr.u16())
}

func (rr rawReader) u8() uint8 {
	rr.t.Helper()
	b, err := rr.r.ReadByte()
	if err != nil {
		rr.t.Fatalf("read byte: %v", err)
	}
	return b
}

func (rr rawReader) str() string {
	n := rr.u16()
	b := make([]byte, n)
	if _, err := rr.r.Read(b); err != nil {
		rr.t.Fatalf("read string: %v", err)
	}
	return string(b)
}

func TestEndToEndScenario(t *testing.T) {
	src := NewGrid(2, 2)
	src.Append(0, 0, &Feature{
		Geometry:   Geometry{Type: "polygon", Rings: [][]Point{{{1, 1}, {2, 1}, {2, 2}, {1, 2}}}},
		Properties: []Property{{Key: "natural", Value: "forest"}},
	})

	var xmlBuf bytes.Buffer
	if err := WriteXML(&xmlBuf, src); err != nil {
		t.Fatal(err)
	}
	fresh := NewGrid(2, 2)
	if err := ReadXML(&xmlBuf, fresh); err != nil {
		t.Fatal(err)
	}
	if fresh.FeatureCount() != 1 {
		t.Fatalf("expected a single feature, got %d", fresh.FeatureCount())
	}
	assertSameFeatures(t, src.CellFeatures(0, 0), fresh.CellFeatures(0, 0))

	var bin bytes.Buffer
	if err := WriteBinary(&bin, fresh, false); err != nil {
		t.Fatal(err)
	}
	rr := rawReader{t: t, r: bytes.NewReader(bin.Bytes())}

	magic := make([]byte, 4)
	_, _ = rr.r.Read(magic)
	if string(magic) != "IGMB" {
		t.Fatalf("magic %q", magic)
	}
	if v := rr.i32(); v != BinaryVersion {
		t.Fatalf("version %d", v)
	}
	if v := rr.i32(); v != 300 {
		t.Fatalf("cell size %d", v)
	}
	if w, h := rr.i32(), rr.i32(); w != 2 || h != 2 {
		t.Fatalf("size %dx%d", w, h)
	}
	n := rr.i32()
	var strs []string
	for i := int32(0); i < n; i++ {
		strs = append(strs, rr.str())
	}
	want := []string{"polygon", "natural", "forest"}
	if len(strs) != len(want) {
		t.Fatalf("string table %v", strs)
	}
	for i := range want {
		if strs[i] != want[i] {
			t.Fatalf("string table %v, want %v", strs, want)
		}
	}

	if x, y := rr.i32(), rr.i32(); x != 0 || y != 0 {
		t.Fatalf("cell record at %d,%d", x, y)
	}
	if c := rr.i32(); c != 1 {
		t.Fatalf("feature count %d", c)
	}
	if idx := rr.u16(); strs[idx] != "polygon" {
		t.Fatalf("type index %d", idx)
	}
	if rings := rr.u8(); rings != 1 {
		t.Fatalf("ring count %d", rings)
	}
	if pts := rr.u16(); pts != 4 {
		t.Fatalf("point count %d", pts)
	}
	wantPts := [][2]int16{{1, 1}, {2, 1}, {2, 2}, {1, 2}}
	for _, wp := range wantPts {
		if x, y := rr.i16(), rr.i16(); x != wp[0] || y != wp[1] {
			t.Fatalf("point %d,%d, want %v", x, y, wp)
		}
	}
	if props := rr.u8(); props != 1 {
		t.Fatalf("property count %d", props)
	}
	if k, v := rr.u16(), rr.u16(); strs[k] != "natural" || strs[v] != "forest" {
		t.Fatalf("property %s=%s", strs[k], strs[v])
	}
	for i := 0; i < 3; i++ {
		if s := rr.i32(); s != -1 {
			t.Fatalf("expected empty sentinel, got %d", s)
		}
	}
	if rr.r.Len() != 0 {
		t.Fatalf("%d trailing bytes", rr.r.Len())
	}
}

func TestBinaryRoundTripTruncates(t *testing.T) {
	src := NewGrid(3, 1)
	src.OriginX = 7
	src.Append(1, 0, &Feature{
		Geometry: Geometry{Type: "polygon", Rings: [][]Point{
			{{1.9, 2.1}, {-3.7, 4.5}, {299.99, -0.5}},
			{{10, 10}},
		}},
		Properties: []Property{{Key: "natural", Value: "water"}, {Key: "water", Value: "lake"}},
	})
	src.Append(2, 0, &Feature{
		Geometry:   Geometry{Type: "point", Rings: [][]Point{{{5.5, 6.5}}}},
		Properties: []Property{{Key: "natural", Value: "forest"}},
	})

	var buf bytes.Buffer
	if err := WriteBinary(&buf, src, false); err != nil {
		t.Fatal(err)
	}
	bw, err := ReadBinary(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if bw.Version != BinaryVersion || bw.CellSize != 300 || bw.Width != 3 || bw.Height != 1 {
		t.Fatalf("unexpected header %+v", bw)
	}
	wantStrings := []string{"polygon", "natural", "water", "lake", "point", "forest"}
	if len(bw.Strings) != len(wantStrings) {
		t.Fatalf("strings %v", bw.Strings)
	}
	for i := range wantStrings {
		if bw.Strings[i] != wantStrings[i] {
			t.Fatalf("strings %v, want %v", bw.Strings, wantStrings)
		}
	}

	g := bw.Grid()
	if g.OriginX != 7 || g.OriginY != 0 {
		t.Fatalf("origin %d,%d", g.OriginX, g.OriginY)
	}
	for x := 0; x < 3; x++ {
		want := src.CellFeatures(x, 0)
		got := g.CellFeatures(x, 0)
		if len(want) != len(got) {
			t.Fatalf("cell %d: want %d features, got %d", x, len(want), len(got))
		}
		for i := range want {
			for r, ring := range want[i].Geometry.Rings {
				for p, pt := range ring {
					gp := got[i].Geometry.Rings[r][p]
					if gp.X != math.Trunc(pt.X) || gp.Y != math.Trunc(pt.Y) {
						t.Fatalf("point %v decoded as %v", pt, gp)
					}
				}
			}
			if len(want[i].Properties) != len(got[i].Properties) {
				t.Fatalf("properties differ")
			}
			for p := range want[i].Properties {
				if want[i].Properties[p] != got[i].Properties[p] {
					t.Fatalf("property %v decoded as %v", want[i].Properties[p], got[i].Properties[p])
				}
			}
		}
	}
	if p := g.CellFeatures(1, 0)[0].Geometry.Rings[0][1]; p.X != -3 {
		t.Fatalf("expected truncation toward zero, got %v", p.X)
	}
}

func TestReadBinaryErrors(t *testing.T) {
	valid := func() []byte {
		src := NewGrid(1, 1)
		src.Append(0, 0, forest(1, 1))
		var buf bytes.Buffer
		if err := WriteBinary(&buf, src, false); err != nil {
			t.Fatal(err)
		}
		return buf.Bytes()
	}

	cases := []struct {
		name    string
		data    func() []byte
		wantErr error
	}{
		{"bad_magic", func() []byte { b := valid(); b[0] = 'X'; return b }, ErrBadMagic},
		{"bad_version", func() []byte { b := valid(); b[4] = 9; return b }, ErrUnsupportedVersion},
		{"truncated", func() []byte { b := valid(); return b[:len(b)-3] }, nil},
		{"short_header", func() []byte { return []byte("IG") }, nil},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := ReadBinary(bytes.NewReader(c.data()))
			if err == nil {
				t.Fatalf("expected error")
			}
			var fe *FormatError
			if !errors.As(err, &fe) {
				t.Fatalf("expected FormatError, got %T", err)
			}
			if c.wantErr != nil && !errors.Is(err, c.wantErr) {
				t.Fatalf("expected %v, got %v", c.wantErr, err)
			}
		})
	}
}

func TestReadBinaryVersion1(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("IGMB")
	le := func(v int32) { _ = binary.Write(&buf, binary.LittleEndian, v) }
	le(1)
	le(1)
	le(1)
	le(1)
	_ = binary.Write(&buf, binary.LittleEndian, uint16(5))
	buf.WriteString("point")
	le(4)
	le(6)
	le(1)
	_ = binary.Write(&buf, binary.LittleEndian, uint16(0))
	buf.WriteByte(1)
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1))
	_ = binary.Write(&buf, binary.LittleEndian, int16(-2))
	_ = binary.Write(&buf, binary.LittleEndian, int16(3))
	buf.WriteByte(0)

	bw, err := ReadBinary(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if bw.Version != 1 || bw.CellSize != 300 {
		t.Fatalf("unexpected header %+v", bw)
	}
	if len(bw.Cells) != 1 || bw.Cells[0].X != 4 || bw.Cells[0].Y != 6 {
		t.Fatalf("unexpected cells %+v", bw.Cells)
	}
	if p := bw.Cells[0].Features[0].Geometry.Rings[0][0]; p.X != -2 || p.Y != 3 {
		t.Fatalf("unexpected point %v", p)
	}
}

func TestWriteBinaryRejectsOversizedValues(t *testing.T) {
	src := NewGrid(1, 1)
	src.Append(0, 0, &Feature{Geometry: Geometry{Type: "point", Rings: [][]Point{{{40000, 0}}}}})
	var buf bytes.Buffer
	if err := WriteBinary(&buf, src, false); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("nothing should be written on validation failure, got %d bytes", buf.Len())
	}
}

func TestWriteBinaryRejectsNegativeCells(t *testing.T) {
	tree := func() *Feature {
		return &Feature{Geometry: Geometry{Type: "point", Rings: [][]Point{{{1, 1}}}}}
	}
	tests := []struct {
		name    string
		origin  int
		cellX   int
		wantErr error
	}{
		{"origin_left_of_zero", -1, 0, ErrNegativeCell},
		{"empty_cells_left_of_zero", -1, 1, nil},
		{"non_negative", 0, 0, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := NewGrid(2, 1)
			src.OriginX = tt.origin
			src.Append(tt.cellX, 0, tree())
			var buf bytes.Buffer
			err := WriteBinary(&buf, src, false)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			bw, err := ReadBinary(&buf)
			if err != nil {
				t.Fatal(err)
			}
			if len(bw.Cells) != 1 || bw.Cells[0].X != tt.cellX+tt.origin {
				t.Fatalf("cells = %+v, want one at x=%d", bw.Cells, tt.cellX+tt.origin)
			}
		})
	}
}
