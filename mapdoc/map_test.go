package mapdoc

import (
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLayerName(t *testing.T) {
	cases := []struct {
		name  string
		level int
		base  string
	}{
		{"0_Floor", 0, "Floor"},
		{"2_Walls", 2, "Walls"},
		{"Walls", 0, "Walls"},
		{"x_Walls", 0, "x_Walls"},
		{"_Walls", 0, "_Walls"},
		{"3_Furniture_Upper", 3, "Furniture_Upper"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			level, base := ParseLayerName(c.name)
			if level != c.level || base != c.base {
				t.Fatalf("got %d %q, want %d %q", level, base, c.level, c.base)
			}
		})
	}
}

func TestLayerRenders(t *testing.T) {
	l := NewLayer("0_Floor", 1, 1)
	if !l.Renders() {
		t.Fatal("new layer should render")
	}
	l.Visible = false
	if l.Renders() {
		t.Fatal("hidden layer should not render")
	}
	if NewLayer("0_CollideNoRender", 1, 1).Renders() {
		t.Fatal("NoRender layer should not render")
	}
}

func TestDecodeDefaults(t *testing.T) {
	doc := `{
  "width": 2, "height": 1, "tile_w": 64, "tile_h": 32,
  "orientation": "levelisometric",
  "tilesets": [{"name": "floors", "image": "floors.png", "tile_w": 64, "tile_h": 32, "columns": 4, "first_gid": 1}],
  "layers": [{"name": "0_Floor", "tiles": [1, 0]}]
}`
	m, err := Decode(strings.NewReader(doc))
	if err != nil {
		t.Fatal(err)
	}
	l := m.Layers[0]
	if !l.Visible || l.Opacity != 1 {
		t.Fatalf("expected defaults, got visible=%v opacity=%v", l.Visible, l.Opacity)
	}
	ts, idx, err := m.ResolveGID(1)
	if err != nil || ts.Name != "floors" || idx != 0 {
		t.Fatalf("resolve gid: %v %v %d", err, ts, idx)
	}
}

func TestDecodeErrors(t *testing.T) {
	cases := []struct {
		name    string
		doc     string
		wantErr error
	}{
		{
			name:    "layer_size",
			doc:     `{"width": 2, "height": 2, "layers": [{"name": "0_Floor", "tiles": [0]}]}`,
			wantErr: ErrBadLayerSize,
		},
		{
			name:    "missing_tileset",
			doc:     `{"width": 1, "height": 1, "layers": [{"name": "0_Floor", "tiles": [5]}]}`,
			wantErr: ErrMissingTileset,
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := Decode(strings.NewReader(c.doc))
			if !errors.Is(err, c.wantErr) {
				t.Fatalf("expected %v, got %v", c.wantErr, err)
			}
		})
	}
}

func TestResolveGIDPicksHighestFirstGID(t *testing.T) {
	m := &Map{Tilesets: []*Tileset{
		{Name: "a", FirstGID: 1},
		{Name: "b", FirstGID: 17},
	}}
	ts, idx, err := m.ResolveGID(20)
	if err != nil || ts.Name != "b" || idx != 3 {
		t.Fatalf("got %v %d %v", ts, idx, err)
	}
	ts, idx, err = m.ResolveGID(16)
	if err != nil || ts.Name != "a" || idx != 15 {
		t.Fatalf("got %v %d %v", ts, idx, err)
	}
	if ts, _, err := m.ResolveGID(0); ts != nil || err != nil {
		t.Fatalf("gid 0 is empty, got %v %v", ts, err)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	m := New(3, 2)
	m.Tilesets = []*Tileset{{Name: "walls", Image: "img/walls.png", TileW: 64, TileH: 128, Columns: 8, FirstGID: 1}}
	m.Layers = append(m.Layers, NewLayer("1_Walls", 3, 2))
	m.Layers[1].Set(2, 1, 3, 4)
	m.Lots = []Lot{{Path: "house.map.json", X: 10, Y: 12, Level: 1}}

	path := filepath.Join(dir, "cell.map.json")
	if err := Save(path, m); err != nil {
		t.Fatal(err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.Path != path {
		t.Fatalf("path %q, want %q", got.Path, path)
	}
	if got.Layers[1].At(2, 1, got.Width) != 4 {
		t.Fatal("tile lost in round trip")
	}
	if got.LevelCount() != 2 {
		t.Fatalf("level count %d", got.LevelCount())
	}
	if want := filepath.Join(dir, "img", "walls.png"); got.Tilesets[0].Source != want {
		t.Fatalf("tileset source %q, want %q", got.Tilesets[0].Source, want)
	}
	if len(got.Lots) != 1 || got.Lots[0] != m.Lots[0] {
		t.Fatalf("lots %+v", got.Lots)
	}
}

type countingLoader struct {
	calls int
	img   image.Image
	err   error
}

func (l *countingLoader) LoadImage(string) (image.Image, error) {
	l.calls++
	return l.img, l.err
}

func TestImageStoreSharesAndReloads(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 128, 64))
	loader := &countingLoader{img: img}
	store := NewImageStore(loader, nil)
	ts := &Tileset{Name: "floors", Source: "/maps/floors.png", TileW: 64, TileH: 32, Columns: 2, FirstGID: 1}

	a := store.Get(ts)
	b := store.Get(&Tileset{Name: "other", Source: "/maps/floors.png"})
	if a != b || loader.calls != 1 {
		t.Fatalf("expected a single shared load, got %d calls", loader.calls)
	}
	if tile := store.Tile(ts, 3); tile == nil || tile.Bounds() != image.Rect(64, 32, 128, 64) {
		t.Fatalf("unexpected tile bounds %v", tile)
	}
	if store.Tile(ts, 4) != nil {
		t.Fatal("index outside the image should yield nil")
	}
	if !store.Reload("/maps/floors.png") || a.ChangeCount != 2 {
		t.Fatalf("reload did not advance change count: %d", a.ChangeCount)
	}
	if store.Reload("/maps/unknown.png") {
		t.Fatal("unknown path reported as reloaded")
	}
}

func TestImageStoreFailedTileset(t *testing.T) {
	store := NewImageStore(&countingLoader{err: os.ErrNotExist}, nil)
	ts := &Tileset{Name: "gone", Source: "/maps/gone.png", TileW: 64, TileH: 32}
	if ti := store.Get(ts); ti.Err == nil || ti.Image != nil {
		t.Fatalf("expected failed image, got %+v", ti)
	}
	if store.Tile(ts, 0) != nil {
		t.Fatal("failed tileset should not yield tiles")
	}
}

func TestFileImageLoaderFallback(t *testing.T) {
	dir := t.TempDir()
	assets := filepath.Join(dir, "assets")
	if err := os.MkdirAll(assets, 0o755); err != nil {
		t.Fatal(err)
	}
	img := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	img.Set(1, 1, color.NRGBA{R: 255, A: 255})
	f, err := os.Create(filepath.Join(assets, "tiles.png"))
	if err != nil {
		t.Fatal(err)
	}
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
	f.Close()

	loader := FileImageLoader{Fallbacks: []string{assets}}
	got, err := loader.LoadImage(filepath.Join(dir, "missing", "tiles.png"))
	if err != nil {
		t.Fatal(err)
	}
	if got.Bounds().Dx() != 2 {
		t.Fatalf("unexpected bounds %v", got.Bounds())
	}
	if _, err := loader.LoadImage(filepath.Join(dir, "nothing.png")); !os.IsNotExist(err) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}
