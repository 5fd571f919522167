package composite

import (
	"context"
	"errors"
	"image"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/milk9111/worlded/assetcache"
	"github.com/milk9111/worlded/mapdoc"
)

type docLayout struct {
	w, h   int
	layers map[string]int // layer name -> gid filling the whole layer
	order  []string
	lots   []mapdoc.Lot
}

func buildDoc(layout docLayout) *mapdoc.Map {
	m := &mapdoc.Map{
		Width:  layout.w,
		Height: layout.h,
		Tilesets: []*mapdoc.Tileset{
			{Name: "floors", TileW: 64, TileH: 32, Columns: 8, FirstGID: 1, Count: 64},
		},
		Lots: layout.lots,
	}
	for _, name := range layout.order {
		l := mapdoc.NewLayer(name, layout.w, layout.h)
		for i := range l.Tiles {
			l.Tiles[i] = layout.layers[name]
		}
		m.Layers = append(m.Layers, l)
	}
	return m
}

type docLoader struct {
	mu   sync.Mutex
	docs map[string]docLayout
	// gate, when set, holds every load until it is closed
	gate chan struct{}
}

func (l *docLoader) load(path string) (*mapdoc.Map, error) {
	if l.gate != nil {
		<-l.gate
	}
	l.mu.Lock()
	layout, ok := l.docs[filepath.Base(path)]
	l.mu.Unlock()
	if !ok {
		return nil, os.ErrNotExist
	}
	m := buildDoc(layout)
	m.Path = path
	return m, nil
}

func layer(name string, gid int) docLayout {
	return docLayout{w: 3, h: 3, layers: map[string]int{name: gid}, order: []string{name}}
}

func newTestCache(t *testing.T, docs map[string]docLayout) *assetcache.Cache {
	t.Helper()
	return newGatedCache(t, docs, nil)
}

func newGatedCache(t *testing.T, docs map[string]docLayout, gate chan struct{}) *assetcache.Cache {
	t.Helper()
	cache := assetcache.New(assetcache.Options{Load: (&docLoader{docs: docs, gate: gate}).load})
	t.Cleanup(cache.Close)
	return cache
}

func pumpUntilSettled(t *testing.T, cache *assetcache.Cache, c *Composite) {
	t.Helper()
	for i := 0; i < 20 && c.Pending() > 0; i++ {
		var hs []*assetcache.Handle
		for h := range c.pending {
			hs = append(hs, h)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := cache.Wait(ctx, hs...)
		cancel()
		if err != nil {
			t.Fatal(err)
		}
		cache.Pump()
	}
	if c.Pending() > 0 {
		t.Fatalf("%d loads still pending", c.Pending())
	}
}

func rootDoc(dir string) *mapdoc.Map {
	m := buildDoc(docLayout{w: 10, h: 10, layers: map[string]int{"0_Floor": 1}, order: []string{"0_Floor"}})
	m.Path = filepath.Join(dir, "cell.map.json")
	return m
}

func gids(refs []TileRef) []int {
	var out []int
	for _, r := range refs {
		out = append(out, r.GID)
	}
	return out
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestOrderedCellsAtInsertionOrder(t *testing.T) {
	dir := t.TempDir()
	cache := newTestCache(t, map[string]docLayout{
		"a.map.json": layer("0_Floor", 2),
		"b.map.json": layer("0_Floor", 3),
	})
	c := New(cache, rootDoc(dir), Options{})
	defer c.Close()

	a := c.AddMap("a.map.json", image.Pt(4, 4), 0)
	b := c.AddMap("b.map.json", image.Pt(5, 5), 0)
	pumpUntilSettled(t, cache, c)

	refs := c.OrderedCellsAt(image.Pt(5, 5), 0)
	if got := gids(refs); !equalInts(got, []int{1, 2, 3}) {
		t.Fatalf("gids %v, want root then A then B", got)
	}
	if refs[1].Node != a || refs[2].Node != b {
		t.Fatalf("contributing nodes %d %d, want %d %d", refs[1].Node, refs[2].Node, a, b)
	}
	if refs[0].Tileset.Name != "floors" || refs[2].Index != 2 {
		t.Fatalf("unexpected tile ref %+v", refs[2])
	}

	// only A covers (4,4)
	if got := gids(c.OrderedCellsAt(image.Pt(4, 4), 0)); !equalInts(got, []int{1, 2}) {
		t.Fatalf("gids at 4,4: %v", got)
	}
}

func TestNoContributionUntilLoaded(t *testing.T) {
	dir := t.TempDir()
	gate := make(chan struct{})
	cache := newGatedCache(t, map[string]docLayout{"a.map.json": layer("0_Floor", 2)}, gate)
	c := New(cache, rootDoc(dir), Options{})
	defer c.Close()

	before := c.LayerGroupForLevel(0).ChangeCount()
	id := c.AddMap("a.map.json", image.Pt(0, 0), 0)
	if n := c.Node(id); n.Doc != nil || n.State != assetcache.Loading {
		t.Fatal("document attached before the cache event was pumped")
	}
	if got := gids(c.OrderedCellsAt(image.Pt(0, 0), 0)); !equalInts(got, []int{1}) {
		t.Fatalf("gids before load %v", got)
	}
	close(gate)
	pumpUntilSettled(t, cache, c)
	if got := gids(c.OrderedCellsAt(image.Pt(0, 0), 0)); !equalInts(got, []int{1, 2}) {
		t.Fatalf("gids after load %v", got)
	}
	if c.LayerGroupForLevel(0).ChangeCount() <= before {
		t.Fatal("loading a lot did not advance the change count")
	}
}

func TestNestedLotsIntroduceLevels(t *testing.T) {
	dir := t.TempDir()
	house := layer("0_Floor", 2)
	house.lots = []mapdoc.Lot{{Path: "chair.map.json", X: 1, Y: 1, Level: 1}}
	cache := newTestCache(t, map[string]docLayout{
		"house.map.json": house,
		"chair.map.json": {w: 1, h: 1, layers: map[string]int{"1_Furniture": 5}, order: []string{"1_Furniture"}},
	})
	c := New(cache, rootDoc(dir), Options{})
	defer c.Close()

	c.AddMap("house.map.json", image.Pt(2, 2), 1)
	pumpUntilSettled(t, cache, c)

	// house level 1, chair lot +1, layer prefix +1
	if got := c.Levels(); !equalInts(got, []int{0, 1, 3}) {
		t.Fatalf("levels %v", got)
	}
	refs := c.OrderedCellsAt(image.Pt(3, 3), 3)
	if len(refs) != 1 || refs[0].GID != 5 || refs[0].Layer != "1_Furniture" {
		t.Fatalf("nested lot tiles %+v", refs)
	}
	if c.LayerGroupForLevel(2) != nil {
		t.Fatal("level 2 has no layers")
	}
	if c.MaxLevel() != 3 {
		t.Fatalf("max level %d", c.MaxLevel())
	}
}

func TestRemoveMapDropsSubtree(t *testing.T) {
	dir := t.TempDir()
	house := layer("0_Floor", 2)
	house.lots = []mapdoc.Lot{{Path: "chair.map.json", X: 0, Y: 0, Level: 0}}
	cache := newTestCache(t, map[string]docLayout{
		"house.map.json": house,
		"chair.map.json": layer("0_Floor", 4),
	})
	c := New(cache, rootDoc(dir), Options{})
	defer c.Close()

	id := c.AddMap("house.map.json", image.Pt(0, 0), 0)
	pumpUntilSettled(t, cache, c)
	if got := gids(c.OrderedCellsAt(image.Pt(0, 0), 0)); !equalInts(got, []int{1, 2, 4}) {
		t.Fatalf("gids %v", got)
	}
	houseHandle := c.Node(id).Handle
	chairID := c.Node(id).Children[0]
	chairHandle := c.Node(chairID).Handle
	before := c.LayerGroupForLevel(0).ChangeCount()

	c.RemoveMap(id)
	if got := gids(c.OrderedCellsAt(image.Pt(0, 0), 0)); !equalInts(got, []int{1}) {
		t.Fatalf("gids after remove %v", got)
	}
	if c.Node(id) != nil || c.Node(chairID) != nil {
		t.Fatal("removed nodes still in the arena")
	}
	if cache.Refs(houseHandle) != 0 || cache.Refs(chairHandle) != 0 {
		t.Fatal("handles not released")
	}
	if c.LayerGroupForLevel(0).ChangeCount() <= before {
		t.Fatal("remove did not advance the change count")
	}
	if len(c.Root().Children) != 0 {
		t.Fatalf("root children %v", c.Root().Children)
	}

	// unknown ids are ignored
	c.RemoveMap(id)
	c.RemoveMap(RootID)
}

func TestLayerVisibility(t *testing.T) {
	dir := t.TempDir()
	root := buildDoc(docLayout{
		w: 2, h: 2,
		layers: map[string]int{"0_Floor": 1, "0_Walls": 2, "0_CollisionNoRender": 3},
		order:  []string{"0_Floor", "0_Walls", "0_CollisionNoRender"},
	})
	root.Path = filepath.Join(dir, "cell.map.json")
	cache := newTestCache(t, nil)
	c := New(cache, root, Options{})
	defer c.Close()

	g := c.LayerGroupForLevel(0)
	if len(g.Layers()) != 3 || len(g.VisibleLayers()) != 2 {
		t.Fatalf("layers %d visible %d", len(g.Layers()), len(g.VisibleLayers()))
	}
	if got := gids(c.OrderedCellsAt(image.Pt(0, 0), 0)); !equalInts(got, []int{1, 2}) {
		t.Fatalf("gids %v", got)
	}

	count := g.ChangeCount()
	c.SetLayerVisible("0_Walls", false)
	if g.ChangeCount() != count+1 {
		t.Fatal("visibility toggle did not advance the change count")
	}
	if got := gids(c.OrderedCellsAt(image.Pt(0, 0), 0)); !equalInts(got, []int{1}) {
		t.Fatalf("gids with walls hidden %v", got)
	}
	c.SetLayerVisible("0_Walls", false)
	if g.ChangeCount() != count+1 {
		t.Fatal("repeating a toggle should be a no-op")
	}

	c.SetLevelVisible(0, false)
	if len(c.OrderedCellsAt(image.Pt(0, 0), 0)) != 0 {
		t.Fatal("hidden level still yields tiles")
	}
	c.SetLevelVisible(0, true)
	c.SetLevelOpacity(0, 1.5)
	if g.Opacity() != 1 {
		t.Fatalf("opacity %v", g.Opacity())
	}
}

func TestCloseIgnoresLateEvents(t *testing.T) {
	dir := t.TempDir()
	gate := make(chan struct{})
	cache := newGatedCache(t, map[string]docLayout{"a.map.json": layer("0_Floor", 2)}, gate)
	c := New(cache, rootDoc(dir), Options{})

	id := c.AddMap("a.map.json", image.Pt(0, 0), 0)
	h := c.Node(id).Handle
	c.Close()
	close(gate)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := cache.Wait(ctx, h); err != nil {
		t.Fatal(err)
	}
	cache.Pump()
	if c.Node(id).Doc != nil {
		t.Fatal("closed composite attached a document")
	}
	if cache.Refs(h) != 0 {
		t.Fatalf("refs %d after close", cache.Refs(h))
	}
	if c.AddMap("a.map.json", image.Pt(0, 0), 0) != NoNode {
		t.Fatal("AddMap on closed composite should fail")
	}
}

func TestFailedLotContributesNothing(t *testing.T) {
	dir := t.TempDir()
	cache := newTestCache(t, map[string]docLayout{"a.map.json": layer("0_Floor", 2)})
	c := New(cache, rootDoc(dir), Options{})
	defer c.Close()

	missing := c.AddMap("missing.map.json", image.Pt(0, 0), 0)
	ok := c.AddMap("a.map.json", image.Pt(0, 0), 0)
	pumpUntilSettled(t, cache, c)

	if n := c.Node(missing); n.State != assetcache.Failed || !errors.Is(n.Err, os.ErrNotExist) {
		t.Fatalf("missing lot state %v err %v", n.State, n.Err)
	}
	if c.Node(ok).State != assetcache.Ready {
		t.Fatal("sibling load affected by failure")
	}
	if got := gids(c.OrderedCellsAt(image.Pt(0, 0), 0)); !equalInts(got, []int{1, 2}) {
		t.Fatalf("gids %v", got)
	}
}

func TestCycleAndDepthLimits(t *testing.T) {
	dir := t.TempDir()
	loop := layer("0_Floor", 2)
	loop.lots = []mapdoc.Lot{{Path: "loop.map.json"}}
	deep := func(next string) docLayout {
		d := layer("0_Floor", 3)
		d.lots = []mapdoc.Lot{{Path: next}}
		return d
	}
	cache := newTestCache(t, map[string]docLayout{
		"loop.map.json": loop,
		"d1.map.json":   deep("d2.map.json"),
		"d2.map.json":   deep("d3.map.json"),
		"d3.map.json":   layer("0_Floor", 4),
	})
	c := New(cache, rootDoc(dir), Options{Detached: true, MaxDepth: 2})
	defer c.Close()

	loopID := c.AddMap("loop.map.json", image.Pt(0, 0), 0)
	d1 := c.AddMap("d1.map.json", image.Pt(0, 0), 0)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Resolve(ctx); err != nil {
		t.Fatal(err)
	}

	inner := c.Node(c.Node(loopID).Children[0])
	if inner.State != assetcache.Failed || !errors.Is(inner.Err, ErrCycle) {
		t.Fatalf("cycle not detected: %v %v", inner.State, inner.Err)
	}
	d2 := c.Node(c.Node(d1).Children[0])
	d3 := c.Node(d2.Children[0])
	if d2.State != assetcache.Ready || d3.State != assetcache.Failed || !errors.Is(d3.Err, ErrTooDeep) {
		t.Fatalf("depth limit: d2 %v d3 %v %v", d2.State, d3.State, d3.Err)
	}
}

func TestOutOfBoundsLots(t *testing.T) {
	dir := t.TempDir()
	cache := newTestCache(t, map[string]docLayout{"a.map.json": layer("0_Floor", 2)})
	c := New(cache, rootDoc(dir), Options{})
	defer c.Close()

	inside := c.AddMap("a.map.json", image.Pt(10, 10), 0)
	edge := c.AddMap("a.map.json", image.Pt(298, 0), 0)
	outside := c.AddMap("a.map.json", image.Pt(-5, 0), 0)
	pumpUntilSettled(t, cache, c)

	got := c.OutOfBoundsNodes()
	if len(got) != 2 || got[0] != edge || got[1] != outside {
		t.Fatalf("out of bounds %v, want [%d %d]", got, edge, outside)
	}
	if c.Node(inside).OutOfBounds {
		t.Fatal("inside lot flagged")
	}
	if r := c.BoundingRect(); r != image.Rect(-5, 0, 301, 13) {
		t.Fatalf("bounding rect %v", r)
	}
}

func TestOpenRequestsRoot(t *testing.T) {
	dir := t.TempDir()
	cell := layer("0_Floor", 7)
	cell.lots = []mapdoc.Lot{{Path: "a.map.json", X: 1, Y: 1}}
	cache := newTestCache(t, map[string]docLayout{
		"cell.map.json": cell,
		"a.map.json":    layer("0_Floor", 2),
	})
	c := Open(cache, filepath.Join(dir, "cell.map.json"), Options{Detached: true})
	defer c.Close()
	if err := c.Resolve(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := gids(c.OrderedCellsAt(image.Pt(1, 1), 0)); !equalInts(got, []int{7, 2}) {
		t.Fatalf("gids %v", got)
	}
}

func TestChangedSince(t *testing.T) {
	g := newLayerGroup(0)
	g.bump(image.Rect(0, 0, 30, 30), false)
	start := g.ChangeCount()
	g.bump(image.Rect(40, 40, 50, 50), false)

	if g.ChangedSince(start, image.Rect(0, 0, 30, 30)) {
		t.Fatal("region untouched by the last change reported stale")
	}
	if !g.ChangedSince(start, image.Rect(30, 30, 60, 60)) {
		t.Fatal("overlapping region not reported")
	}
	if g.ChangedSince(g.ChangeCount(), image.Rect(0, 0, 300, 300)) {
		t.Fatal("current count reported stale")
	}
	g.bump(image.Rectangle{}, true)
	if !g.ChangedSince(start, image.Rect(0, 0, 1, 1)) {
		t.Fatal("full change not reported")
	}
	for i := 0; i < changeLogSize+5; i++ {
		g.bump(image.Rect(200, 200, 201, 201), false)
	}
	if !g.ChangedSince(start, image.Rect(0, 0, 1, 1)) {
		t.Fatal("count older than the log should be stale")
	}
}
