// Package composite merges a root map and the lots placed on it into one
// ordered tile layer group per level.
//
// A Composite is owned by a single goroutine. Documents arrive from the
// asset cache through HandleEvent, which the owner receives from
// assetcache.Cache.Pump, or through Resolve for detached composites used by
// batch work.
package composite

import (
	"context"
	"errors"
	"fmt"
	"image"
	"slices"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/milk9111/worlded/assetcache"
	"github.com/milk9111/worlded/common"
	"github.com/milk9111/worlded/mapdoc"
)

// DefaultMaxDepth bounds lot nesting.
const DefaultMaxDepth = 8

var (
	ErrTooDeep = errors.New("composite: lots nested too deeply")
	ErrCycle   = errors.New("composite: map contains itself")
)

type Options struct {
	Logger *zap.Logger
	// Detached composites do not subscribe to cache events; call Resolve.
	Detached bool
	MaxDepth int
	// Footprint is the area lots are expected to stay inside. Defaults to
	// one cell.
	Footprint image.Rectangle
}

type Composite struct {
	session   uuid.UUID
	cache     *assetcache.Cache
	log       *zap.Logger
	maxDepth  int
	footprint image.Rectangle

	nodes   []*Node
	groups  map[int]*LayerGroup
	pending map[*assetcache.Handle][]NodeID

	hiddenLayers map[string]bool
	levelHidden  map[int]bool
	levelOpacity map[int]float64

	dirtyLevels map[int]bool
	dirtyRect   image.Rectangle

	sub    assetcache.SubscriptionID
	closed bool
}

func newComposite(cache *assetcache.Cache, opts Options) *Composite {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultMaxDepth
	}
	if opts.Footprint.Empty() {
		opts.Footprint = common.CellRect()
	}
	c := &Composite{
		session:      uuid.New(),
		cache:        cache,
		maxDepth:     opts.MaxDepth,
		footprint:    opts.Footprint,
		groups:       map[int]*LayerGroup{},
		pending:      map[*assetcache.Handle][]NodeID{},
		hiddenLayers: map[string]bool{},
		levelHidden:  map[int]bool{},
		levelOpacity: map[int]float64{},
		dirtyLevels:  map[int]bool{},
	}
	c.log = opts.Logger.With(zap.String("composite", c.session.String()))
	if !opts.Detached {
		c.sub = cache.Subscribe(c.HandleEvent)
	}
	return c
}

// New builds a composite around an already loaded root document. root may
// be nil for a cell without a map.
func New(cache *assetcache.Cache, root *mapdoc.Map, opts Options) *Composite {
	c := newComposite(cache, opts)
	n := &Node{ID: RootID, Parent: NoNode, State: assetcache.NotRequested}
	c.nodes = append(c.nodes, n)
	if root != nil {
		n.Path = root.Path
		c.attachDoc(n, root)
		c.flush()
	}
	return c
}

// Open builds a composite whose root document is requested from the cache.
func Open(cache *assetcache.Cache, rootPath string, opts Options) *Composite {
	c := newComposite(cache, opts)
	n := &Node{ID: RootID, Parent: NoNode}
	c.nodes = append(c.nodes, n)
	c.request(n, rootPath, "")
	c.flush()
	return c
}

// Session identifies the composite in logs.
func (c *Composite) Session() uuid.UUID {
	return c.session
}

// Node returns the node for id, or nil when it was removed.
func (c *Composite) Node(id NodeID) *Node {
	if id < 0 || int(id) >= len(c.nodes) {
		return nil
	}
	return c.nodes[id]
}

func (c *Composite) Root() *Node {
	return c.nodes[RootID]
}

// AddMap places the map at path under the root at pos and level. The node
// contributes no tiles until the document has loaded.
func (c *Composite) AddMap(path string, pos image.Point, level int) NodeID {
	if c.closed {
		c.log.Error("AddMap on closed composite", zap.String("path", path))
		return NoNode
	}
	root := c.Root()
	id := c.addChild(root, path, pos, level)
	c.flush()
	return id
}

func (c *Composite) addChild(parent *Node, path string, pos image.Point, level int) NodeID {
	n := &Node{
		ID:        NodeID(len(c.nodes)),
		Parent:    parent.ID,
		Origin:    pos,
		Level:     level,
		absOrigin: parent.absOrigin.Add(pos),
		absLevel:  parent.absLevel + level,
		depth:     parent.depth + 1,
	}
	c.nodes = append(c.nodes, n)
	parent.Children = append(parent.Children, n.ID)

	relativeTo := ""
	if parent.Doc != nil {
		relativeTo = parent.Doc.Path
	}
	canon, err := assetcache.Canonical(path, relativeTo)
	if err != nil {
		c.fail(n, err)
		return n.ID
	}
	n.Path = canon
	n.OutOfBounds = !pos.In(c.footprint) && n.depth == 1

	switch {
	case n.depth > c.maxDepth:
		c.fail(n, fmt.Errorf("%w: %s at depth %d", ErrTooDeep, canon, n.depth))
	case c.hasAncestorPath(parent, canon):
		c.fail(n, fmt.Errorf("%w: %s", ErrCycle, canon))
	default:
		c.request(n, canon, "")
	}
	return n.ID
}

func (c *Composite) hasAncestorPath(n *Node, path string) bool {
	for n != nil {
		if n.Path == path {
			return true
		}
		n = c.Node(n.Parent)
	}
	return false
}

func (c *Composite) fail(n *Node, err error) {
	n.State = assetcache.Failed
	n.Err = err
	c.log.Warn("lot unavailable", zap.String("path", n.Path), zap.Error(err))
}

func (c *Composite) request(n *Node, path, relativeTo string) {
	h := c.cache.LoadMap(path, relativeTo)
	n.Handle = h
	n.Path = h.Path()
	n.State = assetcache.Loading
	if h.Settled() {
		c.settle(n)
		return
	}
	c.pending[h] = append(c.pending[h], n.ID)
}

// HandleEvent attaches a settled document to every node waiting for it.
// Events for other composites or for a closed composite are ignored.
func (c *Composite) HandleEvent(ev assetcache.Event) {
	if c.closed {
		return
	}
	if !c.resolveHandle(ev.Handle) {
		return
	}
	c.flush()
}

func (c *Composite) resolveHandle(h *assetcache.Handle) bool {
	ids, ok := c.pending[h]
	if !ok {
		return false
	}
	delete(c.pending, h)
	for _, id := range ids {
		n := c.Node(id)
		if n == nil || n.Handle != h {
			continue
		}
		c.settle(n)
	}
	return true
}

// Resolve waits for every outstanding load, nested lots included, and
// attaches the results. It is meant for detached composites.
func (c *Composite) Resolve(ctx context.Context) error {
	for len(c.pending) > 0 {
		if c.closed {
			return nil
		}
		handles := make([]*assetcache.Handle, 0, len(c.pending))
		for h := range c.pending {
			handles = append(handles, h)
		}
		if err := c.cache.Wait(ctx, handles...); err != nil {
			return err
		}
		// settle in node order so the aggregation is deterministic
		slices.SortFunc(handles, func(a, b *assetcache.Handle) int {
			return int(c.pending[a][0] - c.pending[b][0])
		})
		for _, h := range handles {
			c.resolveHandle(h)
		}
		c.flush()
	}
	return nil
}

// Pending reports how many documents the composite still waits for.
func (c *Composite) Pending() int {
	n := 0
	for _, ids := range c.pending {
		n += len(ids)
	}
	return n
}

func (c *Composite) settle(n *Node) {
	switch n.Handle.State() {
	case assetcache.Ready:
		c.attachDoc(n, n.Handle.Doc())
	case assetcache.Failed:
		c.fail(n, n.Handle.Err())
	}
}

func (c *Composite) attachDoc(n *Node, doc *mapdoc.Map) {
	n.Doc = doc
	n.State = assetcache.Ready
	if n.depth == 1 {
		n.OutOfBounds = !n.Bounds().In(c.footprint)
	}
	for _, lot := range doc.Lots {
		c.addChild(n, lot.Path, image.Pt(lot.X, lot.Y), lot.Level)
	}
	c.touch(n.levels(), n.Bounds())
}

// RemoveMap detaches a node and everything nested under it.
func (c *Composite) RemoveMap(id NodeID) {
	n := c.Node(id)
	if n == nil || id == RootID {
		c.log.Error("RemoveMap of unknown or root node", zap.Int("node", int(id)))
		return
	}
	if p := c.Node(n.Parent); p != nil {
		p.Children = slices.DeleteFunc(p.Children, func(cid NodeID) bool { return cid == id })
	}
	c.dropSubtree(n)
	c.flush()
}

func (c *Composite) dropSubtree(n *Node) {
	for _, cid := range n.Children {
		if child := c.Node(cid); child != nil {
			c.dropSubtree(child)
		}
	}
	c.touch(n.levels(), n.Bounds())
	if n.Handle != nil {
		if ids, ok := c.pending[n.Handle]; ok {
			ids = slices.DeleteFunc(ids, func(pid NodeID) bool { return pid == n.ID })
			if len(ids) == 0 {
				delete(c.pending, n.Handle)
			} else {
				c.pending[n.Handle] = ids
			}
		}
		c.cache.Release(n.Handle)
	}
	c.nodes[n.ID] = nil
}

// Nodes returns the live nodes in id order.
func (c *Composite) Nodes() []*Node {
	out := make([]*Node, 0, len(c.nodes))
	for _, n := range c.nodes {
		if n != nil {
			out = append(out, n)
		}
	}
	return out
}

// OutOfBoundsNodes lists lots reaching outside the footprint.
func (c *Composite) OutOfBoundsNodes() []NodeID {
	var out []NodeID
	for _, n := range c.nodes {
		if n != nil && n.OutOfBounds {
			out = append(out, n.ID)
		}
	}
	return out
}

// LayerGroupForLevel returns the aggregated group, or nil when no layer
// sits on the level.
func (c *Composite) LayerGroupForLevel(level int) *LayerGroup {
	g, ok := c.groups[level]
	if !ok || len(g.layers) == 0 {
		return nil
	}
	return g
}

// Levels lists the levels that have layers, ascending.
func (c *Composite) Levels() []int {
	var out []int
	for lv, g := range c.groups {
		if len(g.layers) > 0 {
			out = append(out, lv)
		}
	}
	slices.Sort(out)
	return out
}

// MaxLevel returns the highest populated level, or -1.
func (c *Composite) MaxLevel() int {
	levels := c.Levels()
	if len(levels) == 0 {
		return -1
	}
	return levels[len(levels)-1]
}

// OrderedCellsAt returns the tiles at pos on level, back to front.
func (c *Composite) OrderedCellsAt(pos image.Point, level int) []TileRef {
	return c.LayerGroupForLevel(level).CellsAt(pos)
}

// BoundingRect is the union of every loaded map footprint in tiles.
func (c *Composite) BoundingRect() image.Rectangle {
	var r image.Rectangle
	for _, n := range c.nodes {
		if n != nil && n.Doc != nil {
			r = r.Union(n.Bounds())
		}
	}
	return r
}

// SetLayerVisible toggles every layer named name.
func (c *Composite) SetLayerVisible(name string, visible bool) {
	if c.hiddenLayers[name] == !visible {
		return
	}
	if visible {
		delete(c.hiddenLayers, name)
	} else {
		c.hiddenLayers[name] = true
	}
	for _, g := range c.groups {
		hit := false
		for i := range g.layers {
			if g.layers[i].Layer.Name == name {
				g.layers[i].Hidden = !visible
				hit = true
			}
		}
		if hit {
			g.bump(image.Rectangle{}, true)
		}
	}
}

func (c *Composite) SetLevelVisible(level int, visible bool) {
	if c.levelHidden[level] == !visible {
		return
	}
	if visible {
		delete(c.levelHidden, level)
	} else {
		c.levelHidden[level] = true
	}
	if g, ok := c.groups[level]; ok {
		g.visible = visible
		g.bump(image.Rectangle{}, true)
	}
}

// LevelVisible reports whether level is drawn.
func (c *Composite) LevelVisible(level int) bool {
	return !c.levelHidden[level]
}

// SetLevelOpacity changes how a level is blended. Geometry is unchanged so
// the change count does not advance.
func (c *Composite) SetLevelOpacity(level int, opacity float64) {
	if opacity < 0 {
		opacity = 0
	} else if opacity > 1 {
		opacity = 1
	}
	c.levelOpacity[level] = opacity
	if g, ok := c.groups[level]; ok {
		g.opacity = opacity
	}
}

// TileChanged records an edit of tiles inside rect on level.
func (c *Composite) TileChanged(level int, rect image.Rectangle) {
	if g, ok := c.groups[level]; ok {
		g.bump(rect, false)
	}
}

// Close releases every handle and stops reacting to cache events.
func (c *Composite) Close() {
	if c.closed {
		return
	}
	c.closed = true
	c.cache.Unsubscribe(c.sub)
	for _, n := range c.nodes {
		if n != nil && n.Handle != nil {
			c.cache.Release(n.Handle)
		}
	}
	c.pending = map[*assetcache.Handle][]NodeID{}
}

func (c *Composite) touch(levels []int, rect image.Rectangle) {
	for _, lv := range levels {
		c.dirtyLevels[lv] = true
	}
	if len(levels) > 0 {
		c.dirtyRect = c.dirtyRect.Union(rect)
	}
}

// flush re-aggregates every level touched since the last flush.
func (c *Composite) flush() {
	if len(c.dirtyLevels) == 0 {
		return
	}
	layers := map[int][]LayerRef{}
	for lv := range c.dirtyLevels {
		layers[lv] = nil
	}
	c.collect(c.Root(), layers)

	for lv, refs := range layers {
		g, ok := c.groups[lv]
		if !ok {
			g = newLayerGroup(lv)
			g.visible = !c.levelHidden[lv]
			if o, ok := c.levelOpacity[lv]; ok {
				g.opacity = o
			}
			c.groups[lv] = g
		}
		g.layers = refs
		g.bump(c.dirtyRect, false)
	}
	c.dirtyLevels = map[int]bool{}
	c.dirtyRect = image.Rectangle{}
}

// collect walks the tree depth first so a node's own layers come before
// its children's, and children keep insertion order.
func (c *Composite) collect(n *Node, out map[int][]LayerRef) {
	if n == nil {
		return
	}
	if n.Doc != nil {
		for _, l := range n.Doc.Layers {
			lv := n.absLevel + l.Level()
			if _, want := out[lv]; !want {
				continue
			}
			out[lv] = append(out[lv], LayerRef{
				Node:   n.ID,
				Doc:    n.Doc,
				Layer:  l,
				Origin: n.absOrigin,
				Hidden: c.hiddenLayers[l.Name],
			})
		}
	}
	for _, cid := range n.Children {
		c.collect(c.Node(cid), out)
	}
}
