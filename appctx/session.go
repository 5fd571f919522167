package appctx

import (
	"image"

	"go.uber.org/zap"

	"github.com/milk9111/worlded/assetcache"
	"github.com/milk9111/worlded/composite"
	"github.com/milk9111/worlded/render"
	"github.com/milk9111/worlded/world"
)

type lotNode struct {
	lot   *world.Lot
	path  string
	pos   image.Point
	level int
	id    composite.NodeID
}

func (n lotNode) matches(l *world.Lot) bool {
	return n.lot == l && n.path == l.Path && n.pos == image.Pt(l.X, l.Y) && n.level == l.Level
}

// CellSession keeps a composite in step with one world cell: its map is
// the composite root and its lots are placed in list order.
type CellSession struct {
	app *App
	pos image.Point
	log *zap.Logger

	comp     *composite.Composite
	lots     []lotNode
	rebuilds int
}

// Cell is the world cell position the session mirrors.
func (s *CellSession) Cell() image.Point {
	return s.pos
}

// Composite is replaced when the cell map changes; callers should fetch it
// again after every Pump rather than keep it.
func (s *CellSession) Composite() *composite.Composite {
	return s.comp
}

// Rebuilds counts how many times the composite was replaced.
func (s *CellSession) Rebuilds() int {
	return s.rebuilds
}

// Projection is the projection of the cell map, or the editor default
// while it is not loaded.
func (s *CellSession) Projection() render.Projection {
	return ProjectionFor(s.comp.Root().Doc)
}

// LotNode returns the composite node showing the cell lot at index.
func (s *CellSession) LotNode(index int) composite.NodeID {
	if index < 0 || index >= len(s.lots) {
		return composite.NoNode
	}
	return s.lots[index].id
}

func (s *CellSession) apply(ch world.Change) {
	if ch.All {
		s.rebuild()
		return
	}
	if ch.Cell != s.pos {
		return
	}
	switch ch.Kind {
	case world.CellMapChanged, world.CellCleared:
		s.rebuild()
	case world.LotsChanged:
		s.syncLots()
	}
}

func (s *CellSession) rebuild() {
	// the old composite closes last so shared maps stay cached
	old := s.comp
	defer func() {
		if old != nil {
			old.Close()
			s.rebuilds++
		}
	}()
	s.lots = nil
	opts := composite.Options{Logger: s.log}
	cell := s.app.World().Cell(s.pos.X, s.pos.Y)
	if cell == nil || cell.MapPath == "" {
		s.comp = composite.New(s.app.Cache, nil, opts)
	} else if canon, err := s.app.ResolveMap(cell.MapPath); err != nil {
		s.log.Warn("cell map path", zap.String("path", cell.MapPath), zap.Error(err))
		s.comp = composite.New(s.app.Cache, nil, opts)
	} else {
		s.comp = composite.Open(s.app.Cache, canon, opts)
	}
	if cell != nil {
		for _, l := range cell.Lots {
			s.addLot(l)
		}
	}
}

// syncLots keeps the longest unchanged prefix of lots and replaces the
// rest so composite order always follows the cell's lot order.
func (s *CellSession) syncLots() {
	cell := s.app.World().Cell(s.pos.X, s.pos.Y)
	if cell == nil {
		s.rebuild()
		return
	}
	keep := 0
	for keep < len(s.lots) && keep < len(cell.Lots) && s.lots[keep].matches(cell.Lots[keep]) {
		keep++
	}
	stale := append([]lotNode(nil), s.lots[keep:]...)
	s.lots = s.lots[:keep]
	for _, l := range cell.Lots[keep:] {
		s.addLot(l)
	}
	// removed after the replacements are added so maps they share are
	// not evicted in between
	for _, n := range stale {
		if n.id != composite.NoNode {
			s.comp.RemoveMap(n.id)
		}
	}
}

func (s *CellSession) addLot(l *world.Lot) {
	n := lotNode{lot: l, path: l.Path, pos: image.Pt(l.X, l.Y), level: l.Level, id: composite.NoNode}
	canon, err := s.app.ResolveMap(l.Path)
	if err != nil {
		s.log.Warn("lot map path", zap.String("path", l.Path), zap.Error(err))
	} else {
		n.id = s.comp.AddMap(canon, n.pos, n.level)
	}
	s.lots = append(s.lots, n)
}

// reloadIfUses rebuilds the composite when any of its maps is path.
func (s *CellSession) reloadIfUses(path string) {
	canon, err := assetcache.Canonical(path, "")
	if err != nil {
		return
	}
	for _, n := range s.comp.Nodes() {
		if n.Path == canon {
			s.log.Debug("reloading changed map", zap.String("path", canon))
			s.rebuild()
			return
		}
	}
}

func (s *CellSession) close() {
	if s.comp != nil {
		s.comp.Close()
	}
}
