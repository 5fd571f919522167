// Package export runs whole-world batch jobs: in-game-map feature export,
// thumbnail generation and lot size discovery, optionally restricted to
// the cells a script filter selects.
package export

import (
	"context"
	"fmt"
	"image"
	"slices"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/milk9111/worlded/appctx"
	"github.com/milk9111/worlded/assetcache"
	"github.com/milk9111/worlded/igm"
	"github.com/milk9111/worlded/script"
	"github.com/milk9111/worlded/world"
)

type Options struct {
	// Filter restricts the job to matching cells. Nil selects every cell.
	Filter *script.CellFilter
	// Binary writes the IGMB format instead of XML.
	Binary bool
	Use256 bool
}

type Report struct {
	Cells      int
	Features   int
	Maps       []string
	Thumbnails int
	Elapsed    time.Duration
}

// SelectCells returns the cells of w the filter matches, all of them when
// filter is nil.
func SelectCells(w *world.World, filter *script.CellFilter) ([]*world.Cell, error) {
	if filter == nil {
		return w.Cells(), nil
	}
	return filter.Select(w)
}

// selection exposes only the features of the selected cells.
type selection struct {
	w    *world.World
	keep map[image.Point]bool
}

func newSelection(w *world.World, cells []*world.Cell) *selection {
	s := &selection{w: w, keep: make(map[image.Point]bool, len(cells))}
	for _, c := range cells {
		s.keep[c.Pos()] = true
	}
	return s
}

func (s *selection) Size() (int, int)   { return s.w.Size() }
func (s *selection) Origin() (int, int) { return s.w.Origin() }

func (s *selection) CellFeatures(x, y int) igm.FeatureList {
	if !s.keep[image.Pt(x, y)] {
		return nil
	}
	return s.w.CellFeatures(x, y)
}

// Features writes the features of the selected cells to path.
func Features(path string, w *world.World, opts Options) (Report, error) {
	start := time.Now()
	cells, err := SelectCells(w, opts.Filter)
	if err != nil {
		return Report{}, err
	}
	rep := Report{Cells: len(cells)}
	for _, c := range cells {
		rep.Features += len(c.Features)
	}
	src := newSelection(w, cells)
	if opts.Binary {
		err = igm.ExportBinaryFile(path, src, opts.Use256)
	} else {
		err = igm.ExportXMLFile(path, src)
	}
	if err != nil {
		return rep, fmt.Errorf("export: features %s: %w", path, err)
	}
	rep.Elapsed = time.Since(start)
	return rep, nil
}

// MapPaths lists the distinct canonical map files the cells use, cell maps
// and lots alike, sorted.
func MapPaths(app *appctx.App, cells []*world.Cell) ([]string, error) {
	seen := map[string]bool{}
	var out []string
	add := func(p string) error {
		if p == "" {
			return nil
		}
		canon, err := app.ResolveMap(p)
		if err != nil {
			return err
		}
		if !seen[canon] {
			seen[canon] = true
			out = append(out, canon)
		}
		return nil
	}
	for _, c := range cells {
		if err := add(c.MapPath); err != nil {
			return nil, err
		}
		for _, l := range c.Lots {
			if err := add(l.Path); err != nil {
				return nil, err
			}
		}
	}
	slices.Sort(out)
	return out, nil
}

// Thumbnails renders and caches a preview of every map the selected cells
// use.
func Thumbnails(ctx context.Context, app *appctx.App, opts Options) (Report, error) {
	start := time.Now()
	cells, err := SelectCells(app.World(), opts.Filter)
	if err != nil {
		return Report{}, err
	}
	paths, err := MapPaths(app, cells)
	if err != nil {
		return Report{}, err
	}
	rep := Report{Cells: len(cells), Maps: paths}
	if err := app.Thumbnails.Generate(ctx, paths); err != nil {
		return rep, fmt.Errorf("export: thumbnails: %w", err)
	}
	rep.Thumbnails = len(paths)
	rep.Elapsed = time.Since(start)
	app.Log.Info("thumbnails generated", zap.Int("maps", len(paths)), zap.Duration("elapsed", rep.Elapsed))
	return rep, nil
}

// LotSizes loads every map the world's lots use and stores their sizes on
// the lots. It returns how many lots changed.
func LotSizes(ctx context.Context, app *appctx.App) (int, error) {
	w := app.World()
	var paths []string
	for _, c := range w.Cells() {
		for _, l := range c.Lots {
			paths = append(paths, l.Path)
		}
	}
	handles := make([]*assetcache.Handle, 0, len(paths))
	defer func() {
		for _, h := range handles {
			app.Cache.Release(h)
		}
	}()
	for _, p := range paths {
		canon, err := app.ResolveMap(p)
		if err != nil {
			return 0, err
		}
		handles = append(handles, app.Cache.LoadMap(canon, ""))
	}
	if err := app.Cache.Wait(ctx, handles...); err != nil {
		return 0, fmt.Errorf("export: lot sizes: %w", err)
	}
	changed := app.RefreshLotSizes()
	app.Pump()
	for _, h := range handles {
		if h.State() == assetcache.Failed {
			app.Log.Warn("lot map unavailable", zap.String("path", h.Path()), zap.Error(h.Err()))
		}
	}
	return changed, nil
}

// All writes features and thumbnails concurrently. The world must not be
// modified until it returns.
func All(ctx context.Context, app *appctx.App, featurePath string, opts Options) (Report, error) {
	var feat, thumbs Report
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		feat, err = Features(featurePath, app.World(), opts)
		return err
	})
	g.Go(func() error {
		var err error
		thumbs, err = Thumbnails(ctx, app, opts)
		return err
	})
	if err := g.Wait(); err != nil {
		return Report{}, err
	}
	feat.Maps = thumbs.Maps
	feat.Thumbnails = thumbs.Thumbnails
	feat.Elapsed = max(feat.Elapsed, thumbs.Elapsed)
	return feat, nil
}
