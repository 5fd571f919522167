// Package appctx wires the editor core together: configuration, logging,
// the shared asset cache and image store, the open world with its undo
// history, and the cell sessions that mirror world cells as composites.
//
// An App is owned by one goroutine, which calls Pump once per frame.
package appctx

import (
	"context"
	"fmt"
	"image"

	"go.uber.org/zap"

	"github.com/milk9111/worlded/assetcache"
	"github.com/milk9111/worlded/composite"
	"github.com/milk9111/worlded/config"
	"github.com/milk9111/worlded/mapdoc"
	"github.com/milk9111/worlded/render"
	"github.com/milk9111/worlded/world"
)

type Options struct {
	// Load overrides how map documents are read, for tests.
	Load assetcache.LoadFunc
	// Images overrides how tileset images are decoded, for tests.
	Images mapdoc.ImageLoader
}

type App struct {
	Config     *config.Config
	Log        *zap.Logger
	Images     *mapdoc.ImageStore
	Cache      *assetcache.Cache
	Thumbnails *assetcache.Thumbnails

	undo      *world.UndoStack
	sessions  []*CellSession
	watcher   *assetcache.Watcher
	refresher assetcache.Refresher

	sub        assetcache.SubscriptionID
	sizesDirty bool
}

func New(cfg *config.Config, log *zap.Logger, opts Options) (*App, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Images == nil {
		opts.Images = mapdoc.FileImageLoader{Fallbacks: cfg.MapPaths}
	}
	a := &App{Config: cfg, Log: log}
	a.Images = mapdoc.NewImageStore(opts.Images, log.Named("images"))
	a.Cache = assetcache.New(assetcache.Options{
		Workers: cfg.Workers,
		Load:    opts.Load,
		Images:  a.Images,
		Logger:  log.Named("cache"),
	})
	thumbs, err := assetcache.NewThumbnails(a.RenderMap, assetcache.ThumbnailOptions{
		Width:   cfg.ThumbnailWidth,
		Workers: cfg.Workers,
		Logger:  log.Named("thumbnails"),
	})
	if err != nil {
		a.Cache.Close()
		return nil, err
	}
	a.Thumbnails = thumbs
	a.refresher = assetcache.Refresher{Cache: a.Cache, Thumbnails: thumbs, Images: a.Images}
	a.sub = a.Cache.Subscribe(func(ev assetcache.Event) {
		if ev.Err == nil {
			a.sizesDirty = true
		}
	})
	a.SetWorld(world.New(0, 0))
	return a, nil
}

func (a *App) World() *world.World {
	return a.undo.World()
}

func (a *App) Undo() *world.UndoStack {
	return a.undo
}

// SetWorld replaces the open world, closing every cell session.
func (a *App) SetWorld(w *world.World) {
	for _, s := range a.sessions {
		s.close()
	}
	a.sessions = nil
	a.undo = world.NewUndoStack(w, a.Config.UndoLimit)
	a.sizesDirty = true
}

func (a *App) OpenWorld(path string) error {
	w, err := world.Load(path)
	if err != nil {
		return err
	}
	a.SetWorld(w)
	a.Log.Info("world opened", zap.String("path", w.Path),
		zap.Int("width", w.Width()), zap.Int("height", w.Height()))
	return nil
}

// SaveWorld writes the world to path, or to its current path when path is
// empty, and marks the history clean.
func (a *App) SaveWorld(path string) error {
	w := a.World()
	if path == "" {
		path = w.Path
	}
	if path == "" {
		return fmt.Errorf("appctx: save: world has no path")
	}
	if err := w.Save(path); err != nil {
		return err
	}
	a.undo.SetClean()
	a.Log.Info("world saved", zap.String("path", path))
	return nil
}

// Do runs cmd through the undo history.
func (a *App) Do(cmd world.Command) error {
	if err := a.undo.Push(cmd); err != nil {
		a.Log.Warn("command failed", zap.String("command", cmd.Name()), zap.Error(err))
		return err
	}
	return nil
}

// ResolveMap turns a map path stored in the world into a canonical file
// path. Bare names are looked up in the configured map directories first.
func (a *App) ResolveMap(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	return assetcache.Canonical(a.Config.FindMap(path), a.World().Path)
}

// Watch starts reporting file changes under dirs. Changes are applied by
// Pump.
func (a *App) Watch(dirs ...string) error {
	if a.watcher != nil {
		return fmt.Errorf("appctx: already watching")
	}
	w, err := assetcache.NewWatcher(dirs...)
	if err != nil {
		return fmt.Errorf("appctx: watch: %w", err)
	}
	a.watcher = w
	return nil
}

// Pump applies file changes, delivers finished loads and forwards world
// changes to the cell sessions. It returns the number of cache events
// delivered.
func (a *App) Pump() int {
	a.applyFileChanges()
	n := a.Cache.Pump()
	if a.sizesDirty {
		a.sizesDirty = false
		a.RefreshLotSizes()
	}
	for _, ch := range a.World().DrainChanges() {
		for _, s := range a.sessions {
			s.apply(ch)
		}
	}
	return n
}

func (a *App) applyFileChanges() {
	if a.watcher == nil {
		return
	}
	for {
		select {
		case path, ok := <-a.watcher.Events:
			if !ok {
				return
			}
			if a.refresher.Apply(path) {
				a.Log.Info("asset changed on disk", zap.String("path", path))
				for _, s := range a.sessions {
					s.reloadIfUses(path)
				}
			}
		case err, ok := <-a.watcher.Errors:
			if ok {
				a.Log.Warn("file watcher", zap.Error(err))
			}
		default:
			return
		}
	}
}

// RefreshLotSizes stores the size of every lot whose map is loaded and
// returns how many lots changed.
func (a *App) RefreshLotSizes() int {
	return a.World().RefreshLotSizes(a.lotSize)
}

// lotSize reports the size of a loaded lot map.
func (a *App) lotSize(path string) (int, int, bool) {
	canon, err := a.ResolveMap(path)
	if err != nil {
		return 0, 0, false
	}
	h := a.Cache.Lookup(canon)
	if h == nil || h.State() != assetcache.Ready {
		return 0, 0, false
	}
	doc := h.Doc()
	return doc.Width, doc.Height, true
}

// OpenCell starts mirroring the world cell at (x, y) as a composite.
func (a *App) OpenCell(x, y int) (*CellSession, error) {
	if !a.World().Contains(x, y) {
		return nil, fmt.Errorf("appctx: open cell: %w: (%d, %d)", world.ErrCellOutOfBounds, x, y)
	}
	s := &CellSession{app: a, pos: image.Pt(x, y), log: a.Log.With(zap.Int("cell_x", x), zap.Int("cell_y", y))}
	s.rebuild()
	a.sessions = append(a.sessions, s)
	return s, nil
}

// CloseCell stops mirroring s and releases its maps.
func (a *App) CloseCell(s *CellSession) {
	for i, o := range a.sessions {
		if o == s {
			a.sessions = append(a.sessions[:i:i], a.sessions[i+1:]...)
			break
		}
	}
	s.close()
}

// RenderMap composites the map at path with its nested lots into an
// image. It is safe for concurrent use and serves as the thumbnail
// renderer.
func (a *App) RenderMap(ctx context.Context, path string) (image.Image, error) {
	c := composite.Open(a.Cache, path, composite.Options{
		Logger:   a.Log.Named("render"),
		Detached: true,
	})
	defer c.Close()
	if err := c.Resolve(ctx); err != nil {
		return nil, err
	}
	root := c.Root()
	if root.Doc == nil {
		return nil, fmt.Errorf("appctx: render %s: %w", path, root.Err)
	}
	return render.RenderImage(c, ProjectionFor(root.Doc), a.Images), nil
}

// ProjectionFor returns the projection a document is authored in. A nil
// document gets the editor default.
func ProjectionFor(doc *mapdoc.Map) render.Projection {
	if doc == nil {
		return render.NewProjection(mapdoc.LevelIsometric, 0, 0)
	}
	return render.NewProjection(doc.Orientation, doc.TileW, doc.TileH)
}

func (a *App) Close() {
	for _, s := range a.sessions {
		s.close()
	}
	a.sessions = nil
	if a.watcher != nil {
		if err := a.watcher.Close(); err != nil {
			a.Log.Warn("closing watcher", zap.Error(err))
		}
	}
	a.Cache.Unsubscribe(a.sub)
	a.Thumbnails.Close()
	a.Cache.Close()
}
