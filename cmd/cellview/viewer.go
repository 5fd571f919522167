package main

import (
	"fmt"
	"image"
	"math"
	"strings"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/ebitenutil"
	"github.com/hajimehoshi/ebiten/v2/inpututil"
	"go.uber.org/zap"
	"golang.design/x/clipboard"

	"github.com/milk9111/worlded/appctx"
	"github.com/milk9111/worlded/common"
	"github.com/milk9111/worlded/composite"
	"github.com/milk9111/worlded/render"
)

const panSpeed = 12

// Viewer shows one world cell and follows edits, reloads and undo.
type Viewer struct {
	app     *appctx.App
	session *appctx.CellSession
	direct  bool

	renderer *render.Renderer
	proj     render.Projection
	rebuilds int
	offset   image.Point

	// direct mode cache, rebuilt when any level or tileset image changes
	canvas       *ebiten.Image
	canvasAt     image.Point
	canvasSeen   map[int]int
	canvasImages int

	level      int
	hover      image.Point
	clipboard  bool
	status     string
	dragging   bool
	dragOrigin image.Point
}

func NewViewer(app *appctx.App, x, y int) (*Viewer, error) {
	s, err := app.OpenCell(x, y)
	if err != nil {
		return nil, err
	}
	v := &Viewer{
		app:     app,
		session: s,
		direct:  app.Config.Renderer == "direct",
		offset:  image.Pt(640, 80),
	}
	if err := clipboard.Init(); err != nil {
		app.Log.Warn("clipboard unavailable", zap.Error(err))
	} else {
		v.clipboard = true
	}
	v.resetRenderer()
	return v, nil
}

func (v *Viewer) resetRenderer() {
	atlas := render.NewAtlas(v.app.Images, render.EbitenUploader{})
	v.proj = v.session.Projection()
	v.renderer = render.NewRenderer(v.proj, atlas, common.CellRect())
	v.renderer.SetOffset(v.offset)
	v.rebuilds = v.session.Rebuilds()
	v.canvas = nil
}

func (v *Viewer) Update() error {
	v.app.Pump()
	// the root map decides the projection once it has loaded
	if v.session.Rebuilds() != v.rebuilds || v.session.Projection() != v.proj {
		v.resetRenderer()
	}

	ctrl := ebiten.IsKeyPressed(ebiten.KeyControl) || ebiten.IsKeyPressed(ebiten.KeyMeta)
	switch {
	case ctrl && inpututil.IsKeyJustPressed(ebiten.KeyZ):
		v.report("undo", v.app.Undo().Undo())
	case ctrl && inpututil.IsKeyJustPressed(ebiten.KeyY):
		v.report("redo", v.app.Undo().Redo())
	case ctrl && inpututil.IsKeyJustPressed(ebiten.KeyS):
		v.report("save", v.app.SaveWorld(""))
	case inpututil.IsKeyJustPressed(ebiten.KeyC):
		v.copyStack()
	case inpututil.IsKeyJustPressed(ebiten.KeyTab):
		v.direct = !v.direct
		v.canvas = nil
	}
	for i, k := range []ebiten.Key{ebiten.Key0, ebiten.Key1, ebiten.Key2, ebiten.Key3, ebiten.Key4,
		ebiten.Key5, ebiten.Key6, ebiten.Key7} {
		if !inpututil.IsKeyJustPressed(k) {
			continue
		}
		comp := v.session.Composite()
		if ebiten.IsKeyPressed(ebiten.KeyShift) {
			comp.SetLevelVisible(i, !comp.LevelVisible(i))
		} else {
			v.level = i
		}
	}

	v.pan()
	mx, my := ebiten.CursorPosition()
	tx, ty := v.proj.PixelToTile(float64(mx-v.offset.X), float64(my-v.offset.Y), v.level)
	v.hover = image.Pt(int(math.Floor(tx)), int(math.Floor(ty)))
	return nil
}

func (v *Viewer) pan() {
	d := image.Point{}
	if ebiten.IsKeyPressed(ebiten.KeyArrowLeft) {
		d.X += panSpeed
	}
	if ebiten.IsKeyPressed(ebiten.KeyArrowRight) {
		d.X -= panSpeed
	}
	if ebiten.IsKeyPressed(ebiten.KeyArrowUp) {
		d.Y += panSpeed
	}
	if ebiten.IsKeyPressed(ebiten.KeyArrowDown) {
		d.Y -= panSpeed
	}
	mx, my := ebiten.CursorPosition()
	if inpututil.IsMouseButtonJustPressed(ebiten.MouseButtonMiddle) {
		v.dragging, v.dragOrigin = true, image.Pt(mx, my)
	}
	if v.dragging {
		if !ebiten.IsMouseButtonPressed(ebiten.MouseButtonMiddle) {
			v.dragging = false
		} else {
			d = d.Add(image.Pt(mx, my).Sub(v.dragOrigin))
			v.dragOrigin = image.Pt(mx, my)
		}
	}
	if d != (image.Point{}) {
		v.offset = v.offset.Add(d)
		v.renderer.SetOffset(v.offset)
	}
}

func (v *Viewer) report(what string, err error) {
	if err != nil {
		v.status = fmt.Sprintf("%s: %v", what, err)
		return
	}
	v.status = what
}

// tileStack describes every tile under the cursor on the current level.
func (v *Viewer) tileStack() string {
	var b strings.Builder
	fmt.Fprintf(&b, "cell %d,%d tile %d,%d level %d\n",
		v.session.Cell().X, v.session.Cell().Y, v.hover.X, v.hover.Y, v.level)
	for _, t := range v.session.Composite().OrderedCellsAt(v.hover, v.level) {
		name := ""
		if t.Tileset != nil {
			name = t.Tileset.Name
		}
		fmt.Fprintf(&b, "%s\t%s_%d\tgid %d\n", t.Layer, name, t.Index, t.GID)
	}
	return b.String()
}

func (v *Viewer) copyStack() {
	if !v.clipboard {
		v.status = "clipboard unavailable"
		return
	}
	clipboard.Write(clipboard.FmtText, []byte(v.tileStack()))
	v.status = "copied tile stack"
}

func (v *Viewer) Draw(screen *ebiten.Image) {
	comp := v.session.Composite()
	if v.direct {
		v.drawDirect(screen, comp)
	} else {
		v.renderer.Update(comp, screen.Bounds())
		v.renderer.Draw(render.EbitenTarget{Dst: screen})
	}

	mode := "vbo"
	if v.direct {
		mode = "direct"
	}
	modified := ""
	if v.app.Undo().Modified() {
		modified = " *"
	}
	ebitenutil.DebugPrint(screen, fmt.Sprintf(
		"%s%s  %s  FPS %.0f  pending %d\n%s\n%s",
		v.app.World().Path, modified, mode, ebiten.ActualFPS(), comp.Pending(), v.tileStack(), v.status))
}

// drawDirect composites on the CPU and caches the result until a level
// changes.
func (v *Viewer) drawDirect(screen *ebiten.Image, comp *composite.Composite) {
	seen := map[int]int{}
	for _, lv := range comp.Levels() {
		g := comp.LayerGroupForLevel(lv)
		seen[lv] = g.ChangeCount()
	}
	images := v.imageChanges(comp)
	if v.canvas == nil || !sameCounts(seen, v.canvasSeen) || images != v.canvasImages {
		img := render.RenderImage(comp, v.proj, v.app.Images)
		v.canvas = ebiten.NewImageFromImage(img)
		v.canvasAt = render.CanvasBounds(comp, v.proj).Min
		v.canvasSeen = seen
		v.canvasImages = images
	}
	op := &ebiten.DrawImageOptions{}
	at := v.canvasAt.Add(v.offset)
	op.GeoM.Translate(float64(at.X), float64(at.Y))
	screen.DrawImage(v.canvas, op)
}

// imageChanges sums the change counts of every tileset image comp uses.
// Reloading any of them advances the sum.
func (v *Viewer) imageChanges(comp *composite.Composite) int {
	n := 0
	for _, node := range comp.Nodes() {
		if node.Doc == nil {
			continue
		}
		for _, ts := range node.Doc.Tilesets {
			if ti := v.app.Images.Get(ts); ti != nil {
				n += ti.ChangeCount
			}
		}
	}
	return n
}

func sameCounts(a, b map[int]int) bool {
	if len(a) != len(b) {
		return false
	}
	for k, n := range a {
		if b[k] != n {
			return false
		}
	}
	return true
}

func (v *Viewer) Layout(outsideWidth, outsideHeight int) (int, int) {
	return outsideWidth, outsideHeight
}
