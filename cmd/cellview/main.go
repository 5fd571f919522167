package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/hajimehoshi/ebiten/v2"
	"go.uber.org/zap"

	"github.com/milk9111/worlded/appctx"
	"github.com/milk9111/worlded/config"
)

func main() {
	cfgPath := flag.String("config", "", "config file (default: worlded.yaml in . or ~/.config/worlded)")
	worldPath := flag.String("world", "", "world file to open")
	cellX := flag.Int("x", 0, "cell column")
	cellY := flag.Int("y", 0, "cell row")
	direct := flag.Bool("direct", false, "draw through the CPU renderer instead of vertex batches")
	watch := flag.String("watch", "", "directory to watch for changed maps and tilesets")
	flag.Parse()

	if *worldPath == "" {
		log.Fatal("cellview: -world is required")
	}
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatal(err)
	}
	if *direct {
		cfg.Renderer = "direct"
	}
	logger, err := config.NewLogger(cfg.Log)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = logger.Sync() }()

	app, err := appctx.New(cfg, logger, appctx.Options{})
	if err != nil {
		logger.Fatal("startup", zap.Error(err))
	}
	defer app.Close()
	if err := app.OpenWorld(*worldPath); err != nil {
		logger.Fatal("open world", zap.Error(err))
	}
	if *watch != "" {
		if err := app.Watch(*watch); err != nil {
			logger.Warn("watch disabled", zap.Error(err))
		}
	}

	v, err := NewViewer(app, *cellX, *cellY)
	if err != nil {
		logger.Fatal("open cell", zap.Error(err))
	}

	ebiten.SetWindowResizingMode(ebiten.WindowResizingModeEnabled)
	ebiten.SetWindowSize(1280, 720)
	ebiten.SetWindowTitle(fmt.Sprintf("cellview %d,%d", *cellX, *cellY))
	if err := ebiten.RunGame(v); err != nil {
		logger.Error("run", zap.Error(err))
	}
}
