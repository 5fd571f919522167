package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/milk9111/worlded/appctx"
	"github.com/milk9111/worlded/config"
	"github.com/milk9111/worlded/export"
	"github.com/milk9111/worlded/igm"
	"github.com/milk9111/worlded/script"
	"github.com/milk9111/worlded/world"
)

type command struct {
	name  string
	usage string
	run   func(ctx context.Context, app *appctx.App, args []string) error
}

var commands = []command{
	{"info", "info <world>", runInfo},
	{"export-igm", "export-igm [-binary] [-use256] [-filter expr | -script file] <world> <out>", runExportIGM},
	{"import-igm", "import-igm [-o out] <world> <features.xml>", runImportIGM},
	{"thumbnails", "thumbnails [-filter expr | -script file] <world>", runThumbnails},
	{"lot-sizes", "lot-sizes <world>", runLotSizes},
	{"taxonomy", "taxonomy export|import <world> <file.yaml>", runTaxonomy},
}

func usage() {
	fmt.Fprintf(os.Stderr, "usage: worlded [-config file] [-v] <command> [args]\n\ncommands:\n")
	fmt.Fprintf(os.Stderr, "  init-config <file>\n")
	for _, c := range commands {
		fmt.Fprintf(os.Stderr, "  %s\n", c.usage)
	}
	flag.PrintDefaults()
}

func main() {
	cfgPath := flag.String("config", "", "config file (default: worlded.yaml in . or ~/.config/worlded)")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() < 1 {
		usage()
		os.Exit(2)
	}

	if flag.Arg(0) == "init-config" {
		if flag.NArg() != 2 {
			usage()
			os.Exit(2)
		}
		if err := config.WriteDefault(flag.Arg(1)); err != nil {
			log.Fatal(err)
		}
		return
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatal(err)
	}
	if *verbose {
		cfg.Log.Level = "debug"
	}
	logger, err := config.NewLogger(cfg.Log)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = logger.Sync() }()

	name := flag.Arg(0)
	var cmd *command
	for i := range commands {
		if commands[i].name == name {
			cmd = &commands[i]
		}
	}
	if cmd == nil {
		fmt.Fprintf(os.Stderr, "unknown command %q\n", name)
		usage()
		os.Exit(2)
	}

	app, err := appctx.New(cfg, logger, appctx.Options{})
	if err != nil {
		logger.Fatal("startup", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err = cmd.run(ctx, app, flag.Args()[1:])
	stop()
	app.Close()
	if err != nil {
		logger.Error(cmd.name+" failed", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

// filterFlags registers the cell selection flags on fs.
func filterFlags(fs *flag.FlagSet) func() (*script.CellFilter, error) {
	expr := fs.String("filter", "", "tengo expression selecting cells, e.g. 'cell.map != \"\"'")
	file := fs.String("script", "", "tengo program assigning match")
	return func() (*script.CellFilter, error) {
		switch {
		case *expr != "" && *file != "":
			return nil, fmt.Errorf("use -filter or -script, not both")
		case *file != "":
			return script.Load(*file)
		case *expr != "":
			return script.CompileExpr(*expr)
		}
		return nil, nil
	}
}

func parse(fs *flag.FlagSet, args []string, n int) ([]string, error) {
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() != n {
		return nil, fmt.Errorf("%s: want %d arguments, got %d", fs.Name(), n, fs.NArg())
	}
	return fs.Args(), nil
}

func runInfo(_ context.Context, app *appctx.App, args []string) error {
	fs := flag.NewFlagSet("info", flag.ContinueOnError)
	rest, err := parse(fs, args, 1)
	if err != nil {
		return err
	}
	if err := app.OpenWorld(rest[0]); err != nil {
		return err
	}
	w := app.World()
	maps, lots, objects, features := 0, 0, 0, 0
	for _, c := range w.Cells() {
		if c.MapPath != "" {
			maps++
		}
		lots += len(c.Lots)
		objects += len(c.Objects)
		features += len(c.Features)
	}
	fmt.Printf("world     %s\n", w.Path)
	fmt.Printf("size      %dx%d cells\n", w.Width(), w.Height())
	fmt.Printf("igm origin %d,%d\n", w.IGMOrigin.X, w.IGMOrigin.Y)
	fmt.Printf("maps      %d\n", maps)
	fmt.Printf("lots      %d\n", lots)
	fmt.Printf("objects   %d\n", objects)
	fmt.Printf("features  %d\n", features)
	fmt.Printf("roads     %d\n", len(w.Roads()))
	fmt.Printf("types     %d\n", len(w.ObjectTypes())-1)
	fmt.Printf("groups    %d\n", len(w.ObjectGroups())-1)
	return nil
}

func runExportIGM(_ context.Context, app *appctx.App, args []string) error {
	fs := flag.NewFlagSet("export-igm", flag.ContinueOnError)
	binary := fs.Bool("binary", false, "write IGMB instead of XML")
	use256 := fs.Bool("use256", app.Config.Use256, "reproject binary output onto 256 tile cells")
	filter := filterFlags(fs)
	rest, err := parse(fs, args, 2)
	if err != nil {
		return err
	}
	f, err := filter()
	if err != nil {
		return err
	}
	if err := app.OpenWorld(rest[0]); err != nil {
		return err
	}
	if !*binary && strings.EqualFold(filepath.Ext(rest[1]), ".bin") {
		*binary = true
	}
	rep, err := export.Features(rest[1], app.World(), export.Options{Filter: f, Binary: *binary, Use256: *use256})
	if err != nil {
		return err
	}
	app.Log.Info("features exported", zap.String("path", rest[1]),
		zap.Int("cells", rep.Cells), zap.Int("features", rep.Features), zap.Duration("elapsed", rep.Elapsed))
	return nil
}

func runImportIGM(_ context.Context, app *appctx.App, args []string) error {
	fs := flag.NewFlagSet("import-igm", flag.ContinueOnError)
	out := fs.String("o", "", "write the world here instead of in place")
	rest, err := parse(fs, args, 2)
	if err != nil {
		return err
	}
	if err := app.OpenWorld(rest[0]); err != nil {
		return err
	}
	if err := app.Undo().ImportFeaturesXMLFile(rest[1]); err != nil {
		var ferr *igm.FormatError
		if errors.As(err, &ferr) {
			app.Log.Error("malformed feature file", zap.String("path", rest[1]),
				zap.Int("line", ferr.Line), zap.Int("column", ferr.Column))
		}
		return err
	}
	return app.SaveWorld(*out)
}

func runThumbnails(ctx context.Context, app *appctx.App, args []string) error {
	fs := flag.NewFlagSet("thumbnails", flag.ContinueOnError)
	filter := filterFlags(fs)
	rest, err := parse(fs, args, 1)
	if err != nil {
		return err
	}
	f, err := filter()
	if err != nil {
		return err
	}
	if err := app.OpenWorld(rest[0]); err != nil {
		return err
	}
	rep, err := export.Thumbnails(ctx, app, export.Options{Filter: f})
	if err != nil {
		return err
	}
	fmt.Printf("%d thumbnails for %d cells\n", rep.Thumbnails, rep.Cells)
	return nil
}

func runLotSizes(ctx context.Context, app *appctx.App, args []string) error {
	fs := flag.NewFlagSet("lot-sizes", flag.ContinueOnError)
	rest, err := parse(fs, args, 1)
	if err != nil {
		return err
	}
	if err := app.OpenWorld(rest[0]); err != nil {
		return err
	}
	n, err := export.LotSizes(ctx, app)
	if err != nil {
		return err
	}
	fmt.Printf("%d lot sizes updated\n", n)
	if n == 0 {
		return nil
	}
	return app.SaveWorld("")
}

func runTaxonomy(_ context.Context, app *appctx.App, args []string) error {
	fs := flag.NewFlagSet("taxonomy", flag.ContinueOnError)
	rest, err := parse(fs, args, 3)
	if err != nil {
		return err
	}
	if err := app.OpenWorld(rest[1]); err != nil {
		return err
	}
	switch rest[0] {
	case "export":
		return app.World().ExportTaxonomy(rest[2])
	case "import":
		t, err := world.LoadTaxonomy(rest[2])
		if err != nil {
			return err
		}
		if err := app.Do(app.World().ImportTaxonomy(t)); err != nil {
			return err
		}
		return app.SaveWorld("")
	}
	return fmt.Errorf("taxonomy: unknown action %q", rest[0])
}
