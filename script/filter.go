// Package script selects world cells with small tengo programs. A filter
// sees the cell as the global `cell` and answers by assigning the global
// `match`:
//
//	match = cell.map != "" && len(cell.lots) > 2
//
// CompileExpr accepts the right hand side alone.
package script

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/d5/tengo/v2"
	"github.com/d5/tengo/v2/stdlib"

	"github.com/milk9111/worlded/world"
)

// modules excludes os so filters cannot touch the filesystem.
var modules = []string{"math", "text", "times", "rand", "fmt", "json", "enum", "base64", "hex"}

type CellFilter struct {
	source string

	mu       sync.Mutex
	compiled *tengo.Compiled
}

// Compile builds a filter from a complete tengo program.
func Compile(src string) (*CellFilter, error) {
	s := tengo.NewScript([]byte(src))
	_ = s.Add("cell", map[string]interface{}{})
	_ = s.Add("match", false)
	s.SetImports(stdlib.GetModuleMap(modules...))
	compiled, err := s.Compile()
	if err != nil {
		return nil, fmt.Errorf("script: compile: %w", err)
	}
	return &CellFilter{source: src, compiled: compiled}, nil
}

// CompileExpr builds a filter from a single boolean expression.
func CompileExpr(expr string) (*CellFilter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		expr = "true"
	}
	return Compile("match = bool(" + expr + ")")
}

// Load compiles the program stored at path.
func Load(path string) (*CellFilter, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("script: load %s: %w", path, err)
	}
	f, err := Compile(string(data))
	if err != nil {
		return nil, fmt.Errorf("script: %s: %w", path, err)
	}
	return f, nil
}

func (f *CellFilter) Source() string {
	return f.source
}

// Match runs the filter against one cell. It is safe for concurrent use.
func (f *CellFilter) Match(c *world.Cell) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.compiled.Set("cell", cellValue(c)); err != nil {
		return false, fmt.Errorf("script: bind cell: %w", err)
	}
	if err := f.compiled.Set("match", false); err != nil {
		return false, fmt.Errorf("script: reset match: %w", err)
	}
	if err := f.compiled.Run(); err != nil {
		return false, fmt.Errorf("script: cell %d,%d: %w", c.X(), c.Y(), err)
	}
	return f.compiled.Get("match").Bool(), nil
}

// Select returns the cells of w the filter matches in row-major order.
func (f *CellFilter) Select(w *world.World) ([]*world.Cell, error) {
	var out []*world.Cell
	for _, c := range w.Cells() {
		ok, err := f.Match(c)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func properties(props []world.Property) map[string]interface{} {
	m := make(map[string]interface{}, len(props))
	for _, p := range props {
		m[p.Name] = p.Value
	}
	return m
}

func stringList(list []string) []interface{} {
	out := make([]interface{}, len(list))
	for i, s := range list {
		out[i] = s
	}
	return out
}

// cellValue exposes a cell as plain values tengo can convert.
func cellValue(c *world.Cell) map[string]interface{} {
	lots := make([]interface{}, 0, len(c.Lots))
	for _, l := range c.Lots {
		lots = append(lots, map[string]interface{}{
			"path":  l.Path,
			"x":     l.X,
			"y":     l.Y,
			"level": l.Level,
		})
	}
	objects := make([]interface{}, 0, len(c.Objects))
	for _, o := range c.Objects {
		objects = append(objects, map[string]interface{}{
			"name":       o.Name,
			"type":       o.Type,
			"group":      o.Group,
			"level":      o.Level,
			"properties": properties(o.Properties),
		})
	}
	features := make([]interface{}, 0, len(c.Features))
	for _, ft := range c.Features {
		props := make(map[string]interface{}, len(ft.Properties))
		for _, p := range ft.Properties {
			props[p.Key] = p.Value
		}
		features = append(features, map[string]interface{}{
			"type":       ft.Geometry.Type,
			"points":     ft.Geometry.PointCount(),
			"properties": props,
		})
	}
	return map[string]interface{}{
		"x":          c.X(),
		"y":          c.Y(),
		"map":        c.MapPath,
		"lots":       lots,
		"objects":    objects,
		"features":   features,
		"properties": properties(c.Properties),
		"templates":  stringList(c.Templates),
	}
}
