// Package decls loads declaration files: the typed boundary between a
// staged program and values that only exist at execution time. A
// declaration file <specifier>.pd.yaml names exports with a type, or
// with a parameter list and body template for functions that should be
// specialized at import sites rather than linked opaquely.
package decls

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"presage/internal/ast"
	"presage/internal/constraint"
	"presage/internal/parser"
	"presage/internal/stage"
)

// PathEnv is the environment variable listing extra directories to
// search for declaration files, separated by the OS path list
// separator.
const PathEnv = "PRESAGE_PATH"

// declFile is the on-disk shape of a declaration file.
type declFile struct {
	Exports map[string]declEntry `yaml:"exports"`
}

type declEntry struct {
	Type   string   `yaml:"type"`
	Params []string `yaml:"params"`
	Body   string   `yaml:"body"`
}

// Loader resolves import specifiers against a search path and caches
// parsed files.
type Loader struct {
	// Root is searched first; usually the directory of the program
	// being staged.
	Root string

	extra []string
	cache map[string]map[string]stage.Decl
}

// NewLoader creates a loader rooted at root, honoring PRESAGE_PATH.
func NewLoader(root string) *Loader {
	var extra []string
	if env := os.Getenv(PathEnv); env != "" {
		for _, dir := range filepath.SplitList(env) {
			if dir != "" {
				extra = append(extra, dir)
			}
		}
	}
	return &Loader{
		Root:  root,
		extra: extra,
		cache: make(map[string]map[string]stage.Decl),
	}
}

// Load implements stage.Loader.
func (l *Loader) Load(specifier string, names []string) (map[string]stage.Decl, error) {
	decls, ok := l.cache[specifier]
	if !ok {
		path, err := l.resolve(specifier)
		if err != nil {
			return nil, err
		}
		decls, err = l.parseFile(specifier, path)
		if err != nil {
			return nil, err
		}
		l.cache[specifier] = decls
	}
	for _, name := range names {
		if _, ok := decls[name]; !ok {
			return nil, fmt.Errorf("%s: no export named %q", specifier, name)
		}
	}
	return decls, nil
}

func (l *Loader) resolve(specifier string) (string, error) {
	if strings.Contains(specifier, "..") {
		return "", fmt.Errorf("invalid import specifier %q", specifier)
	}
	rel := filepath.FromSlash(specifier) + ".pd.yaml"
	dirs := append([]string{l.Root}, l.extra...)
	for _, dir := range dirs {
		if dir == "" {
			dir = "."
		}
		path := filepath.Join(dir, rel)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("declaration file %s not found (searched %s)", rel, strings.Join(dirs, string(filepath.ListSeparator)))
}

func (l *Loader) parseFile(specifier, path string) (map[string]stage.Decl, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %v", path, err)
	}
	var file declFile
	if err := yaml.Unmarshal(content, &file); err != nil {
		return nil, fmt.Errorf("%s: %v", path, err)
	}
	if len(file.Exports) == 0 {
		return nil, fmt.Errorf("%s: no exports declared", path)
	}

	out := make(map[string]stage.Decl, len(file.Exports))
	for name, entry := range file.Exports {
		d, err := l.buildDecl(entry)
		if err != nil {
			return nil, fmt.Errorf("%s: export %q: %v", path, name, err)
		}
		out[name] = d
	}
	return out, nil
}

func (l *Loader) buildDecl(entry declEntry) (stage.Decl, error) {
	if entry.Body != "" {
		body, err := parser.Parse(entry.Body)
		if err != nil {
			return stage.Decl{}, fmt.Errorf("body: %v", err)
		}
		params, err := parseParams(entry.Params)
		if err != nil {
			return stage.Decl{}, err
		}
		return stage.Decl{Params: params, Body: body}, nil
	}
	if entry.Type == "" {
		return stage.Decl{}, fmt.Errorf("needs either a type or a body")
	}
	c, err := evalType(entry.Type)
	if err != nil {
		return stage.Decl{}, err
	}
	return stage.Decl{Constraint: c}, nil
}

// parseParams reads a params list; a "comptime " prefix marks
// parameters that must be known at every import site.
func parseParams(raw []string) ([]ast.Param, error) {
	params := make([]ast.Param, len(raw))
	for i, p := range raw {
		name, comptime := strings.CutPrefix(p, "comptime ")
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("empty parameter name")
		}
		params[i] = ast.Param{Name: name, Comptime: comptime}
	}
	return params, nil
}

// evalType stages a type expression ("Num", "{host: Str, port: Num}",
// "[Num]", "union(Num, Str)") down to its constraint.
func evalType(src string) (constraint.Constraint, error) {
	x, err := parser.Parse(src)
	if err != nil {
		return nil, fmt.Errorf("type: %v", err)
	}
	eng := stage.NewEngine(stage.NewSession(stage.Options{}), nil)
	return eng.EvalType(x)
}
