package decls_test

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"presage/internal/ast"
	"presage/internal/decls"
	"presage/internal/parser"
	"presage/internal/stage"
	"presage/internal/value"
)

func writeDecls(t *testing.T, dir, specifier, content string) {
	t.Helper()
	path := filepath.Join(dir, specifier+".pd.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func stageWith(t *testing.T, l *decls.Loader, src string) (*stage.Result, error) {
	t.Helper()
	expr, err := parser.Parse(src)
	if err != nil {
		t.Fatalf("parsing %q: %v", src, err)
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	eng := stage.NewEngine(stage.NewSession(stage.Options{Logger: log}), l)
	return eng.StageProgram(expr)
}

func TestOpaqueExport(t *testing.T) {
	dir := t.TempDir()
	writeDecls(t, dir, "db", `
exports:
  conn:
    type: "{host: Str, port: Num}"
`)
	l := decls.NewLoader(dir)

	res, err := stageWith(t, l, `import "db" (conn) in conn.host`)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := res.Known(); ok {
		t.Fatal("an opaque export cannot be known at staging time")
	}
	printed := ast.Print(res.Program)
	if !strings.Contains(printed, "conn.host") {
		t.Errorf("access must survive by name, got %q", printed)
	}

	// The declared type is enforced during staging.
	if _, err := stageWith(t, l, `import "db" (conn) in conn.host * 2`); err == nil {
		t.Fatal("expected a type error multiplying a Str field")
	}
	if _, err := stageWith(t, l, `import "db" (conn) in conn.user`); err == nil {
		t.Fatal("expected a missing-field error on a closed object type")
	}
}

func TestBodyTemplateExport(t *testing.T) {
	dir := t.TempDir()
	writeDecls(t, dir, "mathx", `
exports:
  double:
    params: ["x"]
    body: "x * 2"
  scale:
    params: ["comptime k", "x"]
    body: "x * k"
`)
	l := decls.NewLoader(dir)

	res, err := stageWith(t, l, `import "mathx" (double) in double(5)`)
	if err != nil {
		t.Fatal(err)
	}
	if v, ok := res.Known(); !ok || v.Kind != value.KindNum || v.Num != 10 {
		t.Errorf("a template applied to known arguments must fold, got %v", res.Value)
	}

	res, err = stageWith(t, l, `import "mathx" (scale) in scale(3, runtime(2))`)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := res.Known(); ok {
		t.Fatal("expected a residual program")
	}
	printed := ast.Print(res.Program)
	if !strings.Contains(printed, "x * 3") {
		t.Errorf("comptime parameter must be baked in, got %q", printed)
	}
	// The template is consumed during staging: the emitted function
	// must be reachable under its own binding, with no import left to
	// shadow it at execution time.
	if strings.Contains(printed, "import") {
		t.Errorf("consumed template import must not survive, got %q", printed)
	}
	if !strings.Contains(printed, "let scale__2 =") {
		t.Errorf("specialization must be bound apart from the import name, got %q", printed)
	}

	if _, err := stageWith(t, l, `import "mathx" (scale) in scale(runtime(3), 2)`); err == nil {
		t.Fatal("a deferred comptime argument must be rejected")
	}
}

func TestTemplateFreeVariables(t *testing.T) {
	// A body template may reference names that only exist where the
	// residual program runs; they survive as external references.
	dir := t.TempDir()
	writeDecls(t, dir, "host", `
exports:
  bump:
    params: ["x"]
    body: "x + offset"
`)
	l := decls.NewLoader(dir)

	res, err := stageWith(t, l, `import "host" (bump) in bump(runtime(1))`)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := res.Known(); ok {
		t.Fatal("expected a residual program")
	}
	printed := ast.Print(res.Program)
	if !strings.Contains(printed, "offset") {
		t.Errorf("free template name must survive as an external reference, got %q", printed)
	}
}

func TestMissingExport(t *testing.T) {
	dir := t.TempDir()
	writeDecls(t, dir, "db", `
exports:
  conn:
    type: "Num"
`)
	l := decls.NewLoader(dir)
	_, err := stageWith(t, l, `import "db" (nope) in nope`)
	if err == nil || !strings.Contains(err.Error(), "nope") {
		t.Fatalf("got %v", err)
	}
}

func TestUnresolvedSpecifier(t *testing.T) {
	l := decls.NewLoader(t.TempDir())
	_, err := stageWith(t, l, `import "missing" (x) in x`)
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("got %v", err)
	}
}

func TestSearchPath(t *testing.T) {
	dir := t.TempDir()
	extra := t.TempDir()
	writeDecls(t, extra, "util", `
exports:
  seed:
    type: "Num"
`)
	t.Setenv(decls.PathEnv, extra)
	l := decls.NewLoader(dir)

	if _, err := stageWith(t, l, `import "util" (seed) in seed + 1`); err != nil {
		t.Fatal(err)
	}
}

func TestBadDeclarations(t *testing.T) {
	dir := t.TempDir()
	writeDecls(t, dir, "empty", "exports: {}\n")
	writeDecls(t, dir, "badtype", `
exports:
  x:
    type: "NotAType"
`)
	writeDecls(t, dir, "badbody", `
exports:
  f:
    params: ["x"]
    body: "x +"
`)
	l := decls.NewLoader(dir)

	for _, spec := range []string{"empty", "badtype", "badbody"} {
		if _, err := l.Load(spec, nil); err == nil {
			t.Errorf("%s: expected an error", spec)
		}
	}

	if _, err := stageWith(t, l, `import "nested/../db" (x) in x`); err == nil {
		t.Error("parent traversal in a specifier must be rejected")
	}
}
