package stage_test

import (
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"presage/internal/ast"
	"presage/internal/parser"
	"presage/internal/stage"
	"presage/internal/value"
)

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func stageSrc(t *testing.T, src string) *stage.Result {
	t.Helper()
	res, err := trySrc(src)
	if err != nil {
		t.Fatalf("staging %q: %v", src, err)
	}
	return res
}

func trySrc(src string) (*stage.Result, error) {
	expr, err := parser.Parse(src)
	if err != nil {
		return nil, err
	}
	eng := stage.NewEngine(stage.NewSession(stage.Options{Logger: quiet()}), nil)
	return eng.StageProgram(expr)
}

func wantNum(t *testing.T, src string, want float64) {
	t.Helper()
	res := stageSrc(t, src)
	v, ok := res.Known()
	if !ok {
		t.Fatalf("%q: expected a fully known result, got residual %s", src, ast.Print(res.Program))
	}
	if v.Kind != value.KindNum || v.Num != want {
		t.Errorf("%q: got %s, want %v", src, v.String(), want)
	}
}

func wantResidual(t *testing.T, src string) string {
	t.Helper()
	res := stageSrc(t, src)
	if _, ok := res.Known(); ok {
		t.Fatalf("%q: expected a residual program, got a known value", src)
	}
	printed := ast.Print(res.Program)
	if _, err := parser.Parse(printed); err != nil {
		t.Fatalf("%q: residual program %q does not reparse: %v", src, printed, err)
	}
	return printed
}

func TestFolding(t *testing.T) {
	cases := []struct {
		src  string
		want float64
	}{
		{`1 + 2`, 3},
		{`7 / 2`, 3.5},
		{`10 % 3`, 1},
		{`-(2 * 3)`, -6},
		{`let x = 2 in x * x`, 4},
		{`if 1 < 2 then 10 else 20`, 10},
		{`[1, 2, 3][1]`, 2},
		{`{a: 1, b: 2}.a`, 1},
		{`(fn(a, b) => a + b)(2, 3)`, 5},
		{`let fac = rec fac(n) => if n <= 1 then 1 else n * fac(n - 1) in fac(5)`, 120},
		{`(1; 2)`, 2},
		{`min(3, 5)`, 3},
		{`abs(-4)`, 4},
		{`len("abc")`, 3},
		{`len([1, 2, 3])`, 3},
		{`let {a, b} = {a: 1, b: 2} in a + b`, 3},
	}
	for _, c := range cases {
		wantNum(t, c.src, c.want)
	}
}

func TestFolding_Strings(t *testing.T) {
	res := stageSrc(t, `"a" + "b"`)
	v, ok := res.Known()
	if !ok || v.Kind != value.KindStr || v.Str != "ab" {
		t.Errorf(`"a" + "b": got %v`, v)
	}
}

func TestDeadBranchElimination(t *testing.T) {
	// The untaken branch is never staged: an unbound variable there is
	// not an error.
	wantNum(t, `if true then 1 else nope`, 1)
	wantNum(t, `if 2 < 1 then nope(1) else 5`, 5)
}

func TestShortCircuit(t *testing.T) {
	res := stageSrc(t, `false && nope(1)`)
	if v, ok := res.Known(); !ok || v.Kind != value.KindBool || v.Bool {
		t.Errorf("false && _: got %v", v)
	}
	res = stageSrc(t, `true || nope(1)`)
	if v, ok := res.Known(); !ok || !v.Bool {
		t.Errorf("true || _: got %v", v)
	}
}

func TestRuntimeDefers(t *testing.T) {
	printed := wantResidual(t, `runtime(5) + 3`)
	if !strings.Contains(printed, "runtime(5) + 3") {
		t.Errorf("got %q", printed)
	}
}

func TestRuntimeStillTypeChecked(t *testing.T) {
	// Deferral does not suspend checking: the operand is provably not
	// a number.
	if _, err := trySrc(`runtime("s") + 3`); err == nil {
		t.Fatal("expected a type error")
	}
}

func TestMaterialization_SingleBinding(t *testing.T) {
	printed := wantResidual(t, `let x = runtime(2) in x + x`)
	if got := strings.Count(printed, "runtime"); got != 1 {
		t.Errorf("deferred value must be computed once, got %q", printed)
	}
	if !strings.Contains(printed, "x + x") {
		t.Errorf("uses must flow through the binding, got %q", printed)
	}
}

func TestMaterialization_UnusedCompound(t *testing.T) {
	wantNum(t, `let x = [1, 2, 3] in 5`, 5)
}

func TestComptimeMarker(t *testing.T) {
	wantNum(t, `comptime(1 + 2)`, 3)

	_, err := trySrc(`comptime(runtime(1))`)
	var se *stage.StagingError
	if !errors.As(err, &se) {
		t.Fatalf("expected StagingError, got %v", err)
	}
}

func TestComptimeParam(t *testing.T) {
	printed := wantResidual(t, `let f = fn(comptime n, x) => x + n in f(2, runtime(3))`)
	if !strings.Contains(printed, "x + 2") {
		t.Errorf("comptime argument must be baked into the body, got %q", printed)
	}
	if strings.Contains(printed, "x + n") {
		t.Errorf("unspecialized body leaked, got %q", printed)
	}

	_, err := trySrc(`let f = fn(comptime n, x) => x + n in f(runtime(2), 3)`)
	var se *stage.StagingError
	if !errors.As(err, &se) {
		t.Fatalf("a deferred comptime argument must be rejected, got %v", err)
	}
}

func TestSpecializationSharing(t *testing.T) {
	// Two call sites, identical emitted bodies: one function.
	printed := wantResidual(t, `let f = fn(x) => x * 2 in f(runtime(1)) + f(runtime(2))`)
	if got := strings.Count(printed, "=>"); got != 1 {
		t.Errorf("expected one emitted function, got %d in %q", got, printed)
	}
	if strings.Contains(printed, "f__2") {
		t.Errorf("identical bodies must share a name, got %q", printed)
	}
}

func TestRecursion_Terminates(t *testing.T) {
	printed := wantResidual(t,
		`let count = rec count(n) => if n <= 0 then 0 else count(n - 1) + 1 in count(runtime(3))`)
	if !strings.Contains(printed, "rec ") {
		t.Errorf("expected a recursive emitted function, got %q", printed)
	}
}

func TestRecursion_FuelBackstop(t *testing.T) {
	expr, err := parser.Parse(`let loop = rec loop(n) => loop(n + 1) in loop(0)`)
	if err != nil {
		t.Fatal(err)
	}
	eng := stage.NewEngine(stage.NewSession(stage.Options{Logger: quiet(), Fuel: 500}), nil)
	_, err = eng.StageProgram(expr)
	if err == nil {
		t.Fatal("expected the staging budget to trip")
	}
	if !strings.Contains(err.Error(), "limit 500") {
		t.Errorf("budget error must report the configured limit, got %v", err)
	}
}

func TestMutualRecursion(t *testing.T) {
	src := `let even = rec even(n, odd) => if n <= 0 then true else odd(n - 1, even)
	        in let odd = rec odd(n, even) => if n <= 0 then false else even(n - 1, odd)
	        in even(runtime(4), odd)`
	printed := wantResidual(t, src)
	if !strings.Contains(printed, "even") || !strings.Contains(printed, "odd") {
		t.Errorf("both functions must be emitted, got %q", printed)
	}
}

func TestLaterArray_KnownIndex(t *testing.T) {
	wantNum(t, `[runtime(1), 2][1]`, 2)
	wantNum(t, `len([runtime(1), 2, 3])`, 3)
}

func TestArrayBuiltins_Staged(t *testing.T) {
	wantNum(t, `[1, runtime(2)].map(fn(v) => v * 10)[0]`, 10)
	wantNum(t, `[1, 2, 3].filter(fn(v) => v > 1)[0]`, 2)
	wantNum(t, `[1, 2, 3].fold(0, fn(acc, v) => acc + v)`, 6)
	wantNum(t, `len(concat([1], [2, 3]))`, 3)
}

func TestAssert(t *testing.T) {
	wantNum(t, `assert(1, Num)`, 1)

	_, err := trySrc(`assert(1, Str)`)
	var ae *stage.AssertionError
	if !errors.As(err, &ae) {
		t.Fatalf("expected AssertionError, got %v", err)
	}

	// Statically impossible assertions fail during staging even for
	// deferred values.
	if _, err := trySrc(`assert(runtime(1), Str)`); err == nil {
		t.Fatal("expected a type error")
	}

	// Plausible assertions on deferred values stay in the output.
	printed := wantResidual(t, `assert(trust(runtime(1), Any), Num) + 1`)
	if !strings.Contains(printed, "assert(") {
		t.Errorf("check must survive into the residual program, got %q", printed)
	}
}

func TestAssert_ConditionForm(t *testing.T) {
	res := stageSrc(t, `assert(2 > 1)`)
	if v, ok := res.Known(); !ok || !v.Bool {
		t.Errorf("got %v", v)
	}
	if _, err := trySrc(`assert(1 > 2)`); err == nil {
		t.Fatal("expected assertion failure")
	}
}

func TestTrustNarrows(t *testing.T) {
	res := stageSrc(t, `typeof(trust(runtime(1), Str))`)
	v, ok := res.Known()
	if !ok || v.Kind != value.KindType {
		t.Fatalf("typeof must be known, got %v", res.Value)
	}
	if v.String() != "Str" {
		t.Errorf("trust must override the tracked constraint, got %s", v.String())
	}

	// The overridden constraint must be usable downstream, not a
	// contradiction that fails every later check.
	res = stageSrc(t, `trust(runtime(1), Str) + "!"`)
	if _, ok := res.Known(); ok {
		t.Fatal("expected a residual program")
	}
}

func TestTypeofIsStatic(t *testing.T) {
	res := stageSrc(t, `typeof(runtime(1) + 2)`)
	v, ok := res.Known()
	if !ok || v.String() != "Num" {
		t.Errorf("got %v (known=%v)", v, ok)
	}
}

func TestClosedObject_FieldErrors(t *testing.T) {
	if _, err := trySrc(`{a: 1}.b`); err == nil {
		t.Fatal("expected missing-field error")
	}
	// The constraint of a deferred object literal still proves which
	// fields exist.
	if _, err := trySrc(`runtime({a: 1}).b`); err == nil {
		t.Fatal("expected missing-field error through deferral")
	}
	wantResidual(t, `runtime({a: 7}).a + 0`) // present field stays deferred but well typed
}

func TestBlockKeepsDeferredEffects(t *testing.T) {
	printed := wantResidual(t, `(print(runtime(1)); 2)`)
	if !strings.Contains(printed, "print(") {
		t.Errorf("deferred effect dropped, got %q", printed)
	}
}

func TestDestructure_Deferred(t *testing.T) {
	printed := wantResidual(t, `let {a, b} = runtime({a: 1, b: 2}) in a + b`)
	if got := strings.Count(printed, "runtime"); got != 1 {
		t.Errorf("object must be computed once, got %q", printed)
	}
}

func TestClustering(t *testing.T) {
	src := `let f = fn(comptime k, x) => x * k in f(3, runtime(1)) + f(4, runtime(2))`

	printed := wantResidual(t, src)
	if got := strings.Count(printed, "=>"); got != 1 {
		t.Errorf("near-identical bodies must share a template, got %d in %q", got, printed)
	}
	if !strings.Contains(printed, "f(3, ") || !strings.Contains(printed, "f(4, ") {
		t.Errorf("call sites must pass their own literals, got %q", printed)
	}

	// NoCluster keeps the separate specializations.
	expr, err := parser.Parse(src)
	if err != nil {
		t.Fatal(err)
	}
	eng := stage.NewEngine(stage.NewSession(stage.Options{Logger: quiet(), NoCluster: true}), nil)
	res, err := eng.StageProgram(expr)
	if err != nil {
		t.Fatal(err)
	}
	if got := strings.Count(ast.Print(res.Program), "=>"); got != 2 {
		t.Errorf("expected two specializations without clustering, got %d", got)
	}
}

func TestTransparentRuntime(t *testing.T) {
	expr, err := parser.Parse(`runtime(5) + 3`)
	if err != nil {
		t.Fatal(err)
	}
	eng := stage.NewEngine(stage.NewSession(stage.Options{Logger: quiet()}), nil)
	eng.TransparentRuntime = true
	res, err := eng.StageProgram(expr)
	if err != nil {
		t.Fatal(err)
	}
	if v, ok := res.Known(); !ok || v.Num != 8 {
		t.Errorf("got %v", res.Value)
	}
}

func TestErrors(t *testing.T) {
	_, err := trySrc(`nope + 1`)
	var ub *stage.UnboundVariableError
	if !errors.As(err, &ub) || ub.Name != "nope" {
		t.Fatalf("expected unbound error for nope, got %v", err)
	}

	_, err = trySrc(`"a" * 2`)
	var te *stage.TypeError
	if !errors.As(err, &te) {
		t.Fatalf("expected TypeError, got %v", err)
	}

	if _, err := trySrc(`1 / 0`); err == nil || !strings.Contains(err.Error(), "division by zero") {
		t.Fatalf("got %v", err)
	}

	if _, err := trySrc(`[1, 2][5]`); err == nil || !strings.Contains(err.Error(), "out of range") {
		t.Fatalf("got %v", err)
	}

	if _, err := trySrc(`import "m" (x) in x`); err == nil {
		t.Fatal("expected an error without a declaration loader")
	}
}

func TestDeferredConditional(t *testing.T) {
	printed := wantResidual(t, `if runtime(true) then 1 else 2`)
	if !strings.Contains(printed, "then 1 else 2") {
		t.Errorf("both branches must survive, got %q", printed)
	}
	// Errors in either branch surface even though the condition is
	// deferred.
	if _, err := trySrc(`if runtime(true) then nope else 2`); err == nil {
		t.Fatal("expected unbound error from the then branch")
	}
}

func TestUnknownCallee(t *testing.T) {
	printed := wantResidual(t, `runtime(fn(v) => v)(41)`)
	if !strings.Contains(printed, "(41)") {
		t.Errorf("got %q", printed)
	}
}
