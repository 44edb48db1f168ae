package stage

import (
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"presage/internal/ast"
	"presage/internal/constraint"
)

// DefaultFuel bounds runaway compile-time recursion. Staging a program
// that legitimately needs more can raise it through Options.
const DefaultFuel = 100000

// Options configures a staging session.
type Options struct {
	Logger    *slog.Logger
	Fuel      int
	NoCluster bool
}

// specialization is one emitted residual function: a distinct body of
// some closure, deduplicated by fingerprint of its printed form.
type specialization struct {
	Name        string
	Fn          *ast.FnExpr
	Fingerprint string
	ClosureID   int
	Result      constraint.Constraint
}

// pending is a specialization whose body is being staged right now.
// A self-call that reaches it with not-fully-known arguments closes
// the cycle: it becomes a residual call to Name, assumed to produce
// Result, instead of recursing.
type pending struct {
	Name   string
	Result constraint.Constraint
}

// Session carries all the state of one top-level staging run: the
// fresh-variable counter, the in-progress recursion table, and the
// specialization registry. Sessions are cheap; one per run, never
// reused, so two runs can never observe each other's leftovers.
type Session struct {
	ID  string
	Log *slog.Logger

	opts Options

	varCounter int
	fuel       int

	// inProgress tracks specializations currently being staged with
	// not-fully-known arguments (see applyClosure).
	inProgress map[string]*pending

	closureSeq int

	specs     []*specialization
	specByKey map[string]*specialization
	specByFp  map[string]*specialization
	usedNames map[string]bool
}

// NewSession creates a fresh session with everything reset.
func NewSession(opts Options) *Session {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	fuel := opts.Fuel
	if fuel <= 0 {
		fuel = DefaultFuel
	}
	opts.Fuel = fuel
	id := uuid.NewString()
	return &Session{
		ID:         id,
		Log:        log.With(slog.String("session", id)),
		opts:       opts,
		fuel:       fuel,
		inProgress: make(map[string]*pending),
		specByKey:  make(map[string]*specialization),
		specByFp:   make(map[string]*specialization),
		usedNames:  make(map[string]bool),
	}
}

// FreshVar mints a unique residual binding name.
func (s *Session) FreshVar(prefix string) string {
	s.varCounter++
	return fmt.Sprintf("_%s%d", prefix, s.varCounter)
}

func (s *Session) nextClosureID() int {
	s.closureSeq++
	return s.closureSeq
}

// charge burns one unit of staging fuel; the error it returns is the
// budget backstop against nonterminating comptime recursion.
func (s *Session) charge() error {
	s.fuel--
	if s.fuel < 0 {
		return fmt.Errorf("staging budget exceeded (limit %d); recursive comptime evaluation did not converge", s.opts.Fuel)
	}
	return nil
}
