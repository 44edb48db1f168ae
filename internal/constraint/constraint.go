package constraint

import (
	"sort"
	"strings"

	"presage/internal/value"
)

// Constraint is a refinement-type value. The staging engine only
// combines and queries constraints; every variant it can observe is
// defined here.
type Constraint interface {
	String() string
	equal(Constraint) bool
}

// Top and bottom

type anyC struct{}

func (*anyC) String() string { return "Any" }

func (*anyC) equal(other Constraint) bool {
	_, ok := other.(*anyC)
	return ok
}

type neverC struct{}

func (*neverC) String() string { return "Never" }

func (*neverC) equal(other Constraint) bool {
	_, ok := other.(*neverC)
	return ok
}

// Primitive kinds

type PrimKind int

const (
	PrimNum PrimKind = iota
	PrimStr
	PrimBool
	PrimNull
	PrimFunc
	PrimType
)

type Prim struct {
	Kind PrimKind
	Name string
}

func (p *Prim) String() string { return p.Name }

func (p *Prim) equal(other Constraint) bool {
	o, ok := other.(*Prim)
	if !ok {
		return false
	}
	return p.Kind == o.Kind
}

var (
	Any   Constraint = &anyC{}
	Never Constraint = &neverC{}
	Num              = &Prim{Kind: PrimNum, Name: "Num"}
	Str              = &Prim{Kind: PrimStr, Name: "Str"}
	Bool             = &Prim{Kind: PrimBool, Name: "Bool"}
	Null             = &Prim{Kind: PrimNull, Name: "Null"}
	Func             = &Prim{Kind: PrimFunc, Name: "Func"}
	Type             = &Prim{Kind: PrimType, Name: "Type"}
)

// Exact is the singleton type of one concrete value.
type Exact struct {
	Val value.Value
}

func (e *Exact) String() string { return "=" + e.Val.String() }

func (e *Exact) equal(other Constraint) bool {
	o, ok := other.(*Exact)
	if !ok {
		return false
	}
	return value.Equal(e.Val, o.Val)
}

// Object constrains field names to constraints. Closed objects admit no
// unlisted fields, which is what lets the engine prove field absence.
type Object struct {
	Fields map[string]Constraint
	Closed bool
}

func (c *Object) String() string {
	names := make([]string, 0, len(c.Fields))
	for name := range c.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	var b strings.Builder
	b.WriteByte('{')
	for i, name := range names {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(name)
		b.WriteString(": ")
		b.WriteString(c.Fields[name].String())
	}
	if !c.Closed {
		if len(names) > 0 {
			b.WriteString(", ")
		}
		b.WriteString("..")
	}
	b.WriteByte('}')
	return b.String()
}

func (c *Object) equal(other Constraint) bool {
	o, ok := other.(*Object)
	if !ok {
		return false
	}
	if c.Closed != o.Closed || len(c.Fields) != len(o.Fields) {
		return false
	}
	for name, fc := range c.Fields {
		oc, ok := o.Fields[name]
		if !ok || !fc.equal(oc) {
			return false
		}
	}
	return true
}

// Array constrains a fixed-arity array per index (tuple shape).
type Array struct {
	Elems []Constraint
}

func (c *Array) String() string {
	var b strings.Builder
	b.WriteByte('[')
	for i, el := range c.Elems {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(el.String())
	}
	b.WriteByte(']')
	return b.String()
}

func (c *Array) equal(other Constraint) bool {
	o, ok := other.(*Array)
	if !ok {
		return false
	}
	if len(c.Elems) != len(o.Elems) {
		return false
	}
	for i, el := range c.Elems {
		if !el.equal(o.Elems[i]) {
			return false
		}
	}
	return true
}

// ArrayOf constrains arrays of unknown length homogeneously.
type ArrayOf struct {
	Elem Constraint
}

func (c *ArrayOf) String() string { return "[" + c.Elem.String() + "..]" }

func (c *ArrayOf) equal(other Constraint) bool {
	o, ok := other.(*ArrayOf)
	if !ok {
		return false
	}
	return c.Elem.equal(o.Elem)
}

// Union is an order-insensitive disjunction.
type Union struct {
	Variants []Constraint
}

func (c *Union) String() string {
	if len(c.Variants) == 0 {
		return "Never"
	}
	var b strings.Builder
	b.WriteByte('(')
	for i, v := range c.Variants {
		if i > 0 {
			b.WriteString(" | ")
		}
		b.WriteString(v.String())
	}
	b.WriteByte(')')
	return b.String()
}

func (c *Union) equal(other Constraint) bool {
	o, ok := other.(*Union)
	if !ok {
		return false
	}
	// Order-insensitive: same variant set both ways
	if len(c.Variants) != len(o.Variants) {
		return false
	}
	for _, v := range c.Variants {
		found := false
		for _, ov := range o.Variants {
			if v.equal(ov) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Negate is used only by flow refinements extracted from conditionals.
type Negate struct {
	Inner Constraint
}

func (c *Negate) String() string { return "!" + c.Inner.String() }

func (c *Negate) equal(other Constraint) bool {
	o, ok := other.(*Negate)
	if !ok {
		return false
	}
	return c.Inner.equal(o.Inner)
}

// Equal - public equality over constraints.
func Equal(a, b Constraint) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.equal(b)
}
