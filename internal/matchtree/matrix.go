// Package matchtree flattens the case clauses of a switch statement into a
// clause matrix: one row per (clause, alternative) in source order, each row a
// list of structural tests on access paths of the subject, the bindings the
// row introduces and its guard. Rows are tried top to bottom; the first row
// whose tests and guard succeed selects its clause.
//
// Build also checks that the alternatives of one clause bind the same names,
// that the switch is exhaustive and that every row is reachable.
package matchtree

import (
	"fmt"
	"strings"

	"github.com/orizon-lang/patlower/internal/diagnostics"
	"github.com/orizon-lang/patlower/internal/hir"
	"github.com/orizon-lang/patlower/internal/position"
)

// StepKind selects how a path step projects its base value.
type StepKind int

const (
	// StepElem selects tuple element Index.
	StepElem StepKind = iota
	// StepPayload selects payload value Index of enum case Case. Only valid
	// after a TestCase on the base has succeeded.
	StepPayload
)

// Step is one projection from a value to a component.
type Step struct {
	Kind     StepKind
	Index    int
	Case     int
	CaseName string
}

// Path addresses a component of the subject. The empty path is the subject.
type Path []Step

func (p Path) String() string {
	var b strings.Builder
	b.WriteString("$")
	for _, s := range p {
		switch s.Kind {
		case StepElem:
			fmt.Fprintf(&b, ".%d", s.Index)
		case StepPayload:
			fmt.Fprintf(&b, ".%s.%d", s.CaseName, s.Index)
		}
	}
	return b.String()
}

// Parent returns the path of the value p projects from.
func (p Path) Parent() Path {
	if len(p) == 0 {
		return nil
	}
	return p[:len(p)-1]
}

// Last returns the final step. It panics on the empty path.
func (p Path) Last() Step { return p[len(p)-1] }

// Extend returns a new path with s appended; p is not modified.
func (p Path) Extend(s Step) Path {
	out := make(Path, len(p), len(p)+1)
	copy(out, p)
	return append(out, s)
}

// TestKind classifies structural tests.
type TestKind int

const (
	// TestCase checks the enum tag of the value at Path.
	TestCase TestKind = iota
	// TestLiteral compares the value at Path with a constant.
	TestLiteral
)

// Test is one structural check of a row.
type Test struct {
	Kind     TestKind
	Path     Path
	Type     *hir.Type // type of the value at Path
	Case     int
	CaseName string
	Literal  hir.Literal
	Pos      position.Position
}

func (t Test) String() string {
	switch t.Kind {
	case TestCase:
		return fmt.Sprintf("%s is .%s", t.Path, t.CaseName)
	default:
		return fmt.Sprintf("%s == %s", t.Path, t.Literal)
	}
}

// Binding is a name introduced by a row together with where its value lives.
type Binding struct {
	Name string
	Type *hir.Type
	Path Path
	Pos  position.Position
}

// Row is one alternative of one clause.
type Row struct {
	Clause   int
	Alt      int
	Pattern  hir.Pattern
	Tests    []Test
	Bindings []Binding
	Guard    hir.Expr
	Pos      position.Position
}

// Irrefutable reports whether the row matches every subject value.
func (r *Row) Irrefutable() bool { return len(r.Tests) == 0 && r.Guard == nil }

// Matrix is the flattened form of one switch.
type Matrix struct {
	Switch  *hir.SwitchStmt
	Subject *hir.Type
	Rows    []*Row

	// Exhaustive is true when the unguarded rows cover every subject value.
	Exhaustive bool
}

// ClauseRows returns the rows of clause j in alternative order.
func (m *Matrix) ClauseRows(j int) []*Row {
	var out []*Row
	for _, r := range m.Rows {
		if r.Clause == j {
			out = append(out, r)
		}
	}
	return out
}

// Build flattens sw. The subject type and every binding type must already be
// resolved. A nil matrix is returned together with errors when the switch
// cannot be lowered; warnings alone leave the matrix usable.
func Build(sw *hir.SwitchStmt) (*Matrix, diagnostics.List) {
	var diags diagnostics.List
	m := &Matrix{Switch: sw, Subject: sw.SubjectType}

	for j, cl := range sw.Clauses {
		for i, alt := range cl.Alternatives {
			row := &Row{Clause: j, Alt: i, Pattern: alt.Pattern, Guard: alt.Guard, Pos: alt.At}
			if !row.Pos.IsValid() {
				row.Pos = cl.At
			}
			flatten(row, alt.Pattern, sw.SubjectType)
			m.Rows = append(m.Rows, row)
		}
		checkBindingSets(cl, &diags)
	}

	witness, exhaustive := checkExhaustive(m)
	m.Exhaustive = exhaustive
	if !exhaustive {
		diags.Add(diagnostics.NewDiagnosticBuilder(diagnostics.CategoryNonExhaustiveMatch).
			At(sw.At).
			WithMessagef("switch must be exhaustive; %s is not handled", witness).
			Build())
	}
	checkReachable(m, &diags)

	if diags.HasErrors() {
		return nil, diags
	}
	return m, diags
}

type pending struct {
	pat  hir.Pattern
	typ  *hir.Type
	path Path
}

// flatten emits the row's tests breadth first, so a tag test on a value always
// precedes tests on its payload, and collects bindings in source order.
func flatten(row *Row, p hir.Pattern, t *hir.Type) {
	queue := []pending{{pat: p, typ: t}}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		switch p := cur.pat.(type) {
		case *hir.EnumCasePattern:
			idx := cur.typ.CaseIndex(p.Case)
			row.Tests = append(row.Tests, Test{
				Kind: TestCase, Path: cur.path, Type: cur.typ,
				Case: idx, CaseName: p.Case, Pos: p.At,
			})
			if idx < 0 {
				continue
			}
			c := cur.typ.Cases[idx]
			for k, sub := range p.Payload {
				queue = append(queue, pending{
					pat:  sub,
					typ:  c.Payload[k],
					path: cur.path.Extend(Step{Kind: StepPayload, Index: k, Case: idx, CaseName: p.Case}),
				})
			}
		case *hir.TuplePattern:
			for k, sub := range p.Elems {
				queue = append(queue, pending{
					pat:  sub,
					typ:  cur.typ.Elems[k],
					path: cur.path.Extend(Step{Kind: StepElem, Index: k}),
				})
			}
		case *hir.LiteralPattern:
			row.Tests = append(row.Tests, Test{
				Kind: TestLiteral, Path: cur.path, Type: cur.typ,
				Literal: p.Value, Pos: p.At,
			})
		}
	}
	row.Bindings = collectBindings(p, t, nil)
}

func collectBindings(p hir.Pattern, t *hir.Type, path Path) []Binding {
	switch p := p.(type) {
	case *hir.BindingPattern:
		return []Binding{{Name: p.Name, Type: t, Path: path, Pos: p.At}}
	case *hir.EnumCasePattern:
		idx := t.CaseIndex(p.Case)
		if idx < 0 {
			return nil
		}
		var out []Binding
		for k, sub := range p.Payload {
			step := Step{Kind: StepPayload, Index: k, Case: idx, CaseName: p.Case}
			out = append(out, collectBindings(sub, t.Cases[idx].Payload[k], path.Extend(step))...)
		}
		return out
	case *hir.TuplePattern:
		var out []Binding
		for k, sub := range p.Elems {
			out = append(out, collectBindings(sub, t.Elems[k], path.Extend(Step{Kind: StepElem, Index: k}))...)
		}
		return out
	}
	return nil
}

// checkBindingSets reports names bound twice inside one alternative and
// alternatives whose name set differs from the clause's first alternative.
func checkBindingSets(cl *hir.CaseClause, diags *diagnostics.List) {
	var first map[string]bool
	var firstAlt *hir.Alternative
	for i, alt := range cl.Alternatives {
		names := map[string]bool{}
		for _, b := range hir.Bindings(alt.Pattern) {
			if names[b.Name] {
				diags.Add(diagnostics.NewDiagnosticBuilder(diagnostics.CategoryDuplicateBinding).
					At(b.At).
					WithMessagef("%s is bound more than once in the same pattern", b.Name).
					Build())
			}
			names[b.Name] = true
		}
		if i == 0 {
			first, firstAlt = names, alt
			continue
		}
		if missing, extra := diffNames(first, names); missing != "" || extra != "" {
			b := diagnostics.NewDiagnosticBuilder(diagnostics.CategoryInconsistentBindingSet).
				At(alt.At).
				WithRelated(firstAlt.At, "first alternative of this case")
			switch {
			case missing != "":
				b.WithMessagef("%s must be bound in every pattern of the case", missing)
			default:
				b.WithMessagef("%s is not bound in the first pattern of the case", extra)
			}
			diags.Add(b.Build())
		}
	}
}

// diffNames returns, in sorted order, the first name of want missing from
// got and the first name of got missing from want.
func diffNames(want, got map[string]bool) (missing, extra string) {
	for n := range want {
		if !got[n] && (missing == "" || n < missing) {
			missing = n
		}
	}
	for n := range got {
		if !want[n] && (extra == "" || n < extra) {
			extra = n
		}
	}
	return missing, extra
}
