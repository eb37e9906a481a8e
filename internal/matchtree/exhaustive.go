package matchtree

import (
	"strings"

	"github.com/orizon-lang/patlower/internal/diagnostics"
	"github.com/orizon-lang/patlower/internal/hir"
)

// Usefulness follows Maranget, "Warnings for pattern matching" (JFP 2007):
// a vector q is useful with respect to a matrix P when some value matches q
// and no row of P. A switch is exhaustive when `_` is not useful against its
// unguarded rows; a row is reachable when it is useful against the unguarded
// rows above it.

type vec []hir.Pattern

// checkExhaustive returns a witness for an unmatched value when the matrix is
// not exhaustive.
func checkExhaustive(m *Matrix) (string, bool) {
	var rows []vec
	for _, r := range m.Rows {
		if r.Guard == nil {
			rows = append(rows, vec{r.Pattern})
		}
	}
	w, useful := usefulness(rows, vec{wild}, []*hir.Type{m.Subject})
	if !useful {
		return "", true
	}
	return w[0], false
}

func checkReachable(m *Matrix, diags *diagnostics.List) {
	var above []vec
	for _, r := range m.Rows {
		if _, useful := usefulness(above, vec{r.Pattern}, []*hir.Type{m.Subject}); !useful {
			diags.Add(diagnostics.NewDiagnosticBuilder(diagnostics.CategoryUnreachablePattern).
				Warning().
				At(r.Pos).
				WithMessagef("pattern %s is unreachable; earlier cases cover every value it matches", r.Pattern).
				Build())
		}
		if r.Guard == nil {
			above = append(above, vec{r.Pattern})
		}
	}
}

var wild hir.Pattern = &hir.WildcardPattern{}

// ctor is a head constructor: an enum case, the tuple constructor or a
// literal.
type ctor struct {
	kind    ctorKind
	caseIdx int
	lit     hir.Literal
}

type ctorKind int

const (
	ctorEnum ctorKind = iota
	ctorTuple
	ctorLit
)

// headCtor returns the constructor of p, or false for wildcards and bindings.
func headCtor(p hir.Pattern, t *hir.Type) (ctor, bool) {
	switch p := p.(type) {
	case *hir.EnumCasePattern:
		return ctor{kind: ctorEnum, caseIdx: t.CaseIndex(p.Case)}, true
	case *hir.TuplePattern:
		return ctor{kind: ctorTuple}, true
	case *hir.LiteralPattern:
		return ctor{kind: ctorLit, lit: p.Value}, true
	}
	return ctor{}, false
}

// fields returns the component types of constructor c of type t.
func fields(c ctor, t *hir.Type) []*hir.Type {
	switch c.kind {
	case ctorEnum:
		if c.caseIdx < 0 {
			return nil
		}
		return t.Cases[c.caseIdx].Payload
	case ctorTuple:
		return t.Elems
	}
	return nil
}

// subpatterns returns the components of p when its head is c, or nil, false
// when p cannot match a value built with c.
func subpatterns(p hir.Pattern, c ctor, t *hir.Type) (vec, bool) {
	hc, ok := headCtor(p, t)
	if !ok {
		out := make(vec, len(fields(c, t)))
		for i := range out {
			out[i] = wild
		}
		return out, true
	}
	if hc != c {
		return nil, false
	}
	switch p := p.(type) {
	case *hir.EnumCasePattern:
		return vec(p.Payload), true
	case *hir.TuplePattern:
		return vec(p.Elems), true
	}
	return nil, true
}

// specialize keeps the rows whose head can match c, replacing the head with
// its components.
func specialize(rows []vec, c ctor, t *hir.Type) []vec {
	var out []vec
	for _, r := range rows {
		sub, ok := subpatterns(r[0], c, t)
		if !ok {
			continue
		}
		out = append(out, concat(sub, r[1:]))
	}
	return out
}

// defaultRows keeps the rows whose head is a wildcard, dropping the head.
func defaultRows(rows []vec, t *hir.Type) []vec {
	var out []vec
	for _, r := range rows {
		if _, ok := headCtor(r[0], t); !ok {
			out = append(out, r[1:])
		}
	}
	return out
}

// signature returns every constructor of t when the set is finite.
func signature(t *hir.Type) ([]ctor, bool) {
	switch t.Kind {
	case hir.KindEnum:
		out := make([]ctor, len(t.Cases))
		for i := range t.Cases {
			out[i] = ctor{kind: ctorEnum, caseIdx: i}
		}
		return out, true
	case hir.KindTuple:
		return []ctor{{kind: ctorTuple}}, true
	case hir.KindBool:
		return []ctor{
			{kind: ctorLit, lit: hir.Literal{Kind: hir.LitBool, Bool: true}},
			{kind: ctorLit, lit: hir.Literal{Kind: hir.LitBool, Bool: false}},
		}, true
	}
	return nil, false
}

// usefulness reports whether q is useful against rows. When it is, the
// returned witness spells one value per column that matches q but no row.
func usefulness(rows []vec, q vec, types []*hir.Type) ([]string, bool) {
	if len(q) == 0 {
		return nil, len(rows) == 0
	}
	t := types[0]

	if c, ok := headCtor(q[0], t); ok {
		sub, _ := subpatterns(q[0], c, t)
		w, useful := usefulness(specialize(rows, c, t), concat(sub, q[1:]), concatTypes(fields(c, t), types[1:]))
		if !useful {
			return nil, false
		}
		return rebuild(c, t, w), true
	}

	used := map[ctor]bool{}
	for _, r := range rows {
		if c, ok := headCtor(r[0], t); ok {
			used[c] = true
		}
	}
	sig, finite := signature(t)
	complete := finite
	for _, c := range sig {
		if !used[c] {
			complete = false
			break
		}
	}

	if complete {
		for _, c := range sig {
			n := len(fields(c, t))
			sub := make(vec, n)
			for i := range sub {
				sub[i] = wild
			}
			w, useful := usefulness(specialize(rows, c, t), concat(sub, q[1:]), concatTypes(fields(c, t), types[1:]))
			if useful {
				return rebuild(c, t, w), true
			}
		}
		return nil, false
	}

	w, useful := usefulness(defaultRows(rows, t), q[1:], types[1:])
	if !useful {
		return nil, false
	}
	head := "_"
	if finite && len(used) > 0 {
		for _, c := range sig {
			if !used[c] {
				head = spell(c, t, wildcards(len(fields(c, t))))
				break
			}
		}
	}
	return append([]string{head}, w...), true
}

// rebuild folds the first len(fields(c)) witness columns back under c.
func rebuild(c ctor, t *hir.Type, w []string) []string {
	n := len(fields(c, t))
	return append([]string{spell(c, t, w[:n])}, w[n:]...)
}

func wildcards(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = "_"
	}
	return out
}

func spell(c ctor, t *hir.Type, args []string) string {
	switch c.kind {
	case ctorEnum:
		name := "." + t.Cases[c.caseIdx].Name
		if len(args) == 0 {
			return name
		}
		return name + "(" + strings.Join(args, ", ") + ")"
	case ctorTuple:
		return "(" + strings.Join(args, ", ") + ")"
	default:
		return c.lit.String()
	}
}

// concat and concatTypes never share storage with their arguments; pattern
// and type slices belong to the input tree.
func concat(a, b vec) vec {
	out := make(vec, 0, len(a)+len(b))
	return append(append(out, a...), b...)
}

func concatTypes(a, b []*hir.Type) []*hir.Type {
	out := make([]*hir.Type, 0, len(a)+len(b))
	return append(append(out, a...), b...)
}
