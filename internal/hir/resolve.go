package hir

import (
	"github.com/orizon-lang/patlower/internal/diagnostics"
)

// Resolve fills in the types the interchange input leaves implicit: binding
// pattern types, variable reference types and switch subject types. It checks
// that patterns fit the subject type and that guards are Bool. The module is
// modified in place.
func Resolve(m *Module) diagnostics.List {
	r := &resolver{}
	for _, fn := range m.Functions {
		env := newScope(nil)
		for _, p := range fn.Params {
			env.define(p.Name, p.Type)
		}
		r.stmts(fn.Body, env)
	}
	return r.diags
}

type resolver struct {
	diags diagnostics.List
}

type scope struct {
	parent *scope
	names  map[string]*Type
	// ambiguous names are bound at different types by the alternatives of
	// one case; the body may not read them.
	ambiguous map[string]bool
}

func newScope(parent *scope) *scope {
	return &scope{parent: parent, names: map[string]*Type{}}
}

func (s *scope) define(name string, t *Type) { s.names[name] = t }

func (s *scope) lookup(name string) (t *Type, ok, ambiguous bool) {
	for ; s != nil; s = s.parent {
		if t, ok := s.names[name]; ok {
			return t, true, s.ambiguous[name]
		}
	}
	return nil, false, false
}

func (r *resolver) stmts(list []Stmt, env *scope) {
	for _, s := range list {
		r.stmt(s, env)
	}
}

func (r *resolver) stmt(s Stmt, env *scope) {
	switch s := s.(type) {
	case *ExprStmt:
		r.expr(s.X, env)
	case *ReturnStmt:
		if s.Value != nil {
			r.expr(s.Value, env)
		}
	case *IfStmt:
		r.cond(s.Cond, env, "if condition")
		r.stmts(s.Then, newScope(env))
		r.stmts(s.Else, newScope(env))
	case *BlockStmt:
		r.stmts(s.Body, newScope(env))
	case *SwitchStmt:
		r.switchStmt(s, env)
	}
}

func (r *resolver) switchStmt(sw *SwitchStmt, env *scope) {
	st := r.expr(sw.Subject, env)
	switch {
	case sw.SubjectType == nil:
		sw.SubjectType = st
	case st != nil && !st.Same(sw.SubjectType):
		r.diags.Add(diagnostics.NewDiagnosticBuilder(diagnostics.CategoryTypeMismatch).
			At(sw.Subject.Pos()).
			WithMessagef("switch subject has type %s, declared %s", st, sw.SubjectType).
			Build())
	}
	if sw.SubjectType == nil {
		return
	}

	for _, cl := range sw.Clauses {
		var bodyEnv *scope
		bound := map[string]*Type{}
		var ambiguous map[string]bool
		for i, alt := range cl.Alternatives {
			r.pattern(alt.Pattern, sw.SubjectType)
			altEnv := newScope(env)
			for _, b := range Bindings(alt.Pattern) {
				altEnv.define(b.Name, b.Type)
				if prev, seen := bound[b.Name]; seen && prev != nil && b.Type != nil && !prev.Same(b.Type) {
					if ambiguous == nil {
						ambiguous = map[string]bool{}
					}
					ambiguous[b.Name] = true
				} else if !seen {
					bound[b.Name] = b.Type
				}
			}
			if alt.Guard != nil {
				r.cond(alt.Guard, altEnv, "guard")
			}
			// The body sees the first alternative's names; agreement between
			// alternatives is checked when the match matrix is built.
			if i == 0 {
				bodyEnv = altEnv
			}
		}
		if bodyEnv == nil {
			bodyEnv = newScope(env)
		}
		body := newScope(bodyEnv)
		body.ambiguous = ambiguous
		for n := range ambiguous {
			body.names[n] = bound[n]
		}
		r.stmts(cl.Body, body)
	}
}

// pattern checks p against the type of the value it matches and records the
// type of every binding.
func (r *resolver) pattern(p Pattern, t *Type) {
	switch p := p.(type) {
	case *WildcardPattern:
	case *BindingPattern:
		if p.Type != nil && !p.Type.Same(t) {
			r.diags.Add(diagnostics.NewDiagnosticBuilder(diagnostics.CategoryTypeMismatch).
				At(p.At).
				WithMessagef("binding %s declared %s but matches a value of type %s", p.Name, p.Type, t).
				Build())
		}
		p.Type = t
	case *EnumCasePattern:
		if t.Kind != KindEnum {
			r.diags.Add(diagnostics.NewDiagnosticBuilder(diagnostics.CategoryTypeMismatch).
				At(p.At).
				WithMessagef("enum case pattern .%s cannot match a value of type %s", p.Case, t).
				Build())
			r.poison(p)
			return
		}
		idx := t.CaseIndex(p.Case)
		if idx < 0 {
			r.diags.Add(diagnostics.NewDiagnosticBuilder(diagnostics.CategoryUnknownCase).
				At(p.At).
				WithMessagef("type %s has no case %s", t, p.Case).
				Build())
			r.poison(p)
			return
		}
		c := t.Cases[idx]
		if len(p.Payload) != len(c.Payload) {
			r.diags.Add(diagnostics.NewDiagnosticBuilder(diagnostics.CategoryTypeMismatch).
				At(p.At).
				WithMessagef("case %s.%s has %d payload values, pattern has %d", t, c.Name, len(c.Payload), len(p.Payload)).
				Build())
			r.poison(p)
			return
		}
		for i, sub := range p.Payload {
			r.pattern(sub, c.Payload[i])
		}
	case *TuplePattern:
		if t.Kind != KindTuple || len(t.Elems) != len(p.Elems) {
			r.diags.Add(diagnostics.NewDiagnosticBuilder(diagnostics.CategoryTypeMismatch).
				At(p.At).
				WithMessagef("tuple pattern with %d elements cannot match a value of type %s", len(p.Elems), t).
				Build())
			r.poison(p)
			return
		}
		for i, sub := range p.Elems {
			r.pattern(sub, t.Elems[i])
		}
	case *LiteralPattern:
		if lt := p.Value.Type(); !lt.Same(t) {
			r.diags.Add(diagnostics.NewDiagnosticBuilder(diagnostics.CategoryTypeMismatch).
				At(p.At).
				WithMessagef("literal %s of type %s cannot match a value of type %s", p.Value, lt, t).
				Build())
		}
	}
}

// poison leaves nested bindings without a type so later stages skip them
// instead of reporting follow-on errors.
func (r *resolver) poison(p Pattern) {
	for _, b := range Bindings(p) {
		b.Type = nil
	}
}

func (r *resolver) cond(e Expr, env *scope, what string) {
	t := r.expr(e, env)
	if t != nil && t.Kind != KindBool {
		r.diags.Add(diagnostics.NewDiagnosticBuilder(diagnostics.CategoryTypeMismatch).
			At(e.Pos()).
			WithMessagef("%s has type %s, want Bool", what, t).
			Build())
	}
}

// expr returns the type of e, or nil if it could not be determined. A nil
// result has already been reported.
func (r *resolver) expr(e Expr, env *scope) *Type {
	switch e := e.(type) {
	case *VarRef:
		t, ok, ambiguous := env.lookup(e.Name)
		if !ok {
			r.diags.Add(diagnostics.NewDiagnosticBuilder(diagnostics.CategoryUnresolvedName).
				At(e.At).
				WithMessagef("undefined: %s", e.Name).
				Build())
			return nil
		}
		if ambiguous {
			r.diags.Add(diagnostics.NewDiagnosticBuilder(diagnostics.CategoryTypeMismatch).
				At(e.At).
				WithMessagef("%s is bound at different types by the patterns of this case", e.Name).
				Build())
			return nil
		}
		if t == nil {
			return nil
		}
		if e.Type != nil && !e.Type.Same(t) {
			r.diags.Add(diagnostics.NewDiagnosticBuilder(diagnostics.CategoryTypeMismatch).
				At(e.At).
				WithMessagef("%s annotated %s but has type %s", e.Name, e.Type, t).
				Build())
		}
		e.Type = t
		return t
	case *LitExpr:
		return e.Value.Type()
	case *Unary:
		t := r.expr(e.X, env)
		if t == nil {
			return nil
		}
		switch {
		case e.Op == OpNot && t.Kind != KindBool,
			e.Op == OpNeg && t.Kind != KindInt && t.Kind != KindFloat:
			r.diags.Add(diagnostics.NewDiagnosticBuilder(diagnostics.CategoryTypeMismatch).
				At(e.At).
				WithMessagef("invalid operand of type %s for unary operator", t).
				Build())
			return nil
		}
		return t
	case *Binary:
		x, y := r.expr(e.X, env), r.expr(e.Y, env)
		if x == nil || y == nil {
			if e.Op.IsComparison() || e.Op.IsShortCircuit() {
				return BoolType
			}
			return nil
		}
		if e.Op.IsShortCircuit() {
			if x.Kind != KindBool || y.Kind != KindBool {
				r.mismatch(e, x, y)
			}
			return BoolType
		}
		if !x.Same(y) {
			r.mismatch(e, x, y)
			return nil
		}
		if e.Op.IsComparison() {
			return BoolType
		}
		if x.Kind != KindInt && x.Kind != KindFloat {
			r.mismatch(e, x, y)
			return nil
		}
		return x
	case *Call:
		for _, a := range e.Args {
			r.expr(a, env)
		}
		return e.Result
	}
	return nil
}

func (r *resolver) mismatch(e *Binary, x, y *Type) {
	r.diags.Add(diagnostics.NewDiagnosticBuilder(diagnostics.CategoryTypeMismatch).
		At(e.At).
		WithMessagef("invalid operation: %s %s %s", x, e.Op, y).
		Build())
}
