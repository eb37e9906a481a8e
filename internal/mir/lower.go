// HIR to MIR lowering.
// Each switch statement is flattened into a clause matrix and lowered to a
// chain of tests in source order:
//
//	case_enter_j   allocate the clause's shadow slots
//	  alt i        project, test, bind into slots, evaluate the guard
//	  guard true   end the alternative's borrows, branch to the shared body
//	  test/guard failure
//	               undo the alternative (reverse order), try alternative i+1
//	case_fail_j    deallocate the slots, try clause j+1
//	case_body_j    body; on exit destroy and deallocate slots, leave the switch
//	switch_nomatch unreachable
//
// Every edge leaving a scope runs the pending cleanups of that scope, deepest
// first, without popping them from the cleanup stack.

package mir

import (
	"errors"
	"fmt"

	"github.com/orizon-lang/patlower/internal/diagnostics"
	"github.com/orizon-lang/patlower/internal/hir"
	"github.com/orizon-lang/patlower/internal/matchtree"
	"github.com/orizon-lang/patlower/internal/position"
	"github.com/orizon-lang/patlower/internal/slots"
)

// Lowerer converts resolved HIR functions to MIR. A Lowerer holds no state
// between calls and may be shared by concurrent compilations.
type Lowerer struct {
	// Verify runs the resource and location checks on every lowered function.
	Verify bool
}

// NewLowerer creates a lowerer with verification enabled.
func NewLowerer() *Lowerer {
	return &Lowerer{Verify: true}
}

// LowerModule lowers every function of m. A function whose switch statements
// cannot be lowered is left out and its diagnostics returned; the remaining
// functions are still lowered. The error result is reserved for internal
// failures.
func (l *Lowerer) LowerModule(m *hir.Module) (*Module, diagnostics.List, error) {
	if m == nil {
		return nil, nil, fmt.Errorf("HIR module is nil")
	}
	out := &Module{Name: m.Name, File: m.File}
	var diags diagnostics.List
	for _, fn := range m.Functions {
		f, err := l.LowerFunction(fn)
		var le *diagnostics.ListError
		switch {
		case errors.As(err, &le):
			diags.Append(le.List)
			continue
		case err != nil:
			return nil, diags, fmt.Errorf("function %s: %w", fn.Name, err)
		}
		diags.Append(f.Warnings)
		out.Functions = append(out.Functions, f)
	}
	diags.Sort()
	return out, diags, nil
}

// LowerFunction lowers one function. When a switch statement fails to build
// its match matrix the error is a *diagnostics.ListError carrying every
// diagnostic of the function.
func (l *Lowerer) LowerFunction(fn *hir.Function) (*Function, error) {
	if fn == nil {
		return nil, fmt.Errorf("HIR function is nil")
	}

	fl := &funcLowerer{
		matrices: map[*hir.SwitchStmt]*matchtree.Matrix{},
		fn: &Function{
			Name: fn.Name,
			Pos:  fn.At,
			End:  fn.End,
		},
	}

	var diags diagnostics.List
	walkSwitches(fn.Body, func(sw *hir.SwitchStmt) {
		m, d := matchtree.Build(sw)
		diags.Append(d)
		if m != nil {
			fl.matrices[sw] = m
		}
	})
	if diags.HasErrors() {
		diags.Sort()
		return nil, diags.Err()
	}
	fl.fn.Warnings = diags

	fl.lowerFunction(fn)
	fl.removeUnreachableBlocks()

	if l.Verify {
		if err := Verify(fl.fn); err != nil {
			return nil, fmt.Errorf("lowering produced invalid MIR: %w", err)
		}
	}
	return fl.fn, nil
}

// walkSwitches calls visit for every switch statement in source order,
// outer statements before the ones nested in their bodies.
func walkSwitches(list []hir.Stmt, visit func(*hir.SwitchStmt)) {
	for _, s := range list {
		switch s := s.(type) {
		case *hir.SwitchStmt:
			visit(s)
			for _, cl := range s.Clauses {
				walkSwitches(cl.Body, visit)
			}
		case *hir.IfStmt:
			walkSwitches(s.Then, visit)
			walkSwitches(s.Else, visit)
		case *hir.BlockStmt:
			walkSwitches(s.Body, visit)
		}
	}
}

// cleanupKind orders what a pending cleanup releases.
type cleanupKind int

const (
	cleanupDealloc cleanupKind = iota
	cleanupDestroy
	cleanupBorrow
)

type cleanup struct {
	kind cleanupKind
	op   Instr
	// partial marks a slot value only some alternatives of the clause write.
	// The body cannot name it, so it is released before entering the body.
	partial bool
}

type binding struct {
	addr Value
	typ  *hir.Type
}

type scope struct {
	parent *scope
	names  map[string]binding
}

func (s *scope) lookup(name string) (binding, bool) {
	for ; s != nil; s = s.parent {
		if b, ok := s.names[name]; ok {
			return b, true
		}
	}
	return binding{}, false
}

type funcLowerer struct {
	fn       *Function
	matrices map[*hir.SwitchStmt]*matchtree.Matrix

	cur    *BasicBlock
	region int
	env    *scope

	valueCounter int
	blockCounter int

	cleanups []cleanup
	// owned lists call results of refcounted type not yet consumed by the
	// current statement.
	owned []Value
}

func (fl *funcLowerer) lowerFunction(fn *hir.Function) {
	fl.fn.Regions = []*Region{{ID: 0, Kind: RegionFunction, Parent: -1, Pos: fn.At}}
	fl.env = &scope{names: map[string]binding{}}
	fl.setBlock(fl.createBasicBlock("entry"))

	for i, p := range fn.Params {
		class := ClassOf(p.Type)
		val := Ref("%"+p.Name, class)
		fl.fn.Parameters = append(fl.fn.Parameters, val)

		addr := Ref("%"+p.Name+".addr", ClassRef)
		loc := Loc{Pos: p.At}
		fl.emit(Alloca{Dst: addr.Ref, Name: p.Name, Type: p.Type.Key()}, loc)
		fl.emit(Store{Addr: addr, Val: val}, loc)
		fl.push(cleanupDealloc, Dealloc{Addr: addr}, false)

		fl.env.names[p.Name] = binding{addr: addr, typ: p.Type}
		fl.fn.Regions[0].Bindings = append(fl.fn.Regions[0].Bindings, BindingRecord{
			Region: 0, Clause: -1, Arg: i + 1,
			Name: p.Name, Type: p.Type, Addr: addr, Pos: p.At,
		})
	}

	fl.stmts(fn.Body)

	if fl.cur != nil {
		fl.emitCleanups(0, Loc{Pos: fn.End, Kind: LocCleanup})
		fl.emit(Ret{}, Loc{Pos: fn.End})
		fl.cur = nil
	}
}

// ====== Statements ======

func (fl *funcLowerer) stmts(list []hir.Stmt) {
	for _, s := range list {
		fl.stmt(s)
	}
}

func (fl *funcLowerer) stmt(s hir.Stmt) {
	switch s := s.(type) {
	case *hir.ExprStmt:
		fl.expr(s.X)
		fl.destroyOwned(Loc{Pos: s.At, Kind: LocCleanup})
	case *hir.ReturnStmt:
		fl.returnStmt(s)
	case *hir.IfStmt:
		fl.ifStmt(s)
	case *hir.BlockStmt:
		fl.pushScope()
		fl.stmts(s.Body)
		fl.popScope()
		if fl.cur != nil {
			next := fl.createBasicBlock("do_end")
			fl.br(next, Loc{Pos: s.End, Kind: LocCleanup})
			fl.setBlock(next)
		}
	case *hir.SwitchStmt:
		fl.switchStmt(s)
	}
}

func (fl *funcLowerer) returnStmt(s *hir.ReturnStmt) {
	var rv *Value
	if s.Value != nil {
		v := fl.expr(s.Value)
		if v.Class == ClassRef && v.Kind == ValRef && !fl.takeOwned(v) {
			c := fl.newValue()
			fl.emit(Copy{Dst: c, Val: v}, Loc{Pos: s.At})
			v = Ref(c, ClassRef)
		}
		rv = &v
	}
	fl.destroyOwned(Loc{Pos: s.At, Kind: LocCleanup})
	fl.emitCleanups(0, Loc{Pos: s.At, Kind: LocCleanup})
	fl.emit(Ret{Val: rv}, Loc{Pos: s.At})
	fl.cur = nil
}

func (fl *funcLowerer) ifStmt(s *hir.IfStmt) {
	thenBlock := fl.createBasicBlock("if_then")
	var elseBlock *BasicBlock
	if len(s.Else) > 0 {
		elseBlock = fl.createBasicBlock("if_else")
	}
	contBlock := fl.createBasicBlock("if_cont")

	falseTarget := contBlock
	if elseBlock != nil {
		falseTarget = elseBlock
	}
	fl.cond(s.Cond, thenBlock, falseTarget)

	fl.setBlock(thenBlock)
	fl.pushScope()
	fl.stmts(s.Then)
	fl.popScope()
	if fl.cur != nil {
		fl.br(contBlock, Loc{Pos: s.End, Kind: LocAutoGen})
	}

	if elseBlock != nil {
		fl.setBlock(elseBlock)
		fl.pushScope()
		fl.stmts(s.Else)
		fl.popScope()
		if fl.cur != nil {
			fl.br(contBlock, Loc{Pos: s.End, Kind: LocAutoGen})
		}
	}
	fl.sinkBlock(contBlock)
	fl.setBlock(contBlock)
}

// ====== Switch ======

func (fl *funcLowerer) switchStmt(sw *hir.SwitchStmt) {
	m := fl.matrices[sw]
	table := slots.Allocate(m)

	outerRegion := fl.region
	fl.region = fl.newRegion(RegionSwitch, outerRegion, sw.At)
	defer func() { fl.region = outerRegion }()

	switchBase := len(fl.cleanups)
	subject := fl.expr(sw.Subject)
	if fl.takeOwned(subject) {
		fl.push(cleanupDestroy, Destroy{Val: subject}, false)
	}
	fl.destroyOwned(Loc{Pos: sw.Subject.Pos(), Kind: LocCleanup})

	enters := make([]*BasicBlock, len(sw.Clauses))
	for j := range enters {
		enters[j] = fl.createBasicBlock("case_enter")
	}
	noMatch := fl.createBasicBlock("switch_nomatch")
	end := fl.createBasicBlock("switch_end")

	if len(enters) == 0 {
		fl.br(noMatch, Loc{Pos: sw.At, Kind: LocAutoGen})
	} else {
		fl.br(enters[0], Loc{Pos: sw.At, Kind: LocAutoGen})
	}

	for j, cl := range sw.Clauses {
		fl.setBlock(enters[j])
		next := noMatch
		if j+1 < len(enters) {
			next = enters[j+1]
		}
		fl.clause(m, table, j, cl, subject, switchBase, next, end)
	}

	// Build rejects non-exhaustive switches, so falling off the last clause
	// cannot happen.
	fl.setBlock(noMatch)
	fl.emit(Unreachable{}, Loc{Pos: sw.End, Kind: LocAutoGen})
	fl.cur = nil
	fl.cleanups = fl.cleanups[:switchBase]

	fl.sinkBlock(end)
	fl.setBlock(end)
}

// clause lowers clause j. The current block is its case_enter block.
func (fl *funcLowerer) clause(m *matchtree.Matrix, table *slots.Table, j int, cl *hir.CaseClause,
	subject Value, switchBase int, next, end *BasicBlock) {
	clauseBase := len(fl.cleanups)
	region := fl.fn.Regions[fl.region]

	slotAddr := map[*slots.Slot]Value{}
	for _, s := range table.Clause(j) {
		addr := Ref(fmt.Sprintf("%%%s.addr%d", s.Name, fl.nextValueID()), ClassRef)
		slotAddr[s] = addr
		fl.emit(Alloca{Dst: addr.Ref, Name: s.Name, Type: s.Type.Key()}, Loc{Pos: s.Decl})
		fl.push(cleanupDealloc, Dealloc{Addr: addr}, false)
		region.Bindings = append(region.Bindings, BindingRecord{
			Region: fl.region, Clause: j, Slot: s,
			Name: s.Name, Type: s.Type, Addr: addr, Pos: s.Decl,
		})
	}
	slotBase := len(fl.cleanups)

	rows := m.ClauseRows(j)
	full := fullSlots(table, j, len(rows))
	fail := fl.createBasicBlock("case_fail")
	body := fl.createBasicBlock("case_body")

	for i, row := range rows {
		altNext := fail
		if i+1 < len(rows) {
			altNext = fl.createBasicBlock("case_test")
		}
		fl.alternative(row, table.ForAlternative(j, i), slotAddr, full, subject, m.Switch.SubjectType, altNext, body)
		fl.cleanups = fl.cleanups[:slotBase]
		if altNext != fail {
			fl.setBlock(altNext)
		}
	}

	fl.setBlock(fail)
	fl.emitCleanups(clauseBase, Loc{Pos: cl.At, Kind: LocAutoGen})
	fl.br(next, Loc{Pos: cl.At, Kind: LocAutoGen})

	fl.setBlock(body)
	for _, s := range table.Clause(j) {
		if full[s] && s.Type.Refcounted() {
			fl.push(cleanupDestroy, DestroyAddr{Addr: slotAddr[s]}, false)
		}
	}
	fl.pushScope()
	if len(rows) > 0 {
		for _, b := range rows[0].Bindings {
			if s, ok := table.Lookup(j, b.Name, b.Type.Key()); ok && full[s] {
				fl.env.names[b.Name] = binding{addr: slotAddr[s], typ: s.Type}
			}
		}
	}
	fl.stmts(cl.Body)
	fl.popScope()
	if fl.cur != nil {
		fl.emitCleanups(switchBase, Loc{Pos: cl.BodyEnd, Kind: LocCleanup})
		fl.br(end, Loc{Pos: cl.BodyEnd, Kind: LocAutoGen})
	}
	fl.cleanups = fl.cleanups[:clauseBase]
}

// fullSlots returns the slots of clause j written by every alternative.
func fullSlots(table *slots.Table, j, alts int) map[*slots.Slot]bool {
	count := map[*slots.Slot]int{}
	for i := 0; i < alts; i++ {
		seen := map[*slots.Slot]bool{}
		for _, s := range table.ForAlternative(j, i) {
			if !seen[s] {
				seen[s] = true
				count[s]++
			}
		}
	}
	full := map[*slots.Slot]bool{}
	for s, n := range count {
		full[s] = n == alts
	}
	return full
}

// alternative lowers the tests, bindings and guard of one row. On success it
// branches to body, otherwise to next, in both cases with the row's own
// cleanups emitted.
func (fl *funcLowerer) alternative(row *matchtree.Row, altSlots []*slots.Slot, slotAddr map[*slots.Slot]Value,
	full map[*slots.Slot]bool, subject Value, root *hir.Type, next, body *BasicBlock) {
	altBase := len(fl.cleanups)
	proj := map[string]Value{"": subject}

	var valueAt func(p matchtree.Path, loc Loc) Value
	valueAt = func(p matchtree.Path, loc Loc) Value {
		key := ""
		if len(p) > 0 {
			key = p.String()
		}
		if v, ok := proj[key]; ok {
			return v
		}
		base := valueAt(p.Parent(), loc)
		step := p.Last()
		class := ClassOf(typeAt(root, p))
		d := fl.newValue()
		pr := Project{Dst: d, Base: base, Index: step.Index, Class: class}
		if step.Kind == matchtree.StepPayload {
			pr.Kind, pr.Case = ProjPayload, step.CaseName
		}
		fl.emit(pr, loc)
		v := Ref(d, class)
		fl.push(cleanupBorrow, EndBorrow{Val: v}, false)
		proj[key] = v
		return v
	}

	for _, t := range row.Tests {
		loc := Loc{Pos: t.Pos}
		if !loc.Pos.IsValid() {
			loc.Pos = row.Pos
		}
		v := valueAt(t.Path, loc)

		c := fl.newValue()
		switch t.Kind {
		case matchtree.TestCase:
			tag := fl.newValue()
			fl.emit(EnumTag{Dst: tag, Val: v}, loc)
			fl.emit(Cmp{Dst: c, Pred: CmpEQ, LHS: Ref(tag, ClassInt), RHS: ConstInt(int64(t.Case))}, loc)
		case matchtree.TestLiteral:
			fl.emit(Cmp{Dst: c, Pred: CmpEQ, LHS: v, RHS: literal(t.Literal)}, loc)
		}

		matched := fl.createBasicBlock("case_match")
		failLoc := Loc{Pos: loc.Pos, Kind: LocAutoGen}
		if len(fl.cleanups) > altBase {
			undo := fl.createBasicBlock("test_fail")
			fl.condBr(Ref(c, ClassInt), matched, undo, loc)
			fl.setBlock(undo)
			fl.emitCleanups(altBase, failLoc)
			fl.br(next, failLoc)
		} else {
			fl.condBr(Ref(c, ClassInt), matched, next, loc)
		}
		fl.setBlock(matched)
	}

	guardScope := &scope{parent: fl.env, names: map[string]binding{}}
	for k, b := range row.Bindings {
		s := altSlots[k]
		addr := slotAddr[s]
		loc := Loc{Pos: b.Pos}
		v := valueAt(b.Path, loc)
		if b.Type.Refcounted() {
			c := fl.newValue()
			fl.emit(Copy{Dst: c, Val: v}, loc)
			v = Ref(c, ClassRef)
			fl.emit(Store{Addr: addr, Val: v}, loc)
			fl.push(cleanupDestroy, DestroyAddr{Addr: addr}, !full[s])
		} else {
			fl.emit(Store{Addr: addr, Val: v}, loc)
		}
		guardScope.names[b.Name] = binding{addr: addr, typ: b.Type}
	}

	exitPos := row.Pos
	if row.Guard != nil {
		exitPos = row.Guard.Pos()
		outerRegion := fl.region
		if hir.HasShortCircuit(row.Guard) {
			fl.region = fl.newRegion(RegionGuard, outerRegion, row.Guard.Pos())
		}
		outerEnv := fl.env
		fl.env = guardScope

		onTrue := fl.createBasicBlock("guard_true")
		onFalse := fl.createBasicBlock("guard_false")
		fl.cond(row.Guard, onTrue, onFalse)

		fl.env = outerEnv
		fl.region = outerRegion

		fl.setBlock(onFalse)
		failLoc := Loc{Pos: exitPos, Kind: LocAutoGen}
		fl.emitCleanups(altBase, failLoc)
		fl.br(next, failLoc)
		fl.setBlock(onTrue)
	}

	// End the row's borrows and release slot values the body cannot see.
	enterLoc := Loc{Pos: exitPos, Kind: LocAutoGen}
	for i := len(fl.cleanups) - 1; i >= altBase; i-- {
		c := fl.cleanups[i]
		if c.kind == cleanupBorrow || c.partial {
			fl.emit(c.op, enterLoc)
		}
	}
	fl.br(body, enterLoc)
}

// typeAt returns the type of the component p addresses in a value of type t.
func typeAt(t *hir.Type, p matchtree.Path) *hir.Type {
	for _, step := range p {
		if t == nil {
			return nil
		}
		switch step.Kind {
		case matchtree.StepElem:
			t = t.Elems[step.Index]
		case matchtree.StepPayload:
			t = t.Cases[step.Case].Payload[step.Index]
		}
	}
	return t
}

// ====== Expressions ======

// cond lowers e as a branch condition, short-circuiting && and ||.
func (fl *funcLowerer) cond(e hir.Expr, t, f *BasicBlock) {
	switch e := e.(type) {
	case *hir.Binary:
		switch e.Op {
		case hir.OpAndAnd:
			rhs := fl.createBasicBlock("and_rhs")
			fl.cond(e.X, rhs, f)
			fl.setBlock(rhs)
			fl.cond(e.Y, t, f)
			return
		case hir.OpOrOr:
			rhs := fl.createBasicBlock("or_rhs")
			fl.cond(e.X, t, rhs)
			fl.setBlock(rhs)
			fl.cond(e.Y, t, f)
			return
		}
	case *hir.Unary:
		if e.Op == hir.OpNot {
			fl.cond(e.X, f, t)
			return
		}
	}
	mark := len(fl.owned)
	v := fl.expr(e)
	fl.destroyOwnedFrom(mark, Loc{Pos: e.Pos(), Kind: LocCleanup})
	fl.condBr(v, t, f, Loc{Pos: e.Pos()})
}

func (fl *funcLowerer) expr(e hir.Expr) Value {
	switch e := e.(type) {
	case *hir.VarRef:
		b, ok := fl.env.lookup(e.Name)
		if !ok {
			panic(fmt.Sprintf("mir: unresolved name %s at %v", e.Name, e.At))
		}
		d := fl.newValue()
		fl.emit(Load{Dst: d, Addr: b.addr}, Loc{Pos: e.At})
		return Ref(d, ClassOf(b.typ))
	case *hir.LitExpr:
		return literal(e.Value)
	case *hir.Unary:
		x := fl.expr(e.X)
		d := fl.newValue()
		if e.Op == hir.OpNot {
			fl.emit(Cmp{Dst: d, Pred: CmpEQ, LHS: x, RHS: ConstInt(0)}, Loc{Pos: e.At})
			return Ref(d, ClassInt)
		}
		fl.emit(Neg{Dst: d, X: x}, Loc{Pos: e.At})
		return Ref(d, x.Class)
	case *hir.Binary:
		if e.Op.IsShortCircuit() {
			return fl.shortCircuitValue(e)
		}
		x := fl.expr(e.X)
		y := fl.expr(e.Y)
		d := fl.newValue()
		loc := Loc{Pos: e.At}
		if e.Op.IsComparison() {
			fl.emit(Cmp{Dst: d, Pred: cmpPred(e.Op, x.Class), LHS: x, RHS: y}, loc)
			return Ref(d, ClassInt)
		}
		fl.emit(BinOp{Dst: d, Op: binOp(e.Op), LHS: x, RHS: y}, loc)
		return Ref(d, x.Class)
	case *hir.Call:
		args := make([]Value, 0, len(e.Args))
		for _, a := range e.Args {
			args = append(args, fl.expr(a))
		}
		call := Call{Callee: e.Callee, Args: args, RetClass: ClassOf(e.Result), Owned: e.Result.Refcounted()}
		var result Value
		if e.Result != nil {
			call.Dst = fl.newValue()
			result = Ref(call.Dst, call.RetClass)
		}
		fl.emit(call, Loc{Pos: e.At})
		if call.Owned {
			fl.owned = append(fl.owned, result)
		}
		return result
	}
	panic(fmt.Sprintf("mir: unexpected expression %T", e))
}

// shortCircuitValue materializes a && or || in value position through a
// temporary slot.
func (fl *funcLowerer) shortCircuitValue(e *hir.Binary) Value {
	loc := Loc{Pos: e.At, Kind: LocAutoGen}
	tmp := Ref(fmt.Sprintf("%%sc.addr%d", fl.nextValueID()), ClassRef)
	fl.emit(Alloca{Dst: tmp.Ref, Type: "Bool"}, loc)

	onTrue := fl.createBasicBlock("sc_true")
	onFalse := fl.createBasicBlock("sc_false")
	join := fl.createBasicBlock("sc_join")
	fl.cond(e, onTrue, onFalse)

	fl.setBlock(onTrue)
	fl.emit(Store{Addr: tmp, Val: ConstInt(1)}, loc)
	fl.br(join, loc)
	fl.setBlock(onFalse)
	fl.emit(Store{Addr: tmp, Val: ConstInt(0)}, loc)
	fl.br(join, loc)

	fl.setBlock(join)
	d := fl.newValue()
	fl.emit(Load{Dst: d, Addr: tmp}, loc)
	fl.emit(Dealloc{Addr: tmp}, Loc{Pos: e.At, Kind: LocCleanup})
	return Ref(d, ClassInt)
}

func literal(l hir.Literal) Value {
	switch l.Kind {
	case hir.LitFloat:
		return Value{Kind: ValConstFloat, Float64: l.Float, Class: ClassFloat}
	case hir.LitBool:
		if l.Bool {
			return ConstInt(1)
		}
		return ConstInt(0)
	case hir.LitString:
		return Value{Kind: ValConstString, Str: l.Str, Class: ClassRef}
	default:
		return ConstInt(l.Int)
	}
}

func binOp(op hir.BinaryOp) BinOpKind {
	switch op {
	case hir.OpSub:
		return OpSub
	case hir.OpMul:
		return OpMul
	case hir.OpDiv:
		return OpDiv
	default:
		return OpAdd
	}
}

func cmpPred(op hir.BinaryOp, class ValueClass) CmpPred {
	float := class == ClassFloat
	switch op {
	case hir.OpNe:
		return CmpNE
	case hir.OpLt:
		if float {
			return CmpFLT
		}
		return CmpSLT
	case hir.OpLe:
		if float {
			return CmpFLE
		}
		return CmpSLE
	case hir.OpGt:
		if float {
			return CmpFGT
		}
		return CmpSGT
	case hir.OpGe:
		if float {
			return CmpFGE
		}
		return CmpSGE
	default:
		return CmpEQ
	}
}

// ====== Cleanups ======

func (fl *funcLowerer) push(kind cleanupKind, op Instr, partial bool) {
	fl.cleanups = append(fl.cleanups, cleanup{kind: kind, op: op, partial: partial})
}

// emitCleanups emits every pending cleanup above depth in reverse order. The
// stack is left untouched; the caller truncates it when the scope closes.
func (fl *funcLowerer) emitCleanups(depth int, loc Loc) {
	for i := len(fl.cleanups) - 1; i >= depth; i-- {
		fl.emit(fl.cleanups[i].op, loc)
	}
}

// takeOwned removes v from the owned temporaries and reports whether it was
// one.
func (fl *funcLowerer) takeOwned(v Value) bool {
	for i, o := range fl.owned {
		if o.Kind == ValRef && o.Ref == v.Ref && v.Kind == ValRef {
			fl.owned = append(fl.owned[:i], fl.owned[i+1:]...)
			return true
		}
	}
	return false
}

func (fl *funcLowerer) destroyOwned(loc Loc) { fl.destroyOwnedFrom(0, loc) }

// destroyOwnedFrom destroys the temporaries created since mark.
func (fl *funcLowerer) destroyOwnedFrom(mark int, loc Loc) {
	for i := len(fl.owned) - 1; i >= mark; i-- {
		fl.emit(Destroy{Val: fl.owned[i]}, loc)
	}
	fl.owned = fl.owned[:mark]
}

// ====== Utility Methods ======

func (fl *funcLowerer) pushScope() {
	fl.env = &scope{parent: fl.env, names: map[string]binding{}}
}

func (fl *funcLowerer) popScope() { fl.env = fl.env.parent }

func (fl *funcLowerer) newRegion(kind RegionKind, parent int, pos position.Position) int {
	id := len(fl.fn.Regions)
	fl.fn.Regions = append(fl.fn.Regions, &Region{ID: id, Kind: kind, Parent: parent, Pos: pos})
	return id
}

// createBasicBlock creates a new basic block with a unique name
func (fl *funcLowerer) createBasicBlock(prefix string) *BasicBlock {
	name := fmt.Sprintf("%s_%d", prefix, fl.blockCounter)
	fl.blockCounter++
	bb := &BasicBlock{Name: name, Instr: make([]Inst, 0)}
	fl.fn.Blocks = append(fl.fn.Blocks, bb)
	return bb
}

// sinkBlock moves bb to the end of the block list so that a construct's
// continuation follows all of its blocks.
func (fl *funcLowerer) sinkBlock(bb *BasicBlock) {
	blocks := fl.fn.Blocks
	for i, b := range blocks {
		if b == bb {
			copy(blocks[i:], blocks[i+1:])
			blocks[len(blocks)-1] = bb
			return
		}
	}
}

// newValue generates a unique value name
func (fl *funcLowerer) newValue() string {
	return fmt.Sprintf("%%v%d", fl.nextValueID())
}

func (fl *funcLowerer) nextValueID() int {
	n := fl.valueCounter
	fl.valueCounter++
	return n
}

func (fl *funcLowerer) setBlock(bb *BasicBlock) { fl.cur = bb }

// emit appends an instruction to the current block. Code following a
// terminator lands in a fresh block that removeUnreachableBlocks drops.
func (fl *funcLowerer) emit(op Instr, loc Loc) {
	if fl.cur == nil {
		fl.cur = fl.createBasicBlock("dead")
	}
	fl.cur.Instr = append(fl.cur.Instr, Inst{Op: op, Loc: loc, Region: fl.region})
}

func (fl *funcLowerer) br(target *BasicBlock, loc Loc) {
	fl.emit(Br{Target: target.Name}, loc)
	fl.cur = nil
}

func (fl *funcLowerer) condBr(c Value, t, f *BasicBlock, loc Loc) {
	fl.emit(CondBr{Cond: c, True: t.Name, False: f.Name}, loc)
	fl.cur = nil
}

// removeUnreachableBlocks drops blocks not reachable from the entry block.
func (fl *funcLowerer) removeUnreachableBlocks() {
	if len(fl.fn.Blocks) == 0 {
		return
	}
	reachable := map[string]bool{}
	work := []*BasicBlock{fl.fn.Blocks[0]}
	for len(work) > 0 {
		bb := work[len(work)-1]
		work = work[:len(work)-1]
		if reachable[bb.Name] {
			continue
		}
		reachable[bb.Name] = true
		if n := len(bb.Instr); n > 0 {
			for _, s := range Successors(bb.Instr[n-1].Op) {
				if succ := fl.fn.Block(s); succ != nil {
					work = append(work, succ)
				}
			}
		}
	}
	kept := fl.fn.Blocks[:0]
	for _, bb := range fl.fn.Blocks {
		if reachable[bb.Name] {
			kept = append(kept, bb)
		}
	}
	fl.fn.Blocks = kept
}
