// Package mir defines the mid-level IR switch statements are lowered to.
// It is SSA-lite: values are named references produced by instructions, local
// storage is explicit (alloca/dealloc) and every instruction carries the source
// location and lexical region it was generated for.
package mir

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/orizon-lang/patlower/internal/diagnostics"
	"github.com/orizon-lang/patlower/internal/hir"
	"github.com/orizon-lang/patlower/internal/position"
	"github.com/orizon-lang/patlower/internal/slots"
)

// Module is a compilation unit of MIR.
type Module struct {
	Name      string
	File      string
	Functions []*Function
}

// Function is a collection of basic blocks.
type Function struct {
	Name       string
	Parameters []Value
	Blocks     []*BasicBlock

	// Regions[0] is the function body; switch and guard regions follow in
	// creation order.
	Regions []*Region

	Pos position.Position
	End position.Position

	// Warnings produced while building match matrices.
	Warnings diagnostics.List
}

// BasicBlock is a sequence of instructions ending with a terminator.
type BasicBlock struct {
	Name  string
	Instr []Inst
}

// Inst is an instruction together with where it came from.
type Inst struct {
	Op     Instr
	Loc    Loc
	Region int

	// Dbg is the debug location id assigned by the debug emitter, or 0.
	Dbg int
}

// LocKind distinguishes user code from code the lowering synthesized.
type LocKind int

const (
	LocRegular LocKind = iota
	// LocCleanup marks scope-exit cleanups (dealloc, destroy, end_borrow)
	// and the branch leaving a scope at its closing brace.
	LocCleanup
	// LocAutoGen marks compiler generated control flow.
	LocAutoGen
)

func (k LocKind) String() string {
	switch k {
	case LocCleanup:
		return "cleanup"
	case LocAutoGen:
		return "auto_gen"
	default:
		return "regular"
	}
}

// Loc is the source location of an instruction.
type Loc struct {
	Pos  position.Position
	Kind LocKind
}

func (l Loc) String() string {
	s := fmt.Sprintf("line:%d:%d", l.Pos.Line, l.Pos.Column)
	if l.Kind != LocRegular {
		s += ":" + l.Kind.String()
	}
	return s
}

// RegionKind classifies lexical regions.
type RegionKind int

const (
	RegionFunction RegionKind = iota
	RegionSwitch
	RegionGuard
)

func (k RegionKind) String() string {
	switch k {
	case RegionSwitch:
		return "switch"
	case RegionGuard:
		return "guard"
	default:
		return "function"
	}
}

// Region is a lexical region of the lowered code. The debug emitter turns each
// region into a debug scope.
type Region struct {
	ID       int
	Kind     RegionKind
	Parent   int // -1 for the function region
	Pos      position.Position
	Bindings []BindingRecord
}

// BindingRecord ties a source-level name to the storage holding its value.
type BindingRecord struct {
	Region int
	Clause int         // -1 for parameters
	Slot   *slots.Slot // nil for parameters
	Arg    int         // 1-based parameter index, 0 for pattern bindings
	Name   string
	Type   *hir.Type
	Addr   Value
	Pos    position.Position
}

// Value represents an SSA-like value produced by an instruction or parameter.
type Value struct {
	Kind ValueKind
	// For constants
	Int64   int64
	Float64 float64
	Str     string
	// For instruction results (index into block/local numbering)
	Ref string
	// Lightweight type class hint for lowering (int/float/ref)
	Class ValueClass
}

// ValueKind classifies the value category.
type ValueKind int

const (
	ValInvalid ValueKind = iota
	ValConstInt
	ValConstFloat
	ValConstString
	ValRef
)

// ValueClass is a minimal type class for lowering decisions.
type ValueClass int

const (
	ClassUnknown ValueClass = iota
	ClassInt                // integers and booleans
	ClassFloat              // floating point
	ClassRef                // strings, enums, tuples, addresses
)

func (c ValueClass) String() string {
	switch c {
	case ClassInt:
		return "int"
	case ClassFloat:
		return "float"
	case ClassRef:
		return "ref"
	default:
		return "unknown"
	}
}

// ClassOf maps a resolved type to its value class.
func ClassOf(t *hir.Type) ValueClass {
	if t == nil {
		return ClassUnknown
	}
	switch t.Kind {
	case hir.KindInt, hir.KindBool:
		return ClassInt
	case hir.KindFloat:
		return ClassFloat
	default:
		return ClassRef
	}
}

// Ref builds a reference value.
func Ref(name string, c ValueClass) Value { return Value{Kind: ValRef, Ref: name, Class: c} }

// ConstInt builds an integer constant.
func ConstInt(v int64) Value { return Value{Kind: ValConstInt, Int64: v, Class: ClassInt} }

// Instr is implemented by all MIR instructions.
type Instr interface{ isInstr() }

// Alloca allocates a local stack slot and returns its address.
type Alloca struct {
	Dst  string
	Name string // source name for readability
	Type string
}

// Dealloc releases a slot created by Alloca.
type Dealloc struct{ Addr Value }

// Load loads from an address into a destination value.
type Load struct {
	Dst  string
	Addr Value
}

// Store stores a value into an address.
type Store struct {
	Addr Value
	Val  Value
}

// BinOp represents a binary arithmetic operation.
type BinOp struct {
	Dst string
	Op  BinOpKind
	LHS Value
	RHS Value
}

// Neg negates a number.
type Neg struct {
	Dst string
	X   Value
}

// Cmp represents a comparison producing a boolean-like value (0/1).
type Cmp struct {
	Dst  string
	Pred CmpPred
	LHS  Value
	RHS  Value
}

// Call represents a function call. Dst is empty for calls without a result.
// Owned results are +1 values the caller must destroy or move.
type Call struct {
	Dst      string
	Callee   string
	Args     []Value
	RetClass ValueClass
	Owned    bool
}

// EnumTag reads the case index of an enum value.
type EnumTag struct {
	Dst string
	Val Value
}

// ProjKind selects what Project borrows.
type ProjKind int

const (
	ProjElem ProjKind = iota
	ProjPayload
)

// Project borrows a component of an aggregate: tuple element Index, or payload
// value Index of enum case Case. The borrow ends with EndBorrow.
type Project struct {
	Dst   string
	Base  Value
	Kind  ProjKind
	Case  string
	Index int
	Class ValueClass
}

// EndBorrow ends a borrow started by Project.
type EndBorrow struct{ Val Value }

// Copy makes an owned copy of a refcounted value.
type Copy struct {
	Dst string
	Val Value
}

// Destroy releases an owned value.
type Destroy struct{ Val Value }

// DestroyAddr releases the owned value stored at an address.
type DestroyAddr struct{ Addr Value }

// Br is an unconditional branch to a target basic block label.
type Br struct{ Target string }

// CondBr branches on a value treated as boolean (0=false, nonzero=true).
type CondBr struct {
	Cond  Value
	True  string
	False string
}

// Ret returns from the current function with an optional value.
type Ret struct{ Val *Value }

// Unreachable marks a point control never reaches.
type Unreachable struct{}

// DbgDeclare binds debug variable Var to the storage at Addr for the rest of
// its scope.
type DbgDeclare struct {
	Addr Value
	Var  int
}

// DbgValue rebinds debug variable Var to the storage at Addr from this point.
type DbgValue struct {
	Addr Value
	Var  int
}

func (Alloca) isInstr()      {}
func (Dealloc) isInstr()     {}
func (Load) isInstr()        {}
func (Store) isInstr()       {}
func (BinOp) isInstr()       {}
func (Neg) isInstr()         {}
func (Cmp) isInstr()         {}
func (Call) isInstr()        {}
func (EnumTag) isInstr()     {}
func (Project) isInstr()     {}
func (EndBorrow) isInstr()   {}
func (Copy) isInstr()        {}
func (Destroy) isInstr()     {}
func (DestroyAddr) isInstr() {}
func (Br) isInstr()          {}
func (CondBr) isInstr()      {}
func (Ret) isInstr()         {}
func (Unreachable) isInstr() {}
func (DbgDeclare) isInstr()  {}
func (DbgValue) isInstr()    {}

// IsTerminator reports whether in ends a basic block.
func IsTerminator(in Instr) bool {
	switch in.(type) {
	case Br, CondBr, Ret, Unreachable:
		return true
	}
	return false
}

// IsCleanup reports whether in releases a resource.
func IsCleanup(in Instr) bool {
	switch in.(type) {
	case Dealloc, EndBorrow, Destroy, DestroyAddr:
		return true
	}
	return false
}

// Successors returns the labels a terminator may branch to.
func Successors(in Instr) []string {
	switch t := in.(type) {
	case Br:
		return []string{t.Target}
	case CondBr:
		return []string{t.True, t.False}
	}
	return nil
}

// Block returns the block called name, or nil.
func (f *Function) Block(name string) *BasicBlock {
	for _, b := range f.Blocks {
		if b.Name == name {
			return b
		}
	}
	return nil
}

// RegionBindings returns every binding record of the function in region order.
func (f *Function) RegionBindings() []BindingRecord {
	var out []BindingRecord
	for _, r := range f.Regions {
		out = append(out, r.Bindings...)
	}
	return out
}

// BinOpKind enumerates supported binary operations at MIR level.
type BinOpKind int

const (
	OpAdd BinOpKind = iota
	OpSub
	OpMul
	OpDiv
)

func (k BinOpKind) String() string {
	switch k {
	case OpAdd:
		return "add"
	case OpSub:
		return "sub"
	case OpMul:
		return "mul"
	case OpDiv:
		return "div"
	default:
		return "binop?"
	}
}

// CmpPred enumerates compare predicates.
type CmpPred int

const (
	// Generic equality
	CmpEQ CmpPred = iota
	CmpNE
	// Signed integer comparisons
	CmpSLT
	CmpSLE
	CmpSGT
	CmpSGE
	// Floating-point comparisons
	CmpFLT
	CmpFLE
	CmpFGT
	CmpFGE
)

func (p CmpPred) String() string {
	switch p {
	case CmpEQ:
		return "eq"
	case CmpNE:
		return "ne"
	case CmpSLT:
		return "slt"
	case CmpSLE:
		return "sle"
	case CmpSGT:
		return "sgt"
	case CmpSGE:
		return "sge"
	case CmpFLT:
		return "flt"
	case CmpFLE:
		return "fle"
	case CmpFGT:
		return "fgt"
	case CmpFGE:
		return "fge"
	default:
		return "cmp?"
	}
}

func (m *Module) String() string {
	if m == nil {
		return "<nil-mir-module>"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "module %s\n", m.Name)
	for _, f := range m.Functions {
		b.WriteByte('\n')
		b.WriteString(f.String())
	}
	return b.String()
}

func (f *Function) String() string {
	if f == nil {
		return "<nil-func>"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "func %s(", f.Name)
	for i := range f.Parameters {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(valString(f.Parameters[i]))
	}
	b.WriteString(") {\n")
	for _, bb := range f.Blocks {
		b.WriteString(bb.String())
	}
	b.WriteString("}\n")
	return b.String()
}

// String prints the block in verbose form: every instruction is followed by
// its location and region.
func (bb *BasicBlock) String() string {
	if bb == nil {
		return ""
	}
	var b strings.Builder
	if bb.Name != "" {
		fmt.Fprintf(&b, "%s:\n", bb.Name)
	}
	for _, in := range bb.Instr {
		b.WriteString("  ")
		b.WriteString(in.String())
		b.WriteByte('\n')
	}
	return b.String()
}

func (in Inst) String() string {
	text := "<instr>"
	if s, ok := in.Op.(fmt.Stringer); ok {
		text = s.String()
	}
	return fmt.Sprintf("%-40s // %s region:%d", text, in.Loc, in.Region)
}

func (v Value) String() string { return valString(v) }

func valString(v Value) string {
	switch v.Kind {
	case ValConstInt:
		return fmt.Sprintf("%d", v.Int64)
	case ValConstFloat:
		return strconv.FormatFloat(v.Float64, 'g', -1, 64)
	case ValConstString:
		return strconv.Quote(v.Str)
	case ValRef:
		if v.Ref == "" {
			return "%ref?"
		}
		return v.Ref
	default:
		return "<invalid>"
	}
}

func (i Alloca) String() string {
	if i.Name != "" {
		return fmt.Sprintf("%s = alloca %s, %s", i.Dst, i.Type, i.Name)
	}
	return fmt.Sprintf("%s = alloca %s", i.Dst, i.Type)
}

func (i Dealloc) String() string { return "dealloc " + i.Addr.String() }

func (i Load) String() string {
	return fmt.Sprintf("%s = load %s", i.Dst, i.Addr.String())
}

func (i Store) String() string {
	return fmt.Sprintf("store %s, %s", i.Addr.String(), i.Val.String())
}

func (i BinOp) String() string {
	if i.Dst != "" {
		return fmt.Sprintf("%s = %s %s, %s", i.Dst, i.Op, i.LHS, i.RHS)
	}
	return fmt.Sprintf("%s %s, %s", i.Op, i.LHS, i.RHS)
}

func (i Neg) String() string { return fmt.Sprintf("%s = neg %s", i.Dst, i.X) }

func (i Cmp) String() string {
	if i.Dst != "" {
		return fmt.Sprintf("%s = cmp.%s %s, %s", i.Dst, i.Pred, i.LHS, i.RHS)
	}
	return fmt.Sprintf("cmp.%s %s, %s", i.Pred, i.LHS, i.RHS)
}

func (i Call) String() string {
	var b strings.Builder
	if i.Dst != "" {
		fmt.Fprintf(&b, "%s = ", i.Dst)
	}
	fmt.Fprintf(&b, "call %s(", i.Callee)
	for idx, a := range i.Args {
		if idx > 0 {
			b.WriteString(", ")
		}
		b.WriteString(a.String())
	}
	b.WriteString(")")
	return b.String()
}

func (i EnumTag) String() string { return fmt.Sprintf("%s = enum_tag %s", i.Dst, i.Val) }

func (i Project) String() string {
	if i.Kind == ProjPayload {
		return fmt.Sprintf("%s = project %s, .%s.%d", i.Dst, i.Base, i.Case, i.Index)
	}
	return fmt.Sprintf("%s = project %s, .%d", i.Dst, i.Base, i.Index)
}

func (i EndBorrow) String() string   { return "end_borrow " + i.Val.String() }
func (i Copy) String() string        { return fmt.Sprintf("%s = copy %s", i.Dst, i.Val) }
func (i Destroy) String() string     { return "destroy " + i.Val.String() }
func (i DestroyAddr) String() string { return "destroy_addr " + i.Addr.String() }

func (i Br) String() string { return fmt.Sprintf("br %s", i.Target) }

func (i CondBr) String() string {
	return fmt.Sprintf("brcond %s, %s, %s", i.Cond.String(), i.True, i.False)
}

func (i Ret) String() string {
	if i.Val == nil {
		return "ret"
	}
	return fmt.Sprintf("ret %s", i.Val.String())
}

func (Unreachable) String() string { return "unreachable" }

func (i DbgDeclare) String() string {
	return fmt.Sprintf("dbg.declare %s, var:%d", i.Addr, i.Var)
}

func (i DbgValue) String() string {
	return fmt.Sprintf("dbg.value %s, var:%d", i.Addr, i.Var)
}
