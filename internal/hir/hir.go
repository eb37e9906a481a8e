// Package hir is the typed input of the lowering pipeline: the already parsed
// and type-checked functions, switch statements and case patterns that a
// frontend hands to code generation.
package hir

import (
	"fmt"
	"strings"

	"github.com/orizon-lang/patlower/internal/position"
)

// Module is one compilation unit.
type Module struct {
	Name      string
	File      string
	Format    string
	Types     []*Type
	Functions []*Function
}

// Function is a top-level function declaration.
type Function struct {
	Name   string
	Params []*Param
	Body   []Stmt
	At     position.Position
	End    position.Position
}

// Param is a named function parameter.
type Param struct {
	Name string
	Type *Type
	At   position.Position
}

// =============================================================================
// Patterns
// =============================================================================

// Pattern is implemented by every case pattern form.
type Pattern interface {
	Pos() position.Position
	String() string
	patternNode()
}

// WildcardPattern matches anything and binds nothing (`_`).
type WildcardPattern struct {
	At position.Position
}

// BindingPattern matches anything and binds it (`let name`). Type is filled
// by Resolve.
type BindingPattern struct {
	Name string
	Type *Type
	At   position.Position
}

// EnumCasePattern matches one enum case and its payload (`.one(let p)`).
type EnumCasePattern struct {
	Case    string
	Payload []Pattern
	At      position.Position
}

// TuplePattern destructures a tuple (`(let x, let y)`).
type TuplePattern struct {
	Elems []Pattern
	At    position.Position
}

// LiteralPattern matches one constant.
type LiteralPattern struct {
	Value Literal
	At    position.Position
}

func (p *WildcardPattern) Pos() position.Position { return p.At }
func (p *BindingPattern) Pos() position.Position  { return p.At }
func (p *EnumCasePattern) Pos() position.Position { return p.At }
func (p *TuplePattern) Pos() position.Position    { return p.At }
func (p *LiteralPattern) Pos() position.Position  { return p.At }

func (*WildcardPattern) patternNode() {}
func (*BindingPattern) patternNode()  {}
func (*EnumCasePattern) patternNode() {}
func (*TuplePattern) patternNode()    {}
func (*LiteralPattern) patternNode()  {}

func (p *WildcardPattern) String() string { return "_" }
func (p *BindingPattern) String() string  { return "let " + p.Name }
func (p *EnumCasePattern) String() string {
	if len(p.Payload) == 0 {
		return "." + p.Case
	}
	return "." + p.Case + "(" + joinPatterns(p.Payload) + ")"
}
func (p *TuplePattern) String() string   { return "(" + joinPatterns(p.Elems) + ")" }
func (p *LiteralPattern) String() string { return p.Value.String() }

func joinPatterns(ps []Pattern) string {
	parts := make([]string, len(ps))
	for i, p := range ps {
		parts[i] = p.String()
	}
	return strings.Join(parts, ", ")
}

// Bindings returns the binding patterns of p in source order.
func Bindings(p Pattern) []*BindingPattern {
	var out []*BindingPattern
	var walk func(Pattern)
	walk = func(p Pattern) {
		switch p := p.(type) {
		case *BindingPattern:
			out = append(out, p)
		case *EnumCasePattern:
			for _, sub := range p.Payload {
				walk(sub)
			}
		case *TuplePattern:
			for _, sub := range p.Elems {
				walk(sub)
			}
		}
	}
	walk(p)
	return out
}

// LiteralKind classifies literal constants.
type LiteralKind int

const (
	LitInt LiteralKind = iota
	LitFloat
	LitBool
	LitString
)

// Literal is a constant in a pattern or expression.
type Literal struct {
	Kind  LiteralKind
	Int   int64
	Float float64
	Bool  bool
	Str   string
}

// Type returns the builtin type of the literal.
func (l Literal) Type() *Type {
	switch l.Kind {
	case LitFloat:
		return DoubleType
	case LitBool:
		return BoolType
	case LitString:
		return StringType
	default:
		return IntType
	}
}

func (l Literal) String() string {
	switch l.Kind {
	case LitFloat:
		return fmt.Sprintf("%g", l.Float)
	case LitBool:
		return fmt.Sprintf("%t", l.Bool)
	case LitString:
		return fmt.Sprintf("%q", l.Str)
	default:
		return fmt.Sprintf("%d", l.Int)
	}
}

// =============================================================================
// Expressions
// =============================================================================

// Expr is implemented by guard and body expressions.
type Expr interface {
	Pos() position.Position
	exprNode()
}

// VarRef reads a parameter or a pattern-bound variable.
type VarRef struct {
	Name string
	Type *Type
	At   position.Position
}

// LitExpr is a literal constant.
type LitExpr struct {
	Value Literal
	At    position.Position
}

// UnaryOp enumerates prefix operators.
type UnaryOp int

const (
	OpNeg UnaryOp = iota
	OpNot
)

// Unary applies a prefix operator.
type Unary struct {
	Op UnaryOp
	X  Expr
	At position.Position
}

// BinaryOp enumerates infix operators.
type BinaryOp int

const (
	OpAdd BinaryOp = iota
	OpSub
	OpMul
	OpDiv
	OpEq
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
	OpAndAnd
	OpOrOr
)

var binaryOpNames = map[BinaryOp]string{
	OpAdd: "+", OpSub: "-", OpMul: "*", OpDiv: "/",
	OpEq: "==", OpNe: "!=", OpLt: "<", OpLe: "<=", OpGt: ">", OpGe: ">=",
	OpAndAnd: "&&", OpOrOr: "||",
}

func (op BinaryOp) String() string { return binaryOpNames[op] }

// ParseBinaryOp maps an operator spelling to a BinaryOp.
func ParseBinaryOp(s string) (BinaryOp, bool) {
	for op, name := range binaryOpNames {
		if name == s {
			return op, true
		}
	}
	return 0, false
}

// IsComparison reports whether op yields Bool from two operands of one type.
func (op BinaryOp) IsComparison() bool { return op >= OpEq && op <= OpGe }

// IsShortCircuit reports whether op evaluates its right operand conditionally.
func (op BinaryOp) IsShortCircuit() bool { return op == OpAndAnd || op == OpOrOr }

// Binary applies an infix operator.
type Binary struct {
	Op BinaryOp
	X  Expr
	Y  Expr
	At position.Position
}

// Call invokes a named function. Result is nil for calls returning nothing.
type Call struct {
	Callee string
	Args   []Expr
	Result *Type
	At     position.Position
}

func (e *VarRef) Pos() position.Position  { return e.At }
func (e *LitExpr) Pos() position.Position { return e.At }
func (e *Unary) Pos() position.Position   { return e.At }
func (e *Binary) Pos() position.Position  { return e.At }
func (e *Call) Pos() position.Position    { return e.At }

func (*VarRef) exprNode()  {}
func (*LitExpr) exprNode() {}
func (*Unary) exprNode()   {}
func (*Binary) exprNode()  {}
func (*Call) exprNode()    {}

// HasShortCircuit reports whether evaluating e introduces control flow.
func HasShortCircuit(e Expr) bool {
	switch e := e.(type) {
	case *Binary:
		return e.Op.IsShortCircuit() || HasShortCircuit(e.X) || HasShortCircuit(e.Y)
	case *Unary:
		return HasShortCircuit(e.X)
	case *Call:
		for _, a := range e.Args {
			if HasShortCircuit(a) {
				return true
			}
		}
	}
	return false
}

// HasCall reports whether e contains a call.
func HasCall(e Expr) bool {
	switch e := e.(type) {
	case *Call:
		return true
	case *Binary:
		return HasCall(e.X) || HasCall(e.Y)
	case *Unary:
		return HasCall(e.X)
	}
	return false
}

// =============================================================================
// Statements
// =============================================================================

// Stmt is implemented by body statements.
type Stmt interface {
	Pos() position.Position
	stmtNode()
}

// ExprStmt evaluates an expression for its effects.
type ExprStmt struct {
	X  Expr
	At position.Position
}

// ReturnStmt leaves the function. Value may be nil.
type ReturnStmt struct {
	Value Expr
	At    position.Position
}

// IfStmt is a two-way conditional. End is the position of its closing brace.
type IfStmt struct {
	Cond Expr
	Then []Stmt
	Else []Stmt
	At   position.Position
	End  position.Position
}

// BlockStmt is a `do { }` block. End is the position of its closing brace.
type BlockStmt struct {
	Body []Stmt
	At   position.Position
	End  position.Position
}

// SwitchStmt matches Subject against its clauses in source order.
type SwitchStmt struct {
	Subject     Expr
	SubjectType *Type
	Clauses     []*CaseClause
	At          position.Position
	End         position.Position
}

// CaseClause is one `case` label: a disjunction of alternatives sharing a
// body. BodyEnd is where control leaves the clause after the body.
type CaseClause struct {
	Alternatives []*Alternative
	Body         []Stmt
	IsDefault    bool
	At           position.Position
	BodyEnd      position.Position
}

// Alternative is one pattern of a clause with its optional guard.
type Alternative struct {
	Pattern Pattern
	Guard   Expr
	At      position.Position
}

func (s *ExprStmt) Pos() position.Position   { return s.At }
func (s *ReturnStmt) Pos() position.Position { return s.At }
func (s *IfStmt) Pos() position.Position     { return s.At }
func (s *BlockStmt) Pos() position.Position  { return s.At }
func (s *SwitchStmt) Pos() position.Position { return s.At }

func (*ExprStmt) stmtNode()   {}
func (*ReturnStmt) stmtNode() {}
func (*IfStmt) stmtNode()     {}
func (*BlockStmt) stmtNode()  {}
func (*SwitchStmt) stmtNode() {}
