package mir

import (
	"fmt"
	"testing"
)

// enumVal is an enum value as the interpreter sees it.
type enumVal struct {
	tag     int
	name    string
	payload []interface{}
}

// machine executes lowered MIR. Calls are answered by the calls map; every
// call is appended to trace.
type machine struct {
	t     *testing.T
	fn    *Function
	vals  map[string]interface{}
	mem   map[string]interface{}
	calls map[string]func(args []interface{}) interface{}
	trace []string
}

func run(t *testing.T, fn *Function, args []interface{}, calls map[string]func([]interface{}) interface{}) (*machine, interface{}) {
	t.Helper()
	m := &machine{
		t:     t,
		fn:    fn,
		vals:  map[string]interface{}{},
		mem:   map[string]interface{}{},
		calls: calls,
	}
	for i, p := range fn.Parameters {
		m.vals[p.Ref] = args[i]
	}

	bb := fn.Blocks[0]
	for steps := 0; steps < 10000; steps++ {
		next, ret, done := m.block(bb)
		if done {
			return m, ret
		}
		bb = fn.Block(next)
		if bb == nil {
			t.Fatalf("branch to missing block %s", next)
		}
	}
	t.Fatal("step limit exceeded")
	return nil, nil
}

func (m *machine) value(v Value) interface{} {
	switch v.Kind {
	case ValConstInt:
		return v.Int64
	case ValConstFloat:
		return v.Float64
	case ValConstString:
		return v.Str
	case ValRef:
		x, ok := m.vals[v.Ref]
		if !ok {
			m.t.Fatalf("use of undefined value %s", v.Ref)
		}
		return x
	}
	m.t.Fatalf("invalid value %v", v)
	return nil
}

func truth(x interface{}) bool {
	switch x := x.(type) {
	case int64:
		return x != 0
	case bool:
		return x
	}
	return false
}

func (m *machine) block(bb *BasicBlock) (next string, ret interface{}, done bool) {
	for _, in := range bb.Instr {
		switch op := in.Op.(type) {
		case Alloca:
			m.mem[op.Dst] = nil
		case Dealloc:
			if _, ok := m.mem[op.Addr.Ref]; !ok {
				m.t.Fatalf("dealloc of dead slot %s", op.Addr)
			}
			delete(m.mem, op.Addr.Ref)
		case Store:
			if _, ok := m.mem[op.Addr.Ref]; !ok {
				m.t.Fatalf("store to dead slot %s", op.Addr)
			}
			m.mem[op.Addr.Ref] = m.value(op.Val)
		case Load:
			x, ok := m.mem[op.Addr.Ref]
			if !ok {
				m.t.Fatalf("load from dead slot %s", op.Addr)
			}
			m.vals[op.Dst] = x
		case EnumTag:
			m.vals[op.Dst] = int64(m.value(op.Val).(enumVal).tag)
		case Project:
			switch base := m.value(op.Base).(type) {
			case enumVal:
				if op.Kind != ProjPayload || base.name != op.Case {
					m.t.Fatalf("%s on %v", op, base)
				}
				m.vals[op.Dst] = base.payload[op.Index]
			case []interface{}:
				m.vals[op.Dst] = base[op.Index]
			default:
				m.t.Fatalf("%s on %T", op, base)
			}
		case Copy:
			m.vals[op.Dst] = m.value(op.Val)
		case EndBorrow, Destroy, DestroyAddr, DbgDeclare, DbgValue:
		case Neg:
			switch x := m.value(op.X).(type) {
			case int64:
				m.vals[op.Dst] = -x
			case float64:
				m.vals[op.Dst] = -x
			}
		case BinOp:
			m.vals[op.Dst] = arith(op.Op, m.value(op.LHS), m.value(op.RHS))
		case Cmp:
			if compare(op.Pred, m.value(op.LHS), m.value(op.RHS)) {
				m.vals[op.Dst] = int64(1)
			} else {
				m.vals[op.Dst] = int64(0)
			}
		case Call:
			args := make([]interface{}, len(op.Args))
			for i, a := range op.Args {
				args[i] = m.value(a)
			}
			m.trace = append(m.trace, fmt.Sprintf("%s%v", op.Callee, args))
			var r interface{}
			if f, ok := m.calls[op.Callee]; ok {
				r = f(args)
			}
			if op.Dst != "" {
				m.vals[op.Dst] = r
			}
		case Br:
			return op.Target, nil, false
		case CondBr:
			if truth(m.value(op.Cond)) {
				return op.True, nil, false
			}
			return op.False, nil, false
		case Ret:
			if op.Val != nil {
				return "", m.value(*op.Val), true
			}
			return "", nil, true
		case Unreachable:
			m.t.Fatalf("reached unreachable in %s", bb.Name)
		default:
			m.t.Fatalf("unknown instruction %T", op)
		}
	}
	m.t.Fatalf("block %s fell through", bb.Name)
	return "", nil, true
}

func arith(op BinOpKind, x, y interface{}) interface{} {
	switch x := x.(type) {
	case int64:
		y := y.(int64)
		switch op {
		case OpSub:
			return x - y
		case OpMul:
			return x * y
		case OpDiv:
			return x / y
		}
		return x + y
	case float64:
		y := y.(float64)
		switch op {
		case OpSub:
			return x - y
		case OpMul:
			return x * y
		case OpDiv:
			return x / y
		}
		return x + y
	}
	return nil
}

func compare(p CmpPred, x, y interface{}) bool {
	if b, ok := x.(bool); ok {
		x = boolInt(b)
	}
	if b, ok := y.(bool); ok {
		y = boolInt(b)
	}
	switch x := x.(type) {
	case int64:
		y := y.(int64)
		switch p {
		case CmpNE:
			return x != y
		case CmpSLT:
			return x < y
		case CmpSLE:
			return x <= y
		case CmpSGT:
			return x > y
		case CmpSGE:
			return x >= y
		}
		return x == y
	case float64:
		y := y.(float64)
		switch p {
		case CmpNE:
			return x != y
		case CmpFLT:
			return x < y
		case CmpFLE:
			return x <= y
		case CmpFGT:
			return x > y
		case CmpFGE:
			return x >= y
		}
		return x == y
	case string:
		if p == CmpNE {
			return x != y.(string)
		}
		return x == y.(string)
	}
	return false
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
