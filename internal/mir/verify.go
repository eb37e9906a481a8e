// Resource and location verification for lowered MIR.
// The verifier walks every path of a function and tracks four kinds of live
// resources: stack slots, borrows, owned values and slots holding an owned
// value. Every path must agree on the live set where it joins another path,
// and nothing may be live when the function returns.

package mir

import (
	"fmt"
	"sort"
	"strings"
)

// resource is one live thing the verifier tracks.
type resource struct {
	kind resourceKind
	name string
}

type resourceKind int

const (
	resSlot resourceKind = iota
	resBorrow
	resOwned
	resOwnedSlot
)

func (r resource) String() string {
	switch r.kind {
	case resBorrow:
		return "borrow " + r.name
	case resOwned:
		return "owned " + r.name
	case resOwnedSlot:
		return "initialized " + r.name
	default:
		return "slot " + r.name
	}
}

type liveSet map[resource]bool

func (s liveSet) clone() liveSet {
	out := make(liveSet, len(s))
	for r := range s {
		out[r] = true
	}
	return out
}

func (s liveSet) equal(o liveSet) bool {
	if len(s) != len(o) {
		return false
	}
	for r := range s {
		if !o[r] {
			return false
		}
	}
	return true
}

func (s liveSet) String() string {
	names := make([]string, 0, len(s))
	for r := range s {
		names = append(names, r.String())
	}
	sort.Strings(names)
	return "{" + strings.Join(names, ", ") + "}"
}

// VerifyPoint identifies an instruction.
type VerifyPoint struct {
	Function string
	Block    string
	Index    int
}

func (p VerifyPoint) String() string {
	return fmt.Sprintf("%s::%s[%d]", p.Function, p.Block, p.Index)
}

// VerifyError lists every violation found in a function.
type VerifyError struct {
	Function string
	Problems []string
}

func (e *VerifyError) Error() string {
	return fmt.Sprintf("%s: %s", e.Function, strings.Join(e.Problems, "; "))
}

type verifier struct {
	fn       *Function
	problems []string
}

func (v *verifier) errorf(p VerifyPoint, format string, args ...interface{}) {
	v.problems = append(v.problems, p.String()+": "+fmt.Sprintf(format, args...))
}

// Verify checks that f releases every resource exactly once on every path,
// that paths agree on live resources where they join, and that a branch
// following scope cleanups is not located before them.
func Verify(f *Function) error {
	if f == nil {
		return fmt.Errorf("cannot verify nil function")
	}
	if len(f.Blocks) == 0 {
		return nil
	}
	v := &verifier{fn: f}

	entry := map[string]liveSet{f.Blocks[0].Name: {}}
	work := []string{f.Blocks[0].Name}
	done := map[string]bool{}

	for len(work) > 0 {
		name := work[0]
		work = work[1:]
		if done[name] {
			continue
		}
		done[name] = true

		bb := f.Block(name)
		if bb == nil {
			v.problems = append(v.problems, "branch to unknown block "+name)
			continue
		}
		out, term := v.block(bb, entry[name].clone())
		for _, succ := range term {
			in, seen := entry[succ]
			if !seen {
				entry[succ] = out
				work = append(work, succ)
				continue
			}
			if !in.equal(out) {
				v.problems = append(v.problems, fmt.Sprintf("%s: paths join with %s and %s", succ, in, out))
			}
		}
	}

	v.checkLocations()

	if len(v.problems) > 0 {
		return &VerifyError{Function: f.Name, Problems: v.problems}
	}
	return nil
}

// block applies the instructions of bb to live and returns the live set at
// the end along with the successors.
func (v *verifier) block(bb *BasicBlock, live liveSet) (liveSet, []string) {
	use := func(p VerifyPoint, r resource) {
		if !live[r] {
			v.errorf(p, "%s is not live", r)
		}
	}
	release := func(p VerifyPoint, r resource) {
		use(p, r)
		delete(live, r)
	}
	acquire := func(p VerifyPoint, r resource) {
		if live[r] {
			v.errorf(p, "%s acquired twice", r)
		}
		live[r] = true
	}

	for i, in := range bb.Instr {
		p := VerifyPoint{Function: v.fn.Name, Block: bb.Name, Index: i}
		if IsTerminator(in.Op) && i != len(bb.Instr)-1 {
			v.errorf(p, "terminator %s is not last", in.Op)
		}
		switch op := in.Op.(type) {
		case Alloca:
			acquire(p, resource{resSlot, op.Dst})
		case Dealloc:
			if live[resource{resOwnedSlot, op.Addr.Ref}] {
				v.errorf(p, "dealloc of %s while it holds an owned value", op.Addr)
			}
			release(p, resource{resSlot, op.Addr.Ref})
		case Load:
			use(p, resource{resSlot, op.Addr.Ref})
		case Store:
			use(p, resource{resSlot, op.Addr.Ref})
			if op.Val.Kind == ValRef && live[resource{resOwned, op.Val.Ref}] {
				delete(live, resource{resOwned, op.Val.Ref})
				acquire(p, resource{resOwnedSlot, op.Addr.Ref})
			}
		case Project:
			acquire(p, resource{resBorrow, op.Dst})
		case EndBorrow:
			release(p, resource{resBorrow, op.Val.Ref})
		case Copy:
			acquire(p, resource{resOwned, op.Dst})
		case Call:
			if op.Owned && op.Dst != "" {
				acquire(p, resource{resOwned, op.Dst})
			}
		case Destroy:
			release(p, resource{resOwned, op.Val.Ref})
		case DestroyAddr:
			release(p, resource{resOwnedSlot, op.Addr.Ref})
		case Ret:
			if op.Val != nil && op.Val.Kind == ValRef {
				delete(live, resource{resOwned, op.Val.Ref})
			}
			if len(live) > 0 {
				v.errorf(p, "return with live resources %s", live)
			}
			return live, nil
		case Unreachable:
			return live, nil
		case Br, CondBr:
			return live, Successors(op)
		}
	}
	v.problems = append(v.problems, fmt.Sprintf("%s::%s: block has no terminator", v.fn.Name, bb.Name))
	return live, nil
}

// checkLocations reports unconditional branches located before the scope
// cleanups that precede them in the same block.
func (v *verifier) checkLocations() {
	for _, bb := range v.fn.Blocks {
		var last Loc
		seen := false
		for i, in := range bb.Instr {
			if IsCleanup(in.Op) && in.Loc.Kind == LocCleanup {
				last, seen = in.Loc, true
				continue
			}
			if _, ok := in.Op.(Br); ok && seen && in.Loc.Pos.IsValid() && last.Pos.IsValid() && in.Loc.Pos.Before(last.Pos) {
				v.errorf(VerifyPoint{Function: v.fn.Name, Block: bb.Name, Index: i},
					"branch at %s precedes cleanup at %s", in.Loc, last)
			}
		}
	}
}
