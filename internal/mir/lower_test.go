package mir

import (
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/orizon-lang/patlower/internal/diagnostics"
	"github.com/orizon-lang/patlower/internal/hir"
)

func decodeModule(t *testing.T, name, src string) *hir.Module {
	t.Helper()
	m, err := hir.Decode(strings.NewReader(src), name)
	if err != nil {
		t.Fatal(err)
	}
	if diags := hir.Resolve(m); diags.HasErrors() {
		t.Fatal(diags)
	}
	return m
}

func loadFixture(t *testing.T, name string) *hir.Module {
	t.Helper()
	src, err := os.ReadFile("../../testdata/" + name)
	if err != nil {
		t.Fatal(err)
	}
	return decodeModule(t, name, string(src))
}

func lowerOne(t *testing.T, m *hir.Module) *Function {
	t.Helper()
	fn, err := NewLowerer().LowerFunction(m.Functions[0])
	if err != nil {
		t.Fatal(err)
	}
	return fn
}

// located returns the printed form of every instruction as "op @ loc".
func located(fn *Function) []string {
	var out []string
	for _, bb := range fn.Blocks {
		for _, in := range bb.Instr {
			out = append(out, in.Op.(interface{ String() string }).String()+" @ "+in.Loc.String())
		}
	}
	return out
}

func TestLowerMultiplePayloads(t *testing.T) {
	fn := lowerOne(t, loadFixture(t, "multiple_payloads.yaml"))

	if fn.Blocks[0].Name != "entry_0" {
		t.Errorf("first block = %s, want entry_0", fn.Blocks[0].Name)
	}
	if len(fn.Regions) != 2 || fn.Regions[1].Kind != RegionSwitch || fn.Regions[1].Parent != 0 {
		t.Fatalf("regions = %+v", fn.Regions)
	}
	if got := fn.Regions[1].Pos; got.Line != 13 || got.Column != 3 {
		t.Errorf("switch region at %v, want 13:3", got)
	}

	var got []string
	for _, b := range fn.RegionBindings() {
		got = append(got, b.Name+":"+b.Type.Key()+"@"+b.Pos.String())
	}
	want := []string{
		"e:E@case-with-multiple-payloads.swift:10:18",
		"payload:Int@case-with-multiple-payloads.swift:17:19",
		"payload:String@case-with-multiple-payloads.swift:25:21",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("bindings mismatch (-want +got):\n%s", diff)
	}

	params := fn.Regions[0].Bindings
	if params[0].Arg != 1 || params[0].Clause != -1 || params[0].Slot != nil {
		t.Errorf("parameter record = %+v", params[0])
	}
	if fn.Regions[1].Bindings[0].Clause != 0 || fn.Regions[1].Bindings[1].Clause != 1 {
		t.Error("slot records should carry their clause")
	}

	// Both alternatives of the first clause store into the one Int slot.
	intAddr := fn.Regions[1].Bindings[0].Addr.Ref
	stores := 0
	for _, bb := range fn.Blocks {
		for _, in := range bb.Instr {
			if st, ok := in.Op.(Store); ok && st.Addr.Ref == intAddr {
				stores++
			}
		}
	}
	if stores != 2 {
		t.Errorf("stores into %s = %d, want 2", intAddr, stores)
	}

	lines := strings.Join(located(fn), "\n")
	for _, want := range []string{
		"destroy_addr %payload.addr",
		"@ line:26:20:cleanup",
		"unreachable @ line:27:3:auto_gen",
		"br switch_end_4 @ line:19:20:auto_gen",
	} {
		if !strings.Contains(lines, want) {
			t.Errorf("missing %q in\n%s", want, fn)
		}
	}
}

func TestLowerCleanupLocations(t *testing.T) {
	fn := lowerOne(t, loadFixture(t, "patternmatching.yaml"))
	lines := located(fn)

	found := false
	for i := 0; i+1 < len(lines); i++ {
		if strings.HasPrefix(lines[i], "dealloc ") && strings.HasSuffix(lines[i], "@ line:33:17:cleanup") &&
			strings.HasPrefix(lines[i+1], "br ") && strings.HasSuffix(lines[i+1], "@ line:33:17:auto_gen") {
			found = true
		}
	}
	if !found {
		t.Errorf("no dealloc at 33:17 followed by an auto generated branch:\n%s", fn)
	}

	var doBranch bool
	for _, l := range lines {
		if strings.HasPrefix(l, "br ") && strings.HasSuffix(l, "@ line:52:31:cleanup") {
			t.Errorf("branch leaving the if carries a cleanup location: %s", l)
		}
		if strings.HasPrefix(l, "br do_end") && strings.HasSuffix(l, "@ line:56:5:cleanup") {
			doBranch = true
		}
	}
	if !doBranch {
		t.Errorf("do block exit should branch at 56:5 with a cleanup location:\n%s", fn)
	}
}

func TestLowerGuardRegions(t *testing.T) {
	fn := lowerOne(t, loadFixture(t, "patternmatching.yaml"))

	var kinds []string
	for _, r := range fn.Regions {
		kinds = append(kinds, r.Kind.String()+"@"+r.Pos.String())
	}
	want := []string{
		"function@patternmatching.swift:9:6",
		"switch@patternmatching.swift:15:1",
		"guard@patternmatching.swift:39:62",
		"switch@patternmatching.swift:45:1",
	}
	if diff := cmp.Diff(want, kinds); diff != "" {
		t.Errorf("regions mismatch (-want +got):\n%s", diff)
	}
	if fn.Regions[2].Parent != 1 || fn.Regions[3].Parent != 0 {
		t.Errorf("region parents = %d, %d", fn.Regions[2].Parent, fn.Regions[3].Parent)
	}

	// Calls in the first guard stay in the switch region.
	for _, bb := range fn.Blocks {
		for _, in := range bb.Instr {
			if c, ok := in.Op.(Call); ok && c.Callee == "return_same" && in.Region != 1 {
				t.Errorf("%s in region %d, want 1", c, in.Region)
			}
			if cb, ok := in.Op.(CondBr); ok && in.Loc.Pos.Line == 31 && in.Loc.Pos.Column != 40 {
				t.Errorf("%s at %s, want the comparison at 31:40", cb, in.Loc)
			}
		}
	}

	guardInstrs := 0
	for _, bb := range fn.Blocks {
		for _, in := range bb.Instr {
			if in.Region == 2 {
				guardInstrs++
				if in.Loc.Pos.Line != 39 {
					t.Errorf("guard region instruction %s at %s", in.Op, in.Loc)
				}
			}
		}
	}
	if guardInstrs == 0 {
		t.Error("short-circuit guard produced no instructions in its region")
	}
}

const precedenceSrc = `format: 1.0.0
file: pick.swift
types:
  - name: E
    enum:
      - {case: a, payload: [Int]}
      - {case: b, payload: [String]}
functions:
  - name: pick
    at: [1, 1]
    end: [20, 1]
    params: [{name: e, type: E, at: [1, 10]}]
    body:
      - switch: {var: e, at: [2, 10]}
        at: [2, 3]
        end: [19, 3]
        cases:
          - at: [3, 5]
            patterns: [{case: a, payload: [{let: n, at: [3, 14]}], at: [3, 10]}]
            where: {call: g0, args: [{var: n, at: [3, 26]}], result: Bool, at: [3, 23]}
            body: [{call: hit, args: [{lit: 0, at: [4, 11]}], at: [4, 7]}]
          - at: [5, 5]
            patterns:
              - match: {case: a, payload: [{let: v, at: [5, 14]}], at: [5, 10]}
                where: {call: g1, args: [{var: v, at: [5, 26]}], result: Bool, at: [5, 23]}
              - {case: b, payload: [{let: v, at: [5, 36]}], at: [5, 33]}
            where: {call: g2, args: [{var: v, at: [5, 46]}], result: Bool, at: [5, 43]}
            body: [{call: hit, args: [{lit: 1, at: [6, 11]}], at: [6, 7]}]
          - at: [7, 5]
            patterns: [_]
            where: {call: g3, result: Bool, at: [7, 17]}
            body: [{call: hit, args: [{lit: 2, at: [8, 11]}], at: [8, 7]}]
          - at: [9, 5]
            default: true
            body: [{call: hit, args: [{lit: 3, at: [10, 11]}], at: [10, 7]}]
`

// TestSourceOrderPrecedence runs every combination of guard results and
// checks that the first clause in source order whose pattern matches and whose
// guard holds runs, with no guard evaluated needlessly.
func TestSourceOrderPrecedence(t *testing.T) {
	fn := lowerOne(t, decodeModule(t, "pick.yaml", precedenceSrc))

	subjects := []enumVal{
		{tag: 0, name: "a", payload: []interface{}{int64(7)}},
		{tag: 1, name: "b", payload: []interface{}{"s"}},
	}
	for _, subj := range subjects {
		for bits := 0; bits < 16; bits++ {
			g := func(i int) bool { return bits&(1<<i) != 0 }

			var wantHit int
			var wantTrace []string
			if subj.name == "a" {
				wantTrace = append(wantTrace, "g0[7]")
				switch {
				case g(0):
					wantHit = 0
				case func() bool { wantTrace = append(wantTrace, "g1[7]"); return g(1) }():
					wantHit = 1
				case func() bool { wantTrace = append(wantTrace, "g3[]"); return g(3) }():
					wantHit = 2
				default:
					wantHit = 3
				}
			} else {
				wantTrace = append(wantTrace, "g2[s]")
				switch {
				case g(2):
					wantHit = 1
				case func() bool { wantTrace = append(wantTrace, "g3[]"); return g(3) }():
					wantHit = 2
				default:
					wantHit = 3
				}
			}
			wantTrace = append(wantTrace, "hit["+string(rune('0'+wantHit))+"]")

			calls := map[string]func([]interface{}) interface{}{}
			for i := 0; i < 4; i++ {
				i := i
				calls["g"+string(rune('0'+i))] = func([]interface{}) interface{} { return boolInt(g(i)) }
			}
			m, _ := run(t, fn, []interface{}{subj}, calls)
			if diff := cmp.Diff(wantTrace, m.trace); diff != "" {
				t.Errorf("subject .%s guards %04b: trace mismatch (-want +got):\n%s", subj.name, bits, diff)
			}
			if len(m.mem) != 0 {
				t.Errorf("subject .%s guards %04b: live slots at return: %v", subj.name, bits, m.mem)
			}
		}
	}
}

func TestPartialSlotReleasedBeforeBody(t *testing.T) {
	fn := lowerOne(t, decodeModule(t, "pick.yaml", precedenceSrc))

	var strAddr string
	for _, b := range fn.RegionBindings() {
		if b.Name == "v" && b.Type.Key() == "String" {
			strAddr = b.Addr.Ref
		}
	}
	if strAddr == "" {
		t.Fatal("no String slot for v")
	}
	for _, bb := range fn.Blocks {
		if !strings.HasPrefix(bb.Name, "case_body") {
			continue
		}
		for _, in := range bb.Instr {
			if d, ok := in.Op.(DestroyAddr); ok && d.Addr.Ref == strAddr {
				t.Errorf("%s destroys the partial slot %s inside the body", bb.Name, strAddr)
			}
		}
	}
	released := false
	for _, bb := range fn.Blocks {
		n := len(bb.Instr)
		if n < 2 {
			continue
		}
		if br, ok := bb.Instr[n-1].Op.(Br); ok && strings.HasPrefix(br.Target, "case_body") {
			for _, in := range bb.Instr {
				if d, ok := in.Op.(DestroyAddr); ok && d.Addr.Ref == strAddr {
					released = true
				}
			}
		}
	}
	if !released {
		t.Errorf("partial slot not released on the edge into the body:\n%s", fn)
	}
}

func TestLowerModuleSkipsFailedFunctions(t *testing.T) {
	src := `format: 1.0.0
types:
  - name: E
    enum:
      - {case: a}
      - {case: b}
functions:
  - name: partial
    params: [{name: e, type: E}]
    body:
      - switch: {var: e}
        at: [3, 3]
        cases:
          - patterns: [{case: a}]
  - name: total
    params: [{name: e, type: E}]
    body:
      - switch: {var: e}
        cases:
          - patterns: [{case: a}, {case: b}]
`
	m := decodeModule(t, "skip.yaml", src)
	out, diags, err := NewLowerer().LowerModule(m)
	if err != nil {
		t.Fatal(err)
	}
	if len(out.Functions) != 1 || out.Functions[0].Name != "total" {
		t.Fatalf("functions = %v", out.Functions)
	}
	if n := len(diags.Filter(diagnostics.CategoryNonExhaustiveMatch)); n != 1 {
		t.Errorf("non-exhaustive diagnostics = %d, want 1: %v", n, diags)
	}

	_, err = NewLowerer().LowerFunction(m.Functions[0])
	var le *diagnostics.ListError
	if !errors.As(err, &le) {
		t.Fatalf("LowerFunction error = %v, want a diagnostics list", err)
	}
}

func TestLowerStatements(t *testing.T) {
	src := `format: 1.0.0
functions:
  - name: f
    at: [1, 1]
    end: [9, 1]
    params: [{name: n, type: Int, at: [1, 8]}, {name: s, type: String, at: [1, 16]}]
    body:
      - switch: {var: n, at: [2, 10]}
        at: [2, 3]
        end: [8, 3]
        cases:
          - at: [3, 5]
            patterns: [{lit: 0, at: [3, 10]}]
            body:
              - return: {var: s, at: [4, 14]}
                at: [4, 7]
          - at: [5, 5]
            patterns: [{let: k, at: [5, 14]}]
            where:
              op: "||"
              at: [5, 24]
              lhs: {op: "<", at: [5, 22], lhs: {var: k, at: [5, 20]}, rhs: {lit: 0, at: [5, 24]}}
              rhs: {not: {op: ">", at: [5, 34], lhs: {var: k, at: [5, 32]}, rhs: {lit: 9, at: [5, 36]}}, at: [5, 30]}
            body:
              - {call: make, result: String, at: [6, 7]}
          - at: [7, 5]
            default: true
            body:
              - return: {call: make, result: String, at: [7, 21]}
                at: [7, 14]
`
	fn := lowerOne(t, decodeModule(t, "stmts.yaml", src))
	text := fn.String()
	for _, want := range []string{"cmp.slt", "cmp.sgt", "ret %", "destroy %"} {
		if !strings.Contains(text, want) {
			t.Errorf("missing %q in\n%s", want, text)
		}
	}

	calls := map[string]func([]interface{}) interface{}{
		"make": func([]interface{}) interface{} { return "made" },
	}
	cases := []struct {
		n    int64
		want interface{}
	}{
		{0, "param"},
		{-3, nil},
		{12, "made"},
		{4, nil},
	}
	for _, tc := range cases {
		m, got := run(t, fn, []interface{}{tc.n, "param"}, calls)
		if got != tc.want {
			t.Errorf("f(%d) = %v, want %v", tc.n, got, tc.want)
		}
		if len(m.mem) != 0 {
			t.Errorf("f(%d): live slots %v", tc.n, m.mem)
		}
	}
}

func TestLowerRecursiveEnum(t *testing.T) {
	src := `format: 1.0.0
types:
  - name: L
    enum:
      - {case: empty}
      - {case: cons, payload: [Int, L]}
functions:
  - name: head
    at: [1, 1]
    end: [6, 1]
    params: [{name: l, type: L, at: [1, 10]}]
    body:
      - switch: {var: l, at: [2, 10]}
        at: [2, 3]
        end: [5, 3]
        cases:
          - at: [3, 5]
            patterns: [{case: empty, at: [3, 10]}]
          - at: [4, 5]
            patterns: [{case: cons, at: [4, 10], payload: [{let: h, at: [4, 19]}, {let: t, at: [4, 26]}]}]
            body:
              - {call: print, args: [{var: h, at: [4, 36]}], at: [4, 30]}
`
	fn := lowerOne(t, decodeModule(t, "list.yaml", src))

	var tail string
	for _, b := range fn.RegionBindings() {
		if b.Name == "t" {
			tail = b.Addr.Ref
		}
	}
	if tail == "" {
		t.Fatalf("no slot for t:\n%s", fn)
	}
	text := fn.String()
	if !strings.Contains(text, "destroy_addr "+tail) {
		t.Errorf("tail slot %s is not destroyed:\n%s", tail, text)
	}
}

func TestSwitchFallOffIsUnreachable(t *testing.T) {
	for _, name := range []string{"multiple_payloads.yaml", "patternmatching.yaml"} {
		fn := lowerOne(t, loadFixture(t, name))
		for _, bb := range fn.Blocks {
			if !strings.HasPrefix(bb.Name, "switch_nomatch") {
				continue
			}
			if len(bb.Instr) != 1 {
				t.Errorf("%s: %s has %d instructions, want a lone unreachable", name, bb.Name, len(bb.Instr))
				continue
			}
			if _, ok := bb.Instr[0].Op.(Unreachable); !ok {
				t.Errorf("%s: %s ends in %v, want unreachable", name, bb.Name, bb.Instr[0].Op)
			}
		}
	}
}
