package hir

import (
	"os"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/orizon-lang/patlower/internal/diagnostics"
	perrors "github.com/orizon-lang/patlower/internal/errors"
)

func loadFixture(t *testing.T, name string) *Module {
	t.Helper()
	f, err := os.Open("../../testdata/" + name)
	if err != nil {
		t.Fatalf("open fixture: %v", err)
	}
	defer f.Close()
	m, err := Decode(f, name)
	if err != nil {
		t.Fatalf("Decode(%s): %v", name, err)
	}
	if diags := Resolve(m); len(diags) != 0 {
		t.Fatalf("Resolve(%s): %v", name, diags)
	}
	return m
}

func TestDecodeMultiplePayloads(t *testing.T) {
	m := loadFixture(t, "multiple_payloads.yaml")

	if m.File != "case-with-multiple-payloads.swift" {
		t.Errorf("File = %q", m.File)
	}
	if len(m.Types) != 1 || len(m.Types[0].Cases) != 3 {
		t.Fatalf("types = %+v", m.Types)
	}
	fn := m.Functions[0]
	sw, ok := fn.Body[0].(*SwitchStmt)
	if !ok {
		t.Fatalf("body[0] is %T, want *SwitchStmt", fn.Body[0])
	}
	if sw.At.Line != 13 || sw.SubjectType.Name != "E" {
		t.Errorf("switch at %v of %v", sw.At, sw.SubjectType)
	}

	var got []string
	for _, cl := range sw.Clauses {
		for _, alt := range cl.Alternatives {
			for _, b := range Bindings(alt.Pattern) {
				got = append(got, b.Name+":"+b.Type.Key()+"@"+b.At.String())
			}
		}
	}
	want := []string{
		"payload:Int@case-with-multiple-payloads.swift:17:19",
		"payload:Int@case-with-multiple-payloads.swift:18:19",
		"payload:String@case-with-multiple-payloads.swift:25:21",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("bindings mismatch (-want +got):\n%s", diff)
	}
	if sw.Clauses[0].BodyEnd.Line != 19 || sw.Clauses[0].BodyEnd.Column != 20 {
		t.Errorf("BodyEnd = %v", sw.Clauses[0].BodyEnd)
	}
}

func TestDecodePatternMatching(t *testing.T) {
	m := loadFixture(t, "patternmatching.yaml")
	fn := m.Functions[0]
	if len(fn.Body) != 2 {
		t.Fatalf("want two switches, got %d statements", len(fn.Body))
	}

	first := fn.Body[0].(*SwitchStmt)
	if got := first.SubjectType.Key(); got != "(Double, Double)" {
		t.Errorf("subject type = %s", got)
	}
	if len(first.Clauses) != 4 {
		t.Fatalf("clauses = %d", len(first.Clauses))
	}
	guard := first.Clauses[0].Alternatives[0].Guard
	if guard == nil || !HasCall(guard) || HasShortCircuit(guard) {
		t.Errorf("first guard = %#v", guard)
	}
	if g := first.Clauses[2].Alternatives[0].Guard; !HasShortCircuit(g) {
		t.Errorf("third guard should short-circuit")
	}
	if first.Clauses[3].Alternatives[0].Guard != nil {
		t.Errorf("last clause has no guard")
	}

	second := fn.Body[1].(*SwitchStmt)
	// Body end defaults to the closing brace of the trailing statement.
	if e := second.Clauses[0].BodyEnd; e.Line != 52 || e.Column != 31 {
		t.Errorf("clause 0 BodyEnd = %v", e)
	}
	if e := second.Clauses[1].BodyEnd; e.Line != 56 || e.Column != 5 {
		t.Errorf("clause 1 BodyEnd = %v", e)
	}
	blk, ok := second.Clauses[1].Body[0].(*BlockStmt)
	if !ok {
		t.Fatalf("do block decoded as %T", second.Clauses[1].Body[0])
	}
	ifs := blk.Body[0].(*IfStmt)
	ref := ifs.Then[0].(*ExprStmt).X.(*Call).Args[0].(*VarRef)
	if ref.Type != DoubleType {
		t.Errorf("x resolved to %v", ref.Type)
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		category perrors.ErrorCategory
	}{
		{
			name:     "missing format",
			input:    "module: m\nfunctions: []\n",
			category: perrors.CategoryInput,
		},
		{
			name:     "unsupported major",
			input:    "format: 2.1.0\nmodule: m\n",
			category: perrors.CategoryVersion,
		},
		{
			name:     "bad version",
			input:    "format: one\n",
			category: perrors.CategoryVersion,
		},
		{
			name:     "unknown field",
			input:    "format: 1.0.0\nmodules: m\n",
			category: perrors.CategoryInput,
		},
		{
			name:     "unknown type",
			input:    "format: 1.0.0\nfunctions:\n  - name: f\n    params: [{name: a, type: Nope}]\n",
			category: perrors.CategoryInput,
		},
		{
			name: "unknown pattern",
			input: `format: 1.0.0
functions:
  - name: f
    params: [{name: a, type: Int}]
    body:
      - switch: {var: a}
        cases:
          - patterns: [{range: 1}]
`,
			category: perrors.CategoryInput,
		},
		{
			name: "empty patterns",
			input: `format: 1.0.0
functions:
  - name: f
    params: [{name: a, type: Int}]
    body:
      - switch: {var: a}
        cases:
          - patterns: []
`,
			category: perrors.CategoryInput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(strings.NewReader(tt.input), "in.yaml")
			if err == nil {
				t.Fatal("expected an error")
			}
			if !perrors.IsCategory(err, tt.category) {
				t.Errorf("error %v is not in category %s", err, tt.category)
			}
		})
	}
}

func TestDecodeGuardPlacement(t *testing.T) {
	input := `format: 1.0.0
functions:
  - name: f
    params: [{name: a, type: Int}]
    body:
      - switch: {var: a}
        cases:
          - patterns:
              - {lit: 1}
              - {match: {lit: 2}, where: {lit: true}}
              - {lit: 3}
            where: {lit: false}
          - default: true
`
	m, err := Decode(strings.NewReader(input), "in.yaml")
	if err != nil {
		t.Fatal(err)
	}
	cl := m.Functions[0].Body[0].(*SwitchStmt).Clauses
	alts := cl[0].Alternatives
	if alts[0].Guard != nil {
		t.Error("first alternative should be unguarded")
	}
	if g, ok := alts[1].Guard.(*LitExpr); !ok || !g.Value.Bool {
		t.Errorf("second alternative guard = %#v", alts[1].Guard)
	}
	if g, ok := alts[2].Guard.(*LitExpr); !ok || g.Value.Bool {
		t.Errorf("clause guard should attach to the last alternative, got %#v", alts[2].Guard)
	}
	if !cl[1].IsDefault {
		t.Error("second clause should be default")
	}
	if _, ok := cl[1].Alternatives[0].Pattern.(*WildcardPattern); !ok {
		t.Error("default clause should hold a wildcard")
	}
}

func TestResolveDiagnostics(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		wants []diagnostics.DiagnosticCategory
	}{
		{
			name: "unknown case",
			body: `      - switch: {var: e}
        cases:
          - patterns: [{case: four}]`,
			wants: []diagnostics.DiagnosticCategory{diagnostics.CategoryUnknownCase},
		},
		{
			name: "payload arity",
			body: `      - switch: {var: e}
        cases:
          - patterns: [{case: one}]`,
			wants: []diagnostics.DiagnosticCategory{diagnostics.CategoryTypeMismatch},
		},
		{
			name: "guard not bool",
			body: `      - switch: {var: e}
        cases:
          - patterns: [{case: one, payload: [{let: v}]}]
            where: {var: v}`,
			wants: []diagnostics.DiagnosticCategory{diagnostics.CategoryTypeMismatch},
		},
		{
			name: "undefined name",
			body: `      - switch: {var: e}
        cases:
          - patterns: [_]
            body:
              - {call: use, args: [{var: missing}]}`,
			wants: []diagnostics.DiagnosticCategory{diagnostics.CategoryUnresolvedName},
		},
		{
			name: "literal against enum",
			body: `      - switch: {var: e}
        cases:
          - patterns: [{lit: 1}]`,
			wants: []diagnostics.DiagnosticCategory{diagnostics.CategoryTypeMismatch},
		},
		{
			name: "binding type annotation",
			body: `      - switch: {var: e}
        cases:
          - patterns: [{case: three, payload: [{let: s, type: Int}]}]`,
			wants: []diagnostics.DiagnosticCategory{diagnostics.CategoryTypeMismatch},
		},
		{
			name: "name bound at two types used in body",
			body: `      - switch: {var: e}
        cases:
          - patterns: [{case: one, payload: [{let: v}]}, {case: three, payload: [{let: v}]}]
            body:
              - {call: use, args: [{var: v, type: Int}]}`,
			wants: []diagnostics.DiagnosticCategory{diagnostics.CategoryTypeMismatch},
		},
		{
			name: "name bound at two types used in guards",
			body: `      - switch: {var: e}
        cases:
          - patterns:
              - {match: {case: one, payload: [{let: v}]}, where: {op: "==", lhs: {var: v}, rhs: {lit: 1}}}
              - {match: {case: three, payload: [{let: v}]}, where: {op: "==", lhs: {var: v}, rhs: {lit: "x"}}}
          - patterns: [_]`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := `format: 1.0.0
types:
  - name: E
    enum:
      - {case: one, payload: [Int]}
      - {case: three, payload: [String]}
functions:
  - name: f
    params: [{name: e, type: E}]
    body:
` + tt.body + "\n"
			m, err := Decode(strings.NewReader(input), "in.yaml")
			if err != nil {
				t.Fatal(err)
			}
			diags := Resolve(m)
			var got []diagnostics.DiagnosticCategory
			for _, d := range diags {
				got = append(got, d.Category)
			}
			if diff := cmp.Diff(tt.wants, got); diff != "" {
				t.Errorf("diagnostics mismatch (-want +got):\n%s\n%v", diff, diags)
			}
		})
	}
}

func TestTypeKeys(t *testing.T) {
	named := map[string]*Type{"E": {Name: "E", Kind: KindEnum}}
	tests := []struct {
		in, key string
		refc    bool
	}{
		{"Int", "Int", false},
		{"Float64", "Double", false},
		{"String", "String", true},
		{"(Double, Double)", "(Double, Double)", false},
		{"(Int, (String, E))", "(Int, (String, E))", true},
		{"E", "E", false},
	}
	for _, tt := range tests {
		ty, err := ParseTypeName(tt.in, named)
		if err != nil {
			t.Errorf("ParseTypeName(%q): %v", tt.in, err)
			continue
		}
		if ty.Key() != tt.key {
			t.Errorf("Key(%q) = %q, want %q", tt.in, ty.Key(), tt.key)
		}
		if ty.Refcounted() != tt.refc {
			t.Errorf("Refcounted(%q) = %v", tt.in, ty.Refcounted())
		}
	}

	// L = empty | cons(Int, L); M = leaf(Int) | node(N); N = wrap(M)
	list := &Type{Name: "L", Kind: KindEnum}
	list.Cases = []*EnumCase{{Name: "empty"}, {Name: "cons", Payload: []*Type{IntType, list}}}
	m := &Type{Name: "M", Kind: KindEnum}
	n := &Type{Name: "N", Kind: KindEnum, Cases: []*EnumCase{{Name: "wrap", Payload: []*Type{m}}}}
	m.Cases = []*EnumCase{{Name: "leaf", Payload: []*Type{IntType}}, {Name: "node", Payload: []*Type{n}}}
	for _, ty := range []*Type{list, m, n, TupleOf(IntType, list)} {
		if !ty.Refcounted() {
			t.Errorf("recursive type %s is not refcounted", ty)
		}
	}

	for _, bad := range []string{"(Int)", "(Int, Double", "Nope"} {
		if _, err := ParseTypeName(bad, named); err == nil {
			t.Errorf("ParseTypeName(%q) should fail", bad)
		}
	}
}
