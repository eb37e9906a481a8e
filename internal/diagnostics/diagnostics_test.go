package diagnostics

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/orizon-lang/patlower/internal/position"
)

func TestBuilderAndError(t *testing.T) {
	d := NewDiagnosticBuilder(CategoryNonExhaustiveMatch).
		At(position.At("e.swift", 13, 3)).
		WithMessagef("switch must be exhaustive; missing %s", ".three(_)").
		WithRelated(position.At("e.swift", 6, 8), "case declared here").
		Build()

	if d.Level != DiagnosticError {
		t.Errorf("level = %v", d.Level)
	}
	want := "e.swift:13:3: error: switch must be exhaustive; missing .three(_) [E003]"
	if got := d.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestListErrAndSort(t *testing.T) {
	var l List
	l.Add(NewDiagnosticBuilder(CategoryUnreachablePattern).Warning().At(position.At("f", 9, 1)).WithMessagef("w").Build())
	if l.Err() != nil {
		t.Fatal("warnings alone must not produce an error")
	}
	l.Add(NewDiagnosticBuilder(CategoryDuplicateBinding).At(position.At("f", 4, 1)).WithMessagef("second").Build())
	l.Add(NewDiagnosticBuilder(CategoryInconsistentBindingSet).At(position.At("f", 2, 1)).WithMessagef("first").Build())
	l.Sort()

	if l[0].Message != "first" || l[2].Level != DiagnosticWarning {
		t.Fatalf("unexpected order: %v", l)
	}
	err := l.Err()
	var le *ListError
	if !errors.As(err, &le) {
		t.Fatalf("Err() = %T", err)
	}
	if !strings.Contains(err.Error(), "first") || !strings.Contains(err.Error(), "and 1 more errors") {
		t.Errorf("err = %q", err)
	}
	if got := len(l.Filter(CategoryDuplicateBinding)); got != 1 {
		t.Errorf("filter = %d", got)
	}
}

func TestRenderWithSource(t *testing.T) {
	sm := position.NewSourceMap()
	sm.AddFile("e.swift", "switch e {\n  case .one(let a), .two:\n}\n")
	l := List{NewDiagnosticBuilder(CategoryInconsistentBindingSet).
		WithSpan(position.Span{Start: position.At("e.swift", 2, 21), End: position.At("e.swift", 2, 25)}).
		WithMessagef("'a' is not bound in every alternative").
		Build()}

	var buf bytes.Buffer
	if err := Render(&buf, l, sm, false); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"e.swift:2:21: error:", "   2 |   case .one(let a), .two:", "^^^^"} {
		if !strings.Contains(out, want) {
			t.Errorf("render output missing %q:\n%s", want, out)
		}
	}
}
