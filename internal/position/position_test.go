package position

import (
	"strings"
	"testing"
)

func TestPosition(t *testing.T) {
	tests := []struct {
		name  string
		pos   Position
		valid bool
		str   string
	}{
		{"with filename", At("dir/case.swift", 10, 5), true, "case.swift:10:5"},
		{"without filename", At("", 1, 1), true, "1:1"},
		{"zero line", At("f", 0, 1), false, ""},
		{"generated code", Position{}, false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.pos.IsValid(); got != tt.valid {
				t.Errorf("IsValid() = %v, want %v", got, tt.valid)
			}
			if tt.valid && tt.pos.String() != tt.str {
				t.Errorf("String() = %q, want %q", tt.pos.String(), tt.str)
			}
		})
	}
}

func TestPositionOrdering(t *testing.T) {
	a := At("f.swift", 16, 10)
	b := At("f.swift", 17, 10)
	c := At("f.swift", 16, 15)

	if !a.Less(b) || b.Less(a) {
		t.Errorf("line ordering broken: %v vs %v", a, b)
	}
	if !a.Less(c) || c.Less(a) {
		t.Errorf("column ordering broken: %v vs %v", a, c)
	}
	if a.Less(a) {
		t.Error("a position must not be less than itself")
	}
	if !c.Before(b) || b.Before(c) {
		t.Error("Before disagrees with Less")
	}
}

func TestSpan(t *testing.T) {
	one := Span{Start: At("f", 2, 1), End: At("f", 2, 9)}
	two := Span{Start: At("f", 4, 3), End: At("f", 5, 1)}
	if got := one.String(); got != "f:2:1-9" {
		t.Errorf("span string = %q", got)
	}
	if got := two.String(); got != "f:4:3-5:1" {
		t.Errorf("span string = %q", got)
	}
	if !PointSpan(At("f", 3, 3)).IsValid() {
		t.Error("point span should be valid")
	}
	if (Span{Start: two.End, End: two.Start}).IsValid() {
		t.Error("reversed span should be invalid")
	}
}

func TestSourceMap(t *testing.T) {
	sm := NewSourceMap()
	sm.AddFile("m.swift", "switch p {\r\n  case (let x, let y):\n}\n")

	f := sm.GetFile("m.swift")
	if f == nil {
		t.Fatal("file not registered")
	}
	if got := f.GetLine(1); got != "switch p {" {
		t.Errorf("line 1 = %q", got)
	}
	if got := f.GetLine(2); got != "  case (let x, let y):" {
		t.Errorf("line 2 = %q", got)
	}
	if got := f.GetLine(40); got != "" {
		t.Errorf("line 40 = %q", got)
	}
	var none *SourceMap
	if none.GetFile("m.swift") != nil {
		t.Error("nil source map returned a file")
	}
}

func TestHighlightSpan(t *testing.T) {
	sm := NewSourceMap()
	sm.AddFile("m.swift", "switch e {\ncase .one(let payload):\n}\n")
	h := NewSpanHighlighter(sm, false)

	out := h.HighlightSpan(Span{Start: At("m.swift", 2, 6), End: At("m.swift", 2, 10)})
	if !strings.Contains(out, "   2 | case .one(let payload):") {
		t.Errorf("missing source line:\n%s", out)
	}
	if !strings.Contains(out, "     |      ^^^^") {
		t.Errorf("missing caret line:\n%s", out)
	}
	if strings.Contains(out, "\x1b[") {
		t.Error("color disabled but escape codes emitted")
	}

	if got := NewSpanHighlighter(sm, false).HighlightSpan(PointSpan(At("other", 1, 1))); got != "" {
		t.Errorf("unknown file should render nothing, got %q", got)
	}
}
