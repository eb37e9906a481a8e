package debug

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestPCMap_AddrToLine(t *testing.T) {
	_, info := emitFixture(t, "patternmatching.yaml", ShadowPerName)
	m := BuildPCMap(info)
	fi := info.Modules[0].Functions[0]

	if len(m.Ranges) != 1 {
		t.Fatalf("got %d ranges", len(m.Ranges))
	}
	if r := m.Ranges[0]; r.Low != 0 || r.High != uint64(len(fi.Lines)*InstrSize) {
		t.Errorf("range %#x..%#x", r.Low, r.High)
	}
	for i, le := range fi.Lines {
		file, line, ok := m.AddrToLine(uint64(i*InstrSize + 2))
		if !ok || line != le.Line || file != le.File {
			t.Errorf("instruction %d: got %s:%d, want %s:%d", i, file, line, le.File, le.Line)
		}
	}
	if _, _, ok := m.AddrToLine(m.Ranges[0].High); ok {
		t.Error("address past the end resolved")
	}
}

func TestPCMap_ScopeChain(t *testing.T) {
	_, info := emitFixture(t, "patternmatching.yaml", ShadowPerName)
	m := BuildPCMap(info)
	fi := info.Modules[0].Functions[0]

	idx := -1
	for i, le := range fi.Lines {
		if fi.Scopes[le.Scope].Kind == ScopeGuard {
			idx = i
			break
		}
	}
	if idx < 0 {
		t.Fatal("no instruction in a guard scope")
	}
	var kinds []ScopeKind
	for _, s := range m.ScopeChain(uint64(idx * InstrSize)) {
		kinds = append(kinds, s.Kind)
	}
	want := []ScopeKind{ScopeGuard, ScopeSwitch, ScopeSubprogram}
	if diff := cmp.Diff(want, kinds); diff != "" {
		t.Errorf("scope chain mismatch (-want +got):\n%s", diff)
	}
}
