package debug

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestGenerateSourceMap(t *testing.T) {
	_, info := emitFixture(t, "patternmatching.yaml", ShadowPerName)
	sm, err := GenerateSourceMap(info)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"patternmatching.swift"}, sm.Files); diff != "" {
		t.Errorf("files mismatch (-want +got):\n%s", diff)
	}
	if len(sm.Functions) != 1 || len(sm.Functions[0].Mappings) != 1 {
		t.Fatalf("functions = %+v", sm.Functions)
	}
	fr := sm.Functions[0]
	if fr.Module != "patternmatching" || fr.Name != "classifyPoint2" {
		t.Errorf("function %s.%s", fr.Module, fr.Name)
	}
	if m := fr.Mappings[0]; m.StartLine != 9 || m.EndLine != 82 {
		t.Errorf("mapping covers lines %d..%d, want 9..82", m.StartLine, m.EndLine)
	}

	b, err := SerializeSourceMap(sm)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), `"start_line": 9`) {
		t.Errorf("serialized map lacks start line:\n%s", b)
	}
}

func TestGenerateSourceMap_Empty(t *testing.T) {
	if _, err := GenerateSourceMap(ProgramDebugInfo{}); err == nil {
		t.Fatal("GenerateSourceMap accepted empty debug info")
	}
}
