package debug

import (
	"bytes"
	"strings"
	"testing"
)

func TestRenderMetadata(t *testing.T) {
	mod, info := emitFixture(t, "patternmatching.yaml", ShadowPerName)
	var buf bytes.Buffer
	if err := RenderMetadata(&buf, mod, info.Modules[0]); err != nil {
		t.Fatal(err)
	}
	out := buf.String()

	if n := strings.Count(out, "call void @llvm.dbg.declare("); n != 5 {
		t.Errorf("%d dbg.declare calls, want 5", n)
	}
	if n := strings.Count(out, "call void @llvm.dbg.value("); n != 8 {
		t.Errorf("%d dbg.value calls, want 8", n)
	}
	for _, want := range []string{
		"define void @classifyPoint2(ptr %p) !dbg !",
		`!DILocalVariable(name: "p", arg: 1,`,
		"distinct !DILexicalBlock(scope: !",
		"line: 39, column: 62)",
		"line: 45, column: 1)",
		`!DIBasicType(name: "Double", size: 64, encoding: DW_ATE_float)`,
		"!llvm.dbg.cu = !{!0}",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output lacks %q", want)
		}
	}

	inBody := false
	for _, line := range strings.Split(out, "\n") {
		switch {
		case strings.HasPrefix(line, "define "):
			inBody = true
		case line == "}":
			inBody = false
		case inBody && strings.HasPrefix(line, "  ") && !strings.Contains(line, ", !dbg !"):
			t.Errorf("instruction without location: %s", line)
		}
	}
}

func TestRenderMetadataMismatch(t *testing.T) {
	mod, info := emitFixture(t, "multiple_payloads.yaml", ShadowPerName)
	info.Modules[0].Functions = nil
	if err := RenderMetadata(&bytes.Buffer{}, mod, info.Modules[0]); err == nil {
		t.Fatal("RenderMetadata accepted mismatched debug info")
	}
}
