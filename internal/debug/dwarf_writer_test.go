package debug

import (
	"bytes"
	"debug/dwarf"
	"encoding/binary"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func loadDWARF(t *testing.T, info ProgramDebugInfo) *dwarf.Data {
	t.Helper()
	secs, err := BuildDWARF(info)
	if err != nil {
		t.Fatalf("BuildDWARF: %v", err)
	}
	if ul := binary.LittleEndian.Uint32(secs.Info); int(ul) != len(secs.Info)-4 {
		t.Fatalf("info unit length %d, want %d", ul, len(secs.Info)-4)
	}
	if ul := binary.LittleEndian.Uint32(secs.Line); int(ul) != len(secs.Line)-4 {
		t.Fatalf("line unit length %d, want %d", ul, len(secs.Line)-4)
	}
	d, err := dwarf.New(secs.Abbrev, nil, nil, secs.Info, secs.Line, nil, nil, secs.Str)
	if err != nil {
		t.Fatalf("dwarf.New: %v", err)
	}
	return d
}

type die struct {
	Depth int
	Tag   string
	Name  string
	Line  int64
	Type  string
}

// walk flattens the DIE tree, resolving type references by name.
func walk(t *testing.T, d *dwarf.Data) []die {
	t.Helper()
	r := d.Reader()
	var out []die
	depth := 0
	for {
		e, err := r.Next()
		if err != nil {
			t.Fatal(err)
		}
		if e == nil {
			break
		}
		if e.Tag == 0 {
			depth--
			continue
		}
		x := die{Depth: depth, Tag: e.Tag.String()}
		x.Name, _ = e.Val(dwarf.AttrName).(string)
		x.Line, _ = e.Val(dwarf.AttrDeclLine).(int64)
		if off, ok := e.Val(dwarf.AttrType).(dwarf.Offset); ok {
			tr := d.Reader()
			tr.Seek(off)
			te, err := tr.Next()
			if err != nil || te == nil {
				t.Fatalf("bad type reference %#x: %v", off, err)
			}
			x.Type, _ = te.Val(dwarf.AttrName).(string)
		}
		out = append(out, x)
		if e.Children {
			depth++
		}
	}
	return out
}

func TestBuildDWARF_ScopeTree(t *testing.T) {
	_, info := emitFixture(t, "patternmatching.yaml", ShadowPerName)
	got := walk(t, loadDWARF(t, info))

	want := []die{
		{0, "CompileUnit", "patternmatching", 0, ""},
		{1, "StructType", "(Double, Double)", 0, ""},
		{1, "BaseType", "Double", 0, ""},
		{1, "Subprogram", "classifyPoint2", 9, ""},
		{2, "FormalParameter", "p", 9, "(Double, Double)"},
		{2, "LexDwarfBlock", "", 0, ""},
		{3, "Variable", "x", 25, "Double"},
		{3, "Variable", "y", 25, "Double"},
		{3, "LexDwarfBlock", "", 0, ""},
		{2, "LexDwarfBlock", "", 0, ""},
		{3, "Variable", "x", 50, "Double"},
		{3, "Variable", "y", 50, "Double"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("DIE tree mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildDWARF_LexicalBlockRanges(t *testing.T) {
	_, info := emitFixture(t, "patternmatching.yaml", ShadowPerName)
	d := loadDWARF(t, info)
	fi := info.Modules[0].Functions[0]

	r := d.Reader()
	var sub *dwarf.Entry
	var blocks [][2]uint64
	for {
		e, err := r.Next()
		if err != nil {
			t.Fatal(err)
		}
		if e == nil {
			break
		}
		switch e.Tag {
		case dwarf.TagSubprogram:
			sub = e
		case dwarf.TagLexDwarfBlock:
			rs, err := d.Ranges(e)
			if err != nil || len(rs) != 1 {
				t.Fatalf("Ranges = %v, %v", rs, err)
			}
			blocks = append(blocks, rs[0])
		}
	}
	if sub == nil {
		t.Fatal("no subprogram")
	}
	rs, err := d.Ranges(sub)
	if err != nil || len(rs) != 1 {
		t.Fatalf("subprogram ranges = %v, %v", rs, err)
	}
	if want := uint64(len(fi.Lines) * InstrSize); rs[0][1]-rs[0][0] != want {
		t.Errorf("subprogram size %d, want %d", rs[0][1]-rs[0][0], want)
	}
	if len(blocks) != 3 {
		t.Fatalf("got %d lexical blocks, want 3", len(blocks))
	}
	for i, b := range blocks {
		if b[0] >= b[1] || b[0] < rs[0][0] || b[1] > rs[0][1] {
			t.Errorf("block %d range %#x..%#x outside %#x..%#x", i, b[0], b[1], rs[0][0], rs[0][1])
		}
	}
	// The guard block nests inside the first switch block.
	if blocks[1][0] < blocks[0][0] || blocks[1][1] > blocks[0][1] {
		t.Errorf("guard block %v not inside switch block %v", blocks[1], blocks[0])
	}
	// The two switches do not overlap.
	if blocks[0][1] > blocks[2][0] {
		t.Errorf("switch blocks overlap: %v %v", blocks[0], blocks[2])
	}
}

func TestBuildDWARF_LineTable(t *testing.T) {
	_, info := emitFixture(t, "multiple_payloads.yaml", ShadowPerName)
	d := loadDWARF(t, info)

	cu, err := d.Reader().Next()
	if err != nil || cu == nil {
		t.Fatalf("no compile unit: %v", err)
	}
	lr, err := d.LineReader(cu)
	if err != nil || lr == nil {
		t.Fatalf("LineReader: %v", err)
	}
	pcm := BuildPCMap(info)
	lines := map[int]bool{}
	var le dwarf.LineEntry
	for {
		if err := lr.Next(&le); err != nil {
			break
		}
		if le.EndSequence {
			continue
		}
		lines[le.Line] = true
		if le.File == nil || le.File.Name != "case-with-multiple-payloads.swift" {
			t.Errorf("line entry file %v", le.File)
		}
		if _, line, ok := pcm.AddrToLine(le.Address); !ok || line != le.Line {
			t.Errorf("pc %#x: line table says %d, pc map says %d", le.Address, le.Line, line)
		}
	}
	for _, want := range []int{10, 13, 17, 19, 25, 26} {
		if !lines[want] {
			t.Errorf("line table has no row for line %d", want)
		}
	}
}

func TestBuildDWARF_NoModules(t *testing.T) {
	if _, err := BuildDWARF(ProgramDebugInfo{}); err == nil {
		t.Fatal("BuildDWARF accepted empty debug info")
	}
}

func TestLEB128(t *testing.T) {
	var ub, sb bytes.Buffer
	uleb128(&ub, 624485)
	if got := ub.Bytes(); string(got) != "\xe5\x8e\x26" {
		t.Errorf("uleb128(624485) = %x", got)
	}
	sleb128(&sb, -123456)
	if got := sb.Bytes(); string(got) != "\xc0\xbb\x78" {
		t.Errorf("sleb128(-123456) = %x", got)
	}
}
