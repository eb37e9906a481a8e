package debug

import (
	"bytes"
	"encoding/binary"
	"errors"
	"path/filepath"
)

// DWARFSections holds raw DWARF section payloads.
type DWARFSections struct {
	Abbrev []byte
	Info   []byte
	Line   []byte
	Str    []byte
}

// InstrSize is the pseudo-PC size of one MIR instruction.
const InstrSize = 4

const (
	abbrevCompileUnit = iota + 1
	abbrevSubprogram
	abbrevFormalParameter
	abbrevVariable
	abbrevBaseType
	abbrevStructureType
	abbrevLexicalBlock
)

// DWARF constants used by the writer.
const (
	tagLexicalBlock   = 0x0b
	tagCompileUnit    = 0x11
	tagStructureType  = 0x13
	tagBaseType       = 0x24
	tagFormalParam    = 0x05
	tagSubprogram     = 0x2e
	tagVariable       = 0x34
	atLocation        = 0x02
	atName            = 0x03
	atByteSize        = 0x0b
	atStmtList        = 0x10
	atLowPC           = 0x11
	atHighPC          = 0x12
	atCompDir         = 0x1b
	atProducer        = 0x25
	atDeclFile        = 0x3a
	atDeclLine        = 0x3b
	atEncoding        = 0x3e
	atFrameBase       = 0x40
	atType            = 0x49
	formAddr          = 0x01
	formData4         = 0x06
	formData1         = 0x0b
	formStrp          = 0x0e
	formRef4          = 0x13
	formSecOffset     = 0x17
	formExprloc       = 0x18
	opFbreg           = 0x91
	opCallFrameCFA    = 0x9c
	lnsCopy           = 0x01
	lnsAdvancePC      = 0x02
	lnsAdvanceLine    = 0x03
	lnsSetFile        = 0x04
	lnsSetColumn      = 0x05
	lneEndSequence    = 0x01
	lneSetAddress     = 0x02
	lineOpcodeBase    = 13
	defaultCompDir    = ""
	producerName      = "patlower"
	stringStructBytes = 16
)

// standardOpcodeLengths are the operand counts of opcodes 1..12.
var standardOpcodeLengths = [lineOpcodeBase - 1]byte{0, 1, 1, 1, 1, 0, 0, 0, 1, 0, 0, 1}

func writeAbbrevs(ab *bytes.Buffer) {
	abbrev := func(code, tag uint64, children bool, attrs ...[2]uint64) {
		uleb128(ab, code)
		uleb128(ab, tag)
		if children {
			ab.WriteByte(1)
		} else {
			ab.WriteByte(0)
		}
		for _, a := range attrs {
			uleb128(ab, a[0])
			uleb128(ab, a[1])
		}
		uleb128(ab, 0)
		uleb128(ab, 0)
	}
	abbrev(abbrevCompileUnit, tagCompileUnit, true,
		[2]uint64{atName, formStrp},
		[2]uint64{atProducer, formStrp},
		[2]uint64{atStmtList, formSecOffset},
		[2]uint64{atCompDir, formStrp},
		[2]uint64{atLowPC, formAddr},
		[2]uint64{atHighPC, formData4})
	abbrev(abbrevSubprogram, tagSubprogram, true,
		[2]uint64{atName, formStrp},
		[2]uint64{atDeclFile, formData4},
		[2]uint64{atDeclLine, formData4},
		[2]uint64{atLowPC, formAddr},
		[2]uint64{atHighPC, formData4},
		[2]uint64{atFrameBase, formExprloc})
	local := [][2]uint64{
		{atName, formStrp},
		{atDeclFile, formData4},
		{atDeclLine, formData4},
		{atLocation, formExprloc},
		{atType, formRef4},
	}
	abbrev(abbrevFormalParameter, tagFormalParam, false, local...)
	abbrev(abbrevVariable, tagVariable, false, local...)
	abbrev(abbrevBaseType, tagBaseType, false,
		[2]uint64{atName, formStrp},
		[2]uint64{atEncoding, formData1},
		[2]uint64{atByteSize, formData1})
	abbrev(abbrevStructureType, tagStructureType, false,
		[2]uint64{atName, formStrp},
		[2]uint64{atByteSize, formData4})
	abbrev(abbrevLexicalBlock, tagLexicalBlock, true,
		[2]uint64{atLowPC, formAddr},
		[2]uint64{atHighPC, formData4})
	ab.WriteByte(0)
}

// BuildDWARF builds DWARF v4 sections from ProgramDebugInfo: one compile unit
// per module, a subprogram per function, a lexical block per switch and guard
// scope, and variables inside the block of their scope. Pseudo addresses
// advance InstrSize bytes per instruction.
func BuildDWARF(info ProgramDebugInfo) (DWARFSections, error) {
	if len(info.Modules) == 0 {
		return DWARFSections{}, errors.New("no modules")
	}

	str := &bytes.Buffer{}
	str.WriteByte(0)
	strIndex := map[string]uint32{}
	writeStr := func(s string) uint32 {
		if off, ok := strIndex[s]; ok {
			return off
		}
		off := uint32(str.Len())
		str.WriteString(s)
		str.WriteByte(0)
		strIndex[s] = off
		return off
	}

	ab := &bytes.Buffer{}
	writeAbbrevs(ab)

	line := &bytes.Buffer{}
	inf := &bytes.Buffer{}
	pc := uint64(0)
	for _, m := range info.Modules {
		files := moduleFiles(m)
		stmtList := uint32(line.Len())
		writeLineProgram(line, m, files, pc)

		cu := &bytes.Buffer{}
		binary.Write(cu, binary.LittleEndian, uint16(4)) // version
		binary.Write(cu, binary.LittleEndian, uint32(0)) // abbrev offset
		cu.WriteByte(8)                                  // address size

		size := uint32(0)
		for _, fn := range m.Functions {
			size += functionSize(fn)
		}
		uleb128(cu, abbrevCompileUnit)
		binary.Write(cu, binary.LittleEndian, writeStr(m.ModuleName))
		binary.Write(cu, binary.LittleEndian, writeStr(producerName))
		binary.Write(cu, binary.LittleEndian, stmtList)
		binary.Write(cu, binary.LittleEndian, writeStr(defaultCompDir))
		binary.Write(cu, binary.LittleEndian, pc)
		binary.Write(cu, binary.LittleEndian, size)

		// Type DIEs first. References are relative to the unit header,
		// which starts 4 bytes before cu.
		typeOffsets := map[string]uint32{}
		for _, fn := range m.Functions {
			for _, v := range fn.Variables {
				if _, ok := typeOffsets[v.Type]; ok {
					continue
				}
				typeOffsets[v.Type] = uint32(cu.Len() + 4)
				if enc, sz, ok := mapBaseType(v.Type); ok {
					uleb128(cu, abbrevBaseType)
					binary.Write(cu, binary.LittleEndian, writeStr(v.Type))
					cu.WriteByte(enc)
					cu.WriteByte(sz)
					continue
				}
				uleb128(cu, abbrevStructureType)
				binary.Write(cu, binary.LittleEndian, writeStr(v.Type))
				binary.Write(cu, binary.LittleEndian, uint32(compositeSize(v.Type)))
			}
		}

		for _, fn := range m.Functions {
			w := &functionWriter{cu: cu, fn: fn, low: pc, writeStr: writeStr, types: typeOffsets, files: files}
			w.write()
			pc += uint64(functionSize(fn))
		}
		cu.WriteByte(0)

		binary.Write(inf, binary.LittleEndian, uint32(cu.Len()))
		inf.Write(cu.Bytes())
	}

	return DWARFSections{Abbrev: ab.Bytes(), Info: inf.Bytes(), Line: line.Bytes(), Str: str.Bytes()}, nil
}

// functionSize is the pseudo-PC size of fn, at least one instruction.
func functionSize(fn FunctionInfo) uint32 {
	n := len(fn.Lines)
	if n == 0 {
		n = 1
	}
	return uint32(n * InstrSize)
}

type functionWriter struct {
	cu       *bytes.Buffer
	fn       FunctionInfo
	low      uint64
	writeStr func(string) uint32
	types    map[string]uint32
	files    []string

	// span[scope] is the instruction index range [lo, hi) covered by the
	// scope and its descendants.
	span     [][2]int
	children [][]int
}

func (w *functionWriter) write() {
	w.scopeSpans()

	uleb128(w.cu, abbrevSubprogram)
	binary.Write(w.cu, binary.LittleEndian, w.writeStr(w.fn.Name))
	binary.Write(w.cu, binary.LittleEndian, w.fileIndex(w.fn.File))
	binary.Write(w.cu, binary.LittleEndian, uint32(w.fn.Line))
	binary.Write(w.cu, binary.LittleEndian, w.low)
	binary.Write(w.cu, binary.LittleEndian, functionSize(w.fn))
	w.cu.WriteByte(1)
	w.cu.WriteByte(opCallFrameCFA)

	if len(w.fn.Scopes) > 0 {
		w.scopeBody(0)
	}
	w.cu.WriteByte(0)
}

// scopeBody writes the variables of scope s followed by the lexical blocks of
// its child scopes.
func (w *functionWriter) scopeBody(s int) {
	for i, v := range w.fn.Variables {
		if v.Scope != s {
			continue
		}
		code := uint64(abbrevVariable)
		off := -int64(InstrSize * 2 * (i + 1))
		if v.Arg > 0 {
			code = abbrevFormalParameter
			off = int64(8 * v.Arg)
		}
		uleb128(w.cu, code)
		binary.Write(w.cu, binary.LittleEndian, w.writeStr(v.Name))
		binary.Write(w.cu, binary.LittleEndian, w.fileIndex(v.File))
		binary.Write(w.cu, binary.LittleEndian, uint32(v.Line))
		expr := &bytes.Buffer{}
		expr.WriteByte(opFbreg)
		sleb128(expr, off)
		uleb128(w.cu, uint64(expr.Len()))
		w.cu.Write(expr.Bytes())
		binary.Write(w.cu, binary.LittleEndian, w.types[v.Type])
	}
	for _, c := range w.children[s] {
		if w.fn.Scopes[c].Kind == ScopeArtificial {
			continue
		}
		lo, hi := w.span[c][0], w.span[c][1]
		if hi < lo {
			lo, hi = w.span[s][0], w.span[s][0]
		}
		uleb128(w.cu, abbrevLexicalBlock)
		binary.Write(w.cu, binary.LittleEndian, w.low+uint64(lo*InstrSize))
		binary.Write(w.cu, binary.LittleEndian, uint32((hi-lo)*InstrSize))
		w.scopeBody(c)
		w.cu.WriteByte(0)
	}
}

func (w *functionWriter) scopeSpans() {
	n := len(w.fn.Scopes)
	w.span = make([][2]int, n)
	w.children = make([][]int, n)
	for i := range w.span {
		w.span[i] = [2]int{len(w.fn.Lines), -1}
	}
	for _, s := range w.fn.Scopes {
		if s.Parent >= 0 {
			w.children[s.Parent] = append(w.children[s.Parent], s.ID)
		}
	}
	for i, le := range w.fn.Lines {
		for s := le.Scope; s >= 0; s = w.fn.Scopes[s].Parent {
			if i < w.span[s][0] {
				w.span[s][0] = i
			}
			if i+1 > w.span[s][1] {
				w.span[s][1] = i + 1
			}
		}
	}
}

func (w *functionWriter) fileIndex(f string) uint32 {
	for i, name := range w.files {
		if name == f {
			return uint32(i + 1)
		}
	}
	return 0
}

// moduleFiles lists the files referenced by m in first-use order.
func moduleFiles(m ModuleDebugInfo) []string {
	var files []string
	seen := map[string]bool{}
	add := func(f string) {
		if f != "" && !seen[f] {
			seen[f] = true
			files = append(files, f)
		}
	}
	add(m.File)
	for _, fn := range m.Functions {
		add(fn.File)
		for _, le := range fn.Lines {
			add(le.File)
		}
	}
	return files
}

// writeLineProgram appends a version 2 line program covering every function
// of m, starting at address pc.
func writeLineProgram(line *bytes.Buffer, m ModuleDebugInfo, files []string, pc uint64) {
	hdr := &bytes.Buffer{}
	hdr.WriteByte(1)   // minimum_instruction_length
	hdr.WriteByte(1)   // default_is_stmt
	hdr.WriteByte(251) // line_base = -5
	hdr.WriteByte(14)  // line_range
	hdr.WriteByte(lineOpcodeBase)
	hdr.Write(standardOpcodeLengths[:])

	dirIndex := map[string]uint64{}
	var dirs []string
	for _, f := range files {
		d := filepath.ToSlash(filepath.Dir(f))
		if d == "." {
			continue
		}
		if _, ok := dirIndex[d]; !ok {
			dirs = append(dirs, d)
			dirIndex[d] = uint64(len(dirs))
		}
	}
	for _, d := range dirs {
		hdr.WriteString(d)
		hdr.WriteByte(0)
	}
	hdr.WriteByte(0)
	for _, f := range files {
		hdr.WriteString(filepath.Base(f))
		hdr.WriteByte(0)
		uleb128(hdr, dirIndex[filepath.ToSlash(filepath.Dir(f))])
		uleb128(hdr, 0) // mtime
		uleb128(hdr, 0) // length
	}
	hdr.WriteByte(0)

	body := &bytes.Buffer{}
	binary.Write(body, binary.LittleEndian, uint16(2))
	binary.Write(body, binary.LittleEndian, uint32(hdr.Len()))
	body.Write(hdr.Bytes())

	body.WriteByte(0)
	uleb128(body, 9)
	body.WriteByte(lneSetAddress)
	binary.Write(body, binary.LittleEndian, pc)

	currFile, currLine, pending := 1, 1, uint64(0)
	for _, fn := range m.Functions {
		for _, le := range fn.Lines {
			if le.Line > 0 {
				if pending > 0 {
					body.WriteByte(lnsAdvancePC)
					uleb128(body, pending)
					pending = 0
				}
				if fi := indexOf(files, le.File) + 1; fi > 0 && fi != currFile {
					body.WriteByte(lnsSetFile)
					uleb128(body, uint64(fi))
					currFile = fi
				}
				body.WriteByte(lnsSetColumn)
				uleb128(body, uint64(max(1, le.Column)))
				if delta := le.Line - currLine; delta != 0 {
					body.WriteByte(lnsAdvanceLine)
					sleb128(body, int64(delta))
					currLine = le.Line
				}
				body.WriteByte(lnsCopy)
			}
			pending += InstrSize
		}
		if len(fn.Lines) == 0 {
			pending += InstrSize
		}
	}
	if pending > 0 {
		body.WriteByte(lnsAdvancePC)
		uleb128(body, pending)
	}
	body.WriteByte(0)
	body.WriteByte(1)
	body.WriteByte(lneEndSequence)

	binary.Write(line, binary.LittleEndian, uint32(body.Len()))
	line.Write(body.Bytes())
}

func compositeSize(typ string) int {
	if typ == "String" {
		return stringStructBytes
	}
	return 8
}

// mapBaseType returns DWARF base type encoding and size for a given simple type name.
func mapBaseType(name string) (enc byte, size byte, ok bool) {
	switch name {
	case "Int", "Int64":
		return 0x05, 8, true // DW_ATE_signed
	case "Int32":
		return 0x05, 4, true
	case "UInt64":
		return 0x07, 8, true // DW_ATE_unsigned
	case "Double", "Float64":
		return 0x04, 8, true // DW_ATE_float
	case "Float", "Float32":
		return 0x04, 4, true
	case "Bool":
		return 0x02, 1, true // DW_ATE_boolean
	default:
		return 0, 0, false
	}
}

// uleb128 encodes an unsigned integer in LEB128 format.
func uleb128(b *bytes.Buffer, v uint64) {
	for {
		c := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			c |= 0x80
		}
		b.WriteByte(c)
		if v == 0 {
			break
		}
	}
}

// sleb128 encodes a signed integer in LEB128 format.
func sleb128(b *bytes.Buffer, v int64) {
	for {
		c := byte(v & 0x7f)
		sign := (c & 0x40) != 0
		v >>= 7
		done := (v == 0 && !sign) || (v == -1 && sign)
		if !done {
			c |= 0x80
		}
		b.WriteByte(c)
		if done {
			break
		}
	}
}

func indexOf(ss []string, s string) int {
	for i, v := range ss {
		if v == s {
			return i
		}
	}
	return -1
}
