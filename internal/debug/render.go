package debug

import (
	"bufio"
	"fmt"
	"io"
	"path/filepath"

	"github.com/orizon-lang/patlower/internal/mir"
)

// metadata numbers the nodes of one module for rendering.
type metadata struct {
	next  int
	lines []string

	file  int
	types map[string]int
	// per function: scope, variable and location node numbers
	scopes    [][]int
	variables [][]int
	locations [][]int
}

func (md *metadata) add(format string, args ...interface{}) int {
	n := md.next
	md.next++
	md.lines = append(md.lines, fmt.Sprintf("!%d = ", n)+fmt.Sprintf(format, args...))
	return n
}

func (md *metadata) typeNode(key string) int {
	if n, ok := md.types[key]; ok {
		return n
	}
	var n int
	if enc, size, ok := mapBaseType(key); ok {
		n = md.add("!DIBasicType(name: %q, size: %d, encoding: %s)", key, int(size)*8, encodingName(enc))
	} else {
		n = md.add("!DICompositeType(tag: DW_TAG_structure_type, name: %q, file: !%d)", key, md.file)
	}
	md.types[key] = n
	return n
}

func encodingName(enc byte) string {
	switch enc {
	case 0x02:
		return "DW_ATE_boolean"
	case 0x04:
		return "DW_ATE_float"
	case 0x07:
		return "DW_ATE_unsigned"
	case 0x08:
		return "DW_ATE_unsigned_char"
	default:
		return "DW_ATE_signed"
	}
}

// RenderMetadata writes mod in an LLVM-flavoured textual form: a define per
// function whose instructions carry !dbg attachments, debug declare and value
// calls for bound variables, and the metadata list describing the compile
// unit, subprograms, lexical blocks, local variables and locations. info must
// come from annotating mod.
func RenderMetadata(w io.Writer, mod *mir.Module, info ModuleDebugInfo) error {
	if mod == nil {
		return fmt.Errorf("nil module")
	}
	if len(info.Functions) != len(mod.Functions) {
		return fmt.Errorf("debug info describes %d functions, module has %d", len(info.Functions), len(mod.Functions))
	}

	file := mod.File
	if file == "" {
		file = info.File
	}
	md := &metadata{types: map[string]int{}}
	cu := md.add("distinct !DICompileUnit(language: DW_LANG_Swift, file: !%d, producer: \"patlower\", isOptimized: false, emissionKind: FullDebug)", 1)
	md.file = md.add("!DIFile(filename: %q, directory: %q)", filepath.Base(file), filepath.Dir(file))

	for _, fi := range info.Functions {
		scopes := make([]int, len(fi.Scopes))
		for _, s := range fi.Scopes {
			switch s.Kind {
			case ScopeSubprogram:
				scopes[s.ID] = md.add("distinct !DISubprogram(name: %q, scope: !%d, file: !%d, line: %d, scopeLine: %d, unit: !%d)",
					fi.Name, md.file, md.file, s.Line, s.Line, cu)
			default:
				scopes[s.ID] = md.add("distinct !DILexicalBlock(scope: !%d, file: !%d, line: %d, column: %d)",
					scopes[s.Parent], md.file, s.Line, s.Column)
			}
		}
		md.scopes = append(md.scopes, scopes)

		vars := make([]int, len(fi.Variables))
		for i, v := range fi.Variables {
			t := md.typeNode(v.Type)
			if v.Arg > 0 {
				vars[i] = md.add("!DILocalVariable(name: %q, arg: %d, scope: !%d, file: !%d, line: %d, type: !%d)",
					v.Name, v.Arg, scopes[v.Scope], md.file, v.Line, t)
			} else {
				vars[i] = md.add("!DILocalVariable(name: %q, scope: !%d, file: !%d, line: %d, type: !%d)",
					v.Name, scopes[v.Scope], md.file, v.Line, t)
			}
		}
		md.variables = append(md.variables, vars)

		locs := make([]int, len(fi.Locations))
		for i, l := range fi.Locations {
			locs[i] = md.add("!DILocation(line: %d, column: %d, scope: !%d)", l.Line, l.Column, scopes[l.Scope])
		}
		md.locations = append(md.locations, locs)
	}

	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "; ModuleID = '%s'\n", mod.Name)
	fmt.Fprintf(bw, "source_filename = %q\n", file)

	for i, fn := range mod.Functions {
		scopes, vars, locs := md.scopes[i], md.variables[i], md.locations[i]
		fmt.Fprintf(bw, "\ndefine void @%s(", fn.Name)
		for j, p := range fn.Parameters {
			if j > 0 {
				bw.WriteString(", ")
			}
			fmt.Fprintf(bw, "%s %s", irType(p.Class), p.Ref)
		}
		sp := 0
		if len(scopes) > 0 {
			sp = scopes[0]
		}
		fmt.Fprintf(bw, ") !dbg !%d {\n", sp)

		for _, bb := range fn.Blocks {
			fmt.Fprintf(bw, "%s:\n", bb.Name)
			for _, in := range bb.Instr {
				bw.WriteString("  ")
				switch op := in.Op.(type) {
				case mir.DbgDeclare:
					fmt.Fprintf(bw, "call void @llvm.dbg.declare(metadata ptr %s, metadata !%d, metadata !DIExpression())", op.Addr, vars[op.Var])
				case mir.DbgValue:
					fmt.Fprintf(bw, "call void @llvm.dbg.value(metadata ptr %s, metadata !%d, metadata !DIExpression(DW_OP_deref))", op.Addr, vars[op.Var])
				default:
					if s, ok := in.Op.(fmt.Stringer); ok {
						bw.WriteString(s.String())
					}
				}
				if in.Dbg > 0 {
					fmt.Fprintf(bw, ", !dbg !%d", locs[in.Dbg-1])
				}
				bw.WriteByte('\n')
			}
		}
		bw.WriteString("}\n")
	}

	bw.WriteString("\ndeclare void @llvm.dbg.declare(metadata, metadata, metadata)\n")
	bw.WriteString("declare void @llvm.dbg.value(metadata, metadata, metadata)\n\n")
	fmt.Fprintf(bw, "!llvm.dbg.cu = !{!%d}\n", cu)
	for _, l := range md.lines {
		bw.WriteString(l)
		bw.WriteByte('\n')
	}
	return bw.Flush()
}

func irType(c mir.ValueClass) string {
	switch c {
	case mir.ClassInt:
		return "i64"
	case mir.ClassFloat:
		return "double"
	default:
		return "ptr"
	}
}
