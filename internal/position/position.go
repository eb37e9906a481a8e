// Package position provides source position tracking for the lowering
// pipeline. Positions flow from the interchange input into MIR instructions,
// debug locations, and diagnostics.
package position

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Position is a line and column in a source file. The zero Position stands
// for compiler-generated code with no source.
type Position struct {
	Filename string
	Line     int // 1-based
	Column   int // 1-based
}

// At builds a position.
func At(filename string, line, column int) Position {
	return Position{Filename: filename, Line: line, Column: column}
}

// IsValid reports whether p points at a source character.
func (p Position) IsValid() bool { return p.Line > 0 && p.Column > 0 }

func (p Position) String() string {
	if p.Filename == "" {
		return fmt.Sprintf("%d:%d", p.Line, p.Column)
	}
	return fmt.Sprintf("%s:%d:%d", filepath.Base(p.Filename), p.Line, p.Column)
}

// Less orders positions by file, line and column.
func (p Position) Less(q Position) bool {
	switch {
	case p.Filename != q.Filename:
		return p.Filename < q.Filename
	case p.Line != q.Line:
		return p.Line < q.Line
	default:
		return p.Column < q.Column
	}
}

// Before is Less, read as source order.
func (p Position) Before(q Position) bool { return p.Less(q) }

// Span is the source range [Start, End).
type Span struct {
	Start Position
	End   Position
}

// PointSpan returns an empty span located at p.
func PointSpan(p Position) Span { return Span{Start: p, End: p} }

// IsValid reports whether both ends are valid, in one file and in order.
func (s Span) IsValid() bool {
	return s.Start.IsValid() && s.End.IsValid() &&
		s.Start.Filename == s.End.Filename && !s.End.Less(s.Start)
}

func (s Span) String() string {
	end := fmt.Sprintf("%d:%d", s.End.Line, s.End.Column)
	if s.End.Line == s.Start.Line {
		end = fmt.Sprint(s.End.Column)
	}
	return s.Start.String() + "-" + end
}

// SourceFile holds the lines of one source file.
type SourceFile struct {
	Filename string
	lines    []string
}

// GetLine returns line n (1-based) without its line terminator, or "" when
// the file has no such line.
func (sf *SourceFile) GetLine(n int) string {
	if n < 1 || n > len(sf.lines) {
		return ""
	}
	return strings.TrimSuffix(sf.lines[n-1], "\r")
}

// SourceMap holds the source files diagnostics may quote. A nil *SourceMap
// holds no files.
type SourceMap struct {
	files map[string]*SourceFile
}

func NewSourceMap() *SourceMap {
	return &SourceMap{files: map[string]*SourceFile{}}
}

// AddFile registers content under filename, replacing an earlier file of the
// same name.
func (sm *SourceMap) AddFile(filename, content string) *SourceFile {
	f := &SourceFile{Filename: filename, lines: strings.Split(content, "\n")}
	sm.files[filename] = f
	return f
}

// GetFile returns the file registered under filename, or nil.
func (sm *SourceMap) GetFile(filename string) *SourceFile {
	if sm == nil {
		return nil
	}
	return sm.files[filename]
}
