package debug

import (
	"encoding/json"
	"errors"
	"sort"
)

// SourceMap is a compact mapping from generated code back to source locations.
type SourceMap struct {
	Version   int              `json:"version"`
	Files     []string         `json:"files"`
	Functions []FunctionRanges `json:"functions"`
}

// FunctionRanges captures the source line ranges that belong to a function per file.
type FunctionRanges struct {
	Module   string          `json:"module"`
	Name     string          `json:"name"`
	Mappings []FileLineRange `json:"mappings"`
}

// FileLineRange is an inclusive line range within a specific file.
type FileLineRange struct {
	File      string `json:"file"`
	StartLine int    `json:"start_line"`
	StartCol  int    `json:"start_col"`
	EndLine   int    `json:"end_line"`
	EndCol    int    `json:"end_col"`
}

// GenerateSourceMap builds a SourceMap from the line entries of info.
// Entries in artificial scopes are not mapped.
func GenerateSourceMap(info ProgramDebugInfo) (SourceMap, error) {
	if len(info.Modules) == 0 {
		return SourceMap{}, errors.New("no modules")
	}
	filesSet := map[string]struct{}{}
	out := SourceMap{Version: 1}

	for _, m := range info.Modules {
		for _, fn := range m.Functions {
			byFile := map[string]FileLineRange{}
			for _, le := range fn.Lines {
				if le.Line == 0 {
					continue
				}
				flr, ok := byFile[le.File]
				if !ok {
					flr = FileLineRange{File: le.File, StartLine: le.Line, StartCol: le.Column, EndLine: le.Line, EndCol: le.Column}
				} else {
					if le.Line < flr.StartLine || (le.Line == flr.StartLine && le.Column < flr.StartCol) {
						flr.StartLine, flr.StartCol = le.Line, le.Column
					}
					if le.Line > flr.EndLine || (le.Line == flr.EndLine && le.Column > flr.EndCol) {
						flr.EndLine, flr.EndCol = le.Line, le.Column
					}
				}
				byFile[le.File] = flr
				filesSet[le.File] = struct{}{}
			}
			if len(byFile) == 0 {
				continue
			}
			files := make([]string, 0, len(byFile))
			for f := range byFile {
				files = append(files, f)
			}
			sort.Strings(files)
			maps := make([]FileLineRange, 0, len(files))
			for _, f := range files {
				maps = append(maps, byFile[f])
			}
			out.Functions = append(out.Functions, FunctionRanges{Module: m.ModuleName, Name: fn.Name, Mappings: maps})
		}
	}

	files := make([]string, 0, len(filesSet))
	for f := range filesSet {
		files = append(files, f)
	}
	sort.Strings(files)
	out.Files = files
	return out, nil
}

// SerializeSourceMap returns canonical JSON for the SourceMap.
func SerializeSourceMap(sm SourceMap) ([]byte, error) {
	return json.MarshalIndent(sm, "", "  ")
}
