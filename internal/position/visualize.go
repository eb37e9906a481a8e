package position

import (
	"fmt"
	"strings"
)

const (
	ansiRed   = "\x1b[31;1m"
	ansiReset = "\x1b[0m"
)

// SpanHighlighter renders source lines with a caret line under a span.
type SpanHighlighter struct {
	sourceMap *SourceMap
	color     bool
}

func NewSpanHighlighter(sourceMap *SourceMap, color bool) *SpanHighlighter {
	return &SpanHighlighter{sourceMap: sourceMap, color: color}
}

// HighlightSpan returns the lines covered by span, each followed by a caret
// line. It returns "" when the file is not registered. An empty span gets a
// single caret.
func (sh *SpanHighlighter) HighlightSpan(span Span) string {
	file := sh.sourceMap.GetFile(span.Start.Filename)
	if file == nil || !span.Start.IsValid() {
		return ""
	}
	end := span.End
	if !span.IsValid() {
		end = span.Start
	}

	var b strings.Builder
	for n := span.Start.Line; n <= end.Line; n++ {
		line := []rune(file.GetLine(n))
		from, to := 1, len(line)+1
		if n == span.Start.Line {
			from = span.Start.Column
		}
		if n == end.Line {
			to = end.Column
		}

		fmt.Fprintf(&b, "%4d | %s\n     | ", n, string(line))
		// Tabs are copied so the carets line up under the source text.
		for i := 1; i < from; i++ {
			if i <= len(line) && line[i-1] == '\t' {
				b.WriteByte('\t')
			} else {
				b.WriteByte(' ')
			}
		}
		if sh.color {
			b.WriteString(ansiRed)
		}
		b.WriteString(strings.Repeat("^", max(to-from, 1)))
		if sh.color {
			b.WriteString(ansiReset)
		}
		b.WriteByte('\n')
	}
	return b.String()
}
