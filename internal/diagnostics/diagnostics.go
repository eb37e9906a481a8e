// Package diagnostics carries compile-time errors and warnings produced while
// building the pattern matrix, resolving input types and lowering switches.
// Every diagnostic has a source location; none is recoverable at runtime.
package diagnostics

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/orizon-lang/patlower/internal/position"
)

// DiagnosticLevel represents the severity level of a diagnostic
type DiagnosticLevel int

const (
	DiagnosticError DiagnosticLevel = iota
	DiagnosticWarning
	DiagnosticNote
)

func (dl DiagnosticLevel) String() string {
	switch dl {
	case DiagnosticError:
		return "error"
	case DiagnosticWarning:
		return "warning"
	case DiagnosticNote:
		return "note"
	default:
		return "unknown"
	}
}

// DiagnosticCategory represents the category of diagnostic
type DiagnosticCategory int

const (
	// Pattern structure
	CategoryInconsistentBindingSet DiagnosticCategory = iota
	CategoryDuplicateBinding
	CategoryNonExhaustiveMatch
	CategoryUnreachablePattern

	// Type resolution of the input
	CategoryTypeMismatch
	CategoryUnknownCase
	CategoryUnresolvedName

	// Malformed interchange input
	CategoryInvalidInput
)

func (dc DiagnosticCategory) String() string {
	switch dc {
	case CategoryInconsistentBindingSet:
		return "inconsistent-binding-set"
	case CategoryDuplicateBinding:
		return "duplicate-binding"
	case CategoryNonExhaustiveMatch:
		return "non-exhaustive-match"
	case CategoryUnreachablePattern:
		return "unreachable-pattern"
	case CategoryTypeMismatch:
		return "type-mismatch"
	case CategoryUnknownCase:
		return "unknown-case"
	case CategoryUnresolvedName:
		return "unresolved-name"
	case CategoryInvalidInput:
		return "invalid-input"
	default:
		return "unknown"
	}
}

// Code returns the stable diagnostic code for the category.
func (dc DiagnosticCategory) Code() string {
	switch dc {
	case CategoryUnreachablePattern:
		return fmt.Sprintf("W%03d", int(dc)+1)
	default:
		return fmt.Sprintf("E%03d", int(dc)+1)
	}
}

// RelatedInformation provides additional context for a diagnostic
type RelatedInformation struct {
	Message  string
	Location position.Span
}

// Diagnostic is a single compile-time message.
type Diagnostic struct {
	Level       DiagnosticLevel
	Category    DiagnosticCategory
	Code        string
	Message     string
	Span        position.Span
	RelatedInfo []RelatedInformation
}

// Error formats the diagnostic the way compilers print one-line messages.
func (d Diagnostic) Error() string {
	var b strings.Builder
	if d.Span.Start.IsValid() {
		b.WriteString(d.Span.Start.String())
		b.WriteString(": ")
	}
	fmt.Fprintf(&b, "%s: %s [%s]", d.Level, d.Message, d.Code)
	return b.String()
}

// List is an ordered collection of diagnostics.
type List []Diagnostic

// Add appends d.
func (l *List) Add(d Diagnostic) { *l = append(*l, d) }

// Append appends every diagnostic of other.
func (l *List) Append(other List) { *l = append(*l, other...) }

// HasErrors reports whether any diagnostic is an error.
func (l List) HasErrors() bool {
	for _, d := range l {
		if d.Level == DiagnosticError {
			return true
		}
	}
	return false
}

// ErrorCount returns the number of errors.
func (l List) ErrorCount() int {
	n := 0
	for _, d := range l {
		if d.Level == DiagnosticError {
			n++
		}
	}
	return n
}

// Filter returns the diagnostics of category c.
func (l List) Filter(c DiagnosticCategory) List {
	var out List
	for _, d := range l {
		if d.Category == c {
			out = append(out, d)
		}
	}
	return out
}

// Sort orders diagnostics by position, keeping insertion order for ties.
func (l List) Sort() {
	sort.SliceStable(l, func(i, j int) bool {
		return l[i].Span.Start.Less(l[j].Span.Start)
	})
}

// Err returns nil when the list has no errors, otherwise an error wrapping it.
func (l List) Err() error {
	if !l.HasErrors() {
		return nil
	}
	return &ListError{List: l}
}

// ListError adapts a List with errors to the error interface.
type ListError struct {
	List List
}

func (e *ListError) Error() string {
	var first Diagnostic
	for _, d := range e.List {
		if d.Level == DiagnosticError {
			first = d
			break
		}
	}
	if n := e.List.ErrorCount(); n > 1 {
		return fmt.Sprintf("%s (and %d more errors)", first.Error(), n-1)
	}
	return first.Error()
}

// Render writes each diagnostic followed by a source excerpt when the file is
// present in sm.
func Render(w io.Writer, l List, sm *position.SourceMap, color bool) error {
	h := position.NewSpanHighlighter(sm, color)
	for _, d := range l {
		if _, err := fmt.Fprintln(w, d.Error()); err != nil {
			return err
		}
		if snippet := h.HighlightSpan(d.Span); snippet != "" {
			if _, err := io.WriteString(w, snippet); err != nil {
				return err
			}
		}
		for _, r := range d.RelatedInfo {
			if _, err := fmt.Fprintf(w, "%s: note: %s\n", r.Location.Start, r.Message); err != nil {
				return err
			}
		}
	}
	return nil
}
