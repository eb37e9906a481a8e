// Package diagnostics - Diagnostic builder for easy creation of diagnostics.
package diagnostics

import (
	"fmt"

	"github.com/orizon-lang/patlower/internal/position"
)

// DiagnosticBuilder provides a fluent interface for building diagnostics.
type DiagnosticBuilder struct {
	diagnostic Diagnostic
}

// NewDiagnosticBuilder creates a new diagnostic builder for category c. The
// level defaults to error.
func NewDiagnosticBuilder(c DiagnosticCategory) *DiagnosticBuilder {
	return &DiagnosticBuilder{
		diagnostic: Diagnostic{
			Level:    DiagnosticError,
			Category: c,
			Code:     c.Code(),
		},
	}
}

// Warning makes the diagnostic a warning.
func (db *DiagnosticBuilder) Warning() *DiagnosticBuilder {
	db.diagnostic.Level = DiagnosticWarning

	return db
}

// WithMessagef sets the main diagnostic message with formatting.
func (db *DiagnosticBuilder) WithMessagef(format string, args ...interface{}) *DiagnosticBuilder {
	db.diagnostic.Message = fmt.Sprintf(format, args...)

	return db
}

// WithSpan sets the source location span.
func (db *DiagnosticBuilder) WithSpan(span position.Span) *DiagnosticBuilder {
	db.diagnostic.Span = span

	return db
}

// At sets a point span at pos.
func (db *DiagnosticBuilder) At(pos position.Position) *DiagnosticBuilder {
	db.diagnostic.Span = position.PointSpan(pos)

	return db
}

// WithRelated attaches a note at another location.
func (db *DiagnosticBuilder) WithRelated(pos position.Position, format string, args ...interface{}) *DiagnosticBuilder {
	db.diagnostic.RelatedInfo = append(db.diagnostic.RelatedInfo, RelatedInformation{
		Message:  fmt.Sprintf(format, args...),
		Location: position.PointSpan(pos),
	})

	return db
}

// Build returns the diagnostic.
func (db *DiagnosticBuilder) Build() Diagnostic {
	return db.diagnostic
}
