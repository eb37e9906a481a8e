package hir

import (
	"fmt"
	"strings"
)

// TypeKind classifies resolved types.
type TypeKind int

const (
	KindInvalid TypeKind = iota
	KindInt
	KindFloat
	KindBool
	KindString
	KindEnum
	KindTuple
)

func (k TypeKind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindString:
		return "string"
	case KindEnum:
		return "enum"
	case KindTuple:
		return "tuple"
	default:
		return "invalid"
	}
}

// Type is a resolved type. Enum types are nominal; tuple types are structural.
type Type struct {
	Name  string
	Kind  TypeKind
	Cases []*EnumCase // KindEnum
	Elems []*Type     // KindTuple
}

// EnumCase is one variant of an enum type.
type EnumCase struct {
	Name    string
	Payload []*Type
}

var (
	IntType    = &Type{Name: "Int", Kind: KindInt}
	DoubleType = &Type{Name: "Double", Kind: KindFloat}
	BoolType   = &Type{Name: "Bool", Kind: KindBool}
	StringType = &Type{Name: "String", Kind: KindString}
)

// Builtin returns the builtin type with the given name, or nil.
func Builtin(name string) *Type {
	switch name {
	case "Int", "Int64":
		return IntType
	case "Double", "Float", "Float64":
		return DoubleType
	case "Bool":
		return BoolType
	case "String":
		return StringType
	}
	return nil
}

// TupleOf builds a tuple type.
func TupleOf(elems ...*Type) *Type {
	return &Type{Kind: KindTuple, Elems: elems}
}

// Key is the canonical spelling of the type. Two types are the same type
// exactly when their keys are equal.
func (t *Type) Key() string {
	if t == nil {
		return "<nil>"
	}
	if t.Kind != KindTuple {
		return t.Name
	}
	parts := make([]string, len(t.Elems))
	for i, e := range t.Elems {
		parts[i] = e.Key()
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

func (t *Type) String() string { return t.Key() }

// Same reports whether t and u denote the same type.
func (t *Type) Same(u *Type) bool {
	if t == nil || u == nil {
		return t == u
	}
	return t.Key() == u.Key()
}

// CaseIndex returns the index of the enum case called name, or -1.
func (t *Type) CaseIndex(name string) int {
	for i, c := range t.Cases {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// Refcounted reports whether values of t own heap storage and must be
// copied into and destroyed out of binding slots. An enum that contains
// itself, directly or through other enums, is stored indirectly and so is
// refcounted.
func (t *Type) Refcounted() bool {
	return t.refcounted(map[*Type]bool{})
}

// refcounted walks t; enclosing holds the enums currently being expanded.
func (t *Type) refcounted(enclosing map[*Type]bool) bool {
	if t == nil {
		return false
	}
	switch t.Kind {
	case KindString:
		return true
	case KindEnum:
		if enclosing[t] {
			return true
		}
		enclosing[t] = true
		defer delete(enclosing, t)
		for _, c := range t.Cases {
			for _, p := range c.Payload {
				if p.refcounted(enclosing) {
					return true
				}
			}
		}
	case KindTuple:
		for _, e := range t.Elems {
			if e.refcounted(enclosing) {
				return true
			}
		}
	}
	return false
}

// ParseTypeName resolves a type spelling against named enum types. Tuple
// spellings such as "(Double, Double)" are accepted.
func ParseTypeName(s string, named map[string]*Type) (*Type, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "(") {
		if !strings.HasSuffix(s, ")") {
			return nil, fmt.Errorf("unbalanced tuple type %q", s)
		}
		inner := s[1 : len(s)-1]
		var elems []*Type
		for _, part := range splitTopLevel(inner) {
			et, err := ParseTypeName(part, named)
			if err != nil {
				return nil, err
			}
			elems = append(elems, et)
		}
		if len(elems) < 2 {
			return nil, fmt.Errorf("tuple type %q needs at least two elements", s)
		}
		return TupleOf(elems...), nil
	}
	if t := Builtin(s); t != nil {
		return t, nil
	}
	if t, ok := named[s]; ok {
		return t, nil
	}
	return nil, fmt.Errorf("unknown type %q", s)
}

func splitTopLevel(s string) []string {
	var parts []string
	depth, start := 0, 0
	for i, r := range s {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	if strings.TrimSpace(s[start:]) != "" {
		parts = append(parts, s[start:])
	}
	return parts
}
