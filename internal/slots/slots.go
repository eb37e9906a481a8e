// Package slots assigns storage to pattern-bound names. Within one case
// clause every distinct (name, type) pair gets exactly one Slot; alternatives
// binding the same name at the same type share it, and a name bound at two
// types gets two Slots. Slots never cross clause boundaries.
package slots

import (
	"fmt"

	"github.com/orizon-lang/patlower/internal/hir"
	"github.com/orizon-lang/patlower/internal/matchtree"
	"github.com/orizon-lang/patlower/internal/position"
)

// Slot is one shadow slot.
type Slot struct {
	ID     int // dense across the switch, in allocation order
	Clause int
	Name   string
	Type   *hir.Type

	// Decl is the first textual occurrence of the binding in its group.
	Decl position.Position

	// Occurrences lists every binding site sharing the slot, in source order.
	Occurrences []position.Position
}

// Key is the (name, type) pair the slot is allocated for.
func (s *Slot) Key() string { return s.Name + ":" + s.Type.Key() }

func (s *Slot) String() string {
	return fmt.Sprintf("slot%d(%s: %s)", s.ID, s.Name, s.Type.Key())
}

// Table is the slot assignment of one switch statement.
type Table struct {
	clauses [][]*Slot
	byKey   []map[string]*Slot
	// perAlt[clause][alt] lists the slots of each binding of the row, in the
	// row's binding order.
	perAlt [][][]*Slot
}

// Allocate assigns slots for every clause of m. The result depends only on the
// structure of the clauses.
func Allocate(m *matchtree.Matrix) *Table {
	n := 0
	for _, r := range m.Rows {
		if r.Clause+1 > n {
			n = r.Clause + 1
		}
	}
	t := &Table{
		clauses: make([][]*Slot, n),
		byKey:   make([]map[string]*Slot, n),
		perAlt:  make([][][]*Slot, n),
	}
	for j := range t.byKey {
		t.byKey[j] = map[string]*Slot{}
	}

	nextID := 0
	for _, r := range m.Rows {
		j := r.Clause
		alt := make([]*Slot, len(r.Bindings))
		for k, b := range r.Bindings {
			key := b.Name + ":" + b.Type.Key()
			s, ok := t.byKey[j][key]
			if !ok {
				s = &Slot{ID: nextID, Clause: j, Name: b.Name, Type: b.Type, Decl: b.Pos}
				nextID++
				t.byKey[j][key] = s
				t.clauses[j] = append(t.clauses[j], s)
			}
			s.Occurrences = append(s.Occurrences, b.Pos)
			if b.Pos.IsValid() && (!s.Decl.IsValid() || b.Pos.Before(s.Decl)) {
				s.Decl = b.Pos
			}
			alt[k] = s
		}
		for len(t.perAlt[j]) <= r.Alt {
			t.perAlt[j] = append(t.perAlt[j], nil)
		}
		t.perAlt[j][r.Alt] = alt
	}
	return t
}

// Clause returns the slots of clause j in first-occurrence order.
func (t *Table) Clause(j int) []*Slot {
	if j < 0 || j >= len(t.clauses) {
		return nil
	}
	return t.clauses[j]
}

// Lookup returns the slot of clause j for name at the type with key typeKey.
func (t *Table) Lookup(j int, name, typeKey string) (*Slot, bool) {
	if j < 0 || j >= len(t.byKey) {
		return nil, false
	}
	s, ok := t.byKey[j][name+":"+typeKey]
	return s, ok
}

// ForAlternative returns the slots alternative i of clause j writes, parallel
// to that row's bindings.
func (t *Table) ForAlternative(j, i int) []*Slot {
	if j < 0 || j >= len(t.perAlt) || i < 0 || i >= len(t.perAlt[j]) {
		return nil
	}
	return t.perAlt[j][i]
}

// Len returns the number of slots across all clauses.
func (t *Table) Len() int {
	n := 0
	for _, c := range t.clauses {
		n += len(c)
	}
	return n
}
