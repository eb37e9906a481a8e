// Package debug attaches debug scopes, variables and locations to lowered
// MIR and renders them as a JSON side-table, LLVM-style metadata, DWARF
// sections and source maps.
package debug

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/orizon-lang/patlower/internal/mir"
	"github.com/orizon-lang/patlower/internal/position"
)

// ScopeKind classifies lexical scopes.
type ScopeKind int

const (
	ScopeSubprogram ScopeKind = iota
	ScopeSwitch
	ScopeGuard
	// ScopeArtificial holds instructions without a source position.
	ScopeArtificial
)

func (k ScopeKind) String() string {
	switch k {
	case ScopeSwitch:
		return "switch"
	case ScopeGuard:
		return "guard"
	case ScopeArtificial:
		return "artificial"
	default:
		return "subprogram"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k ScopeKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// Scope is one lexical scope. Parent is an index into the owning function's
// Scopes, -1 for the subprogram.
type Scope struct {
	ID       int       `json:"id"`
	Kind     ScopeKind `json:"kind"`
	Parent   int       `json:"parent"`
	Function string    `json:"function"`
	Line     int       `json:"line"`
	Column   int       `json:"column"`
}

// Variable is a source-level variable. Slots lists the storage addresses the
// variable is bound to, in binding order; the first gets a declare, the rest
// value rebindings.
type Variable struct {
	ID     int      `json:"id"`
	Name   string   `json:"name"`
	Type   string   `json:"type"`
	Scope  int      `json:"scope"`
	File   string   `json:"file"`
	Line   int      `json:"line"`
	Column int      `json:"column"`
	Arg    int      `json:"arg,omitempty"`
	Slots  []string `json:"slots"`
}

// Location is a uniqued debug location.
type Location struct {
	ID     int `json:"id"`
	Line   int `json:"line"`
	Column int `json:"column"`
	Scope  int `json:"scope"`
}

// LineEntry maps one instruction, in block order, to its source location.
type LineEntry struct {
	File     string `json:"file"`
	Line     int    `json:"line"`
	Column   int    `json:"column"`
	Scope    int    `json:"scope"`
	Location int    `json:"location"`
}

// FunctionInfo is the debug description of one function.
type FunctionInfo struct {
	Name      string      `json:"name"`
	File      string      `json:"file"`
	Line      int         `json:"line"`
	Column    int         `json:"column"`
	EndLine   int         `json:"end_line"`
	Scopes    []Scope     `json:"scopes"`
	Variables []Variable  `json:"variables"`
	Locations []Location  `json:"locations"`
	Lines     []LineEntry `json:"lines"`
}

// ModuleDebugInfo aggregates module-level debug info.
type ModuleDebugInfo struct {
	ModuleName string         `json:"module_name"`
	File       string         `json:"file"`
	Functions  []FunctionInfo `json:"functions"`
}

// ProgramDebugInfo is the top-level debug info artifact.
type ProgramDebugInfo struct {
	BuildID     string            `json:"build_id"`
	GeneratedAt time.Time         `json:"generated_at"`
	Modules     []ModuleDebugInfo `json:"modules"`
}

// ShadowPolicy selects how pattern bindings map to debug variables.
type ShadowPolicy int

const (
	// ShadowPerName emits one variable per (switch scope, name, type); slots
	// of later clauses rebind it.
	ShadowPerName ShadowPolicy = iota
	// ShadowPerClause emits one variable per slot.
	ShadowPerClause
)

// ParseShadowPolicy maps "per-name" and "per-clause" to a policy.
func ParseShadowPolicy(s string) (ShadowPolicy, error) {
	switch s {
	case "", "per-name":
		return ShadowPerName, nil
	case "per-clause":
		return ShadowPerClause, nil
	}
	return 0, fmt.Errorf("unknown shadow policy %q", s)
}

func (p ShadowPolicy) String() string {
	if p == ShadowPerClause {
		return "per-clause"
	}
	return "per-name"
}

// Emitter builds debug information from lowered MIR.
type Emitter struct {
	Policy ShadowPolicy

	// Now and NewBuildID may be replaced for reproducible output.
	Now        func() time.Time
	NewBuildID func() uuid.UUID
}

func NewEmitter() *Emitter {
	return &Emitter{
		Now:        func() time.Time { return time.Now().UTC() },
		NewBuildID: uuid.New,
	}
}

// Emit annotates every function of mod and collects the result.
func (e *Emitter) Emit(mod *mir.Module) (ProgramDebugInfo, error) {
	if mod == nil {
		return ProgramDebugInfo{}, errors.New("nil module")
	}
	out := ProgramDebugInfo{
		BuildID:     e.NewBuildID().String(),
		GeneratedAt: e.Now(),
	}
	mdi := ModuleDebugInfo{ModuleName: mod.Name, File: mod.File}
	for _, fn := range mod.Functions {
		fi, err := e.Annotate(fn)
		if err != nil {
			return ProgramDebugInfo{}, fmt.Errorf("function %s: %w", fn.Name, err)
		}
		mdi.Functions = append(mdi.Functions, *fi)
	}
	out.Modules = append(out.Modules, mdi)
	return out, nil
}

// Serialize returns canonical JSON for the debug info.
func Serialize(info ProgramDebugInfo) ([]byte, error) {
	return json.MarshalIndent(info, "", "  ")
}

// ====== Annotation ======

type varKey struct {
	scope int
	name  string
	typ   string
}

type annotator struct {
	policy ShadowPolicy
	fn     *mir.Function
	info   *FunctionInfo

	// regionScope maps MIR regions to scopes. A region is one syntactic
	// construct, so it is also the uniquing key: two constructs never share a
	// scope even when their positions coincide.
	regionScope []int
	artificial  map[int]int
	locIndex    map[Location]int
}

// Annotate builds the scopes and variables of fn, inserts debug declare and
// value instructions after the allocas of bound storage, and assigns a debug
// location to every instruction. fn is modified in place.
func (e *Emitter) Annotate(fn *mir.Function) (*FunctionInfo, error) {
	if fn == nil {
		return nil, errors.New("nil function")
	}
	if len(fn.Regions) == 0 {
		return nil, errors.New("function has no regions")
	}
	for _, bb := range fn.Blocks {
		for _, in := range bb.Instr {
			switch in.Op.(type) {
			case mir.DbgDeclare, mir.DbgValue:
				return nil, errors.New("function is already annotated")
			}
		}
	}

	a := &annotator{
		policy:     e.Policy,
		fn:         fn,
		artificial: map[int]int{},
		locIndex:   map[Location]int{},
		info: &FunctionInfo{
			Name:    fn.Name,
			File:    fn.Pos.Filename,
			Line:    fn.Pos.Line,
			Column:  fn.Pos.Column,
			EndLine: fn.End.Line,
		},
	}
	a.scopes()
	a.variables()
	a.locations()
	return a.info, nil
}

func (a *annotator) newScope(kind ScopeKind, pos position.Position, parent int) int {
	id := len(a.info.Scopes)
	a.info.Scopes = append(a.info.Scopes, Scope{
		ID: id, Kind: kind, Parent: parent, Function: a.fn.Name,
		Line: pos.Line, Column: pos.Column,
	})
	return id
}

func (a *annotator) scopes() {
	a.regionScope = make([]int, len(a.fn.Regions))
	for _, r := range a.fn.Regions {
		switch r.Kind {
		case mir.RegionFunction:
			a.regionScope[r.ID] = a.newScope(ScopeSubprogram, r.Pos, -1)
		case mir.RegionSwitch:
			a.regionScope[r.ID] = a.newScope(ScopeSwitch, r.Pos, a.regionScope[r.Parent])
		case mir.RegionGuard:
			a.regionScope[r.ID] = a.newScope(ScopeGuard, r.Pos, a.regionScope[r.Parent])
		}
	}
}

// artificialScope returns the scope for position-less instructions of the
// given scope, one per enclosing scope.
func (a *annotator) artificialScope(parent int) int {
	if id, ok := a.artificial[parent]; ok {
		return id
	}
	id := a.newScope(ScopeArtificial, position.Position{}, parent)
	a.artificial[parent] = id
	return id
}

type debugInsert struct {
	declare bool
	varID   int
	addr    mir.Value
}

func (a *annotator) variables() {
	groups := map[varKey]int{}
	inserts := map[string]debugInsert{}

	for _, b := range a.fn.RegionBindings() {
		scope := a.regionScope[b.Region]
		key := varKey{scope: scope, name: b.Name, typ: b.Type.Key()}
		if a.policy == ShadowPerClause || b.Slot == nil {
			key.name = b.Addr.Ref
		}

		id, seen := groups[key]
		if !seen {
			id = len(a.info.Variables)
			groups[key] = id
			a.info.Variables = append(a.info.Variables, Variable{
				ID: id, Name: b.Name, Type: b.Type.Key(), Scope: scope, Arg: b.Arg,
				File: b.Pos.Filename, Line: b.Pos.Line, Column: b.Pos.Column,
			})
		}
		v := &a.info.Variables[id]
		if seen && b.Pos.IsValid() && (v.Line == 0 || b.Pos.Line < v.Line || (b.Pos.Line == v.Line && b.Pos.Column < v.Column)) {
			v.File, v.Line, v.Column = b.Pos.Filename, b.Pos.Line, b.Pos.Column
		}
		v.Slots = append(v.Slots, b.Addr.Ref)
		inserts[b.Addr.Ref] = debugInsert{declare: !seen, varID: id, addr: b.Addr}
	}

	for _, bb := range a.fn.Blocks {
		out := make([]mir.Inst, 0, len(bb.Instr))
		for _, in := range bb.Instr {
			out = append(out, in)
			al, ok := in.Op.(mir.Alloca)
			if !ok {
				continue
			}
			ins, ok := inserts[al.Dst]
			if !ok {
				continue
			}
			var op mir.Instr = mir.DbgValue{Addr: ins.addr, Var: ins.varID}
			if ins.declare {
				op = mir.DbgDeclare{Addr: ins.addr, Var: ins.varID}
			}
			out = append(out, mir.Inst{Op: op, Loc: in.Loc, Region: in.Region})
		}
		bb.Instr = out
	}
}

func (a *annotator) locations() {
	for _, bb := range a.fn.Blocks {
		for i := range bb.Instr {
			in := &bb.Instr[i]
			scope := a.regionScope[in.Region]
			loc := Location{Line: in.Loc.Pos.Line, Column: in.Loc.Pos.Column, Scope: scope}
			if !in.Loc.Pos.IsValid() {
				loc = Location{Scope: a.artificialScope(scope)}
			}
			id, ok := a.locIndex[loc]
			if !ok {
				id = len(a.info.Locations)
				loc.ID = id
				a.locIndex[Location{Line: loc.Line, Column: loc.Column, Scope: loc.Scope}] = id
				a.info.Locations = append(a.info.Locations, loc)
			}
			// Location ids are 1-based on instructions; 0 means none.
			in.Dbg = id + 1
			a.info.Lines = append(a.info.Lines, LineEntry{
				File: in.Loc.Pos.Filename, Line: loc.Line, Column: loc.Column,
				Scope: loc.Scope, Location: id,
			})
		}
	}
}
