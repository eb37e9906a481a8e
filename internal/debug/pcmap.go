package debug

// PCRange represents a contiguous pseudo-PC range for a function.
type PCRange struct {
	Module   string
	Function string
	Low      uint64
	High     uint64
	Lines    []LineEntry // one per instruction
	Scopes   []Scope
}

// PCMap provides pseudo address to source mapping based on ProgramDebugInfo.
type PCMap struct {
	Ranges []PCRange
}

// BuildPCMap builds a PC map from ProgramDebugInfo using the same address
// assignment as BuildDWARF: InstrSize bytes per instruction, functions laid
// out in module order.
func BuildPCMap(info ProgramDebugInfo) *PCMap {
	m := &PCMap{}
	pc := uint64(0)
	for _, md := range info.Modules {
		for _, fn := range md.Functions {
			size := uint64(functionSize(fn))
			m.Ranges = append(m.Ranges, PCRange{
				Module: md.ModuleName, Function: fn.Name,
				Low: pc, High: pc + size,
				Lines: fn.Lines, Scopes: fn.Scopes,
			})
			pc += size
		}
	}
	return m
}

func (m *PCMap) lookup(addr uint64) (*PCRange, *LineEntry, bool) {
	for i := range m.Ranges {
		r := &m.Ranges[i]
		if addr < r.Low || addr >= r.High {
			continue
		}
		if len(r.Lines) == 0 {
			return r, nil, true
		}
		idx := int((addr - r.Low) / InstrSize)
		if idx >= len(r.Lines) {
			idx = len(r.Lines) - 1
		}
		return r, &r.Lines[idx], true
	}
	return nil, nil, false
}

// AddrToLine resolves a pseudo address to a file/line pair. Addresses of
// instructions in artificial scopes resolve to line 0.
func (m *PCMap) AddrToLine(addr uint64) (file string, line int, ok bool) {
	_, le, ok := m.lookup(addr)
	if !ok || le == nil {
		return "", 0, ok
	}
	return le.File, le.Line, true
}

// ScopeChain returns the scopes enclosing addr, innermost first.
func (m *PCMap) ScopeChain(addr uint64) []Scope {
	r, le, ok := m.lookup(addr)
	if !ok || le == nil {
		return nil
	}
	var chain []Scope
	for s := le.Scope; s >= 0 && s < len(r.Scopes); s = r.Scopes[s].Parent {
		chain = append(chain, r.Scopes[s])
	}
	return chain
}
