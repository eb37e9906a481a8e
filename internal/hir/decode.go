package hir

import (
	"fmt"
	"io"
	"strconv"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"

	perrors "github.com/orizon-lang/patlower/internal/errors"
	"github.com/orizon-lang/patlower/internal/position"
)

// SupportedFormat is the interchange format constraint accepted by Decode.
const SupportedFormat = "^1.0.0"

type rawModule struct {
	Format    string        `yaml:"format"`
	Module    string        `yaml:"module"`
	File      string        `yaml:"file"`
	Types     []rawType     `yaml:"types"`
	Functions []rawFunction `yaml:"functions"`
}

type rawType struct {
	Name string    `yaml:"name"`
	Enum []rawCase `yaml:"enum"`
}

type rawCase struct {
	Case    string   `yaml:"case"`
	Payload []string `yaml:"payload"`
}

type rawFunction struct {
	Name   string      `yaml:"name"`
	At     []int       `yaml:"at"`
	End    []int       `yaml:"end"`
	Params []rawParam  `yaml:"params"`
	Body   []yaml.Node `yaml:"body"`
}

type rawParam struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
	At   []int  `yaml:"at"`
}

// Decode reads an interchange document (YAML or JSON) describing one module.
// filename is used for error messages and as the default source file name.
func Decode(r io.Reader, filename string) (*Module, error) {
	var raw rawModule
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil {
		return nil, perrors.Wrap(err, perrors.CategoryInput, "DECODE", "cannot decode "+filename)
	}

	if err := checkFormat(raw.Format, filename); err != nil {
		return nil, err
	}

	d := &decoder{filename: filename, file: raw.File, named: map[string]*Type{}}
	if d.file == "" {
		d.file = filename
	}
	m := &Module{Name: raw.Module, File: d.file, Format: raw.Format}

	// Declare first so enum payloads can refer to each other.
	for _, rt := range raw.Types {
		if rt.Name == "" {
			return nil, perrors.InvalidInput(filename, "type without a name")
		}
		if Builtin(rt.Name) != nil || d.named[rt.Name] != nil {
			return nil, perrors.InvalidInput(filename, fmt.Sprintf("type %s declared twice", rt.Name))
		}
		t := &Type{Name: rt.Name, Kind: KindEnum}
		d.named[rt.Name] = t
		m.Types = append(m.Types, t)
	}
	for i, rt := range raw.Types {
		t := m.Types[i]
		for _, rc := range rt.Enum {
			c := &EnumCase{Name: rc.Case}
			for _, ps := range rc.Payload {
				pt, err := ParseTypeName(ps, d.named)
				if err != nil {
					return nil, perrors.InvalidInput(filename, fmt.Sprintf("%s.%s: %v", rt.Name, rc.Case, err))
				}
				c.Payload = append(c.Payload, pt)
			}
			t.Cases = append(t.Cases, c)
		}
	}

	for _, rf := range raw.Functions {
		fn, err := d.function(rf)
		if err != nil {
			return nil, err
		}
		m.Functions = append(m.Functions, fn)
	}
	return m, nil
}

func checkFormat(format, filename string) error {
	if format == "" {
		return perrors.InvalidInput(filename, "missing format version")
	}
	v, err := semver.NewVersion(format)
	if err != nil {
		return perrors.Wrap(err, perrors.CategoryVersion, "BAD_FORMAT", filename+": format "+strconv.Quote(format))
	}
	c, err := semver.NewConstraint(SupportedFormat)
	if err != nil {
		return perrors.Wrap(err, perrors.CategoryInternal, "BAD_CONSTRAINT", SupportedFormat)
	}
	if !c.Check(v) {
		return perrors.UnsupportedFormat(filename, v.String(), SupportedFormat)
	}
	return nil
}

type decoder struct {
	filename string
	file     string
	named    map[string]*Type
}

func (d *decoder) pos(at []int) position.Position {
	switch len(at) {
	case 0:
		return position.Position{Filename: d.file}
	case 1:
		return position.At(d.file, at[0], 1)
	default:
		return position.At(d.file, at[0], at[1])
	}
}

func (d *decoder) errorf(n *yaml.Node, format string, args ...interface{}) error {
	msg := fmt.Sprintf(format, args...)
	if n != nil {
		msg = fmt.Sprintf("line %d column %d: %s", n.Line, n.Column, msg)
	}
	return perrors.InvalidInput(d.filename, msg)
}

func (d *decoder) function(rf rawFunction) (*Function, error) {
	fn := &Function{Name: rf.Name, At: d.pos(rf.At), End: d.pos(rf.End)}
	if fn.Name == "" {
		return nil, perrors.InvalidInput(d.filename, "function without a name")
	}
	for _, rp := range rf.Params {
		t, err := ParseTypeName(rp.Type, d.named)
		if err != nil {
			return nil, perrors.InvalidInput(d.filename, fmt.Sprintf("%s parameter %s: %v", rf.Name, rp.Name, err))
		}
		fn.Params = append(fn.Params, &Param{Name: rp.Name, Type: t, At: d.pos(rp.At)})
	}
	body, err := d.stmts(rf.Body)
	if err != nil {
		return nil, err
	}
	fn.Body = body
	return fn, nil
}

// fields indexes a mapping node by key.
type fields struct {
	node *yaml.Node
	m    map[string]*yaml.Node
}

func (d *decoder) mapping(n *yaml.Node) (fields, error) {
	if n.Kind != yaml.MappingNode {
		return fields{}, d.errorf(n, "expected a mapping")
	}
	f := fields{node: n, m: make(map[string]*yaml.Node, len(n.Content)/2)}
	for i := 0; i+1 < len(n.Content); i += 2 {
		f.m[n.Content[i].Value] = n.Content[i+1]
	}
	return f, nil
}

func (f fields) get(key string) *yaml.Node { return f.m[key] }

func (f fields) has(key string) bool { _, ok := f.m[key]; return ok }

func (d *decoder) at(f fields, key string) (position.Position, error) {
	n := f.get(key)
	if n == nil {
		return position.Position{Filename: d.file}, nil
	}
	var at []int
	if err := n.Decode(&at); err != nil {
		return position.Position{}, d.errorf(n, "%s: want [line, column]", key)
	}
	return d.pos(at), nil
}

func (d *decoder) str(f fields, key string) (string, error) {
	n := f.get(key)
	if n == nil || n.Kind != yaml.ScalarNode {
		return "", d.errorf(f.node, "%s: want a string", key)
	}
	return n.Value, nil
}

func (d *decoder) typeField(f fields, key string) (*Type, error) {
	if !f.has(key) {
		return nil, nil
	}
	s, err := d.str(f, key)
	if err != nil {
		return nil, err
	}
	t, err := ParseTypeName(s, d.named)
	if err != nil {
		return nil, d.errorf(f.get(key), "%v", err)
	}
	return t, nil
}

func (d *decoder) stmts(nodes []yaml.Node) ([]Stmt, error) {
	out := make([]Stmt, 0, len(nodes))
	for i := range nodes {
		s, err := d.stmt(&nodes[i])
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func (d *decoder) stmtList(n *yaml.Node) ([]Stmt, error) {
	if n == nil {
		return nil, nil
	}
	if n.Kind != yaml.SequenceNode {
		return nil, d.errorf(n, "expected a statement list")
	}
	out := make([]Stmt, 0, len(n.Content))
	for _, c := range n.Content {
		s, err := d.stmt(c)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func (d *decoder) stmt(n *yaml.Node) (Stmt, error) {
	f, err := d.mapping(n)
	if err != nil {
		return nil, err
	}
	at, err := d.at(f, "at")
	if err != nil {
		return nil, err
	}
	end, err := d.at(f, "end")
	if err != nil {
		return nil, err
	}

	switch {
	case f.has("switch"):
		return d.switchStmt(f, at, end)
	case f.has("if"):
		cond, err := d.expr(f.get("if"))
		if err != nil {
			return nil, err
		}
		then, err := d.stmtList(f.get("then"))
		if err != nil {
			return nil, err
		}
		els, err := d.stmtList(f.get("else"))
		if err != nil {
			return nil, err
		}
		return &IfStmt{Cond: cond, Then: then, Else: els, At: at, End: end}, nil
	case f.has("do"):
		body, err := d.stmtList(f.get("do"))
		if err != nil {
			return nil, err
		}
		return &BlockStmt{Body: body, At: at, End: end}, nil
	case f.has("return"):
		rs := &ReturnStmt{At: at}
		if v := f.get("return"); v.Kind != yaml.ScalarNode || v.Tag != "!!null" {
			x, err := d.expr(v)
			if err != nil {
				return nil, err
			}
			rs.Value = x
		}
		return rs, nil
	case f.has("call"):
		x, err := d.expr(n)
		if err != nil {
			return nil, err
		}
		return &ExprStmt{X: x, At: at}, nil
	case f.has("expr"):
		x, err := d.expr(f.get("expr"))
		if err != nil {
			return nil, err
		}
		return &ExprStmt{X: x, At: at}, nil
	}
	return nil, d.errorf(n, "unknown statement form")
}

func (d *decoder) switchStmt(f fields, at, end position.Position) (*SwitchStmt, error) {
	subj, err := d.expr(f.get("switch"))
	if err != nil {
		return nil, err
	}
	st, err := d.typeField(f, "type")
	if err != nil {
		return nil, err
	}
	sw := &SwitchStmt{Subject: subj, SubjectType: st, At: at, End: end}

	cases := f.get("cases")
	if cases == nil || cases.Kind != yaml.SequenceNode {
		return nil, d.errorf(f.node, "switch needs a cases list")
	}
	for _, cn := range cases.Content {
		cl, err := d.clause(cn)
		if err != nil {
			return nil, err
		}
		sw.Clauses = append(sw.Clauses, cl)
	}
	return sw, nil
}

func (d *decoder) clause(n *yaml.Node) (*CaseClause, error) {
	f, err := d.mapping(n)
	if err != nil {
		return nil, err
	}
	at, err := d.at(f, "at")
	if err != nil {
		return nil, err
	}
	end, err := d.at(f, "end")
	if err != nil {
		return nil, err
	}
	cl := &CaseClause{At: at, BodyEnd: end}

	if f.has("default") {
		cl.IsDefault = true
		cl.Alternatives = []*Alternative{{Pattern: &WildcardPattern{At: at}, At: at}}
	} else {
		pats := f.get("patterns")
		if pats == nil || pats.Kind != yaml.SequenceNode || len(pats.Content) == 0 {
			return nil, d.errorf(n, "case needs a non-empty patterns list")
		}
		for _, pn := range pats.Content {
			alt, err := d.alternative(pn)
			if err != nil {
				return nil, err
			}
			cl.Alternatives = append(cl.Alternatives, alt)
		}
		// A clause-level guard binds to the last alternative, as `where` does
		// in `case A, B where g:`.
		if g := f.get("where"); g != nil {
			last := cl.Alternatives[len(cl.Alternatives)-1]
			if last.Guard != nil {
				return nil, d.errorf(g, "last alternative already has a guard")
			}
			if last.Guard, err = d.expr(g); err != nil {
				return nil, err
			}
		}
	}

	if cl.Body, err = d.stmtList(f.get("body")); err != nil {
		return nil, err
	}
	if !cl.BodyEnd.IsValid() {
		cl.BodyEnd = bodyEnd(cl)
	}
	return cl, nil
}

// bodyEnd defaults the exit position to the last statement of the body, or
// the clause itself when the body is empty.
func bodyEnd(cl *CaseClause) position.Position {
	if n := len(cl.Body); n > 0 {
		last := cl.Body[n-1]
		switch s := last.(type) {
		case *BlockStmt:
			if s.End.IsValid() {
				return s.End
			}
		case *IfStmt:
			if s.End.IsValid() {
				return s.End
			}
		}
		return last.Pos()
	}
	return cl.At
}

func (d *decoder) alternative(n *yaml.Node) (*Alternative, error) {
	if n.Kind == yaml.MappingNode {
		f, err := d.mapping(n)
		if err != nil {
			return nil, err
		}
		if f.has("match") {
			p, err := d.pattern(f.get("match"))
			if err != nil {
				return nil, err
			}
			alt := &Alternative{Pattern: p, At: p.Pos()}
			if g := f.get("where"); g != nil {
				if alt.Guard, err = d.expr(g); err != nil {
					return nil, err
				}
			}
			return alt, nil
		}
	}
	p, err := d.pattern(n)
	if err != nil {
		return nil, err
	}
	return &Alternative{Pattern: p, At: p.Pos()}, nil
}

func (d *decoder) patternList(n *yaml.Node) ([]Pattern, error) {
	if n == nil {
		return nil, nil
	}
	if n.Kind != yaml.SequenceNode {
		return nil, d.errorf(n, "expected a pattern list")
	}
	out := make([]Pattern, 0, len(n.Content))
	for _, c := range n.Content {
		p, err := d.pattern(c)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (d *decoder) pattern(n *yaml.Node) (Pattern, error) {
	if n.Kind == yaml.ScalarNode && n.Value == "_" {
		return &WildcardPattern{At: position.Position{Filename: d.file}}, nil
	}
	f, err := d.mapping(n)
	if err != nil {
		return nil, err
	}
	at, err := d.at(f, "at")
	if err != nil {
		return nil, err
	}

	switch {
	case f.has("let"):
		name, err := d.str(f, "let")
		if err != nil {
			return nil, err
		}
		t, err := d.typeField(f, "type")
		if err != nil {
			return nil, err
		}
		return &BindingPattern{Name: name, Type: t, At: at}, nil
	case f.has("case"):
		name, err := d.str(f, "case")
		if err != nil {
			return nil, err
		}
		payload, err := d.patternList(f.get("payload"))
		if err != nil {
			return nil, err
		}
		return &EnumCasePattern{Case: name, Payload: payload, At: at}, nil
	case f.has("tuple"):
		elems, err := d.patternList(f.get("tuple"))
		if err != nil {
			return nil, err
		}
		return &TuplePattern{Elems: elems, At: at}, nil
	case f.has("lit"):
		lit, err := d.literal(f.get("lit"))
		if err != nil {
			return nil, err
		}
		return &LiteralPattern{Value: lit, At: at}, nil
	case f.has("wildcard"):
		return &WildcardPattern{At: at}, nil
	}
	return nil, d.errorf(n, "unknown pattern form")
}

func (d *decoder) literal(n *yaml.Node) (Literal, error) {
	if n.Kind != yaml.ScalarNode {
		return Literal{}, d.errorf(n, "literal must be a scalar")
	}
	switch n.ShortTag() {
	case "!!int":
		v, err := strconv.ParseInt(n.Value, 0, 64)
		if err != nil {
			return Literal{}, d.errorf(n, "bad integer %q", n.Value)
		}
		return Literal{Kind: LitInt, Int: v}, nil
	case "!!float":
		v, err := strconv.ParseFloat(n.Value, 64)
		if err != nil {
			return Literal{}, d.errorf(n, "bad float %q", n.Value)
		}
		return Literal{Kind: LitFloat, Float: v}, nil
	case "!!bool":
		var b bool
		if err := n.Decode(&b); err != nil {
			return Literal{}, d.errorf(n, "bad bool %q", n.Value)
		}
		return Literal{Kind: LitBool, Bool: b}, nil
	default:
		return Literal{Kind: LitString, Str: n.Value}, nil
	}
}

func (d *decoder) expr(n *yaml.Node) (Expr, error) {
	if n == nil {
		return nil, d.errorf(nil, "missing expression")
	}
	f, err := d.mapping(n)
	if err != nil {
		return nil, err
	}
	at, err := d.at(f, "at")
	if err != nil {
		return nil, err
	}

	switch {
	case f.has("var"):
		name, err := d.str(f, "var")
		if err != nil {
			return nil, err
		}
		t, err := d.typeField(f, "type")
		if err != nil {
			return nil, err
		}
		return &VarRef{Name: name, Type: t, At: at}, nil
	case f.has("lit"):
		lit, err := d.literal(f.get("lit"))
		if err != nil {
			return nil, err
		}
		return &LitExpr{Value: lit, At: at}, nil
	case f.has("neg"), f.has("not"):
		op, key := OpNeg, "neg"
		if f.has("not") {
			op, key = OpNot, "not"
		}
		x, err := d.expr(f.get(key))
		if err != nil {
			return nil, err
		}
		return &Unary{Op: op, X: x, At: at}, nil
	case f.has("op"):
		s, err := d.str(f, "op")
		if err != nil {
			return nil, err
		}
		op, ok := ParseBinaryOp(s)
		if !ok {
			return nil, d.errorf(f.get("op"), "unknown operator %q", s)
		}
		x, err := d.expr(f.get("lhs"))
		if err != nil {
			return nil, err
		}
		y, err := d.expr(f.get("rhs"))
		if err != nil {
			return nil, err
		}
		return &Binary{Op: op, X: x, Y: y, At: at}, nil
	case f.has("call"):
		callee, err := d.str(f, "call")
		if err != nil {
			return nil, err
		}
		res, err := d.typeField(f, "result")
		if err != nil {
			return nil, err
		}
		c := &Call{Callee: callee, Result: res, At: at}
		if args := f.get("args"); args != nil {
			if args.Kind != yaml.SequenceNode {
				return nil, d.errorf(args, "args must be a list")
			}
			for _, an := range args.Content {
				a, err := d.expr(an)
				if err != nil {
					return nil, err
				}
				c.Args = append(c.Args, a)
			}
		}
		return c, nil
	}
	return nil, d.errorf(n, "unknown expression form")
}
