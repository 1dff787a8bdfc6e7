package opt

import "math"

// VarKind distinguishes binary decisions from bounded continuous quantities.
type VarKind int

const (
	Continuous VarKind = iota
	Binary
)

func (k VarKind) String() string {
	if k == Binary {
		return "binary"
	}
	return "continuous"
}

// Var is a decision variable declared on a Model. Index is its column in the
// value vector returned by an Oracle.
type Var struct {
	Index int
	Name  string
	Kind  VarKind
	Lower float64
	Upper float64
}

// Term is coef * variable.
type Term struct {
	Var  int
	Coef float64
}

// LinExpr is a linear expression: sum of terms plus a constant.
type LinExpr struct {
	Terms    []Term
	Constant float64
}

// AddTerm appends coef*v to the expression.
func (e *LinExpr) AddTerm(v Var, coef float64) *LinExpr {
	e.Terms = append(e.Terms, Term{Var: v.Index, Coef: coef})
	return e
}

// AddConstant adds c to the constant part.
func (e *LinExpr) AddConstant(c float64) *LinExpr {
	e.Constant += c
	return e
}

// AddExpr appends scale*o to the expression.
func (e *LinExpr) AddExpr(o LinExpr, scale float64) *LinExpr {
	for _, t := range o.Terms {
		e.Terms = append(e.Terms, Term{Var: t.Var, Coef: t.Coef * scale})
	}
	e.Constant += o.Constant * scale
	return e
}

// Eval evaluates the expression against a value vector indexed by Var.Index.
func (e LinExpr) Eval(values []float64) float64 {
	total := e.Constant
	for _, t := range e.Terms {
		total += t.Coef * values[t.Var]
	}
	return total
}

// Sense is the relation of a constraint's expression to its right-hand side.
type Sense int

const (
	LessEqual Sense = iota
	GreaterEqual
	Equal
)

func (s Sense) String() string {
	switch s {
	case LessEqual:
		return "<="
	case GreaterEqual:
		return ">="
	default:
		return "=="
	}
}

// Constraint is Expr (sense) RHS. Any constant carried by Expr is moved to the
// right-hand side when the constraint is added.
type Constraint struct {
	Name  string
	Expr  LinExpr
	Sense Sense
	RHS   float64
}

// Satisfied reports whether values satisfy the constraint within tol.
func (c Constraint) Satisfied(values []float64, tol float64) bool {
	lhs := c.Expr.Eval(values)
	switch c.Sense {
	case LessEqual:
		return lhs <= c.RHS+tol
	case GreaterEqual:
		return lhs >= c.RHS-tol
	default:
		return math.Abs(lhs-c.RHS) <= tol
	}
}

// Model is a minimization problem over bounded variables and linear
// constraints. It is the only thing handed to an Oracle.
type Model struct {
	Name        string
	Vars        []Var
	Constraints []Constraint
	Objective   LinExpr

	byName map[string]int
	err    error
}

// NewModel returns an empty model.
func NewModel(name string) *Model {
	return &Model{Name: name, byName: map[string]int{}}
}

// AddVar declares a variable. Names must be unique within the model; a
// repeated name still gets its own column but Lookup keeps resolving to the
// first one and Err reports the collision.
func (m *Model) AddVar(name string, kind VarKind, lower, upper float64) Var {
	if kind == Binary {
		lower, upper = 0, 1
	}
	v := Var{Index: len(m.Vars), Name: name, Kind: kind, Lower: lower, Upper: upper}
	m.Vars = append(m.Vars, v)
	if _, dup := m.byName[name]; dup {
		if m.err == nil {
			m.err = inputErr("variable", name, "name is generated twice; rename the zone or facility")
		}
		return v
	}
	m.byName[name] = v.Index
	return v
}

// Err returns the first naming collision recorded while the model was
// assembled, or nil.
func (m *Model) Err() error { return m.err }

// AddBinary declares a 0/1 variable.
func (m *Model) AddBinary(name string) Var { return m.AddVar(name, Binary, 0, 1) }

// AddContinuous declares a continuous variable in [lower, upper].
func (m *Model) AddContinuous(name string, lower, upper float64) Var {
	return m.AddVar(name, Continuous, lower, upper)
}

// AddConstraint adds expr (sense) rhs.
func (m *Model) AddConstraint(name string, expr LinExpr, sense Sense, rhs float64) Constraint {
	c := Constraint{
		Name:  name,
		Expr:  LinExpr{Terms: append([]Term(nil), expr.Terms...)},
		Sense: sense,
		RHS:   rhs - expr.Constant,
	}
	m.Constraints = append(m.Constraints, c)
	return c
}

// AddToObjective adds expr to the minimization objective.
func (m *Model) AddToObjective(expr LinExpr) {
	m.Objective.AddExpr(expr, 1)
}

// Lookup returns the variable with the given name.
func (m *Model) Lookup(name string) (Var, bool) {
	i, ok := m.byName[name]
	if !ok {
		return Var{}, false
	}
	return m.Vars[i], true
}

// ConstraintsWithPrefix returns constraints whose names start with prefix.
func (m *Model) ConstraintsWithPrefix(prefix string) []Constraint {
	var out []Constraint
	for _, c := range m.Constraints {
		if len(c.Name) >= len(prefix) && c.Name[:len(prefix)] == prefix {
			out = append(out, c)
		}
	}
	return out
}
