package eval

import "fmt"

// Program is a pre-parsed expression ready to be evaluated repeatedly
// against different frames, stored as the opaque Condition value on
// proc.Breakpoint (spec.md §4.1 step 1, §4.4). Parsing once at
// breakpoint-set time means a malformed condition is reported
// immediately rather than on the first hit.
type Program struct {
	src  string
	node Node
}

func Compile(expr string) (*Program, error) {
	n, err := Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("eval: compiling condition %q: %w", expr, err)
	}
	return &Program{src: expr, node: n}, nil
}

func (p *Program) String() string { return p.src }

// Run evaluates the compiled condition against s and reduces the result
// to a boolean per spec.md §4.1's "condition expression evaluates to a
// nonzero/true value". A Scope-building adapter in internal/session
// supplies the frame this runs against; this is the function
// proc.Breakpoint.EvalCondition's closure ultimately calls.
func (p *Program) Run(s *Scope) (bool, error) {
	v, err := evalNode(s, p.node)
	if err != nil {
		return false, err
	}
	if v.OptimizedOut {
		return false, fmt.Errorf("eval: condition value was optimized out")
	}
	if v.Unreadable != nil {
		return false, v.Unreadable
	}
	b, ok := v.AsBool()
	if !ok {
		return false, fmt.Errorf("eval: condition %q did not evaluate to a boolean/numeric value", p.src)
	}
	return b, nil
}
