package script

import (
	"errors"
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// ExprEnv evaluates boolean expr-lang conditions
type ExprEnv struct {
	*compiler[*vm.Program]
}

const exprCacheSize = 1024

var (
	ErrExprCompile = errors.New("expr compile error")
	ErrExprEval    = errors.New("expr evaluation error")
)

// NewExprEnv creates an expr environment. Conditions see the same names a
// Lua condition receives as locals, and names they do not know are nil
func NewExprEnv() *ExprEnv {
	e := &ExprEnv{}
	e.compiler = newCompiler(exprCacheSize,
		func(script string) (*vm.Program, error) {
			p, err := expr.Compile(script,
				expr.AllowUndefinedVariables(), expr.AsBool(),
			)
			if err != nil {
				return nil, fmt.Errorf("%w: %w", ErrExprCompile, err)
			}
			return p, nil
		},
	)
	return e
}

// EvaluatePredicate runs a compiled expression with the provided inputs
func (e *ExprEnv) EvaluatePredicate(c Compiled, inputs Args) (bool, error) {
	p, ok := c.(*vm.Program)
	if !ok || p == nil {
		return false, nil
	}
	env := make(map[string]any, len(inputs))
	for k, v := range inputs {
		env[k] = v
	}
	out, err := expr.Run(p, env)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrExprEval, err)
	}
	res, _ := out.(bool)
	return res, nil
}
