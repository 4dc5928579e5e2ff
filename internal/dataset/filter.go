package dataset

import (
	"sync"

	"github.com/google/cel-go/cel"
)

var (
	filterEnv     *cel.Env
	filterEnvErr  error
	filterEnvOnce sync.Once
)

// labelFilterEnv declares the variables a label filter may reference:
// `label` is the label value and `count` is how many samples carry it.
func labelFilterEnv() (*cel.Env, error) {
	filterEnvOnce.Do(func() {
		filterEnv, filterEnvErr = cel.NewEnv(
			cel.Variable("label", cel.StringType),
			cel.Variable("count", cel.IntType),
		)
	})
	return filterEnv, filterEnvErr
}

type labelFilter struct {
	expr string
	prg  cel.Program
}

func compileLabelFilter(expr string) (*labelFilter, error) {
	env, err := labelFilterEnv()
	if err != nil {
		return nil, errorf(CodeBadFilter, "label filter environment: %v", err)
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, errorf(CodeBadFilter, "label filter %q: %v", expr, issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, errorf(CodeBadFilter, "label filter %q must return bool, got %s", expr, ast.OutputType())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, errorf(CodeBadFilter, "label filter %q: %v", expr, err)
	}
	return &labelFilter{expr: expr, prg: prg}, nil
}

func (f *labelFilter) keep(label string, count int) (bool, error) {
	out, _, err := f.prg.Eval(map[string]any{
		"label": label,
		"count": int64(count),
	})
	if err != nil {
		return false, errorf(CodeBadFilter, "label filter %q on %q: %v", f.expr, label, err)
	}
	ok, isBool := out.Value().(bool)
	if !isBool {
		return false, errorf(CodeBadFilter, "label filter %q returned %T", f.expr, out.Value())
	}
	return ok, nil
}

// ValidateLabelFilter compiles expr and reports whether it is usable.
func ValidateLabelFilter(expr string) error {
	if expr == "" {
		return nil
	}
	_, err := compileLabelFilter(expr)
	return err
}
