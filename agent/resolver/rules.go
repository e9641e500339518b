package resolver

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
)

// ruleSet compiles restaurant booking rules once and caches the programs.
// A rule is a CEL boolean over party_size, hour, minute, weekday (0 = Sunday) and
// duration_minutes, e.g. "party_size <= 6 || hour >= 21".
type ruleSet struct {
	env *cel.Env

	mu       sync.Mutex
	programs map[string]cel.Program
}

func newRuleSet() (*ruleSet, error) {
	env, err := cel.NewEnv(
		cel.Variable("party_size", cel.IntType),
		cel.Variable("hour", cel.IntType),
		cel.Variable("minute", cel.IntType),
		cel.Variable("weekday", cel.IntType),
		cel.Variable("duration_minutes", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("build booking rule env: %w", err)
	}
	return &ruleSet{env: env, programs: make(map[string]cel.Program)}, nil
}

func (r *ruleSet) program(expr string) (cel.Program, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prg, ok := r.programs[expr]; ok {
		return prg, nil
	}

	ast, iss := r.env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("compile booking rule: %w", iss.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("booking rule must be boolean, got %s", ast.OutputType())
	}
	prg, err := r.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("build booking rule program: %w", err)
	}
	r.programs[expr] = prg
	return prg, nil
}

// allows evaluates expr for a party at local start time.
func (r *ruleSet) allows(expr string, party int, start time.Time, duration time.Duration) (bool, error) {
	prg, err := r.program(expr)
	if err != nil {
		return false, err
	}
	out, _, err := prg.Eval(map[string]any{
		"party_size":       int64(party),
		"hour":             int64(start.Hour()),
		"minute":           int64(start.Minute()),
		"weekday":          int64(start.Weekday()),
		"duration_minutes": int64(duration / time.Minute),
	})
	if err != nil {
		return false, fmt.Errorf("evaluate booking rule: %w", err)
	}
	ok, isBool := out.Value().(bool)
	if !isBool {
		return false, fmt.Errorf("booking rule returned %T", out.Value())
	}
	return ok, nil
}
