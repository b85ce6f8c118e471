// Package suppression decides which inbound messages must never be answered,
// such as bounces and other autoresponders.
package suppression

import (
	"context"
	"fmt"

	celgo "github.com/google/cel-go/cel"

	"mailreply/internal/config"
	"mailreply/pkg/cel"
)

// Evaluator reports the name of the first rule msg matches.
type Evaluator interface {
	Match(ctx context.Context, msg cel.Mail) (rule string, matched bool, err error)
}

type rule struct {
	name    string
	program celgo.Program
}

type Rules struct {
	rules []rule
}

// New compiles every configured rule. A rule that does not compile to a bool
// expression is a startup error.
func New(cfg config.SuppressionConfig) (*Rules, error) {
	eval, err := cel.NewEvaluator()
	if err != nil {
		return nil, err
	}

	r := &Rules{rules: make([]rule, 0, len(cfg.Rules))}
	for i, rc := range cfg.Rules {
		name := rc.Name
		if name == "" {
			name = fmt.Sprintf("rule_%d", i)
		}
		program, err := eval.CompileFilter(rc.Expression)
		if err != nil {
			return nil, fmt.Errorf("suppression rule %q: %w", name, err)
		}
		r.rules = append(r.rules, rule{name: name, program: program})
	}
	return r, nil
}

// Match evaluates rules in order. An evaluation error stops at that rule and
// is returned with matched=false.
func (r *Rules) Match(ctx context.Context, msg cel.Mail) (string, bool, error) {
	for _, rl := range r.rules {
		ok, err := cel.EvaluateFilter(ctx, rl.program, msg)
		if err != nil {
			return rl.name, false, err
		}
		if ok {
			return rl.name, true, nil
		}
	}
	return "", false, nil
}

func (r *Rules) Len() int {
	return len(r.rules)
}

// None never suppresses.
type None struct{}

func (None) Match(context.Context, cel.Mail) (string, bool, error) {
	return "", false, nil
}
