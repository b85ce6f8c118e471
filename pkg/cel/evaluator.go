package cel

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/ext"
)

// Mail is the activation every expression is evaluated against.
type Mail struct {
	Sender      string
	Recipient   string
	Subject     string
	Content     string
	Account     string
	MessageID   string
	Attachments int
}

func (m Mail) vars() map[string]interface{} {
	return map[string]interface{}{
		"sender":      m.Sender,
		"recipient":   m.Recipient,
		"subject":     m.Subject,
		"content":     m.Content,
		"account":     m.Account,
		"message_id":  m.MessageID,
		"attachments": int64(m.Attachments),
	}
}

type Evaluator struct {
	env *cel.Env
}

func NewEvaluator() (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("sender", cel.StringType),
		cel.Variable("recipient", cel.StringType),
		cel.Variable("subject", cel.StringType),
		cel.Variable("content", cel.StringType),
		cel.Variable("account", cel.StringType),
		cel.Variable("message_id", cel.StringType),
		cel.Variable("attachments", cel.IntType),
		ext.Strings(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Evaluator{env: env}, nil
}

// CompileFilter compiles expression and checks that it yields a bool.
func (e *Evaluator) CompileFilter(expression string) (cel.Program, error) {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile CEL expression: %w", issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("filter expression must return bool, got %v", ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}

	return program, nil
}

func (e *Evaluator) ValidateFilterExpression(expression string) error {
	_, err := e.CompileFilter(expression)
	return err
}

func EvaluateFilter(ctx context.Context, program cel.Program, msg Mail) (bool, error) {
	result, _, err := program.ContextEval(ctx, msg.vars())
	if err != nil {
		return false, fmt.Errorf("failed to evaluate CEL expression: %w", err)
	}

	boolVal, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("CEL expression did not return bool, got %T", result.Value())
	}

	return boolVal, nil
}
