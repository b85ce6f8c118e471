package cel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEvaluator(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)
	assert.NotNil(t, eval)
}

func TestValidateFilterExpression(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)

	tests := []struct {
		name      string
		expr      string
		wantError bool
	}{
		{name: "sender suffix", expr: `sender.endsWith("@example.com")`},
		{name: "regex on subject", expr: `subject.matches("(?i)^auto(matic)? reply")`},
		{name: "attachment count", expr: `attachments > 3 && recipient == "bot@example.com"`},
		{name: "non-bool result", expr: `sender + recipient`, wantError: true},
		{name: "unknown variable", expr: `payload.status == "x"`, wantError: true},
		{name: "syntax error", expr: `sender ==`, wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := eval.ValidateFilterExpression(tt.expr)
			if tt.wantError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestEvaluateFilter(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)

	program, err := eval.CompileFilter(`sender.lowerAscii().startsWith("mailer-daemon@") || content.contains("Undeliverable")`)
	require.NoError(t, err)

	ctx := context.Background()

	ok, err := EvaluateFilter(ctx, program, Mail{Sender: "MAILER-DAEMON@mx.example.com"})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = EvaluateFilter(ctx, program, Mail{Sender: "alice@example.com", Content: "Subject: hi\n\nUndeliverable: x"})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = EvaluateFilter(ctx, program, Mail{Sender: "alice@example.com", Content: "hello"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEvaluateFilter_StringExtensions(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)

	program, err := eval.CompileFilter(`sender.lowerAscii().split("@")[0] in ["noreply", "no-reply"] || subject.trim().lowerAscii().startsWith("out of office")`)
	require.NoError(t, err)

	ctx := context.Background()
	tests := []struct {
		name string
		mail Mail
		want bool
	}{
		{name: "no-reply sender", mail: Mail{Sender: "No-Reply@shop.example.com"}, want: true},
		{name: "out of office subject", mail: Mail{Sender: "bob@example.com", Subject: "  Out of Office: back Monday"}, want: true},
		{name: "ordinary mail", mail: Mail{Sender: "bob@example.com", Subject: "question"}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EvaluateFilter(ctx, program, tt.mail)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
