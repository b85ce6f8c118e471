package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTask(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    Task
		wantErr bool
	}{
		{name: "legacy id", raw: "42", want: LegacyTask(42)},
		{name: "legacy id with newline", raw: "42\n", want: LegacyTask(42)},
		{name: "identity", raw: "3f1c2a0e-7b7d-5a43-9a51-0b0a7f1e2d3c", want: IdentityTask("3f1c2a0e-7b7d-5a43-9a51-0b0a7f1e2d3c")},
		{name: "mixed digits and letters", raw: "12ab", want: IdentityTask("12ab")},
		{name: "negative number is not legacy", raw: "-5", want: IdentityTask("-5")},
		{name: "empty", raw: "", wantErr: true},
		{name: "blank", raw: "   ", wantErr: true},
		{name: "overflowing id", raw: "99999999999999999999999", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTask(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTask_EncodeRoundTrip(t *testing.T) {
	for _, task := range []Task{LegacyTask(7), IdentityTask("abc-def")} {
		got, err := ParseTask(task.Encode())
		require.NoError(t, err)
		assert.Equal(t, task, got)
	}
	assert.Equal(t, "legacy_id:7", LegacyTask(7).String())
}
