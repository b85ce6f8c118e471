package textclean

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailreply/internal/config"
)

func newCleaner(t *testing.T, enabled bool, separators ...string) *Cleaner {
	t.Helper()
	c, err := New(config.CleaningConfig{Enabled: enabled, Separators: separators})
	require.NoError(t, err)
	return c
}

func TestClean_DefaultSeparators(t *testing.T) {
	c := newCleaner(t, true)

	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "original message marker drops the marker line",
			in:   "Thanks!\n\n-----Original Message-----\nFrom: bob",
			want: "Thanks!",
		},
		{
			name: "chinese marker",
			in:   "收到\n------------------ 原始邮件 ------------------\n发件人: x",
			want: "收到",
		},
		{
			name: "header line",
			in:   "See you then\n\n发件人：张三\n发送时间：周一",
			want: "See you then",
		},
		{
			name: "long rule",
			in:   "ok\n________________________\nquoted",
			want: "ok",
		},
		{
			name: "gmail attribution",
			in:   "Sounds good\n\nOn Mon, Jan 1, 2024 at 9:00 AM Bob <b@x.com> wrote:\n> hi",
			want: "Sounds good",
		},
		{
			name: "no separator",
			in:   "  just text  ",
			want: "just text",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Clean(tt.in))
		})
	}
}

func TestClean_FirstListedSeparatorWins(t *testing.T) {
	// "b" occurs before "a" in the text, but "a" is listed first.
	c := newCleaner(t, true, `a`, `b`)

	assert.Equal(t, "xby", c.Clean("xbya"))
}

func TestClean_Disabled(t *testing.T) {
	c := newCleaner(t, false)

	assert.Equal(t, "hi\nOn Mon Bob wrote:\n> old", c.Clean("hi\nOn Mon Bob wrote:\n> old\n"))
}

func TestCleanMessage_KeepsSubjectOutOfMatching(t *testing.T) {
	c := newCleaner(t, true)

	assert.Equal(t,
		"Subject: Hello\n\nhello",
		c.CleanMessage("Subject: Hello\n\nhello\n\nOn Tue Bob wrote:\n> x"),
	)
	assert.Equal(t, "", c.CleanMessage("Subject: Hello\n\n-----Original Message-----\nold"))
	assert.Equal(t, "", c.CleanMessage("Subject: only a subject"))
	assert.Equal(t, "plain body", c.CleanMessage("plain body"))
}

func TestNew_InvalidSeparator(t *testing.T) {
	_, err := New(config.CleaningConfig{Enabled: true, Separators: []string{"("}})
	assert.Error(t, err)
}
