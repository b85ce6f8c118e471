package mailbox

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailreply/internal/config"
)

func crlf(s string) []byte {
	return []byte(strings.ReplaceAll(s, "\n", "\r\n"))
}

func TestParse_PlainMessage(t *testing.T) {
	raw := crlf(`From: Alice <alice@example.com>
To: bot@example.com
Subject: Hello
Message-ID: <abc123@example.com>
Date: Mon, 02 Jan 2006 15:04:05 +0000
Content-Type: text/plain; charset=utf-8

Hi there
`)

	msg, err := Parse(raw, "bot@example.com")
	require.NoError(t, err)

	assert.Equal(t, "alice@example.com", msg.Sender)
	assert.Equal(t, "bot@example.com", msg.Recipient)
	assert.Equal(t, "abc123@example.com", msg.MessageID)
	assert.Equal(t, "Hello", msg.Subject)
	assert.Equal(t, "Subject: Hello\n\nHi there", msg.Content)
	assert.Empty(t, msg.Attachments)
	assert.Equal(t, 2006, msg.Date.Year())
}

func TestParse_NoSubjectKeepsBodyOnly(t *testing.T) {
	raw := crlf(`From: bob@example.com
Content-Type: text/plain

  just text  
`)

	msg, err := Parse(raw, "bot@example.com")
	require.NoError(t, err)
	assert.Equal(t, "just text", msg.Content)
	assert.Empty(t, msg.MessageID)
}

func TestParse_GBKSubjectAndBody(t *testing.T) {
	raw := crlf(`From: =?GBK?B?xOO6ww==?= <qq@example.com>
Subject: =?GBK?B?xOO6ww==?=
Content-Type: text/plain; charset=gbk
Content-Transfer-Encoding: quoted-printable

=C4=E3=BA=C3
`)

	msg, err := Parse(raw, "bot@example.com")
	require.NoError(t, err)
	assert.Equal(t, "qq@example.com", msg.Sender)
	assert.Equal(t, "你好", msg.Subject)
	assert.Equal(t, "Subject: 你好\n\n你好", msg.Content)
}

func TestParse_MultipartWithImages(t *testing.T) {
	raw := crlf(`From: carol@example.com
Subject: pics
Message-ID: <m1@example.com>
MIME-Version: 1.0
Content-Type: multipart/mixed; boundary="XX"

--XX
Content-Type: text/plain; charset=utf-8

look at these
--XX
Content-Type: text/html; charset=utf-8

<p>look at these</p>
--XX
Content-Type: image/png
Content-Disposition: attachment; filename="cat.png"
Content-Transfer-Encoding: base64

aGVsbG8=
--XX
Content-Type: image/jpeg
Content-Transfer-Encoding: base64

d29ybGQ=
--XX
Content-Type: application/pdf
Content-Disposition: attachment; filename="doc.pdf"

%PDF
--XX--
`)

	msg, err := Parse(raw, "bot@example.com")
	require.NoError(t, err)

	assert.Equal(t, "Subject: pics\n\nlook at these", msg.Content)
	require.Len(t, msg.Attachments, 2)

	sum := sha256.Sum256([]byte("hello"))
	assert.Equal(t, "cat.png", msg.Attachments[0].Filename)
	assert.Equal(t, "image/png", msg.Attachments[0].MediaType)
	assert.EqualValues(t, 5, msg.Attachments[0].SizeBytes)
	assert.Equal(t, hex.EncodeToString(sum[:]), msg.Attachments[0].ContentHash)
	assert.Empty(t, msg.Attachments[0].StorageURL)

	assert.Equal(t, "image2.jpg", msg.Attachments[1].Filename)
	assert.EqualValues(t, 5, msg.Attachments[1].SizeBytes)
}

func TestParse_HTMLOnlyFallsBackToText(t *testing.T) {
	raw := crlf(`From: dave@example.com
Subject: html
Content-Type: text/html; charset=utf-8

<html><style>p{}</style><body><p>Hello &amp; welcome</p><br>bye</body></html>
`)

	msg, err := Parse(raw, "bot@example.com")
	require.NoError(t, err)
	assert.Equal(t, "Subject: html\n\nHello & welcome\n\nbye", msg.Content)
}

func TestParse_LongMessageIDTruncated(t *testing.T) {
	long := strings.Repeat("a", 300) + "@example.com"
	raw := crlf("From: e@example.com\nMessage-ID: <" + long + ">\nContent-Type: text/plain\n\nx\n")

	msg, err := Parse(raw, "bot@example.com")
	require.NoError(t, err)
	assert.Len(t, msg.MessageID, 255)
	assert.False(t, strings.HasPrefix(msg.MessageID, "<"))
}

func TestAccountFromConfig(t *testing.T) {
	acct := AccountFromConfig(config.AccountConfig{Host: "imap.example.com", Username: "u@example.com"})
	assert.Equal(t, 993, acct.Port)
	assert.True(t, acct.TLS)
	assert.Equal(t, "u@example.com", acct.Name)

	acct = AccountFromConfig(config.AccountConfig{Name: "email2", Host: "h", Port: 143})
	assert.False(t, acct.TLS)
	assert.Equal(t, "email2", acct.Name)
}
