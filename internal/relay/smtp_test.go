package relay

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "mailreply/pkg/errors"
)

type fakeSMTP struct {
	ln        net.Listener
	authReply string

	mu    sync.Mutex
	rcpts []string
	data  []string
}

func startFakeSMTP(t *testing.T, authReply string) *fakeSMTP {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	f := &fakeSMTP{ln: ln, authReply: authReply}
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go f.serve(conn)
		}
	}()
	return f
}

func (f *fakeSMTP) account() Account {
	addr := f.ln.Addr().(*net.TCPAddr)
	return Account{Host: "127.0.0.1", Port: addr.Port, Username: "bot@example.com", Password: "pw"}
}

func (f *fakeSMTP) serve(conn net.Conn) {
	defer conn.Close()
	tp := textproto.NewConn(conn)
	_ = tp.PrintfLine("220 fake ESMTP")

	for {
		line, err := tp.ReadLine()
		if err != nil {
			return
		}
		cmd := strings.ToUpper(strings.SplitN(line, " ", 2)[0])
		switch cmd {
		case "EHLO", "HELO":
			_ = tp.PrintfLine("250-fake")
			_ = tp.PrintfLine("250 AUTH PLAIN")
		case "AUTH":
			_ = tp.PrintfLine("%s", f.authReply)
		case "MAIL":
			_ = tp.PrintfLine("250 ok")
		case "RCPT":
			f.mu.Lock()
			f.rcpts = append(f.rcpts, line)
			f.mu.Unlock()
			_ = tp.PrintfLine("250 ok")
		case "DATA":
			_ = tp.PrintfLine("354 go ahead")
			lines, err := tp.ReadDotLines()
			if err != nil {
				return
			}
			f.mu.Lock()
			f.data = append(f.data, strings.Join(lines, "\n"))
			f.mu.Unlock()
			_ = tp.PrintfLine("250 queued")
		case "QUIT":
			_ = tp.PrintfLine("221 bye")
			return
		default:
			_ = tp.PrintfLine("502 unknown")
		}
	}
}

func TestSMTPSender_Delivers(t *testing.T) {
	srv := startFakeSMTP(t, "235 2.7.0 accepted")
	sender := NewSMTPSender(5 * time.Second)

	err := sender.Send(context.Background(), srv.account(), Message{
		To:        "alice@example.com",
		Subject:   "Re: 谢谢你的邮件",
		Body:      "thanks!",
		InReplyTo: "<orig@example.com>",
	})
	require.NoError(t, err)

	srv.mu.Lock()
	defer srv.mu.Unlock()
	require.Len(t, srv.data, 1)
	assert.Contains(t, srv.rcpts[0], "alice@example.com")
	assert.Contains(t, srv.data[0], "In-Reply-To: <orig@example.com>")
	assert.Contains(t, srv.data[0], "thanks!")
}

func TestSMTPSender_AuthRejectionIsCredentialError(t *testing.T) {
	srv := startFakeSMTP(t, "535 5.7.8 bad credentials")
	sender := NewSMTPSender(5 * time.Second)

	err := sender.Send(context.Background(), srv.account(), Message{To: "a@example.com", Body: "x"})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCredential(err))
	assert.True(t, pkgerrors.IsFatal(err))
}

func TestSMTPSender_ConnectionRefusedIsTransport(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	sender := NewSMTPSender(time.Second)
	err = sender.Send(context.Background(), Account{Host: "127.0.0.1", Port: port}, Message{To: "a@example.com"})
	require.Error(t, err)
	assert.ErrorIs(t, err, pkgerrors.ErrTransport)
	assert.False(t, pkgerrors.IsFatal(err))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		credential bool
	}{
		{name: "535", err: &textproto.Error{Code: 535, Msg: "bad"}, credential: true},
		{name: "534", err: &textproto.Error{Code: 534, Msg: "weak"}, credential: true},
		{name: "530", err: &textproto.Error{Code: 530, Msg: "auth required"}, credential: true},
		{name: "421", err: &textproto.Error{Code: 421, Msg: "busy"}},
		{name: "550", err: &textproto.Error{Code: 550, Msg: "no mailbox"}},
		{name: "io", err: io.ErrUnexpectedEOF},
		{name: "wrapped", err: errors.Join(errors.New("x"), &textproto.Error{Code: 535}), credential: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify("op", tt.err)
			assert.Equal(t, tt.credential, pkgerrors.IsCredential(err))
			if !tt.credential {
				assert.ErrorIs(t, err, pkgerrors.ErrTransport)
			}
		})
	}
}

func TestComposeMessage(t *testing.T) {
	raw, err := composeMessage("bot@example.com", Message{
		To:        "alice@example.com",
		Subject:   "Re: 谢谢你的邮件",
		Body:      "你好",
		InReplyTo: "orig@example.com",
	})
	require.NoError(t, err)

	mr, err := mail.CreateReader(bytes.NewReader(raw))
	require.NoError(t, err)

	subject, err := mr.Header.Subject()
	require.NoError(t, err)
	assert.Equal(t, "Re: 谢谢你的邮件", subject)

	assert.Equal(t, "<orig@example.com>", mr.Header.Get("In-Reply-To"))
	assert.Equal(t, "<orig@example.com>", mr.Header.Get("References"))

	id, err := mr.Header.MessageID()
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(id, "@example.com"), id)

	part, err := mr.NextPart()
	require.NoError(t, err)
	body, err := io.ReadAll(part.Body)
	require.NoError(t, err)
	assert.Equal(t, "你好", string(body))
}

func TestComposeMessage_NoInReplyTo(t *testing.T) {
	raw, err := composeMessage("bot@example.com", Message{To: "a@example.com", Subject: "s\r\nBcc: x", Body: "b"})
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "In-Reply-To")
	assert.NotContains(t, string(raw), "\r\nBcc:")
}
