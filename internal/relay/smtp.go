package relay

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"

	"mailreply/internal/constants"
	pkgerrors "mailreply/pkg/errors"
	"mailreply/pkg/metrics"
)

// Message is one outbound reply.
type Message struct {
	To        string
	Subject   string
	Body      string
	InReplyTo string
}

type Sender interface {
	Send(ctx context.Context, account Account, msg Message) error
}

// SMTPSender delivers over implicit TLS on port 465 and over STARTTLS (when
// the server offers it) on any other port.
type SMTPSender struct {
	timeout   time.Duration
	tlsConfig *tls.Config
}

func NewSMTPSender(timeout time.Duration) *SMTPSender {
	if timeout <= 0 {
		timeout = constants.DefaultRelayTimeout
	}
	return &SMTPSender{timeout: timeout}
}

func (s *SMTPSender) Send(ctx context.Context, account Account, msg Message) error {
	body, err := composeMessage(account.Username, msg)
	if err != nil {
		return pkgerrors.ErrInternal.WithMessage("composing reply").WithCause(err)
	}

	err = s.deliver(ctx, account, msg.To, body)
	status := "ok"
	switch {
	case err == nil:
	case pkgerrors.IsCredential(err):
		status = "auth_error"
	default:
		status = "error"
	}
	metrics.RelaySendsTotal.WithLabelValues(status).Inc()
	return err
}

func (s *SMTPSender) deliver(ctx context.Context, account Account, to string, body []byte) error {
	addr := net.JoinHostPort(account.Host, strconv.Itoa(account.Port))
	dialer := &net.Dialer{Timeout: s.timeout}
	tlsConfig := s.tlsFor(account.Host)

	var (
		conn net.Conn
		err  error
	)
	if account.implicitTLS() {
		conn, err = tls.DialWithDialer(dialer, "tcp", addr, tlsConfig)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return classify("dial", err)
	}
	defer conn.Close()

	_ = conn.SetDeadline(time.Now().Add(s.timeout))
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	client, err := smtp.NewClient(conn, account.Host)
	if err != nil {
		return classify("greeting", err)
	}
	defer client.Close()

	if !account.implicitTLS() {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(tlsConfig); err != nil {
				return classify("starttls", err)
			}
		}
	}

	if ok, _ := client.Extension("AUTH"); ok {
		auth := smtp.PlainAuth("", account.Username, account.Password, account.Host)
		if err := client.Auth(auth); err != nil {
			return pkgerrors.ErrCredential.WithMessage("SMTP auth failed for %s", account.Username).WithCause(err)
		}
	}

	if err := client.Mail(account.Username); err != nil {
		return classify("mail from", err)
	}
	if err := client.Rcpt(to); err != nil {
		return classify("rcpt to", err)
	}
	w, err := client.Data()
	if err != nil {
		return classify("data", err)
	}
	if _, err := w.Write(body); err != nil {
		_ = w.Close()
		return classify("write", err)
	}
	if err := w.Close(); err != nil {
		return classify("data close", err)
	}
	// the message is accepted once DATA closes
	_ = client.Quit()
	return nil
}

func (s *SMTPSender) tlsFor(host string) *tls.Config {
	if s.tlsConfig != nil {
		cfg := s.tlsConfig.Clone()
		if cfg.ServerName == "" {
			cfg.ServerName = host
		}
		return cfg
	}
	return &tls.Config{ServerName: host, MinVersion: tls.VersionTLS12}
}

// classify maps authentication replies to ErrCredential and everything else
// to ErrTransport.
func classify(op string, err error) error {
	var protoErr *textproto.Error
	if errors.As(err, &protoErr) {
		switch protoErr.Code {
		case 530, 534, 535:
			return pkgerrors.ErrCredential.WithMessage("SMTP %s rejected credentials", op).WithCause(err)
		}
	}
	return pkgerrors.ErrTransport.WithMessage("SMTP %s failed", op).WithCause(err)
}

func composeMessage(from string, msg Message) ([]byte, error) {
	var h mail.Header
	h.SetDate(time.Now())
	h.SetAddressList("From", []*mail.Address{{Address: from}})
	h.SetAddressList("To", []*mail.Address{{Address: msg.To}})
	h.SetSubject(sanitizeHeader(msg.Subject))
	if err := h.GenerateMessageIDWithHostname(senderDomain(from)); err != nil {
		return nil, err
	}
	if id := strings.Trim(strings.TrimSpace(msg.InReplyTo), "<>"); id != "" {
		h.SetMsgIDList("In-Reply-To", []string{id})
		h.SetMsgIDList("References", []string{id})
	}
	h.Set("Content-Type", "text/plain; charset=utf-8")

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write([]byte(msg.Body)); err != nil {
		_ = w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func senderDomain(addr string) string {
	if i := strings.LastIndex(addr, "@"); i >= 0 && i < len(addr)-1 {
		return addr[i+1:]
	}
	return "localhost"
}

func sanitizeHeader(s string) string {
	return strings.NewReplacer("\r", "", "\n", "").Replace(s)
}

// String is used in logs; the password never appears.
func (a Account) String() string {
	return fmt.Sprintf("%s@%s:%d", a.Username, a.Host, a.Port)
}
