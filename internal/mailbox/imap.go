package mailbox

import (
	"context"
	"fmt"
	"mime"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-message/charset"

	"mailreply/internal/constants"
	"mailreply/internal/logger"
	pkgerrors "mailreply/pkg/errors"
)

const inbox = "INBOX"

// IMAPSource reads INBOX read-only over IMAP. Every call opens and logs out
// its own session.
type IMAPSource struct {
	timeout time.Duration
	logger  logger.Logger
}

func NewIMAPSource(timeout time.Duration, log logger.Logger) *IMAPSource {
	if timeout <= 0 {
		timeout = constants.DefaultMailboxTimeout
	}
	return &IMAPSource{timeout: timeout, logger: log}
}

func (s *IMAPSource) connect(ctx context.Context, account Account) (*imapclient.Client, error) {
	addr := net.JoinHostPort(account.Host, strconv.Itoa(account.Port))
	opts := &imapclient.Options{
		Dialer:      &net.Dialer{Timeout: s.timeout},
		WordDecoder: &mime.WordDecoder{CharsetReader: charset.Reader},
	}

	var (
		client *imapclient.Client
		err    error
	)
	if account.TLS {
		client, err = imapclient.DialTLS(addr, opts)
	} else {
		client, err = imapclient.DialStartTLS(addr, opts)
	}
	if err != nil {
		return nil, pkgerrors.ErrTransport.WithMessage("connecting to IMAP %s", addr).WithCause(err)
	}

	// unblock any pending command when the pass is cancelled
	stop := context.AfterFunc(ctx, func() { _ = client.Close() })
	defer stop()

	if err := client.Login(account.Username, account.Password).Wait(); err != nil {
		_ = client.Close()
		return nil, pkgerrors.ErrCredential.WithMessage("IMAP login failed for %s", account.Username).WithCause(err)
	}
	return client, nil
}

// ListSince fetches every INBOX message whose internal date is at or after
// since. IMAP SEARCH SINCE has day granularity, so the finer cut happens here.
func (s *IMAPSource) ListSince(ctx context.Context, account Account, since time.Time) ([]Message, error) {
	client, err := s.connect(ctx, account)
	if err != nil {
		return nil, err
	}
	defer func() { _ = client.Logout().Wait() }()

	stop := context.AfterFunc(ctx, func() { _ = client.Close() })
	defer stop()

	if _, err := client.Select(inbox, &imap.SelectOptions{ReadOnly: true}).Wait(); err != nil {
		return nil, s.commandError(ctx, "selecting INBOX", err)
	}

	searchData, err := client.UIDSearch(&imap.SearchCriteria{Since: since}, nil).Wait()
	if err != nil {
		return nil, s.commandError(ctx, "searching messages", err)
	}
	uids := searchData.AllUIDs()
	if len(uids) == 0 {
		return nil, nil
	}

	bodySection := &imap.FetchItemBodySection{Peek: true}
	fetchCmd := client.Fetch(imap.UIDSetNum(uids...), &imap.FetchOptions{
		UID:          true,
		InternalDate: true,
		BodySection:  []*imap.FetchItemBodySection{bodySection},
	})
	defer fetchCmd.Close()

	var messages []Message
	for {
		data := fetchCmd.Next()
		if data == nil {
			break
		}
		buf, err := data.Collect()
		if err != nil {
			return nil, s.commandError(ctx, "collecting message", err)
		}
		if !buf.InternalDate.IsZero() && buf.InternalDate.Before(since) {
			continue
		}

		raw := buf.FindBodySection(bodySection)
		if raw == nil {
			s.logger.WarnwCtx(ctx, "Message has no body, skipping", "uid", buf.UID, "account", account.Name)
			continue
		}
		msg, err := Parse(raw, account.Username)
		if err != nil {
			s.logger.WarnwCtx(ctx, "Failed to parse message, skipping",
				"uid", buf.UID,
				"account", account.Name,
				"error", err,
			)
			continue
		}
		msg.UID = uint32(buf.UID)
		msg.Date = receivedAt(buf.InternalDate, msg.Date)
		messages = append(messages, msg)
	}

	if err := fetchCmd.Close(); err != nil {
		return nil, s.commandError(ctx, "fetching messages", err)
	}
	return messages, nil
}

func (s *IMAPSource) commandError(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return pkgerrors.ErrTimeout.WithMessage("%s interrupted", op).WithCause(ctxErr)
	}
	return pkgerrors.ErrTransport.WithMessage("%s", op).WithCause(fmt.Errorf("imap: %w", err))
}
