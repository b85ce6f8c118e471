// Package mailbox lists and parses inbound mail for the ingestion producer.
package mailbox

import (
	"context"
	"strings"
	"time"

	"mailreply/internal/config"
	"mailreply/internal/constants"
	"mailreply/internal/store"
)

type Account struct {
	Name     string
	Host     string
	Port     int
	Username string
	Password string
	// TLS selects implicit TLS; otherwise the connection upgrades with STARTTLS.
	TLS bool
}

func AccountFromConfig(cfg config.AccountConfig) Account {
	port := cfg.Port
	if port == 0 {
		port = constants.DefaultIMAPPort
	}
	name := cfg.Name
	if name == "" {
		name = cfg.Username
	}
	return Account{
		Name:     name,
		Host:     cfg.Host,
		Port:     port,
		Username: cfg.Username,
		Password: cfg.Password,
		TLS:      port == constants.DefaultIMAPPort,
	}
}

// Message is one fetched and decoded inbound mail.
type Message struct {
	UID       uint32
	MessageID string
	Sender    string
	Recipient string
	Subject   string
	// Content is "Subject: <subject>\n\n<body>", or just the body when the
	// subject is empty.
	Content     string
	Attachments []store.Attachment
	Date        time.Time
}

// Source enumerates the messages of one account received since a point in
// time, in server order.
type Source interface {
	ListSince(ctx context.Context, account Account, since time.Time) ([]Message, error)
}

func composeContent(subject, body string) string {
	body = strings.TrimSpace(body)
	if subject == "" {
		return body
	}
	return "Subject: " + subject + "\n\n" + body
}
