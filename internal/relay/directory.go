// Package relay sends replies through the SMTP account mapped to the
// mailbox that received the original message.
package relay

import (
	"fmt"
	"sort"

	"mailreply/internal/config"
	"mailreply/internal/constants"
	"mailreply/internal/identity"
)

type Account struct {
	Host     string
	Port     int
	Username string
	Password string
}

func (a Account) implicitTLS() bool {
	return a.Port == constants.SMTPImplicitTLSPort
}

func accountFromConfig(cfg config.RelayAccountConfig) Account {
	port := cfg.Port
	if port == 0 {
		port = constants.SMTPImplicitTLSPort
	}
	return Account{Host: cfg.Host, Port: port, Username: cfg.Username, Password: cfg.Password}
}

// Directory maps a normalized recipient address to the relay account that
// answers for it. It is built once and never mutated.
type Directory struct {
	accounts map[string]Account
	fallback *Account
}

func NewDirectory(cfg config.RelayConfig) (*Directory, error) {
	d := &Directory{accounts: make(map[string]Account)}
	for _, acct := range cfg.Accounts {
		for _, addr := range acct.MapTo {
			key := identity.Normalize(addr)
			if key == "" {
				continue
			}
			if _, dup := d.accounts[key]; dup {
				return nil, fmt.Errorf("recipient %s is mapped to more than one relay account", key)
			}
			d.accounts[key] = accountFromConfig(acct)
		}
	}
	if cfg.Default != nil && cfg.Default.Host != "" {
		fallback := accountFromConfig(*cfg.Default)
		d.fallback = &fallback
	}
	return d, nil
}

// Lookup returns the account for recipient, or the default account when one
// is configured. ok is false when neither exists.
func (d *Directory) Lookup(recipient string) (Account, bool) {
	if acct, ok := d.accounts[identity.Normalize(recipient)]; ok {
		return acct, true
	}
	if d.fallback != nil {
		return *d.fallback, true
	}
	return Account{}, false
}

func (d *Directory) Recipients() []string {
	out := make([]string, 0, len(d.accounts))
	for addr := range d.accounts {
		out = append(out, addr)
	}
	sort.Strings(out)
	return out
}

func (d *Directory) Len() int {
	return len(d.accounts)
}
