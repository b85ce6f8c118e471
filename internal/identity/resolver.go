// Package identity derives the stable key every other component uses to
// address an inbound message.
package identity

import (
	"strings"

	"github.com/google/uuid"

	"mailreply/internal/config"
	"mailreply/internal/constants"
)

// Resolver hashes a bounded prefix of the content together with the sender
// and, when present, the protocol message-id.
type Resolver struct {
	anchoredPrefix   int
	unanchoredPrefix int
}

func NewResolver(cfg config.IdentityConfig) *Resolver {
	r := &Resolver{
		anchoredPrefix:   cfg.AnchoredPrefix,
		unanchoredPrefix: cfg.UnanchoredPrefix,
	}
	if r.anchoredPrefix <= 0 {
		r.anchoredPrefix = constants.DefaultAnchoredPrefix
	}
	if r.unanchoredPrefix <= 0 {
		r.unanchoredPrefix = constants.DefaultUnanchoredPrefix
	}
	return r
}

// Resolve never fails. A missing message-id falls back to a longer content
// prefix instead of an error.
func (r *Resolver) Resolve(messageID, sender, content string) string {
	messageID = strings.TrimSpace(messageID)
	sender = Normalize(sender)

	var name string
	if messageID != "" {
		name = messageID + ":" + sender + ":" + prefix(content, r.anchoredPrefix)
	} else {
		name = sender + ":" + prefix(content, r.unanchoredPrefix)
	}

	return uuid.NewSHA1(uuid.NameSpaceDNS, []byte(name)).String()
}

// Normalize trims and lowercases a mail address.
func Normalize(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

func prefix(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
