package queue

import (
	"fmt"
	"strconv"
	"strings"
)

type Kind int

const (
	KindIdentity Kind = iota
	KindLegacyID
)

func (k Kind) String() string {
	if k == KindLegacyID {
		return "legacy_id"
	}
	return "identity"
}

// Task names one record to reply to. Tasks written by older producers carry
// the numeric row id; current producers write the identity.
type Task struct {
	Kind     Kind
	Identity string
	LegacyID int64
}

func IdentityTask(identity string) Task {
	return Task{Kind: KindIdentity, Identity: identity}
}

func LegacyTask(id int64) Task {
	return Task{Kind: KindLegacyID, LegacyID: id}
}

// Encode renders the task as the plain-text queue payload.
func (t Task) Encode() string {
	if t.Kind == KindLegacyID {
		return strconv.FormatInt(t.LegacyID, 10)
	}
	return t.Identity
}

func (t Task) String() string {
	return t.Kind.String() + ":" + t.Encode()
}

// ParseTask decodes a queue payload. An all-decimal payload is a legacy row
// id; anything else is an identity.
func ParseTask(raw string) (Task, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Task{}, fmt.Errorf("empty task payload")
	}
	if isDecimal(raw) {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return Task{}, fmt.Errorf("invalid legacy task id %q: %w", raw, err)
		}
		return LegacyTask(id), nil
	}
	return IdentityTask(raw), nil
}

func isDecimal(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
