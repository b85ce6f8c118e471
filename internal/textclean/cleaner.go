// Package textclean strips quoted history from inbound mail before it is
// handed to the completion service.
package textclean

import (
	"fmt"
	"regexp"
	"strings"

	"mailreply/internal/config"
)

// DefaultSeparators are tried in order; the first one that matches wins.
var DefaultSeparators = []string{
	`(?i).*?(原始邮件|Original Message).*?`,
	`(?im)(?:From|发件人|Sent|发送时间|收件人|Subject|主题)\s*[:：].*`,
	`[-_]{20,}`,
	`(?i)On\s.+?wrote\s*:`,
}

const subjectPreamble = "Subject: "

type Cleaner struct {
	enabled    bool
	separators []*regexp.Regexp
}

func New(cfg config.CleaningConfig) (*Cleaner, error) {
	exprs := cfg.Separators
	if len(exprs) == 0 {
		exprs = DefaultSeparators
	}

	c := &Cleaner{enabled: cfg.Enabled}
	for _, expr := range exprs {
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("invalid separator %q: %w", expr, err)
		}
		c.separators = append(c.separators, re)
	}
	return c, nil
}

// Clean drops everything from the first matching separator onwards. Only the
// earliest-listed separator that matches is applied.
func (c *Cleaner) Clean(text string) string {
	if !c.enabled {
		return strings.TrimSpace(text)
	}
	for _, re := range c.separators {
		if loc := re.FindStringIndex(text); loc != nil {
			text = text[:loc[0]]
			break
		}
	}
	return strings.TrimSpace(text)
}

// CleanMessage cleans stored content of the form "Subject: ...\n\n<body>".
// The subject line is kept out of separator matching and re-attached; an
// empty body yields "" so callers can short-circuit.
func (c *Cleaner) CleanMessage(content string) string {
	subject, body, ok := splitSubject(content)
	if !ok {
		return c.Clean(content)
	}

	cleaned := c.Clean(body)
	if cleaned == "" {
		return ""
	}
	return subjectPreamble + subject + "\n\n" + cleaned
}

func splitSubject(content string) (subject, body string, ok bool) {
	if !strings.HasPrefix(content, subjectPreamble) {
		return "", "", false
	}
	rest := content[len(subjectPreamble):]
	subject, body, found := strings.Cut(rest, "\n\n")
	if !found {
		return strings.TrimSpace(rest), "", true
	}
	return strings.TrimSpace(subject), body, true
}
