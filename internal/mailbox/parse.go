package mailbox

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"html"
	"io"
	"mime"
	"regexp"
	"strings"
	"time"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"golang.org/x/text/encoding/simplifiedchinese"

	"mailreply/internal/constants"
	"mailreply/internal/store"
)

func init() {
	// QQ and 163 mailboxes send GBK; go-message does not map it on its own.
	charset.RegisterEncoding("gbk", simplifiedchinese.GBK)
	charset.RegisterEncoding("gb2312", simplifiedchinese.GBK)
	charset.RegisterEncoding("gb18030", simplifiedchinese.GB18030)
}

var wordDecoder = &mime.WordDecoder{CharsetReader: charset.Reader}

var imageExtensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/jpg":  ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/bmp":  ".bmp",
	"image/webp": ".webp",
	"image/tiff": ".tiff",
}

var (
	htmlDropBlocks = regexp.MustCompile(`(?is)<(script|style)[^>]*>.*?</(script|style)>`)
	htmlBreaks     = regexp.MustCompile(`(?i)<br\s*/?>|</p>|</div>`)
	htmlTags       = regexp.MustCompile(`<[^>]+>`)
	blankRuns      = regexp.MustCompile(`\n{3,}`)
)

// Parse decodes one RFC 5322 message. recipient is the address of the
// mailbox the message was read from.
func Parse(raw []byte, recipient string) (Message, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return Message{}, fmt.Errorf("failed to read message: %w", err)
	}
	if mr == nil {
		return Message{}, fmt.Errorf("failed to read message: %w", err)
	}
	defer mr.Close()

	msg := Message{
		Recipient: recipient,
		Sender:    senderAddress(&mr.Header),
		MessageID: messageID(&mr.Header),
		Subject:   decodeHeader(mr.Header.Get("Subject")),
	}
	if date, err := mr.Header.Date(); err == nil {
		msg.Date = date
	}

	var textParts, htmlParts []string
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil && !message.IsUnknownCharset(err) {
			return Message{}, fmt.Errorf("failed to read message part: %w", err)
		}
		if part == nil {
			continue
		}

		mediaType, params := partContentType(part.Header)
		switch {
		case strings.HasPrefix(mediaType, "image/"):
			payload, readErr := io.ReadAll(part.Body)
			if readErr != nil {
				return Message{}, fmt.Errorf("failed to read image part: %w", readErr)
			}
			msg.Attachments = append(msg.Attachments, imageAttachment(part.Header, mediaType, params, payload, len(msg.Attachments)))

		case isAttachment(part.Header):
			_, _ = io.Copy(io.Discard, part.Body)

		case mediaType == "text/plain" || mediaType == "":
			body, readErr := io.ReadAll(part.Body)
			if readErr != nil {
				return Message{}, fmt.Errorf("failed to read text part: %w", readErr)
			}
			textParts = append(textParts, string(body))

		case mediaType == "text/html":
			body, readErr := io.ReadAll(part.Body)
			if readErr != nil {
				return Message{}, fmt.Errorf("failed to read html part: %w", readErr)
			}
			htmlParts = append(htmlParts, string(body))

		default:
			_, _ = io.Copy(io.Discard, part.Body)
		}
	}

	body := strings.Join(textParts, "\n")
	if strings.TrimSpace(body) == "" && len(htmlParts) > 0 {
		body = htmlToText(strings.Join(htmlParts, "\n"))
	}
	msg.Content = composeContent(msg.Subject, body)
	return msg, nil
}

func senderAddress(h *mail.Header) string {
	if list, err := h.AddressList("From"); err == nil && len(list) > 0 {
		return strings.TrimSpace(list[0].Address)
	}
	raw := strings.TrimSpace(h.Get("From"))
	if i := strings.LastIndex(raw, "<"); i >= 0 {
		raw = strings.TrimSuffix(raw[i+1:], ">")
	}
	return strings.TrimSpace(raw)
}

// messageID returns the Message-ID without angle brackets, capped at the
// width of the store column. A missing header yields "".
func messageID(h *mail.Header) string {
	id, err := h.MessageID()
	if err != nil || id == "" {
		id = strings.TrimSpace(h.Get("Message-Id"))
		id = strings.TrimSuffix(strings.TrimPrefix(id, "<"), ">")
	}
	return truncateRunes(id, constants.MaxMessageIDLength)
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func decodeHeader(s string) string {
	s = strings.TrimSpace(s)
	if !strings.Contains(s, "=?") {
		return s
	}
	decoded, err := wordDecoder.DecodeHeader(s)
	if err != nil {
		return s
	}
	return strings.TrimSpace(decoded)
}

func partContentType(h mail.PartHeader) (string, map[string]string) {
	raw := h.Get("Content-Type")
	if raw == "" {
		return "", nil
	}
	mediaType, params, err := mime.ParseMediaType(raw)
	if err != nil {
		if i := strings.IndexByte(raw, ';'); i >= 0 {
			raw = raw[:i]
		}
		return strings.ToLower(strings.TrimSpace(raw)), nil
	}
	return strings.ToLower(mediaType), params
}

func isAttachment(h mail.PartHeader) bool {
	if _, ok := h.(*mail.AttachmentHeader); ok {
		return true
	}
	disp := strings.ToLower(strings.TrimSpace(h.Get("Content-Disposition")))
	return strings.HasPrefix(disp, "attachment")
}

func imageAttachment(h mail.PartHeader, mediaType string, params map[string]string, payload []byte, index int) store.Attachment {
	name := partFilename(h, params)
	if name == "" {
		ext, ok := imageExtensions[mediaType]
		if !ok {
			ext = ".img"
		}
		name = fmt.Sprintf("image%d%s", index+1, ext)
	}

	var hash string
	if len(payload) > 0 {
		sum := sha256.Sum256(payload)
		hash = hex.EncodeToString(sum[:])
	}

	return store.Attachment{
		Filename:    name,
		MediaType:   mediaType,
		SizeBytes:   int64(len(payload)),
		ContentHash: hash,
		StorageURL:  "",
	}
}

func partFilename(h mail.PartHeader, params map[string]string) string {
	if ah, ok := h.(*mail.AttachmentHeader); ok {
		if name, err := ah.Filename(); err == nil && name != "" {
			return decodeHeader(name)
		}
	}
	if disp := h.Get("Content-Disposition"); disp != "" {
		if _, dparams, err := mime.ParseMediaType(disp); err == nil && dparams["filename"] != "" {
			return decodeHeader(dparams["filename"])
		}
	}
	return decodeHeader(params["name"])
}

func htmlToText(s string) string {
	s = htmlDropBlocks.ReplaceAllString(s, "")
	s = htmlBreaks.ReplaceAllString(s, "\n")
	s = htmlTags.ReplaceAllString(s, "")
	s = html.UnescapeString(s)
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = blankRuns.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// receivedAt prefers the server's internal date over the Date header.
func receivedAt(internal, header time.Time) time.Time {
	if !internal.IsZero() {
		return internal
	}
	return header
}
