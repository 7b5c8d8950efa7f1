package inbound

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	gomessage "github.com/emersion/go-message"
	gomail "github.com/emersion/go-message/mail"
	htmlcharset "golang.org/x/net/html/charset"

	"github.com/citizenspring/website/internal/models"
)

func init() {
	gomessage.CharsetReader = func(charset string, input io.Reader) (io.Reader, error) {
		return htmlcharset.NewReaderLabel(charset, input)
	}
}

const maxRawBodyBytes = 512 * 1024

// ParseRawMessage converts a raw RFC 822 message into the webhook
// payload shape, for relays that forward the message unparsed. The body
// is not quote-stripped here; the sanitizer does that downstream.
func ParseRawMessage(raw []byte) (*models.InboundEmail, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty message", models.ErrInvalidPayload)
	}
	reader, err := gomail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse raw message: %w", err)
	}

	email := &models.InboundEmail{
		From:       reader.Header.Get("From"),
		Sender:     reader.Header.Get("Sender"),
		To:         reader.Header.Get("To"),
		Cc:         reader.Header.Get("Cc"),
		MessageID:  reader.Header.Get("Message-Id"),
		InReplyTo:  reader.Header.Get("In-Reply-To"),
		References: reader.Header.Get("References"),
	}
	if subject, err := reader.Header.Subject(); err == nil {
		email.Subject = subject
	} else {
		email.Subject = reader.Header.Get("Subject")
	}

	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			break
		}
		header, ok := part.Header.(*gomail.InlineHeader)
		if !ok {
			continue
		}
		mediaType, _, err := header.ContentType()
		if err != nil {
			mediaType = "text/plain"
		}
		body, err := io.ReadAll(io.LimitReader(part.Body, maxRawBodyBytes))
		if err != nil {
			continue
		}
		content := string(body)
		switch {
		case strings.HasPrefix(mediaType, "text/html") && email.BodyHTML == "":
			email.BodyHTML = content
		case strings.HasPrefix(mediaType, "text/plain") && email.BodyText == "":
			email.BodyText = content
		}
	}

	// No relay pre-stripped these; the sanitizer handles quoting.
	email.StrippedHTML = email.BodyHTML
	email.StrippedText = email.BodyText
	return email, nil
}
