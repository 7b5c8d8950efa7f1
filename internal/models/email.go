package models

import "strings"

// InboundEmail is the normalized webhook payload delivered by the inbound
// mail relay (Mailgun-style field names).
type InboundEmail struct {
	From         string `json:"From" form:"From"`
	Sender       string `json:"sender" form:"sender"`
	To           string `json:"To" form:"To"`
	Cc           string `json:"Cc" form:"Cc"`
	Subject      string `json:"subject" form:"subject"`
	MessageID    string `json:"Message-Id" form:"Message-Id"`
	InReplyTo    string `json:"In-Reply-To" form:"In-Reply-To"`
	References   string `json:"References" form:"References"`
	StrippedHTML string `json:"stripped-html" form:"stripped-html"`
	StrippedText string `json:"stripped-text" form:"stripped-text"`
	BodyHTML     string `json:"body-html" form:"body-html"`
	BodyText     string `json:"body-plain" form:"body-plain"`
}

// HasContent reports whether the message carries any usable body text.
func (e *InboundEmail) HasContent() bool {
	return strings.TrimSpace(e.StrippedText) != "" || strings.TrimSpace(e.StrippedHTML) != ""
}

// EmailAddress is a parsed "Name <email>" pair. Email is always lower case.
type EmailAddress struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// ParsedHeaders is the routing information extracted from an inbound
// email's addressing fields.
type ParsedHeaders struct {
	GroupSlug    string
	Tags         []string
	Recipients   []EmailAddress
	Action       string
	ParentPostID int
	PostID       int
}

// InboundStatus values for stored webhook payloads awaiting reprocessing.
const (
	InboundStatusReceived = "RECEIVED"
	InboundStatusFailed   = "FAILED"
	InboundStatusDone     = "DONE"
)

// StoredInboundEmail is a persisted webhook payload, kept so that failed
// deliveries can be reprocessed on a schedule.
type StoredInboundEmail struct {
	ID        int    `json:"id" db:"id"`
	MessageID string `json:"message_id" db:"message_id"`
	Payload   []byte `json:"payload" db:"payload"`
	Status    string `json:"status" db:"status"`
	Attempts  int    `json:"attempts" db:"attempts"`
	LastError string `json:"last_error,omitempty" db:"last_error"`
}
