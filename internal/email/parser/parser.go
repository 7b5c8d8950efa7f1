package parser

import (
	"fmt"
	stdmail "net/mail"
	"regexp"
	"strconv"
	"strings"

	"github.com/citizenspring/website/internal/models"
)

// Actions selectable through address tag suffixes. Everything else is
// routed as a plain post.
const (
	ActionPost     = "post"
	ActionFollow   = "follow"
	ActionUnfollow = "unfollow"
	ActionEdit     = "edit"
)

var recognizedActions = map[string]bool{
	ActionFollow:   true,
	ActionUnfollow: true,
	ActionEdit:     true,
	ActionPost:     true,
}

// Parser extracts routing information from inbound email addressing
// fields. The domain identifies which recipients are platform addresses.
type Parser struct {
	domain string
}

// New returns a Parser for the given serving domain.
func New(domain string) *Parser {
	return &Parser{domain: strings.ToLower(strings.TrimSpace(domain))}
}

// Address is the decomposed local part of a platform recipient address.
// Reply addresses generated by the dispatcher have the form
// slug/threadID(/postID)@domain and resolve back to their thread here.
type Address struct {
	GroupSlug    string
	Tags         []string
	ParentPostID int
	PostID       int
}

// ParseHeaders extracts the routing data for an inbound message. It fails
// with models.ErrInvalidPayload when no recipient field is present; that
// error must abort the pipeline before any side effect.
func (p *Parser) ParseHeaders(email *models.InboundEmail) (*models.ParsedHeaders, error) {
	if email == nil || (strings.TrimSpace(email.To) == "" && strings.TrimSpace(email.Cc) == "") {
		return nil, fmt.Errorf(`%w: missing "To"`, models.ErrInvalidPayload)
	}

	toAddresses := ExtractNamesAndEmails(email.To)
	ccAddresses := ExtractNamesAndEmails(email.Cc)
	all := append(append([]models.EmailAddress{}, toAddresses...), ccAddresses...)

	primary := p.primaryRecipient(toAddresses, ccAddresses)
	if primary == "" {
		return nil, fmt.Errorf(`%w: missing "To"`, models.ErrInvalidPayload)
	}
	addr := ParseEmailAddress(primary)

	headers := &models.ParsedHeaders{
		GroupSlug:    addr.GroupSlug,
		Action:       ActionPost,
		ParentPostID: addr.ParentPostID,
		PostID:       addr.PostID,
	}
	for _, tag := range addr.Tags {
		if recognizedActions[tag] {
			headers.Action = tag
			continue
		}
		headers.Tags = append(headers.Tags, tag)
	}

	// People the sender explicitly copied become followers; platform
	// addresses are routing, not recipients.
	seen := make(map[string]bool)
	for _, recipient := range all {
		if recipient.Email == "" || seen[recipient.Email] {
			continue
		}
		seen[recipient.Email] = true
		if p.isPlatformAddress(recipient.Email) {
			continue
		}
		headers.Recipients = append(headers.Recipients, recipient)
	}
	return headers, nil
}

func (p *Parser) primaryRecipient(to, cc []models.EmailAddress) string {
	for _, list := range [][]models.EmailAddress{to, cc} {
		for _, a := range list {
			if p.isPlatformAddress(a.Email) {
				return a.Email
			}
		}
	}
	if len(to) > 0 {
		return to[0].Email
	}
	return ""
}

func (p *Parser) isPlatformAddress(email string) bool {
	if p.domain == "" {
		return false
	}
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return false
	}
	return strings.ToLower(email[at+1:]) == p.domain
}

// ParseEmailAddress decomposes the local part of an address into the group
// slug, tags and any thread coordinates embedded by the dispatcher.
func ParseEmailAddress(email string) Address {
	var addr Address
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" {
		return addr
	}
	local := email
	if at := strings.LastIndex(email, "@"); at >= 0 {
		local = email[:at]
	}

	// slug/threadID(/postID) reply addresses, optionally carrying +tags
	// on the last segment (e.g. slug/12+edit).
	if parts := strings.Split(local, "/"); len(parts) > 1 {
		last := len(parts) - 1
		if plus := strings.Index(parts[last], "+"); plus >= 0 {
			for _, tag := range strings.Split(parts[last][plus+1:], "+") {
				if tag = strings.TrimSpace(tag); tag != "" {
					addr.Tags = append(addr.Tags, tag)
				}
			}
			parts[last] = parts[last][:plus]
		}
		addr.GroupSlug = parts[0]
		if id, err := strconv.Atoi(parts[1]); err == nil {
			addr.ParentPostID = id
		}
		if len(parts) > 2 {
			if id, err := strconv.Atoi(parts[2]); err == nil {
				addr.PostID = id
			}
		}
		return addr
	}

	tokens := strings.Split(local, "+")
	addr.GroupSlug = tokens[0]
	for _, tag := range tokens[1:] {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		addr.Tags = append(addr.Tags, tag)
	}
	return addr
}

var addressPattern = regexp.MustCompile(`<?([^\s<>,]+@[^\s<>,]+)>?`)

// ExtractNamesAndEmails parses a free-text address list such as
// "First Last <a@b.com>, c@d.com" into name/email pairs. Malformed
// entries are dropped rather than failing the whole list.
func ExtractNamesAndEmails(value string) []models.EmailAddress {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}

	var result []models.EmailAddress
	seen := make(map[string]bool)
	appendAddress := func(name, email string) {
		email = strings.ToLower(strings.TrimSpace(email))
		if email == "" || !strings.Contains(email, "@") || seen[email] {
			return
		}
		seen[email] = true
		result = append(result, models.EmailAddress{
			Name:  cleanName(name),
			Email: email,
		})
	}

	if list, err := stdmail.ParseAddressList(value); err == nil {
		for _, a := range list {
			appendAddress(a.Name, a.Address)
		}
		return result
	}

	// Tolerant fallback: parse entry by entry, salvage bare addresses.
	for _, entry := range strings.Split(value, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if a, err := stdmail.ParseAddress(entry); err == nil {
			appendAddress(a.Name, a.Address)
			continue
		}
		if m := addressPattern.FindStringSubmatch(entry); m != nil {
			name := strings.TrimSpace(strings.SplitN(entry, "<", 2)[0])
			appendAddress(name, m[1])
		}
	}
	return result
}

func cleanName(name string) string {
	name = strings.TrimSpace(name)
	name = strings.Trim(name, `"'`)
	return strings.TrimSpace(name)
}

// NormalizeMessageID strips angle brackets and quotes from a Message-Id
// header value.
func NormalizeMessageID(value string) string {
	value = strings.TrimSpace(value)
	value = strings.Trim(value, "<>")
	value = strings.Trim(value, `"`)
	return strings.TrimSpace(value)
}

// MessageIDVariants returns the lookup candidates for a stored message id:
// the verbatim header value plus its bracketed and bare forms. Mail
// clients are inconsistent about angle brackets in In-Reply-To.
func MessageIDVariants(value string) []string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	bare := NormalizeMessageID(value)
	variants := []string{value}
	for _, v := range []string{"<" + bare + ">", bare} {
		if v != value {
			variants = append(variants, v)
		}
	}
	return variants
}
