package inbound

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/citizenspring/website/internal/email/parser"
	"github.com/citizenspring/website/internal/email/sanitizer"
	"github.com/citizenspring/website/internal/metrics"
	"github.com/citizenspring/website/internal/models"
	"github.com/citizenspring/website/internal/service"
)

// Results reported to the inbound relay.
const (
	ResultOK        = "ok"
	ResultDuplicate = "duplicate"
)

type identityResolver interface {
	FindOrCreate(ctx context.Context, email, name string) (*models.User, error)
}

type groupResolver interface {
	Resolve(ctx context.Context, slug string, tags []string, sender *models.User, recipients []*models.User, email *models.InboundEmail) (*service.GroupResolution, error)
	AddFollowers(ctx context.Context, group *models.Group, users []*models.User) error
	RemoveFollower(ctx context.Context, group *models.Group, user *models.User) error
}

type postWriter interface {
	ResolveThread(ctx context.Context, headers *models.ParsedHeaders, email *models.InboundEmail) (*int, error)
	CreateFromEmail(ctx context.Context, group *models.Group, author *models.User, recipients []*models.User, email *models.InboundEmail, parentPostID *int, cleanHTML string) (*models.Post, error)
	FindByLogicalID(ctx context.Context, postID int, status string) (*models.Post, error)
	Edit(ctx context.Context, current *models.Post, editor *models.User, changes service.PostEdit) (*models.Post, error)
}

type postDispatcher interface {
	DispatchPost(ctx context.Context, group *models.Group, post *models.Post, sender *models.User, recipients []models.EmailAddress) error
	NotifyEditPending(ctx context.Context, group *models.Group, draft *models.Post, editor *models.User) error
}

type duplicateLookup interface {
	FindByMessageID(ctx context.Context, messageID string) (*models.Post, error)
}

type inboundJournal interface {
	Create(ctx context.Context, email *models.StoredInboundEmail) error
	MarkDone(ctx context.Context, id int) error
	MarkFailed(ctx context.Context, id int, cause string) error
}

// Processor runs one inbound email through the full pipeline: parse,
// deduplicate, resolve identities, group and thread, write the post and
// fan out notifications. One invocation per message, no internal
// parallelism.
type Processor struct {
	parser     *parser.Parser
	sanitizer  *sanitizer.Sanitizer
	users      identityResolver
	groups     groupResolver
	posts      postWriter
	dupes      duplicateLookup
	dispatcher postDispatcher
	journal    inboundJournal
	logger     *log.Logger
}

// ProcessorOption customizes a Processor.
type ProcessorOption func(*Processor)

// WithProcessorLogger overrides the default logger.
func WithProcessorLogger(logger *log.Logger) ProcessorOption {
	return func(p *Processor) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithJournal wires the payload store used by the reprocess runner.
func WithJournal(journal inboundJournal) ProcessorOption {
	return func(p *Processor) {
		p.journal = journal
	}
}

func NewProcessor(parser *parser.Parser, sanitizer *sanitizer.Sanitizer, users identityResolver, groups groupResolver, posts postWriter, dupes duplicateLookup, dispatcher postDispatcher, opts ...ProcessorOption) *Processor {
	p := &Processor{
		parser:     parser,
		sanitizer:  sanitizer,
		users:      users,
		groups:     groups,
		posts:      posts,
		dupes:      dupes,
		dispatcher: dispatcher,
		logger:     log.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process handles one inbound payload. It returns ResultOK or
// ResultDuplicate; any error means nothing visible was committed as
// "done" and the payload is safe to retry.
func (p *Processor) Process(ctx context.Context, email *models.InboundEmail) (string, error) {
	headers, err := p.parser.ParseHeaders(email)
	if err != nil {
		metrics.EmailsProcessed.WithLabelValues(metrics.OutcomeError).Inc()
		return "", err
	}

	if p.isDuplicate(ctx, email.MessageID) {
		metrics.EmailsProcessed.WithLabelValues(metrics.OutcomeDuplicate).Inc()
		return ResultDuplicate, nil
	}

	journalID := p.journalReceived(ctx, email)

	result, err := p.run(ctx, email, headers)
	if err != nil {
		metrics.EmailsProcessed.WithLabelValues(metrics.OutcomeError).Inc()
		p.journalFailed(ctx, journalID, err)
		return "", err
	}
	p.journalDone(ctx, journalID)
	return result, nil
}

func (p *Processor) run(ctx context.Context, email *models.InboundEmail, headers *models.ParsedHeaders) (string, error) {
	sender, err := p.resolveSender(ctx, email)
	if err != nil {
		return "", err
	}
	recipients, err := p.resolveRecipients(ctx, headers.Recipients)
	if err != nil {
		return "", err
	}

	resolution, err := p.groups.Resolve(ctx, headers.GroupSlug, headers.Tags, sender, recipients, email)
	if err != nil {
		return "", err
	}
	group := resolution.Group
	if resolution.SkipPost {
		return ResultOK, nil
	}

	switch headers.Action {
	case parser.ActionFollow:
		if err := p.groups.AddFollowers(ctx, group, []*models.User{sender}); err != nil {
			return "", err
		}
		return ResultOK, nil
	case parser.ActionUnfollow:
		if err := p.groups.RemoveFollower(ctx, group, sender); err != nil && !errors.Is(err, models.ErrNotFound) {
			return "", err
		}
		return ResultOK, nil
	case parser.ActionEdit:
		return p.handleEdit(ctx, email, headers, group, sender)
	}

	if !email.HasContent() {
		metrics.EmailsProcessed.WithLabelValues(metrics.OutcomeEmpty).Inc()
		return ResultOK, nil
	}

	parentPostID, err := p.posts.ResolveThread(ctx, headers, email)
	if err != nil {
		return "", err
	}

	clean := p.sanitizer.Sanitize(p.htmlBody(email), p.textBody(email))
	post, err := p.posts.CreateFromEmail(ctx, group, sender, recipients, email, parentPostID, clean)
	if err != nil {
		return "", err
	}

	// The post is committed; notification failures are logged by the
	// dispatcher and never roll it back.
	if err := p.dispatcher.DispatchPost(ctx, group, post, sender, headers.Recipients); err != nil {
		p.logger.Printf("inbound: dispatch for post %d failed: %v", post.LogicalID(), err)
	}

	metrics.EmailsProcessed.WithLabelValues(metrics.OutcomeOK).Inc()
	return ResultOK, nil
}

// handleEdit turns a +edit email into a draft version awaiting admin
// approval. The target post comes from the reply address coordinates.
func (p *Processor) handleEdit(ctx context.Context, email *models.InboundEmail, headers *models.ParsedHeaders, group *models.Group, sender *models.User) (string, error) {
	targetID := headers.PostID
	if targetID == 0 {
		targetID = headers.ParentPostID
	}
	if targetID == 0 {
		return "", fmt.Errorf("%w: edit without a target post", models.ErrInvalidPayload)
	}
	current, err := p.posts.FindByLogicalID(ctx, targetID, models.StatusPublished)
	if err != nil {
		return "", err
	}

	if !email.HasContent() {
		return "", fmt.Errorf("%w: edit with an empty body", models.ErrInvalidPayload)
	}
	clean := p.sanitizer.Sanitize(p.htmlBody(email), p.textBody(email))
	changes := service.PostEdit{HTML: &clean}
	if title := strings.TrimSpace(email.Subject); title != "" && title != current.Title {
		changes.Title = &title
	}
	draft, err := p.posts.Edit(ctx, current, sender, changes)
	if err != nil {
		return "", err
	}
	if err := p.dispatcher.NotifyEditPending(ctx, group, draft, sender); err != nil {
		p.logger.Printf("inbound: edit approval request for post %d failed: %v", draft.LogicalID(), err)
	}
	metrics.EmailsProcessed.WithLabelValues(metrics.OutcomeOK).Inc()
	return ResultOK, nil
}

func (p *Processor) resolveSender(ctx context.Context, email *models.InboundEmail) (*models.User, error) {
	from := email.From
	if strings.TrimSpace(from) == "" {
		from = email.Sender
	}
	parsed := parser.ExtractNamesAndEmails(from)
	if len(parsed) == 0 {
		return nil, fmt.Errorf("%w: missing sender address", models.ErrInvalidPayload)
	}
	return p.users.FindOrCreate(ctx, parsed[0].Email, parsed[0].Name)
}

func (p *Processor) resolveRecipients(ctx context.Context, addresses []models.EmailAddress) ([]*models.User, error) {
	users := make([]*models.User, 0, len(addresses))
	for _, addr := range addresses {
		user, err := p.users.FindOrCreate(ctx, addr.Email, addr.Name)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, nil
}

// isDuplicate checks the stored message ids; any match, whatever the
// version or status, short-circuits the pipeline with zero side effects.
func (p *Processor) isDuplicate(ctx context.Context, messageID string) bool {
	if strings.TrimSpace(messageID) == "" {
		return false
	}
	for _, variant := range parser.MessageIDVariants(messageID) {
		if _, err := p.dupes.FindByMessageID(ctx, variant); err == nil {
			return true
		}
	}
	return false
}

func (p *Processor) htmlBody(email *models.InboundEmail) string {
	if strings.TrimSpace(email.StrippedHTML) != "" {
		return email.StrippedHTML
	}
	return email.BodyHTML
}

func (p *Processor) textBody(email *models.InboundEmail) string {
	if strings.TrimSpace(email.StrippedText) != "" {
		return email.StrippedText
	}
	return email.BodyText
}

func (p *Processor) journalReceived(ctx context.Context, email *models.InboundEmail) int {
	if p.journal == nil {
		return 0
	}
	payload, err := json.Marshal(email)
	if err != nil {
		p.logger.Printf("inbound: journal marshal failed: %v", err)
		return 0
	}
	stored := &models.StoredInboundEmail{
		MessageID: email.MessageID,
		Payload:   payload,
		Status:    models.InboundStatusReceived,
	}
	if err := p.journal.Create(ctx, stored); err != nil {
		p.logger.Printf("inbound: journal write failed: %v", err)
		return 0
	}
	return stored.ID
}

func (p *Processor) journalDone(ctx context.Context, id int) {
	if p.journal == nil || id == 0 {
		return
	}
	if err := p.journal.MarkDone(ctx, id); err != nil {
		p.logger.Printf("inbound: journal done failed: %v", err)
	}
}

func (p *Processor) journalFailed(ctx context.Context, id int, cause error) {
	if p.journal == nil || id == 0 {
		return
	}
	if err := p.journal.MarkFailed(ctx, id, cause.Error()); err != nil {
		p.logger.Printf("inbound: journal failure update failed: %v", err)
	}
}
