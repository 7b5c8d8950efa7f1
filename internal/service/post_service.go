package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"
	"github.com/k3a/html2text"

	"github.com/citizenspring/website/internal/email/parser"
	"github.com/citizenspring/website/internal/models"
	"github.com/citizenspring/website/internal/utils"
)

type postStore interface {
	FindByMessageID(ctx context.Context, messageID string) (*models.Post, error)
	FindByLogicalID(ctx context.Context, postID int, status string) (*models.Post, error)
	GetByID(ctx context.Context, id int) (*models.Post, error)
	Create(ctx context.Context, post *models.Post) error
	SetLogicalID(ctx context.Context, rowID, logicalID int, slug string) error
	UpdateStatus(ctx context.Context, rowID int, status string) error
}

// PostService turns resolved inbound emails into versioned posts and
// owns the post version lifecycle.
type PostService struct {
	posts      postStore
	members    memberStore
	activities activityStore
	logger     *log.Logger
}

// PostOption configures a PostService.
type PostOption func(*PostService)

// WithPostLogger overrides the default logger.
func WithPostLogger(logger *log.Logger) PostOption {
	return func(s *PostService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func NewPostService(posts postStore, members memberStore, activities activityStore, opts ...PostOption) *PostService {
	s := &PostService{
		posts:      posts,
		members:    members,
		activities: activities,
		logger:     log.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ResolveThread decides which thread an inbound email belongs to,
// returning the root post's logical id or nil for a new thread. An
// explicit parent id extracted from the reply address takes precedence
// over the In-Reply-To chain; either way the result is re-rooted so
// threads never nest beyond one level.
func (s *PostService) ResolveThread(ctx context.Context, headers *models.ParsedHeaders, email *models.InboundEmail) (*int, error) {
	if headers.ParentPostID != 0 {
		post, err := s.posts.FindByLogicalID(ctx, headers.ParentPostID, models.StatusPublished)
		if err == nil {
			root := post.ThreadID()
			return &root, nil
		}
		if !errors.Is(err, models.ErrNotFound) {
			return nil, err
		}
		s.logger.Printf("thread resolver: parent post %d not found, falling back to references", headers.ParentPostID)
	}

	if email.InReplyTo != "" {
		for _, variant := range parser.MessageIDVariants(email.InReplyTo) {
			post, err := s.posts.FindByMessageID(ctx, variant)
			if errors.Is(err, models.ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			root := post.ThreadID()
			return &root, nil
		}
	}
	return nil, nil
}

// FindByLogicalID returns the version of a post with the given status,
// keyed by its stable identity.
func (s *PostService) FindByLogicalID(ctx context.Context, postID int, status string) (*models.Post, error) {
	return s.posts.FindByLogicalID(ctx, postID, status)
}

// CreateFromEmail persists a post under the group with two-phase logical
// id assignment, records the CREATE activity and wires the memberships:
// the author administers the post and everyone involved follows the
// thread root.
func (s *PostService) CreateFromEmail(ctx context.Context, group *models.Group, author *models.User, recipients []*models.User, email *models.InboundEmail, parentPostID *int, cleanHTML string) (*models.Post, error) {
	title := strings.TrimSpace(email.Subject)
	post := &models.Post{
		UUID:           uuid.NewString(),
		GroupID:        group.LogicalID(),
		UserID:         author.ID,
		ParentPostID:   parentPostID,
		EmailMessageID: email.MessageID,
		Title:          title,
		HTML:           cleanHTML,
		Text:           html2text.HTML2Text(cleanHTML),
		Status:         models.StatusPublished,
	}
	slugBase := utils.Slugify(title)
	if slugBase == "" {
		slugBase = "post"
	}
	post.Slug = slugBase

	if err := s.posts.Create(ctx, post); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrPersistence, err)
	}
	// Second phase: logical id = row id, slug disambiguated with it.
	post.PostID = post.ID
	post.Slug = fmt.Sprintf("%s-%d", slugBase, post.PostID)
	if err := s.posts.SetLogicalID(ctx, post.ID, post.PostID, post.Slug); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrPersistence, err)
	}

	if err := s.activities.Create(ctx, &models.Activity{
		Action:     models.ActionCreate,
		UserID:     author.ID,
		GroupID:    group.LogicalID(),
		PostID:     post.LogicalID(),
		TargetUUID: post.UUID,
	}); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrPersistence, err)
	}

	postID := post.LogicalID()
	threadID := post.ThreadID()
	memberships := []*models.Member{
		{UserID: author.ID, PostID: &postID, Role: models.RoleAdmin},
		{UserID: author.ID, PostID: &threadID, Role: models.RoleFollower},
	}
	for _, recipient := range recipients {
		memberships = append(memberships, &models.Member{
			UserID: recipient.ID,
			PostID: &threadID,
			Role:   models.RoleFollower,
		})
	}
	if err := s.members.BulkCreate(ctx, memberships); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrPersistence, err)
	}
	return post, nil
}

// PostEdit carries the fields an edit may change. Nil means unchanged.
type PostEdit struct {
	Title *string
	HTML  *string
}

// Edit inserts a DRAFT version with an incremented counter and the
// logical id preserved. The published version stays live until Publish
// swaps them.
func (s *PostService) Edit(ctx context.Context, current *models.Post, editor *models.User, changes PostEdit) (*models.Post, error) {
	next := &models.Post{
		PostID:         current.LogicalID(),
		Version:        current.Version + 1,
		Status:         models.StatusDraft,
		UUID:           uuid.NewString(),
		GroupID:        current.GroupID,
		UserID:         editor.ID,
		ParentPostID:   current.ParentPostID,
		Slug:           current.Slug,
		EmailMessageID: current.EmailMessageID,
		Title:          current.Title,
		HTML:           current.HTML,
		Text:           current.Text,
	}
	if changes.Title != nil {
		next.Title = *changes.Title
	}
	if changes.HTML != nil {
		next.HTML = *changes.HTML
		next.Text = html2text.HTML2Text(*changes.HTML)
	}
	if err := s.posts.Create(ctx, next); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrPersistence, err)
	}
	if err := s.activities.Create(ctx, &models.Activity{
		Action:     models.ActionEdit,
		UserID:     editor.ID,
		GroupID:    next.GroupID,
		PostID:     next.LogicalID(),
		TargetUUID: next.UUID,
	}); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrPersistence, err)
	}
	return next, nil
}

// Publish makes the given version row the PUBLISHED one, archiving the
// version it replaces.
func (s *PostService) Publish(ctx context.Context, rowID int) (*models.Post, error) {
	next, err := s.posts.GetByID(ctx, rowID)
	if err != nil {
		return nil, err
	}
	current, err := s.posts.FindByLogicalID(ctx, next.LogicalID(), models.StatusPublished)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}
	if current != nil && current.ID != next.ID {
		if err := s.posts.UpdateStatus(ctx, current.ID, models.StatusArchived); err != nil {
			return nil, err
		}
	}
	if err := s.posts.UpdateStatus(ctx, next.ID, models.StatusPublished); err != nil {
		return nil, err
	}
	next.Status = models.StatusPublished
	return next, nil
}
