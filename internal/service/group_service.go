package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"

	"github.com/citizenspring/website/internal/models"
	"github.com/citizenspring/website/internal/utils"
)

// BootstrapSubject is the subject line of the platform's "create a
// group" template. An email carrying it only provisions the group.
const BootstrapSubject = "Create a new working group"

type groupStore interface {
	FindBySlug(ctx context.Context, slug, status string) (*models.Group, error)
	FindByLogicalID(ctx context.Context, groupID int, status string) (*models.Group, error)
	GetByID(ctx context.Context, id int) (*models.Group, error)
	Create(ctx context.Context, group *models.Group) error
	SetLogicalID(ctx context.Context, rowID, logicalID int) error
	UpdateStatus(ctx context.Context, rowID int, status string) error
}

type memberStore interface {
	BulkCreate(ctx context.Context, members []*models.Member) error
	Find(ctx context.Context, member *models.Member) (*models.Member, error)
	Delete(ctx context.Context, id int) error
	CountByRole(ctx context.Context, groupID int, role string) (int, error)
}

type activityStore interface {
	Create(ctx context.Context, activity *models.Activity) error
}

type threadLister interface {
	ListThreads(ctx context.Context, groupID, limit int) ([]*models.Post, error)
	CountThreads(ctx context.Context, groupID int) (int, error)
}

type groupNotifier interface {
	NotifyGroupCreated(ctx context.Context, group *models.Group, creator *models.User) error
	NotifyGroupInfo(ctx context.Context, group *models.Group, user *models.User, followersCount, threadsCount int, posts []*models.Post) error
}

// GroupResolution is the outcome of resolving an inbound email's routing
// tag. SkipPost marks emails that are fully handled by the resolver
// (group bootstrap, pure introductions) and must not become posts.
type GroupResolution struct {
	Group    *models.Group
	Created  bool
	SkipPost bool
}

// GroupService resolves routing tags to groups and owns the group
// version lifecycle.
type GroupService struct {
	groups     groupStore
	members    memberStore
	activities activityStore
	threads    threadLister
	notifier   groupNotifier
	logger     *log.Logger
}

// GroupOption configures a GroupService.
type GroupOption func(*GroupService)

// WithGroupLogger overrides the default logger.
func WithGroupLogger(logger *log.Logger) GroupOption {
	return func(s *GroupService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func NewGroupService(groups groupStore, members memberStore, activities activityStore, threads threadLister, notifier groupNotifier, opts ...GroupOption) *GroupService {
	s := &GroupService{
		groups:     groups,
		members:    members,
		activities: activities,
		threads:    threads,
		notifier:   notifier,
		logger:     log.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Resolve maps a routing tag to a group. Unknown tags provision a new
// group administered by the sender and recipients; an empty email to an
// existing group adds everyone as followers and answers with the group
// summary instead of creating a post.
func (s *GroupService) Resolve(ctx context.Context, slug string, tags []string, sender *models.User, recipients []*models.User, email *models.InboundEmail) (*GroupResolution, error) {
	group, err := s.groups.FindBySlug(ctx, slug, models.StatusPublished)
	if errors.Is(err, models.ErrNotFound) {
		return s.provision(ctx, slug, tags, sender, recipients, email)
	}
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(email.Subject) == "" && !email.HasContent() {
		if err := s.AddFollowers(ctx, group, append([]*models.User{sender}, recipients...)); err != nil {
			return nil, err
		}
		s.sendGroupInfo(ctx, group, sender)
		return &GroupResolution{Group: group, SkipPost: true}, nil
	}

	return &GroupResolution{Group: group}, nil
}

func (s *GroupService) provision(ctx context.Context, slug string, tags []string, sender *models.User, recipients []*models.User, email *models.InboundEmail) (*GroupResolution, error) {
	group := &models.Group{
		UUID:   uuid.NewString(),
		UserID: sender.ID,
		Slug:   slug,
		Name:   utils.Capitalize(strings.ReplaceAll(slug, "-", " ")),
		Tags:   strings.Join(tags, ","),
		Status: models.StatusPublished,
	}
	if err := s.groups.Create(ctx, group); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrPersistence, err)
	}
	// Two-phase creation: the logical id of a first version is its own
	// row id.
	if err := s.groups.SetLogicalID(ctx, group.ID, group.ID); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrPersistence, err)
	}
	group.GroupID = group.ID

	if err := s.activities.Create(ctx, &models.Activity{
		Action:     models.ActionCreate,
		UserID:     sender.ID,
		GroupID:    group.LogicalID(),
		TargetUUID: group.UUID,
	}); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrPersistence, err)
	}

	admins := append([]*models.User{sender}, recipients...)
	memberships := make([]*models.Member, 0, 2*len(admins))
	groupID := group.LogicalID()
	for _, admin := range admins {
		memberships = append(memberships,
			&models.Member{UserID: admin.ID, GroupID: &groupID, Role: models.RoleAdmin},
			&models.Member{UserID: admin.ID, GroupID: &groupID, Role: models.RoleFollower},
		)
	}
	if err := s.members.BulkCreate(ctx, memberships); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrPersistence, err)
	}

	if err := s.notifier.NotifyGroupCreated(ctx, group, sender); err != nil {
		s.logger.Printf("group created notification to %s failed: %v", sender.Email, err)
	}

	skip := strings.TrimSpace(email.Subject) == BootstrapSubject
	return &GroupResolution{Group: group, Created: true, SkipPost: skip}, nil
}

// AddFollowers idempotently subscribes users to the group.
func (s *GroupService) AddFollowers(ctx context.Context, group *models.Group, users []*models.User) error {
	groupID := group.LogicalID()
	memberships := make([]*models.Member, 0, len(users))
	for _, user := range users {
		memberships = append(memberships, &models.Member{
			UserID:  user.ID,
			GroupID: &groupID,
			Role:    models.RoleFollower,
		})
	}
	if err := s.members.BulkCreate(ctx, memberships); err != nil {
		return fmt.Errorf("%w: %v", models.ErrPersistence, err)
	}
	return nil
}

// RemoveFollower drops the user's follower membership on the group.
// Missing memberships are reported as ErrNotFound so callers can answer
// with "already unsubscribed".
func (s *GroupService) RemoveFollower(ctx context.Context, group *models.Group, user *models.User) error {
	groupID := group.LogicalID()
	member, err := s.members.Find(ctx, &models.Member{
		UserID:  user.ID,
		GroupID: &groupID,
		Role:    models.RoleFollower,
	})
	if err != nil {
		return err
	}
	return s.members.Delete(ctx, member.ID)
}

func (s *GroupService) sendGroupInfo(ctx context.Context, group *models.Group, user *models.User) {
	followersCount, err := s.members.CountByRole(ctx, group.LogicalID(), models.RoleFollower)
	if err != nil {
		s.logger.Printf("group info: failed to count followers of %s: %v", group.Slug, err)
		return
	}
	threadsCount, err := s.threads.CountThreads(ctx, group.LogicalID())
	if err != nil {
		s.logger.Printf("group info: failed to count threads of %s: %v", group.Slug, err)
		return
	}
	posts, err := s.threads.ListThreads(ctx, group.LogicalID(), 5)
	if err != nil {
		s.logger.Printf("group info: failed to list threads of %s: %v", group.Slug, err)
		return
	}
	if err := s.notifier.NotifyGroupInfo(ctx, group, user, followersCount, threadsCount, posts); err != nil {
		s.logger.Printf("group info notification to %s failed: %v", user.Email, err)
	}
}

// GroupEdit carries the fields an edit may change. Nil means unchanged.
type GroupEdit struct {
	Name        *string
	Description *string
	Tags        *string
}

// Edit inserts a DRAFT version with an incremented counter and the
// logical id preserved. The published version stays live until Publish
// swaps them.
func (s *GroupService) Edit(ctx context.Context, current *models.Group, editor *models.User, changes GroupEdit) (*models.Group, error) {
	next := &models.Group{
		GroupID:     current.LogicalID(),
		Version:     current.Version + 1,
		Status:      models.StatusDraft,
		UUID:        uuid.NewString(),
		UserID:      editor.ID,
		Slug:        current.Slug,
		Name:        current.Name,
		Description: current.Description,
		Tags:        current.Tags,
	}
	if changes.Name != nil {
		next.Name = *changes.Name
	}
	if changes.Description != nil {
		next.Description = *changes.Description
	}
	if changes.Tags != nil {
		next.Tags = *changes.Tags
	}
	if err := s.groups.Create(ctx, next); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrPersistence, err)
	}
	if err := s.activities.Create(ctx, &models.Activity{
		Action:     models.ActionEdit,
		UserID:     editor.ID,
		GroupID:    next.LogicalID(),
		TargetUUID: next.UUID,
	}); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrPersistence, err)
	}
	return next, nil
}

// Publish makes the given version row the PUBLISHED one, archiving the
// version it replaces. Exactly one version per logical id stays
// PUBLISHED.
func (s *GroupService) Publish(ctx context.Context, rowID int) (*models.Group, error) {
	next, err := s.groups.GetByID(ctx, rowID)
	if err != nil {
		return nil, err
	}
	current, err := s.groups.FindByLogicalID(ctx, next.LogicalID(), models.StatusPublished)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}
	if current != nil && current.ID != next.ID {
		if err := s.groups.UpdateStatus(ctx, current.ID, models.StatusArchived); err != nil {
			return nil, err
		}
	}
	if err := s.groups.UpdateStatus(ctx, next.ID, models.StatusPublished); err != nil {
		return nil, err
	}
	next.Status = models.StatusPublished
	return next, nil
}
