package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/flosch/pongo2/v6"

	"github.com/citizenspring/website/internal/email/outbound"
	"github.com/citizenspring/website/internal/models"
)

type fakeUserStore struct {
	users  []*models.User
	nextID int
}

func (f *fakeUserStore) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	for _, u := range f.users {
		if u.Email == strings.ToLower(email) {
			copied := *u
			return &copied, nil
		}
	}
	return nil, fmt.Errorf("user %s: %w", email, models.ErrNotFound)
}

func (f *fakeUserStore) GetByID(ctx context.Context, id int) (*models.User, error) {
	for _, u := range f.users {
		if u.ID == id {
			copied := *u
			return &copied, nil
		}
	}
	return nil, fmt.Errorf("user %d: %w", id, models.ErrNotFound)
}

func (f *fakeUserStore) Create(ctx context.Context, user *models.User) error {
	f.nextID++
	user.ID = f.nextID
	user.Email = strings.ToLower(user.Email)
	copied := *user
	f.users = append(f.users, &copied)
	return nil
}

func (f *fakeUserStore) UpdateName(ctx context.Context, id int, firstName, lastName string) error {
	for _, u := range f.users {
		if u.ID == id {
			u.FirstName, u.LastName = firstName, lastName
			return nil
		}
	}
	return models.ErrNotFound
}

func (f *fakeUserStore) UpdateToken(ctx context.Context, id int, token string) error {
	for _, u := range f.users {
		if u.ID == id {
			u.Token = token
			return nil
		}
	}
	return models.ErrNotFound
}

func (f *fakeUserStore) UpdateImage(ctx context.Context, id int, image string) error {
	for _, u := range f.users {
		if u.ID == id {
			u.Image = image
			return nil
		}
	}
	return models.ErrNotFound
}

type fakeGroupStore struct {
	rows   []*models.Group
	nextID int
}

func (f *fakeGroupStore) Create(ctx context.Context, group *models.Group) error {
	f.nextID++
	group.ID = f.nextID
	if group.Version == 0 {
		group.Version = 1
	}
	if group.Status == "" {
		group.Status = models.StatusPublished
	}
	group.CreatedAt = time.Now()
	copied := *group
	f.rows = append(f.rows, &copied)
	return nil
}

func (f *fakeGroupStore) FindBySlug(ctx context.Context, slug, status string) (*models.Group, error) {
	for i := len(f.rows) - 1; i >= 0; i-- {
		g := f.rows[i]
		if g.Slug == slug && (status == "" || g.Status == status) {
			copied := *g
			return &copied, nil
		}
	}
	return nil, fmt.Errorf("group %s: %w", slug, models.ErrNotFound)
}

func (f *fakeGroupStore) FindByLogicalID(ctx context.Context, groupID int, status string) (*models.Group, error) {
	for i := len(f.rows) - 1; i >= 0; i-- {
		g := f.rows[i]
		if g.GroupID == groupID && (status == "" || g.Status == status) {
			copied := *g
			return &copied, nil
		}
	}
	return nil, fmt.Errorf("group %d: %w", groupID, models.ErrNotFound)
}

func (f *fakeGroupStore) GetByID(ctx context.Context, id int) (*models.Group, error) {
	for _, g := range f.rows {
		if g.ID == id {
			copied := *g
			return &copied, nil
		}
	}
	return nil, fmt.Errorf("group row %d: %w", id, models.ErrNotFound)
}

func (f *fakeGroupStore) SetLogicalID(ctx context.Context, rowID, logicalID int) error {
	for _, g := range f.rows {
		if g.ID == rowID {
			g.GroupID = logicalID
			return nil
		}
	}
	return models.ErrNotFound
}

func (f *fakeGroupStore) UpdateStatus(ctx context.Context, rowID int, status string) error {
	for _, g := range f.rows {
		if g.ID == rowID {
			g.Status = status
			return nil
		}
	}
	return models.ErrNotFound
}

type fakePostStore struct {
	rows   []*models.Post
	nextID int
}

func (f *fakePostStore) Create(ctx context.Context, post *models.Post) error {
	f.nextID++
	post.ID = f.nextID
	if post.Version == 0 {
		post.Version = 1
	}
	if post.Status == "" {
		post.Status = models.StatusPublished
	}
	post.CreatedAt = time.Now()
	copied := *post
	f.rows = append(f.rows, &copied)
	return nil
}

func (f *fakePostStore) FindByMessageID(ctx context.Context, messageID string) (*models.Post, error) {
	var best *models.Post
	for _, p := range f.rows {
		if p.EmailMessageID != messageID {
			continue
		}
		if best == nil || p.Version > best.Version || (p.Version == best.Version && p.ID > best.ID) {
			best = p
		}
	}
	if best == nil {
		return nil, fmt.Errorf("post for message id %s: %w", messageID, models.ErrNotFound)
	}
	copied := *best
	return &copied, nil
}

func (f *fakePostStore) FindByLogicalID(ctx context.Context, postID int, status string) (*models.Post, error) {
	for i := len(f.rows) - 1; i >= 0; i-- {
		p := f.rows[i]
		if p.PostID == postID && (status == "" || p.Status == status) {
			copied := *p
			return &copied, nil
		}
	}
	return nil, fmt.Errorf("post %d: %w", postID, models.ErrNotFound)
}

func (f *fakePostStore) GetByID(ctx context.Context, id int) (*models.Post, error) {
	for _, p := range f.rows {
		if p.ID == id {
			copied := *p
			return &copied, nil
		}
	}
	return nil, fmt.Errorf("post row %d: %w", id, models.ErrNotFound)
}

func (f *fakePostStore) SetLogicalID(ctx context.Context, rowID, logicalID int, slug string) error {
	for _, p := range f.rows {
		if p.ID == rowID {
			p.PostID = logicalID
			p.Slug = slug
			return nil
		}
	}
	return models.ErrNotFound
}

func (f *fakePostStore) UpdateStatus(ctx context.Context, rowID int, status string) error {
	for _, p := range f.rows {
		if p.ID == rowID {
			p.Status = status
			return nil
		}
	}
	return models.ErrNotFound
}

type fakeMemberStore struct {
	members []*models.Member
	nextID  int
}

func sameTarget(a, b *models.Member) bool {
	if a.UserID != b.UserID || a.Role != b.Role {
		return false
	}
	if (a.GroupID == nil) != (b.GroupID == nil) || (a.PostID == nil) != (b.PostID == nil) {
		return false
	}
	if a.GroupID != nil && *a.GroupID != *b.GroupID {
		return false
	}
	if a.PostID != nil && *a.PostID != *b.PostID {
		return false
	}
	return true
}

func (f *fakeMemberStore) BulkCreate(ctx context.Context, members []*models.Member) error {
	for _, member := range members {
		exists := false
		for _, existing := range f.members {
			if sameTarget(existing, member) {
				exists = true
				break
			}
		}
		if exists {
			continue
		}
		f.nextID++
		member.ID = f.nextID
		copied := *member
		f.members = append(f.members, &copied)
	}
	return nil
}

func (f *fakeMemberStore) Find(ctx context.Context, member *models.Member) (*models.Member, error) {
	for _, existing := range f.members {
		if sameTarget(existing, member) {
			copied := *existing
			return &copied, nil
		}
	}
	return nil, fmt.Errorf("membership: %w", models.ErrNotFound)
}

func (f *fakeMemberStore) Delete(ctx context.Context, id int) error {
	for i, existing := range f.members {
		if existing.ID == id {
			f.members = append(f.members[:i], f.members[i+1:]...)
			return nil
		}
	}
	return nil
}

func (f *fakeMemberStore) CountByRole(ctx context.Context, groupID int, role string) (int, error) {
	count := 0
	for _, m := range f.members {
		if m.Role == role && m.GroupID != nil && *m.GroupID == groupID {
			count++
		}
	}
	return count, nil
}

// byRole filters the recorded memberships for assertions.
func (f *fakeMemberStore) byRole(role string) []*models.Member {
	var out []*models.Member
	for _, m := range f.members {
		if m.Role == role {
			out = append(out, m)
		}
	}
	return out
}

type fakeActivityStore struct {
	activities []*models.Activity
}

func (f *fakeActivityStore) Create(ctx context.Context, activity *models.Activity) error {
	copied := *activity
	f.activities = append(f.activities, &copied)
	return nil
}

type fakeThreadLister struct {
	posts []*models.Post
}

func (f *fakeThreadLister) ListThreads(ctx context.Context, groupID, limit int) ([]*models.Post, error) {
	return f.posts, nil
}

func (f *fakeThreadLister) CountThreads(ctx context.Context, groupID int) (int, error) {
	return len(f.posts), nil
}

type groupCreatedCall struct {
	group   *models.Group
	creator *models.User
}

type groupInfoCall struct {
	group          *models.Group
	user           *models.User
	followersCount int
	threadsCount   int
	posts          []*models.Post
}

type fakeGroupNotifier struct {
	created []groupCreatedCall
	infos   []groupInfoCall
}

func (f *fakeGroupNotifier) NotifyGroupCreated(ctx context.Context, group *models.Group, creator *models.User) error {
	f.created = append(f.created, groupCreatedCall{group: group, creator: creator})
	return nil
}

func (f *fakeGroupNotifier) NotifyGroupInfo(ctx context.Context, group *models.Group, user *models.User, followersCount, threadsCount int, posts []*models.Post) error {
	f.infos = append(f.infos, groupInfoCall{
		group:          group,
		user:           user,
		followersCount: followersCount,
		threadsCount:   threadsCount,
		posts:          posts,
	})
	return nil
}

type mailerCall struct {
	to       []string
	subject  string
	template string
	data     pongo2.Context
}

type fakeMailer struct {
	calls []mailerCall
}

func (f *fakeMailer) Send(ctx context.Context, to []string, subject, template string, data pongo2.Context, opts *outbound.SendOptions) error {
	f.calls = append(f.calls, mailerCall{to: to, subject: subject, template: template, data: data})
	return nil
}

type fakeSessions struct{}

func (fakeSessions) GenerateSessionToken(userID int, email string) (string, error) {
	return fmt.Sprintf("session-%d-%s", userID, email), nil
}
