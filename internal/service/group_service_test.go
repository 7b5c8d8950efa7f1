package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/citizenspring/website/internal/models"
)

func newGroupService(groups *fakeGroupStore, members *fakeMemberStore, activities *fakeActivityStore, threads *fakeThreadLister, notifier *fakeGroupNotifier) *GroupService {
	return NewGroupService(groups, members, activities, threads, notifier)
}

func contentEmail(subject string) *models.InboundEmail {
	return &models.InboundEmail{
		Subject:      subject,
		StrippedHTML: "<p>hello</p>",
		StrippedText: "hello",
	}
}

func TestResolveExistingGroup(t *testing.T) {
	groups := &fakeGroupStore{}
	require.NoError(t, groups.Create(context.Background(), &models.Group{Slug: "testgroup", Name: "Test Group"}))
	require.NoError(t, groups.SetLogicalID(context.Background(), 1, 1))
	notifier := &fakeGroupNotifier{}
	s := newGroupService(groups, &fakeMemberStore{}, &fakeActivityStore{}, &fakeThreadLister{}, notifier)

	sender := &models.User{ID: 1, Email: "alice@example.com"}
	res, err := s.Resolve(context.Background(), "testgroup", nil, sender, nil, contentEmail("Hello"))
	require.NoError(t, err)

	assert.False(t, res.Created)
	assert.False(t, res.SkipPost)
	assert.Equal(t, "testgroup", res.Group.Slug)
	assert.Empty(t, notifier.created)
}

func TestResolveProvisionsUnknownGroup(t *testing.T) {
	groups := &fakeGroupStore{}
	members := &fakeMemberStore{}
	activities := &fakeActivityStore{}
	notifier := &fakeGroupNotifier{}
	s := newGroupService(groups, members, activities, &fakeThreadLister{}, notifier)

	sender := &models.User{ID: 1, Email: "alice@example.com"}
	recipient := &models.User{ID: 2, Email: "bob@example.com"}
	res, err := s.Resolve(context.Background(), "new-group", []string{"brussels"}, sender, []*models.User{recipient}, contentEmail("Hello"))
	require.NoError(t, err)

	assert.True(t, res.Created)
	assert.False(t, res.SkipPost)
	group := res.Group
	assert.Equal(t, group.ID, group.GroupID)
	assert.Equal(t, "new-group", group.Slug)
	assert.Equal(t, "New group", group.Name)
	assert.Equal(t, "brussels", group.Tags)
	assert.Equal(t, models.StatusPublished, group.Status)

	// Sender and recipient each hold ADMIN and FOLLOWER memberships.
	assert.Len(t, members.byRole(models.RoleAdmin), 2)
	assert.Len(t, members.byRole(models.RoleFollower), 2)

	require.Len(t, activities.activities, 1)
	assert.Equal(t, models.ActionCreate, activities.activities[0].Action)
	assert.Equal(t, group.LogicalID(), activities.activities[0].GroupID)

	require.Len(t, notifier.created, 1)
	assert.Equal(t, sender, notifier.created[0].creator)
}

func TestResolveBootstrapSubjectSkipsPost(t *testing.T) {
	s := newGroupService(&fakeGroupStore{}, &fakeMemberStore{}, &fakeActivityStore{}, &fakeThreadLister{}, &fakeGroupNotifier{})

	sender := &models.User{ID: 1, Email: "alice@example.com"}
	res, err := s.Resolve(context.Background(), "fresh", nil, sender, nil, contentEmail(BootstrapSubject))
	require.NoError(t, err)

	assert.True(t, res.Created)
	assert.True(t, res.SkipPost)
}

func TestResolveEmptyEmailSendsGroupInfo(t *testing.T) {
	groups := &fakeGroupStore{}
	require.NoError(t, groups.Create(context.Background(), &models.Group{Slug: "testgroup", Name: "Test Group"}))
	require.NoError(t, groups.SetLogicalID(context.Background(), 1, 1))

	members := &fakeMemberStore{}
	threads := &fakeThreadLister{posts: []*models.Post{{ID: 9, PostID: 9, Title: "Old thread"}}}
	notifier := &fakeGroupNotifier{}
	s := newGroupService(groups, members, &fakeActivityStore{}, threads, notifier)

	sender := &models.User{ID: 1, Email: "alice@example.com"}
	recipient := &models.User{ID: 2, Email: "bob@example.com"}
	res, err := s.Resolve(context.Background(), "testgroup", nil, sender, []*models.User{recipient},
		&models.InboundEmail{Subject: "", StrippedText: "  "})
	require.NoError(t, err)

	assert.True(t, res.SkipPost)
	assert.False(t, res.Created)

	// Sender and recipient became group followers, no post side effects.
	followers := members.byRole(models.RoleFollower)
	require.Len(t, followers, 2)
	for _, m := range followers {
		require.NotNil(t, m.GroupID)
		assert.Equal(t, 1, *m.GroupID)
	}

	require.Len(t, notifier.infos, 1)
	info := notifier.infos[0]
	assert.Equal(t, sender, info.user)
	assert.Equal(t, 2, info.followersCount)
	assert.Equal(t, 1, info.threadsCount)
	assert.Len(t, info.posts, 1)
}

func TestResolveEmptySubjectWithBodyStillPosts(t *testing.T) {
	groups := &fakeGroupStore{}
	require.NoError(t, groups.Create(context.Background(), &models.Group{Slug: "testgroup", Name: "Test Group"}))
	require.NoError(t, groups.SetLogicalID(context.Background(), 1, 1))
	members := &fakeMemberStore{}
	notifier := &fakeGroupNotifier{}
	s := newGroupService(groups, members, &fakeActivityStore{}, &fakeThreadLister{}, notifier)

	sender := &models.User{ID: 1, Email: "alice@example.com"}
	res, err := s.Resolve(context.Background(), "testgroup", nil, sender, nil,
		&models.InboundEmail{Subject: "", StrippedText: "Real content here"})
	require.NoError(t, err)

	// A missing subject alone is not an introduction; the body still
	// becomes a post.
	assert.False(t, res.SkipPost)
	assert.Empty(t, notifier.infos)
	assert.Empty(t, members.byRole(models.RoleFollower))
}

func TestGroupEditCreatesDraftVersion(t *testing.T) {
	groups := &fakeGroupStore{}
	activities := &fakeActivityStore{}
	s := newGroupService(groups, &fakeMemberStore{}, activities, &fakeThreadLister{}, &fakeGroupNotifier{})

	current := &models.Group{Slug: "testgroup", Name: "Old name"}
	require.NoError(t, groups.Create(context.Background(), current))
	require.NoError(t, groups.SetLogicalID(context.Background(), current.ID, current.ID))
	current.GroupID = current.ID

	editor := &models.User{ID: 3}
	name := "New name"
	next, err := s.Edit(context.Background(), current, editor, GroupEdit{Name: &name})
	require.NoError(t, err)

	assert.Equal(t, current.LogicalID(), next.GroupID)
	assert.Equal(t, current.Version+1, next.Version)
	assert.Equal(t, models.StatusDraft, next.Status)
	assert.Equal(t, "New name", next.Name)

	require.Len(t, activities.activities, 1)
	assert.Equal(t, models.ActionEdit, activities.activities[0].Action)

	// The published version is untouched until Publish.
	published, err := groups.FindByLogicalID(context.Background(), current.LogicalID(), models.StatusPublished)
	require.NoError(t, err)
	assert.Equal(t, "Old name", published.Name)
}

func TestGroupPublishArchivesCurrentVersion(t *testing.T) {
	groups := &fakeGroupStore{}
	s := newGroupService(groups, &fakeMemberStore{}, &fakeActivityStore{}, &fakeThreadLister{}, &fakeGroupNotifier{})

	current := &models.Group{Slug: "testgroup", Name: "Old name"}
	require.NoError(t, groups.Create(context.Background(), current))
	require.NoError(t, groups.SetLogicalID(context.Background(), current.ID, current.ID))
	current.GroupID = current.ID

	name := "New name"
	draft, err := s.Edit(context.Background(), current, &models.User{ID: 3}, GroupEdit{Name: &name})
	require.NoError(t, err)

	published, err := s.Publish(context.Background(), draft.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPublished, published.Status)
	assert.Equal(t, "New name", published.Name)

	old, err := groups.GetByID(context.Background(), current.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusArchived, old.Status)

	// Exactly one PUBLISHED version per logical id.
	latest, err := groups.FindByLogicalID(context.Background(), current.LogicalID(), models.StatusPublished)
	require.NoError(t, err)
	assert.Equal(t, draft.ID, latest.ID)
}
