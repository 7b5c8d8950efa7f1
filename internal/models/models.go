package models

import (
	"strings"
	"time"
)

// Version status values shared by Group and Post.
const (
	StatusPublished = "PUBLISHED"
	StatusArchived  = "ARCHIVED"
	StatusDraft     = "DRAFT"
	StatusDeleted   = "DELETED"
)

// Member roles.
const (
	RoleAdmin    = "ADMIN"
	RoleFollower = "FOLLOWER"
)

// Activity actions.
const (
	ActionCreate = "CREATE"
	ActionEdit   = "EDIT"
)

// User is a durable identity keyed by normalized email address.
// Users have no version history; name fields are upgraded in place.
type User struct {
	ID        int       `json:"id" db:"id"`
	FirstName string    `json:"first_name" db:"first_name"`
	LastName  string    `json:"last_name" db:"last_name"`
	Email     string    `json:"email" db:"email"`
	Image     string    `json:"image,omitempty" db:"image"`
	Token     string    `json:"-" db:"token"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Name returns the display name, falling back to the email local part.
func (u *User) Name() string {
	parts := make([]string, 0, 2)
	if u.FirstName != "" && u.FirstName != "anonymous" {
		parts = append(parts, u.FirstName)
	}
	if u.LastName != "" {
		parts = append(parts, u.LastName)
	}
	if len(parts) > 0 {
		return strings.Join(parts, " ")
	}
	if at := strings.Index(u.Email, "@"); at > 0 {
		return u.Email[:at]
	}
	return u.Email
}

// HasName reports whether the user carries a usable display name.
func (u *User) HasName() bool {
	return u.FirstName != "" && u.FirstName != "anonymous"
}

// Group is a discussion space. GroupID is the logical identity shared by
// all versions of the group; ID is the storage row.
type Group struct {
	ID          int       `json:"id" db:"id"`
	GroupID     int       `json:"group_id" db:"group_id"`
	Version     int       `json:"version" db:"version"`
	Status      string    `json:"status" db:"status"`
	UUID        string    `json:"uuid" db:"uuid"`
	UserID      int       `json:"user_id" db:"user_id"`
	Slug        string    `json:"slug" db:"slug"`
	Name        string    `json:"name" db:"name"`
	Description string    `json:"description,omitempty" db:"description"`
	Tags        string    `json:"tags,omitempty" db:"tags"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// LogicalID returns the stable group identity, defaulting to the row id
// for rows created before the logical id was assigned.
func (g *Group) LogicalID() int {
	if g.GroupID != 0 {
		return g.GroupID
	}
	return g.ID
}

// Post is a message within a group, versioned like Group. A nil
// ParentPostID marks a thread root; replies point at the root's PostID.
type Post struct {
	ID             int       `json:"id" db:"id"`
	PostID         int       `json:"post_id" db:"post_id"`
	Version        int       `json:"version" db:"version"`
	Status         string    `json:"status" db:"status"`
	UUID           string    `json:"uuid" db:"uuid"`
	GroupID        int       `json:"group_id" db:"group_id"`
	UserID         int       `json:"user_id" db:"user_id"`
	ParentPostID   *int      `json:"parent_post_id,omitempty" db:"parent_post_id"`
	Slug           string    `json:"slug" db:"slug"`
	EmailMessageID string    `json:"email_message_id,omitempty" db:"email_message_id"`
	Title          string    `json:"title" db:"title"`
	HTML           string    `json:"html" db:"html"`
	Text           string    `json:"text" db:"text"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

// LogicalID returns the stable post identity.
func (p *Post) LogicalID() int {
	if p.PostID != 0 {
		return p.PostID
	}
	return p.ID
}

// IsReply reports whether the post belongs to an existing thread.
func (p *Post) IsReply() bool {
	return p.ParentPostID != nil && *p.ParentPostID != 0
}

// ThreadID returns the logical id of the thread this post belongs to:
// the parent for replies, the post itself for roots.
func (p *Post) ThreadID() int {
	if p.IsReply() {
		return *p.ParentPostID
	}
	return p.LogicalID()
}

// Member joins a user to a group or a post (thread) with a role.
// Exactly one of GroupID/PostID is set; both reference logical ids.
type Member struct {
	ID        int       `json:"id" db:"id"`
	UserID    int       `json:"user_id" db:"user_id"`
	GroupID   *int      `json:"group_id,omitempty" db:"group_id"`
	PostID    *int      `json:"post_id,omitempty" db:"post_id"`
	Role      string    `json:"role" db:"role"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Activity is an append-only audit record of a Group/Post mutation.
type Activity struct {
	ID         int       `json:"id" db:"id"`
	Action     string    `json:"action" db:"action"`
	UserID     int       `json:"user_id" db:"user_id"`
	GroupID    int       `json:"group_id,omitempty" db:"group_id"`
	PostID     int       `json:"post_id,omitempty" db:"post_id"`
	TargetUUID string    `json:"target_uuid" db:"target_uuid"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}
