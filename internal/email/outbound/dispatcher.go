package outbound

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/flosch/pongo2/v6"
	"github.com/xeonx/timeago"

	"github.com/citizenspring/website/internal/auth"
	"github.com/citizenspring/website/internal/models"
)

type memberLister interface {
	ListGroupFollowers(ctx context.Context, groupID int) ([]*models.User, error)
	ListThreadFollowers(ctx context.Context, postID int) ([]*models.User, error)
	ListGroupAdmins(ctx context.Context, groupID int) ([]*models.User, error)
}

type tokenSigner interface {
	GenerateActionToken(claims auth.ActionClaims) (string, error)
}

// Dispatcher fans a stored post out to its audience and sends the
// lifecycle notifications around group and thread creation. Delivery
// failures are logged and counted, never propagated back into the
// ingestion pipeline.
type Dispatcher struct {
	mailer  *Mailer
	members memberLister
	tokens  tokenSigner
	domain  string
	baseURL string
	logger  *log.Logger
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDispatcherLogger overrides the default logger.
func WithDispatcherLogger(logger *log.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

func NewDispatcher(mailer *Mailer, members memberLister, tokens tokenSigner, domain, baseURL string, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		mailer:  mailer,
		members: members,
		tokens:  tokens,
		domain:  domain,
		baseURL: baseURL,
		logger:  log.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// GroupEmail returns the posting address of a group.
func (d *Dispatcher) GroupEmail(group *models.Group) string {
	return fmt.Sprintf("%s@%s", group.Slug, d.domain)
}

// ReplyAddress returns the address replies to a post should target,
// carrying the thread coordinates in the local part.
func (d *Dispatcher) ReplyAddress(group *models.Group, post *models.Post) string {
	return fmt.Sprintf("%s/%d/%d@%s", group.Slug, post.ThreadID(), post.LogicalID(), d.domain)
}

// NotifyGroupCreated confirms a freshly created group to its creator.
func (d *Dispatcher) NotifyGroupCreated(ctx context.Context, group *models.Group, creator *models.User) error {
	groupEmail := d.GroupEmail(group)
	subject := fmt.Sprintf("Your group %s has been created", groupEmail)
	data := pongo2.Context{
		"group":      group,
		"groupEmail": groupEmail,
		"groupUrl":   fmt.Sprintf("%s/%s", d.baseURL, group.Slug),
		"user":       creator,
	}
	return d.mailer.Send(ctx, []string{creator.Email}, subject, "groupCreated", data, nil)
}

// NotifyGroupInfo answers an empty email to an existing group with the
// group's follower and thread counts and its latest threads.
func (d *Dispatcher) NotifyGroupInfo(ctx context.Context, group *models.Group, user *models.User, followersCount, threadsCount int, posts []*models.Post) error {
	groupEmail := d.GroupEmail(group)
	recent := make([]pongo2.Context, 0, len(posts))
	for _, post := range posts {
		recent = append(recent, pongo2.Context{
			"title":  post.Title,
			"url":    fmt.Sprintf("%s/%s/%s", d.baseURL, group.Slug, post.Slug),
			"posted": timeago.English.Format(post.CreatedAt),
		})
	}
	data := pongo2.Context{
		"group":          group,
		"groupEmail":     groupEmail,
		"groupUrl":       fmt.Sprintf("%s/%s", d.baseURL, group.Slug),
		"followersCount": followersCount,
		"threadsCount":   threadsCount,
		"posts":          recent,
	}
	subject := fmt.Sprintf("About %s", groupEmail)
	return d.mailer.Send(ctx, []string{user.Email}, subject, "groupInfo", data, nil)
}

// DispatchPost notifies the audience of a stored post. A new thread goes
// out as one message from the group address with the group's followers
// in Cc; a reply is delivered to each thread follower individually with
// a personal opt-out link. Either way the sender and the addresses the
// original email already reached are left out. A new thread also sends a
// confirmation to its author first.
func (d *Dispatcher) DispatchPost(ctx context.Context, group *models.Group, post *models.Post, sender *models.User, recipients []models.EmailAddress) error {
	if post.IsReply() {
		return d.dispatchReply(ctx, group, post, sender, recipients)
	}
	return d.dispatchNewThread(ctx, group, post, sender, recipients)
}

func (d *Dispatcher) dispatchNewThread(ctx context.Context, group *models.Group, post *models.Post, sender *models.User, recipients []models.EmailAddress) error {
	followers, err := d.members.ListGroupFollowers(ctx, group.LogicalID())
	if err != nil {
		return fmt.Errorf("failed to list followers: %w", err)
	}

	if err := d.notifyThreadCreated(ctx, group, post, sender, len(followers)); err != nil {
		d.logger.Printf("dispatcher: thread confirmation to %s failed: %v", sender.Email, err)
	}

	groupEmail := d.GroupEmail(group)
	cc := make([]string, 0, len(followers))
	for _, follower := range followers {
		cc = append(cc, follower.Email)
	}
	// The author and anyone the original email already reached are
	// dropped from the Cc list at send time.
	exclude := []string{sender.Email}
	for _, recipient := range recipients {
		exclude = append(exclude, recipient.Email)
	}

	data := pongo2.Context{
		"group":          group,
		"post":           post,
		"author":         sender.Name(),
		"html":           post.HTML,
		"threadUrl":      fmt.Sprintf("%s/%s/%s", d.baseURL, group.Slug, post.Slug),
		"unsubscribeUrl": fmt.Sprintf("mailto:%s+unfollow@%s", group.Slug, d.domain),
	}
	opts := &SendOptions{
		From:    fmt.Sprintf("%s <%s>", sender.Name(), groupEmail),
		Cc:      cc,
		ReplyTo: d.ReplyAddress(group, post),
		Headers: d.threadHeaders(group, post),
		Exclude: exclude,
	}
	if err := d.mailer.Send(ctx, []string{groupEmail}, post.Title, "post", data, opts); err != nil {
		d.logger.Printf("dispatcher: group notification for %s failed: %v", group.Slug, err)
	}
	return nil
}

func (d *Dispatcher) dispatchReply(ctx context.Context, group *models.Group, post *models.Post, sender *models.User, recipients []models.EmailAddress) error {
	followers, err := d.members.ListThreadFollowers(ctx, post.ThreadID())
	if err != nil {
		return fmt.Errorf("failed to list followers: %w", err)
	}

	// Skip the author and anyone the original email already reached.
	skip := map[string]struct{}{strings.ToLower(sender.Email): {}}
	for _, recipient := range recipients {
		skip[strings.ToLower(recipient.Email)] = struct{}{}
	}

	threadURL := fmt.Sprintf("%s/%s/%s", d.baseURL, group.Slug, post.Slug)
	groupEmail := d.GroupEmail(group)
	replyTo := d.ReplyAddress(group, post)
	headers := d.threadHeaders(group, post)

	for _, follower := range followers {
		if _, skipped := skip[strings.ToLower(follower.Email)]; skipped {
			continue
		}
		data := pongo2.Context{
			"group":          group,
			"post":           post,
			"author":         sender.Name(),
			"html":           post.HTML,
			"threadUrl":      threadURL,
			"unsubscribeUrl": d.unsubscribeURL(follower, post),
		}
		opts := &SendOptions{
			From:    fmt.Sprintf("%s <%s>", sender.Name(), groupEmail),
			ReplyTo: replyTo,
			Headers: headers,
		}
		if err := d.mailer.Send(ctx, []string{follower.Email}, post.Title, "post", data, opts); err != nil {
			d.logger.Printf("dispatcher: notify %s failed: %v", follower.Email, err)
		}
	}
	return nil
}

func (d *Dispatcher) threadHeaders(group *models.Group, post *models.Post) map[string]string {
	return map[string]string{
		"Message-Id": fmt.Sprintf("<%s/%d/%d@%s>", group.Slug, post.ThreadID(), post.LogicalID(), d.domain),
		"References": fmt.Sprintf("<%s/%d@%s>", group.Slug, post.ThreadID(), d.domain),
	}
}

// NotifyEditPending asks the group's admins to approve a draft version.
// The approve link publishes the draft row.
func (d *Dispatcher) NotifyEditPending(ctx context.Context, group *models.Group, draft *models.Post, editor *models.User) error {
	admins, err := d.members.ListGroupAdmins(ctx, group.LogicalID())
	if err != nil {
		return fmt.Errorf("failed to list admins: %w", err)
	}
	token, err := d.tokens.GenerateActionToken(auth.ActionClaims{
		Action:   auth.ActionApprove,
		Kind:     auth.KindPost,
		TargetID: draft.ID,
	})
	if err != nil {
		return fmt.Errorf("failed to sign approve token: %w", err)
	}
	data := pongo2.Context{
		"group":      group,
		"post":       draft,
		"editor":     editor.Name(),
		"approveUrl": fmt.Sprintf("%s/api/approve?token=%s", d.baseURL, token),
	}
	subject := fmt.Sprintf("Edit pending approval: %s", draft.Title)
	for _, admin := range admins {
		if err := d.mailer.Send(ctx, []string{admin.Email}, subject, "approveEdit", data, nil); err != nil {
			d.logger.Printf("dispatcher: approval request to %s failed: %v", admin.Email, err)
		}
	}
	return nil
}

func (d *Dispatcher) notifyThreadCreated(ctx context.Context, group *models.Group, post *models.Post, sender *models.User, followersCount int) error {
	data := pongo2.Context{
		"group":          group,
		"post":           post,
		"threadUrl":      fmt.Sprintf("%s/%s/%s", d.baseURL, group.Slug, post.Slug),
		"followersCount": followersCount,
	}
	subject := fmt.Sprintf("New thread created in %s", d.GroupEmail(group))
	opts := &SendOptions{ReplyTo: d.ReplyAddress(group, post)}
	return d.mailer.Send(ctx, []string{sender.Email}, subject, "threadCreated", data, opts)
}

// unsubscribeURL signs a personal opt-out link scoped to the post's
// thread.
func (d *Dispatcher) unsubscribeURL(follower *models.User, post *models.Post) string {
	claims := auth.ActionClaims{
		Action: auth.ActionUnfollow,
		UserID: follower.ID,
		Role:   models.RoleFollower,
		PostID: post.ThreadID(),
	}
	token, err := d.tokens.GenerateActionToken(claims)
	if err != nil {
		d.logger.Printf("dispatcher: unsubscribe token for %s failed: %v", follower.Email, err)
		return ""
	}
	return fmt.Sprintf("%s/api/unfollow?token=%s", d.baseURL, token)
}
