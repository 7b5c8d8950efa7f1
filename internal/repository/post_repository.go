package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/citizenspring/website/internal/database"
	"github.com/citizenspring/website/internal/models"
)

type PostRepository struct {
	db *database.DB
}

func NewPostRepository(db *database.DB) *PostRepository {
	return &PostRepository{db: db}
}

const postColumns = `id, post_id, version, status, uuid, group_id, user_id, parent_post_id,
	slug, email_message_id, title, html, text, created_at, updated_at`

func scanPost(row interface{ Scan(...any) error }) (*models.Post, error) {
	var p models.Post
	var parent sql.NullInt64
	var html, text sql.NullString
	err := row.Scan(&p.ID, &p.PostID, &p.Version, &p.Status, &p.UUID, &p.GroupID, &p.UserID,
		&parent, &p.Slug, &p.EmailMessageID, &p.Title, &html, &text, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if parent.Valid {
		id := int(parent.Int64)
		p.ParentPostID = &id
	}
	p.HTML = html.String
	p.Text = text.String
	return &p, nil
}

// FindByMessageID returns the post whose stored email message id matches,
// most recent version first. Used for threading and deduplication.
func (r *PostRepository) FindByMessageID(ctx context.Context, messageID string) (*models.Post, error) {
	query := r.db.Rebind(`SELECT ` + postColumns + `
		FROM posts WHERE email_message_id = $1 ORDER BY version DESC, id DESC LIMIT 1`)
	post, err := scanPost(r.db.QueryRowContext(ctx, query, messageID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("post for message id %s: %w", messageID, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find post by message id: %w", err)
	}
	return post, nil
}

// FindByLogicalID returns the latest version with the given logical id,
// optionally filtered by status.
func (r *PostRepository) FindByLogicalID(ctx context.Context, postID int, status string) (*models.Post, error) {
	query := `SELECT ` + postColumns + ` FROM posts WHERE post_id = $1`
	args := []any{postID}
	if status != "" {
		query += ` AND status = $2`
		args = append(args, status)
	}
	query += ` ORDER BY id DESC LIMIT 1`
	post, err := scanPost(r.db.QueryRowContext(ctx, r.db.Rebind(query), args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("post %d: %w", postID, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find post by logical id: %w", err)
	}
	return post, nil
}

// FindBySlug returns the latest version of the post with the given slug.
func (r *PostRepository) FindBySlug(ctx context.Context, slug, status string) (*models.Post, error) {
	query := `SELECT ` + postColumns + ` FROM posts WHERE slug = $1`
	args := []any{slug}
	if status != "" {
		query += ` AND status = $2`
		args = append(args, status)
	}
	query += ` ORDER BY id DESC LIMIT 1`
	post, err := scanPost(r.db.QueryRowContext(ctx, r.db.Rebind(query), args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("post %s: %w", slug, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find post by slug: %w", err)
	}
	return post, nil
}

// GetByID returns the post row with the given storage id.
func (r *PostRepository) GetByID(ctx context.Context, id int) (*models.Post, error) {
	query := r.db.Rebind(`SELECT ` + postColumns + ` FROM posts WHERE id = $1`)
	post, err := scanPost(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("post row %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get post: %w", err)
	}
	return post, nil
}

// Create inserts a new post version and fills in its row id.
func (r *PostRepository) Create(ctx context.Context, post *models.Post) error {
	now := time.Now()
	post.CreatedAt = now
	post.UpdatedAt = now
	if post.Version == 0 {
		post.Version = 1
	}
	if post.Status == "" {
		post.Status = models.StatusPublished
	}
	var parent any
	if post.ParentPostID != nil {
		parent = *post.ParentPostID
	}
	id, err := r.db.InsertReturningID(ctx, `
		INSERT INTO posts (post_id, version, status, uuid, group_id, user_id, parent_post_id,
			slug, email_message_id, title, html, text, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		post.PostID, post.Version, post.Status, post.UUID, post.GroupID, post.UserID,
		parent, post.Slug, post.EmailMessageID, post.Title, post.HTML, post.Text, now, now)
	if err != nil {
		return fmt.Errorf("failed to create post: %w", err)
	}
	post.ID = id
	return nil
}

// SetLogicalID assigns the stable identity and the disambiguated slug to
// a first-version row.
func (r *PostRepository) SetLogicalID(ctx context.Context, rowID, logicalID int, slug string) error {
	query := r.db.Rebind(`UPDATE posts SET post_id = $1, slug = $2, updated_at = $3 WHERE id = $4`)
	if _, err := r.db.ExecContext(ctx, query, logicalID, slug, time.Now(), rowID); err != nil {
		return fmt.Errorf("failed to set post logical id: %w", err)
	}
	return nil
}

// UpdateStatus moves a post row between version statuses.
func (r *PostRepository) UpdateStatus(ctx context.Context, rowID int, status string) error {
	query := r.db.Rebind(`UPDATE posts SET status = $1, updated_at = $2 WHERE id = $3`)
	if _, err := r.db.ExecContext(ctx, query, status, time.Now(), rowID); err != nil {
		return fmt.Errorf("failed to update post status: %w", err)
	}
	return nil
}

// ListThreads returns the latest published thread roots for a group.
func (r *PostRepository) ListThreads(ctx context.Context, groupID, limit int) ([]*models.Post, error) {
	query := `SELECT ` + postColumns + ` FROM posts
		WHERE group_id = $1 AND parent_post_id IS NULL AND status = $2
		ORDER BY id DESC`
	args := []any{groupID, models.StatusPublished}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}
	rows, err := r.db.QueryContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list threads: %w", err)
	}
	defer rows.Close()

	var posts []*models.Post
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan thread: %w", err)
		}
		posts = append(posts, post)
	}
	return posts, rows.Err()
}

// CountThreads counts the published thread roots in a group.
func (r *PostRepository) CountThreads(ctx context.Context, groupID int) (int, error) {
	query := r.db.Rebind(`SELECT COUNT(*) FROM posts
		WHERE group_id = $1 AND parent_post_id IS NULL AND status = $2`)
	var count int
	if err := r.db.QueryRowContext(ctx, query, groupID, models.StatusPublished).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count threads: %w", err)
	}
	return count, nil
}
