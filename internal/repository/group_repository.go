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

type GroupRepository struct {
	db *database.DB
}

func NewGroupRepository(db *database.DB) *GroupRepository {
	return &GroupRepository{db: db}
}

const groupColumns = `id, group_id, version, status, uuid, user_id, slug, name, description, tags, created_at, updated_at`

func scanGroup(row interface{ Scan(...any) error }) (*models.Group, error) {
	var g models.Group
	var description sql.NullString
	err := row.Scan(&g.ID, &g.GroupID, &g.Version, &g.Status, &g.UUID, &g.UserID,
		&g.Slug, &g.Name, &description, &g.Tags, &g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		return nil, err
	}
	g.Description = description.String
	return &g, nil
}

// FindBySlug returns the latest version of the group with the given slug,
// optionally filtered by status. Most recent row first.
func (r *GroupRepository) FindBySlug(ctx context.Context, slug, status string) (*models.Group, error) {
	query := `SELECT ` + groupColumns + ` FROM groups WHERE slug = $1`
	args := []any{slug}
	if status != "" {
		query += ` AND status = $2`
		args = append(args, status)
	}
	query += ` ORDER BY id DESC LIMIT 1`
	group, err := scanGroup(r.db.QueryRowContext(ctx, r.db.Rebind(query), args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("group %s: %w", slug, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find group by slug: %w", err)
	}
	return group, nil
}

// FindByLogicalID returns the latest version with the given logical id,
// optionally filtered by status.
func (r *GroupRepository) FindByLogicalID(ctx context.Context, groupID int, status string) (*models.Group, error) {
	query := `SELECT ` + groupColumns + ` FROM groups WHERE group_id = $1`
	args := []any{groupID}
	if status != "" {
		query += ` AND status = $2`
		args = append(args, status)
	}
	query += ` ORDER BY id DESC LIMIT 1`
	group, err := scanGroup(r.db.QueryRowContext(ctx, r.db.Rebind(query), args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("group %d: %w", groupID, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find group by logical id: %w", err)
	}
	return group, nil
}

// GetByID returns the group row with the given storage id.
func (r *GroupRepository) GetByID(ctx context.Context, id int) (*models.Group, error) {
	query := r.db.Rebind(`SELECT ` + groupColumns + ` FROM groups WHERE id = $1`)
	group, err := scanGroup(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("group row %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get group: %w", err)
	}
	return group, nil
}

// Create inserts a new group version and fills in its row id. Assigning
// the logical id for first versions is the caller's second phase.
func (r *GroupRepository) Create(ctx context.Context, group *models.Group) error {
	now := time.Now()
	group.CreatedAt = now
	group.UpdatedAt = now
	if group.Version == 0 {
		group.Version = 1
	}
	if group.Status == "" {
		group.Status = models.StatusPublished
	}
	id, err := r.db.InsertReturningID(ctx, `
		INSERT INTO groups (group_id, version, status, uuid, user_id, slug, name, description, tags, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		group.GroupID, group.Version, group.Status, group.UUID, group.UserID,
		group.Slug, group.Name, group.Description, group.Tags, now, now)
	if err != nil {
		return fmt.Errorf("failed to create group: %w", err)
	}
	group.ID = id
	return nil
}

// SetLogicalID assigns the stable group identity to a row.
func (r *GroupRepository) SetLogicalID(ctx context.Context, rowID, logicalID int) error {
	query := r.db.Rebind(`UPDATE groups SET group_id = $1, updated_at = $2 WHERE id = $3`)
	if _, err := r.db.ExecContext(ctx, query, logicalID, time.Now(), rowID); err != nil {
		return fmt.Errorf("failed to set group logical id: %w", err)
	}
	return nil
}

// UpdateStatus moves a group row between version statuses.
func (r *GroupRepository) UpdateStatus(ctx context.Context, rowID int, status string) error {
	query := r.db.Rebind(`UPDATE groups SET status = $1, updated_at = $2 WHERE id = $3`)
	if _, err := r.db.ExecContext(ctx, query, status, time.Now(), rowID); err != nil {
		return fmt.Errorf("failed to update group status: %w", err)
	}
	return nil
}
