package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/citizenspring/website/internal/database"
	"github.com/citizenspring/website/internal/models"
)

// ActivityRepository appends to the audit log. Activities are immutable
// history; there are no update or delete operations.
type ActivityRepository struct {
	db *database.DB
}

func NewActivityRepository(db *database.DB) *ActivityRepository {
	return &ActivityRepository{db: db}
}

// Create appends an audit record.
func (r *ActivityRepository) Create(ctx context.Context, activity *models.Activity) error {
	now := time.Now()
	activity.CreatedAt = now
	id, err := r.db.InsertReturningID(ctx, `
		INSERT INTO activities (action, user_id, group_id, post_id, target_uuid, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		activity.Action, activity.UserID, activity.GroupID, activity.PostID, activity.TargetUUID, now)
	if err != nil {
		return fmt.Errorf("failed to create activity: %w", err)
	}
	activity.ID = id
	return nil
}

// ListByGroup returns the audit trail for a group, newest first.
func (r *ActivityRepository) ListByGroup(ctx context.Context, groupID, limit int) ([]*models.Activity, error) {
	query := `SELECT id, action, user_id, group_id, post_id, target_uuid, created_at
		FROM activities WHERE group_id = $1 ORDER BY id DESC`
	args := []any{groupID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := r.db.QueryContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list activities: %w", err)
	}
	defer rows.Close()

	var activities []*models.Activity
	for rows.Next() {
		var a models.Activity
		if err := rows.Scan(&a.ID, &a.Action, &a.UserID, &a.GroupID, &a.PostID, &a.TargetUUID, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan activity: %w", err)
		}
		activities = append(activities, &a)
	}
	return activities, rows.Err()
}
