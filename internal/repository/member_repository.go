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

type MemberRepository struct {
	db *database.DB
}

func NewMemberRepository(db *database.DB) *MemberRepository {
	return &MemberRepository{db: db}
}

const memberColumns = `id, user_id, group_id, post_id, role, created_at`

func scanMember(row interface{ Scan(...any) error }) (*models.Member, error) {
	var m models.Member
	var groupID, postID sql.NullInt64
	err := row.Scan(&m.ID, &m.UserID, &groupID, &postID, &m.Role, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	if groupID.Valid {
		id := int(groupID.Int64)
		m.GroupID = &id
	}
	if postID.Valid {
		id := int(postID.Int64)
		m.PostID = &id
	}
	return &m, nil
}

func targetClause(member *models.Member) (string, []any) {
	clause := `user_id = $1 AND role = $2`
	args := []any{member.UserID, member.Role}
	n := 3
	if member.GroupID != nil {
		clause += fmt.Sprintf(` AND group_id = $%d`, n)
		args = append(args, *member.GroupID)
		n++
	} else {
		clause += ` AND group_id IS NULL`
	}
	if member.PostID != nil {
		clause += fmt.Sprintf(` AND post_id = $%d`, n)
		args = append(args, *member.PostID)
	} else {
		clause += ` AND post_id IS NULL`
	}
	return clause, args
}

// FindOrCreate creates the membership when absent. At most one row exists
// per (user, target, role); created reports whether a row was inserted.
func (r *MemberRepository) FindOrCreate(ctx context.Context, member *models.Member) (created bool, err error) {
	clause, args := targetClause(member)
	query := r.db.Rebind(`SELECT ` + memberColumns + ` FROM members WHERE ` + clause + ` LIMIT 1`)
	existing, err := scanMember(r.db.QueryRowContext(ctx, query, args...))
	if err == nil {
		*member = *existing
		return false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("failed to find membership: %w", err)
	}

	now := time.Now()
	member.CreatedAt = now
	var groupID, postID any
	if member.GroupID != nil {
		groupID = *member.GroupID
	}
	if member.PostID != nil {
		postID = *member.PostID
	}
	id, err := r.db.InsertReturningID(ctx, `
		INSERT INTO members (user_id, group_id, post_id, role, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		member.UserID, groupID, postID, member.Role, now)
	if err != nil {
		return false, fmt.Errorf("failed to create membership: %w", err)
	}
	member.ID = id
	return true, nil
}

// GetByID returns a membership row.
func (r *MemberRepository) GetByID(ctx context.Context, id int) (*models.Member, error) {
	query := r.db.Rebind(`SELECT ` + memberColumns + ` FROM members WHERE id = $1`)
	member, err := scanMember(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("member %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get member: %w", err)
	}
	return member, nil
}

// Find returns the membership matching the target of the given row.
func (r *MemberRepository) Find(ctx context.Context, member *models.Member) (*models.Member, error) {
	clause, args := targetClause(member)
	query := r.db.Rebind(`SELECT ` + memberColumns + ` FROM members WHERE ` + clause + ` LIMIT 1`)
	found, err := scanMember(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("membership: %w", models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find membership: %w", err)
	}
	return found, nil
}

// Delete removes a membership row.
func (r *MemberRepository) Delete(ctx context.Context, id int) error {
	query := r.db.Rebind(`DELETE FROM members WHERE id = $1`)
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to delete member: %w", err)
	}
	return nil
}

// BulkCreate inserts memberships one by one, idempotently. Partial
// completion is tolerated; re-running skips rows that already exist.
func (r *MemberRepository) BulkCreate(ctx context.Context, members []*models.Member) error {
	for _, member := range members {
		if _, err := r.FindOrCreate(ctx, member); err != nil {
			return err
		}
	}
	return nil
}

// ListGroupFollowers returns the users following a group, by logical id.
func (r *MemberRepository) ListGroupFollowers(ctx context.Context, groupID int) ([]*models.User, error) {
	query := r.db.Rebind(`SELECT ` + prefixedUserColumns + ` FROM users u
		JOIN members m ON m.user_id = u.id
		WHERE m.group_id = $1 AND m.role = $2
		ORDER BY u.id`)
	return r.listUsers(ctx, query, groupID, models.RoleFollower)
}

// ListThreadFollowers returns the users following a thread, by the thread
// root's logical post id.
func (r *MemberRepository) ListThreadFollowers(ctx context.Context, postID int) ([]*models.User, error) {
	query := r.db.Rebind(`SELECT ` + prefixedUserColumns + ` FROM users u
		JOIN members m ON m.user_id = u.id
		WHERE m.post_id = $1 AND m.role = $2
		ORDER BY u.id`)
	return r.listUsers(ctx, query, postID, models.RoleFollower)
}

// ListGroupAdmins returns the users administering a group, by logical id.
func (r *MemberRepository) ListGroupAdmins(ctx context.Context, groupID int) ([]*models.User, error) {
	query := r.db.Rebind(`SELECT ` + prefixedUserColumns + ` FROM users u
		JOIN members m ON m.user_id = u.id
		WHERE m.group_id = $1 AND m.role = $2
		ORDER BY u.id`)
	return r.listUsers(ctx, query, groupID, models.RoleAdmin)
}

// CountByRole counts memberships with a role on a group.
func (r *MemberRepository) CountByRole(ctx context.Context, groupID int, role string) (int, error) {
	query := r.db.Rebind(`SELECT COUNT(*) FROM members WHERE group_id = $1 AND role = $2`)
	var count int
	if err := r.db.QueryRowContext(ctx, query, groupID, role).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count members: %w", err)
	}
	return count, nil
}

const prefixedUserColumns = `u.id, u.first_name, u.last_name, u.email, u.image, u.token, u.created_at, u.updated_at`

func (r *MemberRepository) listUsers(ctx context.Context, query string, args ...any) ([]*models.User, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list followers: %w", err)
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan follower: %w", err)
		}
		users = append(users, user)
	}
	return users, rows.Err()
}
