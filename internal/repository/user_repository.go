package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/citizenspring/website/internal/database"
	"github.com/citizenspring/website/internal/models"
)

type UserRepository struct {
	db *database.DB
}

func NewUserRepository(db *database.DB) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `id, first_name, last_name, email, image, token, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (*models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.FirstName, &u.LastName, &u.Email, &u.Image, &u.Token, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// FindByEmail looks up a user by normalized (lower-cased) email.
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	query := r.db.Rebind(`SELECT ` + userColumns + ` FROM users WHERE email = $1`)
	user, err := scanUser(r.db.QueryRowContext(ctx, query, email))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %s: %w", email, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	return user, nil
}

// GetByID returns a user by row id.
func (r *UserRepository) GetByID(ctx context.Context, id int) (*models.User, error) {
	query := r.db.Rebind(`SELECT ` + userColumns + ` FROM users WHERE id = $1`)
	user, err := scanUser(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// Create inserts a new user and fills in its row id.
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	now := time.Now()
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	user.CreatedAt = now
	user.UpdatedAt = now
	id, err := r.db.InsertReturningID(ctx, `
		INSERT INTO users (first_name, last_name, email, image, token, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		user.FirstName, user.LastName, user.Email, user.Image, user.Token, now, now)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	user.ID = id
	return nil
}

// UpdateName upgrades the display name fields in place.
func (r *UserRepository) UpdateName(ctx context.Context, id int, firstName, lastName string) error {
	query := r.db.Rebind(`UPDATE users SET first_name = $1, last_name = $2, updated_at = $3 WHERE id = $4`)
	if _, err := r.db.ExecContext(ctx, query, firstName, lastName, time.Now(), id); err != nil {
		return fmt.Errorf("failed to update user name: %w", err)
	}
	return nil
}

// UpdateToken stores a short code or session token on the user.
func (r *UserRepository) UpdateToken(ctx context.Context, id int, token string) error {
	query := r.db.Rebind(`UPDATE users SET token = $1, updated_at = $2 WHERE id = $3`)
	if _, err := r.db.ExecContext(ctx, query, token, time.Now(), id); err != nil {
		return fmt.Errorf("failed to update user token: %w", err)
	}
	return nil
}

// UpdateImage stores a resolved avatar URL.
func (r *UserRepository) UpdateImage(ctx context.Context, id int, image string) error {
	query := r.db.Rebind(`UPDATE users SET image = $1, updated_at = $2 WHERE id = $3`)
	if _, err := r.db.ExecContext(ctx, query, image, time.Now(), id); err != nil {
		return fmt.Errorf("failed to update user image: %w", err)
	}
	return nil
}
