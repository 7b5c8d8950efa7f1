package database

import (
	"context"
	"fmt"
	"strings"
)

// schemaDDL is written with portable column types; the id column macro is
// replaced per driver in EnsureSchema.
var schemaDDL = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id {{id}},
		first_name VARCHAR(255) NOT NULL DEFAULT '',
		last_name VARCHAR(255) NOT NULL DEFAULT '',
		email VARCHAR(255) NOT NULL UNIQUE,
		image VARCHAR(255) NOT NULL DEFAULT '',
		token VARCHAR(512) NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS groups (
		id {{id}},
		group_id INTEGER NOT NULL DEFAULT 0,
		version INTEGER NOT NULL DEFAULT 1,
		status VARCHAR(16) NOT NULL DEFAULT 'PUBLISHED',
		uuid VARCHAR(36) NOT NULL,
		user_id INTEGER NOT NULL,
		slug VARCHAR(255) NOT NULL,
		name VARCHAR(255) NOT NULL DEFAULT '',
		description TEXT,
		tags VARCHAR(512) NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_groups_slug_status ON groups (slug, status)`,
	`CREATE INDEX IF NOT EXISTS idx_groups_group_id_status ON groups (group_id, status)`,
	`CREATE TABLE IF NOT EXISTS posts (
		id {{id}},
		post_id INTEGER NOT NULL DEFAULT 0,
		version INTEGER NOT NULL DEFAULT 1,
		status VARCHAR(16) NOT NULL DEFAULT 'PUBLISHED',
		uuid VARCHAR(36) NOT NULL,
		group_id INTEGER NOT NULL,
		user_id INTEGER NOT NULL,
		parent_post_id INTEGER,
		slug VARCHAR(255) NOT NULL,
		email_message_id VARCHAR(512) NOT NULL DEFAULT '',
		title VARCHAR(512) NOT NULL DEFAULT '',
		html TEXT,
		text TEXT,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_posts_slug_status ON posts (slug, status)`,
	`CREATE INDEX IF NOT EXISTS idx_posts_post_id_status ON posts (post_id, status)`,
	`CREATE INDEX IF NOT EXISTS idx_posts_email_message_id ON posts (email_message_id)`,
	`CREATE TABLE IF NOT EXISTS members (
		id {{id}},
		user_id INTEGER NOT NULL,
		group_id INTEGER,
		post_id INTEGER,
		role VARCHAR(16) NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_members_target ON members (user_id, group_id, post_id, role)`,
	`CREATE TABLE IF NOT EXISTS activities (
		id {{id}},
		action VARCHAR(16) NOT NULL,
		user_id INTEGER NOT NULL,
		group_id INTEGER NOT NULL DEFAULT 0,
		post_id INTEGER NOT NULL DEFAULT 0,
		target_uuid VARCHAR(36) NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS inbound_emails (
		id {{id}},
		message_id VARCHAR(512) NOT NULL DEFAULT '',
		payload TEXT NOT NULL,
		status VARCHAR(16) NOT NULL DEFAULT 'RECEIVED',
		attempts INTEGER NOT NULL DEFAULT 0,
		last_error TEXT,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_inbound_emails_status ON inbound_emails (status)`,
}

func idColumn(driver string) string {
	switch strings.ToLower(driver) {
	case "mysql", "mariadb":
		return "INTEGER PRIMARY KEY AUTO_INCREMENT"
	case "sqlite", "sqlite3":
		return "INTEGER PRIMARY KEY AUTOINCREMENT"
	default:
		return "SERIAL PRIMARY KEY"
	}
}

// EnsureSchema creates the tables the platform needs when they are
// missing. Production deployments run real migrations; this bootstrap
// covers development and tests.
func EnsureSchema(ctx context.Context, db *DB) error {
	id := idColumn(db.Driver())
	for _, stmt := range schemaDDL {
		ddl := strings.ReplaceAll(stmt, "{{id}}", id)
		if _, err := db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}
