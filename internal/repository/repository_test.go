package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/citizenspring/website/internal/database"
	"github.com/citizenspring/website/internal/models"
)

func newMockDB(t *testing.T, driver string) (*database.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return database.Wrap(db, driver), mock
}

func userRows(id int, email string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{"id", "first_name", "last_name", "email", "image", "token", "created_at", "updated_at"}).
		AddRow(id, "Alice", "", email, "", "", now, now)
}

func TestUserRepository(t *testing.T) {
	ctx := context.Background()

	t.Run("FindByEmail normalizes the address", func(t *testing.T) {
		db, mock := newMockDB(t, "postgres")
		repo := NewUserRepository(db)
		mock.ExpectQuery(`SELECT .+ FROM users WHERE email = \$1`).
			WithArgs("alice@x.com").
			WillReturnRows(userRows(1, "alice@x.com"))

		user, err := repo.FindByEmail(ctx, " Alice@X.com ")
		require.NoError(t, err)
		assert.Equal(t, 1, user.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("FindByEmail miss maps to ErrNotFound", func(t *testing.T) {
		db, mock := newMockDB(t, "postgres")
		repo := NewUserRepository(db)
		mock.ExpectQuery(`SELECT .+ FROM users WHERE email = \$1`).
			WithArgs("nobody@x.com").
			WillReturnRows(sqlmock.NewRows([]string{"id"}))

		_, err := repo.FindByEmail(ctx, "nobody@x.com")
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("Create uses RETURNING on postgres", func(t *testing.T) {
		db, mock := newMockDB(t, "postgres")
		repo := NewUserRepository(db)
		mock.ExpectQuery(`INSERT INTO users .+ RETURNING id`).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))

		user := &models.User{Email: "Bob@Y.com"}
		require.NoError(t, repo.Create(ctx, user))
		assert.Equal(t, 7, user.ID)
		assert.Equal(t, "bob@y.com", user.Email)
	})

	t.Run("Create uses LastInsertId on mysql", func(t *testing.T) {
		db, mock := newMockDB(t, "mysql")
		repo := NewUserRepository(db)
		mock.ExpectExec(`INSERT INTO users`).
			WillReturnResult(sqlmock.NewResult(9, 1))

		user := &models.User{Email: "carol@z.com"}
		require.NoError(t, repo.Create(ctx, user))
		assert.Equal(t, 9, user.ID)
	})
}

func TestPostRepositoryFindByMessageID(t *testing.T) {
	ctx := context.Background()
	db, mock := newMockDB(t, "postgres")
	repo := NewPostRepository(db)
	now := time.Now()

	rows := sqlmock.NewRows([]string{"id", "post_id", "version", "status", "uuid", "group_id", "user_id",
		"parent_post_id", "slug", "email_message_id", "title", "html", "text", "created_at", "updated_at"}).
		AddRow(3, 3, 1, models.StatusPublished, "u-u-i-d", 1, 2, nil, "hello-3", "<mid@x>", "hello", "<p>hi</p>", "hi", now, now)
	mock.ExpectQuery(`SELECT .+ FROM posts WHERE email_message_id = \$1 ORDER BY version DESC`).
		WithArgs("<mid@x>").
		WillReturnRows(rows)

	post, err := repo.FindByMessageID(ctx, "<mid@x>")
	require.NoError(t, err)
	assert.Equal(t, 3, post.PostID)
	assert.False(t, post.IsReply())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMemberRepositoryFindOrCreate(t *testing.T) {
	ctx := context.Background()

	t.Run("existing membership is reused", func(t *testing.T) {
		db, mock := newMockDB(t, "postgres")
		repo := NewMemberRepository(db)
		groupID := 5
		now := time.Now()
		mock.ExpectQuery(`SELECT .+ FROM members WHERE user_id = \$1 AND role = \$2 AND group_id = \$3 AND post_id IS NULL`).
			WithArgs(1, models.RoleFollower, groupID).
			WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "group_id", "post_id", "role", "created_at"}).
				AddRow(11, 1, groupID, nil, models.RoleFollower, now))

		member := &models.Member{UserID: 1, GroupID: &groupID, Role: models.RoleFollower}
		created, err := repo.FindOrCreate(ctx, member)
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, 11, member.ID)
	})

	t.Run("missing membership is inserted", func(t *testing.T) {
		db, mock := newMockDB(t, "postgres")
		repo := NewMemberRepository(db)
		postID := 8
		mock.ExpectQuery(`SELECT .+ FROM members WHERE user_id = \$1 AND role = \$2 AND group_id IS NULL AND post_id = \$3`).
			WithArgs(2, models.RoleFollower, postID).
			WillReturnRows(sqlmock.NewRows([]string{"id"}))
		mock.ExpectQuery(`INSERT INTO members .+ RETURNING id`).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(21))

		member := &models.Member{UserID: 2, PostID: &postID, Role: models.RoleFollower}
		created, err := repo.FindOrCreate(ctx, member)
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, 21, member.ID)
	})
}
