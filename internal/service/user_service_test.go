package service

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/citizenspring/website/internal/cache"
	"github.com/citizenspring/website/internal/models"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func avatarClient(status int, requests *int) *http.Client {
	return &http.Client{Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
		if requests != nil {
			*requests++
		}
		return &http.Response{
			StatusCode: status,
			Body:       io.NopCloser(strings.NewReader("")),
			Header:     make(http.Header),
		}, nil
	})}
}

func newUserService(store *fakeUserStore, mailer *fakeMailer, client *http.Client) *UserService {
	return NewUserService(store, cache.NewMemoryCache(16), mailer, fakeSessions{}, WithHTTPClient(client))
}

func TestFindOrCreateCreatesUser(t *testing.T) {
	store := &fakeUserStore{}
	s := newUserService(store, &fakeMailer{}, avatarClient(http.StatusNotFound, nil))

	user, err := s.FindOrCreate(context.Background(), "Alice.Smith@Example.COM", "Alice Smith")
	require.NoError(t, err)

	assert.Equal(t, "alice.smith@example.com", user.Email)
	assert.Equal(t, "Alice", user.FirstName)
	assert.Equal(t, "Smith", user.LastName)
	assert.Empty(t, user.Image)
	assert.Len(t, store.users, 1)
}

func TestFindOrCreateUpgradesPlaceholderName(t *testing.T) {
	store := &fakeUserStore{}
	require.NoError(t, store.Create(context.Background(), &models.User{
		FirstName: "anonymous", Email: "bob@example.com",
	}))
	s := newUserService(store, &fakeMailer{}, avatarClient(http.StatusNotFound, nil))

	user, err := s.FindOrCreate(context.Background(), "bob@example.com", "Bob Jones")
	require.NoError(t, err)
	assert.Equal(t, "Bob", user.FirstName)
	assert.Equal(t, "Jones", user.LastName)
	assert.Equal(t, "Bob", store.users[0].FirstName)
}

func TestFindOrCreateKeepsExistingName(t *testing.T) {
	store := &fakeUserStore{}
	require.NoError(t, store.Create(context.Background(), &models.User{
		FirstName: "Carol", LastName: "King", Email: "carol@example.com",
	}))
	s := newUserService(store, &fakeMailer{}, avatarClient(http.StatusNotFound, nil))

	user, err := s.FindOrCreate(context.Background(), "carol@example.com", "Someone Else")
	require.NoError(t, err)
	assert.Equal(t, "Carol", user.FirstName)
	assert.Equal(t, "King", user.LastName)
}

func TestFindOrCreateEmptyEmail(t *testing.T) {
	s := newUserService(&fakeUserStore{}, &fakeMailer{}, avatarClient(http.StatusNotFound, nil))
	_, err := s.FindOrCreate(context.Background(), "  ", "Name")
	assert.ErrorIs(t, err, models.ErrInvalidPayload)
}

func TestGravatarHitSetsImageAndMemoizes(t *testing.T) {
	requests := 0
	store := &fakeUserStore{}
	s := newUserService(store, &fakeMailer{}, avatarClient(http.StatusOK, &requests))

	user, err := s.FindOrCreate(context.Background(), "dora@example.com", "Dora")
	require.NoError(t, err)
	assert.Contains(t, user.Image, "gravatar.com/avatar/")
	assert.Equal(t, 1, requests)

	// Cached: a second probe for the same address makes no request.
	assert.Equal(t, user.Image, s.avatarURL(context.Background(), "dora@example.com"))
	assert.Equal(t, 1, requests)
}

func TestSigninStoresAndSendsShortCode(t *testing.T) {
	store := &fakeUserStore{}
	mailer := &fakeMailer{}
	s := newUserService(store, mailer, avatarClient(http.StatusNotFound, nil))

	require.NoError(t, s.Signin(context.Background(), "eve@example.com", "Eve"))

	require.Len(t, store.users, 1)
	code := store.users[0].Token
	assert.Len(t, code, 5)

	require.Len(t, mailer.calls, 1)
	call := mailer.calls[0]
	assert.Equal(t, []string{"eve@example.com"}, call.to)
	assert.Equal(t, "shortcode", call.template)
	assert.Equal(t, code, call.data["code"])
}

func TestExchangeShortCode(t *testing.T) {
	store := &fakeUserStore{}
	mailer := &fakeMailer{}
	s := newUserService(store, mailer, avatarClient(http.StatusNotFound, nil))

	require.NoError(t, s.Signin(context.Background(), "frank@example.com", "Frank"))
	code := store.users[0].Token

	t.Run("wrong code", func(t *testing.T) {
		_, err := s.ExchangeShortCode(context.Background(), "frank@example.com", "00000")
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("matching code issues session and clears it", func(t *testing.T) {
		token, err := s.ExchangeShortCode(context.Background(), "frank@example.com", code)
		require.NoError(t, err)
		assert.Contains(t, token, "session-")
		assert.Empty(t, store.users[0].Token)
	})

	t.Run("code cannot be reused", func(t *testing.T) {
		_, err := s.ExchangeShortCode(context.Background(), "frank@example.com", code)
		assert.ErrorIs(t, err, models.ErrNotFound)
	})
}
