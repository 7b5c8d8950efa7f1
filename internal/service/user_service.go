package service

import (
	"context"
	"crypto/md5"
	"crypto/rand"
	"errors"
	"fmt"
	"log"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/flosch/pongo2/v6"

	"github.com/citizenspring/website/internal/cache"
	"github.com/citizenspring/website/internal/email/outbound"
	"github.com/citizenspring/website/internal/models"
	"github.com/citizenspring/website/internal/utils"
)

type userStore interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	GetByID(ctx context.Context, id int) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
	UpdateName(ctx context.Context, id int, firstName, lastName string) error
	UpdateToken(ctx context.Context, id int, token string) error
	UpdateImage(ctx context.Context, id int, image string) error
}

type templateMailer interface {
	Send(ctx context.Context, to []string, subject, template string, data pongo2.Context, opts *outbound.SendOptions) error
}

type sessionSigner interface {
	GenerateSessionToken(userID int, email string) (string, error)
}

const (
	gravatarTimeout = 2 * time.Second
	gravatarTTL     = 24 * time.Hour
)

// UserService resolves raw email addresses to durable identities and
// runs the short-code sign-in flow.
type UserService struct {
	users      userStore
	avatars    cache.Cache
	mailer     templateMailer
	sessions   sessionSigner
	httpClient *http.Client
	logger     *log.Logger
}

// UserOption configures a UserService.
type UserOption func(*UserService)

// WithUserLogger overrides the default logger.
func WithUserLogger(logger *log.Logger) UserOption {
	return func(s *UserService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithHTTPClient overrides the avatar probe client.
func WithHTTPClient(client *http.Client) UserOption {
	return func(s *UserService) {
		if client != nil {
			s.httpClient = client
		}
	}
}

func NewUserService(users userStore, avatars cache.Cache, mailer templateMailer, sessions sessionSigner, opts ...UserOption) *UserService {
	s := &UserService{
		users:      users,
		avatars:    avatars,
		mailer:     mailer,
		sessions:   sessions,
		httpClient: &http.Client{Timeout: gravatarTimeout},
		logger:     log.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FindOrCreate maps an email address to a user, creating one on first
// sight. An existing user with a placeholder name is upgraded in place
// when a usable name arrives; users have no version history.
func (s *UserService) FindOrCreate(ctx context.Context, email, name string) (*models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, fmt.Errorf("%w: empty email address", models.ErrInvalidPayload)
	}

	user, err := s.users.FindByEmail(ctx, email)
	if err == nil {
		if !user.HasName() && name != "" {
			first, last := utils.SplitName(name)
			if err := s.users.UpdateName(ctx, user.ID, first, last); err != nil {
				return nil, err
			}
			user.FirstName = first
			user.LastName = last
		}
		return user, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}

	first, last := utils.SplitName(name)
	user = &models.User{
		FirstName: first,
		LastName:  last,
		Email:     email,
		Image:     s.avatarURL(ctx, email),
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrPersistence, err)
	}
	return user, nil
}

// Signin issues a 5-digit short code, stores it on the user and emails
// it to them.
func (s *UserService) Signin(ctx context.Context, email, name string) error {
	user, err := s.FindOrCreate(ctx, email, name)
	if err != nil {
		return err
	}
	code, err := shortCode()
	if err != nil {
		return fmt.Errorf("failed to generate short code: %w", err)
	}
	if err := s.users.UpdateToken(ctx, user.ID, code); err != nil {
		return err
	}
	return s.mailer.Send(ctx, []string{user.Email}, "Your sign-in code", "shortcode",
		pongo2.Context{"code": code, "user": user}, nil)
}

// ExchangeShortCode swaps a matching short code for a long-lived session
// token and invalidates the code.
func (s *UserService) ExchangeShortCode(ctx context.Context, email, code string) (string, error) {
	user, err := s.users.FindByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return "", err
	}
	if user.Token == "" || user.Token != strings.TrimSpace(code) {
		return "", fmt.Errorf("short code: %w", models.ErrNotFound)
	}
	token, err := s.sessions.GenerateSessionToken(user.ID, user.Email)
	if err != nil {
		return "", err
	}
	if err := s.users.UpdateToken(ctx, user.ID, ""); err != nil {
		return "", err
	}
	return token, nil
}

// avatarURL probes gravatar for the address, memoizing hits and misses.
// Failures degrade to no avatar; they never block identity resolution.
func (s *UserService) avatarURL(ctx context.Context, email string) string {
	key := "gravatar:" + email
	if cached, ok := s.avatars.Get(ctx, key); ok {
		if cached == "-" {
			return ""
		}
		return cached
	}

	ctx, cancel := context.WithTimeout(ctx, gravatarTimeout)
	defer cancel()

	hash := md5.Sum([]byte(email))
	url := fmt.Sprintf("https://www.gravatar.com/avatar/%x?d=404", hash)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return ""
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.logger.Printf("gravatar lookup for %s failed: %v", email, err)
		return ""
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		s.avatars.Set(ctx, key, "-", gravatarTTL)
		return ""
	}
	s.avatars.Set(ctx, key, url, gravatarTTL)
	return url
}

func shortCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(90000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d", n.Int64()+10000), nil
}
