package api

import (
	"context"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/citizenspring/website/internal/auth"
	"github.com/citizenspring/website/internal/models"
)

type inboundProcessor interface {
	Process(ctx context.Context, email *models.InboundEmail) (string, error)
}

type tokenValidator interface {
	ValidateActionToken(tokenString string) (*auth.ActionClaims, error)
}

type memberStore interface {
	FindOrCreate(ctx context.Context, member *models.Member) (bool, error)
	GetByID(ctx context.Context, id int) (*models.Member, error)
	Find(ctx context.Context, member *models.Member) (*models.Member, error)
	Delete(ctx context.Context, id int) error
}

type groupPublisher interface {
	Publish(ctx context.Context, rowID int) (*models.Group, error)
}

type postPublisher interface {
	Publish(ctx context.Context, rowID int) (*models.Post, error)
}

type signinService interface {
	Signin(ctx context.Context, email, name string) error
	ExchangeShortCode(ctx context.Context, email, code string) (string, error)
}

// Router owns the HTTP surface: the inbound webhook, emailed action
// links and the signin short-code exchange.
type Router struct {
	processor inboundProcessor
	tokens    tokenValidator
	members   memberStore
	groups    groupPublisher
	posts     postPublisher
	users     signinService
	logger    *log.Logger
}

// RouterOption customizes a Router.
type RouterOption func(*Router)

// WithRouterLogger overrides the default logger.
func WithRouterLogger(logger *log.Logger) RouterOption {
	return func(r *Router) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func NewRouter(processor inboundProcessor, tokens tokenValidator, members memberStore, groups groupPublisher, posts postPublisher, users signinService, opts ...RouterOption) *Router {
	r := &Router{
		processor: processor,
		tokens:    tokens,
		members:   members,
		groups:    groups,
		posts:     posts,
		users:     users,
		logger:    log.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetupRoutes registers every endpoint on the engine.
func (r *Router) SetupRoutes(engine *gin.Engine) {
	engine.POST("/webhook", r.handleWebhook)

	api := engine.Group("/api")
	{
		api.GET("/approve", r.handleApprove)
		api.GET("/follow", r.handleFollow)
		api.GET("/unfollow", r.handleUnfollow)
		api.POST("/signin", r.handleSignin)
		api.POST("/signin/token", r.handleShortCodeExchange)
	}

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
}
