package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/citizenspring/website/internal/api"
	"github.com/citizenspring/website/internal/auth"
	"github.com/citizenspring/website/internal/cache"
	"github.com/citizenspring/website/internal/config"
	"github.com/citizenspring/website/internal/database"
	"github.com/citizenspring/website/internal/email/inbound"
	"github.com/citizenspring/website/internal/email/outbound"
	"github.com/citizenspring/website/internal/email/parser"
	"github.com/citizenspring/website/internal/email/sanitizer"
	"github.com/citizenspring/website/internal/repository"
	"github.com/citizenspring/website/internal/runner"
	"github.com/citizenspring/website/internal/runner/tasks"
	"github.com/citizenspring/website/internal/service"
)

var (
	version = "dev"
	commit  = "none"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:     "citizenspring",
	Short:   "Email-driven group discussion platform",
	Version: fmt.Sprintf("%s (commit: %s)", version, commit),
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the webhook server and background runner",
	RunE:  runServe,
}

var reprocessCmd = &cobra.Command{
	Use:   "reprocess",
	Short: "Replay failed inbound emails once and exit",
	RunE:  runReprocess,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the configuration file")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(reprocessCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// app holds everything both commands need wired.
type app struct {
	cfg       *config.Config
	db        *database.DB
	processor *inbound.Processor
	replayer  *inbound.Processor
	journal   *repository.InboundEmailRepository
	router    *api.Router
}

func buildApp(ctx context.Context) (*app, error) {
	if err := config.Load(configPath); err != nil {
		log.Printf("config: %v, continuing with defaults and environment", err)
	}
	cfg := config.Get()

	sqlDB, err := database.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db := database.Wrap(sqlDB, cfg.Database.Driver)
	if err := database.EnsureSchema(ctx, db); err != nil {
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}

	userRepo := repository.NewUserRepository(db)
	groupRepo := repository.NewGroupRepository(db)
	postRepo := repository.NewPostRepository(db)
	memberRepo := repository.NewMemberRepository(db)
	activityRepo := repository.NewActivityRepository(db)
	inboundRepo := repository.NewInboundEmailRepository(db)

	var avatarCache cache.Cache = cache.NewMemoryCache(1024)
	if cfg.Redis.Addr != "" {
		redisCache, err := cache.NewRedisCache(ctx, cfg.Redis)
		if err != nil {
			log.Printf("redis unavailable (%v), using in-memory cache", err)
		} else {
			avatarCache = redisCache
		}
	}

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.TokenExpiration, cfg.Auth.SessionDuration)

	sender := outbound.NewSMTPSender(outbound.SMTPConfig{
		Host:     cfg.Email.SMTPHost,
		Port:     cfg.Email.SMTPPort,
		Username: cfg.Email.SMTPUsername,
		Password: cfg.Email.SMTPPassword,
		From:     cfg.Email.SMTPFrom,
		UseTLS:   cfg.Email.UseTLS,
	})
	mailer, err := outbound.NewMailer(sender, cfg.Email.TemplateDir, cfg.Email.SMTPFrom)
	if err != nil {
		return nil, fmt.Errorf("failed to load email templates: %w", err)
	}
	dispatcher := outbound.NewDispatcher(mailer, memberRepo, tokens, cfg.Server.Domain, cfg.Server.BaseURL)

	users := service.NewUserService(userRepo, avatarCache, mailer, tokens)
	groups := service.NewGroupService(groupRepo, memberRepo, activityRepo, postRepo, dispatcher)
	posts := service.NewPostService(postRepo, memberRepo, activityRepo)

	headerParser := parser.New(cfg.Server.Domain)
	bodySanitizer := sanitizer.New()

	processor := inbound.NewProcessor(headerParser, bodySanitizer, users, groups, posts, postRepo, dispatcher,
		inbound.WithJournal(inboundRepo))
	// The replayer skips journaling; the reprocess task owns the status
	// transitions of the rows it replays.
	replayer := inbound.NewProcessor(headerParser, bodySanitizer, users, groups, posts, postRepo, dispatcher)

	router := api.NewRouter(processor, tokens, memberRepo, groups, posts, users)

	return &app{
		cfg:       cfg,
		db:        db,
		processor: processor,
		replayer:  replayer,
		journal:   inboundRepo,
		router:    router,
	}, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	application, err := buildApp(ctx)
	if err != nil {
		return err
	}

	registry := runner.NewTaskRegistry()
	registry.Register(tasks.NewReprocessTask(
		application.replayer,
		application.journal,
		application.cfg.Runner.ReprocessSchedule,
		application.cfg.Runner.ReprocessBatch,
	))
	taskRunner := runner.NewRunner(registry)
	if err := taskRunner.Start(ctx); err != nil {
		return err
	}

	if application.cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.Default()
	application.router.SetupRoutes(engine)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", application.cfg.Server.Host, application.cfg.Server.Port),
		Handler:      engine,
		ReadTimeout:  application.cfg.Server.ReadTimeout,
		WriteTimeout: application.cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		log.Printf("received %v, shutting down", sig)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), application.cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("server shutdown: %v", err)
	}
	taskRunner.Stop()
	return nil
}

func runReprocess(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	application, err := buildApp(ctx)
	if err != nil {
		return err
	}
	task := tasks.NewReprocessTask(
		application.replayer,
		application.journal,
		application.cfg.Runner.ReprocessSchedule,
		application.cfg.Runner.ReprocessBatch,
	)
	return task.Run(ctx)
}
