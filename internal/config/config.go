package config

import (
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/citizenspring/website/internal/cache"
	"github.com/citizenspring/website/internal/database"
)

var (
	cfg *Config
	mu  sync.RWMutex
)

// Config is the application configuration.
type Config struct {
	App      AppConfig         `mapstructure:"app"`
	Server   ServerConfig      `mapstructure:"server"`
	Database database.Config   `mapstructure:"database"`
	Redis    cache.RedisConfig `mapstructure:"redis"`
	Email    EmailConfig       `mapstructure:"email"`
	Auth     AuthConfig        `mapstructure:"auth"`
	Runner   RunnerConfig      `mapstructure:"runner"`
}

type AppConfig struct {
	Name  string `mapstructure:"name"`
	Env   string `mapstructure:"env"`
	Debug bool   `mapstructure:"debug"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	BaseURL         string        `mapstructure:"base_url"`
	Domain          string        `mapstructure:"domain"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type EmailConfig struct {
	SMTPHost     string `mapstructure:"smtp_host"`
	SMTPPort     string `mapstructure:"smtp_port"`
	SMTPUsername string `mapstructure:"smtp_username"`
	SMTPPassword string `mapstructure:"smtp_password"`
	SMTPFrom     string `mapstructure:"smtp_from"`
	UseTLS       bool   `mapstructure:"use_tls"`
	TemplateDir  string `mapstructure:"template_dir"`
}

type AuthConfig struct {
	JWTSecret       string        `mapstructure:"jwt_secret"`
	TokenExpiration time.Duration `mapstructure:"token_expiration"`
	SessionDuration time.Duration `mapstructure:"session_duration"`
}

type RunnerConfig struct {
	ReprocessSchedule string `mapstructure:"reprocess_schedule"`
	ReprocessBatch    int    `mapstructure:"reprocess_batch"`
}

// Load reads the configuration file, applies environment overrides and
// starts watching for changes.
func Load(path string) error {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("CS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}

	loaded := &Config{}
	if err := v.Unmarshal(loaded); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}

	mu.Lock()
	cfg = loaded
	mu.Unlock()

	v.OnConfigChange(func(e fsnotify.Event) {
		reloaded := &Config{}
		if err := v.Unmarshal(reloaded); err != nil {
			log.Printf("config reload failed: %v", err)
			return
		}
		mu.Lock()
		cfg = reloaded
		mu.Unlock()
		log.Printf("config reloaded from %s", e.Name)
	})
	v.WatchConfig()

	return nil
}

// Get returns the current configuration, or defaults when Load was never
// called (tests, ad-hoc tools).
func Get() *Config {
	mu.RLock()
	defer mu.RUnlock()
	if cfg == nil {
		return defaultConfig()
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	d := defaultConfig()
	v.SetDefault("app.name", d.App.Name)
	v.SetDefault("app.env", d.App.Env)
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.base_url", d.Server.BaseURL)
	v.SetDefault("server.domain", d.Server.Domain)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	v.SetDefault("database.driver", d.Database.Driver)
	v.SetDefault("email.template_dir", d.Email.TemplateDir)
	v.SetDefault("auth.token_expiration", d.Auth.TokenExpiration)
	v.SetDefault("auth.session_duration", d.Auth.SessionDuration)
	v.SetDefault("runner.reprocess_schedule", d.Runner.ReprocessSchedule)
	v.SetDefault("runner.reprocess_batch", d.Runner.ReprocessBatch)
}

func defaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name: "citizenspring",
			Env:  "development",
		},
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            3000,
			BaseURL:         "https://www.citizenspring.be",
			Domain:          "citizenspring.be",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Database: database.Config{
			Driver: "postgres",
		},
		Email: EmailConfig{
			TemplateDir: "templates/emails",
		},
		Auth: AuthConfig{
			TokenExpiration: 48 * time.Hour,
			SessionDuration: 30 * 24 * time.Hour,
		},
		Runner: RunnerConfig{
			ReprocessSchedule: "@every 10m",
			ReprocessBatch:    20,
		},
	}
}
