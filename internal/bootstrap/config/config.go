package config

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"cacp/internal/bootstrap/logging"
	"cacp/internal/errs"
)

type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Database DatabaseConfig `mapstructure:"database"`
	Server   ServerConfig   `mapstructure:"server"`
	Signing  SigningConfig  `mapstructure:"signing"`
	Policy   PolicyConfig   `mapstructure:"policy"`
	GitOps   GitOpsConfig   `mapstructure:"gitops"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Twilio   TwilioConfig   `mapstructure:"twilio"`
	Tenant   TenantConfig   `mapstructure:"tenant"`
}

type AppConfig struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
	// PublicBaseURL is the origin callers reach the server through. Inbound
	// provider webhooks sign the full URL, so it must match exactly.
	PublicBaseURL string `mapstructure:"public_base_url"`
}

type SigningConfig struct {
	// PlanKey signs plan manifests; WebhookSecret verifies inbound merge
	// webhook deliveries. Both are required to serve.
	PlanKey       string `mapstructure:"plan_key"`
	WebhookSecret string `mapstructure:"webhook_secret"`
}

type PolicyConfig struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type GitOpsConfig struct {
	Owner      string `mapstructure:"owner"`
	Repo       string `mapstructure:"repo"`
	BaseBranch string `mapstructure:"base_branch"`
	Token      string `mapstructure:"token"`
}

type QueueConfig struct {
	URL     string `mapstructure:"url"`
	Subject string `mapstructure:"subject"`
}

type TwilioConfig struct {
	AccountSID string `mapstructure:"account_sid"`
	AuthToken  string `mapstructure:"auth_token"`
	FromNumber string `mapstructure:"from_number"`
}

type TenantConfig struct {
	ProfilesDir string `mapstructure:"profiles_dir"`
}

func Load(ctx context.Context, configFile string) (Config, error) {
	if ctx == nil {
		return Config{}, errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return Config{}, errs.Wrap(err, "check context")
	}

	logCtx := logging.WithAttrs(ctx, slog.String("component", "bootstrap.config"))

	v := viper.New()
	setDefaults(logCtx, v)

	v.SetEnvPrefix("CACP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile == "" && errors.As(err, &notFound) {
			// Keep default and env-backed config when no file is provided.
			logging.Warn(logCtx, "config file not found, fallback to defaults and env")
		} else {
			return Config{}, errs.Wrap(err, "read config")
		}
	} else {
		logging.Info(logCtx, "using config file", slog.String("path", v.ConfigFileUsed()))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errs.Wrap(err, "unmarshal config")
	}

	if cfg.Database.DSN == "" {
		return Config{}, errors.New("database.dsn is required")
	}

	logging.Info(
		logCtx,
		"config loaded",
		slog.String("app", cfg.App.Name),
		slog.String("env", cfg.App.Env),
		slog.String("database_driver", cfg.Database.Driver),
		slog.String("server_addr", cfg.Server.Addr),
	)

	return cfg, nil
}

func setDefaults(ctx context.Context, v *viper.Viper) {
	if ctx == nil {
		return
	}

	v.SetDefault("app.name", "cacp")
	v.SetDefault("app.env", "local")
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", ".cacp/state/cacp.sqlite")
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("policy.url", "http://localhost:8181")
	v.SetDefault("policy.timeout", 5*time.Second)
	v.SetDefault("gitops.base_branch", "main")
	v.SetDefault("queue.subject", "cacp.plans.approved")
	v.SetDefault("tenant.profiles_dir", "./configs/clinics")
}
