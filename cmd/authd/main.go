package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/tangpian/melody-auth/pkg/authflow"
	authflowapi "github.com/tangpian/melody-auth/pkg/authflow/api"
	"github.com/tangpian/melody-auth/pkg/config"
	"github.com/tangpian/melody-auth/pkg/consent"
	"github.com/tangpian/melody-auth/pkg/counter"
	"github.com/tangpian/melody-auth/pkg/directory"
	"github.com/tangpian/melody-auth/pkg/jwks"
	"github.com/tangpian/melody-auth/pkg/kv"
	"github.com/tangpian/melody-auth/pkg/login"
	"github.com/tangpian/melody-auth/pkg/mfa"
	"github.com/tangpian/melody-auth/pkg/notification"
	"github.com/tangpian/melody-auth/pkg/ratelimit"
	"github.com/tangpian/melody-auth/pkg/session"
	"github.com/tangpian/melody-auth/pkg/token"
	tokenapi "github.com/tangpian/melody-auth/pkg/token/api"
)

type ServerConfig struct {
	Host            string        `env:"SERVER_HOST" env-default:"0.0.0.0"`
	Port            uint16        `env:"SERVER_PORT" env-default:"8787"`
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" env-default:"10s"`
}

type DbConfig struct {
	Host     string `env:"AUTH_PG_HOST" env-default:"localhost"`
	Port     uint16 `env:"AUTH_PG_PORT" env-default:"5432"`
	Database string `env:"AUTH_PG_DATABASE" env-default:"auth_db"`
	User     string `env:"AUTH_PG_USER" env-default:"auth"`
	Password string `env:"AUTH_PG_PASSWORD" env-default:"pwd"`
}

func (d DbConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s", d.User, d.Password, d.Host, d.Port, d.Database)
}

type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" env-default:"0"`
}

type Config struct {
	Server ServerConfig
	Db     DbConfig
	Redis  RedisConfig
	Smtp   notification.SMTPConfig
	Twilio notification.TwilioConfig
	Auth   config.AuthConfig

	// Storage picks the persistence backends: "postgres" or "memory".
	// The memory backend is for local development only.
	Storage string `env:"STORAGE" env-default:"postgres"`
}

func main() {
	_ = godotenv.Load()

	cfg := Config{}
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		slog.Error("Failed reading config from env", "err", err)
		os.Exit(-1)
	}
	if err := cfg.Auth.Validate(); err != nil {
		slog.Error("Invalid auth config", "err", err)
		os.Exit(-1)
	}

	ctx := context.Background()

	var store kv.Store
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			slog.Error("Failed connecting to redis", "addr", cfg.Redis.Addr, "err", err)
			os.Exit(-1)
		}
		store = kv.NewRedisStore(client)
	} else {
		slog.Warn("REDIS_ADDR not set, using in-memory store; sessions will not survive restarts")
		store = kv.NewInMemoryStore()
	}

	var (
		users      directory.UserRepository
		apps       directory.AppRepository
		keyRepo    jwks.Repository
		grantsRepo consent.Repository
	)
	switch cfg.Storage {
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.Db.URL())
		if err != nil {
			slog.Error("Failed creating dbpool", "db", cfg.Db.Database, "host", cfg.Db.Host, "err", err)
			os.Exit(-1)
		}
		defer pool.Close()

		users, err = directory.NewPostgresUserRepository(pool)
		if err != nil {
			slog.Error("Failed creating user repository", "err", err)
			os.Exit(-1)
		}
		apps, err = directory.NewPostgresAppRepository(pool)
		if err != nil {
			slog.Error("Failed creating app repository", "err", err)
			os.Exit(-1)
		}
		keyRepo, err = jwks.NewPostgresRepository(pool)
		if err != nil {
			slog.Error("Failed creating signing key repository", "err", err)
			os.Exit(-1)
		}
		grantsRepo, err = consent.NewPostgresRepository(pool)
		if err != nil {
			slog.Error("Failed creating consent repository", "err", err)
			os.Exit(-1)
		}

	case "memory":
		slog.Warn("STORAGE=memory, all accounts and keys are lost on restart")
		users = directory.NewInMemoryUserRepository()
		apps = directory.NewInMemoryAppRepository()
		keyRepo = jwks.NewInMemoryRepository()
		grantsRepo = consent.NewInMemoryRepository()

	default:
		slog.Error("Unknown STORAGE value", "storage", cfg.Storage)
		os.Exit(-1)
	}

	keys, err := jwks.NewService(ctx, keyRepo)
	if err != nil {
		slog.Error("Failed initializing signing keys", "err", err)
		os.Exit(-1)
	}

	emailSender, err := notification.NewSMTPEmailSender(cfg.Smtp)
	if err != nil {
		slog.Error("Failed creating smtp sender", "host", cfg.Smtp.Host, "err", err)
		os.Exit(-1)
	}
	smsSender := notification.NewTwilioSmsSender(cfg.Twilio)

	configs := config.NewStaticProvider(cfg.Auth)
	counters := counter.NewService(store)
	sessions := session.NewStore(store, cfg.Auth.AuthorizationCodeExpiresIn)

	flow := authflow.NewService(authflow.Dependencies{
		Users:    users,
		Apps:     apps,
		Sessions: sessions,
		Login:    login.NewService(users, counters, configs),
		Verifier: login.NewEmailVerifier(users, store, emailSender, configs),
		Mfa:      mfa.NewService(store, counters, smsSender, emailSender, cfg.Auth.MfaCodeExpiresIn),
		Consents: consent.NewService(grantsRepo),
		Counters: counters,
		Configs:  configs,
	})
	tokens := token.NewService(sessions, store, keys, configs)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/.well-known/openid-configuration", discoveryHandler(cfg.Auth.Issuer))

	// The identity endpoints take credentials and one-time codes, so they
	// sit behind a per-IP brake on top of the per-account counters.
	limited := ratelimit.PerIP(60, 1.0)
	r.Route("/identity/v1", func(r chi.Router) {
		r.Use(limited)
		r.Mount("/", authflowapi.NewHandler(flow).Routes())
	})
	r.Route("/oauth2/v1", func(r chi.Router) {
		r.Use(limited)
		r.Mount("/", tokenapi.NewHandler(tokens, users, keys).Routes())
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		slog.Info("Starting auth server", "addr", addr, "issuer", cfg.Auth.Issuer)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "err", err)
			os.Exit(-1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Shutdown failed", "err", err)
	}
	slog.Info("Server stopped")
}

// discoveryHandler serves the OIDC discovery document off the issuer URL.
func discoveryHandler(issuer string) http.HandlerFunc {
	type discovery struct {
		Issuer                           string   `json:"issuer"`
		TokenEndpoint                    string   `json:"token_endpoint"`
		UserinfoEndpoint                 string   `json:"userinfo_endpoint"`
		RevocationEndpoint               string   `json:"revocation_endpoint"`
		JwksURI                          string   `json:"jwks_uri"`
		ResponseTypesSupported           []string `json:"response_types_supported"`
		GrantTypesSupported              []string `json:"grant_types_supported"`
		CodeChallengeMethodsSupported    []string `json:"code_challenge_methods_supported"`
		IDTokenSigningAlgValuesSupported []string `json:"id_token_signing_alg_values_supported"`
	}

	doc := discovery{
		Issuer:                           issuer,
		TokenEndpoint:                    issuer + "/oauth2/v1/token",
		UserinfoEndpoint:                 issuer + "/oauth2/v1/userinfo",
		RevocationEndpoint:               issuer + "/oauth2/v1/revoke",
		JwksURI:                          issuer + "/oauth2/v1/jwks",
		ResponseTypesSupported:           []string{"code"},
		GrantTypesSupported:              []string{"authorization_code", "refresh_token"},
		CodeChallengeMethodsSupported:    []string{"S256", "plain"},
		IDTokenSigningAlgValuesSupported: []string{"RS256"},
	}

	return func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, doc)
	}
}
