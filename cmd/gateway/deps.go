package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/goccy/go-json"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	gateway "github.com/000haoji/deep-student-sub000"
	"github.com/000haoji/deep-student-sub000/internal/calllog"
	"github.com/000haoji/deep-student-sub000/internal/config"
	"github.com/000haoji/deep-student-sub000/internal/health"
	"github.com/000haoji/deep-student-sub000/internal/registry"
	"github.com/000haoji/deep-student-sub000/internal/secret"
)

// dependencies bundles the backing stores selected by configuration.
type dependencies struct {
	Registry registry.Store
	CallLog  calllog.Store
	Health   health.Store
	Secrets  *secret.Resolver

	db    *sql.DB
	redis *redis.Client
}

func (d *dependencies) Close() {
	if d.Secrets != nil {
		_ = d.Secrets.Close()
	}
	if d.redis != nil {
		_ = d.redis.Close()
	}
	if d.db != nil {
		_ = d.db.Close()
	}
}

// buildDependencies opens the configured backends, falling back to
// in-memory stores when no database is configured. Seeded models from the
// config file only apply to the in-memory registry; a database-backed
// registry is managed externally.
func buildDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*dependencies, error) {
	deps := &dependencies{}

	resolver, err := buildResolver(cfg.Secrets)
	if err != nil {
		return nil, err
	}
	deps.Secrets = resolver

	if cfg.Database.DSN != "" {
		db, err := sql.Open("postgres", cfg.Database.DSN)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
		db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("ping database: %w", err)
		}
		deps.db = db

		regStore := registry.NewPostgresStore(db)
		logStore := calllog.NewPostgresStore(db)
		if cfg.Database.Migrate {
			if err := regStore.Migrate(ctx); err != nil {
				_ = db.Close()
				return nil, err
			}
			if err := logStore.Migrate(ctx); err != nil {
				_ = db.Close()
				return nil, err
			}
		}
		deps.Registry = regStore
		deps.CallLog = logStore
		logger.Info("using postgres stores")
	} else {
		mem := registry.NewMemoryStore()
		for _, m := range cfg.Models {
			id, err := mem.Put(m.ToModel())
			if err != nil {
				return nil, fmt.Errorf("seed model %s/%s: %w", m.Provider, m.ModelName, err)
			}
			logger.Info("model registered", "id", id, "provider", m.Provider, "model", m.ModelName)
		}
		deps.Registry = mem
		deps.CallLog = calllog.NewMemoryStore(10_000)
		logger.Info("using in-memory stores", "models", len(cfg.Models))
	}

	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			deps.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		deps.redis = client
		deps.Health = health.NewRedisStore(client, 0)
		logger.Info("using redis health store", "addr", cfg.Redis.Addr)
	} else {
		deps.Health = health.NewMemoryStore()
	}

	return deps, nil
}

// buildResolver wires the secret reference schemes: env:// always, plus
// vault:// when a Vault address is configured. Vault reads are cached so
// adapter construction does not hammer the secret backend.
func buildResolver(cfg config.SecretsConfig) (*secret.Resolver, error) {
	resolver := secret.NewResolver()

	if cfg.VaultAddr != "" {
		vs, err := secret.NewVaultSource(secret.VaultConfig{
			Address:  cfg.VaultAddr,
			Token:    cfg.VaultToken,
			RoleID:   cfg.VaultRoleID,
			SecretID: cfg.VaultSecretID,
		})
		if err != nil {
			return nil, fmt.Errorf("vault source: %w", err)
		}
		resolver.Register("vault", secret.NewCachedSource(vs, cfg.CacheTTL))
	}

	return resolver, nil
}

// listModelsHandler exposes the active registry snapshot without secrets.
func listModelsHandler(gw *gateway.Gateway, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		models, err := gw.Registry().ListActiveModels(r.Context())
		if err != nil {
			logger.Error("list models failed", "error", err)
			http.Error(w, "registry unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(models); err != nil {
			logger.Error("encode models failed", "error", err)
		}
	}
}
