package app

import (
	"bitwise74/playground-api/db"
	"bitwise74/playground-api/internal"
	"bitwise74/playground-api/internal/archive"
	"bitwise74/playground-api/internal/auth"
	"bitwise74/playground-api/internal/generation"
	"bitwise74/playground-api/internal/playground"
	"bitwise74/playground-api/internal/service"
	"bitwise74/playground-api/internal/store"
	"bitwise74/playground-api/pkg/security"
	"context"
	"fmt"
	"time"

	"github.com/chenyahui/gin-cache/persist"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	v "github.com/spf13/viper"
	"go.uber.org/zap"
)

const redisPrefix = "playground:"

// NewDeps builds every shared dependency from the loaded config. The returned
// function releases them.
func NewDeps(ctx context.Context) (*internal.Deps, func(), error) {
	var closers []func() error

	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				zap.L().Warn("Failed to release dependency", zap.Error(err))
			}
		}
	}

	d := &internal.Deps{
		SecureCookies: v.GetBool("host.secure_cookies"),
		Cache:         persist.NewMemoryStore(time.Minute),
	}

	// Accounts always live in SQL, postgres only when the store uses it too
	driver := v.GetString("store.driver")
	dbDriver := "sqlite"
	if driver == "postgres" {
		dbDriver = "postgres"
	}

	conn, err := db.New(dbDriver, v.GetString("store.dsn"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize database, %w", err)
	}
	d.DB = conn

	if sqlDB, err := conn.DB(); err == nil {
		closers = append(closers, sqlDB.Close)
	}

	if every := v.GetDuration("auth.cleanup_interval"); every > 0 {
		service.AccountCleanup(ctx, clockwork.NewRealClock(), every, v.GetDuration("auth.token_ttl"), conn)
	}

	switch driver {
	case "memory":
		d.Store = store.New(store.NewMemoryBackend())
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		})
		closers = append(closers, rdb.Close)

		if err := rdb.Ping(ctx).Err(); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("failed to connect to redis, %w", err)
		}

		d.Store = store.New(store.NewRedisBackend(rdb, redisPrefix))
		d.Cache = persist.NewRedisStore(rdb)
	default:
		d.Store = store.New(store.NewGormBackend(conn))
	}

	var archiver *archive.Archiver
	if v.GetBool("archive.enabled") {
		client, err := archive.NewClient(ctx, archive.Config{
			Provider:        v.GetString("archive.provider"),
			Bucket:          v.GetString("archive.bucket"),
			Region:          v.GetString("archive.region"),
			AccountID:       v.GetString("archive.account_id"),
			AccessKeyID:     v.GetString("archive.access_key_id"),
			SecretAccessKey: v.GetString("archive.secret_access_key"),
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("failed to initialize archive bucket, %w", err)
		}

		archiver = archive.NewFromClient(client, v.GetString("archive.bucket"))
	}

	d.Signer = security.NewSigner(v.GetString("auth.jwt_secret"), v.GetDuration("auth.token_ttl"))

	d.Sessions = playground.NewManager(ctx, playground.Config{
		Accounts: auth.NewAccounts(conn, security.NewHasher()),
		Signer:   d.Signer,
		Store:    d.Store,
		API: generation.NewClient(generation.ClientConfig{
			BaseURL:    v.GetString("generation.api_base"),
			CreatePath: v.GetString("generation.create_path"),
			QueryPath:  v.GetString("generation.query_path"),
			Timeout:    v.GetDuration("generation.timeout"),
		}),
		Archiver:     archiver,
		ReadyTimeout: v.GetDuration("auth.ready_timeout"),
		PollInterval: v.GetDuration("generation.poll_interval"),
		MaxAttempts:  v.GetInt("generation.max_attempts"),
	}, v.GetDuration("session.ttl"))

	// Sessions flush their ledgers on close, so they go before the stores
	closers = append(closers, d.Sessions.Close)

	return d, cleanup, nil
}
