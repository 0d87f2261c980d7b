// Package config contains code to set the default values and read
// config files to be used throughout the whole application
package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"slices"

	"github.com/spf13/pflag"
	v "github.com/spf13/viper"
)

var (
	configPath         = pflag.String("config", "config.toml", "Path to the config file")
	validLogLevels     = []string{"debug", "info", "warn", "error", "fatal"}
	validStoreDrivers  = []string{"memory", "sqlite", "postgres", "redis"}
	validArchiveStores = []string{"s3", "r2"}
)

func genSecret() string {
	b := make([]byte, 64)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// Setup prepares everything config-related so that the app can
// start working. Function will return an error if something
// is critically wrong and the application can't run because of
// that.
func Setup() error {
	pflag.Parse()
	v.BindPFlags(pflag.CommandLine)

	v.SetConfigFile(*configPath)
	v.SetConfigType("toml")

	v.AutomaticEnv()

	//
	// ENVS
	//
	v.BindEnv("app.log_level", "app_log_level")

	v.BindEnv("host.port", "host_port")
	v.BindEnv("host.cors", "host_cors")
	v.BindEnv("host.secure_cookies", "host_secure_cookies")

	v.BindEnv("auth.jwt_secret", "auth_jwt_secret")
	v.BindEnv("auth.token_ttl", "auth_token_ttl")
	v.BindEnv("auth.ready_timeout", "auth_ready_timeout")
	v.BindEnv("auth.cleanup_interval", "auth_cleanup_interval")

	v.BindEnv("generation.api_base", "generation_api_base")
	v.BindEnv("generation.create_path", "generation_create_path")
	v.BindEnv("generation.query_path", "generation_query_path")
	v.BindEnv("generation.poll_interval", "generation_poll_interval")
	v.BindEnv("generation.max_attempts", "generation_max_attempts")
	v.BindEnv("generation.timeout", "generation_timeout")

	v.BindEnv("store.driver", "store_driver")
	v.BindEnv("store.dsn", "store_dsn")

	v.BindEnv("redis.addr", "redis_addr")
	v.BindEnv("redis.password", "redis_password")
	v.BindEnv("redis.db", "redis_db")

	v.BindEnv("session.ttl", "session_ttl")

	v.BindEnv("security.rate_limit", "security_rate_limit")
	v.BindEnv("security.max_body_size", "security_max_body_size")
	v.BindEnv("security.turnstile.enabled", "security_turnstile_enabled")
	v.BindEnv("security.turnstile.secret_token", "security_turnstile_secret_token")

	v.BindEnv("archive.enabled", "archive_enabled")
	v.BindEnv("archive.provider", "archive_provider")
	v.BindEnv("archive.bucket", "archive_bucket")
	v.BindEnv("archive.region", "archive_region")
	v.BindEnv("archive.account_id", "archive_account_id")
	v.BindEnv("archive.access_key_id", "archive_access_key_id")
	v.BindEnv("archive.secret_access_key", "archive_secret_access_key")

	//
	// Defaults
	//
	v.SetDefault("app.log_level", "info")

	v.SetDefault("host.port", 8080)
	v.SetDefault("host.cors", []string{"http://localhost:5173"})
	v.SetDefault("host.secure_cookies", false)

	v.SetDefault("auth.token_ttl", "720h")
	v.SetDefault("auth.ready_timeout", "1500ms")
	v.SetDefault("auth.cleanup_interval", "24h")

	v.SetDefault("generation.create_path", "/createSoraTask")
	v.SetDefault("generation.query_path", "/getSoraTask")
	v.SetDefault("generation.poll_interval", "5s")
	v.SetDefault("generation.max_attempts", 120)
	v.SetDefault("generation.timeout", "30s")

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.dsn", "database.db")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("session.ttl", "2h")

	v.SetDefault("security.rate_limit", 10)
	v.SetDefault("security.max_body_size", 64<<10)
	v.SetDefault("security.turnstile.enabled", false)

	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.provider", "r2")

	if err := v.ReadInConfig(); err != nil {
		var notFound v.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to read config file, %w", err)
		}

		fmt.Println("[WARNING]: No config file found at " + *configPath + ", using defaults and environment variables")
	}

	return Validate()
}

// Validate checks the loaded configuration.
func Validate() error {
	if !slices.Contains(validLogLevels, v.GetString("app.log_level")) {
		return errors.New("invalid log level provided")
	}

	if v.GetInt("host.port") <= 0 {
		return errors.New("invalid port provided")
	}

	if v.GetString("auth.jwt_secret") == "" {
		fmt.Println("WARNING: You haven't set a JWT secret, so it has been generated for you. Please set it as an environment variable or in the config.toml file.\nYour random JWT secret:\n\n" + genSecret() + "\n\nPaste it into your config.toml file.")
		os.Exit(0)
	}

	if v.GetDuration("auth.token_ttl") <= 0 {
		return errors.New("auth.token_ttl must be bigger than 0")
	}

	if v.GetString("generation.api_base") == "" {
		return errors.New("generation.api_base can't be empty")
	}

	if v.GetDuration("generation.poll_interval") <= 0 {
		return errors.New("generation.poll_interval must be bigger than 0")
	}

	if v.GetInt("generation.max_attempts") <= 0 {
		return errors.New("generation.max_attempts must be bigger than 0")
	}

	if !slices.Contains(validStoreDrivers, v.GetString("store.driver")) {
		return errors.New("invalid store driver provided")
	}

	if v.GetString("store.driver") == "postgres" && v.GetString("store.dsn") == "" {
		return errors.New("store.dsn can't be empty when using postgres")
	}

	if v.GetDuration("session.ttl") <= 0 {
		return errors.New("session.ttl must be bigger than 0")
	}

	if v.GetInt("security.rate_limit") <= 0 {
		return errors.New("security.rate_limit must be bigger than 0")
	}

	if v.GetBool("security.turnstile.enabled") && v.GetString("security.turnstile.secret_token") == "" {
		return errors.New("turnstile secret token is missing")
	}

	if v.GetBool("archive.enabled") {
		if !slices.Contains(validArchiveStores, v.GetString("archive.provider")) {
			return errors.New("invalid archive provider provided")
		}
		if v.GetString("archive.provider") == "r2" && v.GetString("archive.account_id") == "" {
			return errors.New("account id can't be empty")
		}
		if v.GetString("archive.access_key_id") == "" {
			return errors.New("account access id can't be empty")
		}
		if v.GetString("archive.secret_access_key") == "" {
			return errors.New("secret access key can't be empty")
		}
		if v.GetString("archive.bucket") == "" {
			return errors.New("bucket can't be empty")
		}
	}

	return nil
}
