package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/pollwave/internal/config"
	"github.com/MarcoPoloResearchLab/pollwave/internal/database"
	"github.com/MarcoPoloResearchLab/pollwave/internal/identity"
	"github.com/MarcoPoloResearchLab/pollwave/internal/logging"
	"github.com/MarcoPoloResearchLab/pollwave/internal/polls"
	"github.com/MarcoPoloResearchLab/pollwave/internal/server"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "pollwave-api",
		Short: "Pollwave social polling backend service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	seedCmd := &cobra.Command{
		Use:   "seed",
		Short: "Populate an empty store with sample polls",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(cmd.Context())
		},
	}
	rootCmd.AddCommand(seedCmd)

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("identity-cookie-name", defaults.GetString("identity.cookie_name"), "Visitor identity cookie name")
	cmd.PersistentFlags().Bool("identity-cookie-secure", defaults.GetBool("identity.cookie_secure"), "Mark the visitor cookie Secure (HTTPS only)")
	cmd.PersistentFlags().Int("identity-ttl-hours", defaults.GetInt("identity.ttl_hours"), "Visitor identity token TTL in hours")
	cmd.PersistentFlags().String("identity-signing-secret", "", "Visitor identity signing secret (overrides env)")
	cmd.PersistentFlags().Int("feed-default-limit", defaults.GetInt("feed.default_limit"), "Default feed page size")
	cmd.PersistentFlags().String("redis-address", defaults.GetString("redis.address"), "Redis address for rate limiting (empty disables)")
	cmd.PersistentFlags().Int("polls-per-day", defaults.GetInt("ratelimit.polls_per_day"), "Polls a visitor may create per day")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "identity.cookie_name", "identity-cookie-name")
	bindFlag(cmd, "identity.cookie_secure", "identity-cookie-secure")
	bindFlag(cmd, "identity.ttl_hours", "identity-ttl-hours")
	bindFlag(cmd, "identity.signing_secret", "identity-signing-secret")
	bindFlag(cmd, "feed.default_limit", "feed-default-limit")
	bindFlag(cmd, "redis.address", "redis-address")
	bindFlag(cmd, "ratelimit.polls_per_day", "polls-per-day")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile == "" {
		return nil
	}

	viper.SetConfigFile(cfgFile)
	return viper.ReadInConfig()
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	pollService, err := polls.NewService(polls.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: polls.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	visitorIssuer, err := identity.NewIssuer(identity.IssuerConfig{
		SigningSecret: []byte(appConfig.IdentitySigningSecret),
		CookieName:    appConfig.IdentityCookieName,
		TokenTTL:      appConfig.IdentityTTL,
	})
	if err != nil {
		return err
	}

	var createLimiter server.RateLimiter
	if appConfig.RedisAddress != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     appConfig.RedisAddress,
			Password: appConfig.RedisPassword,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := redisClient.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return err
		}
		defer redisClient.Close()
		createLimiter = server.NewRedisRateLimiter(redisClient, appConfig.PollsPerDay)
		logger.Info("poll creation rate limiting enabled",
			zap.String("redis_address", appConfig.RedisAddress),
			zap.Int("polls_per_day", appConfig.PollsPerDay))
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		PollService:      pollService,
		VisitorIssuer:    visitorIssuer,
		CreateLimiter:    createLimiter,
		FeedDefaultLimit: appConfig.FeedDefaultLimit,
		SecureCookies:    appConfig.IdentityCookieSecure,
		Logger:           logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func runSeed(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewConsoleLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	pollService, err := polls.NewService(polls.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: polls.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	created, err := pollService.SeedSamplePolls(ctx)
	if err != nil {
		return err
	}
	logger.Info("seed finished", zap.Int("polls_created", created))
	return nil
}
