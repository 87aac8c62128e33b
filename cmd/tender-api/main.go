package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/tender/internal/auth"
	"github.com/MarcoPoloResearchLab/tender/internal/catalog"
	"github.com/MarcoPoloResearchLab/tender/internal/config"
	"github.com/MarcoPoloResearchLab/tender/internal/database"
	"github.com/MarcoPoloResearchLab/tender/internal/hosts"
	"github.com/MarcoPoloResearchLab/tender/internal/logging"
	"github.com/MarcoPoloResearchLab/tender/internal/rooms"
	"github.com/MarcoPoloResearchLab/tender/internal/server"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "tender-api",
		Short: "Tender group venue voting service",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(newInitDBCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().StringSlice("allowed-origins", nil, "Cross-origin callers allowed to send credentials")
	cmd.PersistentFlags().String("database-driver", defaults.GetString("database.driver"), "Database driver (sqlite, postgres)")
	cmd.PersistentFlags().String("database-dsn", defaults.GetString("database.dsn"), "SQLite path or PostgreSQL DSN")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Session signing secret (overrides env)")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("auth.token_ttl_minutes"), "Host session TTL in minutes")
	cmd.PersistentFlags().String("places-api-key", "", "Google Places API key (overrides env)")
	cmd.PersistentFlags().Int("places-max-results", defaults.GetInt("places.max_results"), "Candidates fetched per room")
	cmd.PersistentFlags().String("catalog-redis-url", defaults.GetString("catalog.redis_url"), "Redis URL for the shared catalog cache")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "http.allowed_origins", "allowed-origins")
	bindFlag(cmd, "database.driver", "database-driver")
	bindFlag(cmd, "database.dsn", "database-dsn")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "auth.token_ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "places.api_key", "places-api-key")
	bindFlag(cmd, "places.max_results", "places-max-results")
	bindFlag(cmd, "catalog.redis_url", "catalog-redis-url")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func newInitDBCommand() *cobra.Command {
	var (
		email    string
		password string
	)
	cmd := &cobra.Command{
		Use:   "init-db",
		Short: "Migrate the schema and seed a host account",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInitDB(cmd.Context(), email, password)
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Email of the host account to seed")
	cmd.Flags().StringVar(&password, "password", "", "Password of the host account to seed")
	return cmd
}

func runInitDB(ctx context.Context, email, password string) error {
	appConfig, err := config.LoadDatabase(viper.GetViper())
	if err != nil {
		return err
	}
	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.Open(appConfig.DatabaseDriver, appConfig.DatabaseDSN, logger)
	if err != nil {
		return err
	}
	defer closeDatabase(db, logger)

	if email == "" && password == "" {
		logger.Info("schema ready; no host seeded")
		return nil
	}
	hostService, err := hosts.NewService(hosts.ServiceConfig{
		Database:   db,
		IDProvider: rooms.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	host, created, err := hostService.EnsureHost(ctx, email, password)
	if err != nil {
		return err
	}
	logger.Info("host seeded", zap.String("host_id", host.HostID), zap.String("email", host.Email), zap.Bool("created", created))
	return nil
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

	db, err := database.Open(appConfig.DatabaseDriver, appConfig.DatabaseDSN, logger)
	if err != nil {
		return err
	}
	defer closeDatabase(db, logger)

	placesClient, err := catalog.NewPlacesClient(catalog.PlacesClientConfig{
		APIKey:  appConfig.PlacesAPIKey,
		BaseURL: appConfig.PlacesBaseURL,
	})
	if err != nil {
		return err
	}
	if appConfig.PlacesAPIKey == "" {
		logger.Warn("places api key not configured; rooms cannot be created until it is set")
	}

	fetcher, closeCache, err := newCandidateFetcher(ctx, appConfig, placesClient, logger)
	if err != nil {
		return err
	}
	defer closeCache()

	idProvider := rooms.NewUUIDProvider()
	roomService, err := rooms.NewService(rooms.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: idProvider,
		Fetcher:    fetcher,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	hostService, err := hosts.NewService(hosts.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: idProvider,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	tokenIssuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		TokenTTL:      appConfig.SessionTTL,
	})
	if err != nil {
		return err
	}
	sessionValidator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		CookieName:    appConfig.SessionCookieName,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		RoomService:       roomService,
		HostDirectory:     hostService,
		SessionIssuer:     tokenIssuer,
		SessionValidator:  sessionValidator,
		Events:            server.NewRoomEventDispatcher(),
		Photos:            placesClient,
		Logger:            logger,
		GuestCookieMaxAge: appConfig.GuestCookieMaxAge,
		AllowedOrigins:    appConfig.AllowedOrigins,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
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

// newCandidateFetcher wires the Places client behind the memo cache chosen by configuration.
func newCandidateFetcher(ctx context.Context, appConfig config.AppConfig, placesClient *catalog.PlacesClient, logger *zap.Logger) (*catalog.Fetcher, func(), error) {
	var cache catalog.Cache = catalog.NewMemoryCache(time.Now)
	closeCache := func() {}
	if appConfig.CatalogRedisURL != "" {
		redisCache, err := catalog.OpenRedisCache(ctx, appConfig.CatalogRedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("open catalog redis cache: %w", err)
		}
		cache = redisCache
		closeCache = func() {
			if err := redisCache.Close(); err != nil {
				logger.Warn("catalog redis cache close failed", zap.Error(err))
			}
		}
		logger.Info("catalog cache backed by redis")
	}

	fetcher, err := catalog.NewFetcher(catalog.FetcherConfig{
		Provider:   placesClient,
		Cache:      cache,
		CacheTTL:   appConfig.CatalogCacheTTL,
		Timeout:    appConfig.PlacesTimeout,
		MaxResults: appConfig.PlacesMaxResults,
		Logger:     logger,
	})
	if err != nil {
		closeCache()
		return nil, nil, err
	}
	return fetcher, closeCache, nil
}

func closeDatabase(db *gorm.DB, logger *zap.Logger) {
	sqlDB, err := db.DB()
	if err != nil {
		return
	}
	if err := sqlDB.Close(); err != nil {
		logger.Warn("database close failed", zap.Error(err))
	}
}
