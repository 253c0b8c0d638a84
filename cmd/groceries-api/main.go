package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-groceries/backend/internal/config"
	"github.com/go-groceries/backend/internal/database"
	"github.com/go-groceries/backend/internal/groceries"
	"github.com/go-groceries/backend/internal/logging"
	"github.com/go-groceries/backend/internal/mealgen"
	"github.com/go-groceries/backend/internal/presign"
	"github.com/go-groceries/backend/internal/server"
	"github.com/go-groceries/backend/internal/syncsvc"
	"github.com/go-groceries/backend/internal/transfer"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile   string
	assumeYes bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "groceries-api",
		Short: "Groceries backend service and sync client",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	syncToCmd := &cobra.Command{
		Use:   "sync-to",
		Short: "Snapshot the local database and upload it to the sync location",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSyncTo(cmd)
		},
	}

	syncFromCmd := &cobra.Command{
		Use:   "sync-from",
		Short: "Fetch the remote snapshot, show the meal diff and apply it on confirmation",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSyncFrom(cmd)
		},
	}
	syncFromCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "Apply the remote snapshot without prompting")

	syncStatusCmd := &cobra.Command{
		Use:   "sync-status",
		Short: "Show the configured sync locations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSyncStatus(cmd)
		},
	}

	rootCmd.AddCommand(serveCmd, syncToCmd, syncFromCmd, syncStatusCmd)
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
	cmd.PersistentFlags().String("pass", "", "Shared-secret pass (overrides env)")
	cmd.PersistentFlags().String("sync-base-url", defaults.GetString("sync.base_url"), "Coordination service base URL")
	cmd.PersistentFlags().String("object-endpoint", defaults.GetString("object.endpoint"), "Object storage endpoint")
	cmd.PersistentFlags().String("object-bucket", defaults.GetString("object.bucket"), "Object storage bucket")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.pass", "pass")
	bindFlag(cmd, "sync.base_url", "sync-base-url")
	bindFlag(cmd, "object.endpoint", "object-endpoint")
	bindFlag(cmd, "object.bucket", "object-bucket")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
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

// appEnv bundles the pieces every command starts from.
type appEnv struct {
	cfg      config.AppConfig
	logger   *zap.Logger
	store    *groceries.Store
	registry *syncsvc.Registry
	close    func()
}

func openApp() (*appEnv, error) {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return nil, err
	}

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	store, err := groceries.NewStore(groceries.StoreConfig{
		Database: db,
		Clock:    time.Now,
		Logger:   logging.Named(logger, "store"),
	})
	if err != nil {
		sqlDB.Close()
		return nil, err
	}

	registry, err := syncsvc.NewRegistry(db, time.Now)
	if err != nil {
		sqlDB.Close()
		return nil, err
	}

	return &appEnv{
		cfg:      appConfig,
		logger:   logger,
		store:    store,
		registry: registry,
		close: func() {
			logger.Sync() //nolint:errcheck
			sqlDB.Close()
		},
	}, nil
}

func (a *appEnv) transferClient() (*transfer.Client, error) {
	if strings.TrimSpace(a.cfg.SyncBaseURL) == "" {
		return nil, errors.New("sync.base_url is required for sync commands")
	}
	return transfer.NewClient(transfer.ClientConfig{
		BaseURL: a.cfg.SyncBaseURL,
		Pass:    a.cfg.Pass,
	})
}

func runServer(ctx context.Context) error {
	app, err := openApp()
	if err != nil {
		return err
	}
	defer app.close()
	logger := app.logger
	appConfig := app.cfg

	presigner, err := presign.New(presign.Config{
		Endpoint:  appConfig.ObjectEndpoint,
		Bucket:    appConfig.ObjectBucket,
		AccessKey: appConfig.ObjectAccessKey,
		SecretKey: appConfig.ObjectSecretKey,
		Region:    appConfig.ObjectRegion,
	})
	if err != nil {
		return err
	}

	var extractor server.MealExtractor
	if appConfig.YouTubeAPIKey != "" && appConfig.AnthropicAPIKey != "" {
		youtubeClient, err := mealgen.NewYouTubeClient(appConfig.YouTubeAPIKey, "")
		if err != nil {
			return err
		}
		completer, err := mealgen.NewAnthropicCompleter(appConfig.AnthropicAPIKey, "")
		if err != nil {
			return err
		}
		built, err := mealgen.NewExtractor(youtubeClient, completer, logging.Named(logger, "mealgen"))
		if err != nil {
			return err
		}
		extractor = built
	} else {
		logger.Info("meal extraction disabled, YouTube or Anthropic key missing")
	}

	var outbound *syncsvc.Outbound
	var scheduler *syncsvc.Scheduler
	if appConfig.SyncBaseURL != "" {
		transferClient, err := app.transferClient()
		if err != nil {
			return err
		}
		outbound, err = syncsvc.NewOutbound(syncsvc.OutboundConfig{
			Store:           app.store,
			Registry:        app.registry,
			Transfer:        transferClient,
			AutoSyncMinimum: appConfig.AutoSyncMinimum,
			Logger:          logging.Named(logger, "sync-out"),
		})
		if err != nil {
			return err
		}
		reconciler, err := syncsvc.NewReconciler(syncsvc.ReconcilerConfig{
			Store:           app.store,
			Registry:        app.registry,
			Transfer:        transferClient,
			AutoSyncMinimum: appConfig.AutoSyncMinimum,
			Logger:          logging.Named(logger, "sync-in"),
		})
		if err != nil {
			return err
		}
		scheduler, err = syncsvc.NewScheduler(syncsvc.SchedulerConfig{
			Registry: app.registry,
			Outbound: outbound,
			Debounce: appConfig.SyncDebounce,
			OnResult: func(url string, err error) {
				if err != nil {
					logger.Warn("debounced sync failed", zap.Error(err))
					return
				}
				logger.Info("debounced sync completed", zap.String("url", url))
			},
			Logger: logging.Named(logger, "sync-sched"),
		})
		if err != nil {
			return err
		}
		app.store.RegisterObserver(scheduler.Notify)
		defer scheduler.Stop()

		go runStartupAutoSync(ctx, reconciler, outbound, logger)
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Presigner:    presigner,
		Extractor:    extractor,
		Pass:         appConfig.Pass,
		PassEnabled:  appConfig.PassEnabled,
		UploadTTL:    appConfig.UploadURLTTL,
		DownloadTTL:  appConfig.DownloadURLTTL,
		Logger:       logging.Named(logger, "http"),
		Store:        app.store,
		Outbound:     outbound,
		SyncRegistry: app.registry,
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

// runStartupAutoSync mirrors app launch behavior: one inbound check, then one
// outbound check, each gated on its location's automatic flag and last sync
// time. An inbound diff is never applied here without confirmation, so a
// non-empty diff only logs a pointer to the manual command.
func runStartupAutoSync(ctx context.Context, reconciler *syncsvc.Reconciler, outbound *syncsvc.Outbound, logger *zap.Logger) {
	checkCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	inbound, err := reconciler.CheckAndTriggerAutoSync(checkCtx)
	switch {
	case err != nil:
		logger.Warn("automatic sync-from check failed", zap.Error(err))
	case inbound == nil:
		logger.Debug("automatic sync-from not configured")
	case inbound.Outcome == syncsvc.OutcomeSuccess && !inbound.Committed:
		logger.Info("remote snapshot differs from local data, run sync-from to review")
	default:
		logger.Info("automatic sync-from check finished", zap.String("outcome", string(inbound.Outcome)))
	}

	outboundResult, err := outbound.CheckAndTriggerAutoSyncTo(checkCtx)
	switch {
	case err != nil:
		logger.Warn("automatic sync-to check failed", zap.Error(err))
	case outboundResult == nil:
		logger.Debug("automatic sync-to not configured")
	default:
		logger.Info("automatic sync-to check finished", zap.String("outcome", string(outboundResult.Type)))
	}
}

func runSyncTo(cmd *cobra.Command) error {
	app, err := openApp()
	if err != nil {
		return err
	}
	defer app.close()

	transferClient, err := app.transferClient()
	if err != nil {
		return err
	}
	outbound, err := syncsvc.NewOutbound(syncsvc.OutboundConfig{
		Store:    app.store,
		Registry: app.registry,
		Transfer: transferClient,
		Logger:   logging.Named(app.logger, "sync-out"),
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
	defer cancel()

	existing, err := app.registry.Find(ctx, syncsvc.DirectionTo)
	if err != nil {
		return err
	}
	url, err := outbound.SyncTo(ctx, existing, false)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Snapshot uploaded. Share this link to sync another device:\n%s\n", url)
	return nil
}

func runSyncFrom(cmd *cobra.Command) error {
	app, err := openApp()
	if err != nil {
		return err
	}
	defer app.close()

	transferClient, err := app.transferClient()
	if err != nil {
		return err
	}
	reconciler, err := syncsvc.NewReconciler(syncsvc.ReconcilerConfig{
		Store:    app.store,
		Registry: app.registry,
		Transfer: transferClient,
		Logger:   logging.Named(app.logger, "sync-in"),
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
	defer cancel()

	fetch, err := reconciler.SyncFrom(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if fetch.Diff.Empty() {
		fmt.Fprintln(out, "Remote snapshot matches local data, applying.")
	} else {
		printMealDiff(out, fetch.Diff)
		if !assumeYes && !confirm(cmd, "Apply these changes?") {
			fmt.Fprintln(out, "Aborted, local data unchanged.")
			return nil
		}
	}

	if err := reconciler.Commit(ctx, fetch.Blob); err != nil {
		return err
	}
	fmt.Fprintln(out, "Remote snapshot applied.")
	return nil
}

func printMealDiff(out io.Writer, diff syncsvc.MealDiff) {
	if len(diff.ToAdd) > 0 {
		fmt.Fprintln(out, "Meals to add:")
		for _, meal := range diff.ToAdd {
			fmt.Fprintf(out, "  + %s\n", meal.Name)
		}
	}
	if len(diff.ToRemove) > 0 {
		fmt.Fprintln(out, "Meals to remove:")
		for _, meal := range diff.ToRemove {
			fmt.Fprintf(out, "  - %s\n", meal.Name)
		}
	}
}

func confirm(cmd *cobra.Command, question string) bool {
	fmt.Fprintf(cmd.OutOrStdout(), "%s [y/N]: ", question)
	reader := bufio.NewReader(cmd.InOrStdin())
	answer, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}

func runSyncStatus(cmd *cobra.Command) error {
	app, err := openApp()
	if err != nil {
		return err
	}
	defer app.close()

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	out := cmd.OutOrStdout()
	now := time.Now()
	for _, direction := range []syncsvc.Direction{syncsvc.DirectionTo, syncsvc.DirectionFrom} {
		location, err := app.registry.Find(ctx, direction)
		if err != nil {
			return err
		}
		if location == nil {
			fmt.Fprintf(out, "%s: not configured\n", direction)
			continue
		}
		expires := "unknown"
		if location.ExpiresAtSeconds > 0 {
			remaining := time.Unix(location.ExpiresAtSeconds, 0).Sub(now).Round(time.Second)
			if remaining <= 0 {
				expires = "expired"
			} else {
				expires = "in " + remaining.String()
			}
		}
		lastSynced := "never"
		if location.LastSyncedAtSeconds > 0 {
			lastSynced = time.Unix(location.LastSyncedAtSeconds, 0).UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(out, "%s: file=%s automatic=%t expires=%s last_synced=%s\n",
			direction, location.Filename, location.Automatic, expires, lastSynced)
	}
	return nil
}
