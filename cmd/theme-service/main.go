package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"hackreg/internal/common/cache"
	"hackreg/internal/common/db"
	commonmw "hackreg/internal/common/http/middleware"
	"hackreg/internal/common/mq"
	"hackreg/internal/theme/controller"
	"hackreg/internal/theme/repository"
	"hackreg/internal/theme/service"
	pkgerrors "hackreg/pkg/errors"
	"hackreg/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const defaultConfigPath = "configs/theme_service.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	flag.Parse()

	appCfg, err := loadAppConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		return
	}

	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		return
	}
	defer func() {
		_ = logger.Sync()
	}()

	var themeCache cache.Cache
	if appCfg.Redis != nil {
		redisCache, err := cache.NewRedisCacheWithConfig(appCfg.Redis)
		if err != nil {
			logger.Error(context.Background(), "init redis failed", zap.Error(err))
			return
		}
		defer func() {
			_ = redisCache.Close()
		}()
		themeCache = redisCache
	} else {
		logger.Warn(context.Background(), "redis not configured, using in-process cache")
		themeCache = cache.NewLocalCache(appCfg.Sync.LocalCacheSize)
	}

	repos, err := openStores(appCfg, themeCache)
	if err != nil {
		logger.Error(context.Background(), "init database failed", zap.Error(err))
		return
	}
	defer repos.close()

	var publisher service.AssignmentEventPublisher
	if appCfg.Kafka.Enabled {
		producer, err := mq.NewKafkaProducer(appCfg.Kafka.toProducerConfig())
		if err != nil {
			logger.Error(context.Background(), "init kafka failed", zap.Error(err))
			return
		}
		defer func() {
			_ = producer.Close()
		}()
		pingCtx, cancelPing := context.WithTimeout(context.Background(), appCfg.Kafka.WriteTimeout)
		if err := producer.Ping(pingCtx); err != nil {
			logger.Warn(context.Background(), "kafka brokers unreachable, assignment events will fail until they recover", zap.Error(err))
		}
		cancelPing()
		publisher = service.NewQueueAssignmentPublisher(producer, appCfg.Assignment.Topic)
	}

	syncView := service.NewSyncView(repos.themes, repos.settings, themeCache, service.SyncOptions{
		CacheTTL: appCfg.Sync.CacheTTL,
		BaseTTL:  appCfg.Sync.BaseTTL,
	})
	catalog := service.NewCatalogService(repos.themes, syncView, appCfg.Assignment.ThemeCapacity)
	index := service.NewProblemStatementIndex(repos.themes, repos.statements, repos.settings, syncView)
	assignments := service.NewAssignmentService(catalog, index, repos.ledger, publisher, syncView, service.AssignmentOptions{
		MaxRetries:           appCfg.Assignment.MaxRetries,
		RetryInitialInterval: appCfg.Assignment.RetryInitialInterval,
		RetryMaxInterval:     appCfg.Assignment.RetryMaxInterval,
		SelectTimeout:        appCfg.Assignment.SelectTimeout,
	})

	if err := seedCatalog(context.Background(), catalog, index, appCfg.Seed); err != nil {
		logger.Error(context.Background(), "seed catalog failed", zap.Error(err))
		return
	}

	httpServer := buildHTTPServer(appCfg.Server, catalog, index, assignments, syncView)

	errCh := make(chan error, 1)
	go func() {
		logger.Info(context.Background(), "theme http server started", zap.String("addr", appCfg.Server.Addr))
		errCh <- httpServer.ListenAndServe()
	}()

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(context.Background(), "server stopped", zap.Error(err))
		}
	case <-shutdownCtx.Done():
		logger.Info(context.Background(), "shutdown signal received")
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error(context.Background(), "http server shutdown failed", zap.Error(err))
	}
}

type stores struct {
	themes     repository.ThemeRepository
	statements repository.ProblemStatementRepository
	settings   repository.SettingsRepository
	ledger     repository.Ledger
	close      func()
}

func openStores(cfg *AppConfig, themeCache cache.Cache) (*stores, error) {
	if cfg.usesMemoryStore() {
		logger.Warn(context.Background(), "using in-memory store, assignments are lost on restart")
		store := repository.NewMemoryStore()
		return &stores{
			themes:     store.Themes(),
			statements: store.ProblemStatements(),
			settings:   store.Settings(),
			ledger:     store.Ledger(),
			close:      func() {},
		}, nil
	}

	database, err := db.Open(&cfg.Database)
	if err != nil {
		return nil, err
	}
	provider := db.NewStaticProvider(database)
	statements := repository.NewProblemStatementRepository(provider)
	settings := repository.NewSettingsRepository(provider)
	return &stores{
		themes:     repository.NewThemeRepository(provider, themeCache),
		statements: statements,
		settings:   settings,
		ledger:     repository.NewLedger(provider, settings, statements),
		close: func() {
			_ = database.Close()
		},
	}, nil
}

// seedCatalog creates configured themes that do not exist yet and fills in
// the problem statements of seeded themes that have none. Themes that already
// carry statements are left as they are.
func seedCatalog(ctx context.Context, catalog *service.CatalogService, index *service.ProblemStatementIndex, seed SeedConfig) error {
	for _, item := range seed.Themes {
		theme, err := seedTheme(ctx, catalog, item)
		if err != nil {
			return err
		}
		if len(item.ProblemStatements) == 0 {
			continue
		}
		existing, err := index.ProblemStatementsFor(ctx, theme.ID)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			continue
		}
		for _, title := range item.ProblemStatements {
			if _, err := index.CreateProblemStatement(ctx, service.CreateProblemStatementInput{
				ThemeID: theme.ID,
				Title:   title,
			}); err != nil {
				return err
			}
		}
		logger.Info(ctx, "problem statements seeded", zap.String("theme", theme.Name), zap.Int("count", len(item.ProblemStatements)))
	}
	return nil
}

func seedTheme(ctx context.Context, catalog *service.CatalogService, item SeedTheme) (*repository.Theme, error) {
	found, err := catalog.GetThemeByName(ctx, item.Name)
	if err == nil {
		return &found.Theme, nil
	}
	if !pkgerrors.Is(err, pkgerrors.ThemeNotFound) {
		return nil, err
	}

	theme, err := catalog.CreateTheme(ctx, service.CreateThemeInput{
		Name:             item.Name,
		ShortDescription: item.ShortDescription,
		LongDescription:  item.LongDescription,
		Capacity:         item.Capacity,
	})
	if pkgerrors.Is(err, pkgerrors.ThemeNameExists) {
		found, err := catalog.GetThemeByName(ctx, item.Name)
		if err != nil {
			return nil, err
		}
		return &found.Theme, nil
	}
	if err != nil {
		return nil, err
	}
	logger.Info(ctx, "theme seeded", zap.String("name", theme.Name))
	return theme, nil
}

func buildHTTPServer(
	cfg ServerConfig,
	catalog *service.CatalogService,
	index *service.ProblemStatementIndex,
	assignments *service.AssignmentService,
	syncView *service.SyncView,
) *http.Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(commonmw.TraceContextMiddleware())
	router.Use(requestLogger())

	api := router.Group("/api/v1")
	themeController := controller.NewThemeController(catalog, index)
	api.GET("/themes", themeController.List)
	api.GET("/themes/:id", themeController.Get)

	syncController := controller.NewSyncController(syncView)
	api.GET("/sync/themes", syncController.Poll)

	assignmentController := controller.NewAssignmentController(assignments)
	api.PUT("/teams/:team_id/theme", assignmentController.Select)
	api.GET("/teams/:team_id/assignment", assignmentController.Current)

	admin := api.Group("/admin")
	adminController := controller.NewAdminController(catalog, index)
	admin.GET("/selection-lock", adminController.GetSelectionLock)
	admin.PUT("/selection-lock", adminController.SetSelectionLock)
	admin.POST("/themes", adminController.CreateTheme)
	admin.PUT("/themes/:id/status", adminController.SetThemeStatus)
	admin.POST("/themes/:id/problem-statements", adminController.CreateProblemStatement)
	admin.PUT("/problem-statements/:id/active", adminController.SetProblemStatementActive)

	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		logger.Info(
			c.Request.Context(),
			"request completed",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
