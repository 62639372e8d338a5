package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/ManuelReschke/Tenantly/app/controllers"
	"github.com/ManuelReschke/Tenantly/app/repository"
	"github.com/ManuelReschke/Tenantly/internal/pkg/analytics"
	"github.com/ManuelReschke/Tenantly/internal/pkg/cache"
	"github.com/ManuelReschke/Tenantly/internal/pkg/config"
	"github.com/ManuelReschke/Tenantly/internal/pkg/database"
	"github.com/ManuelReschke/Tenantly/internal/pkg/directory"
	"github.com/ManuelReschke/Tenantly/internal/pkg/env"
	"github.com/ManuelReschke/Tenantly/internal/pkg/hooks"
	"github.com/ManuelReschke/Tenantly/internal/pkg/jobqueue"
	"github.com/ManuelReschke/Tenantly/internal/pkg/pluginloader"
	"github.com/ManuelReschke/Tenantly/internal/pkg/pluginstore"
	"github.com/ManuelReschke/Tenantly/internal/pkg/provisioning"
	"github.com/ManuelReschke/Tenantly/internal/pkg/retry"
	"github.com/ManuelReschke/Tenantly/internal/pkg/router"
	"github.com/ManuelReschke/Tenantly/internal/pkg/scheduler"
	"github.com/ManuelReschke/Tenantly/internal/pkg/session"
	"github.com/ManuelReschke/Tenantly/internal/pkg/tenantdb"
	"github.com/ManuelReschke/Tenantly/internal/pkg/webhook"
	"github.com/ManuelReschke/Tenantly/views"
)

const shutdownTimeout = 15 * time.Second

// Application holds every long-lived component so shutdown can release them
// in reverse start order.
type Application struct {
	App       *fiber.App
	Config    *config.Config
	DB        *gorm.DB
	Redis     *redis.Client
	Tenants   *tenantdb.Router
	Loader    *pluginloader.Loader
	Queue     *jobqueue.Queue
	Scheduler *scheduler.Scheduler
}

func main() {
	application, err := NewApplication(context.Background())
	if err != nil {
		log.Fatalf("[Boot] %v", err)
	}

	go func() {
		if err := application.App.Listen(application.Config.ListenAddr()); err != nil {
			log.Errorf("[HTTP] Server stopped: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	application.Shutdown()
}

func NewApplication(ctx context.Context) (*Application, error) {
	env.SetupEnvFile()
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	a := &Application{Config: cfg}

	db, err := database.SetupDatabase(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	a.DB = db
	a.Redis = cache.SetupCache()

	repos := repository.NewFactory(db).GetRepositories()
	tenants := directory.New(repos.Tenant, a.Redis, 5*time.Minute)
	a.Tenants = tenantdb.NewRouter(tenantdb.Options{
		PrimaryURL:            cfg.DatabaseURL,
		Lookup:                tenants,
		StrictRegionIsolation: cfg.StrictRegionIsolation,
	})

	registry := hooks.NewRegistry()
	hooks.RegisterBuiltins(registry)
	a.Loader = pluginloader.New(repos, registry, pluginloader.NewRouteTable(), pluginloader.Options{
		Dir:         cfg.PluginDir,
		HostVersion: cfg.HostVersion,
		WorkerPath:  cfg.PluginWorkerPath,
	})
	syncPluginBundles(ctx, cfg)
	if _, err := a.Loader.Load(ctx); err != nil {
		// the platform serves without plugins rather than not at all
		log.Errorf("[Boot] Plugin loading failed: %v", err)
	}

	a.Queue = jobqueue.NewQueue(a.Redis, cfg.QueueWorkers)
	dispatcher := webhook.NewDispatcher(repos.Webhook, retry.Default())
	persister := analytics.NewPersister(a.Tenants, repos.AnalyticsLog, retry.Default())
	a.Queue.Handle(jobqueue.JobTypeWebhookDelivery, dispatcher.HandleJob)
	a.Queue.Handle(jobqueue.JobTypeAnalyticsEvent, persister.HandleJob)
	a.Queue.Start()

	a.Scheduler = scheduler.New(repos.PluginLog, a.Queue, cfg.PluginLogRetentionDay)
	if err := a.Scheduler.Start(); err != nil {
		return nil, err
	}

	storage, err := session.NewRedisStorage(cfg.CacheAddr(), cfg.CachePass)
	if err != nil {
		return nil, err
	}

	a.App = fiber.New(fiber.Config{
		Views:        views.NewEngine(env.IsDev()),
		BodyLimit:    4 * 1024 * 1024,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 90 * time.Second,
	})

	// recovery and logging
	a.App.Use(recover.New(), logger.New())

	// SWAGGER / OPENAPI
	a.App.Use(swagger.New(swagger.Config{
		BasePath: "/docs/api/",
		FilePath: openAPIPath(),
		Path:     "v1",
	}))

	// ROUTER
	router.InstallRouter(a.App, router.Deps{
		Config:         cfg,
		Repos:          repos,
		Directory:      tenants,
		Connections:    a.Tenants,
		Provisioner:    provisioning.New(a.Tenants),
		Hooks:          registry,
		Plugins:        a.Loader,
		PluginRoutes:   a.Loader.Routes(),
		Tracker:        analytics.NewTracker(a.Queue),
		Publisher:      webhook.NewPublisher(repos.Webhook, a.Queue),
		Sessions:       session.New(storage),
		LimiterStorage: storage,
		Checks: map[string]controllers.Pinger{
			"database": controllers.PingFunc(func(ctx context.Context) error {
				sqlDB, err := db.DB()
				if err != nil {
					return err
				}
				return sqlDB.PingContext(ctx)
			}),
			"redis": controllers.PingFunc(func(ctx context.Context) error {
				return a.Redis.Ping(ctx).Err()
			}),
		},
	})

	return a, nil
}

// Shutdown stops accepting requests, then releases components in reverse
// start order.
func (a *Application) Shutdown() {
	log.Info("[Shutdown] Stopping HTTP server")
	if a.App != nil {
		if err := a.App.ShutdownWithTimeout(shutdownTimeout); err != nil {
			log.Warnf("[Shutdown] HTTP server: %v", err)
		}
	}
	if a.Scheduler != nil {
		a.Scheduler.Stop()
	}
	if a.Queue != nil {
		a.Queue.Stop()
	}
	if a.Loader != nil {
		a.Loader.Shutdown()
	}
	if a.Tenants != nil {
		if err := a.Tenants.Shutdown(); err != nil {
			log.Warnf("[Shutdown] Tenant connections: %v", err)
		}
	}
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if a.DB != nil {
		if err := database.Close(a.DB); err != nil {
			log.Warnf("[Shutdown] Database: %v", err)
		}
	}
	log.Info("[Shutdown] Done")
}

// syncPluginBundles pulls plugin bundles from S3 into the plugin directory.
// A failed sync leaves whatever bundles are already on disk.
func syncPluginBundles(ctx context.Context, cfg *config.Config) {
	if cfg.PluginS3Bucket == "" {
		return
	}
	storeCfg, err := pluginstore.LoadConfig(cfg.PluginS3Bucket, cfg.PluginS3Prefix, cfg.PluginS3Region)
	if err != nil {
		log.Warnf("[PluginStore] %v", err)
		return
	}
	store, err := pluginstore.NewClient(ctx, storeCfg)
	if err != nil {
		log.Warnf("[PluginStore] %v", err)
		return
	}
	res, err := store.Sync(ctx, cfg.PluginDir)
	if err != nil {
		log.Warnf("[PluginStore] Sync failed: %v", err)
		return
	}
	log.Infof("[PluginStore] downloaded=%d unchanged=%d ignored=%d", len(res.Downloaded), res.Unchanged, res.Ignored)
}

func openAPIPath() string {
	// Define possible base paths
	for _, base := range []string{"./", "../../", "../../../"} {
		path := base + "public/docs/v1/openapi.yml"
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return "./public/docs/v1/openapi.yml"
}
