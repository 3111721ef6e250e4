package app

import (
	"context"
	"examdesk_backend/internal/config"
	"examdesk_backend/internal/controller"
	"examdesk_backend/internal/repository"
	"examdesk_backend/internal/service"
	"examdesk_backend/pkg/configwatcher"
	"examdesk_backend/pkg/database"
	"examdesk_backend/pkg/logger"
	"examdesk_backend/pkg/monitoring"
	"examdesk_backend/pkg/security"
	"examdesk_backend/pkg/tracing"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type App struct {
	Config          *config.Config
	Router          *gin.Engine
	DB              *gorm.DB
	Redis           *redis.Client
	services        *services
	configCallbacks []func(*config.Config)
}

type repositories struct {
	user        *repository.UserRepository
	test        *repository.TestRepository
	question    *repository.QuestionRepository
	attempt     *repository.AttemptRepository
	answer      *repository.AnswerRepository
	violation   *repository.ViolationRepository
	leaderboard *repository.LeaderboardRepository
	sessionLock *repository.SessionLockRepository
}

type services struct {
	auth     *service.AuthService
	test     *service.TestService
	session  *service.SessionService
	monitor  *service.MonitorService
	notifier *service.NotifierService
}

type controllers struct {
	auth        *controller.AuthController
	test        *controller.TestController
	attempt     *controller.AttemptController
	leaderboard *controller.LeaderboardController
	health      *controller.HealthController
}

func (a *App) RegisterConfigCallback(callback func(*config.Config)) {
	a.configCallbacks = append(a.configCallbacks, callback)
}

func (a *App) initRepositories(db *gorm.DB, rdb *redis.Client) *repositories {
	return &repositories{
		user:        repository.NewUserRepository(db),
		test:        repository.NewTestRepository(db),
		question:    repository.NewQuestionRepository(db),
		attempt:     repository.NewAttemptRepository(db),
		answer:      repository.NewAnswerRepository(db),
		violation:   repository.NewViolationRepository(db),
		leaderboard: repository.NewLeaderboardRepository(rdb),
		sessionLock: repository.NewSessionLockRepository(rdb),
	}
}

func (a *App) initServices(repos *repositories, cfg *config.Config) *services {
	s := &services{}

	s.auth = service.NewAuthService(repos.user, cfg)
	s.test = service.NewTestService(repos.test, repos.question, repos.attempt, repos.answer, repos.violation)
	s.notifier = service.NewNotifierService(repos.user, repos.leaderboard)
	s.session = service.NewSessionService(
		cfg,
		repos.test,
		repos.question,
		repos.attempt,
		repos.answer,
		repos.violation,
		repos.sessionLock,
		s.notifier,
	)
	s.monitor = service.NewMonitorService(
		cfg.Proctoring.DefaultTabSwitchLimit,
		cfg.Proctoring.WarningWindowSeconds,
		s.session,
		repos.violation,
	)

	return s
}

func (a *App) initControllers(s *services, repos *repositories, db *gorm.DB, rdb *redis.Client) *controllers {
	return &controllers{
		auth:        controller.NewAuthController(s.auth),
		test:        controller.NewTestController(s.test),
		attempt:     controller.NewAttemptController(s.session, s.monitor),
		leaderboard: controller.NewLeaderboardController(s.notifier, repos.attempt),
		health:      controller.NewHealthController(db, rdb),
	}
}

func (a *App) setupMiddlewares(router *gin.Engine, cfg *config.Config) {
	router.Use(security.CORS(cfg.CORS.AllowedOrigins))
	router.Use(security.Secure())
	router.Use(security.RateLimiter(cfg.RateLimit.MaxRequests, time.Duration(cfg.RateLimit.WindowMinutes)*time.Minute))

	if cfg.Tracing.Enabled {
		router.Use(tracing.GinMiddleware())
	}

	router.Use(monitoring.MetricsMiddleware())
}

func NewApp(cfg *config.Config) *App {
	logger.InitLogger(cfg)
	defer logger.Log.Sync()

	logger.Log.Info("Logger initialized successfully")

	db, err := database.InitDB(&cfg.Database)
	if err != nil {
		logger.Log.Fatal("Failed to initialize database", zap.Error(err))
		log.Fatalf("Failed to initialize database: %v", err)
	}

	if cfg.ShouldMigrate() {
		if err := database.Migrate(db); err != nil {
			logger.Log.Fatal("Failed to run database migrations", zap.Error(err))
			log.Fatalf("Failed to run database migrations: %v", err)
		}
	}

	rdb, err := database.InitRedis(&cfg.Redis)
	if err != nil {
		logger.Log.Fatal("Failed to initialize redis", zap.Error(err))
		log.Fatalf("Failed to initialize redis: %v", err)
	}

	app := &App{
		Config: cfg,
		DB:     db,
		Redis:  rdb,
	}

	repos := app.initRepositories(db, rdb)
	services := app.initServices(repos, cfg)
	app.services = services
	controllers := app.initControllers(services, repos, db, rdb)

	monitoring.Init()

	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()
	app.Router = router

	app.setupMiddlewares(router, cfg)

	if cfg.Tracing.Enabled {
		if _, err := tracing.InitTracer("examdesk", cfg.Tracing.CollectorEndpoint); err != nil {
			logger.Log.Fatal("Failed to initialize tracing", zap.Error(err))
		}
	}

	app.registerRoutes(router, controllers, repos, cfg)

	go configwatcher.WatchConfig("configs/config.yaml", func(newCfg *config.Config) {
		app.Config.Proctoring = newCfg.Proctoring
		app.Config.RateLimit = newCfg.RateLimit
		for _, cb := range app.configCallbacks {
			cb(newCfg)
		}
		logger.Log.Info("configuration reloaded")
	})

	return app
}

func (a *App) Run() {
	srv := &http.Server{
		Addr:    ":" + a.Config.Server.Port,
		Handler: a.Router,
	}

	go func() {
		log.Printf("Server running on port %s", a.Config.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server exiting")
}
