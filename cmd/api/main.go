package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/yourusername/notes-api/internal/config"
	"github.com/yourusername/notes-api/internal/handler"
	"github.com/yourusername/notes-api/internal/middleware"
	pgRepo "github.com/yourusername/notes-api/internal/repository/postgres"
	redisRepo "github.com/yourusername/notes-api/internal/repository/redis"
	"github.com/yourusername/notes-api/internal/service"
	"github.com/yourusername/notes-api/pkg/auth"
	"github.com/yourusername/notes-api/pkg/auth/manager"
	"github.com/yourusername/notes-api/pkg/database"
)

func main() {
	// Загружаем конфигурацию
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}
	log.Printf("Загрузка конфигурации из %s", configPath)

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Printf("Failed to load config: %v", err)
		os.Exit(1)
	}

	// Инициализируем подключение к PostgreSQL
	db, err := database.NewPostgresDB(cfg.Database.PostgresConnectionString())
	if err != nil {
		log.Printf("Failed to connect to database: %v", err)
		os.Exit(1)
	}

	// Применяем миграции
	if err := database.MigrateDB(db); err != nil {
		log.Printf("Failed to migrate database: %v", err)
		os.Exit(1)
	}

	// Инициализируем подключение к Redis (одноразовость state-токенов)
	redisClient, err := database.NewUniversalRedisClient(cfg.Redis)
	if err != nil {
		log.Printf("Failed to connect to Redis: %v", err)
		os.Exit(1)
	}
	log.Println("Successfully connected to Redis")

	// Инициализируем репозитории
	userRepo := pgRepo.NewUserRepo(db)
	bindingRepo := pgRepo.NewOAuthBindingRepo(db)

	refreshTokenRepo, err := pgRepo.NewRefreshTokenRepo(db)
	if err != nil {
		log.Printf("Failed to initialize RefreshTokenRepo: %v", err)
		os.Exit(1)
	}

	cacheRepo, err := redisRepo.NewCacheRepo(redisClient)
	if err != nil {
		log.Printf("Failed to initialize CacheRepo: %v", err)
		os.Exit(1)
	}

	// --- Инициализация JWTService и TokenManager ---
	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpirationHrs)

	tokenManager, err := manager.NewTokenManager(jwtService, userRepo, refreshTokenRepo)
	if err != nil {
		log.Printf("Failed to initialize TokenManager: %v", err)
		os.Exit(1)
	}
	if cfg.JWT.RefreshTokenLifetime > 0 {
		tokenManager.SetRefreshTokenExpiry(time.Duration(cfg.JWT.RefreshTokenLifetime) * time.Hour)
	}
	if cfg.Auth.SessionLimit > 0 {
		tokenManager.SetMaxRefreshTokensPerUser(cfg.Auth.SessionLimit)
	}

	// --- Инициализация OAuth-подсистемы ---
	stateService, err := service.NewStateTokenService(cfg.JWT.Secret, cacheRepo)
	if err != nil {
		log.Printf("Failed to initialize StateTokenService: %v", err)
		os.Exit(1)
	}

	registry := service.NewProviderRegistry()
	registry.Register(service.NewGitHubAdapter())
	registry.Register(service.NewAppleAdapter())
	log.Printf("Зарегистрированы OAuth-провайдеры: %v", registry.Names())

	oauthService, err := service.NewOAuthService(userRepo, bindingRepo)
	if err != nil {
		log.Printf("Failed to initialize OAuthService: %v", err)
		os.Exit(1)
	}

	// Инициализируем обработчики
	oauthHandler := handler.NewOAuthHandler(
		registry,
		stateService,
		oauthService,
		tokenManager,
		cfg,
		cfg.Frontend.URL,
		cfg.Frontend.IOSScheme,
	)
	authHandler := handler.NewAuthHandler(tokenManager)

	// Контекст жизненного цикла фоновых горутин
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Периодическая очистка истекших refresh-токенов
	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()

		log.Println("Запуск периодической очистки истекших refresh-токенов (каждый час)")
		for {
			select {
			case <-ticker.C:
				if err := tokenManager.CleanupExpiredTokens(); err != nil {
					log.Printf("Ошибка при очистке токенов: %v", err)
				}
			case <-ctx.Done():
				log.Println("Завершение работы горутины очистки токенов")
				return
			}
		}
	}()

	// Инициализируем роутер Gin
	router := gin.Default()

	isProduction := gin.Mode() == gin.ReleaseMode
	if isProduction {
		// Production: не доверять прокси-заголовкам
		if err := router.SetTrustedProxies(nil); err != nil {
			log.Printf("Warning: failed to set trusted proxies: %v", err)
		}
	} else {
		if err := router.SetTrustedProxies([]string{"127.0.0.1", "::1"}); err != nil {
			log.Printf("Warning: failed to set trusted proxies: %v", err)
		}
	}

	// Настройка CORS
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{cfg.Frontend.URL, "http://localhost:5173", "http://localhost:3000"},
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	// Настраиваем маршруты
	authGroup := router.Group("/auth")
	{
		authGroup.POST("/token/refresh", authHandler.RefreshToken)
		authGroup.POST("/logout", authHandler.Logout)

		// Список привязок живет вне /oauth/:provider, иначе статический
		// сегмент конфликтует с wildcard в дереве маршрутов gin
		authGroup.GET("/bindings", middleware.AuthRequired(jwtService), oauthHandler.Bindings)

		oauthGroup := authGroup.Group("/oauth")
		{
			oauthGroup.GET("/:provider", oauthHandler.Authorize)
			// Apple присылает callback POST-ом (form_post), GitHub - GET-ом.
			// Метод дополнительно проверяется внутри по адаптеру.
			oauthGroup.GET("/:provider/callback", oauthHandler.Callback)
			oauthGroup.POST("/:provider/callback", oauthHandler.Callback)

			authedOAuth := oauthGroup.Group("")
			authedOAuth.Use(middleware.AuthRequired(jwtService))
			{
				authedOAuth.GET("/:provider/bind", oauthHandler.AuthorizeBind)
				authedOAuth.DELETE("/:provider/bind", oauthHandler.Unbind)
				authedOAuth.POST("/:provider/bind/merge", oauthHandler.ConfirmMerge)
			}
		}
	}

	// Настраиваем HTTP сервер с тайм-аутами для защиты от slow client attacks
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	// Запускаем сервер в горутине
	go func() {
		log.Printf("Starting server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("Failed to start server: %v", err)
		}
	}()

	// Ожидаем сигнал остановки
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	cancel()

	if err := redisClient.Close(); err != nil {
		log.Printf("Error closing Redis client: %v", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
		os.Exit(1)
	}

	log.Println("Server exited properly")
}
