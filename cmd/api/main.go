package main

import (
	"context"
	"os"

	_ "expensehub/api/swagger" // swagger docs

	"expensehub/internal/database"
	"expensehub/internal/handler"
	"expensehub/internal/middleware"
	"expensehub/internal/repository"
	"expensehub/internal/service"
	"expensehub/internal/websocket"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// @title           ExpenseHub API
// @version         1.0
// @description     Expense report workflow engine with RBAC, separation-of-duties checks and a hash-chained audit ledger.
// @host            localhost:8080
// @BasePath        /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	if err := godotenv.Load("configs/.env"); err != nil {
		log.Info().Msg("no configs/.env file found, relying on environment")
	}

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("GIN_MODE") != "release" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	dbHost := envOr("DB_HOST", "localhost")
	dbPort := envOr("DB_PORT", "5432")
	dbUser := envOr("DB_USER", "postgres")
	dbPassword := envOr("DB_PASSWORD", "postgres")
	dbName := envOr("DB_NAME", "expensehub")
	dbSslMode := envOr("DB_SSLMODE", "disable")

	dsn := "postgres://" + dbUser + ":" + dbPassword + "@" + dbHost + ":" + dbPort + "/" + dbName + "?sslmode=" + dbSslMode

	db, err := database.NewConnection(dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("database connection failed")
	}
	log.Info().Str("host", dbHost).Str("db", dbName).Msg("connected to PostgreSQL")

	middleware.Init(db)

	// Set up WebSocket Hub
	wsHub := websocket.NewHub()
	go wsHub.Run()

	// Set up dependencies (Repository -> Service -> Handler)
	txManager := repository.NewTransactionManager(db)
	userRepo := repository.NewUserRepository(db)
	roleRepo := repository.NewRoleRepository(db)
	sodRepo := repository.NewSodRepository(db)
	reportRepo := repository.NewReportRepository(db)
	historyRepo := repository.NewHistoryRepository(db)
	workflowRepo := repository.NewWorkflowRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	auditService := service.NewAuditService(auditRepo, txManager, log.Logger)
	sodService := service.NewSodService(sodRepo, roleRepo)
	guardService := service.NewGuardService(reportRepo, historyRepo, userRepo, service.DefaultGuardConfig(), log.Logger)
	workflowService := service.NewWorkflowService(workflowRepo)
	reportService := service.NewReportService(reportRepo, historyRepo, userRepo, workflowService, guardService, auditService, txManager, wsHub, log.Logger)
	roleService := service.NewRoleService(roleRepo, userRepo, sodRepo, sodService, auditService, txManager)
	permService := service.NewPermissionService(roleRepo, auditService)
	userService := service.NewUserService(userRepo, roleRepo)

	if os.Getenv("SKIP_SEED") != "true" {
		if err := roleService.SeedDefaults(context.Background()); err != nil {
			log.Fatal().Err(err).Msg("failed to seed roles and permissions")
		}
		if err := workflowService.SeedDefaultWorkflow(context.Background()); err != nil {
			log.Fatal().Err(err).Msg("failed to seed default workflow")
		}
		log.Info().Msg("default roles, permissions and workflow seeded")
	}

	// Initialize Handlers
	userHandler := handler.NewUserHandler(userService, permService)
	roleHandler := handler.NewRoleHandler(roleService, permService, sodService)
	workflowHandler := handler.NewWorkflowHandler(workflowService)
	reportHandler := handler.NewReportHandler(reportService)
	auditHandler := handler.NewAuditHandler(auditService)

	// Set up Gin Router
	router := gin.Default()

	// CORS configuration
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = []string{"http://localhost:5173", "http://127.0.0.1:5173", "http://localhost:5174"}
	corsConfig.AllowCredentials = true
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization", "Accept"}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	router.Use(cors.New(corsConfig))

	// Swagger route
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "OK"})
	})

	// WebSocket endpoint for workflow event notifications
	router.GET("/ws", func(c *gin.Context) {
		websocket.ServeWs(wsHub, c, middleware.GetJWTSecret())
	})

	// Register API Routes
	userHandler.RegisterRoutes(router.Group(""))
	roleHandler.RegisterRoutes(router.Group(""))
	workflowHandler.RegisterRoutes(router.Group(""))
	reportHandler.RegisterRoutes(router.Group(""))
	auditHandler.RegisterRoutes(router.Group(""))

	port := envOr("PORT", "8080")

	log.Info().Str("port", port).Msg("server listening")
	if err := router.Run(":" + port); err != nil {
		log.Fatal().Err(err).Msg("server failed")
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
