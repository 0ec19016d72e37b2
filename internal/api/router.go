package api

import (
	"github.com/gin-gonic/gin"
	"github.com/timmy/timecapsule/internal/api/handler"
	"github.com/timmy/timecapsule/internal/api/middleware"
	"github.com/timmy/timecapsule/internal/config"
	"github.com/timmy/timecapsule/internal/logger"
	"github.com/timmy/timecapsule/internal/service"
)

// SetupRouter configures the Gin router with all routes.
// Parameters:
//   - generationService: generation use cases.
//   - db: database handle for the health check; may be nil.
//   - cfg: server settings (mode, upload limit, CORS).
//   - log: base request logger; nil uses the default.
//
// Returns:
//   - *gin.Engine: configured router.
func SetupRouter(
	generationService *service.GenerationService,
	db handler.Pinger,
	cfg *config.ServerConfig,
	log *logger.Logger,
) *gin.Engine {
	switch cfg.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()
	maxUploadBytes := cfg.MaxUploadMB << 20
	if maxUploadBytes > 0 {
		r.MaxMultipartMemory = maxUploadBytes
	}

	r.Use(middleware.LoggerMiddleware(log))
	r.Use(gin.Recovery())
	r.Use(middleware.CORS(cfg.CORS))

	healthHandler := handler.NewHealthHandler(db)
	generationHandler := handler.NewGenerationHandler(generationService, maxUploadBytes)

	r.GET("/health", healthHandler.Health)
	r.NoRoute(handler.NotFound)

	// Served at the root and under /api, where browser clients expect them.
	for _, group := range []*gin.RouterGroup{&r.RouterGroup, r.Group("/api")} {
		group.POST("/generations", generationHandler.Create)
		group.GET("/generations", generationHandler.List)
		group.GET("/generations/:id", generationHandler.Get)
	}

	return r
}
