package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	"go.uber.org/zap"

	"github.com/kolayne/anonymous-helpline-chatbot/internal/config"
	"github.com/kolayne/anonymous-helpline-chatbot/internal/handler"
	"github.com/kolayne/anonymous-helpline-chatbot/internal/middleware"
	"github.com/kolayne/anonymous-helpline-chatbot/internal/repository"
	"github.com/kolayne/anonymous-helpline-chatbot/internal/service"
)

// Server is the admin HTTP surface: role-flag management and pairing
// introspection. It talks to the same repositories as the bot and never
// touches rows directly.
type Server struct {
	router *gin.Engine
	db     *sqlx.DB
	cfg    *config.Config
	log    *logrus.Logger
	zlog   *zap.Logger
}

func NewServer(db *sqlx.DB, cfg *config.Config, zlog *zap.Logger) *Server {
	router := gin.Default()

	s := &Server{
		router: router,
		db:     db,
		cfg:    cfg,
		log:    logrus.New(),
		zlog:   zlog,
	}

	s.setupRoutes()

	return s
}

func (s *Server) setupRoutes() {
	authService := service.NewAuthService(s.cfg, s.zlog)
	authHandler := handler.NewAuthHandler(authService, s.log)

	userRepo := repository.NewUserRepository(s.db, s.zlog)
	convRepo := repository.NewConversationRepository(s.db, s.zlog)
	userHandler := handler.NewUserHandler(userRepo, s.log)
	convHandler := handler.NewConversationHandler(convRepo, s.log)

	s.router.Use(middleware.RequestID())

	// Ping route for health check
	s.router.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "pong",
		})
	})

	s.router.POST("/api/auth/login", authHandler.Login)

	// Authenticated routes
	authRequired := s.router.Group("/api")
	authRequired.Use(middleware.AuthMiddleware([]byte(s.cfg.Admin.JWTSecret), s.log))
	{
		authRequired.GET("/users", userHandler.GetAllUsers)
		authRequired.GET("/users/:tg_id/status", userHandler.GetUserStatus)
		authRequired.POST("/users/:tg_id/operator", userHandler.SetOperator)
		authRequired.POST("/users/:tg_id/admin", userHandler.SetAdmin)
		authRequired.GET("/conversations", convHandler.GetAllConversations)
	}
}

// Run starts the HTTP server on the given port.
func (s *Server) Run(port string) {
	if err := s.router.Run(":" + port); err != nil {
		s.log.Fatalf("Failed to run server: %v", err)
	}
}
