// Package devbackend is a self-contained chat backend speaking the HTTP,
// stream and websocket contract the client expects. Replies come from
// pluggable Responders; storage is gorm.
package devbackend

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

const (
	DefaultProvider = "echo"
	DefaultModel    = "echo-1"
	DefaultTokenTTL = 24 * time.Hour
)

type Config struct {
	JWTSecret     string
	TokenTTL      time.Duration
	ContextWindow int
	// chats created without a provider use these
	DefaultProvider string
	DefaultModel    string
	// browser origins allowed to call the API, none when empty
	AllowOrigins []string
}

func (c *Config) setDefaults() {
	if c.TokenTTL <= 0 {
		c.TokenTTL = DefaultTokenTTL
	}
	if c.ContextWindow <= 0 {
		c.ContextWindow = 10
	}
	if c.DefaultProvider == "" {
		c.DefaultProvider = DefaultProvider
	}
	if c.DefaultModel == "" {
		c.DefaultModel = DefaultModel
	}
}

type Server struct {
	cfg        Config
	repo       *Repo
	responders *Responders
	hub        *hub
	logger     zerolog.Logger
}

// New migrates db and returns a server ready to be routed.
func New(db *gorm.DB, cfg Config, responders *Responders, logger zerolog.Logger) (*Server, error) {
	cfg.setDefaults()
	repo := NewRepo(db)
	if err := repo.Migrate(); err != nil {
		return nil, err
	}
	if responders == nil {
		responders = DefaultResponders(ProviderConfig{})
	}
	return &Server{
		cfg:        cfg,
		repo:       repo,
		responders: responders,
		hub:        newHub(),
		logger:     logger.With().Str("component", "devbackend").Logger(),
	}, nil
}

func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(requestID(), requestLogger(s.logger), recovery(s.logger))
	if len(s.cfg.AllowOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:  s.cfg.AllowOrigins,
			AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
			AllowHeaders:  []string{"Authorization", "Content-Type", requestIDHeader},
			ExposeHeaders: []string{requestIDHeader},
			MaxAge:        12 * time.Hour,
		}))
	}

	r.NoRoute(func(c *gin.Context) {
		fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.GET("/ping", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"message": "pong"}) })
	r.GET("/ws", s.serveWS)

	api := r.Group("/api")
	api.POST("/auth/register", s.register)
	api.POST("/auth/login", s.login)

	authed := api.Group("/")
	authed.Use(authRequired(s.cfg.JWTSecret))
	authed.GET("/auth/profile", s.profile)

	authed.GET("/chats", s.listChats)
	authed.POST("/chats", s.createChat)
	authed.GET("/chats/:id", s.getChat)
	authed.PATCH("/chats/:id", s.updateChat)
	authed.DELETE("/chats/:id", s.deleteChat)

	authed.GET("/chats/:id/messages", s.listMessages)
	authed.POST("/chats/:id/messages/bulk", s.bulkInsertMessages)
	authed.DELETE("/chats/:id/messages/:message_id", s.deleteMessage)
	authed.DELETE("/chats/:id/messages/:message_id/subsequent", s.deleteSubsequent)
	authed.DELETE("/chats/:id/messages/:message_id/and-subsequent", s.deleteAndSubsequent)

	authed.POST("/chats/:id/stream", s.streamMessage)
	authed.POST("/chats/:id/regenerate", s.regenerate)
	authed.POST("/chats/:id/parallel", s.parallel)
	return r
}

func ok(c *gin.Context, status int, data any) {
	c.JSON(status, data)
}

func fail(c *gin.Context, httpStatus int, code int, msg string) {
	c.AbortWithStatusJSON(httpStatus, gin.H{
		"code":    code,
		"message": msg,
	})
}

func userIDFromContext(c *gin.Context) string {
	return c.GetString(userIDKey)
}
