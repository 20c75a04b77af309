package controller

import (
	"context"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"relaychat/platform"
	"relaychat/service"
)

type Deps struct {
	Config  *platform.Config
	Logger  *logrus.Logger
	Metrics *platform.Metrics
	DB      *gorm.DB
	Tokens  *service.TokenService
	Relay   *service.Relay
	Chats   *service.ChatService
	Posts   *service.PostService
}

func NewRouter(d Deps) *gin.Engine {
	if !d.Config.IsDev() {
		gin.SetMode(gin.ReleaseMode)
	}
	useFieldNames()

	r := gin.New()
	r.Use(gin.RecoveryWithWriter(d.Logger.Writer()))
	r.Use(CORSMiddleware(d.Config.CORS))
	r.Use(RequestIDMiddleware())
	r.Use(LogMiddleware(d.Logger, d.Metrics))

	r.GET("/health", healthHandler(d.DB))
	r.GET("/metrics", gin.WrapH(d.Metrics.Handler()))

	requireAuth := RequireAuth(d.Tokens, d.Logger)
	chat := NewChatController(d.Relay, d.Logger)
	chats := NewChatsController(d.Chats, d.Logger)
	post := NewPostController(d.Posts, d.Logger)

	api := r.Group("/api")
	{
		api.POST("/chat", requireAuth, chat.Stream)

		c := api.Group("/chats", requireAuth)
		c.GET("", chats.List)
		c.POST("", chats.Create)
		c.GET("/:id", chats.Get)
		c.PATCH("/:id", chats.Update)
		c.DELETE("/:id", chats.Delete)
		c.GET("/:id/messages", chats.ListMessages)
		c.POST("/:id/messages", chats.CreateMessage)
		c.GET("/:id/messages/:messageId", chats.GetMessage)
		c.PATCH("/:id/messages/:messageId", chats.UpdateMessage)
		c.DELETE("/:id/messages/:messageId", chats.DeleteMessage)

		api.GET("/posts", OptionalAuth(d.Tokens), post.List)
		api.POST("/posts", requireAuth, post.Create)
	}
	return r
}

func healthHandler(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if db != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if sqlDB, err := db.DB(); err != nil || sqlDB.PingContext(ctx) != nil {
				c.String(http.StatusServiceUnavailable, "database unavailable")
				return
			}
		}
		c.String(http.StatusOK, "OK")
	}
}

// useFieldNames makes validation messages name fields the way clients send them.
func useFieldNames() {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return
	}
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		for _, tag := range []string{"json", "form"} {
			name := strings.SplitN(field.Tag.Get(tag), ",", 2)[0]
			if name == "-" {
				return ""
			}
			if name != "" {
				return name
			}
		}
		return field.Name
	})
}
