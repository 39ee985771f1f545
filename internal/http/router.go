package http

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"scribly/internal/service"
)

// NewRouter configura el router de Gin con middlewares y rutas.
func NewRouter(
	logger *zap.Logger,
	jwtSvc *service.JWTService,
	authH *AuthHandler,
	storyH *StoryHandler,
) *gin.Engine {
	r := gin.New()

	// Middlewares basicos: logging, recovery y JSON content-type.
	r.Use(zapLoggerMiddleware(logger), gin.Recovery(), jsonContentTypeMiddleware())

	r.POST("/users", authH.SignUp)
	auth := r.Group("/auth")
	auth.POST("/login", authH.LogIn)
	auth.POST("/refresh", authH.Refresh)
	auth.POST("/logout", authH.LogOut)

	// El token firmado es la credencial, no hace falta sesion.
	r.GET("/email-verification", authH.VerifyEmail)

	authed := r.Group("/", JWTAuthMiddleware(jwtSvc))
	authed.POST("/email-verification/resend", authH.ResendVerificationEmail)
	authed.GET("/me", storyH.GetMe)
	authed.POST("/stories", storyH.StartStory)
	authed.GET("/stories/:id", storyH.GetStory)
	authed.POST("/stories/:id/cowriters", storyH.AddCowriters)
	authed.POST("/stories/:id/turns", storyH.TakeTurn)
	authed.POST("/stories/:id/hide", storyH.HideStory)
	authed.POST("/stories/:id/unhide", storyH.UnhideStory)
	authed.POST("/stories/:id/nudge", storyH.Nudge)

	return r
}

// zapLoggerMiddleware crea un middleware simple de logging con zap.
func zapLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", latency),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}

// jsonContentTypeMiddleware fuerza Content-Type: application/json en responses.
func jsonContentTypeMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Content-Type", "application/json")
		c.Next()
	}
}
