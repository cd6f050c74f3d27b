package server

import (
	"time"

	httpHandler "crosspost/interfaces/http"
	"crosspost/interfaces/middleware"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

var allowedOrigins = []string{
	"https://tulus.tech",
	"https://admin.tulus.tech",
	"http://localhost:4201",
	"http://localhost:4200",
	"https://localhost:4201",
	"https://localhost:4200",
}

func InitiateRouter(
	healthHandler httpHandler.IHealthHandler,
	taskHandler httpHandler.ITaskHandler,
	credentialHandler httpHandler.ICredentialHandler,
	stream gin.HandlerFunc,
	secretKey string,
) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Requested-With"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		AllowOriginFunc: func(origin string) bool {
			for _, o := range allowedOrigins {
				if o == origin {
					return true
				}
			}
			return false
		},
		MaxAge: 12 * time.Hour,
	}))

	router.GET("/healthz", healthHandler.Healthz)

	api := router.Group("api")
	api.Use(middleware.Auth(secretKey))

	api.GET("/platforms", taskHandler.Platforms)

	tasks := api.Group("/tasks")
	{
		tasks.POST("", taskHandler.Create)
		tasks.GET("", taskHandler.List)
		tasks.GET("/due", taskHandler.Due)
		tasks.GET("/stream", stream)
		tasks.GET("/:id", taskHandler.Get)
		tasks.POST("/:id/publish", taskHandler.PublishNow)
		tasks.PATCH("/:id/schedule", taskHandler.Reschedule)
		tasks.DELETE("/:id", taskHandler.Delete)
	}

	accounts := api.Group("/accounts/:accountId/credentials")
	{
		accounts.PUT("/:platform", credentialHandler.Put)
		accounts.GET("/:platform", credentialHandler.Status)
	}

	return router
}
