package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"vidcutapi/config"
	"vidcutapi/files"
	"vidcutapi/task"
)

func SetupRouter(tm *task.Manager, creds CredentialService, lib *files.Library, cfg *config.Config) *gin.Engine {
	r := gin.New()
	r.Use(RequestLogger(), gin.Recovery())
	h := NewHandler(tm, creds, lib, cfg)

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"message":   "Video Processing API is running",
			"timestamp": time.Now().Format(time.RFC3339),
		})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/api/v1")
	v1.Use(AuthMiddleware(cfg))
	{
		v1.POST("/videos", h.handleDownload)
		v1.POST("/videos/download-and-cut", h.handleDownloadAndCut)
		v1.GET("/videos", h.handleListVideos)
		v1.GET("/videos/:id", h.handleGetVideo)
		v1.GET("/videos/:id/error", h.handleGetVideoError)
		v1.POST("/videos/:id/cut", h.handleCut)

		v1.GET("/tasks", h.handleListTasks)
		v1.GET("/tasks/:taskId", h.handleGetTaskStatus)

		v1.GET("/files", h.handleListFiles)
		v1.GET("/files/:type/:filename", h.handleGetFile)
		v1.POST("/files/clean", h.handleCleanFiles)

		v1.GET("/credentials", h.handleListCredentials)
		v1.PUT("/credentials/:platform", h.handleSetCredentials)
		v1.POST("/credentials/refresh", h.handleRefreshCredentials)
	}
	return r
}
