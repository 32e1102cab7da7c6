package server

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

func (s *Server) RegisterRoutes() http.Handler {
	r := gin.Default()

	r.Use(cors.New(cors.Config{
		AllowOrigins:     s.config.CORS.AllowedOrigins,
		AllowMethods:     s.config.CORS.AllowedMethods,
		AllowHeaders:     s.config.CORS.AllowedHeaders,
		AllowCredentials: s.config.CORS.AllowCredentials,
		MaxAge:           time.Duration(s.config.CORS.MaxAge) * time.Second,
	}))

	r.GET("/health", s.healthHandler)

	jobs := r.Group("/jobs")
	{
		jobs.POST("", s.CreateJobHandler)
		jobs.POST("/pipelines", s.CreatePipelineJobHandler)
		jobs.POST("/generate", s.CreateGenerationJobHandler)
		jobs.POST("/metadata", s.CreateMetadataJobHandler)
		jobs.POST("/validate-projects", s.CreateMultiProjectJobHandler)

		jobs.GET("", s.ListJobsHandler)
		jobs.GET("/kinds", s.ListOperationKindsHandler)
		jobs.GET("/:id", s.GetJobHandler)
		jobs.POST("/:id/cancel", s.CancelJobHandler)
		jobs.POST("/:id/retry", s.RetryJobHandler)
		jobs.DELETE("/:id", s.DeleteJobHandler)

		jobs.GET("/:id/report", s.GetReportHandler)
		jobs.GET("/:id/report/download", s.DownloadReportHandler)
	}

	r.GET("/ws", s.GlobalUpdatesHandler)
	r.GET("/ws/projects/:project", s.ProjectUpdatesHandler)

	return r
}
