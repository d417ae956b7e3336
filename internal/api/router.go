package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RouterConfig wires handlers into the engine. Metrics is optional.
type RouterConfig struct {
	Handler     *Handler
	Metrics     http.Handler
	MetricsPath string
}

// NewRouter builds the gin engine serving the execution API.
func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	h := cfg.Handler
	r.GET("/healthz", h.Health)
	if cfg.Metrics != nil {
		path := cfg.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.GET(path, gin.WrapH(cfg.Metrics))
	}

	api := r.Group("/api")
	{
		api.GET("/protocols", h.ListProtocols)
		api.GET("/protocols/:id", h.GetProtocol)
		api.GET("/studies/:studyID/executions", h.ListStudyExecutions)
		api.POST("/executions", h.CreateExecution)
	}

	exec := api.Group("/executions/:id")
	{
		exec.GET("", h.GetExecution)
		exec.GET("/progress", h.GetProgress)
		exec.GET("/archives", h.ListArchives)

		exec.POST("/start", h.Start)
		exec.POST("/pause", h.Pause)
		exec.POST("/resume", h.Resume)
		exec.POST("/complete", h.Complete)
		exec.POST("/cancel", h.Cancel)
		exec.POST("/fail", h.Fail)

		exec.PUT("/conditions/:name", h.RecordTestCondition)
		exec.PATCH("/environment", h.UpdateEnvironment)
		exec.POST("/samples", h.AddSample)
		exec.POST("/sessions", h.CreateSession)
		exec.PUT("/sessions/:sessionID/status", h.SetSessionStatus)
	}

	sample := exec.Group("/samples/:sampleID")
	{
		sample.POST("/measurements", h.RecordMeasurement)
		sample.POST("/steps/:stepID/complete", h.CompleteStep)
		sample.POST("/steps/:stepID/uncomplete", h.UncompleteStep)
		sample.GET("/steps/:stepID/corrections", h.CorrectionsForStep)
		sample.POST("/complete", h.CompleteSample)
		sample.POST("/skip", h.SkipSample)
		sample.POST("/fail", h.FailSample)
	}
	return r
}
