package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/danmuck/acqctl/internal/auth"
	"github.com/danmuck/acqctl/internal/docstore"
	"github.com/danmuck/acqctl/internal/plan"
	"github.com/danmuck/acqctl/internal/registry"
)

const version = "0.1.0"

func (s *Server) registerRoutes() {
	r := s.router
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.Appeared).String(),
			"service": s.ID,
			"version": version,
		})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/detectors", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"detectors": s.registry.List()})
	})

	r.GET("/runs", func(c *gin.Context) {
		runs, err := s.store.Runs(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"runs": runs})
	})

	r.GET("/runs/:uid/documents", func(c *gin.Context) {
		docs, err := s.store.Documents(c.Request.Context(), c.Param("uid"))
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, docstore.ErrRunNotFound) {
				status = http.StatusNotFound
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"documents": docs})
	})

	mutate := r.Group("/")
	if s.guard != nil {
		mutate.Use(auth.Require(s.guard))
	}
	mutate.POST("/runs/count", func(c *gin.Context) {
		num, err := strconv.Atoi(c.DefaultQuery("num", "1"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "num must be an integer"})
			return
		}
		var ids []string
		if raw := strings.TrimSpace(c.Query("detectors")); raw != "" {
			ids = strings.Split(raw, ",")
		}

		uid, err := s.Count(c.Request.Context(), ids, num)
		if err != nil {
			c.JSON(countStatus(err), gin.H{"error": err.Error(), "run": uid})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "run": uid})
	})
}

func countStatus(err error) int {
	switch {
	case errors.Is(err, ErrRunInProgress):
		return http.StatusConflict
	case errors.Is(err, registry.ErrDetectorUnknown):
		return http.StatusNotFound
	case errors.Is(err, plan.ErrInvalidCount), errors.Is(err, plan.ErrNoDetectors):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
