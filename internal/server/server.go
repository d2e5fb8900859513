// Package server exposes the pipeline over HTTP for operators and bots.
package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nashy3k/momentum/internal/engine"
)

// Server wraps the engine with a JSON API.
type Server struct {
	engine *engine.Engine
	logger *zap.Logger
	router *gin.Engine
}

// New creates a Server and registers its routes.
func New(eng *engine.Engine, logger *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{engine: eng, logger: logger, router: gin.New()}
	s.router.Use(gin.Recovery())

	s.router.GET("/healthz", s.health)
	api := s.router.Group("/api")
	{
		api.POST("/plan", s.plan)
		api.POST("/execute", s.execute)
		api.POST("/reject", s.reject)
		api.POST("/patrol", s.patrol)
		api.GET("/repos", s.repos)
		api.POST("/untrack", s.untrack)
	}
	return s
}

// Run blocks serving HTTP on addr.
func (s *Server) Run(addr string) error {
	s.logger.Info("http server listening", zap.String("addr", addr))
	return s.router.Run(addr)
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type planRequest struct {
	Repo            string            `json:"repo" binding:"required"`
	MaintenanceOnly bool              `json:"maintenance_only"`
	Metadata        map[string]string `json:"metadata"`
}

func (s *Server) plan(c *gin.Context) {
	var req planRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res, err := s.engine.Plan(c.Request.Context(), req.Repo, engine.PlanOptions{
		MaintenanceOnly: req.MaintenanceOnly,
		Metadata:        req.Metadata,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, res)
}

type executeRequest struct {
	CycleID string `json:"cycle_id" binding:"required"`
}

func (s *Server) execute(c *gin.Context) {
	var req executeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res, err := s.engine.ExecuteCycle(c.Request.Context(), req.CycleID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, res)
}

type rejectRequest struct {
	CycleID string `json:"cycle_id" binding:"required"`
	Reason  string `json:"reason"`
}

func (s *Server) reject(c *gin.Context) {
	var req rejectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.engine.RecordHumanRejection(c.Request.Context(), req.CycleID, req.Reason); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "rejected"})
}

type patrolRequest struct {
	MaintenanceOnly bool `json:"maintenance_only"`
}

func (s *Server) patrol(c *gin.Context) {
	var req patrolRequest
	_ = c.ShouldBindJSON(&req) // body optional
	results, err := s.engine.Patrol(c.Request.Context(), engine.PlanOptions{MaintenanceOnly: req.MaintenanceOnly})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

func (s *Server) repos(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"repositories": s.engine.ListRepos(c.Request.Context())})
}

type untrackRequest struct {
	Repo string `json:"repo" binding:"required"`
}

func (s *Server) untrack(c *gin.Context) {
	var req untrackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.engine.Untrack(c.Request.Context(), req.Repo); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "untracked"})
}
