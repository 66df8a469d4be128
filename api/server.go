// Package api exposes the engine's control surface over HTTP: start and stop
// runs, inspect status, variables, and the run summary, and swap the loaded
// task sequence between runs.
package api

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"gopkg.in/yaml.v3"

	"droidflow/engine"
)

type Server struct {
	eng *engine.Engine
	log *slog.Logger
}

func NewServer(eng *engine.Engine, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{eng: eng, log: log}
}

func (s *Server) Router() *gin.Engine {
	g := gin.New()
	g.Use(gin.Recovery())

	g.POST("/api/run", s.handleRun)
	g.POST("/api/stop", s.handleStop)
	g.POST("/api/tasks", s.handleLoadTasks)
	g.GET("/api/status", s.handleStatus)
	g.GET("/api/summary", s.handleSummary)
	g.GET("/api/variables", s.handleVariables)

	return g
}

// handleRun starts a run on a worker goroutine so the caller can keep
// observing and cancelling it through the other endpoints.
func (s *Server) handleRun(c *gin.Context) {
	if s.eng.Status() == engine.StatusRunning {
		c.JSON(http.StatusConflict, gin.H{"message": "a run is already in progress"})
		return
	}

	go func() {
		if err := s.eng.Run(context.Background(), nil); err != nil {
			s.log.Error("run failed", "error", err.Error())
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{"status": "started"})
}

func (s *Server) handleStop(c *gin.Context) {
	s.eng.Stop()
	c.JSON(http.StatusOK, gin.H{"status": "stop requested"})
}

// handleLoadTasks replaces the task sequence. The body is the persisted
// sequence format (YAML); rejected while a run is active.
func (s *Server) handleLoadTasks(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "unreadable request body"})
		return
	}

	var tasks []engine.Task
	if err := yaml.Unmarshal(body, &tasks); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "malformed task sequence: " + err.Error()})
		return
	}

	if err := s.eng.Load(tasks); err != nil {
		c.JSON(http.StatusConflict, gin.H{"message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "loaded", "tasks": len(tasks)})
}

func (s *Server) handleStatus(c *gin.Context) {
	done, total := s.eng.ProgressState()
	c.JSON(http.StatusOK, gin.H{
		"status": string(s.eng.Status()),
		"run_id": s.eng.RunID(),
		"done":   done,
		"total":  total,
	})
}

func (s *Server) handleSummary(c *gin.Context) {
	c.String(http.StatusOK, s.eng.Summary())
}

func (s *Server) handleVariables(c *gin.Context) {
	c.JSON(http.StatusOK, s.eng.Vars())
}
