package rest

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// GET /api/v1/system/status
func (s *Server) getSystemStatus(c *gin.Context) {
	status := s.lm.GetCurrentStatus()
	c.JSON(http.StatusOK, status)
}

// POST /api/v1/system/shutdown
func (s *Server) shutdown(c *gin.Context) {
	c.JSON(http.StatusAccepted, gin.H{
		"message": "Shutdown initiated",
	})

	// The request context ends with the response.
	go func() {
		if err := s.lm.Shutdown(context.Background()); err != nil {
			s.logger.Error("Shutdown failed", zap.Error(err))
		}
	}()
}
