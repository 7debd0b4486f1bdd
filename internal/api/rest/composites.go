package rest

import (
	"errors"
	"net/http"

	"github.com/KevinKickass/OpenMediaCore/internal/interfaces"
	"github.com/KevinKickass/OpenMediaCore/internal/pipeline"
	"github.com/KevinKickass/OpenMediaCore/internal/serial"
	"github.com/KevinKickass/OpenMediaCore/internal/types"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// GET /api/v1/composites
func (s *Server) listComposites(c *gin.Context) {
	composites := s.lm.ListComposites()
	c.JSON(http.StatusOK, gin.H{
		"composites": composites,
		"count":      len(composites),
	})
}

// GET /api/v1/composites/:name
func (s *Server) getComposite(c *gin.Context) {
	summary, err := s.lm.GetComposite(c.Param("name"))
	if err != nil {
		s.compositeError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// PUT /api/v1/composites/:name/state
func (s *Server) setCompositeState(c *gin.Context) {
	var req struct {
		State string `json:"state" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.CodeCompositeInvalid, "Invalid request body", err.Error()))
		return
	}

	state, err := pipeline.ParseState(req.State)
	if err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.CodeCompositeInvalid, "Invalid state", err.Error()))
		return
	}

	name := c.Param("name")
	if err := s.lm.SetCompositeState(c.Request.Context(), name, state); err != nil {
		s.logger.Error("Composite state change failed",
			zap.String("composite", name),
			zap.String("state", state.String()),
			zap.Error(err))
		s.compositeError(c, err)
		return
	}

	summary, err := s.lm.GetComposite(name)
	if err != nil {
		s.compositeError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// POST /api/v1/composites/:name/eos
func (s *Server) endOfStream(c *gin.Context) {
	if err := s.lm.EndOfStream(c.Param("name")); err != nil {
		s.compositeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message": "End of stream sent"})
}

// GET /api/v1/composites/:name/properties
func (s *Server) getProperties(c *gin.Context) {
	props, err := s.lm.CompositeProperties(c.Param("name"))
	if err != nil {
		s.compositeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"properties": props})
}

// PUT /api/v1/composites/:name/properties/:property
func (s *Server) setProperty(c *gin.Context) {
	var req struct {
		Value any `json:"value"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.CodePropertyInvalid, "Invalid request body", err.Error()))
		return
	}
	if req.Value == nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.CodePropertyInvalid, "Invalid request body", "value is required"))
		return
	}

	name, property := c.Param("name"), c.Param("property")
	if err := s.lm.SetCompositeProperty(name, property, req.Value); err != nil {
		s.compositeError(c, err)
		return
	}

	s.logger.Info("Composite property set",
		zap.String("composite", name),
		zap.String("property", property),
		zap.Any("value", req.Value))

	props, err := s.lm.CompositeProperties(name)
	if err != nil {
		s.compositeError(c, err)
		return
	}
	for _, p := range props {
		if p.Name == property {
			c.JSON(http.StatusOK, p)
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"name": property})
}

func (s *Server) compositeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, interfaces.ErrCompositeNotFound):
		c.JSON(http.StatusNotFound, types.NewErrorResponse(types.CodeCompositeNotFound, "Composite not found", err.Error()))
	case errors.Is(err, pipeline.ErrUnknownProperty):
		c.JSON(http.StatusNotFound, types.NewErrorResponse(types.CodePropertyNotFound, "Unknown property", err.Error()))
	case errors.Is(err, pipeline.ErrPropertyType),
		errors.Is(err, pipeline.ErrPropertyRange),
		errors.Is(err, serial.ErrEmptyPath):
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.CodePropertyInvalid, "Invalid property value", err.Error()))
	case errors.Is(err, pipeline.ErrInvalidTransition):
		c.JSON(http.StatusConflict, types.NewErrorResponse(types.CodeTransitionRejected, "Invalid state transition", err.Error()))
	default:
		resp := types.NewErrorResponse(types.CodeCompositeFailed, "Composite operation failed", err.Error())
		if ce, ok := pipeline.AsConstructionError(err); ok {
			resp = resp.WithConstruction(ce.Class.String(), ce.ExitCode())
		}
		c.JSON(http.StatusInternalServerError, resp)
	}
}
