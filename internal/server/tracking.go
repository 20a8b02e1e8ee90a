package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	consumptiondomain "github.com/smallbiznis/aitime/internal/consumption/domain"
	estimatordomain "github.com/smallbiznis/aitime/internal/estimator/domain"
	trackingdomain "github.com/smallbiznis/aitime/internal/tracking/domain"
)

type startTrackingRequest struct {
	UserID        string                      `json:"user_id" binding:"required"`
	BuildID       string                      `json:"build_id" binding:"required"`
	OperationType string                      `json:"operation_type" binding:"required"`
	OperationID   string                      `json:"operation_id"`
	IsUpdate      bool                        `json:"is_update"`
	ProjectSize   estimatordomain.ProjectSize `json:"project_size"`
	Metadata      map[string]any              `json:"metadata"`
}

type endTrackingRequest struct {
	UserID     string         `json:"user_id" binding:"required"`
	TrackingID string         `json:"tracking_id" binding:"required"`
	StartedAt  time.Time      `json:"started_at" binding:"required"`
	Success    bool           `json:"success"`
	ErrorType  string         `json:"error_type"`
	Metadata   map[string]any `json:"metadata"`
}

func (s *Server) StartTracking(c *gin.Context) {
	var req startTrackingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	opCtx := estimatordomain.OperationContext{
		IsUpdate:    req.IsUpdate,
		ProjectSize: req.ProjectSize,
		Metadata:    req.Metadata,
	}

	session, err := s.trackingSvc.StartTracking(
		c.Request.Context(),
		strings.TrimSpace(req.UserID),
		strings.TrimSpace(req.BuildID),
		consumptiondomain.OperationType(req.OperationType),
		opCtx,
		strings.TrimSpace(req.OperationID),
	)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, session)
}

func (s *Server) EndTracking(c *gin.Context) {
	var req endTrackingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	record, err := s.trackingSvc.EndTracking(
		c.Request.Context(),
		strings.TrimSpace(req.UserID),
		strings.TrimSpace(req.TrackingID),
		trackingdomain.EndContext{
			StartedAt: req.StartedAt,
			Success:   req.Success,
			ErrorType: req.ErrorType,
			Metadata:  req.Metadata,
		},
	)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, record)
}
