package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	balancedomain "github.com/smallbiznis/aitime/internal/balance/domain"
)

type addPurchaseRequest struct {
	UserID  string `json:"user_id" binding:"required"`
	Minutes int64  `json:"minutes" binding:"required"`
	Source  string `json:"source" binding:"required"`
}

func (s *Server) GetBalance(c *gin.Context) {
	userID := strings.TrimSpace(c.Param("user_id"))

	balance, err := s.balanceSvc.GetUserBalance(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, balance)
}

func (s *Server) AddPurchase(c *gin.Context) {
	var req addPurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	balance, err := s.balanceSvc.AddPurchasedMinutes(
		c.Request.Context(),
		strings.TrimSpace(req.UserID),
		req.Minutes,
		balancedomain.PurchaseSource(req.Source),
	)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, balance)
}

func (s *Server) ResetDaily(c *gin.Context) {
	affected, err := s.balanceSvc.ResetDailyAllocation(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"accounts_reset": affected})
}
