package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	consultationdomain "github.com/talktime/talktime/internal/consultation/domain"
)

func (s *Server) createConsultation(c *gin.Context) {
	var req consultationdomain.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("request", "invalid_request", "invalid request body"))
		return
	}

	resp, err := s.consultationSvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

func (s *Server) getConsultation(c *gin.Context) {
	userID := strings.TrimSpace(c.Query("user_id"))
	if userID == "" {
		AbortWithError(c, newValidationError("user_id", "required", "user_id is required"))
		return
	}

	order, err := s.consultationSvc.GetByID(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (s *Server) heartbeat(c *gin.Context) {
	var req consultationdomain.HeartbeatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("request", "invalid_request", "invalid request body"))
		return
	}
	req.OrderID = c.Param("id")

	resp, err := s.consultationSvc.Heartbeat(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) cancelConsultation(c *gin.Context) {
	var req struct {
		UserID string `json:"user_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("request", "invalid_request", "invalid request body"))
		return
	}

	if err := s.consultationSvc.Cancel(c.Request.Context(), req.UserID, c.Param("id")); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}
