package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	walletdomain "github.com/talktime/talktime/internal/wallet/domain"
	"github.com/talktime/talktime/pkg/db/pagination"
)

func (s *Server) getBalance(c *gin.Context) {
	userID := strings.TrimSpace(c.Query("user_id"))
	expertID := strings.TrimSpace(c.Query("expert_id"))
	currency := strings.TrimSpace(c.Query("currency"))
	if userID == "" || expertID == "" || currency == "" {
		AbortWithError(c, newValidationError("request", "required", "user_id, expert_id and currency are required"))
		return
	}

	balance, err := s.walletSvc.GetBalance(c.Request.Context(), userID, expertID, currency)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user_id":       balance.UserID.String(),
		"expert_id":     balance.ExpertID.String(),
		"currency":      balance.Currency,
		"total_balance": balance.TotalBalance,
		"real_balance":  balance.RealBalance,
	})
}

func (s *Server) listTransactions(c *gin.Context) {
	userID := strings.TrimSpace(c.Query("user_id"))
	expertID := strings.TrimSpace(c.Query("expert_id"))
	currency := strings.TrimSpace(c.Query("currency"))
	if userID == "" || expertID == "" || currency == "" {
		AbortWithError(c, newValidationError("request", "required", "user_id, expert_id and currency are required"))
		return
	}

	var page pagination.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		AbortWithError(c, newValidationError("request", "invalid_request", "invalid paging parameters"))
		return
	}

	entries, info, err := s.walletSvc.ListTransactions(c.Request.Context(), userID, expertID, currency, page)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	items := make([]gin.H, 0, len(entries))
	for _, entry := range entries {
		item := gin.H{
			"transaction_id": entry.ID.String(),
			"type":           entry.Type,
			"status":         entry.Status,
			"amount":         entry.Amount,
			"real_amount":    entry.RealAmount,
			"currency":       entry.Currency,
			"created_at":     entry.CreatedAt,
		}
		if entry.OrderID != nil {
			item["order_id"] = entry.OrderID.String()
		}
		items = append(items, item)
	}
	c.JSON(http.StatusOK, gin.H{
		"transactions":    items,
		"next_page_token": info.NextPageToken,
		"has_more":        info.HasMore,
	})
}

func (s *Server) creditWallet(c *gin.Context) {
	var req walletdomain.CreditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("request", "invalid_request", "invalid request body"))
		return
	}

	entry, err := s.walletSvc.Credit(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"transaction_id": entry.ID.String(),
		"type":           entry.Type,
		"amount":         entry.Amount,
		"real_amount":    entry.RealAmount,
	})
}

func (s *Server) initiateRecharge(c *gin.Context) {
	var req walletdomain.RechargeInitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("request", "invalid_request", "invalid request body"))
		return
	}

	resp, err := s.walletSvc.InitiateRecharge(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) confirmRecharge(c *gin.Context) {
	var req walletdomain.RechargeConfirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("request", "invalid_request", "invalid request body"))
		return
	}

	entry, err := s.walletSvc.ConfirmRecharge(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"transaction_id": entry.ID.String(),
		"amount":         entry.Amount,
		"real_amount":    entry.RealAmount,
	})
}
