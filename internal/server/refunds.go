package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	refunddomain "github.com/smallbiznis/escrowd/internal/refund/domain"
	"github.com/smallbiznis/escrowd/pkg/db/pagination"
)

type issueRefundRequest struct {
	PaymentID      snowflake.ID `json:"payment_id" binding:"required"`
	Amount         int64        `json:"amount" binding:"required,amount"`
	Reason         string       `json:"reason" binding:"max=500"`
	IdempotencyKey string       `json:"idempotency_key"`
}

type listRefundsQuery struct {
	pagination.Pagination
	PaymentID string `form:"payment_id"`
	Status    string `form:"status"`
}

// IssueRefund accepts the idempotency key from the body or the
// Idempotency-Key header.
func (s *Server) IssueRefund(c *gin.Context) {
	var req issueRefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, bindingErrors(err))
		return
	}
	key := strings.TrimSpace(req.IdempotencyKey)
	if key == "" {
		key = strings.TrimSpace(c.GetHeader("Idempotency-Key"))
	}

	actorID, _ := actorFromContext(c)
	refund, err := s.refundSvc.IssueRefund(c.Request.Context(), refunddomain.RefundRequest{
		PaymentID:      req.PaymentID,
		Amount:         req.Amount,
		Reason:         req.Reason,
		IdempotencyKey: key,
		RequestedBy:    actorID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": refund})
}

func (s *Server) RetryRefund(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	actorID, _ := actorFromContext(c)
	refund, err := s.refundSvc.RetryRefund(c.Request.Context(), id, actorID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": refund})
}

func (s *Server) GetRefund(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	refund, err := s.refundSvc.GetRefund(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": refund})
}

func (s *Server) ListRefunds(c *gin.Context) {
	var query listRefundsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, bindingErrors(err))
		return
	}
	paymentID, err := parseOptionalSnowflakeID("payment_id", query.PaymentID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.refundSvc.ListRefunds(c.Request.Context(), refunddomain.ListRequest{
		Pagination: query.Pagination,
		PaymentID:  paymentID,
		Status:     refunddomain.Status(strings.ToUpper(strings.TrimSpace(query.Status))),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp.Refunds, "page_info": resp.PageInfo})
}
