package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	payoutdomain "github.com/smallbiznis/escrowd/internal/payout/domain"
	"github.com/smallbiznis/escrowd/pkg/db/pagination"
)

type createPayoutRequest struct {
	PaymentID snowflake.ID `json:"payment_id" binding:"required"`
}

type cancelRequest struct {
	Reason string `json:"reason" binding:"max=500"`
}

type listPayoutsQuery struct {
	pagination.Pagination
	Status     string `form:"status"`
	ProviderID string `form:"provider_id"`
	BatchID    string `form:"batch_id"`
}

func (s *Server) ListPayouts(c *gin.Context) {
	var query listPayoutsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, bindingErrors(err))
		return
	}
	providerID, err := parseOptionalSnowflakeID("provider_id", query.ProviderID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	batchID, err := parseOptionalSnowflakeID("batch_id", query.BatchID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.payoutSvc.ListPayouts(c.Request.Context(), payoutdomain.ListRequest{
		Pagination: query.Pagination,
		Status:     payoutdomain.Status(strings.ToUpper(strings.TrimSpace(query.Status))),
		ProviderID: providerID,
		BatchID:    batchID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp.Payouts, "page_info": resp.PageInfo})
}

func (s *Server) GetPayout(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	payout, err := s.payoutSvc.GetPayout(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": payout})
}

func (s *Server) CreatePayout(c *gin.Context) {
	var req createPayoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, bindingErrors(err))
		return
	}

	actorID, _ := actorFromContext(c)
	payout, err := s.payoutSvc.CreatePayout(c.Request.Context(), req.PaymentID, actorID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": payout})
}

func (s *Server) ApprovePayout(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	actorID, _ := actorFromContext(c)
	payout, err := s.payoutSvc.ApprovePayout(c.Request.Context(), id, actorID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": payout})
}

func (s *Server) CancelPayout(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	var req cancelRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, bindingErrors(err))
			return
		}
	}

	actorID, _ := actorFromContext(c)
	payout, err := s.payoutSvc.CancelPayout(c.Request.Context(), id, actorID, strings.TrimSpace(req.Reason))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": payout})
}
