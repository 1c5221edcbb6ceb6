package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	settlementdomain "github.com/smallbiznis/escrowd/internal/settlement/domain"
	"github.com/smallbiznis/escrowd/pkg/db/pagination"
)

type reconcileRequest struct {
	ActualAmount  *int64 `json:"actual_amount" binding:"required"`
	BankReference string `json:"bank_reference" binding:"required,max=128"`
}

type listSettlementsQuery struct {
	pagination.Pagination
	Status string `form:"status"`
}

func (s *Server) ListSettlements(c *gin.Context) {
	var query listSettlementsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, bindingErrors(err))
		return
	}

	resp, err := s.settlementSvc.List(c.Request.Context(), settlementdomain.ListRequest{
		Pagination: query.Pagination,
		Status:     settlementdomain.Status(strings.ToUpper(strings.TrimSpace(query.Status))),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp.Batches, "page_info": resp.PageInfo})
}

func (s *Server) GetSettlement(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	batch, err := s.settlementSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": batch})
}

// ReconcileSettlement records what the bank statement shows for a settlement
// day. A zero actual amount is valid and marks the day as a discrepancy when
// money was expected.
func (s *Server) ReconcileSettlement(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	var req reconcileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, bindingErrors(err))
		return
	}

	actorID, _ := actorFromContext(c)
	batch, err := s.settlementSvc.Reconcile(c.Request.Context(), id, settlementdomain.ReconcileRequest{
		ActualAmount:  *req.ActualAmount,
		BankReference: strings.TrimSpace(req.BankReference),
		Actor:         actorID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": batch})
}
