package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	payoutdomain "github.com/smallbiznis/escrowd/internal/payout/domain"
	"github.com/smallbiznis/escrowd/pkg/db/pagination"
)

type exportBatchRequest struct {
	PayoutIDs []snowflake.ID `json:"payout_ids"`
}

type executeBatchRequest struct {
	BankReference string `json:"bank_reference" binding:"required,max=128"`
}

type listBatchesQuery struct {
	pagination.Pagination
	Status string `form:"status"`
}

func (s *Server) ListPayoutBatches(c *gin.Context) {
	var query listBatchesQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, bindingErrors(err))
		return
	}

	resp, err := s.payoutSvc.ListBatches(c.Request.Context(), payoutdomain.BatchListRequest{
		Pagination: query.Pagination,
		Status:     payoutdomain.BatchStatus(strings.ToUpper(strings.TrimSpace(query.Status))),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp.Batches, "page_info": resp.PageInfo})
}

func (s *Server) GetPayoutBatch(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	batch, err := s.payoutSvc.GetBatch(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": batch})
}

// ExportPayoutBatch groups approved payouts into a batch. An empty id list
// exports every approved, unbatched payout up to the policy's batch size.
func (s *Server) ExportPayoutBatch(c *gin.Context) {
	var req exportBatchRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, bindingErrors(err))
			return
		}
	}

	actorID, _ := actorFromContext(c)
	result, err := s.payoutSvc.ExportBatch(c.Request.Context(), payoutdomain.ExportRequest{
		PayoutIDs: req.PayoutIDs,
		Actor:     actorID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": result})
}

func (s *Server) DownloadPayoutBatchFile(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	file, err := s.payoutSvc.BatchFile(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file.Name))
	c.Header("X-Checksum-SHA256", file.Checksum)
	c.Data(http.StatusOK, "text/csv; charset=utf-8", file.Content)
}

func (s *Server) ExecutePayoutBatch(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	var req executeBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, bindingErrors(err))
		return
	}

	actorID, _ := actorFromContext(c)
	batch, err := s.payoutSvc.ExecuteBatch(c.Request.Context(), id, actorID, strings.TrimSpace(req.BankReference))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": batch})
}

func (s *Server) CancelPayoutBatch(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	actorID, _ := actorFromContext(c)
	batch, err := s.payoutSvc.CancelBatch(c.Request.Context(), id, actorID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": batch})
}
