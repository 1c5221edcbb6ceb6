package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	ledgerdomain "github.com/smallbiznis/escrowd/internal/ledger/domain"
	"github.com/smallbiznis/escrowd/pkg/db/pagination"
)

type ledgerBalancesQuery struct {
	ProviderID string `form:"provider_id"`
}

type listLedgerEntriesQuery struct {
	pagination.Pagination
	AccountType   string `form:"account_type"`
	AccountID     string `form:"account_id"`
	ReferenceType string `form:"reference_type"`
	ReferenceID   string `form:"reference_id"`
}

// GetLedgerBalances returns the system account balances, or one provider's
// balance when provider_id is given.
func (s *Server) GetLedgerBalances(c *gin.Context) {
	var query ledgerBalancesQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, bindingErrors(err))
		return
	}
	providerID, err := parseOptionalSnowflakeID("provider_id", query.ProviderID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	ctx := c.Request.Context()
	if providerID != 0 {
		balance, err := s.ledgerSvc.ProviderBalance(ctx, providerID)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": []ledgerdomain.AccountBalance{{
			AccountType: ledgerdomain.AccountProviderBalance,
			AccountID:   providerID,
			Balance:     balance,
		}}})
		return
	}

	balances, err := s.ledgerSvc.SystemBalances(ctx)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": balances})
}

func (s *Server) ListLedgerEntries(c *gin.Context) {
	var query listLedgerEntriesQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, bindingErrors(err))
		return
	}
	accountID, err := parseOptionalSnowflakeID("account_id", query.AccountID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	referenceID, err := parseOptionalSnowflakeID("reference_id", query.ReferenceID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	afterID, err := query.AfterID()
	if err != nil {
		AbortWithError(c, err)
		return
	}

	limit := query.Limit()
	entries, err := s.ledgerSvc.ListEntries(c.Request.Context(), ledgerdomain.ListEntriesFilter{
		AccountType:   ledgerdomain.AccountType(strings.ToUpper(strings.TrimSpace(query.AccountType))),
		AccountID:     accountID,
		ReferenceType: ledgerdomain.ReferenceType(strings.ToUpper(strings.TrimSpace(query.ReferenceType))),
		ReferenceID:   referenceID,
		AfterID:       snowflake.ID(afterID),
		Limit:         limit + 1,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	entries, pageInfo := pagination.BuildCursorPageInfo(entries, limit, func(e ledgerdomain.LedgerEntry) string {
		return e.ID.String()
	})
	c.JSON(http.StatusOK, gin.H{"data": entries, "page_info": pageInfo})
}

// CheckLedgerInvariant recomputes the accounting invariant on demand. A
// violated invariant answers 500 with the full report.
func (s *Server) CheckLedgerInvariant(c *gin.Context) {
	ctx := c.Request.Context()
	report, err := s.ledgerSvc.AssertAccountingInvariant(ctx)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	s.ledgerSvc.ReportInvariant(ctx, "api", report)

	status := http.StatusOK
	if !report.Valid {
		status = http.StatusInternalServerError
	}
	c.JSON(status, gin.H{"data": report})
}
