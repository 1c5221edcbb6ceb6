package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	providerdomain "github.com/smallbiznis/escrowd/internal/provider/domain"
)

func (s *Server) GetProviderBankAccount(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	account, err := s.providerSvc.GetBankAccount(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": account})
}

func (s *Server) UpsertProviderBankAccount(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	var req providerdomain.UpsertBankAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, bindingErrors(err))
		return
	}

	account, err := s.providerSvc.UpsertBankAccount(c.Request.Context(), id, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": account})
}
