package server

import (
	"io"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	paymentdomain "github.com/smallbiznis/escrowd/internal/payment/domain"
	"github.com/smallbiznis/escrowd/pkg/db/pagination"
)

// maxWebhookBody bounds a single gateway delivery.
const maxWebhookBody = 1 << 20

type createPaymentRequest struct {
	BookingID  snowflake.ID `json:"booking_id" binding:"required"`
	ProviderID snowflake.ID `json:"provider_id" binding:"required"`
	ClientID   snowflake.ID `json:"client_id" binding:"required"`
	Amount     int64        `json:"amount" binding:"required,amount"`
	Currency   string       `json:"currency" binding:"currency"`
}

func (s *Server) CreatePayment(c *gin.Context) {
	var req createPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, bindingErrors(err))
		return
	}

	result, err := s.paymentSvc.CreatePayment(c.Request.Context(), paymentdomain.CreatePaymentRequest{
		BookingID:  req.BookingID,
		ProviderID: req.ProviderID,
		ClientID:   req.ClientID,
		Amount:     req.Amount,
		Currency:   req.Currency,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"data": result})
}

func (s *Server) GetPayment(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	payment, err := s.paymentSvc.GetPayment(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": payment})
}

type listPaymentsQuery struct {
	pagination.Pagination
	Status     string `form:"status"`
	ProviderID string `form:"provider_id"`
}

func (s *Server) ListPayments(c *gin.Context) {
	var query listPaymentsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, bindingErrors(err))
		return
	}
	providerID, err := parseOptionalSnowflakeID("provider_id", query.ProviderID)
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
	items, err := s.paymentSvc.ListPayments(c.Request.Context(), paymentdomain.ListPaymentsFilter{
		Status:     paymentdomain.PaymentStatus(strings.ToUpper(strings.TrimSpace(query.Status))),
		ProviderID: providerID,
		AfterID:    snowflake.ID(afterID),
		Limit:      limit + 1,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	items, pageInfo := pagination.BuildCursorPageInfo(items, limit, func(p paymentdomain.Payment) string {
		return p.ID.String()
	})
	c.JSON(http.StatusOK, gin.H{"data": items, "page_info": pageInfo})
}

// HandlePaymentWebhook answers 2xx only once the delivery is processed or is
// a known duplicate. Any other outcome makes the gateway redeliver.
func (s *Server) HandlePaymentWebhook(c *gin.Context) {
	provider := strings.TrimSpace(c.Param("provider"))
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	outcome, err := s.webhookSvc.IngestWebhook(c.Request.Context(), provider, payload, c.Request.Header)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": string(outcome)})
}
