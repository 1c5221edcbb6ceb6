package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/escrowd/internal/audit/domain"
	"github.com/smallbiznis/escrowd/internal/authorization"
	ledgerdomain "github.com/smallbiznis/escrowd/internal/ledger/domain"
	paymentdomain "github.com/smallbiznis/escrowd/internal/payment/domain"
	payoutdomain "github.com/smallbiznis/escrowd/internal/payout/domain"
	providerdomain "github.com/smallbiznis/escrowd/internal/provider/domain"
	refunddomain "github.com/smallbiznis/escrowd/internal/refund/domain"
	settlementdomain "github.com/smallbiznis/escrowd/internal/settlement/domain"
	"github.com/smallbiznis/escrowd/pkg/db"
	"github.com/smallbiznis/escrowd/pkg/db/pagination"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type      string            `json:"type"`
	Message   string            `json:"message"`
	Retryable bool              `json:"retryable,omitempty"`
	Errors    []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrServiceUnavailable = errors.New("service_unavailable")
	ErrRateLimited        = errors.New("rate_limited")
)

// errorClass groups sentinel errors that share a status and error type. The
// message returned to the caller is the matched sentinel, never the wrapped
// detail, so gateway and database text does not leak.
type errorClass struct {
	status  int
	errType string
	errs    []error
}

var errorClasses = []errorClass{
	{
		status:  http.StatusUnauthorized,
		errType: "unauthorized",
		errs: []error{
			ErrUnauthorized,
			paymentdomain.ErrInvalidSignature,
		},
	},
	{
		status:  http.StatusForbidden,
		errType: "forbidden",
		errs: []error{
			ErrForbidden,
			authorization.ErrForbidden,
			authorization.ErrInvalidRole,
		},
	},
	{
		status:  http.StatusNotFound,
		errType: "not_found",
		errs: []error{
			ErrNotFound,
			paymentdomain.ErrPaymentNotFound,
			paymentdomain.ErrProviderNotFound,
			payoutdomain.ErrPayoutNotFound,
			payoutdomain.ErrBatchNotFound,
			payoutdomain.ErrTransferFileMissing,
			settlementdomain.ErrBatchNotFound,
			refunddomain.ErrRefundNotFound,
			providerdomain.ErrBankAccountMissing,
			gorm.ErrRecordNotFound,
		},
	},
	{
		status:  http.StatusConflict,
		errType: "conflict",
		errs: []error{
			paymentdomain.ErrInvalidState,
			paymentdomain.ErrAmountMismatch,
			payoutdomain.ErrInvalidState,
			payoutdomain.ErrPayoutExists,
			payoutdomain.ErrPaymentNotEscrowed,
			payoutdomain.ErrRefundInFlight,
			settlementdomain.ErrAlreadyReconciled,
			refunddomain.ErrInvalidState,
			refunddomain.ErrPaymentNotRefundable,
			refunddomain.ErrPayoutInFlight,
			refunddomain.ErrIdempotencyKeyConflict,
		},
	},
	{
		status:  http.StatusUnprocessableEntity,
		errType: "unprocessable",
		errs: []error{
			payoutdomain.ErrInsufficientLiquidity,
			payoutdomain.ErrInsufficientBalance,
			payoutdomain.ErrBankDetailsMissing,
			payoutdomain.ErrNothingToExport,
			payoutdomain.ErrBatchTooLarge,
			refunddomain.ErrRefundExceedsAmount,
			paymentdomain.ErrUnsupportedCurrency,
		},
	},
	{
		status:  http.StatusTooManyRequests,
		errType: "rate_limited",
		errs: []error{
			ErrRateLimited,
		},
	},
	{
		status:  http.StatusBadGateway,
		errType: "gateway_error",
		errs: []error{
			refunddomain.ErrGatewayRefundFailed,
			paymentdomain.ErrGatewayRequestFailed,
		},
	},
	{
		status:  http.StatusServiceUnavailable,
		errType: "service_unavailable",
		errs: []error{
			ErrServiceUnavailable,
			paymentdomain.ErrGatewayNotConfigured,
		},
	},
	{
		status:  http.StatusBadRequest,
		errType: "validation_error",
		errs: []error{
			ErrInvalidRequest,
			pagination.ErrInvalidPageToken,
			paymentdomain.ErrInvalidProvider,
			paymentdomain.ErrInvalidPayload,
			paymentdomain.ErrInvalidEvent,
			paymentdomain.ErrInvalidAmount,
			paymentdomain.ErrInvalidCurrency,
			paymentdomain.ErrInvalidPayment,
			paymentdomain.ErrInvalidStatus,
			payoutdomain.ErrInvalidActor,
			payoutdomain.ErrInvalidBankReference,
			payoutdomain.ErrInvalidStatus,
			payoutdomain.ErrInvalidPageToken,
			settlementdomain.ErrInvalidAmount,
			settlementdomain.ErrInvalidBankReference,
			settlementdomain.ErrInvalidActor,
			settlementdomain.ErrInvalidStatus,
			settlementdomain.ErrInvalidPageToken,
			refunddomain.ErrInvalidAmount,
			refunddomain.ErrInvalidIdempotencyKey,
			refunddomain.ErrInvalidActor,
			refunddomain.ErrInvalidStatus,
			refunddomain.ErrInvalidPageToken,
			ledgerdomain.ErrInvalidAccountType,
			ledgerdomain.ErrInvalidReferenceType,
			providerdomain.ErrInvalidProvider,
			providerdomain.ErrInvalidBankAccount,
			auditdomain.ErrInvalidPageToken,
			auditdomain.ErrInvalidTimeRange,
			authorization.ErrInvalidActor,
		},
	},
}

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if class, matched, ok := classify(err); ok {
		return class.status, errorPayload{
			Type:    class.errType,
			Message: matched.Error(),
		}
	}

	if db.IsRetryable(err) {
		return http.StatusServiceUnavailable, errorPayload{
			Type:      "service_unavailable",
			Message:   "transient failure, retry the request",
			Retryable: true,
		}
	}

	return http.StatusInternalServerError, errorPayload{
		Type:    "internal_error",
		Message: "internal server error",
	}
}

func classify(err error) (errorClass, error, bool) {
	for _, class := range errorClasses {
		for _, target := range class.errs {
			if errors.Is(err, target) {
				return class, target, true
			}
		}
	}
	return errorClass{}, nil, false
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

// classifyErrorForLog returns the error type and code for request logs.
func classifyErrorForLog(err error) (string, string) {
	if err == nil {
		return "", ""
	}
	if asValidationErrors(err) != nil {
		return "validation_error", "invalid_request"
	}
	if class, matched, ok := classify(err); ok {
		return class.errType, matched.Error()
	}
	if db.IsRetryable(err) {
		return "service_unavailable", "retryable"
	}
	return "internal_error", "unknown"
}
