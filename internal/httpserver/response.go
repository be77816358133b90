package httpserver

import (
	"errors"
	"net/http"

	"checkout-engine/internal/domain"
	"github.com/gin-gonic/gin"
)

const (
	statusSuccess = "success"
	statusFail    = "fail"
	statusError   = "error"
)

type envelope struct {
	Status  string    `json:"status"`
	Data    any       `json:"data,omitempty"`
	Message string    `json:"message,omitempty"`
	Error   *apiError `json:"error,omitempty"`
}

// apiError is the machine-readable part of a failed response.
type apiError struct {
	Kind      string `json:"kind"`
	Reason    string `json:"reason,omitempty"`
	ProductID int64  `json:"product_id,omitempty"`
	ItemID    int64  `json:"item_id,omitempty"`
	Requested int    `json:"requested,omitempty"`
	Available *int   `json:"available,omitempty"`
}

func respond(c *gin.Context, status int, data any) {
	c.JSON(status, envelope{Status: statusSuccess, Data: data})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, envelope{
		Status:  statusFail,
		Message: msg,
		Error:   &apiError{Kind: "InvalidInput", Reason: msg},
	})
}

// writeError maps domain errors onto status codes and the error envelope.
func (h *handlers) writeError(c *gin.Context, err error) {
	status, body := classify(err)
	env := envelope{Status: statusFail, Message: err.Error(), Error: &body}
	if status >= http.StatusInternalServerError {
		env.Status = statusError
		env.Message = "request failed"
		_ = c.Error(err)
	}
	c.JSON(status, env)
}

func classify(err error) (int, apiError) {
	var (
		stockErr    *domain.StockError
		lineErr     *domain.LineError
		rejectedErr *domain.RejectedError
	)
	switch {
	case errors.As(err, &lineErr):
		status, body := classify(lineErr.Err)
		body.ItemID = lineErr.LineID
		if body.ProductID == 0 {
			body.ProductID = lineErr.ProductID
		}
		return status, body
	case errors.As(err, &stockErr):
		available := stockErr.Available
		return http.StatusConflict, apiError{
			Kind:      "InsufficientStock",
			ProductID: stockErr.ProductID,
			Requested: stockErr.Requested,
			Available: &available,
		}
	case errors.As(err, &rejectedErr):
		return http.StatusUnprocessableEntity, apiError{Kind: "Rejected", Reason: rejectedErr.Reason, ProductID: rejectedErr.ProductID}
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, apiError{Kind: "NotFound"}
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict, apiError{Kind: "Conflict"}
	case errors.Is(err, domain.ErrProductInUse):
		return http.StatusConflict, apiError{Kind: "ProductInUse"}
	case errors.Is(err, domain.ErrEmptyCart):
		return http.StatusBadRequest, apiError{Kind: "EmptyCart"}
	case errors.Is(err, domain.ErrInvalidQuantity), errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest, apiError{Kind: "InvalidInput", Reason: err.Error()}
	case errors.Is(err, domain.ErrPersistence):
		return http.StatusInternalServerError, apiError{Kind: "PersistenceFailure"}
	default:
		return http.StatusInternalServerError, apiError{Kind: "Internal"}
	}
}
