package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/freelancehub/payments-service/internal/gateway"
	"github.com/freelancehub/payments-service/internal/service"
)

// Business codes carried alongside the HTTP status in the envelope.
const (
	CodeSuccess             = 0
	CodeParamError          = 400
	CodeSignatureInvalid    = 401
	CodeGatewayRejected     = 402
	CodeNotFound            = 404
	CodeConflict            = 409
	CodeInsufficientBalance = 422
	CodeServerError         = 500
	CodeGatewayUnavailable  = 503
)

type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{Code: CodeSuccess, Message: "success", Data: data})
}

func ParamError(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, Response{Code: CodeParamError, Message: message})
}

// Fail classifies a service error onto an HTTP status. Only classified,
// user-safe messages leave this function; anything unrecognized becomes a
// generic 500.
func Fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidAmount),
		errors.Is(err, service.ErrInvalidAccount),
		errors.Is(err, service.ErrUnknownGateway),
		errors.Is(err, service.ErrMalformedEvent):
		c.JSON(http.StatusBadRequest, Response{Code: CodeParamError, Message: err.Error()})
	case errors.Is(err, service.ErrInsufficientBalance),
		errors.Is(err, service.ErrNoPayoutDestination):
		c.JSON(http.StatusUnprocessableEntity, Response{Code: CodeInsufficientBalance, Message: err.Error()})
	case errors.Is(err, service.ErrConcurrentUpdate):
		c.JSON(http.StatusConflict, Response{Code: CodeConflict, Message: err.Error()})
	case errors.Is(err, gateway.ErrSignatureInvalid):
		c.JSON(http.StatusUnauthorized, Response{Code: CodeSignatureInvalid, Message: "webhook signature invalid"})
	case errors.Is(err, gateway.ErrRejected):
		c.JSON(http.StatusPaymentRequired, Response{Code: CodeGatewayRejected, Message: "payment gateway rejected the request"})
	case errors.Is(err, gateway.ErrUnavailable):
		c.JSON(http.StatusServiceUnavailable, Response{Code: CodeGatewayUnavailable, Message: "payment gateway unavailable, try again later"})
	case errors.Is(err, gorm.ErrRecordNotFound):
		c.JSON(http.StatusNotFound, Response{Code: CodeNotFound, Message: "not found"})
	default:
		c.JSON(http.StatusInternalServerError, Response{Code: CodeServerError, Message: "internal error"})
	}
}
