package api

import "github.com/gin-gonic/gin"

// Error codes returned in the management API error envelope.
const (
	ErrCodeUnauthorized  = "unauthorized"
	ErrCodeInternalError = "internal_error"
	ErrCodeBadRequest    = "bad_request"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

func respondOK(c *gin.Context, body any) {
	c.JSON(200, body)
}

func respondError(c *gin.Context, status int, code, message string) {
	c.JSON(status, errorResponse{Error: errorBody{Code: code, Message: message}})
}
