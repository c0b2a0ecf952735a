// Package response writes the JSON envelope shared by every HTTP API.
//
//	success: { success: true, data: {...}, message: "...", code: 200, request_id: "..." }
//	failure: { success: false, error: "ERROR_CODE", message: "...", code: 4xx/5xx, request_id: "..." }
//
// Internal errors are logged in full and reported to the client as
// "internal server error".
package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/samandartukhtayev/ecommerce-sharding/apperrors"
	"github.com/samandartukhtayev/ecommerce-sharding/logger"
)

// RequestIDKey is the gin context key holding the request id
const RequestIDKey = "request_id"

type Response struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
	Code      int         `json:"code"`
	Message   string      `json:"message"`
	RequestID string      `json:"request_id,omitempty"`
}

// GetRequestID returns the id set by the request id middleware
func GetRequestID(c *gin.Context) string {
	if requestID, exists := c.Get(RequestIDKey); exists {
		if id, ok := requestID.(string); ok {
			return id
		}
	}
	return ""
}

// HandleBindError reports a request that failed binding or validation
func HandleBindError(c *gin.Context, err error) {
	requestID := GetRequestID(c)
	logger.Debug("Invalid request",
		zap.String("request_id", requestID),
		zap.String("path", c.Request.URL.Path),
		zap.Error(err))

	c.JSON(http.StatusBadRequest, &Response{
		Success:   false,
		Error:     string(apperrors.CodeValidation),
		Message:   err.Error(),
		Code:      http.StatusBadRequest,
		RequestID: requestID,
	})
}

// HandleAppError maps err onto its status. Errors that are not AppErrors
// are treated as internal and their text never reaches the client.
func HandleAppError(c *gin.Context, err error) {
	requestID := GetRequestID(c)

	appErr := apperrors.AsAppError(err)
	status := appErr.HTTPStatusCode()

	fields := []zap.Field{
		zap.String("request_id", requestID),
		zap.String("path", c.Request.URL.Path),
		zap.String("method", c.Request.Method),
		zap.String("error_code", string(appErr.Code)),
		zap.Int("http_status", status),
	}
	if appErr.Err != nil {
		fields = append(fields, zap.Error(appErr.Err))
	}

	if status >= http.StatusInternalServerError {
		logger.Error(appErr.Message, fields...)
	} else {
		logger.Warn(appErr.Message, fields...)
	}

	c.JSON(status, &Response{
		Success:   false,
		Error:     string(appErr.Code),
		Message:   appErr.Message,
		Code:      status,
		RequestID: requestID,
	})
}

func HandleSuccess(c *gin.Context, data interface{}, message string) {
	c.JSON(http.StatusOK, &Response{
		Success:   true,
		Data:      data,
		Message:   message,
		Code:      http.StatusOK,
		RequestID: GetRequestID(c),
	})
}

func HandleCreated(c *gin.Context, data interface{}, message string) {
	c.JSON(http.StatusCreated, &Response{
		Success:   true,
		Data:      data,
		Message:   message,
		Code:      http.StatusCreated,
		RequestID: GetRequestID(c),
	})
}

func HandleNoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// Abort writes a failure envelope and stops the handler chain
func Abort(c *gin.Context, status int, code apperrors.ErrorCode, message string) {
	c.AbortWithStatusJSON(status, &Response{
		Success:   false,
		Error:     string(code),
		Message:   message,
		Code:      status,
		RequestID: GetRequestID(c),
	})
}
