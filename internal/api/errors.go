package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/roach88/stateindex/internal/queryir"
	"github.com/roach88/stateindex/internal/search"
)

// Error messages on the wire.
const (
	MessageNotFound            = "Not Found"
	MessageMethodNotAllowed    = "Method Not Allowed"
	MessageInternalServerError = "Internal Server Error"
	MessageBodyDeserialization = "Body Deserialization Error"
)

// CodeUnknownError is reported for failures that are not the caller's.
const CodeUnknownError = 950299

// ErrorListResponse is the body of every error response.
type ErrorListResponse struct {
	Errors []ErrorResponse `json:"errors"`
}

// ErrorResponse is one reported error. Code is a validation code, or the
// HTTP status for errors raised outside validation.
type ErrorResponse struct {
	Code    int           `json:"code"`
	Message string        `json:"message"`
	Details *ErrorDetails `json:"details,omitempty"`
}

// ErrorDetails locates a validation failure.
type ErrorDetails struct {
	Parameter string `json:"parameter"`
	Reason    string `json:"reason"`
}

func singleton(code int, message string) ErrorListResponse {
	return ErrorListResponse{Errors: []ErrorResponse{{Code: code, Message: message}}}
}

func validationResponse(ve *queryir.ValidationError) ErrorListResponse {
	return ErrorListResponse{Errors: []ErrorResponse{{
		Code:    int(ve.Code),
		Message: queryir.ValidationTitle,
		Details: &ErrorDetails{Parameter: ve.Parameter, Reason: ve.Reason},
	}}}
}

// abortWithError maps err onto a status and an ErrorListResponse.
func (s *Server) abortWithError(c *gin.Context, err error) {
	if ve, ok := queryir.AsValidationError(err); ok {
		c.AbortWithStatusJSON(http.StatusBadRequest, validationResponse(ve))
		return
	}
	if errors.Is(err, queryir.ErrMalformedBody) {
		c.AbortWithStatusJSON(http.StatusBadRequest, singleton(http.StatusBadRequest, MessageBodyDeserialization))
		return
	}
	if search.IsNotFound(err) {
		c.AbortWithStatusJSON(http.StatusNotFound, singleton(http.StatusNotFound, MessageNotFound))
		return
	}

	s.logger.Error("request failed",
		zap.String("path", c.Request.URL.Path),
		zap.String("req_id", requestID(c)),
		zap.Error(err))
	c.AbortWithStatusJSON(http.StatusInternalServerError, singleton(CodeUnknownError, MessageInternalServerError))
}
