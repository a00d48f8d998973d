// Package handlers implements the ops API endpoints: probes, job run
// history and manual job triggers.
//
// Every error leaves through fail() as an ErrorResponse:
//
//	HTTP/1.1 404 Not Found
//	{
//	  "request_id": "123e4567-e89b-12d3-a456-426614174000",
//	  "code": "unknown_job",
//	  "message": "unknown job: payroll"
//	}
package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-staff-assistant/internal/http/middleware"
	"github.com/tbourn/go-staff-assistant/internal/scheduler"
)

// ErrorResponse is the standard error envelope. Job is set on routes that
// address a single job.
type ErrorResponse struct {
	RequestID string `json:"request_id,omitempty"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	Job       string `json:"job,omitempty"`
}

// fail aborts with an ErrorResponse. 5xx responses are logged with the
// request-scoped logger.
func fail(c *gin.Context, status int, code, msg string) {
	resp := ErrorResponse{
		RequestID: c.Writer.Header().Get("X-Request-ID"),
		Code:      code,
		Message:   msg,
		Job:       c.Param("name"),
	}
	if status >= http.StatusInternalServerError {
		middleware.LoggerFrom(c).Error().
			Int("status", status).
			Str("job", resp.Job).
			Str("code", code).
			Str("message", msg).
			Msg("api error")
	}
	c.AbortWithStatusJSON(status, resp)
}

// Fail is the exported variant of fail for router-level fallbacks.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

// failErr classifies err: unknown jobs are 404, deadlines 504, anything
// else 500 with the given code.
func failErr(c *gin.Context, err error, code string) {
	switch {
	case errors.Is(err, scheduler.ErrUnknownJob):
		fail(c, http.StatusNotFound, ErrCodeUnknownJob, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		fail(c, http.StatusGatewayTimeout, ErrCodeTimeout, err.Error())
	default:
		fail(c, http.StatusInternalServerError, code, err.Error())
	}
}

func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}
