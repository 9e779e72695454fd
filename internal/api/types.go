package api

import (
	"github.com/gin-gonic/gin"

	"github.com/kandev/orchestrion/internal/common/apperrors"
)

// Envelope is the {success, data|error} response shape spec.md §6 requires
// of every non-SSE endpoint.
type Envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func ok(data any) Envelope         { return Envelope{Success: true, Data: data} }
func fail(message string) Envelope { return Envelope{Success: false, Error: message} }

// failErr writes err as a failure envelope, picking its HTTP status from
// the apperrors taxonomy (NotFound -> 404, Conflict -> 409, and so on)
// instead of collapsing every service-layer error to 400.
func failErr(c *gin.Context, err error) {
	c.JSON(apperrors.GetHTTPStatus(err), fail(err.Error()))
}
