package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Plain-text outcomes returned by the recorder and retry endpoints.
const (
	TextOK          = "OK"
	TextFailed      = "Failed"
	TextBadPayload  = "Failed to read payload"
	TextBusy        = "Busy"
	TextNoSuchEvent = "No such event"
)

// Body is the standard API response envelope.
type Body struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// OK sends a 200 JSON response with data.
func OK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Body{Success: true, Data: data})
}

// Text sends a 200 plain-text outcome. The recorder treats any non-2xx as a
// reason to redeliver, so failures are reported in the body.
func Text(c *gin.Context, outcome string) {
	c.String(http.StatusOK, outcome)
}

// Raw sends a 200 JSON response without the envelope. A nil value encodes as null.
func Raw(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, data)
}

// Unauthorized sends 401.
func Unauthorized(c *gin.Context, err string) {
	c.JSON(http.StatusUnauthorized, Body{Success: false, Error: err})
}

// Forbidden sends 403.
func Forbidden(c *gin.Context, err string) {
	c.JSON(http.StatusForbidden, Body{Success: false, Error: err})
}
