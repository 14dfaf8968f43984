package respond

import (
	"net/http"

	"github.com/wb-go/wbf/ginext"

	"github.com/formyhq/editflow/internal/taskerr"
)

// Success represents a standard structure for successful responses.
type Success struct {
	Result interface{} `json:"result"`
}

// Error represents a standard structure for error responses. Code and
// suggestion come from the error catalog when the failure is a normalized
// task error.
type Error struct {
	Code       string `json:"code,omitempty"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion,omitempty"`
}

// JSON sends a JSON response with the specified HTTP status code and data.
func JSON(c *ginext.Context, status int, data interface{}) {
	c.JSON(status, data)
}

// OK sends a 200 OK JSON response, wrapping the given result in a Success struct.
func OK(c *ginext.Context, result interface{}) {
	JSON(c, http.StatusOK, Success{Result: result})
}

// Created sends a 201 Created JSON response, wrapping the given result in a Success struct.
func Created(c *ginext.Context, result interface{}) {
	JSON(c, http.StatusCreated, Success{Result: result})
}

// Fail sends an error JSON response with the specified HTTP status code.
// A *taskerr.Error carries its catalog code and suggestion into the body.
func Fail(c *ginext.Context, status int, err error) {
	var te *taskerr.Error
	if e, ok := err.(*taskerr.Error); ok {
		te = e
	}

	if te == nil {
		JSON(c, status, Error{Message: err.Error()})
		return
	}

	JSON(c, status, Error{
		Code:       string(te.Code),
		Message:    te.Message,
		Suggestion: taskerr.Suggestion(te.Code),
	})
}
