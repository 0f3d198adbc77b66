package oidc

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidConfig is returned by NewClient when the configuration is rejected.
var ErrInvalidConfig = errors.New("oidc: invalid config")

// ResponseError describes a failed token request. StatusCode is zero when the
// server could not be reached at all.
type ResponseError struct {
	StatusCode int
	URL        string
	Body       []byte
	// Code and Description carry the OAuth error and error_description
	// fields when the body contains them.
	Code        string
	Description string
	Err         error
}

func newResponseError(status int, url string, body []byte, err error) *ResponseError {
	re := &ResponseError{StatusCode: status, URL: url, Body: body, Err: err}
	var payload struct {
		Code        string `json:"error"`
		Description string `json:"error_description"`
	}
	if len(body) > 0 && json.Unmarshal(body, &payload) == nil {
		re.Code = payload.Code
		re.Description = payload.Description
	}
	return re
}

func (e *ResponseError) Error() string {
	switch {
	case e.StatusCode == 0:
		return fmt.Sprintf("oidc: request to %s failed: %v", e.URL, e.Err)
	case e.Code != "":
		return fmt.Sprintf("oidc: %s (%d): %s", e.Code, e.StatusCode, e.Description)
	default:
		return fmt.Sprintf("oidc: unexpected %d response from %s", e.StatusCode, e.URL)
	}
}

func (e *ResponseError) Unwrap() error { return e.Err }

// HTTPStatus returns the response status, zero for transport failures.
func (e *ResponseError) HTTPStatus() int { return e.StatusCode }

// HTTPURL returns the request URL.
func (e *ResponseError) HTTPURL() string { return e.URL }

// HTTPBody returns the raw response body.
func (e *ResponseError) HTTPBody() []byte { return e.Body }
