// Package gateway – APIError
//
// This file decodes non-2xx responses into APIError. Both the
// {request_id, code, message} envelope and a bare {detail} body are accepted.
package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// APIError is a non-2xx response that the gateway did not recover from.
type APIError struct {
	Status    int
	Code      string
	Message   string
	RequestID string
	Method    string
	Path      string
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	if e.Code != "" {
		return fmt.Sprintf("%s %s: %d %s (%s)", e.Method, e.Path, e.Status, msg, e.Code)
	}
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.Status, msg)
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var ae *APIError
	if errors.As(err, &ae) {
		return ae.Status
	}
	return 0
}

// errorEnvelope covers both {request_id, code, message} and {detail}.
type errorEnvelope struct {
	RequestID string          `json:"request_id"`
	Code      string          `json:"code"`
	Message   string          `json:"message"`
	Detail    json.RawMessage `json:"detail"`
}

func decodeAPIError(method, path string, status int, body []byte, reqID string) *APIError {
	ae := &APIError{Status: status, Method: method, Path: path, RequestID: reqID}
	var env errorEnvelope
	if len(body) == 0 || json.Unmarshal(body, &env) != nil {
		if s := strings.TrimSpace(string(body)); s != "" && len(s) <= 200 {
			ae.Message = s
		}
		return ae
	}
	ae.Code = env.Code
	ae.Message = env.Message
	if env.RequestID != "" {
		ae.RequestID = env.RequestID
	}
	if ae.Message == "" && len(env.Detail) > 0 {
		var s string
		if json.Unmarshal(env.Detail, &s) == nil {
			ae.Message = s
		} else {
			ae.Message = string(env.Detail)
		}
	}
	return ae
}
