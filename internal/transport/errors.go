package transport

import (
	"encoding/json"
	"fmt"
	"strings"
)

// StatusError is a non-2xx response from the upstream.
type StatusError struct {
	Status  int
	Code    string
	Message string
	Body    []byte
}

func (e *StatusError) Error() string {
	if detail := e.Detail(); detail != "" {
		return fmt.Sprintf("transport: status %d: %s", e.Status, detail)
	}
	return fmt.Sprintf("transport: status %d", e.Status)
}

// StatusCode returns the HTTP status.
func (e *StatusError) StatusCode() int {
	return e.Status
}

// Detail returns the human-readable part of the error body.
func (e *StatusError) Detail() string {
	switch {
	case e.Message != "" && e.Code != "":
		return e.Message + " (" + e.Code + ")"
	case e.Message != "":
		return e.Message
	default:
		return e.Code
	}
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Error   any    `json:"error"`
	Detail  string `json:"detail"`
}

const maxErrorBody = 64 << 10

func newStatusError(status int, raw []byte) *StatusError {
	se := &StatusError{Status: status, Body: raw}
	var body errorBody
	if err := json.Unmarshal(raw, &body); err == nil {
		se.Code = strings.TrimSpace(body.Code)
		se.Message = strings.TrimSpace(body.Message)
		switch v := body.Error.(type) {
		case string:
			if se.Message == "" {
				se.Message = strings.TrimSpace(v)
			}
		case map[string]any:
			if msg, ok := v["message"].(string); ok && se.Message == "" {
				se.Message = strings.TrimSpace(msg)
			}
			if code, ok := v["code"].(string); ok && se.Code == "" {
				se.Code = strings.TrimSpace(code)
			}
		}
		if se.Message == "" {
			se.Message = strings.TrimSpace(body.Detail)
		}
		return se
	}
	text := strings.TrimSpace(string(raw))
	if len(text) > 200 {
		text = text[:200]
	}
	se.Message = text
	return se
}
