package domain

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeStatusErr struct {
	code   int
	detail string
}

func (e *fakeStatusErr) Error() string   { return fmt.Sprintf("status %d", e.code) }
func (e *fakeStatusErr) StatusCode() int { return e.code }
func (e *fakeStatusErr) Detail() string  { return e.detail }

type fakeNetErr struct{}

func (fakeNetErr) Error() string   { return "connection refused" }
func (fakeNetErr) Timeout() bool   { return false }
func (fakeNetErr) Temporary() bool { return false }

var _ net.Error = fakeNetErr{}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		code int
		want Class
	}{
		{http.StatusBadRequest, ClassClient},
		{http.StatusUnauthorized, ClassClient},
		{http.StatusForbidden, ClassClient},
		{http.StatusNotFound, ClassClient},
		{http.StatusRequestTimeout, ClassServer},
		{http.StatusTooManyRequests, ClassServer},
		{http.StatusInternalServerError, ClassServer},
		{http.StatusBadGateway, ClassServer},
		{http.StatusServiceUnavailable, ClassServer},
		{http.StatusGatewayTimeout, ClassServer},
		{599, ClassServer},
		{http.StatusOK, ClassUnknown},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, ClassifyStatus(tc.code), "status %d", tc.code)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Class
	}{
		{"conflict saying already is already done", &fakeStatusErr{code: http.StatusConflict, detail: "already applied (already_done)"}, ClassAlreadyDone},
		{"plain conflict is a client error", &fakeStatusErr{code: http.StatusConflict, detail: "post was edited by someone else (version_mismatch)"}, ClassClient},
		{"already liked message", &fakeStatusErr{code: http.StatusBadRequest, detail: "Post Already Liked"}, ClassAlreadyDone},
		{"server already message stays server", &fakeStatusErr{code: http.StatusInternalServerError, detail: "already broken"}, ClassServer},
		{"plain bad request", &fakeStatusErr{code: http.StatusBadRequest, detail: "title is required"}, ClassClient},
		{"wrapped unavailable", fmt.Errorf("call: %w", &fakeStatusErr{code: http.StatusServiceUnavailable}), ClassServer},
		{"timeout sentinel", fmt.Errorf("x: %w", ErrTimeout), ClassTransport},
		{"deadline", context.DeadlineExceeded, ClassTransport},
		{"net error", fmt.Errorf("dial: %w", fakeNetErr{}), ClassTransport},
		{"already done sentinel", ErrAlreadyDone, ClassAlreadyDone},
		{"op error keeps class", &OpError{Class: ClassClient, Err: ErrTimeout}, ClassClient},
		{"plain error", errors.New("decode failed"), ClassUnknown},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.err))
		})
	}
}

func TestOpErrorMessage(t *testing.T) {
	err := &OpError{
		Class:     ClassServer,
		Status:    503,
		Message:   "maintenance",
		Attempts:  3,
		Exhausted: true,
		Err:       &fakeStatusErr{code: 503, detail: "maintenance"},
	}
	assert.Equal(t, "server error (status 503) after 3 attempts: maintenance", err.Error())
	assert.Equal(t, 503, StatusOf(err))
	assert.Equal(t, "maintenance", HumanMessage(err))
}

func TestPhaseTerminal(t *testing.T) {
	assert.False(t, PhaseIdle.Terminal())
	assert.False(t, PhaseInitializing.Terminal())
	assert.False(t, PhaseStreaming.Terminal())
	assert.True(t, PhaseComplete.Terminal())
	assert.True(t, PhaseError.Terminal())
}
