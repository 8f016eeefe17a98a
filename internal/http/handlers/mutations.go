package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"genpipe/internal/domain"
	"genpipe/internal/resilient"
	"genpipe/internal/transport"
)

type mutationRequest struct {
	Operation      string          `json:"operation"`
	Method         string          `json:"method"`
	Path           string          `json:"path"`
	Body           json.RawMessage `json:"body"`
	IdempotencyKey string          `json:"idempotency_key"`
}

type mutationResponse struct {
	Status         resilient.State `json:"status"`
	Attempt        int             `json:"attempt"`
	AlreadyDone    bool            `json:"already_done,omitempty"`
	Result         json.RawMessage `json:"result,omitempty"`
	Error          string          `json:"error,omitempty"`
	Message        string          `json:"message"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
}

var mutationMethods = map[string]struct{}{
	http.MethodPost:   {},
	http.MethodPut:    {},
	http.MethodPatch:  {},
	http.MethodDelete: {},
}

// Mutate forwards one state-changing call upstream through the executor.
// On failure the response carries the idempotency key so a manual retry of
// the same intent can reuse it.
func (a *App) Mutate(w http.ResponseWriter, r *http.Request) {
	var req mutationRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	req.Operation = strings.ToLower(strings.TrimSpace(req.Operation))
	if req.Operation == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "operation required")
		return
	}
	req.Method = strings.ToUpper(strings.TrimSpace(req.Method))
	if req.Method == "" {
		req.Method = http.MethodPost
	}
	if _, ok := mutationMethods[req.Method]; !ok {
		a.error(w, http.StatusBadRequest, "bad_request", "unsupported method")
		return
	}
	if !strings.HasPrefix(req.Path, "/") || strings.Contains(req.Path, "://") {
		a.error(w, http.StatusBadRequest, "bad_request", "path must be an upstream-relative path")
		return
	}
	if a.Upstream == nil {
		a.error(w, http.StatusServiceUnavailable, "unavailable", "upstream not configured")
		return
	}

	opts := a.Policies.Options(req.Operation)
	opts.Logger = &a.Logger
	opts.Metrics = a.Metrics
	action := resilient.NewActionWithKey(req.Operation, strings.TrimSpace(req.IdempotencyKey))

	out, err := resilient.Execute(r.Context(), action, func(ctx context.Context, at resilient.Attempt) (json.RawMessage, error) {
		var raw json.RawMessage
		err := a.Upstream.Do(ctx, transport.Request{
			Method:         req.Method,
			Path:           req.Path,
			Body:           req.Body,
			IdempotencyKey: at.IdempotencyKey,
		}, &raw)
		return raw, err
	}, opts)

	p := a.printer(r)
	status := action.Status()
	if err != nil {
		a.json(w, mutationFailureStatus(err), mutationResponse{
			Status:         resilient.StateFailed,
			Attempt:        status.Attempt,
			Error:          err.Error(),
			Message:        p.Status(status),
			IdempotencyKey: action.Key(),
		})
		return
	}
	a.json(w, http.StatusOK, mutationResponse{
		Status:         resilient.StateSucceeded,
		Attempt:        out.Attempts,
		AlreadyDone:    out.AlreadyDone,
		Result:         out.Value,
		Message:        p.Status(status),
		IdempotencyKey: out.IdempotencyKey,
	})
}

func mutationFailureStatus(err error) int {
	switch {
	case errors.Is(err, context.Canceled):
		return http.StatusRequestTimeout
	case errors.Is(err, domain.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	if domain.Classify(err) == domain.ClassClient {
		if s := domain.StatusOf(err); s >= 400 && s < 500 {
			return s
		}
		return http.StatusUnprocessableEntity
	}
	return http.StatusBadGateway
}
