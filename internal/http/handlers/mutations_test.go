package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"genpipe/internal/domain"
	"genpipe/internal/middleware"
)

func postMutation(app *App, body, locale string) (*httptest.ResponseRecorder, mutationResponse) {
	req := httptest.NewRequest(http.MethodPost, "/v1/mutations", strings.NewReader(body))
	if locale != "" {
		req = req.WithContext(middleware.ContextWithLocale(req.Context(), locale))
	}
	rec := httptest.NewRecorder()
	app.Mutate(rec, req)
	var resp mutationResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	return rec, resp
}

func TestMutateRetriesWithSameKey(t *testing.T) {
	up := newFakeUpstream(t)
	app := newTestApp(t, up, nil)

	rec, resp := postMutation(app, `{"operation":"comment","path":"/posts/7/like"}`, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d; body=%s", rec.Code, rec.Body.String())
	}
	if resp.Status != "succeeded" || resp.Attempt != 2 || resp.AlreadyDone {
		t.Fatalf("response = %+v", resp)
	}
	if string(resp.Result) != `{"liked":true}` {
		t.Fatalf("result = %s", resp.Result)
	}
	keys := up.keysFor("7")
	if len(keys) != 2 || keys[0] == "" || keys[0] != keys[1] || keys[0] != resp.IdempotencyKey {
		t.Fatalf("idempotency keys = %v, response key %q", keys, resp.IdempotencyKey)
	}
}

func TestMutateAlreadyDoneIsSuccess(t *testing.T) {
	up := newFakeUpstream(t)
	app := newTestApp(t, up, nil)

	rec, resp := postMutation(app, `{"operation":"comment","path":"/posts/8/like","idempotency_key":"k-123"}`, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d; body=%s", rec.Code, rec.Body.String())
	}
	if !resp.AlreadyDone || resp.Attempt != 1 {
		t.Fatalf("response = %+v", resp)
	}
	if keys := up.keysFor("8"); len(keys) != 1 || keys[0] != "k-123" {
		t.Fatalf("supplied key not forwarded: %v", keys)
	}
}

func TestMutateClientErrorNotRetried(t *testing.T) {
	up := newFakeUpstream(t)
	app := newTestApp(t, up, nil)

	rec, resp := postMutation(app, `{"operation":"comment","method":"put","path":"/posts/9/like"}`, "id")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d; body=%s", rec.Code, rec.Body.String())
	}
	if resp.Status != "failed" || resp.Attempt != 1 {
		t.Fatalf("response = %+v", resp)
	}
	if len(up.keysFor("9")) != 1 {
		t.Fatalf("client error retried: %v", up.keysFor("9"))
	}
	if resp.IdempotencyKey == "" {
		t.Fatal("failed mutation should return its idempotency key")
	}
	if !strings.Contains(resp.Message, "post is archived") {
		t.Fatalf("message = %q", resp.Message)
	}
	if !strings.HasPrefix(resp.Message, "Dihentikan") {
		t.Fatalf("message not localized: %q", resp.Message)
	}
}

func TestMutateValidation(t *testing.T) {
	up := newFakeUpstream(t)
	app := newTestApp(t, up, nil)

	for _, body := range []string{
		`not json`,
		`{"path":"/posts/1/like"}`,
		`{"operation":"like","method":"GET","path":"/posts/1/like"}`,
		`{"operation":"like","path":"posts/1/like"}`,
		`{"operation":"like","path":"/https://evil.test/x"}`,
	} {
		rec, _ := postMutation(app, body, "")
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("body %s: status = %d, want 400", body, rec.Code)
		}
	}
}

func TestMutationFailureStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{context.Canceled, http.StatusRequestTimeout},
		{&domain.OpError{Class: domain.ClassTransport, Err: domain.ErrTimeout}, http.StatusGatewayTimeout},
		{&domain.OpError{Class: domain.ClassClient, Status: 404, Err: errors.New("gone")}, http.StatusNotFound},
		{&domain.OpError{Class: domain.ClassClient, Err: errors.New("bad")}, http.StatusUnprocessableEntity},
		{&domain.OpError{Class: domain.ClassServer, Status: 503, Exhausted: true, Err: errors.New("down")}, http.StatusBadGateway},
	}
	for _, tc := range tests {
		t.Run(fmt.Sprint(tc.want), func(t *testing.T) {
			if got := mutationFailureStatus(tc.err); got != tc.want {
				t.Fatalf("mutationFailureStatus(%v) = %d, want %d", tc.err, got, tc.want)
			}
		})
	}
}
