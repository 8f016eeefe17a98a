package generation

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"genpipe/internal/domain"
	"genpipe/internal/infra/credentials"
	"genpipe/internal/transport"
)

func TestHTTPOpenerEnrichedEndToEnd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/projects/42/generate-with-credentials", r.URL.Path)
		var body map[string]json.RawMessage
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.JSONEq(t, `{"gemini":"sk-gem"}`, string(body["credentials"]))
		assert.JSONEq(t, `"poster"`, string(body["kind"]))

		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, frame := range []string{
			`data: {"type":"progress","percentage":10,"message":"Starting"}`,
			`data: {"type":"progress","percentage":60}`,
			`data: {"type":"result","resultUrl":"https://x/42"}`,
		} {
			_, _ = io.WriteString(w, frame+"\n\n")
			flusher.Flush()
		}
	}))
	defer srv.Close()

	client, err := transport.NewClient(transport.Options{BaseURL: srv.URL})
	require.NoError(t, err)
	store := credentials.NewStore()
	require.NoError(t, store.Set("gemini", "sk-gem"))

	o := New(&HTTPOpener{
		Client:       client,
		Path:         "/v1/projects/{key}/generate",
		EnrichedPath: "/v1/projects/{key}/generate-with-credentials",
		Credentials:  store,
	}, Options{})
	defer o.Close()

	_, started, err := o.Start(context.Background(), Request{
		Key:     "42",
		Variant: VariantEnriched,
		Payload: json.RawMessage(`{"kind":"poster"}`),
	}, nil)
	require.NoError(t, err)
	require.True(t, started)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	job, err := o.Wait(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseComplete, job.Phase)
	assert.Equal(t, 100.0, job.Progress)
	assert.Equal(t, "https://x/42", job.ResultURL)
}

func TestHTTPOpenerRejectsNonStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/gen/a%20b", r.URL.EscapedPath())
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{}`)
	}))
	defer srv.Close()

	client, err := transport.NewClient(transport.Options{BaseURL: srv.URL})
	require.NoError(t, err)
	opener := &HTTPOpener{Client: client, Path: "/gen/{key}"}
	_, err = opener.Open(context.Background(), Request{Key: "a b"})
	assert.ErrorIs(t, err, domain.ErrStreamInit)
}

func TestWithCredentials(t *testing.T) {
	out, err := withCredentials(nil, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"credentials":{}}`, string(out))

	_, err = withCredentials(json.RawMessage(`[1]`), nil)
	assert.Error(t, err)
}
