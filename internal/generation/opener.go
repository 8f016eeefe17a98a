package generation

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"genpipe/internal/infra/credentials"
	"genpipe/internal/transport"
)

// HTTPOpener posts generation requests to the upstream and returns the
// streamed response. Paths contain a {key} placeholder.
type HTTPOpener struct {
	Client       *transport.Client
	Path         string
	EnrichedPath string
	// Credentials are merged into enriched payloads under "credentials".
	Credentials *credentials.Store
}

func (h *HTTPOpener) Open(ctx context.Context, req Request) (io.ReadCloser, error) {
	path := h.Path
	body := req.Payload
	if req.Variant == VariantEnriched {
		path = h.EnrichedPath
		var err error
		if body, err = withCredentials(body, h.Credentials); err != nil {
			return nil, err
		}
	}
	path = strings.ReplaceAll(path, "{key}", url.PathEscape(req.Key))
	return h.Client.OpenStream(ctx, transport.Request{
		Method:      http.MethodPost,
		Path:        path,
		Body:        body,
		Attachments: req.Attachments,
	})
}

func withCredentials(payload json.RawMessage, store *credentials.Store) (json.RawMessage, error) {
	fields := map[string]json.RawMessage{}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &fields); err != nil {
			return nil, fmt.Errorf("generation: enriched payload must be a JSON object: %w", err)
		}
		if fields == nil {
			fields = map[string]json.RawMessage{}
		}
	}
	creds := map[string]string{}
	if store != nil {
		creds = store.Snapshot()
	}
	raw, err := json.Marshal(creds)
	if err != nil {
		return nil, fmt.Errorf("generation: encode credentials: %w", err)
	}
	fields["credentials"] = raw
	return json.Marshal(fields)
}
