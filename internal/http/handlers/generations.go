package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"sort"

	"genpipe/internal/domain"
	"genpipe/internal/domain/jsoncfg"
	"genpipe/internal/generation"
	"genpipe/internal/storage"
	"genpipe/internal/stream"
	"genpipe/internal/transport"

	"github.com/go-chi/chi/v5"
)

// requestField is the multipart part that carries the JSON request.
const requestField = "request"

type generationRequest struct {
	Variant string          `json:"variant"`
	Payload json.RawMessage `json:"payload"`
	Design  json.RawMessage `json:"design"`
	// Archive downloads the result into the local store once it arrives.
	Archive bool `json:"archive"`
}

type jobView struct {
	domain.Job
	Display    string `json:"display"`
	ArchiveURL string `json:"archive_url,omitempty"`
}

func (a *App) view(r *http.Request, j domain.Job) jobView {
	v := jobView{Job: j, Display: a.printer(r).Job(j)}
	if a.Store != nil && j.Phase == domain.PhaseComplete {
		if key, err := a.Store.FindResult(j.Key); err == nil {
			v.ArchiveURL = storage.URL(a.storageBaseURL(), key)
		}
	}
	return v
}

func (a *App) GenerationStart(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	req, attachments, err := decodeGenerationRequest(w, r)
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	variant, err := generation.ParseVariant(req.Variant)
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	payload, err := buildPayload(req.Payload, req.Design)
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	var onEvent func(stream.Event)
	if req.Archive && a.Store != nil && a.Upstream != nil {
		onEvent = func(ev stream.Event) {
			if ev.Type == stream.EventResult && ev.ResultURL != "" {
				a.archives.Add(1)
				go a.archive(key, ev.ResultURL)
			}
		}
	}

	job, started, err := a.Orchestrator.Start(r.Context(), generation.Request{
		Key:         key,
		Variant:     variant,
		Payload:     payload,
		Attachments: attachments,
	}, onEvent)
	switch {
	case errors.Is(err, domain.ErrInvalidJobKey):
		a.error(w, http.StatusBadRequest, "bad_request", "job key required")
		return
	case errors.Is(err, generation.ErrClosed):
		a.error(w, http.StatusServiceUnavailable, "unavailable", "service shutting down")
		return
	case err != nil:
		a.Logger.Error().Err(err).Str("job_key", key).Msg("start generation failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to start generation")
		return
	}
	code := http.StatusAccepted
	if !started {
		code = http.StatusOK
	}
	a.json(w, code, map[string]any{"started": started, "job": a.view(r, job)})
}

func (a *App) GenerationList(w http.ResponseWriter, r *http.Request) {
	jobs := a.Orchestrator.List()
	items := make([]jobView, 0, len(jobs))
	for _, j := range jobs {
		items = append(items, a.view(r, j))
	}
	a.json(w, http.StatusOK, map[string]any{"items": items})
}

// GenerationStatus reports a job snapshot. Unknown keys read as idle.
func (a *App) GenerationStatus(w http.ResponseWriter, r *http.Request) {
	job, _ := a.Orchestrator.Get(chi.URLParam(r, "key"))
	a.json(w, http.StatusOK, a.view(r, job))
}

// GenerationEvents streams job snapshots as frames until the job is terminal
// or the client goes away. Intermediate snapshots may be coalesced.
func (a *App) GenerationEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		a.error(w, http.StatusInternalServerError, "internal", "streaming unsupported")
		return
	}
	updates, unsubscribe, err := a.Orchestrator.Watch(chi.URLParam(r, "key"))
	if errors.Is(err, domain.ErrJobNotFound) {
		a.error(w, http.StatusNotFound, "not_found", "job not found")
		return
	}
	if err != nil {
		a.error(w, http.StatusInternalServerError, "internal", "failed to watch job")
		return
	}
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case job, ok := <-updates:
			if !ok {
				return
			}
			ev, ok := jobEvent(job)
			if !ok {
				continue
			}
			if err := stream.Encode(w, ev); err != nil {
				a.Logger.Debug().Err(err).Str("job_key", job.Key).Msg("event stream closed")
				return
			}
			flusher.Flush()
		}
	}
}

func (a *App) GenerationCancel(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if err := a.Orchestrator.Cancel(key); err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		a.error(w, http.StatusInternalServerError, "internal", "failed to cancel job")
		return
	}
	job, _ := a.Orchestrator.Get(key)
	a.json(w, http.StatusOK, a.view(r, job))
}

func (a *App) GenerationReset(w http.ResponseWriter, r *http.Request) {
	if err := a.Orchestrator.Reset(chi.URLParam(r, "key")); err != nil {
		if errors.Is(err, domain.ErrJobInFlight) {
			a.error(w, http.StatusConflict, "in_flight", "job is still running")
			return
		}
		a.error(w, http.StatusInternalServerError, "internal", "failed to reset job")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// WaitArchives blocks until pending result downloads finish or ctx ends.
func (a *App) WaitArchives(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		a.archives.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *App) archive(jobKey, resultURL string) {
	defer a.archives.Done()
	ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
	defer cancel()
	data, contentType, err := a.Upstream.Download(ctx, resultURL)
	if err != nil {
		a.Logger.Warn().Err(err).Str("job_key", jobKey).Msg("download result failed")
		return
	}
	key, err := a.Store.SaveResult(ctx, jobKey, data, contentType)
	if err != nil {
		a.Logger.Error().Err(err).Str("job_key", jobKey).Msg("archive result failed")
		return
	}
	a.Logger.Info().Str("job_key", jobKey).Str("storage_key", key).Int("bytes", len(data)).Msg("result archived")
}

// jobEvent renders a snapshot in the upstream frame vocabulary.
func jobEvent(j domain.Job) (stream.Event, bool) {
	switch j.Phase {
	case domain.PhaseInitializing, domain.PhaseStreaming:
		return stream.Event{
			Type:       stream.EventProgress,
			Phase:      firstNonEmpty(j.Stage, string(j.Phase)),
			Percentage: j.Progress,
			Message:    j.Message,
		}, true
	case domain.PhaseComplete:
		if j.ResultURL != "" || len(j.Payload) > 0 {
			return stream.Event{Type: stream.EventResult, ResultURL: j.ResultURL, Payload: j.Payload, Message: j.Message}, true
		}
		return stream.Event{Type: stream.EventComplete, Message: j.Message}, true
	case domain.PhaseError:
		return stream.Event{Type: stream.EventError, Error: j.Error, Message: j.Message}, true
	default:
		return stream.Event{}, false
	}
}

func decodeGenerationRequest(w http.ResponseWriter, r *http.Request) (generationRequest, []transport.Attachment, error) {
	var req generationRequest
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			return req, nil, errors.New("invalid payload")
		}
		return req, nil, nil
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxMultipartBody)
	if err := r.ParseMultipartForm(maxMultipartBody); err != nil {
		return req, nil, errors.New("invalid multipart body")
	}
	if raw := r.FormValue(requestField); raw != "" {
		if err := json.Unmarshal([]byte(raw), &req); err != nil {
			return req, nil, fmt.Errorf("invalid %s field", requestField)
		}
	}
	var attachments []transport.Attachment
	for field, headers := range r.MultipartForm.File {
		for _, fh := range headers {
			f, err := fh.Open()
			if err != nil {
				return req, nil, fmt.Errorf("read attachment %s: %w", fh.Filename, err)
			}
			data, err := io.ReadAll(f)
			f.Close()
			if err != nil {
				return req, nil, fmt.Errorf("read attachment %s: %w", fh.Filename, err)
			}
			attachments = append(attachments, transport.Attachment{
				Field:       field,
				Filename:    fh.Filename,
				ContentType: fh.Header.Get("Content-Type"),
				Data:        data,
			})
		}
	}
	sort.Slice(attachments, func(i, j int) bool {
		if attachments[i].Field != attachments[j].Field {
			return attachments[i].Field < attachments[j].Field
		}
		return attachments[i].Filename < attachments[j].Filename
	})
	return req, attachments, nil
}

// buildPayload folds the design choices record into the upstream payload
// under "design".
func buildPayload(payload, design json.RawMessage) (json.RawMessage, error) {
	payload = bytes.TrimSpace(payload)
	design = bytes.TrimSpace(design)
	if len(design) == 0 || bytes.Equal(design, []byte("null")) {
		if len(payload) == 0 || bytes.Equal(payload, []byte("null")) {
			return nil, nil
		}
		return payload, nil
	}
	choices, err := jsoncfg.ParseDesignChoices(design)
	if err != nil {
		return nil, fmt.Errorf("invalid design: %w", err)
	}
	fields := map[string]json.RawMessage{}
	if len(payload) > 0 && !bytes.Equal(payload, []byte("null")) {
		if err := json.Unmarshal(payload, &fields); err != nil {
			return nil, errors.New("payload must be a JSON object when design is set")
		}
	}
	raw, err := json.Marshal(choices)
	if err != nil {
		return nil, fmt.Errorf("encode design: %w", err)
	}
	fields["design"] = raw
	return json.Marshal(fields)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
