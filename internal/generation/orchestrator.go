// Package generation runs long-lived streamed generation jobs, at most one
// in flight per job key, and exposes their progress as snapshots.
package generation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"genpipe/internal/domain"
	"genpipe/internal/infra"
	"genpipe/internal/metrics"
	"genpipe/internal/stream"
	"genpipe/internal/transport"
)

// Variant selects the upstream flavour of a generation request.
type Variant string

const (
	VariantPlain    Variant = "plain"
	VariantEnriched Variant = "enriched"
)

// ParseVariant maps user input onto a Variant; empty means plain.
func ParseVariant(s string) (Variant, error) {
	switch v := Variant(strings.ToLower(strings.TrimSpace(s))); v {
	case "", VariantPlain:
		return VariantPlain, nil
	case VariantEnriched:
		return v, nil
	default:
		return "", fmt.Errorf("unknown variant %q", s)
	}
}

// Request starts one generation job.
type Request struct {
	Key         string
	Variant     Variant
	Payload     json.RawMessage
	Attachments []transport.Attachment
}

// Opener issues the upstream request and returns the incrementally
// delivered body.
type Opener interface {
	Open(ctx context.Context, req Request) (io.ReadCloser, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context, req Request) (io.ReadCloser, error)

func (f OpenerFunc) Open(ctx context.Context, req Request) (io.ReadCloser, error) {
	return f(ctx, req)
}

// ErrClosed is returned by Start after Close.
var ErrClosed = errors.New("generation: orchestrator closed")

const (
	msgStarting     = "starting generation"
	msgComplete     = "generation complete"
	msgFailed       = "generation failed"
	msgCanceled     = "generation canceled"
	msgAbandoned    = "generation abandoned: no activity"
	msgEndedEarly   = "stream ended before completion"
	msgShuttingDown = "generation stopped: service shutting down"
)

// Options configures an Orchestrator.
type Options struct {
	Logger  *infra.Logger
	Metrics *metrics.Collector
	// IdleTimeout cancels non-terminal jobs that saw no event for this long.
	IdleTimeout time.Duration
	// Retention evicts terminal jobs this long after their last update.
	Retention     time.Duration
	SweepInterval time.Duration
	StreamPrefix  string
	Now           func() time.Time
}

type entry struct {
	job          domain.Job
	cancel       context.CancelFunc
	done         chan struct{}
	finished     bool
	lastActivity time.Time
	watchers     map[int]chan domain.Job
}

// Orchestrator owns every job's state. Callers only ever see copies.
type Orchestrator struct {
	opener Opener
	opts   Options
	log    *infra.Logger

	base context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	mu        sync.Mutex
	jobs      map[string]*entry
	nextWatch int
	closed    bool
}

var tracer = otel.Tracer("genpipe/generation")

// New returns an orchestrator that opens streams through opener.
func New(opener Opener, opts Options) *Orchestrator {
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	base, stop := context.WithCancel(context.Background())
	return &Orchestrator{
		opener: opener,
		opts:   opts,
		log:    infra.LoggerOrNop(opts.Logger),
		base:   base,
		stop:   stop,
		jobs:   make(map[string]*entry),
	}
}

// Start begins a job for req.Key unless one is already in flight, in which
// case the existing snapshot is returned with started false and no request is
// issued. The job runs detached from ctx; only Cancel, the janitor or Close
// stop it. onEvent, if set, sees every applied event in order. The job turns
// terminal before onEvent sees the terminal event, so a new job for the same
// key may start while that last callback is still running.
func (o *Orchestrator) Start(ctx context.Context, req Request, onEvent func(stream.Event)) (domain.Job, bool, error) {
	key := strings.TrimSpace(req.Key)
	if key == "" {
		return domain.Job{}, false, domain.ErrInvalidJobKey
	}
	req.Key = key
	if req.Variant == "" {
		req.Variant = VariantPlain
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return domain.Job{}, false, ErrClosed
	}
	if e, ok := o.jobs[key]; ok && !e.job.Phase.Terminal() {
		snap := e.job.Clone()
		o.mu.Unlock()
		o.log.Debug().Str("job_key", key).Msg("generation: already in flight")
		return snap, false, nil
	}
	now := o.opts.Now()
	jobCtx, cancel := context.WithCancel(o.base)
	e := &entry{
		job: domain.Job{
			Key:       key,
			Phase:     domain.PhaseInitializing,
			Message:   msgStarting,
			StartedAt: now,
			UpdatedAt: now,
		},
		cancel:       cancel,
		done:         make(chan struct{}),
		lastActivity: now,
		watchers:     make(map[int]chan domain.Job),
	}
	o.jobs[key] = e
	snap := e.job.Clone()
	o.wg.Add(1)
	o.mu.Unlock()

	o.opts.Metrics.JobStarted()
	o.log.Info().Str("job_key", key).Str("variant", string(req.Variant)).Msg("generation: started")

	link := trace.LinkFromContext(ctx)
	go o.run(jobCtx, e, req, onEvent, link)
	return snap, true, nil
}

func (o *Orchestrator) run(ctx context.Context, e *entry, req Request, onEvent func(stream.Event), link trace.Link) {
	defer o.wg.Done()
	defer e.cancel()

	ctx, span := tracer.Start(ctx, "generation.job",
		trace.WithLinks(link),
		trace.WithAttributes(
			attribute.String("job_key", req.Key),
			attribute.String("variant", string(req.Variant)),
		))
	defer span.End()
	log := o.log.With().Str("job_key", req.Key).Logger()

	body, err := o.opener.Open(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "open failed")
		o.fail(e, "could not start generation: "+domain.HumanMessage(err))
		log.Warn().Err(err).Msg("generation: open failed")
		return
	}
	defer body.Close()
	// Some readers only unblock when closed.
	stopClose := context.AfterFunc(ctx, func() { _ = body.Close() })
	defer stopClose()

	opts := []stream.Option{stream.WithMalformedHandler(func(line string, err error) {
		o.opts.Metrics.FrameDropped()
		log.Warn().Err(err).Str("line", truncate(line, 200)).Msg("generation: dropped malformed frame")
	})}
	if o.opts.StreamPrefix != "" {
		opts = append(opts, stream.WithPrefix(o.opts.StreamPrefix))
	}
	dec := stream.NewDecoder(body, opts...)

	for {
		ev, err := dec.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				o.fail(e, msgEndedEarly)
			} else if ctx.Err() == nil {
				span.RecordError(err)
				o.fail(e, "stream interrupted: "+err.Error())
			}
			return
		}
		if !o.apply(e, ev) {
			return
		}
		if onEvent != nil {
			onEvent(ev)
		}
		if ev.Terminal() {
			o.mu.Lock()
			o.finishLocked(e)
			final := e.job.Clone()
			o.mu.Unlock()
			if final.Phase == domain.PhaseError {
				span.SetStatus(codes.Error, final.Error)
			}
			log.Info().Str("phase", string(final.Phase)).Str("result_url", final.ResultURL).Msg("generation: finished")
			return
		}
	}
}

// apply folds ev into the job. It reports false when the job no longer
// accepts events, e.g. after cancellation.
func (o *Orchestrator) apply(e *entry, ev stream.Event) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if e.job.Phase.Terminal() {
		return false
	}
	now := o.opts.Now()
	j := &e.job
	switch ev.Type {
	case stream.EventProgress:
		j.Phase = domain.PhaseStreaming
		if ev.Percentage > j.Progress {
			j.Progress = ev.Percentage
		}
		if ev.Phase != "" {
			j.Stage = ev.Phase
		}
		if ev.Message != "" {
			j.Message = ev.Message
		}
	case stream.EventResult:
		j.Phase = domain.PhaseComplete
		j.Progress = 100
		j.ResultURL = ev.ResultURL
		if len(ev.Payload) > 0 {
			j.Payload = append(json.RawMessage(nil), ev.Payload...)
		}
		j.Message = firstNonEmpty(ev.Message, msgComplete)
	case stream.EventComplete:
		j.Phase = domain.PhaseComplete
		j.Progress = 100
		j.Message = firstNonEmpty(ev.Message, msgComplete)
	case stream.EventError:
		j.Phase = domain.PhaseError
		j.Error = firstNonEmpty(ev.Error, ev.Message, msgFailed)
		j.Message = j.Error
	}
	j.UpdatedAt = now
	e.lastActivity = now
	o.publishLocked(e)
	return true
}

// fail moves a non-terminal job to error and finishes it.
func (o *Orchestrator) fail(e *entry, reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.terminateLocked(e, reason)
}

func (o *Orchestrator) terminateLocked(e *entry, reason string) bool {
	if e.job.Phase.Terminal() {
		return false
	}
	now := o.opts.Now()
	e.job.Phase = domain.PhaseError
	e.job.Error = reason
	e.job.Message = reason
	e.job.UpdatedAt = now
	e.lastActivity = now
	o.publishLocked(e)
	o.finishLocked(e)
	return true
}

func (o *Orchestrator) publishLocked(e *entry) {
	snap := e.job.Clone()
	for _, ch := range e.watchers {
		offer(ch, snap)
	}
}

func (o *Orchestrator) finishLocked(e *entry) {
	if e.finished {
		return
	}
	e.finished = true
	for id, ch := range e.watchers {
		close(ch)
		delete(e.watchers, id)
	}
	close(e.done)
	o.opts.Metrics.JobFinished(string(e.job.Phase))
}

// offer replaces any unread snapshot so slow watchers see the latest state.
func offer(ch chan domain.Job, j domain.Job) {
	select {
	case ch <- j:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- j:
	default:
	}
}

// Get returns a snapshot of key's job. Unknown keys report an idle job and
// false.
func (o *Orchestrator) Get(key string) (domain.Job, bool) {
	key = strings.TrimSpace(key)
	o.mu.Lock()
	defer o.mu.Unlock()
	if e, ok := o.jobs[key]; ok {
		return e.job.Clone(), true
	}
	return domain.Job{Key: key, Phase: domain.PhaseIdle}, false
}

// List returns snapshots of all tracked jobs ordered by key.
func (o *Orchestrator) List() []domain.Job {
	o.mu.Lock()
	out := make([]domain.Job, 0, len(o.jobs))
	for _, e := range o.jobs {
		out = append(out, e.job.Clone())
	}
	o.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Wait blocks until key's job is terminal or ctx ends.
func (o *Orchestrator) Wait(ctx context.Context, key string) (domain.Job, error) {
	key = strings.TrimSpace(key)
	o.mu.Lock()
	e, ok := o.jobs[key]
	o.mu.Unlock()
	if !ok {
		return domain.Job{}, domain.ErrJobNotFound
	}
	select {
	case <-e.done:
	case <-ctx.Done():
		return o.snapshot(e), ctx.Err()
	}
	return o.snapshot(e), nil
}

func (o *Orchestrator) snapshot(e *entry) domain.Job {
	o.mu.Lock()
	defer o.mu.Unlock()
	return e.job.Clone()
}

// Watch subscribes to key's snapshots. The channel holds at most the latest
// unread snapshot, starts with the current one, and is closed after the
// terminal snapshot. The returned func unsubscribes.
func (o *Orchestrator) Watch(key string) (<-chan domain.Job, func(), error) {
	key = strings.TrimSpace(key)
	ch := make(chan domain.Job, 1)

	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.jobs[key]
	if !ok {
		return nil, func() {}, domain.ErrJobNotFound
	}
	ch <- e.job.Clone()
	if e.finished {
		close(ch)
		return ch, func() {}, nil
	}
	id := o.nextWatch
	o.nextWatch++
	e.watchers[id] = ch
	unsubscribe := func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		if w, ok := e.watchers[id]; ok {
			delete(e.watchers, id)
			close(w)
		}
	}
	return ch, unsubscribe, nil
}

// Cancel aborts key's in-flight job; it becomes error with a canceled
// message and is not mutated afterwards. Canceling a terminal job is a no-op.
func (o *Orchestrator) Cancel(key string) error {
	key = strings.TrimSpace(key)
	o.mu.Lock()
	e, ok := o.jobs[key]
	if !ok {
		o.mu.Unlock()
		return domain.ErrJobNotFound
	}
	changed := o.terminateLocked(e, msgCanceled)
	o.mu.Unlock()
	if changed {
		e.cancel()
		o.log.Info().Str("job_key", key).Msg("generation: canceled")
	}
	return nil
}

// Reset forgets a terminal job so the key reads as idle again.
func (o *Orchestrator) Reset(key string) error {
	key = strings.TrimSpace(key)
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.jobs[key]
	if !ok {
		return nil
	}
	if !e.job.Phase.Terminal() {
		return domain.ErrJobInFlight
	}
	o.finishLocked(e)
	delete(o.jobs, key)
	return nil
}

// Run sweeps idle and expired jobs every SweepInterval until ctx ends.
func (o *Orchestrator) Run(ctx context.Context) error {
	ticker := time.NewTicker(o.opts.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			o.sweep(o.opts.Now())
		}
	}
}

// sweep abandons stalled jobs and evicts expired terminal ones.
func (o *Orchestrator) sweep(now time.Time) (abandoned, evicted int) {
	var cancels []context.CancelFunc
	o.mu.Lock()
	for key, e := range o.jobs {
		if !e.job.Phase.Terminal() {
			if o.opts.IdleTimeout > 0 && now.Sub(e.lastActivity) >= o.opts.IdleTimeout {
				o.terminateLocked(e, msgAbandoned)
				cancels = append(cancels, e.cancel)
				abandoned++
				o.log.Warn().Str("job_key", key).Msg("generation: abandoned after inactivity")
			}
			continue
		}
		if o.opts.Retention > 0 && e.finished && now.Sub(e.job.UpdatedAt) >= o.opts.Retention {
			delete(o.jobs, key)
			evicted++
		}
	}
	o.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
	return abandoned, evicted
}

// Close stops every in-flight job and waits for their goroutines.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	for _, e := range o.jobs {
		o.terminateLocked(e, msgShuttingDown)
	}
	o.mu.Unlock()
	o.stop()
	o.wg.Wait()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
