package resilient

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// State is the user-facing phase of an action.
type State string

const (
	StateIdle       State = "idle"
	StateAttempting State = "attempting"
	StateRetrying   State = "retrying"
	StateSucceeded  State = "succeeded"
	StateFailed     State = "failed"
)

// Status is a snapshot of an action's progress.
type Status struct {
	State       State
	Attempt     int
	MaxAttempts int
	Delay       time.Duration
	AlreadyDone bool
	Err         error
}

// Attempt identifies one try of an operation.
type Attempt struct {
	Number         int
	IdempotencyKey string
}

// Action is one logical user intent, such as "like post 7". It keeps its
// idempotency key across retries and across re-invocations after a failure,
// and drops it once the action succeeds. Actions are never shared between
// distinct intents.
type Action struct {
	mu     sync.Mutex
	name   string
	key    string
	status Status
}

// NewAction returns an action whose key is generated on first use.
func NewAction(name string) *Action {
	return &Action{name: name, status: Status{State: StateIdle}}
}

// NewActionWithKey returns an action that reuses a caller-supplied key.
func NewActionWithKey(name, key string) *Action {
	return &Action{name: name, key: key, status: Status{State: StateIdle}}
}

func (a *Action) Name() string {
	return a.name
}

// Key returns the current idempotency key, or "" if none is held.
func (a *Action) Key() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.key
}

// Status returns the most recent status.
func (a *Action) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

func (a *Action) ensureKey() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.key == "" {
		a.key = NewIdempotencyKey()
	}
	return a.key
}

func (a *Action) setStatus(s Status) {
	a.mu.Lock()
	a.status = s
	if s.State == StateSucceeded {
		a.key = ""
	}
	a.mu.Unlock()
}

// NewIdempotencyKey returns "<unix-millis>-<8 hex chars>".
func NewIdempotencyKey() string {
	id := uuid.New()
	return fmt.Sprintf("%d-%x", time.Now().UnixMilli(), id[:4])
}
