package session

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"codexgate/archive"
)

// DefaultTimeout applies when a request carries no timeout of its own.
const DefaultTimeout = 30 * time.Second

// Runner spawns and supervises app server executions. A single Runner is
// shared across requests; each call to Run gets its own session and child
// process, fully independent of any other.
type Runner struct {
	log     *zap.SugaredLogger
	binPath string
	store   archive.Store
}

type RunnerOption func(r *Runner)

// WithRunnerLogger replaces the runner's logger.
func WithRunnerLogger(l *zap.Logger) RunnerOption {
	return func(r *Runner) {
		r.log = l.Named("session_runner").Sugar()
	}
}

// WithBinaryPath pins the app server binary path instead of locating it
// per execution.
func WithBinaryPath(path string) RunnerOption {
	return func(r *Runner) {
		r.binPath = path
	}
}

// WithArchiveStore sets the archival destination for finished execution
// records. The default is archive.NopStore.
func WithArchiveStore(s archive.Store) RunnerOption {
	return func(r *Runner) {
		r.store = s
	}
}

// NewRunner constructs a Runner.
func NewRunner(opts ...RunnerOption) (*Runner, error) {
	logger, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}
	r := &Runner{
		log:   logger.Named("session_runner").Sugar(),
		store: archive.NopStore{},
	}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

// Run starts one execution and returns its event channel. The channel is
// finite: it carries exactly one task_started event first, then the
// session's intermediate events, then exactly one terminal event, and is
// closed. Cancelling ctx (e.g. the caller disconnecting) kills the child
// and ends the session without a terminal event, since nobody is listening.
func (r *Runner) Run(ctx context.Context, req Request) <-chan Event {
	timeout := DefaultTimeout
	if req.TimeoutMS > 0 {
		timeout = time.Duration(req.TimeoutMS) * time.Millisecond
	}
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	binPath := r.binPath
	if binPath == "" {
		binPath = Locate()
	}

	s := &session{
		log:     r.log.Named("session").With("session_id", sessionID),
		id:      sessionID,
		prompt:  req.Prompt,
		timeout: timeout,
		binPath: binPath,
		store:   r.store,
	}

	events := make(chan Event, 16)
	go s.supervise(ctx, events)
	return events
}
