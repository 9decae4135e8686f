// internal/kernel/kernel.go
package kernel

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/signalnine/leafdoc/internal/protocol"
	"github.com/signalnine/leafdoc/internal/reasoning"
	"github.com/signalnine/leafdoc/internal/sandbox"
	"github.com/signalnine/leafdoc/internal/store"
)

// SessionStore is the durable session state the kernel drives
type SessionStore interface {
	Create(ctx context.Context, plantID, problem string) (*protocol.Session, error)
	Get(ctx context.Context, id string) (*protocol.Session, error)
	AppendTurn(ctx context.Context, id string, role protocol.Role, text string, next protocol.Status) (protocol.Turn, error)
	AppendHypothesis(ctx context.Context, id, key, value string) (protocol.Hypothesis, error)
	AppendVitals(ctx context.Context, id string, vitals protocol.PlantVitals, reason string) (protocol.VitalsSnapshot, error)
	SetFinding(ctx context.Context, id, finding, recommendation string) error
	MarkFailed(ctx context.Context, id string, failure protocol.Failure) error
	ListForPlant(ctx context.Context, plantID string) ([]protocol.SessionSummary, error)
	Acquire(ctx context.Context, id, owner string, ttl time.Duration) error
	Release(ctx context.Context, id, owner string) error
}

// PlantRecords reads plant vitals. Unknown plants yield store.ErrNotFound.
type PlantRecords interface {
	Vitals(ctx context.Context, plantID string) (protocol.PlantVitals, error)
}

// Executor runs one generated script and returns its single action
type Executor interface {
	Execute(ctx context.Context, source string, in sandbox.Context) (protocol.Action, error)
}

// Option configures a Kernel
type Option func(*Kernel)

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(k *Kernel) { k.logger = l }
}

// WithMaxSelfDirectedTurns bounds consecutive LOG_STATE / GET_PLANT_VITALS turns
func WithMaxSelfDirectedTurns(n int) Option {
	return func(k *Kernel) { k.maxSelfDirected = n }
}

// WithMaxRepairAttempts bounds regeneration after syntax or runtime failures
func WithMaxRepairAttempts(n int) Option {
	return func(k *Kernel) { k.maxRepairs = n }
}

// WithLeaseTTL sets how long an invocation may hold a session
func WithLeaseTTL(d time.Duration) Option {
	return func(k *Kernel) { k.leaseTTL = d }
}

// WithContextPolicy caps the history sent to the reasoning service
func WithContextPolicy(p ContextPolicy) Option {
	return func(k *Kernel) { k.policy = p }
}

// WithTokenCounter sets the counter used by ContextPolicy.MaxTokens
func WithTokenCounter(c TokenCounter) Option {
	return func(k *Kernel) { k.counter = c }
}

// WithTracer overrides the global tracer
func WithTracer(t trace.Tracer) Option {
	return func(k *Kernel) { k.tracer = t }
}

// Kernel drives diagnostic sessions: it asks the reasoning service for
// decision logic, runs it in the sandbox and applies the resulting action.
// It holds no session state between invocations.
type Kernel struct {
	sessions  SessionStore
	plants    PlantRecords
	generator reasoning.Generator
	executor  Executor

	logger          *zap.Logger
	tracer          trace.Tracer
	policy          ContextPolicy
	counter         TokenCounter
	maxSelfDirected int
	maxRepairs      int
	leaseTTL        time.Duration
}

// New creates a Kernel
func New(sessions SessionStore, plants PlantRecords, generator reasoning.Generator, executor Executor, opts ...Option) *Kernel {
	k := &Kernel{
		sessions:        sessions,
		plants:          plants,
		generator:       generator,
		executor:        executor,
		logger:          zap.NewNop(),
		maxSelfDirected: 10,
		maxRepairs:      2,
		leaseTTL:        2 * time.Minute,
	}
	for _, opt := range opts {
		opt(k)
	}
	if k.tracer == nil {
		k.tracer = otel.Tracer("leafdoc/kernel")
	}
	return k
}

// Start opens a diagnosis for plant and problem and runs it until it needs
// the user, concludes or fails. An already open session for the same plant
// and problem is reused; if it is waiting for a reply its question is
// returned without calling the reasoning service.
func (k *Kernel) Start(ctx context.Context, plantID, problem string) (*protocol.SessionView, error) {
	problem = strings.TrimSpace(problem)
	if problem == "" {
		return nil, fmt.Errorf("%w: problem statement", ErrEmptyInput)
	}
	if _, err := k.plants.Vitals(ctx, plantID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrPlantNotFound, plantID)
		}
		return nil, err
	}

	sess, err := k.sessions.Create(ctx, plantID, problem)
	if err != nil {
		return nil, err
	}

	ctx, span := k.tracer.Start(ctx, "kernel.invocation", trace.WithAttributes(
		attribute.String("operation", "start"),
		attribute.String("session_id", sess.ID),
		attribute.String("plant_id", plantID),
	))
	defer span.End()

	ctx, release, err := k.acquire(ctx, sess.ID)
	if err != nil {
		return nil, err
	}
	defer release()

	// Re-read under the lease; another invocation may have moved it on
	sess, err = k.sessions.Get(ctx, sess.ID)
	if err != nil {
		return nil, err
	}
	if sess.Status != protocol.StatusInProgress {
		return sess.View(), nil
	}

	k.logger.Info("diagnosis started",
		zap.String("session_id", sess.ID),
		zap.String("plant_id", plantID))
	return k.run(ctx, sess.ID)
}

// Resume records the user's reply to a pending question and continues the
// diagnosis
func (k *Kernel) Resume(ctx context.Context, sessionID, reply string) (*protocol.SessionView, error) {
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return nil, fmt.Errorf("%w: reply", ErrEmptyInput)
	}

	ctx, span := k.tracer.Start(ctx, "kernel.invocation", trace.WithAttributes(
		attribute.String("operation", "resume"),
		attribute.String("session_id", sessionID),
	))
	defer span.End()

	ctx, release, err := k.acquire(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	sess, err := k.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	switch {
	case sess.Status.Terminal():
		return nil, fmt.Errorf("%w: %s", ErrSessionClosed, sess.Status)
	case sess.Status != protocol.StatusPendingUserInput:
		return nil, ErrNotAwaitingReply
	}

	if _, err := k.sessions.AppendTurn(ctx, sessionID, protocol.RoleUser, reply, protocol.StatusInProgress); err != nil {
		return nil, err
	}
	k.logger.Info("diagnosis resumed", zap.String("session_id", sessionID))
	return k.run(ctx, sessionID)
}

// History lists a plant's sessions, newest first
func (k *Kernel) History(ctx context.Context, plantID string) ([]protocol.SessionSummary, error) {
	return k.sessions.ListForPlant(ctx, plantID)
}

// Session returns a session with its full history
func (k *Kernel) Session(ctx context.Context, sessionID string) (*protocol.Session, error) {
	return k.sessions.Get(ctx, sessionID)
}

// acquire takes the session lease for a fresh owner and returns a context
// whose session mutations are conditional on still holding it
func (k *Kernel) acquire(ctx context.Context, sessionID string) (context.Context, func(), error) {
	owner := uuid.NewString()
	if err := k.sessions.Acquire(ctx, sessionID, owner, k.leaseTTL); err != nil {
		if errors.Is(err, store.ErrSessionBusy) {
			k.logger.Info("session busy", zap.String("session_id", sessionID))
		}
		return nil, nil, err
	}
	return store.WithLease(ctx, owner), func() {
		// Release even when the invocation was cancelled
		if err := k.sessions.Release(context.WithoutCancel(ctx), sessionID, owner); err != nil {
			k.logger.Warn("release session lease", zap.String("session_id", sessionID), zap.Error(err))
		}
	}, nil
}

// renew extends the lease held through ctx before work that may outlast it.
// It fails with store.ErrSessionBusy once another invocation has taken over.
func (k *Kernel) renew(ctx context.Context, sessionID string) error {
	owner, ok := store.LeaseOwner(ctx)
	if !ok {
		return nil
	}
	err := k.sessions.Acquire(ctx, sessionID, owner, k.leaseTTL)
	if errors.Is(err, store.ErrSessionBusy) {
		k.logger.Warn("session lease lost", zap.String("session_id", sessionID))
	}
	return err
}
