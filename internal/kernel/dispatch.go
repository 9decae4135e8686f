// internal/kernel/dispatch.go
package kernel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/signalnine/leafdoc/internal/protocol"
	"github.com/signalnine/leafdoc/internal/reasoning"
	"github.com/signalnine/leafdoc/internal/sandbox"
	"github.com/signalnine/leafdoc/internal/store"
)

// run drives an in-progress session until it asks the user, concludes or
// fails. All state is re-read from the store each turn, and the session
// lease is renewed before every reasoning call and every write.
// Storage failures are returned; reasoning and sandbox failures are recorded
// on the session and its view is returned.
func (k *Kernel) run(ctx context.Context, sessionID string) (*protocol.SessionView, error) {
	selfDirected := 0
	repairs := 0
	repairErr := ""

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		sess, err := k.sessions.Get(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if sess.Status != protocol.StatusInProgress {
			return sess.View(), nil
		}

		vitals, err := k.plants.Vitals(ctx, sess.PlantID)
		if errors.Is(err, store.ErrNotFound) {
			return k.fail(ctx, sessionID, protocol.FailurePlantNotFound, fmt.Errorf("%w: %s", ErrPlantNotFound, sess.PlantID))
		}
		if err != nil {
			return nil, err
		}

		payload, err := BuildPayload(sess, vitals, repairErr, k.policy, k.counter)
		if err != nil {
			return nil, fmt.Errorf("build context: %w", err)
		}
		data, err := payload.Encode()
		if err != nil {
			return nil, fmt.Errorf("encode context: %w", err)
		}
		k.logger.Debug("context built",
			zap.String("session_id", sessionID),
			zap.Int("bytes", len(data)),
			zap.Int("turns", len(payload.Turns)),
			zap.Int("omitted_turns", payload.OmittedTurns))

		if err := k.renew(ctx, sessionID); err != nil {
			return nil, err
		}
		script, err := k.generator.Generate(ctx, reasoning.Request{SessionID: sessionID, Payload: data})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			kind := protocol.FailureReasoningTransient
			if reasoning.IsPermanent(err) {
				kind = protocol.FailureReasoningPermanent
			}
			return k.fail(ctx, sessionID, kind, err)
		}

		action, err := k.execute(ctx, sessionID, script, payload)
		if err != nil {
			kind, ok := sandbox.KindOf(err)
			if !ok {
				return nil, err
			}
			if kind.Repairable() && repairs < k.maxRepairs {
				repairs++
				repairErr = err.Error()
				k.logger.Info("asking reasoning service to repair script",
					zap.String("session_id", sessionID),
					zap.Int("attempt", repairs),
					zap.String("kind", string(kind)))
				continue
			}
			return k.fail(ctx, sessionID, sandboxFailure(kind), err)
		}
		repairs = 0
		repairErr = ""

		if action.Tag.SelfDirected() && selfDirected >= k.maxSelfDirected {
			return k.fail(ctx, sessionID, protocol.FailureLoopExceeded,
				fmt.Errorf("%w: %s after %d consecutive self-directed turns", ErrLoopExceeded, action.Tag, selfDirected))
		}
		if err := k.renew(ctx, sessionID); err != nil {
			return nil, err
		}
		done, err := k.dispatch(ctx, sess, action)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) && action.Tag == protocol.ActionGetPlantVitals {
				return k.fail(ctx, sessionID, protocol.FailurePlantNotFound, err)
			}
			return nil, err
		}
		if done {
			final, err := k.sessions.Get(ctx, sessionID)
			if err != nil {
				return nil, err
			}
			return final.View(), nil
		}
		selfDirected++
	}
}

func (k *Kernel) execute(ctx context.Context, sessionID string, script *reasoning.Script, payload *Payload) (protocol.Action, error) {
	ctx, span := k.tracer.Start(ctx, "sandbox.execute")
	defer span.End()

	start := time.Now()
	action, err := k.executor.Execute(ctx, script.Source, payload.SandboxContext())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		k.logger.Warn("script failed",
			zap.String("session_id", sessionID),
			zap.String("model", script.Model),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		return action, err
	}
	span.SetAttributes(attribute.String("action", string(action.Tag)))
	k.logger.Info("script produced action",
		zap.String("session_id", sessionID),
		zap.String("action", string(action.Tag)),
		zap.Duration("duration", time.Since(start)))
	return action, nil
}

// dispatch applies action to the session. It reports done when control
// returns to the user (ASK_USER) or the session is finished (CONCLUDE).
func (k *Kernel) dispatch(ctx context.Context, sess *protocol.Session, action protocol.Action) (bool, error) {
	switch action.Tag {
	case protocol.ActionAskUser:
		_, err := k.sessions.AppendTurn(ctx, sess.ID, protocol.RoleAI, action.Question, protocol.StatusPendingUserInput)
		return true, err

	case protocol.ActionConclude:
		return true, k.sessions.SetFinding(ctx, sess.ID, action.Finding, action.Recommendation)

	case protocol.ActionGetPlantVitals:
		vitals, err := k.plants.Vitals(ctx, sess.PlantID)
		if err != nil {
			return false, err
		}
		_, err = k.sessions.AppendVitals(ctx, sess.ID, vitals, action.Reason)
		return false, err

	case protocol.ActionLogState:
		_, err := k.sessions.AppendHypothesis(ctx, sess.ID, action.Key, action.Value)
		return false, err
	}
	return false, fmt.Errorf("%w: unknown tag %q", protocol.ErrInvalidAction, action.Tag)
}

// fail records the failure on the session and returns its final view
func (k *Kernel) fail(ctx context.Context, sessionID string, kind protocol.FailureKind, cause error) (*protocol.SessionView, error) {
	k.logger.Warn("diagnosis failed",
		zap.String("session_id", sessionID),
		zap.String("kind", string(kind)),
		zap.Error(cause))

	// Record the failure even if the caller has gone away
	ctx = context.WithoutCancel(ctx)
	if err := k.renew(ctx, sessionID); err != nil {
		return nil, err
	}
	if err := k.sessions.MarkFailed(ctx, sessionID, protocol.Failure{Kind: kind, Reason: cause.Error()}); err != nil {
		return nil, err
	}
	sess, err := k.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return sess.View(), nil
}

func sandboxFailure(kind sandbox.Kind) protocol.FailureKind {
	switch kind {
	case sandbox.KindSyntax:
		return protocol.FailureSandboxSyntax
	case sandbox.KindRuntime:
		return protocol.FailureSandboxRuntime
	case sandbox.KindTimeout:
		return protocol.FailureSandboxTimeout
	case sandbox.KindResourceLimit:
		return protocol.FailureSandboxResourceLimit
	default:
		return protocol.FailureSandboxInvalidAction
	}
}
