// internal/sandbox/executor.go
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/traefik/yaegi/interp"
	"go.uber.org/zap"

	"github.com/signalnine/leafdoc/internal/protocol"
)

// Executor runs generated decision scripts. Each execution gets a fresh
// yaegi interpreter in a short-lived child process; nothing survives
// between calls.
type Executor struct {
	limits       Limits
	logger       *zap.Logger
	pollInterval time.Duration
	// grace is how long past Limits.Timeout the child may take before it is killed
	grace time.Duration
}

// New creates an executor enforcing limits
func New(limits Limits, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		limits:       limits,
		logger:       logger,
		pollInterval: 5 * time.Millisecond,
		grace:        3 * time.Second,
	}
}

// evaluate interprets source in the current process. Only the sandbox child
// calls it; Execute is the entry point everywhere else.
func (e *Executor) evaluate(ctx context.Context, source string, in Context) (protocol.Action, string, error) {
	checked, err := validate(source, e.limits.MaxSourceBytes)
	if err != nil {
		return protocol.Action{}, "", err
	}

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	if e.limits.Timeout > 0 {
		var cancelTimeout context.CancelFunc
		runCtx, cancelTimeout = context.WithTimeout(runCtx, e.limits.Timeout)
		defer cancelTimeout()
	}

	out := &boundedWriter{
		max:      e.limits.MaxOutputBytes,
		overflow: func() { cancel(errOutputLimit) },
	}
	rec := &recorder{}

	i := interp.New(interp.Options{
		Stdin:                strings.NewReader(""),
		Stdout:               out,
		Stderr:               out,
		Args:                 []string{},
		Env:                  []string{},
		SourcecodeFilesystem: emptyFS{},
	})
	if err := i.Use(allowedSymbols); err != nil {
		return protocol.Action{}, "", fmt.Errorf("load stdlib symbols: %w", err)
	}
	if err := i.Use(capabilityExports(in.clone(), rec)); err != nil {
		return protocol.Action{}, "", fmt.Errorf("load capability package: %w", err)
	}

	stop := watchHeap(runCtx, e.limits.MemoryLimit, e.pollInterval, cancel)
	result, err := e.run(ctx, runCtx, i, checked.wrap(source))
	stop()
	if err != nil {
		return protocol.Action{}, out.String(), err
	}
	action, err := checkAction(result, rec.recorded())
	return action, out.String(), err
}

func (e *Executor) run(parent, ctx context.Context, i *interp.Interpreter, src string) (reflect.Value, error) {
	if _, err := i.EvalWithContext(ctx, src); err != nil {
		return reflect.Value{}, classify(parent, ctx, err, KindSyntax)
	}
	v, err := i.EvalWithContext(ctx, "main."+entrypoint+"()")
	if err != nil {
		return reflect.Value{}, classify(parent, ctx, err, KindRuntime)
	}
	return v, nil
}

// classify maps an interpreter error to a failure kind. fallback is used for
// plain errors: compile errors while loading, runtime errors while calling.
func classify(parent, ctx context.Context, err error, fallback Kind) error {
	if parent.Err() != nil {
		return fmt.Errorf("sandbox execution aborted: %w", context.Cause(parent))
	}
	if ctx.Err() != nil {
		cause := context.Cause(ctx)
		switch {
		case errors.Is(cause, errMemoryLimit), errors.Is(cause, errOutputLimit):
			return &Error{Kind: KindResourceLimit, Err: cause}
		default:
			return &Error{Kind: KindTimeout, Err: fmt.Errorf("execution exceeded its deadline: %w", cause)}
		}
	}
	var p interp.Panic
	if errors.As(err, &p) {
		return &Error{Kind: KindRuntime, Err: fmt.Errorf("panic: %v", p.Value)}
	}
	return &Error{Kind: fallback, Err: err}
}

// checkAction enforces that exactly one constructor was called and that
// Decide returned that same action
func checkAction(v reflect.Value, recorded []protocol.Action) (protocol.Action, error) {
	switch len(recorded) {
	case 0:
		return protocol.Action{}, failf(KindInvalidAction, "no action constructor was called")
	case 1:
	default:
		return protocol.Action{}, failf(KindInvalidAction, "%d action constructors were called, want exactly one", len(recorded))
	}

	if !v.IsValid() || !v.CanInterface() {
		return protocol.Action{}, failf(KindInvalidAction, "Decide returned no value")
	}
	got, ok := v.Interface().(protocol.Action)
	if !ok {
		return protocol.Action{}, failf(KindInvalidAction, "Decide returned %s, not an Action", v.Type())
	}
	if got != recorded[0] {
		return protocol.Action{}, failf(KindInvalidAction, "returned action does not match the constructed %s", recorded[0].Tag)
	}
	if err := got.Validate(); err != nil {
		return protocol.Action{}, &Error{Kind: KindInvalidAction, Err: err}
	}
	return got, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
