// internal/sandbox/process.go
package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/signalnine/leafdoc/internal/protocol"
)

// childEnv marks a process started by an Executor to evaluate one script
const childEnv = "LEAFDOC_SANDBOX_CHILD"

const (
	// memoryHeadroom is added to Limits.MemoryLimit for the child's data
	// segment cap. It covers the Go runtime and the interpreter itself.
	memoryHeadroom = 512 << 20

	maxRequestBytes  = 16 << 20
	maxResponseBytes = 1 << 20
	maxStderrBytes   = 64 << 10
)

var errHardDeadline = errors.New("sandbox process did not exit after its deadline")

type childRequest struct {
	Source  string  `json:"source"`
	Context Context `json:"context"`
	Limits  Limits  `json:"limits"`
}

type childResponse struct {
	Action protocol.Action `json:"action"`
	Kind   Kind            `json:"kind,omitempty"`
	Error  string          `json:"error,omitempty"`
	Output string          `json:"output,omitempty"`
}

// Init turns the current process into a sandbox child when an Executor
// started it: the request is read from stdin, the result written to stdout
// and the process exits. Otherwise Init returns immediately. Binaries and
// test mains that execute scripts call it before anything else.
func Init() {
	if os.Getenv(childEnv) == "" {
		return
	}
	os.Exit(serveChild(os.Stdin, os.Stdout, os.Stderr))
}

func serveChild(r io.Reader, w, errw io.Writer) int {
	var req childRequest
	if err := json.NewDecoder(io.LimitReader(r, maxRequestBytes)).Decode(&req); err != nil {
		fmt.Fprintf(errw, "sandbox child: decode request: %v\n", err)
		return 2
	}
	if req.Limits.MemoryLimit > 0 {
		if err := limitMemory(req.Limits.MemoryLimit + memoryHeadroom); err != nil {
			// The heap watchdog still applies
			fmt.Fprintf(errw, "sandbox child: %v\n", err)
		}
	}

	action, output, err := New(req.Limits, nil).evaluate(context.Background(), req.Source, req.Context)
	resp := childResponse{Action: action, Output: truncate(output, 512)}
	if err != nil {
		resp.Error = err.Error()
		var se *Error
		if errors.As(err, &se) {
			resp.Kind, resp.Error = se.Kind, se.Err.Error()
		}
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		fmt.Fprintf(errw, "sandbox child: encode response: %v\n", err)
		return 2
	}
	return 0
}

// Execute evaluates source in a child process and returns the single action
// its Decide function produced. Script failures are returned as *Error;
// cancellation of ctx is returned as is.
func (e *Executor) Execute(ctx context.Context, source string, in Context) (protocol.Action, error) {
	start := time.Now()
	// Static rejection is cheap enough to skip the process for
	if _, err := validate(source, e.limits.MaxSourceBytes); err != nil {
		return protocol.Action{}, err
	}

	bin, err := os.Executable()
	if err != nil {
		return protocol.Action{}, fmt.Errorf("locate sandbox binary: %w", err)
	}
	req, err := json.Marshal(childRequest{Source: source, Context: in, Limits: e.limits})
	if err != nil {
		return protocol.Action{}, fmt.Errorf("encode sandbox request: %w", err)
	}

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	if e.limits.Timeout > 0 {
		var cancelTimeout context.CancelFunc
		runCtx, cancelTimeout = context.WithTimeoutCause(runCtx, e.limits.Timeout+e.grace, errHardDeadline)
		defer cancelTimeout()
	}

	stdout := &boundedWriter{max: maxResponseBytes, overflow: func() { cancel(errOutputLimit) }}
	stderr := &boundedWriter{max: maxStderrBytes, overflow: func() {}}
	cmd := exec.CommandContext(runCtx, bin)
	cmd.Env = []string{childEnv + "=1"}
	cmd.Stdin = bytes.NewReader(req)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = time.Second
	runErr := cmd.Run()

	resp, err := e.result(ctx, runCtx, runErr, stdout.Bytes(), stderr.String())
	e.logger.Debug("script executed",
		zap.Duration("duration", time.Since(start)),
		zap.String("output", resp.Output),
		zap.Error(err))
	if err != nil {
		return protocol.Action{}, err
	}
	return resp.Action, nil
}

// result turns the child's exit into an action or a classified failure
func (e *Executor) result(parent, ctx context.Context, runErr error, stdout []byte, stderr string) (childResponse, error) {
	if parent.Err() != nil {
		return childResponse{}, fmt.Errorf("sandbox execution aborted: %w", context.Cause(parent))
	}
	if ctx.Err() != nil {
		cause := context.Cause(ctx)
		if errors.Is(cause, errOutputLimit) {
			return childResponse{}, &Error{Kind: KindResourceLimit, Err: cause}
		}
		return childResponse{}, &Error{Kind: KindTimeout, Err: cause}
	}

	var resp childResponse
	if err := json.Unmarshal(stdout, &resp); err == nil && (resp.Action.Tag != "" || resp.Error != "") {
		switch {
		case resp.Kind != "":
			return resp, &Error{Kind: resp.Kind, Err: childError(resp.Error)}
		case resp.Error != "":
			return resp, fmt.Errorf("sandbox child: %s", resp.Error)
		}
		return resp, nil
	}

	// The child died without answering
	if strings.Contains(stderr, "out of memory") {
		return childResponse{}, &Error{Kind: KindResourceLimit, Err: errMemoryLimit}
	}
	var exitErr *exec.ExitError
	if !errors.As(runErr, &exitErr) {
		if runErr != nil {
			return childResponse{}, fmt.Errorf("run sandbox process: %w", runErr)
		}
		return childResponse{}, errors.New("sandbox process exited without a result")
	}
	if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() && ws.Signal() == syscall.SIGKILL {
		// Nobody but the kernel's OOM killer sends SIGKILL here
		return childResponse{}, &Error{Kind: KindResourceLimit, Err: errMemoryLimit}
	}
	e.logger.Debug("sandbox process crashed", zap.String("stderr", truncate(stderr, 2048)))
	return childResponse{}, &Error{Kind: KindRuntime, Err: fmt.Errorf("script crashed the interpreter: %s", firstLine(stderr))}
}

// childError restores the package sentinels a child reported by message
func childError(msg string) error {
	for _, known := range []error{errMemoryLimit, errOutputLimit} {
		if msg == known.Error() {
			return known
		}
	}
	return errors.New(msg)
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if s == "" {
		return "no diagnostic output"
	}
	return truncate(s, 256)
}
