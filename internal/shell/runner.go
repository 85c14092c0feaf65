// Package shell runs host commands for topology provisioning.
//
// Docker and network-namespace operations are observed to fail
// intermittently (races with daemon and kernel state), so every
// provisioning command in bgplab goes through the bounded retry wrapper
// in this package. The Runner interface keeps the actual process spawn
// behind a seam so the rest of the system is testable without a Docker
// host.
package shell

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// -------------------------------------------------------------------------
// Runner Interface
// -------------------------------------------------------------------------

// Runner executes a single shell command line on the host and returns its
// combined output. Implementations must block until the command completes.
type Runner interface {
	Run(ctx context.Context, cmd string) (string, error)
}

// -------------------------------------------------------------------------
// Local — production host command runner
// -------------------------------------------------------------------------

// Local runs commands through /bin/sh -c on the local host.
type Local struct {
	logger *slog.Logger
}

// NewLocal creates a host command runner. A nil logger disables command
// logging.
func NewLocal(logger *slog.Logger) *Local {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Local{
		logger: logger.With(slog.String("component", "shell.runner")),
	}
}

// Run executes cmd via /bin/sh -c and returns its combined stdout/stderr
// with trailing whitespace trimmed. A non-zero exit status is an error
// carrying the captured output.
func (l *Local) Run(ctx context.Context, cmd string) (string, error) {
	l.logger.Debug("running command", slog.String("cmd", cmd))

	out, err := exec.CommandContext(ctx, "/bin/sh", "-c", cmd).CombinedOutput()
	output := strings.TrimRight(string(out), "\n")
	if err != nil {
		return output, fmt.Errorf("run %q: %w: %s", cmd, err, output)
	}

	return output, nil
}

// -------------------------------------------------------------------------
// Retry Policy
// -------------------------------------------------------------------------

// Default retry parameters for provisioning commands.
const (
	DefaultAttempts = 3
	DefaultInterval = 1 * time.Second
)

// RetryPolicy bounds the retry loop for a transient operation: up to
// Attempts invocations with a fixed Interval between them. The back-off is
// deliberately fixed (no exponential growth, no jitter); convergence
// windows in topology tests are seconds, not milliseconds.
type RetryPolicy struct {
	Attempts int
	Interval time.Duration
}

// DefaultRetryPolicy returns the standard 3-attempts/1-second policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: DefaultAttempts, Interval: DefaultInterval}
}

// normalize clamps a zero-valued policy to the defaults.
func (p RetryPolicy) normalize() RetryPolicy {
	if p.Attempts < 1 {
		p.Attempts = DefaultAttempts
	}
	if p.Interval <= 0 {
		p.Interval = DefaultInterval
	}
	return p
}

// Retry invokes op until it succeeds or the policy's attempts are
// exhausted, sleeping the policy interval between attempts. The first
// successful result is returned; once attempts run out, the last failure
// is. This layer does not distinguish failure causes: any error is
// treated as potentially transient.
//
// Context cancellation is honored between attempts so a caller can abort
// a stuck retry loop.
func Retry[T any](ctx context.Context, policy RetryPolicy, op func() (T, error)) (T, error) {
	policy = policy.normalize()

	var (
		result  T
		lastErr error
	)

	for attempt := 1; attempt <= policy.Attempts; attempt++ {
		result, lastErr = op()
		if lastErr == nil {
			return result, nil
		}

		if attempt == policy.Attempts {
			break
		}

		select {
		case <-ctx.Done():
			return result, fmt.Errorf("retry aborted after %d attempts: %w: last error: %w",
				attempt, ctx.Err(), lastErr)
		case <-time.After(policy.Interval):
		}
	}

	return result, fmt.Errorf("all %d attempts failed: %w", policy.Attempts, lastErr)
}

// RunRetry executes cmd through r under the given retry policy.
func RunRetry(ctx context.Context, r Runner, policy RetryPolicy, cmd string) (string, error) {
	return Retry(ctx, policy, func() (string, error) {
		return r.Run(ctx, cmd)
	})
}
