// Package netlab models virtual test topologies: Linux bridges, Docker
// containers, and the BGP peering relationships between them.
//
// A Lab is one isolated topology run. Its name prefixes every bridge and
// container so concurrent runs on a shared host stay disjoint; the prefix
// convention is the only isolation mechanism, so two runs with the same
// prefix are unsupported. All provisioning is synchronous and blocking,
// and every fragile OS or docker operation goes through the bounded
// retry wrapper in internal/shell.
package netlab

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/dantte-lp/bgplab/internal/config"
	"github.com/dantte-lp/bgplab/internal/labmetrics"
	"github.com/dantte-lp/bgplab/internal/shell"
)

// -------------------------------------------------------------------------
// Lab — one topology run
// -------------------------------------------------------------------------

// Lab carries the per-run context every topology entity needs: naming
// prefix, host working directory, command runner, link manager, logger,
// and metrics. It replaces ambient process-wide state so sequential or
// concurrent runs cannot leak settings into each other.
type Lab struct {
	prefix  string
	baseDir string
	docker  string

	runner  shell.Runner
	links   LinkManager
	retry   shell.RetryPolicy
	logger  *slog.Logger
	metrics *labmetrics.Collector

	wait      config.WaitConfig
	bootGrace time.Duration
}

// Option customizes a Lab at construction.
type Option func(*Lab)

// WithRunner replaces the host command runner (tests inject fakes here).
func WithRunner(r shell.Runner) Option {
	return func(l *Lab) { l.runner = r }
}

// WithLinkManager replaces the bridge-device manager.
func WithLinkManager(lm LinkManager) Option {
	return func(l *Lab) { l.links = lm }
}

// WithLogger sets the lab logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Lab) { l.logger = logger }
}

// WithMetrics attaches a metrics collector. Nil disables instrumentation.
func WithMetrics(m *labmetrics.Collector) Option {
	return func(l *Lab) { l.metrics = m }
}

// New creates a Lab from cfg. By default commands run on the local host
// and bridge devices are managed through netlink.
func New(cfg *config.Config, opts ...Option) *Lab {
	l := &Lab{
		prefix:  cfg.Lab.Prefix,
		baseDir: cfg.Lab.BaseDir,
		docker:  cfg.Lab.Docker,
		retry: shell.RetryPolicy{
			Attempts: cfg.Retry.Attempts,
			Interval: cfg.Retry.Interval,
		},
		wait:      cfg.Wait,
		bootGrace: cfg.Lab.BootGrace,
		logger:    slog.New(slog.DiscardHandler),
	}

	for _, opt := range opts {
		opt(l)
	}

	if l.runner == nil {
		l.runner = shell.NewLocal(l.logger)
	}
	if l.links == nil {
		l.links = NewNetlinkManager()
	}

	l.logger = l.logger.With(slog.String("component", "netlab"))
	if l.prefix != "" {
		l.logger = l.logger.With(slog.String("lab", l.prefix))
	}

	return l
}

// Prefix namespaces name with the lab prefix: "r1" becomes "X_r1" under
// prefix "X" and stays "r1" under the default empty prefix.
func (l *Lab) Prefix(name string) string {
	if l.prefix == "" {
		return name
	}
	return l.prefix + "_" + name
}

// BaseDir returns the host working directory for this run.
func (l *Lab) BaseDir() string { return l.baseDir }

// -------------------------------------------------------------------------
// Host inventory
// -------------------------------------------------------------------------

// Bridges lists the bridge devices currently present on the host.
func (l *Lab) Bridges(ctx context.Context) ([]string, error) {
	return shell.Retry(ctx, l.retry, l.links.ListBridges)
}

// Containers lists all container names known to the docker daemon,
// running or not.
func (l *Lab) Containers(ctx context.Context) ([]string, error) {
	out, err := l.run(ctx, "inventory", l.docker+` ps -a --format '{{.Names}}'`)
	if err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// RemoveContainer force-removes a sandbox by logical name. A no-op when
// no such sandbox exists.
func (l *Lab) RemoveContainer(ctx context.Context, name string) error {
	existing, err := l.Containers(ctx)
	if err != nil {
		return err
	}
	if !slices.Contains(existing, l.Prefix(name)) {
		return nil
	}

	_, err = l.run(ctx, "container", fmt.Sprintf("%s rm -f %s", l.docker, l.Prefix(name)))
	if err != nil {
		return fmt.Errorf("remove container %s: %w", l.Prefix(name), err)
	}
	return nil
}

// RemoveBridge deletes the bridge device for a logical segment name. A
// no-op when no such device exists.
func (l *Lab) RemoveBridge(ctx context.Context, name string) error {
	device := l.Prefix(name)

	return l.retryLink(ctx, "bridge", func() error {
		exists, err := l.links.BridgeExists(device)
		if err != nil {
			return err
		}
		if !exists {
			return nil
		}
		_ = l.links.SetDown(device)
		return l.links.DeleteBridge(device)
	})
}

// Host runs an arbitrary command on the host under the lab retry
// policy. Backend drivers use it for provisioning steps that live
// outside any sandbox, like building images.
func (l *Lab) Host(ctx context.Context, cmd string) (string, error) {
	return l.run(ctx, "host", cmd)
}

// -------------------------------------------------------------------------
// Instrumented retry-wrapped command execution
// -------------------------------------------------------------------------

// run executes cmd under the lab retry policy, counting executions,
// retries, and exhausted budgets per operation kind.
func (l *Lab) run(ctx context.Context, op, cmd string) (string, error) {
	l.metrics.RecordCommand(op)

	first := true
	out, err := shell.Retry(ctx, l.retry, func() (string, error) {
		if !first {
			l.metrics.RecordRetry(op)
		}
		first = false
		return l.runner.Run(ctx, cmd)
	})
	if err != nil {
		l.metrics.RecordFailure(op)
	}

	return out, err
}

// retryLink wraps a link-manager call in the lab retry policy.
func (l *Lab) retryLink(ctx context.Context, op string, fn func() error) error {
	l.metrics.RecordCommand(op)

	first := true
	_, err := shell.Retry(ctx, l.retry, func() (struct{}, error) {
		if !first {
			l.metrics.RecordRetry(op)
		}
		first = false
		return struct{}{}, fn()
	})
	if err != nil {
		l.metrics.RecordFailure(op)
	}

	return err
}
