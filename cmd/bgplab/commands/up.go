package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/dantte-lp/bgplab/internal/config"
	"github.com/dantte-lp/bgplab/internal/labmetrics"
	"github.com/dantte-lp/bgplab/internal/netlab"
	"github.com/dantte-lp/bgplab/internal/topofile"
)

// shutdownTimeout is the maximum time to wait for the metrics server
// to drain during graceful shutdown.
const shutdownTimeout = 10 * time.Second

// errNeedsRoot indicates the command runs without the privileges bridge
// and wiring operations require.
var errNeedsRoot = errors.New("bridge and wiring operations need root (CAP_NET_ADMIN)")

func upCmd() *cobra.Command {
	var (
		wait  bool
		serve bool
	)

	cmd := &cobra.Command{
		Use:   "up <topology.yaml>",
		Short: "Build a topology onto this host",
		Long: "up creates the declared segments and containers, wires them, " +
			"and configures the declared peerings.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if unix.Geteuid() != 0 {
				return errNeedsRoot
			}

			topo, err := topofile.Load(args[0])
			if err != nil {
				return err
			}

			lab, reg, err := newLab(topo)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			build, err := topofile.Up(ctx, lab, topo, logger)
			if err != nil {
				return err
			}

			if wait {
				if err := build.WaitEstablished(ctx, 0); err != nil {
					return err
				}
				logger.Info("all peerings established")
			}

			if serve {
				return serveUntilSignal(ctx, build, reg)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&wait, "wait", false,
		"wait until every declared peering is established")
	cmd.Flags().BoolVar(&serve, "serve", false,
		"keep running and serve lab metrics until interrupted, then tear the topology down")

	return cmd
}

// newLab assembles the lab for a topology: the file's name becomes the
// lab prefix unless the configuration already pins one.
func newLab(topo *topofile.Topology) (*netlab.Lab, *prometheus.Registry, error) {
	if cfg.Lab.Prefix == "" {
		cfg.Lab.Prefix = topo.Name
	}
	if err := config.Validate(cfg); err != nil {
		return nil, nil, err
	}

	reg := prometheus.NewRegistry()
	collector := labmetrics.NewCollector(reg)

	lab := netlab.New(cfg,
		netlab.WithLogger(logger),
		netlab.WithMetrics(collector),
	)
	return lab, reg, nil
}

// serveUntilSignal exposes the lab metrics endpoint until the context
// is signalled, then tears the topology down.
func serveUntilSignal(ctx context.Context, build *topofile.Build, reg *prometheus.Registry) error {
	mux := http.NewServeMux()
	mux.Handle(cfg.Metrics.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}

	logger.Info("serving metrics",
		slog.String("addr", cfg.Metrics.Addr),
		slog.String("path", cfg.Metrics.Path),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})

	serveErr := g.Wait()

	// The signal context is spent; teardown gets its own deadline.
	downCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := build.Down(downCtx); err != nil {
		return err
	}

	return serveErr
}
