package gobgp

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	apipb "github.com/osrg/gobgp/v3/api"

	"github.com/dantte-lp/bgplab/internal/netlab"
	"github.com/dantte-lp/bgplab/internal/shell"
)

const (
	// DefaultImage is the container image used when none is declared.
	DefaultImage = "osrg/gobgp"

	// apiPort is gobgpd's gRPC API port.
	apiPort = 50051

	// configFile is the rendered configuration file name; mountDir is
	// where the config directory appears inside the sandbox.
	configFile = "gobgpd.conf"
	mountDir   = "/etc/gobgp"
)

// -------------------------------------------------------------------------
// Container — a gobgpd-backed BGP container
// -------------------------------------------------------------------------

// Config declares one gobgpd container.
type Config struct {
	Name     string
	ASN      uint32
	RouterID string

	// Image overrides DefaultImage.
	Image string

	// LogLevel is gobgpd's log level; empty means "info".
	LogLevel string
}

// Container is a BGP container whose daemon is gobgpd. It renders the
// declared peering state into gobgpd's YAML configuration, runs the
// daemon inside the sandbox, and answers state and RIB queries over the
// daemon's gRPC API.
type Container struct {
	*netlab.BGPContainer

	logLevel string
	logger   *slog.Logger

	mu     sync.Mutex
	client *GRPCClient
}

// NewContainer declares a gobgpd container on lab and binds itself as
// the BGP backend. The per-instance config directory is mounted at
// /etc/gobgp inside the sandbox.
func NewContainer(ctx context.Context, lab *netlab.Lab, cfg Config, logger *slog.Logger) (*Container, error) {
	image := cfg.Image
	if image == "" {
		image = DefaultImage
	}
	level := cfg.LogLevel
	if level == "" {
		level = "info"
	}

	bc, err := lab.NewBGPContainer(ctx, netlab.BGPConfig{
		Name:     cfg.Name,
		ASN:      cfg.ASN,
		RouterID: cfg.RouterID,
		Image:    image,
	})
	if err != nil {
		return nil, err
	}

	c := &Container{
		BGPContainer: bc,
		logLevel:     level,
		logger: logger.With(
			slog.String("component", "gobgp.container"),
			slog.String("container", bc.DockerName()),
		),
	}
	bc.BindBackend(c)
	bc.AddVolume(bc.ConfigDir(), mountDir)

	return c, nil
}

// Run renders the configuration, starts the sandbox, and launches
// gobgpd inside it. The returned grace period is the settling time
// before the daemon should be poked.
func (c *Container) Run(ctx context.Context) (time.Duration, error) {
	grace, err := c.BGPContainer.Run(ctx)
	if err != nil {
		return 0, err
	}

	if err := c.startDaemon(ctx); err != nil {
		return 0, err
	}

	return grace, nil
}

// startDaemon launches gobgpd detached inside the sandbox, logging to
// the mounted config directory so Logs() can read it from the host.
func (c *Container) startDaemon(ctx context.Context) error {
	cmd := fmt.Sprintf(
		`/bin/bash -c "gobgpd -t yaml -f %s/%s -l %s > %s/gobgpd.log 2>&1 &"`,
		mountDir, configFile, c.logLevel, mountDir,
	)
	if _, err := c.Exec(ctx, cmd); err != nil {
		return fmt.Errorf("start gobgpd in %s: %w", c.DockerName(), err)
	}

	c.logger.Info("gobgpd started", slog.String("log_level", c.logLevel))
	return nil
}

// Close releases the API client connection, if one was opened.
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return nil
	}
	err := c.client.Close()
	c.client = nil
	return err
}

// -------------------------------------------------------------------------
// netlab.Backend implementation
// -------------------------------------------------------------------------

// CreateConfig renders the declared state into gobgpd's YAML
// configuration in the config directory.
func (c *Container) CreateConfig(context.Context) error {
	data, err := renderConfig(c.BGPContainer)
	if err != nil {
		return err
	}

	path := filepath.Join(c.ConfigDir(), configFile)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write gobgpd config %s: %w", path, err)
	}

	c.logger.Debug("gobgpd config rendered", slog.String("path", path))
	return nil
}

// ReloadConfig signals gobgpd to re-read its configuration, then
// replays the declared routes. Re-announcing an identical path is a
// no-op in gobgpd, so the replay is safe after every mutation.
func (c *Container) ReloadConfig(ctx context.Context) error {
	if _, err := c.Exec(ctx, "/usr/bin/pkill gobgpd -SIGHUP"); err != nil {
		return fmt.Errorf("signal gobgpd in %s: %w", c.DockerName(), err)
	}

	return c.syncRoutes(ctx)
}

// syncRoutes announces every declared route through the gobgp CLI
// inside the sandbox.
func (c *Container) syncRoutes(ctx context.Context) error {
	for _, route := range c.Routes() {
		cmd, err := ribAddCommand(route)
		if err != nil {
			return fmt.Errorf("route %s: %w", route.Prefix, err)
		}
		if _, err := c.Exec(ctx, cmd); err != nil {
			return fmt.Errorf("announce %s from %s: %w", route.Prefix, c.DockerName(), err)
		}
	}
	return nil
}

// ribAddCommand builds the gobgp CLI invocation announcing one route.
func ribAddCommand(route *netlab.Route) (string, error) {
	family, err := cliFamily(route.Family)
	if err != nil {
		return "", err
	}

	cmd := shell.NewBuffer(" ")
	cmd.Addf("gobgp global rib add -a %s", family)

	if route.Family == netlab.FamilyFlowSpec {
		cmd.Addf("match %s then %s",
			strings.Join(route.Matchs, " "),
			strings.Join(route.Thens, " "),
		)
		return cmd.String(), nil
	}

	cmd.Add(route.Prefix)
	if route.NextHop != "" {
		cmd.Addf("nexthop %s", route.NextHop)
	}
	if len(route.ASPath) > 0 {
		parts := make([]string, len(route.ASPath))
		for i, asn := range route.ASPath {
			parts[i] = fmt.Sprintf("%d", asn)
		}
		cmd.Addf("aspath %s", strings.Join(parts, ","))
	}
	if len(route.Communities) > 0 {
		cmd.Addf("community %s", strings.Join(route.Communities, ","))
	}
	if route.MED > 0 {
		cmd.Addf("med %d", route.MED)
	}
	if route.LocalPref > 0 {
		cmd.Addf("local-pref %d", route.LocalPref)
	}

	return cmd.String(), nil
}

// cliFamily maps a route family onto the gobgp CLI's -a argument.
func cliFamily(family netlab.RouteFamily) (string, error) {
	switch family {
	case netlab.FamilyIPv4, "":
		return "ipv4", nil
	case netlab.FamilyIPv6:
		return "ipv6", nil
	case netlab.FamilyEVPN:
		return "evpn", nil
	case netlab.FamilyFlowSpec:
		return "ipv4-flowspec", nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFamily, family)
	}
}

// GetNeighborState reports the session FSM state toward peer.
func (c *Container) GetNeighborState(ctx context.Context, peer *netlab.BGPContainer) (netlab.FSMState, error) {
	addr, err := c.neighborAddr(peer)
	if err != nil {
		return netlab.StateIdle, err
	}

	client, err := c.apiClient()
	if err != nil {
		return netlab.StateIdle, err
	}

	return client.NeighborState(ctx, addr)
}

// GetLocalRib returns the per-neighbor local RIB toward peer.
func (c *Container) GetLocalRib(ctx context.Context, peer *netlab.BGPContainer, family netlab.RouteFamily) ([]netlab.RibEntry, error) {
	addr, err := c.neighborAddr(peer)
	if err != nil {
		return nil, err
	}

	client, err := c.apiClient()
	if err != nil {
		return nil, err
	}

	return client.ListRib(ctx, apipb.TableType_LOCAL, addr, family)
}

// GetGlobalRib returns gobgpd's global RIB.
func (c *Container) GetGlobalRib(ctx context.Context, family netlab.RouteFamily) ([]netlab.RibEntry, error) {
	client, err := c.apiClient()
	if err != nil {
		return nil, err
	}

	return client.ListRib(ctx, apipb.TableType_GLOBAL, "", family)
}

// DisablePeer administratively shuts down the session toward peer.
func (c *Container) DisablePeer(ctx context.Context, peer *netlab.BGPContainer) error {
	addr, err := c.neighborAddr(peer)
	if err != nil {
		return err
	}

	client, err := c.apiClient()
	if err != nil {
		return err
	}

	return client.DisablePeer(ctx, addr)
}

// EnablePeer re-enables the session toward peer.
func (c *Container) EnablePeer(ctx context.Context, peer *netlab.BGPContainer) error {
	addr, err := c.neighborAddr(peer)
	if err != nil {
		return err
	}

	client, err := c.apiClient()
	if err != nil {
		return err
	}

	return client.EnablePeer(ctx, addr)
}

// neighborAddr resolves the recorded neighbor address toward peer.
func (c *Container) neighborAddr(peer *netlab.BGPContainer) (string, error) {
	pc := c.Peer(peer)
	if pc == nil {
		return "", fmt.Errorf("no peering from %s toward %s", c.Name(), peer.Name())
	}
	return stripPrefixLen(pc.NeighborAddr), nil
}

// apiClient lazily opens the gRPC client toward the sandbox's gobgpd
// API, reached over the docker default network address.
func (c *Container) apiClient() (*GRPCClient, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		return c.client, nil
	}

	addrs := c.Addrs()
	if len(addrs) == 0 {
		return nil, fmt.Errorf("no recorded address for %s, container not running", c.DockerName())
	}

	target := fmt.Sprintf("%s:%d", stripPrefixLen(addrs[0].Addr), apiPort)
	client, err := NewGRPCClient(target, c.logger)
	if err != nil {
		return nil, err
	}

	c.client = client
	return client, nil
}
