package netlab

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

// -------------------------------------------------------------------------
// BGP FSM states
// -------------------------------------------------------------------------

// FSMState is the coarse BGP session phase observed through a backend.
// Only Idle, Active, and Established are modeled: the core observes
// states, it never forces them (beyond DisablePeer/EnablePeer), and a
// backend may regress a session at any time.
type FSMState int

const (
	StateIdle FSMState = iota
	StateActive
	StateEstablished
)

// String returns the canonical state name used in logs and metrics.
func (s FSMState) String() string {
	switch s {
	case StateIdle:
		return "BGP_FSM_IDLE"
	case StateActive:
		return "BGP_FSM_ACTIVE"
	case StateEstablished:
		return "BGP_FSM_ESTABLISHED"
	default:
		return fmt.Sprintf("BGP_FSM_UNKNOWN(%d)", int(s))
	}
}

// -------------------------------------------------------------------------
// Declarative peer / route / policy state
// -------------------------------------------------------------------------

// RouteFamily selects the address family of a route or RIB query.
type RouteFamily string

const (
	FamilyIPv4     RouteFamily = "ipv4"
	FamilyIPv6     RouteFamily = "ipv6"
	FamilyEVPN     RouteFamily = "evpn"
	FamilyFlowSpec RouteFamily = "flowspec"
)

// PeerSettings carries the declarative knobs of one peering. The zero
// value is a plain eBGP session.
type PeerSettings struct {
	Password             string
	EVPN                 bool
	FlowSpec             bool
	RouteServerClient    bool
	RouteReflectorClient bool
	ClusterID            string
	Passive              bool
	AS2                  bool // 2-byte AS number encoding
	Policies             []Policy
}

// PeerConfig is the full recorded peering state: the caller's settings
// plus the address pair derived from the containers' shared segment and
// the peer's AS number. The pair is computed once, at declaration time.
type PeerConfig struct {
	Settings     PeerSettings
	PeerAS       uint32
	NeighborAddr string
	LocalAddr    string
	Policies     map[string]Policy
}

// Route declares one advertised route and its path attributes. Matchs
// and Thens carry route-map-like clauses interpreted by the backend.
type Route struct {
	Prefix              string
	Family              RouteFamily // empty defaults to ipv4
	NextHop             string
	ASPath              []uint32
	Communities         []string
	MED                 uint32
	LocalPref           uint32
	ExtendedCommunities []string
	Matchs              []string
	Thens               []string
}

// PolicyDirection says whether a policy applies to received or
// advertised routes. The zero value means import.
type PolicyDirection string

const (
	PolicyImport PolicyDirection = "import"
	PolicyExport PolicyDirection = "export"
)

// Policy is a named routing policy. Its definition is backend-specific
// and passed through opaquely.
type Policy struct {
	Name       string
	Direction  PolicyDirection
	Definition map[string]any
}

// RibEntry is one path in a backend's RIB view, reduced to the fields
// conformance tests assert on.
type RibEntry struct {
	Prefix  string
	NextHop string
	ASPath  []uint32
	Best    bool
}

// -------------------------------------------------------------------------
// Backend — the contract a concrete BGP implementation fulfills
// -------------------------------------------------------------------------

// Backend is the capability interface a concrete BGP implementation
// (gobgpd, quagga, ...) must satisfy to participate in a topology. The
// core calls these hooks at the mutation and polling points of
// BGPContainer and makes no other assumption about their internals.
type Backend interface {
	// CreateConfig renders the container's peers/routes/policies into
	// the backend's native configuration in the config directory.
	CreateConfig(ctx context.Context) error

	// ReloadConfig signals the backend process to adopt the rendered
	// configuration.
	ReloadConfig(ctx context.Context) error

	// GetNeighborState reports the session FSM state toward peer.
	GetNeighborState(ctx context.Context, peer *BGPContainer) (FSMState, error)

	// GetLocalRib returns the per-neighbor RIB toward peer.
	GetLocalRib(ctx context.Context, peer *BGPContainer, family RouteFamily) ([]RibEntry, error)

	// GetGlobalRib returns the backend's global RIB.
	GetGlobalRib(ctx context.Context, family RouteFamily) ([]RibEntry, error)

	// DisablePeer administratively shuts down the session toward peer.
	DisablePeer(ctx context.Context, peer *BGPContainer) error

	// EnablePeer re-enables a disabled session toward peer.
	EnablePeer(ctx context.Context, peer *BGPContainer) error
}

// -------------------------------------------------------------------------
// Mutation options
// -------------------------------------------------------------------------

// MutateOption adjusts how a peer/route/policy mutation is applied.
type MutateOption func(*mutateOpts)

type mutateOpts struct {
	reload bool
	bridge string
}

func applyMutateOpts(opts []MutateOption) mutateOpts {
	o := mutateOpts{reload: true}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NoReload records the mutation without re-rendering and reloading the
// backend configuration, even if the container is running. Use it to
// batch several declarations before one reload.
func NoReload() MutateOption {
	return func(o *mutateOpts) { o.reload = false }
}

// OnBridge restricts peering-address derivation to the named segment
// when the two containers share more than one.
func OnBridge(name string) MutateOption {
	return func(o *mutateOpts) { o.bridge = name }
}

// -------------------------------------------------------------------------
// BGPContainer
// -------------------------------------------------------------------------

// BGPConfig declares one BGP-speaking container.
type BGPConfig struct {
	Name     string
	ASN      uint32
	RouterID string
	Image    string
}

// BGPContainer is a Container hosting a BGP daemon. It records the
// desired peering/route/policy state and drives the bound Backend to
// realize and observe it. The maps are exclusively owned by this
// container for the lifetime of the test.
type BGPContainer struct {
	*Container

	asn       uint32
	routerID  string
	configDir string

	backend  Backend
	peers    map[*BGPContainer]*PeerConfig
	routes   map[string]*Route
	policies map[string]*Policy
}

// NewBGPContainer declares a BGP container. The per-instance config
// directory is destroyed and recreated so stale configuration from a
// previous run cannot leak in.
func (l *Lab) NewBGPContainer(ctx context.Context, cfg BGPConfig) (*BGPContainer, error) {
	configDir := filepath.Join(l.baseDir, l.prefix, cfg.Name)
	if err := os.RemoveAll(configDir); err != nil {
		return nil, fmt.Errorf("clear config dir %s: %w", configDir, err)
	}
	if err := os.MkdirAll(configDir, 0o777); err != nil {
		return nil, fmt.Errorf("create config dir %s: %w", configDir, err)
	}
	// The daemon inside the container writes logs here as a non-root user.
	if err := os.Chmod(configDir, 0o777); err != nil {
		return nil, fmt.Errorf("chmod config dir %s: %w", configDir, err)
	}

	ctn, err := l.NewContainer(ctx, cfg.Name, cfg.Image)
	if err != nil {
		return nil, err
	}

	return &BGPContainer{
		Container: ctn,
		asn:       cfg.ASN,
		routerID:  cfg.RouterID,
		configDir: configDir,
		peers:     make(map[*BGPContainer]*PeerConfig),
		routes:    make(map[string]*Route),
		policies:  make(map[string]*Policy),
	}, nil
}

// BindBackend attaches the concrete BGP driver. Must be called before
// Run or any BGP operation; the concrete driver type does this in its
// constructor.
func (c *BGPContainer) BindBackend(b Backend) { c.backend = b }

// ASN returns the autonomous system number.
func (c *BGPContainer) ASN() uint32 { return c.asn }

// RouterID returns the BGP router id.
func (c *BGPContainer) RouterID() string { return c.routerID }

// ConfigDir returns the host path of the per-instance config directory.
func (c *BGPContainer) ConfigDir() string { return c.configDir }

// Peer returns the recorded peering configuration toward peer, or nil.
func (c *BGPContainer) Peer(peer *BGPContainer) *PeerConfig { return c.peers[peer] }

// Peers returns the number of recorded peerings.
func (c *BGPContainer) Peers() int { return len(c.peers) }

// Route returns the recorded route for prefix, or nil.
func (c *BGPContainer) Route(prefix string) *Route { return c.routes[prefix] }

// Policy returns the recorded policy by name, or nil.
func (c *BGPContainer) Policy(name string) *Policy { return c.policies[name] }

// PeerConfigs returns all recorded peerings sorted by neighbor address,
// so configuration renderers produce stable output.
func (c *BGPContainer) PeerConfigs() []*PeerConfig {
	out := make([]*PeerConfig, 0, len(c.peers))
	for _, pc := range c.peers {
		out = append(out, pc)
	}
	slices.SortFunc(out, func(a, b *PeerConfig) int {
		return strings.Compare(a.NeighborAddr, b.NeighborAddr)
	})
	return out
}

// Routes returns all recorded routes sorted by prefix.
func (c *BGPContainer) Routes() []*Route {
	out := make([]*Route, 0, len(c.routes))
	for _, r := range c.routes {
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b *Route) int {
		return strings.Compare(a.Prefix, b.Prefix)
	})
	return out
}

// Policies returns all recorded policies sorted by name.
func (c *BGPContainer) Policies() []*Policy {
	out := make([]*Policy, 0, len(c.policies))
	for _, p := range c.policies {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b *Policy) int {
		return strings.Compare(a.Name, b.Name)
	})
	return out
}

// Run renders the initial backend configuration, then starts the
// container. The returned boot grace period is the fixed settling time
// before the daemon should be poked.
func (c *BGPContainer) Run(ctx context.Context) (time.Duration, error) {
	if c.backend == nil {
		return 0, fmt.Errorf("run %s: %w", c.DockerName(), ErrNoBackend)
	}

	if err := c.backend.CreateConfig(ctx); err != nil {
		return 0, fmt.Errorf("render config for %s: %w", c.DockerName(), err)
	}

	return c.Container.Run(ctx)
}

// -------------------------------------------------------------------------
// Peer / route / policy mutations
// -------------------------------------------------------------------------

// AddPeer declares a peering toward peer. The (local, neighbor) address
// pair is derived once, now, from the unique shared segment between the
// two containers' recorded addresses; ErrNoCommonSegment is returned
// when none exists. If the container is running and reload was not
// suppressed, the backend configuration is re-rendered and reloaded.
func (c *BGPContainer) AddPeer(ctx context.Context, peer *BGPContainer, settings PeerSettings, opts ...MutateOption) error {
	o := applyMutateOpts(opts)

	localAddr, neighAddr, err := c.addrPair(peer, o.bridge)
	if err != nil {
		return fmt.Errorf("add peer %s to %s: %w", peer.Name(), c.Name(), err)
	}

	pc := &PeerConfig{
		Settings:     settings,
		PeerAS:       peer.asn,
		LocalAddr:    localAddr,
		NeighborAddr: neighAddr,
		Policies:     make(map[string]Policy, len(settings.Policies)),
	}
	for _, p := range settings.Policies {
		pc.Policies[p.Name] = p
	}
	c.peers[peer] = pc

	return c.applyConfig(ctx, o.reload)
}

// DelPeer removes the peering toward peer, reloading like AddPeer.
func (c *BGPContainer) DelPeer(ctx context.Context, peer *BGPContainer, opts ...MutateOption) error {
	o := applyMutateOpts(opts)
	delete(c.peers, peer)
	return c.applyConfig(ctx, o.reload)
}

// AddRoute declares a route keyed by its prefix, reloading like AddPeer.
func (c *BGPContainer) AddRoute(ctx context.Context, route Route, opts ...MutateOption) error {
	o := applyMutateOpts(opts)

	if route.Family == "" {
		route.Family = FamilyIPv4
	}
	c.routes[route.Prefix] = &route

	return c.applyConfig(ctx, o.reload)
}

// AddPolicy declares a named policy. A non-nil peer additionally attaches
// the policy to that peering's policy set.
func (c *BGPContainer) AddPolicy(ctx context.Context, policy Policy, peer *BGPContainer, opts ...MutateOption) error {
	o := applyMutateOpts(opts)

	c.policies[policy.Name] = &policy
	if pc, ok := c.peers[peer]; ok {
		pc.Policies[policy.Name] = policy
	}

	return c.applyConfig(ctx, o.reload)
}

// addrPair intersects this container's and the peer's recorded
// (interface, address, bridge) triples on segment identity, optionally
// restricted to one named bridge, and returns the first IP-reachable
// (local, neighbor) address pair.
func (c *BGPContainer) addrPair(peer *BGPContainer, bridge string) (local, neigh string, err error) {
	for _, me := range c.addrs {
		if bridge != "" && bridge != me.Bridge {
			continue
		}
		if me.Addr == UnnumberedAddr {
			continue
		}
		for _, you := range peer.addrs {
			if me.Bridge == you.Bridge && you.Addr != UnnumberedAddr {
				return me.Addr, you.Addr, nil
			}
		}
	}

	return "", "", ErrNoCommonSegment
}

// applyConfig re-renders and reloads the backend configuration after a
// mutation, if the container is running and the caller did not opt out.
// Exactly one CreateConfig+ReloadConfig pair per mutation.
func (c *BGPContainer) applyConfig(ctx context.Context, reload bool) error {
	if !c.Running() || !reload {
		return nil
	}
	if c.backend == nil {
		return ErrNoBackend
	}

	if err := c.backend.CreateConfig(ctx); err != nil {
		return fmt.Errorf("render config for %s: %w", c.DockerName(), err)
	}
	if err := c.backend.ReloadConfig(ctx); err != nil {
		return fmt.Errorf("reload config of %s: %w", c.DockerName(), err)
	}

	return nil
}

// -------------------------------------------------------------------------
// Backend delegation
// -------------------------------------------------------------------------

// DisablePeer administratively shuts down the session toward peer.
func (c *BGPContainer) DisablePeer(ctx context.Context, peer *BGPContainer) error {
	if c.backend == nil {
		return ErrNoBackend
	}
	return c.backend.DisablePeer(ctx, peer)
}

// EnablePeer re-enables the session toward peer.
func (c *BGPContainer) EnablePeer(ctx context.Context, peer *BGPContainer) error {
	if c.backend == nil {
		return ErrNoBackend
	}
	return c.backend.EnablePeer(ctx, peer)
}

// GetNeighborState reports the current session state toward peer.
func (c *BGPContainer) GetNeighborState(ctx context.Context, peer *BGPContainer) (FSMState, error) {
	if c.backend == nil {
		return StateIdle, ErrNoBackend
	}
	return c.backend.GetNeighborState(ctx, peer)
}

// GetLocalRib returns the backend's per-neighbor RIB toward peer.
func (c *BGPContainer) GetLocalRib(ctx context.Context, peer *BGPContainer, family RouteFamily) ([]RibEntry, error) {
	if c.backend == nil {
		return nil, ErrNoBackend
	}
	return c.backend.GetLocalRib(ctx, peer, family)
}

// GetGlobalRib returns the backend's global RIB.
func (c *BGPContainer) GetGlobalRib(ctx context.Context, family RouteFamily) ([]RibEntry, error) {
	if c.backend == nil {
		return nil, ErrNoBackend
	}
	return c.backend.GetGlobalRib(ctx, family)
}

// -------------------------------------------------------------------------
// Convergence polling
// -------------------------------------------------------------------------

// WaitForState polls the session state toward peer once per poll
// interval until it equals want or timeout elapses (lab default when
// zero). Elapse returns an error wrapping ErrTimeout so tests can assert
// on non-convergence. Pure polling; convergence windows in these
// topologies are seconds, so no push channel is warranted.
func (c *BGPContainer) WaitForState(ctx context.Context, peer *BGPContainer, want FSMState, timeout time.Duration) error {
	if c.backend == nil {
		return ErrNoBackend
	}
	if timeout <= 0 {
		timeout = c.lab.wait.StateTimeout
	}

	interval := c.lab.wait.PollInterval
	start := time.Now()
	var elapsed time.Duration

	for {
		state, err := c.backend.GetNeighborState(ctx, peer)
		if err != nil {
			return fmt.Errorf("neighbor state of %s toward %s: %w", c.RouterID(), peer.RouterID(), err)
		}

		c.logger.Info("peer state",
			slog.String("peer", peer.RouterID()),
			slog.String("state", state.String()),
			slog.String("want", want.String()),
		)

		if state == want {
			c.lab.metrics.ObserveConvergence(c.Name(), want.String(), time.Since(start))
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("wait for %s toward %s: %w", want, peer.RouterID(), ctx.Err())
		case <-time.After(interval):
		}

		elapsed += interval
		if elapsed >= timeout {
			return fmt.Errorf("wait for %s toward %s after %s (last state %s): %w",
				want, peer.RouterID(), timeout, state, ErrTimeout)
		}
	}
}

// WaitReachable pings prefix's address from inside the sandbox once per
// poll interval until one clean round trip is observed or timeout
// elapses (lab default when zero). A round trip counts only with zero
// packet loss. ICMP or ICMPv6 is chosen by the prefix's address family.
func (c *BGPContainer) WaitReachable(ctx context.Context, prefix string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = c.lab.wait.ReachabilityTimeout
	}

	pfx, err := netip.ParsePrefix(prefix)
	if err != nil {
		return fmt.Errorf("reachability target %q: %w", prefix, err)
	}

	var ping string
	switch {
	case pfx.Addr().Is4():
		ping = "ping"
	case pfx.Addr().Is6():
		ping = "ping6"
	default:
		return fmt.Errorf("reachability target %q: %w", prefix, ErrUnsupportedFamily)
	}

	addr := pfx.Addr().String()
	cmd := fmt.Sprintf(`/bin/bash -c "/bin/%s -c 1 -w 1 %s | xargs echo"`, ping, addr)

	interval := c.lab.wait.PollInterval
	var elapsed time.Duration

	for {
		out, err := c.Exec(ctx, cmd)
		if err == nil && pingSucceeded(out) {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("reach %s from %s: %w", addr, c.DockerName(), ctx.Err())
		case <-time.After(interval):
		}

		elapsed += interval
		if elapsed >= timeout {
			return fmt.Errorf("reach %s from %s after %s: %w", addr, c.DockerName(), timeout, ErrTimeout)
		}
	}
}

// pingSucceeded reports whether ping output shows one received packet
// with zero loss. The leading space in the loss needle keeps "100%
// packet loss" from matching.
func pingSucceeded(out string) bool {
	return strings.Contains(out, "1 packets received") &&
		strings.Contains(out, " 0% packet loss")
}

// -------------------------------------------------------------------------
// In-sandbox helpers
// -------------------------------------------------------------------------

// AddStaticRoute installs a static route inside the sandbox.
func (c *BGPContainer) AddStaticRoute(ctx context.Context, network, nextHop string) error {
	_, err := c.Exec(ctx, fmt.Sprintf("/sbin/ip route add %s via %s", network, nextHop))
	if err != nil {
		return fmt.Errorf("add static route %s via %s in %s: %w", network, nextHop, c.DockerName(), err)
	}
	return nil
}

// SetIPv6Forward enables IPv6 forwarding inside the sandbox.
func (c *BGPContainer) SetIPv6Forward(ctx context.Context) error {
	_, err := c.Exec(ctx, "sysctl -w net.ipv6.conf.all.forwarding=1")
	if err != nil {
		return fmt.Errorf("enable ipv6 forwarding in %s: %w", c.DockerName(), err)
	}
	return nil
}

// Logs returns the concatenated daemon logs from the config directory.
func (c *BGPContainer) Logs() (string, error) {
	matches, err := filepath.Glob(filepath.Join(c.configDir, "*.log"))
	if err != nil {
		return "", fmt.Errorf("glob logs of %s: %w", c.DockerName(), err)
	}

	var sb strings.Builder
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("read log %s: %w", path, err)
		}
		sb.Write(data)
	}

	return sb.String(), nil
}
