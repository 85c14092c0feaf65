package topofile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dantte-lp/bgplab/internal/gobgp"
	"github.com/dantte-lp/bgplab/internal/netlab"
)

// Build is a realized topology: the bridges and containers created
// from a Topology declaration, addressable by their declared names.
type Build struct {
	lab    *netlab.Lab
	topo   *Topology
	logger *slog.Logger

	bridges map[string]*netlab.Bridge
	nodes   map[string]*gobgp.Container
}

// Bridge returns a built segment by its declared name, or nil.
func (b *Build) Bridge(name string) *netlab.Bridge { return b.bridges[name] }

// Node returns a built container by its declared name, or nil.
func (b *Build) Node(name string) *gobgp.Container { return b.nodes[name] }

// Up builds the declared topology onto lab: segments first, then
// containers, wiring, and finally the peerings. It returns once every
// container runs and its configuration is loaded; session convergence
// is the caller's to await via WaitEstablished.
func Up(ctx context.Context, lab *netlab.Lab, topo *Topology, logger *slog.Logger) (*Build, error) {
	b := &Build{
		lab:     lab,
		topo:    topo,
		logger:  logger.With(slog.String("component", "topofile")),
		bridges: make(map[string]*netlab.Bridge, len(topo.Segments)),
		nodes:   make(map[string]*gobgp.Container, len(topo.Nodes)),
	}

	for _, seg := range topo.Segments {
		bridge, err := lab.NewBridge(ctx, netlab.BridgeConfig{
			Name:     seg.Name,
			Subnet:   seg.CIDR,
			SelfAddr: seg.SelfAddr,
		})
		if err != nil {
			return nil, fmt.Errorf("segment %s: %w", seg.Name, err)
		}
		b.bridges[seg.Name] = bridge
	}

	for _, node := range topo.Nodes {
		ctn, err := gobgp.NewContainer(ctx, lab, gobgp.Config{
			Name:     node.Name,
			ASN:      node.AS,
			RouterID: node.RouterID,
			Image:    node.Image,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("node %s: %w", node.Name, err)
		}
		for _, v := range node.Volumes {
			ctn.AddVolume(v.Source, v.Target)
		}
		b.nodes[node.Name] = ctn
	}

	// Declared routes go in before Run so the first config render and
	// route sync pick them up without an extra reload each.
	for _, node := range topo.Nodes {
		ctn := b.nodes[node.Name]
		for _, r := range node.Routes {
			route := netlab.Route{
				Prefix:    r.Prefix,
				Family:    netlab.RouteFamily(r.Family),
				NextHop:   r.NextHop,
				ASPath:    r.ASPath,
				MED:       r.MED,
				LocalPref: r.LocalPref,
			}
			if err := ctn.AddRoute(ctx, route); err != nil {
				return nil, fmt.Errorf("node %s route %s: %w", node.Name, r.Prefix, err)
			}
		}
	}

	var grace time.Duration
	for _, node := range topo.Nodes {
		g, err := b.nodes[node.Name].Run(ctx)
		if err != nil {
			return nil, fmt.Errorf("run node %s: %w", node.Name, err)
		}
		grace = max(grace, g)
	}
	if grace > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(grace):
		}
	}

	for _, node := range topo.Nodes {
		ctn := b.nodes[node.Name]
		for _, seg := range node.Segments {
			if err := b.bridges[seg].AddMember(ctx, ctn.Container); err != nil {
				return nil, fmt.Errorf("wire node %s to %s: %w", node.Name, seg, err)
			}
		}
	}

	for _, p := range topo.Peerings {
		if err := b.peer(ctx, p); err != nil {
			return nil, err
		}
	}

	// Peering reloads already announced the routes of peered nodes.
	// Unpeered nodes with declared routes need one explicit reload.
	for _, node := range topo.Nodes {
		ctn := b.nodes[node.Name]
		if len(node.Routes) > 0 && ctn.Peers() == 0 {
			if err := ctn.ReloadConfig(ctx); err != nil {
				return nil, fmt.Errorf("announce routes of %s: %w", node.Name, err)
			}
		}
	}

	b.logger.Info("topology up",
		slog.Int("segments", len(b.bridges)),
		slog.Int("nodes", len(b.nodes)),
		slog.Int("peerings", len(topo.Peerings)),
	)

	return b, nil
}

// peer declares both directions of one peering.
func (b *Build) peer(ctx context.Context, p Peering) error {
	a, z := b.nodes[p.A], b.nodes[p.B]

	var opts []netlab.MutateOption
	if p.Bridge != "" {
		opts = append(opts, netlab.OnBridge(b.bridges[p.Bridge].Name()))
	}

	if err := a.AddPeer(ctx, z.BGPContainer, p.settings(true), opts...); err != nil {
		return fmt.Errorf("peer %s toward %s: %w", p.A, p.B, err)
	}
	if err := z.AddPeer(ctx, a.BGPContainer, p.settings(false), opts...); err != nil {
		return fmt.Errorf("peer %s toward %s: %w", p.B, p.A, err)
	}

	return nil
}

// WaitEstablished waits until every declared peering reaches
// Established in both directions. Zero timeout uses the lab default
// per direction.
func (b *Build) WaitEstablished(ctx context.Context, timeout time.Duration) error {
	for _, p := range b.topo.Peerings {
		a, z := b.nodes[p.A], b.nodes[p.B]
		if err := a.WaitForState(ctx, z.BGPContainer, netlab.StateEstablished, timeout); err != nil {
			return fmt.Errorf("peering %s-%s: %w", p.A, p.B, err)
		}
		if err := z.WaitForState(ctx, a.BGPContainer, netlab.StateEstablished, timeout); err != nil {
			return fmt.Errorf("peering %s-%s: %w", p.B, p.A, err)
		}
	}
	return nil
}

// Destroy removes a declared topology's leftovers from the host
// without building it first: every declared node's sandbox and every
// declared segment's bridge device, by name. Missing entities are
// skipped. Teardown keeps going past individual failures and reports
// the first one.
func Destroy(ctx context.Context, lab *netlab.Lab, topo *Topology) error {
	var firstErr error

	for _, node := range topo.Nodes {
		if err := lab.RemoveContainer(ctx, node.Name); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("remove node %s: %w", node.Name, err)
		}
	}

	for _, seg := range topo.Segments {
		if err := lab.RemoveBridge(ctx, seg.Name); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("remove segment %s: %w", seg.Name, err)
		}
	}

	return firstErr
}

// Down tears the built topology back out of the host: containers
// first, then bridges. Teardown keeps going past individual failures
// and reports the first one.
func (b *Build) Down(ctx context.Context) error {
	var firstErr error

	for name, ctn := range b.nodes {
		if err := ctn.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close node %s: %w", name, err)
		}
		if err := ctn.Remove(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("remove node %s: %w", name, err)
		}
	}

	for name, bridge := range b.bridges {
		if err := bridge.Delete(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("delete segment %s: %w", name, err)
		}
	}

	return firstErr
}
