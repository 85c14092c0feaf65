package netlab

import (
	"context"
	"fmt"
	"log/slog"
)

// -------------------------------------------------------------------------
// Bridge — virtual L2 segment
// -------------------------------------------------------------------------

// BridgeConfig declares one L2 segment.
type BridgeConfig struct {
	// Name is the logical bridge name; the lab prefix is prepended to
	// form the device name.
	Name string

	// Subnet is the segment's CIDR. Empty creates an unaddressed
	// segment: members attach with the UnnumberedAddr sentinel.
	Subnet string

	// SelfAddr assigns the bridge device itself the first allocatable
	// address, making the host a reachable hop on the segment.
	SelfAddr bool
}

// Bridge is a virtual L2 segment containers attach to. It owns the
// segment's address cursor; it does not own the attached containers
// (a container may join several bridges).
type Bridge struct {
	lab    *Lab
	name   string
	pool   *AddrPool
	addr   string // bridge's own address, if SelfAddr
	ctns   []*Container
	logger *slog.Logger
}

// NewBridge idempotently creates and activates an L2 segment: a
// same-named leftover device from an earlier run is deleted first. If a
// subnet is declared, the address cursor is initialized with the network
// address already discarded.
func (l *Lab) NewBridge(ctx context.Context, cfg BridgeConfig) (*Bridge, error) {
	b := &Bridge{
		lab:    l,
		name:   l.Prefix(cfg.Name),
		logger: l.logger.With(slog.String("bridge", l.Prefix(cfg.Name))),
	}

	if cfg.Subnet != "" {
		pool, err := NewAddrPool(cfg.Subnet)
		if err != nil {
			return nil, fmt.Errorf("bridge %s: %w", b.name, err)
		}
		b.pool = pool
	}

	err := l.retryLink(ctx, "bridge", func() error {
		exists, err := l.links.BridgeExists(b.name)
		if err != nil {
			return err
		}
		if exists {
			// Leftover from an earlier run with the same prefix.
			_ = l.links.SetDown(b.name)
			if err := l.links.DeleteBridge(b.name); err != nil {
				return err
			}
		}
		return l.links.AddBridge(b.name)
	})
	if err != nil {
		return nil, fmt.Errorf("create bridge %s: %w", b.name, err)
	}

	if err := l.retryLink(ctx, "bridge", func() error { return l.links.SetUp(b.name) }); err != nil {
		return nil, fmt.Errorf("bring up bridge %s: %w", b.name, err)
	}

	if cfg.SelfAddr && b.pool != nil {
		addr, err := b.pool.Next()
		if err != nil {
			return nil, fmt.Errorf("bridge %s self address: %w", b.name, err)
		}
		err = l.retryLink(ctx, "bridge", func() error { return l.links.AddAddr(b.name, addr) })
		if err != nil {
			return nil, fmt.Errorf("address bridge %s: %w", b.name, err)
		}
		b.addr = addr
	}

	l.metrics.BridgeUp()
	b.logger.Info("bridge created",
		slog.String("subnet", cfg.Subnet),
		slog.String("self_addr", b.addr),
	)

	return b, nil
}

// Name returns the prefixed device name.
func (b *Bridge) Name() string { return b.name }

// Addr returns the bridge's own address, or "" when SelfAddr was not set.
func (b *Bridge) Addr() string { return b.addr }

// Members returns the containers attached so far.
func (b *Bridge) Members() []*Container {
	out := make([]*Container, len(b.ctns))
	copy(out, b.ctns)
	return out
}

// NextAddr allocates the next address from the segment's subnet.
// Returns ErrNoSubnet for unaddressed segments and ErrPoolExhausted when
// the subnet runs out.
func (b *Bridge) NextAddr() (string, error) {
	if b.pool == nil {
		return "", fmt.Errorf("bridge %s: %w", b.name, ErrNoSubnet)
	}
	return b.pool.Next()
}

// AddMember wires ctn onto this segment: a fresh interface name is
// allocated on the container, an address is drawn from the segment's
// subnet (or the unnumbered sentinel when the segment carries none), and
// the container's wiring operation is invoked. The container is recorded
// as attached either way.
func (b *Bridge) AddMember(ctx context.Context, ctn *Container) error {
	ifName := ctn.nextIfName()
	b.ctns = append(b.ctns, ctn)

	addr := UnnumberedAddr
	if b.pool != nil {
		var err error
		addr, err = b.pool.Next()
		if err != nil {
			return fmt.Errorf("attach %s to %s: %w", ctn.Name(), b.name, err)
		}
	}

	return ctn.Attach(ctx, b, addr, ifName)
}

// Delete brings the device down and removes it. Best-effort in the same
// sense as every other provisioning call: each step is retried, and the
// first exhausted step fails the deletion.
func (b *Bridge) Delete(ctx context.Context) error {
	err := b.lab.retryLink(ctx, "bridge", func() error { return b.lab.links.SetDown(b.name) })
	if err != nil {
		return fmt.Errorf("bring down bridge %s: %w", b.name, err)
	}

	err = b.lab.retryLink(ctx, "bridge", func() error { return b.lab.links.DeleteBridge(b.name) })
	if err != nil {
		return fmt.Errorf("delete bridge %s: %w", b.name, err)
	}

	b.lab.metrics.BridgeDown()
	b.logger.Info("bridge deleted")

	return nil
}
