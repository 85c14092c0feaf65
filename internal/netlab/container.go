package netlab

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/dantte-lp/bgplab/internal/shell"
)

// UnknownPID is returned by PID for a container that is not running.
const UnknownPID = -1

// defaultBridge is the segment name recorded for the address docker
// assigns on the container's default network.
const defaultBridge = "docker0"

// Volume is a host directory bind-mounted into a container.
type Volume struct {
	Source string
	Target string
}

// IfAddr records one wired interface: its name inside the container, the
// CIDR address assigned to it (or UnnumberedAddr), and the segment it
// attaches to. Records are append-only for a container's running
// lifetime; peering-address derivation depends on them never being
// rewritten.
type IfAddr struct {
	IfName string
	Addr   string
	Bridge string
}

// -------------------------------------------------------------------------
// Container — one sandboxed process environment
// -------------------------------------------------------------------------

// Container models a single docker sandbox: its identity, image,
// interfaces, address records, and running state. It exposes the
// in-sandbox command-execution primitive everything above it builds on.
type Container struct {
	lab     *Lab
	name    string
	image   string
	volumes []Volume

	ifaces  []string
	addrs   []IfAddr
	running bool
	id      string

	logger *slog.Logger
}

// NewContainer declares a container. Construction is idempotent: a
// pre-existing sandbox with the same (prefixed) identity is force-removed
// first. The sandbox itself is not started until Run.
func (l *Lab) NewContainer(ctx context.Context, name, image string) (*Container, error) {
	c := &Container{
		lab:    l,
		name:   name,
		image:  image,
		logger: l.logger.With(slog.String("container", l.Prefix(name))),
	}

	existing, err := l.Containers(ctx)
	if err != nil {
		return nil, fmt.Errorf("container %s: %w", c.DockerName(), err)
	}
	if slices.Contains(existing, c.DockerName()) {
		if err := c.Remove(ctx); err != nil {
			return nil, fmt.Errorf("remove stale container %s: %w", c.DockerName(), err)
		}
	}

	return c, nil
}

// Name returns the logical (unprefixed) container name.
func (c *Container) Name() string { return c.name }

// DockerName returns the name the sandbox is addressed by externally:
// the logical name with the lab prefix applied.
func (c *Container) DockerName() string { return c.lab.Prefix(c.name) }

// Image returns the backing image reference.
func (c *Container) Image() string { return c.image }

// Running reports whether the sandbox has been started and not stopped.
func (c *Container) Running() bool { return c.running }

// Addrs returns a copy of the recorded (interface, address, bridge)
// triples.
func (c *Container) Addrs() []IfAddr {
	out := make([]IfAddr, len(c.addrs))
	copy(out, c.addrs)
	return out
}

// RecordAddr records an address assigned out of band, e.g. by an ip(8)
// invocation through Exec, so peering-address derivation can see it.
func (c *Container) RecordAddr(ifName, addr, bridge string) {
	c.addrs = append(c.addrs, IfAddr{IfName: ifName, Addr: addr, Bridge: bridge})
}

// AddVolume declares a host directory to bind-mount into the sandbox.
// Takes effect on the next Run.
func (c *Container) AddVolume(source, target string) {
	c.volumes = append(c.volumes, Volume{Source: source, Target: target})
}

// nextIfName allocates the next interface name on this container.
// eth0 is reserved for the default docker network, so wired interfaces
// start at eth1 and are numbered monotonically.
func (c *Container) nextIfName() string {
	name := fmt.Sprintf("eth%d", len(c.ifaces)+1)
	c.ifaces = append(c.ifaces, name)
	return name
}

// Run starts the sandbox detached and privileged with all declared
// volume mounts, brings up its loopback, and records the address docker
// assigned on eth0. It returns the boot grace period the caller should
// wait before interacting with the process inside; this is a fixed
// constant, not a readiness poll.
func (c *Container) Run(ctx context.Context) (time.Duration, error) {
	cmd := shell.NewBuffer(" ")
	cmd.Addf("%s run --privileged=true", c.lab.docker)
	for _, v := range c.volumes {
		cmd.Addf("-v %s:%s", v.Source, v.Target)
	}
	cmd.Addf("--name %s -id %s", c.DockerName(), c.image)

	id, err := c.lab.run(ctx, "container", cmd.String())
	if err != nil {
		return 0, fmt.Errorf("run container %s: %w", c.DockerName(), err)
	}
	c.id = id
	c.running = true
	c.lab.metrics.ContainerUp()

	if _, err := c.Exec(ctx, "ip link set up dev lo"); err != nil {
		return 0, fmt.Errorf("bring up loopback in %s: %w", c.DockerName(), err)
	}

	if err := c.discoverDefaultAddr(ctx); err != nil {
		return 0, err
	}

	c.logger.Info("container started", slog.String("image", c.image))

	return c.lab.bootGrace, nil
}

// discoverDefaultAddr inspects eth0 inside the sandbox and records the
// address docker assigned on the default network.
func (c *Container) discoverDefaultAddr(ctx context.Context) error {
	out, err := c.Exec(ctx, "ip addr show dev eth0")
	if err != nil {
		return fmt.Errorf("inspect eth0 in %s: %w", c.DockerName(), err)
	}

	for line := range strings.SplitSeq(out, "\n") {
		fields := strings.Fields(strings.TrimSpace(line))
		if len(fields) >= 2 && fields[0] == "inet" {
			c.addrs = append(c.addrs, IfAddr{IfName: "eth0", Addr: fields[1], Bridge: defaultBridge})
		}
	}

	return nil
}

// Stop stops the sandbox immediately (no grace period) and clears the
// running flag.
func (c *Container) Stop(ctx context.Context) error {
	_, err := c.lab.run(ctx, "container", fmt.Sprintf("%s stop -t 0 %s", c.lab.docker, c.DockerName()))
	if err != nil {
		return fmt.Errorf("stop container %s: %w", c.DockerName(), err)
	}
	c.markStopped()
	return nil
}

// Remove force-removes the sandbox and clears the running flag.
func (c *Container) Remove(ctx context.Context) error {
	_, err := c.lab.run(ctx, "container", fmt.Sprintf("%s rm -f %s", c.lab.docker, c.DockerName()))
	if err != nil {
		return fmt.Errorf("remove container %s: %w", c.DockerName(), err)
	}
	c.markStopped()
	return nil
}

func (c *Container) markStopped() {
	if c.running {
		c.lab.metrics.ContainerDown()
	}
	c.running = false
}

// Attach wires a point-to-point interface from the sandbox onto bridge
// and assigns it addr (UnnumberedAddr leaves it unaddressed). The
// (interface, address, bridge) triple is recorded on success. Attaching
// before Run is a warned no-op: the wiring tool needs a live network
// namespace to work in.
func (c *Container) Attach(ctx context.Context, bridge *Bridge, addr, ifName string) error {
	if !c.running {
		c.logger.Warn("attach requested before run, skipping",
			slog.String("bridge", bridge.Name()),
		)
		return nil
	}

	cmd := shell.NewBuffer(" ")
	cmd.Addf("pipework %s", bridge.Name())
	if ifName != "" {
		cmd.Addf("-i %s", ifName)
	} else {
		ifName = "eth1"
	}
	cmd.Addf("%s %s", c.DockerName(), addr)

	if _, err := c.lab.run(ctx, "wire", cmd.String()); err != nil {
		return fmt.Errorf("wire %s to %s: %w", c.DockerName(), bridge.Name(), err)
	}

	c.addrs = append(c.addrs, IfAddr{IfName: ifName, Addr: addr, Bridge: bridge.Name()})
	c.logger.Debug("interface wired",
		slog.String("bridge", bridge.Name()),
		slog.String("ifname", ifName),
		slog.String("addr", addr),
	)

	return nil
}

// Exec runs a command inside the running sandbox and returns its output.
// Not retried: in-sandbox commands are the payload, not provisioning, and
// callers poll or assert on their results. Running Exec against a stopped
// sandbox is the caller's mistake and surfaces as the docker error.
func (c *Container) Exec(ctx context.Context, cmd string) (string, error) {
	c.lab.metrics.RecordCommand("exec")
	return c.lab.runner.Run(ctx, fmt.Sprintf("%s exec %s %s", c.lab.docker, c.DockerName(), cmd))
}

// PID returns the sandbox's host process id, or UnknownPID when the
// container is not running.
func (c *Container) PID(ctx context.Context) (int, error) {
	if !c.running {
		return UnknownPID, nil
	}

	out, err := c.lab.runner.Run(ctx,
		fmt.Sprintf("%s inspect -f '{{.State.Pid}}' %s", c.lab.docker, c.DockerName()))
	if err != nil {
		return UnknownPID, fmt.Errorf("inspect pid of %s: %w", c.DockerName(), err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(out))
	if err != nil {
		return UnknownPID, fmt.Errorf("parse pid %q of %s: %w", out, c.DockerName(), err)
	}

	return pid, nil
}
