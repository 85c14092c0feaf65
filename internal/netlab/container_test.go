package netlab

import (
	"context"
	"errors"
	"strings"
	"testing"
)

const eth0Show = `2: eth0@if7: <BROADCAST,MULTICAST,UP,LOWER_UP> mtu 1500
    link/ether 02:42:ac:11:00:02 brd ff:ff:ff:ff:ff:ff
    inet 172.17.0.2/16 brd 172.17.255.255 scope global eth0
       valid_lft forever preferred_lft forever`

// routerRunner answers the docker commands Container.Run issues.
func routerRunner(existing string) *fakeRunner {
	return &fakeRunner{
		respond: func(_ int, cmd string) (string, error) {
			switch {
			case strings.Contains(cmd, "ps -a"):
				return existing, nil
			case strings.Contains(cmd, "ip addr show dev eth0"):
				return eth0Show, nil
			case strings.Contains(cmd, " run "):
				return "f00dfeed", nil
			default:
				return "", nil
			}
		},
	}
}

func TestNewContainerRemovesStaleSandbox(t *testing.T) {
	t.Parallel()

	runner := routerRunner("r1\nother")
	lab := newTestLab(t, runner, newFakeLinks())

	if _, err := lab.NewContainer(context.Background(), "r1", "example/router:latest"); err != nil {
		t.Fatalf("NewContainer() error = %v", err)
	}

	if rm := runner.commandContaining("rm -f r1"); rm == "" {
		t.Errorf("stale sandbox not removed, commands: %v", runner.commands())
	}
}

func TestNewContainerLeavesOthersAlone(t *testing.T) {
	t.Parallel()

	runner := routerRunner("other")
	lab := newTestLab(t, runner, newFakeLinks())

	if _, err := lab.NewContainer(context.Background(), "r1", "example/router:latest"); err != nil {
		t.Fatalf("NewContainer() error = %v", err)
	}

	if rm := runner.commandContaining("rm -f"); rm != "" {
		t.Errorf("unexpected removal command %q", rm)
	}
}

func TestContainerRun(t *testing.T) {
	t.Parallel()

	runner := routerRunner("")
	lab := newTestLab(t, runner, newFakeLinks())
	ctx := context.Background()

	ctn, err := lab.NewContainer(ctx, "r1", "example/router:latest")
	if err != nil {
		t.Fatalf("NewContainer() error = %v", err)
	}
	ctn.AddVolume("/tmp/r1", "/etc/router")

	if _, err := ctn.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	run := runner.commandContaining(" run ")
	for _, want := range []string{
		"--privileged=true",
		"-v /tmp/r1:/etc/router",
		"--name r1",
		"-id example/router:latest",
	} {
		if !strings.Contains(run, want) {
			t.Errorf("run command %q missing %q", run, want)
		}
	}

	if !ctn.Running() {
		t.Error("Running() = false after Run()")
	}

	if lo := runner.commandContaining("ip link set up dev lo"); lo == "" {
		t.Error("loopback not brought up")
	}

	addrs := ctn.Addrs()
	if len(addrs) != 1 {
		t.Fatalf("Addrs() = %v, want the discovered eth0 record", addrs)
	}
	want := IfAddr{IfName: "eth0", Addr: "172.17.0.2/16", Bridge: "docker0"}
	if addrs[0] != want {
		t.Errorf("discovered address = %+v, want %+v", addrs[0], want)
	}
}

func TestContainerPrefixedDockerName(t *testing.T) {
	t.Parallel()

	cfg := testLabConfig(t)
	cfg.Lab.Prefix = "x1"
	lab := New(cfg, WithRunner(routerRunner("")), WithLinkManager(newFakeLinks()))

	ctn, err := lab.NewContainer(context.Background(), "r1", "example/router:latest")
	if err != nil {
		t.Fatalf("NewContainer() error = %v", err)
	}

	if got, want := ctn.DockerName(), "x1_r1"; got != want {
		t.Errorf("DockerName() = %q, want %q", got, want)
	}
	if got, want := ctn.Name(), "r1"; got != want {
		t.Errorf("Name() = %q, want %q", got, want)
	}
}

func TestContainerStopClearsRunning(t *testing.T) {
	t.Parallel()

	runner := routerRunner("")
	lab := newTestLab(t, runner, newFakeLinks())
	ctx := context.Background()

	ctn, err := lab.NewContainer(ctx, "r1", "example/router:latest")
	if err != nil {
		t.Fatalf("NewContainer() error = %v", err)
	}
	if _, err := ctn.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if err := ctn.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if ctn.Running() {
		t.Error("Running() = true after Stop()")
	}
	if stop := runner.commandContaining("stop -t 0 r1"); stop == "" {
		t.Errorf("stop command not issued, commands: %v", runner.commands())
	}
}

func TestContainerPID(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{
		respond: func(_ int, cmd string) (string, error) {
			switch {
			case strings.Contains(cmd, "ps -a"):
				return "", nil
			case strings.Contains(cmd, "ip addr show dev eth0"):
				return eth0Show, nil
			case strings.Contains(cmd, "inspect"):
				return "4242\n", nil
			case strings.Contains(cmd, " run "):
				return "f00dfeed", nil
			default:
				return "", nil
			}
		},
	}
	lab := newTestLab(t, runner, newFakeLinks())
	ctx := context.Background()

	ctn, err := lab.NewContainer(ctx, "r1", "example/router:latest")
	if err != nil {
		t.Fatalf("NewContainer() error = %v", err)
	}

	// Not running yet: sentinel, no error.
	pid, err := ctn.PID(ctx)
	if err != nil {
		t.Fatalf("PID() before Run() error = %v", err)
	}
	if pid != UnknownPID {
		t.Errorf("PID() before Run() = %d, want UnknownPID", pid)
	}

	if _, err := ctn.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	pid, err = ctn.PID(ctx)
	if err != nil {
		t.Fatalf("PID() error = %v", err)
	}
	if pid != 4242 {
		t.Errorf("PID() = %d, want 4242", pid)
	}
}

func TestAttachBeforeRunIsNoOp(t *testing.T) {
	t.Parallel()

	runner := routerRunner("")
	lab := newTestLab(t, runner, newFakeLinks())
	ctx := context.Background()

	b, err := lab.NewBridge(ctx, BridgeConfig{Name: "br01", Subnet: "10.0.0.0/24"})
	if err != nil {
		t.Fatalf("NewBridge() error = %v", err)
	}
	ctn, err := lab.NewContainer(ctx, "r1", "example/router:latest")
	if err != nil {
		t.Fatalf("NewContainer() error = %v", err)
	}

	if err := ctn.Attach(ctx, b, "10.0.0.2/24", "eth1"); err != nil {
		t.Fatalf("Attach() before Run() error = %v, want warned no-op", err)
	}
	if wire := runner.commandContaining("pipework"); wire != "" {
		t.Errorf("wiring command issued against a stopped sandbox: %q", wire)
	}
	if addrs := ctn.Addrs(); len(addrs) != 0 {
		t.Errorf("Addrs() = %v, want no record for a skipped attach", addrs)
	}
}

func TestContainerRunPropagatesDockerFailure(t *testing.T) {
	t.Parallel()

	errDaemon := errors.New("daemon unavailable")
	runner := &fakeRunner{
		respond: func(_ int, cmd string) (string, error) {
			if strings.Contains(cmd, " run ") {
				return "", errDaemon
			}
			return "", nil
		},
	}
	lab := newTestLab(t, runner, newFakeLinks())
	ctx := context.Background()

	ctn, err := lab.NewContainer(ctx, "r1", "example/router:latest")
	if err != nil {
		t.Fatalf("NewContainer() error = %v", err)
	}

	if _, err := ctn.Run(ctx); !errors.Is(err, errDaemon) {
		t.Errorf("Run() error = %v, want wrapped daemon error", err)
	}
	if ctn.Running() {
		t.Error("Running() = true after failed Run()")
	}
}
