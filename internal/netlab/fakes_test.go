package netlab

import (
	"context"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dantte-lp/bgplab/internal/config"
)

// fakeRunner implements shell.Runner, recording every command and
// answering through an optional scripted respond hook.
type fakeRunner struct {
	mu      sync.Mutex
	cmds    []string
	respond func(call int, cmd string) (string, error)
}

func (f *fakeRunner) Run(_ context.Context, cmd string) (string, error) {
	f.mu.Lock()
	call := len(f.cmds)
	f.cmds = append(f.cmds, cmd)
	f.mu.Unlock()

	if f.respond == nil {
		return "", nil
	}
	return f.respond(call, cmd)
}

func (f *fakeRunner) commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.cmds)
}

func (f *fakeRunner) commandContaining(sub string) string {
	for _, c := range f.commands() {
		if strings.Contains(c, sub) {
			return c
		}
	}
	return ""
}

// fakeLinks implements LinkManager in memory.
type fakeLinks struct {
	mu      sync.Mutex
	bridges map[string]bool     // name -> up
	addrs   map[string][]string // name -> assigned CIDRs
	deleted []string
}

func newFakeLinks() *fakeLinks {
	return &fakeLinks{
		bridges: make(map[string]bool),
		addrs:   make(map[string][]string),
	}
}

func (f *fakeLinks) BridgeExists(name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.bridges[name]
	return ok, nil
}

func (f *fakeLinks) AddBridge(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bridges[name] = false
	return nil
}

func (f *fakeLinks) DeleteBridge(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.bridges, name)
	f.deleted = append(f.deleted, name)
	return nil
}

func (f *fakeLinks) SetUp(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bridges[name] = true
	return nil
}

func (f *fakeLinks) SetDown(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bridges[name] = false
	return nil
}

func (f *fakeLinks) AddAddr(name, cidr string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.addrs[name] = append(f.addrs[name], cidr)
	return nil
}

func (f *fakeLinks) ListBridges() ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var names []string
	for name := range f.bridges {
		names = append(names, name)
	}
	slices.Sort(names)
	return names, nil
}

// testLabConfig returns a config with timings shrunk so polling loops
// run in milliseconds.
func testLabConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Lab.BaseDir = t.TempDir()
	cfg.Lab.BootGrace = 0
	cfg.Retry.Attempts = 3
	cfg.Retry.Interval = time.Millisecond
	cfg.Wait.PollInterval = 2 * time.Millisecond
	cfg.Wait.StateTimeout = 50 * time.Millisecond
	cfg.Wait.ReachabilityTimeout = 50 * time.Millisecond
	return cfg
}

func newTestLab(t *testing.T, runner *fakeRunner, links *fakeLinks, opts ...Option) *Lab {
	t.Helper()

	if runner != nil {
		opts = append(opts, WithRunner(runner))
	}
	if links != nil {
		opts = append(opts, WithLinkManager(links))
	}
	return New(testLabConfig(t), opts...)
}
