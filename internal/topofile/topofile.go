// Package topofile loads declarative topology files: the segments,
// BGP nodes, and peerings of one lab run, described in YAML and built
// onto a netlab.Lab.
package topofile

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/dantte-lp/bgplab/internal/netlab"
)

// -------------------------------------------------------------------------
// Schema
// -------------------------------------------------------------------------

// Topology is the root of a topology file.
type Topology struct {
	// Name becomes the lab prefix when set, namespacing every bridge
	// and container of this run.
	Name string `yaml:"name"`

	Segments []Segment `yaml:"segments"`
	Nodes    []Node    `yaml:"nodes"`
	Peerings []Peering `yaml:"peerings"`
}

// Segment declares one L2 segment.
type Segment struct {
	Name string `yaml:"name"`

	// CIDR is the segment subnet; empty declares an unnumbered segment.
	CIDR string `yaml:"cidr"`

	// SelfAddr gives the bridge device itself the first address.
	SelfAddr bool `yaml:"self_addr"`
}

// Node declares one BGP-speaking container.
type Node struct {
	Name     string   `yaml:"name"`
	AS       uint32   `yaml:"as"`
	RouterID string   `yaml:"router_id"`
	Image    string   `yaml:"image"`
	Segments []string `yaml:"segments"`
	Volumes  []Volume `yaml:"volumes"`
	Routes   []Route  `yaml:"routes"`
}

// Volume declares a bind mount on a node.
type Volume struct {
	Source string `yaml:"source"`
	Target string `yaml:"target"`
}

// Route declares a route a node announces.
type Route struct {
	Prefix    string   `yaml:"prefix"`
	Family    string   `yaml:"family"`
	NextHop   string   `yaml:"next_hop"`
	ASPath    []uint32 `yaml:"as_path"`
	MED       uint32   `yaml:"med"`
	LocalPref uint32   `yaml:"local_pref"`
}

// Peering declares a bidirectional peering between two nodes.
type Peering struct {
	A string `yaml:"a"`
	B string `yaml:"b"`

	// Bridge pins address derivation to one segment when the nodes
	// share several.
	Bridge string `yaml:"bridge"`

	Password string `yaml:"password"`

	// Passive makes the A side wait for B to open the session.
	Passive bool `yaml:"passive"`

	EVPN     bool `yaml:"evpn"`
	FlowSpec bool `yaml:"flowspec"`
}

// -------------------------------------------------------------------------
// Loading and validation
// -------------------------------------------------------------------------

// Validation errors.
var (
	// ErrNoNodes indicates a topology without any node.
	ErrNoNodes = errors.New("topology declares no nodes")

	// ErrDuplicateName indicates a segment or node name used twice.
	ErrDuplicateName = errors.New("duplicate name in topology")

	// ErrUnknownSegment indicates a node references an undeclared segment.
	ErrUnknownSegment = errors.New("node references unknown segment")

	// ErrUnknownNode indicates a peering references an undeclared node.
	ErrUnknownNode = errors.New("peering references unknown node")

	// ErrSelfPeering indicates a peering from a node to itself.
	ErrSelfPeering = errors.New("node cannot peer with itself")

	// ErrMissingAS indicates a node without an AS number.
	ErrMissingAS = errors.New("node needs an AS number")

	// ErrMissingRouterID indicates a node without a router id.
	ErrMissingRouterID = errors.New("node needs a router id")
)

// Load reads and validates a topology file.
func Load(path string) (*Topology, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read topology %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates topology YAML.
func Parse(data []byte) (*Topology, error) {
	var topo Topology
	if err := yaml.Unmarshal(data, &topo); err != nil {
		return nil, fmt.Errorf("parse topology: %w", err)
	}
	if err := topo.Validate(); err != nil {
		return nil, err
	}
	return &topo, nil
}

// Validate checks the topology for referential mistakes. Returns the
// first error encountered.
func (t *Topology) Validate() error {
	if len(t.Nodes) == 0 {
		return ErrNoNodes
	}

	segments := make(map[string]bool, len(t.Segments))
	for _, seg := range t.Segments {
		if segments[seg.Name] {
			return fmt.Errorf("%w: segment %q", ErrDuplicateName, seg.Name)
		}
		segments[seg.Name] = true
	}

	nodes := make(map[string]bool, len(t.Nodes))
	for _, node := range t.Nodes {
		if nodes[node.Name] {
			return fmt.Errorf("%w: node %q", ErrDuplicateName, node.Name)
		}
		nodes[node.Name] = true

		if node.AS == 0 {
			return fmt.Errorf("%w: node %q", ErrMissingAS, node.Name)
		}
		if node.RouterID == "" {
			return fmt.Errorf("%w: node %q", ErrMissingRouterID, node.Name)
		}
		for _, seg := range node.Segments {
			if !segments[seg] {
				return fmt.Errorf("%w: node %q references %q", ErrUnknownSegment, node.Name, seg)
			}
		}
	}

	for _, p := range t.Peerings {
		if !nodes[p.A] {
			return fmt.Errorf("%w: %q", ErrUnknownNode, p.A)
		}
		if !nodes[p.B] {
			return fmt.Errorf("%w: %q", ErrUnknownNode, p.B)
		}
		if p.A == p.B {
			return fmt.Errorf("%w: %q", ErrSelfPeering, p.A)
		}
		if p.Bridge != "" && !segments[p.Bridge] {
			return fmt.Errorf("%w: peering %s-%s references %q", ErrUnknownSegment, p.A, p.B, p.Bridge)
		}
	}

	return nil
}

// settings maps a peering declaration onto the peer settings of one
// direction. Passive applies to the A side only; the B side actively
// opens.
func (p *Peering) settings(aSide bool) netlab.PeerSettings {
	return netlab.PeerSettings{
		Password: p.Password,
		Passive:  aSide && p.Passive,
		EVPN:     p.EVPN,
		FlowSpec: p.FlowSpec,
	}
}
