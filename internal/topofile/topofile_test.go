package topofile

import (
	"errors"
	"testing"
)

const sampleTopology = `
name: lab1
segments:
  - name: br01
    cidr: 10.0.0.0/24
  - name: br02
nodes:
  - name: r1
    as: 65001
    router_id: 192.168.0.1
    segments: [br01]
    routes:
      - prefix: 10.10.0.0/24
  - name: r2
    as: 65002
    router_id: 192.168.0.2
    image: osrg/gobgp
    segments: [br01, br02]
peerings:
  - a: r1
    b: r2
    bridge: br01
    passive: true
`

func TestParse(t *testing.T) {
	t.Parallel()

	topo, err := Parse([]byte(sampleTopology))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if topo.Name != "lab1" {
		t.Errorf("Name = %q, want lab1", topo.Name)
	}
	if len(topo.Segments) != 2 || len(topo.Nodes) != 2 || len(topo.Peerings) != 1 {
		t.Fatalf("parsed %d segments, %d nodes, %d peerings, want 2/2/1",
			len(topo.Segments), len(topo.Nodes), len(topo.Peerings))
	}

	r2 := topo.Nodes[1]
	if r2.AS != 65002 || r2.RouterID != "192.168.0.2" || len(r2.Segments) != 2 {
		t.Errorf("node r2 parsed as %+v", r2)
	}

	p := topo.Peerings[0]
	if p.A != "r1" || p.B != "r2" || p.Bridge != "br01" || !p.Passive {
		t.Errorf("peering parsed as %+v", p)
	}
}

func TestParseRejectsInvalidYAML(t *testing.T) {
	t.Parallel()

	if _, err := Parse([]byte("{nodes: [")); err == nil {
		t.Error("Parse(malformed) error = nil, want error")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	node := func(name string, segs ...string) Node {
		return Node{Name: name, AS: 65001, RouterID: "192.168.0.1", Segments: segs}
	}

	tests := []struct {
		name    string
		topo    Topology
		wantErr error
	}{
		{
			name:    "no nodes",
			topo:    Topology{Segments: []Segment{{Name: "br01"}}},
			wantErr: ErrNoNodes,
		},
		{
			name: "duplicate segment",
			topo: Topology{
				Segments: []Segment{{Name: "br01"}, {Name: "br01"}},
				Nodes:    []Node{node("r1")},
			},
			wantErr: ErrDuplicateName,
		},
		{
			name: "duplicate node",
			topo: Topology{
				Nodes: []Node{node("r1"), node("r1")},
			},
			wantErr: ErrDuplicateName,
		},
		{
			name: "unknown segment reference",
			topo: Topology{
				Nodes: []Node{node("r1", "br99")},
			},
			wantErr: ErrUnknownSegment,
		},
		{
			name: "missing AS",
			topo: Topology{
				Nodes: []Node{{Name: "r1", RouterID: "192.168.0.1"}},
			},
			wantErr: ErrMissingAS,
		},
		{
			name: "missing router id",
			topo: Topology{
				Nodes: []Node{{Name: "r1", AS: 65001}},
			},
			wantErr: ErrMissingRouterID,
		},
		{
			name: "peering to unknown node",
			topo: Topology{
				Nodes:    []Node{node("r1")},
				Peerings: []Peering{{A: "r1", B: "r9"}},
			},
			wantErr: ErrUnknownNode,
		},
		{
			name: "self peering",
			topo: Topology{
				Nodes:    []Node{node("r1")},
				Peerings: []Peering{{A: "r1", B: "r1"}},
			},
			wantErr: ErrSelfPeering,
		},
		{
			name: "peering pinned to unknown segment",
			topo: Topology{
				Nodes:    []Node{node("r1"), node("r2")},
				Peerings: []Peering{{A: "r1", B: "r2", Bridge: "br99"}},
			},
			wantErr: ErrUnknownSegment,
		},
		{
			name: "valid",
			topo: Topology{
				Segments: []Segment{{Name: "br01", CIDR: "10.0.0.0/24"}},
				Nodes:    []Node{node("r1", "br01"), node("r2", "br01")},
				Peerings: []Peering{{A: "r1", B: "r2"}},
			},
			wantErr: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := tt.topo.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestPeeringSettingsDirections(t *testing.T) {
	t.Parallel()

	p := Peering{A: "r1", B: "r2", Passive: true, Password: "pw", EVPN: true}

	aSide := p.settings(true)
	if !aSide.Passive {
		t.Error("A side of a passive peering is not passive")
	}
	zSide := p.settings(false)
	if zSide.Passive {
		t.Error("B side of a passive peering must actively open")
	}
	if aSide.Password != "pw" || zSide.Password != "pw" {
		t.Error("password not carried to both sides")
	}
	if !aSide.EVPN || !zSide.EVPN {
		t.Error("EVPN flag not carried to both sides")
	}
}
