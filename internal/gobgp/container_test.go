package gobgp

import (
	"errors"
	"testing"

	"github.com/dantte-lp/bgplab/internal/netlab"
)

func TestRibAddCommand(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		route netlab.Route
		want  string
	}{
		{
			name:  "bare ipv4 prefix",
			route: netlab.Route{Prefix: "10.10.0.0/24", Family: netlab.FamilyIPv4},
			want:  "gobgp global rib add -a ipv4 10.10.0.0/24",
		},
		{
			name:  "empty family defaults to ipv4",
			route: netlab.Route{Prefix: "10.10.0.0/24"},
			want:  "gobgp global rib add -a ipv4 10.10.0.0/24",
		},
		{
			name: "full attribute set",
			route: netlab.Route{
				Prefix:      "10.20.0.0/24",
				Family:      netlab.FamilyIPv4,
				NextHop:     "10.0.0.9",
				ASPath:      []uint32{65010, 65020},
				Communities: []string{"65001:100"},
				MED:         50,
				LocalPref:   200,
			},
			want: "gobgp global rib add -a ipv4 10.20.0.0/24 nexthop 10.0.0.9 aspath 65010,65020 community 65001:100 med 50 local-pref 200",
		},
		{
			name:  "ipv6 prefix",
			route: netlab.Route{Prefix: "2001:db8:1::/48", Family: netlab.FamilyIPv6},
			want:  "gobgp global rib add -a ipv6 2001:db8:1::/48",
		},
		{
			name: "flowspec match then",
			route: netlab.Route{
				Family: netlab.FamilyFlowSpec,
				Matchs: []string{"destination 10.0.0.0/24", "protocol tcp"},
				Thens:  []string{"discard"},
			},
			want: "gobgp global rib add -a ipv4-flowspec match destination 10.0.0.0/24 protocol tcp then discard",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := ribAddCommand(&tt.route)
			if err != nil {
				t.Fatalf("ribAddCommand() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("ribAddCommand() =\n  %q\nwant\n  %q", got, tt.want)
			}
		})
	}
}

func TestRibAddCommandUnknownFamily(t *testing.T) {
	t.Parallel()

	_, err := ribAddCommand(&netlab.Route{Prefix: "10.0.0.0/24", Family: "vpls"})
	if !errors.Is(err, ErrUnknownFamily) {
		t.Errorf("ribAddCommand() error = %v, want ErrUnknownFamily", err)
	}
}

func TestCliFamily(t *testing.T) {
	t.Parallel()

	tests := []struct {
		family netlab.RouteFamily
		want   string
	}{
		{netlab.FamilyIPv4, "ipv4"},
		{netlab.FamilyIPv6, "ipv6"},
		{netlab.FamilyEVPN, "evpn"},
		{netlab.FamilyFlowSpec, "ipv4-flowspec"},
		{"", "ipv4"},
	}

	for _, tt := range tests {
		got, err := cliFamily(tt.family)
		if err != nil {
			t.Errorf("cliFamily(%q) error = %v", tt.family, err)
			continue
		}
		if got != tt.want {
			t.Errorf("cliFamily(%q) = %q, want %q", tt.family, got, tt.want)
		}
	}
}
