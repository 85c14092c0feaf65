package gobgp

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dantte-lp/bgplab/internal/netlab"
)

// -------------------------------------------------------------------------
// gobgpd configuration rendering
// -------------------------------------------------------------------------

// The YAML below follows gobgpd's openconfig-derived file schema
// (gobgpd -t yaml). Only the knobs the topology layer declares are
// rendered; everything else keeps gobgpd's defaults.

type fileConfig struct {
	Global            globalSection    `yaml:"global"`
	Neighbors         []neighborEntry  `yaml:"neighbors,omitempty"`
	PolicyDefinitions []map[string]any `yaml:"policy-definitions,omitempty"`
}

type globalSection struct {
	Config globalParams `yaml:"config"`
}

type globalParams struct {
	AS       uint32 `yaml:"as"`
	RouterID string `yaml:"router-id"`
}

type neighborEntry struct {
	Config         neighborParams  `yaml:"config"`
	Transport      *transportEntry `yaml:"transport,omitempty"`
	RouteServer    *routeServer    `yaml:"route-server,omitempty"`
	RouteReflector *routeReflector `yaml:"route-reflector,omitempty"`
	AfiSafis       []afiSafiEntry  `yaml:"afi-safis,omitempty"`
	ApplyPolicy    *applyPolicy    `yaml:"apply-policy,omitempty"`
}

type neighborParams struct {
	NeighborAddress string `yaml:"neighbor-address"`
	PeerAS          uint32 `yaml:"peer-as"`
	AuthPassword    string `yaml:"auth-password,omitempty"`
}

type transportEntry struct {
	Config transportParams `yaml:"config"`
}

type transportParams struct {
	LocalAddress string `yaml:"local-address,omitempty"`
	PassiveMode  bool   `yaml:"passive-mode,omitempty"`
}

type routeServer struct {
	Config routeServerParams `yaml:"config"`
}

type routeServerParams struct {
	RouteServerClient bool `yaml:"route-server-client"`
}

type routeReflector struct {
	Config routeReflectorParams `yaml:"config"`
}

type routeReflectorParams struct {
	RouteReflectorClient    bool   `yaml:"route-reflector-client"`
	RouteReflectorClusterID string `yaml:"route-reflector-cluster-id,omitempty"`
}

type afiSafiEntry struct {
	Config afiSafiParams `yaml:"config"`
}

type afiSafiParams struct {
	AfiSafiName string `yaml:"afi-safi-name"`
}

type applyPolicy struct {
	Config applyPolicyParams `yaml:"config"`
}

type applyPolicyParams struct {
	ImportPolicyList []string `yaml:"import-policy-list,omitempty"`
	ExportPolicyList []string `yaml:"export-policy-list,omitempty"`
}

// renderConfig produces the gobgpd YAML configuration for a container's
// current declared state. Deterministic: peerings and policies come out
// sorted.
func renderConfig(ctn *netlab.BGPContainer) ([]byte, error) {
	cfg := fileConfig{
		Global: globalSection{
			Config: globalParams{
				AS:       ctn.ASN(),
				RouterID: ctn.RouterID(),
			},
		},
	}

	for _, pc := range ctn.PeerConfigs() {
		cfg.Neighbors = append(cfg.Neighbors, renderNeighbor(pc))
	}

	for _, p := range ctn.Policies() {
		def := map[string]any{"name": p.Name}
		for k, v := range p.Definition {
			def[k] = v
		}
		cfg.PolicyDefinitions = append(cfg.PolicyDefinitions, def)
	}

	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal gobgpd config: %w", err)
	}
	return data, nil
}

func renderNeighbor(pc *netlab.PeerConfig) neighborEntry {
	n := neighborEntry{
		Config: neighborParams{
			NeighborAddress: stripPrefixLen(pc.NeighborAddr),
			PeerAS:          pc.PeerAS,
			AuthPassword:    pc.Settings.Password,
		},
	}

	if pc.Settings.Passive || pc.LocalAddr != "" {
		n.Transport = &transportEntry{
			Config: transportParams{
				LocalAddress: stripPrefixLen(pc.LocalAddr),
				PassiveMode:  pc.Settings.Passive,
			},
		}
	}

	if pc.Settings.RouteServerClient {
		n.RouteServer = &routeServer{
			Config: routeServerParams{RouteServerClient: true},
		}
	}

	if pc.Settings.RouteReflectorClient {
		n.RouteReflector = &routeReflector{
			Config: routeReflectorParams{
				RouteReflectorClient:    true,
				RouteReflectorClusterID: pc.Settings.ClusterID,
			},
		}
	}

	for _, name := range afiSafiNames(pc.Settings) {
		n.AfiSafis = append(n.AfiSafis, afiSafiEntry{
			Config: afiSafiParams{AfiSafiName: name},
		})
	}

	var imports, exports []string
	for _, p := range pc.Policies {
		switch p.Direction {
		case netlab.PolicyExport:
			exports = append(exports, p.Name)
		default:
			imports = append(imports, p.Name)
		}
	}
	if len(imports) > 0 || len(exports) > 0 {
		n.ApplyPolicy = &applyPolicy{
			Config: applyPolicyParams{
				ImportPolicyList: imports,
				ExportPolicyList: exports,
			},
		}
	}

	return n
}

// afiSafiNames returns the address families negotiated with a peer.
// IPv4 and IPv6 unicast are always offered; EVPN and FlowSpec join when
// the peering declares them.
func afiSafiNames(s netlab.PeerSettings) []string {
	names := []string{"ipv4-unicast", "ipv6-unicast"}
	if s.EVPN {
		names = append(names, "l2vpn-evpn")
	}
	if s.FlowSpec {
		names = append(names, "ipv4-flowspec")
	}
	return names
}

// stripPrefixLen turns "10.0.0.1/24" into "10.0.0.1". Addresses without
// a prefix length pass through.
func stripPrefixLen(cidr string) string {
	addr, _, found := strings.Cut(cidr, "/")
	if !found {
		return cidr
	}
	return addr
}
