// Package gobgp drives gobgpd containers in a test topology: it renders
// gobgpd configuration from the declared peering state, manages the
// daemon lifecycle inside the sandbox, and observes sessions and RIBs
// through gobgpd's gRPC API.
package gobgp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	apipb "github.com/osrg/gobgp/v3/api"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/dantte-lp/bgplab/internal/netlab"
)

// -------------------------------------------------------------------------
// Sentinel Errors
// -------------------------------------------------------------------------

var (
	// ErrClientClosed indicates the client has been closed.
	ErrClientClosed = errors.New("gobgp client is closed")

	// ErrDialFailed indicates the gRPC dial to gobgpd failed.
	ErrDialFailed = errors.New("gobgp gRPC dial failed")

	// ErrUnknownFamily indicates a route family gobgpd cannot express.
	ErrUnknownFamily = errors.New("unknown route family")
)

// -------------------------------------------------------------------------
// GRPCClient — gobgpd gRPC API client
// -------------------------------------------------------------------------

// GRPCClient wraps the generated GobgpApiClient toward one gobgpd
// instance.
//
// The underlying gRPC connection uses insecure credentials (plaintext):
// gobgpd's API is only reachable on the lab's private segments.
type GRPCClient struct {
	conn   *grpc.ClientConn
	api    apipb.GobgpApiClient
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
}

// NewGRPCClient creates a client toward the gobgpd gRPC API at addr
// (host:port). grpc.NewClient does not block; connectivity surfaces on
// the first RPC.
func NewGRPCClient(addr string, logger *slog.Logger) (*GRPCClient, error) {
	if addr == "" {
		return nil, fmt.Errorf("create gobgp client: %w: empty address", ErrDialFailed)
	}

	conn, err := grpc.NewClient(
		addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("create gobgp client to %s: %w: %w", addr, ErrDialFailed, err)
	}

	return &GRPCClient{
		conn: conn,
		api:  apipb.NewGobgpApiClient(conn),
		logger: logger.With(
			slog.String("component", "gobgp.client"),
			slog.String("addr", addr),
		),
	}, nil
}

// checkOpen returns ErrClientClosed once Close has been called.
func (c *GRPCClient) checkOpen(op string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return fmt.Errorf("%s: %w", op, ErrClientClosed)
	}
	return nil
}

// NeighborState returns the FSM state of the session toward addr.
func (c *GRPCClient) NeighborState(ctx context.Context, addr string) (netlab.FSMState, error) {
	if err := c.checkOpen("neighbor state"); err != nil {
		return netlab.StateIdle, err
	}

	stream, err := c.api.ListPeer(ctx, &apipb.ListPeerRequest{Address: addr})
	if err != nil {
		return netlab.StateIdle, fmt.Errorf("list peer %s: %w", addr, err)
	}

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return netlab.StateIdle, fmt.Errorf("list peer %s: %w", addr, err)
		}
		if state := resp.GetPeer().GetState(); state != nil {
			return mapSessionState(state.SessionState), nil
		}
	}

	// gobgpd knows no such neighbor yet; treat as not started.
	return netlab.StateIdle, nil
}

// mapSessionState collapses gobgpd's seven FSM states onto the three
// phases topologies assert on. The connection-establishment states all
// count as Active: the session is being attempted but not up.
func mapSessionState(s apipb.PeerState_SessionState) netlab.FSMState {
	switch s {
	case apipb.PeerState_ESTABLISHED:
		return netlab.StateEstablished
	case apipb.PeerState_CONNECT,
		apipb.PeerState_ACTIVE,
		apipb.PeerState_OPENSENT,
		apipb.PeerState_OPENCONFIRM:
		return netlab.StateActive
	default:
		return netlab.StateIdle
	}
}

// ListRib returns the entries of the given table. For the per-neighbor
// LOCAL view, neighbor carries the neighbor address; for GLOBAL it is
// empty.
func (c *GRPCClient) ListRib(ctx context.Context, table apipb.TableType, neighbor string, family netlab.RouteFamily) ([]netlab.RibEntry, error) {
	if err := c.checkOpen("list rib"); err != nil {
		return nil, err
	}

	fam, err := apiFamily(family)
	if err != nil {
		return nil, err
	}

	stream, err := c.api.ListPath(ctx, &apipb.ListPathRequest{
		TableType: table,
		Name:      neighbor,
		Family:    fam,
	})
	if err != nil {
		return nil, fmt.Errorf("list %s rib: %w", family, err)
	}

	var entries []netlab.RibEntry
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list %s rib: %w", family, err)
		}

		dst := resp.GetDestination()
		if dst == nil {
			continue
		}
		for _, path := range dst.GetPaths() {
			entry := netlab.RibEntry{
				Prefix: dst.GetPrefix(),
				Best:   path.GetBest(),
			}
			decodePathAttrs(path, &entry)
			entries = append(entries, entry)
		}
	}

	return entries, nil
}

// decodePathAttrs extracts next hop and AS path from a path's packed
// attributes. Unknown attribute types are skipped.
func decodePathAttrs(path *apipb.Path, entry *netlab.RibEntry) {
	for _, packed := range path.GetPattrs() {
		msg, err := packed.UnmarshalNew()
		if err != nil {
			continue
		}
		switch attr := msg.(type) {
		case *apipb.NextHopAttribute:
			entry.NextHop = attr.NextHop
		case *apipb.MpReachNLRIAttribute:
			if len(attr.NextHops) > 0 {
				entry.NextHop = attr.NextHops[0]
			}
		case *apipb.AsPathAttribute:
			for _, seg := range attr.Segments {
				entry.ASPath = append(entry.ASPath, seg.Numbers...)
			}
		}
	}
}

// apiFamily maps a route family onto gobgpd's (AFI, SAFI) pair.
func apiFamily(family netlab.RouteFamily) (*apipb.Family, error) {
	switch family {
	case netlab.FamilyIPv4, "":
		return &apipb.Family{Afi: apipb.Family_AFI_IP, Safi: apipb.Family_SAFI_UNICAST}, nil
	case netlab.FamilyIPv6:
		return &apipb.Family{Afi: apipb.Family_AFI_IP6, Safi: apipb.Family_SAFI_UNICAST}, nil
	case netlab.FamilyEVPN:
		return &apipb.Family{Afi: apipb.Family_AFI_L2VPN, Safi: apipb.Family_SAFI_EVPN}, nil
	case netlab.FamilyFlowSpec:
		return &apipb.Family{Afi: apipb.Family_AFI_IP, Safi: apipb.Family_SAFI_FLOW_SPEC_UNICAST}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFamily, family)
	}
}

// DisablePeer administratively disables the session toward addr.
func (c *GRPCClient) DisablePeer(ctx context.Context, addr string) error {
	if err := c.checkOpen("disable peer"); err != nil {
		return err
	}

	_, err := c.api.DisablePeer(ctx, &apipb.DisablePeerRequest{Address: addr})
	if err != nil {
		return fmt.Errorf("disable peer %s: %w", addr, err)
	}

	c.logger.Info("disabled BGP peer", slog.String("peer", addr))
	return nil
}

// EnablePeer re-enables a previously disabled session toward addr.
func (c *GRPCClient) EnablePeer(ctx context.Context, addr string) error {
	if err := c.checkOpen("enable peer"); err != nil {
		return err
	}

	_, err := c.api.EnablePeer(ctx, &apipb.EnablePeerRequest{Address: addr})
	if err != nil {
		return fmt.Errorf("enable peer %s: %w", addr, err)
	}

	c.logger.Info("enabled BGP peer", slog.String("peer", addr))
	return nil
}

// Close releases the underlying gRPC connection. After Close, all
// methods return ErrClientClosed.
func (c *GRPCClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	if err := c.conn.Close(); err != nil {
		return fmt.Errorf("close gobgp client: %w", err)
	}

	return nil
}
