package netlab

import (
	"fmt"
	"net/netip"
)

// UnnumberedAddr is the sentinel passed to the wiring tool when a bridge
// carries no addressing: the interface is created but left unaddressed.
const UnnumberedAddr = "0/0"

// AddrPool allocates successive addresses from a subnet. It is an
// explicit cursor over the address range: the network address is skipped
// at construction, allocations are strictly increasing, and walking past
// the end of the subnet is a checked error rather than a wrap-around.
type AddrPool struct {
	subnet netip.Prefix
	cursor netip.Addr
}

// NewAddrPool creates a pool over the given CIDR subnet. The first
// Next() call returns the second address of the subnet.
func NewAddrPool(cidr string) (*AddrPool, error) {
	subnet, err := netip.ParsePrefix(cidr)
	if err != nil {
		return nil, fmt.Errorf("parse subnet %q: %w", cidr, err)
	}

	subnet = subnet.Masked()

	return &AddrPool{
		subnet: subnet,
		// Cursor sits on the network address, which is never handed out.
		cursor: subnet.Addr(),
	}, nil
}

// Subnet returns the pool's subnet.
func (p *AddrPool) Subnet() netip.Prefix { return p.subnet }

// Next returns the next address suffixed with the subnet's prefix length
// (e.g. "10.0.0.2/24"). Exhausting the subnet returns ErrPoolExhausted.
func (p *AddrPool) Next() (string, error) {
	next := p.cursor.Next()
	if !next.IsValid() || !p.subnet.Contains(next) {
		return "", fmt.Errorf("subnet %s: %w", p.subnet, ErrPoolExhausted)
	}

	p.cursor = next

	return fmt.Sprintf("%s/%d", next, p.subnet.Bits()), nil
}
