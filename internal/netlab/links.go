package netlab

import (
	"fmt"

	"github.com/vishvananda/netlink"
)

// -------------------------------------------------------------------------
// LinkManager Interface
// -------------------------------------------------------------------------

// LinkManager abstracts the bridge-device operations netlab needs from
// the kernel. The production implementation talks netlink; tests swap in
// a fake so topologies can be exercised without CAP_NET_ADMIN.
type LinkManager interface {
	// BridgeExists reports whether a link with the given name is present.
	BridgeExists(name string) (bool, error)

	// AddBridge creates an L2 bridge device.
	AddBridge(name string) error

	// DeleteBridge removes a bridge device.
	DeleteBridge(name string) error

	// SetUp brings a device up.
	SetUp(name string) error

	// SetDown brings a device down.
	SetDown(name string) error

	// AddAddr assigns a CIDR address to a device.
	AddAddr(name, cidr string) error

	// ListBridges returns the names of all bridge devices on the host.
	ListBridges() ([]string, error)
}

// -------------------------------------------------------------------------
// NetlinkManager — production kernel link manager
// -------------------------------------------------------------------------

// NetlinkManager implements LinkManager through rtnetlink. Requires
// CAP_NET_ADMIN.
type NetlinkManager struct{}

// NewNetlinkManager returns the production link manager.
func NewNetlinkManager() *NetlinkManager {
	return &NetlinkManager{}
}

func (m *NetlinkManager) BridgeExists(name string) (bool, error) {
	if _, err := netlink.LinkByName(name); err != nil {
		if _, ok := err.(netlink.LinkNotFoundError); ok {
			return false, nil
		}
		return false, fmt.Errorf("lookup link %s: %w", name, err)
	}
	return true, nil
}

func (m *NetlinkManager) AddBridge(name string) error {
	bridge := &netlink.Bridge{
		LinkAttrs: netlink.LinkAttrs{Name: name},
	}
	if err := netlink.LinkAdd(bridge); err != nil {
		return fmt.Errorf("add bridge %s: %w", name, err)
	}
	return nil
}

func (m *NetlinkManager) DeleteBridge(name string) error {
	link, err := netlink.LinkByName(name)
	if err != nil {
		return fmt.Errorf("lookup bridge %s: %w", name, err)
	}
	if err := netlink.LinkDel(link); err != nil {
		return fmt.Errorf("delete bridge %s: %w", name, err)
	}
	return nil
}

func (m *NetlinkManager) SetUp(name string) error {
	link, err := netlink.LinkByName(name)
	if err != nil {
		return fmt.Errorf("lookup link %s: %w", name, err)
	}
	if err := netlink.LinkSetUp(link); err != nil {
		return fmt.Errorf("set link %s up: %w", name, err)
	}
	return nil
}

func (m *NetlinkManager) SetDown(name string) error {
	link, err := netlink.LinkByName(name)
	if err != nil {
		return fmt.Errorf("lookup link %s: %w", name, err)
	}
	if err := netlink.LinkSetDown(link); err != nil {
		return fmt.Errorf("set link %s down: %w", name, err)
	}
	return nil
}

func (m *NetlinkManager) AddAddr(name, cidr string) error {
	link, err := netlink.LinkByName(name)
	if err != nil {
		return fmt.Errorf("lookup link %s: %w", name, err)
	}
	addr, err := netlink.ParseAddr(cidr)
	if err != nil {
		return fmt.Errorf("parse address %q: %w", cidr, err)
	}
	if err := netlink.AddrAdd(link, addr); err != nil {
		return fmt.Errorf("add address %s to %s: %w", cidr, name, err)
	}
	return nil
}

func (m *NetlinkManager) ListBridges() ([]string, error) {
	links, err := netlink.LinkList()
	if err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}

	var names []string
	for _, link := range links {
		if _, ok := link.(*netlink.Bridge); ok {
			names = append(names, link.Attrs().Name)
		}
	}
	return names, nil
}
