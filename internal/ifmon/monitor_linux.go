//go:build linux

package ifmon

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"strconv"

	"github.com/vishvananda/netlink"
)

// LinuxMonitor watches RTM_NEWADDR/RTM_DELADDR notifications via netlink,
// the same source the original daemon's interface_monitor_linux.cpp binds
// to NETLINK_ROUTE for. Interface flags (multicast capability, loopback)
// are looked up and cached per interface index the first time an address
// on it is seen, matching that source's knownIfaces cache.
type LinuxMonitor struct {
	filter Filter

	ignoreCache map[int]bool
}

// NewMonitor returns the platform Monitor — on Linux, a *LinuxMonitor.
func NewMonitor(filter Filter) Monitor {
	return &LinuxMonitor{filter: filter, ignoreCache: make(map[int]bool)}
}

func (m *LinuxMonitor) Run(ctx context.Context, events chan<- Event) error {
	updates := make(chan netlink.AddrUpdate, 64)
	done := make(chan struct{})
	defer close(done)

	errs := make(chan error, 1)
	opts := netlink.AddrSubscribeOptions{
		ListExisting: true,
		ErrorCallback: func(err error) {
			select {
			case errs <- err:
			default:
			}
		},
	}
	if err := netlink.AddrSubscribeWithOptions(updates, done, opts); err != nil {
		return fmt.Errorf("ifmon: netlink subscribe: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errs:
			events <- Event{Kind: EventFatalError, Err: fmt.Errorf("ifmon: netlink: %w", err)}
			return err
		case upd, ok := <-updates:
			if !ok {
				return nil
			}
			m.handleUpdate(upd, events)
		}
	}
}

func (m *LinuxMonitor) handleUpdate(upd netlink.AddrUpdate, events chan<- Event) {
	addr, ok := addrFromIPNet(upd.LinkAddress, upd.LinkIndex, m.filter)
	if !ok {
		return
	}

	link, err := netlink.LinkByIndex(upd.LinkIndex)
	if err != nil {
		return
	}
	name := link.Attrs().Name
	iface := NetworkInterface{Index: upd.LinkIndex, Name: name}

	if !m.filter.AllowInterface(name) {
		return
	}

	if upd.NewAddr {
		ignore, cached := m.ignoreCache[upd.LinkIndex]
		if !cached {
			flags := link.Attrs().Flags
			ignore = flags&net.FlagMulticast == 0
			if !ignore && !m.filter.AllowLoopback {
				ignore = flags&net.FlagLoopback != 0
			}
			m.ignoreCache[upd.LinkIndex] = ignore
		}
		if ignore {
			return
		}
		events <- Event{Kind: EventAddAddress, Interface: iface, Addr: addr}
	} else {
		events <- Event{Kind: EventRemoveAddress, Interface: iface, Addr: addr}
	}
}

// addrFromIPNet converts a netlink address update into a netip.Addr,
// applying the filter's address-family gate and, for IPv6, accepting only
// link-local addresses and stamping them with the interface's zone —
// mirroring the source's addr6.is_link_local() / scope_id(ifIndex) pair.
func addrFromIPNet(ipnet net.IPNet, ifIndex int, filter Filter) (netip.Addr, bool) {
	if ip4 := ipnet.IP.To4(); ip4 != nil {
		if !filter.EnableIPv4 {
			return netip.Addr{}, false
		}
		a, ok := netip.AddrFromSlice(ip4)
		return a, ok
	}

	if !filter.EnableIPv6 {
		return netip.Addr{}, false
	}
	a, ok := netip.AddrFromSlice(ipnet.IP.To16())
	if !ok || !a.IsLinkLocalUnicast() {
		return netip.Addr{}, false
	}
	return a.WithZone(strconv.Itoa(ifIndex)), true
}
