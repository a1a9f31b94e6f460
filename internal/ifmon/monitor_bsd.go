//go:build darwin || freebsd || netbsd || openbsd

package ifmon

import (
	"context"
	"fmt"
	"net/netip"
	"os"
	"strconv"

	"golang.org/x/net/route"
	"golang.org/x/sys/unix"
)

// route(4) rt_msghdr address-array slots this monitor cares about; see
// <net/route.h>. golang.org/x/net/route returns Addrs indexed by these
// same positions, nil where the kernel didn't include that slot.
const (
	rtaxIFP = 4 // link-layer address: carries the interface name
	rtaxIFA = 5 // protocol address: the address being added/removed
)

// BSDMonitor watches RTM_NEWADDR/RTM_DELADDR/RTM_IFINFO messages on a
// PF_ROUTE socket, the BSD/Darwin analogue of LinuxMonitor, grounded on
// interface_monitor_bsd.cpp's parseTable/parseAddresses/handleDetected.
type BSDMonitor struct {
	filter Filter

	ignoreCache map[int]bool
	names       map[int]string
}

// NewMonitor returns the platform Monitor — on BSD/Darwin, a *BSDMonitor.
func NewMonitor(filter Filter) Monitor {
	return &BSDMonitor{filter: filter, ignoreCache: make(map[int]bool), names: make(map[int]string)}
}

func (m *BSDMonitor) Run(ctx context.Context, events chan<- Event) error {
	if err := m.loadInitial(events); err != nil {
		events <- Event{Kind: EventFatalError, Err: err}
		return err
	}

	fd, err := unix.Socket(unix.AF_ROUTE, unix.SOCK_RAW, unix.AF_UNSPEC)
	if err != nil {
		err = fmt.Errorf("ifmon: open route socket: %w", err)
		events <- Event{Kind: EventFatalError, Err: err}
		return err
	}
	sock := os.NewFile(uintptr(fd), "route")
	defer sock.Close()

	go func() {
		<-ctx.Done()
		sock.Close()
	}()

	buf := make([]byte, os.Getpagesize())
	for {
		n, readErr := sock.Read(buf)
		if readErr != nil {
			if ctx.Err() != nil {
				return nil
			}
			readErr = fmt.Errorf("ifmon: read route socket: %w", readErr)
			events <- Event{Kind: EventFatalError, Err: readErr}
			return readErr
		}

		msgs, parseErr := route.ParseRIB(route.RIBTypeRoute, buf[:n])
		if parseErr != nil {
			continue
		}
		m.handleMessages(msgs, events)
	}
}

func (m *BSDMonitor) loadInitial(events chan<- Event) error {
	data, err := route.FetchRIB(unix.AF_UNSPEC, route.RIBTypeInterface, 0)
	if err != nil {
		return fmt.Errorf("ifmon: fetch interface RIB: %w", err)
	}
	msgs, err := route.ParseRIB(route.RIBTypeInterface, data)
	if err != nil {
		return fmt.Errorf("ifmon: parse interface RIB: %w", err)
	}
	m.handleMessages(msgs, events)
	return nil
}

func (m *BSDMonitor) handleMessages(msgs []route.Message, events chan<- Event) {
	for _, msg := range msgs {
		switch rm := msg.(type) {
		case *route.InterfaceMessage:
			ignore := rm.Flags&unix.IFF_LOOPBACK != 0 || rm.Flags&unix.IFF_MULTICAST == 0
			m.ignoreCache[rm.Index] = ignore
			if rm.Name != "" {
				m.names[rm.Index] = rm.Name
			}

		case *route.InterfaceAddrMessage:
			m.handleAddrMessage(rm.Index, rm.Type, rm.Addrs, events)
		}
	}
}

func (m *BSDMonitor) handleAddrMessage(index, msgType int, addrs []route.Addr, events chan<- Event) {
	name := m.names[index]
	for _, addr := range addrs {
		if dl, ok := addr.(*route.LinkAddr); ok && dl.Name != "" {
			name = dl.Name
			m.names[index] = name
		}
	}
	if name == "" {
		return
	}
	if !m.filter.AllowInterface(name) {
		return
	}

	addr, ok := bsdEventAddr(index, addrs, m.filter)
	if !ok {
		return
	}
	iface := NetworkInterface{Index: index, Name: name}

	if msgType == unix.RTM_DELADDR {
		events <- Event{Kind: EventRemoveAddress, Interface: iface, Addr: addr}
		return
	}

	ignore, cached := m.ignoreCache[index]
	if !cached {
		ignore = false
	}
	if ignore {
		return
	}
	events <- Event{Kind: EventAddAddress, Interface: iface, Addr: addr}
}

func bsdEventAddr(ifIndex int, addrs []route.Addr, filter Filter) (netip.Addr, bool) {
	if len(addrs) <= rtaxIFA || addrs[rtaxIFA] == nil {
		return netip.Addr{}, false
	}
	switch a := addrs[rtaxIFA].(type) {
	case *route.Inet4Addr:
		if !filter.EnableIPv4 {
			return netip.Addr{}, false
		}
		return netip.AddrFrom4(a.IP), true
	case *route.Inet6Addr:
		if !filter.EnableIPv6 {
			return netip.Addr{}, false
		}
		addr := netip.AddrFrom16(a.IP)
		if !addr.IsLinkLocalUnicast() {
			return netip.Addr{}, false
		}
		zone := a.ZoneID
		if zone == 0 {
			zone = ifIndex
		}
		return addr.WithZone(strconv.Itoa(zone)), true
	default:
		return netip.Addr{}, false
	}
}
