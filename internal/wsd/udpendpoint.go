package wsd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net"
	"net/netip"
	"strconv"
	"sync"
	"syscall"
	"time"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
	"golang.org/x/sys/unix"

	"github.com/wsdd-go/wsdd/internal/ifmon"
	"github.com/wsdd-go/wsdd/internal/pool"
)

const (
	multicastGroupV4 = "239.255.255.250"
	multicastGroupV6 = "ff02::c"
	udpPort          = 3702

	maxDatagramLength = 32767

	// retransmission jitter bounds, drawn fresh for every repeat.
	retransmitDelayMin = 50 * time.Millisecond
	retransmitDelayMax = 250 * time.Millisecond
)

var recvBufferPool = pool.New(func() *[]byte {
	buf := make([]byte, maxDatagramLength)
	return &buf
})

// UDPHandler processes one inbound UDP datagram and returns a unicast
// reply payload, or nil to send nothing.
type UDPHandler func(data []byte, from netip.AddrPort) []byte

// UDPEndpoint owns the three sockets WS-Discovery needs per bound address:
// a multicast-joined receiver, a unicast sender (used for unicast replies
// and as the source for the interface's own traffic), and a multicast
// sender (used for Hello/Bye). This mirrors UdpServerImpl's three
// ip::udp::socket members in udp_server.cpp.
type UDPEndpoint struct {
	Logger       *slog.Logger
	Interface    ifmon.NetworkInterface
	Addr         netip.Addr // local address this endpoint is bound to
	HopLimit     int
	SourcePort   int
	Handle       UDPHandler
	OnFatalError func(error)

	recvConn      *net.UDPConn
	unicastSend   *net.UDPConn
	multicastSend *net.UDPConn
	multicastDest *net.UDPAddr

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// Start opens the three sockets and begins the receive loop.
func (e *UDPEndpoint) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	var err error
	if e.Addr.Is4() {
		err = e.openV4()
	} else {
		err = e.openV6()
	}
	if err != nil {
		cancel()
		return err
	}

	e.log().Info("starting UDP endpoint", "interface", e.Interface.String(), "addr", e.Addr.String())

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.recvLoop(ctx)
	}()
	return nil
}

// Stop closes all sockets and waits up to timeout for the receive loop and
// any in-flight retransmissions to exit.
func (e *UDPEndpoint) Stop(timeout time.Duration) error {
	if e.cancel != nil {
		e.cancel()
	}
	for _, c := range []*net.UDPConn{e.recvConn, e.unicastSend, e.multicastSend} {
		if c != nil {
			_ = c.Close()
		}
	}

	if timeout <= 0 {
		e.wg.Wait()
		return nil
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return errors.New("wsd: udp endpoint: timeout waiting for goroutines to exit")
	}
}

func (e *UDPEndpoint) log() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func (e *UDPEndpoint) openV4() error {
	groupIP := net.ParseIP(multicastGroupV4)
	iface := &net.Interface{Index: e.Interface.Index, Name: e.Interface.Name}

	recvConn, err := net.ListenMulticastUDP("udp4", iface, &net.UDPAddr{IP: groupIP, Port: udpPort})
	if err != nil {
		return fmt.Errorf("wsd: udp recv socket: %w", err)
	}
	setMulticastAllOff(recvConn)
	e.recvConn = recvConn

	localIP := e.Addr.AsSlice()
	unicastSend, err := listenReuseAddr("udp4", &net.UDPAddr{IP: localIP, Port: udpPort})
	if err != nil {
		_ = recvConn.Close()
		return fmt.Errorf("wsd: udp unicast send socket: %w", err)
	}
	e.unicastSend = unicastSend

	mcPort := e.SourcePort
	multicastSend, err := net.ListenUDP("udp4", &net.UDPAddr{IP: localIP, Port: mcPort})
	if err != nil {
		_ = recvConn.Close()
		_ = unicastSend.Close()
		return fmt.Errorf("wsd: udp multicast send socket: %w", err)
	}
	pc := ipv4.NewPacketConn(multicastSend)
	_ = pc.SetMulticastInterface(iface)
	_ = pc.SetMulticastLoopback(false)
	_ = pc.SetMulticastTTL(e.hopLimit())
	e.multicastSend = multicastSend

	e.multicastDest = &net.UDPAddr{IP: groupIP, Port: udpPort}
	return nil
}

func (e *UDPEndpoint) openV6() error {
	groupIP := net.ParseIP(multicastGroupV6)
	iface := &net.Interface{Index: e.Interface.Index, Name: e.Interface.Name}
	zone := strconv.Itoa(e.Interface.Index)

	recvConn, err := net.ListenMulticastUDP("udp6", iface, &net.UDPAddr{IP: groupIP, Port: udpPort, Zone: zone})
	if err != nil {
		return fmt.Errorf("wsd: udp recv socket: %w", err)
	}
	setMulticastAllOffV6(recvConn)
	e.recvConn = recvConn

	localIP := e.Addr.AsSlice()
	unicastSend, err := listenReuseAddr("udp6", &net.UDPAddr{IP: localIP, Port: udpPort, Zone: zone})
	if err != nil {
		_ = recvConn.Close()
		return fmt.Errorf("wsd: udp unicast send socket: %w", err)
	}
	e.unicastSend = unicastSend

	mcPort := e.SourcePort
	multicastSend, err := net.ListenUDP("udp6", &net.UDPAddr{IP: localIP, Port: mcPort, Zone: zone})
	if err != nil {
		_ = recvConn.Close()
		_ = unicastSend.Close()
		return fmt.Errorf("wsd: udp multicast send socket: %w", err)
	}
	pc := ipv6.NewPacketConn(multicastSend)
	_ = pc.SetMulticastInterface(iface)
	_ = pc.SetMulticastLoopback(false)
	_ = pc.SetHopLimit(e.hopLimit())
	e.multicastSend = multicastSend

	e.multicastDest = &net.UDPAddr{IP: groupIP, Port: udpPort, Zone: zone}
	return nil
}

func (e *UDPEndpoint) hopLimit() int {
	if e.HopLimit <= 0 {
		return 1
	}
	return e.HopLimit
}

// listenReuseAddr opens a UDP socket with SO_REUSEADDR set, the way the
// source binds both its recv and unicast-send sockets so concurrent
// per-address endpoints can all use port 3702.
func listenReuseAddr(network string, laddr *net.UDPAddr) (*net.UDPConn, error) {
	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			return c.Control(func(fd uintptr) {
				_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
			})
		},
	}
	pc, err := lc.ListenPacket(context.Background(), network, laddr.String())
	if err != nil {
		return nil, err
	}
	return pc.(*net.UDPConn), nil
}

func (e *UDPEndpoint) recvLoop(ctx context.Context) {
	for {
		bufPtr := recvBufferPool.Get()
		buf := *bufPtr

		n, peer, err := e.recvConn.ReadFromUDP(buf)
		if err != nil {
			recvBufferPool.Put(bufPtr)
			if ctx.Err() != nil {
				return
			}
			if e.OnFatalError != nil {
				e.OnFatalError(fmt.Errorf("wsd: udp recv on %s: %w", e.Interface, err))
			}
			return
		}

		data := make([]byte, n)
		copy(data, buf[:n])
		recvBufferPool.Put(bufPtr)

		from, ok := peerAddrPort(peer)
		if !ok {
			continue
		}

		if e.Handle == nil {
			continue
		}
		reply := e.Handle(data, from)
		if reply == nil {
			continue
		}

		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.send(ctx, reply, e.unicastSend, peer, true)
		}()
	}
}

// Broadcast sends data to the multicast group on this endpoint's
// interface, retransmitting per the source's repeatCount=4 policy. Used
// for Hello and Bye. onComplete, if non-nil, runs after the last
// retransmission (or after a failed write) — Bye uses it to hold off
// tearing the server down until the datagrams have actually gone out.
func (e *UDPEndpoint) Broadcast(ctx context.Context, data []byte, onComplete func()) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.send(ctx, data, e.multicastSend, e.multicastDest, false)
		if onComplete != nil {
			onComplete()
		}
	}()
}

func peerAddrPort(addr *net.UDPAddr) (netip.AddrPort, bool) {
	if addr == nil {
		return netip.AddrPort{}, false
	}
	ip, ok := netip.AddrFromSlice(addr.IP)
	if !ok {
		return netip.AddrPort{}, false
	}
	return netip.AddrPortFrom(ip.Unmap(), uint16(addr.Port)), true
}

// send transmits data and retransmits repeatCount-1 more times with a
// fresh 50-250ms jitter before each repeat, mirroring udp_server.cpp's
// write(). isUnicast selects repeatCount=2 vs the multicast path's 4.
func (e *UDPEndpoint) send(ctx context.Context, data []byte, conn *net.UDPConn, dest *net.UDPAddr, isUnicast bool) {
	repeatCount := 4
	if isUnicast {
		repeatCount = 2
	}

	for repeatCount > 0 {
		_, err := conn.WriteToUDP(data, dest)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			e.log().Error("udp write failed", "interface", e.Interface.String(), "dest", dest.String(), "error", err)
			if e.OnFatalError != nil {
				e.OnFatalError(err)
			}
			return
		}

		repeatCount--
		if repeatCount == 0 {
			return
		}

		delay := retransmitDelayMin + time.Duration(rand.Int63n(int64(retransmitDelayMax-retransmitDelayMin+1)))
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
	}
}
