package wsd

import (
	"context"
	"log/slog"
	"net/netip"
	"sync"
	"time"

	"github.com/wsdd-go/wsdd/internal/config"
	"github.com/wsdd-go/wsdd/internal/ifmon"
)

// ServerManager is the map<address, wsd_server> described in §4.2: it
// owns exactly one running Server per bound address, creating and
// retiring them as the interface monitor reports addresses coming and
// going, and propagates a monitor's fatal error to whatever called Run.
type ServerManager struct {
	Logger  *slog.Logger
	Config  *config.Config
	Monitor ifmon.Monitor

	StopTimeout time.Duration

	mu      sync.Mutex
	servers map[netip.Addr]*Server
}

// NewServerManager builds a manager over the given monitor. cfg is
// shared by reference with every server the manager creates; a reload
// replaces this pointer field's owner's view of it by constructing a
// new ServerManager, not by mutating this one's Config in place.
func NewServerManager(logger *slog.Logger, cfg *config.Config, monitor ifmon.Monitor) *ServerManager {
	return &ServerManager{
		Logger:      logger,
		Config:      cfg,
		Monitor:     monitor,
		StopTimeout: 2 * time.Second,
		servers:     make(map[netip.Addr]*Server),
	}
}

func (m *ServerManager) log() *slog.Logger {
	if m.Logger != nil {
		return m.Logger
	}
	return slog.Default()
}

// Run drives the manager's reconciliation loop until the monitor's Run
// returns (normally because ctx was canceled, or with a fatal error).
// On return every server the manager started has been asked to stop
// gracefully.
func (m *ServerManager) Run(ctx context.Context) error {
	events := make(chan ifmon.Event, 16)

	monitorDone := make(chan error, 1)
	go func() { monitorDone <- m.Monitor.Run(ctx, events) }()

	for {
		select {
		case ev := <-events:
			m.handleEvent(ctx, ev)
		case err := <-monitorDone:
			m.StopAll(true)
			return err
		case <-ctx.Done():
			m.StopAll(true)
			<-monitorDone
			return ctx.Err()
		}
	}
}

func (m *ServerManager) handleEvent(ctx context.Context, ev ifmon.Event) {
	switch ev.Kind {
	case ifmon.EventAddAddress:
		m.addAddress(ctx, ev.Interface, ev.Addr)
	case ifmon.EventRemoveAddress:
		m.removeAddress(ev.Interface, ev.Addr)
	case ifmon.EventFatalError:
		m.log().Error("interface monitor reported a fatal error", "error", ev.Err)
	}
}

// addAddress implements §4.2's add_address: no existing server at this
// address starts a fresh one; an existing server for the same
// interface that is still Running is left alone; anything else (a
// Stopped server, or one bound to a different interface that now
// claims this address) is replaced.
func (m *ServerManager) addAddress(ctx context.Context, iface ifmon.NetworkInterface, addr netip.Addr) {
	m.mu.Lock()
	existing, ok := m.servers[addr]
	m.mu.Unlock()

	if ok {
		if existing.Interface == iface && existing.State() == StateRunning {
			return
		}
		_ = existing.Stop(false, m.StopTimeout)
	}

	srv := NewServer(m.Logger, m.Config, iface, addr, m.onServerFatal(addr))
	if err := srv.Start(ctx); err != nil {
		m.log().Error("failed to start WS-Discovery server", "interface", iface.String(), "addr", addr.String(), "error", err)
		return
	}

	m.mu.Lock()
	m.servers[addr] = srv
	m.mu.Unlock()
}

// removeAddress implements §4.2's remove_address: a server is stopped
// and erased only if it exists and its interface matches; an address
// reported removed on an interface that isn't the one it's bound to is
// a no-op (the reported removal belongs to a different, shadowed
// binding).
func (m *ServerManager) removeAddress(iface ifmon.NetworkInterface, addr netip.Addr) {
	m.mu.Lock()
	existing, ok := m.servers[addr]
	if !ok || existing.Interface != iface {
		m.mu.Unlock()
		return
	}
	delete(m.servers, addr)
	m.mu.Unlock()

	_ = existing.Stop(false, m.StopTimeout)
}

// onServerFatal drops the failed server from the map so a future
// add_address for the same address can replace it; an OS capability
// error is recoverable at this granularity per §7, so the manager
// itself does not treat this as terminal.
func (m *ServerManager) onServerFatal(addr netip.Addr) func(error) {
	return func(err error) {
		m.log().Error("WS-Discovery server failed", "addr", addr.String(), "error", err)
		m.mu.Lock()
		delete(m.servers, addr)
		m.mu.Unlock()
	}
}

// StopAll asks every server to stop (gracefully if requested) and
// clears the map.
func (m *ServerManager) StopAll(graceful bool) {
	m.mu.Lock()
	servers := make([]*Server, 0, len(m.servers))
	for _, srv := range m.servers {
		servers = append(servers, srv)
	}
	m.servers = make(map[netip.Addr]*Server)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, srv := range servers {
		wg.Add(1)
		go func(srv *Server) {
			defer wg.Done()
			_ = srv.Stop(graceful, m.StopTimeout)
		}(srv)
	}
	wg.Wait()
}

// Len reports how many servers are currently tracked, for tests and
// diagnostics.
func (m *ServerManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.servers)
}
