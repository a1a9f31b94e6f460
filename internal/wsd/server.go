package wsd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/beevik/etree"

	"github.com/wsdd-go/wsdd/internal/config"
	"github.com/wsdd-go/wsdd/internal/ifmon"
	"github.com/wsdd-go/wsdd/internal/wsdxml"
)

// discoveryHTTPPort is the fixed port WS-Discovery's unicast HTTP Get
// path listens on; g_WsdHttpPort in the original implementation.
const discoveryHTTPPort = 5357

// maxKnownMessages bounds the MessageID dedup cache: only the most
// recent arrivals are remembered, matching m_knownMessageIdsLRU's
// fixed depth of 10 in the original implementation.
const maxKnownMessages = 10

// State is where a Server sits in its NotStarted -> Running -> Stopped
// lifecycle. Once Stopped a Server is never restarted; ServerManager
// builds a fresh one instead.
type State int

const (
	StateNotStarted State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not-started"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Server is one WS-Discovery responder bound to a single address on a
// single interface: it owns a UDPEndpoint and an HTTPEndpoint, answers
// Probe/Resolve/Get, and announces itself with Hello on start and Bye
// on a graceful stop. Grounded on WsdServerImpl in wsd_server.cpp.
type Server struct {
	Logger       *slog.Logger
	Config       *config.Config
	Interface    ifmon.NetworkInterface
	Addr         netip.Addr
	OnFatalError func(error)

	udp  *UDPEndpoint
	http *HTTPEndpoint

	fullComputerName string

	mu            sync.Mutex
	state         State
	messageNumber uint64
	knownIDs      map[string]struct{}
	knownIDOrder  []string // front = most recently seen
}

// NewServer builds a Server for one (interface, address) pair. It does
// not start any sockets; call Start for that.
func NewServer(logger *slog.Logger, cfg *config.Config, iface ifmon.NetworkInterface, addr netip.Addr, onFatalError func(error)) *Server {
	s := &Server{
		Logger:           logger,
		Config:           cfg,
		Interface:        iface,
		Addr:             addr,
		OnFatalError:     onFatalError,
		fullComputerName: buildFullComputerName(cfg),
		knownIDs:         make(map[string]struct{}, maxKnownMessages),
	}

	s.udp = &UDPEndpoint{
		Logger:       logger,
		Interface:    iface,
		Addr:         addr,
		HopLimit:     cfg.HopLimit,
		SourcePort:   cfg.SourcePort,
		Handle:       s.handleUDPRequest,
		OnFatalError: s.onEndpointFatal,
	}
	s.http = &HTTPEndpoint{
		Logger:       logger,
		Interface:    iface,
		Addr:         addr,
		Port:         discoveryHTTPPort,
		Path:         "/" + cfg.HTTPPath,
		Handle:       s.handleHTTPRequest,
		OnFatalError: s.onEndpointFatal,
	}
	return s
}

// buildFullComputerName matches WsdServerImpl::buildFullComputerName:
// "<hostname>/Workgroup:<name>" or "<hostname>/Domain:<name>".
func buildFullComputerName(cfg *config.Config) string {
	info := cfg.WinNetInfo
	return fmt.Sprintf("%s/%s:%s", info.HostName, info.MemberOf.Tag(), info.MemberOf.Name)
}

func (s *Server) log() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s *Server) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start opens the UDP and HTTP endpoints, marks the server Running, and
// broadcasts Hello.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateNotStarted {
		s.mu.Unlock()
		return fmt.Errorf("wsd: server for %s already started", s.Addr)
	}
	s.mu.Unlock()

	s.log().Info("starting WS-Discovery server", "interface", s.Interface.String(), "addr", s.Addr.String())

	if err := s.udp.Start(ctx); err != nil {
		return err
	}
	if err := s.http.Start(ctx); err != nil {
		_ = s.udp.Stop(0)
		return err
	}

	s.mu.Lock()
	s.state = StateRunning
	s.mu.Unlock()

	s.sendHello(ctx)
	return nil
}

// Stop tears the server down. A graceful stop broadcasts Bye and waits
// for the retransmissions to finish (up to timeout) before closing the
// sockets; a non-graceful stop closes them immediately. Either way Stop
// leaves the server in State Stopped and never returns it to Running.
func (s *Server) Stop(graceful bool, timeout time.Duration) error {
	s.mu.Lock()
	if s.state == StateStopped {
		s.mu.Unlock()
		return nil
	}
	wasRunning := s.state == StateRunning
	s.state = StateStopped
	s.mu.Unlock()

	if graceful && wasRunning {
		done := make(chan struct{})
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		s.sendByeWithCompletion(ctx, func() { close(done) })
		select {
		case <-done:
		case <-time.After(timeout):
		}
	}

	var errs []error
	if err := s.udp.Stop(timeout); err != nil {
		errs = append(errs, err)
	}
	if err := s.http.Stop(timeout); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (s *Server) onEndpointFatal(err error) {
	s.log().Error("wsd endpoint failed", "interface", s.Interface.String(), "addr", s.Addr.String(), "error", err)
	if s.OnFatalError != nil {
		s.OnFatalError(err)
	}
}

// nextMessageNumber returns the value to stamp on the next sequenced
// outbound message and advances the counter, mirroring the source's
// post-increment m_messageNumber++.
func (s *Server) nextMessageNumber() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.messageNumber
	s.messageNumber++
	return n
}

// checkNewMessageID reports whether id has not been seen in the last
// maxKnownMessages arrivals, recording it if so. Mirrors
// m_knownMessageIds/m_knownMessageIdsLRU: a set for membership, a
// bounded deque for eviction order.
func (s *Server) checkNewMessageID(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, seen := s.knownIDs[id]; seen {
		return false
	}

	s.knownIDs[id] = struct{}{}
	s.knownIDOrder = append([]string{id}, s.knownIDOrder...)
	if len(s.knownIDOrder) > maxKnownMessages {
		evicted := s.knownIDOrder[len(s.knownIDOrder)-1]
		s.knownIDOrder = s.knownIDOrder[:len(s.knownIDOrder)-1]
		delete(s.knownIDs, evicted)
	}
	return true
}

func (s *Server) sendHello(ctx context.Context) {
	doc := wsdxml.NewBuilder().
		To(wsdxml.DiscoveryURN).
		Action(wsdxml.URIWSD + "/Hello").
		AppSequence(wsdxml.AppSequence{InstanceID: s.Config.InstanceID, MessageNumber: s.nextMessageNumber()}).
		Body(wsdxml.HelloBody(s.Config.EndpointURN)).
		Build()

	data, err := wsdxml.Serialize(doc)
	if err != nil {
		s.log().Error("failed to build Hello", "error", err)
		return
	}
	s.udp.Broadcast(ctx, data, nil)
}

func (s *Server) sendByeWithCompletion(ctx context.Context, onComplete func()) {
	doc := wsdxml.NewBuilder().
		To(wsdxml.DiscoveryURN).
		Action(wsdxml.URIWSD + "/Bye").
		AppSequence(wsdxml.AppSequence{InstanceID: s.Config.InstanceID, MessageNumber: s.nextMessageNumber()}).
		Body(wsdxml.ByeBody(s.Config.EndpointURN)).
		Build()

	data, err := wsdxml.Serialize(doc)
	if err != nil {
		s.log().Error("failed to build Bye", "error", err)
		onComplete()
		return
	}
	s.udp.Broadcast(ctx, data, onComplete)
}

// transport distinguishes the two paths a request can arrive on, since
// Probe/Resolve are UDP-multicast-only and Get is HTTP-unicast-only.
type transport int

const (
	transportUDP transport = iota
	transportHTTP
)

func (s *Server) handleUDPRequest(data []byte, _ netip.AddrPort) []byte {
	doc, err := wsdxml.Parse(data)
	if err != nil {
		return nil
	}
	reply, ok := s.handleRequest(transportUDP, doc)
	if !ok {
		return nil
	}
	return reply
}

func (s *Server) handleHTTPRequest(doc *wsdxml.Document) ([]byte, bool) {
	return s.handleRequest(transportHTTP, doc)
}

// handleRequest dispatches one parsed envelope: dedups on MessageID,
// splits the Action URI at its last '/' into a namespace and a verb,
// routes UDP requests to Probe/Resolve and HTTP requests to Get, and
// stamps a standard reply header (To=anonymous role, RelatesTo=the
// inbound MessageID) on whatever the handler built. Grounded on
// WsdServerImpl::handleRequest.
func (s *Server) handleRequest(t transport, doc *wsdxml.Document) ([]byte, bool) {
	root := doc.Root()
	header := wsdxml.ChildNS(root, wsdxml.URISOAP, "Header")
	if header == nil {
		return nil, false
	}

	messageID := wsdxml.FindText(header, wsdxml.S(wsdxml.URIWSA, "MessageID"))
	if messageID == "" || !s.checkNewMessageID(messageID) {
		return nil, false
	}

	action := wsdxml.FindText(header, wsdxml.S(wsdxml.URIWSA, "Action"))
	uri, method := splitAction(action)

	var builder *wsdxml.Builder
	var ok bool
	switch t {
	case transportUDP:
		if uri == wsdxml.URIWSD {
			switch method {
			case "Probe":
				builder, ok = s.handleProbe(root)
			case "Resolve":
				builder, ok = s.handleResolve(root)
			default:
				s.log().Debug("ignoring unhandled UDP action", "action", action)
			}
		}
	case transportHTTP:
		if uri == wsdxml.URIWSDT && method == "Get" {
			builder, ok = s.handleGet()
		} else {
			s.log().Debug("ignoring unhandled HTTP action", "action", action)
		}
	}
	if !ok {
		return nil, false
	}

	builder.To(wsdxml.AnonymousRole).RelatesTo(messageID)
	replyDoc := builder.Build()
	data, err := wsdxml.Serialize(replyDoc)
	if err != nil {
		s.log().Error("failed to serialize reply", "error", err)
		return nil, false
	}
	return data, true
}

// splitAction divides a WS-Addressing Action URI at its last '/' into
// the owning namespace and the bare method name, e.g.
// ".../ws/2005/04/discovery/Probe" -> (".../discovery", "Probe").
func splitAction(action string) (uri, method string) {
	idx := strings.LastIndex(action, "/")
	if idx < 0 {
		return "", action
	}
	return action[:idx], action[idx+1:]
}

// handleProbe answers a wsd:Probe. Per the source, any Scopes element
// at all disqualifies the probe (this responder never advertises
// scopes, so a scoped probe can never match), and Types must resolve
// to wsdp:Device.
func (s *Server) handleProbe(root *etree.Element) (*wsdxml.Builder, bool) {
	body := wsdxml.ChildNS(root, wsdxml.URISOAP, "Body")
	probe := wsdxml.ChildNS(body, wsdxml.URIWSD, "Probe")
	if probe == nil {
		return nil, false
	}
	if wsdxml.ChildNS(probe, wsdxml.URIWSD, "Scopes") != nil {
		return nil, false
	}

	typesEl := wsdxml.ChildNS(probe, wsdxml.URIWSD, "Types")
	if typesEl == nil || !typeListIncludesDevice(typesEl) {
		return nil, false
	}

	b := wsdxml.NewBuilder().
		Action(wsdxml.URIWSD + "/ProbeMatches").
		AppSequence(wsdxml.AppSequence{InstanceID: s.Config.InstanceID, MessageNumber: s.nextMessageNumber()}).
		Body(wsdxml.ProbeMatchBody(s.Config.EndpointURN))
	return b, true
}

// typeListIncludesDevice reports whether el's whitespace-separated
// QName list contains an entry resolving to wsdp:Device, the only type
// this responder ever advertises.
func typeListIncludesDevice(el *etree.Element) bool {
	for _, tok := range strings.Fields(el.Text()) {
		prefix, local, hasPrefix := strings.Cut(tok, ":")
		if !hasPrefix || local != "Device" {
			continue
		}
		if wsdxml.ResolvePrefix(el, prefix) == wsdxml.URIWSDP {
			return true
		}
	}
	return false
}

// handleResolve answers a wsd:Resolve whose target address is this
// server's own endpoint URN; any other address gets no reply, the way
// a real device stays silent about peers it isn't.
func (s *Server) handleResolve(root *etree.Element) (*wsdxml.Builder, bool) {
	body := wsdxml.ChildNS(root, wsdxml.URISOAP, "Body")
	resolve := wsdxml.ChildNS(body, wsdxml.URIWSD, "Resolve")
	if resolve == nil {
		return nil, false
	}

	ref := wsdxml.ChildNS(resolve, wsdxml.URIWSA, "EndpointReference")
	address := wsdxml.FindText(ref, wsdxml.S(wsdxml.URIWSA, "Address"))
	if address != s.Config.EndpointURN {
		return nil, false
	}

	b := wsdxml.NewBuilder().
		Action(wsdxml.URIWSD + "/ResolveMatches").
		AppSequence(wsdxml.AppSequence{InstanceID: s.Config.InstanceID, MessageNumber: s.nextMessageNumber()}).
		Body(wsdxml.ResolveMatchBody(s.Config.EndpointURN, s.xaddr()))
	return b, true
}

// handleGet answers a wsdt:Get with this server's device metadata.
// GetResponse never carries an AppSequence.
func (s *Server) handleGet() (*wsdxml.Builder, bool) {
	params := wsdxml.GetResponseParams{
		EndpointURN:      s.Config.EndpointURN,
		HostDescription:  s.Config.WinNetInfo.HostDescription,
		FullComputerName: s.fullComputerName,
		HostAddress:      s.Addr.WithZone("").String(),
		Template:         s.Config.MetadataTemplate,
	}
	b := wsdxml.NewBuilder().
		Action(wsdxml.URIWSDT + "/GetResponse").
		Body(wsdxml.GetResponseBody(params))
	return b, true
}

// xaddr is this server's HTTP URL as advertised in ResolveMatches:
// "http://host:port/path", IPv6 hosts bracketed and zone-stripped.
func (s *Server) xaddr() string {
	host := s.Addr.WithZone("").String()
	if s.Addr.Is6() {
		host = "[" + host + "]"
	}
	return fmt.Sprintf("http://%s:%d/%s", host, discoveryHTTPPort, s.Config.HTTPPath)
}
