package wsd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/wsdd-go/wsdd/internal/httpwire"
	"github.com/wsdd-go/wsdd/internal/ifmon"
	"github.com/wsdd-go/wsdd/internal/wsdxml"
)

const (
	readBufferSize  = 8192
	connIdleTimeout = 30 * time.Second
)

// HTTPHandler processes one fully-received, well-formed SOAP request
// document and returns the reply XML to send, or ok=false for a request
// the caller should answer with 400 Bad Request.
type HTTPHandler func(doc *wsdxml.Document) (reply []byte, ok bool)

// HTTPEndpoint is the per-address HTTP listener used for the WS-Discovery
// Get unicast path: one POST endpoint at a fixed path, SOAP
// in, SOAP out. Grounded on http_server.cpp's HttpServerImpl/HttpConnection
// pair.
type HTTPEndpoint struct {
	Logger       *slog.Logger
	Interface    ifmon.NetworkInterface
	Addr         netip.Addr
	Port         int
	Path         string // expected request URI, e.g. "/1b6dd603-ea6c-4201-9b2d-cf53b3901a14"
	Handle       HTTPHandler
	OnFatalError func(error)

	listener net.Listener
	wg       sync.WaitGroup
	cancel   context.CancelFunc

	mu    sync.Mutex
	conns map[net.Conn]struct{}
}

// Start opens the listener and begins accepting connections.
func (e *HTTPEndpoint) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.conns = make(map[net.Conn]struct{})

	network := "tcp4"
	host := e.Addr.String()
	if e.Addr.Is6() {
		network = "tcp6"
		if zone := e.Addr.Zone(); zone != "" {
			host = e.Addr.WithZone("").String() + "%" + zone
		}
	}

	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			return c.Control(func(fd uintptr) {
				_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
				if network == "tcp6" {
					_ = unix.SetsockoptInt(int(fd), unix.IPPROTO_IPV6, unix.IPV6_V6ONLY, 1)
				}
			})
		},
	}

	ln, err := lc.Listen(ctx, network, net.JoinHostPort(host, strconv.Itoa(e.Port)))
	if err != nil {
		cancel()
		return fmt.Errorf("wsd: http listen on %s: %w", e.Interface, err)
	}
	e.listener = ln

	e.log().Info("starting HTTP endpoint", "interface", e.Interface.String(), "addr", e.Addr.String())

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.acceptLoop(ctx)
	}()
	return nil
}

// Stop closes the listener and every open connection, then waits up to
// timeout for all goroutines to exit.
func (e *HTTPEndpoint) Stop(timeout time.Duration) error {
	if e.cancel != nil {
		e.cancel()
	}
	if e.listener != nil {
		_ = e.listener.Close()
	}
	e.mu.Lock()
	for c := range e.conns {
		_ = c.Close()
	}
	e.mu.Unlock()

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
		return errors.New("wsd: http endpoint: timeout waiting for goroutines to exit")
	}
}

func (e *HTTPEndpoint) log() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func (e *HTTPEndpoint) acceptLoop(ctx context.Context) {
	for {
		conn, err := e.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if e.OnFatalError != nil {
				e.OnFatalError(fmt.Errorf("wsd: http accept on %s: %w", e.Interface, err))
			}
			return
		}

		e.mu.Lock()
		e.conns[conn] = struct{}{}
		e.mu.Unlock()

		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			defer e.forgetConn(conn)
			e.handleConnection(ctx, conn)
		}()
	}
}

func (e *HTTPEndpoint) forgetConn(conn net.Conn) {
	e.mu.Lock()
	delete(e.conns, conn)
	e.mu.Unlock()
	_ = conn.Close()
}

type connState int

const (
	stateInHeader connState = iota
	stateInBody
)

// handleConnection pipelines requests on one connection: parse the
// request head, validate method/path/Content-Type, stream the declared
// body length into a push parser, dispatch, write the reply, and (if
// Connection: keep-alive) start over. Mirrors HttpConnection's
// InHeader/InBody state machine.
func (e *HTTPEndpoint) handleConnection(ctx context.Context, conn net.Conn) {
	e.log().Debug("http connection opened", "peer", conn.RemoteAddr())

	state := stateInHeader
	req := &httpwire.Request{}
	parser := httpwire.NewParser(req)
	var contentRemaining int64
	var push *wsdxml.PushParser
	buf := make([]byte, readBufferSize)

	for {
		_ = conn.SetReadDeadline(time.Now().Add(connIdleTimeout))
		n, err := conn.Read(buf)
		if err != nil {
			return
		}

		data := buf[:n]
		for len(data) > 0 {
			switch state {
			case stateInHeader:
				result, consumed := parser.Parse(data)
				data = data[consumed:]

				switch result {
				case httpwire.Indeterminate:
					continue
				case httpwire.Bad:
					e.writeAndMaybeClose(conn, httpwire.StockResponse(httpwire.StatusBadRequest), true)
					return
				}

				resp, remaining, ps, ok := e.startBody(req)
				if !ok {
					e.writeAndMaybeClose(conn, resp, true)
					return
				}
				contentRemaining = remaining
				push = ps
				state = stateInBody

			case stateInBody:
				chunk := data
				if int64(len(chunk)) > contentRemaining {
					chunk = chunk[:contentRemaining]
				}
				contentRemaining -= int64(len(chunk))
				data = data[len(chunk):]
				_, _ = push.Write(chunk)

				if contentRemaining == 0 {
					doc, parseErr := push.Finish()
					var reply []byte
					ok := false
					if parseErr == nil && e.Handle != nil {
						reply, ok = e.Handle(doc)
					}

					keepAlive := req.GetKeepAlive()
					if !ok {
						e.writeAndMaybeClose(conn, httpwire.StockResponse(httpwire.StatusBadRequest), true)
						return
					}

					e.writeAndMaybeClose(conn, httpwire.SOAPReply(reply), !keepAlive)
					if !keepAlive {
						return
					}

					state = stateInHeader
					req = &httpwire.Request{}
					parser.Reset(req)
					push = nil
				}
			}
		}
	}
}

func (e *HTTPEndpoint) writeAndMaybeClose(conn net.Conn, resp *httpwire.Response, closeAfter bool) {
	_ = conn.SetWriteDeadline(time.Now().Add(connIdleTimeout))
	_, _ = conn.Write(resp.Bytes())
	if closeAfter {
		_ = conn.Close()
	}
}

// startBody validates the parsed request head and, if acceptable, returns
// the declared Content-Length and a push parser primed with any declared
// charset. Mirrors HttpConnection::parseHeader's checks in order: method
// and path, presence of Content-Length, Content-Type shape.
func (e *HTTPEndpoint) startBody(req *httpwire.Request) (*httpwire.Response, int64, *wsdxml.PushParser, bool) {
	if req.Method != "POST" || req.URI != e.Path {
		return httpwire.StockResponse(httpwire.StatusNotFound), 0, nil, false
	}

	length, present, err := req.GetContentLength()
	if err != nil || !present || length == 0 {
		return httpwire.StockResponse(httpwire.StatusBadRequest), 0, nil, false
	}

	parts, present, err := req.GetContentType()
	if err != nil {
		return httpwire.StockResponse(httpwire.StatusBadRequest), 0, nil, false
	}
	charset := ""
	if present {
		if len(parts) < 1 || len(parts) > 2 || parts[0] != "application/soap+xml" {
			return httpwire.StockResponse(httpwire.StatusBadRequest), 0, nil, false
		}
		if len(parts) == 2 {
			if !strings.HasPrefix(parts[1], "charset=") {
				return httpwire.StockResponse(httpwire.StatusBadRequest), 0, nil, false
			}
			charset = strings.TrimPrefix(parts[1], "charset=")
		}
	}

	return nil, length, wsdxml.NewPushParser(charset), true
}
