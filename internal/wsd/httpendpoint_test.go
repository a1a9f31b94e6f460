package wsd

import (
	"context"
	"net"
	"net/netip"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wsdd-go/wsdd/internal/httpwire"
	"github.com/wsdd-go/wsdd/internal/wsdxml"
)

func TestHTTPEndpoint_startBody_MethodAndPath(t *testing.T) {
	e := &HTTPEndpoint{Path: "/endpoint-id"}

	tests := []struct {
		name   string
		method string
		uri    string
		status httpwire.Status
	}{
		{"wrong method", "GET", "/endpoint-id", httpwire.StatusNotFound},
		{"wrong path", "POST", "/other", httpwire.StatusNotFound},
		{"method and path both wrong", "GET", "/other", httpwire.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := &httpwire.Request{Method: tt.method, URI: tt.uri}
			resp, _, _, ok := e.startBody(req)
			require.False(t, ok)
			require.NotNil(t, resp)
		})
	}
}

func TestHTTPEndpoint_startBody_RequiresContentLength(t *testing.T) {
	e := &HTTPEndpoint{Path: "/endpoint-id"}
	req := &httpwire.Request{Method: "POST", URI: "/endpoint-id"}

	_, _, _, ok := e.startBody(req)
	assert.False(t, ok, "missing Content-Length must be rejected")
}

func TestHTTPEndpoint_startBody_RejectsZeroContentLength(t *testing.T) {
	e := &HTTPEndpoint{Path: "/endpoint-id"}
	req := &httpwire.Request{
		Method:  "POST",
		URI:     "/endpoint-id",
		Headers: []httpwire.Header{{Name: "Content-Length", Value: "0"}},
	}

	_, _, _, ok := e.startBody(req)
	assert.False(t, ok)
}

func TestHTTPEndpoint_startBody_ContentTypeValidation(t *testing.T) {
	e := &HTTPEndpoint{Path: "/endpoint-id"}

	tests := []struct {
		name        string
		contentType string
		wantOK      bool
		wantCharset string
	}{
		{"no content type is allowed", "", true, ""},
		{"plain soap+xml", "application/soap+xml", true, ""},
		{"soap+xml with charset", "application/soap+xml; charset=utf-8", true, "utf-8"},
		{"wrong media type", "text/plain", false, ""},
		{"too many parts", "application/soap+xml; charset=utf-8; extra=1", false, ""},
		{"second part not charset", "application/soap+xml; boundary=1", false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var headers []httpwire.Header
			headers = append(headers, httpwire.Header{Name: "Content-Length", Value: "4"})
			if tt.contentType != "" {
				headers = append(headers, httpwire.Header{Name: "Content-Type", Value: tt.contentType})
			}
			req := &httpwire.Request{Method: "POST", URI: "/endpoint-id", Headers: headers}

			resp, remaining, push, ok := e.startBody(req)
			require.Equal(t, tt.wantOK, ok)
			if !tt.wantOK {
				assert.NotNil(t, resp)
				return
			}
			assert.Nil(t, resp)
			assert.EqualValues(t, 4, remaining)
			assert.NotNil(t, push)
		})
	}
}

func TestHTTPEndpoint_Integration_RoundTrip(t *testing.T) {
	const soapBody = "<a:Envelope xmlns:a=\"http://www.w3.org/2003/05/soap-envelope\"><a:Body/></a:Envelope>"

	handlerCalled := make(chan *wsdxml.Document, 1)
	e := &HTTPEndpoint{
		Addr: netip.MustParseAddr("127.0.0.1"),
		Port: 0,
		Path: "/endpoint-id",
		Handle: func(doc *wsdxml.Document) ([]byte, bool) {
			handlerCalled <- doc
			return []byte("<reply/>"), true
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, e.Start(ctx))
	defer e.Stop(time.Second)

	addr := e.listener.Addr().String()
	conn, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)
	defer conn.Close()

	request := "POST /endpoint-id HTTP/1.1\r\n" +
		"Content-Type: application/soap+xml\r\n" +
		"Content-Length: " + strconv.Itoa(len(soapBody)) + "\r\n" +
		"\r\n" + soapBody

	_, err = conn.Write([]byte(request))
	require.NoError(t, err)

	select {
	case doc := <-handlerCalled:
		require.NotNil(t, doc.Root())
	case <-time.After(2 * time.Second):
		t.Fatal("handler was not invoked")
	}

	buf := make([]byte, 4096)
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := conn.Read(buf)
	require.NoError(t, err)
	resp := string(buf[:n])
	assert.Contains(t, resp, "200 OK")
	assert.Contains(t, resp, "<reply/>")
}

func TestHTTPEndpoint_Integration_BadRequestOnWrongPath(t *testing.T) {
	e := &HTTPEndpoint{
		Addr: netip.MustParseAddr("127.0.0.1"),
		Port: 0,
		Path: "/endpoint-id",
		Handle: func(doc *wsdxml.Document) ([]byte, bool) {
			return []byte("<reply/>"), true
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, e.Start(ctx))
	defer e.Stop(time.Second)

	addr := e.listener.Addr().String()
	conn, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)
	defer conn.Close()

	request := "POST /wrong HTTP/1.1\r\nContent-Length: 2\r\n\r\nhi"
	_, err = conn.Write([]byte(request))
	require.NoError(t, err)

	buf := make([]byte, 4096)
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := conn.Read(buf)
	require.NoError(t, err)
	assert.Contains(t, string(buf[:n]), "404 Not Found")
}
