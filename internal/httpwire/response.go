package httpwire

import (
	"bytes"
	"fmt"
)

// Status is an HTTP response status code, restricted to the set this
// daemon ever sends.
type Status int

const (
	StatusOK                  Status = 200
	StatusCreated              Status = 201
	StatusAccepted             Status = 202
	StatusNoContent            Status = 204
	StatusMultipleChoices      Status = 300
	StatusMovedPermanently     Status = 301
	StatusMovedTemporarily     Status = 302
	StatusNotModified          Status = 304
	StatusBadRequest           Status = 400
	StatusUnauthorized         Status = 401
	StatusForbidden            Status = 403
	StatusNotFound             Status = 404
	StatusInternalServerError  Status = 500
	StatusNotImplemented       Status = 501
	StatusBadGateway           Status = 502
	StatusServiceUnavailable   Status = 503
)

type statusRecord struct {
	line string
	body string
}

var statusTable = map[Status]statusRecord{
	StatusOK:                 {"HTTP/1.0 200 OK\r\n", ""},
	StatusCreated:            {"HTTP/1.0 201 Created\r\n", stockBody("Created")},
	StatusAccepted:           {"HTTP/1.0 202 Accepted\r\n", stockBody("Accepted")},
	StatusNoContent:          {"HTTP/1.0 204 No Content\r\n", stockBody("No Content")},
	StatusMultipleChoices:    {"HTTP/1.0 300 Multiple Choices\r\n", stockBody("Multiple Choices")},
	StatusMovedPermanently:   {"HTTP/1.0 301 Moved Permanently\r\n", stockBody("Moved Permanently")},
	StatusMovedTemporarily:   {"HTTP/1.0 302 Moved Temporarily\r\n", stockBody("Moved Temporarily")},
	StatusNotModified:        {"HTTP/1.0 304 Not Modified\r\n", stockBody("Not Modified")},
	StatusBadRequest:         {"HTTP/1.0 400 Bad Request\r\n", stockBody("Bad Request")},
	StatusUnauthorized:       {"HTTP/1.0 401 Unauthorized\r\n", stockBody("Unauthorized")},
	StatusForbidden:          {"HTTP/1.0 403 Forbidden\r\n", stockBody("Forbidden")},
	StatusNotFound:           {"HTTP/1.0 404 Not Found\r\n", stockBody("Not Found")},
	StatusInternalServerError: {"HTTP/1.0 500 Internal Server Error\r\n", stockBody("Internal Server Error")},
	StatusNotImplemented:     {"HTTP/1.0 501 Not Implemented\r\n", stockBody("Not Implemented")},
	StatusBadGateway:         {"HTTP/1.0 502 Bad Gateway\r\n", stockBody("Bad Gateway")},
	StatusServiceUnavailable: {"HTTP/1.0 503 Service Unavailable\r\n", stockBody("Service Unavailable")},
}

func stockBody(title string) string {
	return fmt.Sprintf("<html><head><title>%s</title></head><body><h1>%s</h1></body></html>", title, title)
}

// Response is an outbound HTTP/1.0 response: status line, headers, body.
type Response struct {
	status  Status
	headers []Header
	content []byte
}

// StockResponse builds a response carrying the built-in HTML body for
// status, falling back to 500 if status is unrecognized.
func StockResponse(status Status) *Response {
	rec, ok := statusTable[status]
	if !ok {
		status = StatusInternalServerError
		rec = statusTable[status]
	}
	r := &Response{status: status, content: []byte(rec.body)}
	r.AddHeader("Content-Type", "text/html")
	r.AddHeader("Content-Length", fmt.Sprintf("%d", len(r.content)))
	return r
}

// SOAPReply builds a 200 OK response carrying xml as an
// application/soap+xml body — the shape of every successful WS-Discovery
// HTTP reply.
func SOAPReply(xml []byte) *Response {
	r := &Response{status: StatusOK, content: xml}
	r.AddHeader("Content-Type", "application/soap+xml")
	r.AddHeader("Content-Length", fmt.Sprintf("%d", len(xml)))
	return r
}

// AddHeader appends one header line; order is preserved as added.
func (r *Response) AddHeader(name, value string) {
	r.headers = append(r.headers, Header{Name: name, Value: value})
}

// Bytes renders the full response: status line, headers, blank line, body.
func (r *Response) Bytes() []byte {
	rec, ok := statusTable[r.status]
	if !ok {
		rec = statusTable[StatusInternalServerError]
	}

	var buf bytes.Buffer
	buf.WriteString(rec.line)
	for _, h := range r.headers {
		fmt.Fprintf(&buf, "%s: %s\r\n", h.Name, h.Value)
	}
	buf.WriteString("\r\n")
	buf.Write(r.content)
	return buf.Bytes()
}
