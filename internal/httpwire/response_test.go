package httpwire

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStockResponse_BadRequest(t *testing.T) {
	resp := StockResponse(StatusBadRequest)
	out := string(resp.Bytes())
	assert.True(t, strings.HasPrefix(out, "HTTP/1.0 400 Bad Request\r\n"))
	assert.Contains(t, out, "Content-Type: text/html\r\n")
	assert.Contains(t, out, "400 Bad Request")
}

func TestStockResponse_UnknownStatusFallsBackTo500(t *testing.T) {
	resp := StockResponse(Status(999))
	out := string(resp.Bytes())
	assert.True(t, strings.HasPrefix(out, "HTTP/1.0 500 Internal Server Error\r\n"))
}

func TestSOAPReply(t *testing.T) {
	xml := []byte("<soap:Envelope/>")
	resp := SOAPReply(xml)
	out := string(resp.Bytes())
	assert.True(t, strings.HasPrefix(out, "HTTP/1.0 200 OK\r\n"))
	assert.Contains(t, out, "Content-Type: application/soap+xml\r\n")
	assert.Contains(t, out, "Content-Length: 16\r\n")
	assert.True(t, strings.HasSuffix(out, string(xml)))
}
