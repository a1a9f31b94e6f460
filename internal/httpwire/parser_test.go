package httpwire

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParser_GoodRequest(t *testing.T) {
	raw := "POST /1b6dd603-ea6c-4201-9b2d-cf53b3901a14 HTTP/1.1\r\n" +
		"Host: 239.255.255.250:3702\r\n" +
		"Content-Type: application/soap+xml\r\n" +
		"Content-Length: 42\r\n" +
		"\r\n"

	var req Request
	p := NewParser(&req)
	result, n := p.Parse([]byte(raw))

	require.Equal(t, Good, result)
	assert.Equal(t, len(raw), n)
	assert.Equal(t, "POST", req.Method)
	assert.Equal(t, "/1b6dd603-ea6c-4201-9b2d-cf53b3901a14", req.URI)
	assert.Equal(t, 1, req.VersionMajor)
	assert.Equal(t, 1, req.VersionMinor)

	cl, present, err := req.GetContentLength()
	require.NoError(t, err)
	require.True(t, present)
	assert.EqualValues(t, 42, cl)
}

func TestParser_IncrementalFeed(t *testing.T) {
	raw := "GET /x HTTP/1.0\r\nHost: h\r\n\r\n"
	var req Request
	p := NewParser(&req)

	var result Result
	for i := 0; i < len(raw); i++ {
		r, n := p.Parse([]byte{raw[i]})
		require.Equal(t, 1, n)
		result = r
		if result != Indeterminate {
			break
		}
	}
	assert.Equal(t, Good, result)
	assert.Equal(t, "GET", req.Method)
}

func TestParser_BadMethodTooLong(t *testing.T) {
	raw := "SUPERLONGMETHODNAME /x HTTP/1.1\r\n\r\n"
	var req Request
	p := NewParser(&req)
	result, _ := p.Parse([]byte(raw))
	assert.Equal(t, Bad, result)
}

func TestParser_BadMissingURI(t *testing.T) {
	raw := "GET  HTTP/1.1\r\n\r\n"
	var req Request
	p := NewParser(&req)
	result, _ := p.Parse([]byte(raw))
	assert.Equal(t, Bad, result)
}

func TestParser_BadVersionTooHigh(t *testing.T) {
	raw := "GET /x HTTP/2.0\r\n\r\n"
	var req Request
	p := NewParser(&req)
	result, _ := p.Parse([]byte(raw))
	assert.Equal(t, Bad, result)
}

func TestParser_IndeterminateOnPartialHead(t *testing.T) {
	raw := "GET /x HTTP/1.1\r\nHost: h\r\n"
	var req Request
	p := NewParser(&req)
	result, n := p.Parse([]byte(raw))
	assert.Equal(t, Indeterminate, result)
	assert.Equal(t, len(raw), n)
}

func TestParser_FoldedHeaderLineWithLeadingWhitespace(t *testing.T) {
	raw := "GET /x HTTP/1.1\r\nX-Folded: first\r\n second\r\n\r\n"
	var req Request
	p := NewParser(&req)
	result, _ := p.Parse([]byte(raw))
	require.Equal(t, Good, result)

	value, present := req.GetHeaderList("X-Folded")
	require.True(t, present)
	assert.Equal(t, "firstsecond", value)
}

func TestParser_HeaderOversizeRejected(t *testing.T) {
	raw := "GET /x HTTP/1.1\r\nX-Big: " + strings.Repeat("a", maxHeadersSize) + "\r\n\r\n"
	var req Request
	p := NewParser(&req)
	result, _ := p.Parse([]byte(raw))
	assert.Equal(t, Bad, result)
}

func TestRequest_GetHeaderList_JoinsAllOccurrences(t *testing.T) {
	req := &Request{Headers: []Header{
		{Name: "Connection", Value: "keep-alive"},
		{Name: "Connection", Value: "Upgrade"},
	}}
	value, present := req.GetHeaderList("Connection")
	require.True(t, present)
	assert.Equal(t, "keep-alive, Upgrade", value)
	assert.True(t, req.GetKeepAlive())
}

func TestRequest_GetUniqueHeader_NotUnique(t *testing.T) {
	req := &Request{Headers: []Header{
		{Name: "Content-Length", Value: "1"},
		{Name: "Content-Length", Value: "2"},
	}}
	_, _, err := req.GetUniqueHeader("Content-Length")
	assert.ErrorIs(t, err, ErrHeaderNotUnique)
}

func TestRequest_GetContentType_SplitsParameters(t *testing.T) {
	req := &Request{Headers: []Header{
		{Name: "Content-Type", Value: "application/soap+xml; charset=utf-8"},
	}}
	parts, present, err := req.GetContentType()
	require.NoError(t, err)
	require.True(t, present)
	assert.Equal(t, []string{"application/soap+xml", "charset=utf-8"}, parts)
	assert.Equal(t, "utf-8", Charset(parts))
}
