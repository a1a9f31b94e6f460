// Package httpwire implements the narrow slice of HTTP/1.x this daemon
// needs to speak: a hand-rolled request-head parser with the exact
// Good/Bad/Indeterminate contract the WS-Discovery HTTP endpoint's tests
// depend on, plus a small stock-response table. No general-purpose HTTP
// library is used here; see the package's design note in DESIGN.md.
package httpwire

import (
	"errors"
	"strconv"
	"strings"
)

// ErrHeaderNotUnique is returned by GetUniqueHeader when a header name
// appears more than once in the request.
var ErrHeaderNotUnique = errors.New("httpwire: header present more than once")

// ErrHeaderBadFormat is returned when a header's value doesn't parse as the
// type the caller expected (e.g. a non-numeric Content-Length).
var ErrHeaderBadFormat = errors.New("httpwire: header value malformed")

// Header is one request header field, order-preserved as received.
type Header struct {
	Name  string
	Value string
}

// Request is a parsed HTTP/1.x request head. Headers keeps every
// occurrence in wire order so GetHeaderList can join repeated fields.
type Request struct {
	Method        string
	URI           string
	VersionMajor  int
	VersionMinor  int
	Headers       []Header
}

// GetUniqueHeader returns the single value for name (case-insensitive), ""
// if absent, or ErrHeaderNotUnique if it occurs more than once.
func (r *Request) GetUniqueHeader(name string) (string, bool, error) {
	found := false
	value := ""
	for _, h := range r.Headers {
		if !strings.EqualFold(h.Name, name) {
			continue
		}
		if found {
			return "", false, ErrHeaderNotUnique
		}
		found = true
		value = h.Value
	}
	return value, found, nil
}

// GetHeaderList joins every occurrence of name (case-insensitive) with
// ", ", in the order received, or reports absent=false if there are none.
func (r *Request) GetHeaderList(name string) (value string, present bool) {
	var b strings.Builder
	for _, h := range r.Headers {
		if !strings.EqualFold(h.Name, name) {
			continue
		}
		if present {
			b.WriteString(", ")
		}
		b.WriteString(h.Value)
		present = true
	}
	return b.String(), present
}

// GetContentLength parses the unique Content-Length header, if any.
func (r *Request) GetContentLength() (length int64, present bool, err error) {
	value, present, err := r.GetUniqueHeader("Content-Length")
	if err != nil || !present {
		return 0, present, err
	}
	n, convErr := strconv.ParseInt(value, 10, 64)
	if convErr != nil || n < 0 {
		return 0, true, ErrHeaderBadFormat
	}
	return n, true, nil
}

// GetContentType splits the unique Content-Type header on "; ", returning
// the media type as element 0 and any parameters (e.g. "charset=...") as
// the rest.
func (r *Request) GetContentType() (parts []string, present bool, err error) {
	value, present, err := r.GetUniqueHeader("Content-Type")
	if err != nil || !present {
		return nil, present, err
	}
	return strings.Split(value, "; "), true, nil
}

// GetKeepAlive reports whether the Connection header lists "keep-alive".
func (r *Request) GetKeepAlive() bool {
	value, present := r.GetHeaderList("Connection")
	if !present {
		return false
	}
	for _, item := range strings.Split(value, ", ") {
		if strings.EqualFold(strings.TrimSpace(item), "keep-alive") {
			return true
		}
	}
	return false
}

// Charset extracts the charset parameter from a Content-Type parts slice
// as returned by GetContentType, or "" if absent.
func Charset(contentTypeParts []string) string {
	for _, part := range contentTypeParts[1:] {
		name, value, ok := strings.Cut(part, "=")
		if ok && strings.EqualFold(strings.TrimSpace(name), "charset") {
			return strings.Trim(strings.TrimSpace(value), `"`)
		}
	}
	return ""
}
