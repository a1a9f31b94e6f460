package wsdxml

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/beevik/etree"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/transform"
)

// PushParser accumulates an HTTP body incrementally (internal/wsd's HTTP
// endpoint hands it chunks as they arrive off the wire) and parses the complete document
// once Finish is called. Content is buffered rather than streamed through a
// token decoder: SOAP envelopes here are a few KiB at most, and buffering
// lets a declared charset be transcoded in one pass before etree sees it.
type PushParser struct {
	buf     bytes.Buffer
	charset string
}

// NewPushParser creates a parser for a body whose Content-Type declared the
// given charset (e.g. "iso-8859-1"); pass "" for none/utf-8.
func NewPushParser(charset string) *PushParser {
	return &PushParser{charset: normalizeCharset(charset)}
}

func normalizeCharset(charset string) string {
	c := strings.ToLower(strings.TrimSpace(charset))
	if c == "utf-8" || c == "us-ascii" || c == "ascii" {
		return ""
	}
	return c
}

// Write appends a chunk of raw body bytes.
func (p *PushParser) Write(chunk []byte) (int, error) {
	return p.buf.Write(chunk)
}

// Finish parses the accumulated bytes into a Document, transcoding from the
// declared charset to UTF-8 first if one was set.
func (p *PushParser) Finish() (*Document, error) {
	data := p.buf.Bytes()
	if p.charset != "" {
		transcoded, err := decodeCharset(data, p.charset)
		if err != nil {
			return nil, fmt.Errorf("wsdxml: push parser: %w", err)
		}
		data = transcoded
	}
	return Parse(data)
}

func decodeCharset(data []byte, charset string) ([]byte, error) {
	enc, err := ianaindex.IANA.Encoding(charset)
	if err != nil || enc == nil {
		return nil, fmt.Errorf("unknown charset %q: %w", charset, err)
	}
	reader := transform.NewReader(bytes.NewReader(data), enc.NewDecoder())
	return io.ReadAll(reader)
}

// CopyInto deep-copies src (an element from one document) as a child of
// dst, preserving descendants and attributes. GetResponseBody performs the
// same Copy-and-AddChild inline when it splices a user-supplied metadata
// template into a freshly built envelope.
func CopyInto(dst *etree.Element, src *etree.Element) *etree.Element {
	copied := src.Copy()
	dst.AddChild(copied)
	return copied
}
