package wsdxml

import (
	"fmt"

	"github.com/beevik/etree"
)

// Document wraps an etree.Document with the namespace-aware lookups the
// WS-Discovery dispatcher needs. etree keeps each element's declared prefix
// verbatim; Document resolves prefixes to URIs on demand so a peer that uses
// unconventional prefixes (or none, via a default xmlns) is still matched
// correctly.
type Document struct {
	*etree.Document
}

// Parse parses a complete in-memory SOAP envelope (the UDP path, and the
// HTTP path once Content-Length bytes have all arrived).
func Parse(data []byte) (*Document, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, fmt.Errorf("wsdxml: parse: %w", err)
	}
	if doc.Root() == nil {
		return nil, fmt.Errorf("wsdxml: parse: no root element")
	}
	return &Document{doc}, nil
}

// Serialize renders the document as UTF-8 bytes. It first re-indents the
// tree with Indent(0), which puts each element on its own line with no
// leading spaces.
func Serialize(doc *etree.Document) ([]byte, error) {
	doc.Indent(0)
	return doc.WriteToBytes()
}

// Step is one level of a namespace-qualified element path.
type Step struct {
	URI   string
	Local string
}

// S builds a Step; a short constructor so dispatch code reads like the
// XPath it replaces.
func S(uri, local string) Step { return Step{URI: uri, Local: local} }

// nsMatch reports whether el is the element named by (uri, local),
// resolving el's namespace through any ancestor xmlns declaration rather
// than comparing the literal prefix string.
func nsMatch(el *etree.Element, uri, local string) bool {
	return el != nil && el.Tag == local && el.NamespaceURI() == uri
}

// ChildNS returns the first direct child of parent matching (uri, local),
// or nil.
func ChildNS(parent *etree.Element, uri, local string) *etree.Element {
	if parent == nil {
		return nil
	}
	for _, child := range parent.ChildElements() {
		if nsMatch(child, uri, local) {
			return child
		}
	}
	return nil
}

// FindPath walks a chain of namespace-qualified steps from root, returning
// the element at the end of the chain or nil if any step is missing. This
// is the namespace-registered equivalent of the source's XPath expressions
// like "/soap:Envelope/soap:Header".
func FindPath(root *etree.Element, steps ...Step) *etree.Element {
	cur := root
	for _, step := range steps {
		cur = ChildNS(cur, step.URI, step.Local)
		if cur == nil {
			return nil
		}
	}
	return cur
}

// Text returns el's direct text content, or "" if el is nil.
func Text(el *etree.Element) string {
	if el == nil {
		return ""
	}
	return el.Text()
}

// FindText is FindPath followed by Text, mirroring the source's
// `string(...)` XPath evaluations.
func FindText(root *etree.Element, steps ...Step) string {
	return Text(FindPath(root, steps...))
}

// ResolvePrefix resolves an XML namespace prefix to its URI by walking up
// from el through its ancestors looking for the declaring xmlns attribute,
// the way a validating processor resolves a QName found in element content
// (e.g. the "wsdp" in a wsd:Types value of "wsdp:Device") rather than in a
// tag name, which NamespaceURI already handles. Returns "" if undeclared.
func ResolvePrefix(el *etree.Element, prefix string) string {
	for cur := el; cur != nil; cur = cur.Parent() {
		for _, a := range cur.Attr {
			if prefix == "" {
				if a.Space == "" && a.Key == "xmlns" {
					return a.Value
				}
			} else if a.Space == "xmlns" && a.Key == prefix {
				return a.Value
			}
		}
	}
	return ""
}
