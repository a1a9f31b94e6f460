// Package wsdxml provides the SOAP/XML envelope helpers used by the
// WS-Discovery protocol engine: namespace-aware element construction,
// document parsing (buffered and push/streaming), deep copy across
// documents, and placeholder substitution for the Get/GetResponse
// metadata template.
package wsdxml

// Namespace prefixes used throughout the WS-Discovery wire protocol.
// These are the only prefixes wsdd-go ever emits; inbound documents are
// matched by resolved namespace URI, not by the prefix the peer happened
// to use.
const (
	PrefixSOAP = "soap"
	PrefixWSA  = "wsa"
	PrefixWSD  = "wsd"
	PrefixWSDP = "wsdp"
	PrefixPub  = "pub"
	PrefixWSX  = "wsx"
	PrefixPNPX = "pnpx"
	PrefixWSDT = "wsdt"
)

// Namespace URIs, per §6 of the specification.
const (
	URISOAP = "http://www.w3.org/2003/05/soap-envelope"
	URIWSA  = "http://schemas.xmlsoap.org/ws/2004/08/addressing"
	URIWSD  = "http://schemas.xmlsoap.org/ws/2005/04/discovery"
	URIWSDP = "http://schemas.xmlsoap.org/ws/2006/02/devprof"
	URIPub  = "http://schemas.microsoft.com/windows/pub/2005/07"
	URIWSX  = "http://schemas.xmlsoap.org/ws/2004/09/mex"
	URIPNPX = "http://schemas.microsoft.com/windows/pnpx/2005/10"
	URIWSDT = "http://schemas.xmlsoap.org/ws/2004/09/transfer"
)

// DiscoveryURN is the well-known "To" address for multicast discovery
// messages (Hello, Bye, Probe, Resolve).
const DiscoveryURN = "urn:schemas-xmlsoap-org:ws:2005:04:discovery"

// AnonymousRole is the "To" address used on unicast replies (ProbeMatches,
// ResolveMatches, GetResponse); observed in the original implementation's
// response builder and carried here unchanged.
const AnonymousRole = URIWSA + "/role/anonymous"

// nsRegistry maps the prefixes this package emits to their URIs, in the
// order they should be declared on the envelope element.
var nsRegistry = []struct {
	prefix string
	uri    string
}{
	{PrefixSOAP, URISOAP},
	{PrefixWSA, URIWSA},
	{PrefixWSD, URIWSD},
	{PrefixPub, URIPub},
	{PrefixWSX, URIWSX},
	{PrefixWSDP, URIWSDP},
	{PrefixPNPX, URIPNPX},
}
