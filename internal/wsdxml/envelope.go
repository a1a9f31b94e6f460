package wsdxml

import (
	"fmt"

	"github.com/beevik/etree"
	"github.com/google/uuid"
)

// AppSequence is the monotonic ordering triple attached to every sequenced
// message (Hello, Bye, ProbeMatches, ResolveMatches). GetResponse never
// carries one.
type AppSequence struct {
	InstanceID    uint64
	MessageNumber uint64
}

// Builder assembles one outbound SOAP envelope. It mirrors the shape of
// the original implementation's WSDResponseBuilder: a handful of optional
// header fields plus exactly one body, built once.
type Builder struct {
	to          string
	action      string
	relatesTo   string
	hasRelates  bool
	appSeq      *AppSequence
	bodyBuilder func(body *etree.Element)
	built       bool
}

// NewBuilder returns an empty envelope builder.
func NewBuilder() *Builder {
	return &Builder{}
}

func (b *Builder) To(to string) *Builder {
	b.to = to
	return b
}

func (b *Builder) Action(action string) *Builder {
	b.action = action
	return b
}

func (b *Builder) RelatesTo(messageID string) *Builder {
	b.relatesTo = messageID
	b.hasRelates = true
	return b
}

func (b *Builder) AppSequence(seq AppSequence) *Builder {
	b.appSeq = &seq
	return b
}

// Body registers the function that fills in soap:Body once namespaces have
// been declared on the envelope. Exactly one call is expected per Builder.
func (b *Builder) Body(fn func(body *etree.Element)) *Builder {
	b.bodyBuilder = fn
	return b
}

// Build renders the envelope. It panics if To, Action, or Body were never
// set — those are programmer errors in this package's callers, not runtime
// conditions, matching the source's std::terminate() on the same checks.
func (b *Builder) Build() *etree.Document {
	if b.to == "" || b.action == "" || b.bodyBuilder == nil {
		panic("wsdxml: incomplete envelope: To, Action, and Body are required")
	}

	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	envelope := doc.CreateElement("soap:Envelope")
	for _, ns := range nsRegistry {
		envelope.CreateAttr("xmlns:"+ns.prefix, ns.uri)
	}

	header := envelope.CreateElement("soap:Header")
	header.CreateElement("wsa:To").SetText(b.to)
	header.CreateElement("wsa:Action").SetText(b.action)
	header.CreateElement("wsa:MessageID").SetText("urn:uuid:" + uuid.New().String())
	if b.hasRelates {
		header.CreateElement("wsa:RelatesTo").SetText(b.relatesTo)
	}
	if b.appSeq != nil {
		seq := header.CreateElement("wsd:AppSequence")
		seq.CreateAttr("InstanceId", fmt.Sprintf("%d", b.appSeq.InstanceID))
		seq.CreateAttr("SequenceId", "urn:uuid:"+uuid.New().String())
		seq.CreateAttr("MessageNumber", fmt.Sprintf("%d", b.appSeq.MessageNumber))
	}

	body := envelope.CreateElement("soap:Body")
	b.bodyBuilder(body)

	return doc
}

// addEndpointReference appends a wsa:EndpointReference/wsa:Address pair,
// used by Hello, Bye, ProbeMatch, and ResolveMatch bodies alike.
func addEndpointReference(node *etree.Element, address string) {
	ref := node.CreateElement("wsa:EndpointReference")
	ref.CreateElement("wsa:Address").SetText(address)
}

func addTypes(node *etree.Element) {
	node.CreateElement("wsd:Types").SetText("wsdp:Device pub:Computer")
}

func addMetadataVersion(node *etree.Element) {
	node.CreateElement("wsd:MetadataVersion").SetText("1")
}

// HelloBody fills in a wsd:Hello body for the given body element.
func HelloBody(endpointURN string) func(*etree.Element) {
	return func(body *etree.Element) {
		hello := body.CreateElement("wsd:Hello")
		addEndpointReference(hello, endpointURN)
		addMetadataVersion(hello)
	}
}

// ByeBody fills in a wsd:Bye body.
func ByeBody(endpointURN string) func(*etree.Element) {
	return func(body *etree.Element) {
		bye := body.CreateElement("wsd:Bye")
		addEndpointReference(bye, endpointURN)
	}
}

// ProbeMatchBody fills in a wsd:ProbeMatches/wsd:ProbeMatch body.
func ProbeMatchBody(endpointURN string) func(*etree.Element) {
	return func(body *etree.Element) {
		matches := body.CreateElement("wsd:ProbeMatches")
		match := matches.CreateElement("wsd:ProbeMatch")
		addEndpointReference(match, endpointURN)
		addTypes(match)
		addMetadataVersion(match)
	}
}

// ResolveMatchBody fills in a wsd:ResolveMatches/wsd:ResolveMatch body.
func ResolveMatchBody(endpointURN, xaddr string) func(*etree.Element) {
	return func(body *etree.Element) {
		matches := body.CreateElement("wsd:ResolveMatches")
		match := matches.CreateElement("wsd:ResolveMatch")
		addEndpointReference(match, endpointURN)
		addTypes(match)
		match.CreateElement("wsd:XAddrs").SetText(xaddr)
		addMetadataVersion(match)
	}
}

// GetResponseParams carries the substitution values and (optional) template
// used to answer a Get request.
type GetResponseParams struct {
	EndpointURN      string
	HostDescription  string
	FullComputerName string
	HostAddress      string // listener address, scope stripped, no brackets
	Template         *etree.Element // deep-copied subtree, or nil for the default body
}

// GetResponseBody fills in the wsx:Metadata body, either from a copied
// template (with placeholder substitution) or the built-in default shape.
func GetResponseBody(params GetResponseParams) func(*etree.Element) {
	return func(body *etree.Element) {
		if params.Template != nil {
			copied := params.Template.Copy()
			ReplacePlaceholders(copied, params)
			body.AddChild(copied)
			return
		}

		metadata := body.CreateElement("wsx:Metadata")

		section := metadata.CreateElement("wsx:MetadataSection")
		section.CreateAttr("Dialect", URIWSDP+"/ThisDevice")
		device := section.CreateElement("wsdp:ThisDevice")
		device.CreateElement("wsdp:FriendlyName").SetText(params.HostDescription)
		device.CreateElement("wsdp:FirmwareVersion").SetText("1.0")
		device.CreateElement("wsdp:SerialNumber").SetText("1")

		section = metadata.CreateElement("wsx:MetadataSection")
		section.CreateAttr("Dialect", URIWSDP+"/ThisModel")
		model := section.CreateElement("wsdp:ThisModel")
		model.CreateElement("wsdp:Manufacturer").SetText("wsdd-go")
		model.CreateElement("wsdp:ModelName").SetText("wsdd-go")
		model.CreateElement("pnpx:DeviceCategory").SetText("Computers")

		section = metadata.CreateElement("wsx:MetadataSection")
		section.CreateAttr("Dialect", URIWSDP+"/Relationship")
		relationship := section.CreateElement("wsdp:Relationship")
		relationship.CreateAttr("Type", URIWSDP+"/host")
		host := relationship.CreateElement("wsdp:Host")
		addEndpointReference(host, params.EndpointURN)
		host.CreateElement("wsdp:Types").SetText("pub:Computer")
		host.CreateElement("wsdp:ServiceId").SetText(params.EndpointURN)
		host.CreateElement("pub:Computer").SetText(params.FullComputerName)
	}
}
