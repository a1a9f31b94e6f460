package wsdxml

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testEndpointURN = "urn:uuid:4509a320-00a0-4c6c-894a-9f4c7da7d1e1"

func TestBuilder_HelloEnvelope(t *testing.T) {
	doc := NewBuilder().
		To(DiscoveryURN).
		Action(URIWSD + "/Hello").
		AppSequence(AppSequence{InstanceID: 1, MessageNumber: 1}).
		Body(HelloBody(testEndpointURN)).
		Build()

	root := doc.Root()
	require.NotNil(t, root)
	assert.Equal(t, "Envelope", root.Tag)

	header := FindPath(root, S(URISOAP, "Header"))
	require.NotNil(t, header)
	assert.Equal(t, DiscoveryURN, FindText(header, S(URIWSA, "To")))
	assert.Equal(t, URIWSD+"/Hello", FindText(header, S(URIWSA, "Action")))
	assert.NotEmpty(t, FindText(header, S(URIWSA, "MessageID")))

	seq := FindPath(header, S(URIWSD, "AppSequence"))
	require.NotNil(t, seq)
	assert.Equal(t, "1", seq.SelectAttrValue("InstanceId", ""))
	assert.Equal(t, "1", seq.SelectAttrValue("MessageNumber", ""))

	body := FindPath(root, S(URISOAP, "Body"))
	require.NotNil(t, body)
	hello := FindPath(body, S(URIWSD, "Hello"))
	require.NotNil(t, hello)
	addr := FindText(hello, S(URIWSA, "EndpointReference"), S(URIWSA, "Address"))
	assert.Equal(t, testEndpointURN, addr)
}

func TestBuilder_RelatesToOnlyWhenSet(t *testing.T) {
	doc := NewBuilder().
		To(AnonymousRole).
		Action(URIWSD + "/ProbeMatches").
		Body(ProbeMatchBody(testEndpointURN)).
		Build()

	header := FindPath(doc.Root(), S(URISOAP, "Header"))
	require.NotNil(t, header)
	assert.Nil(t, FindPath(header, S(URIWSA, "RelatesTo")))

	doc2 := NewBuilder().
		To(AnonymousRole).
		Action(URIWSD + "/ProbeMatches").
		RelatesTo("urn:uuid:abc").
		Body(ProbeMatchBody(testEndpointURN)).
		Build()
	header2 := FindPath(doc2.Root(), S(URISOAP, "Header"))
	assert.Equal(t, "urn:uuid:abc", FindText(header2, S(URIWSA, "RelatesTo")))
}

func TestBuilder_PanicsOnIncompleteEnvelope(t *testing.T) {
	assert.Panics(t, func() {
		NewBuilder().To("x").Build()
	})
}

func TestGetResponseBody_DefaultShape(t *testing.T) {
	doc := NewBuilder().
		To(AnonymousRole).
		Action("http://schemas.xmlsoap.org/ws/2004/09/transfer/GetResponse").
		Body(GetResponseBody(GetResponseParams{
			EndpointURN:      testEndpointURN,
			HostDescription:  "desktop",
			FullComputerName: "desktop.example.com",
		})).
		Build()

	body := FindPath(doc.Root(), S(URISOAP, "Body"))
	metadata := FindPath(body, S(URIWSX, "Metadata"))
	require.NotNil(t, metadata)

	sections := metadata.SelectElements("wsx:MetadataSection")
	assert.Len(t, sections, 3)
}

func TestGetResponseBody_TemplateSubstitution(t *testing.T) {
	tmplDoc, err := Parse([]byte(`<wsx:Metadata xmlns:wsx="` + URIWSX + `">
		<wsx:MetadataSection Dialect="custom">
			<Info addr="$IP_ADDR">$ENDPOINT_ID on $SMB_FULL_HOST_NAME</Info>
		</wsx:MetadataSection>
	</wsx:Metadata>`))
	require.NoError(t, err)

	doc := NewBuilder().
		To(AnonymousRole).
		Action("Get").
		Body(GetResponseBody(GetResponseParams{
			EndpointURN:      testEndpointURN,
			FullComputerName: "host.example.com",
			HostAddress:      "192.168.1.5",
			Template:         tmplDoc.Root(),
		})).
		Build()

	body := FindPath(doc.Root(), S(URISOAP, "Body"))
	metadata := FindPath(body, S(URIWSX, "Metadata"))
	require.NotNil(t, metadata)
	info := metadata.FindElement(".//Info")
	require.NotNil(t, info)
	assert.Equal(t, "192.168.1.5", info.SelectAttrValue("addr", ""))
	assert.Equal(t, testEndpointURN+" on host.example.com", info.Text())
}
