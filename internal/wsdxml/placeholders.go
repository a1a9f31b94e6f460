package wsdxml

import (
	"strings"

	"github.com/beevik/etree"
)

// ReplacePlaceholders walks el and every descendant, substituting the known
// tokens into character data and attribute values in place. It mirrors the
// source's replacePlaceholdersInSelfSiblingsAndChildren: both text nodes and
// attributes are scanned, not just element text, since a template author may
// put $IP_ADDR in either position.
func ReplacePlaceholders(el *etree.Element, params GetResponseParams) {
	if el == nil {
		return
	}

	for i, attr := range el.Attr {
		if replaced := replaceInString(attr.Value, params); replaced != attr.Value {
			el.Attr[i].Value = replaced
		}
	}

	for _, child := range el.Child {
		switch node := child.(type) {
		case *etree.CharData:
			if replaced := replaceInString(node.Data, params); replaced != node.Data {
				node.Data = replaced
			}
		case *etree.Element:
			ReplacePlaceholders(node, params)
		}
	}
}

// replaceInString scans s byte by byte rather than doing literal
// strings.ReplaceAll for each token, mirroring the source's inDollar
// scanner: a bare '$' enters "dollar" state, the next byte either escapes
// to a literal '$' (so "$$ENDPOINT_ID" renders "$ENDPOINT_ID", not a
// substitution), starts one of the four known tokens, or — matching the
// source exactly — is silently dropped if it starts none of them.
func replaceInString(s string, params GetResponseParams) string {
	if !strings.Contains(s, "$") {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	inDollar := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inDollar {
			inDollar = false
			switch {
			case c == '$':
				b.WriteByte(c)
			case strings.HasPrefix(s[i:], "ENDPOINT_ID"):
				b.WriteString(params.EndpointURN)
				i += len("ENDPOINT_ID") - 1
			case strings.HasPrefix(s[i:], "SMB_HOST_DESCRIPTION"):
				b.WriteString(params.HostDescription)
				i += len("SMB_HOST_DESCRIPTION") - 1
			case strings.HasPrefix(s[i:], "SMB_FULL_HOST_NAME"):
				b.WriteString(params.FullComputerName)
				i += len("SMB_FULL_HOST_NAME") - 1
			case strings.HasPrefix(s[i:], "IP_ADDR"):
				b.WriteString(params.HostAddress)
				i += len("IP_ADDR") - 1
			}
			continue
		}
		if c == '$' {
			inDollar = true
		} else {
			b.WriteByte(c)
		}
	}
	return b.String()
}
