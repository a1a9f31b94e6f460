package httpwire

import "strings"

// Result is the outcome of feeding bytes to a Parser.
type Result int

const (
	// Indeterminate means more input is needed.
	Indeterminate Result = iota
	// Good means a complete, valid request head has been parsed.
	Good
	// Bad means the input violates the grammar and the connection must be
	// closed; no further bytes should be fed to this Parser.
	Bad
)

const (
	maxMethodSize  = 10
	maxURISize     = 2048
	maxHeadersSize = 8192

	minVersionMajor, minVersionMinor = 1, 0
	maxVersionMajor, maxVersionMinor = 1, 1
)

type state int

const (
	stateMethodStart state = iota
	stateMethod
	stateURI
	stateVersionH
	stateVersionT1
	stateVersionT2
	stateVersionP
	stateVersionSlash
	stateVersionMajorStart
	stateVersionMajor
	stateVersionMinorStart
	stateVersionMinor
	stateExpectingNewline1
	stateHeaderLineStart
	stateHeaderLWS
	stateHeaderName
	stateSpaceBeforeHeaderValue
	stateHeaderValue
	stateExpectingNewline2
	stateExpectingNewline3
)

// Parser is a streaming HTTP/1.x request-head parser: a direct port of the
// classic Boost.Asio request parser state machine. Feed it bytes with
// Parse; it reports Good as soon as the blank line terminating the
// headers is seen, Bad as soon as the grammar is violated, and
// Indeterminate otherwise. Bounded builders prevent a peer from driving
// unbounded memory growth with an oversized method, URI, or header block.
type Parser struct {
	state state

	method strings.Builder
	uri    strings.Builder

	versionMajor int
	versionMinor int

	headerName     strings.Builder
	headerValue    strings.Builder
	totalHeaderLen int

	req *Request
}

// NewParser returns a Parser that will populate req as it consumes bytes.
func NewParser(req *Request) *Parser {
	return &Parser{req: req}
}

// Reset returns p to its initial state so it can parse a new request into
// req, reusing the Parser's internal buffers.
func (p *Parser) Reset(req *Request) {
	p.state = stateMethodStart
	p.method.Reset()
	p.uri.Reset()
	p.versionMajor = 0
	p.versionMinor = 0
	p.headerName.Reset()
	p.headerValue.Reset()
	p.totalHeaderLen = 0
	p.req = req
}

// Parse feeds data to the parser and returns the outcome along with the
// number of bytes consumed. On Good or Bad it stops at the byte after
// which the outcome became known; on Indeterminate the whole slice was
// consumed.
func (p *Parser) Parse(data []byte) (Result, int) {
	for i, b := range data {
		result := p.consume(b)
		if result == Good || result == Bad {
			return result, i + 1
		}
	}
	return Indeterminate, len(data)
}

func isChar(c byte) bool { return c <= 127 }
func isCtl(c byte) bool  { return c <= 31 || c == 127 }
func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isTSpecial(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '@', ',', ';', ':', '\\', '"',
		'/', '[', ']', '?', '=', '{', '}', ' ', '\t':
		return true
	default:
		return false
	}
}

// boundedAddDigit multiplies value by 10 and adds digit, returning false
// instead of overflowing past maxVal.
func boundedAddDigit(value int, digit int, maxVal int) (int, bool) {
	if maxVal/10 < value {
		return 0, false
	}
	v := value * 10
	if maxVal-digit < v {
		return 0, false
	}
	return v + digit, true
}

func (p *Parser) consume(c byte) Result {
	switch p.state {
	case stateMethodStart:
		if !isChar(c) || isCtl(c) || isTSpecial(c) {
			return Bad
		}
		p.method.WriteByte(c)
		p.state = stateMethod
		return Indeterminate

	case stateMethod:
		if c == ' ' {
			p.req.Method = p.method.String()
			p.state = stateURI
			return Indeterminate
		}
		if !isChar(c) || isCtl(c) || isTSpecial(c) {
			return Bad
		}
		if p.method.Len() == maxMethodSize {
			return Bad
		}
		p.method.WriteByte(c)
		return Indeterminate

	case stateURI:
		if c == ' ' {
			if p.uri.Len() == 0 {
				return Bad
			}
			p.req.URI = p.uri.String()
			p.state = stateVersionH
			return Indeterminate
		}
		if isCtl(c) {
			return Bad
		}
		if p.uri.Len() == maxURISize {
			return Bad
		}
		p.uri.WriteByte(c)
		return Indeterminate

	case stateVersionH:
		if c == 'H' {
			p.state = stateVersionT1
			return Indeterminate
		}
		return Bad

	case stateVersionT1:
		if c == 'T' {
			p.state = stateVersionT2
			return Indeterminate
		}
		return Bad

	case stateVersionT2:
		if c == 'T' {
			p.state = stateVersionP
			return Indeterminate
		}
		return Bad

	case stateVersionP:
		if c == 'P' {
			p.state = stateVersionSlash
			return Indeterminate
		}
		return Bad

	case stateVersionSlash:
		if c == '/' {
			p.state = stateVersionMajorStart
			return Indeterminate
		}
		return Bad

	case stateVersionMajorStart:
		if isDigit(c) {
			digit := int(c - '0')
			if digit == 0 || digit > maxVersionMajor {
				return Bad
			}
			p.versionMajor = digit
			p.state = stateVersionMajor
			return Indeterminate
		}
		return Bad

	case stateVersionMajor:
		if c == '.' {
			if p.versionMajor < minVersionMajor {
				return Bad
			}
			p.state = stateVersionMinorStart
			return Indeterminate
		}
		if isDigit(c) {
			v, ok := boundedAddDigit(p.versionMajor, int(c-'0'), maxVersionMajor)
			if !ok {
				return Bad
			}
			p.versionMajor = v
			return Indeterminate
		}
		return Bad

	case stateVersionMinorStart:
		if isDigit(c) {
			digit := int(c - '0')
			if p.versionMajor == maxVersionMajor && digit > maxVersionMinor {
				return Bad
			}
			p.versionMinor = digit
			p.state = stateVersionMinor
			return Indeterminate
		}
		return Bad

	case stateVersionMinor:
		if c == '\r' {
			if p.versionMajor == minVersionMajor && p.versionMinor < minVersionMinor {
				return Bad
			}
			p.req.VersionMajor = p.versionMajor
			p.req.VersionMinor = p.versionMinor
			p.state = stateExpectingNewline1
			return Indeterminate
		}
		if isDigit(c) {
			maxMinor := maxVersionMinor
			if p.versionMajor != maxVersionMajor {
				maxMinor = int(^uint(0) >> 1)
			}
			v, ok := boundedAddDigit(p.versionMinor, int(c-'0'), maxMinor)
			if !ok {
				return Bad
			}
			p.versionMinor = v
			return Indeterminate
		}
		return Bad

	case stateExpectingNewline1:
		if c == '\n' {
			p.state = stateHeaderLineStart
			return Indeterminate
		}
		return Bad

	case stateHeaderLineStart:
		if c == '\r' {
			p.state = stateExpectingNewline3
			return Indeterminate
		}
		if p.headerValue.Len() != 0 && (c == ' ' || c == '\t') {
			// A continuation line extends the header just stored: drop that
			// entry so it is stored again, with the joined value, at the end
			// of this line.
			p.req.Headers = p.req.Headers[:len(p.req.Headers)-1]
			p.state = stateHeaderLWS
			return Indeterminate
		}
		if !isChar(c) || isCtl(c) || isTSpecial(c) {
			return Bad
		}
		if p.totalHeaderLen == maxHeadersSize {
			return Bad
		}
		p.headerName.Reset()
		p.headerValue.Reset()
		p.headerName.WriteByte(c)
		p.totalHeaderLen++
		p.state = stateHeaderName
		return Indeterminate

	case stateHeaderLWS:
		if c == '\r' {
			p.state = stateExpectingNewline2
			return Indeterminate
		}
		if c == ' ' || c == '\t' {
			return Indeterminate
		}
		if isCtl(c) {
			return Bad
		}
		p.state = stateHeaderValue
		if p.totalHeaderLen == maxHeadersSize {
			return Bad
		}
		p.headerValue.WriteByte(c)
		p.totalHeaderLen++
		return Indeterminate

	case stateHeaderName:
		if c == ':' {
			p.state = stateSpaceBeforeHeaderValue
			return Indeterminate
		}
		if !isChar(c) || isCtl(c) || isTSpecial(c) {
			return Bad
		}
		if p.totalHeaderLen == maxHeadersSize {
			return Bad
		}
		p.headerName.WriteByte(c)
		p.totalHeaderLen++
		return Indeterminate

	case stateSpaceBeforeHeaderValue:
		if c == ' ' {
			p.state = stateHeaderValue
			return Indeterminate
		}
		return Bad

	case stateHeaderValue:
		if c == '\r' {
			p.state = stateExpectingNewline2
			return Indeterminate
		}
		if isCtl(c) {
			return Bad
		}
		if p.totalHeaderLen == maxHeadersSize {
			return Bad
		}
		p.headerValue.WriteByte(c)
		p.totalHeaderLen++
		return Indeterminate

	case stateExpectingNewline2:
		if c == '\n' {
			p.req.Headers = append(p.req.Headers, Header{
				Name:  p.headerName.String(),
				Value: p.headerValue.String(),
			})
			p.state = stateHeaderLineStart
			return Indeterminate
		}
		return Bad

	case stateExpectingNewline3:
		if c == '\n' {
			return Good
		}
		return Bad
	}

	return Bad
}
