package handshake

import (
	"github.com/google/uuid"
)

type stage int

const (
	stagePrefix stage = iota
	stageVersion
	stageProtocol
	stageUUID
	stageDone
)

// Parser incrementally reads one handshake message in strict mode. A
// Parser serves a single attempt; call Reset before reusing it.
//
// The zero value is invalid; use [NewParser].
type Parser struct {
	role       Role
	decoder    utf8Decoder
	field      boundedBuffer
	stage      stage
	prefixPos  int
	seenEscape bool
	fields     Fields
	residual   []byte
	outcome    Outcome
}

// NewParser creates a [Parser] reading the message expected by role.
func NewParser(role Role) *Parser {
	return &Parser{
		role:    role,
		decoder: newUTF8Decoder(),
		field:   newBoundedBuffer(UUIDLen),
	}
}

// Reset prepares the parser for a new attempt.
func (p *Parser) Reset() {
	p.decoder.Reset()
	p.field.Reset()
	p.stage = stagePrefix
	p.prefixPos = 0
	p.seenEscape = false
	p.fields = Fields{}
	p.residual = nil
	p.outcome = Ongoing
}

// Role returns the role the parser was created with.
func (p *Parser) Role() Role { return p.role }

// Outcome returns the last outcome produced by Feed.
func (p *Parser) Outcome() Outcome { return p.outcome }

// Fields returns the parsed values. Only valid after Success.
func (p *Parser) Fields() Fields { return p.fields }

// Residual returns the bytes of the last chunk that followed the
// terminator. The slice aliases the chunk passed to Feed.
func (p *Parser) Residual() []byte { return p.residual }

// Feed consumes chunk and stops at the first terminal outcome. Feeding a
// parser that already reached a terminal outcome returns that outcome
// again without consuming input.
func (p *Parser) Feed(chunk []byte) Outcome {
	if p.outcome.Terminal() {
		return p.outcome
	}
	for i, b := range chunk {
		if o := p.feedByte(b); o != Ongoing {
			p.outcome = o
			if o == Success {
				p.residual = chunk[i+1:]
			}
			return o
		}
	}
	return Ongoing
}

func (p *Parser) feedByte(b byte) Outcome {
	r, status := p.decoder.Feed(b)
	switch status {
	case decodeNeedMore:
		return Ongoing
	case decodeInvalid:
		return BadUTF8
	}
	if r > 0xFF {
		return BadUTF8
	}

	if p.seenEscape {
		p.seenEscape = false
		switch r {
		case ']':
			r = OSC
		case '\\':
			r = ST
		default:
			return BadEscapeSequence
		}
	} else if r == esc {
		p.seenEscape = true
		return Ongoing
	}
	return p.feedRune(r)
}

func (p *Parser) feedRune(r rune) Outcome {
	switch p.stage {
	case stagePrefix:
		if r != Prefix[p.prefixPos] {
			return BadPrefix
		}
		p.prefixPos++
		if p.prefixPos == len(Prefix) {
			p.stage = stageVersion
		}
		return Ongoing

	case stageVersion:
		value, done, o := p.feedDecimal(r, p.role.versionError(), false)
		if done {
			p.fields.Version = value
			p.stage = stageProtocol
		}
		return o

	case stageProtocol:
		value, done, o := p.feedDecimal(r, p.role.protocolError(), p.role.zeroProtocolAllowed())
		if done {
			p.fields.Protocol = value
			p.stage = stageUUID
		}
		return o

	case stageUUID:
		return p.feedUUID(r)

	default:
		return p.outcome
	}
}

// feedDecimal accumulates one ';'-terminated decimal field. A fifth
// character is rejected before it is classified.
func (p *Parser) feedDecimal(r rune, fail Outcome, allowZero bool) (int, bool, Outcome) {
	if r == ';' {
		digits := p.field.Bytes()
		if len(digits) == 0 {
			return 0, false, fail
		}
		value := 0
		for _, d := range digits {
			value = value*10 + int(d-'0')
		}
		p.field.Reset()
		if value == 0 && !allowZero {
			return 0, false, fail
		}
		return value, true, Ongoing
	}
	if p.field.Len() >= MaxDigits || r < '0' || r > '9' {
		return 0, false, fail
	}
	p.field.Append(byte(r))
	return 0, false, Ongoing
}

func (p *Parser) feedUUID(r rune) Outcome {
	fail := p.role.uuidError()
	if r == ST {
		if p.field.Len() != UUIDLen {
			return fail
		}
		id, err := uuid.Parse(string(p.field.Bytes()))
		if err != nil {
			return fail
		}
		p.fields.ID = id
		p.field.Reset()
		p.stage = stageDone
		return Success
	}
	if !isUUIDChar(r) || !p.field.Append(byte(r)) {
		return fail
	}
	return Ongoing
}

func isUUIDChar(r rune) bool {
	switch {
	case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F', r == '-':
		return true
	}
	return false
}
