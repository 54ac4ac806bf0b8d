package handshake

import (
	"unicode/utf8"

	"github.com/charmbracelet/x/ansi"
)

type scanState int

const (
	scanGround scanState = iota
	scanEscape
	scanCSI
	scanOSC
	scanString
)

// C1 controls recognized by the scanner besides OSC and ST.
const (
	dcs = 0x90
	sos = 0x98
	csi = 0x9B
	pm  = 0x9E
	apc = 0x9F
)

// ScratchScanner locates a server hello inside terminal output. Escape
// sequences before the hello are skipped without being interpreted, but
// printable text outside of them is rejected: only control-sequence noise
// may precede the handshake. Once an OSC payload carrying [Prefix] is
// found, it is replayed through a strict client-role [Parser] and the rest
// of the stream is parsed strictly.
//
// The zero value is invalid; use [NewScratchScanner].
type ScratchScanner struct {
	parser     *Parser
	decoder    utf8Decoder
	state      scanState
	seenEscape bool
	scratch    runeBuffer
	strict     bool
	partial    []byte
	leading    []byte
	residual   []byte
	outcome    Outcome
}

// NewScratchScanner creates a scanner for the client role.
func NewScratchScanner() *ScratchScanner {
	return &ScratchScanner{
		parser:  NewParser(RoleClient),
		decoder: newUTF8Decoder(),
		scratch: newRuneBuffer(MaxScratch),
	}
}

// Reset prepares the scanner for a new attempt.
func (s *ScratchScanner) Reset() {
	s.parser.Reset()
	s.decoder.Reset()
	s.state = scanGround
	s.seenEscape = false
	s.scratch.Reset()
	s.strict = false
	s.partial = nil
	s.leading = nil
	s.residual = nil
	s.outcome = Ongoing
}

// Outcome returns the last outcome produced by Feed.
func (s *ScratchScanner) Outcome() Outcome { return s.outcome }

// Fields returns the hello values. Only valid after Success.
func (s *ScratchScanner) Fields() Fields { return s.parser.Fields() }

// Residual returns the bytes of the last chunk that followed the hello.
func (s *ScratchScanner) Residual() []byte { return s.residual }

// Strict reports whether the prefix has been found and the scanner now
// parses strictly.
func (s *ScratchScanner) Strict() bool { return s.strict }

// LeadingContent returns the rejected input after BadLeadingContent,
// starting at the offending code point. When that code point began in an
// earlier chunk its first bytes are included. Otherwise it aliases the
// chunk passed to Feed.
func (s *ScratchScanner) LeadingContent() []byte { return s.leading }

// LeadingText returns LeadingContent with escape sequences removed, for
// diagnostics.
func (s *ScratchScanner) LeadingText() string {
	return ansi.Strip(string(s.leading))
}

// Feed consumes chunk and stops at the first terminal outcome.
func (s *ScratchScanner) Feed(chunk []byte) Outcome {
	if s.outcome.Terminal() {
		return s.outcome
	}
	if s.strict {
		return s.feedStrict(chunk)
	}
	// carried holds the bytes of a code point begun in an earlier chunk;
	// start indexes the current code point within chunk.
	carried, start := s.partial, 0
	s.partial = nil
	for i, b := range chunk {
		if s.decoder.Pending() == 0 {
			carried, start = nil, i
		}
		o, found := s.feedByte(b)
		if found {
			return s.replay(chunk[i+1:])
		}
		if o != Ongoing {
			if o == BadLeadingContent {
				s.leading = joinCarried(carried, chunk[start:])
			}
			s.outcome = o
			return o
		}
	}
	if s.decoder.Pending() > 0 {
		s.partial = append(append([]byte(nil), carried...), chunk[start:]...)
	}
	return Ongoing
}

func joinCarried(carried, rest []byte) []byte {
	if len(carried) == 0 {
		return rest
	}
	out := make([]byte, 0, len(carried)+len(rest))
	out = append(out, carried...)
	return append(out, rest...)
}

func (s *ScratchScanner) feedStrict(chunk []byte) Outcome {
	o := s.parser.Feed(chunk)
	if o == Success {
		s.residual = s.parser.Residual()
	}
	s.outcome = o
	return o
}

// replay pushes the collected OSC payload, closed with ST, through the
// strict parser and continues strictly with rest.
func (s *ScratchScanner) replay(rest []byte) Outcome {
	s.strict = true
	payload := make([]byte, 0, len(s.scratch.Runes())+utf8.UTFMax)
	for _, r := range s.scratch.Runes() {
		payload = utf8.AppendRune(payload, r)
	}
	payload = utf8.AppendRune(payload, ST)
	s.scratch.Reset()

	o := s.parser.Feed(payload)
	switch o {
	case Ongoing:
		return s.feedStrict(rest)
	case Success:
		s.residual = rest
	}
	s.outcome = o
	return o
}

// feedByte returns found once an OSC carrying the prefix is complete.
func (s *ScratchScanner) feedByte(b byte) (Outcome, bool) {
	r, status := s.decoder.Feed(b)
	switch status {
	case decodeNeedMore:
		return Ongoing, false
	case decodeInvalid:
		return BadUTF8, false
	}

	if s.seenEscape {
		s.seenEscape = false
		switch {
		case r >= 0x40 && r <= 0x5F:
			r += 0x40
		case r == esc:
			return BadEscapeSequence, false
		case r >= 0x20 && r <= 0x2F:
			// ESC with intermediates, e.g. a charset designation.
			s.state = scanEscape
			return Ongoing, false
		case r >= 0x30 && r <= 0x7E:
			s.state = scanGround
			return Ongoing, false
		default:
			return BadEscapeSequence, false
		}
	} else if r == esc {
		if s.state == scanCSI || s.state == scanEscape {
			s.state = scanGround
		}
		s.seenEscape = true
		return Ongoing, false
	}

	switch s.state {
	case scanEscape:
		if r >= 0x20 && r <= 0x2F {
			return Ongoing, false
		}
		s.state = scanGround
		if r >= 0x30 && r <= 0x7E {
			return Ongoing, false
		}
		return s.ground(r), false

	case scanCSI:
		if r >= 0x40 && r <= 0x7E {
			s.state = scanGround
		}
		return Ongoing, false

	case scanOSC:
		if r == bel || r == ST {
			s.state = scanGround
			if s.scratch.HasPrefix(Prefix) {
				return Ongoing, true
			}
			s.scratch.Reset()
			return Ongoing, false
		}
		if !s.scratch.Append(r) {
			return TooLong, false
		}
		return Ongoing, false

	case scanString:
		if r == bel || r == ST {
			s.state = scanGround
		}
		return Ongoing, false

	default:
		return s.ground(r), false
	}
}

func (s *ScratchScanner) ground(r rune) Outcome {
	switch {
	case r == csi:
		s.state = scanCSI
	case r == OSC:
		s.state = scanOSC
		s.scratch.Reset()
		s.scratch.Append(r)
	case r == dcs, r == sos, r == pm, r == apc:
		s.state = scanString
	case r < 0x20, r == 0x7F, r >= 0x80 && r <= 0x9F:
		// Other controls carry no text.
	default:
		return BadLeadingContent
	}
	return Ongoing
}
