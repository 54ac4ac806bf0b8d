package handshake

// Outcome is the result of feeding input to a parser or scanner. Ongoing is
// the only non-terminal value.
type Outcome int

const (
	Ongoing Outcome = iota
	Success
	BadLeadingContent
	BadEscapeSequence
	BadPrefix
	BadServerVersion
	BadClientVersion
	BadProtocolVersion
	BadProtocolType
	BadServerUUID
	BadClientUUID
	TooLong
	BadUTF8
)

// String maps an [Outcome] to a string.
func (o Outcome) String() string {
	switch o {
	case Ongoing:
		return "ongoing"
	case Success:
		return "success"
	case BadLeadingContent:
		return "bad leading content"
	case BadEscapeSequence:
		return "bad escape sequence"
	case BadPrefix:
		return "bad prefix"
	case BadServerVersion:
		return "bad server version"
	case BadClientVersion:
		return "bad client version"
	case BadProtocolVersion:
		return "bad protocol version"
	case BadProtocolType:
		return "bad protocol type"
	case BadServerUUID:
		return "bad server uuid"
	case BadClientUUID:
		return "bad client uuid"
	case TooLong:
		return "too long"
	case BadUTF8:
		return "bad utf-8"
	default:
		return "invalid outcome"
	}
}

// Terminal reports whether o ends the parser's lifetime.
func (o Outcome) Terminal() bool { return o != Ongoing }

// Failed reports whether o is one of the parse error kinds.
func (o Outcome) Failed() bool { return o != Ongoing && o != Success }
