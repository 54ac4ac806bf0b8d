package handshake

// boundedBuffer is a fixed-capacity byte accumulator. Append reports false
// instead of growing past the capacity.
type boundedBuffer struct {
	data []byte
	max  int
}

func newBoundedBuffer(max int) boundedBuffer {
	return boundedBuffer{data: make([]byte, 0, max), max: max}
}

func (b *boundedBuffer) Append(c byte) bool {
	if len(b.data) >= b.max {
		return false
	}
	b.data = append(b.data, c)
	return true
}

func (b *boundedBuffer) Full() bool { return len(b.data) >= b.max }

func (b *boundedBuffer) Len() int { return len(b.data) }

func (b *boundedBuffer) Bytes() []byte { return b.data }

func (b *boundedBuffer) Reset() { b.data = b.data[:0] }

// runeBuffer is the code point counterpart of boundedBuffer, used by the
// scratch scanner while collecting an OSC payload.
type runeBuffer struct {
	data []rune
	max  int
}

func newRuneBuffer(max int) runeBuffer {
	return runeBuffer{max: max}
}

func (b *runeBuffer) Append(r rune) bool {
	if len(b.data) >= b.max {
		return false
	}
	b.data = append(b.data, r)
	return true
}

func (b *runeBuffer) HasPrefix(prefix []rune) bool {
	if len(b.data) < len(prefix) {
		return false
	}
	for i, r := range prefix {
		if b.data[i] != r {
			return false
		}
	}
	return true
}

func (b *runeBuffer) Runes() []rune { return b.data }

func (b *runeBuffer) Reset() { b.data = b.data[:0] }
