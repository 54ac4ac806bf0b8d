package handshake

import "unicode/utf8"

type decodeStatus int

const (
	decodeNeedMore decodeStatus = iota
	decodeRune
	decodeInvalid
)

// utf8Decoder consumes one byte at a time and yields a code point once a
// sequence is complete. Only the bytes of the in-progress sequence are
// kept, so sequences split across reads decode correctly.
type utf8Decoder struct {
	pending boundedBuffer
	want    int
}

func newUTF8Decoder() utf8Decoder {
	return utf8Decoder{pending: newBoundedBuffer(utf8.UTFMax)}
}

// Feed consumes b. The returned rune is only meaningful with decodeRune.
func (d *utf8Decoder) Feed(b byte) (rune, decodeStatus) {
	if d.pending.Len() == 0 {
		switch {
		case b < utf8.RuneSelf:
			return rune(b), decodeRune
		case b >= 0xC2 && b <= 0xDF:
			d.want = 2
		case b >= 0xE0 && b <= 0xEF:
			d.want = 3
		case b >= 0xF0 && b <= 0xF4:
			d.want = 4
		default:
			return utf8.RuneError, decodeInvalid
		}
		d.pending.Append(b)
		return 0, decodeNeedMore
	}

	if b&0xC0 != 0x80 || !d.pending.Append(b) {
		d.Reset()
		return utf8.RuneError, decodeInvalid
	}
	if d.pending.Len() < d.want {
		return 0, decodeNeedMore
	}

	// Overlong forms and surrogates are only detectable on the full sequence.
	r, size := utf8.DecodeRune(d.pending.Bytes())
	d.Reset()
	if r == utf8.RuneError && size <= 1 {
		return utf8.RuneError, decodeInvalid
	}
	return r, decodeRune
}

// Pending reports how many bytes of an incomplete sequence are buffered.
func (d *utf8Decoder) Pending() int { return d.pending.Len() }

func (d *utf8Decoder) Reset() {
	d.pending.Reset()
	d.want = 0
}
