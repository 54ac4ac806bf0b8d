package handshake

import "testing"

func TestUTF8Decoder(t *testing.T) {
	tests := []struct {
		name   string
		input  []byte
		want   rune
		status decodeStatus
	}{
		{"ascii", []byte("A"), 'A', decodeRune},
		{"two bytes", []byte("\u009d"), 0x9D, decodeRune},
		{"three bytes", []byte("€"), '€', decodeRune},
		{"four bytes", []byte("😀"), '😀', decodeRune},
		{"bare continuation", []byte{0x80}, 0, decodeInvalid},
		{"overlong lead", []byte{0xC0}, 0, decodeInvalid},
		{"lead followed by ascii", []byte{0xE2, 'a'}, 0, decodeInvalid},
		{"surrogate", []byte{0xED, 0xA0, 0x80}, 0, decodeInvalid},
		{"overlong three bytes", []byte{0xE0, 0x80, 0x80}, 0, decodeInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newUTF8Decoder()
			var (
				r      rune
				status decodeStatus
			)
			for i, b := range tt.input {
				r, status = d.Feed(b)
				if status != decodeNeedMore {
					if i != len(tt.input)-1 {
						t.Fatalf("finished early at byte %d with %v", i, status)
					}
					break
				}
			}
			if status != tt.status {
				t.Fatalf("status = %v, want %v", status, tt.status)
			}
			if status == decodeRune && r != tt.want {
				t.Fatalf("rune = %U, want %U", r, tt.want)
			}
			if d.Pending() != 0 {
				t.Fatalf("pending = %d after a result", d.Pending())
			}
		})
	}
}

func TestUTF8Decoder_NeverBuffersMoreThanFour(t *testing.T) {
	d := newUTF8Decoder()
	for _, b := range []byte{0xF0, 0x9F, 0x98} {
		if _, status := d.Feed(b); status != decodeNeedMore {
			t.Fatalf("unexpected status %v", status)
		}
		if d.Pending() > 4 {
			t.Fatalf("pending = %d", d.Pending())
		}
	}
	if r, status := d.Feed(0x80); status != decodeRune || r != '😀' {
		t.Fatalf("got %U %v", r, status)
	}
}
