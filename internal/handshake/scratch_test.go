package handshake

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/google/go-cmp/cmp"
)

// oscHello wraps the bare message in an OSC terminated by BEL.
func oscHello(version, protocol, id string) string {
	return "\x1b]ptybridge;" + version + ";" + protocol + ";" + id + "\x07"
}

func TestScratchScanner_SkipsNoiseBeforeHello(t *testing.T) {
	input := []byte("\x1b[31m" + oscHello("3", "1", testIDText))

	strict := NewParser(RoleClient)
	if o := strict.Feed([]byte(message7("3", "1", testIDText))); o != Success {
		t.Fatalf("strict: got %v", o)
	}

	s := NewScratchScanner()
	if o := s.Feed(input); o != Success {
		t.Fatalf("got %v, want %v", o, Success)
	}
	if diff := cmp.Diff(strict.Fields(), s.Fields()); diff != "" {
		t.Fatalf("fields mismatch (-strict +scratch):\n%s", diff)
	}
	if !s.Strict() {
		t.Fatal("expected strict mode after the prefix matched")
	}
}

func TestScratchScanner_EverySplitPoint(t *testing.T) {
	input := []byte("\r\n\x1b[2J\x1b[H\x1b]0;login\x07\u009b1;1H\x1b(B" +
		"\x1b]ptybridge;4;2;" + testIDText + "\x1b\\tail")
	want := Fields{Version: 4, Protocol: 2, ID: testID}

	for split := 0; split <= len(input); split++ {
		s := NewScratchScanner()
		o := s.Feed(input[:split])
		if o == Ongoing {
			o = s.Feed(input[split:])
		}
		if o != Success {
			t.Fatalf("split %d: got %v", split, o)
		}
		if diff := cmp.Diff(want, s.Fields()); diff != "" {
			t.Fatalf("split %d: fields mismatch (-want +got):\n%s", split, diff)
		}
	}
}

var bannerTests = []struct {
	name        string
	input       string
	wantLeading string
	wantText    string
}{{
	name:        "plain banner",
	input:       "Welcome\n",
	wantLeading: "Welcome\n",
	wantText:    "Welcome\n",
}, {
	name:        "banner after escape noise",
	input:       "\x1b[2J\x1b[HWelcome \x1b[1mfriend\x1b[0m\n",
	wantLeading: "Welcome \x1b[1mfriend\x1b[0m\n",
	wantText:    "Welcome friend\n",
}, {
	name:        "multi-byte first character",
	input:       "\x1b[m€uro",
	wantLeading: "€uro",
	wantText:    "€uro",
}, {
	name:        "multi-byte character after a long csi",
	input:       "\x1b[0;1;2;3;4m€",
	wantLeading: "€",
	wantText:    "€",
}, {
	name:        "text that looks like the prefix",
	input:       "ptybridge;1;1;" + testIDText,
	wantLeading: "ptybridge;1;1;" + testIDText,
	wantText:    "ptybridge;1;1;" + testIDText,
}}

func TestScratchScanner_RejectsBanner(t *testing.T) {
	for _, tt := range bannerTests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewScratchScanner()
			if o := s.Feed([]byte(tt.input)); o != BadLeadingContent {
				t.Fatalf("got %v, want %v", o, BadLeadingContent)
			}
			if got := string(s.LeadingContent()); got != tt.wantLeading {
				t.Fatalf("leading = %q, want %q", got, tt.wantLeading)
			}
			if got := s.LeadingText(); got != tt.wantText {
				t.Fatalf("leading text = %q, want %q", got, tt.wantText)
			}
		})
	}
}

// The rejected content starts at the offending code point even when that
// code point is split across reads. It ends where the rejecting chunk ends.
func TestScratchScanner_RejectsBannerEverySplitPoint(t *testing.T) {
	for _, tt := range bannerTests {
		t.Run(tt.name, func(t *testing.T) {
			offset := len(tt.input) - len(tt.wantLeading)
			_, size := utf8.DecodeRuneInString(tt.wantLeading)
			for split := 0; split <= len(tt.input); split++ {
				s := NewScratchScanner()
				o := s.Feed([]byte(tt.input[:split]))
				if o == Ongoing {
					o = s.Feed([]byte(tt.input[split:]))
				}
				if o != BadLeadingContent {
					t.Fatalf("split %d: got %v, want %v", split, o, BadLeadingContent)
				}

				want := tt.input[offset:]
				if split >= offset+size {
					want = tt.input[offset:split]
				}
				if got := string(s.LeadingContent()); got != want {
					t.Fatalf("split %d: leading = %q, want %q", split, got, want)
				}
				if want == tt.wantLeading && s.LeadingText() != tt.wantText {
					t.Fatalf("split %d: leading text = %q, want %q", split, s.LeadingText(), tt.wantText)
				}
			}
		})
	}
}

func TestScratchScanner_RejectsBannerBytewise(t *testing.T) {
	for _, tt := range bannerTests {
		t.Run(tt.name, func(t *testing.T) {
			_, size := utf8.DecodeRuneInString(tt.wantLeading)
			s := NewScratchScanner()
			o := feedScratchBytewise(s, []byte(tt.input))
			if o != BadLeadingContent {
				t.Fatalf("got %v, want %v", o, BadLeadingContent)
			}
			if got, want := string(s.LeadingContent()), tt.wantLeading[:size]; got != want {
				t.Fatalf("leading = %q, want %q", got, want)
			}
		})
	}
}

// feedScratchBytewise feeds input one byte per call until a terminal outcome.
func feedScratchBytewise(s *ScratchScanner, input []byte) Outcome {
	o := Ongoing
	for i := range input {
		if o = s.Feed(input[i : i+1]); o != Ongoing {
			break
		}
	}
	return o
}

func TestScratchScanner_SkipsForeignOSC(t *testing.T) {
	input := "\x1b]0;user@host: ~\x07\x1b]7;file://host/home\x1b\\" + oscHello("1", "1", testIDText)
	s := NewScratchScanner()
	if o := s.Feed([]byte(input)); o != Success {
		t.Fatalf("got %v, want %v", o, Success)
	}
}

func TestScratchScanner_TooLong(t *testing.T) {
	// The introducer counts towards the bound.
	atBound := "\x1b]" + strings.Repeat("a", MaxScratch-1)

	s := NewScratchScanner()
	if o := s.Feed([]byte(atBound)); o != Ongoing {
		t.Fatalf("at bound: got %v, want %v", o, Ongoing)
	}
	if o := s.Feed([]byte("a")); o != TooLong {
		t.Fatalf("past bound: got %v, want %v", o, TooLong)
	}
}

func TestScratchScanner_Residual(t *testing.T) {
	s := NewScratchScanner()
	if o := s.Feed([]byte("\x1b[0m" + oscHello("2", "1", testIDText) + "\x00rest")); o != Success {
		t.Fatalf("got %v, want %v", o, Success)
	}
	if got := string(s.Residual()); got != "\x00rest" {
		t.Fatalf("residual = %q", got)
	}
}

var scratchErrorTests = []struct {
	name  string
	input string
	want  Outcome
}{
	{"double escape", "\x1b\x1b", BadEscapeSequence},
	{"escape with control byte", "\x1b\x01", BadEscapeSequence},
	{"invalid utf-8", "\x1b[m\xff", BadUTF8},
	{"truncated sequence", "\x1b[m\xe2\x82A", BadUTF8},
	{"matched prefix with zero version", oscHello("0", "1", testIDText), BadServerVersion},
	{"matched prefix with bad uuid", oscHello("1", "1", "nope"), BadServerUUID},
	{"matched prefix without fields", "\x1b]ptybridge;\x07", BadServerVersion},
}

func TestScratchScanner_Errors(t *testing.T) {
	for _, tt := range scratchErrorTests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewScratchScanner()
			if got := s.Feed([]byte(tt.input)); got != tt.want {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestScratchScanner_ErrorsAnyChunking(t *testing.T) {
	for _, tt := range scratchErrorTests {
		t.Run(tt.name, func(t *testing.T) {
			for split := 0; split <= len(tt.input); split++ {
				s := NewScratchScanner()
				o := s.Feed([]byte(tt.input[:split]))
				if o == Ongoing {
					o = s.Feed([]byte(tt.input[split:]))
				}
				if o != tt.want {
					t.Fatalf("split %d: got %v, want %v", split, o, tt.want)
				}
			}
			if got := feedScratchBytewise(NewScratchScanner(), []byte(tt.input)); got != tt.want {
				t.Fatalf("bytewise: got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestScratchScanner_Reset(t *testing.T) {
	s := NewScratchScanner()
	if o := s.Feed([]byte("banner")); o != BadLeadingContent {
		t.Fatalf("got %v", o)
	}
	s.Reset()
	if s.LeadingContent() != nil {
		t.Fatal("leading content survived reset")
	}
	if o := s.Feed([]byte(oscHello("9", "1", testIDText))); o != Success {
		t.Fatalf("after reset: got %v", o)
	}
	if s.Fields().Version != 9 {
		t.Fatalf("version = %d", s.Fields().Version)
	}
}
