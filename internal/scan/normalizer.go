package scan

import (
	"strings"
	"sync"
	"time"
)

type Source string

const (
	SourceWedge  Source = "wedge"  // hardware scanner typing into a focused field
	SourceCamera Source = "camera" // modal camera scan
)

type Symbology string

const (
	SymbologyUnknown    Symbology = ""
	SymbologyGS1128     Symbology = "gs1-128"
	SymbologyCode128    Symbology = "code128"
	SymbologyEAN13      Symbology = "ean-13"
	SymbologyEAN8       Symbology = "ean-8"
	SymbologyQR         Symbology = "qr"
	SymbologyDataMatrix Symbology = "datamatrix"
)

// aimIDs maps AIM symbology identifiers (the "]Cm" prefix some scanners emit).
var aimIDs = map[string]Symbology{
	"]C0": SymbologyCode128,
	"]C1": SymbologyGS1128,
	"]E0": SymbologyEAN13,
	"]E4": SymbologyEAN8,
	"]Q1": SymbologyQR,
	"]Q3": SymbologyQR,
	"]d1": SymbologyDataMatrix,
	"]d2": SymbologyDataMatrix,
}

// Event is one normalized scan.
type Event struct {
	Code      string
	Raw       string
	Symbology Symbology
	Source    Source
	At        time.Time
	GS1       *GS1
}

// Policy configures prefix/suffix stripping and the debounce window.
type Policy struct {
	Prefix   string
	Suffix   string
	Debounce time.Duration
}

// Normalizer turns raw scanner output into Events. Safe for concurrent use.
type Normalizer struct {
	policy Policy
	now    func() time.Time

	mu       sync.Mutex
	lastCode string
	lastAt   time.Time
}

func NewNormalizer(p Policy) *Normalizer {
	return &Normalizer{policy: p, now: time.Now}
}

// Normalize returns the event for raw, or false when the input is empty or a
// duplicate inside the debounce window. Dropped input is not an error.
// On true the caller should re-arm its input source for the next scan.
func (n *Normalizer) Normalize(raw string, src Source, hint Symbology) (Event, bool) {
	code := strings.TrimSpace(raw)

	// 1) AIM identifier; an explicit hint from the reader wins
	sym := hint
	if isAIM(code) {
		if s, ok := aimIDs[code[:3]]; ok && sym == SymbologyUnknown {
			sym = s
		}
		code = code[3:]
	}

	// 2) configured wrapper characters
	if p := n.policy.Prefix; p != "" {
		code = strings.TrimPrefix(code, p)
	}
	if s := n.policy.Suffix; s != "" {
		code = strings.TrimSuffix(code, s)
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return Event{}, false
	}

	// 3) a double trigger repeats the same code within the window
	now := n.now()
	n.mu.Lock()
	if n.policy.Debounce > 0 && code == n.lastCode && now.Sub(n.lastAt) < n.policy.Debounce {
		n.mu.Unlock()
		return Event{}, false
	}
	n.lastCode = code
	n.lastAt = now
	n.mu.Unlock()

	// 4) GS1 element strings are parsed; anything else keeps its code as is
	ev := Event{Code: code, Raw: raw, Symbology: sym, Source: src, At: now}
	if g, err := ParseGS1(code); err == nil {
		ev.GS1 = g
		if ev.Symbology == SymbologyUnknown {
			ev.Symbology = SymbologyGS1128
		}
	}
	if ev.Symbology == SymbologyUnknown {
		ev.Symbology = classify(code)
	}
	return ev, true
}

// Reset forgets the last accepted code, e.g. when a new order is opened.
func (n *Normalizer) Reset() {
	n.mu.Lock()
	n.lastCode = ""
	n.lastAt = time.Time{}
	n.mu.Unlock()
}

// isAIM matches "]" + code character + modifier digit.
func isAIM(s string) bool {
	if len(s) < 3 || s[0] != ']' {
		return false
	}
	c, m := s[1], s[2]
	return ((c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z')) && m >= '0' && m <= '9'
}

// classify guesses from length and check digit; everything else is Code 128.
func classify(code string) Symbology {
	switch {
	case len(code) == 13 && validCheckDigit(code):
		return SymbologyEAN13
	case len(code) == 8 && validCheckDigit(code):
		return SymbologyEAN8
	default:
		return SymbologyCode128
	}
}
