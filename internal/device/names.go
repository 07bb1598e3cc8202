package device

import (
	"strings"
	"unicode"
)

// nameExpansions split compound room names found in controller ids into
// display words. Applied in order to the lowercased id.
var nameExpansions = []struct {
	token string
	words string
}{
	{"bedroom", "Bedroom"},
	{"livingroom", "Living Room"},
	{"wir", "WIR"},
	{"peepalace", "Peep Palace"},
}

// acronyms keep their upper case through title-casing.
var acronyms = map[string]bool{"WIR": true}

const fansSuffix = "fans"

// FriendlyName renders a device id for display, e.g. "livingroomfans" becomes
// "Living Room Fans" and "bedroom2" becomes "Bedroom 2". Room tokens are
// split out anywhere in the id ("mainbedroomfan" is "Main Bedroom Fan").
func FriendlyName(id string) string {
	s := Normalize(id)
	for _, e := range nameExpansions {
		s = strings.ReplaceAll(s, e.token, " "+e.words+" ")
	}

	if n := len(s); n > len(fansSuffix) && strings.HasSuffix(s, fansSuffix) && s[n-len(fansSuffix)-1] != ' ' {
		s = s[:n-len(fansSuffix)] + " " + fansSuffix
	}

	words := strings.Fields(s)
	for i, w := range words {
		if acronyms[w] {
			continue
		}
		words[i] = title(w)
	}
	return strings.Join(words, " ")
}

// title upper-cases the first letter of every run of letters and lower-cases
// the rest.
func title(w string) string {
	var b strings.Builder
	b.Grow(len(w))
	prevLetter := false
	for _, r := range w {
		if unicode.IsLetter(r) {
			if prevLetter {
				b.WriteRune(unicode.ToLower(r))
			} else {
				b.WriteRune(unicode.ToUpper(r))
			}
			prevLetter = true
			continue
		}
		b.WriteRune(r)
		prevLetter = false
	}
	return b.String()
}
