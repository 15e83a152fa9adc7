package relay

import "regexp"

// One matching rule for every leech entry point: the first http(s) substring.
var urlPattern = regexp.MustCompile(`https?://[^\s<>"']+`)

// ExtractFirstURL returns the first URL found in free text, whether the text
// is a command argument, a replied-to message, or a bare message.
func ExtractFirstURL(text string) (string, bool) {
	m := urlPattern.FindString(text)
	if m == "" {
		return "", false
	}
	return m, true
}
