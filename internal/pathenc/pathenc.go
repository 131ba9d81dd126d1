// Package pathenc encodes and decodes special characters in instance names
// so they can round-trip through file names.
//
// Encoded characters are the Windows-invalid set (< > : " / \ | ? *),
// periods (which would collide with extension parsing), and leading/trailing
// spaces. Each encodes to a %NAME% token (for example `.` becomes `%DOT%`).
// A literal `%` escapes as `%%`, like printf.
package pathenc

import "strings"

// charEncodings maps each special character to its token. Order matters for
// encoding: `%` must already be escaped before these are substituted.
var charEncodings = [][2]string{
	{".", "%DOT%"},
	{"<", "%LT%"},
	{">", "%GT%"},
	{":", "%COLON%"},
	{"\"", "%QUOTE%"},
	{"/", "%SLASH%"},
	{"\\", "%BACKSLASH%"},
	{"|", "%PIPE%"},
	{"?", "%QUESTION%"},
	{"*", "%STAR%"},
}

const spaceEncoding = "%SPACE%"

// decodeMap maps a token name (without delimiters, e.g. "DOT") to the
// character it stands for.
var decodeMap = func() map[string]string {
	m := make(map[string]string, len(charEncodings))
	for _, enc := range charEncodings {
		m[enc[1][1:len(enc[1])-1]] = enc[0]
	}
	return m
}()

// Encode replaces special characters in an instance name with their %NAME%
// tokens. Literal `%` is escaped as `%%`; each leading and trailing space
// becomes `%SPACE%`.
func Encode(name string) string {
	leading := len(name) - len(strings.TrimLeft(name, " "))
	trailing := len(name) - len(strings.TrimRight(name, " "))
	if leading == len(name) {
		// All spaces; avoid double-counting.
		trailing = 0
	}

	middle := name[leading : len(name)-trailing]

	// Escape % first so tokens added below are not themselves escaped.
	encoded := strings.ReplaceAll(middle, "%", "%%")
	for _, enc := range charEncodings {
		encoded = strings.ReplaceAll(encoded, enc[0], enc[1])
	}

	return strings.Repeat(spaceEncoding, leading) + encoded + strings.Repeat(spaceEncoding, trailing)
}

// Decode reverses Encode. It scans left to right: `%%` emits a literal `%`,
// a `%NAME%` token matching a known name emits its character, and anything
// else is copied through unchanged.
func Decode(name string) string {
	leading := 0
	for strings.HasPrefix(name, spaceEncoding) {
		leading++
		name = name[len(spaceEncoding):]
	}

	trailing := 0
	for strings.HasSuffix(name, spaceEncoding) {
		trailing++
		name = name[:len(name)-len(spaceEncoding)]
	}

	return strings.Repeat(" ", leading) + decodeTokens(name) + strings.Repeat(" ", trailing)
}

func decodeTokens(input string) string {
	var out strings.Builder
	out.Grow(len(input))

	runes := []rune(input)
	i := 0
	for i < len(runes) {
		if runes[i] == '%' {
			if i+1 < len(runes) && runes[i+1] == '%' {
				out.WriteByte('%')
				i += 2
				continue
			}
			if decoded, consumed, ok := decodeToken(runes[i:]); ok {
				out.WriteString(decoded)
				i += consumed
				continue
			}
		}
		out.WriteRune(runes[i])
		i++
	}

	return out.String()
}

// decodeToken tries to match a %NAME% token at the start of runes. Token
// names are uppercase ASCII letters only; unknown names are left alone.
func decodeToken(runes []rune) (decoded string, consumed int, ok bool) {
	end := 1
	for end < len(runes) && runes[end] != '%' {
		if runes[end] < 'A' || runes[end] > 'Z' {
			return "", 0, false
		}
		end++
	}
	if end >= len(runes) {
		return "", 0, false
	}

	name := string(runes[1:end])
	ch, known := decodeMap[name]
	if !known {
		return "", 0, false
	}
	return ch, end + 1, true
}
