package vm

import (
	"strconv"
	"strings"
)

// XMLEscape escapes s for use in XML text and attribute values.
// Characters outside the printable safe range become numeric character
// references.
func XMLEscape(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '<':
			b.WriteString("&lt;")
		case r == '>':
			b.WriteString("&gt;")
		case r == '&':
			b.WriteString("&amp;")
		case r == '\'':
			b.WriteString("&apos;")
		case r == '"':
			b.WriteString("&quot;")
		case r == '\t', r == '\n', r == '\r', r == 0x85,
			r >= 0x20 && r <= 0x7e, r >= 0xa0:
			b.WriteRune(r)
		default:
			b.WriteString("&#")
			b.WriteString(strconv.Itoa(int(r)))
			b.WriteByte(';')
		}
	}
	return b.String()
}
