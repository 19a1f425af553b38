package extract

import (
	"regexp"
	"strings"
)

// =============================================================================
// REPAIR STAGES
// =============================================================================
// Each stage is a pure string-to-string transform, idempotent on input that
// is already clean. Extract applies them in a fixed order; they are exported
// individually so each can be unit-tested in isolation.

// NormalizeTypography replaces typographic quotes and non-breaking spaces
// with their ASCII equivalents. Models trained on prose emit these freely.
func NormalizeTypography(s string) string {
	r := strings.NewReplacer(
		"“", `"`, "”", `"`, // curly double quotes
		"‘", "'", "’", "'", // curly single quotes
		" ", " ", // non-breaking space
		"　", " ", // ideographic space
	)
	return r.Replace(s)
}

// StripControlChars removes byte-order marks and C0/C1 control characters,
// keeping the whitespace JSON allows.
func StripControlChars(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r == '\uFEFF' {
			continue
		}
		if r < 0x20 && r != '\n' && r != '\r' && r != '\t' {
			continue
		}
		if r >= 0x7f && r <= 0x9f {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

var adjacentObjects = regexp.MustCompile(`\}\s*\{`)

// InsertMissingCommas turns adjacent object literals (`}{`) into proper
// array elements (`},{`). Runs outside string-literal awareness; the span
// scanner has already narrowed the input to a JSON-shaped region.
func InsertMissingCommas(s string) string {
	return adjacentObjects.ReplaceAllString(s, "},{")
}

var (
	bareKey         = regexp.MustCompile(`([{,]\s*)([A-Za-z_][A-Za-z0-9_]*)(\s*:)`)
	singleQuotedKey = regexp.MustCompile(`([{,]\s*)'([^']*)'(\s*:)`)
	singleQuotedVal = regexp.MustCompile(`(:\s*)'((?:[^'\\]|\\.)*)'(\s*[,}\]])`)
	leadingPlusNum  = regexp.MustCompile(`(:\s*)\+(\d)`)
	trailingComma   = regexp.MustCompile(`,(\s*[}\]])`)
)

// QuoteBareKeys wraps unquoted object keys in double quotes.
func QuoteBareKeys(s string) string {
	return bareKey.ReplaceAllString(s, `$1"$2"$3`)
}

// RewriteSingleQuotedKeys converts 'key': to "key":.
func RewriteSingleQuotedKeys(s string) string {
	return singleQuotedKey.ReplaceAllString(s, `$1"$2"$3`)
}

// RewriteSingleQuotedValues converts : 'value' to : "value". Interior
// double quotes inside the converted value are escaped.
func RewriteSingleQuotedValues(s string) string {
	return singleQuotedVal.ReplaceAllStringFunc(s, func(m string) string {
		sub := singleQuotedVal.FindStringSubmatch(m)
		val := strings.ReplaceAll(sub[2], `\'`, `'`)
		val = strings.ReplaceAll(val, `"`, `\"`)
		return sub[1] + `"` + val + `"` + sub[3]
	})
}

// StripLeadingPlus removes the `+` sign JSON forbids on numbers.
func StripLeadingPlus(s string) string {
	return leadingPlusNum.ReplaceAllString(s, `$1$2`)
}

// StripTrailingCommas removes commas immediately before a closing bracket.
func StripTrailingCommas(s string) string {
	return trailingComma.ReplaceAllString(s, `$1`)
}

// EscapeInteriorQuotes escapes un-escaped double quotes that appear inside
// string values. A quote closes the string only when the next non-space
// character is a structural one (comma, colon, bracket); anything else means
// the model forgot to escape.
func EscapeInteriorQuotes(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inString := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !inString {
			if c == '"' {
				inString = true
			}
			b.WriteByte(c)
			continue
		}
		switch c {
		case '\\':
			b.WriteByte(c)
			if i+1 < len(s) {
				i++
				b.WriteByte(s[i])
			}
		case '"':
			if closesString(s, i+1) {
				inString = false
				b.WriteByte(c)
			} else {
				b.WriteString(`\"`)
			}
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// closesString reports whether a quote at position i-1 plausibly terminates
// a string, judged by the next non-space character.
func closesString(s string, i int) bool {
	for ; i < len(s); i++ {
		switch s[i] {
		case ' ', '\t', '\n', '\r':
			continue
		case ',', '}', ']', ':':
			return true
		default:
			return false
		}
	}
	return true // end of input
}
