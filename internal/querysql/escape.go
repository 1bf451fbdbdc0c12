package querysql

import "strings"

// Escape prepares text for interpolation between single quotes in SQL.
//
// Every single quote is doubled. The bytes \a \b \t \n \v \f \r, space and
// backslash are replaced by a backslash followed by their escape letter
// (space and backslash by themselves). All other bytes, including non-ASCII,
// are copied unchanged.
//
// Escape is the only path by which caller-controlled text reaches compiled
// SQL. It is applied to literals and to generated column identifiers alike.
func Escape(s string) string {
	if !needsEscape(s) {
		return s
	}

	var b strings.Builder
	b.Grow(len(s) + 8)
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '\'':
			b.WriteString("''")
		case '\a':
			b.WriteString(`\a`)
		case '\b':
			b.WriteString(`\b`)
		case '\t':
			b.WriteString(`\t`)
		case '\n':
			b.WriteString(`\n`)
		case '\v':
			b.WriteString(`\v`)
		case '\f':
			b.WriteString(`\f`)
		case '\r':
			b.WriteString(`\r`)
		case ' ':
			b.WriteString(`\ `)
		case '\\':
			b.WriteString(`\\`)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// Unescape reverses the backslash escapes produced by Escape. Doubled
// quotes are left alone; they belong to the SQL string syntax, not to the
// escape scheme. A backslash before any other byte yields that byte.
//
// The database applies the same transformation through the
// unescape_literal SQL function.
func Unescape(s string) string {
	if strings.IndexByte(s, '\\') < 0 {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i == len(s)-1 {
			b.WriteByte(c)
			continue
		}
		i++
		switch s[i] {
		case 'a':
			b.WriteByte('\a')
		case 'b':
			b.WriteByte('\b')
		case 't':
			b.WriteByte('\t')
		case 'n':
			b.WriteByte('\n')
		case 'v':
			b.WriteByte('\v')
		case 'f':
			b.WriteByte('\f')
		case 'r':
			b.WriteByte('\r')
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

func needsEscape(s string) bool {
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\'', '\a', '\b', '\t', '\n', '\v', '\f', '\r', ' ', '\\':
			return true
		}
	}
	return false
}
