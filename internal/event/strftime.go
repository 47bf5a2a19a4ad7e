package event

import "strings"

// strftimeToGo converts a small, commonly-used subset of strftime
// directives into a Go reference-time layout. Callers normalise the "@" or
// "&" separator the template grammar allows in place of "%" (since "%" is
// already the template engine's own delimiter) before calling this.
var strftimeDirectives = map[byte]string{
	'Y': "2006",
	'y': "06",
	'm': "01",
	'd': "02",
	'H': "15",
	'M': "04",
	'S': "05",
	'j': "002",
	'Z': "MST",
}

func strftimeToGo(format string) string {
	var b strings.Builder
	for i := 0; i < len(format); i++ {
		if format[i] == '%' && i+1 < len(format) {
			if layout, ok := strftimeDirectives[format[i+1]]; ok {
				b.WriteString(layout)
				i++
				continue
			}
		}
		b.WriteByte(format[i])
	}
	return b.String()
}

// normalizeFmtSep rewrites the template grammar's "@"/"&" stand-ins for "%"
// back to literal "%" so
// strftimeToGo can recognise the directives.
func normalizeFmtSep(format string) string {
	format = strings.ReplaceAll(format, "@", "%")
	format = strings.ReplaceAll(format, "&", "%")
	return format
}
