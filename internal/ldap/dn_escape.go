package ldap

import (
	"strings"
)

// EscapeDNValue escapes special characters in a DN attribute value according to RFC 4514.
//
// Examples:
//   - "staff" → "staff" (no change)
//   - "R&D, Tokyo" → "R&D\, Tokyo" (comma escaped)
//   - " ops " → "\ ops\ " (leading/trailing spaces escaped)
//   - "#123" → "\#123" (leading # escaped)
func EscapeDNValue(value string) string {
	if !NeedsDNEscaping(value) {
		return value
	}

	var result strings.Builder
	result.Grow(len(value) + 10)

	for i, r := range value {
		switch r {
		case ',', '+', '"', '\\', '<', '>', ';':
			result.WriteRune('\\')
			result.WriteRune(r)
		case '#':
			if i == 0 {
				result.WriteRune('\\')
			}
			result.WriteRune(r)
		case ' ':
			if i == 0 || i == len(value)-1 {
				result.WriteRune('\\')
			}
			result.WriteRune(r)
		case 0:
			result.WriteString("\\00")
		default:
			result.WriteRune(r)
		}
	}

	return result.String()
}

// NeedsDNEscaping checks if a value contains characters that need DN escaping.
func NeedsDNEscaping(value string) bool {
	if value == "" {
		return false
	}

	if value[0] == ' ' || value[len(value)-1] == ' ' || value[0] == '#' {
		return true
	}

	return strings.ContainsAny(value, ",+\"\\<>;\x00")
}

// GroupDN builds the DN of a group named name directly under groupsDN.
func GroupDN(nameAttribute, name, groupsDN string) string {
	return nameAttribute + "=" + EscapeDNValue(name) + "," + groupsDN
}
