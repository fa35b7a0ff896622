package security

import (
	"regexp"
	"strings"
)

var identRegex = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func IsSafeIdentifier(value string) bool {
	return identRegex.MatchString(value)
}

// IsSafeQualifiedIdentifier accepts "table" or "schema.table".
func IsSafeQualifiedIdentifier(value string) bool {
	parts := strings.Split(value, ".")
	if len(parts) > 2 {
		return false
	}
	for _, p := range parts {
		if !IsSafeIdentifier(p) {
			return false
		}
	}
	return true
}
