package token

import (
	"regexp"
	"strings"
)

// Device ids are client-generated UUIDv4: version nibble 4, variant in
// {8,9,a,b}, case-insensitive.
var uuidV4Pattern = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)

// IsUUIDv4 reports whether s is an RFC-shaped version 4 UUID.
func IsUUIDv4(s string) bool {
	if len(s) != 36 {
		return false
	}
	return uuidV4Pattern.MatchString(strings.ToLower(s))
}
