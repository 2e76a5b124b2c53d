package token

import (
	"encoding/base64"
	"strings"
)

// EncodeSegment encodes bytes as unpadded base64url, the serialization used
// for every token segment.
func EncodeSegment(data []byte) string {
	return base64.RawURLEncoding.EncodeToString(data)
}

// DecodeSegment is the exact inverse of EncodeSegment. Padded input is
// accepted as well, since some clients re-pad segments in transit.
func DecodeSegment(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
}
