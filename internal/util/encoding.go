package util

import (
	"encoding/hex"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var emailFolder = cases.Fold()

// NormalizeEmail returns the canonical form used as an account key:
// surrounding space trimmed, NFKC composed and case folded.
func NormalizeEmail(s string) string {
	return emailFolder.String(norm.NFKC.String(strings.TrimSpace(s)))
}

func HexEncode(b []byte) string {
	return hex.EncodeToString(b)
}

func HexDecode(s string) ([]byte, error) {
	return hex.DecodeString(s)
}
