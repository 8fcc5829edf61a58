// Package util provides small helpers shared across the pipeline packages.
package util

import "unicode/utf8"

// MaxRawPayloadBytes is the maximum number of UTF-8 bytes of a raw message
// preserved inside a malformed record's diagnostics.
const MaxRawPayloadBytes = 4096

// TruncateUTF8 truncates s to at most maxBytes bytes without splitting a
// multi-byte rune, and reports whether truncation occurred.
func TruncateUTF8(s string, maxBytes int) (string, bool) {
	if len(s) <= maxBytes {
		return s, false
	}

	cut := maxBytes
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut], true
}
