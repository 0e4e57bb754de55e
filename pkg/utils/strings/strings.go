package strings

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
)

// TrimPrefixAll returns string `s` without provided `prefix`es.
// If `prefix`es are repeated, all of them are removed.
//
// example:
//
//	TrimPrefixAll("aaabbbccc", "aaab")  // -> "bbccc" : prefix is trimmed
//	TrimPrefixAll("aaabbbccc", "a")     // -> "bbbccc" : prefix is trimmed repeatedly
//	TrimPrefixAll("aaabbbccc", "x")     // -> "aaabbbccc" : if no prefix is found, `s` is returned unchanged
func TrimPrefixAll(s, prefix string) string {
	lp := len(prefix)

	for strings.HasPrefix(s, prefix) {
		s = s[lp:]
	}
	return s
}

// supply suffix if text has not.
//
// args:
//   - text: target text
//   - suffix: suffix
//
// return:
//
//	text same as input when that has suffix.
//	otherwise, text + suffix.
func SupplySuffix(text, suffix string) string {
	if strings.HasSuffix(text, suffix) {
		return text
	}
	return text + suffix
}

// return random Hex string (/[0-9a-f]*/)
func RandomHex(l uint) (string, error) {
	if l == 0 {
		return "", nil
	}

	// encoding from []byte to hex string is doubling its length.
	// in case of odd `l`, add extra 1 not to be short.
	buffer := make([]byte, l/2+1)
	if _, err := rand.Read(buffer); err != nil {
		return "", err
	}
	return hex.EncodeToString(buffer)[:l], nil
}

// like strings.Split(s, sep), but return empty slice when s == ""
func SplitIfNotEmpty(s string, sep string) []string {
	if s == "" {
		return []string{}
	}
	return strings.Split(s, sep)
}
