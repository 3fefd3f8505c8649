package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"hash"
	"sort"
	"strings"
)

const upperhex = "0123456789ABCDEF"

// formEncode percent-encodes s the way the VNPAY reference library does:
// ASCII letters, digits and -_.!*() pass through, space becomes '+', every
// other byte becomes %XX with upper-case hex.
func formEncode(s string) string {
	var b strings.Builder
	b.Grow(len(s) * 3 / 2)
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
			b.WriteByte(c)
		case c == '-' || c == '_' || c == '.' || c == '!' || c == '*' || c == '(' || c == ')':
			b.WriteByte(c)
		case c == ' ':
			b.WriteByte('+')
		default:
			b.WriteByte('%')
			b.WriteByte(upperhex[c>>4])
			b.WriteByte(upperhex[c&15])
		}
	}
	return b.String()
}

// sortedQuery joins non-empty params as key=value pairs ordered by key
// (byte-wise), each side form-encoded.
func sortedQuery(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if v == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, formEncode(k)+"="+formEncode(params[k]))
	}
	return strings.Join(parts, "&")
}

// field is one entry of a gateway-ordered canonical string.
type field struct {
	key   string
	value string
}

// orderedRaw joins fields verbatim in the given order.
func orderedRaw(fields []field) string {
	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = f.key + "=" + f.value
	}
	return strings.Join(parts, "&")
}

func hmacHex(newHash func() hash.Hash, secret, data string) string {
	mac := hmac.New(newHash, []byte(secret))
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

func hmacSHA512(secret, data string) string { return hmacHex(sha512.New, secret, data) }

func hmacSHA256(secret, data string) string { return hmacHex(sha256.New, secret, data) }

// signatureEqual compares hex digests in constant time, ignoring case.
func signatureEqual(expected, supplied string) bool {
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(strings.TrimSpace(supplied))))
}
