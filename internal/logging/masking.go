// Package logging provides helpers that keep credentials out of logs.
package logging

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Redacted replaces values that must never be logged, even partially.
const Redacted = "[REDACTED]"

// SensitiveFields are JSON keys whose values are always redacted, whatever
// the allowlist says: operator tokens, data-plane secrets and private keys.
var SensitiveFields = map[string]bool{
	"adminToken":              true,
	"normalAuthBasicToken":    true,
	"normalAuthJwtPrivateKey": true,
	"privateKey":              true,
	"token":                   true,
}

var pemBlock = regexp.MustCompile(`(?s)-----BEGIN [A-Z ]*PRIVATE KEY-----.*?-----END [A-Z ]*PRIVATE KEY-----`)

// MaskPrivateKeys replaces every PEM private key block in s.
func MaskPrivateKeys(s string) string {
	return pemBlock.ReplaceAllString(s, Redacted)
}

// MaskHeader redacts sensitive header values based on header name.
//
// Secret, password, private key and cookie headers are fully redacted.
// Authorization keeps its scheme and the last four characters so requests
// can be told apart ("Bearer ****ab3f"). x-namespace and every other header
// is returned unchanged.
func MaskHeader(name, value string) string {
	lowerName := strings.ToLower(name)

	if strings.Contains(lowerName, "password") ||
		strings.Contains(lowerName, "secret") ||
		strings.Contains(lowerName, "private-key") ||
		lowerName == "cookie" ||
		lowerName == "set-cookie" {
		return Redacted
	}

	if lowerName == "authorization" || lowerName == "x-api-key" {
		prefix := ""
		if scheme, rest, ok := strings.Cut(value, " "); ok && rest != "" {
			prefix, value = scheme+" ", rest
		}
		if len(value) < 4 {
			return prefix + "****"
		}
		return prefix + "****" + value[len(value)-4:]
	}

	return value
}

// MaskJSONBody redacts fields in a JSON body.
//
// SensitiveFields are always redacted. If allowlist is nil, every other
// field is kept. If allowlist is non-nil, only allowlisted primitive fields
// are kept and the rest become "[REDACTED]". Bodies that are not JSON are
// returned with private key blocks masked.
func MaskJSONBody(body []byte, allowlist []string) []byte {
	if len(body) == 0 {
		return body
	}

	var data any
	if err := json.Unmarshal(body, &data); err != nil {
		return []byte(MaskPrivateKeys(string(body)))
	}

	var allowed map[string]bool
	if allowlist != nil {
		allowed = make(map[string]bool, len(allowlist))
		for _, field := range allowlist {
			allowed[field] = true
		}
	}

	result, err := json.Marshal(maskJSONValue(data, allowed))
	if err != nil {
		return body
	}
	return result
}

// maskJSONValue walks value; a nil allowlist keeps every non-sensitive field.
func maskJSONValue(value any, allowlist map[string]bool) any {
	switch v := value.(type) {
	case map[string]any:
		result := make(map[string]any, len(v))
		for key, val := range v {
			if SensitiveFields[key] {
				result[key] = Redacted
				continue
			}
			switch val.(type) {
			case map[string]any, []any:
				result[key] = maskJSONValue(val, allowlist)
			default:
				if allowlist == nil || allowlist[key] {
					result[key] = maskJSONValue(val, allowlist)
				} else {
					result[key] = Redacted
				}
			}
		}
		return result
	case []any:
		result := make([]any, len(v))
		for i, item := range v {
			result[i] = maskJSONValue(item, allowlist)
		}
		return result
	case string:
		return MaskPrivateKeys(v)
	default:
		return value
	}
}

// FormatBinaryData formats binary data for logging.
func FormatBinaryData(data []byte) string {
	return fmt.Sprintf("[BINARY: %d bytes]", len(data))
}
