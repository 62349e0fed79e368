// Package guardrails holds the checks applied to admin input before it reaches
// the model, and the redaction applied to tool data before it leaves the
// process (model context, HTTP responses, audit details).
//
// Supported checks:
//   - message: empty and max-length limits on the admin's chat message
//   - injection: heuristic prompt-injection detection (reported, not blocked)
//   - redaction: secret-bearing keys replaced by a fixed marker
package guardrails

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Redacted replaces the value of every secret-bearing key.
const Redacted = "[redacted]"

var (
	ErrEmptyMessage   = errors.New("message is required")
	ErrMessageTooLong = errors.New("message is too long")
)

// ── Message checks ──────────────────────────────────────────

// CheckMessage rejects blank messages and messages longer than maxChars runes.
// A maxChars of zero disables the length limit.
func CheckMessage(message string, maxChars int) error {
	if strings.TrimSpace(message) == "" {
		return ErrEmptyMessage
	}
	if maxChars > 0 && utf8.RuneCountInString(message) > maxChars {
		return fmt.Errorf("%w: limit is %d characters", ErrMessageTooLong, maxChars)
	}
	return nil
}

// ── Prompt injection detection ──────────────────────────────

var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore\s+(all\s+)?(previous|prior|above)\s+(instructions?|prompts?|rules?|directions?)`),
	regexp.MustCompile(`(?i)disregard\s+(all\s+)?(previous|prior|above)\s+(instructions?|prompts?|rules?)`),
	regexp.MustCompile(`(?i)forget\s+(all\s+)?(previous|prior|above|your)\s+(instructions?|prompts?|rules?|context)`),
	regexp.MustCompile(`(?i)new\s+instructions?:\s*`),
	regexp.MustCompile(`(?i)system\s*:\s*you\s+are`),
	regexp.MustCompile(`(?i)reveal\s+(your|the)\s+(system\s+)?(prompt|instructions?)`),
	regexp.MustCompile(`(?i)pretend\s+you\s+(are|have)\s+no\s+(restrictions?|rules?|guidelines?)`),
}

// LooksLikeInjection reports whether text matches a known prompt-injection
// phrasing. Callers log the hit; admins are trusted, so nothing is blocked.
func LooksLikeInjection(text string) bool {
	for _, re := range injectionPatterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// ── Redaction ───────────────────────────────────────────────

var secretKeyFragments = []string{
	"password",
	"secret",
	"token",
	"api_key",
	"apikey",
	"authorization",
	"private_key",
	"webhook_url",
	"credential",
}

// IsSecretKey reports whether a map key names a credential.
func IsSecretKey(key string) bool {
	k := strings.ToLower(key)
	for _, frag := range secretKeyFragments {
		if strings.Contains(k, frag) {
			return true
		}
	}
	return false
}

// Redact returns a JSON-shaped copy of v with the values of secret-bearing
// keys replaced. Structs and named map types are normalised through
// encoding/json first, so the result is what a client would see on the wire.
func Redact(v any) any {
	switch v.(type) {
	case nil, string, bool, float64, int, int64:
		return v
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return Redacted
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return Redacted
	}
	return redact(generic)
}

func redact(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			if IsSecretKey(k) {
				t[k] = Redacted
				continue
			}
			t[k] = redact(val)
		}
		return t
	case []any:
		for i, val := range t {
			t[i] = redact(val)
		}
		return t
	default:
		return v
	}
}

// RedactArguments redacts raw tool arguments for logs and audit details.
func RedactArguments(raw json.RawMessage) any {
	if len(raw) == 0 {
		return map[string]any{}
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return Redacted
	}
	return redact(generic)
}
