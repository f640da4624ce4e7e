package util

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	// MaxPromptFieldLength caps any single free-text value placed in a prompt.
	MaxPromptFieldLength = 4096

	// InjectionMarker replaces text that tries to steer the language model.
	InjectionMarker = "[FILTERED]"
)

type replacement struct {
	pattern     *regexp.Regexp
	replacement string
}

// secretPatterns redact credentials before text leaves the process.
var secretPatterns = []replacement{
	{regexp.MustCompile(`(?i)(password|passwd|pwd)[\s:=]+[^\s]+`), "$1=REDACTED"},
	{regexp.MustCompile(`(?i)bearer\s+[a-zA-Z0-9_\-\.]+`), "bearer REDACTED"},
	{regexp.MustCompile(`(?i)(api[_-]?key|apikey|access[_-]?token|secret)[\s:=]+[^\s]+`), "$1=REDACTED"},
	{regexp.MustCompile(`AKIA[0-9A-Z]{16}`), "REDACTED_AWS_KEY"},
	{regexp.MustCompile(`eyJ[a-zA-Z0-9_\-]+\.eyJ[a-zA-Z0-9_\-]+\.[a-zA-Z0-9_\-]+`), "REDACTED_JWT"},
	{regexp.MustCompile(`(?s)-----BEGIN [A-Z ]*PRIVATE KEY-----.*?-----END [A-Z ]*PRIVATE KEY-----`), "REDACTED_PRIVATE_KEY"},
}

// injectionPatterns catch instruction overrides, role overrides and chat-control
// tokens embedded in attacker-controlled alert fields.
var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(?:ignore|disregard|override)\s+(?:all\s+)?(?:of\s+)?(?:the\s+|your\s+)?(?:previous|prior|above|earlier|preceding)\s+(?:instructions?|prompts?|messages?|rules|directions)`),
	regexp.MustCompile(`(?i)forget\s+(?:all\s+|everything\s+)?(?:you\s+were\s+told|(?:your|previous|prior)\s+instructions)`),
	regexp.MustCompile(`(?i)you\s+are\s+now\s+(?:a|an|the|in)?\s*[\w-]+`),
	regexp.MustCompile(`(?i)(?:act|behave)\s+as\s+(?:a|an|the|if)\s+[\w-]+`),
	regexp.MustCompile(`(?i)pretend\s+(?:to\s+be|you\s+are)`),
	regexp.MustCompile(`(?i)new\s+(?:system\s+)?instructions\s*:`),
	regexp.MustCompile(`(?im)^\s*(?:system|assistant|developer)\s*:`),
	regexp.MustCompile(`<\|[a-zA-Z_]+\|>`),
	regexp.MustCompile(`\[/?INST\]`),
	regexp.MustCompile(`<</?SYS>>`),
	regexp.MustCompile(`(?i)#{2,}\s*(?:system|instructions?|assistant)\b`),
}

// sensitiveKeys are raw-log keys whose values are never sent out.
var sensitiveKeys = map[string]bool{
	"password":              true,
	"passwd":                true,
	"pwd":                   true,
	"token":                 true,
	"authorization":         true,
	"api_key":               true,
	"apikey":                true,
	"secret":                true,
	"client_secret":         true,
	"access_token":          true,
	"refresh_token":         true,
	"private_key":           true,
	"aws_secret_access_key": true,
	"credential":            true,
	"credentials":           true,
	"cookie":                true,
	"session_id":            true,
}

// RedactSecrets replaces credential-looking substrings.
func RedactSecrets(s string) string {
	for _, p := range secretPatterns {
		s = p.pattern.ReplaceAllString(s, p.replacement)
	}
	return s
}

// NeutralizeInjection replaces prompt-injection phrases with InjectionMarker and
// reports whether any were found.
func NeutralizeInjection(s string) (string, bool) {
	found := false
	for _, p := range injectionPatterns {
		if p.MatchString(s) {
			found = true
			s = p.ReplaceAllString(s, InjectionMarker)
		}
	}
	return s, found
}

// SanitizePromptText truncates, redacts and neutralizes a free-text value
// before it is placed in a language-model prompt.
func SanitizePromptText(s string) (string, bool) {
	if s == "" {
		return "", false
	}
	if len(s) > MaxPromptFieldLength {
		s = TruncateUTF8(s, MaxPromptFieldLength) + "... [truncated]"
	}
	return NeutralizeInjection(RedactSecrets(s))
}

// TruncateUTF8 returns at most n bytes of s without splitting a rune.
func TruncateUTF8(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// RedactMap copies a raw-log document, replacing values of sensitive keys and
// recursing into nested documents.
func RedactMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	result := make(map[string]interface{}, len(m))
	for k, v := range m {
		if sensitiveKeys[strings.ToLower(k)] {
			result[k] = "REDACTED"
			continue
		}
		if nested, ok := v.(map[string]interface{}); ok {
			result[k] = RedactMap(nested)
			continue
		}
		result[k] = v
	}
	return result
}
