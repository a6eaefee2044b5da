package agent

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// denyList rejects a request before it reaches the model.
var denyList = []struct {
	reason  string
	pattern *regexp.Regexp
}{
	{"attempts to override system instructions", regexp.MustCompile(`(?i)\b(ignore|disregard|forget|override|bypass|reveal|print|show|repeat)\b[^.\n]{0,40}\b(system|prompts?|instructions?|rules)\b`)},
	{"references the system prompt", regexp.MustCompile(`(?i)\b(system\s+(prompt|message)|developer\s+mode|jailbreak)\b|(?m)^\s*(system|assistant)\s*:`)},
	{"asks to execute code", regexp.MustCompile(`(?i)\b(exec|eval|subprocess|os\.system|shell_exec)\b|\b(run|execute)\s+(this\s+|the\s+|a\s+)?(code|command|script|shell|query)\b|\brm\s+-rf\b`)},
	{"asks for mass deletion", regexp.MustCompile(`(?i)\b(delete|remove|drop|wipe|erase|purge|clear)\s+(all|every(thing)?|the\s+(entire|whole))\b|\bdrop\s+table\b|\btruncate\s+table\b`)},
	{"contains markup or script", regexp.MustCompile(`(?i)<\s*/?\s*(script|iframe|object|embed|style|img|svg)\b|javascript\s*:|\bon\w+\s*=\s*["']`)},
	{"references privileged accounts", regexp.MustCompile(`(?i)\b(superuser|sudo)\b|\b(admin|administrator|root)\s+(user|account|access|rights|privileges?|password|credentials?)\b`)},
}

var (
	codeBlock     = regexp.MustCompile("(?s)```.*?```")
	inlineCode    = regexp.MustCompile("`[^`\n]+`")
	sensitiveWord = regexp.MustCompile(`(?i)\b(system|prompts?|instructions?|admin|administrator|root|superuser|sudo|password|secret|api[_ -]?key|token)\b`)
)

// RejectedError explains why a request was refused. Reason is safe to show to users.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string {
	return "request rejected: " + e.Reason
}

// checkRequest enforces the length bounds and the deny-list.
func checkRequest(text string, cfg Config) error {
	n := utf8.RuneCountInString(strings.TrimSpace(text))
	if n < cfg.MinRequestLength {
		return &RejectedError{Reason: fmt.Sprintf("request is too short (minimum %d characters)", cfg.MinRequestLength)}
	}
	if n > cfg.MaxRequestLength {
		return &RejectedError{Reason: fmt.Sprintf("request is too long (maximum %d characters)", cfg.MaxRequestLength)}
	}
	for _, d := range denyList {
		if d.pattern.MatchString(text) {
			return &RejectedError{Reason: "request " + d.reason}
		}
	}
	return nil
}

// redact prepares untrusted text (user requests and document fields) for
// the model context. limit <= 0 means no truncation.
func redact(s string, limit int) string {
	s = codeBlock.ReplaceAllString(s, "[code removed]")
	s = inlineCode.ReplaceAllString(s, "[code removed]")
	s = sensitiveWord.ReplaceAllString(s, "[redacted]")
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	s = strings.TrimSpace(s)
	if limit > 0 && utf8.RuneCountInString(s) > limit {
		s = string([]rune(s)[:limit]) + " [truncated]"
	}
	return s
}
