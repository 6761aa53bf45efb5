// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package audit

import "regexp"

// Redactor scrubs secrets from free-text payload fields before they are
// written.
type Redactor interface {
	Redact(input string) string
	Name() string
}

// PatternRedactor replaces every match of a pattern.
type PatternRedactor struct {
	name    string
	pattern *regexp.Regexp
	replace string
}

// NewPatternRedactor creates a new pattern-based redactor.
func NewPatternRedactor(name string, pattern *regexp.Regexp, replace string) *PatternRedactor {
	return &PatternRedactor{name: name, pattern: pattern, replace: replace}
}

func (r *PatternRedactor) Redact(input string) string {
	return r.pattern.ReplaceAllString(input, r.replace)
}

func (r *PatternRedactor) Name() string { return r.name }

// secretPatterns match credentials that commonly leak into commit messages
// and notes.
var secretPatterns = []struct {
	name    string
	pattern *regexp.Regexp
	replace string
}{
	{"Anthropic", regexp.MustCompile(`sk-ant-[a-zA-Z0-9\-]{20,}`), "[ANTHROPIC_KEY_REDACTED]"},
	{"OpenAI", regexp.MustCompile(`sk-[a-zA-Z0-9]{20,}`), "[OPENAI_KEY_REDACTED]"},
	{"GitHub", regexp.MustCompile(`gh[pousr]_[a-zA-Z0-9]{36,}`), "[GITHUB_TOKEN_REDACTED]"},
	{"AWS", regexp.MustCompile(`AKIA[0-9A-Z]{16}`), "[AWS_KEY_REDACTED]"},
	{"Bearer", regexp.MustCompile(`Bearer\s+[a-zA-Z0-9\-_.]+`), "Bearer [TOKEN_REDACTED]"},
	{"Password", regexp.MustCompile(`(?i)(password|passwd|pwd)\s*[=:]\s*\S+`), "[PASSWORD_REDACTED]"},
	{"JWT", regexp.MustCompile(`eyJ[a-zA-Z0-9_-]*\.eyJ[a-zA-Z0-9_-]*\.[a-zA-Z0-9_-]*`), "[JWT_REDACTED]"},
}

// DefaultRedactors returns the built-in secret redactors.
func DefaultRedactors() []Redactor {
	redactors := make([]Redactor, 0, len(secretPatterns))
	for _, sp := range secretPatterns {
		redactors = append(redactors, NewPatternRedactor(sp.name, sp.pattern, sp.replace))
	}
	return redactors
}

func redactString(s string, redactors []Redactor) string {
	for _, r := range redactors {
		s = r.Redact(s)
	}
	return s
}

// redactPayload returns p with free-text fields scrubbed. Identifiers,
// amounts and validated values are left untouched.
func redactPayload(p Payload, redactors []Redactor) Payload {
	if len(redactors) == 0 {
		return p
	}
	switch v := p.(type) {
	case CommitPayload:
		v.Message = redactString(v.Message, redactors)
		v.GitError = redactString(v.GitError, redactors)
		return v
	case SpendPayload:
		v.Note = redactString(v.Note, redactors)
		return v
	case GenericPayload:
		if len(v.Attributes) == 0 {
			return v
		}
		attrs := make(map[string]string, len(v.Attributes))
		for k, val := range v.Attributes {
			attrs[k] = redactString(val, redactors)
		}
		v.Attributes = attrs
		return v
	}
	return p
}
