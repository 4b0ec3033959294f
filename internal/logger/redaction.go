package logger

import (
	"io"
	"regexp"
)

const redacted = "[REDACTED]"

type rule struct {
	pattern     *regexp.Regexp
	replacement string
}

// Redactor redacts sensitive information from logs
type Redactor struct {
	rules []rule
}

// NewRedactor creates a new redactor with default patterns
func NewRedactor() *Redactor {
	r := &Redactor{}
	for _, p := range []string{
		// provider API keys (OpenAI, Anthropic, OpenRouter)
		`sk-[a-zA-Z0-9_-]{20,}`,
		`Bearer\s+[a-zA-Z0-9._-]+`,
		// AWS keys
		`AKIA[0-9A-Z]{16}`,
	} {
		r.rules = append(r.rules, rule{pattern: regexp.MustCompile(p), replacement: redacted})
	}

	// key/value pairs keep the key
	r.rules = append(r.rules, rule{
		pattern:     regexp.MustCompile(`(?i)(api[_-]?key|password|secret|token)(["']?\s*[:=]\s*["']?)[^\s"',}]+`),
		replacement: "${1}${2}" + redacted,
	})
	return r
}

// AddPattern adds a custom redaction pattern
func (r *Redactor) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	r.rules = append(r.rules, rule{pattern: re, replacement: redacted})
	return nil
}

// Redact redacts sensitive information from a string
func (r *Redactor) Redact(s string) string {
	for _, rule := range r.rules {
		s = rule.pattern.ReplaceAllString(s, rule.replacement)
	}
	return s
}

// Wrap wraps an io.Writer to redact sensitive information
func (r *Redactor) Wrap(w io.Writer) io.Writer {
	return &redactingWriter{
		writer:   w,
		redactor: r,
	}
}

// redactingWriter is an io.Writer that redacts sensitive information
type redactingWriter struct {
	writer   io.Writer
	redactor *Redactor
}

// Write reports len(p) on success since the redacted output length differs
func (w *redactingWriter) Write(p []byte) (int, error) {
	if _, err := w.writer.Write([]byte(w.redactor.Redact(string(p)))); err != nil {
		return 0, err
	}
	return len(p), nil
}
