// Package activity summarizes recent terminal output into a short
// notification category. The classification is a keyword heuristic over the
// tail of the scrollback, good enough for "the session wants attention"
// texts but deliberately not a semantic parser.
package activity

import (
	"regexp"
	"strings"
)

// Kind is the coarse category of recent session activity.
type Kind string

const (
	KindQuestion Kind = "question" // the process appears to be asking the user something
	KindError    Kind = "error"    // the tail looks like a failure
	KindProgress Kind = "progress" // output is flowing, work in progress
	KindQuiet    Kind = "quiet"    // nothing notable in the tail
)

// Summary is the result of classifying recent output.
type Summary struct {
	Kind       Kind
	Line       string  // the line that triggered the classification, trimmed
	Confidence float64 // 0.0 to 1.0
	Reason     string
}

// Pattern is a regex rule checked before the keyword heuristics.
type Pattern struct {
	Name  string
	Regex *regexp.Regexp
	Kind  Kind
}

// DefaultPatterns returns the built-in classification rules.
func DefaultPatterns() []Pattern {
	return []Pattern{
		{
			Name:  "yes_no_prompt",
			Regex: regexp.MustCompile(`(?i)\[(y/n|Y/n|y/N)\]|\(yes/no(/\[fingerprint\])?\)`),
			Kind:  KindQuestion,
		},
		{
			Name:  "password_prompt",
			Regex: regexp.MustCompile(`(?i)(password|passphrase)( for [^:]+)?:\s*$`),
			Kind:  KindQuestion,
		},
		{
			Name:  "continue_prompt",
			Regex: regexp.MustCompile(`(?i)(press|hit) (enter|any key) to continue`),
			Kind:  KindQuestion,
		},
		{
			Name:  "panic",
			Regex: regexp.MustCompile(`^panic:|(?i)traceback \(most recent call last\)`),
			Kind:  KindError,
		},
		{
			Name:  "compiler_error",
			Regex: regexp.MustCompile(`(?i)^[^\s:]+:\d+(:\d+)?:\s*(fatal )?error`),
			Kind:  KindError,
		},
	}
}

var ansiSequence = regexp.MustCompile(`\x1b\[[0-9;?]*[a-zA-Z]|\x1b\][^\x07]*\x07`)

// errorKeywords mark a line as a failure when any appears.
var errorKeywords = []string{
	"error:",
	"failed",
	"failure",
	"fatal",
	"exception",
	"denied",
	"not found",
	"no such file",
}

// progressKeywords suggest long-running work rather than a stall.
var progressKeywords = []string{
	"downloading",
	"uploading",
	"installing",
	"building",
	"compiling",
	"running",
	"extracting",
	"%",
	"...",
}

// Summarizer classifies recent output.
type Summarizer struct {
	patterns []Pattern
}

// Option configures a Summarizer.
type Option func(*Summarizer)

// WithCustomPatterns prepends extra regex rules.
func WithCustomPatterns(patterns []Pattern) Option {
	return func(s *Summarizer) {
		s.patterns = append(patterns, s.patterns...)
	}
}

// NewSummarizer creates a summarizer with the default rules.
func NewSummarizer(opts ...Option) *Summarizer {
	s := &Summarizer{patterns: DefaultPatterns()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Summarize classifies the tail of the given output. It looks at the last
// few non-empty lines, most recent first, with ANSI sequences stripped.
func (s *Summarizer) Summarize(output []byte) Summary {
	lines := tailLines(string(output), 5)
	if len(lines) == 0 {
		return Summary{Kind: KindQuiet, Reason: "no output"}
	}

	// Regex rules win; only the most recent line is authoritative for
	// question prompts since anything after a prompt means it was answered.
	last := lines[0]
	for _, pattern := range s.patterns {
		if pattern.Regex.MatchString(last) {
			return Summary{
				Kind:       pattern.Kind,
				Line:       last,
				Confidence: 0.9,
				Reason:     "matched pattern: " + pattern.Name,
			}
		}
	}

	// Bare trailing "?" is a weaker question signal.
	if strings.HasSuffix(last, "?") {
		return Summary{
			Kind:       KindQuestion,
			Line:       last,
			Confidence: 0.6,
			Reason:     "line ends with a question mark",
		}
	}

	// Keyword scan over the tail window, most recent line first.
	for _, line := range lines {
		lower := strings.ToLower(line)
		for _, kw := range errorKeywords {
			if strings.Contains(lower, kw) {
				return Summary{
					Kind:       KindError,
					Line:       line,
					Confidence: 0.7,
					Reason:     "error keyword: " + kw,
				}
			}
		}
	}
	for _, line := range lines {
		lower := strings.ToLower(line)
		for _, kw := range progressKeywords {
			if strings.Contains(lower, kw) {
				return Summary{
					Kind:       KindProgress,
					Line:       line,
					Confidence: 0.5,
					Reason:     "progress keyword: " + kw,
				}
			}
		}
	}

	return Summary{Kind: KindQuiet, Line: last, Confidence: 0.3, Reason: "no keywords matched"}
}

// tailLines returns up to n trailing non-empty lines, most recent first,
// with ANSI escapes removed.
func tailLines(output string, n int) []string {
	cleaned := ansiSequence.ReplaceAllString(output, "")
	raw := strings.Split(cleaned, "\n")

	var lines []string
	for i := len(raw) - 1; i >= 0 && len(lines) < n; i-- {
		line := strings.TrimSpace(strings.TrimSuffix(raw[i], "\r"))
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
