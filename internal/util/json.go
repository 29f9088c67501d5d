package util

import (
	"fmt"
	"regexp"
	"strings"
)

// Precompiled regex patterns for performance (compiled once at package init)
var (
	jsonCodeBlockRegex = regexp.MustCompile("```(?:json)?\\s*([\\s\\S]*?)```")
)

// ExtractJSON extracts the candidate JSON text from a model response.
// A fenced code block (``` optionally tagged json) wins; otherwise the
// outermost {...} or [...] span is used; otherwise the whole body is the
// candidate.
func ExtractJSON(s string) string {
	matches := jsonCodeBlockRegex.FindStringSubmatch(s)
	if len(matches) > 1 {
		s = strings.TrimSpace(matches[1])
	} else {
		s = strings.TrimSpace(s)
	}

	objectStart := strings.Index(s, "{")
	arrayStart := strings.Index(s, "[")

	start := objectStart
	open, close := byte('{'), byte('}')
	if start == -1 || (arrayStart != -1 && arrayStart < start) {
		start = arrayStart
		open, close = '[', ']'
	}
	if start == -1 {
		return s
	}

	if end := findMatchingDelimiter(s, start, open, close); end != -1 {
		return s[start : end+1]
	}
	// Truncated payload: return from the opening delimiter and let the
	// repair pass balance it.
	return s[start:]
}

// findMatchingDelimiter finds the matching closing delimiter for the opening
// one at startPos, skipping over string literals and escape sequences.
// Returns -1 if the payload is truncated.
func findMatchingDelimiter(s string, startPos int, openChar, closeChar byte) int {
	depth := 0
	inString := false
	escaped := false

	for i := startPos; i < len(s); i++ {
		ch := s[i]

		if escaped {
			escaped = false
			continue
		}
		if ch == '\\' {
			escaped = true
			continue
		}
		if ch == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}
		if ch == openChar {
			depth++
		} else if ch == closeChar {
			depth--
			if depth == 0 {
				return i
			}
		}
	}

	return -1
}

// RepairJSON fixes the JSON defects models commonly produce: smart quotes,
// literal control characters inside string values, and trailing commas
// before a closing } or ]. Delimiter balancing is separate (BalanceDelimiters)
// because it should only run after a parse attempt has failed.
func RepairJSON(s string) string {
	s = normalizeQuotes(s)
	s = escapeControlChars(s)
	s = stripTrailingCommas(s)
	return s
}

var quoteReplacer = strings.NewReplacer(
	"“", `"`, // left double
	"”", `"`, // right double
	"„", `"`, // low double
	"‘", "'", // left single
	"’", "'", // right single
)

func normalizeQuotes(s string) string {
	return quoteReplacer.Replace(s)
}

// escapeControlChars escapes literal control characters that appear inside
// string values. Anything outside a string is insignificant whitespace to
// the parser and passes through untouched.
func escapeControlChars(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		ch := s[i]

		if escaped {
			b.WriteByte(ch)
			escaped = false
			continue
		}
		if ch == '\\' {
			b.WriteByte(ch)
			escaped = true
			continue
		}
		if ch == '"' {
			b.WriteByte(ch)
			inString = !inString
			continue
		}
		if inString && ch < 0x20 {
			switch ch {
			case '\n':
				b.WriteString(`\n`)
			case '\r':
				// Fold \r\n into a single escaped newline
				if i+1 < len(s) && s[i+1] == '\n' {
					i++
				}
				b.WriteString(`\n`)
			case '\t':
				b.WriteString(`\t`)
			default:
				b.WriteString(fmt.Sprintf(`\u%04x`, ch))
			}
			continue
		}

		b.WriteByte(ch)
	}

	return b.String()
}

// stripTrailingCommas removes commas that directly precede a closing } or ],
// ignoring commas inside string values.
func stripTrailingCommas(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		ch := s[i]

		if !escaped && ch == '"' {
			inString = !inString
		}
		if inString {
			escaped = !escaped && ch == '\\'
			b.WriteByte(ch)
			continue
		}
		escaped = false

		if ch == ',' {
			j := i + 1
			for j < len(s) && (s[j] == ' ' || s[j] == '\t' || s[j] == '\n' || s[j] == '\r') {
				j++
			}
			if j < len(s) && (s[j] == '}' || s[j] == ']') {
				continue // drop the comma
			}
		}

		b.WriteByte(ch)
	}

	return b.String()
}

// BalanceDelimiters appends the closers missing from a truncated JSON
// payload, matching open { and [ counted outside string literals, in
// last-opened-first-closed order. An unterminated string literal is closed
// first. Intended as a second-chance repair after a failed parse.
func BalanceDelimiters(s string) string {
	var stack []byte
	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		ch := s[i]

		if escaped {
			escaped = false
			continue
		}
		if ch == '\\' {
			escaped = true
			continue
		}
		if ch == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}

		switch ch {
		case '{', '[':
			stack = append(stack, ch)
		case '}':
			if len(stack) > 0 && stack[len(stack)-1] == '{' {
				stack = stack[:len(stack)-1]
			}
		case ']':
			if len(stack) > 0 && stack[len(stack)-1] == '[' {
				stack = stack[:len(stack)-1]
			}
		}
	}

	if inString {
		s += `"`
	}
	s = strings.TrimRight(s, " \t\n\r,")
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == '{' {
			s += "}"
		} else {
			s += "]"
		}
	}

	return s
}
