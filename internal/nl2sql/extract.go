package nl2sql

import (
	"strings"
)

const fence = "```"

// ExtractSQL returns the statement inside the first markdown code fence of
// model output. A lead-in line before the fence and prose after the closing
// fence are dropped. Text without a fence is only trimmed. Fenced output never
// keeps a fence, so applying ExtractSQL twice changes nothing.
func ExtractSQL(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, fence) {
		start := strings.Index(trimmed, "\n"+fence)
		if start < 0 {
			return trimmed
		}
		trimmed = strings.TrimSpace(trimmed[start+1:])
	}
	for strings.HasPrefix(trimmed, fence) {
		trimmed = stripFence(trimmed)
	}
	return trimmed
}

func stripFence(value string) string {
	body := strings.TrimPrefix(value, fence)

	if newline := strings.IndexByte(body, '\n'); newline >= 0 {
		if isLanguageTag(body[:newline]) {
			body = body[newline+1:]
		}
	} else if tag, rest, ok := strings.Cut(body, " "); ok && strings.EqualFold(tag, "sql") {
		body = rest
	}

	body = strings.TrimSpace(body)
	if strings.HasPrefix(body, fence) {
		return body
	}
	if end := strings.Index(body, fence); end >= 0 {
		body = body[:end]
	}
	return strings.TrimSpace(body)
}

// isLanguageTag reports whether the rest of an opening fence line is an info
// string such as "sql" rather than the start of the statement.
func isLanguageTag(line string) bool {
	tag := strings.TrimSpace(line)
	if tag == "" {
		return true
	}
	if len(tag) > 20 || strings.EqualFold(tag, "select") || strings.EqualFold(tag, "with") {
		return false
	}
	for _, r := range tag {
		isWord := r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '_' || r == '-' || r == '+'
		if !isWord {
			return false
		}
	}
	return true
}
