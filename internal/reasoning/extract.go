// internal/reasoning/extract.go
package reasoning

import "strings"

// ExtractSource returns the program inside the first fenced code block of
// text, or text itself when it carries no fence
func ExtractSource(text string) string {
	text = strings.TrimSpace(text)
	start := strings.Index(text, "```")
	if start < 0 {
		return text
	}
	body := text[start+3:]
	// drop the info string (```go, ```golang)
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		body = body[nl+1:]
	} else {
		return text
	}
	if end := strings.Index(body, "```"); end >= 0 {
		body = body[:end]
	}
	return strings.TrimSpace(body) + "\n"
}
