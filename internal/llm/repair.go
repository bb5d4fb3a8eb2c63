package llm

import (
	"encoding/json"
	"errors"
	"strings"
)

// ErrUnrepairable means no JSON object could be recovered from the model output.
var ErrUnrepairable = errors.New("could not parse model output as JSON")

// RepairJSON recovers a JSON object from model output. It strips code fences and surrounding
// prose, and closes a document cut short by a truncated stream. The bool reports whether the
// input needed more than trimming.
func RepairJSON(raw string) (string, bool, error) {
	s := strings.TrimSpace(raw)
	if json.Valid([]byte(s)) && strings.HasPrefix(s, "{") {
		return s, false, nil
	}

	s = strings.ReplaceAll(s, "```json", "")
	s = strings.ReplaceAll(s, "```", "")
	s = strings.TrimSpace(s)

	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false, ErrUnrepairable
	}
	if end := strings.LastIndexByte(s, '}'); end > start {
		if c := s[start : end+1]; json.Valid([]byte(c)) {
			return c, true, nil
		}
	}
	if c, ok := closeTruncated(s[start:]); ok {
		return c, true, nil
	}
	return "", false, ErrUnrepairable
}

type cutPoint struct {
	at    int
	stack string
}

// closeTruncated closes open strings and containers. When the tail is a partial member
// (dangling key, colon, half a literal), it falls back to the last element boundary.
func closeTruncated(s string) (string, bool) {
	var (
		stack    []byte
		cuts     []cutPoint
		inString bool
		escaped  bool
	)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			stack = append(stack, c)
			cuts = append(cuts, cutPoint{at: i + 1, stack: string(stack)})
		case '}', ']':
			if len(stack) == 0 {
				return "", false
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				// a complete top-level value followed by junk
				c := s[:i+1]
				return c, json.Valid([]byte(c))
			}
		case ',':
			cuts = append(cuts, cutPoint{at: i, stack: string(stack)})
		}
	}

	tail := s
	if inString {
		if escaped {
			tail = tail[:len(tail)-1]
		}
		tail += `"`
	}
	if c := tail + closers(string(stack)); json.Valid([]byte(c)) {
		return c, true
	}
	for i := len(cuts) - 1; i >= 0; i-- {
		c := strings.TrimRight(s[:cuts[i].at], " \t\r\n") + closers(cuts[i].stack)
		if json.Valid([]byte(c)) {
			return c, true
		}
	}
	return "", false
}

func closers(stack string) string {
	var b strings.Builder
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == '{' {
			b.WriteByte('}')
		} else {
			b.WriteByte(']')
		}
	}
	return b.String()
}

// TruncateRunes cuts s to at most n characters without splitting a UTF-8 sequence.
func TruncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
