package parser

import "strings"

// candidates returns every balanced top-level JSON object in raw, fenced blocks first.
func candidates(raw string) []string {
	var out []string
	for _, block := range fencedBlocks(raw) {
		out = append(out, objects(block)...)
	}
	return append(out, objects(raw)...)
}

func fencedBlocks(raw string) []string {
	var blocks []string
	rest := raw
	for {
		start := strings.Index(rest, "```")
		if start < 0 {
			return blocks
		}
		rest = rest[start+3:]
		// skip an info string such as ```json
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 && !strings.Contains(rest[:nl], "{") {
			rest = rest[nl+1:]
		}
		end := strings.Index(rest, "```")
		if end < 0 {
			return append(blocks, rest)
		}
		blocks = append(blocks, rest[:end])
		rest = rest[end+3:]
	}
}

// objects scans for balanced {...} spans, honouring JSON string escapes.
func objects(s string) []string {
	var out []string
	depth, start := 0, -1
	inString, escaped := false, false
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
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 && start >= 0 {
				out = append(out, s[start:i+1])
				start = -1
			}
		}
	}
	return out
}
