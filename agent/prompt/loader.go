package prompt

import (
	_ "embed"
	"strings"
)

//go:embed template/system.txt
var systemRaw string

// SystemTemplate returns the embedded system prompt template.
// Safe to call concurrently; the embed is compile-time.
func SystemTemplate() string {
	return strings.TrimSpace(systemRaw)
}
