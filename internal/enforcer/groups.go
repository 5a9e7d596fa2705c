package enforcer

import (
	"go.uber.org/zap"

	"github.com/openclaw/clawforge/internal/domain"
)

// normalize lowercases, trims, then applies the closed alias table.
func normalize(toolName string) string {
	n := trimLower(toolName)
	if alias, ok := domain.ToolAliases[n]; ok {
		return alias
	}
	return n
}

func trimLower(s string) string {
	// ASCII-only trim+lower is sufficient: tool names are identifiers, not
	// free text.
	start, end := 0, len(s)
	for start < end && isSpace(s[start]) {
		start++
	}
	for end > start && isSpace(s[end-1]) {
		end--
	}
	s = s[start:end]
	b := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		b[i] = c
	}
	return string(b)
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

// expand turns a policy's ToolSelector list into the set of concrete tool
// names it names, skipping (and logging) unknown group references rather
// than silently treating them as literal tool names.
func expand(selectors []domain.ToolSelector, logger *zap.Logger) map[string]bool {
	out := make(map[string]bool, len(selectors))
	for _, sel := range selectors {
		s := string(sel)
		if len(s) >= 6 && s[:6] == "group:" {
			names, ok := domain.ToolGroups[s]
			if !ok {
				if logger != nil {
					logger.Warn("unknown tool group in policy selector, skipping", zap.String("group", s))
				}
				continue
			}
			for _, n := range names {
				out[n] = true
			}
			continue
		}
		out[s] = true
	}
	return out
}
