package agent

import (
	"strings"

	"github.com/ashureev/vade/internal/domain"
)

// BuildPrompt assembles the outbound prompt: the optional context block, a
// snapshot of all three buffers, then the user's literal request.
func BuildPrompt(extraContext string, code domain.Buffers, request string) string {
	var sb strings.Builder
	sb.Grow(len(extraContext) + len(code.HTML) + len(code.CSS) + len(code.JavaScript) + len(request) + 160)

	sb.WriteString("\n")
	sb.WriteString(extraContext)
	sb.WriteString("\nHere is the current code context:\n--- HTML ---\n")
	sb.WriteString(code.HTML)
	sb.WriteString("\n--- CSS ---\n")
	sb.WriteString(code.CSS)
	sb.WriteString("\n--- JAVASCRIPT ---\n")
	sb.WriteString(code.JavaScript)
	sb.WriteString("\n--- END OF CODE ---\n\nUser Request: \"")
	sb.WriteString(request)
	sb.WriteString("\"")
	return sb.String()
}
