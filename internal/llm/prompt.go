package llm

import "strings"

// systemPrompt pins the model to the strict JSON envelope the extractor
// expects. The tolerant extraction tiers exist for the cases where the model
// ignores this anyway.
const systemPrompt = `You are SHATO's command brain. You MUST respond with ONLY valid JSON.

CRITICAL: Your response must be EXACTLY this JSON format with no extra text:
{"response": "your message here", "command": "command_name_or_null", "command_params": {...} or null}

Valid commands: move_to, rotate, start_patrol
- For movement: {"command": "move_to", "command_params": {"x": number, "y": number}}
- For rotation: {"command": "rotate", "command_params": {"angle": number}}
- For patrol: {"command": "start_patrol", "command_params": null}
- For non-commands: {"command": null, "command_params": null}

DO NOT use markdown, code blocks, or any formatting. Output pure JSON only.`

// BuildUserPrompt renders the retrieved context examples and the user message
// into the user half of the completion prompt.
func BuildUserPrompt(retrieved []string, message string) string {
	var b strings.Builder
	b.WriteString("Context examples:\n")
	b.WriteString(strings.Join(retrieved, "\n\n"))
	b.WriteString("\n\nUser: ")
	b.WriteString(message)
	return b.String()
}
