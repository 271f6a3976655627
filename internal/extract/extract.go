// Package extract converts raw language-model text into a structured reply.
//
// Model output is unreliable at the JSON-syntax level but usually reliable at
// the semantic level, so Extract degrades through ordered tiers instead of
// failing: fenced-block stripping, balanced-brace JSON decoding, permissive
// regex rescue, a keyword/coordinate heuristic, and a plain-text fallback.
// Extract is a total function over strings and never returns an error.
package extract

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Tier identifies which strategy produced a ModelReply.
type Tier int

const (
	// TierEmpty fires on empty or whitespace-only input.
	TierEmpty Tier = iota
	// TierJSON decoded a balanced-brace object span.
	TierJSON
	// TierRegex rescued command and params with permissive patterns.
	TierRegex
	// TierKeyword synthesized a move_to from a keyword plus coordinates.
	TierKeyword
	// TierFallback stripped structure from the raw text.
	TierFallback
)

// String returns the tier name used in log events.
func (t Tier) String() string {
	switch t {
	case TierEmpty:
		return "empty"
	case TierJSON:
		return "json"
	case TierRegex:
		return "regex"
	case TierKeyword:
		return "keyword"
	case TierFallback:
		return "fallback"
	default:
		return "unknown"
	}
}

// ModelReply is the structured result of one completion turn, before command
// validation. Response is always non-empty.
type ModelReply struct {
	Response      string         `json:"response"`
	Command       *string        `json:"command"`
	CommandParams map[string]any `json:"command_params"`
	Tier          Tier           `json:"-"`
}

const (
	defaultResponse = "Command received."
	emptyResponse   = "No response received."
	apologyResponse = "I received your request but couldn't parse the response format."

	fallbackMaxLen = 200
)

var (
	fencePattern = regexp.MustCompile("(?is)```(?:json)?\\s*(.*?)\\s*```")

	rescuePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?is)"command"\s*:\s*"([^"]*)".*?"command_params"\s*:\s*(\{[^}]*\})`),
		regexp.MustCompile(`(?is)command["\s]*[:=]["\s]*([^",\s}]+).*?params["\s]*[:=]["\s]*(\{[^}]*\})`),
	}

	coordPattern = regexp.MustCompile(`(?i)["\s]*x["\s]*[:=]["\s]*(\d+).*?["\s]*y["\s]*[:=]["\s]*(\d+)`)

	structuralPunct = regexp.MustCompile(`[{}"\[\]]`)
	responseLabel   = regexp.MustCompile(`(?i)response\s*[:=]\s*`)
	commandLabel    = regexp.MustCompile(`(?i)command\s*[:=]\s*\w+`)
)

// Extract parses raw into a ModelReply, trying each tier in order and
// returning the first success. It never fails; repeated calls on the same
// input yield identical results.
func Extract(raw string) ModelReply {
	working := strings.TrimSpace(raw)
	if working == "" {
		return ModelReply{Response: emptyResponse, Tier: TierEmpty}
	}

	// Tier 1: prefer fenced content over anything around it. With several
	// fenced blocks the longest wins.
	if strings.Contains(working, "```") {
		if inner := longestFencedBlock(working); inner != "" {
			working = inner
		}
	}

	// Tier 2: first top-level balanced object span, decoded as JSON.
	if span, found := firstBalancedObject(working); found {
		if reply, ok := decodeObjectSpan(span); ok {
			reply.Tier = TierJSON
			return reply
		}
	}

	// Tier 3: permissive patterns over the (possibly fence-stripped) text.
	if reply, ok := rescueWithPatterns(working); ok {
		reply.Tier = TierRegex
		return reply
	}

	// Tier 4: keyword plus coordinate pair. The synthesized command is always
	// move_to even when the matched keyword is rotate or start_patrol; the
	// original pipeline behaved this way and downstream validation depends on
	// coordinates being treated as movement.
	foundCommand := scanKeyword(working)
	if foundCommand != "" {
		if x, y, ok := scanCoordinates(working); ok {
			name := foundCommand
			return ModelReply{
				Response:      fmt.Sprintf("Moving to coordinates %d, %d.", x, y),
				Command:       &name,
				CommandParams: map[string]any{"x": x, "y": y},
				Tier:          TierKeyword,
			}
		}
	}

	// Tier 5: always succeeds.
	reply := fallbackReply(working)
	if foundCommand != "" {
		reply.Command = &foundCommand
	}
	return reply
}

func longestFencedBlock(text string) string {
	matches := fencePattern.FindAllStringSubmatch(text, -1)
	longest := ""
	for _, m := range matches {
		candidate := strings.TrimSpace(m[1])
		if len(candidate) > len(longest) {
			longest = candidate
		}
	}
	return longest
}

// firstBalancedObject scans left to right counting brace depth and returns
// the first span where the depth returns to zero after first going positive.
func firstBalancedObject(text string) (string, bool) {
	depth := 0
	start := -1
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '{':
			if start == -1 {
				start = i
			}
			depth++
		case '}':
			depth--
			if depth == 0 && start != -1 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}

func decodeObjectSpan(span string) (ModelReply, bool) {
	var parsed map[string]any
	if err := json.Unmarshal([]byte(span), &parsed); err != nil {
		return ModelReply{}, false
	}

	reply := ModelReply{Response: defaultResponse}
	if response, ok := parsed["response"].(string); ok && response != "" {
		reply.Response = response
	}
	if name, ok := parsed["command"].(string); ok && name != "" {
		reply.Command = &name
	}
	if params, ok := parsed["command_params"].(map[string]any); ok {
		reply.CommandParams = params
	}
	return reply, true
}

func rescueWithPatterns(text string) (ModelReply, bool) {
	for _, pattern := range rescuePatterns {
		m := pattern.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		name := strings.Trim(strings.TrimSpace(m[1]), `"`)

		var params map[string]any
		if err := json.Unmarshal([]byte(m[2]), &params); err != nil {
			continue
		}

		reply := ModelReply{
			Response:      fmt.Sprintf("Executing %s command.", name),
			CommandParams: params,
		}
		if name != "" && name != "null" {
			reply.Command = &name
		}
		return reply, true
	}
	return ModelReply{}, false
}

func scanKeyword(text string) string {
	lowered := strings.ToLower(text)
	for _, name := range commandKeywords {
		if strings.Contains(lowered, name) {
			return name
		}
	}
	return ""
}

var commandKeywords = []string{"move_to", "rotate", "start_patrol"}

func scanCoordinates(text string) (int, int, bool) {
	m := coordPattern.FindStringSubmatch(text)
	if m == nil {
		return 0, 0, false
	}
	x, errX := strconv.Atoi(m[1])
	y, errY := strconv.Atoi(m[2])
	if errX != nil || errY != nil {
		return 0, 0, false
	}
	return x, y, true
}

func fallbackReply(text string) ModelReply {
	cleaned := structuralPunct.ReplaceAllString(text, "")
	cleaned = responseLabel.ReplaceAllString(cleaned, "")
	cleaned = commandLabel.ReplaceAllString(cleaned, "")
	cleaned = strings.Join(strings.Fields(cleaned), " ")

	if cleaned == "" {
		cleaned = apologyResponse
	}
	if runes := []rune(cleaned); len(runes) > fallbackMaxLen {
		cleaned = string(runes[:fallbackMaxLen])
	}

	return ModelReply{Response: cleaned, Tier: TierFallback}
}
