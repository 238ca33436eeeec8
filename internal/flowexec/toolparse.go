package flowexec

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/flowforge/engine/pkg/models"
)

// jsonToolCallPattern matches a bare {"name": "...", "arguments": {...}}
// object embedded in free text, for models whose function-calling
// schema is "json" but whose provider didn't structure the reply.
var jsonToolCallPattern = regexp.MustCompile(`\{(?:[^{}]|\{[^{}]*\})*"name"\s*:\s*"[^"]+"(?:[^{}]|\{[^{}]*\})*\}`)

// xmlToolCallPattern matches the opening <toolName> tag of an
// <toolName>...</toolName>-shaped block for models using the "xml"
// function-calling schema; the block runs to the matching closing tag.
var xmlToolCallPattern = regexp.MustCompile(`<(\w+)>`)

// extractToolCallsFromText recovers structured tool calls from a
// model's plain-text reply when a tools-unsupported retry stripped
// the native tool_calls mechanism out from under it. Returns nil if
// nothing resembling a tool call is found.
func extractToolCallsFromText(text string, schema models.FunctionCallingSchema) []models.ToolCall {
	switch schema {
	case models.FunctionCallingXML:
		return extractXMLToolCalls(text)
	default:
		return extractJSONToolCalls(text)
	}
}

// extractJSONToolCalls pulls candidate {"name": ..., "arguments": ...}
// objects out of free text and reads them with gjson rather than
// encoding/json: a model's "almost JSON" reply (trailing prose,
// single quotes in values, a dangling comma) shouldn't sink the whole
// extraction, and gjson tolerates surrounding garbage that a strict
// Unmarshal would reject.
func extractJSONToolCalls(text string) []models.ToolCall {
	matches := jsonToolCallPattern.FindAllString(text, -1)
	var calls []models.ToolCall
	for _, m := range matches {
		parsed := gjson.Parse(m)
		name := parsed.Get("name").String()
		if name == "" {
			continue
		}
		argsJSON := parsed.Get("arguments").Raw
		if argsJSON == "" {
			argsJSON = "{}"
		}
		calls = append(calls, models.ToolCall{
			ID:        uuid.NewString(),
			Name:      name,
			Arguments: argsJSON,
		})
	}
	return calls
}

func extractXMLToolCalls(text string) []models.ToolCall {
	var calls []models.ToolCall
	rest := text
	for {
		loc := xmlToolCallPattern.FindStringSubmatchIndex(rest)
		if loc == nil {
			break
		}
		name := rest[loc[2]:loc[3]]
		closeTag := "</" + name + ">"
		end := strings.Index(rest[loc[1]:], closeTag)
		if end < 0 {
			rest = rest[loc[1]:]
			continue
		}
		inner := rest[loc[1] : loc[1]+end]
		rest = rest[loc[1]+end+len(closeTag):]
		args := map[string]any{}
		for _, argMatch := range regexp.MustCompile(`(?s)<(\w+)>(.*?)</\w+>`).FindAllStringSubmatch(inner, -1) {
			args[argMatch[1]] = strings.TrimSpace(unescapeXMLEntities(argMatch[2]))
		}
		argsJSON, _ := json.Marshal(args)
		calls = append(calls, models.ToolCall{
			ID:        uuid.NewString(),
			Name:      name,
			Arguments: string(argsJSON),
		})
	}
	return calls
}

func unescapeXMLEntities(s string) string {
	replacer := strings.NewReplacer(
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
		"&apos;", "'",
		"&amp;", "&",
	)
	return replacer.Replace(s)
}
