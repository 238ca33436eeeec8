package mcpmanager

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/flowforge/engine/internal/enginerr"
	"github.com/flowforge/engine/pkg/models"
)

// validateToolDescriptor checks the structural minimum of a server's
// advertised tool: a name, and a well-formed JSON Schema object for
// inputSchema, reporting a failure as a critical tool error.
// connectServer logs a warning for a tool that fails this check and
// keeps it in the cached tool list. Grounded on
// pluginsdk.ValidateConfig's compile-then-validate shape.
func validateToolDescriptor(tool models.MCPToolDescriptor) error {
	if tool.Name == "" {
		return enginerr.CriticalTool("tool is missing a name")
	}
	if tool.InputSchema == nil {
		return enginerr.CriticalTool("tool %q is missing an inputSchema", tool.Name)
	}

	raw, err := json.Marshal(tool.InputSchema)
	if err != nil {
		return enginerr.CriticalTool("tool %q has an unencodable inputSchema: %v", tool.Name, err)
	}

	compiled, err := jsonschema.CompileString(fmt.Sprintf("%s.inputSchema.json", tool.Name), string(raw))
	if err != nil {
		return enginerr.CriticalTool("tool %q has an invalid inputSchema: %v", tool.Name, err)
	}
	_ = compiled
	return nil
}

// validateToolArguments checks a call's arguments against the tool's
// declared inputSchema and reports a schema violation as a tool error.
// callTool does not run this check; arguments go to the server as
// given.
func validateToolArguments(tool models.MCPToolDescriptor, args map[string]any) error {
	if tool.InputSchema == nil {
		return nil
	}
	raw, err := json.Marshal(tool.InputSchema)
	if err != nil {
		return nil
	}
	compiled, err := jsonschema.CompileString(fmt.Sprintf("%s.inputSchema.json", tool.Name), string(raw))
	if err != nil {
		return nil
	}

	payload, err := json.Marshal(args)
	if err != nil {
		return enginerr.Wrap(enginerr.TypeTool, err, "encode arguments for tool %q", tool.Name)
	}
	var decoded any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return enginerr.Wrap(enginerr.TypeTool, err, "decode arguments for tool %q", tool.Name)
	}
	if err := compiled.Validate(decoded); err != nil {
		return enginerr.Wrap(enginerr.TypeTool, err, "arguments for tool %q fail schema validation", tool.Name)
	}
	return nil
}
