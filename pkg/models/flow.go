package models

// NodeKind identifies the role a Node plays inside a Flow.
type NodeKind string

const (
	NodeStart   NodeKind = "start"
	NodeProcess NodeKind = "process"
	NodeFinish  NodeKind = "finish"
	NodeMCP     NodeKind = "mcp"
)

// FunctionCallingSchema is the style a model expects tool descriptions
// and tool calls to be rendered in when structured tool_calls aren't
// natively supported.
type FunctionCallingSchema string

const (
	FunctionCallingNone FunctionCallingSchema = ""
	FunctionCallingJSON FunctionCallingSchema = "json"
	FunctionCallingXML  FunctionCallingSchema = "xml"
)

// Node is a vertex in a Flow. Only process nodes invoke a model; mcp
// nodes declare a tool-server dependency that process nodes reachable
// via an "mcp"-tagged edge can draw tools from.
type Node struct {
	ID   string   `json:"id"`
	Type NodeKind `json:"type"`

	// Process-node properties.
	ModelID                 string   `json:"model_id,omitempty"`
	PromptTemplate          string   `json:"prompt_template,omitempty"`
	ExcludeStartNodePrompt  bool     `json:"exclude_start_node_prompt,omitempty"`
	ExcludeModelPrompt      bool     `json:"exclude_model_prompt,omitempty"`
	EnabledTools            []string `json:"enabled_tools,omitempty"`
	ExtraEnv                map[string]string `json:"extra_env,omitempty"`

	// MCP-node properties.
	MCPServerName string `json:"mcp_server_name,omitempty"`
}

// Edge is a directed connection between two nodes, labeled with the
// action string the source node must return to select it.
type Edge struct {
	Source      string `json:"source"`
	Target      string `json:"target"`
	ActionLabel string `json:"action_label"`
	// Kind distinguishes a normal handoff edge from an "mcp" edge that
	// merely declares the source node's dependency on an mcp node's
	// server, per spec §4.6's prep phase.
	Kind string `json:"kind,omitempty"`
}

// Flow is a directed graph of nodes representing an agent workflow.
// Flows are loaded read-only by the engine; it never mutates a Flow
// during execution.
type Flow struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// NodeByID returns the node with the given id, or false if absent.
func (f *Flow) NodeByID(id string) (Node, bool) {
	for _, n := range f.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// StartNode returns the flow's start node, if any.
func (f *Flow) StartNode() (Node, bool) {
	for _, n := range f.Nodes {
		if n.Type == NodeStart {
			return n, true
		}
	}
	return Node{}, false
}

// OutgoingEdges returns every edge whose source is nodeID.
func (f *Flow) OutgoingEdges(nodeID string) []Edge {
	var out []Edge
	for _, e := range f.Edges {
		if e.Source == nodeID {
			out = append(out, e)
		}
	}
	return out
}

// MatchEdge looks up the successor for an action label by exact match
// against nodeID's outgoing edges. Per spec §4.6, this never errors —
// callers fall through to "unrecognized" when ok is false.
func (f *Flow) MatchEdge(nodeID, actionLabel string) (Edge, bool) {
	for _, e := range f.OutgoingEdges(nodeID) {
		if e.ActionLabel == actionLabel {
			return e, true
		}
	}
	return Edge{}, false
}

// MCPEdgesFrom returns the "mcp"-kind edges out of nodeID, used during
// prep to gather the set of MCP servers available to a process node.
func (f *Flow) MCPEdgesFrom(nodeID string) []Edge {
	var out []Edge
	for _, e := range f.OutgoingEdges(nodeID) {
		if e.Kind == "mcp" {
			out = append(out, e)
		}
	}
	return out
}
