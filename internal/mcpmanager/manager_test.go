package mcpmanager

import (
	"strings"
	"testing"

	"github.com/flowforge/engine/pkg/models"
)

func TestDockerContainerName_Prefixed(t *testing.T) {
	name := dockerContainerName("fsserver")
	if !strings.HasPrefix(name, "flujo_fsserver_") {
		t.Errorf("dockerContainerName() = %q, want flujo_fsserver_<suffix>", name)
	}
}

func TestDockerContainerName_Unique(t *testing.T) {
	a := dockerContainerName("srv")
	b := dockerContainerName("srv")
	if a == b {
		t.Errorf("dockerContainerName() produced the same name twice: %q", a)
	}
}

func TestBuildDockerRunArgs_IncludesImageAndFlags(t *testing.T) {
	cfg := models.MCPServerConfig{
		Image:       "mcp/filesystem:latest",
		NetworkMode: "bridge",
		Volumes:     []string{"/host:/container"},
		DockerEnv:   map[string]string{"FOO": "bar"},
		DockerArgs:  []string{"--read-only"},
	}
	args := buildDockerRunArgs(cfg, "flujo_fsserver_abc123", 0)

	joined := strings.Join(args, " ")
	for _, want := range []string{"run", "-i", "--rm", "--name flujo_fsserver_abc123", "--network bridge", "-v /host:/container", "-e FOO=bar", "--read-only", "mcp/filesystem:latest"} {
		if !strings.Contains(joined, want) {
			t.Errorf("buildDockerRunArgs() = %q, missing %q", joined, want)
		}
	}
}

func TestBuildDockerRunArgs_PublishesPortForWebsocketSubMode(t *testing.T) {
	cfg := models.MCPServerConfig{Image: "mcp/web:latest"}
	args := buildDockerRunArgs(cfg, "flujo_web_abc", 9123)

	joined := strings.Join(args, " ")
	if !strings.Contains(joined, "-p 9123:9123") {
		t.Errorf("buildDockerRunArgs() = %q, want published port 9123:9123", joined)
	}
}

func TestValidateToolDescriptor_RejectsMissingName(t *testing.T) {
	err := validateToolDescriptor(models.MCPToolDescriptor{InputSchema: map[string]any{"type": "object"}})
	if err == nil {
		t.Fatal("validateToolDescriptor() = nil, want error for missing name")
	}
	if !strings.Contains(err.Error(), "CRITICAL TOOL ERROR") {
		t.Errorf("validateToolDescriptor() error = %q, want CRITICAL TOOL ERROR prefix", err.Error())
	}
}

func TestValidateToolDescriptor_RejectsMissingSchema(t *testing.T) {
	err := validateToolDescriptor(models.MCPToolDescriptor{Name: "readFile"})
	if err == nil {
		t.Fatal("validateToolDescriptor() = nil, want error for missing inputSchema")
	}
}

func TestValidateToolDescriptor_AcceptsWellFormed(t *testing.T) {
	err := validateToolDescriptor(models.MCPToolDescriptor{
		Name: "readFile",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"path": map[string]any{"type": "string"}},
		},
	})
	if err != nil {
		t.Errorf("validateToolDescriptor() = %v, want nil for well-formed tool", err)
	}
}

func TestValidateToolArguments_RejectsSchemaViolation(t *testing.T) {
	tool := models.MCPToolDescriptor{
		Name: "readFile",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"path": map[string]any{"type": "string"}},
			"required":   []any{"path"},
		},
	}
	err := validateToolArguments(tool, map[string]any{})
	if err == nil {
		t.Fatal("validateToolArguments() = nil, want error for missing required field")
	}
}

func TestValidateToolArguments_AcceptsValid(t *testing.T) {
	tool := models.MCPToolDescriptor{
		Name: "readFile",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"path": map[string]any{"type": "string"}},
			"required":   []any{"path"},
		},
	}
	err := validateToolArguments(tool, map[string]any{"path": "/tmp/x"})
	if err != nil {
		t.Errorf("validateToolArguments() = %v, want nil for valid arguments", err)
	}
}

func TestRegistry_PutGetDelete(t *testing.T) {
	c := newClient("srv", models.MCPServerConfig{Name: "srv"})
	registryPut("srv", c)

	got, ok := registryGet("srv")
	if !ok || got != c {
		t.Fatalf("registryGet() = %v, %v, want the client just stored", got, ok)
	}

	registryDelete("srv")
	if _, ok := registryGet("srv"); ok {
		t.Error("registryGet() found client after registryDelete()")
	}
}

func TestClient_StatusReport(t *testing.T) {
	c := newClient("srv", models.MCPServerConfig{Name: "srv"})
	c.setStatus(models.MCPStatusConnected, "")
	c.appendStderr([]byte("warning: deprecated flag\n"))

	report := c.statusReport()
	if report.Status != models.MCPStatusConnected {
		t.Errorf("statusReport().Status = %q, want connected", report.Status)
	}
	if !strings.Contains(report.StderrTail, "deprecated flag") {
		t.Errorf("statusReport().StderrTail = %q, want stderr content", report.StderrTail)
	}
}
