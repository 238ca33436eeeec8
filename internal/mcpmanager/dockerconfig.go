package mcpmanager

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/flowforge/engine/pkg/models"
)

// dockerContainerName derives the deterministic-per-connect-attempt
// container name spec §4.3 calls for: flujo_<serverName>_<short-uuid>.
// A fresh suffix each connect avoids colliding with a container a
// previous, ungracefully-terminated process left behind.
func dockerContainerName(serverName string) string {
	suffix := uuid.NewString()[:8]
	return fmt.Sprintf("flujo_%s_%s", serverName, suffix)
}

// buildDockerRunArgs assembles `docker run` arguments for an
// MCP server wrapped in a container, grounded on the teacher's
// process.DockerExecutor.Start argument assembly. publishPort is >0
// only when the server's docker_sub_transport is websocket.
func buildDockerRunArgs(cfg models.MCPServerConfig, containerName string, publishPort int) []string {
	args := []string{"run", "-i", "--rm", "--name", containerName}

	if cfg.NetworkMode != "" {
		args = append(args, "--network", cfg.NetworkMode)
	}

	for _, vol := range cfg.Volumes {
		args = append(args, "-v", vol)
	}

	for k, v := range cfg.DockerEnv {
		args = append(args, "-e", k+"="+v)
	}

	if publishPort > 0 {
		args = append(args, "-p", fmt.Sprintf("%d:%d", publishPort, publishPort))
	}

	args = append(args, cfg.DockerArgs...)
	args = append(args, cfg.Image)
	return args
}
