package mcpmanager

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/flowforge/engine/pkg/models"
)

// enrichConnectionError wraps a bare transport failure with enough
// local filesystem context to make a misconfigured stdio server
// diagnosable from the error message alone: whether the command
// resolves on PATH, whether its configured cwd exists, and the
// server's recent stderr. Grounded on the teacher's process manager,
// which always logs the resolved command alongside failures rather
// than the error in isolation.
func enrichConnectionError(cfg models.MCPServerConfig, stderrTail string, cause error) error {
	if cfg.Transport != models.TransportStdio && cfg.Transport != models.TransportDocker {
		if stderrTail != "" {
			return fmt.Errorf("%w (stderr: %s)", cause, stderrTail)
		}
		return cause
	}

	detail := fmt.Sprintf("command=%q", cfg.Command)

	resolved, lookErr := exec.LookPath(cfg.Command)
	if lookErr != nil {
		detail += ", not found on PATH"
	} else {
		detail += fmt.Sprintf(", resolved=%q", resolved)
	}

	if cfg.Cwd != "" {
		if _, err := os.Stat(cfg.Cwd); err != nil {
			detail += fmt.Sprintf(", working directory %q does not exist", cfg.Cwd)
		}
	} else if resolved != "" {
		if _, err := os.Stat(filepath.Dir(resolved)); err != nil {
			detail += ", command's containing directory is not accessible"
		}
	}

	if stderrTail != "" {
		detail += fmt.Sprintf(", stderr: %s", stderrTail)
	}

	return fmt.Errorf("%w (%s)", cause, detail)
}
