package approval

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/agentdeck/agentdeck/internal/domain"
	"github.com/agentdeck/agentdeck/internal/domain/conversation"
)

// execute performs an approved tool call directly. Only the file and shell
// tools are executable outside the agent; anything else fails with a clear
// reason so the caller surfaces it as an error result.
func (c *Coordinator) execute(p *conversation.PendingPermission, projectPath string) (string, error) {
	var input map[string]interface{}
	if len(p.ToolInput) > 0 {
		if err := json.Unmarshal(p.ToolInput, &input); err != nil {
			return "", domain.NewToolExecutionError(p.ToolName, "malformed tool input")
		}
	}

	switch p.ToolName {
	case "Write":
		return c.executeWrite(input, projectPath)
	case "Edit":
		return c.executeEdit(input, projectPath)
	case "Bash":
		return c.executeBash(input, projectPath)
	default:
		return "", domain.NewToolExecutionError(p.ToolName, "tool cannot be executed outside the agent")
	}
}

func (c *Coordinator) executeWrite(input map[string]interface{}, projectPath string) (string, error) {
	path, _ := input["file_path"].(string)
	content, _ := input["content"].(string)
	if path == "" {
		return "", domain.NewToolExecutionError("Write", "missing file_path")
	}
	path = resolvePath(path, projectPath)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", err
	}
	return fmt.Sprintf("File written: %s (%d bytes)", path, len(content)), nil
}

func (c *Coordinator) executeEdit(input map[string]interface{}, projectPath string) (string, error) {
	path, _ := input["file_path"].(string)
	oldStr, _ := input["old_string"].(string)
	newStr, _ := input["new_string"].(string)
	replaceAll, _ := input["replace_all"].(bool)
	if path == "" || oldStr == "" {
		return "", domain.NewToolExecutionError("Edit", "missing file_path or old_string")
	}
	path = resolvePath(path, projectPath)

	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	text := string(data)
	count := strings.Count(text, oldStr)
	if count == 0 {
		return "", domain.NewToolExecutionError("Edit", "old_string not found in file")
	}
	if !replaceAll && count > 1 {
		return "", domain.NewToolExecutionError("Edit", "old_string is not unique; pass replace_all")
	}

	replaced := count
	if replaceAll {
		text = strings.ReplaceAll(text, oldStr, newStr)
	} else {
		text = strings.Replace(text, oldStr, newStr, 1)
		replaced = 1
	}
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return "", err
	}
	return fmt.Sprintf("File edited: %s (%d replacement(s))", path, replaced), nil
}

func (c *Coordinator) executeBash(input map[string]interface{}, projectPath string) (string, error) {
	command, _ := input["command"].(string)
	if command == "" {
		return "", domain.NewToolExecutionError("Bash", "missing command")
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.execTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "bash", "-c", command)
	cmd.Dir = projectPath

	out, err := cmd.CombinedOutput()
	output := string(out)
	if len(output) > c.maxOutput {
		output = output[:c.maxOutput] + "\n... (output truncated)"
	}

	if ctx.Err() == context.DeadlineExceeded {
		return output, domain.NewToolExecutionError("Bash", fmt.Sprintf("command timed out after %s", c.execTimeout))
	}
	if err != nil {
		return output, domain.NewToolExecutionError("Bash", err.Error())
	}
	if output == "" {
		output = "(no output)"
	}
	return output, nil
}

func resolvePath(path, projectPath string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(projectPath, path)
}
