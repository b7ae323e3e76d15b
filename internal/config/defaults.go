// Package config provides centralized default configuration values.
package config

// DefaultIgnorePatterns is the canonical ignore list for the working-directory
// watcher. Users can override via config.yaml: watcher.ignore_patterns.
var DefaultIgnorePatterns = []string{
	".git",
	".agentdeck",
	".claude",
	".codex",
	"node_modules",
	"vendor",
	"__pycache__",
	".venv",
	"venv",
	"dist",
	"build",
	"target",
	"coverage",
	".next",
	".cache",
	".idea",
	".vscode",
	"*.pyc",
	"*.log",
	"*.swp",
	".DS_Store",
}
