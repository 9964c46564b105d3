// Package safety vetoes dangerous tool invocations before they reach the
// chat transport. A veto aborts the current query but is a policy decision,
// not a fault: callers should not record it as a session error.
package safety

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// BlockedError is returned when a tool invocation fails a safety check.
type BlockedError struct {
	Tool   string
	Reason string
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("tool %s blocked: %s", e.Tool, e.Reason)
}

// Default denylist for shell-style tools. Substring match against the
// command, lowercased.
var defaultDeniedCommands = []string{
	"rm -rf /",
	"rm -rf ~",
	"rm -rf *",
	"mkfs",
	"dd if=",
	":(){",
	"> /dev/sda",
	"chmod -r 777 /",
	"git push --force",
	"sudo rm",
}

// Tool families the gate understands.
var (
	shellToolNames = map[string]bool{"Bash": true, "bash": true, "shell": true, "run_command": true}
	fileToolNames  = map[string]bool{
		"Read": true, "Write": true, "Edit": true,
		"read_file": true, "write_file": true, "edit_file": true,
	}
)

// Gate checks tool invocations against command and path policy plus
// optional per-tool input schemas.
type Gate struct {
	AllowedDirs    []string
	DeniedCommands []string          // nil = defaults
	Schemas        map[string]string // tool name -> JSON schema, optional
}

// Check inspects one tool invocation. A nil return means the call may
// proceed; a *BlockedError means it must not.
func (g *Gate) Check(name string, input json.RawMessage) error {
	var args map[string]any
	if len(input) > 0 {
		if err := json.Unmarshal(input, &args); err != nil {
			return &BlockedError{Tool: name, Reason: fmt.Sprintf("unparseable input: %v", err)}
		}
	}

	if schema, ok := g.Schemas[name]; ok {
		if err := validateSchema(schema, args); err != nil {
			return &BlockedError{Tool: name, Reason: err.Error()}
		}
	}

	if shellToolNames[name] {
		if reason := g.checkCommand(args); reason != "" {
			return &BlockedError{Tool: name, Reason: reason}
		}
	}

	if fileToolNames[name] {
		if reason := g.checkPath(args); reason != "" {
			return &BlockedError{Tool: name, Reason: reason}
		}
	}

	return nil
}

func (g *Gate) checkCommand(args map[string]any) string {
	cmd, _ := args["command"].(string)
	if cmd == "" {
		return ""
	}
	lower := strings.ToLower(cmd)
	denied := g.DeniedCommands
	if denied == nil {
		denied = defaultDeniedCommands
	}
	for _, pattern := range denied {
		if strings.Contains(lower, pattern) {
			return fmt.Sprintf("disallowed command pattern %q", pattern)
		}
	}
	return ""
}

func (g *Gate) checkPath(args map[string]any) string {
	path, _ := args["path"].(string)
	if path == "" {
		path, _ = args["file_path"].(string)
	}
	if path == "" || len(g.AllowedDirs) == 0 {
		return ""
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Sprintf("unresolvable path %q", path)
	}
	abs = filepath.Clean(abs)
	for _, dir := range g.AllowedDirs {
		dir = filepath.Clean(dir)
		if abs == dir || strings.HasPrefix(abs, dir+string(filepath.Separator)) {
			return ""
		}
	}
	return fmt.Sprintf("path %q outside permitted directories", path)
}

func validateSchema(schema string, args map[string]any) error {
	schemaLoader := gojsonschema.NewStringLoader(schema)
	documentLoader := gojsonschema.NewGoLoader(args)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	if !result.Valid() {
		var msgs []string
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("invalid tool input: %s", strings.Join(msgs, "; "))
	}
	return nil
}
