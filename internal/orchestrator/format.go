package orchestrator

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// ToolFormatter renders tool invocations and results for display. Supplied
// by the transport layer; DefaultFormatter covers the common case.
type ToolFormatter interface {
	// Display renders a one-line label for a tool invocation.
	Display(name string, input json.RawMessage) string
	// Summary condenses a tool-result payload for a status update.
	Summary(content string) string
}

// DefaultFormatter renders "Name(arg, ...)" labels and first-line result
// summaries.
type DefaultFormatter struct{}

const maxSummaryLen = 200

// Display implements ToolFormatter.
func (DefaultFormatter) Display(name string, input json.RawMessage) string {
	var args map[string]any
	if err := json.Unmarshal(input, &args); err != nil || len(args) == 0 {
		return name
	}

	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		v := fmt.Sprintf("%v", args[k])
		if len(v) > 60 {
			v = v[:60] + "…"
		}
		parts = append(parts, v)
	}
	return fmt.Sprintf("%s(%s)", name, strings.Join(parts, ", "))
}

// Summary implements ToolFormatter.
func (DefaultFormatter) Summary(content string) string {
	s := strings.TrimSpace(content)
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[:idx]
	}
	if len(s) > maxSummaryLen {
		s = s[:maxSummaryLen] + "…"
	}
	return s
}
