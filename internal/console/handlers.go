package console

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// parseToolArgs parses JSON arguments for a tool call
func parseToolArgs(argsStr string, toolName string) (map[string]any, error) {
	if argsStr == "" {
		return nil, nil
	}

	var args map[string]any
	if err := json.Unmarshal([]byte(argsStr), &args); err != nil {
		return nil, fmt.Errorf("invalid JSON arguments for %s (example: call %s {\"tags\": \"ambient\"}): %w", toolName, toolName, err)
	}
	return args, nil
}

// prettyJSON indents text when it is a JSON document.
func prettyJSON(text string) string {
	var v any
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return text
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return text
	}
	return string(b)
}

func (c *Console) displayToolResult(result *mcp.CallToolResult) {
	if result.IsError {
		_, _ = fmt.Fprintln(c.out, "Tool returned an error:")
		for _, content := range result.Content {
			if text, ok := mcp.AsTextContent(content); ok {
				for _, line := range strings.Split(prettyJSON(text.Text), "\n") {
					_, _ = fmt.Fprintf(c.out, "  %s\n", line)
				}
			}
		}
		return
	}

	for _, content := range result.Content {
		if text, ok := mcp.AsTextContent(content); ok {
			_, _ = fmt.Fprintln(c.out, prettyJSON(text.Text))
		}
	}
}

func (c *Console) callTool(ctx context.Context, name string, args map[string]any) error {
	result, err := c.tools.CallTool(ctx, name, args)
	if err != nil {
		return fmt.Errorf("tool execution failed: %w", err)
	}
	c.displayToolResult(result)
	return nil
}

func (c *Console) handleCallTool(ctx context.Context, toolName, argsStr string) error {
	if !slices.Contains(c.tools.ToolNames(), toolName) {
		return fmt.Errorf("tool not found: %s", toolName)
	}
	args, err := parseToolArgs(argsStr, toolName)
	if err != nil {
		return err
	}
	c.logger.Info("Executing tool: %s...", toolName)
	return c.callTool(ctx, toolName, args)
}

func (c *Console) handleList(ctx context.Context, args []string) error {
	params := map[string]any{}
	for _, a := range args {
		if strings.EqualFold(a, "remote") {
			params["remote"] = true
			continue
		}
		params["output_dir"] = a
	}
	return c.callTool(ctx, "list_tracks", params)
}

// handleGenerate treats a leading target name as the output directory and
// the rest as tags.
func (c *Console) handleGenerate(ctx context.Context, args []string) error {
	params := map[string]any{}
	if len(args) > 1 && slices.Contains(c.targets, args[0]) {
		params["output_dir"] = args[0]
		args = args[1:]
	}
	params["tags"] = strings.Join(args, " ")
	c.logger.Info("Generating %q, this can take a few minutes...", params["tags"])
	return c.callTool(ctx, "generate_track", params)
}

func (c *Console) listTools() error {
	names := c.tools.ToolNames()
	_, _ = fmt.Fprintf(c.out, "Available tools (%d):\n", len(names))
	for i, name := range names {
		_, _ = fmt.Fprintf(c.out, "  %d. %s\n", i+1, name)
	}
	return nil
}

func (c *Console) handleVerbose(setting string) error {
	switch strings.ToLower(setting) {
	case "on":
		c.logger.SetVerbose(true)
		_, _ = fmt.Fprintln(c.out, "Verbose logging enabled")
	case "off":
		c.logger.SetVerbose(false)
		_, _ = fmt.Fprintln(c.out, "Verbose logging disabled")
	default:
		return fmt.Errorf("invalid setting: %s. Use 'on' or 'off'", setting)
	}
	return nil
}
