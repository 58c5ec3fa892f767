// Package console implements the interactive operator console.
//
// The console is a readline loop over the same tools the MCP server exposes,
// called in-process, so an operator sees exactly what an agent would see.
// It is meant for checking credentials, credits and stored tracks from a
// terminal without wiring up an MCP client.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/0xshugo/suno-api-mcp/internal/logging"
)

// errExit is a sentinel error used to signal console exit
var errExit = errors.New("exit")

// ToolCaller invokes MCP tools in-process.
type ToolCaller interface {
	ToolNames() []string
	CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error)
}

// Console is the operator read-eval-print loop.
type Console struct {
	tools           ToolCaller
	targets         []string
	logger          *logging.Logger
	out             io.Writer
	historyFile     string
	commandHandlers map[string]commandHandler
}

// Option configures a Console.
type Option func(*Console)

// WithOutput sends command output to w instead of stdout.
func WithOutput(w io.Writer) Option {
	return func(c *Console) { c.out = w }
}

// WithHistoryFile overrides the readline history location.
func WithHistoryFile(path string) Option {
	return func(c *Console) { c.historyFile = path }
}

// New creates a console. targets are offered for completion.
func New(tools ToolCaller, targets []string, logger *logging.Logger, opts ...Option) *Console {
	if logger == nil {
		logger = logging.Discard()
	}
	c := &Console{
		tools:       tools,
		targets:     targets,
		logger:      logger,
		out:         os.Stdout,
		historyFile: filepath.Join(os.TempDir(), ".suno_mcp_history"),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.commandHandlers = c.buildCommandHandlers()
	return c
}

// Run starts the console and blocks until exit, EOF or ctx cancellation.
func (c *Console) Run(ctx context.Context) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "suno> ",
		HistoryFile:     c.historyFile,
		AutoComplete:    c.createCompleter(),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",

		HistorySearchFold:   true,
		FuncFilterInputRune: filterInput,
	})
	if err != nil {
		return fmt.Errorf("failed to create readline instance: %w", err)
	}
	defer func() { _ = rl.Close() }()

	// Close readline on cancellation so a blocked Readline returns.
	stop := context.AfterFunc(ctx, func() { _ = rl.Close() })
	defer stop()

	c.logger.Info("Console started. Type 'help' for available commands. Use TAB for completion.")
	_, _ = fmt.Fprintln(c.out)

	for {
		if ctx.Err() != nil {
			c.logger.Info("Console shutting down...")
			return nil
		}

		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		} else if errors.Is(err, io.EOF) {
			c.logger.Info("Goodbye!")
			return nil
		} else if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("readline error: %w", err)
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		if err := c.executeCommand(ctx, input); err != nil {
			if errors.Is(err, errExit) {
				c.logger.Info("Goodbye!")
				return nil
			}
			c.logger.Error("Error: %v", err)
		}
		_, _ = fmt.Fprintln(c.out)
	}
}

// buildPcItems converts a slice of strings to readline completer items
func buildPcItems(names []string) []readline.PrefixCompleterInterface {
	items := make([]readline.PrefixCompleterInterface, len(names))
	for i, name := range names {
		items[i] = readline.PcItem(name)
	}
	return items
}

func (c *Console) createCompleter() *readline.PrefixCompleter {
	return readline.NewPrefixCompleter(
		readline.PcItem("help"),
		readline.PcItem("?"),
		readline.PcItem("exit"),
		readline.PcItem("quit"),
		readline.PcItem("status"),
		readline.PcItem("refresh"),
		readline.PcItem("validate"),
		readline.PcItem("credits"),
		readline.PcItem("list", buildPcItems(c.targets)...),
		readline.PcItem("delete", buildPcItems(c.targets)...),
		readline.PcItem("generate", buildPcItems(c.targets)...),
		readline.PcItem("tools"),
		readline.PcItem("call", buildPcItems(c.tools.ToolNames())...),
		readline.PcItem("verbose",
			readline.PcItem("on"),
			readline.PcItem("off"),
		),
	)
}

// filterInput filters input characters for readline
func filterInput(r rune) (rune, bool) {
	switch r {
	// block CtrlZ feature
	case readline.CharCtrlZ:
		return r, false
	}
	return r, true
}

// commandHandler defines a console command with its handler and argument requirements
type commandHandler struct {
	minArgs int
	usage   string
	handler func(ctx context.Context, parts []string) error
}

func (c *Console) buildCommandHandlers() map[string]commandHandler {
	return map[string]commandHandler{
		"help": {minArgs: 1, handler: func(ctx context.Context, parts []string) error {
			return c.showHelp()
		}},
		"?": {minArgs: 1, handler: func(ctx context.Context, parts []string) error {
			return c.showHelp()
		}},
		"exit": {minArgs: 1, handler: func(ctx context.Context, parts []string) error {
			return errExit
		}},
		"quit": {minArgs: 1, handler: func(ctx context.Context, parts []string) error {
			return errExit
		}},
		"status": {minArgs: 1, handler: func(ctx context.Context, parts []string) error {
			return c.callTool(ctx, "auth_status", nil)
		}},
		"refresh": {minArgs: 1, handler: func(ctx context.Context, parts []string) error {
			return c.callTool(ctx, "auth_refresh", nil)
		}},
		"validate": {
			minArgs: 2,
			usage:   "usage: validate <refresh-token-or-cookie>",
			handler: func(ctx context.Context, parts []string) error {
				// Cookie strings contain spaces.
				return c.callTool(ctx, "auth_validate", map[string]any{"refresh_token": strings.Join(parts[1:], " ")})
			},
		},
		"credits": {minArgs: 1, handler: func(ctx context.Context, parts []string) error {
			return c.callTool(ctx, "get_credits", nil)
		}},
		"list": {
			minArgs: 1,
			usage:   "usage: list [target] [remote]",
			handler: func(ctx context.Context, parts []string) error {
				return c.handleList(ctx, parts[1:])
			},
		},
		"delete": {
			minArgs: 3,
			usage:   "usage: delete <target> <file>",
			handler: func(ctx context.Context, parts []string) error {
				return c.callTool(ctx, "delete_track", map[string]any{
					"output_dir": parts[1],
					"filename":   strings.Join(parts[2:], " "),
				})
			},
		},
		"generate": {
			minArgs: 2,
			usage:   "usage: generate [target] <tags...>",
			handler: func(ctx context.Context, parts []string) error {
				return c.handleGenerate(ctx, parts[1:])
			},
		},
		"tools": {minArgs: 1, handler: func(ctx context.Context, parts []string) error {
			return c.listTools()
		}},
		"call": {
			minArgs: 2,
			usage:   "usage: call <tool-name> [json-args]",
			handler: func(ctx context.Context, parts []string) error {
				return c.handleCallTool(ctx, parts[1], strings.Join(parts[2:], " "))
			},
		},
		"verbose": {
			minArgs: 2,
			usage:   "usage: verbose <on|off>",
			handler: func(ctx context.Context, parts []string) error {
				return c.handleVerbose(parts[1])
			},
		},
	}
}

// executeCommand parses and executes a command
func (c *Console) executeCommand(ctx context.Context, input string) error {
	parts := strings.Fields(input)
	if len(parts) == 0 {
		return nil
	}

	command := strings.ToLower(parts[0])

	handler, exists := c.commandHandlers[command]
	if !exists {
		return fmt.Errorf("unknown command: %s. Type 'help' for available commands", command)
	}

	if len(parts) < handler.minArgs {
		return errors.New(handler.usage)
	}

	return handler.handler(ctx, parts)
}

func (c *Console) showHelp() error {
	lines := []string{
		"Available commands:",
		"  help, ?                      - Show this help message",
		"  status                       - Show auth health and access token expiry",
		"  refresh                      - Force an access token refresh",
		"  validate <token>             - Check a candidate refresh token without installing it",
		"  credits                      - Show remaining credits",
		"  list [target] [remote]       - List stored tracks (remote lists Google Drive)",
		"  delete <target> <file>       - Delete a local track",
		"  generate [target] <tags...>  - Generate a track and save it",
		"  tools                        - List the MCP tools",
		"  call <tool> {json}           - Call any MCP tool with JSON arguments",
		"  verbose <on|off>             - Toggle verbose logging",
		"  exit, quit                   - Exit the console",
		"",
		"Targets: " + strings.Join(c.targets, ", "),
		"",
		"Keyboard shortcuts:",
		"  TAB                          - Auto-complete commands and arguments",
		"  Ctrl+R                       - Search command history",
		"  Ctrl+C                       - Cancel current line",
		"  Ctrl+D                       - Exit the console",
		"",
		"Examples:",
		"  generate ch1 Liquid Drum and Bass, atmospheric, 174bpm",
		"  call generate_track {\"tags\": \"ambient\", \"output_dir\": \"gdrive\"}",
	}
	for _, l := range lines {
		_, _ = fmt.Fprintln(c.out, l)
	}
	return nil
}
