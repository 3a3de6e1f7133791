package extension

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/goose-run/goose-core/mcpclient"
	"github.com/goose-run/goose-core/message"
)

// noNotifications is embedded by every in-process client (Builtin,
// Frontend, InlinePython): none of them has a server process to fan
// notifications out of, but Manager still calls Subscribe/Close on every
// live extension uniformly, so each gets an unbuffered channel that is
// simply closed on Close.
type noNotifications struct {
	ch chan mcpclient.Notification
}

func newNoNotifications() *noNotifications {
	return &noNotifications{ch: make(chan mcpclient.Notification)}
}

func (n *noNotifications) Subscribe() <-chan mcpclient.Notification { return n.ch }
func (n *noNotifications) Close() error                             { close(n.ch); return nil }

func emptyPage[T any]() mcpclient.Page[T] { return mcpclient.Page[T]{} }

// unsupportedResourcesAndPrompts is embedded by in-process clients that
// never serve MCP resources or prompts.
type unsupportedResourcesAndPrompts struct{}

func (unsupportedResourcesAndPrompts) ListResources(context.Context, string) (mcpclient.Page[string], error) {
	return emptyPage[string](), nil
}

func (unsupportedResourcesAndPrompts) ListPrompts(context.Context, string) (mcpclient.Page[string], error) {
	return emptyPage[string](), nil
}

func (unsupportedResourcesAndPrompts) ReadResource(context.Context, string) ([]message.Content, error) {
	return nil, fmt.Errorf("extension: this extension does not serve resources")
}

func (unsupportedResourcesAndPrompts) GetPrompt(context.Context, string, map[string]string) ([]message.Content, error) {
	return nil, fmt.Errorf("extension: this extension does not serve prompts")
}

// builtinRegistry maps an ExtensionConfig.BuiltinName to the in-process
// client it builds. Grounded on the teacher's v2/tool/commandtool
// allow/deny-listed shell execution tool; "developer" is the one builtin
// shipped today, matching original_source's DEFAULT_EXTENSION name.
var builtinRegistry = map[string]func() client{
	"developer": func() client { return newDeveloperClient() },
}

// developerClient is the "developer" builtin: a single shell-command
// execution tool with a deny-list and deny-pattern security posture
// adapted from the teacher's commandtool.CommandTool, minus its
// streaming/approval machinery (the reply loop's inspectors gate approval
// for any tool call, builtin or not, before it is dispatched).
type developerClient struct {
	*noNotifications
	unsupportedResourcesAndPrompts
	tool message.Tool
}

func newDeveloperClient() *developerClient {
	return &developerClient{
		noNotifications: newNoNotifications(),
		tool: message.Tool{
			Name:        "execute_command",
			Description: "Execute a shell command and return its combined stdout/stderr.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"command": map[string]any{
						"type":        "string",
						"description": "the shell command to run",
					},
				},
				"required": []string{"command"},
			},
		},
	}
}

func (d *developerClient) ListTools(context.Context, string) (mcpclient.Page[message.Tool], error) {
	return mcpclient.Page[message.Tool]{Items: []message.Tool{d.tool}}, nil
}

var deniedCommands = map[string]bool{
	"rm": true, "rmdir": true, "sudo": true, "su": true, "chmod": true, "chown": true,
	"dd": true, "mkfs": true, "fdisk": true, "mount": true, "umount": true,
	"kill": true, "killall": true, "pkill": true, "reboot": true, "shutdown": true,
	"passwd": true, "useradd": true, "userdel": true, "groupadd": true,
}

var deniedPatterns = []*regexp.Regexp{
	regexp.MustCompile(`rm\s+(-rf|-fr|--recursive)`),
	regexp.MustCompile(`>\s*/dev/`),
	regexp.MustCompile(`:\(\)\s*\{\s*:\|:\s*&\s*\}\s*;`),
	regexp.MustCompile(`wget.*\|\s*sh`),
	regexp.MustCompile(`curl.*\|\s*sh`),
	regexp.MustCompile(`--no-preserve-root`),
}

func validateShellCommand(command string) error {
	for _, p := range deniedPatterns {
		if p.MatchString(command) {
			return fmt.Errorf("command matches a denied pattern: %s", p.String())
		}
	}
	base := baseCommand(command)
	if base != "" && deniedCommands[base] {
		return fmt.Errorf("command not allowed: %s", base)
	}
	return nil
}

func baseCommand(command string) string {
	parts := strings.FieldsFunc(command, func(r rune) bool {
		return r == '|' || r == '>' || r == '<' || r == ';' || r == '&'
	})
	if len(parts) == 0 {
		return ""
	}
	fields := strings.Fields(parts[0])
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func (d *developerClient) CallTool(ctx context.Context, name string, args map[string]any) ([]message.Content, bool, error) {
	if name != d.tool.Name {
		return nil, true, fmt.Errorf("extension: unknown developer tool %q", name)
	}
	command, _ := args["command"].(string)
	if command == "" {
		return nil, true, fmt.Errorf("extension: command is required")
	}
	if err := validateShellCommand(command); err != nil {
		return []message.Content{message.Text{Text: err.Error()}}, true, nil
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()
	out, err := exec.CommandContext(ctx, "sh", "-c", command).CombinedOutput()
	if err != nil {
		return []message.Content{message.Text{Text: fmt.Sprintf("%s\n%s", err, out)}}, true, nil
	}
	return []message.Content{message.Text{Text: string(out)}}, false, nil
}

// frontendClient backs a Frontend ExtensionConfig: it advertises the
// declared FrontendTools but never executes a call itself. Every
// CallTool instead produces a message.FrontendToolRequest marker,
// signaling the embedding application to resolve the call out of band
// (the host's own tool surface, not this backend) rather than treating
// the ToolResponse as a real result.
type frontendClient struct {
	*noNotifications
	unsupportedResourcesAndPrompts
	tools []message.Tool
}

func newFrontendClient(tools []message.Tool) *frontendClient {
	return &frontendClient{noNotifications: newNoNotifications(), tools: tools}
}

func (f *frontendClient) ListTools(context.Context, string) (mcpclient.Page[message.Tool], error) {
	return mcpclient.Page[message.Tool]{Items: f.tools}, nil
}

func (f *frontendClient) CallTool(_ context.Context, name string, args map[string]any) ([]message.Content, bool, error) {
	return []message.Content{message.FrontendToolRequest{Call: message.ToolCall{Name: name, Arguments: args}}}, false, nil
}

// inlinePythonClient backs an InlinePython ExtensionConfig: one tool,
// named after the config, that runs the configured Python snippet with
// its arguments piped in as a JSON object on stdin and its combined
// stdout/stderr returned as the tool result.
type inlinePythonClient struct {
	*noNotifications
	unsupportedResourcesAndPrompts
	tool message.Tool
	code string
}

func newInlinePythonClient(cfg message.ExtensionConfig) *inlinePythonClient {
	name := cfg.Name
	if name == "" {
		name = "run"
	}
	return &inlinePythonClient{
		noNotifications: newNoNotifications(),
		code:            cfg.Code,
		tool: message.Tool{
			Name:        name,
			Description: "Run an operator-configured Python snippet, passing its arguments as a JSON object on stdin.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"args": map[string]any{
						"type":        "object",
						"description": "JSON arguments made available to the script on stdin",
					},
				},
			},
		},
	}
}

func (p *inlinePythonClient) ListTools(context.Context, string) (mcpclient.Page[message.Tool], error) {
	return mcpclient.Page[message.Tool]{Items: []message.Tool{p.tool}}, nil
}

func (p *inlinePythonClient) CallTool(ctx context.Context, name string, args map[string]any) ([]message.Content, bool, error) {
	if name != p.tool.Name {
		return nil, true, fmt.Errorf("extension: unknown inline-python tool %q", name)
	}
	payload, err := json.Marshal(args["args"])
	if err != nil {
		return nil, true, fmt.Errorf("extension: marshal inline-python args: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()
	cmd := exec.CommandContext(ctx, "python3", "-c", p.code)
	cmd.Stdin = bytes.NewReader(payload)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return []message.Content{message.Text{Text: fmt.Sprintf("%s\n%s", err, out)}}, true, nil
	}
	return []message.Content{message.Text{Text: string(out)}}, false, nil
}
