package message

// Tool describes one dispatchable tool as surfaced to a provider.
type Tool struct {
	Name        string
	Description string
	InputSchema map[string]any
	Annotations *ToolAnnotations
}

// ToolAnnotations are the optional MCP tool hints a provider may use to
// decide how eagerly to call a tool or how to render it.
type ToolAnnotations struct {
	Title        string
	ReadOnly     bool
	Destructive  bool
	Idempotent   bool
	OpenWorld    bool
}

// PermissionLevel is the process-wide, per-tool-name permission setting a
// user configures ahead of time.
type PermissionLevel string

const (
	PermissionAlwaysAllow PermissionLevel = "always_allow"
	PermissionAskBefore   PermissionLevel = "ask_before"
	PermissionNeverAllow  PermissionLevel = "never_allow"
)

// ExtensionKind tags the ExtensionConfig variant.
type ExtensionKind string

const (
	ExtensionStdio         ExtensionKind = "stdio"
	ExtensionSSE           ExtensionKind = "sse"
	ExtensionStreamableHTTP ExtensionKind = "streamable_http"
	ExtensionBuiltin       ExtensionKind = "builtin"
	ExtensionFrontend      ExtensionKind = "frontend"
	ExtensionInlinePython  ExtensionKind = "inline_python"
)

// ExtensionConfig is the tagged-union configuration for one MCP extension
// (or extension-shaped platform surface). Only the fields relevant to Kind
// are populated; others are left zero.
type ExtensionConfig struct {
	Kind ExtensionKind
	Name string

	// Stdio
	Cmd     string
	Args    []string
	Envs    map[string]string
	EnvKeys []string
	Bundled bool

	// Sse / StreamableHttp
	URI string

	// Builtin
	BuiltinName string

	// Frontend
	FrontendTools []Tool

	// InlinePython
	Code string

	Timeout int // seconds, 0 means use a component default
}

// RequiredEnvKeys returns the env var names this config's secrets-carrying
// variant requires be present, or nil if none are required.
func (c ExtensionConfig) RequiredEnvKeys() []string {
	switch c.Kind {
	case ExtensionStdio, ExtensionSSE, ExtensionStreamableHTTP:
		return c.EnvKeys
	default:
		return nil
	}
}
