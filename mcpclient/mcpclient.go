// Package mcpclient wraps one live connection to one MCP extension. It
// adapts github.com/mark3labs/mcp-go's stdio, SSE and streamable-HTTP
// clients to the capability the
// rest of the runtime depends on: initialize-at-construction, paginated
// list_tools/list_resources/list_prompts, call_tool/read_resource/
// get_prompt, and a multi-subscriber notification fan-out — every call
// cancellable and individually timed out.
package mcpclient

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/goose-run/goose-core/message"
)

// ErrorKind is the closed taxonomy of failures an MCP request can surface.
type ErrorKind string

const (
	ErrCancelled ErrorKind = "cancelled"
	ErrTransport ErrorKind = "transport"
)

// Error is the typed error returned by Client methods.
type Error struct {
	Kind   ErrorKind
	Reason string
	Cause  error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("mcpclient: %s: %s: %v", e.Kind, e.Reason, e.Cause)
	}
	return fmt.Sprintf("mcpclient: %s: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error { return e.Cause }

// Notification is one server-initiated notification: progress or a log
// message.
type Notification struct {
	Kind    string // "progress" | "logging_message"
	Payload any
}

// Page is one paginated listing result.
type Page[T any] struct {
	Items      []T
	NextCursor string
}

// Config configures one MCP connection. Transport selects the wire: the
// zero value and message.ExtensionStdio spawn Command as a subprocess;
// message.ExtensionSSE and message.ExtensionStreamableHTTP dial URI over
// HTTP instead, and Command/Args/Env are left zero.
type Config struct {
	Name           string
	Transport      message.ExtensionKind
	Command        string
	Args           []string
	Env            map[string]string
	URI            string
	RequestTimeout time.Duration // per-request default; 0 means no deadline beyond ctx
}

// Client owns one live connection (stdio, SSE or streamable HTTP) to one
// extension. It is single-use:
// once a request fails fatally (transport loss), every subsequent call
// returns a Transport error without attempting the wire again.
type Client struct {
	cfg Config
	raw *client.Client

	mu      sync.RWMutex
	failed  bool
	failure error

	subMu sync.Mutex
	subs  []chan Notification
}

// Connect dials cfg.Transport, performs the MCP initialize handshake, and
// returns a ready Client.
func Connect(ctx context.Context, cfg Config) (*Client, error) {
	raw, err := dial(ctx, cfg)
	if err != nil {
		return nil, err
	}

	c := &Client{cfg: cfg, raw: raw}
	raw.OnNotification(c.handleNotification)

	initReq := mcp.InitializeRequest{}
	initReq.Params.ClientInfo = mcp.Implementation{Name: "goose-core", Version: "0.1.0"}
	initReq.Params.ProtocolVersion = "2024-11-05"
	if _, err := raw.Initialize(ctx, initReq); err != nil {
		raw.Close()
		return nil, &Error{Kind: ErrTransport, Reason: "initialize handshake", Cause: err}
	}

	slog.Info("mcpclient: connected", "name", cfg.Name, "transport", transportLabel(cfg.Transport), "target", targetLabel(cfg))
	return c, nil
}

// MCP notification methods this client fans out; everything else the
// server sends (list-changed notifications, cancellation, ...) is ignored
// here since no SPEC_FULL.md component consumes it.
const (
	methodNotificationProgress = "notifications/progress"
	methodNotificationMessage  = "notifications/message"
)

// handleNotification is registered with the underlying mcp-go client via
// OnNotification and maps its raw JSON-RPC notifications into the
// Notification shape Subscribe's channels carry.
func (c *Client) handleNotification(n mcp.JSONRPCNotification) {
	switch n.Method {
	case methodNotificationProgress:
		c.fanOut(Notification{Kind: "progress", Payload: n.Params.AdditionalFields})
	case methodNotificationMessage:
		c.fanOut(Notification{Kind: "logging_message", Payload: n.Params.AdditionalFields})
	}
}

// dial constructs the raw mcp-go client for cfg.Transport, grounded on the
// stdio/SSE/streamable-HTTP selection pattern of a multi-backend MCP
// gateway: stdio spawns a subprocess, the other two dial cfg.URI over
// HTTP. Every transport is started before Connect attempts the handshake.
func dial(ctx context.Context, cfg Config) (*client.Client, error) {
	switch cfg.Transport {
	case message.ExtensionSSE:
		raw, err := client.NewSSEMCPClient(cfg.URI, transport.WithHTTPClient(&http.Client{Timeout: requestTimeoutOrDefault(cfg)}))
		if err != nil {
			return nil, &Error{Kind: ErrTransport, Reason: "create sse client", Cause: err}
		}
		if err := raw.Start(ctx); err != nil {
			return nil, &Error{Kind: ErrTransport, Reason: "start sse client", Cause: err}
		}
		return raw, nil
	case message.ExtensionStreamableHTTP:
		raw, err := client.NewStreamableHttpClient(cfg.URI, transport.WithHTTPTimeout(requestTimeoutOrDefault(cfg)))
		if err != nil {
			return nil, &Error{Kind: ErrTransport, Reason: "create streamable-http client", Cause: err}
		}
		if err := raw.Start(ctx); err != nil {
			return nil, &Error{Kind: ErrTransport, Reason: "start streamable-http client", Cause: err}
		}
		return raw, nil
	default:
		env := make([]string, 0, len(cfg.Env))
		for k, v := range cfg.Env {
			env = append(env, k+"="+v)
		}
		raw, err := client.NewStdioMCPClient(cfg.Command, env, cfg.Args...)
		if err != nil {
			return nil, &Error{Kind: ErrTransport, Reason: "spawn extension process", Cause: err}
		}
		if err := raw.Start(ctx); err != nil {
			return nil, &Error{Kind: ErrTransport, Reason: "start extension process", Cause: err}
		}
		return raw, nil
	}
}

func requestTimeoutOrDefault(cfg Config) time.Duration {
	if cfg.RequestTimeout > 0 {
		return cfg.RequestTimeout
	}
	return 30 * time.Second
}

func transportLabel(k message.ExtensionKind) string {
	if k == "" {
		return string(message.ExtensionStdio)
	}
	return string(k)
}

func targetLabel(cfg Config) string {
	switch cfg.Transport {
	case message.ExtensionSSE, message.ExtensionStreamableHTTP:
		return cfg.URI
	default:
		return cfg.Command
	}
}

func (c *Client) markFailed(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.failed {
		c.failed = true
		c.failure = err
	}
}

func (c *Client) checkFailed() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.failed {
		return &Error{Kind: ErrTransport, Reason: "client unusable after prior fatal failure", Cause: c.failure}
	}
	return nil
}

func (c *Client) withDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.cfg.RequestTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.cfg.RequestTimeout)
}

func (c *Client) classify(err error, ctx context.Context) error {
	if err == nil {
		return nil
	}
	if ctx.Err() == context.Canceled {
		return &Error{Kind: ErrCancelled, Reason: "request cancelled", Cause: err}
	}
	c.markFailed(err)
	return &Error{Kind: ErrTransport, Reason: "request failed", Cause: err}
}

// ListTools returns one page of tools starting at cursor ("" for the
// first page).
func (c *Client) ListTools(ctx context.Context, cursor string) (Page[message.Tool], error) {
	if err := c.checkFailed(); err != nil {
		return Page[message.Tool]{}, err
	}
	ctx, cancel := c.withDeadline(ctx)
	defer cancel()

	req := mcp.ListToolsRequest{}
	req.Params.Cursor = mcp.Cursor(cursor)
	resp, err := c.raw.ListTools(ctx, req)
	if err != nil {
		return Page[message.Tool]{}, c.classify(err, ctx)
	}

	tools := make([]message.Tool, 0, len(resp.Tools))
	for _, t := range resp.Tools {
		tools = append(tools, message.Tool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: convertSchema(t.InputSchema),
		})
	}
	return Page[message.Tool]{Items: tools, NextCursor: string(resp.NextCursor)}, nil
}

// ListResources returns one page of resource URIs starting at cursor.
func (c *Client) ListResources(ctx context.Context, cursor string) (Page[string], error) {
	if err := c.checkFailed(); err != nil {
		return Page[string]{}, err
	}
	ctx, cancel := c.withDeadline(ctx)
	defer cancel()

	req := mcp.ListResourcesRequest{}
	req.Params.Cursor = mcp.Cursor(cursor)
	resp, err := c.raw.ListResources(ctx, req)
	if err != nil {
		return Page[string]{}, c.classify(err, ctx)
	}
	uris := make([]string, 0, len(resp.Resources))
	for _, r := range resp.Resources {
		uris = append(uris, r.URI)
	}
	return Page[string]{Items: uris, NextCursor: string(resp.NextCursor)}, nil
}

// ListPrompts returns one page of prompt names starting at cursor.
func (c *Client) ListPrompts(ctx context.Context, cursor string) (Page[string], error) {
	if err := c.checkFailed(); err != nil {
		return Page[string]{}, err
	}
	ctx, cancel := c.withDeadline(ctx)
	defer cancel()

	req := mcp.ListPromptsRequest{}
	req.Params.Cursor = mcp.Cursor(cursor)
	resp, err := c.raw.ListPrompts(ctx, req)
	if err != nil {
		return Page[string]{}, c.classify(err, ctx)
	}
	names := make([]string, 0, len(resp.Prompts))
	for _, p := range resp.Prompts {
		names = append(names, p.Name)
	}
	return Page[string]{Items: names, NextCursor: string(resp.NextCursor)}, nil
}

// ReadResource reads one resource by URI.
func (c *Client) ReadResource(ctx context.Context, uri string) ([]message.Content, error) {
	if err := c.checkFailed(); err != nil {
		return nil, err
	}
	ctx, cancel := c.withDeadline(ctx)
	defer cancel()

	req := mcp.ReadResourceRequest{}
	req.Params.URI = uri
	resp, err := c.raw.ReadResource(ctx, req)
	if err != nil {
		return nil, c.classify(err, ctx)
	}
	return convertResourceContents(resp.Contents), nil
}

// CallTool dispatches one tool call and returns its result content.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) ([]message.Content, bool, error) {
	if err := c.checkFailed(); err != nil {
		return nil, false, err
	}
	ctx, cancel := c.withDeadline(ctx)
	defer cancel()

	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	resp, err := c.raw.CallTool(ctx, req)
	if err != nil {
		return nil, false, c.classify(err, ctx)
	}
	return convertToolResultContent(resp.Content), resp.IsError, nil
}

// GetPrompt resolves one prompt by name with arguments.
func (c *Client) GetPrompt(ctx context.Context, name string, args map[string]string) ([]message.Content, error) {
	if err := c.checkFailed(); err != nil {
		return nil, err
	}
	ctx, cancel := c.withDeadline(ctx)
	defer cancel()

	req := mcp.GetPromptRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	resp, err := c.raw.GetPrompt(ctx, req)
	if err != nil {
		return nil, c.classify(err, ctx)
	}
	var out []message.Content
	for _, m := range resp.Messages {
		out = append(out, convertPromptContent(m.Content)...)
	}
	return out, nil
}

// Subscribe registers a new notification subscriber. The returned channel
// receives every progress/log notification fanned out by the underlying
// transport until Close is called; it is never closed by the caller.
func (c *Client) Subscribe() <-chan Notification {
	ch := make(chan Notification, 16)
	c.subMu.Lock()
	c.subs = append(c.subs, ch)
	c.subMu.Unlock()
	return ch
}

func (c *Client) fanOut(n Notification) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, ch := range c.subs {
		select {
		case ch <- n:
		default:
		}
	}
}

// Close terminates the underlying connection. The client is unusable
// afterward.
func (c *Client) Close() error {
	c.markFailed(fmt.Errorf("client closed"))
	c.subMu.Lock()
	for _, ch := range c.subs {
		close(ch)
	}
	c.subs = nil
	c.subMu.Unlock()
	return c.raw.Close()
}
