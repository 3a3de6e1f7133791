// Package platform implements the tool surface the agent exposes to the
// model for itself — extension management, resource access, the todo
// scratchpad, schedule management, tool search, and dynamic sub-recipe
// invocation tools. Most tools use the reserved "platform__" prefix; the
// todo tools use "todo__", sub-recipe tools "subrecipe__", and the router
// tool is the bare "search_tools".
// Grounded on original_source's agents/todo_tools.rs for the todo tool
// shapes/annotations, and on the teacher's pkg/tool/mcptoolset dispatch
// pattern for the rest of the surface.
package platform

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/goose-run/goose-core/extension"
	"github.com/goose-run/goose-core/message"
	"github.com/goose-run/goose-core/router"
)

const keyPrefix = "platform__"

// DefaultTodoMaxChars is the cap New uses when it is given a
// non-positive todoMaxChars.
const DefaultTodoMaxChars = 100_000

// TodoAccessor persists the session-scoped todo scratchpad. The reply
// loop's Agent implements this directly against its own session
// metadata, so this package never depends on the session package.
type TodoAccessor interface {
	ReadTodo(ctx context.Context) (string, error)
	WriteTodo(ctx context.Context, content string) error
}

// Scheduler is the capability platform__manage_schedule dispatches
// against when a scheduler is attached (interactive/background agents
// that can create recurring runs). Left unset, manage_schedule reports
// an error rather than panicking.
type Scheduler interface {
	// Manage performs one schedule action ("list", "create", "delete",
	// "pause", "resume") with the given arguments and returns a
	// human/model-readable result.
	Manage(ctx context.Context, action string, args map[string]any) (string, error)
}

// SubRecipeRunner executes one configured sub-recipe by name. The reply
// loop's Agent (C8) implements this by handing the call to the task
// executor; Handler depends only on the interface so platform never
// imports reply or task, keeping task -> reply -> platform acyclic.
type SubRecipeRunner interface {
	RunSubRecipe(ctx context.Context, recipeName string, args map[string]any) (string, error)
}

// AvailableExtension describes one extension the catalog knows about
// but that isn't necessarily enabled yet.
type AvailableExtension struct {
	Name        string
	Description string
	Config      message.ExtensionConfig
}

// SubRecipe is one configured sub-recipe the agent can invoke as a
// dynamic platform tool.
type SubRecipe struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// Handler owns the platform tool surface for one agent session. It
// depends on the extension manager and router manager directly (no
// import cycle risk) and on small injected interfaces for the parts
// that live in other components.
type Handler struct {
	extensions *extension.Manager
	router     *router.Manager
	todo       TodoAccessor
	todoMax    int

	catalog    []AvailableExtension
	subRecipes map[string]SubRecipe
	runner     SubRecipeRunner
	scheduler  Scheduler
}

// New builds a Handler. todoMaxChars <= 0 uses DefaultTodoMaxChars. todo
// may be nil if the owning agent isn't constructed yet — wire it in
// afterward with SetTodoAccessor, the same deferred-injection pattern
// SetScheduler and AddSubRecipes use.
func New(extensions *extension.Manager, routerMgr *router.Manager, todo TodoAccessor, todoMaxChars int) *Handler {
	if todoMaxChars <= 0 {
		todoMaxChars = DefaultTodoMaxChars
	}
	return &Handler{
		extensions: extensions,
		router:     routerMgr,
		todo:       todo,
		todoMax:    todoMaxChars,
		subRecipes: make(map[string]SubRecipe),
	}
}

// SetTodoAccessor attaches the todo scratchpad's backing store after
// construction, for callers whose Handler must exist before their
// TodoAccessor (typically the reply loop's Agent) does.
func (h *Handler) SetTodoAccessor(todo TodoAccessor) { h.todo = todo }

// SetCatalog replaces the set of extensions search_available_extensions
// reports as installable-but-not-yet-enabled.
func (h *Handler) SetCatalog(catalog []AvailableExtension) { h.catalog = catalog }

// SetScheduler attaches (or detaches, with nil) the scheduler capability.
func (h *Handler) SetScheduler(s Scheduler) { h.scheduler = s }

// AddSubRecipes registers sub-recipes as dynamic invocation tools,
// dispatched through runner.
func (h *Handler) AddSubRecipes(recipes []SubRecipe, runner SubRecipeRunner) {
	h.runner = runner
	for _, r := range recipes {
		h.subRecipes[r.Name] = r
	}
}

// IsPlatformTool reports whether name belongs to this surface — the
// fixed "platform__*"/"todo__*" tools, the bare "search_tools" router
// tool, or a dynamic sub-recipe tool.
func (h *Handler) IsPlatformTool(name string) bool {
	if strings.HasPrefix(name, keyPrefix) || strings.HasPrefix(name, "todo__") || name == "search_tools" {
		return true
	}
	_, ok := h.subRecipes[strings.TrimPrefix(name, "subrecipe__")]
	return ok
}

// Tools returns the fixed platform tool definitions plus one dynamic
// tool per registered sub-recipe and, when a scheduler is attached,
// platform__manage_schedule.
func (h *Handler) Tools() []message.Tool {
	tools := []message.Tool{
		{
			Name:        "platform__search_available_extensions",
			Description: "List extensions available to enable but not currently connected.",
			InputSchema: map[string]any{"type": "object", "properties": map[string]any{}},
			Annotations: &message.ToolAnnotations{ReadOnly: true, Idempotent: true},
		},
		{
			Name:        "platform__manage_extensions",
			Description: "Enable or disable an extension by name.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"action": map[string]any{"type": "string", "enum": []any{"enable", "disable"}},
					"name":   map[string]any{"type": "string"},
				},
				"required": []any{"action", "name"},
			},
		},
		{
			Name:        "platform__read_resource",
			Description: "Read one resource by URI from an extension.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"uri":            map[string]any{"type": "string"},
					"extension_name": map[string]any{"type": "string"},
				},
				"required": []any{"uri"},
			},
			Annotations: &message.ToolAnnotations{ReadOnly: true},
		},
		{
			Name:        "platform__list_resources",
			Description: "List resources exposed by connected extensions.",
			InputSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{"extension_name": map[string]any{"type": "string"}},
			},
			Annotations: &message.ToolAnnotations{ReadOnly: true, Idempotent: true},
		},
		todoReadTool,
		todoWriteTool,
	}

	if h.router != nil && h.router.Active() {
		tools = append(tools, router.SearchToolsPlatformTool)
	}
	if h.scheduler != nil {
		tools = append(tools, message.Tool{
			Name:        "platform__manage_schedule",
			Description: "List, create, pause, resume, or delete scheduled runs of this agent.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"action": map[string]any{"type": "string", "enum": []any{"list", "create", "delete", "pause", "resume"}},
				},
				"required": []any{"action"},
			},
		})
	}

	names := make([]string, 0, len(h.subRecipes))
	for name := range h.subRecipes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		r := h.subRecipes[name]
		tools = append(tools, message.Tool{
			Name:        "subrecipe__" + name,
			Description: r.Description,
			InputSchema: r.InputSchema,
		})
	}
	return tools
}

var todoReadTool = message.Tool{
	Name: "todo__read",
	Description: "Read the entire TODO file content.\n\n" +
		"This tool reads the complete TODO file and returns its content as a string. " +
		"Use this to view current tasks, notes, and any other information stored in the TODO file.",
	InputSchema: map[string]any{"type": "object", "properties": map[string]any{}, "required": []any{}},
	Annotations: &message.ToolAnnotations{
		Title: "Read TODO content", ReadOnly: true, Destructive: false, Idempotent: true, OpenWorld: false,
	},
}

var todoWriteTool = message.Tool{
	Name: "todo__write",
	Description: "Write or overwrite the entire TODO file content.\n\n" +
		"This tool replaces the complete TODO file content with the provided string. " +
		"WARNING: this completely replaces the file content.",
	InputSchema: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"content": map[string]any{"type": "string", "description": "The complete content to write to the TODO file."},
		},
		"required": []any{"content"},
	},
	Annotations: &message.ToolAnnotations{
		Title: "Write TODO content", ReadOnly: false, Destructive: true, Idempotent: true, OpenWorld: false,
	},
}

// Dispatch executes one platform tool call. It never returns a Go error
// for tool-level failures — those are carried back as a ToolError in
// the ToolResponse, per the reply loop's dispatch contract.
func (h *Handler) Dispatch(ctx context.Context, req message.ToolRequest) message.ToolResponse {
	if req.Call == nil {
		return errResponse(req.ID, message.ToolErrorInvalidParameters, req.ParseError)
	}
	name := req.Call.Name
	args := req.Call.Arguments

	switch {
	case name == "platform__search_available_extensions":
		return h.searchAvailableExtensions(req.ID)
	case name == "platform__manage_extensions":
		return h.manageExtensions(ctx, req.ID, args)
	case name == "platform__read_resource":
		return h.readResource(ctx, req.ID, args)
	case name == "platform__list_resources":
		return h.listResources(ctx, req.ID, args)
	case name == "platform__manage_schedule":
		return h.manageSchedule(ctx, req.ID, args)
	case name == "search_tools":
		return h.searchTools(ctx, req.ID, args)
	case name == "todo__read":
		return h.todoRead(ctx, req.ID)
	case name == "todo__write":
		return h.todoWrite(ctx, req.ID, args)
	case strings.HasPrefix(name, "subrecipe__"):
		return h.invokeSubRecipe(ctx, req.ID, strings.TrimPrefix(name, "subrecipe__"), args)
	default:
		return errResponse(req.ID, message.ToolErrorNotFound, fmt.Sprintf("unknown platform tool %q", name))
	}
}

func textResponse(id, text string) message.ToolResponse {
	return message.ToolResponse{ID: id, Content: []message.Content{message.Text{Text: text}}}
}

func errResponse(id string, kind message.ToolErrorKind, msg string) message.ToolResponse {
	return message.ToolResponse{ID: id, Err: &message.ToolError{Kind: kind, Message: msg}}
}

func (h *Handler) searchAvailableExtensions(id string) message.ToolResponse {
	var sb strings.Builder
	for _, e := range h.catalog {
		fmt.Fprintf(&sb, "%s: %s\n", e.Name, e.Description)
	}
	if sb.Len() == 0 {
		return textResponse(id, "no additional extensions available")
	}
	return textResponse(id, sb.String())
}

func (h *Handler) manageExtensions(ctx context.Context, id string, args map[string]any) message.ToolResponse {
	action, _ := args["action"].(string)
	name, _ := args["name"].(string)
	if action == "" || name == "" {
		return errResponse(id, message.ToolErrorInvalidParameters, "action and name are required")
	}

	switch action {
	case "enable":
		var cfg message.ExtensionConfig
		found := false
		for _, e := range h.catalog {
			if e.Name == name {
				cfg = e.Config
				found = true
				break
			}
		}
		if !found {
			return errResponse(id, message.ToolErrorNotFound, fmt.Sprintf("extension %q is not in the catalog", name))
		}
		cfg.Name = name
		if err := h.extensions.AddExtensionConfig(ctx, cfg); err != nil {
			return errResponse(id, message.ToolErrorExecutionError, err.Error())
		}
		return textResponse(id, fmt.Sprintf("enabled %q", name))
	case "disable":
		if err := h.extensions.RemoveExtension(name); err != nil {
			return errResponse(id, message.ToolErrorExecutionError, err.Error())
		}
		return textResponse(id, fmt.Sprintf("disabled %q", name))
	default:
		return errResponse(id, message.ToolErrorInvalidParameters, fmt.Sprintf("unknown action %q", action))
	}
}

func (h *Handler) readResource(ctx context.Context, id string, args map[string]any) message.ToolResponse {
	uri, _ := args["uri"].(string)
	if uri == "" {
		return errResponse(id, message.ToolErrorInvalidParameters, "uri is required")
	}
	extName, _ := args["extension_name"].(string)
	if extName == "" {
		byExt, err := h.extensions.ListResources(ctx, "")
		if err != nil {
			return errResponse(id, message.ToolErrorExecutionError, err.Error())
		}
		for n, uris := range byExt {
			for _, u := range uris {
				if u == uri {
					extName = n
				}
			}
		}
		if extName == "" {
			return errResponse(id, message.ToolErrorNotFound, fmt.Sprintf("no extension lists resource %q", uri))
		}
	}
	content, err := h.extensions.ReadResource(ctx, extName, uri)
	if err != nil {
		return errResponse(id, message.ToolErrorExecutionError, err.Error())
	}
	return message.ToolResponse{ID: id, Content: content}
}

func (h *Handler) listResources(ctx context.Context, id string, args map[string]any) message.ToolResponse {
	filter, _ := args["extension_name"].(string)
	byExt, err := h.extensions.ListResources(ctx, filter)
	if err != nil {
		return errResponse(id, message.ToolErrorExecutionError, err.Error())
	}
	names := make([]string, 0, len(byExt))
	for n := range byExt {
		names = append(names, n)
	}
	sort.Strings(names)
	var sb strings.Builder
	for _, n := range names {
		for _, uri := range byExt[n] {
			fmt.Fprintf(&sb, "%s: %s\n", n, uri)
		}
	}
	return textResponse(id, sb.String())
}

func (h *Handler) manageSchedule(ctx context.Context, id string, args map[string]any) message.ToolResponse {
	if h.scheduler == nil {
		return errResponse(id, message.ToolErrorExecutionError, "no scheduler attached to this agent")
	}
	action, _ := args["action"].(string)
	if action == "" {
		return errResponse(id, message.ToolErrorInvalidParameters, "action is required")
	}
	result, err := h.scheduler.Manage(ctx, action, args)
	if err != nil {
		return errResponse(id, message.ToolErrorExecutionError, err.Error())
	}
	return textResponse(id, result)
}

func (h *Handler) searchTools(ctx context.Context, id string, args map[string]any) message.ToolResponse {
	query, _ := args["query"].(string)
	if query == "" {
		return errResponse(id, message.ToolErrorInvalidParameters, "query is required")
	}
	content, err := h.router.SelectTools(ctx, query)
	if err != nil {
		return errResponse(id, message.ToolErrorExecutionError, err.Error())
	}
	return message.ToolResponse{ID: id, Content: content}
}

func (h *Handler) todoRead(ctx context.Context, id string) message.ToolResponse {
	if h.todo == nil {
		return errResponse(id, message.ToolErrorExecutionError, "no todo store attached to this agent")
	}
	content, err := h.todo.ReadTodo(ctx)
	if err != nil {
		return errResponse(id, message.ToolErrorExecutionError, err.Error())
	}
	return textResponse(id, content)
}

func (h *Handler) todoWrite(ctx context.Context, id string, args map[string]any) message.ToolResponse {
	content, ok := args["content"].(string)
	if !ok {
		return errResponse(id, message.ToolErrorInvalidParameters, "content is required")
	}
	if len(content) > h.todoMax {
		return errResponse(id, message.ToolErrorInvalidParameters,
			fmt.Sprintf("todo content exceeds %d character limit", h.todoMax))
	}
	if h.todo == nil {
		return errResponse(id, message.ToolErrorExecutionError, "no todo store attached to this agent")
	}
	if err := h.todo.WriteTodo(ctx, content); err != nil {
		return errResponse(id, message.ToolErrorExecutionError, err.Error())
	}
	return textResponse(id, "todo updated")
}

func (h *Handler) invokeSubRecipe(ctx context.Context, id, name string, args map[string]any) message.ToolResponse {
	if _, ok := h.subRecipes[name]; !ok {
		return errResponse(id, message.ToolErrorNotFound, fmt.Sprintf("unknown sub-recipe %q", name))
	}
	if h.runner == nil {
		return errResponse(id, message.ToolErrorExecutionError, "no sub-recipe runner configured")
	}
	result, err := h.runner.RunSubRecipe(ctx, name, args)
	if err != nil {
		return errResponse(id, message.ToolErrorExecutionError, err.Error())
	}
	return textResponse(id, result)
}

