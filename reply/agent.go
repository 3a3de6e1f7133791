// Package reply implements the agent reply loop (C8): the turn-by-turn
// state machine that composes a system prompt, checks and rewrites
// context, calls the provider (streaming preferred), inspects tool
// requests for permission/security approval, dispatches approved calls,
// and loops until the model produces a response with no further tool
// requests. Grounded on the teacher's pkg/agent/agent.go and
// pkg/agent/event.go, generalized away from a2a.Message/iter.Seq2 per
// DESIGN.md's dropped-dependency decision — this package defines its own
// AgentEvent union and streams it over a channel instead.
package reply

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/goose-run/goose-core/contextmgr"
	"github.com/goose-run/goose-core/extension"
	"github.com/goose-run/goose-core/inspector"
	"github.com/goose-run/goose-core/mcpclient"
	"github.com/goose-run/goose-core/message"
	"github.com/goose-run/goose-core/observability"
	"github.com/goose-run/goose-core/platform"
	"github.com/goose-run/goose-core/provider"
	"github.com/goose-run/goose-core/recipe"
	"github.com/goose-run/goose-core/router"
	"github.com/goose-run/goose-core/session"
	"github.com/goose-run/goose-core/task"
)

// DefaultMaxTurns bounds how many provider/tool round trips one Reply
// call will run before ending the stream, guarding against a model stuck
// in a tool-call loop.
const DefaultMaxTurns = 50

// SubRecipeDef is one sub-recipe an agent can delegate to as a dynamic
// platform__subrecipe__<name> tool, combining the tool-facing shape
// (platform.SubRecipe) with the fields task.Executor needs to spawn it.
type SubRecipeDef struct {
	platform.SubRecipe
	Path                   string
	SequentialWhenRepeated bool
}

// Config constructs an Agent. Every field beyond Provider is a shared
// collaborator the owning agent manager (C9) wires up once per session;
// Extensions/Router/Platform/Executor/ContextMgr are typically shared
// verbatim between a parent agent and the child agents it spawns for
// inline recipes.
type Config struct {
	Provider         provider.Provider
	Extensions       *extension.Manager
	Router           *router.Manager
	Platform         *platform.Handler
	Executor         *task.Executor
	ContextMgr       *contextmgr.Manager
	Inspectors       []inspector.Inspector
	Metadata         *session.Metadata
	Metrics          *observability.Metrics
	Mode             session.ExecutionMode
	MaxTurns         int
	SystemPromptBase string
	// ChatMode mirrors GOOSE_MODE=chat: the caller sets this when the
	// permission inspector it configured runs in inspector.ModeChat, so
	// the loop can short-circuit a turn with tool requests instead of
	// inspecting and dispatching them one by one.
	ChatMode bool
}

// Agent owns one session's reply loop state: its provider, the shared
// tool-surface collaborators, and the mutable bits (extended system
// prompt, sub-recipe registry, pending tool approvals) a running Reply
// call reads and writes under a lock.
type Agent struct {
	mu sync.RWMutex

	provider provider.Provider

	extensions *extension.Manager
	router     *router.Manager
	platform   *platform.Handler
	executor   *task.Executor
	ctxMgr     *contextmgr.Manager
	inspectors []inspector.Inspector
	metadata   *session.Metadata
	metrics    *observability.Metrics

	mode     session.ExecutionMode
	maxTurns int
	chatMode bool
	lastModel string

	systemPromptBase string
	extendedPrompt   []string
	recipeContext    string

	finalOutputTool *message.Tool

	subRecipeDefs  map[string]SubRecipeDef
	subRecipeNames []string

	findingsSeen map[string]bool
	confirm      *confirmations
}

// New constructs an Agent from cfg. It does not self-wire into cfg.Executor
// or cfg.Platform's capability interfaces — the caller does that
// (executor.SetInlineRunner(agent), platform handler's todo/sub-recipe
// setters) once construction completes, following the same
// deferred-injection pattern those packages already use.
func New(cfg Config) *Agent {
	maxTurns := cfg.MaxTurns
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	return &Agent{
		provider:         cfg.Provider,
		extensions:       cfg.Extensions,
		router:           cfg.Router,
		platform:         cfg.Platform,
		executor:         cfg.Executor,
		ctxMgr:           cfg.ContextMgr,
		inspectors:       cfg.Inspectors,
		metadata:         cfg.Metadata,
		metrics:          cfg.Metrics,
		mode:             cfg.Mode,
		maxTurns:         maxTurns,
		chatMode:         cfg.ChatMode,
		systemPromptBase: cfg.SystemPromptBase,
		subRecipeDefs:    make(map[string]SubRecipeDef),
		findingsSeen:     make(map[string]bool),
		confirm:          newConfirmations(),
	}
}

// childAgent builds a fresh sub-task agent sharing a's provider and tool
// collaborators, with its own mutable prompt/approval state and no session
// metadata, for running an inline recipe's instructions as instructed by
// task.InlineRunner.
func (a *Agent) childAgent(instructions string) *Agent {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return &Agent{
		provider:         a.provider,
		extensions:       a.extensions,
		router:           a.router,
		platform:         a.platform,
		executor:         a.executor,
		ctxMgr:           a.ctxMgr,
		inspectors:       a.inspectors,
		metrics:          a.metrics,
		mode:             session.ModeSubTask,
		maxTurns:         a.maxTurns,
		chatMode:         a.chatMode,
		systemPromptBase: a.systemPromptBase,
		recipeContext:    instructions,
		subRecipeDefs:    make(map[string]SubRecipeDef),
		findingsSeen:     make(map[string]bool),
		confirm:          newConfirmations(),
	}
}

// UpdateProvider swaps the active provider, effective from the next turn.
func (a *Agent) UpdateProvider(p provider.Provider) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.provider = p
}

// AddExtension connects and registers a new live MCP extension.
func (a *Agent) AddExtension(ctx context.Context, name string, cfg mcpclient.Config) error {
	return a.extensions.AddExtension(ctx, name, cfg)
}

// AddExtensionConfig registers a new live extension from its tagged-union
// configuration, covering every ExtensionKind (Stdio/Sse/StreamableHttp
// over MCP; Builtin/Frontend/InlinePython in-process).
func (a *Agent) AddExtensionConfig(ctx context.Context, cfg message.ExtensionConfig) error {
	return a.extensions.AddExtensionConfig(ctx, cfg)
}

// RemoveExtension disconnects and drops a live extension by name.
func (a *Agent) RemoveExtension(name string) error {
	return a.extensions.RemoveExtension(name)
}

// ExtendSystemPrompt appends text to the system prompt for every
// subsequent turn.
func (a *Agent) ExtendSystemPrompt(text string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.extendedPrompt = append(a.extendedPrompt, text)
}

// LoadSubRecipeDef reads a sub-recipe definition from a YAML file on disk
// and builds the SubRecipeDef AddSubRecipes expects, keyed by the
// recipe's own declared name rather than the file path.
func LoadSubRecipeDef(path string) (SubRecipeDef, error) {
	doc, err := recipe.Load(path)
	if err != nil {
		return SubRecipeDef{}, err
	}
	return SubRecipeDef{
		SubRecipe: platform.SubRecipe{
			Name:        doc.Name,
			Description: doc.Description,
			InputSchema: doc.Parameters,
		},
		Path:                   path,
		SequentialWhenRepeated: doc.SequentialWhenRepeated,
	}, nil
}

// AddSubRecipes registers sub-recipes as dynamic invocation tools and
// announces them in the system prompt, dispatching their execution
// through this Agent's own RunSubRecipe (satisfying
// platform.SubRecipeRunner).
func (a *Agent) AddSubRecipes(defs []SubRecipeDef) {
	plat := make([]platform.SubRecipe, 0, len(defs))
	a.mu.Lock()
	for _, d := range defs {
		a.subRecipeDefs[d.Name] = d
		a.subRecipeNames = append(a.subRecipeNames, d.Name)
		plat = append(plat, d.SubRecipe)
	}
	a.mu.Unlock()
	a.platform.AddSubRecipes(plat, a)
}

// AddFinalOutputTool registers a structured-response tool the model is
// instructed to call when its work is complete, with responseSchema as
// its input schema.
func (a *Agent) AddFinalOutputTool(responseSchema map[string]any) {
	tool := message.Tool{
		Name:        "final_output",
		Description: "Submit your final structured response for this task.",
		InputSchema: responseSchema,
	}
	a.mu.Lock()
	a.finalOutputTool = &tool
	a.mu.Unlock()
}

// SetScheduler attaches the scheduler capability platform__manage_schedule
// dispatches against.
func (a *Agent) SetScheduler(s platform.Scheduler) {
	a.platform.SetScheduler(s)
}

// ConfirmTool resolves a pending tool-approval request by id. It reports
// whether a prompt for that id was actually pending.
func (a *Agent) ConfirmTool(toolRequestID string, approved bool) bool {
	return a.confirm.resolve(toolRequestID, approved)
}

// ReadTodo implements platform.TodoAccessor against this agent's session
// metadata.
func (a *Agent) ReadTodo(_ context.Context) (string, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.metadata == nil {
		return "", nil
	}
	return a.metadata.TodoContent, nil
}

// WriteTodo implements platform.TodoAccessor against this agent's session
// metadata.
func (a *Agent) WriteTodo(_ context.Context, content string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.metadata == nil {
		return fmt.Errorf("reply: no session metadata attached to this agent")
	}
	a.metadata.TodoContent = content
	a.metadata.UpdatedAt = time.Now()
	return nil
}

// RunSubRecipe implements platform.SubRecipeRunner: it resolves the
// configured sub-recipe by name and runs it as a single task.TypeSubRecipe
// task through this agent's executor.
func (a *Agent) RunSubRecipe(ctx context.Context, recipeName string, args map[string]any) (string, error) {
	a.mu.RLock()
	def, ok := a.subRecipeDefs[recipeName]
	a.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("reply: unknown sub-recipe %q", recipeName)
	}

	if doc, err := recipe.Load(def.Path); err == nil {
		if err := doc.ValidateArgs(args); err != nil {
			return "", err
		}
	}

	t := task.Task{
		ID:   uuid.NewString(),
		Type: task.TypeSubRecipe,
		Payload: map[string]any{
			"sub_recipe_name":          def.Name,
			"sub_recipe_path":          def.Path,
			"command_parameters":       args,
			"sequential_when_repeated": def.SequentialWhenRepeated,
		},
	}
	results := a.executor.RunTasks(ctx, []task.Task{t})
	r := results[0]
	if r.Status == task.StatusFailed {
		return "", fmt.Errorf("reply: sub-recipe %q: %s", recipeName, r.Error)
	}
	return fmt.Sprintf("%v", r.Data), nil
}

// RunInlineRecipe implements task.InlineRunner: it runs a fresh child
// agent's reply loop to completion against the recipe's instructions and
// returns either the last assistant message (returnLastOnly) or the full
// transcript of assistant text.
func (a *Agent) RunInlineRecipe(ctx context.Context, recipe map[string]any, returnLastOnly bool) (string, error) {
	instructions, _ := recipe["instructions"].(string)
	child := a.childAgent(instructions)

	conv := message.NewConversation()
	if instructions != "" {
		conv.Append(message.UserText(instructions))
	}

	var last string
	var transcript strings.Builder
	for ev := range child.Reply(ctx, conv) {
		me, ok := ev.(MessageEvent)
		if !ok || me.Message.Role != message.RoleAssistant {
			continue
		}
		if text := me.Message.Text(); text != "" {
			last = text
			fmt.Fprintln(&transcript, text)
		}
	}
	if returnLastOnly {
		return last, nil
	}
	return transcript.String(), nil
}

// composeSystemPrompt builds the full system prompt for the next turn:
// the base template, every extend_system_prompt addition, the recipe
// context (set only on agents spawned for an inline recipe), a
// sub-recipe announcement, and a final-output-tool hint.
func (a *Agent) composeSystemPrompt() string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var sb strings.Builder
	sb.WriteString(a.systemPromptBase)
	for _, ext := range a.extendedPrompt {
		sb.WriteString("\n\n")
		sb.WriteString(ext)
	}
	if a.recipeContext != "" {
		sb.WriteString("\n\n")
		sb.WriteString(a.recipeContext)
	}
	if len(a.subRecipeNames) > 0 {
		sb.WriteString("\n\nYou can delegate focused sub-tasks to these sub-recipes: ")
		sb.WriteString(strings.Join(a.subRecipeNames, ", "))
	}
	if a.finalOutputTool != nil {
		sb.WriteString("\n\nWhen your work is complete, call the final_output tool with your structured response.")
	}
	return sb.String()
}

// gatherTools returns the full tool list (extensions + platform surface
// + an optional final_output tool) or, when a router is active, the
// reduced routed subset per C4.
func (a *Agent) gatherTools(ctx context.Context) ([]message.Tool, error) {
	extTools, err := a.extensions.GetPrefixedTools(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("reply: gather extension tools: %w", err)
	}
	all := append(append([]message.Tool{}, extTools...), a.platform.Tools()...)

	a.mu.RLock()
	final := a.finalOutputTool
	a.mu.RUnlock()
	if final != nil {
		all = append(all, *final)
	}

	if a.router.Active() {
		byName := make(map[string]message.Tool, len(all))
		for _, t := range all {
			byName[t.Name] = t
		}
		return a.router.ListToolsForRouter(byName), nil
	}
	return all, nil
}
