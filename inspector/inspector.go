// Package inspector implements the permission and security inspection
// pipeline (C5): a two-stage gate that partitions one assistant turn's
// tool requests into approved, needs-approval, and denied before the
// reply loop dispatches anything. Grounded on the teacher's
// pkg/agent/tool_approval.go approval-partitioning pattern, generalized
// from its single user-policy check into the two-inspector combination
// rule this runtime's spec calls for.
package inspector

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/goose-run/goose-core/message"
)

// Action is the disposition an inspector assigns to one tool request.
type Action string

const (
	ActionAllow           Action = "allow"
	ActionDeny            Action = "deny"
	ActionRequireApproval Action = "require_approval"
)

// severity orders Action from least to most restrictive, so combination
// can take the max.
func (a Action) severity() int {
	switch a {
	case ActionAllow:
		return 0
	case ActionRequireApproval:
		return 1
	case ActionDeny:
		return 2
	default:
		return 1
	}
}

// Result is one inspector's verdict on one tool request.
type Result struct {
	ToolRequestID string
	Action        Action
	Reason        string
	Confidence    float64
	InspectorName string
	FindingID     string // set only for RequireApproval findings a security inspector wants deduped
}

// Inspector is implemented by every stage of the pipeline. requests and
// messages are read-only to the inspector; it returns one Result per
// request it has an opinion about (it may skip requests it doesn't
// recognize, in which case the combiner treats it as ActionAllow with
// zero confidence from that inspector).
type Inspector interface {
	Inspect(ctx context.Context, requests []message.ToolRequest, history []message.Message) ([]Result, error)
	Name() string
}

// Mode is the permission inspector's operating mode.
type Mode string

const (
	ModeChat  Mode = "chat"  // skip all tool calls
	ModeAuto  Mode = "auto"  // approve all
	ModeSmart Mode = "smart" // per-tool user policy
)

// alwaysNeedsApproval names tools that require approval in smart mode
// regardless of their configured permission level or readonly annotation.
var alwaysNeedsApproval = map[string]bool{
	"platform__manage_extensions": true,
}

// PermissionInspector is the baseline gate: chat mode skips every tool
// call, auto approves everything, and smart mode consults a per-tool
// Permissions policy plus each tool's readonly annotation.
type PermissionInspector struct {
	mode        Mode
	permissions map[string]message.PermissionLevel
	tools       map[string]message.Tool // by prefixed name, for readonly lookups
}

// NewPermissionInspector builds a PermissionInspector in the given mode.
// permissions maps prefixed tool name to the user's configured level;
// tools maps prefixed tool name to its Tool definition (for the
// ReadOnly annotation check). Either map may be nil.
func NewPermissionInspector(mode Mode, permissions map[string]message.PermissionLevel, tools map[string]message.Tool) *PermissionInspector {
	return &PermissionInspector{mode: mode, permissions: permissions, tools: tools}
}

func (p *PermissionInspector) Name() string { return "permission" }

func (p *PermissionInspector) Inspect(_ context.Context, requests []message.ToolRequest, _ []message.Message) ([]Result, error) {
	out := make([]Result, 0, len(requests))
	for _, req := range requests {
		out = append(out, p.inspectOne(req))
	}
	return out, nil
}

func (p *PermissionInspector) inspectOne(req message.ToolRequest) Result {
	base := Result{ToolRequestID: req.ID, InspectorName: p.Name(), Confidence: 1.0}

	if p.mode == ModeChat {
		base.Action = ActionDeny
		base.Reason = "chat mode does not dispatch tool calls"
		return base
	}
	if p.mode == ModeAuto {
		base.Action = ActionAllow
		return base
	}

	// smart mode
	name := ""
	if req.Call != nil {
		name = req.Call.Name
	}
	if alwaysNeedsApproval[name] {
		base.Action = ActionRequireApproval
		base.Reason = "extension management always requires approval"
		return base
	}

	level, known := p.permissions[name]
	if !known {
		if tool, ok := p.tools[name]; ok && tool.Annotations != nil && tool.Annotations.ReadOnly {
			base.Action = ActionAllow
			return base
		}
		base.Action = ActionRequireApproval
		base.Reason = "unknown tool defaults to needs_approval"
		return base
	}

	switch level {
	case message.PermissionAlwaysAllow:
		base.Action = ActionAllow
	case message.PermissionNeverAllow:
		base.Action = ActionDeny
		base.Reason = "denied by user policy"
	default: // PermissionAskBefore
		base.Action = ActionRequireApproval
		base.Reason = "requires user approval"
	}
	return base
}

// Rule is one pattern the security inspector matches tool arguments
// against.
type Rule struct {
	Name       string
	Pattern    func(toolName string, args map[string]any) bool
	Confidence float64
	Reason     string
}

// SecurityInspector pattern-matches tool call arguments against a
// ruleset ranked by severity. Matches at or above Threshold produce a
// RequireApproval finding with a deterministic, content-hashed
// FindingID so repeat occurrences of the same call don't re-prompt;
// matches below threshold are reported as Allow (caller logs them, does
// not surface them) so they never tighten the combined result.
type SecurityInspector struct {
	rules     []Rule
	threshold float64
}

// NewSecurityInspector builds a SecurityInspector over rules, firing
// only for matches whose confidence is >= threshold.
func NewSecurityInspector(rules []Rule, threshold float64) *SecurityInspector {
	return &SecurityInspector{rules: rules, threshold: threshold}
}

func (s *SecurityInspector) Name() string { return "security" }

func (s *SecurityInspector) Inspect(_ context.Context, requests []message.ToolRequest, _ []message.Message) ([]Result, error) {
	out := make([]Result, 0, len(requests))
	for _, req := range requests {
		out = append(out, s.inspectOne(req))
	}
	return out, nil
}

func (s *SecurityInspector) inspectOne(req message.ToolRequest) Result {
	base := Result{ToolRequestID: req.ID, InspectorName: s.Name(), Action: ActionAllow}
	if req.Call == nil {
		return base
	}

	var best *Rule
	for i := range s.rules {
		r := &s.rules[i]
		if r.Pattern(req.Call.Name, req.Call.Arguments) {
			if best == nil || r.Confidence > best.Confidence {
				best = r
			}
		}
	}
	if best == nil || best.Confidence < s.threshold {
		return base
	}

	base.Action = ActionRequireApproval
	base.Reason = best.Reason
	base.Confidence = best.Confidence
	base.FindingID = findingID(req.Call.Name, req.Call.Arguments)
	return base
}

// findingID deterministically hashes a normalized (tool_name, arguments)
// pair: map keys are sorted before marshaling so argument-order jitter
// never produces a different id for semantically identical content.
func findingID(toolName string, args map[string]any) string {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	normalized := make(map[string]any, len(args))
	for _, k := range keys {
		normalized[k] = args[k]
	}
	payload, _ := json.Marshal(struct {
		Tool string         `json:"tool"`
		Args map[string]any `json:"args"`
	}{Tool: toolName, Args: normalized})
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// CheckResult partitions one assistant turn's tool requests into three
// disjoint lists, keyed by ToolRequest.ID.
type CheckResult struct {
	Approved      []string
	NeedsApproval []string
	Denied        []string
	// Reasons maps a ToolRequest.ID present in NeedsApproval or Denied to
	// the combined inspector's explanation.
	Reasons map[string]string
	// FindingIDs maps a ToolRequest.ID to the security finding id that
	// produced its NeedsApproval/Denied disposition, when one exists.
	FindingIDs map[string]string
}

// Run executes every inspector concurrently-in-spirit (sequentially here
// since each call is already a single local computation; I/O-bound
// inspectors would parallelize via errgroup) and combines their results:
// the permission inspector supplies the baseline, and any other
// inspector's result can only tighten it — Allow can become
// RequireApproval or Deny, never the reverse. seen is an optional
// session-scoped set of finding ids already shown to the user; a
// duplicate finding is downgraded to Allow so it doesn't re-prompt.
func Run(ctx context.Context, inspectors []Inspector, requests []message.ToolRequest, history []message.Message, seen map[string]bool) (*CheckResult, error) {
	combined := make(map[string]Result, len(requests))
	for _, req := range requests {
		combined[req.ID] = Result{ToolRequestID: req.ID, Action: ActionAllow}
	}

	for _, insp := range inspectors {
		results, err := insp.Inspect(ctx, requests, history)
		if err != nil {
			return nil, fmt.Errorf("inspector: %s: %w", insp.Name(), err)
		}
		for _, r := range results {
			if r.FindingID != "" && seen != nil && seen[r.FindingID] {
				continue
			}
			cur := combined[r.ToolRequestID]
			if r.Action.severity() > cur.Action.severity() {
				combined[r.ToolRequestID] = r
			}
		}
	}

	out := &CheckResult{Reasons: map[string]string{}, FindingIDs: map[string]string{}}
	for _, req := range requests {
		r := combined[req.ID]
		switch r.Action {
		case ActionAllow:
			out.Approved = append(out.Approved, req.ID)
		case ActionDeny:
			out.Denied = append(out.Denied, req.ID)
			out.Reasons[req.ID] = r.Reason
		case ActionRequireApproval:
			out.NeedsApproval = append(out.NeedsApproval, req.ID)
			out.Reasons[req.ID] = r.Reason
			if r.FindingID != "" {
				out.FindingIDs[req.ID] = r.FindingID
				if seen != nil {
					seen[r.FindingID] = true
				}
			}
		}
	}
	return out, nil
}
