// Package authority is a deterministic classifier from (action, subsystem)
// to one of four AI capability levels, rejecting forbidden actions before
// any side effect runs. The Catalog uses mcp.Tool purely as typed metadata
// describing the AI-facing action surface; no MCP server is started by
// this package — the AI orchestrator and its transport live elsewhere.
package authority

import (
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/localtask/core/internal/coreerr"
	"github.com/localtask/core/internal/metrics"
)

// Level is an AI capability classification.
type Level string

const (
	// LevelForbidden (A0): AI may not participate. Any AI output is discarded.
	LevelForbidden Level = "A0"
	// LevelReadOnly (A1): AI may summarize/classify for display; no mutation.
	LevelReadOnly Level = "A1"
	// LevelProposal (A2): AI output is a proposal; a deterministic validator
	// decides. AI cannot mutate directly.
	LevelProposal Level = "A2"
	// LevelRestrictedExecution (A3): AI may trigger a bounded, reversible
	// action with explicit user consent, rate limits, and audit.
	LevelRestrictedExecution Level = "A3"
)

// entry describes one subsystem's default capability level and, purely for
// documentation/tooling purposes, the mcp.Tool shape an AI orchestrator
// would see if it tried to act on it.
type entry struct {
	level Level
	tool  mcp.Tool
}

// hardForbidden is the hard-rule override list: these subsystems are
// always A0 regardless of any Catalog entry or caller input.
var hardForbidden = map[string]bool{
	"xp.award":                    true,
	"trust.tier_change":           true,
	"escrow.release":              true,
	"escrow.capture":              true,
	"user.ban_or_suspend":         true,
	"dispute.resolution_finalize": true,
}

// hardForbiddenActions matches the same hard rules by action name, so a
// caller cannot smuggle a forbidden operation past the gate under an
// innocuous-looking subsystem. Both snake_case tool names and the
// camelCase spellings an orchestrator is likely to use are listed.
var hardForbiddenActions = map[string]bool{
	"award_xp":         true,
	"awardXP":          true,
	"change_trust_tier": true,
	"changeTrustTier":  true,
	"release_escrow":   true,
	"releaseEscrow":    true,
	"capture_escrow":   true,
	"captureEscrow":    true,
	"ban_user":         true,
	"banUser":          true,
	"suspend_user":     true,
	"suspendUser":      true,
	"finalize_dispute": true,
	"finalizeDispute":  true,
}

// Catalog maps subsystem name to its default capability level. Subsystems
// not present default to LevelForbidden — an unrecognized subsystem is
// never assumed safe.
var Catalog = map[string]entry{
	"xp.award": {
		level: LevelForbidden,
		tool: mcp.NewTool("award_xp",
			mcp.WithDescription("Award experience points for a completed task. Never available to AI — the Reward Ledger is the only caller.")),
	},
	"trust.tier_change": {
		level: LevelForbidden,
		tool: mcp.NewTool("change_trust_tier",
			mcp.WithDescription("Change a user's trust tier. Never available to AI.")),
	},
	"escrow.release": {
		level: LevelForbidden,
		tool: mcp.NewTool("release_escrow",
			mcp.WithDescription("Release held escrow to a worker. Never available to AI — only the Money State Engine may do this.")),
	},
	"escrow.capture": {
		level: LevelForbidden,
		tool: mcp.NewTool("capture_escrow",
			mcp.WithDescription("Capture a held payment intent. Never available to AI.")),
	},
	"user.ban_or_suspend": {
		level: LevelForbidden,
		tool: mcp.NewTool("ban_user",
			mcp.WithDescription("Ban or suspend a user account. Never available to AI.")),
	},
	"dispute.resolution_finalize": {
		level: LevelForbidden,
		tool: mcp.NewTool("finalize_dispute",
			mcp.WithDescription("Finalize a dispute resolution. Never available to AI.")),
	},
	"proof.quality_classify": {
		level: LevelReadOnly,
		tool: mcp.NewTool("classify_proof_quality",
			mcp.WithDescription("Summarize or classify a submitted proof artifact for display. Read-only; does not mutate proof state.")),
	},
	"task.category_suggest": {
		level: LevelProposal,
		tool: mcp.NewTool("suggest_task_category",
			mcp.WithDescription("Propose a category for a new task. A deterministic validator decides whether to apply it; the AI cannot write it directly.")),
	},
	"reminder.send": {
		level: LevelRestrictedExecution,
		tool: mcp.NewTool("send_reminder",
			mcp.WithDescription("Send a bounded, reversible reminder notification with explicit user consent and rate limiting.")),
	},
}

// Decision is the result of Validate.
type Decision struct {
	Allowed       bool
	RequiredLevel Level
	Reason        string
}

// Validate classifies (action, subsystem) and rejects anything on the hard
// A0 override list before any side effect runs. The action name is matched
// against the hard-forbidden list in addition to the subsystem, so neither
// field alone can smuggle a forbidden operation through.
func Validate(action, subsystem string) (Decision, error) {
	if hardForbidden[subsystem] || hardForbidden[action] || hardForbiddenActions[action] {
		metrics.AuthorityDenialsTotal.WithLabelValues(subsystem, string(LevelForbidden)).Inc()
		return Decision{}, coreerr.New(coreerr.AuthorityViolation,
			"authority: "+subsystem+" ("+action+") is forbidden to AI regardless of input")
	}

	e, ok := Catalog[subsystem]
	if !ok {
		metrics.AuthorityDenialsTotal.WithLabelValues(subsystem, string(LevelForbidden)).Inc()
		return Decision{
			Allowed:       false,
			RequiredLevel: LevelForbidden,
			Reason:        "authority: unrecognized subsystem " + subsystem + " defaults to forbidden",
		}, nil
	}

	if e.level == LevelForbidden {
		metrics.AuthorityDenialsTotal.WithLabelValues(subsystem, string(LevelForbidden)).Inc()
		return Decision{Allowed: false, RequiredLevel: LevelForbidden}, nil
	}

	return Decision{Allowed: true, RequiredLevel: e.level}, nil
}

// Tool returns the declarative mcp.Tool description for subsystem, if any
// is registered in Catalog. Used only to describe the AI-facing action
// surface to an external orchestrator; this package never serves it.
func Tool(subsystem string) (mcp.Tool, bool) {
	e, ok := Catalog[subsystem]
	return e.tool, ok
}
