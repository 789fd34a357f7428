package authority

import (
	"log/slog"

	"github.com/localtask/core/internal/coreerr"
	"github.com/localtask/core/internal/ratelimit"
)

// ExecGuard enforces the A3 restricted-execution contract on top of
// Validate: explicit user consent, a per-user-per-subsystem rate limit,
// and an audit log line for every decision. A0-A2 subsystems never reach
// execution through this guard — A1/A2 output is consumed elsewhere and
// must not trigger actions.
type ExecGuard struct {
	limiter *ratelimit.Limiter
	logger  *slog.Logger
}

// NewExecGuard creates an ExecGuard. A nil limiter disables rate limiting
// (tests); a nil logger falls back to slog.Default.
func NewExecGuard(limiter *ratelimit.Limiter, logger *slog.Logger) *ExecGuard {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecGuard{limiter: limiter, logger: logger}
}

// Authorize decides whether an AI-triggered execution of (action,
// subsystem) on behalf of userID may proceed. It fails closed: anything
// other than an A3 classification with consent and rate-limit headroom is
// denied.
func (g *ExecGuard) Authorize(action, subsystem, userID string, userConsented bool) (Decision, error) {
	d, err := Validate(action, subsystem)
	if err != nil {
		g.audit(action, subsystem, userID, "hard_forbidden")
		return d, err
	}
	if !d.Allowed {
		g.audit(action, subsystem, userID, "denied")
		return d, nil
	}
	if d.RequiredLevel != LevelRestrictedExecution {
		g.audit(action, subsystem, userID, "not_executable")
		return Decision{
			Allowed:       false,
			RequiredLevel: d.RequiredLevel,
			Reason:        "authority: " + subsystem + " is " + string(d.RequiredLevel) + ", not an executable action",
		}, nil
	}
	if !userConsented {
		g.audit(action, subsystem, userID, "no_consent")
		return Decision{}, coreerr.New(coreerr.AuthorityViolation,
			"authority: restricted execution of "+subsystem+" requires explicit user consent")
	}
	if g.limiter != nil && !g.limiter.Allow(userID+"|"+subsystem) {
		g.audit(action, subsystem, userID, "rate_limited")
		return Decision{
			Allowed:       false,
			RequiredLevel: LevelRestrictedExecution,
			Reason:        "authority: rate limit exceeded for " + subsystem,
		}, nil
	}

	g.audit(action, subsystem, userID, "allowed")
	return d, nil
}

func (g *ExecGuard) audit(action, subsystem, userID, outcome string) {
	g.logger.Info("authority decision",
		"action", action,
		"subsystem", subsystem,
		"user_id", userID,
		"outcome", outcome,
	)
}
