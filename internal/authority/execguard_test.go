package authority

import (
	"testing"
	"time"

	"github.com/localtask/core/internal/coreerr"
	"github.com/localtask/core/internal/ratelimit"
)

func TestExecGuard_AllowsConsentedA3(t *testing.T) {
	g := NewExecGuard(nil, nil)
	d, err := g.Authorize("send_reminder", "reminder.send", "user_1", true)
	if err != nil {
		t.Fatalf("consented A3 should pass: %v", err)
	}
	if !d.Allowed {
		t.Error("consented A3 should be allowed")
	}
}

func TestExecGuard_RequiresConsent(t *testing.T) {
	g := NewExecGuard(nil, nil)
	_, err := g.Authorize("send_reminder", "reminder.send", "user_1", false)
	if !coreerr.Is(err, coreerr.AuthorityViolation) {
		t.Errorf("expected AUTHORITY_VIOLATION without consent, got %v", err)
	}
}

func TestExecGuard_HardForbiddenStillRejected(t *testing.T) {
	g := NewExecGuard(nil, nil)
	_, err := g.Authorize("release_escrow", "escrow.release", "user_1", true)
	if !coreerr.Is(err, coreerr.AuthorityViolation) {
		t.Errorf("consent must never unlock a hard-forbidden subsystem, got %v", err)
	}
}

func TestExecGuard_NonExecutableLevelsDenied(t *testing.T) {
	g := NewExecGuard(nil, nil)
	for _, subsystem := range []string{"proof.quality_classify", "task.category_suggest"} {
		d, err := g.Authorize("do_it", subsystem, "user_1", true)
		if err != nil {
			t.Fatalf("%s: unexpected error %v", subsystem, err)
		}
		if d.Allowed {
			t.Errorf("%s: A1/A2 subsystems must not be executable", subsystem)
		}
	}
}

func TestExecGuard_RateLimited(t *testing.T) {
	limiter := ratelimit.New(ratelimit.Config{
		RequestsPerMinute: 6,
		BurstSize:         2,
		CleanupInterval:   time.Minute,
	})
	defer limiter.Stop()
	g := NewExecGuard(limiter, nil)

	for i := 0; i < 2; i++ {
		d, err := g.Authorize("send_reminder", "reminder.send", "user_1", true)
		if err != nil || !d.Allowed {
			t.Fatalf("call %d within burst should pass: %v %+v", i, err, d)
		}
	}
	d, err := g.Authorize("send_reminder", "reminder.send", "user_1", true)
	if err != nil {
		t.Fatalf("rate-limit denial is a decision, not an error: %v", err)
	}
	if d.Allowed {
		t.Error("third call in burst window should be rate limited")
	}

	// A different user is unaffected.
	d, err = g.Authorize("send_reminder", "reminder.send", "user_2", true)
	if err != nil || !d.Allowed {
		t.Errorf("other users must not share the bucket: %v %+v", err, d)
	}
}
