// Package proof decides whether a task has a verifying proof artifact in
// an accepted state — the precondition for a task to reach COMPLETED, and
// therefore for its escrow to ever be released.
package proof

import (
	"context"
	"time"

	"github.com/localtask/core/internal/coreerr"
	"github.com/localtask/core/internal/idgen"
	"github.com/localtask/core/internal/syncutil"
	"github.com/localtask/core/internal/validation"
)

// State is the lifecycle state of a Proof Artifact.
type State string

const (
	StateSubmitted State = "submitted"
	StateAccepted  State = "accepted"
	StateRejected  State = "rejected"
	StateExpired   State = "expired"
)

// IsTerminal reports whether s is a final proof state.
func (s State) IsTerminal() bool {
	switch s {
	case StateAccepted, StateRejected, StateExpired:
		return true
	}
	return false
}

// Quality classifies how strong a submitted proof's evidence is, derived
// from the shape of the submission payload.
type Quality string

const (
	QualityBasic    Quality = "BASIC"
	QualityStandard Quality = "STANDARD"
	QualityEnhanced Quality = "ENHANCED"
)

// Payload is the proof submission's evidence. Only the fields' presence is
// inspected to derive Quality — the bytes themselves are opaque to this
// package; capture and upload happen elsewhere.
type Payload struct {
	PhotoURL  string
	Geo       *GeoPoint
	Timestamp time.Time
	Note      string
}

// GeoPoint is a coordinate pair attached to a proof submission.
type GeoPoint struct {
	Lat float64
	Lng float64
}

// deriveQuality: photo -> STANDARD; photo + geo + timestamp -> ENHANCED;
// otherwise BASIC.
func deriveQuality(p Payload) Quality {
	hasPhoto := p.PhotoURL != ""
	hasGeo := p.Geo != nil
	hasTimestamp := !p.Timestamp.IsZero()

	switch {
	case hasPhoto && hasGeo && hasTimestamp:
		return QualityEnhanced
	case hasPhoto:
		return QualityStandard
	default:
		return QualityBasic
	}
}

// Artifact is the durable Proof Artifact row, at most one per task.
type Artifact struct {
	ID        string
	TaskID    string
	UserID    string
	State     State
	Quality   Quality
	Note      string
	RejectReason string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store persists Proof Artifact rows.
type Store interface {
	Create(ctx context.Context, a *Artifact) error
	GetByTaskID(ctx context.Context, taskID string) (*Artifact, error)
	GetByID(ctx context.Context, id string) (*Artifact, error)
	UpdateState(ctx context.Context, id string, from, to State, rejectReason string) error
}

// SubmitResult is returned by Gate.Submit.
type SubmitResult struct {
	ProofID string
	Quality Quality
}

// Gate is the Proof Gate. Per-task locking is a first line of defense in
// front of the store's own uniqueness constraint on task_id, not a
// substitute for it.
type Gate struct {
	store Store
	locks syncutil.ShardedMutex
}

// New creates a Proof Gate over store.
func New(store Store) *Gate {
	return &Gate{store: store}
}

// Submit creates a Proof Artifact in state submitted. A task may have at
// most one Proof Artifact; calling Submit again for a task that already has
// one returns PRECONDITION_FAILED.
func (g *Gate) Submit(ctx context.Context, taskID, userID string, payload Payload) (SubmitResult, error) {
	unlock := g.locks.Lock(taskID)
	defer unlock()

	if existing, err := g.store.GetByTaskID(ctx, taskID); err != nil {
		return SubmitResult{}, coreerr.Wrap(coreerr.Internal, "proof: lookup existing artifact", err)
	} else if existing != nil {
		return SubmitResult{}, coreerr.New(coreerr.PreconditionFailed,
			"proof: task "+taskID+" already has a proof artifact")
	}

	quality := deriveQuality(payload)
	now := time.Now()
	a := &Artifact{
		ID:        idgen.WithPrefix("proof_"),
		TaskID:    taskID,
		UserID:    userID,
		State:     StateSubmitted,
		Quality:   quality,
		Note:      validation.SanitizeString(payload.Note, validation.MaxStringLength),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := g.store.Create(ctx, a); err != nil {
		return SubmitResult{}, coreerr.Wrap(coreerr.Internal, "proof: create artifact", err)
	}
	return SubmitResult{ProofID: a.ID, Quality: quality}, nil
}

// Accept transitions a submitted artifact to accepted.
func (g *Gate) Accept(ctx context.Context, proofID string) error {
	return g.transition(ctx, proofID, StateAccepted, "")
}

// Reject transitions a submitted artifact to rejected, recording reason.
func (g *Gate) Reject(ctx context.Context, proofID, reason string) error {
	return g.transition(ctx, proofID, StateRejected, validation.SanitizeString(reason, validation.MaxStringLength))
}

func (g *Gate) transition(ctx context.Context, proofID string, to State, reason string) error {
	a, err := g.store.GetByID(ctx, proofID)
	if err != nil {
		return coreerr.Wrap(coreerr.Internal, "proof: lookup artifact", err)
	}
	if a == nil {
		return coreerr.New(coreerr.PreconditionFailed, "proof: artifact "+proofID+" not found")
	}

	unlock := g.locks.Lock(a.TaskID)
	defer unlock()

	if a.State != StateSubmitted {
		return coreerr.New(coreerr.IllegalTransition,
			"proof: "+string(a.State)+" -> "+string(to)+" is not a legal transition")
	}
	if err := g.store.UpdateState(ctx, proofID, StateSubmitted, to, reason); err != nil {
		return coreerr.Wrap(coreerr.Internal, "proof: update artifact state", err)
	}
	return nil
}

// CanComplete reports whether taskID has a Proof Artifact in state
// accepted. The Money State Engine consults this before honoring
// RELEASE_PAYOUT.
func (g *Gate) CanComplete(ctx context.Context, taskID string) (bool, error) {
	a, err := g.store.GetByTaskID(ctx, taskID)
	if err != nil {
		return false, coreerr.Wrap(coreerr.Internal, "proof: lookup artifact", err)
	}
	if a == nil {
		return false, nil
	}
	return a.State == StateAccepted, nil
}
