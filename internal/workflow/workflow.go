// Package workflow declares the per-kind record lifecycles as data:
// status sets, transition edges, the capability requirement gating each
// edge, and the pending-action rules derived from the same tables.
package workflow

import (
	"siteline/internal/domain"
)

// Action is the label on a transition edge.
type Action string

const (
	ActionStart        Action = "start"
	ActionSubmitWork   Action = "submit_work"
	ActionApprove      Action = "approve"
	ActionReject       Action = "reject"
	ActionExecute      Action = "execute"
	ActionCancel       Action = "cancel"
	ActionSubmitData   Action = "submit_data"
	ActionRequestClose Action = "request_close"
)

// Capability flag identifiers, scoped per kind within a project.
const (
	CapObservationAccess   = "observation.access"
	CapObservationCreator  = "observation.creator"
	CapObservationApprover = "observation.approver"
	CapTaskAccess          = "task.access"
	CapTaskCreator         = "task.creator"
	CapTrainingCreator     = "training.creator"
	CapTrainingPlanner     = "training.planner"
)

// CreatorCapability returns the flag required to create records of a kind.
func CreatorCapability(kind domain.RecordKind) string {
	switch kind {
	case domain.KindObservation:
		return CapObservationCreator
	case domain.KindTraining:
		return CapTrainingCreator
	default:
		return CapTaskCreator
	}
}

// Capabilities lists every known capability flag.
func Capabilities() []string {
	return []string{
		CapObservationAccess,
		CapObservationCreator,
		CapObservationApprover,
		CapTaskAccess,
		CapTaskCreator,
		CapTrainingCreator,
		CapTrainingPlanner,
	}
}

// KnownCapability reports whether cap is in the catalog.
func KnownCapability(cap string) bool {
	for _, c := range Capabilities() {
		if c == cap {
			return true
		}
	}
	return false
}

// Requirement describes who may take an edge, or for whom a status is
// pending. Admin/super_admin actors and project owners always satisfy
// any requirement; the zero value therefore means admin/owner only.
//
// For everyone else the requirement is met if either branch holds:
// the actor carries Capability (and, when MustBeAssigned is set, also
// occupies one of the record's assignment slots), or one of the
// Allow* identities matches.
type Requirement struct {
	Capability     string
	MustBeAssigned bool
	AllowCreator   bool
	AllowOrganizer bool
}

// Edge is one declared transition in a kind's graph.
type Edge struct {
	From   string
	Action Action
	To     string
	// LateTo, when set, makes this a deadline-split closing edge: the
	// engine picks To or LateTo from the closure classification.
	LateTo string
	// Closing edges stamp closed_at and the closure classification.
	Closing bool
	// NeedsDescription requires a non-empty description payload and
	// records it as a work-log entry.
	NeedsDescription bool
	// NeedsReason requires a non-empty reason payload, stored as the
	// record's rejection_reason and a rejection work-log entry.
	NeedsReason bool
	Requires    Requirement
}

// Definition is the complete lifecycle for one record kind.
type Definition struct {
	Kind     domain.RecordKind
	Initial  string
	Statuses []string
	Terminal []string
	Edges    []Edge
}

// Find returns the edge for (from, action), if declared.
func (d Definition) Find(from string, action Action) (Edge, bool) {
	for _, e := range d.Edges {
		if e.From == from && e.Action == action {
			return e, true
		}
	}
	return Edge{}, false
}

// IsTerminal reports whether status admits no further transitions.
func (d Definition) IsTerminal(status string) bool {
	for _, s := range d.Terminal {
		if s == status {
			return true
		}
	}
	return false
}

// ValidStatus reports whether status belongs to the kind's state set.
func (d Definition) ValidStatus(status string) bool {
	for _, s := range d.Statuses {
		if s == status {
			return true
		}
	}
	return false
}

// ForKind returns the lifecycle definition for a kind.
func ForKind(kind domain.RecordKind) (Definition, bool) {
	d, ok := definitions[kind]
	return d, ok
}
