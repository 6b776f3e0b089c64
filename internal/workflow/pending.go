package workflow

import (
	"siteline/internal/domain"
)

// pendingRules maps (kind, status) to the requirement an actor must
// satisfy for the record to appear in their pending set. This table,
// not per-page filtering, is the single source of truth; dashboard
// badge counts are the lengths of the derived sets. Terminal statuses
// have no entry and are never pending.
var pendingRules = map[domain.RecordKind]map[string]Requirement{
	domain.KindObservation: {
		ObservationPreApproval:          {Capability: CapObservationApprover},
		ObservationWaitingDataEntry:     {Capability: CapObservationAccess, MustBeAssigned: true},
		ObservationOpen:                 {Capability: CapObservationAccess, MustBeAssigned: true},
		ObservationWaitingCloseApproval: {Capability: CapObservationApprover, AllowCreator: true},
	},
	domain.KindTraining: {
		TrainingPlanned:          {Capability: CapTrainingPlanner, AllowOrganizer: true},
		TrainingAwaitingApproval: {Capability: CapTrainingPlanner},
	},
	domain.KindTask: {
		TaskOpen:            {Capability: CapTaskAccess, MustBeAssigned: true},
		TaskInProgress:      {Capability: CapTaskAccess, MustBeAssigned: true},
		TaskPendingApproval: {MustBeAssigned: true, AllowCreator: true},
	},
}

// PendingRule returns the pending requirement for a (kind, status)
// pair. ok is false for terminal or unknown statuses.
func PendingRule(kind domain.RecordKind, status string) (Requirement, bool) {
	rules, ok := pendingRules[kind]
	if !ok {
		return Requirement{}, false
	}
	req, ok := rules[status]
	return req, ok
}
