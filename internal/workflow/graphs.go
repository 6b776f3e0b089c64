package workflow

import (
	"siteline/internal/domain"
)

// Task statuses.
const (
	TaskOpen            = "open"
	TaskInProgress      = "in_progress"
	TaskPendingApproval = "pending_approval"
	TaskClosed          = "closed"
)

// Training statuses.
const (
	TrainingPlanned          = "planned"
	TrainingAwaitingApproval = "awaiting_approval"
	TrainingCompleted        = "completed"
	TrainingCancelled        = "cancelled"
)

// Observation statuses.
const (
	ObservationPreApproval          = "pre_approval"
	ObservationWaitingDataEntry     = "waiting_data_entry"
	ObservationOpen                 = "open"
	ObservationWaitingCloseApproval = "waiting_close_approval"
	ObservationClosedOnTime         = "closed_on_time"
	ObservationClosedLate           = "closed_late"
)

var definitions = map[domain.RecordKind]Definition{
	domain.KindTask: {
		Kind:    domain.KindTask,
		Initial: TaskOpen,
		Statuses: []string{
			TaskOpen, TaskInProgress, TaskPendingApproval, TaskClosed,
		},
		Terminal: []string{TaskClosed},
		Edges: []Edge{
			{
				From: TaskOpen, Action: ActionStart, To: TaskInProgress,
				Requires: Requirement{Capability: CapTaskAccess, MustBeAssigned: true},
			},
			{
				From: TaskInProgress, Action: ActionSubmitWork, To: TaskPendingApproval,
				NeedsDescription: true,
				Requires:         Requirement{Capability: CapTaskAccess, MustBeAssigned: true},
			},
			{
				From: TaskPendingApproval, Action: ActionApprove, To: TaskClosed,
				Closing:  true,
				Requires: Requirement{MustBeAssigned: true, AllowCreator: true},
			},
			{
				From: TaskPendingApproval, Action: ActionReject, To: TaskOpen,
				NeedsReason: true,
				Requires:    Requirement{MustBeAssigned: true, AllowCreator: true},
			},
		},
	},
	domain.KindTraining: {
		Kind:    domain.KindTraining,
		Initial: TrainingPlanned,
		Statuses: []string{
			TrainingPlanned, TrainingAwaitingApproval, TrainingCompleted, TrainingCancelled,
		},
		Terminal: []string{TrainingCompleted, TrainingCancelled},
		Edges: []Edge{
			{
				From: TrainingPlanned, Action: ActionExecute, To: TrainingAwaitingApproval,
				Requires: Requirement{Capability: CapTrainingPlanner, AllowOrganizer: true},
			},
			{
				From: TrainingAwaitingApproval, Action: ActionApprove, To: TrainingCompleted,
				Closing:  true,
				Requires: Requirement{Capability: CapTrainingPlanner},
			},
			// cancel is admin/owner only (zero-value requirement),
			// reachable from every non-terminal state.
			{From: TrainingPlanned, Action: ActionCancel, To: TrainingCancelled},
			{From: TrainingAwaitingApproval, Action: ActionCancel, To: TrainingCancelled},
		},
	},
	domain.KindObservation: {
		Kind:    domain.KindObservation,
		Initial: ObservationPreApproval,
		Statuses: []string{
			ObservationPreApproval, ObservationWaitingDataEntry, ObservationOpen,
			ObservationWaitingCloseApproval, ObservationClosedOnTime, ObservationClosedLate,
		},
		Terminal: []string{ObservationClosedOnTime, ObservationClosedLate},
		Edges: []Edge{
			{
				From: ObservationPreApproval, Action: ActionApprove, To: ObservationWaitingDataEntry,
				Requires: Requirement{Capability: CapObservationApprover},
			},
			{
				From: ObservationWaitingDataEntry, Action: ActionSubmitData, To: ObservationOpen,
				NeedsDescription: true,
				Requires:         Requirement{Capability: CapObservationAccess, MustBeAssigned: true},
			},
			{
				From: ObservationOpen, Action: ActionRequestClose, To: ObservationWaitingCloseApproval,
				Requires: Requirement{Capability: CapObservationAccess, MustBeAssigned: true},
			},
			{
				From: ObservationWaitingCloseApproval, Action: ActionApprove, To: ObservationClosedOnTime,
				LateTo:   ObservationClosedLate,
				Closing:  true,
				Requires: Requirement{Capability: CapObservationApprover, AllowCreator: true},
			},
			// A reject edge out of waiting_close_approval exists in the
			// field process but its target state is unconfirmed; it is
			// deliberately not declared here. Adding it is a single
			// Edge entry once the target is known.
		},
	},
}
