package domain

// RecordKind identifies which state graph and capability rules apply.
type RecordKind string

const (
	KindObservation RecordKind = "observation"
	KindTraining    RecordKind = "training"
	KindTask        RecordKind = "task"
)

// Kinds lists all record kinds in display order.
func Kinds() []RecordKind {
	return []RecordKind{KindObservation, KindTraining, KindTask}
}

// Valid reports whether k is a known record kind.
func (k RecordKind) Valid() bool {
	switch k {
	case KindObservation, KindTraining, KindTask:
		return true
	}
	return false
}

// Closure classification for records whose terminal status does not
// encode it (task, training). Observations bake it into the status.
const (
	ClosureOnTime = "on_time"
	ClosureLate   = "late"
)

type Project struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Record struct {
	ID               string     `json:"id"`
	ProjectID        string     `json:"project_id"`
	Kind             RecordKind `json:"kind" enum:"observation,training,task"`
	Status           string     `json:"status"`
	Title            string     `json:"title"`
	Description      string     `json:"description,omitempty"`
	ReportNumber     string     `json:"report_number"`
	CreatorActorID   string     `json:"creator_actor_id"`
	OrganizerActorID *string    `json:"organizer_actor_id,omitempty"`
	AssignedActorIDs []string   `json:"assigned_actor_ids,omitempty"`
	PlannedCloseDate *string    `json:"planned_close_date,omitempty" format:"date"`
	RejectionReason  *string    `json:"rejection_reason,omitempty"`
	Closure          string     `json:"closure,omitempty"`
	Version          int64      `json:"version"`
	CreatedAt        string     `json:"created_at" format:"date-time"`
	UpdatedAt        string     `json:"updated_at" format:"date-time"`
	ClosedAt         *string    `json:"closed_at,omitempty" format:"date-time"`
}

// IsAssigned reports whether actorID occupies one of the record's
// assignment slots.
func (r Record) IsAssigned(actorID string) bool {
	for _, id := range r.AssignedActorIDs {
		if id == actorID {
			return true
		}
	}
	return false
}

type Actor struct {
	ID         string `json:"id"`
	GlobalRole string `json:"global_role" enum:"user,admin,super_admin"`
	CreatedAt  string `json:"created_at" format:"date-time"`
}

// Membership ties an actor to a project. Capability flags live in
// their own rows, scoped by the same (project, actor) pair.
type Membership struct {
	ProjectID    string   `json:"project_id"`
	ActorID      string   `json:"actor_id"`
	ProjectOwner bool     `json:"project_owner"`
	Capabilities []string `json:"capabilities,omitempty"`
	CreatedAt    string   `json:"created_at" format:"date-time"`
}

type SequenceCounter struct {
	ProjectID     string     `json:"project_id"`
	Kind          RecordKind `json:"kind"`
	Prefix        string     `json:"prefix"`
	CurrentNumber int64      `json:"current_number"`
}

// WorkLogEntry is an audit entry attached to a record: either a work
// report submitted with submit_work/submit_data, or the reason text of
// a reject transition. Entries are never deleted.
type WorkLogEntry struct {
	ID        string `json:"id"`
	RecordID  string `json:"record_id"`
	ActorID   string `json:"actor_id"`
	Kind      string `json:"kind" enum:"work,rejection"`
	Body      string `json:"body"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
