package server

import (
	"encoding/json"

	"siteline/internal/config"
	"siteline/internal/domain"
)

// Request payloads

type CreateProjectRequest struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

type CreateRecordRequest struct {
	Kind             string   `json:"kind" enum:"observation,training,task"`
	Title            string   `json:"title"`
	Description      *string  `json:"description,omitempty"`
	OrganizerActorID *string  `json:"organizer_actor_id,omitempty"`
	AssignedActorIDs []string `json:"assigned_actor_ids,omitempty" maxItems:"2"`
	PlannedCloseDate *string  `json:"planned_close_date,omitempty" format:"date"`
}

type TransitionRequest struct {
	Action      string  `json:"action" enum:"start,submit_work,approve,reject,execute,cancel,submit_data,request_close"`
	Description *string `json:"description,omitempty"`
	Reason      *string `json:"reason,omitempty"`
}

type MembershipRequest struct {
	ProjectOwner bool `json:"project_owner,omitempty"`
}

type DevLoginRequest struct {
	ActorID string `json:"actor_id"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

// Response payloads

type ProjectResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type RecordResponse struct {
	ID               string   `json:"id"`
	ProjectID        string   `json:"project_id"`
	Kind             string   `json:"kind" enum:"observation,training,task"`
	Status           string   `json:"status"`
	Title            string   `json:"title"`
	Description      string   `json:"description,omitempty"`
	ReportNumber     string   `json:"report_number"`
	CreatorActorID   string   `json:"creator_actor_id"`
	OrganizerActorID *string  `json:"organizer_actor_id,omitempty"`
	AssignedActorIDs []string `json:"assigned_actor_ids"`
	PlannedCloseDate *string  `json:"planned_close_date,omitempty" format:"date"`
	RejectionReason  *string  `json:"rejection_reason,omitempty"`
	Closure          string   `json:"closure,omitempty" enum:",on_time,late"`
	Version          int64    `json:"version"`
	CreatedAt        string   `json:"created_at" format:"date-time"`
	UpdatedAt        string   `json:"updated_at" format:"date-time"`
	ClosedAt         *string  `json:"closed_at,omitempty" format:"date-time"`
}

type WorkLogEntryResponse struct {
	ID        string `json:"id"`
	RecordID  string `json:"record_id"`
	ActorID   string `json:"actor_id"`
	Kind      string `json:"kind" enum:"work,rejection"`
	Body      string `json:"body"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type MembershipResponse struct {
	ProjectID    string   `json:"project_id"`
	ActorID      string   `json:"actor_id"`
	ProjectOwner bool     `json:"project_owner"`
	Capabilities []string `json:"capabilities"`
	CreatedAt    string   `json:"created_at" format:"date-time"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	ProjectID  string         `json:"project_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type PendingCountsResponse struct {
	Observation int `json:"observation"`
	Training    int `json:"training"`
	Task        int `json:"task"`
	Total       int `json:"total"`
}

type MeResponse struct {
	ActorID      string   `json:"actor_id"`
	GlobalRole   string   `json:"global_role"`
	ProjectID    string   `json:"project_id,omitempty"`
	ProjectOwner bool     `json:"project_owner"`
	Capabilities []string `json:"capabilities"`
}

type ProjectConfigResponse struct {
	Project      projectConfigSection      `json:"project"`
	Sequences    map[string]sequenceConfig `json:"sequences"`
	Capabilities capabilityConfigSection   `json:"capabilities"`
}

type projectConfigSection struct {
	ID   string `json:"id"`
	Kind string `json:"kind"`
}

type sequenceConfig struct {
	Prefix string `json:"prefix"`
}

type capabilityConfigSection struct {
	Catalog map[string]struct {
		Description string `json:"description"`
	} `json:"catalog"`
}

type paginatedRecords struct {
	Items      []RecordResponse `json:"items"`
	NextCursor string           `json:"next_cursor,omitempty"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// Conversion helpers

func projectResponse(p domain.Project) ProjectResponse {
	return ProjectResponse(p)
}

func recordResponse(r domain.Record) RecordResponse {
	return RecordResponse{
		ID:               r.ID,
		ProjectID:        r.ProjectID,
		Kind:             string(r.Kind),
		Status:           r.Status,
		Title:            r.Title,
		Description:      r.Description,
		ReportNumber:     r.ReportNumber,
		CreatorActorID:   r.CreatorActorID,
		OrganizerActorID: r.OrganizerActorID,
		AssignedActorIDs: nonNilSlice(r.AssignedActorIDs),
		PlannedCloseDate: r.PlannedCloseDate,
		RejectionReason:  r.RejectionReason,
		Closure:          r.Closure,
		Version:          r.Version,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
		ClosedAt:         r.ClosedAt,
	}
}

func workLogResponse(e domain.WorkLogEntry) WorkLogEntryResponse {
	return WorkLogEntryResponse(e)
}

func membershipResponse(m domain.Membership) MembershipResponse {
	return MembershipResponse{
		ProjectID:    m.ProjectID,
		ActorID:      m.ActorID,
		ProjectOwner: m.ProjectOwner,
		Capabilities: nonNilSlice(m.Capabilities),
		CreatedAt:    m.CreatedAt,
	}
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		ProjectID:  e.ProjectID,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    decodeJSONMap(e.Payload),
	}
}

func configResponse(cfg *config.Config) ProjectConfigResponse {
	res := ProjectConfigResponse{
		Project: projectConfigSection{
			ID:   cfg.Project.ID,
			Kind: cfg.Project.Kind,
		},
		Sequences: map[string]sequenceConfig{},
		Capabilities: capabilityConfigSection{
			Catalog: map[string]struct {
				Description string `json:"description"`
			}{},
		},
	}
	for kind, seq := range cfg.Sequences {
		res.Sequences[kind] = sequenceConfig{Prefix: seq.Prefix}
	}
	for name, entry := range cfg.Capabilities.Catalog {
		res.Capabilities.Catalog[name] = struct {
			Description string `json:"description"`
		}{Description: entry.Description}
	}
	return res
}

func mapProjects(items []domain.Project) []ProjectResponse {
	res := make([]ProjectResponse, 0, len(items))
	for _, p := range items {
		res = append(res, projectResponse(p))
	}
	return res
}

func mapRecords(items []domain.Record) []RecordResponse {
	res := make([]RecordResponse, 0, len(items))
	for _, r := range items {
		res = append(res, recordResponse(r))
	}
	return res
}

// JSON helpers

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var tmp any
	if err := json.Unmarshal([]byte(raw), &tmp); err != nil {
		return nil
	}
	if obj, ok := tmp.(map[string]any); ok {
		return obj
	}
	return nil
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}

func stringOrEmpty(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}
