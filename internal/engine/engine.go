// Package engine implements the record lifecycle operations: creation
// with atomic report numbering, capability-gated transitions, closure
// classification, and the audit trail they leave behind. Every
// mutation runs in a single transaction together with its event.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"siteline/internal/config"
	"siteline/internal/domain"
	"siteline/internal/engine/auth"
	"siteline/internal/events"
	"siteline/internal/repo"
	"siteline/internal/workflow"
)

const maxAssignees = 2

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Auth   auth.Directory
	Config *config.Config

	// Now is injectable for deterministic timestamps in tests.
	Now func() time.Time
}

func New(db *sql.DB, cfg *config.Config) *Engine {
	e := &Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Auth:   auth.Directory{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
	e.Events = events.Writer{DB: db, Now: func() time.Time { return e.Now() }}
	return e
}

func (e *Engine) now() time.Time { return e.Now().UTC() }

func (e *Engine) timestamp() string { return e.now().Format(time.RFC3339) }

// projectConfig returns the project's stored config, falling back to
// the engine-wide one only when the project has none. A stored config
// that fails to load is an error, not a silent fallback: a customized
// sequence prefix must never be replaced by the default one.
func (e *Engine) projectConfig(ctx context.Context, projectID string) (*config.Config, error) {
	cfg, err := e.Repo.GetProjectConfig(ctx, projectID)
	if errors.Is(err, repo.ErrNotFound) || (err == nil && cfg == nil) {
		return e.Config, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load config for project %s: %w", projectID, err)
	}
	return cfg, nil
}

// InitProject creates the project, its default configuration, and an
// owner membership for the initiating actor.
func (e *Engine) InitProject(ctx context.Context, projectID, name, actorID string) (domain.Project, error) {
	if projectID == "" {
		return domain.Project{}, ValidationError{Field: "project_id", Reason: "required"}
	}
	if actorID == "" {
		return domain.Project{}, ValidationError{Field: "actor_id", Reason: "required"}
	}
	now := e.timestamp()
	p := domain.Project{ID: projectID, Name: name, Status: "active", CreatedAt: now}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertProjectTx(ctx, tx, p); err != nil {
		return domain.Project{}, err
	}
	if err := e.Repo.UpsertProjectConfigTx(ctx, tx, projectID, config.Default(projectID)); err != nil {
		return domain.Project{}, err
	}
	if err := e.Auth.EnsureActor(ctx, tx, actorID); err != nil {
		return domain.Project{}, err
	}
	if err := e.Repo.UpsertMembershipTx(ctx, tx, projectID, actorID, true, now); err != nil {
		return domain.Project{}, err
	}
	err = e.Events.Append(ctx, tx, "project.initialized", projectID, "project", projectID, actorID,
		events.EventPayload{"name": name})
	if err != nil {
		return domain.Project{}, err
	}
	return p, tx.Commit()
}

// CreateOptions carries the inputs of record creation.
type CreateOptions struct {
	ProjectID        string
	Kind             domain.RecordKind
	Title            string
	Description      string
	ActorID          string
	OrganizerActorID string
	AssignedActorIDs []string
	PlannedCloseDate string
}

// CreateRecord validates the inputs, checks the creator capability,
// allocates the next report number and inserts the record, all inside
// one transaction so the sequence can never skip or repeat under
// concurrent creators.
func (e *Engine) CreateRecord(ctx context.Context, opts CreateOptions) (domain.Record, error) {
	if opts.ProjectID == "" {
		return domain.Record{}, ValidationError{Field: "project_id", Reason: "required"}
	}
	if !opts.Kind.Valid() {
		return domain.Record{}, ValidationError{Field: "kind", Reason: fmt.Sprintf("unknown record kind %q", opts.Kind)}
	}
	if strings.TrimSpace(opts.Title) == "" {
		return domain.Record{}, ValidationError{Field: "title", Reason: "required"}
	}
	if opts.ActorID == "" {
		return domain.Record{}, ValidationError{Field: "actor_id", Reason: "required"}
	}
	if len(opts.AssignedActorIDs) > maxAssignees {
		return domain.Record{}, ValidationError{Field: "assigned_actor_ids", Reason: fmt.Sprintf("at most %d assignees", maxAssignees)}
	}
	if opts.PlannedCloseDate != "" && !workflow.ValidPlannedCloseDate(opts.PlannedCloseDate) {
		return domain.Record{}, ValidationError{Field: "planned_close_date", Reason: "must be a YYYY-MM-DD date"}
	}
	if _, err := e.Repo.GetProject(ctx, opts.ProjectID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Record{}, fmt.Errorf("project %s: %w", opts.ProjectID, repo.ErrNotFound)
		}
		return domain.Record{}, err
	}

	actorCtx, err := e.Auth.Resolve(ctx, opts.ProjectID, opts.ActorID)
	if err != nil {
		return domain.Record{}, err
	}
	creatorCap := workflow.CreatorCapability(opts.Kind)
	if !actorCtx.IsAdminOrOwner() && !actorCtx.Has(creatorCap) {
		return domain.Record{}, AuthorizationError{Err: auth.DeniedError{
			Reason: fmt.Sprintf("capability %s required", creatorCap),
		}}
	}

	def, ok := workflow.ForKind(opts.Kind)
	if !ok {
		return domain.Record{}, ValidationError{Field: "kind", Reason: fmt.Sprintf("unknown record kind %q", opts.Kind)}
	}

	now := e.timestamp()
	rec := domain.Record{
		ID:               uuid.NewString(),
		ProjectID:        opts.ProjectID,
		Kind:             opts.Kind,
		Status:           def.Initial,
		Title:            strings.TrimSpace(opts.Title),
		Description:      opts.Description,
		CreatorActorID:   opts.ActorID,
		AssignedActorIDs: opts.AssignedActorIDs,
		Version:          1,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if opts.PlannedCloseDate != "" {
		d := opts.PlannedCloseDate
		rec.PlannedCloseDate = &d
	}
	if opts.Kind == domain.KindTraining {
		organizer := opts.OrganizerActorID
		if organizer == "" {
			organizer = opts.ActorID
		}
		rec.OrganizerActorID = &organizer
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Record{}, err
	}
	defer tx.Rollback()

	cfg, err := e.projectConfig(ctx, opts.ProjectID)
	if err != nil {
		return domain.Record{}, err
	}
	rec.ReportNumber, err = e.Repo.AllocateReportNumberTx(ctx, tx, opts.ProjectID, opts.Kind, cfg.SequencePrefix(opts.Kind))
	if err != nil {
		return domain.Record{}, fmt.Errorf("allocate report number: %w", err)
	}

	if err := e.Auth.EnsureActor(ctx, tx, opts.ActorID); err != nil {
		return domain.Record{}, err
	}
	for _, id := range opts.AssignedActorIDs {
		if err := e.Auth.EnsureActor(ctx, tx, id); err != nil {
			return domain.Record{}, err
		}
	}
	if rec.OrganizerActorID != nil {
		if err := e.Auth.EnsureActor(ctx, tx, *rec.OrganizerActorID); err != nil {
			return domain.Record{}, err
		}
	}
	if err := e.Repo.InsertRecordTx(ctx, tx, rec); err != nil {
		return domain.Record{}, err
	}
	err = e.Events.Append(ctx, tx, "record.created", opts.ProjectID, string(opts.Kind), rec.ID, opts.ActorID,
		events.EventPayload{
			"report_number": rec.ReportNumber,
			"status":        rec.Status,
			"title":         rec.Title,
		})
	if err != nil {
		return domain.Record{}, err
	}
	return rec, tx.Commit()
}

// TransitionOptions carries the inputs of a lifecycle transition.
// Description is required by edges that record a work report; Reason
// by reject edges.
type TransitionOptions struct {
	RecordID    string
	Action      workflow.Action
	ActorID     string
	Description string
	Reason      string
}

// Transition applies one action to a record: edge lookup, authorization
// against the edge requirement, payload validation, closure
// classification on closing edges, then a version-guarded update with
// its work-log entries and event in one transaction.
func (e *Engine) Transition(ctx context.Context, opts TransitionOptions) (domain.Record, error) {
	if opts.ActorID == "" {
		return domain.Record{}, ValidationError{Field: "actor_id", Reason: "required"}
	}
	rec, err := e.Repo.GetRecord(ctx, opts.RecordID)
	if err != nil {
		return domain.Record{}, err
	}
	def, ok := workflow.ForKind(rec.Kind)
	if !ok {
		return domain.Record{}, fmt.Errorf("record %s has unknown kind %q", rec.ID, rec.Kind)
	}
	edge, ok := def.Find(rec.Status, opts.Action)
	if !ok {
		return domain.Record{}, InvalidTransitionError{
			Kind:   string(rec.Kind),
			Status: rec.Status,
			Action: opts.Action,
		}
	}

	actorCtx, err := e.Auth.Resolve(ctx, rec.ProjectID, opts.ActorID)
	if err != nil {
		return domain.Record{}, err
	}
	if err := auth.Authorize(actorCtx, rec, edge.Requires); err != nil {
		return domain.Record{}, AuthorizationError{Err: err}
	}

	if edge.NeedsDescription && strings.TrimSpace(opts.Description) == "" {
		return domain.Record{}, ValidationError{Field: "description", Reason: fmt.Sprintf("required by action %s", opts.Action)}
	}
	if edge.NeedsReason && strings.TrimSpace(opts.Reason) == "" {
		return domain.Record{}, ValidationError{Field: "reason", Reason: fmt.Sprintf("required by action %s", opts.Action)}
	}

	now := e.now()
	nowStr := now.Format(time.RFC3339)
	from := rec.Status
	expectedVersion := rec.Version

	rec.Status = edge.To
	rec.UpdatedAt = nowStr
	if edge.Closing {
		closure := workflow.Classify(rec.PlannedCloseDate, now)
		if edge.LateTo != "" && closure == domain.ClosureLate {
			rec.Status = edge.LateTo
		}
		rec.Closure = closure
		rec.ClosedAt = &nowStr
	}
	if edge.NeedsReason {
		reason := strings.TrimSpace(opts.Reason)
		rec.RejectionReason = &reason
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Record{}, err
	}
	defer tx.Rollback()

	if err := e.Auth.EnsureActor(ctx, tx, opts.ActorID); err != nil {
		return domain.Record{}, err
	}
	if err := e.Repo.UpdateRecordTx(ctx, tx, rec, expectedVersion); err != nil {
		if errors.Is(err, repo.ErrVersionConflict) {
			return domain.Record{}, ConflictError{RecordID: rec.ID}
		}
		return domain.Record{}, err
	}
	rec.Version = expectedVersion + 1

	if edge.NeedsDescription {
		entry := domain.WorkLogEntry{
			ID:        uuid.NewString(),
			RecordID:  rec.ID,
			ActorID:   opts.ActorID,
			Kind:      repo.WorkLogWork,
			Body:      strings.TrimSpace(opts.Description),
			CreatedAt: nowStr,
		}
		if err := e.Repo.InsertWorkLogTx(ctx, tx, entry); err != nil {
			return domain.Record{}, err
		}
	}
	if edge.NeedsReason {
		entry := domain.WorkLogEntry{
			ID:        uuid.NewString(),
			RecordID:  rec.ID,
			ActorID:   opts.ActorID,
			Kind:      repo.WorkLogRejection,
			Body:      strings.TrimSpace(opts.Reason),
			CreatedAt: nowStr,
		}
		if err := e.Repo.InsertWorkLogTx(ctx, tx, entry); err != nil {
			return domain.Record{}, err
		}
	}

	payload := events.EventPayload{
		"action": string(opts.Action),
		"from":   from,
		"to":     rec.Status,
	}
	if rec.Closure != "" && edge.Closing {
		payload["closure"] = rec.Closure
	}
	err = e.Events.Append(ctx, tx, "record.transitioned", rec.ProjectID, string(rec.Kind), rec.ID, opts.ActorID, payload)
	if err != nil {
		return domain.Record{}, err
	}
	return rec, tx.Commit()
}

// GetRecord loads one record with its assignment slots.
func (e *Engine) GetRecord(ctx context.Context, id string) (domain.Record, error) {
	return e.Repo.GetRecord(ctx, id)
}

// ListRecords forwards the repository filters.
func (e *Engine) ListRecords(ctx context.Context, f repo.RecordFilters) ([]domain.Record, error) {
	return e.Repo.ListRecords(ctx, f)
}

// WorkLog returns the record's audit entries, oldest first.
func (e *Engine) WorkLog(ctx context.Context, recordID string) ([]domain.WorkLogEntry, error) {
	if _, err := e.Repo.GetRecord(ctx, recordID); err != nil {
		return nil, err
	}
	return e.Repo.ListWorkLog(ctx, recordID)
}

// Actions lists the actions the actor may currently take on the
// record, evaluated against the declared edges from its status.
func (e *Engine) Actions(ctx context.Context, recordID, actorID string) ([]workflow.Action, error) {
	rec, err := e.Repo.GetRecord(ctx, recordID)
	if err != nil {
		return nil, err
	}
	def, ok := workflow.ForKind(rec.Kind)
	if !ok {
		return nil, fmt.Errorf("record %s has unknown kind %q", rec.ID, rec.Kind)
	}
	actorCtx, err := e.Auth.Resolve(ctx, rec.ProjectID, actorID)
	if err != nil {
		return nil, err
	}
	var out []workflow.Action
	for _, edge := range def.Edges {
		if edge.From != rec.Status {
			continue
		}
		if actorCtx.Satisfies(edge.Requires, rec) {
			out = append(out, edge.Action)
		}
	}
	return out, nil
}
