package engine

import (
	"context"

	"siteline/internal/domain"
	"siteline/internal/repo"
	"siteline/internal/workflow"
)

// ListPendingFor derives the actor's action list for a project: every
// record whose current status has a pending rule the actor satisfies.
// The result is a pure function of the current state, never stored.
func (e *Engine) ListPendingFor(ctx context.Context, projectID, actorID string) ([]domain.Record, error) {
	actorCtx, err := e.Auth.Resolve(ctx, projectID, actorID)
	if err != nil {
		return nil, err
	}
	records, err := e.Repo.ListRecords(ctx, repo.RecordFilters{ProjectID: projectID})
	if err != nil {
		return nil, err
	}
	var out []domain.Record
	for _, rec := range records {
		rule, ok := workflow.PendingRule(rec.Kind, rec.Status)
		if !ok {
			continue
		}
		if actorCtx.Satisfies(rule, rec) {
			out = append(out, rec)
		}
	}
	return out, nil
}

// PendingCounts returns the actor's pending tally per record kind,
// including zero entries so callers can render a stable badge row.
func (e *Engine) PendingCounts(ctx context.Context, projectID, actorID string) (map[domain.RecordKind]int, error) {
	pending, err := e.ListPendingFor(ctx, projectID, actorID)
	if err != nil {
		return nil, err
	}
	counts := make(map[domain.RecordKind]int, len(domain.Kinds()))
	for _, kind := range domain.Kinds() {
		counts[kind] = 0
	}
	for _, rec := range pending {
		counts[rec.Kind]++
	}
	return counts, nil
}
