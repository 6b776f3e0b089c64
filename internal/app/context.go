package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"siteline/internal/config"
	"siteline/internal/domain"
	"siteline/internal/repo"
)

// ResolveProjectAndConfig picks the active project and ensures a
// project + config exist in the DB, seeding defaults when missing. It
// prefers the override, then the single project in the workspace. A
// missing project is created on the fly with the invoking actor as
// owner.
func ResolveProjectAndConfig(ctx context.Context, projectOverride, actorID string, r repo.Repo) (string, *config.Config, error) {
	projectID := projectOverride
	if projectID == "" {
		if p, err := r.SingleProject(ctx); err == nil {
			projectID = p.ID
		} else {
			return "", nil, fmt.Errorf("project not specified; use --project")
		}
	}
	seedCfg := config.Default(projectID)

	if _, err := r.GetProject(ctx, projectID); err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return "", nil, err
		}
		if err := createProject(ctx, r, projectID, seedCfg, actorID); err != nil {
			return "", nil, err
		}
	}
	cfg, err := r.GetProjectConfig(ctx, projectID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			if err := r.UpsertProjectConfig(ctx, projectID, seedCfg); err != nil {
				return "", nil, fmt.Errorf("seed project config: %w", err)
			}
			cfg = seedCfg
		} else {
			return "", nil, err
		}
	}
	cfg.Project.ID = projectID
	return projectID, cfg, nil
}

// createProject inserts a minimal project footprint: the project row,
// its seed config, and an owner membership for the invoking actor.
func createProject(ctx context.Context, r repo.Repo, projectID string, seedCfg *config.Config, actorID string) error {
	if seedCfg == nil {
		seedCfg = config.Default(projectID)
	}
	now := time.Now().UTC().Format(time.RFC3339)
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	p := domain.Project{
		ID:        projectID,
		Name:      projectID,
		Status:    "active",
		CreatedAt: now,
	}
	if err := r.InsertProjectTx(ctx, tx, p); err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	if err := r.UpsertProjectConfigTx(ctx, tx, projectID, seedCfg); err != nil {
		return fmt.Errorf("insert project config: %w", err)
	}
	if actorID == "" {
		actorID = "local-user"
	}
	if err := r.EnsureActorTx(ctx, tx, actorID, "", now); err != nil {
		return fmt.Errorf("ensure actor: %w", err)
	}
	if err := r.UpsertMembershipTx(ctx, tx, projectID, actorID, true, now); err != nil {
		return fmt.Errorf("assign owner membership: %w", err)
	}
	return tx.Commit()
}
