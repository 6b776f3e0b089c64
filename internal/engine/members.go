package engine

import (
	"context"
	"errors"
	"fmt"

	"siteline/internal/domain"
	"siteline/internal/engine/auth"
	"siteline/internal/events"
	"siteline/internal/repo"
	"siteline/internal/workflow"
)

// AddMember enrolls an actor in a project, optionally as owner.
func (e *Engine) AddMember(ctx context.Context, projectID, actorID string, owner bool, byActorID string) (domain.Membership, error) {
	if actorID == "" {
		return domain.Membership{}, ValidationError{Field: "actor_id", Reason: "required"}
	}
	if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
		return domain.Membership{}, err
	}
	now := e.timestamp()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Membership{}, err
	}
	defer tx.Rollback()

	if err := e.Auth.EnsureActor(ctx, tx, actorID); err != nil {
		return domain.Membership{}, err
	}
	if err := e.Repo.UpsertMembershipTx(ctx, tx, projectID, actorID, owner, now); err != nil {
		return domain.Membership{}, err
	}
	err = e.Events.Append(ctx, tx, "membership.upserted", projectID, "membership", actorID, byActorID,
		events.EventPayload{"project_owner": owner})
	if err != nil {
		return domain.Membership{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Membership{}, err
	}
	return e.Repo.GetMembership(ctx, projectID, actorID)
}

// RemoveMember drops the actor's membership and its capability rows,
// with the audit event in the same transaction.
func (e *Engine) RemoveMember(ctx context.Context, projectID, actorID, byActorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteMembershipTx(ctx, tx, projectID, actorID); err != nil {
		return err
	}
	err = e.Events.Append(ctx, tx, "membership.removed", projectID, "membership", actorID, byActorID, nil)
	if err != nil {
		return err
	}
	return tx.Commit()
}

// GrantCapability adds a capability flag to the actor's membership.
// Unknown flags are rejected so typos never grant silently-dead rows.
func (e *Engine) GrantCapability(ctx context.Context, projectID, actorID, capability, byActorID string) error {
	if !workflow.KnownCapability(capability) {
		return ValidationError{Field: "capability", Reason: fmt.Sprintf("unknown capability %q", capability)}
	}
	if _, err := e.Repo.GetMembership(ctx, projectID, actorID); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.GrantCapabilityTx(ctx, tx, projectID, actorID, capability); err != nil {
		return err
	}
	err = e.Events.Append(ctx, tx, "capability.granted", projectID, "membership", actorID, byActorID,
		events.EventPayload{"capability": capability})
	if err != nil {
		return err
	}
	return tx.Commit()
}

// RevokeCapability removes a capability flag from the membership.
func (e *Engine) RevokeCapability(ctx context.Context, projectID, actorID, capability, byActorID string) error {
	if !workflow.KnownCapability(capability) {
		return ValidationError{Field: "capability", Reason: fmt.Sprintf("unknown capability %q", capability)}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.RevokeCapabilityTx(ctx, tx, projectID, actorID, capability); err != nil {
		return err
	}
	err = e.Events.Append(ctx, tx, "capability.revoked", projectID, "membership", actorID, byActorID,
		events.EventPayload{"capability": capability})
	if err != nil {
		return err
	}
	return tx.Commit()
}

// SetGlobalRole changes an actor's global role, creating the actor row
// when it does not exist yet.
func (e *Engine) SetGlobalRole(ctx context.Context, actorID, role string) error {
	switch role {
	case auth.RoleUser, auth.RoleAdmin, auth.RoleSuperAdmin:
	default:
		return ValidationError{Field: "global_role", Reason: fmt.Sprintf("unknown role %q", role)}
	}
	err := e.Repo.SetGlobalRole(ctx, actorID, role)
	if !errors.Is(err, repo.ErrNotFound) {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.EnsureActorTx(ctx, tx, actorID, role, e.timestamp()); err != nil {
		return err
	}
	return tx.Commit()
}
