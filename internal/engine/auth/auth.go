// Package auth resolves actors into project-scoped authorization
// contexts and decides transition permissions against the workflow
// requirement tables.
package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"siteline/internal/domain"
	"siteline/internal/workflow"
)

// Global actor roles.
const (
	RoleUser       = "user"
	RoleAdmin      = "admin"
	RoleSuperAdmin = "super_admin"
)

// DeniedError indicates a failed authorization decision.
type DeniedError struct {
	Reason string
}

func (e DeniedError) Error() string {
	return fmt.Sprintf("not authorized: %s", e.Reason)
}

// Context is the resolved authorization state of one actor within one
// project: global role, ownership, and the tagged capability set. It
// replaces per-flag boolean checks scattered across call sites.
type Context struct {
	ActorID      string
	GlobalRole   string
	ProjectOwner bool
	capabilities map[string]bool
}

// NewContext builds a Context from explicit values, mainly for tests.
func NewContext(actorID, globalRole string, projectOwner bool, capabilities ...string) Context {
	caps := make(map[string]bool, len(capabilities))
	for _, c := range capabilities {
		caps[c] = true
	}
	return Context{
		ActorID:      actorID,
		GlobalRole:   globalRole,
		ProjectOwner: projectOwner,
		capabilities: caps,
	}
}

// Has reports whether the actor holds a capability flag in this project.
func (c Context) Has(capability string) bool {
	return c.capabilities[capability]
}

// IsAdminOrOwner reports the full-bypass condition: global admin or
// super admin role, or ownership of the project.
func (c Context) IsAdminOrOwner() bool {
	return c.GlobalRole == RoleAdmin || c.GlobalRole == RoleSuperAdmin || c.ProjectOwner
}

// Capabilities returns the actor's flags in stable order.
func (c Context) Capabilities() []string {
	var out []string
	for _, flag := range workflow.Capabilities() {
		if c.capabilities[flag] {
			out = append(out, flag)
		}
	}
	return out
}

// Satisfies evaluates a workflow requirement against this context and
// a record. Admin/owner always passes. A zero-value requirement admits
// admin/owner only.
func (c Context) Satisfies(req workflow.Requirement, rec domain.Record) bool {
	if c.IsAdminOrOwner() {
		return true
	}
	if req.Capability != "" || req.MustBeAssigned {
		ok := true
		if req.Capability != "" && !c.Has(req.Capability) {
			ok = false
		}
		if req.MustBeAssigned && !rec.IsAssigned(c.ActorID) {
			ok = false
		}
		if ok {
			return true
		}
	}
	if req.AllowCreator && rec.CreatorActorID == c.ActorID {
		return true
	}
	if req.AllowOrganizer && rec.OrganizerActorID != nil && *rec.OrganizerActorID == c.ActorID {
		return true
	}
	return false
}

// Authorize is the pure transition-authorization decision: nil on
// allow, DeniedError on deny. Callers translate the denial into their
// own error taxonomy.
func Authorize(c Context, rec domain.Record, req workflow.Requirement) error {
	if c.Satisfies(req, rec) {
		return nil
	}
	switch {
	case req.Capability == "" && !req.MustBeAssigned && !req.AllowCreator && !req.AllowOrganizer:
		return DeniedError{Reason: "admin or project owner rights required"}
	case req.Capability != "" && !c.Has(req.Capability):
		return DeniedError{Reason: fmt.Sprintf("capability %s required", req.Capability)}
	case req.MustBeAssigned && !rec.IsAssigned(c.ActorID):
		return DeniedError{Reason: "actor is not assigned to this record"}
	default:
		return DeniedError{Reason: "actor does not match the action's identity requirement"}
	}
}

// Directory resolves authorization contexts from actor, membership and
// capability rows.
type Directory struct {
	DB *sql.DB
}

// EnsureActor inserts the actor row if missing, defaulting to the user
// role.
func (d Directory) EnsureActor(ctx context.Context, tx *sql.Tx, actorID string) error {
	if actorID == "" {
		return errors.New("actor_id required")
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO actors(id, global_role, created_at) VALUES (?,?,?)`,
		actorID, RoleUser, now)
	return err
}

// Resolve loads the actor's context for a project. Unknown actors
// resolve to an empty user context rather than an error so that
// authorization failures surface as denials, not lookup errors.
func (d Directory) Resolve(ctx context.Context, projectID, actorID string) (Context, error) {
	c := Context{ActorID: actorID, GlobalRole: RoleUser, capabilities: map[string]bool{}}
	var role string
	err := d.DB.QueryRowContext(ctx, `SELECT global_role FROM actors WHERE id=?`, actorID).Scan(&role)
	if err != nil && err != sql.ErrNoRows {
		return c, err
	}
	if err == nil && role != "" {
		c.GlobalRole = role
	}
	var owner int
	err = d.DB.QueryRowContext(ctx, `SELECT project_owner FROM memberships WHERE project_id=? AND actor_id=?`,
		projectID, actorID).Scan(&owner)
	if err != nil && err != sql.ErrNoRows {
		return c, err
	}
	c.ProjectOwner = owner == 1
	rows, err := d.DB.QueryContext(ctx, `SELECT capability FROM capabilities WHERE project_id=? AND actor_id=?`,
		projectID, actorID)
	if err != nil {
		return c, err
	}
	defer rows.Close()
	for rows.Next() {
		var flag string
		if err := rows.Scan(&flag); err != nil {
			return c, err
		}
		c.capabilities[flag] = true
	}
	return c, rows.Err()
}
