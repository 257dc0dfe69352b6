package access

import (
	"context"
	"database/sql"
	"fmt"
)

// DeniedError indicates a missing capability permission.
type DeniedError struct {
	Permission string
}

func (e DeniedError) Error() string {
	return fmt.Sprintf("permission %s required", e.Permission)
}

// Principal is the authenticated caller. Superuser is the single global
// bypass: it satisfies every permission check and widens every scope.
type Principal struct {
	UserID    string
	Superuser bool
}

// Scope is the set of organizations a principal may see. All marks the
// superuser identity scope (no narrowing applied).
type Scope struct {
	All    bool
	UserID string
	OrgIDs []string
}

// Contains reports whether an organization id is inside the scope.
func (s Scope) Contains(orgID string) bool {
	if s.All {
		return true
	}
	for _, id := range s.OrgIDs {
		if id == orgID {
			return true
		}
	}
	return false
}

// Resolver answers capability and scope questions from current role
// assignments. Both are recomputed per request; there is no caching layer
// to invalidate when assignments change.
type Resolver struct {
	DB *sql.DB
}

// PermissionsFor resolves the distinct set of permission keys granted to a
// user across all role assignments, in every organization and department.
// A single assignment granting a key authorizes the action type globally;
// per-record narrowing is the scope filter's job.
func (r Resolver) PermissionsFor(ctx context.Context, userID string) (map[string]bool, error) {
	rows, err := r.DB.QueryContext(ctx, `
SELECT DISTINCT rp.permission
FROM user_org_roles uor
JOIN role_permissions rp ON rp.role_id = uor.role_id
WHERE uor.user_id = ?`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	perms := map[string]bool{}
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		perms[p] = true
	}
	return perms, rows.Err()
}

// Authorize reports whether the principal holds the permission key through
// any role assignment. Denial is a false return, never an error; callers
// translate it into their own redirect or message.
func (r Resolver) Authorize(ctx context.Context, p Principal, permission string) (bool, error) {
	if p.Superuser {
		return true, nil
	}
	perms, err := r.PermissionsFor(ctx, p.UserID)
	if err != nil {
		return false, err
	}
	return perms[permission], nil
}

// Require wraps Authorize into an error for call sites that want to bail.
func (r Resolver) Require(ctx context.Context, p Principal, permission string) error {
	ok, err := r.Authorize(ctx, p, permission)
	if err != nil {
		return err
	}
	if !ok {
		return DeniedError{Permission: permission}
	}
	return nil
}

// ScopeFor computes the principal's organization scope.
func (r Resolver) ScopeFor(ctx context.Context, p Principal) (Scope, error) {
	if p.Superuser {
		return Scope{All: true, UserID: p.UserID}, nil
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT DISTINCT organization_id FROM user_org_roles WHERE user_id = ?`, p.UserID)
	if err != nil {
		return Scope{}, err
	}
	defer rows.Close()
	scope := Scope{UserID: p.UserID}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return Scope{}, err
		}
		scope.OrgIDs = append(scope.OrgIDs, id)
	}
	return scope, rows.Err()
}
