package repo

import (
	"context"
	"database/sql"
	"strings"

	"taskdesk/internal/access"
	"taskdesk/internal/domain"
)

func (r Repo) InsertRole(ctx context.Context, tx *sql.Tx, role domain.Role) error {
	if _, err := tx.ExecContext(ctx, `INSERT INTO roles(id,name,description) VALUES (?,?,?)`,
		role.ID, role.Name, nullable(role.Description)); err != nil {
		return err
	}
	for _, perm := range role.Permissions {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO role_permissions(role_id,permission) VALUES (?,?)`, role.ID, perm); err != nil {
			return err
		}
	}
	return nil
}

// UpsertRoleByName seeds a role bundle, replacing its permission set. Used
// by config-driven role seeding and idempotent across restarts.
func (r Repo) UpsertRoleByName(ctx context.Context, tx *sql.Tx, role domain.Role) error {
	var id string
	err := tx.QueryRowContext(ctx, `SELECT id FROM roles WHERE name=?`, role.Name).Scan(&id)
	if err == sql.ErrNoRows {
		id = role.ID
		if _, err := tx.ExecContext(ctx, `INSERT INTO roles(id,name,description) VALUES (?,?,?)`,
			id, role.Name, nullable(role.Description)); err != nil {
			return err
		}
	} else if err != nil {
		return err
	} else if _, err := tx.ExecContext(ctx, `UPDATE roles SET description=? WHERE id=?`, nullable(role.Description), id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM role_permissions WHERE role_id=?`, id); err != nil {
		return err
	}
	for _, perm := range role.Permissions {
		if _, err := tx.ExecContext(ctx, `INSERT INTO role_permissions(role_id,permission) VALUES (?,?)`, id, perm); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) UpdateRole(ctx context.Context, tx *sql.Tx, role domain.Role) error {
	res, err := tx.ExecContext(ctx, `UPDATE roles SET name=?, description=? WHERE id=?`,
		role.Name, nullable(role.Description), role.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	if role.Permissions != nil {
		if _, err := tx.ExecContext(ctx, `DELETE FROM role_permissions WHERE role_id=?`, role.ID); err != nil {
			return err
		}
		for _, perm := range role.Permissions {
			if _, err := tx.ExecContext(ctx, `INSERT INTO role_permissions(role_id,permission) VALUES (?,?)`, role.ID, perm); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r Repo) DeleteRole(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM roles WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) rolePermissions(ctx context.Context, roleID string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT permission FROM role_permissions WHERE role_id=? ORDER BY permission`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var perms []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

func (r Repo) GetRole(ctx context.Context, id string) (domain.Role, error) {
	var role domain.Role
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,COALESCE(description,'') FROM roles WHERE id=?`, id).
		Scan(&role.ID, &role.Name, &role.Description)
	if err == sql.ErrNoRows {
		return role, ErrNotFound
	}
	if err != nil {
		return role, err
	}
	role.Permissions, err = r.rolePermissions(ctx, id)
	return role, err
}

func (r Repo) GetRoleByName(ctx context.Context, name string) (domain.Role, error) {
	var id string
	err := r.DB.QueryRowContext(ctx, `SELECT id FROM roles WHERE name=?`, name).Scan(&id)
	if err == sql.ErrNoRows {
		return domain.Role{}, ErrNotFound
	}
	if err != nil {
		return domain.Role{}, err
	}
	return r.GetRole(ctx, id)
}

// ListRoles is unscoped: roles are global bundles, not organization-owned.
func (r Repo) ListRoles(ctx context.Context) ([]domain.Role, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,COALESCE(description,'') FROM roles ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Role
	for rows.Next() {
		var role domain.Role
		if err := rows.Scan(&role.ID, &role.Name, &role.Description); err != nil {
			return nil, err
		}
		res = append(res, role)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range res {
		perms, err := r.rolePermissions(ctx, res[i].ID)
		if err != nil {
			return nil, err
		}
		res[i].Permissions = perms
	}
	return res, nil
}

// --- assignments ---

func (r Repo) InsertAssignment(ctx context.Context, tx *sql.Tx, a domain.Assignment) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO user_org_roles(id,user_id,organization_id,department_id,role_id) VALUES (?,?,?,?,?)`,
		a.ID, a.UserID, a.OrganizationID, nullableStringPtr(a.DepartmentID), a.RoleID)
	return err
}

func (r Repo) DeleteAssignment(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM user_org_roles WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanAssignment(row interface{ Scan(...any) error }) (domain.Assignment, error) {
	var a domain.Assignment
	var dept sql.NullString
	err := row.Scan(&a.ID, &a.UserID, &a.OrganizationID, &dept, &a.RoleID)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if dept.Valid {
		a.DepartmentID = &dept.String
	}
	return a, err
}

func (r Repo) GetAssignment(ctx context.Context, scope access.Scope, id string) (domain.Assignment, error) {
	a, err := scanAssignment(r.DB.QueryRowContext(ctx, `SELECT id,user_id,organization_id,department_id,role_id FROM user_org_roles WHERE id=?`, id))
	if err != nil {
		return a, err
	}
	if !scope.Contains(a.OrganizationID) {
		return domain.Assignment{}, ErrNotFound
	}
	return a, nil
}

func (r Repo) ListAssignments(ctx context.Context, scope access.Scope, userID string) ([]domain.Assignment, error) {
	var clauses []string
	var args []any
	if clause, cargs := orgClause(scope, "organization_id"); clause != "" {
		clauses = append(clauses, clause)
		args = append(args, cargs...)
	}
	if userID != "" {
		clauses = append(clauses, "user_id=?")
		args = append(args, userID)
	}
	query := `SELECT id,user_id,organization_id,department_id,role_id FROM user_org_roles`
	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, " AND ")
	}
	query += ` ORDER BY organization_id, user_id`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}
