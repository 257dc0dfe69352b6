package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"taskdesk/internal/access"
	"taskdesk/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// orgClause builds a WHERE fragment narrowing col to the scope's
// organization set. A scoped user with no memberships matches nothing.
func orgClause(scope access.Scope, col string) (string, []any) {
	if scope.All {
		return "", nil
	}
	if len(scope.OrgIDs) == 0 {
		return "1=0", nil
	}
	marks := strings.TrimSuffix(strings.Repeat("?,", len(scope.OrgIDs)), ",")
	args := make([]any, len(scope.OrgIDs))
	for i, id := range scope.OrgIDs {
		args[i] = id
	}
	return fmt.Sprintf("%s IN (%s)", col, marks), args
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

// --- users ---

func (r Repo) InsertUser(ctx context.Context, tx *sql.Tx, u domain.User) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO users(id,username,first_name,last_name,email,phone_number,is_superuser,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		u.ID, u.Username, nullable(u.FirstName), nullable(u.LastName), nullable(u.Email), nullable(u.PhoneNumber), boolInt(u.Superuser), u.CreatedAt)
	return err
}

func (r Repo) UpdateUser(ctx context.Context, tx *sql.Tx, u domain.User) error {
	res, err := tx.ExecContext(ctx, `UPDATE users SET username=?, first_name=?, last_name=?, email=?, phone_number=?, is_superuser=? WHERE id=?`,
		u.Username, nullable(u.FirstName), nullable(u.LastName), nullable(u.Email), nullable(u.PhoneNumber), boolInt(u.Superuser), u.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteUser(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM users WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

const userCols = `id,username,COALESCE(first_name,''),COALESCE(last_name,''),COALESCE(email,''),COALESCE(phone_number,''),is_superuser,created_at`

func scanUser(row interface{ Scan(...any) error }) (domain.User, error) {
	var u domain.User
	var super int
	err := row.Scan(&u.ID, &u.Username, &u.FirstName, &u.LastName, &u.Email, &u.PhoneNumber, &super, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	u.Superuser = super != 0
	return u, err
}

func (r Repo) GetUser(ctx context.Context, id string) (domain.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx, `SELECT `+userCols+` FROM users WHERE id=?`, id))
}

func (r Repo) GetUserByUsername(ctx context.Context, username string) (domain.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx, `SELECT `+userCols+` FROM users WHERE username=?`, username))
}

// ListUsers returns users visible to the scope: members of any organization
// the scope covers, de-duplicated across assignments.
func (r Repo) ListUsers(ctx context.Context, scope access.Scope) ([]domain.User, error) {
	query := `SELECT ` + userCols + ` FROM users ORDER BY username`
	var args []any
	if !scope.All {
		clause, cargs := orgClause(scope, "uor.organization_id")
		query = `SELECT DISTINCT u.id,u.username,COALESCE(u.first_name,''),COALESCE(u.last_name,''),COALESCE(u.email,''),COALESCE(u.phone_number,''),u.is_superuser,u.created_at
FROM users u JOIN user_org_roles uor ON uor.user_id=u.id WHERE ` + clause + ` ORDER BY u.username`
		args = cargs
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

// OrgMembers returns users holding any role in the organization. Used by
// the organization-data lookup endpoint to populate dependent form fields.
func (r Repo) OrgMembers(ctx context.Context, orgID string) ([]domain.User, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT DISTINCT u.id,u.username,COALESCE(u.first_name,''),COALESCE(u.last_name,''),COALESCE(u.email,''),COALESCE(u.phone_number,''),u.is_superuser,u.created_at
FROM users u JOIN user_org_roles uor ON uor.user_id=u.id WHERE uor.organization_id=? ORDER BY u.username`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

func (r Repo) CountSuperusers(ctx context.Context) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE is_superuser=1`).Scan(&n)
	return n, err
}

// --- organizations ---

func (r Repo) InsertOrganization(ctx context.Context, tx *sql.Tx, o domain.Organization) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO organizations(id,name,description,created_at) VALUES (?,?,?,?)`,
		o.ID, o.Name, nullable(o.Description), o.CreatedAt)
	return err
}

func (r Repo) UpdateOrganization(ctx context.Context, tx *sql.Tx, o domain.Organization) error {
	res, err := tx.ExecContext(ctx, `UPDATE organizations SET name=?, description=? WHERE id=?`,
		o.Name, nullable(o.Description), o.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteOrganization removes the organization. Departments, tasks and role
// assignments cascade through foreign keys.
func (r Repo) DeleteOrganization(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM organizations WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanOrganization(row interface{ Scan(...any) error }) (domain.Organization, error) {
	var o domain.Organization
	err := row.Scan(&o.ID, &o.Name, &o.Description, &o.CreatedAt)
	if err == sql.ErrNoRows {
		return o, ErrNotFound
	}
	return o, err
}

// GetOrganization fetches one organization inside the scope. Records outside
// the scope are reported as not found.
func (r Repo) GetOrganization(ctx context.Context, scope access.Scope, id string) (domain.Organization, error) {
	o, err := scanOrganization(r.DB.QueryRowContext(ctx, `SELECT id,name,COALESCE(description,''),created_at FROM organizations WHERE id=?`, id))
	if err != nil {
		return o, err
	}
	if !scope.Contains(o.ID) {
		return domain.Organization{}, ErrNotFound
	}
	return o, nil
}

func (r Repo) ListOrganizations(ctx context.Context, scope access.Scope) ([]domain.Organization, error) {
	query := `SELECT id,name,COALESCE(description,''),created_at FROM organizations`
	clause, args := orgClause(scope, "id")
	if clause != "" {
		query += ` WHERE ` + clause
	}
	query += ` ORDER BY created_at DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Organization
	for rows.Next() {
		o, err := scanOrganization(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, o)
	}
	return res, rows.Err()
}

// --- departments ---

func (r Repo) InsertDepartment(ctx context.Context, tx *sql.Tx, d domain.Department) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO departments(id,organization_id,name,description) VALUES (?,?,?,?)`,
		d.ID, d.OrganizationID, d.Name, nullable(d.Description))
	return err
}

func (r Repo) UpdateDepartment(ctx context.Context, tx *sql.Tx, d domain.Department) error {
	res, err := tx.ExecContext(ctx, `UPDATE departments SET name=?, description=? WHERE id=?`,
		d.Name, nullable(d.Description), d.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteDepartment(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM departments WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanDepartment(row interface{ Scan(...any) error }) (domain.Department, error) {
	var d domain.Department
	err := row.Scan(&d.ID, &d.OrganizationID, &d.Name, &d.Description)
	if err == sql.ErrNoRows {
		return d, ErrNotFound
	}
	return d, err
}

func (r Repo) GetDepartment(ctx context.Context, scope access.Scope, id string) (domain.Department, error) {
	d, err := scanDepartment(r.DB.QueryRowContext(ctx, `SELECT id,organization_id,name,COALESCE(description,'') FROM departments WHERE id=?`, id))
	if err != nil {
		return d, err
	}
	if !scope.Contains(d.OrganizationID) {
		return domain.Department{}, ErrNotFound
	}
	return d, nil
}

// ListDepartments narrows by parent organization; orgID further restricts to
// one organization when non-empty.
func (r Repo) ListDepartments(ctx context.Context, scope access.Scope, orgID string) ([]domain.Department, error) {
	var clauses []string
	var args []any
	if clause, cargs := orgClause(scope, "organization_id"); clause != "" {
		clauses = append(clauses, clause)
		args = append(args, cargs...)
	}
	if orgID != "" {
		clauses = append(clauses, "organization_id=?")
		args = append(args, orgID)
	}
	query := `SELECT id,organization_id,name,COALESCE(description,'') FROM departments`
	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, " AND ")
	}
	query += ` ORDER BY name`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Department
	for rows.Next() {
		d, err := scanDepartment(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
