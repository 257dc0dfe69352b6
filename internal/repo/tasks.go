package repo

import (
	"context"
	"database/sql"

	"taskdesk/internal/access"
	"taskdesk/internal/domain"
)

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	if _, err := tx.ExecContext(ctx, `INSERT INTO tasks(id,organization_id,name,description,created_at,due_date) VALUES (?,?,?,?,?,?)`,
		t.ID, t.OrganizationID, t.Name, nullable(t.Description), t.CreatedAt, nullableStringPtr(t.DueDate)); err != nil {
		return err
	}
	return r.replaceTaskSets(ctx, tx, t)
}

func (r Repo) UpdateTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET organization_id=?, name=?, description=?, due_date=? WHERE id=?`,
		t.OrganizationID, t.Name, nullable(t.Description), nullableStringPtr(t.DueDate), t.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	for _, table := range []string{"task_departments", "task_assignees", "task_viewers"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE task_id=?`, t.ID); err != nil {
			return err
		}
	}
	return r.replaceTaskSets(ctx, tx, t)
}

func (r Repo) replaceTaskSets(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	for _, deptID := range t.DepartmentIDs {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO task_departments(task_id,department_id) VALUES (?,?)`, t.ID, deptID); err != nil {
			return err
		}
	}
	for _, userID := range t.AssignedUsers {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO task_assignees(task_id,user_id) VALUES (?,?)`, t.ID, userID); err != nil {
			return err
		}
	}
	for _, userID := range t.Viewers {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO task_viewers(task_id,user_id) VALUES (?,?)`, t.ID, userID); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) DeleteTask(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) taskIDSet(ctx context.Context, table, taskID string) ([]string, error) {
	col := "user_id"
	if table == "task_departments" {
		col = "department_id"
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+col+` FROM `+table+` WHERE task_id=? ORDER BY `+col, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r Repo) loadTaskSets(ctx context.Context, t *domain.Task) error {
	var err error
	if t.DepartmentIDs, err = r.taskIDSet(ctx, "task_departments", t.ID); err != nil {
		return err
	}
	if t.AssignedUsers, err = r.taskIDSet(ctx, "task_assignees", t.ID); err != nil {
		return err
	}
	t.Viewers, err = r.taskIDSet(ctx, "task_viewers", t.ID)
	return err
}

func scanTask(row interface{ Scan(...any) error }) (domain.Task, error) {
	var t domain.Task
	var due sql.NullString
	err := row.Scan(&t.ID, &t.OrganizationID, &t.Name, &t.Description, &t.CreatedAt, &due)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if due.Valid {
		t.DueDate = &due.String
	}
	return t, err
}

// GetTask fetches a task without scope narrowing. Callers that act on
// behalf of a principal must gate the result themselves.
func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	t, err := scanTask(r.DB.QueryRowContext(ctx, `SELECT id,organization_id,name,COALESCE(description,''),created_at,due_date FROM tasks WHERE id=?`, id))
	if err != nil {
		return t, err
	}
	return t, r.loadTaskSets(ctx, &t)
}

// GetTaskScoped applies the task visibility rule: organization membership
// AND an assignee or viewer listing. Membership alone is not enough.
func (r Repo) GetTaskScoped(ctx context.Context, scope access.Scope, id string) (domain.Task, error) {
	t, err := r.GetTask(ctx, id)
	if err != nil {
		return t, err
	}
	if scope.All {
		return t, nil
	}
	if !scope.Contains(t.OrganizationID) {
		return domain.Task{}, ErrNotFound
	}
	for _, u := range t.AssignedUsers {
		if u == scope.UserID {
			return t, nil
		}
	}
	for _, u := range t.Viewers {
		if u == scope.UserID {
			return t, nil
		}
	}
	return domain.Task{}, ErrNotFound
}

// ListTasks narrows to the scope's organizations and to tasks where the
// user is listed as assignee or viewer. DISTINCT guards against duplicate
// rows when a user appears in both sets.
func (r Repo) ListTasks(ctx context.Context, scope access.Scope) ([]domain.Task, error) {
	query := `SELECT id,organization_id,name,COALESCE(description,''),created_at,due_date FROM tasks ORDER BY created_at DESC`
	var args []any
	if !scope.All {
		clause, cargs := orgClause(scope, "t.organization_id")
		query = `SELECT DISTINCT t.id,t.organization_id,t.name,COALESCE(t.description,''),t.created_at,t.due_date
FROM tasks t
LEFT JOIN task_assignees ta ON ta.task_id=t.id AND ta.user_id=?
LEFT JOIN task_viewers tv ON tv.task_id=t.id AND tv.user_id=?
WHERE ` + clause + ` AND (ta.user_id IS NOT NULL OR tv.user_id IS NOT NULL)
ORDER BY t.created_at DESC`
		args = append(args, scope.UserID, scope.UserID)
		args = append(args, cargs...)
	}
	return r.collectTasks(ctx, query, args...)
}

// ListTasksForUser returns tasks where the user appears in the named
// membership table (task_assignees or task_viewers).
func (r Repo) ListTasksForUser(ctx context.Context, table, userID string) ([]domain.Task, error) {
	query := `SELECT DISTINCT t.id,t.organization_id,t.name,COALESCE(t.description,''),t.created_at,t.due_date
FROM tasks t JOIN ` + table + ` m ON m.task_id=t.id WHERE m.user_id=? ORDER BY t.created_at DESC`
	return r.collectTasks(ctx, query, userID)
}

func (r Repo) collectTasks(ctx context.Context, query string, args ...any) ([]domain.Task, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range res {
		if err := r.loadTaskSets(ctx, &res[i]); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func (r Repo) IsAssignee(ctx context.Context, taskID, userID string) (bool, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT 1 FROM task_assignees WHERE task_id=? AND user_id=? LIMIT 1`, taskID, userID).Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func (r Repo) IsViewer(ctx context.Context, taskID, userID string) (bool, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT 1 FROM task_viewers WHERE task_id=? AND user_id=? LIMIT 1`, taskID, userID).Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

// --- output fields ---

func (r Repo) InsertOutputField(ctx context.Context, tx *sql.Tx, f domain.OutputField) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO task_output_fields(id,task_id,name,field_type,required,options,min_value,max_value,position) VALUES (?,?,?,?,?,?,?,?,?)`,
		f.ID, f.TaskID, f.Name, f.FieldType, boolInt(f.Required), nullable(f.Options), f.MinValue, f.MaxValue, f.Position)
	return err
}

func (r Repo) UpdateOutputField(ctx context.Context, tx *sql.Tx, f domain.OutputField) error {
	res, err := tx.ExecContext(ctx, `UPDATE task_output_fields SET name=?, field_type=?, required=?, options=?, min_value=?, max_value=?, position=? WHERE id=?`,
		f.Name, f.FieldType, boolInt(f.Required), nullable(f.Options), f.MinValue, f.MaxValue, f.Position, f.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteOutputField(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM task_output_fields WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanOutputField(row interface{ Scan(...any) error }) (domain.OutputField, error) {
	var f domain.OutputField
	var required int
	var options sql.NullString
	var minV, maxV sql.NullFloat64
	err := row.Scan(&f.ID, &f.TaskID, &f.Name, &f.FieldType, &required, &options, &minV, &maxV, &f.Position)
	if err == sql.ErrNoRows {
		return f, ErrNotFound
	}
	f.Required = required != 0
	if options.Valid {
		f.Options = options.String
	}
	if minV.Valid {
		f.MinValue = &minV.Float64
	}
	if maxV.Valid {
		f.MaxValue = &maxV.Float64
	}
	return f, err
}

const outputFieldCols = `id,task_id,name,field_type,required,options,min_value,max_value,position`

func (r Repo) GetOutputField(ctx context.Context, id string) (domain.OutputField, error) {
	return scanOutputField(r.DB.QueryRowContext(ctx, `SELECT `+outputFieldCols+` FROM task_output_fields WHERE id=?`, id))
}

// GetOutputFieldScoped narrows through the parent task's organization.
func (r Repo) GetOutputFieldScoped(ctx context.Context, scope access.Scope, id string) (domain.OutputField, error) {
	f, err := r.GetOutputField(ctx, id)
	if err != nil {
		return f, err
	}
	if scope.All {
		return f, nil
	}
	t, err := scanTask(r.DB.QueryRowContext(ctx, `SELECT id,organization_id,name,COALESCE(description,''),created_at,due_date FROM tasks WHERE id=?`, f.TaskID))
	if err != nil {
		return domain.OutputField{}, err
	}
	if !scope.Contains(t.OrganizationID) {
		return domain.OutputField{}, ErrNotFound
	}
	return f, nil
}

// TaskFields returns a task's field schema in declaration order.
func (r Repo) TaskFields(ctx context.Context, taskID string) ([]domain.OutputField, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+outputFieldCols+` FROM task_output_fields WHERE task_id=? ORDER BY position, id`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.OutputField
	for rows.Next() {
		f, err := scanOutputField(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, f)
	}
	return res, rows.Err()
}

// ListOutputFields narrows by the parent task's organization membership.
func (r Repo) ListOutputFields(ctx context.Context, scope access.Scope) ([]domain.OutputField, error) {
	query := `SELECT ` + outputFieldCols + ` FROM task_output_fields ORDER BY task_id, position, id`
	var args []any
	if !scope.All {
		clause, cargs := orgClause(scope, "t.organization_id")
		query = `SELECT f.id,f.task_id,f.name,f.field_type,f.required,f.options,f.min_value,f.max_value,f.position
FROM task_output_fields f JOIN tasks t ON t.id=f.task_id WHERE ` + clause + ` ORDER BY f.task_id, f.position, f.id`
		args = cargs
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.OutputField
	for rows.Next() {
		f, err := scanOutputField(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, f)
	}
	return res, rows.Err()
}
