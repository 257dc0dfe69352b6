package repo

import (
	"context"
	"database/sql"

	"taskdesk/internal/domain"
)

const outputCols = `id,output_field_id,user_id,value_text,file_path,original_filename,file_size,submitted_at`

func scanOutput(row interface{ Scan(...any) error }) (domain.Output, error) {
	var o domain.Output
	var valueText, filePath, origName sql.NullString
	var size sql.NullInt64
	err := row.Scan(&o.ID, &o.OutputFieldID, &o.UserID, &valueText, &filePath, &origName, &size, &o.SubmittedAt)
	if err == sql.ErrNoRows {
		return o, ErrNotFound
	}
	if valueText.Valid {
		o.ValueText = valueText.String
	}
	if filePath.Valid {
		o.FilePath = filePath.String
	}
	if origName.Valid {
		o.OriginalFilename = origName.String
	}
	if size.Valid {
		o.FileSize = &size.Int64
	}
	return o, err
}

func (r Repo) GetOutput(ctx context.Context, id string) (domain.Output, error) {
	return scanOutput(r.DB.QueryRowContext(ctx, `SELECT `+outputCols+` FROM task_outputs WHERE id=?`, id))
}

// GetOutputForField returns the single output row for an (output_field,
// user) pair, if any.
func (r Repo) GetOutputForField(ctx context.Context, fieldID, userID string) (domain.Output, error) {
	return scanOutput(r.DB.QueryRowContext(ctx, `SELECT `+outputCols+` FROM task_outputs WHERE output_field_id=? AND user_id=?`, fieldID, userID))
}

// ListUserOutputs returns the user's own outputs; outputs are always
// visible to the submitting user regardless of organization scope.
func (r Repo) ListUserOutputs(ctx context.Context, userID string) ([]domain.Output, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+outputCols+` FROM task_outputs WHERE user_id=? ORDER BY submitted_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Output
	for rows.Next() {
		o, err := scanOutput(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, o)
	}
	return res, rows.Err()
}

// TaskOutputsForUser returns one user's outputs across all of a task's
// fields, keyed for form redisplay.
func (r Repo) TaskOutputsForUser(ctx context.Context, taskID, userID string) (map[string]domain.Output, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT o.id,o.output_field_id,o.user_id,o.value_text,o.file_path,o.original_filename,o.file_size,o.submitted_at
FROM task_outputs o JOIN task_output_fields f ON f.id=o.output_field_id
WHERE f.task_id=? AND o.user_id=?`, taskID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]domain.Output{}
	for rows.Next() {
		o, err := scanOutput(rows)
		if err != nil {
			return nil, err
		}
		res[o.OutputFieldID] = o
	}
	return res, rows.Err()
}

// UpsertOutputTx writes one output row keyed by (output_field, user).
// Resubmission updates the existing row; the uniqueness constraint keeps
// concurrent writers last-writer-wins.
func (r Repo) UpsertOutputTx(ctx context.Context, tx *sql.Tx, o domain.Output) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO task_outputs(id,output_field_id,user_id,value_text,file_path,original_filename,file_size,submitted_at)
VALUES (?,?,?,?,?,?,?,?)
ON CONFLICT(output_field_id,user_id) DO UPDATE SET
value_text=excluded.value_text,
file_path=excluded.file_path,
original_filename=excluded.original_filename,
file_size=excluded.file_size,
submitted_at=excluded.submitted_at`,
		o.ID, o.OutputFieldID, o.UserID, nullable(o.ValueText), nullable(o.FilePath), nullable(o.OriginalFilename), o.FileSize, o.SubmittedAt)
	return err
}

// DeleteOutput removes the row and reports the stored file path, if any,
// so the caller can release the blob.
func (r Repo) DeleteOutput(ctx context.Context, tx *sql.Tx, id, userID string) (string, error) {
	o, err := r.GetOutput(ctx, id)
	if err != nil {
		return "", err
	}
	if o.UserID != userID {
		return "", ErrNotFound
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM task_outputs WHERE id=?`, id)
	if err != nil {
		return "", err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return "", ErrNotFound
	}
	return o.FilePath, nil
}
