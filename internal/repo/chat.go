package repo

import (
	"context"
	"database/sql"

	"taskdesk/internal/domain"
)

// InsertChatMessage appends one message to a task's thread.
func (r Repo) InsertChatMessage(ctx context.Context, tx *sql.Tx, m domain.ChatMessage) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO chat_messages(task_id,user_id,message,ts) VALUES (?,?,?,?)`,
		m.TaskID, m.UserID, m.Message, m.Timestamp)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ListChatMessages returns the task's thread strictly ordered by timestamp,
// with the row id as a tiebreaker for same-instant messages.
func (r Repo) ListChatMessages(ctx context.Context, taskID string) ([]domain.ChatMessage, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT m.id,m.task_id,m.user_id,COALESCE(u.username,''),m.message,m.ts
FROM chat_messages m LEFT JOIN users u ON u.id=m.user_id
WHERE m.task_id=? ORDER BY m.ts, m.id`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ChatMessage
	for rows.Next() {
		var m domain.ChatMessage
		if err := rows.Scan(&m.ID, &m.TaskID, &m.UserID, &m.Username, &m.Message, &m.Timestamp); err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}
