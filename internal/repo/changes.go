package repo

import (
	"context"
	"database/sql"

	"deskline/internal/domain"
)

// ChangesAfter returns change events with id greater than cursor, oldest first.
func (r Repo) ChangesAfter(ctx context.Context, cursor int64, limit int) ([]domain.ChangeEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx, r.q(`SELECT id,ts,table_name,op,row_id,actor_id,payload_json FROM changes WHERE id>? ORDER BY id LIMIT ?`), cursor, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ChangeEvent
	for rows.Next() {
		var e domain.ChangeEvent
		var actor sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Table, &e.Op, &e.RowID, &actor, &e.Payload); err != nil {
			return nil, err
		}
		e.ActorID = actor.String
		res = append(res, e)
	}
	return res, rows.Err()
}

// LatestChangeID is where a new subscriber starts when it does not want history.
func (r Repo) LatestChangeID(ctx context.Context) (int64, error) {
	var id sql.NullInt64
	if err := r.DB.QueryRowContext(ctx, `SELECT MAX(id) FROM changes`).Scan(&id); err != nil {
		return 0, err
	}
	return id.Int64, nil
}
