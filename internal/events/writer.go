package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"deskline/internal/db"
)

// Writer records row changes in the changes table. Callers pass the
// transaction that performed the mutation so the log never runs ahead of it.
type Writer struct {
	Dialect db.Dialect
	Now     func() time.Time
}

type Payload map[string]any

func (w Writer) Append(ctx context.Context, tx *sql.Tx, table, op, rowID, actorID string, payload Payload) error {
	now := w.Now
	if now == nil {
		now = time.Now
	}
	ts := now().UTC().Format(time.RFC3339Nano)
	if payload == nil {
		payload = Payload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal change payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, w.Dialect.Rebind(`INSERT INTO changes(ts,table_name,op,row_id,actor_id,payload_json) VALUES (?,?,?,?,?,?)`),
		ts, table, op, rowID, nullable(actorID), string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
