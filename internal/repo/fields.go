package repo

import (
	"context"
	"database/sql"
	"fmt"

	"deskline/internal/domain"
)

func (r Repo) InsertField(ctx context.Context, tx *sql.Tx, f domain.FieldDefinition) error {
	_, err := r.on(tx).ExecContext(ctx, r.q(`INSERT INTO ticket_metadata_field_types(id,name,value_kind,description,created_at) VALUES (?,?,?,?,?)`),
		f.ID, f.Name, string(f.ValueKind), nullable(f.Description), f.CreatedAt)
	return err
}

func scanField(scan func(...any) error) (domain.FieldDefinition, error) {
	var f domain.FieldDefinition
	var kind string
	var desc sql.NullString
	err := scan(&f.ID, &f.Name, &kind, &desc, &f.CreatedAt)
	f.ValueKind = domain.ValueKind(kind)
	f.Description = desc.String
	return f, err
}

func (r Repo) GetField(ctx context.Context, id string) (domain.FieldDefinition, error) {
	f, err := scanField(r.DB.QueryRowContext(ctx, r.q(`SELECT id,name,value_kind,description,created_at FROM ticket_metadata_field_types WHERE id=?`), id).Scan)
	if err == sql.ErrNoRows {
		return f, ErrNotFound
	}
	return f, err
}

func (r Repo) GetFieldByName(ctx context.Context, name string) (domain.FieldDefinition, error) {
	f, err := scanField(r.DB.QueryRowContext(ctx, r.q(`SELECT id,name,value_kind,description,created_at FROM ticket_metadata_field_types WHERE name=?`), name).Scan)
	if err == sql.ErrNoRows {
		return f, ErrNotFound
	}
	return f, err
}

func (r Repo) ListFields(ctx context.Context) ([]domain.FieldDefinition, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,value_kind,description,created_at FROM ticket_metadata_field_types ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.FieldDefinition
	for rows.Next() {
		f, err := scanField(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, f)
	}
	return res, rows.Err()
}

// DeleteField removes the definition and every value that references it.
// The explicit value delete keeps the invariant when foreign keys are off.
func (r Repo) DeleteField(ctx context.Context, tx *sql.Tx, id string) (int64, error) {
	res, err := tx.ExecContext(ctx, r.q(`DELETE FROM ticket_metadata WHERE field_id=?`), id)
	if err != nil {
		return 0, fmt.Errorf("delete field values: %w", err)
	}
	removed, _ := res.RowsAffected()
	res, err = tx.ExecContext(ctx, r.q(`DELETE FROM ticket_metadata_field_types WHERE id=?`), id)
	if err != nil {
		return 0, err
	}
	return removed, affectedOrNotFound(res)
}

// CountFieldValues is used by tests and the CLI to show what a delete touches.
func (r Repo) CountFieldValues(ctx context.Context, fieldID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, r.q(`SELECT count(*) FROM ticket_metadata WHERE field_id=?`), fieldID).Scan(&n)
	return n, err
}

// Metadata

// slotColumn maps a value kind onto its storage column.
func slotColumn(kind domain.ValueKind) (string, error) {
	switch kind {
	case domain.KindText:
		return "value_text", nil
	case domain.KindInteger:
		return "value_int", nil
	case domain.KindFloat:
		return "value_float", nil
	case domain.KindBoolean:
		return "value_bool", nil
	case domain.KindDate:
		return "value_date", nil
	case domain.KindTimestamp:
		return "value_timestamp", nil
	case domain.KindUserRef:
		return "value_user_id", nil
	case domain.KindTicketRef:
		return "value_ticket_id", nil
	}
	return "", fmt.Errorf("invalid value kind %q", kind)
}

func (r Repo) UpsertMetadata(ctx context.Context, tx *sql.Tx, m domain.MetadataValue) error {
	if err := m.Value.Validate(); err != nil {
		return err
	}
	v := m.Value
	_, err := r.on(tx).ExecContext(ctx, r.q(`INSERT INTO ticket_metadata(ticket_id,field_id,value_text,value_int,value_float,value_bool,value_date,value_timestamp,value_user_id,value_ticket_id,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(ticket_id,field_id) DO UPDATE SET value_text=excluded.value_text, value_int=excluded.value_int, value_float=excluded.value_float,
value_bool=excluded.value_bool, value_date=excluded.value_date, value_timestamp=excluded.value_timestamp,
value_user_id=excluded.value_user_id, value_ticket_id=excluded.value_ticket_id, updated_at=excluded.updated_at`),
		m.TicketID, m.FieldID, ptrAny(v.Text), ptrAny(v.Int), ptrAny(v.Float), ptrAny(v.Bool), ptrAny(v.Date), ptrAny(v.Time),
		ptrAny(v.UserID), ptrAny(v.TicketID), m.UpdatedAt)
	return err
}

func (r Repo) DeleteMetadata(ctx context.Context, tx *sql.Tx, ticketID, fieldID string) error {
	res, err := r.on(tx).ExecContext(ctx, r.q(`DELETE FROM ticket_metadata WHERE ticket_id=? AND field_id=?`), ticketID, fieldID)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

// ListMetadata returns the values attached to a ticket, joined with their
// definitions so removed fields never show up.
func (r Repo) ListMetadata(ctx context.Context, ticketID string) ([]domain.MetadataValue, error) {
	rows, err := r.DB.QueryContext(ctx, r.q(`SELECT m.ticket_id,m.field_id,f.name,f.value_kind,m.value_text,m.value_int,m.value_float,m.value_bool,
m.value_date,m.value_timestamp,m.value_user_id,m.value_ticket_id,m.updated_at
FROM ticket_metadata m JOIN ticket_metadata_field_types f ON f.id=m.field_id
WHERE m.ticket_id=? ORDER BY f.name`), ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.MetadataValue
	for rows.Next() {
		var (
			m                                 domain.MetadataValue
			kind                              string
			text, date, ts, userID, refTicket sql.NullString
			intVal                            sql.NullInt64
			floatVal                          sql.NullFloat64
			boolVal                           sql.NullBool
		)
		if err := rows.Scan(&m.TicketID, &m.FieldID, &m.FieldName, &kind, &text, &intVal, &floatVal, &boolVal,
			&date, &ts, &userID, &refTicket, &m.UpdatedAt); err != nil {
			return nil, err
		}
		m.Kind = domain.ValueKind(kind)
		v := domain.Value{Kind: m.Kind}
		switch m.Kind {
		case domain.KindText:
			v.Text = ptrFromNull(text)
		case domain.KindInteger:
			if intVal.Valid {
				v.Int = &intVal.Int64
			}
		case domain.KindFloat:
			if floatVal.Valid {
				v.Float = &floatVal.Float64
			}
		case domain.KindBoolean:
			if boolVal.Valid {
				v.Bool = &boolVal.Bool
			}
		case domain.KindDate:
			v.Date = ptrFromNull(date)
		case domain.KindTimestamp:
			v.Time = ptrFromNull(ts)
		case domain.KindUserRef:
			v.UserID = ptrFromNull(userID)
		case domain.KindTicketRef:
			v.TicketID = ptrFromNull(refTicket)
		}
		if err := v.Validate(); err != nil {
			return nil, fmt.Errorf("ticket %s field %s: %w", m.TicketID, m.FieldName, err)
		}
		m.Value = v
		res = append(res, m)
	}
	return res, rows.Err()
}

func ptrAny[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}
