package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"deskline/internal/domain"
	"deskline/internal/filter"
)

type TicketFilters struct {
	Status          string
	TeamID          string
	AssigneeID      string
	CreatedBy       string
	Tag             string
	Metadata        []filter.Clause
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

const ticketColumns = `t.id,t.title,t.description,t.status,t.priority,t.created_by,t.assignee_id,t.team_id,t.created_at,t.updated_at`

func scanTicket(scan func(...any) error) (domain.Ticket, error) {
	var t domain.Ticket
	var desc, assignee, team sql.NullString
	err := scan(&t.ID, &t.Title, &desc, &t.Status, &t.Priority, &t.CreatedBy, &assignee, &team, &t.CreatedAt, &t.UpdatedAt)
	t.Description = desc.String
	t.AssigneeID = ptrFromNull(assignee)
	t.TeamID = ptrFromNull(team)
	return t, err
}

func (r Repo) InsertTicket(ctx context.Context, tx *sql.Tx, t domain.Ticket) error {
	_, err := r.on(tx).ExecContext(ctx, r.q(`INSERT INTO tickets(id,title,description,status,priority,created_by,assignee_id,team_id,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?)`),
		t.ID, t.Title, nullable(t.Description), t.Status, t.Priority, t.CreatedBy,
		nullableStringPtr(t.AssigneeID), nullableStringPtr(t.TeamID), t.CreatedAt, t.UpdatedAt)
	return err
}

func (r Repo) UpdateTicket(ctx context.Context, tx *sql.Tx, t domain.Ticket) error {
	res, err := r.on(tx).ExecContext(ctx, r.q(`UPDATE tickets SET title=?, description=?, status=?, priority=?, assignee_id=?, team_id=?, updated_at=? WHERE id=?`),
		t.Title, nullable(t.Description), t.Status, t.Priority, nullableStringPtr(t.AssigneeID), nullableStringPtr(t.TeamID), t.UpdatedAt, t.ID)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

func (r Repo) GetTicket(ctx context.Context, id string) (domain.Ticket, error) {
	t, err := scanTicket(r.DB.QueryRowContext(ctx, r.q(`SELECT `+ticketColumns+` FROM tickets t WHERE t.id=?`), id).Scan)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	tags, err := r.ticketTagNames(ctx, t.ID)
	if err != nil {
		return t, err
	}
	t.Tags = tags
	return t, nil
}

// ListTickets returns tickets newest first. Metadata clauses become one EXISTS
// sub-select each against the clause's typed slot.
func (r Repo) ListTickets(ctx context.Context, f TicketFilters) ([]domain.Ticket, error) {
	var (
		clauses []string
		args    []any
	)
	if f.Status != "" {
		clauses = append(clauses, "t.status=?")
		args = append(args, f.Status)
	}
	if f.TeamID != "" {
		clauses = append(clauses, "t.team_id=?")
		args = append(args, f.TeamID)
	}
	if f.AssigneeID != "" {
		clauses = append(clauses, "t.assignee_id=?")
		args = append(args, f.AssigneeID)
	}
	if f.CreatedBy != "" {
		clauses = append(clauses, "t.created_by=?")
		args = append(args, f.CreatedBy)
	}
	if f.Tag != "" {
		clauses = append(clauses, "EXISTS (SELECT 1 FROM ticket_tags tt JOIN tags g ON g.id=tt.tag_id WHERE tt.ticket_id=t.id AND g.name=?)")
		args = append(args, f.Tag)
	}
	for _, c := range f.Metadata {
		cond, arg, err := metadataCondition(c)
		if err != nil {
			return nil, err
		}
		clauses = append(clauses, "EXISTS (SELECT 1 FROM ticket_metadata m WHERE m.ticket_id=t.id AND m.field_id=? AND "+cond+")")
		args = append(args, c.FieldID, arg)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(t.created_at < ? OR (t.created_at = ? AND t.id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	query := `SELECT ` + ticketColumns + ` FROM tickets t`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY t.created_at DESC, t.id DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, r.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Ticket
	for rows.Next() {
		t, err := scanTicket(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func metadataCondition(c filter.Clause) (string, any, error) {
	if err := c.Value.Validate(); err != nil {
		return "", nil, err
	}
	if c.Value.Kind != c.Kind {
		return "", nil, fmt.Errorf("clause on %s field carries %s value", c.Kind, c.Value.Kind)
	}
	col, err := slotColumn(c.Kind)
	if err != nil {
		return "", nil, err
	}
	switch c.Op {
	case filter.OpEq:
		return "m." + col + "=?", c.Value.Any(), nil
	case filter.OpDateEq:
		day := c.Value.String()
		if len(day) > 10 {
			day = day[:10]
		}
		return "substr(m." + col + ",1,10)=?", day, nil
	}
	return "", nil, fmt.Errorf("unsupported filter operator %q", c.Op)
}

func (r Repo) DeleteTicket(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := r.on(tx).ExecContext(ctx, r.q(`DELETE FROM tickets WHERE id=?`), id)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

func (r Repo) MoveTicketToTeam(ctx context.Context, tx *sql.Tx, id, teamID, updatedAt string) error {
	res, err := r.on(tx).ExecContext(ctx, r.q(`UPDATE tickets SET team_id=?, updated_at=? WHERE id=?`), teamID, updatedAt, id)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

// Tags

func (r Repo) InsertTagType(ctx context.Context, tx *sql.Tx, tt domain.TagType) error {
	_, err := r.on(tx).ExecContext(ctx, r.q(`INSERT INTO tag_types(id,name,color) VALUES (?,?,?)`), tt.ID, tt.Name, nullable(tt.Color))
	return err
}

func (r Repo) ListTagTypes(ctx context.Context) ([]domain.TagType, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,COALESCE(color,'') FROM tag_types ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TagType
	for rows.Next() {
		var tt domain.TagType
		if err := rows.Scan(&tt.ID, &tt.Name, &tt.Color); err != nil {
			return nil, err
		}
		res = append(res, tt)
	}
	return res, rows.Err()
}

func (r Repo) InsertTag(ctx context.Context, tx *sql.Tx, t domain.Tag) error {
	_, err := r.on(tx).ExecContext(ctx, r.q(`INSERT INTO tags(id,name,tag_type_id) VALUES (?,?,?)`), t.ID, t.Name, nullableStringPtr(t.TagTypeID))
	return err
}

func (r Repo) GetTag(ctx context.Context, id string) (domain.Tag, error) {
	var t domain.Tag
	var typeID sql.NullString
	err := r.DB.QueryRowContext(ctx, r.q(`SELECT id,name,tag_type_id FROM tags WHERE id=?`), id).Scan(&t.ID, &t.Name, &typeID)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	t.TagTypeID = ptrFromNull(typeID)
	return t, err
}

func (r Repo) ListTags(ctx context.Context) ([]domain.Tag, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,tag_type_id FROM tags ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Tag
	for rows.Next() {
		var t domain.Tag
		var typeID sql.NullString
		if err := rows.Scan(&t.ID, &t.Name, &typeID); err != nil {
			return nil, err
		}
		t.TagTypeID = ptrFromNull(typeID)
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) DeleteTag(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := r.on(tx).ExecContext(ctx, r.q(`DELETE FROM tags WHERE id=?`), id)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

func (r Repo) AddTicketTag(ctx context.Context, tx *sql.Tx, ticketID, tagID string) error {
	_, err := r.on(tx).ExecContext(ctx, r.q(`INSERT INTO ticket_tags(ticket_id,tag_id) VALUES (?,?) ON CONFLICT DO NOTHING`), ticketID, tagID)
	return err
}

func (r Repo) RemoveTicketTag(ctx context.Context, tx *sql.Tx, ticketID, tagID string) error {
	res, err := r.on(tx).ExecContext(ctx, r.q(`DELETE FROM ticket_tags WHERE ticket_id=? AND tag_id=?`), ticketID, tagID)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

func (r Repo) ticketTagNames(ctx context.Context, ticketID string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, r.q(`SELECT g.name FROM ticket_tags tt JOIN tags g ON g.id=tt.tag_id WHERE tt.ticket_id=? ORDER BY g.name`), ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// Messages

func (r Repo) InsertMessage(ctx context.Context, tx *sql.Tx, m domain.TicketMessage) error {
	_, err := r.on(tx).ExecContext(ctx, r.q(`INSERT INTO ticket_messages(id,ticket_id,sender_id,body,created_at) VALUES (?,?,?,?,?)`),
		m.ID, m.TicketID, m.SenderID, m.Body, m.CreatedAt)
	return err
}

func (r Repo) ListMessages(ctx context.Context, ticketID string) ([]domain.TicketMessage, error) {
	rows, err := r.DB.QueryContext(ctx, r.q(`SELECT id,ticket_id,sender_id,body,created_at FROM ticket_messages WHERE ticket_id=? ORDER BY created_at, id`), ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TicketMessage
	for rows.Next() {
		var m domain.TicketMessage
		if err := rows.Scan(&m.ID, &m.TicketID, &m.SenderID, &m.Body, &m.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}
