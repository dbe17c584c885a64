package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"deskline/internal/db"
	"deskline/internal/domain"
)

type Repo struct {
	DB      *sql.DB
	Dialect db.Dialect
}

var ErrNotFound = errors.New("not found")

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r Repo) on(tx *sql.Tx) execer {
	if tx != nil {
		return tx
	}
	return r.DB
}

func (r Repo) q(query string) string {
	return r.Dialect.Rebind(query)
}

// IsUniqueViolation reports whether err is a unique-constraint failure on
// either backend.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func ptrFromNull(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func affectedOrNotFound(res sql.Result) error {
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Teams

func (r Repo) InsertTeam(ctx context.Context, tx *sql.Tx, t domain.Team) error {
	_, err := r.on(tx).ExecContext(ctx, r.q(`INSERT INTO teams(id,name,description,created_at) VALUES (?,?,?,?)`),
		t.ID, t.Name, nullable(t.Description), t.CreatedAt)
	return err
}

func (r Repo) GetTeam(ctx context.Context, id string) (domain.Team, error) {
	var t domain.Team
	var desc sql.NullString
	err := r.DB.QueryRowContext(ctx, r.q(`SELECT id,name,description,created_at FROM teams WHERE id=?`), id).
		Scan(&t.ID, &t.Name, &desc, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	t.Description = desc.String
	return t, err
}

func (r Repo) GetTeamByName(ctx context.Context, name string) (domain.Team, error) {
	var t domain.Team
	var desc sql.NullString
	err := r.DB.QueryRowContext(ctx, r.q(`SELECT id,name,description,created_at FROM teams WHERE name=?`), name).
		Scan(&t.ID, &t.Name, &desc, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	t.Description = desc.String
	return t, err
}

func (r Repo) ListTeams(ctx context.Context) ([]domain.Team, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,description,created_at FROM teams ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Team
	for rows.Next() {
		var t domain.Team
		var desc sql.NullString
		if err := rows.Scan(&t.ID, &t.Name, &desc, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Description = desc.String
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) DeleteTeam(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := r.on(tx).ExecContext(ctx, r.q(`DELETE FROM teams WHERE id=?`), id)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

// Users

type UserFilters struct {
	TeamID     string
	Role       string
	IsTeamLead *bool
	Search     string
	IDs        []string
}

const userColumns = `u.id,u.name,u.email,u.role,u.is_team_lead,u.team_id,COALESCE(t.name,''),u.created_at`

func scanUser(scan func(...any) error) (domain.User, error) {
	var u domain.User
	var teamID sql.NullString
	err := scan(&u.ID, &u.Name, &u.Email, &u.Role, &u.IsTeamLead, &teamID, &u.TeamName, &u.CreatedAt)
	u.TeamID = ptrFromNull(teamID)
	return u, err
}

func (r Repo) InsertUser(ctx context.Context, tx *sql.Tx, u domain.User) error {
	_, err := r.on(tx).ExecContext(ctx, r.q(`INSERT INTO users(id,name,email,role,is_team_lead,team_id,created_at) VALUES (?,?,?,?,?,?,?)`),
		u.ID, u.Name, u.Email, u.Role, u.IsTeamLead, nullableStringPtr(u.TeamID), u.CreatedAt)
	return err
}

func (r Repo) GetUser(ctx context.Context, id string) (domain.User, error) {
	row := r.DB.QueryRowContext(ctx, r.q(`SELECT `+userColumns+` FROM users u LEFT JOIN teams t ON t.id=u.team_id WHERE u.id=?`), id)
	u, err := scanUser(row.Scan)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	return u, err
}

func (r Repo) ListUsers(ctx context.Context, f UserFilters) ([]domain.User, error) {
	var (
		clauses []string
		args    []any
	)
	if f.TeamID != "" {
		clauses = append(clauses, "u.team_id=?")
		args = append(args, f.TeamID)
	}
	if f.Role != "" {
		clauses = append(clauses, "u.role=?")
		args = append(args, f.Role)
	}
	if f.IsTeamLead != nil {
		clauses = append(clauses, "u.is_team_lead=?")
		args = append(args, *f.IsTeamLead)
	}
	if f.Search != "" {
		clauses = append(clauses, "(LOWER(u.name) LIKE ? OR LOWER(u.email) LIKE ?)")
		pattern := "%" + strings.ToLower(f.Search) + "%"
		args = append(args, pattern, pattern)
	}
	if len(f.IDs) > 0 {
		clauses = append(clauses, "u.id IN ("+placeholders(len(f.IDs))+")")
		for _, id := range f.IDs {
			args = append(args, id)
		}
	}
	query := `SELECT ` + userColumns + ` FROM users u LEFT JOIN teams t ON t.id=u.team_id`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY u.name, u.id"
	rows, err := r.DB.QueryContext(ctx, r.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.User
	for rows.Next() {
		u, err := scanUser(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

// UpdateUser applies the non-nil fields.
func (r Repo) UpdateUser(ctx context.Context, tx *sql.Tx, id string, name, role *string, isTeamLead *bool, teamID *string, clearTeam bool) error {
	var (
		fields []string
		args   []any
	)
	if name != nil {
		fields = append(fields, "name=?")
		args = append(args, *name)
	}
	if role != nil {
		fields = append(fields, "role=?")
		args = append(args, *role)
	}
	if isTeamLead != nil {
		fields = append(fields, "is_team_lead=?")
		args = append(args, *isTeamLead)
	}
	if clearTeam {
		fields = append(fields, "team_id=NULL")
	} else if teamID != nil {
		fields = append(fields, "team_id=?")
		args = append(args, *teamID)
	}
	if len(fields) == 0 {
		return nil
	}
	args = append(args, id)
	res, err := r.on(tx).ExecContext(ctx, r.q(fmt.Sprintf(`UPDATE users SET %s WHERE id=?`, strings.Join(fields, ","))), args...)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

// DeleteUser removes the user row; tickets, messages, metadata references,
// skills and api keys go with it through ON DELETE CASCADE.
func (r Repo) DeleteUser(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := r.on(tx).ExecContext(ctx, r.q(`DELETE FROM users WHERE id=?`), id)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

// UserFootprint counts what a user deletion takes with it.
type UserFootprint struct {
	Tickets        int `json:"tickets"`
	Messages       int `json:"messages"`
	MetadataValues int `json:"metadata_values"`
	Skills         int `json:"skills"`
	TeamMember     int `json:"team_memberships"`
}

func (r Repo) UserFootprint(ctx context.Context, ids []string) (UserFootprint, error) {
	var fp UserFootprint
	if len(ids) == 0 {
		return fp, nil
	}
	in := placeholders(len(ids))
	args := make([]any, 0, len(ids))
	for _, id := range ids {
		args = append(args, id)
	}
	counts := []struct {
		dst   *int
		query string
	}{
		{&fp.Tickets, `SELECT count(*) FROM tickets WHERE created_by IN (` + in + `)`},
		{&fp.Messages, `SELECT count(*) FROM ticket_messages WHERE sender_id IN (` + in + `)`},
		{&fp.MetadataValues, `SELECT count(*) FROM ticket_metadata WHERE value_user_id IN (` + in + `)`},
		{&fp.Skills, `SELECT count(*) FROM agent_skills WHERE user_id IN (` + in + `)`},
		{&fp.TeamMember, `SELECT count(*) FROM users WHERE team_id IS NOT NULL AND id IN (` + in + `)`},
	}
	for _, c := range counts {
		if err := r.DB.QueryRowContext(ctx, r.q(c.query), args...).Scan(c.dst); err != nil {
			return fp, err
		}
	}
	return fp, nil
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
