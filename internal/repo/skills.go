package repo

import (
	"context"
	"database/sql"

	"deskline/internal/domain"
)

func (r Repo) InsertSkill(ctx context.Context, tx *sql.Tx, s domain.Skill) error {
	_, err := r.on(tx).ExecContext(ctx, r.q(`INSERT INTO skills(id,name) VALUES (?,?)`), s.ID, s.Name)
	return err
}

func (r Repo) ListSkills(ctx context.Context) ([]domain.Skill, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name FROM skills ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Skill
	for rows.Next() {
		var s domain.Skill
		if err := rows.Scan(&s.ID, &s.Name); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

func (r Repo) GetSkill(ctx context.Context, id string) (domain.Skill, error) {
	var s domain.Skill
	err := r.DB.QueryRowContext(ctx, r.q(`SELECT id,name FROM skills WHERE id=?`), id).Scan(&s.ID, &s.Name)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	return s, err
}

func (r Repo) InsertProficiency(ctx context.Context, tx *sql.Tx, p domain.Proficiency) error {
	_, err := r.on(tx).ExecContext(ctx, r.q(`INSERT INTO proficiencies(id,name,rank) VALUES (?,?,?)`), p.ID, p.Name, p.Rank)
	return err
}

func (r Repo) ListProficiencies(ctx context.Context) ([]domain.Proficiency, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,rank FROM proficiencies ORDER BY rank, name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Proficiency
	for rows.Next() {
		var p domain.Proficiency
		if err := rows.Scan(&p.ID, &p.Name, &p.Rank); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) GetProficiency(ctx context.Context, id string) (domain.Proficiency, error) {
	var p domain.Proficiency
	err := r.DB.QueryRowContext(ctx, r.q(`SELECT id,name,rank FROM proficiencies WHERE id=?`), id).Scan(&p.ID, &p.Name, &p.Rank)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	return p, err
}

// UpsertAgentSkill records or changes the proficiency a user holds in a skill.
func (r Repo) UpsertAgentSkill(ctx context.Context, tx *sql.Tx, s domain.AgentSkill) error {
	_, err := r.on(tx).ExecContext(ctx, r.q(`INSERT INTO agent_skills(user_id,skill_id,proficiency_id) VALUES (?,?,?)
ON CONFLICT(user_id,skill_id) DO UPDATE SET proficiency_id=excluded.proficiency_id`), s.UserID, s.SkillID, s.ProficiencyID)
	return err
}

func (r Repo) DeleteAgentSkill(ctx context.Context, tx *sql.Tx, userID, skillID string) error {
	res, err := r.on(tx).ExecContext(ctx, r.q(`DELETE FROM agent_skills WHERE user_id=? AND skill_id=?`), userID, skillID)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

func (r Repo) ListAgentSkills(ctx context.Context, userID string) ([]domain.AgentSkill, error) {
	rows, err := r.DB.QueryContext(ctx, r.q(`SELECT a.user_id,a.skill_id,s.name,a.proficiency_id,p.name
FROM agent_skills a JOIN skills s ON s.id=a.skill_id JOIN proficiencies p ON p.id=a.proficiency_id
WHERE a.user_id=? ORDER BY s.name`), userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.AgentSkill
	for rows.Next() {
		var s domain.AgentSkill
		if err := rows.Scan(&s.UserID, &s.SkillID, &s.SkillName, &s.ProficiencyID, &s.ProficiencyName); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// Vocabulary

func (r Repo) TeamNames(ctx context.Context) ([]string, error) {
	return r.names(ctx, `SELECT name FROM teams ORDER BY name`)
}

func (r Repo) SkillNames(ctx context.Context) ([]string, error) {
	return r.names(ctx, `SELECT name FROM skills ORDER BY name`)
}

func (r Repo) ProficiencyNames(ctx context.Context) ([]string, error) {
	return r.names(ctx, `SELECT name FROM proficiencies ORDER BY rank, name`)
}

func (r Repo) names(ctx context.Context, query string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []string{}
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		res = append(res, n)
	}
	return res, rows.Err()
}
