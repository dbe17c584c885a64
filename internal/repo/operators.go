package repo

import (
	"context"
	"strings"
)

// OperatorQuery holds the filters the command dispatcher may apply to the
// user directory. Empty strings and a nil IsTeamLead mean "no filter".
type OperatorQuery struct {
	TeamName        string
	SkillName       string
	ProficiencyName string
	IsTeamLead      *bool
}

type OperatorSkill struct {
	Skill       string `json:"skill"`
	Proficiency string `json:"proficiency"`
}

type OperatorRow struct {
	ID         string
	Name       string
	Role       string
	IsTeamLead bool
	Team       string
	Skills     []OperatorSkill
}

// ListOperators runs the user directory query behind listOperators. A team
// filter requires a joined team with that name; skill and proficiency filters
// require a skill assignment matching both when both are given.
func (r Repo) ListOperators(ctx context.Context, q OperatorQuery) ([]OperatorRow, error) {
	var (
		clauses []string
		args    []any
	)
	if q.TeamName != "" {
		clauses = append(clauses, "t.id IS NOT NULL AND t.name=?")
		args = append(args, q.TeamName)
	}
	if q.IsTeamLead != nil {
		clauses = append(clauses, "u.is_team_lead=?")
		args = append(args, *q.IsTeamLead)
	}
	if q.SkillName != "" || q.ProficiencyName != "" {
		sub := `EXISTS (SELECT 1 FROM agent_skills a JOIN skills s ON s.id=a.skill_id JOIN proficiencies p ON p.id=a.proficiency_id WHERE a.user_id=u.id`
		if q.SkillName != "" {
			sub += " AND s.name=?"
			args = append(args, q.SkillName)
		}
		if q.ProficiencyName != "" {
			sub += " AND p.name=?"
			args = append(args, q.ProficiencyName)
		}
		clauses = append(clauses, sub+")")
	}
	query := `SELECT u.id,u.name,u.role,u.is_team_lead,COALESCE(t.name,'') FROM users u LEFT JOIN teams t ON t.id=u.team_id`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY u.name, u.id"
	rows, err := r.DB.QueryContext(ctx, r.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var (
		res   []OperatorRow
		index = map[string]int{}
	)
	for rows.Next() {
		var o OperatorRow
		if err := rows.Scan(&o.ID, &o.Name, &o.Role, &o.IsTeamLead, &o.Team); err != nil {
			return nil, err
		}
		index[o.ID] = len(res)
		res = append(res, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(res) == 0 {
		return res, nil
	}
	ids := make([]any, 0, len(res))
	for _, o := range res {
		ids = append(ids, o.ID)
	}
	skillRows, err := r.DB.QueryContext(ctx, r.q(`SELECT a.user_id,s.name,p.name FROM agent_skills a
JOIN skills s ON s.id=a.skill_id JOIN proficiencies p ON p.id=a.proficiency_id
WHERE a.user_id IN (`+placeholders(len(ids))+`) ORDER BY s.name`), ids...)
	if err != nil {
		return nil, err
	}
	defer skillRows.Close()
	for skillRows.Next() {
		var userID string
		var s OperatorSkill
		if err := skillRows.Scan(&userID, &s.Skill, &s.Proficiency); err != nil {
			return nil, err
		}
		i := index[userID]
		res[i].Skills = append(res[i].Skills, s)
	}
	return res, skillRows.Err()
}
