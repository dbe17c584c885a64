package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"deskline/internal/bulk"
	"deskline/internal/repo"
)

type Kind string

const (
	KindListing         Kind = "listing"
	KindDeletePending   Kind = "delete-pending"
	KindReassignPending Kind = "reassign-pending"
)

// Person is one result row. Only the requested fields are filled; ID is
// always present so the row can be selected.
type Person struct {
	ID         string               `json:"id,omitempty"`
	Name       string               `json:"name,omitempty"`
	Role       string               `json:"role,omitempty"`
	IsTeamLead *bool                `json:"is_team_lead,omitempty"`
	Team       string               `json:"team,omitempty"`
	Skills     []repo.OperatorSkill `json:"skills,omitempty"`
	Delete     bool                 `json:"delete,omitempty"`
	Reassign   bool                 `json:"reassign,omitempty"`
	TargetTeam string               `json:"targetTeam,omitempty"`
}

type CommandResult struct {
	Kind       Kind     `json:"kind" enum:"listing,delete-pending,reassign-pending"`
	Subjects   []Person `json:"subjects"`
	TargetTeam string   `json:"target_team,omitempty"`
	Text       string   `json:"text,omitempty"`
	// Ambiguous is set when rows carry both flags or disagree on the target
	// team; no action is proposed then.
	Ambiguous bool `json:"ambiguous,omitempty"`
}

type Flags struct {
	IsDelete   bool
	IsReassign bool
}

// Classify reports whether any row asks for a delete or a reassignment.
func Classify(rows []Person) Flags {
	var f Flags
	for _, r := range rows {
		f.IsDelete = f.IsDelete || r.Delete
		f.IsReassign = f.IsReassign || r.Reassign
	}
	return f
}

// Resolve turns classified rows into a command result.
func Resolve(rows []Person) CommandResult {
	if rows == nil {
		rows = []Person{}
	}
	res := CommandResult{Kind: KindListing, Subjects: rows}
	f := Classify(rows)
	switch {
	case f.IsDelete && f.IsReassign:
		res.Ambiguous = true
	case f.IsDelete:
		res.Kind = KindDeletePending
	case f.IsReassign:
		target, ok := unanimousTarget(rows)
		if !ok {
			res.Ambiguous = true
			break
		}
		res.Kind = KindReassignPending
		res.TargetTeam = target
	}
	return res
}

func unanimousTarget(rows []Person) (string, bool) {
	target := ""
	for _, r := range rows {
		if !r.Reassign {
			continue
		}
		if r.TargetTeam == "" {
			return "", false
		}
		if target != "" && r.TargetTeam != target {
			return "", false
		}
		target = r.TargetTeam
	}
	return target, target != ""
}

// Interpret parses a model or function output. Anything that is not a JSON
// array of rows is shown as text with no action.
func Interpret(output string) CommandResult {
	trimmed := strings.TrimSpace(output)
	if strings.HasPrefix(trimmed, "[") {
		var rows []Person
		if err := json.Unmarshal([]byte(trimmed), &rows); err == nil {
			return Resolve(rows)
		}
	}
	return CommandResult{Kind: KindListing, Subjects: []Person{}, Text: output}
}

// TeamLookup resolves a team name to its id.
type TeamLookup func(ctx context.Context, name string) (string, error)

// Route hands a pending result to the bulk controller: the flagged rows
// become the selection and the matching action is requested. Listings leave
// the controller alone.
func Route(ctx context.Context, res CommandResult, c *bulk.Controller, lookup TeamLookup) error {
	switch res.Kind {
	case KindDeletePending:
		ids := flaggedIDs(res.Subjects, func(p Person) bool { return p.Delete })
		if len(ids) == 0 {
			return bulk.ErrEmptySelection
		}
		c.SelectAll(ids)
		return c.RequestDelete()
	case KindReassignPending:
		ids := flaggedIDs(res.Subjects, func(p Person) bool { return p.Reassign })
		if len(ids) == 0 {
			return bulk.ErrEmptySelection
		}
		teamID, err := lookup(ctx, res.TargetTeam)
		if err != nil {
			return fmt.Errorf("target team %q: %w", res.TargetTeam, err)
		}
		c.SelectAll(ids)
		return c.RequestReassign(teamID)
	}
	return nil
}

func flaggedIDs(rows []Person, flagged func(Person) bool) []string {
	var ids []string
	for _, r := range rows {
		if flagged(r) && r.ID != "" {
			ids = append(ids, r.ID)
		}
	}
	return ids
}
