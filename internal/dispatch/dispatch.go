// Package dispatch turns a free-text command into a structured directory
// query through the reasoning model and classifies what comes back.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"deskline/internal/llm"
	"deskline/internal/repo"
)

const FunctionName = "listOperators"

const DefaultSystemPrompt = `You are the power-tools assistant of a CRM admin console.
Answer requests about support operators by calling listOperators with the filters the user asked for.
Only use team, skill and proficiency names from the allowed values.
Set action to "delete" or "reassign" only when the user explicitly asks to remove or move the operators; for a reassignment set targetTeam.
If the request is not about operators, answer briefly in plain text.`

// Output fields the model may request.
var OutputFields = []string{"name", "role", "is_team_lead", "team", "skills"}

const (
	StageVocabulary = "vocabulary"
	StageModel      = "model"
	StageQuery      = "query"
)

var ErrEmptyText = errors.New("text is required")

// StageError marks which step failed. Its message is the underlying error's,
// unchanged.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string { return e.Err.Error() }
func (e *StageError) Unwrap() error { return e.Err }

type Vocabulary interface {
	TeamNames(ctx context.Context) ([]string, error)
	SkillNames(ctx context.Context) ([]string, error)
	ProficiencyNames(ctx context.Context) ([]string, error)
}

type OperatorSource interface {
	ListOperators(ctx context.Context, q repo.OperatorQuery) ([]repo.OperatorRow, error)
}

type TraceEntry struct {
	Type      string `json:"type" enum:"vocabulary,model_call,function_call,function_result"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
	Result    any    `json:"result,omitempty"`
	Error     string `json:"error,omitempty"`
}

type Response struct {
	Input          string        `json:"input"`
	Output         string        `json:"output"`
	Description    string        `json:"description"`
	Result         CommandResult `json:"result"`
	Trace          []TraceEntry  `json:"trace"`
	ProcessedAt    time.Time     `json:"processed_at"`
	ProcessingTime time.Duration `json:"processing_time"`
}

type Dispatcher struct {
	Vocabulary   Vocabulary
	Model        llm.Model
	Operators    OperatorSource
	SystemPrompt string
	Logger       *zap.Logger
	Now          func() time.Time
}

type vocabulary struct {
	Teams         []string
	Skills        []string
	Proficiencies []string
}

type listOperatorsArgs struct {
	Description     string   `json:"description"`
	TeamName        string   `json:"teamName"`
	SkillName       string   `json:"skillName"`
	ProficiencyName string   `json:"proficiencyName"`
	IsTeamLead      *bool    `json:"isTeamLead"`
	Fields          []string `json:"fields"`
	Action          string   `json:"action"`
	TargetTeam      string   `json:"targetTeam"`
}

func (d Dispatcher) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func (d Dispatcher) logger() *zap.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return zap.NewNop()
}

// Dispatch runs one command. Vocabulary, model and query failures abort the
// command with the original error wrapped in a StageError; the returned
// Response still carries the trace up to the failure. Nothing is retried.
func (d Dispatcher) Dispatch(ctx context.Context, text string) (Response, error) {
	start := d.now()
	text = strings.TrimSpace(text)
	resp := Response{Input: text, Trace: []TraceEntry{}}
	if text == "" {
		return resp, ErrEmptyText
	}
	log := d.logger().With(zap.String("input", text))

	vocab, err := d.fetchVocabulary(ctx)
	if err != nil {
		resp.Trace = append(resp.Trace, TraceEntry{Type: "vocabulary", Error: err.Error()})
		log.Info("dispatch failed", zap.String("stage", StageVocabulary), zap.Error(err))
		return resp, &StageError{Stage: StageVocabulary, Err: err}
	}
	resp.Trace = append(resp.Trace, TraceEntry{Type: "vocabulary", Result: map[string]int{
		"teams": len(vocab.Teams), "skills": len(vocab.Skills), "proficiencies": len(vocab.Proficiencies),
	}})
	log.Debug("vocabulary fetched", zap.Int("teams", len(vocab.Teams)), zap.Int("skills", len(vocab.Skills)))

	system := d.SystemPrompt
	if system == "" {
		system = DefaultSystemPrompt
	}
	out, err := d.Model.Generate(ctx, llm.Request{
		System:    system,
		Prompt:    text,
		Functions: []llm.FunctionSpec{listOperatorsSpec(vocab)},
	})
	if err != nil {
		resp.Trace = append(resp.Trace, TraceEntry{Type: "model_call", Error: err.Error()})
		log.Info("dispatch failed", zap.String("stage", StageModel), zap.Error(err))
		return resp, &StageError{Stage: StageModel, Err: err}
	}
	resp.Trace = append(resp.Trace, TraceEntry{Type: "model_call", Result: map[string]int{"function_calls": len(out.Calls)}})

	call, ok := findCall(out.Calls)
	if !ok {
		// Free text never proposes an action, whatever it looks like.
		resp.Output = out.Content
		resp.Result = CommandResult{Kind: KindListing, Subjects: []Person{}, Text: out.Content}
		return d.finish(resp, start, log), nil
	}
	resp.Trace = append(resp.Trace, TraceEntry{Type: "function_call", Name: call.Name, Arguments: call.Arguments})
	log.Debug("function call", zap.String("arguments", call.Arguments))

	var args listOperatorsArgs
	if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
		// Unreadable arguments degrade to showing them as text.
		resp.Output = call.Arguments
		resp.Result = CommandResult{Kind: KindListing, Subjects: []Person{}, Text: call.Arguments}
		return d.finish(resp, start, log), nil
	}
	resp.Description = args.Description
	q, fields, err := args.query(vocab)
	if err != nil {
		resp.Trace = append(resp.Trace, TraceEntry{Type: "function_result", Name: call.Name, Error: err.Error()})
		return resp, &StageError{Stage: StageQuery, Err: err}
	}
	rows, err := d.Operators.ListOperators(ctx, q)
	if err != nil {
		resp.Trace = append(resp.Trace, TraceEntry{Type: "function_result", Name: call.Name, Error: err.Error()})
		log.Info("dispatch failed", zap.String("stage", StageQuery), zap.Error(err))
		return resp, &StageError{Stage: StageQuery, Err: err}
	}
	persons := project(rows, fields, args.Action, args.TargetTeam)
	encoded, err := json.Marshal(persons)
	if err != nil {
		return resp, &StageError{Stage: StageQuery, Err: err}
	}
	resp.Output = string(encoded)
	resp.Trace = append(resp.Trace, TraceEntry{Type: "function_result", Name: call.Name, Result: json.RawMessage(encoded)})
	resp.Result = Interpret(resp.Output)
	return d.finish(resp, start, log), nil
}

func (d Dispatcher) finish(resp Response, start time.Time, log *zap.Logger) Response {
	resp.ProcessedAt = d.now().UTC()
	resp.ProcessingTime = resp.ProcessedAt.Sub(start)
	log.Info("dispatch done",
		zap.String("kind", string(resp.Result.Kind)),
		zap.Int("subjects", len(resp.Result.Subjects)),
		zap.Bool("ambiguous", resp.Result.Ambiguous),
		zap.Duration("took", resp.ProcessingTime))
	return resp
}

// fetchVocabulary reads the three name lists concurrently; the first failure
// cancels the others.
func (d Dispatcher) fetchVocabulary(ctx context.Context) (vocabulary, error) {
	var v vocabulary
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		names, err := d.Vocabulary.TeamNames(gctx)
		v.Teams = names
		return err
	})
	g.Go(func() error {
		names, err := d.Vocabulary.SkillNames(gctx)
		v.Skills = names
		return err
	})
	g.Go(func() error {
		names, err := d.Vocabulary.ProficiencyNames(gctx)
		v.Proficiencies = names
		return err
	})
	if err := g.Wait(); err != nil {
		return vocabulary{}, err
	}
	return v, nil
}

func findCall(calls []llm.FunctionCall) (llm.FunctionCall, bool) {
	for _, c := range calls {
		if c.Name == FunctionName {
			return c, true
		}
	}
	return llm.FunctionCall{}, false
}

func listOperatorsSpec(v vocabulary) llm.FunctionSpec {
	props := map[string]*llm.Schema{
		"description": {Type: "string", Description: "One sentence describing what is being listed"},
		"teamName":    {Type: "string", Description: "Only operators in this team", Enum: v.Teams},
		"skillName":   {Type: "string", Description: "Only operators with this skill", Enum: v.Skills},
		"proficiencyName": {
			Type: "string", Description: "Only operators holding a skill at this proficiency", Enum: v.Proficiencies,
		},
		"isTeamLead": {Type: "boolean", Description: "Filter on team-lead status"},
		"fields": {
			Type: "array", Description: "Fields to include per operator; all when omitted",
			Items: &llm.Schema{Type: "string", Enum: OutputFields},
		},
		"action": {
			Type: "string", Description: "What the user wants done with the operators",
			Enum: []string{"list", "delete", "reassign"},
		},
		"targetTeam": {Type: "string", Description: "Team to move operators to when action is reassign", Enum: v.Teams},
	}
	return llm.FunctionSpec{
		Name:        FunctionName,
		Description: "List support operators, optionally filtered by team, skill, proficiency and team-lead status",
		Parameters:  &llm.Schema{Type: "object", Properties: props, Required: []string{"description"}},
	}
}

// query validates the arguments against the vocabulary the model was given.
func (a listOperatorsArgs) query(v vocabulary) (repo.OperatorQuery, map[string]bool, error) {
	q := repo.OperatorQuery{IsTeamLead: a.IsTeamLead}
	if a.TeamName != "" {
		if !contains(v.Teams, a.TeamName) {
			return q, nil, fmt.Errorf("unknown team %q", a.TeamName)
		}
		q.TeamName = a.TeamName
	}
	if a.SkillName != "" {
		if !contains(v.Skills, a.SkillName) {
			return q, nil, fmt.Errorf("unknown skill %q", a.SkillName)
		}
		q.SkillName = a.SkillName
	}
	if a.ProficiencyName != "" {
		if !contains(v.Proficiencies, a.ProficiencyName) {
			return q, nil, fmt.Errorf("unknown proficiency %q", a.ProficiencyName)
		}
		q.ProficiencyName = a.ProficiencyName
	}
	switch a.Action {
	case "", "list", "delete":
	case "reassign":
		if !contains(v.Teams, a.TargetTeam) {
			return q, nil, fmt.Errorf("unknown target team %q", a.TargetTeam)
		}
	default:
		return q, nil, fmt.Errorf("unknown action %q", a.Action)
	}
	fields := map[string]bool{}
	for _, f := range a.Fields {
		if !contains(OutputFields, f) {
			return q, nil, fmt.Errorf("unknown field %q", f)
		}
		fields[f] = true
	}
	if len(fields) == 0 {
		for _, f := range OutputFields {
			fields[f] = true
		}
	}
	return q, fields, nil
}

func project(rows []repo.OperatorRow, fields map[string]bool, action, targetTeam string) []Person {
	out := make([]Person, 0, len(rows))
	for _, r := range rows {
		p := Person{ID: r.ID}
		if fields["name"] {
			p.Name = r.Name
		}
		if fields["role"] {
			p.Role = r.Role
		}
		if fields["is_team_lead"] {
			lead := r.IsTeamLead
			p.IsTeamLead = &lead
		}
		if fields["team"] {
			p.Team = r.Team
		}
		if fields["skills"] {
			p.Skills = r.Skills
		}
		switch action {
		case "delete":
			p.Delete = true
		case "reassign":
			p.Reassign = true
			p.TargetTeam = targetTeam
		}
		out = append(out, p)
	}
	return out
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
