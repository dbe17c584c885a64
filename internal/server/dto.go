package server

import (
	"encoding/json"

	"deskline/internal/bulk"
	"deskline/internal/dispatch"
	"deskline/internal/domain"
	"deskline/internal/filter"
	"deskline/internal/session"
)

// Request payloads

type CreateFieldRequest struct {
	Name        string           `json:"name"`
	ValueKind   domain.ValueKind `json:"value_kind" enum:"text,integer,float,boolean,date,timestamp,user-reference,ticket-reference"`
	Description *string          `json:"description,omitempty"`
}

type CreateTicketRequest struct {
	Title       string   `json:"title"`
	Description *string  `json:"description,omitempty"`
	Priority    *string  `json:"priority,omitempty" enum:"low,medium,high"`
	AssigneeID  *string  `json:"assignee_id,omitempty"`
	TeamID      *string  `json:"team_id,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

type UpdateTicketRequest struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Status      *string `json:"status,omitempty" enum:"open,pending,closed"`
	Priority    *string `json:"priority,omitempty" enum:"low,medium,high"`
	AssigneeID  *string `json:"assignee_id,omitempty" nullable:"true"`
	TeamID      *string `json:"team_id,omitempty" nullable:"true"`
}

type SetValueRequest struct {
	Value any `json:"value"`
}

type PostMessageRequest struct {
	Body string `json:"body"`
}

type CreateTagTypeRequest struct {
	Name  string  `json:"name"`
	Color *string `json:"color,omitempty"`
}

type CreateTagRequest struct {
	Name      string  `json:"name"`
	TagTypeID *string `json:"tag_type_id,omitempty"`
}

type CreateTeamRequest struct {
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
}

type CreateUserRequest struct {
	Name       string  `json:"name"`
	Email      string  `json:"email"`
	Role       string  `json:"role,omitempty" enum:"admin,agent,customer"`
	IsTeamLead bool    `json:"is_team_lead,omitempty"`
	TeamID     *string `json:"team_id,omitempty"`
}

type UpdateUserRequest struct {
	Name       *string `json:"name,omitempty"`
	Role       *string `json:"role,omitempty" enum:"admin,agent,customer"`
	IsTeamLead *bool   `json:"is_team_lead,omitempty"`
	TeamID     *string `json:"team_id,omitempty" nullable:"true"`
}

type SetAgentSkillRequest struct {
	ProficiencyID string `json:"proficiency_id"`
}

type CreateSkillRequest struct {
	Name string `json:"name"`
}

type CreateProficiencyRequest struct {
	Name string `json:"name"`
	Rank int    `json:"rank"`
}

type FiltersEnabledRequest struct {
	Enabled bool `json:"enabled"`
}

type SelectionRequest struct {
	Mode     string   `json:"mode" enum:"all,one,clear"`
	IDs      []string `json:"ids,omitempty"`
	ID       string   `json:"id,omitempty"`
	Included *bool    `json:"included,omitempty"`
}

type ActionRequest struct {
	Action       string `json:"action" enum:"delete,reassign"`
	TargetTeamID string `json:"target_team_id,omitempty"`
}

type CommandRequest struct {
	Text string `json:"text"`
}

// Responses

type WhoAmIResponse struct {
	User        domain.User `json:"user"`
	Permissions []string    `json:"permissions"`
}

type UserResponse struct {
	domain.User
	Skills []domain.AgentSkill `json:"skills"`
}

type paginatedTickets struct {
	Items      []domain.Ticket `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type PredicateResponse struct {
	FieldID   string           `json:"field_id"`
	FieldName string           `json:"field_name"`
	ValueKind domain.ValueKind `json:"value_kind"`
	Operator  filter.Op        `json:"operator"`
	Value     domain.Value     `json:"value"`
}

type SessionResponse struct {
	ID             string              `json:"id"`
	FiltersEnabled bool                `json:"filters_enabled"`
	Filters        []PredicateResponse `json:"filters"`
	Users          bulk.State          `json:"users"`
	Tickets        bulk.State          `json:"tickets"`
	LastCommand    *dispatch.Response  `json:"last_command,omitempty"`
}

type ConfirmResponse struct {
	Outcome   bulk.Outcome `json:"outcome"`
	Selection bulk.State   `json:"selection"`
}

type CommandResponse struct {
	Command dispatch.Response `json:"command"`
	Users   bulk.State        `json:"users"`
}

type ChangeResponse struct {
	ID      int64          `json:"id"`
	TS      string         `json:"ts"`
	Table   string         `json:"table"`
	Op      string         `json:"op"`
	RowID   string         `json:"row_id"`
	ActorID string         `json:"actor_id,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

type llmCommandMetadata struct {
	ProcessedAt      string `json:"processedAt"`
	ProcessingTimeMS int64  `json:"processingTimeMs"`
}

type llmCommandResponse struct {
	Input       string                `json:"input"`
	Output      string                `json:"output"`
	Description string                `json:"description"`
	Metadata    llmCommandMetadata    `json:"metadata"`
	Trace       []dispatch.TraceEntry `json:"trace"`
}

func sessionResponse(s *session.Session) SessionResponse {
	res := SessionResponse{
		ID:             s.ID,
		FiltersEnabled: s.Filters.Enabled(),
		Filters:        []PredicateResponse{},
		Users:          s.Users.State(),
		Tickets:        s.Tickets.State(),
	}
	for _, p := range s.Filters.Predicates() {
		res.Filters = append(res.Filters, PredicateResponse{
			FieldID:   p.Field.ID,
			FieldName: p.Field.Name,
			ValueKind: p.Field.ValueKind,
			Operator:  filter.OperatorFor(p.Field.ValueKind),
			Value:     p.Value,
		})
	}
	if last, ok := s.LastCommand(); ok {
		res.LastCommand = &last
	}
	return res
}

func changeResponse(evt domain.ChangeEvent) ChangeResponse {
	return ChangeResponse{
		ID:      evt.ID,
		TS:      evt.TS,
		Table:   evt.Table,
		Op:      evt.Op,
		RowID:   evt.RowID,
		ActorID: evt.ActorID,
		Payload: decodeJSONMap(evt.Payload),
	}
}

func llmResponse(resp dispatch.Response) llmCommandResponse {
	return llmCommandResponse{
		Input:       resp.Input,
		Output:      resp.Output,
		Description: resp.Description,
		Metadata: llmCommandMetadata{
			ProcessedAt:      resp.ProcessedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
			ProcessingTimeMS: resp.ProcessingTime.Milliseconds(),
		},
		Trace: nonNilSlice(resp.Trace),
	}
}

// JSON helpers

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return nil
	}
	return obj
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}

func stringOrEmpty(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}
