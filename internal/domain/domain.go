package domain

type Team struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type User struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Email      string  `json:"email"`
	Role       string  `json:"role" enum:"admin,agent,customer"`
	IsTeamLead bool    `json:"is_team_lead"`
	TeamID     *string `json:"team_id,omitempty"`
	TeamName   string  `json:"team_name,omitempty"`
	CreatedAt  string  `json:"created_at" format:"date-time"`
}

type Skill struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Proficiency struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Rank int    `json:"rank"`
}

type AgentSkill struct {
	UserID          string `json:"user_id"`
	SkillID         string `json:"skill_id"`
	SkillName       string `json:"skill_name,omitempty"`
	ProficiencyID   string `json:"proficiency_id"`
	ProficiencyName string `json:"proficiency_name,omitempty"`
}

type Ticket struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Status      string   `json:"status" enum:"open,pending,closed"`
	Priority    string   `json:"priority" enum:"low,medium,high"`
	CreatedBy   string   `json:"created_by"`
	AssigneeID  *string  `json:"assignee_id,omitempty"`
	TeamID      *string  `json:"team_id,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	CreatedAt   string   `json:"created_at" format:"date-time"`
	UpdatedAt   string   `json:"updated_at" format:"date-time"`
}

type TagType struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

type Tag struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	TagTypeID *string `json:"tag_type_id,omitempty"`
}

type TicketMessage struct {
	ID        string `json:"id"`
	TicketID  string `json:"ticket_id"`
	SenderID  string `json:"sender_id"`
	Body      string `json:"body"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// ChangeEvent is one row of the change log backing the notification stream.
type ChangeEvent struct {
	ID      int64  `json:"id"`
	TS      string `json:"ts" format:"date-time"`
	Table   string `json:"table"`
	Op      string `json:"op" enum:"insert,update,delete"`
	RowID   string `json:"row_id"`
	ActorID string `json:"actor_id,omitempty"`
	Payload string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

const (
	RoleAdmin    = "admin"
	RoleAgent    = "agent"
	RoleCustomer = "customer"
)

const (
	OpInsert = "insert"
	OpUpdate = "update"
	OpDelete = "delete"
)
