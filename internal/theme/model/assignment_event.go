package model

import "time"

const (
	AssignmentEventAssigned = "theme.assigned"
	AssignmentEventSwitched = "theme.switched"
)

// AssignmentEvent is emitted after a team's theme assignment commits.
type AssignmentEvent struct {
	EventID            string    `json:"event_id"`
	EventType          string    `json:"event_type"`
	TeamID             int64     `json:"team_id"`
	FromThemeID        *int64    `json:"from_theme_id,omitempty"`
	ToThemeID          int64     `json:"to_theme_id"`
	ToThemeName        string    `json:"to_theme_name"`
	ProblemStatementID int64     `json:"problem_statement_id"`
	OccurredAt         time.Time `json:"occurred_at"`
}
