package repository

import "time"

// ThemeStatus controls whether a theme accepts new selections.
type ThemeStatus string

const (
	ThemeStatusActive   ThemeStatus = "active"
	ThemeStatusInactive ThemeStatus = "inactive"
)

// Valid reports whether s is a known status.
func (s ThemeStatus) Valid() bool {
	return s == ThemeStatusActive || s == ThemeStatusInactive
}

// Theme is a competition category with a fixed team capacity.
type Theme struct {
	ID               int64
	Name             string
	ShortDescription string
	LongDescription  string
	Status           ThemeStatus
	Capacity         int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// ThemeWithOccupancy pairs a theme with its live assignment count.
type ThemeWithOccupancy struct {
	Theme
	Occupancy int
}

// Available reports whether the theme can take another team right now.
func (t ThemeWithOccupancy) Available() bool {
	return t.Status == ThemeStatusActive && t.Occupancy < t.Capacity
}

// ProblemStatement is a concrete challenge linked to a theme.
type ProblemStatement struct {
	ID          int64
	ThemeID     int64
	Title       string
	Description string
	IsActive    bool
	CreatedAt   time.Time
}

// Assignment links a team to a theme and the problem statement it cascaded to.
type Assignment struct {
	TeamID             int64
	ThemeID            int64
	ProblemStatementID int64
	UpdatedAt          time.Time
}
