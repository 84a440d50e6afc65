package controller

import (
	"hackreg/internal/theme/service"
	"hackreg/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// AssignmentController handles team theme selection endpoints.
type AssignmentController struct {
	assignments *service.AssignmentService
}

// NewAssignmentController creates a new AssignmentController.
func NewAssignmentController(assignments *service.AssignmentService) *AssignmentController {
	return &AssignmentController{assignments: assignments}
}

// Select handles a team's theme selection.
func (h *AssignmentController) Select(c *gin.Context) {
	teamID, ok := parseIDParam(c, "team_id")
	if !ok {
		response.BadRequest(c, "Invalid team id")
		return
	}
	var req SelectThemeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	if req.ThemeID <= 0 && req.ThemeName == "" {
		response.BadRequest(c, "theme_id or theme_name is required")
		return
	}

	result, err := h.assignments.SelectTheme(c.Request.Context(), service.SelectInput{
		TeamID:    teamID,
		ThemeID:   req.ThemeID,
		ThemeName: req.ThemeName,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	resp := SelectThemeResponse{
		TeamID:           result.TeamID,
		Theme:            toThemeResponse(result.Theme),
		ProblemStatement: toProblemStatementResponse(result.ProblemStatement),
		Changed:          result.Changed,
	}
	if result.Changed && result.PreviousThemeID > 0 {
		previous := result.PreviousThemeID
		resp.PreviousThemeID = &previous
	}
	response.Success(c, resp)
}

// Current handles the team's current assignment.
func (h *AssignmentController) Current(c *gin.Context) {
	teamID, ok := parseIDParam(c, "team_id")
	if !ok {
		response.BadRequest(c, "Invalid team id")
		return
	}

	view, err := h.assignments.CurrentAssignment(c.Request.Context(), teamID)
	if err != nil {
		response.Error(c, err)
		return
	}

	resp := AssignmentResponse{TeamID: view.TeamID, Assigned: view.Assigned}
	if view.Theme != nil {
		resp.ThemeID = view.Theme.ID
		resp.ThemeName = view.Theme.Name
	}
	if view.ProblemStatement != nil {
		statement := toProblemStatementResponse(*view.ProblemStatement)
		resp.ProblemStatement = &statement
	}
	resp.UpdatedAt = formatTime(view.UpdatedAt)
	response.Success(c, resp)
}

// SelectThemeRequest defines the theme selection payload. theme_id wins over theme_name.
type SelectThemeRequest struct {
	ThemeID   int64  `json:"theme_id"`
	ThemeName string `json:"theme_name"`
}

// SelectThemeResponse defines the committed selection payload.
type SelectThemeResponse struct {
	TeamID           int64                    `json:"team_id"`
	Theme            ThemeResponse            `json:"theme"`
	ProblemStatement ProblemStatementResponse `json:"problem_statement"`
	Changed          bool                     `json:"changed"`
	PreviousThemeID  *int64                   `json:"previous_theme_id,omitempty"`
}

// AssignmentResponse defines the current assignment payload.
type AssignmentResponse struct {
	TeamID           int64                     `json:"team_id"`
	Assigned         bool                      `json:"assigned"`
	ThemeID          int64                     `json:"theme_id,omitempty"`
	ThemeName        string                    `json:"theme_name,omitempty"`
	ProblemStatement *ProblemStatementResponse `json:"problem_statement,omitempty"`
	UpdatedAt        string                    `json:"updated_at,omitempty"`
}
