package controller

import (
	"strconv"
	"time"

	"hackreg/internal/theme/repository"
	"hackreg/internal/theme/service"
	"hackreg/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// ThemeController handles theme catalog HTTP endpoints.
type ThemeController struct {
	catalog *service.CatalogService
	index   *service.ProblemStatementIndex
}

// NewThemeController creates a new ThemeController.
func NewThemeController(catalog *service.CatalogService, index *service.ProblemStatementIndex) *ThemeController {
	return &ThemeController{catalog: catalog, index: index}
}

// List handles the theme listing with live occupancy.
func (h *ThemeController) List(c *gin.Context) {
	themes, err := h.catalog.ListThemes(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}

	items := make([]ThemeResponse, 0, len(themes))
	for _, theme := range themes {
		items = append(items, toThemeResponse(theme))
	}
	response.Success(c, ThemeListResponse{Themes: items})
}

// Get handles a single theme with its problem statements.
func (h *ThemeController) Get(c *gin.Context) {
	themeID, ok := parseIDParam(c, "id")
	if !ok {
		response.BadRequest(c, "Invalid theme id")
		return
	}

	theme, err := h.catalog.GetTheme(c.Request.Context(), themeID)
	if err != nil {
		response.Error(c, err)
		return
	}
	statements, err := h.index.ProblemStatementsFor(c.Request.Context(), themeID)
	if err != nil {
		response.Error(c, err)
		return
	}

	resp := ThemeDetailResponse{
		ThemeResponse:     toThemeResponse(theme),
		LongDescription:   theme.LongDescription,
		ProblemStatements: make([]ProblemStatementResponse, 0, len(statements)),
	}
	for _, statement := range statements {
		resp.ProblemStatements = append(resp.ProblemStatements, toProblemStatementResponse(statement))
	}
	response.Success(c, resp)
}

func parseIDParam(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func toThemeResponse(theme repository.ThemeWithOccupancy) ThemeResponse {
	return ThemeResponse{
		ID:               theme.ID,
		Name:             theme.Name,
		ShortDescription: theme.ShortDescription,
		Status:           string(theme.Status),
		Capacity:         theme.Capacity,
		Occupancy:        theme.Occupancy,
		Available:        theme.Available(),
	}
}

func toProblemStatementResponse(statement repository.ProblemStatement) ProblemStatementResponse {
	return ProblemStatementResponse{
		ID:          statement.ID,
		ThemeID:     statement.ThemeID,
		Title:       statement.Title,
		Description: statement.Description,
		Active:      statement.IsActive,
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// ThemeResponse defines a theme with its occupancy.
type ThemeResponse struct {
	ID               int64  `json:"id"`
	Name             string `json:"name"`
	ShortDescription string `json:"short_description"`
	Status           string `json:"status"`
	Capacity         int    `json:"capacity"`
	Occupancy        int    `json:"occupancy"`
	Available        bool   `json:"available"`
}

// ThemeListResponse defines the theme listing payload.
type ThemeListResponse struct {
	Themes []ThemeResponse `json:"themes"`
}

// ThemeDetailResponse defines the single theme payload.
type ThemeDetailResponse struct {
	ThemeResponse
	LongDescription   string                     `json:"long_description"`
	ProblemStatements []ProblemStatementResponse `json:"problem_statements"`
}

// ProblemStatementResponse defines a problem statement payload.
type ProblemStatementResponse struct {
	ID          int64  `json:"id"`
	ThemeID     int64  `json:"theme_id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Active      bool   `json:"active"`
}
