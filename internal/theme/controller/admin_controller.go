package controller

import (
	"hackreg/internal/theme/repository"
	"hackreg/internal/theme/service"
	"hackreg/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// AdminController handles organizer endpoints. Authorization happens upstream.
type AdminController struct {
	catalog *service.CatalogService
	index   *service.ProblemStatementIndex
}

// NewAdminController creates a new AdminController.
func NewAdminController(catalog *service.CatalogService, index *service.ProblemStatementIndex) *AdminController {
	return &AdminController{catalog: catalog, index: index}
}

// GetSelectionLock reports whether theme selection is frozen.
func (h *AdminController) GetSelectionLock(c *gin.Context) {
	locked, err := h.index.IsSelectionLocked(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, SelectionLockResponse{Locked: locked})
}

// SetSelectionLock freezes or unfreezes theme selection.
func (h *AdminController) SetSelectionLock(c *gin.Context) {
	var req SelectionLockRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Locked == nil {
		response.BadRequest(c, "locked is required")
		return
	}
	if err := h.index.SetSelectionLocked(c.Request.Context(), *req.Locked); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, SelectionLockResponse{Locked: *req.Locked})
}

// CreateTheme adds a theme to the catalog.
func (h *AdminController) CreateTheme(c *gin.Context) {
	var req CreateThemeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}

	theme, err := h.catalog.CreateTheme(c.Request.Context(), service.CreateThemeInput{
		Name:             req.Name,
		ShortDescription: req.ShortDescription,
		LongDescription:  req.LongDescription,
		Capacity:         req.Capacity,
		Status:           repository.ThemeStatus(req.Status),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, toThemeResponse(repository.ThemeWithOccupancy{Theme: *theme}))
}

// SetThemeStatus activates or deactivates a theme.
func (h *AdminController) SetThemeStatus(c *gin.Context) {
	themeID, ok := parseIDParam(c, "id")
	if !ok {
		response.BadRequest(c, "Invalid theme id")
		return
	}
	var req ThemeStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	if err := h.catalog.SetThemeStatus(c.Request.Context(), themeID, repository.ThemeStatus(req.Status)); err != nil {
		response.Error(c, err)
		return
	}
	response.SuccessWithMessage(c, "Status updated", nil)
}

// CreateProblemStatement links a new problem statement to a theme.
func (h *AdminController) CreateProblemStatement(c *gin.Context) {
	themeID, ok := parseIDParam(c, "id")
	if !ok {
		response.BadRequest(c, "Invalid theme id")
		return
	}
	var req CreateProblemStatementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}

	inactive := req.Active != nil && !*req.Active
	statement, err := h.index.CreateProblemStatement(c.Request.Context(), service.CreateProblemStatementInput{
		ThemeID:     themeID,
		Title:       req.Title,
		Description: req.Description,
		Inactive:    inactive,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, toProblemStatementResponse(statement))
}

// SetProblemStatementActive toggles a problem statement.
func (h *AdminController) SetProblemStatementActive(c *gin.Context) {
	statementID, ok := parseIDParam(c, "id")
	if !ok {
		response.BadRequest(c, "Invalid problem statement id")
		return
	}
	var req ProblemStatementActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Active == nil {
		response.BadRequest(c, "active is required")
		return
	}
	if err := h.index.SetProblemStatementActive(c.Request.Context(), statementID, *req.Active); err != nil {
		response.Error(c, err)
		return
	}
	response.SuccessWithMessage(c, "Problem statement updated", nil)
}

// SelectionLockRequest defines the lock toggle payload.
type SelectionLockRequest struct {
	Locked *bool `json:"locked"`
}

// SelectionLockResponse defines the lock state payload.
type SelectionLockResponse struct {
	Locked bool `json:"locked"`
}

// CreateThemeRequest defines theme creation payload.
type CreateThemeRequest struct {
	Name             string `json:"name" binding:"required"`
	ShortDescription string `json:"short_description"`
	LongDescription  string `json:"long_description"`
	Capacity         int    `json:"capacity"`
	Status           string `json:"status"`
}

// ThemeStatusRequest defines the theme status payload.
type ThemeStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// CreateProblemStatementRequest defines problem statement creation payload.
type CreateProblemStatementRequest struct {
	Title       string `json:"title" binding:"required"`
	Description string `json:"description"`
	Active      *bool  `json:"active"`
}

// ProblemStatementActiveRequest defines the activation payload.
type ProblemStatementActiveRequest struct {
	Active *bool `json:"active"`
}
