package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/scriptgrade/evaluation-service/internal/models"
	"github.com/scriptgrade/evaluation-service/internal/repositories"
	"github.com/scriptgrade/evaluation-service/internal/services"
	"github.com/scriptgrade/evaluation-service/internal/utils"
)

type ProfileHandler struct {
	BaseHandler
	profileService services.ProfileService
}

func NewProfileHandler(profileService services.ProfileService, logger utils.Logger) *ProfileHandler {
	return &ProfileHandler{
		BaseHandler:    NewBaseHandler(logger),
		profileService: profileService,
	}
}

// ListProfiles lists stored user profiles. Administrators only.
func (h *ProfileHandler) ListProfiles(c *gin.Context) {
	actor, ok := h.actorOrAbort(c)
	if !ok {
		return
	}

	filters := repositories.ActorFilters{}
	if role := c.Query("role"); role != "" {
		r := models.ActorRole(role)
		filters.Role = &r
	}
	if limit, err := strconv.Atoi(c.DefaultQuery("limit", "50")); err == nil {
		filters.Limit = limit
	}
	if offset, err := strconv.Atoi(c.DefaultQuery("offset", "0")); err == nil {
		filters.Offset = offset
	}

	profiles, err := h.profileService.List(c.Request.Context(), filters, actor)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, profiles)
}

// GetProfile retrieves one profile. Non-admins may only read their own.
func (h *ProfileHandler) GetProfile(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "bad_request",
			Message: "invalid id parameter",
		})
		return
	}

	actor, ok := h.actorOrAbort(c)
	if !ok {
		return
	}

	profile, err := h.profileService.Get(c.Request.Context(), id, actor)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, profile)
}

// UpdateRole changes a profile's role. Administrators only.
func (h *ProfileHandler) UpdateRole(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "bad_request",
			Message: "invalid id parameter",
		})
		return
	}

	var req services.UpdateRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "bad_request",
			Message: "invalid request payload",
			Details: err.Error(),
		})
		return
	}

	actor, ok := h.actorOrAbort(c)
	if !ok {
		return
	}

	profile, err := h.profileService.UpdateRole(c.Request.Context(), id, &req, actor)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, profile)
}
