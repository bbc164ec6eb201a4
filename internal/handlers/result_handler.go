package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/scriptgrade/evaluation-service/internal/services"
	"github.com/scriptgrade/evaluation-service/internal/utils"
)

type ResultHandler struct {
	BaseHandler
	resultService services.ResultService
	reportService services.ReportService
}

func NewResultHandler(resultService services.ResultService, reportService services.ReportService, logger utils.Logger) *ResultHandler {
	return &ResultHandler{
		BaseHandler:   NewBaseHandler(logger),
		resultService: resultService,
		reportService: reportService,
	}
}

// GetResult retrieves one student's result for an exam
func (h *ResultHandler) GetResult(c *gin.Context) {
	examID := h.parseIDParam(c, "id")
	if examID == 0 {
		return
	}
	studentID := c.Param("student_id")
	if studentID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "bad_request",
			Message: "student_id parameter is required",
		})
		return
	}

	actor, ok := h.actorOrAbort(c)
	if !ok {
		return
	}

	result, err := h.resultService.GetResult(c.Request.Context(), examID, studentID, actor)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// ListResults lists all results of an exam
func (h *ResultHandler) ListResults(c *gin.Context) {
	examID := h.parseIDParam(c, "id")
	if examID == 0 {
		return
	}

	actor, ok := h.actorOrAbort(c)
	if !ok {
		return
	}

	results, err := h.resultService.ListResults(c.Request.Context(), examID, actor)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, results)
}

// GetSummary returns aggregate statistics for an exam's results
func (h *ResultHandler) GetSummary(c *gin.Context) {
	examID := h.parseIDParam(c, "id")
	if examID == 0 {
		return
	}

	actor, ok := h.actorOrAbort(c)
	if !ok {
		return
	}

	summary, err := h.resultService.GetSummary(c.Request.Context(), examID, actor)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, summary)
}

// ListFlags lists illegible flags for an exam, optionally by resolution state
func (h *ResultHandler) ListFlags(c *gin.Context) {
	examID := h.parseIDParam(c, "id")
	if examID == 0 {
		return
	}

	actor, ok := h.actorOrAbort(c)
	if !ok {
		return
	}

	var resolved *bool
	if raw := c.Query("resolved"); raw != "" {
		if v, err := strconv.ParseBool(raw); err == nil {
			resolved = &v
		}
	}

	flags, err := h.resultService.ListFlags(c.Request.Context(), examID, resolved, actor)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, flags)
}

// ResolveFlag adjudicates one illegible answer
func (h *ResultHandler) ResolveFlag(c *gin.Context) {
	flagID := h.parseIDParam(c, "flag_id")
	if flagID == 0 {
		return
	}

	var req services.ResolveFlagRequest
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

	h.LogRequest(c, "resolving illegible flag", "flag_id", flagID, "marks", req.Marks)

	result, err := h.resultService.ResolveFlag(c.Request.Context(), flagID, &req, actor)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// OverrideResult replaces the marks for one question of one result
func (h *ResultHandler) OverrideResult(c *gin.Context) {
	examID := h.parseIDParam(c, "id")
	if examID == 0 {
		return
	}
	studentID := c.Param("student_id")
	if studentID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "bad_request",
			Message: "student_id parameter is required",
		})
		return
	}

	var req services.OverrideResultRequest
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

	result, err := h.resultService.OverrideQuestion(c.Request.Context(), examID, studentID, &req, actor)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// ExportResults streams an xlsx workbook of all exam results
func (h *ResultHandler) ExportResults(c *gin.Context) {
	examID := h.parseIDParam(c, "id")
	if examID == 0 {
		return
	}

	actor, ok := h.actorOrAbort(c)
	if !ok {
		return
	}

	data, fileName, err := h.reportService.ExportResults(c.Request.Context(), examID, actor)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", fileName))
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", data)
}
