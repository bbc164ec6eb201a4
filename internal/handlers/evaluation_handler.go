package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/scriptgrade/evaluation-service/internal/services"
	"github.com/scriptgrade/evaluation-service/internal/utils"
)

type EvaluationHandler struct {
	BaseHandler
	evaluationService services.EvaluationService
}

func NewEvaluationHandler(evaluationService services.EvaluationService, logger utils.Logger) *EvaluationHandler {
	return &EvaluationHandler{
		BaseHandler:       NewBaseHandler(logger),
		evaluationService: evaluationService,
	}
}

// StartEvaluation kicks off grading for a ready exam
func (h *EvaluationHandler) StartEvaluation(c *gin.Context) {
	examID := h.parseIDParam(c, "id")
	if examID == 0 {
		return
	}

	actor, ok := h.actorOrAbort(c)
	if !ok {
		return
	}

	h.LogRequest(c, "starting evaluation", "exam_id", examID)

	job, err := h.evaluationService.StartJob(c.Request.Context(), examID, actor)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, job)
}

// GetEvaluationStatus reports the latest job for an exam
func (h *EvaluationHandler) GetEvaluationStatus(c *gin.Context) {
	examID := h.parseIDParam(c, "id")
	if examID == 0 {
		return
	}

	actor, ok := h.actorOrAbort(c)
	if !ok {
		return
	}

	status, err := h.evaluationService.GetJobStatus(c.Request.Context(), examID, actor)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, status)
}
