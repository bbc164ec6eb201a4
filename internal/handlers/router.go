package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/scriptgrade/evaluation-service/internal/config"
	"github.com/scriptgrade/evaluation-service/internal/models"
	"github.com/scriptgrade/evaluation-service/internal/repositories"
	"github.com/scriptgrade/evaluation-service/internal/services"
	"github.com/scriptgrade/evaluation-service/internal/utils"
	"github.com/scriptgrade/evaluation-service/internal/validator"
)

type HandlerManager struct {
	examHandler       *ExamHandler
	sheetHandler      *SheetHandler
	evaluationHandler *EvaluationHandler
	resultHandler     *ResultHandler
	profileHandler    *ProfileHandler
	authMiddleware    *CasdoorAuthMiddleware
	healthCheck       func(c *gin.Context)
}

func NewHandlerManager(
	serviceManager services.ServiceManager,
	v *validator.Validator,
	logger utils.Logger,
	casdoorConfig config.CasdoorConfig,
	actorRepo repositories.ActorRepository,
) *HandlerManager {
	authMiddleware := NewCasdoorAuthMiddleware(casdoorConfig, actorRepo)

	return &HandlerManager{
		examHandler:       NewExamHandler(serviceManager.Exam(), v, logger),
		sheetHandler:      NewSheetHandler(serviceManager.Sheet(), logger),
		evaluationHandler: NewEvaluationHandler(serviceManager.Evaluation(), logger),
		resultHandler:     NewResultHandler(serviceManager.Result(), serviceManager.Report(), logger),
		profileHandler:    NewProfileHandler(serviceManager.Profile(), logger),
		authMiddleware:    authMiddleware,
		healthCheck: func(c *gin.Context) {
			if err := serviceManager.HealthCheck(c.Request.Context()); err != nil {
				c.JSON(503, gin.H{"status": "unhealthy", "error": err.Error()})
				return
			}
			c.JSON(200, gin.H{
				"status":  "healthy",
				"service": "evaluation-service",
			})
		},
	}
}

// SetupRoutes sets up all API routes
func (hm *HandlerManager) SetupRoutes(router *gin.Engine) {
	staffOnly := hm.authMiddleware.RequireRoleMiddleware(models.RoleInstructor, models.RoleAdmin)
	adminOnly := hm.authMiddleware.RequireRoleMiddleware(models.RoleAdmin)

	v1 := router.Group("/api/v1")
	v1.Use(hm.authMiddleware.AuthMiddleware())
	{
		exams := v1.Group("/exams")
		{
			// Create/modify exams - Instructors and Admins only
			exams.POST("", staffOnly, hm.examHandler.CreateExam)
			exams.PUT("/:id", staffOnly, hm.examHandler.UpdateExam)
			exams.PUT("/:id/status", staffOnly, hm.examHandler.UpdateExamStatus)
			exams.DELETE("/:id", staffOnly, hm.examHandler.DeleteExam)

			// View exams - all authenticated users
			exams.GET("", hm.examHandler.ListExams)
			exams.GET("/:id", hm.examHandler.GetExam)

			// Answer key - Instructors and Admins only
			exams.PUT("/:id/answer-key", staffOnly, hm.examHandler.UpsertAnswerKey)
			exams.GET("/:id/answer-key", staffOnly, hm.examHandler.GetAnswerKey)
			exams.DELETE("/:id/answer-key", staffOnly, hm.examHandler.DeleteAnswerKey)

			// Answer sheets
			exams.POST("/:id/sheets", staffOnly, hm.sheetHandler.UploadSheet)
			exams.POST("/:id/sheets/register", staffOnly, hm.sheetHandler.RegisterSheet)
			exams.GET("/:id/sheets", staffOnly, hm.sheetHandler.ListSheets)

			// Evaluation lifecycle
			exams.POST("/:id/evaluate", staffOnly, hm.evaluationHandler.StartEvaluation)
			exams.GET("/:id/evaluation", staffOnly, hm.evaluationHandler.GetEvaluationStatus)

			// Results - students may read their own, staff read all
			exams.GET("/:id/results", staffOnly, hm.resultHandler.ListResults)
			exams.GET("/:id/results/summary", staffOnly, hm.resultHandler.GetSummary)
			exams.GET("/:id/results/export", staffOnly, hm.resultHandler.ExportResults)
			exams.GET("/:id/results/:student_id", hm.resultHandler.GetResult)
			exams.PUT("/:id/results/:student_id/override", staffOnly, hm.resultHandler.OverrideResult)

			// Illegible review queue
			exams.GET("/:id/flags", staffOnly, hm.resultHandler.ListFlags)
		}

		sheets := v1.Group("/sheets")
		{
			sheets.GET("/:id", hm.sheetHandler.GetSheet)
			sheets.DELETE("/:id", staffOnly, hm.sheetHandler.DeleteSheet)
		}

		flags := v1.Group("/flags")
		flags.Use(staffOnly)
		{
			flags.POST("/:flag_id/resolve", hm.resultHandler.ResolveFlag)
		}

		profiles := v1.Group("/profiles")
		{
			profiles.GET("", adminOnly, hm.profileHandler.ListProfiles)
			profiles.GET("/:id", hm.profileHandler.GetProfile)
			profiles.PUT("/:id/role", adminOnly, hm.profileHandler.UpdateRole)
		}
	}

	// Health check endpoint
	router.GET("/health", hm.healthCheck)
}
