package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/scriptgrade/evaluation-service/internal/events"
	"github.com/scriptgrade/evaluation-service/internal/grading"
	"github.com/scriptgrade/evaluation-service/internal/repositories"
	"github.com/scriptgrade/evaluation-service/internal/storage"
	"github.com/scriptgrade/evaluation-service/internal/validator"
)

// ServiceManagerConfig holds configuration for the service manager.
type ServiceManagerConfig struct {
	SignedURLTTL time.Duration
	Workers      WorkerPoolConfig

	// RunWorkers controls whether this instance grades sheets itself.
	// API-only deployments set it to false and leave grading to a
	// dedicated worker fleet.
	RunWorkers bool
}

// serviceManager implements ServiceManager.
type serviceManager struct {
	repo      repositories.Repository
	logger    *slog.Logger
	validator *validator.Validator
	publisher events.EventPublisher
	grader    grading.Grader
	store     storage.SheetStore
	config    ServiceManagerConfig

	examService       ExamService
	sheetService      SheetService
	evaluationService EvaluationService
	resultService     ResultService
	reportService     ReportService
	profileService    ProfileService
	workerPool        *WorkerPool

	initialized bool
	shutdown    bool
	mu          sync.RWMutex
}

// NewServiceManager creates a service manager with all dependencies.
func NewServiceManager(
	repo repositories.Repository,
	logger *slog.Logger,
	v *validator.Validator,
	publisher events.EventPublisher,
	grader grading.Grader,
	store storage.SheetStore,
	config ServiceManagerConfig,
) ServiceManager {
	return &serviceManager{
		repo:      repo,
		logger:    logger,
		validator: v,
		publisher: publisher,
		grader:    grader,
		store:     store,
		config:    config,
	}
}

// NewDefaultServiceManager creates a service manager with default configuration.
func NewDefaultServiceManager(
	repo repositories.Repository,
	logger *slog.Logger,
	v *validator.Validator,
	publisher events.EventPublisher,
	grader grading.Grader,
	store storage.SheetStore,
) ServiceManager {
	config := ServiceManagerConfig{
		SignedURLTTL: 15 * time.Minute,
		RunWorkers:   true,
		Workers: WorkerPoolConfig{
			PoolSize:     4,
			PollInterval: 2 * time.Second,
			MaxAttempts:  3,
			BaseBackoff:  2 * time.Second,
			ClaimTimeout: 5 * time.Minute,
			ReapInterval: time.Minute,
		},
	}
	return NewServiceManager(repo, logger, v, publisher, grader, store, config)
}

// Initialize wires up all services and starts the grading pool.
func (sm *serviceManager) Initialize(ctx context.Context) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.initialized {
		return nil
	}
	if sm.shutdown {
		return fmt.Errorf("service manager already shut down")
	}

	sm.logger.Info("initializing service manager")

	sm.resultService = NewResultService(sm.repo, sm.logger, sm.validator, sm.publisher)
	sm.evaluationService = NewEvaluationService(sm.repo, sm.logger, sm.publisher)
	sm.examService = NewExamService(sm.repo, sm.logger, sm.validator, sm.publisher)
	sm.sheetService = NewSheetService(sm.repo, sm.store, sm.logger, sm.validator, sm.config.SignedURLTTL)
	sm.reportService = NewReportService(sm.repo, sm.logger)
	sm.profileService = NewProfileService(sm.repo, sm.logger, sm.validator)

	if sm.config.RunWorkers {
		sm.workerPool = NewWorkerPool(
			sm.config.Workers,
			sm.repo,
			sm.evaluationService,
			sm.resultService,
			sm.store,
			sm.grader,
			sm.logger,
		)
		sm.workerPool.Start(ctx)
	}

	if err := sm.repo.Ping(ctx); err != nil {
		return fmt.Errorf("repository health check failed: %w", err)
	}

	sm.initialized = true
	sm.logger.Info("service manager initialized", "workers_enabled", sm.config.RunWorkers)
	return nil
}

func (sm *serviceManager) HealthCheck(ctx context.Context) error {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.initialized {
		return fmt.Errorf("service manager not initialized")
	}
	if sm.shutdown {
		return fmt.Errorf("service manager shut down")
	}
	return sm.repo.Ping(ctx)
}

// Shutdown drains the worker pool and closes the publisher. In-flight
// sheets finish before Stop returns, so claims are not stranded.
func (sm *serviceManager) Shutdown(ctx context.Context) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.shutdown {
		return nil
	}

	sm.logger.Info("shutting down service manager")

	if sm.workerPool != nil {
		sm.workerPool.Stop()
	}
	if err := sm.publisher.Close(); err != nil {
		sm.logger.Warn("failed to close event publisher", "error", err)
	}

	sm.shutdown = true
	sm.logger.Info("service manager shut down")
	return nil
}

func (sm *serviceManager) Exam() ExamService {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	if !sm.initialized {
		panic("service manager not initialized")
	}
	return sm.examService
}

func (sm *serviceManager) Sheet() SheetService {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	if !sm.initialized {
		panic("service manager not initialized")
	}
	return sm.sheetService
}

func (sm *serviceManager) Evaluation() EvaluationService {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	if !sm.initialized {
		panic("service manager not initialized")
	}
	return sm.evaluationService
}

func (sm *serviceManager) Result() ResultService {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	if !sm.initialized {
		panic("service manager not initialized")
	}
	return sm.resultService
}

func (sm *serviceManager) Report() ReportService {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	if !sm.initialized {
		panic("service manager not initialized")
	}
	return sm.reportService
}

func (sm *serviceManager) Profile() ProfileService {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	if !sm.initialized {
		panic("service manager not initialized")
	}
	return sm.profileService
}
