package services

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/scriptgrade/evaluation-service/internal/models"
	"github.com/scriptgrade/evaluation-service/internal/repositories"
)

// memoryRepository is an in-memory Repository for service tests. Conditional
// updates mirror the SQL guards of the real implementation so the state
// machine tests exercise the same transitions.
type memoryRepository struct {
	mu sync.Mutex

	exams   map[uint]*models.Exam
	keys    map[uint]*models.AnswerKey // keyed by exam ID
	sheets  map[uint]*models.AnswerSheet
	jobs    map[uint]*models.EvaluationJob
	results map[uint]*models.Result
	flags   map[uint]*models.IllegibleFlag
	actors  map[string]*models.Actor

	nextID uint
}

func newMemoryRepository() *memoryRepository {
	return &memoryRepository{
		exams:   make(map[uint]*models.Exam),
		keys:    make(map[uint]*models.AnswerKey),
		sheets:  make(map[uint]*models.AnswerSheet),
		jobs:    make(map[uint]*models.EvaluationJob),
		results: make(map[uint]*models.Result),
		flags:   make(map[uint]*models.IllegibleFlag),
		actors:  make(map[string]*models.Actor),
	}
}

func (m *memoryRepository) id() uint {
	m.nextID++
	return m.nextID
}

func (m *memoryRepository) Exam() repositories.ExamRepository           { return (*memExamRepo)(m) }
func (m *memoryRepository) AnswerKey() repositories.AnswerKeyRepository { return (*memKeyRepo)(m) }
func (m *memoryRepository) Sheet() repositories.SheetRepository         { return (*memSheetRepo)(m) }
func (m *memoryRepository) Job() repositories.JobRepository             { return (*memJobRepo)(m) }
func (m *memoryRepository) Result() repositories.ResultRepository       { return (*memResultRepo)(m) }
func (m *memoryRepository) Flag() repositories.FlagRepository           { return (*memFlagRepo)(m) }
func (m *memoryRepository) Actor() repositories.ActorRepository         { return (*memActorRepo)(m) }

func (m *memoryRepository) WithTransaction(ctx context.Context, fn func(repositories.Repository) error) error {
	return fn(m)
}

func (m *memoryRepository) Ping(ctx context.Context) error { return nil }
func (m *memoryRepository) Close() error                   { return nil }

// ===== exams =====

type memExamRepo memoryRepository

func (r *memExamRepo) Create(ctx context.Context, tx *gorm.DB, exam *models.Exam) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	exam.ID = (*memoryRepository)(r).id()
	exam.CreatedAt = time.Now()
	cp := *exam
	r.exams[exam.ID] = &cp
	return nil
}

func (r *memExamRepo) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Exam, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	exam, ok := r.exams[id]
	if !ok {
		return nil, repositories.ErrExamNotFound
	}
	cp := *exam
	return &cp, nil
}

func (r *memExamRepo) GetByExamID(ctx context.Context, tx *gorm.DB, examID string) (*models.Exam, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, exam := range r.exams {
		if exam.ExamID == examID {
			cp := *exam
			return &cp, nil
		}
	}
	return nil, repositories.ErrExamNotFound
}

func (r *memExamRepo) Update(ctx context.Context, tx *gorm.DB, exam *models.Exam) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.exams[exam.ID]; !ok {
		return repositories.ErrExamNotFound
	}
	cp := *exam
	cp.UpdatedAt = time.Now()
	r.exams[exam.ID] = &cp
	return nil
}

func (r *memExamRepo) UpdateStatus(ctx context.Context, tx *gorm.DB, id uint, status models.ExamStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	exam, ok := r.exams[id]
	if !ok {
		return repositories.ErrExamNotFound
	}
	exam.Status = status
	exam.UpdatedAt = time.Now()
	return nil
}

func (r *memExamRepo) Delete(ctx context.Context, tx *gorm.DB, id uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.exams[id]; !ok {
		return repositories.ErrExamNotFound
	}
	delete(r.exams, id)
	delete(r.keys, id)
	for sid, sheet := range r.sheets {
		if sheet.ExamID == id {
			delete(r.sheets, sid)
		}
	}
	return nil
}

func (r *memExamRepo) List(ctx context.Context, tx *gorm.DB, filters repositories.ExamFilters) ([]*models.Exam, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Exam
	for _, exam := range r.exams {
		if filters.Status != nil && exam.Status != *filters.Status {
			continue
		}
		if filters.CreatedBy != nil && exam.CreatedBy != *filters.CreatedBy {
			continue
		}
		cp := *exam
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, int64(len(out)), nil
}

// ===== answer keys =====

type memKeyRepo memoryRepository

func (r *memKeyRepo) Upsert(ctx context.Context, tx *gorm.DB, key *models.AnswerKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.keys[key.ExamID]; ok {
		key.ID = existing.ID
	} else {
		key.ID = (*memoryRepository)(r).id()
	}
	cp := *key
	r.keys[key.ExamID] = &cp
	return nil
}

func (r *memKeyRepo) GetByExamID(ctx context.Context, tx *gorm.DB, examID uint) (*models.AnswerKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key, ok := r.keys[examID]
	if !ok {
		return nil, repositories.ErrAnswerKeyNotFound
	}
	cp := *key
	return &cp, nil
}

func (r *memKeyRepo) DeleteByExamID(ctx context.Context, tx *gorm.DB, examID uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.keys, examID)
	return nil
}

// ===== sheets =====

type memSheetRepo memoryRepository

func (r *memSheetRepo) Create(ctx context.Context, tx *gorm.DB, sheet *models.AnswerSheet) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sheet.ID = (*memoryRepository)(r).id()
	sheet.UploadedAt = time.Now()
	cp := *sheet
	r.sheets[sheet.ID] = &cp
	return nil
}

func (r *memSheetRepo) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.AnswerSheet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sheet, ok := r.sheets[id]
	if !ok {
		return nil, repositories.ErrSheetNotFound
	}
	cp := *sheet
	return &cp, nil
}

func (r *memSheetRepo) Update(ctx context.Context, tx *gorm.DB, sheet *models.AnswerSheet) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sheets[sheet.ID]; !ok {
		return repositories.ErrSheetNotFound
	}
	cp := *sheet
	r.sheets[sheet.ID] = &cp
	return nil
}

func (r *memSheetRepo) Delete(ctx context.Context, tx *gorm.DB, id uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sheets[id]; !ok {
		return repositories.ErrSheetNotFound
	}
	delete(r.sheets, id)
	return nil
}

func (r *memSheetRepo) ListByExam(ctx context.Context, tx *gorm.DB, examID uint, filters repositories.SheetFilters) ([]*models.AnswerSheet, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.AnswerSheet
	for _, sheet := range r.sheets {
		if sheet.ExamID != examID {
			continue
		}
		if filters.Processed != nil && sheet.Processed != *filters.Processed {
			continue
		}
		if filters.StudentID != nil && (sheet.StudentID == nil || *sheet.StudentID != *filters.StudentID) {
			continue
		}
		cp := *sheet
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, int64(len(out)), nil
}

func (r *memSheetRepo) CountUnprocessed(ctx context.Context, tx *gorm.DB, examID uint) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, sheet := range r.sheets {
		if sheet.ExamID == examID && !sheet.Processed {
			n++
		}
	}
	return n, nil
}

func (r *memSheetRepo) ClaimNext(ctx context.Context, tx *gorm.DB, examID uint) (*models.AnswerSheet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var candidates []*models.AnswerSheet
	for _, sheet := range r.sheets {
		if sheet.ExamID == examID && !sheet.Processed && sheet.ClaimedAt == nil {
			candidates = append(candidates, sheet)
		}
	}
	if len(candidates) == 0 {
		return nil, repositories.ErrNoClaimableSheet
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].UploadedAt.Before(candidates[j].UploadedAt) ||
			(candidates[i].UploadedAt.Equal(candidates[j].UploadedAt) && candidates[i].ID < candidates[j].ID)
	})
	now := time.Now()
	candidates[0].ClaimedAt = &now
	cp := *candidates[0]
	return &cp, nil
}

func (r *memSheetRepo) MarkProcessed(ctx context.Context, tx *gorm.DB, id uint, studentID *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sheet, ok := r.sheets[id]
	if !ok {
		return repositories.ErrSheetNotFound
	}
	sheet.Processed = true
	sheet.ClaimedAt = nil
	if studentID != nil {
		sheet.StudentID = studentID
	}
	return nil
}

func (r *memSheetRepo) ReleaseClaim(ctx context.Context, tx *gorm.DB, id uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sheet, ok := r.sheets[id]
	if !ok {
		return repositories.ErrSheetNotFound
	}
	sheet.ClaimedAt = nil
	return nil
}

func (r *memSheetRepo) ReleaseStale(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, sheet := range r.sheets {
		if !sheet.Processed && sheet.ClaimedAt != nil && sheet.ClaimedAt.Before(cutoff) {
			sheet.ClaimedAt = nil
			n++
		}
	}
	return n, nil
}

// ===== jobs =====

type memJobRepo memoryRepository

func (r *memJobRepo) Create(ctx context.Context, tx *gorm.DB, job *models.EvaluationJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job.ID = (*memoryRepository)(r).id()
	job.CreatedAt = time.Now()
	cp := *job
	r.jobs[job.ID] = &cp
	return nil
}

func (r *memJobRepo) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.EvaluationJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, repositories.ErrJobNotFound
	}
	cp := *job
	return &cp, nil
}

func (r *memJobRepo) GetLatestByExam(ctx context.Context, tx *gorm.DB, examID uint) (*models.EvaluationJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *models.EvaluationJob
	for _, job := range r.jobs {
		if job.ExamID != examID {
			continue
		}
		if latest == nil || job.ID > latest.ID {
			latest = job
		}
	}
	if latest == nil {
		return nil, repositories.ErrJobNotFound
	}
	cp := *latest
	return &cp, nil
}

func (r *memJobRepo) GetActiveByExam(ctx context.Context, tx *gorm.DB, examID uint) (*models.EvaluationJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, job := range r.jobs {
		if job.ExamID == examID && !job.Status.IsTerminal() {
			cp := *job
			return &cp, nil
		}
	}
	return nil, repositories.ErrJobNotFound
}

func (r *memJobRepo) ListActive(ctx context.Context, tx *gorm.DB) ([]*models.EvaluationJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.EvaluationJob
	for _, job := range r.jobs {
		if !job.Status.IsTerminal() {
			cp := *job
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memJobRepo) MarkInProgress(ctx context.Context, tx *gorm.DB, id uint) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return false, nil
	}
	if job.Status != models.JobPending {
		return false, nil
	}
	job.Status = models.JobInProgress
	return true, nil
}

func (r *memJobRepo) IncrementProcessed(ctx context.Context, tx *gorm.DB, id uint) (int, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return 0, false, nil
	}
	if job.Status != models.JobInProgress || job.ProcessedSheets >= job.TotalSheets {
		return job.ProcessedSheets, false, nil
	}
	job.ProcessedSheets++
	return job.ProcessedSheets, true, nil
}

func (r *memJobRepo) CompleteIfDone(ctx context.Context, tx *gorm.DB, id uint) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return false, nil
	}
	if job.Status != models.JobInProgress || job.ProcessedSheets < job.TotalSheets {
		return false, nil
	}
	now := time.Now()
	job.Status = models.JobCompleted
	job.CompletedAt = &now
	return true, nil
}

func (r *memJobRepo) MarkFailed(ctx context.Context, tx *gorm.DB, id uint, message string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return false, nil
	}
	if job.Status.IsTerminal() {
		return false, nil
	}
	now := time.Now()
	job.Status = models.JobFailed
	job.ErrorMessage = &message
	job.CompletedAt = &now
	return true, nil
}

// ===== results =====

type memResultRepo memoryRepository

func (r *memResultRepo) Upsert(ctx context.Context, tx *gorm.DB, result *models.Result) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.results {
		if existing.ExamID == result.ExamID && existing.StudentID == result.StudentID {
			result.ID = existing.ID
			result.CreatedAt = existing.CreatedAt
			result.UpdatedAt = time.Now()
			cp := *result
			r.results[existing.ID] = &cp
			return nil
		}
	}
	result.ID = (*memoryRepository)(r).id()
	result.CreatedAt = time.Now()
	cp := *result
	r.results[result.ID] = &cp
	return nil
}

func (r *memResultRepo) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	result, ok := r.results[id]
	if !ok {
		return nil, repositories.ErrResultNotFound
	}
	cp := *result
	return &cp, nil
}

func (r *memResultRepo) GetByExamAndStudent(ctx context.Context, tx *gorm.DB, examID uint, studentID string) (*models.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, result := range r.results {
		if result.ExamID == examID && result.StudentID == studentID {
			cp := *result
			return &cp, nil
		}
	}
	return nil, repositories.ErrResultNotFound
}

func (r *memResultRepo) Update(ctx context.Context, tx *gorm.DB, result *models.Result) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.results[result.ID]; !ok {
		return repositories.ErrResultNotFound
	}
	cp := *result
	cp.UpdatedAt = time.Now()
	r.results[result.ID] = &cp
	return nil
}

func (r *memResultRepo) ListByExam(ctx context.Context, tx *gorm.DB, examID uint) ([]*models.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Result
	for _, result := range r.results {
		if result.ExamID == examID {
			cp := *result
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.Compare(out[i].StudentID, out[j].StudentID) < 0
	})
	return out, nil
}

func (r *memResultRepo) Summary(ctx context.Context, tx *gorm.DB, examID uint) (*repositories.ResultSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	summary := &repositories.ResultSummary{}
	var total float64
	for _, result := range r.results {
		if result.ExamID != examID {
			continue
		}
		summary.TotalResults++
		if result.HasIllegible {
			summary.FlaggedResults++
		}
		total += result.TotalMarks
		if summary.HighestMarks == nil || result.TotalMarks > *summary.HighestMarks {
			v := result.TotalMarks
			summary.HighestMarks = &v
		}
		if summary.LowestMarks == nil || result.TotalMarks < *summary.LowestMarks {
			v := result.TotalMarks
			summary.LowestMarks = &v
		}
		if result.MaxMarks > summary.MaxMarks {
			summary.MaxMarks = result.MaxMarks
		}
	}
	if summary.TotalResults > 0 {
		summary.AverageMarks = total / float64(summary.TotalResults)
	}
	return summary, nil
}

// ===== flags =====

type memFlagRepo memoryRepository

func (r *memFlagRepo) CreateBatch(ctx context.Context, tx *gorm.DB, flags []*models.IllegibleFlag) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, flag := range flags {
		flag.ID = (*memoryRepository)(r).id()
		flag.CreatedAt = time.Now()
		cp := *flag
		r.flags[flag.ID] = &cp
	}
	return nil
}

func (r *memFlagRepo) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.IllegibleFlag, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	flag, ok := r.flags[id]
	if !ok {
		return nil, repositories.ErrFlagNotFound
	}
	cp := *flag
	return &cp, nil
}

func (r *memFlagRepo) Update(ctx context.Context, tx *gorm.DB, flag *models.IllegibleFlag) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.flags[flag.ID]; !ok {
		return repositories.ErrFlagNotFound
	}
	cp := *flag
	r.flags[flag.ID] = &cp
	return nil
}

func (r *memFlagRepo) ListByExam(ctx context.Context, tx *gorm.DB, examID uint, filters repositories.FlagFilters) ([]*models.IllegibleFlag, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.IllegibleFlag
	for _, flag := range r.flags {
		if flag.ExamID != examID {
			continue
		}
		if filters.Resolved != nil && flag.Resolved != *filters.Resolved {
			continue
		}
		if filters.StudentID != nil && flag.StudentID != *filters.StudentID {
			continue
		}
		cp := *flag
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, int64(len(out)), nil
}

func (r *memFlagRepo) DeleteUnresolvedByResult(ctx context.Context, tx *gorm.DB, resultID uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, flag := range r.flags {
		if flag.ResultID == resultID && !flag.Resolved {
			delete(r.flags, id)
		}
	}
	return nil
}

// ===== actors =====

type memActorRepo memoryRepository

func (r *memActorRepo) GetByID(ctx context.Context, tx *gorm.DB, id string) (*models.Actor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	actor, ok := r.actors[id]
	if !ok {
		return nil, repositories.ErrActorNotFound
	}
	cp := *actor
	return &cp, nil
}

func (r *memActorRepo) Update(ctx context.Context, tx *gorm.DB, actor *models.Actor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.actors[actor.ID]; !ok {
		return repositories.ErrActorNotFound
	}
	cp := *actor
	r.actors[actor.ID] = &cp
	return nil
}

func (r *memActorRepo) List(ctx context.Context, tx *gorm.DB, filters repositories.ActorFilters) ([]*models.Actor, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Actor
	for _, actor := range r.actors {
		if filters.Role != nil && actor.Role != *filters.Role {
			continue
		}
		cp := *actor
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, int64(len(out)), nil
}

func (r *memActorRepo) EnsureExists(ctx context.Context, tx *gorm.DB, actor *models.Actor) (*models.Actor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.actors[actor.ID]; ok {
		cp := *existing
		return &cp, nil
	}
	cp := *actor
	cp.CreatedAt = time.Now()
	r.actors[actor.ID] = &cp
	out := cp
	return &out, nil
}
