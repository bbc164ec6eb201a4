package services

import (
	"context"
	"testing"

	"github.com/scriptgrade/evaluation-service/internal/events"
	"github.com/scriptgrade/evaluation-service/internal/models"
	"github.com/scriptgrade/evaluation-service/internal/validator"
)

// Exercises the full pipeline: two uploaded sheets, one with an illegible
// answer, graded to completion and then adjudicated by an instructor.
func TestGradingFlow_TwoStudentsWithReview(t *testing.T) {
	ctx := context.Background()
	store := newStubStore()

	scores := map[string]map[string]*float64{
		"S1": {"Q1": ptr(5), "Q2": ptr(8)},
		"S2": {"Q1": ptr(5), "Q2": nil},
	}
	grader := &stubGrader{
		grade: func(call int, questions []models.QuestionSpec) (string, models.Breakdown, error) {
			// Sheets are claimed oldest first, so the first call is S1.
			studentID := "S1"
			if call > 1 {
				studentID = "S2"
			}
			breakdown := make(models.Breakdown, len(questions))
			for _, q := range questions {
				awarded := scores[studentID][q.QID]
				breakdown[q.QID] = models.QuestionBreakdown{
					Awarded:    awarded,
					Max:        q.MaxMarks,
					Confidence: 0.95,
					Illegible:  awarded == nil,
				}
			}
			return studentID, breakdown, nil
		},
	}
	repo, evaluation, pool := workerFixture(t, grader, store)
	results := NewResultService(repo, testLogger(), validator.New(), events.NewMockEventPublisher(testLogger()))

	exam := seedExam(t, repo, models.ExamReady)
	seedAnswerKey(t, repo, exam.ID, twoQuestionSpecs())
	for _, path := range []string{"MATH-101/s1.pdf", "MATH-101/s2.pdf"} {
		sheet := seedSheet(t, repo, exam.ID, path, nil)
		store.objects[sheet.FilePath] = []byte("pdf-bytes")
	}

	status, err := evaluation.StartJob(ctx, exam.ID, testInstructor)
	if err != nil {
		t.Fatalf("StartJob: %v", err)
	}
	if status.TotalSheets != 2 {
		t.Fatalf("total sheets = %d, want 2", status.TotalSheets)
	}

	for i := 0; i < 2; i++ {
		worked, err := pool.pollOnce(ctx)
		if err != nil {
			t.Fatalf("pollOnce %d: %v", i, err)
		}
		if !worked {
			t.Fatalf("pollOnce %d found no work", i)
		}
	}
	if worked, _ := pool.pollOnce(ctx); worked {
		t.Fatal("pollOnce found work after all sheets were graded")
	}

	job, _ := repo.Job().GetLatestByExam(ctx, nil, exam.ID)
	if job.Status != models.JobCompleted || job.ProcessedSheets != 2 {
		t.Fatalf("job = %s %d/%d", job.Status, job.ProcessedSheets, job.TotalSheets)
	}
	gotExam, _ := repo.Exam().GetByID(ctx, nil, exam.ID)
	if gotExam.Status != models.ExamCompleted {
		t.Fatalf("exam status = %s, want completed", gotExam.Status)
	}

	s1, err := results.GetResult(ctx, exam.ID, "S1", testInstructor)
	if err != nil {
		t.Fatalf("GetResult S1: %v", err)
	}
	if s1.TotalMarks != 13 || s1.MaxMarks != 15 || s1.HasIllegible {
		t.Errorf("S1 = %g/%g illegible=%v, want 13/15 false", s1.TotalMarks, s1.MaxMarks, s1.HasIllegible)
	}

	s2, err := results.GetResult(ctx, exam.ID, "S2", testInstructor)
	if err != nil {
		t.Fatalf("GetResult S2: %v", err)
	}
	if s2.TotalMarks != 5 || !s2.HasIllegible {
		t.Errorf("S2 = %g illegible=%v, want 5 true", s2.TotalMarks, s2.HasIllegible)
	}

	flagList, err := results.ListFlags(ctx, exam.ID, nil, testInstructor)
	if err != nil {
		t.Fatalf("ListFlags: %v", err)
	}
	if flagList.Total != 1 {
		t.Fatalf("flags = %d, want 1", flagList.Total)
	}
	flag := flagList.Flags[0]
	if flag.StudentID != "S2" || flag.QuestionID != "Q2" {
		t.Fatalf("flag = %+v", flag)
	}

	resolved, err := results.ResolveFlag(ctx, flag.ID, &ResolveFlagRequest{Marks: 6}, testInstructor)
	if err != nil {
		t.Fatalf("ResolveFlag: %v", err)
	}
	if resolved.TotalMarks != 11 || resolved.HasIllegible || !resolved.Reviewed {
		t.Errorf("resolved S2 = %g illegible=%v reviewed=%v, want 11 false true", resolved.TotalMarks, resolved.HasIllegible, resolved.Reviewed)
	}

	summary, err := results.GetSummary(ctx, exam.ID, testInstructor)
	if err != nil {
		t.Fatalf("GetSummary: %v", err)
	}
	if summary.TotalResults != 2 {
		t.Errorf("summary results = %d, want 2", summary.TotalResults)
	}
}
