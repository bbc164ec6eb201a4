package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/scriptgrade/evaluation-service/internal/models"
	"github.com/scriptgrade/evaluation-service/internal/repositories"
	"github.com/scriptgrade/evaluation-service/internal/validator"
)

func newSheetFixture(t *testing.T) (*memoryRepository, *stubStore, SheetService) {
	t.Helper()
	repo := newMemoryRepository()
	store := newStubStore()
	svc := NewSheetService(repo, store, testLogger(), validator.New(), 15*time.Minute)
	return repo, store, svc
}

func TestUploadSheet(t *testing.T) {
	ctx := context.Background()
	repo, store, svc := newSheetFixture(t)

	exam := seedExam(t, repo, models.ExamReady)
	resp, err := svc.Upload(ctx, exam.ID, "alice.pdf", []byte("pdf-bytes"), testInstructor)
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}

	if resp.FileName != "alice.pdf" {
		t.Errorf("file name = %s", resp.FileName)
	}
	if !strings.HasPrefix(resp.FilePath, exam.ExamID+"/") {
		t.Errorf("file path = %s, want %s/ prefix", resp.FilePath, exam.ExamID)
	}
	if resp.Processed {
		t.Error("fresh sheet marked processed")
	}

	stored, ok := store.objects[resp.FilePath]
	if !ok {
		t.Fatal("file not stored")
	}
	if string(stored) != "pdf-bytes" {
		t.Errorf("stored bytes = %s", stored)
	}

	// Uploading the same file name twice must not collide in storage.
	second, err := svc.Upload(ctx, exam.ID, "alice.pdf", []byte("other"), testInstructor)
	if err != nil {
		t.Fatalf("second Upload: %v", err)
	}
	if second.FilePath == resp.FilePath {
		t.Error("duplicate uploads share a storage path")
	}
}

func TestUploadSheet_Rejections(t *testing.T) {
	ctx := context.Background()
	repo, _, svc := newSheetFixture(t)

	t.Run("student denied", func(t *testing.T) {
		exam := seedExam(t, repo, models.ExamReady)
		if _, err := svc.Upload(ctx, exam.ID, "s.pdf", nil, testStudent("S1")); !IsForbiddenError(err) {
			t.Errorf("err = %v, want forbidden", err)
		}
	})

	t.Run("blocked while evaluating", func(t *testing.T) {
		exam := seedExam(t, repo, models.ExamEvaluating)
		if _, err := svc.Upload(ctx, exam.ID, "s.pdf", nil, testInstructor); !IsInvalidStateError(err) {
			t.Errorf("err = %v, want invalid state", err)
		}
	})
}

func TestRegisterSheet(t *testing.T) {
	ctx := context.Background()
	repo, _, svc := newSheetFixture(t)

	exam := seedExam(t, repo, models.ExamReady)
	sid := "S1"
	resp, err := svc.Register(ctx, exam.ID, &RegisterSheetRequest{
		FileName:  "s1.pdf",
		FilePath:  "MATH-101/s1.pdf",
		StudentID: &sid,
	}, testInstructor)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if resp.StudentID == nil || *resp.StudentID != "S1" {
		t.Errorf("student id = %v", resp.StudentID)
	}

	t.Run("missing file path rejected", func(t *testing.T) {
		_, err := svc.Register(ctx, exam.ID, &RegisterSheetRequest{FileName: "s1.pdf"}, testInstructor)
		if err == nil {
			t.Error("expected validation error")
		}
	})
}

func TestGetSheet_OwnershipAndSignedURL(t *testing.T) {
	ctx := context.Background()
	repo, _, svc := newSheetFixture(t)

	exam := seedExam(t, repo, models.ExamReady)
	sid := "S1"
	owned := seedSheet(t, repo, exam.ID, "MATH-101/s1.pdf", &sid)
	anonymous := seedSheet(t, repo, exam.ID, "MATH-101/s2.pdf", nil)

	resp, err := svc.GetByID(ctx, owned.ID, testStudent("S1"))
	if err != nil {
		t.Fatalf("owner GetByID: %v", err)
	}
	if resp.DownloadURL == "" {
		t.Error("download URL not signed")
	}

	if _, err := svc.GetByID(ctx, owned.ID, testStudent("S2")); !IsForbiddenError(err) {
		t.Errorf("cross-student read err = %v, want forbidden", err)
	}
	if _, err := svc.GetByID(ctx, anonymous.ID, testStudent("S1")); !IsForbiddenError(err) {
		t.Errorf("unattributed sheet read err = %v, want forbidden", err)
	}
	if _, err := svc.GetByID(ctx, anonymous.ID, testInstructor); err != nil {
		t.Errorf("staff read: %v", err)
	}
}

func TestListSheets(t *testing.T) {
	ctx := context.Background()
	repo, _, svc := newSheetFixture(t)

	exam := seedExam(t, repo, models.ExamReady)
	seedSheet(t, repo, exam.ID, "MATH-101/s1.pdf", nil)
	processed := seedSheet(t, repo, exam.ID, "MATH-101/s2.pdf", nil)
	if err := repo.Sheet().MarkProcessed(ctx, nil, processed.ID, nil); err != nil {
		t.Fatalf("mark processed: %v", err)
	}

	resp, err := svc.List(ctx, exam.ID, repositories.SheetFilters{}, testInstructor)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if resp.Total != 2 {
		t.Errorf("total = %d, want 2", resp.Total)
	}

	unprocessed := false
	filtered, err := svc.List(ctx, exam.ID, repositories.SheetFilters{Processed: &unprocessed}, testInstructor)
	if err != nil {
		t.Fatalf("filtered List: %v", err)
	}
	if filtered.Total != 1 {
		t.Errorf("unprocessed = %d, want 1", filtered.Total)
	}

	if _, err := svc.List(ctx, exam.ID, repositories.SheetFilters{}, testStudent("S1")); !IsForbiddenError(err) {
		t.Errorf("student list err = %v, want forbidden", err)
	}
}

func TestDeleteSheet(t *testing.T) {
	ctx := context.Background()
	repo, store, svc := newSheetFixture(t)

	exam := seedExam(t, repo, models.ExamReady)
	sheet := seedSheet(t, repo, exam.ID, "MATH-101/s1.pdf", nil)
	store.objects[sheet.FilePath] = []byte("pdf-bytes")

	if err := svc.Delete(ctx, sheet.ID, testInstructor); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := repo.Sheet().GetByID(ctx, nil, sheet.ID); !IsNotFoundError(err) {
		t.Errorf("sheet survived delete: %v", err)
	}
	if _, ok := store.objects[sheet.FilePath]; ok {
		t.Error("stored file survived delete")
	}

	t.Run("processed sheet protected", func(t *testing.T) {
		graded := seedSheet(t, repo, exam.ID, "MATH-101/s2.pdf", nil)
		if err := repo.Sheet().MarkProcessed(ctx, nil, graded.ID, nil); err != nil {
			t.Fatalf("mark processed: %v", err)
		}
		if err := svc.Delete(ctx, graded.ID, testInstructor); !IsInvalidStateError(err) {
			t.Errorf("err = %v, want invalid state", err)
		}
	})
}
