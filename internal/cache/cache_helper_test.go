package cache

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type cachedJob struct {
	ID     uint   `json:"id"`
	Status string `json:"status"`
}

func newTestCache(t *testing.T, prefix string) (*CacheHelper, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewCacheHelper(client, prefix), mr
}

func TestCacheHelperSetGet(t *testing.T) {
	ctx := context.Background()
	helper, mr := newTestCache(t, "job:")

	want := cachedJob{ID: 42, Status: "in_progress"}
	if err := helper.Set(ctx, "exam:7", want, time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if !mr.Exists("job:exam:7") {
		t.Fatal("key not stored under prefixed name")
	}

	var got cachedJob
	if err := helper.Get(ctx, "exam:7", &got); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestCacheHelperGetMiss(t *testing.T) {
	ctx := context.Background()
	helper, _ := newTestCache(t, "job:")

	var got cachedJob
	if err := helper.Get(ctx, "missing", &got); !errors.Is(err, ErrCacheNotFound) {
		t.Errorf("err = %v, want ErrCacheNotFound", err)
	}
}

func TestCacheHelperTTLExpiry(t *testing.T) {
	ctx := context.Background()
	helper, mr := newTestCache(t, "result:")

	if err := helper.Set(ctx, "exam:1:S1", cachedJob{ID: 1}, time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	mr.FastForward(2 * time.Minute)

	var got cachedJob
	if err := helper.Get(ctx, "exam:1:S1", &got); !errors.Is(err, ErrCacheNotFound) {
		t.Errorf("err after expiry = %v, want ErrCacheNotFound", err)
	}
}

func TestCacheHelperDelete(t *testing.T) {
	ctx := context.Background()
	helper, _ := newTestCache(t, "exam:")

	for _, key := range []string{"id:1", "id:2", "id:3"} {
		if err := helper.Set(ctx, key, cachedJob{ID: 1}, time.Minute); err != nil {
			t.Fatalf("Set %s: %v", key, err)
		}
	}
	if err := helper.Delete(ctx, "id:1", "id:2"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	if ok, _ := helper.Exists(ctx, "id:1"); ok {
		t.Error("id:1 survived delete")
	}
	if ok, _ := helper.Exists(ctx, "id:3"); !ok {
		t.Error("id:3 deleted unexpectedly")
	}
}

func TestCacheHelperInvalidatePattern(t *testing.T) {
	ctx := context.Background()
	helper, _ := newTestCache(t, "result:")

	for _, key := range []string{"exam:7:S1", "exam:7:S2", "exam:8:S1"} {
		if err := helper.Set(ctx, key, cachedJob{ID: 1}, time.Minute); err != nil {
			t.Fatalf("Set %s: %v", key, err)
		}
	}
	if err := helper.InvalidatePattern(ctx, "exam:7*"); err != nil {
		t.Fatalf("InvalidatePattern: %v", err)
	}

	if ok, _ := helper.Exists(ctx, "exam:7:S1"); ok {
		t.Error("exam 7 entry survived invalidation")
	}
	if ok, _ := helper.Exists(ctx, "exam:8:S1"); !ok {
		t.Error("exam 8 entry invalidated by mistake")
	}
}

func TestCacheHelperNilClientDegradesGracefully(t *testing.T) {
	ctx := context.Background()
	helper := NewCacheHelper(nil, "fast:")

	if err := helper.Set(ctx, "k", cachedJob{}, time.Minute); err != nil {
		t.Errorf("Set with nil client = %v, want nil", err)
	}
	var got cachedJob
	if err := helper.Get(ctx, "k", &got); !errors.Is(err, ErrCacheNotAvailable) {
		t.Errorf("Get with nil client = %v, want ErrCacheNotAvailable", err)
	}
	if err := helper.Delete(ctx, "k"); err != nil {
		t.Errorf("Delete with nil client = %v, want nil", err)
	}
}

func TestCacheOrExecute(t *testing.T) {
	ctx := context.Background()
	helper, _ := newTestCache(t, "exam:")

	calls := 0
	fetch := func() (interface{}, error) {
		calls++
		return cachedJob{ID: 9, Status: "completed"}, nil
	}

	var got cachedJob
	if err := helper.CacheOrExecute(ctx, "id:9", &got, time.Minute, fetch); err != nil {
		t.Fatalf("CacheOrExecute: %v", err)
	}
	if calls != 1 || got.ID != 9 {
		t.Fatalf("calls = %d, got %+v", calls, got)
	}

	// Prime the cache synchronously so the second call is a hit.
	if err := helper.Set(ctx, "id:9", got, time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	var again cachedJob
	if err := helper.CacheOrExecute(ctx, "id:9", &again, time.Minute, fetch); err != nil {
		t.Fatalf("CacheOrExecute hit: %v", err)
	}
	if calls != 1 {
		t.Errorf("fetch ran on a cache hit, calls = %d", calls)
	}
}

func TestCacheManagerInvalidateExam(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	cm := NewCacheManager(client)

	examID := uint(7)
	_ = cm.Exam.Set(ctx, fmt.Sprintf("id:%d", examID), cachedJob{ID: 7}, time.Minute)
	_ = cm.Exam.Set(ctx, "list:recent", cachedJob{}, time.Minute)
	_ = cm.Job.Set(ctx, fmt.Sprintf("exam:%d", examID), cachedJob{Status: "pending"}, time.Minute)
	_ = cm.Exam.Set(ctx, "id:8", cachedJob{ID: 8}, time.Minute)

	if err := cm.InvalidateExam(ctx, examID); err != nil {
		t.Fatalf("InvalidateExam: %v", err)
	}

	if mr.Exists("exam:id:7") || mr.Exists("exam:list:recent") || mr.Exists("job:exam:7") {
		t.Error("exam 7 cache entries survived invalidation")
	}
	if !mr.Exists("exam:id:8") {
		t.Error("unrelated exam entry invalidated")
	}
}
