package usecase

import (
	"context"
	"errors"
	"testing"

	"voiceinsight/internal/core/domain"
)

func newQueryFixture(call *domain.Call) (*QueryCallsUseCase, *callRepoFake, *insightRepoFake, *blobStoreFake, *queueFake, *statusCacheFake) {
	repo := &callRepoFake{call: call}
	insights := &insightRepoFake{}
	storage := &blobStoreFake{}
	queue := &queueFake{}
	cache := &statusCacheFake{}
	uc := NewQueryCallsUseCase(repo, insights, storage, queue, cache, nil, nil)
	return uc, repo, insights, storage, queue, cache
}

func TestListCallsAppliesPaginationDefaults(t *testing.T) {
	uc, repo, _, _, _, _ := newQueryFixture(nil)
	repo.listCalls = []domain.Call{{ID: "call-1"}}
	repo.listTotal = 7

	page, err := uc.ListCalls(context.Background(), 0, 0, nil)
	if err != nil {
		t.Fatalf("ListCalls() error = %v", err)
	}
	if page.Limit != DefaultCallPageSize {
		t.Fatalf("expected default limit %d, got %d", DefaultCallPageSize, page.Limit)
	}
	if page.Total != 7 || len(page.Calls) != 1 {
		t.Fatalf("unexpected page: %+v", page)
	}
}

func TestListCallsRejectsBadPagination(t *testing.T) {
	uc, _, _, _, _, _ := newQueryFixture(nil)

	if _, err := uc.ListCalls(context.Background(), -1, 10, nil); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for negative skip, got %v", err)
	}
	if _, err := uc.ListCalls(context.Background(), 0, MaxPageSize+1, nil); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for oversized limit, got %v", err)
	}
	if _, err := uc.ListCalls(context.Background(), 0, -5, nil); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for negative limit, got %v", err)
	}
}

func TestGetCallStatusServesFromCache(t *testing.T) {
	uc, repo, _, _, _, cache := newQueryFixture(nil)
	repo.getErr = errors.New("store must not be hit on a cache hit")
	cache.hit = true
	cache.snapshot = domain.CallStatusSnapshot{CallID: "call-1", Status: domain.StatusAnalyzing}

	snapshot, err := uc.GetCallStatus(context.Background(), "call-1")
	if err != nil {
		t.Fatalf("GetCallStatus() error = %v", err)
	}
	if snapshot.Status != domain.StatusAnalyzing {
		t.Fatalf("expected cached snapshot, got %+v", snapshot)
	}
}

func TestGetCallStatusFallsThroughAndFillsCache(t *testing.T) {
	call := &domain.Call{ID: "call-1", Status: domain.StatusFailed, ErrorMessage: "stt unreachable"}
	uc, _, _, _, _, cache := newQueryFixture(call)

	snapshot, err := uc.GetCallStatus(context.Background(), "call-1")
	if err != nil {
		t.Fatalf("GetCallStatus() error = %v", err)
	}
	if snapshot.Status != domain.StatusFailed || snapshot.ErrorMessage != "stt unreachable" {
		t.Fatalf("unexpected snapshot: %+v", snapshot)
	}
	if len(cache.setCalls) != 1 {
		t.Fatalf("expected snapshot written back to cache, got %d writes", len(cache.setCalls))
	}
}

func TestDeleteCallRemovesRowAndBlob(t *testing.T) {
	call := &domain.Call{ID: "call-1", FilePath: "call-1.mp3", Status: domain.StatusCompleted}
	uc, repo, _, storage, _, cache := newQueryFixture(call)

	if err := uc.DeleteCall(context.Background(), "call-1"); err != nil {
		t.Fatalf("DeleteCall() error = %v", err)
	}
	if len(repo.deleted) != 1 || repo.deleted[0] != "call-1" {
		t.Fatalf("expected row deletion, got %v", repo.deleted)
	}
	if len(storage.deleted) != 1 || storage.deleted[0] != "call-1.mp3" {
		t.Fatalf("expected blob deletion, got %v", storage.deleted)
	}
	if len(cache.invalidated) != 1 {
		t.Fatalf("expected cache invalidation, got %d", len(cache.invalidated))
	}
}

func TestDeleteCallToleratesBlobCleanupFailure(t *testing.T) {
	call := &domain.Call{ID: "call-1", FilePath: "call-1.mp3", Status: domain.StatusCompleted}
	uc, _, _, storage, _, _ := newQueryFixture(call)
	storage.deleteErr = errors.New("disk gone")

	if err := uc.DeleteCall(context.Background(), "call-1"); err != nil {
		t.Fatalf("blob cleanup failures must not surface, got %v", err)
	}
}

func TestDeleteCallUnknownID(t *testing.T) {
	uc, repo, _, _, _, _ := newQueryFixture(nil)
	repo.getErr = domain.WrapError(domain.ErrCallNotFound, "get call", errors.New("no row"))

	if err := uc.DeleteCall(context.Background(), "missing"); !domain.IsKind(err, domain.ErrCallNotFound) {
		t.Fatalf("expected ErrCallNotFound, got %v", err)
	}
}

func TestRetryCallOnlyFromFailed(t *testing.T) {
	call := &domain.Call{ID: "call-1", Status: domain.StatusCompleted}
	uc, _, _, _, queue, _ := newQueryFixture(call)

	if err := uc.RetryCall(context.Background(), "call-1"); !domain.IsKind(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if len(queue.enqueued) != 0 {
		t.Fatalf("non-failed call must not be enqueued")
	}
}

func TestRetryCallEnqueuesFreshJob(t *testing.T) {
	call := &domain.Call{ID: "call-1", Status: domain.StatusFailed, ErrorMessage: "stt unreachable"}
	uc, _, _, _, queue, _ := newQueryFixture(call)

	if err := uc.RetryCall(context.Background(), "call-1"); err != nil {
		t.Fatalf("RetryCall() error = %v", err)
	}
	if len(queue.enqueued) != 1 || queue.enqueued[0].Attempt != 1 {
		t.Fatalf("expected a fresh attempt-1 job, got %+v", queue.enqueued)
	}
}

func TestListInsightsValidatesType(t *testing.T) {
	uc, _, insights, _, _, _ := newQueryFixture(nil)
	insights.byType = []domain.Insight{{ID: "i-1", Type: domain.InsightSummary}}

	got, err := uc.ListInsights(context.Background(), domain.InsightSummary, 0, 0)
	if err != nil {
		t.Fatalf("ListInsights() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 insight, got %d", len(got))
	}

	if _, err := uc.ListInsights(context.Background(), "horoscope", 0, 0); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestListInsightsForCallValidatesOptionalFilter(t *testing.T) {
	uc, _, insights, _, _, _ := newQueryFixture(nil)
	insights.byCall = []domain.Insight{{ID: "i-1", CallID: "call-1"}}

	got, err := uc.ListInsightsForCall(context.Background(), "call-1", nil)
	if err != nil {
		t.Fatalf("ListInsightsForCall() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 insight, got %d", len(got))
	}

	bad := domain.InsightType("horoscope")
	if _, err := uc.ListInsightsForCall(context.Background(), "call-1", &bad); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}
