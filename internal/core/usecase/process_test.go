package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"voiceinsight/internal/core/domain"
)

func newProcessFixture(call *domain.Call) (*ProcessCallUseCase, *callRepoFake, *transcriptRepoFake, *insightRepoFake, *transcriberFake, *analyzerFake, *queueFake, *statusCacheFake) {
	repo := &callRepoFake{call: call}
	transcripts := &transcriptRepoFake{}
	insights := &insightRepoFake{}
	transcriber := &transcriberFake{
		utterances: []domain.Utterance{
			{Speaker: "agent", Text: "hello", StartTime: 0, EndTime: 2.5},
			{Speaker: "customer", Text: "hi", StartTime: 2.5, EndTime: 4},
		},
	}
	analyzer := &analyzerFake{
		insights: []domain.ExtractedInsight{
			{Type: domain.InsightSummary, Content: "greeting call"},
		},
	}
	queue := &queueFake{}
	cache := &statusCacheFake{}

	uc := NewProcessCallUseCase(repo, transcripts, insights, transcriber, analyzer, queue, cache, nil, nil, PipelineConfig{
		MaxAttempts:       3,
		RetryInitialDelay: 10 * time.Millisecond,
		RetryMaxDelay:     time.Second,
	})
	return uc, repo, transcripts, insights, transcriber, analyzer, queue, cache
}

func TestProcessJobCompletesCall(t *testing.T) {
	call := &domain.Call{ID: "call-1", FilePath: "call-1.mp3", Status: domain.StatusUploaded}
	uc, repo, transcripts, insights, transcriber, analyzer, queue, cache := newProcessFixture(call)

	if err := uc.ProcessJob(context.Background(), domain.NewProcessingJob("call-1")); err != nil {
		t.Fatalf("ProcessJob() error = %v", err)
	}

	if len(repo.transitions) != 3 {
		t.Fatalf("expected 3 transitions, got %+v", repo.transitions)
	}
	if repo.transitions[0].to != domain.StatusTranscribing ||
		repo.transitions[1].to != domain.StatusAnalyzing ||
		repo.transitions[2].to != domain.StatusCompleted {
		t.Fatalf("unexpected transition sequence: %+v", repo.transitions)
	}
	if repo.transitions[1].update.DurationSeconds == nil || *repo.transitions[1].update.DurationSeconds != 4 {
		t.Fatalf("expected duration 4 on the analyzing transition, got %+v", repo.transitions[1].update)
	}
	if len(transcripts.replaced["call-1"]) != 2 {
		t.Fatalf("expected 2 utterances persisted, got %d", len(transcripts.replaced["call-1"]))
	}
	if len(insights.replaced["call-1"]) != 1 {
		t.Fatalf("expected 1 insight persisted, got %d", len(insights.replaced["call-1"]))
	}
	if len(transcriber.blobRefs) != 1 || transcriber.blobRefs[0] != "call-1.mp3" {
		t.Fatalf("expected transcription of call-1.mp3, got %v", transcriber.blobRefs)
	}
	if len(analyzer.texts) != 1 || analyzer.texts[0] != "agent: hello\ncustomer: hi" {
		t.Fatalf("unexpected analysis input: %q", analyzer.texts)
	}
	if len(queue.delayed) != 0 || len(queue.deadLetters) != 0 {
		t.Fatalf("completed call must not schedule redelivery")
	}
	if len(cache.invalidated) != 3 {
		t.Fatalf("expected cache invalidation per transition, got %d", len(cache.invalidated))
	}
}

func TestProcessJobTranscriptionFailureMarksFailedAndRetries(t *testing.T) {
	call := &domain.Call{ID: "call-1", FilePath: "call-1.mp3", Status: domain.StatusUploaded}
	uc, repo, transcripts, insights, _, _, queue, _ := newProcessFixture(call)
	uc.transcriber = &transcriberFake{err: errors.New("stt unreachable")}

	if err := uc.ProcessJob(context.Background(), domain.NewProcessingJob("call-1")); err != nil {
		t.Fatalf("stage failures must acknowledge the delivery, got %v", err)
	}

	last := repo.transitions[len(repo.transitions)-1]
	if last.from != domain.StatusTranscribing || last.to != domain.StatusFailed {
		t.Fatalf("expected transcribing -> failed, got %+v", last)
	}
	if last.update.ErrorMessage == "" {
		t.Fatalf("failed transition must carry the stage error")
	}
	if len(transcripts.replaced) != 0 || len(insights.replaced) != 0 {
		t.Fatalf("no child rows may be written for a failed transcription")
	}
	if len(queue.delayed) != 1 {
		t.Fatalf("expected one scheduled retry, got %d", len(queue.delayed))
	}
	if queue.delayed[0].job.Attempt != 2 {
		t.Fatalf("expected redelivery attempt 2, got %d", queue.delayed[0].job.Attempt)
	}
}

func TestProcessJobEmptyTranscriptIsAFailure(t *testing.T) {
	call := &domain.Call{ID: "call-1", FilePath: "call-1.mp3", Status: domain.StatusUploaded}
	uc, repo, _, _, _, _, queue, _ := newProcessFixture(call)
	uc.transcriber = &transcriberFake{utterances: nil}

	if err := uc.ProcessJob(context.Background(), domain.NewProcessingJob("call-1")); err != nil {
		t.Fatalf("ProcessJob() error = %v", err)
	}
	if call.Status != domain.StatusFailed {
		t.Fatalf("expected failed status, got %s", call.Status)
	}
	if len(queue.delayed) != 1 {
		t.Fatalf("expected a scheduled retry, got %d", len(queue.delayed))
	}
	_ = repo
}

func TestProcessJobAnalysisFailureKeepsTranscripts(t *testing.T) {
	call := &domain.Call{ID: "call-1", FilePath: "call-1.mp3", Status: domain.StatusUploaded}
	uc, repo, transcripts, insights, _, _, _, _ := newProcessFixture(call)
	uc.analyzer = &analyzerFake{err: errors.New("nlp unreachable")}

	if err := uc.ProcessJob(context.Background(), domain.NewProcessingJob("call-1")); err != nil {
		t.Fatalf("ProcessJob() error = %v", err)
	}

	last := repo.transitions[len(repo.transitions)-1]
	if last.from != domain.StatusAnalyzing || last.to != domain.StatusFailed {
		t.Fatalf("expected analyzing -> failed, got %+v", last)
	}
	if len(transcripts.replaced["call-1"]) != 2 {
		t.Fatalf("transcripts persisted before the failing stage must survive")
	}
	if len(insights.replaced) != 0 {
		t.Fatalf("no insights may be written when analysis fails")
	}
}

func TestProcessJobDeadLettersAfterMaxAttempts(t *testing.T) {
	call := &domain.Call{ID: "call-1", FilePath: "call-1.mp3", Status: domain.StatusFailed, ErrorMessage: "stt unreachable"}
	uc, _, _, _, _, _, queue, _ := newProcessFixture(call)
	uc.transcriber = &transcriberFake{err: errors.New("stt unreachable")}

	job := domain.ProcessingJob{CallID: "call-1", Attempt: 3, EnqueuedAt: time.Now()}
	if err := uc.ProcessJob(context.Background(), job); err != nil {
		t.Fatalf("ProcessJob() error = %v", err)
	}

	if len(queue.delayed) != 0 {
		t.Fatalf("exhausted job must not be rescheduled")
	}
	if len(queue.deadLetters) != 1 {
		t.Fatalf("expected one dead-letter publish, got %d", len(queue.deadLetters))
	}
	if queue.deadLetters[0].reason == "" {
		t.Fatalf("dead-letter must carry the failure reason")
	}
}

func TestProcessJobIgnoresDuplicateDelivery(t *testing.T) {
	call := &domain.Call{ID: "call-1", Status: domain.StatusCompleted}
	uc, repo, _, _, transcriber, _, queue, _ := newProcessFixture(call)

	if err := uc.ProcessJob(context.Background(), domain.NewProcessingJob("call-1")); err != nil {
		t.Fatalf("duplicate delivery must be acknowledged, got %v", err)
	}
	if len(repo.transitions) != 0 {
		t.Fatalf("duplicate delivery must not touch the call, got %+v", repo.transitions)
	}
	if len(transcriber.blobRefs) != 0 || len(queue.delayed) != 0 {
		t.Fatalf("duplicate delivery must not run any stage")
	}
}

func TestProcessJobDropsJobForDeletedCall(t *testing.T) {
	uc, repo, _, _, _, _, _, _ := newProcessFixture(nil)
	repo.getErr = domain.WrapError(domain.ErrCallNotFound, "get call", errors.New("no row"))

	if err := uc.ProcessJob(context.Background(), domain.NewProcessingJob("gone")); err != nil {
		t.Fatalf("job for a deleted call must be acknowledged, got %v", err)
	}
}

func TestProcessJobFiltersUnregisteredInsightTypes(t *testing.T) {
	call := &domain.Call{ID: "call-1", FilePath: "call-1.mp3", Status: domain.StatusUploaded}
	uc, _, _, insights, _, _, _, _ := newProcessFixture(call)
	uc.analyzer = &analyzerFake{
		insights: []domain.ExtractedInsight{
			{Type: domain.InsightSummary, Content: "greeting call"},
			{Type: domain.InsightType("horoscope"), Content: "mars rising"},
		},
	}

	if err := uc.ProcessJob(context.Background(), domain.NewProcessingJob("call-1")); err != nil {
		t.Fatalf("ProcessJob() error = %v", err)
	}
	kept := insights.replaced["call-1"]
	if len(kept) != 1 || kept[0].Type != domain.InsightSummary {
		t.Fatalf("expected only registered insight types to be persisted, got %+v", kept)
	}
}

func TestRetryDelayGrowsExponentially(t *testing.T) {
	cfg := PipelineConfig{RetryInitialDelay: time.Second, RetryMaxDelay: time.Minute}.normalize()

	first := cfg.RetryDelay(1)
	second := cfg.RetryDelay(2)
	if second <= first {
		t.Fatalf("expected growing delays, got %v then %v", first, second)
	}
	if capped := cfg.RetryDelay(30); capped > time.Minute {
		t.Fatalf("delay must be capped at the max, got %v", capped)
	}
}
