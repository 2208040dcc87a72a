package usecase

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"voiceinsight/internal/core/domain"
)

type transitionRecord struct {
	from, to domain.CallStatus
	update   domain.StatusUpdate
}

type callRepoFake struct {
	call *domain.Call

	getErr        error
	createErr     error
	transitionErr error
	deleteErr     error

	listCalls []domain.Call
	listTotal int
	listErr   error

	created     []*domain.Call
	transitions []transitionRecord
	deleted     []string
}

func (f *callRepoFake) Create(_ context.Context, call *domain.Call) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.created = append(f.created, call)
	return nil
}

func (f *callRepoFake) GetByID(_ context.Context, id string) (*domain.Call, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	if f.call == nil {
		return nil, domain.WrapError(domain.ErrCallNotFound, "get call", fmt.Errorf("id %s", id))
	}
	copyCall := *f.call
	return &copyCall, nil
}

func (f *callRepoFake) GetWithDetails(ctx context.Context, id string) (*domain.Call, error) {
	return f.GetByID(ctx, id)
}

func (f *callRepoFake) List(context.Context, int, int, *domain.CallStatus) ([]domain.Call, int, error) {
	if f.listErr != nil {
		return nil, 0, f.listErr
	}
	return f.listCalls, f.listTotal, nil
}

func (f *callRepoFake) Transition(_ context.Context, _ string, from, to domain.CallStatus, update domain.StatusUpdate) error {
	if f.transitionErr != nil {
		return f.transitionErr
	}
	if f.call != nil && f.call.Status != from {
		return domain.WrapError(domain.ErrInvalidTransition, "transition",
			fmt.Errorf("expected %s, call is %s", from, f.call.Status))
	}
	f.transitions = append(f.transitions, transitionRecord{from: from, to: to, update: update})
	if f.call != nil {
		f.call.Status = to
		f.call.ErrorMessage = update.ErrorMessage
		if update.DurationSeconds != nil {
			f.call.DurationSeconds = update.DurationSeconds
		}
	}
	return nil
}

func (f *callRepoFake) Delete(_ context.Context, id string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, id)
	return nil
}

type transcriptRepoFake struct {
	replaceErr error
	replaced   map[string][]domain.Utterance
	stored     []domain.Transcript
}

func (f *transcriptRepoFake) ReplaceForCall(_ context.Context, callID string, utterances []domain.Utterance) ([]domain.Transcript, error) {
	if f.replaceErr != nil {
		return nil, f.replaceErr
	}
	if f.replaced == nil {
		f.replaced = map[string][]domain.Utterance{}
	}
	f.replaced[callID] = utterances

	rows := make([]domain.Transcript, 0, len(utterances))
	for _, u := range utterances {
		rows = append(rows, domain.Transcript{
			CallID:    callID,
			Speaker:   u.Speaker,
			Text:      u.Text,
			StartTime: u.StartTime,
			EndTime:   u.EndTime,
		})
	}
	f.stored = rows
	return rows, nil
}

func (f *transcriptRepoFake) ListByCall(context.Context, string) ([]domain.Transcript, error) {
	return f.stored, nil
}

type insightRepoFake struct {
	replaceErr error
	replaced   map[string][]domain.ExtractedInsight

	byCall []domain.Insight
	byType []domain.Insight
}

func (f *insightRepoFake) ReplaceForCall(_ context.Context, callID string, insights []domain.ExtractedInsight) ([]domain.Insight, error) {
	if f.replaceErr != nil {
		return nil, f.replaceErr
	}
	if f.replaced == nil {
		f.replaced = map[string][]domain.ExtractedInsight{}
	}
	f.replaced[callID] = insights
	return nil, nil
}

func (f *insightRepoFake) ListByCall(context.Context, string, *domain.InsightType) ([]domain.Insight, error) {
	return f.byCall, nil
}

func (f *insightRepoFake) ListByType(context.Context, domain.InsightType, int, int) ([]domain.Insight, error) {
	return f.byType, nil
}

type blobStoreFake struct {
	saveErr   error
	deleteErr error

	saved   map[string][]byte
	deleted []string
}

func (f *blobStoreFake) Save(_ context.Context, key string, data io.Reader) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	raw, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	if f.saved == nil {
		f.saved = map[string][]byte{}
	}
	f.saved[key] = raw
	return nil
}

func (f *blobStoreFake) Open(_ context.Context, key string) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(f.saved[key])), nil
}

func (f *blobStoreFake) Delete(_ context.Context, key string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, key)
	return nil
}

type delayedJob struct {
	job   domain.ProcessingJob
	delay time.Duration
}

type deadLetterRecord struct {
	job    domain.ProcessingJob
	reason string
}

type queueFake struct {
	enqueueErr error

	enqueued    []domain.ProcessingJob
	delayed     []delayedJob
	deadLetters []deadLetterRecord
}

func (f *queueFake) Enqueue(_ context.Context, job domain.ProcessingJob) error {
	if f.enqueueErr != nil {
		return f.enqueueErr
	}
	f.enqueued = append(f.enqueued, job)
	return nil
}

func (f *queueFake) EnqueueAfter(_ context.Context, job domain.ProcessingJob, delay time.Duration) error {
	f.delayed = append(f.delayed, delayedJob{job: job, delay: delay})
	return nil
}

func (f *queueFake) DeadLetter(_ context.Context, job domain.ProcessingJob, reason string) error {
	f.deadLetters = append(f.deadLetters, deadLetterRecord{job: job, reason: reason})
	return nil
}

func (f *queueFake) Subscribe(context.Context, func(context.Context, domain.ProcessingJob) error) error {
	return nil
}

type transcriberFake struct {
	utterances []domain.Utterance
	err        error

	blobRefs []string
}

func (f *transcriberFake) Transcribe(_ context.Context, blobRef string) ([]domain.Utterance, error) {
	f.blobRefs = append(f.blobRefs, blobRef)
	if f.err != nil {
		return nil, f.err
	}
	return f.utterances, nil
}

type analyzerFake struct {
	insights []domain.ExtractedInsight
	err      error

	texts []string
}

func (f *analyzerFake) Analyze(_ context.Context, fullText string) ([]domain.ExtractedInsight, error) {
	f.texts = append(f.texts, fullText)
	if f.err != nil {
		return nil, f.err
	}
	return f.insights, nil
}

type statusCacheFake struct {
	snapshot domain.CallStatusSnapshot
	hit      bool

	setCalls    []domain.CallStatusSnapshot
	invalidated []string
}

func (f *statusCacheFake) GetStatus(context.Context, string) (domain.CallStatusSnapshot, bool) {
	return f.snapshot, f.hit
}

func (f *statusCacheFake) SetStatus(_ context.Context, snapshot domain.CallStatusSnapshot) {
	f.setCalls = append(f.setCalls, snapshot)
}

func (f *statusCacheFake) Invalidate(_ context.Context, callID string) {
	f.invalidated = append(f.invalidated, callID)
}
