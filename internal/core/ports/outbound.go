package ports

import (
	"context"
	"io"
	"time"

	"voiceinsight/internal/core/domain"
)

// CallRepository persists and reads call state. Transition performs a guarded
// compare-and-set: it only succeeds when the stored status still equals from.
type CallRepository interface {
	Create(ctx context.Context, call *domain.Call) error
	GetByID(ctx context.Context, id string) (*domain.Call, error)
	GetWithDetails(ctx context.Context, id string) (*domain.Call, error)
	List(ctx context.Context, skip, limit int, status *domain.CallStatus) ([]domain.Call, int, error)
	Transition(ctx context.Context, id string, from, to domain.CallStatus, update domain.StatusUpdate) error
	Delete(ctx context.Context, id string) error
}

// TranscriptRepository owns the transcript rows of a call. ReplaceForCall is
// all-or-nothing: it swaps the call's full utterance set in one transaction.
type TranscriptRepository interface {
	ReplaceForCall(ctx context.Context, callID string, utterances []domain.Utterance) ([]domain.Transcript, error)
	ListByCall(ctx context.Context, callID string) ([]domain.Transcript, error)
}

// InsightRepository owns the insight rows of a call.
type InsightRepository interface {
	ReplaceForCall(ctx context.Context, callID string, insights []domain.ExtractedInsight) ([]domain.Insight, error)
	ListByCall(ctx context.Context, callID string, typeFilter *domain.InsightType) ([]domain.Insight, error)
	ListByType(ctx context.Context, insightType domain.InsightType, skip, limit int) ([]domain.Insight, error)
}

// BlobStore holds raw audio bytes. Delete is best-effort cleanup.
type BlobStore interface {
	Save(ctx context.Context, key string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// JobQueue hands processing work to background workers. Subscribe consumes
// with single-consumer visibility per message (queue-group semantics).
type JobQueue interface {
	Enqueue(ctx context.Context, job domain.ProcessingJob) error
	EnqueueAfter(ctx context.Context, job domain.ProcessingJob, delay time.Duration) error
	DeadLetter(ctx context.Context, job domain.ProcessingJob, reason string) error
	Subscribe(ctx context.Context, handler func(context.Context, domain.ProcessingJob) error) error
}

// Transcriber is the external speech-to-text provider.
type Transcriber interface {
	Transcribe(ctx context.Context, blobRef string) ([]domain.Utterance, error)
}

// Analyzer is the external NLP provider deriving insights from transcript text.
type Analyzer interface {
	Analyze(ctx context.Context, fullText string) ([]domain.ExtractedInsight, error)
}

// StatusCache is a best-effort read cache for status polling. Misses and
// backend failures are equivalent; callers always fall through to the store.
type StatusCache interface {
	GetStatus(ctx context.Context, callID string) (domain.CallStatusSnapshot, bool)
	SetStatus(ctx context.Context, snapshot domain.CallStatusSnapshot)
	Invalidate(ctx context.Context, callID string)
}
