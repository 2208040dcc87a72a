package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"voiceinsight/internal/core/domain"
	"voiceinsight/internal/core/ports"
)

const (
	DefaultCallPageSize    = 20
	DefaultInsightPageSize = 50
	MaxPageSize            = 100
)

type QueryCallsUseCase struct {
	calls    ports.CallRepository
	insights ports.InsightRepository
	storage  ports.BlobStore
	queue    ports.JobQueue
	cache    ports.StatusCache
	registry *domain.InsightTypeRegistry
	logger   *slog.Logger
}

func NewQueryCallsUseCase(
	calls ports.CallRepository,
	insights ports.InsightRepository,
	storage ports.BlobStore,
	queue ports.JobQueue,
	cache ports.StatusCache,
	registry *domain.InsightTypeRegistry,
	logger *slog.Logger,
) *QueryCallsUseCase {
	if registry == nil {
		registry = domain.DefaultInsightTypes()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &QueryCallsUseCase{
		calls:    calls,
		insights: insights,
		storage:  storage,
		queue:    queue,
		cache:    cache,
		registry: registry,
		logger:   logger,
	}
}

func (uc *QueryCallsUseCase) ListCalls(
	ctx context.Context,
	skip, limit int,
	status *domain.CallStatus,
) (domain.CallPage, error) {
	skip, limit, err := normalizePage(skip, limit, DefaultCallPageSize)
	if err != nil {
		return domain.CallPage{}, err
	}

	calls, total, err := uc.calls.List(ctx, skip, limit, status)
	if err != nil {
		return domain.CallPage{}, fmt.Errorf("list calls: %w", err)
	}
	return domain.CallPage{Calls: calls, Total: total, Skip: skip, Limit: limit}, nil
}

func (uc *QueryCallsUseCase) GetCall(ctx context.Context, id string) (*domain.Call, error) {
	return uc.calls.GetWithDetails(ctx, id)
}

func (uc *QueryCallsUseCase) GetCallStatus(ctx context.Context, id string) (domain.CallStatusSnapshot, error) {
	if uc.cache != nil {
		if snapshot, ok := uc.cache.GetStatus(ctx, id); ok {
			return snapshot, nil
		}
	}

	call, err := uc.calls.GetByID(ctx, id)
	if err != nil {
		return domain.CallStatusSnapshot{}, err
	}

	snapshot := domain.CallStatusSnapshot{
		CallID:       call.ID,
		Status:       call.Status,
		ErrorMessage: call.ErrorMessage,
	}
	if uc.cache != nil {
		uc.cache.SetStatus(ctx, snapshot)
	}
	return snapshot, nil
}

// DeleteCall removes the call row (children cascade in the store) and then
// cleans up the audio blob. Blob removal is best-effort: a missing or
// unreachable blob is logged, never surfaced.
func (uc *QueryCallsUseCase) DeleteCall(ctx context.Context, id string) error {
	call, err := uc.calls.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if err := uc.calls.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete call: %w", err)
	}
	if uc.cache != nil {
		uc.cache.Invalidate(ctx, id)
	}

	if err := uc.storage.Delete(ctx, call.FilePath); err != nil {
		uc.logger.Warn("audio blob cleanup failed", "call_id", id, "blob", call.FilePath, "error", err)
	}
	return nil
}

// RetryCall re-enqueues a failed call with a fresh attempt counter.
func (uc *QueryCallsUseCase) RetryCall(ctx context.Context, id string) error {
	call, err := uc.calls.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if call.Status != domain.StatusFailed {
		return domain.WrapError(domain.ErrInvalidTransition, "retry call",
			fmt.Errorf("call is %s, only %s calls can be retried", call.Status, domain.StatusFailed))
	}
	if err := uc.queue.Enqueue(ctx, domain.NewProcessingJob(id)); err != nil {
		return fmt.Errorf("enqueue retry job: %w", err)
	}
	return nil
}

func (uc *QueryCallsUseCase) ListInsights(
	ctx context.Context,
	insightType domain.InsightType,
	skip, limit int,
) ([]domain.Insight, error) {
	if !uc.registry.Registered(insightType) {
		return nil, domain.WrapError(domain.ErrInvalidInput, "list insights",
			fmt.Errorf("unknown insight type %q", insightType))
	}
	skip, limit, err := normalizePage(skip, limit, DefaultInsightPageSize)
	if err != nil {
		return nil, err
	}
	return uc.insights.ListByType(ctx, insightType, skip, limit)
}

func (uc *QueryCallsUseCase) ListInsightsForCall(
	ctx context.Context,
	callID string,
	typeFilter *domain.InsightType,
) ([]domain.Insight, error) {
	if typeFilter != nil && !uc.registry.Registered(*typeFilter) {
		return nil, domain.WrapError(domain.ErrInvalidInput, "list call insights",
			fmt.Errorf("unknown insight type %q", *typeFilter))
	}
	return uc.insights.ListByCall(ctx, callID, typeFilter)
}

func normalizePage(skip, limit, fallback int) (int, int, error) {
	if skip < 0 {
		return 0, 0, domain.WrapError(domain.ErrInvalidInput, "paginate", fmt.Errorf("skip must be >= 0, got %d", skip))
	}
	if limit == 0 {
		limit = fallback
	}
	if limit < 1 || limit > MaxPageSize {
		return 0, 0, domain.WrapError(domain.ErrInvalidInput, "paginate", fmt.Errorf("limit must be within 1..%d, got %d", MaxPageSize, limit))
	}
	return skip, limit, nil
}
