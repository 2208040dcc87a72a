package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"voiceinsight/internal/core/domain"
	"voiceinsight/internal/core/ports"
)

// PipelineConfig bounds the two external stages and the redelivery policy.
type PipelineConfig struct {
	StageTimeout      time.Duration
	MaxAttempts       int
	RetryInitialDelay time.Duration
	RetryMaxDelay     time.Duration
}

func (c PipelineConfig) normalize() PipelineConfig {
	out := c
	if out.StageTimeout <= 0 {
		out.StageTimeout = 5 * time.Minute
	}
	if out.MaxAttempts <= 0 {
		out.MaxAttempts = 3
	}
	if out.RetryInitialDelay <= 0 {
		out.RetryInitialDelay = 5 * time.Second
	}
	if out.RetryMaxDelay < out.RetryInitialDelay {
		out.RetryMaxDelay = 5 * time.Minute
	}
	return out
}

// RetryDelay is the exponential redelivery delay before the given attempt
// number is re-run.
func (c PipelineConfig) RetryDelay(attempt int) time.Duration {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.RetryInitialDelay
	policy.MaxInterval = c.RetryMaxDelay
	policy.RandomizationFactor = 0
	policy.Multiplier = 2.0
	policy.MaxElapsedTime = 0

	delay := c.RetryInitialDelay
	for i := 0; i < attempt; i++ {
		delay = policy.NextBackOff()
	}
	return delay
}

type ProcessCallUseCase struct {
	calls       ports.CallRepository
	transcripts ports.TranscriptRepository
	insights    ports.InsightRepository
	transcriber ports.Transcriber
	analyzer    ports.Analyzer
	queue       ports.JobQueue
	cache       ports.StatusCache
	registry    *domain.InsightTypeRegistry
	logger      *slog.Logger
	cfg         PipelineConfig
}

func NewProcessCallUseCase(
	calls ports.CallRepository,
	transcripts ports.TranscriptRepository,
	insights ports.InsightRepository,
	transcriber ports.Transcriber,
	analyzer ports.Analyzer,
	queue ports.JobQueue,
	cache ports.StatusCache,
	registry *domain.InsightTypeRegistry,
	logger *slog.Logger,
	cfg PipelineConfig,
) *ProcessCallUseCase {
	if registry == nil {
		registry = domain.DefaultInsightTypes()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ProcessCallUseCase{
		calls:       calls,
		transcripts: transcripts,
		insights:    insights,
		transcriber: transcriber,
		analyzer:    analyzer,
		queue:       queue,
		cache:       cache,
		registry:    registry,
		logger:      logger,
		cfg:         cfg.normalize(),
	}
}

// ProcessJob drives one call through transcription and analysis. A nil return
// acknowledges the delivery; stage failures are committed as a failed status
// first and then acknowledged, with redelivery handled by explicit re-enqueue.
func (uc *ProcessCallUseCase) ProcessJob(ctx context.Context, job domain.ProcessingJob) error {
	call, err := uc.calls.GetByID(ctx, job.CallID)
	if err != nil {
		if domain.IsKind(err, domain.ErrCallNotFound) {
			uc.logger.Warn("job for deleted call dropped", "call_id", job.CallID)
			return nil
		}
		return fmt.Errorf("load call: %w", err)
	}

	if !call.Status.Processable() {
		uc.logger.Info("duplicate delivery ignored",
			"call_id", call.ID, "status", call.Status, "attempt", job.Attempt)
		return nil
	}

	if err := uc.transition(ctx, call.ID, call.Status, domain.StatusTranscribing, domain.StatusUpdate{}); err != nil {
		if domain.IsKind(err, domain.ErrInvalidTransition) {
			// Another worker claimed the call between load and CAS.
			uc.logger.Info("call claimed concurrently", "call_id", call.ID, "attempt", job.Attempt)
			return nil
		}
		return fmt.Errorf("claim call: %w", err)
	}

	failedFrom, stageErr := uc.runPipeline(ctx, call)
	if stageErr == nil {
		uc.logger.Info("call completed", "call_id", call.ID, "attempt", job.Attempt)
		return nil
	}
	if domain.IsKind(stageErr, domain.ErrInvalidTransition) {
		return stageErr
	}

	update := domain.StatusUpdate{ErrorMessage: stageErr.Error()}
	if err := uc.transition(ctx, call.ID, failedFrom, domain.StatusFailed, update); err != nil {
		return fmt.Errorf("%w; mark failed status: %w", stageErr, err)
	}
	uc.scheduleRetry(ctx, job, stageErr)
	return nil
}

// runPipeline returns the status the call held when the failing stage started,
// so the failed transition can be applied from the right state.
func (uc *ProcessCallUseCase) runPipeline(ctx context.Context, call *domain.Call) (domain.CallStatus, error) {
	utterances, err := uc.transcribe(ctx, call)
	if err != nil {
		return domain.StatusTranscribing, err
	}

	rows, err := uc.transcripts.ReplaceForCall(ctx, call.ID, utterances)
	if err != nil {
		return domain.StatusTranscribing, domain.WrapError(domain.ErrTranscription, "persist transcripts", err)
	}

	duration := domain.CallDuration(utterances)
	update := domain.StatusUpdate{DurationSeconds: &duration}
	if err := uc.transition(ctx, call.ID, domain.StatusTranscribing, domain.StatusAnalyzing, update); err != nil {
		return domain.StatusTranscribing, err
	}

	extracted, err := uc.analyze(ctx, domain.FullTranscriptText(rows))
	if err != nil {
		return domain.StatusAnalyzing, err
	}

	if _, err := uc.insights.ReplaceForCall(ctx, call.ID, extracted); err != nil {
		return domain.StatusAnalyzing, domain.WrapError(domain.ErrAnalysis, "persist insights", err)
	}

	if err := uc.transition(ctx, call.ID, domain.StatusAnalyzing, domain.StatusCompleted, domain.StatusUpdate{}); err != nil {
		return domain.StatusAnalyzing, err
	}
	return "", nil
}

func (uc *ProcessCallUseCase) transcribe(ctx context.Context, call *domain.Call) ([]domain.Utterance, error) {
	stageCtx, cancel := context.WithTimeout(ctx, uc.cfg.StageTimeout)
	defer cancel()

	utterances, err := uc.transcriber.Transcribe(stageCtx, call.FilePath)
	if err != nil {
		return nil, domain.WrapError(domain.ErrTranscription, "transcription stage", err)
	}
	if len(utterances) == 0 {
		return nil, domain.WrapError(domain.ErrTranscription, "transcription stage", errors.New("provider returned no utterances"))
	}
	return utterances, nil
}

func (uc *ProcessCallUseCase) analyze(ctx context.Context, fullText string) ([]domain.ExtractedInsight, error) {
	stageCtx, cancel := context.WithTimeout(ctx, uc.cfg.StageTimeout)
	defer cancel()

	extracted, err := uc.analyzer.Analyze(stageCtx, fullText)
	if err != nil {
		return nil, domain.WrapError(domain.ErrAnalysis, "analysis stage", err)
	}

	kept := extracted[:0]
	for _, ins := range extracted {
		if !uc.registry.Registered(ins.Type) {
			uc.logger.Warn("unregistered insight type skipped", "insight_type", ins.Type)
			continue
		}
		kept = append(kept, ins)
	}
	return kept, nil
}

func (uc *ProcessCallUseCase) transition(
	ctx context.Context,
	callID string,
	from, to domain.CallStatus,
	update domain.StatusUpdate,
) error {
	if err := domain.CheckTransition(from, to, update); err != nil {
		return err
	}
	if err := uc.calls.Transition(ctx, callID, from, to, update); err != nil {
		return err
	}
	if uc.cache != nil {
		uc.cache.Invalidate(ctx, callID)
	}
	return nil
}

func (uc *ProcessCallUseCase) scheduleRetry(ctx context.Context, job domain.ProcessingJob, stageErr error) {
	if job.Attempt >= uc.cfg.MaxAttempts {
		if err := uc.queue.DeadLetter(ctx, job, stageErr.Error()); err != nil {
			uc.logger.Error("dead-letter publish failed", "call_id", job.CallID, "error", err)
			return
		}
		uc.logger.Warn("call dead-lettered",
			"call_id", job.CallID, "attempt", job.Attempt, "error", stageErr)
		return
	}

	delay := uc.cfg.RetryDelay(job.Attempt)
	if err := uc.queue.EnqueueAfter(ctx, job.Next(), delay); err != nil {
		uc.logger.Error("retry enqueue failed", "call_id", job.CallID, "error", err)
		return
	}
	uc.logger.Info("retry scheduled",
		"call_id", job.CallID, "next_attempt", job.Attempt+1, "delay", delay.String())
}
