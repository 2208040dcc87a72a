package ports

import (
	"context"
	"io"

	"voiceinsight/internal/core/domain"
)

// CallUploader is the inbound contract for audio upload orchestration.
type CallUploader interface {
	Upload(ctx context.Context, originalFilename string, size int64, body io.Reader) (*domain.Call, error)
}

// CallProcessor is the inbound contract for asynchronous pipeline execution.
type CallProcessor interface {
	ProcessJob(ctx context.Context, job domain.ProcessingJob) error
}

// CallQueryService is the inbound read/delete/retry surface over calls and insights.
type CallQueryService interface {
	ListCalls(ctx context.Context, skip, limit int, status *domain.CallStatus) (domain.CallPage, error)
	GetCall(ctx context.Context, id string) (*domain.Call, error)
	GetCallStatus(ctx context.Context, id string) (domain.CallStatusSnapshot, error)
	DeleteCall(ctx context.Context, id string) error
	RetryCall(ctx context.Context, id string) error
	ListInsights(ctx context.Context, insightType domain.InsightType, skip, limit int) ([]domain.Insight, error)
	ListInsightsForCall(ctx context.Context, callID string, typeFilter *domain.InsightType) ([]domain.Insight, error)
}

// InsightExporter renders insight listings into downloadable workbooks.
// It reports the number of data rows written.
type InsightExporter interface {
	ExportInsights(ctx context.Context, insightType domain.InsightType, w io.Writer) (int, error)
}
