package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"voiceinsight/internal/core/domain"
)

type InsightRepository struct {
	db *sql.DB
}

func NewInsightRepository(db *sql.DB) *InsightRepository {
	return &InsightRepository{db: db}
}

// ReplaceForCall swaps the call's full insight set inside one transaction,
// mirroring TranscriptRepository.ReplaceForCall.
func (r *InsightRepository) ReplaceForCall(
	ctx context.Context,
	callID string,
	extracted []domain.ExtractedInsight,
) ([]domain.Insight, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin insight tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM insights WHERE call_id = $1`, callID); err != nil {
		return nil, fmt.Errorf("clear insights: %w", err)
	}

	now := time.Now().UTC()
	insights := make([]domain.Insight, 0, len(extracted))
	for _, e := range extracted {
		extraData := e.ExtraData
		if extraData == nil {
			extraData = map[string]any{}
		}
		extraJSON, err := json.Marshal(extraData)
		if err != nil {
			return nil, fmt.Errorf("marshal extra data: %w", err)
		}

		ins := domain.Insight{
			ID:         uuid.NewString(),
			CallID:     callID,
			Type:       e.Type,
			Content:    e.Content,
			Confidence: e.Confidence,
			ExtraData:  extraData,
			CreatedAt:  now,
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO insights (id, call_id, insight_type, content, confidence, extra_data, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
`, ins.ID, ins.CallID, string(ins.Type), ins.Content, nullFloat(ins.Confidence), extraJSON, ins.CreatedAt); err != nil {
			return nil, fmt.Errorf("insert insight: %w", err)
		}
		insights = append(insights, ins)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit insight tx: %w", err)
	}
	return insights, nil
}

func (r *InsightRepository) ListByCall(
	ctx context.Context,
	callID string,
	typeFilter *domain.InsightType,
) ([]domain.Insight, error) {
	query := `
SELECT id, call_id, insight_type, content, confidence, extra_data, created_at
FROM insights
WHERE call_id = $1`
	args := []any{callID}
	if typeFilter != nil {
		query += ` AND insight_type = $2`
		args = append(args, string(*typeFilter))
	}
	query += ` ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query call insights: %w", err)
	}
	defer rows.Close()
	return scanInsights(rows)
}

func (r *InsightRepository) ListByType(
	ctx context.Context,
	insightType domain.InsightType,
	skip, limit int,
) ([]domain.Insight, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, call_id, insight_type, content, confidence, extra_data, created_at
FROM insights
WHERE insight_type = $1
ORDER BY created_at DESC
OFFSET $2 LIMIT $3
`, string(insightType), skip, limit)
	if err != nil {
		return nil, fmt.Errorf("query insights by type: %w", err)
	}
	defer rows.Close()
	return scanInsights(rows)
}

func scanInsights(rows *sql.Rows) ([]domain.Insight, error) {
	insights := []domain.Insight{}
	for rows.Next() {
		var ins domain.Insight
		var insightType string
		var confidence sql.NullFloat64
		var extraRaw []byte
		if err := rows.Scan(&ins.ID, &ins.CallID, &insightType, &ins.Content, &confidence, &extraRaw, &ins.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan insight row: %w", err)
		}
		if err := json.Unmarshal(extraRaw, &ins.ExtraData); err != nil {
			return nil, fmt.Errorf("unmarshal extra data: %w", err)
		}
		ins.Type = domain.InsightType(insightType)
		ins.Confidence = floatPtr(confidence)
		insights = append(insights, ins)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate insight rows: %w", err)
	}
	return insights, nil
}
