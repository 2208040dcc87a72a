package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"voiceinsight/internal/core/domain"
)

type TranscriptRepository struct {
	db *sql.DB
}

func NewTranscriptRepository(db *sql.DB) *TranscriptRepository {
	return &TranscriptRepository{db: db}
}

// ReplaceForCall swaps the call's full utterance set inside one transaction.
// Readers never observe a partial set, and a retried transcription stage
// cannot duplicate rows.
func (r *TranscriptRepository) ReplaceForCall(
	ctx context.Context,
	callID string,
	utterances []domain.Utterance,
) ([]domain.Transcript, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transcript tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM transcripts WHERE call_id = $1`, callID); err != nil {
		return nil, fmt.Errorf("clear transcripts: %w", err)
	}

	now := time.Now().UTC()
	transcripts := make([]domain.Transcript, 0, len(utterances))
	for _, u := range utterances {
		t := domain.Transcript{
			ID:         uuid.NewString(),
			CallID:     callID,
			Speaker:    u.Speaker,
			Text:       u.Text,
			StartTime:  u.StartTime,
			EndTime:    u.EndTime,
			Confidence: u.Confidence,
			CreatedAt:  now,
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO transcripts (id, call_id, speaker, text, start_time, end_time, confidence, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
`, t.ID, t.CallID, t.Speaker, t.Text, t.StartTime, t.EndTime, nullFloat(t.Confidence), t.CreatedAt); err != nil {
			return nil, fmt.Errorf("insert transcript: %w", err)
		}
		transcripts = append(transcripts, t)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transcript tx: %w", err)
	}
	return transcripts, nil
}

func (r *TranscriptRepository) ListByCall(ctx context.Context, callID string) ([]domain.Transcript, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, call_id, speaker, text, start_time, end_time, confidence, created_at
FROM transcripts
WHERE call_id = $1
ORDER BY start_time
`, callID)
	if err != nil {
		return nil, fmt.Errorf("query transcripts: %w", err)
	}
	defer rows.Close()

	transcripts := []domain.Transcript{}
	for rows.Next() {
		var t domain.Transcript
		var confidence sql.NullFloat64
		if err := rows.Scan(&t.ID, &t.CallID, &t.Speaker, &t.Text, &t.StartTime, &t.EndTime, &confidence, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transcript row: %w", err)
		}
		t.Confidence = floatPtr(confidence)
		transcripts = append(transcripts, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transcript rows: %w", err)
	}
	return transcripts, nil
}
