package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"voiceinsight/internal/core/domain"
)

type CallRepository struct {
	db *sql.DB
}

func NewCallRepository(db *sql.DB) *CallRepository {
	return &CallRepository{db: db}
}

const callColumns = `id, filename, original_filename, file_path, file_size, status, error_message, duration_seconds, created_at, updated_at`

func (r *CallRepository) Create(ctx context.Context, call *domain.Call) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO calls (`+callColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
`,
		call.ID, call.Filename, call.OriginalFilename, call.FilePath, call.FileSize,
		string(call.Status), call.ErrorMessage, nullFloat(call.DurationSeconds),
		call.CreatedAt, call.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert call: %w", err)
	}
	return nil
}

func (r *CallRepository) GetByID(ctx context.Context, id string) (*domain.Call, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT `+callColumns+`
FROM calls
WHERE id = $1
`, id)
	return scanCall(row, id)
}

func (r *CallRepository) GetWithDetails(ctx context.Context, id string) (*domain.Call, error) {
	call, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	transcripts := NewTranscriptRepository(r.db)
	call.Transcripts, err = transcripts.ListByCall(ctx, id)
	if err != nil {
		return nil, err
	}

	insights := NewInsightRepository(r.db)
	call.Insights, err = insights.ListByCall(ctx, id, nil)
	if err != nil {
		return nil, err
	}
	return call, nil
}

func (r *CallRepository) List(
	ctx context.Context,
	skip, limit int,
	status *domain.CallStatus,
) ([]domain.Call, int, error) {
	var total int
	countQuery := `SELECT COUNT(*) FROM calls`
	listQuery := `SELECT ` + callColumns + ` FROM calls`
	args := []any{}
	if status != nil {
		countQuery += ` WHERE status = $1`
		listQuery += ` WHERE status = $1`
		args = append(args, string(*status))
	}

	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count calls: %w", err)
	}

	listQuery += fmt.Sprintf(` ORDER BY created_at DESC OFFSET $%d LIMIT $%d`, len(args)+1, len(args)+2)
	args = append(args, skip, limit)

	rows, err := r.db.QueryContext(ctx, listQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query calls: %w", err)
	}
	defer rows.Close()

	calls := []domain.Call{}
	for rows.Next() {
		var call domain.Call
		var status string
		var duration sql.NullFloat64
		if err := rows.Scan(
			&call.ID, &call.Filename, &call.OriginalFilename, &call.FilePath, &call.FileSize,
			&status, &call.ErrorMessage, &duration, &call.CreatedAt, &call.UpdatedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("scan call row: %w", err)
		}
		call.Status = domain.CallStatus(status)
		call.DurationSeconds = floatPtr(duration)
		calls = append(calls, call)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate call rows: %w", err)
	}
	return calls, total, nil
}

// Transition is a compare-and-set write: it only applies when the stored
// status still equals from, which serializes concurrent transition attempts
// for the same call. Non-failed targets clear the error message; duration is
// only written when the update carries one.
func (r *CallRepository) Transition(
	ctx context.Context,
	id string,
	from, to domain.CallStatus,
	update domain.StatusUpdate,
) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE calls
SET status = $3,
    error_message = $4,
    duration_seconds = COALESCE($5, duration_seconds),
    updated_at = $6
WHERE id = $1 AND status = $2
`, id, string(from), string(to), update.ErrorMessage, nullFloat(update.DurationSeconds), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("transition call status: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("transition rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}

	var current string
	err = r.db.QueryRowContext(ctx, `SELECT status FROM calls WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.WrapError(domain.ErrCallNotFound, "transition call status", fmt.Errorf("id %s", id))
	}
	if err != nil {
		return fmt.Errorf("transition status lookup: %w", err)
	}
	return domain.WrapError(domain.ErrInvalidTransition, "transition call status",
		fmt.Errorf("expected %s, call is %s", from, current))
}

func (r *CallRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM calls WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete call: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete rows affected: %w", err)
	}
	if affected == 0 {
		return domain.WrapError(domain.ErrCallNotFound, "delete call", fmt.Errorf("id %s", id))
	}
	return nil
}

func scanCall(row *sql.Row, id string) (*domain.Call, error) {
	var call domain.Call
	var status string
	var duration sql.NullFloat64

	err := row.Scan(
		&call.ID, &call.Filename, &call.OriginalFilename, &call.FilePath, &call.FileSize,
		&status, &call.ErrorMessage, &duration, &call.CreatedAt, &call.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrCallNotFound, "get call", fmt.Errorf("id %s", id))
		}
		return nil, fmt.Errorf("scan call: %w", err)
	}

	call.Status = domain.CallStatus(status)
	call.DurationSeconds = floatPtr(duration)
	return &call, nil
}
