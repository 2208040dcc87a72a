package usecase

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"voiceinsight/internal/core/domain"
	"voiceinsight/internal/core/ports"
)

type UploadCallUseCase struct {
	repo    ports.CallRepository
	storage ports.BlobStore
	queue   ports.JobQueue

	maxUploadSize int64
	allowedExts   map[string]struct{}
}

func NewUploadCallUseCase(
	repo ports.CallRepository,
	storage ports.BlobStore,
	queue ports.JobQueue,
	maxUploadSize int64,
	allowedExtensions []string,
) *UploadCallUseCase {
	exts := make(map[string]struct{}, len(allowedExtensions))
	for _, ext := range allowedExtensions {
		exts[strings.ToLower(strings.TrimSpace(ext))] = struct{}{}
	}
	return &UploadCallUseCase{
		repo:          repo,
		storage:       storage,
		queue:         queue,
		maxUploadSize: maxUploadSize,
		allowedExts:   exts,
	}
}

func (uc *UploadCallUseCase) Upload(
	ctx context.Context,
	originalFilename string,
	size int64,
	body io.Reader,
) (*domain.Call, error) {
	ext := strings.ToLower(filepath.Ext(originalFilename))
	if _, ok := uc.allowedExts[ext]; !ok {
		return nil, domain.WrapError(domain.ErrInvalidInput, "upload",
			fmt.Errorf("unsupported audio extension %q", ext))
	}
	if size <= 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "upload",
			fmt.Errorf("empty upload body"))
	}
	if size > uc.maxUploadSize {
		return nil, domain.WrapError(domain.ErrInvalidInput, "upload",
			fmt.Errorf("file size %d exceeds limit %d", size, uc.maxUploadSize))
	}

	id := uuid.NewString()
	storedName := id + ext
	now := time.Now().UTC()

	if err := uc.storage.Save(ctx, storedName, io.LimitReader(body, uc.maxUploadSize)); err != nil {
		return nil, fmt.Errorf("save audio blob: %w", err)
	}

	call := &domain.Call{
		ID:               id,
		Filename:         storedName,
		OriginalFilename: originalFilename,
		FilePath:         storedName,
		FileSize:         size,
		Status:           domain.StatusUploaded,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := uc.repo.Create(ctx, call); err != nil {
		return nil, fmt.Errorf("create call record: %w", err)
	}

	if err := uc.queue.Enqueue(ctx, domain.NewProcessingJob(call.ID)); err != nil {
		return nil, fmt.Errorf("enqueue processing job: %w", err)
	}

	return call, nil
}
