package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/classpoll/backend/internal/models"
	"github.com/classpoll/backend/internal/polls"
	"github.com/classpoll/backend/pkg/queue"
	"github.com/classpoll/backend/pkg/storage"
)

// PollLoader reads a poll by id.
type PollLoader interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Poll, error)
}

// ObjectUploader writes a JSON document to the archive bucket.
type ObjectUploader interface {
	UploadJSON(ctx context.Context, key string, body []byte) (string, error)
}

// JobSource is the queue the processor drains.
type JobSource interface {
	Dequeue(ctx context.Context) (*queue.Job, string, error)
	Retry(ctx context.Context, job *queue.Job) error
}

// ArchiveProcessor processes poll archive jobs: load the closed poll, upload its final snapshot to S3.
type ArchiveProcessor struct {
	polls    PollLoader
	uploader ObjectUploader
	queue    JobSource
	backoff  time.Duration
	logger   *zap.Logger
}

// NewArchiveProcessor creates an archive processor.
func NewArchiveProcessor(loader PollLoader, uploader ObjectUploader, q JobSource, logger *zap.Logger) *ArchiveProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ArchiveProcessor{polls: loader, uploader: uploader, queue: q, backoff: queue.RetryBackoff, logger: logger}
}

// Process executes one archive job.
func (p *ArchiveProcessor) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypePollArchive {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var payload queue.PollArchivePayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	poll, err := p.polls.Get(ctx, payload.PollID)
	if errors.Is(err, polls.ErrPollNotFound) {
		p.logger.Warn("archived poll no longer exists", zap.String("poll_id", payload.PollID.String()))
		return nil
	}
	if err != nil {
		return fmt.Errorf("load poll: %w", err)
	}
	if poll.IsOpen() {
		return fmt.Errorf("poll %s is still open", payload.PollID)
	}

	body, err := json.Marshal(polls.NewSnapshot(poll))
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	key := storage.ArchiveKey(poll.ExternalID)
	if _, err := p.uploader.UploadJSON(ctx, key, body); err != nil {
		return fmt.Errorf("s3 upload: %w", err)
	}

	p.logger.Info("poll archived", zap.String("poll_id", payload.PollID.String()), zap.String("s3_key", key))
	return nil
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *ArchiveProcessor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("archive worker stopping")
			return
		default:
		}

		job, _, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			p.sleep(ctx)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Error(err))
			if reErr := p.queue.Retry(ctx, job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			p.sleep(ctx)
		}
	}
}

func (p *ArchiveProcessor) sleep(ctx context.Context) {
	t := time.NewTimer(p.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
