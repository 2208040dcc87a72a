package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"

	"voiceinsight/internal/core/domain"
	"voiceinsight/internal/infrastructure/resilience"
)

// Queue is the processing job queue. Workers consume through a queue group,
// so each message is visible to a single consumer at a time; exhausted jobs
// land on the <subject>.dlq subject instead of being redelivered.
type Queue struct {
	conn     *nats.Conn
	subject  string
	executor *resilience.Executor
}

type Options struct {
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor
}

func New(url, subject string) (*Queue, error) {
	return NewWithOptions(url, subject, Options{})
}

func NewWithOptions(url, subject string, options Options) (*Queue, error) {
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}

	conn, err := nats.Connect(
		url,
		nats.Name("voiceinsight"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Printf("nats disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("nats reconnected: %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Queue{
		conn:     conn,
		subject:  subject,
		executor: options.ResilienceExecutor,
	}, nil
}

func (q *Queue) Close() {
	if q.conn != nil {
		q.conn.Close()
	}
}

func (q *Queue) Enqueue(ctx context.Context, job domain.ProcessingJob) error {
	return q.publish(ctx, q.subject, job)
}

// EnqueueAfter schedules a delayed redelivery. Core NATS has no broker-side
// delay, so the timer runs in-process; a crash during the window drops the
// redelivery, which the manual retry endpoint covers.
func (q *Queue) EnqueueAfter(_ context.Context, job domain.ProcessingJob, delay time.Duration) error {
	if delay <= 0 {
		return q.publish(context.Background(), q.subject, job)
	}
	time.AfterFunc(delay, func() {
		if err := q.publish(context.Background(), q.subject, job); err != nil {
			log.Printf("delayed enqueue for call=%s failed: %v", job.CallID, err)
		}
	})
	return nil
}

func (q *Queue) DeadLetter(ctx context.Context, job domain.ProcessingJob, reason string) error {
	payload := struct {
		domain.ProcessingJob
		Reason       string    `json:"reason"`
		DeadLetterAt time.Time `json:"dead_letter_at"`
	}{
		ProcessingJob: job,
		Reason:        reason,
		DeadLetterAt:  time.Now().UTC(),
	}
	return q.publish(ctx, q.subject+".dlq", payload)
}

func (q *Queue) publish(ctx context.Context, subject string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal job payload: %w", err)
	}

	call := func(_ context.Context) error {
		if err := q.conn.Publish(subject, data); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		return nil
	}

	if q.executor != nil {
		err = q.executor.Execute(ctx, "nats.publish", call, classifyNATSError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return wrapTemporaryIfNeeded(err)
	}
	return nil
}

func (q *Queue) Subscribe(ctx context.Context, handler func(context.Context, domain.ProcessingJob) error) error {
	sub, err := q.conn.QueueSubscribe(q.subject, "workers", func(msg *nats.Msg) {
		if errors.Is(ctx.Err(), context.Canceled) {
			return
		}

		var job domain.ProcessingJob
		if err := json.Unmarshal(msg.Data, &job); err != nil {
			log.Printf("malformed job payload dropped: %v", err)
			return
		}

		handlerCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		if err := handler(handlerCtx, job); err != nil {
			log.Printf("worker handler error for call=%s attempt=%d: %v", job.CallID, job.Attempt, err)
		}
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}

	if err := q.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	if err := q.conn.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}
