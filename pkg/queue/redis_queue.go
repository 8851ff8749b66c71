// Package queue runs document analysis jobs off a Redis stream with a
// consumer group, bounded retries and a per-job status hash.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusDone       = "done"
	StatusFailed     = "failed"
)

// Job is one queued analysis of a document.
type Job struct {
	ID           string    `json:"id"`
	DocumentID   string    `json:"documentId"`
	UserID       string    `json:"userId"`
	ChatID       string    `json:"chatId,omitempty"`
	Status       string    `json:"status"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
	Attempts     int       `json:"attempts"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// HandlerFunc processes one job attempt.
type HandlerFunc func(ctx context.Context, job Job) error

// ExhaustedFunc is called once when a job fails its last attempt.
type ExhaustedFunc func(ctx context.Context, job Job, err error)

// Config configures an AnalysisQueue. Zero values take defaults.
type Config struct {
	Stream     string
	Group      string
	Consumer   string
	JobTTL     time.Duration
	MaxRetries int
	Block      time.Duration
	ClaimIdle  time.Duration
	RetryDelay time.Duration
	MaxLen     int64
	ReadCount  int64
	Logger     *slog.Logger
}

// AnalysisQueue is a Redis stream backed job queue.
type AnalysisQueue struct {
	client     redis.UniversalClient
	stream     string
	group      string
	consumer   string
	jobTTL     time.Duration
	maxRetries int
	block      time.Duration
	claimIdle  time.Duration
	retryDelay time.Duration
	maxLen     int64
	readCount  int64
	logger     *slog.Logger

	groupOnce sync.Once
	groupErr  error
	wg        sync.WaitGroup
}

// NewAnalysisQueue builds a queue on an existing Redis client.
func NewAnalysisQueue(client redis.UniversalClient, cfg Config) (*AnalysisQueue, error) {
	if client == nil {
		return nil, errors.New("queue redis client required")
	}
	q := &AnalysisQueue{
		client:     client,
		stream:     strings.TrimSpace(cfg.Stream),
		group:      strings.TrimSpace(cfg.Group),
		consumer:   strings.TrimSpace(cfg.Consumer),
		jobTTL:     cfg.JobTTL,
		maxRetries: cfg.MaxRetries,
		block:      cfg.Block,
		claimIdle:  cfg.ClaimIdle,
		retryDelay: cfg.RetryDelay,
		maxLen:     cfg.MaxLen,
		readCount:  cfg.ReadCount,
		logger:     cfg.Logger,
	}
	if q.stream == "" {
		q.stream = "studybuddy:analysis"
	}
	if q.group == "" {
		q.group = "analysis-workers"
	}
	if q.consumer == "" {
		q.consumer = uuid.NewString()
	}
	if q.jobTTL <= 0 {
		q.jobTTL = 24 * time.Hour
	}
	if q.maxRetries <= 0 {
		q.maxRetries = 3
	}
	if q.block <= 0 {
		q.block = 5 * time.Second
	}
	if q.claimIdle <= 0 {
		q.claimIdle = 2 * time.Minute
	}
	if q.retryDelay <= 0 {
		q.retryDelay = 2 * time.Second
	}
	if q.maxLen <= 0 {
		q.maxLen = 10000
	}
	if q.readCount <= 0 {
		q.readCount = 10
	}
	if q.logger == nil {
		q.logger = slog.Default()
	}
	return q, nil
}

// MaxRetries is the number of attempts a job gets.
func (q *AnalysisQueue) MaxRetries() int { return q.maxRetries }

// Enqueue records a queued job for the document and appends it to the stream.
func (q *AnalysisQueue) Enqueue(ctx context.Context, documentID, userID, chatID string) (Job, error) {
	documentID = strings.TrimSpace(documentID)
	if documentID == "" {
		return Job{}, errors.New("documentId required")
	}
	if err := q.ensureGroup(ctx); err != nil {
		return Job{}, err
	}
	now := time.Now().UTC()
	job := Job{
		ID:         uuid.NewString(),
		DocumentID: documentID,
		UserID:     userID,
		ChatID:     chatID,
		Status:     StatusQueued,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := q.writeStatus(ctx, job); err != nil {
		return Job{}, fmt.Errorf("write job status: %w", err)
	}
	if err := q.client.XAdd(ctx, q.addArgs(job.ID)).Err(); err != nil {
		return Job{}, fmt.Errorf("enqueue job: %w", err)
	}
	return job, nil
}

// GetJob loads the status hash of a job.
func (q *AnalysisQueue) GetJob(ctx context.Context, jobID string) (Job, bool, error) {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return Job{}, false, nil
	}
	data, err := q.client.HGetAll(ctx, q.jobKey(jobID)).Result()
	if err != nil {
		return Job{}, false, err
	}
	if len(data) == 0 {
		return Job{}, false, nil
	}
	return decodeJob(jobID, data), true, nil
}

// Backlog reports how many jobs are waiting or in flight. Finished messages
// are deleted from the stream, so its length is the backlog.
func (q *AnalysisQueue) Backlog(ctx context.Context) (int64, error) {
	n, err := q.client.XLen(ctx, q.stream).Result()
	if err != nil {
		return 0, fmt.Errorf("analysis backlog: %w", err)
	}
	return n, nil
}

// Start launches concurrency consumers that run until ctx is cancelled.
func (q *AnalysisQueue) Start(ctx context.Context, concurrency int, handle HandlerFunc, exhausted ExhaustedFunc) error {
	if handle == nil {
		return errors.New("queue handler required")
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	if err := q.ensureGroup(ctx); err != nil {
		return err
	}
	for i := 0; i < concurrency; i++ {
		consumer := fmt.Sprintf("%s-%d", q.consumer, i)
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			q.consumeLoop(ctx, consumer, handle, exhausted)
		}()
	}
	return nil
}

// Wait blocks until every consumer started by Start has returned.
func (q *AnalysisQueue) Wait() { q.wg.Wait() }

func (q *AnalysisQueue) ensureGroup(ctx context.Context) error {
	q.groupOnce.Do(func() {
		err := q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "0").Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			q.groupErr = fmt.Errorf("create consumer group: %w", err)
		}
	})
	return q.groupErr
}

func (q *AnalysisQueue) consumeLoop(ctx context.Context, consumer string, handle HandlerFunc, exhausted ExhaustedFunc) {
	for ctx.Err() == nil {
		claimed, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   q.stream,
			Group:    q.group,
			Consumer: consumer,
			MinIdle:  q.claimIdle,
			Start:    "0-0",
			Count:    q.readCount,
		}).Result()
		if err == nil {
			for _, msg := range claimed {
				q.handleMessage(ctx, msg, handle, exhausted)
			}
		}

		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.group,
			Consumer: consumer,
			Streams:  []string{q.stream, ">"},
			Count:    q.readCount,
			Block:    q.block,
		}).Result()
		if err != nil {
			if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
				q.logger.Warn("queue read failed", "stream", q.stream, "err", err)
				sleepCtx(ctx, q.retryDelay)
			}
			continue
		}
		for _, s := range streams {
			for _, msg := range s.Messages {
				q.handleMessage(ctx, msg, handle, exhausted)
			}
		}
	}
}

func (q *AnalysisQueue) handleMessage(ctx context.Context, msg redis.XMessage, handle HandlerFunc, exhausted ExhaustedFunc) {
	jobID, _ := msg.Values["job_id"].(string)
	if jobID == "" {
		q.ackAndDel(ctx, msg.ID)
		return
	}
	job, found, err := q.GetJob(ctx, jobID)
	if err != nil {
		// leave it pending; XAUTOCLAIM picks it up again
		q.logger.Warn("load job failed", "job_id", jobID, "err", err)
		return
	}
	if !found || job.Status == StatusDone || job.Status == StatusFailed {
		q.ackAndDel(ctx, msg.ID)
		return
	}
	job.Attempts++
	job.Status = StatusProcessing
	job.UpdatedAt = time.Now().UTC()
	if err := q.writeStatus(ctx, job); err != nil {
		q.logger.Warn("mark job processing failed", "job_id", jobID, "err", err)
		return
	}

	logger := q.logger.With("job_id", job.ID, "document_id", job.DocumentID, "attempt", job.Attempts)
	herr := handle(ctx, job)
	if herr == nil {
		job.Status = StatusDone
		job.ErrorMessage = ""
		q.finish(ctx, msg.ID, job)
		logger.Info("analysis job done")
		return
	}
	if ctx.Err() != nil {
		// shutdown interrupted the attempt: it does not count, and the message
		// stays pending for the next consumer to claim
		job.Attempts--
		job.Status = StatusQueued
		job.UpdatedAt = time.Now().UTC()
		if err := q.writeStatus(context.WithoutCancel(ctx), job); err != nil {
			logger.Warn("reset interrupted job failed", "err", err)
		}
		logger.Info("analysis job interrupted", "err", herr)
		return
	}
	job.ErrorMessage = herr.Error()
	if job.Attempts >= q.maxRetries {
		job.Status = StatusFailed
		q.finish(ctx, msg.ID, job)
		logger.Error("analysis job exhausted retries", "err", herr)
		if exhausted != nil {
			exhausted(ctx, job, herr)
		}
		return
	}

	logger.Warn("analysis job failed, requeueing", "err", herr)
	job.Status = StatusQueued
	job.UpdatedAt = time.Now().UTC()
	_ = q.writeStatus(ctx, job)
	if !sleepCtx(ctx, q.retryDelay) {
		return
	}
	if err := q.requeueAndAck(ctx, msg.ID, job.ID); err != nil {
		logger.Warn("requeue failed, message stays pending", "err", err)
	}
}

func (q *AnalysisQueue) finish(ctx context.Context, msgID string, job Job) {
	job.UpdatedAt = time.Now().UTC()
	if err := q.writeStatus(ctx, job); err != nil {
		q.logger.Warn("write job status failed", "job_id", job.ID, "err", err)
	}
	q.ackAndDel(ctx, msgID)
}

func (q *AnalysisQueue) ackAndDel(ctx context.Context, msgID string) {
	pipe := q.client.TxPipeline()
	pipe.XAck(ctx, q.stream, q.group, msgID)
	pipe.XDel(ctx, q.stream, msgID)
	_, _ = pipe.Exec(ctx)
}

// requeueAndAck appends a fresh message and acks the old one atomically, so
// a failure leaves the original pending for reclaim.
func (q *AnalysisQueue) requeueAndAck(ctx context.Context, msgID, jobID string) error {
	pipe := q.client.TxPipeline()
	pipe.XAdd(ctx, q.addArgs(jobID))
	pipe.XAck(ctx, q.stream, q.group, msgID)
	pipe.XDel(ctx, q.stream, msgID)
	_, err := pipe.Exec(ctx)
	return err
}

func (q *AnalysisQueue) addArgs(jobID string) *redis.XAddArgs {
	return &redis.XAddArgs{
		Stream: q.stream,
		MaxLen: q.maxLen,
		Approx: true,
		Values: map[string]any{"job_id": jobID},
	}
}

func (q *AnalysisQueue) writeStatus(ctx context.Context, job Job) error {
	key := q.jobKey(job.ID)
	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, key, map[string]any{
		"documentId": job.DocumentID,
		"userId":     job.UserID,
		"chatId":     job.ChatID,
		"status":     job.Status,
		"error":      job.ErrorMessage,
		"attempts":   strconv.Itoa(job.Attempts),
		"createdAt":  job.CreatedAt.Format(time.RFC3339Nano),
		"updatedAt":  job.UpdatedAt.Format(time.RFC3339Nano),
	})
	pipe.Expire(ctx, key, q.jobTTL)
	_, err := pipe.Exec(ctx)
	return err
}

func (q *AnalysisQueue) jobKey(jobID string) string {
	return "job:" + q.stream + ":" + jobID
}

func decodeJob(jobID string, data map[string]string) Job {
	job := Job{
		ID:           jobID,
		DocumentID:   data["documentId"],
		UserID:       data["userId"],
		ChatID:       data["chatId"],
		Status:       data["status"],
		ErrorMessage: data["error"],
	}
	job.Attempts, _ = strconv.Atoi(data["attempts"])
	job.CreatedAt, _ = time.Parse(time.RFC3339Nano, data["createdAt"])
	job.UpdatedAt, _ = time.Parse(time.RFC3339Nano, data["updatedAt"])
	return job
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
