package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const (
	QueueGenerate    = "queue:generate"
	QueueAnalyzeClip = "queue:analyze_clip"
)

type Queue struct {
	client *redis.Client
}

// Job is the envelope pushed through redis. GenerationID is set for generate
// jobs, ClipID for analysis jobs.
type Job struct {
	ID           uuid.UUID  `json:"id"`
	Type         string     `json:"type"`
	GenerationID *uuid.UUID `json:"generation_id,omitempty"`
	ClipID       *uuid.UUID `json:"clip_id,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

func New(redisURL string) (*Queue, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Queue{client: client}, nil
}

func (q *Queue) Close() error {
	return q.client.Close()
}

func (q *Queue) Enqueue(ctx context.Context, queueName string, job *Job) error {
	job.CreatedAt = time.Now()

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	return q.client.RPush(ctx, queueName, data).Err()
}

func (q *Queue) Dequeue(ctx context.Context, queueName string, timeout time.Duration) (*Job, error) {
	result, err := q.client.BLPop(ctx, timeout, queueName).Result()
	if err == redis.Nil {
		return nil, nil // No job available
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue: %w", err)
	}

	if len(result) != 2 {
		return nil, fmt.Errorf("unexpected redis response")
	}

	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}

	return &job, nil
}

func (q *Queue) GetQueueLength(ctx context.Context, queueName string) (int64, error) {
	return q.client.LLen(ctx, queueName).Result()
}

// EnqueueGenerate enqueues a full generation pipeline run.
func (q *Queue) EnqueueGenerate(ctx context.Context, generationID uuid.UUID) error {
	job := &Job{
		ID:           uuid.New(),
		Type:         "generate",
		GenerationID: &generationID,
	}
	return q.Enqueue(ctx, QueueGenerate, job)
}

// EnqueueAnalyzeClip enqueues background video-understanding for a clip.
func (q *Queue) EnqueueAnalyzeClip(ctx context.Context, clipID uuid.UUID) error {
	job := &Job{
		ID:     uuid.New(),
		Type:   "analyze_clip",
		ClipID: &clipID,
	}
	return q.Enqueue(ctx, QueueAnalyzeClip, job)
}
