package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const QueueCompose = "queue:compose"

type Queue struct {
	client *redis.Client
	name   string
}

// Task asks a worker to render one composition.
type Task struct {
	CompositionID int64     `json:"composition_id"`
	JobID         uuid.UUID `json:"job_id"`
	EnqueuedAt    time.Time `json:"enqueued_at"`
}

func New(redisURL string) (*Queue, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Queue{client: client, name: QueueCompose}, nil
}

func (q *Queue) Close() error {
	return q.client.Close()
}

// EnqueueComposition pushes a render task onto the tail of the list.
func (q *Queue) EnqueueComposition(ctx context.Context, jobID uuid.UUID, compositionID int64) error {
	task := Task{
		CompositionID: compositionID,
		JobID:         jobID,
		EnqueuedAt:    time.Now(),
	}

	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	if err := q.client.RPush(ctx, q.name, data).Err(); err != nil {
		return fmt.Errorf("failed to enqueue composition %d: %w", compositionID, err)
	}
	return nil
}

// DequeueComposition blocks up to timeout for the oldest task. It returns nil, nil
// when nothing arrived in time.
func (q *Queue) DequeueComposition(ctx context.Context, timeout time.Duration) (*Task, error) {
	result, err := q.client.BLPop(ctx, timeout, q.name).Result()
	if err == redis.Nil {
		return nil, nil // No task available
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue: %w", err)
	}

	if len(result) != 2 {
		return nil, fmt.Errorf("unexpected redis response")
	}

	var task Task
	if err := json.Unmarshal([]byte(result[1]), &task); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task: %w", err)
	}

	return &task, nil
}
