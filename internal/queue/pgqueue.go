package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// PGQueueOptions tunes the Postgres-backed queue.
type PGQueueOptions struct {
	// VisibilityTimeout is how long a received message stays invisible to
	// other consumers.
	VisibilityTimeout time.Duration
	// MaxReceiveCount is the number of deliveries a message gets before the
	// dead-letter sweep moves it aside.
	MaxReceiveCount int
}

// PGQueue is an at-least-once message queue on a Postgres table. Receives
// claim rows with FOR UPDATE SKIP LOCKED and a visibility timeout, so a
// crashed consumer's messages become deliverable again without coordination.
// Messages past MaxReceiveCount are moved to a dead-letter table by
// SweepDeadLetters, mirroring managed-queue redrive policies.
type PGQueue struct {
	pool              *pgxpool.Pool
	logger            zerolog.Logger
	visibilityTimeout time.Duration
	maxReceiveCount   int
}

// NewPGQueue wires a queue with defaults applied.
func NewPGQueue(pool *pgxpool.Pool, logger zerolog.Logger, opts PGQueueOptions) *PGQueue {
	visibility := opts.VisibilityTimeout
	if visibility <= 0 {
		visibility = 5 * time.Minute
	}
	maxReceive := opts.MaxReceiveCount
	if maxReceive <= 0 {
		maxReceive = 5
	}
	return &PGQueue{
		pool:              pool,
		logger:            logger,
		visibilityTimeout: visibility,
		maxReceiveCount:   maxReceive,
	}
}

// Enqueue publishes a message for jobID. The trace id correlates queue
// deliveries with the request that created the job.
func (q *PGQueue) Enqueue(ctx context.Context, jobID, traceID string) (string, error) {
	id := uuid.New().String()
	query := `
INSERT INTO queue_messages (id, job_id, trace_id)
VALUES ($1, $2, $3);
`
	if _, err := q.pool.Exec(ctx, query, id, jobID, traceID); err != nil {
		return "", fmt.Errorf("queue: enqueue: %w", err)
	}
	return id, nil
}

// Receive claims up to max deliverable messages. Claimed rows get their
// receive count bumped and stay invisible for the visibility timeout.
func (q *PGQueue) Receive(ctx context.Context, max int) ([]Message, error) {
	query := `
WITH picked AS (
    SELECT id
    FROM queue_messages
    WHERE (locked_until IS NULL OR locked_until < NOW())
      AND receive_count < $3
    ORDER BY enqueued_at
    LIMIT $1
    FOR UPDATE SKIP LOCKED
)
UPDATE queue_messages m
SET locked_until = NOW() + make_interval(secs => $2),
    receive_count = m.receive_count + 1
FROM picked
WHERE m.id = picked.id
RETURNING m.id, m.job_id, m.trace_id, m.receive_count, m.enqueued_at;
`
	rows, err := q.pool.Query(ctx, query, max, q.visibilityTimeout.Seconds(), q.maxReceiveCount)
	if err != nil {
		return nil, fmt.Errorf("queue: receive: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.ID, &msg.JobID, &msg.TraceID, &msg.ReceiveCount, &msg.EnqueuedAt); err != nil {
			return nil, fmt.Errorf("queue: scan message: %w", err)
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("queue: receive: %w", err)
	}
	return msgs, nil
}

// Delete removes a processed message.
func (q *PGQueue) Delete(ctx context.Context, messageID string) error {
	if _, err := q.pool.Exec(ctx, `DELETE FROM queue_messages WHERE id = $1;`, messageID); err != nil {
		return fmt.Errorf("queue: delete: %w", err)
	}
	return nil
}

// Release makes a failed message deliverable again without waiting out the
// visibility timeout.
func (q *PGQueue) Release(ctx context.Context, messageID string) error {
	if _, err := q.pool.Exec(ctx, `UPDATE queue_messages SET locked_until = NULL WHERE id = $1;`, messageID); err != nil {
		return fmt.Errorf("queue: release: %w", err)
	}
	return nil
}

// SweepDeadLetters moves messages that exhausted their receive budget to the
// dead-letter table. Run periodically.
func (q *PGQueue) SweepDeadLetters(ctx context.Context) (int, error) {
	query := `
WITH dead AS (
    DELETE FROM queue_messages
    WHERE receive_count >= $1
      AND (locked_until IS NULL OR locked_until < NOW())
    RETURNING id, job_id, trace_id, receive_count, enqueued_at
)
INSERT INTO queue_dead_letters (id, job_id, trace_id, receive_count, enqueued_at)
SELECT id, job_id, trace_id, receive_count, enqueued_at FROM dead;
`
	tag, err := q.pool.Exec(ctx, query, q.maxReceiveCount)
	if err != nil {
		return 0, fmt.Errorf("queue: sweep dead letters: %w", err)
	}
	moved := int(tag.RowsAffected())
	if moved > 0 {
		q.logger.Warn().Int("count", moved).Msg("queue: messages moved to dead-letter table")
	}
	return moved, nil
}

// RedriveDeadLetters moves every dead-lettered message back onto the queue
// with a fresh receive budget.
func (q *PGQueue) RedriveDeadLetters(ctx context.Context) (int, error) {
	query := `
WITH revived AS (
    DELETE FROM queue_dead_letters
    RETURNING id, job_id, trace_id
)
INSERT INTO queue_messages (id, job_id, trace_id, receive_count, enqueued_at, locked_until)
SELECT id, job_id, trace_id, 0, NOW(), NULL FROM revived;
`
	tag, err := q.pool.Exec(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("queue: redrive dead letters: %w", err)
	}
	moved := int(tag.RowsAffected())
	if moved > 0 {
		q.logger.Info().Int("count", moved).Msg("queue: dead letters redriven")
	}
	return moved, nil
}

// DeadLetterCount reports the dead-letter backlog, logged by the worker's
// periodic sweep for operator visibility.
func (q *PGQueue) DeadLetterCount(ctx context.Context) (int, error) {
	var count int
	if err := q.pool.QueryRow(ctx, `SELECT COUNT(*) FROM queue_dead_letters;`).Scan(&count); err != nil {
		return 0, fmt.Errorf("queue: dead letter count: %w", err)
	}
	return count, nil
}

var _ Source = (*PGQueue)(nil)
