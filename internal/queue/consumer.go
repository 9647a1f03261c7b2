package queue

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// ConsumerOptions tunes the consumption loop.
type ConsumerOptions struct {
	BatchSize    int
	PollInterval time.Duration
}

// Consumer drains a Source and invokes a Handler once per message, reporting
// per-message outcomes so only the failed subset is redelivered. Failed
// messages are released immediately; the source's receive counting and
// dead-lettering take it from there.
type Consumer struct {
	source       Source
	handler      Handler
	logger       zerolog.Logger
	batchSize    int
	pollInterval time.Duration
}

// NewConsumer wires a consumer with defaults applied.
func NewConsumer(source Source, handler Handler, logger zerolog.Logger, opts ConsumerOptions) *Consumer {
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = 10
	}
	pollInterval := opts.PollInterval
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	return &Consumer{
		source:       source,
		handler:      handler,
		logger:       logger,
		batchSize:    batchSize,
		pollInterval: pollInterval,
	}
}

// Run polls the source until ctx is done.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info().Msg("consumer: started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		msgs, err := c.source.Receive(ctx, c.batchSize)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				c.logger.Error().Err(err).Msg("consumer: receive failed")
			}
			c.sleep(ctx)
			continue
		}
		if len(msgs) == 0 {
			c.sleep(ctx)
			continue
		}

		c.HandleBatch(ctx, msgs)
	}
}

// HandleBatch invokes the handler per message and settles each message by its
// own outcome, never all-or-nothing.
func (c *Consumer) HandleBatch(ctx context.Context, msgs []Message) []Result {
	results := make([]Result, 0, len(msgs))
	for _, msg := range msgs {
		err := c.handle(ctx, msg)
		results = append(results, Result{MessageID: msg.ID, Err: err})

		logger := c.logger.With().
			Str("message_id", msg.ID).
			Str("job_id", msg.JobID).
			Str("trace_id", msg.TraceID).
			Int("receive_count", msg.ReceiveCount).
			Logger()

		if err != nil {
			logger.Error().Err(err).Msg("consumer: message failed, leaving for redelivery")
			if relErr := c.source.Release(ctx, msg.ID); relErr != nil {
				logger.Warn().Err(relErr).Msg("consumer: release failed")
			}
			continue
		}
		if delErr := c.source.Delete(ctx, msg.ID); delErr != nil {
			// The message will come back; the handler is idempotent.
			logger.Warn().Err(delErr).Msg("consumer: delete failed")
		}
	}
	return results
}

func (c *Consumer) handle(ctx context.Context, msg Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r}
		}
	}()
	return c.handler.Handle(ctx, msg)
}

func (c *Consumer) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(c.pollInterval):
	}
}

// PanicError wraps a handler panic so the message is treated as failed
// instead of taking the whole consumer down.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return "consumer: handler panic"
}
