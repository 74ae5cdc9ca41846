/**
 * Queue Consumer for the Follow Verification Worker
 *
 * Consumes chat events enqueued by the bot gateway on Redis.
 * Uses Asynq for queue management; each task type maps to one
 * processor entry point.
 */

package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/adverant/nexus/followverify-worker/internal/errors"
	"github.com/adverant/nexus/followverify-worker/internal/logging"
	"github.com/adverant/nexus/followverify-worker/internal/ocr"
	"github.com/adverant/nexus/followverify-worker/internal/processor"
)

// Handler is the verification flow the consumer feeds
type Handler interface {
	HandleMessage(ctx context.Context, msg *processor.Message) error
	HandlePhoto(ctx context.Context, photo *processor.Photo) (*processor.Decision, error)
	HandleOperatorDecision(ctx context.Context, action *processor.OperatorAction) error
}

// ConsumerConfig holds consumer configuration
type ConsumerConfig struct {
	RedisURL          string
	QueueName         string
	Concurrency       int
	Handler           Handler
	ProcessingTimeout time.Duration // per task, default 5 minutes
}

// Consumer handles task consumption from the Redis queue
type Consumer struct {
	server  *asynq.Server
	mux     *asynq.ServeMux
	handler Handler
	config  *ConsumerConfig
	logger  *logging.Logger
}

// NewConsumer creates a new queue consumer
func NewConsumer(cfg *ConsumerConfig) (*Consumer, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}
	if cfg.QueueName == "" {
		return nil, fmt.Errorf("QueueName is required")
	}
	if cfg.Handler == nil {
		return nil, fmt.Errorf("Handler is required")
	}

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	logger := logging.NewLogger("QueueConsumer")

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: cfg.Concurrency,
			Queues: map[string]int{
				cfg.QueueName: 10,
				"default":     1,
			},
			// Exponential backoff: 5s, 10s, 20s, capped at 60s
			RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
				delay := time.Duration(5*(1<<uint(n))) * time.Second
				if delay > 60*time.Second {
					delay = 60 * time.Second
				}
				return delay
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				retried, _ := asynq.GetRetryCount(ctx)
				maxRetry, _ := asynq.GetMaxRetry(ctx)
				logger.Error("Task processing error",
					"type", task.Type(), "retry", retried, "maxRetry", maxRetry, "error", err)
			}),
			Logger: logging.NewLogger("Asynq").Sugared(),
		},
	)

	c := newConsumer(cfg, logger)
	c.server = server
	return c, nil
}

func newConsumer(cfg *ConsumerConfig, logger *logging.Logger) *Consumer {
	c := &Consumer{
		mux:     asynq.NewServeMux(),
		handler: cfg.Handler,
		config:  cfg,
		logger:  logger,
	}

	c.mux.HandleFunc(TaskTypeMessage, c.handleMessage)
	c.mux.HandleFunc(TaskTypePhoto, c.handlePhoto)
	c.mux.HandleFunc(TaskTypeDecision, c.handleDecision)
	return c
}

// Start starts the queue consumer
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("Starting queue consumer",
		"concurrency", c.config.Concurrency, "queue", c.config.QueueName)

	if err := c.server.Start(c.mux); err != nil {
		return fmt.Errorf("failed to start queue consumer: %w", err)
	}
	return nil
}

// Stop stops the queue consumer gracefully
func (c *Consumer) Stop(ctx context.Context) error {
	c.logger.Info("Stopping queue consumer")
	c.server.Shutdown()
	c.logger.Info("Queue consumer stopped")
	return nil
}

func (c *Consumer) timeout() time.Duration {
	if c.config.ProcessingTimeout > 0 {
		return c.config.ProcessingTimeout
	}
	return 5 * time.Minute
}

func (c *Consumer) handleMessage(ctx context.Context, task *asynq.Task) error {
	var p MessagePayload
	if err := decode(task, &p); err != nil {
		return err
	}
	if p.UserID == "" {
		return skip(task, fmt.Errorf("userId is required"))
	}

	taskCtx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()

	if err := c.handler.HandleMessage(taskCtx, &processor.Message{
		UserID:      p.UserID,
		DisplayName: p.DisplayName,
		Text:        p.Text,
	}); err != nil {
		return fmt.Errorf("message handling failed (user=%s): %w", p.UserID, err)
	}
	return nil
}

func (c *Consumer) handlePhoto(ctx context.Context, task *asynq.Task) error {
	startTime := time.Now()

	var p PhotoPayload
	if err := decode(task, &p); err != nil {
		return err
	}
	if p.UserID == "" {
		return skip(task, fmt.Errorf("userId is required"))
	}
	if len(p.ImageBuffer) == 0 && p.ImageURL == "" {
		return skip(task, fmt.Errorf("imageBuffer or imageUrl is required"))
	}

	taskCtx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()

	decision, err := c.handler.HandlePhoto(taskCtx, &processor.Photo{
		UserID:      p.UserID,
		DisplayName: p.DisplayName,
		Evidence: &ocr.Evidence{
			FileID: p.FileID,
			URL:    p.ImageURL,
			Data:   p.ImageBuffer,
		},
	})
	if err != nil {
		if taskCtx.Err() == context.DeadlineExceeded {
			verr := errors.NewRecognitionTimeoutError(p.UserID, c.timeout(), err)
			c.logger.Error("Photo task timed out", "user", p.UserID, "details", verr.ToMap())
			return fmt.Errorf("photo handling timeout: %w", verr)
		}
		return fmt.Errorf("photo handling failed (user=%s): %w", p.UserID, err)
	}

	if decision != nil {
		c.logger.Info("Photo processed",
			"user", p.UserID, "action", decision.Action, "duration", time.Since(startTime))
	}
	return nil
}

func (c *Consumer) handleDecision(ctx context.Context, task *asynq.Task) error {
	var p DecisionPayload
	if err := decode(task, &p); err != nil {
		return err
	}
	if p.OperatorID == "" {
		return skip(task, fmt.Errorf("operatorId is required"))
	}

	taskCtx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()

	if err := c.handler.HandleOperatorDecision(taskCtx, &processor.OperatorAction{
		OperatorID:   p.OperatorID,
		CallbackData: p.CallbackData,
		Text:         p.Text,
		MessageRef:   p.MessageRef,
	}); err != nil {
		return fmt.Errorf("operator decision failed (operator=%s): %w", p.OperatorID, err)
	}
	return nil
}

// GetStatistics returns consumer statistics
func (c *Consumer) GetStatistics() map[string]interface{} {
	return map[string]interface{}{
		"concurrency": c.config.Concurrency,
		"queue":       c.config.QueueName,
	}
}

func decode(task *asynq.Task, v interface{}) error {
	if err := json.Unmarshal(task.Payload(), v); err != nil {
		return skip(task, fmt.Errorf("failed to unmarshal payload: %w", err))
	}
	return nil
}

// skip marks a malformed task so asynq archives it instead of retrying
func skip(task *asynq.Task, err error) error {
	return fmt.Errorf("%s: %v: %w", task.Type(), err, asynq.SkipRetry)
}
