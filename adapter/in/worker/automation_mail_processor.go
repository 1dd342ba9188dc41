package worker

import (
	"context"
	"fmt"
	"time"

	"automation_server/core/port/out"
	"automation_server/core/service/rules"
	"automation_server/internal/stream"
	"automation_server/pkg/logger"
	"automation_server/pkg/resilience"
)

// MailProcessor drives the rule pipeline for incoming mail stream entries.
type MailProcessor struct {
	runner  *rules.Runner
	retry   *resilience.RetryPolicy
	timeout time.Duration
	log     *logger.Logger
}

// NewMailProcessor creates a processor. Transient provider failures are
// retried; everything else fails the entry once and acknowledges it.
func NewMailProcessor(runner *rules.Runner, timeout time.Duration) *MailProcessor {
	return NewMailProcessorWithRetry(runner, timeout, nil)
}

// NewMailProcessorWithRetry creates a processor with an explicit retry
// policy for provider-transient failures. The retryable predicate is always
// owned by the processor.
func NewMailProcessorWithRetry(runner *rules.Runner, timeout time.Duration, retry *resilience.RetryPolicy) *MailProcessor {
	if retry == nil {
		retry = resilience.DefaultRetryPolicy()
	}
	retry.Retryable = out.IsTransient
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &MailProcessor{
		runner:  runner,
		retry:   retry,
		timeout: timeout,
		log:     logger.WithField("component", "mail-processor"),
	}
}

// Process handles one stream entry. A malformed or permanently failing entry
// returns nil so the consumer acknowledges it instead of redelivering
// forever; transient failures return the error to keep the entry pending.
func (p *MailProcessor) Process(ctx context.Context, id string, data []byte) error {
	mail, err := ParseIncomingMail(data)
	if err != nil {
		p.log.WithError(err).Error("Dropping malformed entry %s", id)
		return nil
	}

	log := p.log.WithFields(map[string]any{
		"user_id":    mail.UserID.String(),
		"message_id": mail.MessageID,
	})

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var result *rules.RunResult
	err = p.retry.Do(ctx, func(ctx context.Context) error {
		var runErr error
		result, runErr = p.runner.RunRules(ctx, mail.UserID, mail.ThreadID, mail.MessageID)
		return runErr
	})
	if err != nil {
		if out.IsTransient(err) {
			log.WithError(err).Warn("Transient failure, leaving entry pending")
			return fmt.Errorf("process entry %s: %w", id, err)
		}
		log.WithError(err).Error("Pipeline failed, dropping entry")
		return nil
	}

	switch {
	case result.Skipped:
		log.Info("Skipped: %s", result.Reason)
	case !result.Matched:
		log.Info("No rule matched: %s", result.Reason)
	case result.Executed:
		log.WithField("rule", result.Rule.Name).Info("Rule executed automatically")
	default:
		log.WithField("rule", result.Rule.Name).Info("Plan created, awaiting approval")
	}
	return nil
}

// Consumer binds the processor to the incoming mail stream.
type Consumer struct {
	stream     *stream.RedisStream
	processor  *MailProcessor
	consumerID string
	log        *logger.Logger
}

// NewConsumer creates a stream consumer.
func NewConsumer(s *stream.RedisStream, processor *MailProcessor, consumerID string) *Consumer {
	return &Consumer{
		stream:     s,
		processor:  processor,
		consumerID: consumerID,
		log:        logger.WithField("component", "mail-consumer"),
	}
}

// Run creates the consumer group and consumes until the context ends.
func (c *Consumer) Run(ctx context.Context) error {
	setupCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := c.stream.CreateGroup(setupCtx, stream.StreamMailIncoming); err != nil {
		return fmt.Errorf("create consumer group: %w", err)
	}

	c.log.WithField("consumer_id", c.consumerID).Info("Mail consumer started")
	c.stream.Consume(ctx, stream.StreamMailIncoming, c.consumerID, func(id string, data []byte) error {
		return c.processor.Process(ctx, id, data)
	})
	c.log.Info("Mail consumer stopped")
	return nil
}
