package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// PoolConfig holds consumer pool configuration.
type PoolConfig struct {
	Consumers  int           // Parallel stream consumers
	JobTimeout time.Duration // Per-entry processing timeout
}

// DefaultPoolConfig returns production defaults. Entry processing includes
// LLM and provider calls, so the timeout is generous.
func DefaultPoolConfig() *PoolConfig {
	return &PoolConfig{
		Consumers:  4,
		JobTimeout: 2 * time.Minute,
	}
}

// Pool runs several stream consumers in parallel. Each consumer gets its own
// consumer-group identity so Redis distributes entries between them.
type Pool struct {
	newConsumer func(id string) *Consumer
	config      *PoolConfig
	log         zerolog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPool creates a consumer pool. newConsumer builds a consumer bound to the
// given identity.
func NewPool(newConsumer func(id string) *Consumer, config *PoolConfig, log zerolog.Logger) *Pool {
	if config == nil {
		config = DefaultPoolConfig()
	}
	return &Pool{
		newConsumer: newConsumer,
		config:      config,
		log:         log,
	}
}

// Start launches the consumers. It returns immediately; consumers run until
// Stop.
func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)

	for i := 0; i < p.config.Consumers; i++ {
		consumer := p.newConsumer(fmt.Sprintf("consumer-%d", i))
		p.wg.Add(1)
		go func(idx int) {
			defer p.wg.Done()
			p.log.Info().Int("consumer", idx).Msg("consumer starting")
			if err := consumer.Run(ctx); err != nil && ctx.Err() == nil {
				p.log.Error().Err(err).Int("consumer", idx).Msg("consumer exited with error")
				return
			}
			p.log.Info().Int("consumer", idx).Msg("consumer stopped")
		}(i)
	}

	p.log.Info().Int("consumers", p.config.Consumers).Msg("consumer pool started")
}

// Stop cancels the consumers and waits for in-flight entries to finish.
func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	p.log.Info().Msg("consumer pool stopped")
}
