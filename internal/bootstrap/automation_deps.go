package bootstrap

import (
	"context"
	"time"

	"automation_server/adapter/out/persistence"
	"automation_server/adapter/out/provider/gmail"
	"automation_server/config"
	"automation_server/core/agent/llm"
	"automation_server/core/domain"
	"automation_server/core/port/out"
	"automation_server/core/service/rules"
	"automation_server/infra/database"
	"automation_server/internal/stream"
	"automation_server/pkg/logger"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
)

// Dependencies holds every wired component. Both the API server and the
// worker build from the same graph.
type Dependencies struct {
	Config *config.Config
	DB     *sqlx.DB
	Redis  *redis.Client

	// Repositories
	UserRepo     domain.UserRepository
	RuleRepo     domain.RuleRepository
	GroupRepo    domain.GroupRepository
	CategoryRepo domain.SenderCategoryRepository
	PlanRepo     domain.ExecutedRuleRepository

	// Providers
	ProviderFactory out.ProviderFactory
	LLMClient       *llm.Client

	// Messaging
	Stream *stream.RedisStream

	// Services
	Matcher  *rules.Matcher
	Resolver *rules.Resolver
	Executor *rules.Executor
	Runner   *rules.Runner
	Planner  *rules.Planner
	Creator  *rules.Creator
}

func NewDependencies(cfg *config.Config) (*Dependencies, func(), error) {
	deps := &Dependencies{Config: cfg}
	var cleanups []func()

	db, err := database.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	deps.DB = db
	cleanups = append(cleanups, func() { db.Close() })
	logger.Info("Postgres connected")

	redisClient, err := database.NewRedis(cfg.RedisURL)
	if err != nil {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
		return nil, nil, err
	}
	deps.Redis = redisClient
	cleanups = append(cleanups, func() { redisClient.Close() })
	logger.Info("Redis connected")

	deps.Stream = stream.NewRedisStreamWithConfig(redisClient, cfg.ConsumerGroup, &stream.StreamConfig{
		BatchSize: int64(cfg.ConsumerBatchSize),
		Block:     time.Duration(cfg.ConsumerBlockMS) * time.Millisecond,
	})

	// Repositories
	deps.UserRepo = persistence.NewUserAdapter(db)
	deps.RuleRepo = persistence.NewRuleAdapter(db)
	deps.GroupRepo = persistence.NewGroupAdapter(db)
	deps.CategoryRepo = persistence.NewSenderCategoryAdapter(db)
	deps.PlanRepo = persistence.NewExecutedRuleAdapter(db)

	// Mail provider
	deps.ProviderFactory = gmail.NewFactory(
		deps.UserRepo,
		cfg.GoogleClientID,
		cfg.GoogleClientSecret,
		cfg.GoogleRedirectURL,
	)

	// LLM
	deps.LLMClient = llm.NewClientWithConfig(llm.ClientConfig{
		APIKey:      cfg.OpenAIAPIKey,
		Model:       cfg.LLMModel,
		MaxTokens:   cfg.LLMMaxTokens,
		Temperature: cfg.LLMTemperature,
		MaxRetries:  cfg.LLMMaxRetries,
		Timeout:     time.Duration(cfg.LLMTimeoutSec) * time.Second,
	})

	// Rule pipeline
	deps.Matcher = rules.NewMatcher(deps.GroupRepo, deps.CategoryRepo, deps.LLMClient, cfg.RuleBodyMaxChars)
	deps.Resolver = rules.NewResolver(deps.LLMClient, cfg.RuleBodyMaxChars)
	deps.Executor = rules.NewExecutor(deps.LLMClient)
	deps.Runner = rules.NewRunner(
		deps.UserRepo,
		deps.RuleRepo,
		deps.PlanRepo,
		deps.ProviderFactory,
		deps.Matcher,
		deps.Resolver,
		deps.Executor,
	)
	deps.Planner = rules.NewPlanner(deps.PlanRepo, deps.ProviderFactory, deps.Executor)
	deps.Creator = rules.NewCreator(deps.RuleRepo, deps.GroupRepo, deps.LLMClient)

	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}
	return deps, cleanup, nil
}

func (d *Dependencies) HealthCheck(ctx context.Context) error {
	if err := d.DB.PingContext(ctx); err != nil {
		return err
	}
	return d.Redis.Ping(ctx).Err()
}
