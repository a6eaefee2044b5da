package app

import (
	"context"
	"log/slog"

	"goalflow/internal/agent"
	"goalflow/internal/config"
	"goalflow/internal/db"
	"goalflow/internal/engine"
	"goalflow/internal/events"
	"goalflow/internal/llm"
	"goalflow/internal/migrate"
	"goalflow/internal/repo"
	"goalflow/internal/resilience"
)

// ResolveConfig loads goalflow.yml from the workspace and falls back to the
// defaults when the file does not exist.
func ResolveConfig(workspace string) (*config.Config, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default()
	}
	return cfg, nil
}

// Open wires a Service for the workspace: the configured version store
// (optionally cached), the SQLite audit writer, the Redis audit stream and
// the agent loop backed by the configured model.
func Open(ctx context.Context, workspace string, cfg *config.Config, log *slog.Logger) (*Service, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	s := &Service{Engine: engine.New(), Log: log}

	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, wrapf(err, "open workspace db")
	}
	s.closers = append(s.closers, func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		s.Close()
		return nil, wrapf(err, "migrate workspace db")
	}
	writer := events.Writer{DB: conn}
	s.Events = writer

	var store repo.Store = repo.Repo{DB: conn}
	if cfg.Store.Driver == config.DriverPostgres {
		pool, err := db.OpenPool(ctx, cfg.Store)
		if err != nil {
			s.Close()
			return nil, wrapf(err, "open postgres store")
		}
		s.closers = append(s.closers, pool.Close)
		if err := migrate.MigratePool(ctx, pool); err != nil {
			s.Close()
			return nil, wrapf(err, "migrate postgres store")
		}
		store = repo.PGRepo{Pool: pool}
	}
	if cfg.Cache.MaxCostBytes > 0 {
		cached, err := repo.NewCached(store, cfg.Cache.MaxCostBytes, cfg.Cache.TTL)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.closers = append(s.closers, cached.Close)
		store = cached
	}
	s.Store = store

	sinks := events.Multi{writer}
	if cfg.Audit.RedisURL != "" {
		client, err := events.ConnectRedis(cfg.Audit.RedisURL)
		if err != nil {
			s.Close()
			return nil, err
		}
		pub := events.NewRedisPublisher(client, cfg.Audit.Stream)
		s.closers = append(s.closers, func() { _ = pub.Close() })
		sinks = append(sinks, pub)
	}
	s.Sink = sinks

	if cfg.LLM.BaseURL != "" && cfg.LLM.Model != "" {
		s.Agent = NewAgent(cfg, s.Engine, log)
	}
	return s, nil
}

// NewAgent builds the agent loop with an LLM client guarded by a circuit breaker.
func NewAgent(cfg *config.Config, eng engine.Engine, log *slog.Logger) *agent.Loop {
	client := llm.NewClient(llm.Config{
		BaseURL:     cfg.LLM.BaseURL,
		Model:       cfg.LLM.Model,
		APIKey:      cfg.LLM.APIKey(),
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		Timeout:     cfg.LLM.Timeout,
	})
	if cfg.LLM.Breaker.MaxFailures > 0 {
		client.SetBreaker(resilience.NewBreaker(cfg.LLM.Breaker.MaxFailures, cfg.LLM.Breaker.OpenTimeout))
	}
	return agent.New(client, eng,
		agent.WithConfig(agent.Config{
			MaxRetries:           cfg.Agent.MaxRetries,
			MinRequestLength:     cfg.Agent.MinRequestLength,
			MaxRequestLength:     cfg.Agent.MaxRequestLength,
			ContextRequestLength: cfg.Agent.ContextRequestLength,
		}),
		agent.WithLogger(log),
	)
}
