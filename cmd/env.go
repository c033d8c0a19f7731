package main

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/datemover/internal/config"
	"github.com/sells-group/datemover/internal/history"
	"github.com/sells-group/datemover/internal/monitoring"
	"github.com/sells-group/datemover/internal/points"
	"github.com/sells-group/datemover/internal/resilience"
	"github.com/sells-group/datemover/internal/store"
	"github.com/sells-group/datemover/internal/summary"
	"github.com/sells-group/datemover/pkg/anthropic"
	"github.com/sells-group/datemover/pkg/jira"
)

// appEnv holds the clients a command needs.
type appEnv struct {
	Client  jira.Client
	Fields  *config.FieldSet
	Fetcher *history.Fetcher
	Points  *points.Calculator
	Metrics *monitoring.Metrics
	Store   store.Store // nil when the store is disabled or not requested
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.Client != nil {
		e.Client.Close()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initEnv validates config for mode and builds the tracker client, field
// set and fetcher. withStore also opens the snapshot store. Callers should
// defer env.Close().
func initEnv(ctx context.Context, mode string, withStore bool) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	fields, err := config.LoadFields(cfg.Fields.Path)
	if err != nil {
		return nil, err
	}

	metrics := monitoring.NewMetrics(prometheus.DefaultRegisterer)
	client := newJiraClient(cfg.Jira, metrics)

	env := &appEnv{
		Client:  client,
		Fields:  fields,
		Metrics: metrics,
		Fetcher: history.NewFetcher(client, fields,
			history.WithConcurrency(cfg.History.Concurrency),
			history.WithRecorder(metrics),
			history.WithSummarizer(newSummarizer(cfg.Summary)),
		),
		Points: points.NewCalculator(client, cfg.Points),
	}

	if withStore {
		st, err := initStore(ctx)
		if err != nil {
			env.Close()
			return nil, err
		}
		env.Store = st
	}
	return env, nil
}

func newJiraClient(jc config.JiraConfig, obs jira.Observer) jira.Client {
	return jira.NewClient(jc.URL, jc.Token,
		jira.WithTimeouts(jira.Timeouts{
			Connect: time.Duration(jc.ConnectTimeoutSecs) * time.Second,
			Read:    time.Duration(jc.ReadTimeoutSecs) * time.Second,
			Request: time.Duration(jc.RequestTimeoutSecs) * time.Second,
		}),
		jira.WithRetry(resilience.FromRetryConfig(jc.MaxRetries, jc.BackoffBaseMs, jc.BackoffMaxMs, jc.JitterFraction)),
		jira.WithCircuitBreaker(resilience.FromCircuitConfig(jc.CircuitFailureThreshold, jc.CircuitResetSecs)),
		jira.WithRateLimit(jc.RateLimit, jc.RateBurst),
		jira.WithFieldCacheTTL(time.Duration(jc.FieldCacheTTLMins)*time.Minute),
		jira.WithUserAgent(jc.UserAgent),
		jira.WithObserver(obs),
	)
}

// newSummarizer builds the note summarizer for the configured provider.
func newSummarizer(sc config.SummaryConfig) summary.Summarizer {
	if sc.Provider != config.SummaryProviderAnthropic {
		return summary.Rules{MaxLength: sc.MaxLength}
	}
	zap.L().Debug("summaries via anthropic", zap.String("model", sc.Model))
	return summary.NewModel(anthropic.NewClient(sc.AnthropicKey), summary.ModelConfig{
		Model:     sc.Model,
		MaxTokens: sc.MaxTokens,
		MaxLength: sc.MaxLength,
	})
}

// initStore opens the snapshot store. A disabled store yields (nil, nil).
func initStore(ctx context.Context) (store.Store, error) {
	st, err := store.Open(ctx, cfg.Store)
	if errors.Is(err, store.ErrDisabled) {
		zap.L().Debug("snapshot store disabled")
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}
	return st, nil
}
