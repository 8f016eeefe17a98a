// Package pipeline assembles the upstream client, credentials, orchestrator
// and retry policies from configuration.
package pipeline

import (
	"fmt"

	"genpipe/internal/generation"
	"genpipe/internal/infra"
	"genpipe/internal/infra/credentials"
	"genpipe/internal/metrics"
	"genpipe/internal/policy"
	"genpipe/internal/transport"
)

// Pipeline is the set of wired collaborators shared by the binaries.
type Pipeline struct {
	Client       *transport.Client
	Credentials  *credentials.Store
	Orchestrator *generation.Orchestrator
	Policies     *policy.Set
}

// Tokens picks the upstream token source: a minted short-lived JWT when a
// signing secret is configured, otherwise the static token.
func Tokens(cfg *infra.Config) credentials.TokenSource {
	if cfg.UpstreamJWTSecret != "" {
		return credentials.NewJWTSource(cfg.UpstreamJWTSecret, cfg.UpstreamTokenSubject, cfg.UpstreamTokenTTL)
	}
	return credentials.Static(cfg.UpstreamToken)
}

// New wires a Pipeline. The orchestrator's janitor is not started; callers
// run Orchestrator.Run and Close it when done.
func New(cfg *infra.Config, logger *infra.Logger, m *metrics.Collector) (*Pipeline, error) {
	client, err := transport.NewClient(transport.Options{
		BaseURL: cfg.UpstreamBaseURL,
		Tokens:  Tokens(cfg),
		Logger:  logger,
	})
	if err != nil {
		return nil, err
	}
	policies, err := policy.Load(cfg.RetryPolicyFile)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	creds := credentials.FromProcessEnv(cfg.ProviderTokenPrefix)
	orch := generation.New(&generation.HTTPOpener{
		Client:       client,
		Path:         cfg.GeneratePath,
		EnrichedPath: cfg.GenerateEnrichedPath,
		Credentials:  creds,
	}, generation.Options{
		Logger:        logger,
		Metrics:       m,
		IdleTimeout:   cfg.JobIdleTimeout,
		Retention:     cfg.JobRetention,
		SweepInterval: cfg.JobSweepInterval,
		StreamPrefix:  cfg.StreamPrefix,
	})
	return &Pipeline{
		Client:       client,
		Credentials:  creds,
		Orchestrator: orch,
		Policies:     policies,
	}, nil
}
